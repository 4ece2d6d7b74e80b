package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"videoagent/internal/model"
)

// InsertChunk inserts one time-windowed chunk row.
func (r *Repo) InsertChunk(ctx context.Context, c model.Chunk) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chunks (id, video_id, chunk_index, start_time, end_time, text, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.VideoID, c.ChunkIndex, c.StartTime, c.EndTime, c.Text, c.ContentHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// DeleteChunksForVideo removes every chunk row for videoID.
func (r *Repo) DeleteChunksForVideo(ctx context.Context, videoID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE video_id = ?`, videoID)
	if err != nil {
		return fmt.Errorf("delete chunks for video: %w", err)
	}
	return nil
}

// ListChunksForVideo returns every chunk for videoID, ordered by index.
func (r *Repo) ListChunksForVideo(ctx context.Context, videoID string) ([]model.Chunk, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, video_id, chunk_index, start_time, end_time, text, content_hash, created_at
		FROM chunks WHERE video_id = ? ORDER BY chunk_index ASC`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list chunks for video: %w", err)
	}
	defer rows.Close()

	var out []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var createdAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.VideoID, &c.ChunkIndex, &c.StartTime, &c.EndTime, &c.Text, &c.ContentHash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.CreatedAt = createdAt.Time
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChunksByIDs fetches chunks by id, used to resolve vector-search hits
// back to their text and time range.
func (r *Repo) ChunksByIDs(ctx context.Context, ids []string) (map[string]model.Chunk, error) {
	out := make(map[string]model.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, video_id, chunk_index, start_time, end_time, text, content_hash, created_at
		FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ", "))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch fetch chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Chunk
		var createdAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.VideoID, &c.ChunkIndex, &c.StartTime, &c.EndTime, &c.Text, &c.ContentHash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.CreatedAt = createdAt.Time
		out[c.ID] = c
	}
	return out, rows.Err()
}
