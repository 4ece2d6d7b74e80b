package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"videoagent/internal/model"
)

// InsertKeyframe inserts one extracted still frame row.
func (r *Repo) InsertKeyframe(ctx context.Context, k model.Keyframe) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO keyframes (id, video_id, timestamp_ms, image_relpath, method, width, height, score, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.VideoID, k.TimestampMs, k.ImageRelpath, k.Method, k.Width, k.Height, k.Score, k.Metadata, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert keyframe: %w", err)
	}
	return nil
}

// DeleteKeyframesForVideo removes every keyframe row for videoID.
func (r *Repo) DeleteKeyframesForVideo(ctx context.Context, videoID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM keyframes WHERE video_id = ?`, videoID)
	if err != nil {
		return fmt.Errorf("delete keyframes for video: %w", err)
	}
	return nil
}

func scanKeyframe(row interface{ Scan(...any) error }) (*model.Keyframe, error) {
	var k model.Keyframe
	var score sql.NullFloat64
	var createdAt sql.NullTime
	if err := row.Scan(&k.ID, &k.VideoID, &k.TimestampMs, &k.ImageRelpath, &k.Method, &k.Width, &k.Height, &score, &k.Metadata, &createdAt); err != nil {
		return nil, err
	}
	if score.Valid {
		k.Score = &score.Float64
	}
	k.CreatedAt = createdAt.Time
	return &k, nil
}

const keyframeColumns = `id, video_id, timestamp_ms, image_relpath, method, width, height, score, metadata, created_at`

// ListKeyframesForVideo returns every keyframe for videoID, ordered by timestamp.
func (r *Repo) ListKeyframesForVideo(ctx context.Context, videoID string) ([]model.Keyframe, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+keyframeColumns+` FROM keyframes WHERE video_id = ? ORDER BY timestamp_ms ASC`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list keyframes for video: %w", err)
	}
	defer rows.Close()

	var out []model.Keyframe
	for rows.Next() {
		k, err := scanKeyframe(rows)
		if err != nil {
			return nil, fmt.Errorf("scan keyframe: %w", err)
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

// NearestKeyframe returns the keyframe closest to timestampMs for videoID,
// used to illustrate a chat citation or summary segment with a still.
func (r *Repo) NearestKeyframe(ctx context.Context, videoID string, timestampMs int64) (*model.Keyframe, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+keyframeColumns+` FROM keyframes
		WHERE video_id = ?
		ORDER BY ABS(timestamp_ms - ?) ASC
		LIMIT 1`, videoID, timestampMs)
	k, err := scanKeyframe(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("nearest keyframe: %w", err)
	}
	return k, nil
}
