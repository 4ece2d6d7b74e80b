package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"videoagent/internal/model"
)

// --- video_index ---

const videoIndexColumns = `video_id, status, progress, message, embed_model, embed_dim, chunk_params, transcript_hash, chunk_count, indexed_count, error_code, error_message, updated_at`

func scanVideoIndex(row interface{ Scan(...any) error }) (*model.VideoIndex, error) {
	var v model.VideoIndex
	var errorCode, errorMessage sql.NullString
	var updatedAt sql.NullTime
	if err := row.Scan(&v.VideoID, &v.Status, &v.Progress, &v.Message, &v.EmbedModel, &v.EmbedDim,
		&v.ChunkParams, &v.TranscriptHash, &v.ChunkCount, &v.IndexedCount, &errorCode, &errorMessage, &updatedAt); err != nil {
		return nil, err
	}
	if errorCode.Valid {
		v.ErrorCode = &errorCode.String
	}
	if errorMessage.Valid {
		v.ErrorMessage = &errorMessage.String
	}
	v.UpdatedAt = updatedAt.Time
	return &v, nil
}

// GetVideoIndex fetches the per-video index artifact row, if any.
func (r *Repo) GetVideoIndex(ctx context.Context, videoID string) (*model.VideoIndex, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoIndexColumns+` FROM video_index WHERE video_id = ?`, videoID)
	v, err := scanVideoIndex(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video index: %w", err)
	}
	return v, nil
}

// UpsertVideoIndex replaces the full row by primary key.
func (r *Repo) UpsertVideoIndex(ctx context.Context, v model.VideoIndex) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO video_index (video_id, status, progress, message, embed_model, embed_dim, chunk_params, transcript_hash, chunk_count, indexed_count, error_code, error_message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			status = excluded.status, progress = excluded.progress, message = excluded.message,
			embed_model = excluded.embed_model, embed_dim = excluded.embed_dim, chunk_params = excluded.chunk_params,
			transcript_hash = excluded.transcript_hash, chunk_count = excluded.chunk_count, indexed_count = excluded.indexed_count,
			error_code = excluded.error_code, error_message = excluded.error_message, updated_at = excluded.updated_at`,
		v.VideoID, v.Status, v.Progress, v.Message, v.EmbedModel, v.EmbedDim, v.ChunkParams, v.TranscriptHash,
		v.ChunkCount, v.IndexedCount, v.ErrorCode, v.ErrorMessage, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert video index: %w", err)
	}
	return nil
}

// UpdateVideoIndexStatus sets only the status/message of an existing index
// artifact row, leaving chunk counts and other fields untouched. A no-op if
// no row exists yet for the video.
func (r *Repo) UpdateVideoIndexStatus(ctx context.Context, videoID, status, message string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE video_index SET status = ?, message = ?, updated_at = ? WHERE video_id = ?`,
		status, message, time.Now().UTC(), videoID)
	if err != nil {
		return fmt.Errorf("update video index status: %w", err)
	}
	return nil
}

// --- video_summary ---

const videoSummaryColumns = `video_id, status, progress, message, transcript_hash, params, segment_summaries, summary_markdown, outline, error_code, error_message, updated_at`

func scanVideoSummary(row interface{ Scan(...any) error }) (*model.VideoSummary, error) {
	var v model.VideoSummary
	var errorCode, errorMessage sql.NullString
	var updatedAt sql.NullTime
	if err := row.Scan(&v.VideoID, &v.Status, &v.Progress, &v.Message, &v.TranscriptHash, &v.Params,
		&v.SegmentSummaries, &v.SummaryMarkdown, &v.Outline, &errorCode, &errorMessage, &updatedAt); err != nil {
		return nil, err
	}
	if errorCode.Valid {
		v.ErrorCode = &errorCode.String
	}
	if errorMessage.Valid {
		v.ErrorMessage = &errorMessage.String
	}
	v.UpdatedAt = updatedAt.Time
	return &v, nil
}

// GetVideoSummary fetches the per-video summary artifact row, if any.
func (r *Repo) GetVideoSummary(ctx context.Context, videoID string) (*model.VideoSummary, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoSummaryColumns+` FROM video_summary WHERE video_id = ?`, videoID)
	v, err := scanVideoSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video summary: %w", err)
	}
	return v, nil
}

// UpsertVideoSummary replaces the full row by primary key.
func (r *Repo) UpsertVideoSummary(ctx context.Context, v model.VideoSummary) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO video_summary (video_id, status, progress, message, transcript_hash, params, segment_summaries, summary_markdown, outline, error_code, error_message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			status = excluded.status, progress = excluded.progress, message = excluded.message,
			transcript_hash = excluded.transcript_hash, params = excluded.params,
			segment_summaries = excluded.segment_summaries, summary_markdown = excluded.summary_markdown,
			outline = excluded.outline, error_code = excluded.error_code, error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
		v.VideoID, v.Status, v.Progress, v.Message, v.TranscriptHash, v.Params, v.SegmentSummaries,
		v.SummaryMarkdown, v.Outline, v.ErrorCode, v.ErrorMessage, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert video summary: %w", err)
	}
	return nil
}

// UpdateVideoSummaryStatus sets only the status/message of an existing
// summary artifact row, leaving the summary content untouched. A no-op if
// no row exists yet for the video.
func (r *Repo) UpdateVideoSummaryStatus(ctx context.Context, videoID, status, message string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE video_summary SET status = ?, message = ?, updated_at = ? WHERE video_id = ?`,
		status, message, time.Now().UTC(), videoID)
	if err != nil {
		return fmt.Errorf("update video summary status: %w", err)
	}
	return nil
}

// --- video_keyframe_index ---

const videoKeyframeIndexColumns = `video_id, status, progress, message, params, frame_count, error_code, error_message, updated_at`

func scanVideoKeyframeIndex(row interface{ Scan(...any) error }) (*model.VideoKeyframeIndex, error) {
	var v model.VideoKeyframeIndex
	var errorCode, errorMessage sql.NullString
	var updatedAt sql.NullTime
	if err := row.Scan(&v.VideoID, &v.Status, &v.Progress, &v.Message, &v.Params, &v.FrameCount, &errorCode, &errorMessage, &updatedAt); err != nil {
		return nil, err
	}
	if errorCode.Valid {
		v.ErrorCode = &errorCode.String
	}
	if errorMessage.Valid {
		v.ErrorMessage = &errorMessage.String
	}
	v.UpdatedAt = updatedAt.Time
	return &v, nil
}

// GetVideoKeyframeIndex fetches the per-video keyframe artifact row, if any.
func (r *Repo) GetVideoKeyframeIndex(ctx context.Context, videoID string) (*model.VideoKeyframeIndex, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoKeyframeIndexColumns+` FROM video_keyframe_index WHERE video_id = ?`, videoID)
	v, err := scanVideoKeyframeIndex(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video keyframe index: %w", err)
	}
	return v, nil
}

// UpsertVideoKeyframeIndex replaces the full row by primary key.
func (r *Repo) UpsertVideoKeyframeIndex(ctx context.Context, v model.VideoKeyframeIndex) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO video_keyframe_index (video_id, status, progress, message, params, frame_count, error_code, error_message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			status = excluded.status, progress = excluded.progress, message = excluded.message,
			params = excluded.params, frame_count = excluded.frame_count,
			error_code = excluded.error_code, error_message = excluded.error_message, updated_at = excluded.updated_at`,
		v.VideoID, v.Status, v.Progress, v.Message, v.Params, v.FrameCount, v.ErrorCode, v.ErrorMessage, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert video keyframe index: %w", err)
	}
	return nil
}

// UpdateVideoKeyframeIndexStatus sets only the status/message of an
// existing keyframe artifact row, leaving frame_count untouched. A no-op if
// no row exists yet for the video.
func (r *Repo) UpdateVideoKeyframeIndexStatus(ctx context.Context, videoID, status, message string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE video_keyframe_index SET status = ?, message = ?, updated_at = ? WHERE video_id = ?`,
		status, message, time.Now().UTC(), videoID)
	if err != nil {
		return fmt.Errorf("update video keyframe index status: %w", err)
	}
	return nil
}
