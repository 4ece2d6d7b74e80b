// Package repo is the repository layer over the durable store: every
// mutation the worker and HTTP handlers need, expressed as hand-built
// parameterized SQL against database/sql — no ORM, matching the teacher's
// internal/db and internal/pending/manager.go style, including its
// dynamic "SET field=?, field=?" fragment-assembly idiom for partial
// updates and its use of RowsAffected() to implement conditional updates.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"videoagent/internal/model"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("repo: not found")

// Repo wraps a *sql.DB with the job engine's repository operations.
type Repo struct {
	db *sql.DB
}

// New builds a Repo over an already-opened, already-migrated database.
func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// CreateOrGetVideo returns the existing video row for fileHash if one
// exists (idempotent import), or inserts and returns a new one.
func (r *Repo) CreateOrGetVideo(ctx context.Context, id, filePath, fileHash, title string, durationSeconds float64, fileSizeBytes int64) (*model.Video, error) {
	existing, err := r.GetVideoByHash(ctx, fileHash)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO videos (id, file_path, file_hash, title, duration_seconds, file_size_bytes, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, filePath, fileHash, title, durationSeconds, fileSizeBytes, model.VideoStatusPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert video: %w", err)
	}
	return r.GetVideo(ctx, id)
}

func scanVideo(row interface{ Scan(...any) error }) (*model.Video, error) {
	var v model.Video
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(&v.ID, &v.FilePath, &v.FileHash, &v.Title, &v.DurationSeconds, &v.FileSizeBytes, &v.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	v.CreatedAt = createdAt.Time
	v.UpdatedAt = updatedAt.Time
	return &v, nil
}

const videoColumns = `id, file_path, file_hash, title, duration_seconds, file_size_bytes, status, created_at, updated_at`

// GetVideo fetches a video by id.
func (r *Repo) GetVideo(ctx context.Context, id string) (*model.Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return v, nil
}

// GetVideoByHash fetches a video by content hash.
func (r *Repo) GetVideoByHash(ctx context.Context, fileHash string) (*model.Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE file_hash = ?`, fileHash)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video by hash: %w", err)
	}
	return v, nil
}

// ListVideos returns every video, newest first.
func (r *Repo) ListVideos(ctx context.Context) ([]model.Video, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var out []model.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// UpdateVideoStatus sets a video's status and bumps updated_at.
func (r *Repo) UpdateVideoStatus(ctx context.Context, videoID, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE videos SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), videoID)
	if err != nil {
		return fmt.Errorf("update video status: %w", err)
	}
	return nil
}

// DeleteVideo removes a video and (via FK cascade) its jobs and artifacts.
func (r *Repo) DeleteVideo(ctx context.Context, videoID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, videoID)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	return nil
}

// --- Jobs ---

func scanJob(row interface{ Scan(...any) error }) (*model.Job, error) {
	var j model.Job
	var result, errorCode, errorMessage sql.NullString
	var createdAt, updatedAt sql.NullTime
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(
		&j.ID, &j.VideoID, &j.JobType, &j.Status, &j.Progress, &j.Message, &j.Params,
		&result, &errorCode, &errorMessage, &createdAt, &updatedAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	if result.Valid {
		j.Result = &result.String
	}
	if errorCode.Valid {
		j.ErrorCode = &errorCode.String
	}
	if errorMessage.Valid {
		j.ErrorMessage = &errorMessage.String
	}
	j.CreatedAt = createdAt.Time
	j.UpdatedAt = updatedAt.Time
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

const jobColumns = `id, video_id, job_type, status, progress, message, params, result, error_code, error_message, created_at, updated_at, started_at, completed_at`

// CreateJob inserts a new pending job with progress 0.
func (r *Repo) CreateJob(ctx context.Context, id, videoID, jobType, paramsJSON string) (*model.Job, error) {
	if paramsJSON == "" {
		paramsJSON = "{}"
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, video_id, job_type, status, progress, message, params, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, '', ?, ?, ?)`,
		id, videoID, jobType, model.JobStatusPending, paramsJSON, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return r.GetJob(ctx, id)
}

// GetJob fetches a job by id.
func (r *Repo) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// GetJobStatus is a cheap status probe, used by the worker at every
// cancellation checkpoint without paying for a full row scan.
func (r *Repo) GetJobStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get job status: %w", err)
	}
	return status, nil
}

// FetchNextPendingJob returns the oldest pending job (FIFO by created_at),
// or ErrNotFound if the queue is empty.
func (r *Repo) FetchNextPendingJob(ctx context.Context) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1`, model.JobStatusPending)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch next pending job: %w", err)
	}
	return j, nil
}

// ClaimPendingJob is the atomic pending→running handoff: it conditionally
// updates status and started_at, and reports whether this call won the
// race (exactly one row affected). A single signature covering every job
// type, since the queue is not partitioned by job_type.
func (r *Repo) ClaimPendingJob(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		model.JobStatusRunning, now, now, id, model.JobStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim pending job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim pending job rows affected: %w", err)
	}
	return n == 1, nil
}

// CancelJob conditionally transitions a pending or running job to
// cancelled, reporting whether this call caused the transition.
func (r *Repo) CancelJob(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		model.JobStatusCancelled, "cancelled", now, now, id, model.JobStatusPending, model.JobStatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel job rows affected: %w", err)
	}
	return n == 1, nil
}

// ResetJob clears terminal state and returns a job to pending, preserving
// params, so the next claim produces a fresh started_at epoch. This is
// destructive on purpose: any in-flight output from the prior run is
// superseded, not merged.
func (r *Repo) ResetJob(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = 0, message = '', result = NULL,
			error_code = NULL, error_message = NULL, started_at = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?, ?)`,
		model.JobStatusPending, time.Now().UTC(), id, model.JobStatusFailed, model.JobStatusCancelled, model.JobStatusCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("reset job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reset job rows affected: %w", err)
	}
	return n == 1, nil
}

// JobUpdate is a partial update for a job row; nil fields are left
// unchanged. updated_at always advances.
type JobUpdate struct {
	Status       *string
	Progress     *float64
	Message      *string
	Result       *string
	ErrorCode    *string
	ErrorMessage *string
	CompletedAt  *time.Time
}

// UpdateJob applies a partial update, building the SET clause dynamically
// from whichever fields are non-nil, mirroring the teacher's dynamic
// field-list builder for partial updates.
func (r *Repo) UpdateJob(ctx context.Context, id string, u JobUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *u.Progress)
	}
	if u.Message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *u.Message)
	}
	if u.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, *u.Result)
	}
	if u.ErrorCode != nil {
		sets = append(sets, "error_code = ?")
		args = append(args, *u.ErrorCode)
	}
	if u.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *u.ErrorMessage)
	}
	if u.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *u.CompletedAt)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// UpdateJobParams overwrites a job's params JSON, used by the retry path to
// promote from_scratch=true before resetting the job to pending.
func (r *Repo) UpdateJobParams(ctx context.Context, id, paramsJSON string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET params = ?, updated_at = ? WHERE id = ?`, paramsJSON, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update job params: %w", err)
	}
	return nil
}

// GetActiveJobForVideo returns the most recent pending-or-running job of
// jobType for videoID, used by HTTP handlers for idempotency gating.
func (r *Repo) GetActiveJobForVideo(ctx context.Context, videoID, jobType string) (*model.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE video_id = ? AND job_type = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		videoID, jobType, model.JobStatusPending, model.JobStatusRunning,
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active job for video: %w", err)
	}
	return j, nil
}

// ListJobsFilter narrows ListJobs; zero-value fields are unfiltered.
type ListJobsFilter struct {
	Status  string
	VideoID string
	JobType string
	Limit   int
	Offset  int
}

// ListJobs returns jobs newest-first matching the given filter.
func (r *Repo) ListJobs(ctx context.Context, f ListJobsFilter) ([]model.Job, error) {
	where := []string{"1=1"}
	args := []any{}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.VideoID != "" {
		where = append(where, "video_id = ?")
		args = append(args, f.VideoID)
	}
	if f.JobType != "" {
		where = append(where, "job_type = ?")
		args = append(args, f.JobType)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT ? OFFSET ?", jobColumns, strings.Join(where, " AND "))
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// RecoverIncompleteState is the crash-recovery sweep run once at startup:
// every running job and running per-artifact row goes back to pending
// with message "recovered", and every processing video flips back to
// pending.
func (r *Repo) RecoverIncompleteState(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recovery tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	stmts := []struct {
		query string
		args  []any
	}{
		{`UPDATE jobs SET status = ?, message = 'recovered', updated_at = ? WHERE status = ?`,
			[]any{model.JobStatusPending, now, model.JobStatusRunning}},
		{`UPDATE video_index SET status = ?, message = 'recovered', updated_at = ? WHERE status = ?`,
			[]any{"pending", now, "running"}},
		{`UPDATE video_summary SET status = ?, message = 'recovered', updated_at = ? WHERE status = ?`,
			[]any{"pending", now, "running"}},
		{`UPDATE video_keyframe_index SET status = ?, message = 'recovered', updated_at = ? WHERE status = ?`,
			[]any{"pending", now, "running"}},
		{`UPDATE videos SET status = ?, updated_at = ? WHERE status = ?`,
			[]any{model.VideoStatusPending, now, model.VideoStatusProcessing}},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("recovery sweep: %w", err)
		}
	}
	return tx.Commit()
}

// MarshalParams is a small convenience for building a job's params JSON.
func MarshalParams(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(b), nil
}
