package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"videoagent/internal/model"
	"videoagent/internal/store"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func mustCreateVideo(t *testing.T, r *Repo, id string) *model.Video {
	t.Helper()
	v, err := r.CreateOrGetVideo(context.Background(), id, "/videos/"+id+".mp4", "hash-"+id, "title-"+id, 120, 1024)
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	return v
}

func TestCreateOrGetVideoIsIdempotentByHash(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	v1, err := r.CreateOrGetVideo(ctx, "vid-1", "/a.mp4", "samehash", "a", 10, 100)
	if err != nil {
		t.Fatalf("create video 1: %v", err)
	}
	v2, err := r.CreateOrGetVideo(ctx, "vid-2", "/b.mp4", "samehash", "b", 20, 200)
	if err != nil {
		t.Fatalf("create video 2: %v", err)
	}
	if v1.ID != v2.ID {
		t.Errorf("expected same video id for matching hash, got %q and %q", v1.ID, v2.ID)
	}
}

func TestClaimPendingJobTransitionsStartedAt(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	v := mustCreateVideo(t, r, "vid-claim")

	job, err := r.CreateJob(ctx, "job-claim", v.ID, "transcribe", "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.StartedAt != nil {
		t.Fatalf("expected nil started_at before claim")
	}

	ok, err := r.ClaimPendingJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("claim job: %v", err)
	}
	if !ok {
		t.Fatal("expected claim to succeed on a pending job")
	}

	claimed, err := r.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if claimed.Status != model.JobStatusRunning {
		t.Errorf("status = %q, want running", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Error("expected started_at to be set once running")
	}

	ok, err = r.ClaimPendingJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("claim job again: %v", err)
	}
	if ok {
		t.Error("expected second claim on an already-running job to fail")
	}
}

func TestCancelJobSetsCompletedAt(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	v := mustCreateVideo(t, r, "vid-cancel")

	job, err := r.CreateJob(ctx, "job-cancel", v.ID, "index", "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	ok, err := r.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel job: %v", err)
	}
	if !ok {
		t.Fatal("expected cancel to succeed on a pending job")
	}

	cancelled, err := r.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if cancelled.Status != model.JobStatusCancelled {
		t.Errorf("status = %q, want cancelled", cancelled.Status)
	}
	if cancelled.CompletedAt == nil {
		t.Error("expected completed_at to be set after cancel")
	}

	ok, err = r.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel job again: %v", err)
	}
	if ok {
		t.Error("expected cancelling an already-cancelled job to be a no-op")
	}
}

func TestResetJobClearsTerminalState(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	v := mustCreateVideo(t, r, "vid-reset")

	job, err := r.CreateJob(ctx, "job-reset", v.ID, "summarize", "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := r.ClaimPendingJob(ctx, job.ID); err != nil {
		t.Fatalf("claim job: %v", err)
	}

	progress := 0.5
	errCode := "SOME_ERROR"
	errMsg := "boom"
	completedAt := mustNow()
	status := model.JobStatusFailed
	if err := r.UpdateJob(ctx, job.ID, JobUpdate{
		Status: &status, Progress: &progress, ErrorCode: &errCode, ErrorMessage: &errMsg, CompletedAt: &completedAt,
	}); err != nil {
		t.Fatalf("update job to failed: %v", err)
	}

	ok, err := r.ResetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("reset job: %v", err)
	}
	if !ok {
		t.Fatal("expected reset to succeed on a failed job")
	}

	reset, err := r.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if reset.Status != model.JobStatusPending {
		t.Errorf("status = %q, want pending", reset.Status)
	}
	if reset.StartedAt != nil {
		t.Error("expected started_at to be cleared")
	}
	if reset.CompletedAt != nil {
		t.Error("expected completed_at to be cleared")
	}
	if reset.Progress != 0 {
		t.Errorf("progress = %v, want 0", reset.Progress)
	}
	if reset.ErrorCode != nil {
		t.Error("expected error_code to be cleared")
	}
	if reset.ErrorMessage != nil {
		t.Error("expected error_message to be cleared")
	}
}

func TestGetActiveJobForVideoExcludesTerminalJobs(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	v := mustCreateVideo(t, r, "vid-active")

	job, err := r.CreateJob(ctx, "job-active", v.ID, "index", "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	active, err := r.GetActiveJobForVideo(ctx, v.ID, "index")
	if err != nil {
		t.Fatalf("get active job: %v", err)
	}
	if active.ID != job.ID {
		t.Errorf("active job id = %q, want %q", active.ID, job.ID)
	}

	status := model.JobStatusCompleted
	if err := r.UpdateJob(ctx, job.ID, JobUpdate{Status: &status}); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	_, err = r.GetActiveJobForVideo(ctx, v.ID, "index")
	if err != ErrNotFound {
		t.Errorf("got %v, want ErrNotFound once the only job is completed", err)
	}
}

func TestInsertChunkAndListChunksForVideo(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	v := mustCreateVideo(t, r, "vid-chunks")

	texts := []string{"first chunk", "second chunk", "third chunk"}
	for i, text := range texts {
		sum := sha256.Sum256([]byte(text))
		c := model.Chunk{
			ID:          v.ID + "-chunk-" + hex.EncodeToString(sum[:4]),
			VideoID:     v.ID,
			ChunkIndex:  i + 1,
			StartTime:   float64(i) * 5,
			EndTime:     float64(i)*5 + 5,
			Text:        text,
			ContentHash: hex.EncodeToString(sum[:]),
		}
		if err := r.InsertChunk(ctx, c); err != nil {
			t.Fatalf("insert chunk %d: %v", i, err)
		}
	}

	chunks, err := r.ListChunksForVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) != len(texts) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(texts))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i+1 {
			t.Errorf("chunk %d has index %d, want dense index %d", i, c.ChunkIndex, i+1)
		}
		if c.StartTime >= c.EndTime {
			t.Errorf("chunk %d has start_time %v >= end_time %v", i, c.StartTime, c.EndTime)
		}
		sum := sha256.Sum256([]byte(c.Text))
		if c.ContentHash != hex.EncodeToString(sum[:]) {
			t.Errorf("chunk %d content_hash does not match sha256(text)", i)
		}
	}

	if err := r.DeleteChunksForVideo(ctx, v.ID); err != nil {
		t.Fatalf("delete chunks: %v", err)
	}
	chunks, err = r.ListChunksForVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("list chunks after delete: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks after delete, want 0", len(chunks))
	}
}

func TestRecoverIncompleteStateResetsRunningJobs(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	v := mustCreateVideo(t, r, "vid-recover")

	job, err := r.CreateJob(ctx, "job-recover", v.ID, "keyframes", "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := r.ClaimPendingJob(ctx, job.ID); err != nil {
		t.Fatalf("claim job: %v", err)
	}
	if err := r.UpdateVideoStatus(ctx, v.ID, model.VideoStatusProcessing); err != nil {
		t.Fatalf("set video processing: %v", err)
	}

	if err := r.RecoverIncompleteState(ctx); err != nil {
		t.Fatalf("recover incomplete state: %v", err)
	}

	recovered, err := r.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if recovered.Status != model.JobStatusPending {
		t.Errorf("status = %q, want pending after recovery", recovered.Status)
	}

	recoveredVideo, err := r.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	if recoveredVideo.Status != model.VideoStatusPending {
		t.Errorf("video status = %q, want pending after recovery", recoveredVideo.Status)
	}
}

func mustNow() time.Time { return time.Now().UTC() }
