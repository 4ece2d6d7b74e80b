package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"videoagent/internal/config"
	"videoagent/internal/llm"
	"videoagent/internal/media"
	"videoagent/internal/model"
	"videoagent/internal/repo"
	"videoagent/internal/store"
	"videoagent/internal/transcript"
	"videoagent/internal/vectorstore"
)

func newTestWorker(t *testing.T, cfg config.Config) (*Worker, *repo.Repo, string) {
	t.Helper()
	return newTestWorkerWithLLM(t, cfg, nil)
}

func newTestWorkerWithLLM(t *testing.T, cfg config.Config, llmRegistry *llm.Registry) (*Worker, *repo.Repo, string) {
	t.Helper()
	dataDir := t.TempDir()
	dbPath := filepath.Join(dataDir, "test.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	r := repo.New(db)
	transcripts, err := transcript.NewStore(dataDir)
	if err != nil {
		t.Fatalf("open transcript store: %v", err)
	}
	vectors, err := vectorstore.NewStore(db)
	if err != nil {
		t.Fatalf("open vector store: %v", err)
	}
	mediaRunner := media.NewRunner(cfg.Media)

	w := New(r, transcripts, vectors, mediaRunner, llmRegistry, cfg, dataDir)
	return w, r, dataDir
}

func TestClassifyErrorMapsConcurrencyTimeouts(t *testing.T) {
	cases := []struct {
		jobType string
		err     error
		want    string
	}{
		{model.JobTypeTranscribe, errors.New("ASR_CONCURRENCY_TIMEOUT: timed out"), "E_CONCURRENCY_TIMEOUT"},
		{model.JobTypeIndex, errors.New("LLM_CONCURRENCY_TIMEOUT: timed out"), "E_CONCURRENCY_TIMEOUT"},
		{model.JobTypeKeyframes, errors.New("HEAVY_CONCURRENCY_TIMEOUT: timed out"), "E_CONCURRENCY_TIMEOUT"},
		{model.JobTypeTranscribe, errors.New("model crashed"), "E_ASR_FAILED"},
		{model.JobTypeIndex, errors.New("something else"), "E_JOB_FAILED"},
	}
	for _, c := range cases {
		if got := classifyError(c.jobType, c.err); got != c.want {
			t.Errorf("classifyError(%q, %q) = %q, want %q", c.jobType, c.err, got, c.want)
		}
	}
}

func TestDecodeKeyframeParamsAppliesDefaultsAndClamps(t *testing.T) {
	p := decodeKeyframeParams("")
	if p.Mode != "interval" || p.IntervalSecs != 10 || p.MaxFrames != 200 {
		t.Errorf("unexpected defaults: %+v", p)
	}

	p = decodeKeyframeParams(`{"mode":"scene","max_frames":10000,"scene_threshold":5}`)
	if p.Mode != "scene" {
		t.Errorf("mode = %q, want scene", p.Mode)
	}
	if p.MaxFrames != 500 {
		t.Errorf("max_frames = %d, want clamped to 500", p.MaxFrames)
	}
	if p.SceneThreshold != 1 {
		t.Errorf("scene_threshold = %v, want clamped to 1", p.SceneThreshold)
	}

	p = decodeKeyframeParams(`{"mode":"bogus"}`)
	if p.Mode != "interval" {
		t.Errorf("unknown mode should fall back to interval, got %q", p.Mode)
	}
}

func TestSelectSceneTimestampsRespectsMinGapAndMaxFrames(t *testing.T) {
	params := KeyframeParams{MaxFrames: 3, MinGapSeconds: 5}
	changes := []media.SceneChange{
		{TimestampSeconds: 10, Score: 0.9},
		{TimestampSeconds: 11, Score: 0.8}, // too close to 10, should be dropped
		{TimestampSeconds: 20, Score: 0.95},
		{TimestampSeconds: 30, Score: 0.5},
		{TimestampSeconds: 40, Score: 0.6},
	}

	picked := selectSceneTimestamps(changes, params)
	if len(picked) > params.MaxFrames {
		t.Fatalf("picked %d frames, want at most %d", len(picked), params.MaxFrames)
	}
	for i := 1; i < len(picked); i++ {
		if picked[i] < picked[i-1] {
			t.Errorf("picked timestamps not ascending: %v", picked)
		}
		if picked[i]-picked[i-1] < params.MinGapSeconds {
			t.Errorf("picked timestamps %v and %v are closer than min gap %v", picked[i-1], picked[i], params.MinGapSeconds)
		}
	}
	for _, ts := range picked {
		if ts == 11 {
			t.Errorf("expected candidate too close to a higher-scoring pick to be dropped")
		}
	}
}

func TestSelectSceneTimestampsEmptyInput(t *testing.T) {
	if got := selectSceneTimestamps(nil, KeyframeParams{MaxFrames: 10, MinGapSeconds: 1}); len(got) != 0 {
		t.Errorf("expected no timestamps from no candidates, got %v", got)
	}
}

func TestRunIndexProducesDenseChunksWithHashEmbedder(t *testing.T) {
	cfg := config.Load()
	cfg.Embedding.Model = "hash"
	cfg.Embedding.Dim = 16
	cfg.Index = config.IndexConfig{TargetWindowSeconds: 5, MaxWindowSeconds: 10, MinWindowSeconds: 2, OverlapSeconds: 1}

	w, r, _ := newTestWorker(t, cfg)
	ctx := context.Background()

	video, err := r.CreateOrGetVideo(ctx, "vid-index", "/videos/vid-index.mp4", "hash-index", "title", 30, 1000)
	if err != nil {
		t.Fatalf("create video: %v", err)
	}

	var segments []model.TranscriptSegment
	for i := 0; i < 20; i++ {
		start := float64(i)
		segments = append(segments, model.TranscriptSegment{Start: start, End: start + 1, Text: "word"})
	}
	if err := w.Transcripts.Append(video.ID, segments); err != nil {
		t.Fatalf("append transcript: %v", err)
	}

	job, err := r.CreateJob(ctx, "job-index", video.ID, model.JobTypeIndex, "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := r.ClaimPendingJob(ctx, job.ID); err != nil {
		t.Fatalf("claim job: %v", err)
	}
	claimed, err := r.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	p := &pipelineCtx{w: w, jobID: job.ID, videoID: video.ID, claimedStartedAt: *claimed.StartedAt}

	if err := w.runIndex(ctx, p, ""); err != nil {
		t.Fatalf("runIndex: %v", err)
	}

	chunks, err := r.ListChunksForVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for i, c := range chunks {
		if c.ChunkIndex != i+1 {
			t.Errorf("chunk %d has index %d, want dense 1-based index %d", i, c.ChunkIndex, i+1)
		}
		if c.StartTime >= c.EndTime {
			t.Errorf("chunk %d start_time %v >= end_time %v", i, c.StartTime, c.EndTime)
		}
	}

	idx, err := r.GetVideoIndex(ctx, video.ID)
	if err != nil {
		t.Fatalf("get video index: %v", err)
	}
	if idx.Status != model.JobStatusCompleted {
		t.Errorf("index status = %q, want completed", idx.Status)
	}
	if idx.ChunkCount != len(chunks) {
		t.Errorf("index chunk_count = %d, want %d", idx.ChunkCount, len(chunks))
	}
}

func TestRunIndexFailsWithoutTranscript(t *testing.T) {
	cfg := config.Load()
	cfg.Embedding.Model = "hash"
	cfg.Embedding.Dim = 16

	w, r, _ := newTestWorker(t, cfg)
	ctx := context.Background()

	video, err := r.CreateOrGetVideo(ctx, "vid-no-transcript", "/v.mp4", "hash-none", "t", 10, 10)
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	job, err := r.CreateJob(ctx, "job-no-transcript", video.ID, model.JobTypeIndex, "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	p := &pipelineCtx{w: w, jobID: job.ID, videoID: video.ID}

	err = w.runIndex(ctx, p, "")
	if err == nil {
		t.Fatal("expected error when no transcript exists")
	}
}

func TestRunSummarizeProducesMarkdownAndOutlineWithFakeProvider(t *testing.T) {
	cfg := config.Load()
	registry := llm.NewRegistry(nil, nil)
	w, r, _ := newTestWorkerWithLLM(t, cfg, registry)
	ctx := context.Background()

	video, err := r.CreateOrGetVideo(ctx, "vid-summarize", "/videos/vid-summarize.mp4", "hash-summarize", "title", 240, 1000)
	if err != nil {
		t.Fatalf("create video: %v", err)
	}

	var segments []model.TranscriptSegment
	for i := 0; i < 4; i++ {
		start := float64(i) * 60
		segments = append(segments, model.TranscriptSegment{Start: start, End: start + 60, Text: "some narration about the video"})
	}
	if err := w.Transcripts.Append(video.ID, segments); err != nil {
		t.Fatalf("append transcript: %v", err)
	}

	provider := "fake"
	if err := r.UpdatePreferences(ctx, repo.PreferencesUpdate{LLMProvider: &provider}); err != nil {
		t.Fatalf("set provider: %v", err)
	}

	job, err := r.CreateJob(ctx, "job-summarize", video.ID, model.JobTypeSummarize, "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := r.ClaimPendingJob(ctx, job.ID); err != nil {
		t.Fatalf("claim job: %v", err)
	}
	claimed, err := r.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	p := &pipelineCtx{w: w, jobID: job.ID, videoID: video.ID, claimedStartedAt: *claimed.StartedAt}

	if err := w.runSummarize(ctx, p, ""); err != nil {
		t.Fatalf("runSummarize: %v", err)
	}

	sum, err := r.GetVideoSummary(ctx, video.ID)
	if err != nil {
		t.Fatalf("get video summary: %v", err)
	}
	if sum.Status != model.JobStatusCompleted {
		t.Errorf("summary status = %q, want completed", sum.Status)
	}
	if sum.SummaryMarkdown == "" {
		t.Error("expected non-empty summary markdown")
	}
	if sum.Outline == "" {
		t.Error("expected non-empty outline")
	}
	if sum.SegmentSummaries == "" {
		t.Error("expected non-empty per-window segment summaries")
	}
}

func TestRunSummarizeFailsWithoutProvider(t *testing.T) {
	cfg := config.Load()
	registry := llm.NewRegistry(nil, nil)
	w, r, _ := newTestWorkerWithLLM(t, cfg, registry)
	ctx := context.Background()

	video, err := r.CreateOrGetVideo(ctx, "vid-summarize-none", "/v.mp4", "hash-none2", "t", 60, 10)
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	if err := w.Transcripts.Append(video.ID, []model.TranscriptSegment{{Start: 0, End: 10, Text: "hi"}}); err != nil {
		t.Fatalf("append transcript: %v", err)
	}
	job, err := r.CreateJob(ctx, "job-summarize-none", video.ID, model.JobTypeSummarize, "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	p := &pipelineCtx{w: w, jobID: job.ID, videoID: video.ID}

	if err := w.runSummarize(ctx, p, ""); err == nil {
		t.Fatal("expected error with no LLM provider configured in preferences")
	}
}
