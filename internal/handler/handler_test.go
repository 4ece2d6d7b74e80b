package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"videoagent/internal/config"
	"videoagent/internal/embedding"
	"videoagent/internal/llm"
	"videoagent/internal/media"
	"videoagent/internal/model"
	"videoagent/internal/repo"
	"videoagent/internal/store"
	"videoagent/internal/transcript"
	"videoagent/internal/vectorstore"
)

func newTestApp(t *testing.T) *App {
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
	cfg := config.Load()
	cfg.Embedding.Model = "hash"
	cfg.Embedding.Dim = 8
	mediaRunner := media.NewRunner(cfg.Media)
	llmRegistry := llm.NewRegistry(nil, nil)

	return NewApp(r, transcripts, vectors, mediaRunner, llmRegistry, nil, cfg, dataDir)
}

func mustMakeVideo(t *testing.T, app *App, id string) *model.Video {
	t.Helper()
	v, err := app.Repo.CreateOrGetVideo(context.Background(), id, "/videos/"+id+".mp4", "hash-"+id, "title", 30, 1024)
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	return v
}

func mustWriteTranscript(t *testing.T, app *App, videoID string) string {
	t.Helper()
	segments := []model.TranscriptSegment{
		{Start: 0, End: 5, Text: "hello there"},
		{Start: 5, End: 10, Text: "general introduction"},
	}
	if err := app.Transcripts.Append(videoID, segments); err != nil {
		t.Fatalf("append transcript: %v", err)
	}
	hash, err := app.Transcripts.ContentHash(videoID)
	if err != nil {
		t.Fatalf("content hash: %v", err)
	}
	return hash
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	HandleHealth(app)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHandleVideoIndexWithoutTranscript(t *testing.T) {
	app := newTestApp(t)
	video := mustMakeVideo(t, app, "00000000000000000000000000000001")

	req := httptest.NewRequest(http.MethodPost, "/videos/"+video.ID+"/index", strings.NewReader(`{"from_scratch":false}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	HandleVideoIndex(app)(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "TRANSCRIPT_NOT_FOUND" {
		t.Errorf("error = %v, want TRANSCRIPT_NOT_FOUND", body["error"])
	}
}

func TestSearchTriggersIndexDedup(t *testing.T) {
	app := newTestApp(t)
	video := mustMakeVideo(t, app, "00000000000000000000000000000002")
	mustWriteTranscript(t, app, video.ID)

	doSearch := func() map[string]any {
		req := httptest.NewRequest(http.MethodGet, "/search?query=hello&video_id="+video.ID, nil)
		rec := httptest.NewRecorder()
		HandleSearch(app)(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}
		return decodeBody(t, rec)
	}
	doChat := func() map[string]any {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"video_id":"`+video.ID+`","query":"hello"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		HandleChat(app)(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}
		return decodeBody(t, rec)
	}

	first := doSearch()
	second := doChat()
	third := doSearch()

	jobID := first["job_id"]
	if jobID == "" || jobID == nil {
		t.Fatal("expected a job_id in the first response")
	}
	if second["job_id"] != jobID || third["job_id"] != jobID {
		t.Errorf("expected all three calls to dedup onto job_id %v, got %v and %v", jobID, second["job_id"], third["job_id"])
	}
}

func TestStaleIndexPromotesFromScratch(t *testing.T) {
	app := newTestApp(t)
	video := mustMakeVideo(t, app, "00000000000000000000000000000003")
	mustWriteTranscript(t, app, video.ID)

	if err := app.Repo.UpsertVideoIndex(context.Background(), model.VideoIndex{
		VideoID: video.ID, Status: model.JobStatusCompleted, Progress: 1, Message: "done",
		EmbedModel: "hash", EmbedDim: 8, ChunkParams: "{}", TranscriptHash: "stale",
		ChunkCount: 1, IndexedCount: 1,
	}); err != nil {
		t.Fatalf("upsert stale index: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/search?query=hello&video_id="+video.ID, nil)
	rec := httptest.NewRecorder()
	HandleSearch(app)(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "INDEXING_STARTED" {
		t.Fatalf("status field = %v, want INDEXING_STARTED", body["status"])
	}
	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatal("expected a job_id")
	}

	job, err := app.Repo.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(job.Params), &params); err != nil {
		t.Fatalf("decode job params: %v", err)
	}
	if params["from_scratch"] != true {
		t.Errorf("job params from_scratch = %v, want true", params["from_scratch"])
	}
}

func TestIdempotentKeyframes(t *testing.T) {
	app := newTestApp(t)
	video := mustMakeVideo(t, app, "00000000000000000000000000000004")

	existingParams, _ := json.Marshal(normalizeKeyframeRequest(map[string]any{"mode": "interval"}))
	if err := app.Repo.UpsertVideoKeyframeIndex(context.Background(), model.VideoKeyframeIndex{
		VideoID: video.ID, Status: model.JobStatusCompleted, Progress: 1, Message: "done",
		Params: string(existingParams), FrameCount: 3,
	}); err != nil {
		t.Fatalf("upsert keyframe index: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/videos/"+video.ID+"/keyframes", strings.NewReader(`{"mode":"interval"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	HandleVideoKeyframesIndex(app)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("matching params: status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "KEYFRAMES_ALREADY_COMPLETED" {
		t.Errorf("matching params: status field = %v, want KEYFRAMES_ALREADY_COMPLETED", body["status"])
	}

	req2 := httptest.NewRequest(http.MethodPost, "/videos/"+video.ID+"/keyframes", strings.NewReader(`{"mode":"scene","scene_threshold":0.3}`))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	HandleVideoKeyframesIndex(app)(rec2, req2)
	if rec2.Code != http.StatusAccepted {
		t.Fatalf("differing params: status = %d, want 202", rec2.Code)
	}
	body2 := decodeBody(t, rec2)
	if body2["status"] != "KEYFRAMES_STARTED" {
		t.Errorf("differing params: status field = %v, want KEYFRAMES_STARTED", body2["status"])
	}
}

func TestSearchFallsBackToLegacyCollection(t *testing.T) {
	app := newTestApp(t)
	video := mustMakeVideo(t, app, "00000000000000000000000000000005")
	hash := mustWriteTranscript(t, app, video.ID)

	if err := app.Repo.UpsertVideoIndex(context.Background(), model.VideoIndex{
		VideoID: video.ID, Status: model.JobStatusCompleted, Progress: 1, Message: "done",
		EmbedModel: "hash", EmbedDim: 8, ChunkParams: "{}", TranscriptHash: hash,
		ChunkCount: 1, IndexedCount: 1,
	}); err != nil {
		t.Fatalf("upsert completed index: %v", err)
	}

	embedder := embedding.HashEmbedder{EmbedDim: 8}
	vectors, err := embedder.EmbedBatch(context.Background(), []string{"hello there"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if err := app.Vectors.Upsert(vectorstore.LegacyCollectionName, 8, video.ID, []vectorstore.Chunk{
		{ID: video.ID + ":0", VideoID: video.ID, ChunkIndex: 0, Text: "hello there", Vector: vectors[0], StartTime: 0, EndTime: 5},
	}); err != nil {
		t.Fatalf("upsert legacy vector: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/search?query=hello&video_id="+video.ID, nil)
	rec := httptest.NewRecorder()
	HandleSearch(app)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	results, ok := body["results"].([]any)
	if !ok || len(results) == 0 {
		t.Fatalf("expected non-empty results from the legacy collection fallback, got %v", body["results"])
	}
}

func TestChatSSEWithFakeProvider(t *testing.T) {
	app := newTestApp(t)
	video := mustMakeVideo(t, app, "00000000000000000000000000000006")
	hash := mustWriteTranscript(t, app, video.ID)

	if err := app.Repo.UpsertVideoIndex(context.Background(), model.VideoIndex{
		VideoID: video.ID, Status: model.JobStatusCompleted, Progress: 1, Message: "done",
		EmbedModel: "hash", EmbedDim: 8, ChunkParams: "{}", TranscriptHash: hash,
		ChunkCount: 1, IndexedCount: 1,
	}); err != nil {
		t.Fatalf("upsert completed index: %v", err)
	}
	embedder := embedding.HashEmbedder{EmbedDim: 8}
	vectors, err := embedder.EmbedBatch(context.Background(), []string{"hello there"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	collection := vectorstore.CollectionName("hash", 8)
	if err := app.Vectors.Upsert(collection, 8, video.ID, []vectorstore.Chunk{
		{ID: video.ID + ":0", VideoID: video.ID, ChunkIndex: 0, Text: "hello there", Vector: vectors[0], StartTime: 0, EndTime: 5},
	}); err != nil {
		t.Fatalf("upsert vector: %v", err)
	}

	provider := "fake"
	if err := app.Repo.UpdatePreferences(context.Background(), repo.PreferencesUpdate{LLMProvider: &provider}); err != nil {
		t.Fatalf("set llm provider: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(
		`{"video_id":"`+video.ID+`","query":"hello","stream":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	HandleChat(app)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	ct := rec.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/event-stream") {
		t.Errorf("content-type = %q, want text/event-stream", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: token") {
		t.Errorf("expected an event: token frame, got %q", body)
	}
	if !strings.Contains(body, "event: done") {
		t.Errorf("expected an event: done frame, got %q", body)
	}
}
