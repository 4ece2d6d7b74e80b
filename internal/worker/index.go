package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"videoagent/internal/chunker"
	"videoagent/internal/model"
	"videoagent/internal/vectorstore"
)

// IndexParams is the decoded params payload for an index job.
type IndexParams struct {
	EmbedModel          string  `json:"embed_model"`
	EmbedDim            int     `json:"embed_dim"`
	TargetWindowSeconds float64 `json:"target_window_seconds"`
	MaxWindowSeconds    float64 `json:"max_window_seconds"`
	MinWindowSeconds    float64 `json:"min_window_seconds"`
	OverlapSeconds      float64 `json:"overlap_seconds"`
	FromScratch         bool    `json:"from_scratch"`
}

func (w *Worker) decodeIndexParams(raw string) IndexParams {
	p := IndexParams{
		EmbedModel:          w.Config.Embedding.Model,
		EmbedDim:            w.Config.Embedding.Dim,
		TargetWindowSeconds: w.Config.Index.TargetWindowSeconds,
		MaxWindowSeconds:    w.Config.Index.MaxWindowSeconds,
		MinWindowSeconds:    w.Config.Index.MinWindowSeconds,
		OverlapSeconds:      w.Config.Index.OverlapSeconds,
	}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &p)
	}
	if p.EmbedModel == "" {
		p.EmbedModel = w.Config.Embedding.Model
	}
	if p.EmbedDim <= 0 {
		p.EmbedDim = w.Config.Embedding.Dim
	}
	return p
}

// runIndex time-windows the video's transcript into chunks, embeds them, and
// upserts the resulting vectors into the model/dimension-versioned
// collection, falling back to the hash embedder if a configured fastembed
// model fails.
func (w *Worker) runIndex(ctx context.Context, p *pipelineCtx, paramsJSON string) error {
	params := w.decodeIndexParams(paramsJSON)
	collection := vectorstore.CollectionName(params.EmbedModel, params.EmbedDim)

	if params.FromScratch {
		if err := w.Repo.DeleteChunksForVideo(ctx, p.videoID); err != nil {
			return fmt.Errorf("delete existing chunks: %w", err)
		}
		_ = w.Vectors.DeleteVideo(collection, p.videoID)
		_ = w.Vectors.DeleteVideo(vectorstore.LegacyCollectionName, p.videoID)
	}

	segments, err := w.Transcripts.Load(p.videoID)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	if len(segments) == 0 {
		return fmt.Errorf("TRANSCRIPT_NOT_FOUND: no transcript for video %s", p.videoID)
	}

	transcriptHash, err := w.Transcripts.ContentHash(p.videoID)
	if err != nil {
		return fmt.Errorf("hash transcript: %w", err)
	}

	chunkParamsJSON, _ := json.Marshal(params)
	if err := w.Repo.UpsertVideoIndex(ctx, model.VideoIndex{
		VideoID: p.videoID, Status: model.JobStatusRunning, Progress: 0,
		Message: "chunking transcript", EmbedModel: params.EmbedModel, EmbedDim: params.EmbedDim,
		ChunkParams: string(chunkParamsJSON), TranscriptHash: transcriptHash,
	}); err != nil {
		return fmt.Errorf("initialize index record: %w", err)
	}

	tc := &chunker.TimeChunker{
		TargetWindowSeconds: params.TargetWindowSeconds,
		MaxWindowSeconds:    params.MaxWindowSeconds,
		MinWindowSeconds:    params.MinWindowSeconds,
		OverlapSeconds:      params.OverlapSeconds,
		SilenceGapSeconds:   chunker.DefaultSilenceGapSeconds,
	}
	windows := tc.Split(segments)
	if len(windows) == 0 {
		return fmt.Errorf("E_CHUNKING_FAILED: time-window chunker produced no chunks")
	}

	type pendingChunk struct {
		id, text, contentHash string
		index                 int
		start, end            float64
	}
	pending := make([]pendingChunk, 0, len(windows))
	texts := make([]string, 0, len(windows))

	for i, win := range windows {
		if err := p.ensureSameRun(ctx); err != nil {
			return err
		}
		sum := sha256.Sum256([]byte(win.Text))
		contentHash := hex.EncodeToString(sum[:])
		chunkIndex := i + 1
		id := fmt.Sprintf("%s:%d", p.videoID, chunkIndex)

		if err := w.Repo.InsertChunk(ctx, model.Chunk{
			ID: id, VideoID: p.videoID, ChunkIndex: chunkIndex,
			StartTime: win.StartTime, EndTime: win.EndTime, Text: win.Text, ContentHash: contentHash,
		}); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
		pending = append(pending, pendingChunk{id: id, text: win.Text, contentHash: contentHash, index: chunkIndex, start: win.StartTime, end: win.EndTime})
		texts = append(texts, win.Text)

		if (i+1)%20 == 0 {
			progress := 0.25 * float64(i+1) / float64(len(windows))
			if progress > 0.25 {
				progress = 0.25
			}
			if err := p.updateProgress(ctx, progress, fmt.Sprintf("chunked %d/%d", i+1, len(windows))); err != nil {
				return err
			}
		}
	}

	if err := p.ensureSameRun(ctx); err != nil {
		return err
	}
	if err := p.updateProgress(ctx, 0.25, "embedding chunks"); err != nil {
		return err
	}

	embedModel := params.EmbedModel
	embedDim := params.EmbedDim
	embedder := w.resolveEmbedder(embedModel, embedDim)
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil && strings.HasPrefix(strings.ToLower(embedModel), "fastembed") {
		// Fall back to the deterministic hash embedder, rewriting the
		// collection target accordingly.
		embedModel = "hash"
		embedDim = params.EmbedDim
		collection = vectorstore.CollectionName(embedModel, embedDim)
		if params.FromScratch {
			_ = w.Vectors.DeleteVideo(collection, p.videoID)
		}
		embedder = w.resolveEmbedder(embedModel, embedDim)
		vectors, err = embedder.EmbedBatch(ctx, texts)
	}
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(pending) {
		return fmt.Errorf("embed chunks: expected %d vectors, got %d", len(pending), len(vectors))
	}

	if err := p.ensureSameRun(ctx); err != nil {
		return err
	}
	if err := p.updateProgress(ctx, 0.7, "upserting vectors"); err != nil {
		return err
	}

	vecChunks := make([]vectorstore.Chunk, len(pending))
	for i, c := range pending {
		vecChunks[i] = vectorstore.Chunk{
			ID: c.id, VideoID: p.videoID, ChunkIndex: c.index, Text: c.text,
			Vector: vectors[i], StartTime: c.start, EndTime: c.end,
		}
	}
	if err := w.Vectors.Upsert(collection, embedDim, p.videoID, vecChunks); err != nil {
		return fmt.Errorf("E_VECTOR_STORE_UNAVAILABLE: %w", err)
	}

	completed := model.JobStatusCompleted
	return w.Repo.UpsertVideoIndex(ctx, model.VideoIndex{
		VideoID: p.videoID, Status: completed, Progress: 1.0,
		Message: "index complete", EmbedModel: embedModel, EmbedDim: embedDim,
		ChunkParams: string(chunkParamsJSON), TranscriptHash: transcriptHash,
		ChunkCount: len(pending), IndexedCount: len(pending),
	})
}
