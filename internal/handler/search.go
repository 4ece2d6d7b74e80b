package handler

import (
	"errors"
	"net/http"
	"strconv"

	"videoagent/internal/model"
	"videoagent/internal/repo"
	"videoagent/internal/vectorstore"
)

type retrievedChunk struct {
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Score      float64 `json:"score"`
}

// retrieveChunks implements the shared gating + query pipeline used by both
// search and chat: active-index check, freshness check (enqueuing a
// from-scratch index job if stale or missing), embed, query the versioned
// collection with a fallback to the legacy collection name. A non-empty
// gateCode (with the index jobID it refers to) means the caller should
// respond immediately with that 202 and skip retrieval.
func retrieveChunks(app *App, r *http.Request, videoID, query string, topK int) (chunks []retrievedChunk, gateCode string, jobID string, err error) {
	if active, aerr := app.Repo.GetActiveJobForVideo(r.Context(), videoID, model.JobTypeIndex); aerr == nil {
		return nil, "INDEXING_IN_PROGRESS", active.ID, nil
	}

	idx, ierr := app.Repo.GetVideoIndex(r.Context(), videoID)
	stale := errors.Is(ierr, repo.ErrNotFound) || ierr != nil || idx.Status != model.JobStatusCompleted
	if !stale {
		hash, _ := app.Transcripts.ContentHash(videoID)
		stale = hash == "" || hash != idx.TranscriptHash
	}
	if stale {
		paramsJSON, _ := repo.MarshalParams(map[string]any{"from_scratch": true})
		job, cerr := app.Repo.CreateJob(r.Context(), newID(), videoID, model.JobTypeIndex, paramsJSON)
		if cerr != nil {
			return nil, "", "", cerr
		}
		return nil, "INDEXING_STARTED", job.ID, nil
	}

	embedder := app.resolveEmbedder(idx.EmbedModel, idx.EmbedDim)
	vectors, eerr := embedder.EmbedBatch(r.Context(), []string{query})
	if eerr != nil || len(vectors) == 0 {
		return nil, "", "", errors.New("E_VECTOR_STORE_UNAVAILABLE")
	}

	collection := vectorstore.CollectionName(idx.EmbedModel, idx.EmbedDim)
	results, qerr := app.Vectors.Query(collection, videoID, vectors[0], topK)
	if errors.Is(qerr, vectorstore.ErrCollectionMissing) {
		results, qerr = app.Vectors.Query(vectorstore.LegacyCollectionName, videoID, vectors[0], topK)
	}
	if qerr != nil {
		return nil, "", "", errors.New("E_VECTOR_STORE_UNAVAILABLE")
	}

	out := make([]retrievedChunk, 0, len(results))
	for _, res := range results {
		out = append(out, retrievedChunk{ChunkIndex: res.ChunkIndex, Text: res.Text, StartTime: res.StartTime, EndTime: res.EndTime, Score: res.Score})
	}
	return out, "", "", nil
}

// HandleSearch serves GET /search?query&video_id&top_k.
func HandleSearch(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		q := r.URL.Query()
		query := q.Get("query")
		videoID := q.Get("video_id")
		if query == "" {
			WriteError(w, http.StatusBadRequest, "QUERY_REQUIRED")
			return
		}
		if videoID == "" {
			WriteError(w, http.StatusBadRequest, "VIDEO_ID_REQUIRED")
			return
		}
		topK, _ := strconv.Atoi(q.Get("top_k"))
		if topK <= 0 {
			topK = 5
		}
		if _, err := app.Repo.GetVideo(r.Context(), videoID); errors.Is(err, repo.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "VIDEO_NOT_FOUND")
			return
		}

		chunks, gateCode, jobID, err := retrieveChunks(app, r, videoID, query, topK)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if gateCode != "" {
			WriteJSON(w, http.StatusAccepted, map[string]string{"status": gateCode, "job_id": jobID})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"video_id": videoID, "query": query, "results": chunks})
	}
}
