package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"videoagent/internal/model"
	"videoagent/internal/repo"
)

// HandleVideoIndex serves POST /videos/{id}/index and GET /videos/{id}/index.
func HandleVideoIndex(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID := pathSegment(r.URL.Path, "/videos/", "/index")
		video, err := app.Repo.GetVideo(r.Context(), videoID)
		if errors.Is(err, repo.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "VIDEO_NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
			return
		}

		if r.Method == http.MethodGet {
			idx, err := app.Repo.GetVideoIndex(r.Context(), videoID)
			if errors.Is(err, repo.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "VIDEO_NOT_FOUND")
				return
			}
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
				return
			}
			hash, _ := app.Transcripts.ContentHash(videoID)
			WriteJSON(w, http.StatusOK, map[string]any{
				"video_id": idx.VideoID, "status": idx.Status, "progress": idx.Progress,
				"message": idx.Message, "embed_model": idx.EmbedModel, "embed_dim": idx.EmbedDim,
				"chunk_count": idx.ChunkCount, "indexed_count": idx.IndexedCount,
				"is_stale": idx.TranscriptHash != hash,
			})
			return
		}
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !app.Transcripts.Exists(video.ID) {
			WriteError(w, http.StatusNotFound, "TRANSCRIPT_NOT_FOUND")
			return
		}

		var req struct {
			FromScratch         bool    `json:"from_scratch"`
			EmbedModel          string  `json:"embed_model"`
			EmbedDim            int     `json:"embed_dim"`
			TargetWindowSeconds float64 `json:"target_window_seconds"`
			MaxWindowSeconds    float64 `json:"max_window_seconds"`
			MinWindowSeconds    float64 `json:"min_window_seconds"`
			OverlapSeconds      float64 `json:"overlap_seconds"`
		}
		_ = ReadJSONBody(r, &req)

		if active, err := app.Repo.GetActiveJobForVideo(r.Context(), video.ID, model.JobTypeIndex); err == nil {
			WriteJSON(w, http.StatusAccepted, map[string]string{"status": "INDEXING_IN_PROGRESS", "job_id": active.ID})
			return
		}

		freshnessMatches := false
		if existing, err := app.Repo.GetVideoIndex(r.Context(), video.ID); err == nil && existing.Status == model.JobStatusCompleted {
			hash, _ := app.Transcripts.ContentHash(video.ID)
			if hash != "" && hash == existing.TranscriptHash {
				freshnessMatches = true
			} else {
				req.FromScratch = true
			}
		}
		if freshnessMatches && !req.FromScratch {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "INDEX_ALREADY_COMPLETED"})
			return
		}

		paramsJSON, _ := repo.MarshalParams(req)
		job, err := app.Repo.CreateJob(r.Context(), newID(), video.ID, model.JobTypeIndex, paramsJSON)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "INDEXING_STARTED", "job_id": job.ID})
	}
}

// HandleVideoSummarize serves POST /videos/{id}/summarize and the
// GET /videos/{id}/summary and GET /videos/{id}/outline status reads.
func HandleVideoSummarize(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/videos/")
		parts := strings.SplitN(rest, "/", 2)
		videoID := parts[0]
		resource := ""
		if len(parts) == 2 {
			resource = parts[1]
		}

		video, err := app.Repo.GetVideo(r.Context(), videoID)
		if errors.Is(err, repo.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "VIDEO_NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
			return
		}

		if r.Method == http.MethodGet && (resource == "summary" || resource == "outline") {
			sum, err := app.Repo.GetVideoSummary(r.Context(), videoID)
			if errors.Is(err, repo.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "SUMMARY_NOT_FOUND")
				return
			}
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
				return
			}
			hash, _ := app.Transcripts.ContentHash(videoID)
			if resource == "outline" {
				var outline any
				_ = json.Unmarshal([]byte(sum.Outline), &outline)
				WriteJSON(w, http.StatusOK, map[string]any{"video_id": videoID, "status": sum.Status, "outline": outline, "is_stale": sum.TranscriptHash != hash})
				return
			}
			WriteJSON(w, http.StatusOK, map[string]any{
				"video_id": videoID, "status": sum.Status, "progress": sum.Progress, "message": sum.Message,
				"summary_markdown": sum.SummaryMarkdown, "is_stale": sum.TranscriptHash != hash,
			})
			return
		}
		if resource != "summarize" || r.Method != http.MethodPost {
			WriteError(w, http.StatusNotFound, "not found")
			return
		}
		if !app.Transcripts.Exists(video.ID) {
			WriteError(w, http.StatusNotFound, "TRANSCRIPT_NOT_FOUND")
			return
		}

		var req struct {
			FromScratch         bool    `json:"from_scratch"`
			OutputLanguage      string  `json:"output_language"`
			TargetWindowSeconds float64 `json:"target_window_seconds"`
			MaxWindowSeconds    float64 `json:"max_window_seconds"`
			MinWindowSeconds    float64 `json:"min_window_seconds"`
			OverlapSeconds      float64 `json:"overlap_seconds"`
		}
		_ = ReadJSONBody(r, &req)

		if active, err := app.Repo.GetActiveJobForVideo(r.Context(), video.ID, model.JobTypeSummarize); err == nil {
			WriteJSON(w, http.StatusAccepted, map[string]string{"status": "SUMMARIZING_IN_PROGRESS", "job_id": active.ID})
			return
		}

		freshnessMatches := false
		if existing, err := app.Repo.GetVideoSummary(r.Context(), video.ID); err == nil && existing.Status == model.JobStatusCompleted {
			hash, _ := app.Transcripts.ContentHash(video.ID)
			if hash != "" && hash == existing.TranscriptHash {
				freshnessMatches = true
			} else {
				req.FromScratch = true
			}
		}
		if freshnessMatches && !req.FromScratch {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "SUMMARY_ALREADY_COMPLETED"})
			return
		}

		paramsJSON, _ := repo.MarshalParams(req)
		job, err := app.Repo.CreateJob(r.Context(), newID(), video.ID, model.JobTypeSummarize, paramsJSON)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "SUMMARIZE_STARTED", "job_id": job.ID})
	}
}

// HandleVideoKeyframesIndex serves POST /videos/{id}/keyframes and
// GET /videos/{id}/keyframes/index.
func HandleVideoKeyframesIndex(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/videos/")
		parts := strings.SplitN(rest, "/", 2)
		videoID := parts[0]
		resource := ""
		if len(parts) == 2 {
			resource = parts[1]
		}

		video, err := app.Repo.GetVideo(r.Context(), videoID)
		if errors.Is(err, repo.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "VIDEO_NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
			return
		}

		if r.Method == http.MethodGet && resource == "keyframes/index" {
			idx, err := app.Repo.GetVideoKeyframeIndex(r.Context(), videoID)
			if errors.Is(err, repo.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "VIDEO_NOT_FOUND")
				return
			}
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
				return
			}
			WriteJSON(w, http.StatusOK, map[string]any{
				"video_id": idx.VideoID, "status": idx.Status, "progress": idx.Progress,
				"message": idx.Message, "frame_count": idx.FrameCount, "params": idx.Params,
			})
			return
		}
		if resource != "keyframes" || r.Method != http.MethodPost {
			WriteError(w, http.StatusNotFound, "not found")
			return
		}

		body := map[string]any{}
		_ = ReadJSONBody(r, &body)
		modeRaw, _ := body["mode"].(string)
		if modeRaw != "" && modeRaw != "interval" && modeRaw != "scene" {
			WriteError(w, http.StatusBadRequest, "UNSUPPORTED_KEYFRAMES_METHOD")
			return
		}
		fromScratch, _ := body["from_scratch"].(bool)

		if active, err := app.Repo.GetActiveJobForVideo(r.Context(), video.ID, model.JobTypeKeyframes); err == nil {
			WriteJSON(w, http.StatusAccepted, map[string]string{"status": "KEYFRAMES_IN_PROGRESS", "job_id": active.ID})
			return
		}

		requested := normalizeKeyframeRequest(body)
		freshnessMatches := false
		if existing, err := app.Repo.GetVideoKeyframeIndex(r.Context(), video.ID); err == nil && existing.Status == model.JobStatusCompleted {
			var existingNormalized map[string]any
			_ = json.Unmarshal([]byte(existing.Params), &existingNormalized)
			if reflect.DeepEqual(existingNormalized, requested) {
				freshnessMatches = true
			} else {
				fromScratch = true
			}
		}
		if freshnessMatches && !fromScratch {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "KEYFRAMES_ALREADY_COMPLETED"})
			return
		}

		body["from_scratch"] = fromScratch
		paramsJSON, _ := json.Marshal(body)
		job, err := app.Repo.CreateJob(r.Context(), newID(), video.ID, model.JobTypeKeyframes, string(paramsJSON))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "KEYFRAMES_STARTED", "job_id": job.ID})
	}
}

// normalizeKeyframeRequest projects only the fields relevant to the
// requested mode, mirroring the worker's own normalizedKeyframeParams so
// the HTTP-layer freshness comparison and the job's persisted params agree.
func normalizeKeyframeRequest(body map[string]any) map[string]any {
	mode, _ := body["mode"].(string)
	if mode != "scene" {
		mode = "interval"
	}
	if mode == "scene" {
		return map[string]any{
			"mode": "scene", "scene_threshold": numberOrDefault(body["scene_threshold"], 0.3),
			"min_gap_seconds": numberOrDefault(body["min_gap_seconds"], 2.0),
			"max_frames":      numberOrDefault(body["max_frames"], 200),
			"target_width":    numberOrDefault(body["target_width"], 0),
		}
	}
	return map[string]any{
		"mode": "interval", "interval_seconds": numberOrDefault(body["interval_seconds"], 10.0),
		"max_frames":   numberOrDefault(body["max_frames"], 200),
		"target_width": numberOrDefault(body["target_width"], 0),
	}
}

func numberOrDefault(v any, def float64) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return def
}

// pathSegment extracts the id segment between prefix and a trailing suffix
// (e.g. "/videos/" ... "/index"), falling back to everything after prefix
// up to the next slash when suffix isn't present (the GET form).
func pathSegment(path, prefix, suffix string) string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimSuffix(rest, suffix)
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
