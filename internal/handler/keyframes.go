package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"videoagent/internal/model"
	"videoagent/internal/repo"
)

type outlineSection struct {
	Title     string  `json:"title"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// decodeOutlineSections parses the persisted outline JSON, which is an
// array of {title, start_time, end_time, bullets} entries produced by the
// summarize pipeline's LLM outline phase. A malformed or non-array outline
// (e.g. the raw-fallback shape) yields an empty section list rather than
// an error, since aligned-keyframes degrades gracefully with no sections.
func decodeOutlineSections(outlineJSON string) []outlineSection {
	var sections []outlineSection
	_ = json.Unmarshal([]byte(outlineJSON), &sections)
	return sections
}

type keyframeResponse struct {
	ID          string   `json:"id"`
	VideoID     string   `json:"video_id"`
	TimestampMs int64    `json:"timestamp_ms"`
	Method      string   `json:"method"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	Score       *float64 `json:"score,omitempty"`
}

func toKeyframeResponse(k model.Keyframe) keyframeResponse {
	return keyframeResponse{ID: k.ID, VideoID: k.VideoID, TimestampMs: k.TimestampMs, Method: k.Method, Width: k.Width, Height: k.Height, Score: k.Score}
}

// HandleVideoKeyframes serves GET /videos/{id}/keyframes (paged),
// GET /videos/{id}/keyframes/nearest, and GET /videos/{id}/keyframes/aligned.
func HandleVideoKeyframes(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/videos/")
		parts := strings.SplitN(rest, "/", 3)
		videoID := parts[0]
		sub := ""
		if len(parts) == 3 {
			sub = parts[2]
		}

		if _, err := app.Repo.GetVideo(r.Context(), videoID); errors.Is(err, repo.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "VIDEO_NOT_FOUND")
			return
		}

		switch sub {
		case "":
			handleListKeyframes(app, w, r, videoID)
		case "nearest":
			handleNearestKeyframe(app, w, r, videoID)
		case "aligned":
			handleAlignedKeyframes(app, w, r, videoID)
		default:
			WriteError(w, http.StatusNotFound, "not found")
		}
	}
}

func handleListKeyframes(app *App, w http.ResponseWriter, r *http.Request, videoID string) {
	all, err := app.Repo.ListKeyframesForVideo(r.Context(), videoID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if offset > len(all) {
		offset = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	page := all[offset:end]
	out := make([]keyframeResponse, len(page))
	for i, k := range page {
		out[i] = toKeyframeResponse(k)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"video_id": videoID, "total": len(all), "keyframes": out})
}

func handleNearestKeyframe(app *App, w http.ResponseWriter, r *http.Request, videoID string) {
	ts, err := strconv.ParseInt(r.URL.Query().Get("timestamp_ms"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "QUERY_REQUIRED")
		return
	}
	kf, err := app.Repo.NearestKeyframe(r.Context(), videoID, ts)
	if errors.Is(err, repo.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "KEYFRAME_NOT_FOUND")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
		return
	}
	WriteJSON(w, http.StatusOK, toKeyframeResponse(*kf))
}

// HandleKeyframeImage serves GET /videos/{id}/keyframes/{kid}/image.
func HandleKeyframeImage(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/videos/")
		parts := strings.SplitN(rest, "/", 4)
		if len(parts) < 4 || parts[1] != "keyframes" || parts[3] != "image" {
			WriteError(w, http.StatusNotFound, "not found")
			return
		}
		videoID, keyframeID := parts[0], parts[2]

		all, err := app.Repo.ListKeyframesForVideo(r.Context(), videoID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
			return
		}
		var found *model.Keyframe
		for i := range all {
			if all[i].ID == keyframeID {
				found = &all[i]
				break
			}
		}
		if found == nil {
			WriteError(w, http.StatusNotFound, "KEYFRAME_NOT_FOUND")
			return
		}
		path := filepath.Join(app.DataDir, "keyframes", videoID, filepath.Base(found.ImageRelpath))
		f, err := os.Open(path)
		if err != nil {
			WriteError(w, http.StatusNotFound, "KEYFRAME_IMAGE_NOT_FOUND")
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = io.Copy(w, f)
	}
}

// handleAlignedKeyframes picks up to per_section frames within each outline
// section's time range: scene mode ranks by score, interval mode picks
// evenly spaced timestamps, with an optional nearest-frame top-up for scene
// mode when the section itself yielded nothing.
func handleAlignedKeyframes(app *App, w http.ResponseWriter, r *http.Request, videoID string) {
	q := r.URL.Query()
	method := q.Get("method")
	if method == "" {
		method = "scene"
	}
	if method != "scene" && method != "interval" {
		WriteError(w, http.StatusBadRequest, "UNSUPPORTED_KEYFRAMES_METHOD")
		return
	}
	fallback := q.Get("fallback")
	if fallback != "" && fallback != "nearest" {
		WriteError(w, http.StatusBadRequest, "UNSUPPORTED_FALLBACK")
		return
	}
	perSection, _ := strconv.Atoi(q.Get("per_section"))
	if perSection <= 0 {
		perSection = 3
	}

	summary, err := app.Repo.GetVideoSummary(r.Context(), videoID)
	if errors.Is(err, repo.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "SUMMARY_NOT_FOUND")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
		return
	}
	sections := decodeOutlineSections(summary.Outline)

	all, err := app.Repo.ListKeyframesForVideo(r.Context(), videoID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
		return
	}

	type alignedSection struct {
		Title     string             `json:"title"`
		StartTime float64            `json:"start_time"`
		EndTime   float64            `json:"end_time"`
		Keyframes []keyframeResponse `json:"keyframes"`
	}
	out := make([]alignedSection, 0, len(sections))
	for _, sec := range sections {
		inRange := make([]model.Keyframe, 0)
		for _, k := range all {
			ts := float64(k.TimestampMs) / 1000.0
			if ts >= sec.StartTime && ts <= sec.EndTime {
				inRange = append(inRange, k)
			}
		}
		var picked []model.Keyframe
		if method == "scene" {
			sort.Slice(inRange, func(i, j int) bool {
				si, sj := scoreOf(inRange[i]), scoreOf(inRange[j])
				return si > sj
			})
			if len(inRange) > perSection {
				picked = inRange[:perSection]
			} else {
				picked = inRange
			}
			if len(picked) == 0 && fallback == "nearest" {
				mid := (sec.StartTime + sec.EndTime) / 2
				if nearest := nearestInList(all, mid); nearest != nil {
					picked = []model.Keyframe{*nearest}
				}
			}
		} else {
			picked = evenlySpaced(inRange, sec.StartTime, sec.EndTime, perSection)
		}
		sort.Slice(picked, func(i, j int) bool { return picked[i].TimestampMs < picked[j].TimestampMs })
		frames := make([]keyframeResponse, len(picked))
		for i, k := range picked {
			frames[i] = toKeyframeResponse(k)
		}
		out = append(out, alignedSection{Title: sec.Title, StartTime: sec.StartTime, EndTime: sec.EndTime, Keyframes: frames})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"video_id": videoID, "sections": out})
}

func scoreOf(k model.Keyframe) float64 {
	if k.Score == nil {
		return 0
	}
	return *k.Score
}

func nearestInList(all []model.Keyframe, targetSeconds float64) *model.Keyframe {
	var best *model.Keyframe
	var bestDiff float64
	for i := range all {
		diff := float64(all[i].TimestampMs)/1000.0 - targetSeconds
		if diff < 0 {
			diff = -diff
		}
		if best == nil || diff < bestDiff {
			best = &all[i]
			bestDiff = diff
		}
	}
	return best
}

func evenlySpaced(inRange []model.Keyframe, start, end float64, n int) []model.Keyframe {
	if len(inRange) == 0 || n <= 0 {
		return nil
	}
	sort.Slice(inRange, func(i, j int) bool { return inRange[i].TimestampMs < inRange[j].TimestampMs })
	if len(inRange) <= n {
		return inRange
	}
	span := end - start
	picked := make([]model.Keyframe, 0, n)
	for i := 0; i < n; i++ {
		target := start + span*float64(i)/float64(n-1)
		picked = append(picked, *nearestInList(inRange, target))
	}
	return picked
}
