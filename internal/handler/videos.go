package handler

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"videoagent/internal/model"
	"videoagent/internal/repo"
)

func newID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

type videoResponse struct {
	ID              string  `json:"id"`
	FilePath        string  `json:"file_path"`
	Title           string  `json:"title"`
	DurationSeconds float64 `json:"duration_seconds"`
	FileSizeBytes   int64   `json:"file_size_bytes"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func toVideoResponse(v *model.Video) videoResponse {
	return videoResponse{
		ID: v.ID, FilePath: v.FilePath, Title: v.Title, DurationSeconds: v.DurationSeconds,
		FileSizeBytes: v.FileSizeBytes, Status: v.Status,
		CreatedAt: v.CreatedAt.UTC().Format(time.RFC3339), UpdatedAt: v.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// HandleVideoImport hashes and registers a local video file, returning the
// existing row if an identical file was already imported.
func HandleVideoImport(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req struct {
			FilePath string `json:"file_path"`
			Title    string `json:"title"`
		}
		if err := ReadJSONBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		absPath, err := filepath.Abs(req.FilePath)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "FILE_NOT_FOUND")
			return
		}
		info, err := os.Stat(absPath)
		if err != nil || info.IsDir() {
			WriteError(w, http.StatusBadRequest, "FILE_NOT_FOUND")
			return
		}

		hash, err := hashFile(absPath)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "FILE_NOT_FOUND")
			return
		}

		title := req.Title
		if title == "" {
			title = filepath.Base(absPath)
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		duration, _ := app.Media.ProbeDuration(ctx, absPath)

		video, err := app.Repo.CreateOrGetVideo(ctx, newID(), absPath, hash, title, duration, info.Size())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
			return
		}
		WriteJSON(w, http.StatusOK, toVideoResponse(video))
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HandleVideoByID serves GET /videos/{id} and GET /videos/{id}/file.
func HandleVideoByID(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/videos/")
		parts := strings.SplitN(rest, "/", 2)
		id := parts[0]
		if !IsValidHexID(id) {
			WriteError(w, http.StatusNotFound, "VIDEO_NOT_FOUND")
			return
		}
		video, err := app.Repo.GetVideo(r.Context(), id)
		if errors.Is(err, repo.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "VIDEO_NOT_FOUND")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
			return
		}

		if len(parts) == 2 && parts[1] == "file" {
			serveVideoFile(w, r, video)
			return
		}
		WriteJSON(w, http.StatusOK, toVideoResponse(video))
	}
}

func serveVideoFile(w http.ResponseWriter, r *http.Request, video *model.Video) {
	f, err := os.Open(video.FilePath)
	if err != nil {
		WriteError(w, http.StatusNotFound, "VIDEO_FILE_NOT_FOUND")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		WriteError(w, http.StatusNotFound, "VIDEO_FILE_NOT_FOUND")
		return
	}
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, filepath.Base(video.FilePath), info.ModTime(), f)
}

// HandleVideos serves GET /videos (list, newest first).
func HandleVideos(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		videos, err := app.Repo.ListVideos(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
			return
		}
		out := make([]videoResponse, len(videos))
		for i := range videos {
			out[i] = toVideoResponse(&videos[i])
		}
		WriteJSON(w, http.StatusOK, out)
	}
}

// writeErrorCode is a small helper to respond with a typed error body shaped
// like {"error": "<code>"}, matching the orchestrator's own error-code
// vocabulary rather than freeform English messages.
func writeErrorCode(w http.ResponseWriter, status int, code string) {
	WriteJSON(w, status, map[string]string{"error": code})
}
