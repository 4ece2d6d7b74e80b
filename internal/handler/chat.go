package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"videoagent/internal/llm"
	"videoagent/internal/repo"
)

type chatCitation struct {
	ChunkIndex int     `json:"chunk_index"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
}

type chatRequest struct {
	VideoID     string `json:"video_id"`
	Query       string `json:"query"`
	TopK        int    `json:"top_k"`
	Stream      bool   `json:"stream"`
	ConfirmSend bool   `json:"confirm_send"`
}

// HandleChat serves POST /chat {video_id, query, top_k, stream?, confirm_send?}.
func HandleChat(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req chatRequest
		if err := ReadJSONBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Query == "" {
			WriteError(w, http.StatusBadRequest, "QUERY_REQUIRED")
			return
		}
		if req.VideoID == "" {
			WriteError(w, http.StatusBadRequest, "VIDEO_ID_REQUIRED")
			return
		}
		if req.TopK <= 0 {
			req.TopK = 5
		}
		if _, err := app.Repo.GetVideo(r.Context(), req.VideoID); errors.Is(err, repo.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "VIDEO_NOT_FOUND")
			return
		}

		chunks, gateCode, jobID, err := retrieveChunks(app, r, req.VideoID, req.Query, req.TopK)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if gateCode != "" {
			WriteJSON(w, http.StatusAccepted, map[string]string{"status": gateCode, "job_id": jobID})
			return
		}

		prefs, err := app.Repo.GetPreferences(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
			return
		}
		provider := app.LLM.Get(prefs.LLMProvider)

		citations := make([]chatCitation, len(chunks))
		for i, c := range chunks {
			citations[i] = chatCitation{ChunkIndex: c.ChunkIndex, StartTime: c.StartTime, EndTime: c.EndTime}
		}

		if provider == nil || prefs.LLMProvider == "" || prefs.LLMProvider == "none" {
			answer := retrievalOnlyAnswer(chunks)
			if req.Stream {
				streamPlainAnswer(w, req, answer, citations)
				return
			}
			WriteJSON(w, http.StatusOK, map[string]any{
				"video_id": req.VideoID, "query": req.Query, "mode": "retrieval", "answer": answer, "citations": citations,
			})
			return
		}

		if provider.RequiresConfirmSend() && !req.ConfirmSend {
			WriteError(w, http.StatusBadRequest, "CONFIRM_SEND_REQUIRED")
			return
		}

		messages := buildChatMessages(req.Query, chunks)
		llmPrefs := llm.Preferences{Provider: prefs.LLMProvider, Model: prefs.LLMModel, Temperature: prefs.LLMTemperature, MaxTokens: prefs.LLMMaxTokens}

		if req.Stream {
			streamLLMAnswer(w, r, provider, messages, llmPrefs, req, citations)
			return
		}

		answer, err := provider.Generate(r.Context(), messages, llmPrefs)
		if err != nil {
			WriteError(w, http.StatusBadGateway, "LLM_FAILED:"+err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"video_id": req.VideoID, "query": req.Query, "mode": "llm", "answer": answer, "citations": citations,
		})
	}
}

func retrievalOnlyAnswer(chunks []retrievedChunk) string {
	var sb strings.Builder
	sb.WriteString("No LLM provider configured; showing the closest transcript matches.\n")
	n := len(chunks)
	if n > 3 {
		n = 3
	}
	for _, c := range chunks[:n] {
		text := c.Text
		if len(text) > 240 {
			text = text[:240] + "..."
		}
		fmt.Fprintf(&sb, "[%s - %s] %s\n", llm.FormatTimestamp(c.StartTime), llm.FormatTimestamp(c.EndTime), text)
	}
	return sb.String()
}

func buildChatMessages(query string, chunks []retrievedChunk) []llm.Message {
	var sb strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&sb, "[%s - %s] %s\n", llm.FormatTimestamp(c.StartTime), llm.FormatTimestamp(c.EndTime), c.Text)
	}
	return []llm.Message{
		{Role: "system", Content: "Answer the user's question about the video using only the provided transcript excerpts. Cite timestamps."},
		{Role: "user", Content: fmt.Sprintf("Transcript excerpts:\n%s\nQuestion: %s", sb.String(), query)},
	}
}

func streamPlainAnswer(w http.ResponseWriter, req chatRequest, answer string, citations []chatCitation) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	writeSSEFrame(w, flusher, "token", map[string]string{"delta": answer})
	writeSSEFrame(w, flusher, "done", map[string]any{
		"video_id": req.VideoID, "query": req.Query, "mode": "retrieval", "answer": answer, "citations": citations,
	})
}

func streamLLMAnswer(w http.ResponseWriter, r *http.Request, provider llm.Provider, messages []llm.Message, prefs llm.Preferences, req chatRequest, citations []chatCitation) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var full strings.Builder
	err := provider.StreamGenerate(r.Context(), messages, prefs, func(delta string) error {
		full.WriteString(delta)
		writeSSEFrame(w, flusher, "token", map[string]string{"delta": delta})
		return nil
	})
	if err != nil {
		writeSSEFrame(w, flusher, "error", map[string]string{"error": "LLM_FAILED:" + err.Error()})
		return
	}
	writeSSEFrame(w, flusher, "done", map[string]any{
		"video_id": req.VideoID, "query": req.Query, "mode": "llm", "answer": full.String(), "citations": citations,
	})
}

func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	raw, _ := json.Marshal(data)
	_, _ = w.Write([]byte("event: " + event + "\ndata: " + string(raw) + "\n\n"))
	flusher.Flush()
}
