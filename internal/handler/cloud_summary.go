package handler

import (
	"net/http"

	"videoagent/internal/llm"
)

// dashscopeBaseURL is Alibaba Cloud's OpenAI-compatible DashScope endpoint.
const dashscopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// HandleCloudSummary serves POST /summaries/cloud {text, api_key?, confirm_send}:
// a single-shot remote summarization glue endpoint, independent of the
// per-video summarize pipeline.
func HandleCloudSummary(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !app.Config.LLM.EnableCloudSummary {
			WriteError(w, http.StatusBadRequest, "CLOUD_SUMMARY_DISABLED")
			return
		}
		var req struct {
			Text        string `json:"text"`
			APIKey      string `json:"api_key"`
			ConfirmSend bool   `json:"confirm_send"`
		}
		if err := ReadJSONBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !req.ConfirmSend {
			WriteError(w, http.StatusBadRequest, "CONFIRM_SEND_REQUIRED")
			return
		}
		if len(req.Text) < 20 {
			WriteError(w, http.StatusBadRequest, "TEXT_TOO_SHORT")
			return
		}
		apiKey := req.APIKey
		if apiKey == "" {
			apiKey = app.Config.LLM.DashscopeAPIKey
		}
		if apiKey == "" {
			WriteError(w, http.StatusBadRequest, "MISSING_DASHSCOPE_API_KEY")
			return
		}

		provider := llm.NewOpenAICompatibleProvider("dashscope", dashscopeBaseURL, app.Config.LLM.CloudSummaryModel, apiKey,
			false, false, true, app.Config.LLM.RequestTimeoutSec)
		messages := []llm.Message{
			{Role: "system", Content: "Summarize the following text concisely."},
			{Role: "user", Content: req.Text},
		}
		answer, err := provider.Generate(r.Context(), messages, llm.Preferences{Provider: "dashscope", Model: app.Config.LLM.CloudSummaryModel})
		if err != nil {
			WriteError(w, http.StatusBadGateway, "LLM_FAILED:"+err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"summary": answer})
	}
}
