package handler

import (
	"net/http"

	"videoagent/internal/model"
	"videoagent/internal/repo"
)

type preferencesResponse struct {
	LLMProvider       string  `json:"llm_provider"`
	LLMModel          string  `json:"llm_model"`
	LLMTemperature    float64 `json:"llm_temperature"`
	LLMMaxTokens      int     `json:"llm_max_tokens"`
	LLMOutputLanguage string  `json:"llm_output_language"`
	RuntimeProfile    string  `json:"runtime_profile"`
	ASRMax            int     `json:"asr_max"`
	LLMMax            int     `json:"llm_max"`
	HeavyMax          int     `json:"heavy_max"`
	LLMTimeoutSeconds int     `json:"llm_timeout_seconds"`
	ASRDevice         string  `json:"asr_device"`
	ASRComputeType    string  `json:"asr_compute_type"`
	ASRModel          string  `json:"asr_model"`
}

func toPreferencesResponse(p *model.Preferences) preferencesResponse {
	return preferencesResponse{
		LLMProvider: p.LLMProvider, LLMModel: p.LLMModel, LLMTemperature: p.LLMTemperature,
		LLMMaxTokens: p.LLMMaxTokens, LLMOutputLanguage: p.LLMOutputLanguage,
		RuntimeProfile: p.RuntimeProfile, ASRMax: p.ASRMax, LLMMax: p.LLMMax, HeavyMax: p.HeavyMax,
		LLMTimeoutSeconds: p.LLMTimeoutSeconds, ASRDevice: p.ASRDevice, ASRComputeType: p.ASRComputeType, ASRModel: p.ASRModel,
	}
}

// HandleLLMPreferencesDefault serves GET/PUT /llm/preferences/default.
func HandleLLMPreferencesDefault(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			p, err := app.Repo.GetPreferences(r.Context())
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
				return
			}
			WriteJSON(w, http.StatusOK, toPreferencesResponse(p))
		case http.MethodPut:
			var req struct {
				LLMProvider       *string  `json:"llm_provider"`
				LLMModel          *string  `json:"llm_model"`
				LLMTemperature    *float64 `json:"llm_temperature"`
				LLMMaxTokens      *int     `json:"llm_max_tokens"`
				LLMOutputLanguage *string  `json:"llm_output_language"`
			}
			if err := ReadJSONBody(r, &req); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			update := repo.PreferencesUpdate{
				LLMProvider: req.LLMProvider, LLMModel: req.LLMModel, LLMTemperature: req.LLMTemperature,
				LLMMaxTokens: req.LLMMaxTokens, LLMOutputLanguage: req.LLMOutputLanguage,
			}
			if err := app.Repo.UpdatePreferences(r.Context(), update); err != nil {
				WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
				return
			}
			p, err := app.Repo.GetPreferences(r.Context())
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
				return
			}
			WriteJSON(w, http.StatusOK, toPreferencesResponse(p))
		default:
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// HandleLLMProviders serves GET /llm/providers.
func HandleLLMProviders(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"providers": app.LLM.Names()})
	}
}

// HandleLLMLocalStatus serves GET /llm/local/status.
func HandleLLMLocalStatus(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		provider := app.LLM.Get("openai_local")
		WriteJSON(w, http.StatusOK, map[string]bool{"available": provider != nil})
	}
}

// HandleRuntimeProfile serves GET/PUT /runtime/profile.
func HandleRuntimeProfile(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			p, err := app.Repo.GetPreferences(r.Context())
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
				return
			}
			WriteJSON(w, http.StatusOK, map[string]any{
				"runtime_profile": p.RuntimeProfile, "asr_max": p.ASRMax, "llm_max": p.LLMMax, "heavy_max": p.HeavyMax,
			})
		case http.MethodPut:
			var req struct {
				RuntimeProfile *string `json:"runtime_profile"`
				ASRMax         *int    `json:"asr_max"`
				LLMMax         *int    `json:"llm_max"`
				HeavyMax       *int    `json:"heavy_max"`
			}
			if err := ReadJSONBody(r, &req); err != nil {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			update := repo.PreferencesUpdate{RuntimeProfile: req.RuntimeProfile, ASRMax: req.ASRMax, LLMMax: req.LLMMax, HeavyMax: req.HeavyMax}
			if err := app.Repo.UpdatePreferences(r.Context(), update); err != nil {
				WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
				return
			}
			p, err := app.Repo.GetPreferences(r.Context())
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "E_INTERNAL")
				return
			}
			WriteJSON(w, http.StatusOK, map[string]any{
				"runtime_profile": p.RuntimeProfile, "asr_max": p.ASRMax, "llm_max": p.LLMMax, "heavy_max": p.HeavyMax,
			})
		default:
			WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}
