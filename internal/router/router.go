// Package router provides centralized API route registration.
// All HTTP routes are registered here, grouped by business domain,
// with appropriate middleware applied to each group.
package router

import (
	"net/http"
	"time"

	"videoagent/internal/handler"
	"videoagent/internal/middleware"
)

// Register registers all API routes to http.DefaultServeMux.
// It creates middleware instances internally and groups routes by business domain.
// Returns a cleanup function that should be called on shutdown to stop background goroutines.
func Register(app *handler.App) func() {
	// Build the secure API middleware chain: SecurityHeaders + CORS + RequestID
	secureAPI := middleware.Chain(
		middleware.SecurityHeaders(),
		middleware.CORS(),
		middleware.RequestID(),
	)

	// Ingest rate limiter: 10 imports per minute per IP
	ingestRL := middleware.NewRateLimiter(10, 1*time.Minute)
	rateLimit := ingestRL.Limit()

	// General API rate limiter: 60 requests per minute per IP
	apiRL := middleware.NewRateLimiter(60, 1*time.Minute)
	apiRateLimit := apiRL.Limit()

	// Helper to apply secureAPI chain
	secure := func(h http.HandlerFunc) http.HandlerFunc {
		return secureAPI(h)
	}

	// Helper to apply secureAPI + ingest rate limit
	secureRL := func(h http.HandlerFunc) http.HandlerFunc {
		return secureAPI(rateLimit(h))
	}

	// Helper to apply secureAPI + general API rate limit
	secureAPIRL := func(h http.HandlerFunc) http.HandlerFunc {
		return secureAPI(apiRateLimit(h))
	}

	// ── Videos ──
	http.HandleFunc("/videos/import", secureRL(handler.HandleVideoImport(app)))
	http.HandleFunc("/videos", secureAPIRL(handler.HandleVideos(app)))

	// ── Per-video artifacts (index/summary/outline/keyframes) ──
	// Registered ahead of the general /videos/ prefix route so their more
	// specific suffixes win; each handler dispatches further on its own
	// path suffix, mirroring the teacher's HandleDocumentByID/HandlePendingByID
	// suffix-dispatch pattern.
	http.HandleFunc("/videos/", secureAPIRL(dispatchVideoSubresource(app)))

	// ── Jobs ──
	http.HandleFunc("/jobs/transcribe", secureRL(handler.HandleTranscribeJob(app)))
	http.HandleFunc("/jobs", secureAPIRL(handler.HandleJobs(app)))
	http.HandleFunc("/jobs/", secureAPIRL(handler.HandleJobByID(app)))
	http.HandleFunc("/ws/jobs/", handler.HandleJobEventsWS(app))

	// ── Retrieval ──
	http.HandleFunc("/search", secureAPIRL(handler.HandleSearch(app)))
	http.HandleFunc("/chat", secureAPIRL(handler.HandleChat(app)))

	// ── LLM / runtime preferences ──
	http.HandleFunc("/llm/preferences/default", secure(handler.HandleLLMPreferencesDefault(app)))
	http.HandleFunc("/llm/providers", secure(handler.HandleLLMProviders(app)))
	http.HandleFunc("/llm/local/status", secure(handler.HandleLLMLocalStatus(app)))
	http.HandleFunc("/runtime/profile", secure(handler.HandleRuntimeProfile(app)))

	// ── Cloud summary glue ──
	http.HandleFunc("/summaries/cloud", secureRL(handler.HandleCloudSummary(app)))

	// ── Health check ──
	http.HandleFunc("/health", handler.HandleHealth(app))

	// Return cleanup function to stop rate limiter goroutines
	return func() {
		ingestRL.Stop()
		apiRL.Stop()
	}
}

// dispatchVideoSubresource routes every /videos/{id}/... request to the
// handler owning that suffix. /videos/{id} and /videos/{id}/file are
// handled by HandleVideoByID directly; the rest fan out by the first path
// segment after the id.
func dispatchVideoSubresource(app *handler.App) http.HandlerFunc {
	videoByID := handler.HandleVideoByID(app)
	index := handler.HandleVideoIndex(app)
	summarize := handler.HandleVideoSummarize(app)
	keyframesIndex := handler.HandleVideoKeyframesIndex(app)
	keyframesList := handler.HandleVideoKeyframes(app)
	keyframeImage := handler.HandleKeyframeImage(app)

	return func(w http.ResponseWriter, r *http.Request) {
		rest := r.URL.Path[len("/videos/"):]
		parts := splitN(rest, '/', 3)
		if len(parts) < 2 {
			videoByID(w, r)
			return
		}
		switch parts[1] {
		case "index":
			index(w, r)
		case "summarize", "summary", "outline":
			summarize(w, r)
		case "keyframes":
			if len(parts) == 2 {
				// POST creates a keyframes job; GET lists existing frames.
				if r.Method == http.MethodPost {
					keyframesIndex(w, r)
				} else {
					keyframesList(w, r)
				}
				return
			}
			switch parts[2] {
			case "index":
				keyframesIndex(w, r)
			case "nearest", "aligned":
				keyframesList(w, r)
			default:
				keyframeImage(w, r)
			}
		case "file":
			videoByID(w, r)
		default:
			videoByID(w, r)
		}
	}
}

func splitN(s string, sep byte, n int) []string {
	var out []string
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
