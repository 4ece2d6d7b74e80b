package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader is the response header carrying the per-request trace id.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns a UUID to each request, reusing one supplied by an
// upstream proxy if present, and echoes it back on the response so clients
// can correlate logs with a specific call.
func RequestID() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			next(w, r)
		}
	}
}
