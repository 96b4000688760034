package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhil/projectdesk/internal/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestID propagates or assigns a request id and echoes it back.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.ContextWithRequestID(r.Context(), id)))
	})
}
