package middleware

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"github.com/nikhil/projectdesk/internal/logger"
)

// AccessLog writes one structured line per request.
func AccessLog(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
			kv := []interface{}{
				"method", p.Request.Method,
				"path", p.URL.Path,
				"status", p.StatusCode,
				"size", p.Size,
				"took", time.Since(p.TimeStamp),
				"request_id", logger.RequestID(p.Request.Context()),
			}
			switch {
			case p.StatusCode >= 500:
				log.Error("HTTP request", kv...)
			case p.StatusCode >= 400:
				log.Warn("HTTP request", kv...)
			default:
				log.Debug("HTTP request", kv...)
			}
		})
	}
}

type recoveryLogger struct{ log *logger.Logger }

func (r recoveryLogger) Println(v ...interface{}) {
	r.log.Error("Recovered from panic", "panic", fmt.Sprint(v...))
}

// Recover turns handler panics into 500 responses.
func Recover(log *logger.Logger) func(http.Handler) http.Handler {
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{log: log}))
}
