package http

import (
	"net/http"
	"time"

	"github.com/autom8ter/docrepl/logger"
	"github.com/gorilla/mux"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// requestLogger logs every request at debug level. Websocket upgrades need the original writer.
func requestLogger(log logger.Logger) mux.MiddlewareFunc {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			status := 0
			if r.Header.Get("Upgrade") != "" {
				handler.ServeHTTP(w, r)
			} else {
				rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
				handler.ServeHTTP(rec, r)
				status = rec.status
			}
			log.Debug(r.Context(), "request served", map[string]any{
				"request.path":   r.URL.Path,
				"request.method": r.Method,
				"status":         status,
				"duration":       float64(time.Since(start).Microseconds()) / float64(1000),
			})
		})
	}
}
