package health

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/invdash/backend/logging"
)

// RequestLogger logs every request at debug level once it has been served.
func RequestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.WithFields(map[string]any{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"duration":   time.Since(start).String(),
					"remote":     r.RemoteAddr,
					"request_id": middleware.GetReqID(r.Context()),
				}).Debug("Request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
