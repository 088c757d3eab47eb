package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// RequireConfigured answers every request with 500 while the service
// configuration is invalid. A nil err passes requests through.
func RequireConfigured(err error, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if err == nil {
			return next
		}
		if logger == nil {
			logger = zap.NewNop()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Warn("request rejected, server not configured", zap.String("path", r.URL.Path))
			writeError(w, http.StatusInternalServerError, "server not configured")
		})
	}
}
