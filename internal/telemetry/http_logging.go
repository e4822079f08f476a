package telemetry

import (
	"net/http"
	"time"

	"github.com/italolelis/batch_downloader/internal/logctx"
)

// HTTPLogging logs each status server request; 5xx at error, 4xx at warn, the rest at debug.
// The request id comes from the logger installed by RequestID.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logctx.LoggerFromContext(ctx)
		start := time.Now()

		wrapped := wrapResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}

		switch {
		case wrapped.status >= 500:
			logger.ErrorContext(ctx, "http request completed", attrs...)
		case wrapped.status >= 400:
			logger.WarnContext(ctx, "http request completed", attrs...)
		default:
			logger.DebugContext(ctx, "http request completed", attrs...)
		}
	})
}
