package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/batch_downloader/internal/logctx"
)

func TestNilTelemetryIsUsable(t *testing.T) {
	var tel *Telemetry

	called := false
	err := tel.InstrumentDBOperation(context.Background(), "load", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	_, done := tel.StartFetch(context.Background())
	done("done", nil)

	tel.AddBytes(10)
	tel.IncrementActiveFetches()
	tel.DecrementActiveFetches()
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestDisabledTelemetry(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false, ServiceName: "test"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnabledTelemetryExposesFetchMetrics(t *testing.T) {
	ctx := context.Background()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "test", ServiceVersion: "dev"})
	require.NoError(t, err)
	defer tel.Shutdown(ctx)

	_, done := tel.StartFetch(ctx)
	done("failed", errors.New("boom"))
	tel.AddBytes(2048)

	require.Error(t, tel.InstrumentDBOperation(ctx, "mark_complete", func(context.Context) error {
		return errors.New("disk full")
	}))

	srv := httptest.NewServer(tel.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "fetches_total")
	assert.Contains(t, string(body), `outcome="failed"`)
	assert.Contains(t, string(body), "fetch_bytes")
	assert.Contains(t, string(body), "db_operations_total")
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		204: "2xx",
		301: "3xx",
		404: "4xx",
		503: "5xx",
		100: "unknown",
	}

	for code, want := range tests {
		assert.Equal(t, want, statusClass(code), code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-1", seen)
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)

	assert.Equal(t, http.StatusTeapot, rw.status)
	assert.Same(t, rw, wrapResponseWriter(rw))

	start := time.Now()
	var tel *Telemetry
	tel.RecordHTTPRequest("GET", "/", "2xx", time.Since(start))
}

func TestRequestIDAndLoggingTagLogs(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := RequestID(HTTPLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})))

	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	req = req.WithContext(logctx.WithLogger(req.Context(), logger))

	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-42"`)
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"status":404`)
}
