package rest

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/batch_downloader/internal/telemetry"
)

const (
	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// NewServer wires the status routes behind the request id, logging, metrics
// and tracing middleware. ctx becomes the base context of every request so
// handlers inherit its logger.
func NewServer(ctx context.Context, addr string, h *StatusHandler, t *telemetry.Telemetry) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(t.Metrics)
	r.Mount("/", h.Routes())

	handler := otelhttp.NewHandler(r, "status", otelhttp.WithTracerProvider(t.TracerProvider()))

	return &http.Server{
		Addr:         addr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		Handler:      handler,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
