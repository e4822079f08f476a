package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/batch_downloader/internal/downloader/progress"
	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/telemetry"
)

// SlotGauge reports how many fetch slots are in use.
type SlotGauge interface {
	Size() int
	InFlight() int
	Peak() int
}

type ProgressResponse struct {
	Slots     SlotsResponse       `json:"slots"`
	Transfers []progress.Snapshot `json:"transfers"`
}

type SlotsResponse struct {
	Size     int `json:"size"`
	InFlight int `json:"in_flight"`
	Peak     int `json:"peak"`
}

// StatusHandler exposes the live state of a run.
type StatusHandler struct {
	tracker   *progress.Tracker
	slots     SlotGauge
	telemetry *telemetry.Telemetry
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(tracker *progress.Tracker, slots SlotGauge, t *telemetry.Telemetry) *StatusHandler {
	return &StatusHandler{
		tracker:   tracker,
		slots:     slots,
		telemetry: t,
	}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/progress", h.HandleProgress)
	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	return r
}

// HandleProgress returns one snapshot per transfer currently streaming.
func (h *StatusHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	resp := ProgressResponse{
		Slots: SlotsResponse{
			Size:     h.slots.Size(),
			InFlight: h.slots.InFlight(),
			Peak:     h.slots.Peak(),
		},
		Transfers: h.tracker.Snapshots(),
	}

	if resp.Transfers == nil {
		resp.Transfers = []progress.Snapshot{}
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode response", "err", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)

		return
	}
}

func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
