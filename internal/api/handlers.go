package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/robert-malhotra/reservoir-area/internal/journal"
	"github.com/robert-malhotra/reservoir-area/internal/pipeline"
)

// StatusProvider reports the live run state.
type StatusProvider interface {
	Snapshot() pipeline.Status
}

// History lists recorded partitions.
type History interface {
	Latest(ctx context.Context) ([]journal.Entry, error)
}

// Handlers serves the status endpoints.
type Handlers struct {
	status  StatusProvider
	history History
	metrics http.Handler
	logger  *slog.Logger
}

// NewHandlers creates handlers. history and metrics may be nil.
func NewHandlers(status StatusProvider, history History, metrics http.Handler, logger *slog.Logger) *Handlers {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &Handlers{status: status, history: history, metrics: metrics, logger: logger}
}

// Health returns {"status":"ok"}.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status returns the driver snapshot.
// GET /status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.status.Snapshot())
}

type partitionEntry struct {
	RunID      string     `json:"run_id"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
	pipeline.PartitionReport
}

// Partitions returns the latest outcome of every partition. Without a
// journal it falls back to the partitions of the current run.
// GET /partitions
func (h *Handlers) Partitions(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		snap := h.status.Snapshot()
		out := make([]partitionEntry, 0, len(snap.Partitions))
		for _, p := range snap.Partitions {
			out = append(out, partitionEntry{RunID: snap.RunID, PartitionReport: p})
		}
		WriteJSON(w, http.StatusOK, out)
		return
	}

	entries, err := h.history.Latest(r.Context())
	if err != nil {
		reqID := middleware.GetReqID(r.Context())
		h.logger.ErrorContext(r.Context(), "failed to read journal",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		WriteError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "journal unavailable", reqID)
		return
	}
	out := make([]partitionEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, partitionEntry{RunID: e.RunID, RecordedAt: &e.RecordedAt, PartitionReport: e.PartitionReport})
	}
	WriteJSON(w, http.StatusOK, out)
}
