package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bookinglake/bookinglake/internal/compaction"
	"github.com/bookinglake/bookinglake/internal/logging"
)

// Compactor compacts one UTC day on demand.
type Compactor interface {
	TriggerCompaction(ctx context.Context, day time.Time) (*compaction.Result, error)
}

// CompactionHandler handles POST /v1/compactions?day=YYYY-MM-DD. Without a
// day the previous UTC day is compacted.
type CompactionHandler struct {
	compactor Compactor
	now       func() time.Time
	logger    *zap.Logger
}

// NewCompactionHandler creates a new compaction trigger handler.
func NewCompactionHandler(compactor Compactor, logger *zap.Logger) *CompactionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompactionHandler{compactor: compactor, now: time.Now, logger: logger}
}

// ServeHTTP runs the compaction synchronously and returns its result.
func (h *CompactionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := logging.RequestID(r.Context())

	day := h.now().UTC().AddDate(0, 0, -1)
	if v := r.URL.Query().Get("day"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "day must be formatted as YYYY-MM-DD")
			return
		}
		day = parsed
	}

	res, err := h.compactor.TriggerCompaction(r.Context(), day)
	if err != nil {
		writePipelineError(w, err, requestID, logging.For(r.Context(), h.logger))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
