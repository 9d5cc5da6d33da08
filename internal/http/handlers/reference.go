package handlers

import (
	"context"
	"net/http"

	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

type referenceSource interface {
	Centers(ctx context.Context) ([]scheduling.Center, error)
	Rooms(ctx context.Context, centerID int64) ([]scheduling.Room, error)
}

// ReferenceHandler serves the center and room lookup tables.
type ReferenceHandler struct {
	refs   referenceSource
	logger *logging.Logger
}

func NewReferenceHandler(refs referenceSource, logger *logging.Logger) *ReferenceHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReferenceHandler{refs: refs, logger: logger.Component("reference_handler")}
}

// Centers handles GET /api/reference/centers.
func (h *ReferenceHandler) Centers(w http.ResponseWriter, r *http.Request) {
	centers, err := h.refs.Centers(r.Context())
	if err != nil {
		h.logger.Error("list centers failed", "error", err)
		jsonError(w, "centers unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"centers": centers})
}

// Rooms handles GET /api/reference/rooms?center_id=.
func (h *ReferenceHandler) Rooms(w http.ResponseWriter, r *http.Request) {
	centerID, err := int64Query(r, "center_id")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	rooms, err := h.refs.Rooms(r.Context(), centerID)
	if err != nil {
		h.logger.Error("list rooms failed", "error", err, "center_id", centerID)
		jsonError(w, "rooms unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}
