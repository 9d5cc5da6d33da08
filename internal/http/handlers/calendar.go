package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/or-scheduler/internal/calendar"
	"github.com/wolfman30/or-scheduler/internal/http/middleware"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

type calendarService interface {
	Snapshot() calendar.Snapshot
	SetFilter(ctx context.Context, f calendar.Filter) calendar.Snapshot
	Refresh(ctx context.Context) calendar.Snapshot
	UpdateStatus(ctx context.Context, bookingID string, status scheduling.BookingStatus, actor string) (calendar.Snapshot, error)
}

// CalendarHandler serves the polled calendar and booking status changes.
type CalendarHandler struct {
	calendar calendarService
	stream   http.Handler
	logger   *logging.Logger
}

// NewCalendarHandler wires the calendar. stream may be nil when the
// WebSocket feed is disabled.
func NewCalendarHandler(cal calendarService, stream http.Handler, logger *logging.Logger) *CalendarHandler {
	if cal == nil {
		panic("handlers: calendar required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CalendarHandler{calendar: cal, stream: stream, logger: logger.Component("calendar_handler")}
}

type calendarBooking struct {
	scheduling.Booking
	RoomName string `json:"room_name"`
}

type calendarResponse struct {
	Filter    calendar.Filter   `json:"filter"`
	Rooms     []scheduling.Room `json:"rooms"`
	Bookings  []calendarBooking `json:"bookings"`
	FetchedAt string            `json:"fetched_at,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func renderSnapshot(s calendar.Snapshot) calendarResponse {
	resp := calendarResponse{
		Filter:   s.Filter,
		Rooms:    s.Rooms,
		Bookings: make([]calendarBooking, 0, len(s.Bookings)),
		Error:    s.Err,
	}
	if resp.Rooms == nil {
		resp.Rooms = []scheduling.Room{}
	}
	if !s.FetchedAt.IsZero() {
		resp.FetchedAt = s.FetchedAt.UTC().Format(time.RFC3339)
	}
	for _, b := range s.Bookings {
		resp.Bookings = append(resp.Bookings, calendarBooking{Booking: b, RoomName: calendar.RoomName(s.Rooms, b.RoomID)})
	}
	return resp
}

// Get handles GET /api/calendar.
func (h *CalendarHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, renderSnapshot(h.calendar.Snapshot()))
}

type filterRequest struct {
	Date      string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	CenterIDs []string `json:"center_ids" validate:"omitempty,dive,required"`
	RoomIDs   []string `json:"room_ids" validate:"omitempty,dive,required"`
}

// SetFilter handles PUT /api/calendar/filter.
func (h *CalendarHandler) SetFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap := h.calendar.SetFilter(r.Context(), calendar.Filter{
		Date:      req.Date,
		CenterIDs: req.CenterIDs,
		RoomIDs:   req.RoomIDs,
	})
	writeJSON(w, http.StatusOK, renderSnapshot(snap))
}

// Refresh handles POST /api/calendar/refresh.
func (h *CalendarHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, renderSnapshot(h.calendar.Refresh(r.Context())))
}

// Stream handles GET /api/calendar/stream.
func (h *CalendarHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		jsonError(w, "calendar stream disabled", http.StatusServiceUnavailable)
		return
	}
	h.stream.ServeHTTP(w, r)
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=SCHEDULED IN_PROGRESS COMPLETED CANCELED"`
}

// UpdateStatus handles PUT /api/bookings/{id}/status. The actor comes from
// the staff token.
func (h *CalendarHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	bookingID := strings.TrimSpace(chi.URLParam(r, "id"))
	if bookingID == "" {
		jsonError(w, "missing booking id", http.StatusBadRequest)
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	actor := "anonymous"
	if claims, ok := middleware.StaffClaimsFromContext(r.Context()); ok {
		actor = claims.Actor()
	}

	snap, err := h.calendar.UpdateStatus(r.Context(), bookingID, scheduling.BookingStatus(req.Status), actor)
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("status update failed", "error", err, "booking_id", bookingID)
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSnapshot(snap))
}
