package hospitalapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
)

// ErrNoBookingID is returned when the submit answer lacks procedimentoId.
var ErrNoBookingID = errors.New("hospitalapi: submit response without booking id")

// Centers lists the booking service's surgical centers and numbers them
// through the registry.
func (c *Client) Centers(ctx context.Context) ([]scheduling.Center, error) {
	var raw []surgicalCenterV1
	if err := c.call(ctx, "centers", http.MethodGet, c.bookingBase+"/surgical-center", nil, &raw, nil); err != nil {
		return nil, err
	}
	out := make([]scheduling.Center, 0, len(raw))
	for _, r := range raw {
		center, err := mapCenterV1(r)
		if err != nil {
			c.logger.Warn("skipping malformed center", "error", err)
			continue
		}
		center.ID = c.registry.SeedCenters(center.ExternalID)[0]
		out = append(out, center)
	}
	return out, nil
}

// Rooms lists the scheduler rooms of a center. With no center it falls back
// to the booking service's full room list.
func (c *Client) Rooms(ctx context.Context, centerID int64) ([]scheduling.Room, error) {
	if centerID == 0 {
		return c.CalendarRooms(ctx)
	}
	q := url.Values{}
	q.Set("centroId", strconv.FormatInt(centerID, 10))

	var raw []salaV1
	if err := c.call(ctx, "rooms", http.MethodGet, c.schedulerBase+"/api/availability/salas?"+q.Encode(), nil, &raw, nil); err != nil {
		return nil, err
	}
	out := make([]scheduling.Room, 0, len(raw))
	for _, r := range raw {
		room, err := mapSalaV1(r, centerID)
		if err != nil {
			c.logger.Warn("skipping malformed room", "error", err)
			continue
		}
		if ext, ok := c.registry.CenterExt(room.CenterID); ok {
			room.CenterExternalID = ext
		}
		out = append(out, room)
	}
	return out, nil
}

// CalendarRooms lists every room of the booking service.
func (c *Client) CalendarRooms(ctx context.Context) ([]scheduling.Room, error) {
	var raw []roomV1
	if err := c.call(ctx, "calendar_rooms", http.MethodGet, c.bookingBase+"/room", nil, &raw, nil); err != nil {
		return nil, err
	}
	out := make([]scheduling.Room, 0, len(raw))
	for _, r := range raw {
		room, err := mapRoomV1(r)
		if err != nil {
			c.logger.Warn("skipping malformed room", "error", err)
			continue
		}
		room.ID = c.registry.SeedRoom(room.ExternalID, room.CenterExternalID)
		if centerID, ok := c.registry.CenterNum(room.CenterExternalID); ok {
			room.CenterID = centerID
		}
		out = append(out, room)
	}
	return out, nil
}

// Bookings lists scheduled surgeries of the hospital for one day, narrowed
// to a center and rooms when given.
func (c *Client) Bookings(ctx context.Context, f booking.BookingFilter) ([]scheduling.Booking, error) {
	q := url.Values{}
	q.Set("hospital_id", c.hospitalID)

	var raw []scheduleSurgeryV1
	if err := c.call(ctx, "bookings", http.MethodGet, c.bookingBase+"/schedule-surgery?"+q.Encode(), nil, &raw, nil); err != nil {
		return nil, err
	}

	var centerRooms map[string]struct{}
	if f.CenterID != "" {
		rooms, err := c.CalendarRooms(ctx)
		if err != nil {
			return nil, err
		}
		centerRooms = make(map[string]struct{})
		for _, r := range rooms {
			if r.CenterExternalID == f.CenterID {
				centerRooms[r.ExternalID] = struct{}{}
			}
		}
	}

	now := c.now()
	out := make([]scheduling.Booking, 0, len(raw))
	for _, r := range raw {
		b, err := mapBookingV1(r, now, c.loc)
		if err != nil {
			c.logger.Warn("skipping malformed booking", "error", err)
			continue
		}
		if !f.Matches(b, centerRooms, c.loc) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// UpdateStatus changes the status of a scheduled surgery.
func (c *Client) UpdateStatus(ctx context.Context, bookingID string, status scheduling.BookingStatus) error {
	if !status.Valid() {
		return scheduling.ErrInvalidStatus
	}
	endpoint := fmt.Sprintf("%s/schedule-surgery/%s/status", c.bookingBase, url.PathEscape(bookingID))
	return c.call(ctx, "update_status", http.MethodPut, endpoint, statusUpdateV1{Status: string(status)}, nil, nil)
}

// Slots asks the scheduler service for open windows.
func (c *Client) Slots(ctx context.Context, query scheduling.SlotQuery) ([]scheduling.Slot, error) {
	q := url.Values{}
	q.Set("start", query.Window.Start.Format(time.RFC3339))
	q.Set("end", query.Window.End.Format(time.RFC3339))
	q.Set("duracaoMin", strconv.Itoa(query.DurationMinutes))
	q.Set("centroId", strconv.FormatInt(query.CenterID, 10))
	if query.RoomID != 0 {
		q.Set("salaId", strconv.FormatInt(query.RoomID, 10))
	}
	if query.ProfessionalID != 0 {
		q.Set("profissionalId", strconv.FormatInt(query.ProfessionalID, 10))
	}

	var resp slotsResponseV1
	if err := c.call(ctx, "slots", http.MethodGet, c.schedulerBase+"/api/availability/slots?"+q.Encode(), nil, &resp, nil); err != nil {
		return nil, err
	}
	out := make([]scheduling.Slot, 0, len(resp.Slots))
	for _, s := range resp.Slots {
		slot, err := mapSlotV1(s, c.loc)
		if err != nil {
			c.logger.Warn("skipping malformed slot", "error", err)
			continue
		}
		out = append(out, slot)
	}
	return out, nil
}

// Professionals searches staff available in the window.
func (c *Client) Professionals(ctx context.Context, f booking.ProfessionalFilter) ([]scheduling.Professional, error) {
	q := windowValues(f.Window, "inicio", "fim")
	if f.Internal != nil {
		q.Set("interno", strconv.FormatBool(*f.Internal))
	}
	if f.SpecialtyID != 0 {
		q.Set("especialidadeId", strconv.FormatInt(f.SpecialtyID, 10))
	}
	if name := strings.TrimSpace(f.Name); name != "" {
		q.Set("nome", name)
	}

	var raw []funcionarioV1
	if err := c.call(ctx, "professionals", http.MethodGet, c.schedulerBase+"/api/availability/profissionais?"+q.Encode(), nil, &raw, nil); err != nil {
		return nil, err
	}
	out := make([]scheduling.Professional, 0, len(raw))
	for _, r := range raw {
		p, err := mapProfessionalV1(r)
		if err != nil {
			c.logger.Warn("skipping malformed professional", "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Resources searches equipment available in the window.
func (c *Client) Resources(ctx context.Context, f booking.ResourceFilter) ([]scheduling.Resource, error) {
	q := windowValues(f.Window, "inicio", "fim")
	if f.GroupID != 0 {
		q.Set("grupoId", strconv.FormatInt(f.GroupID, 10))
	}
	if f.External != nil {
		q.Set("externo", strconv.FormatBool(*f.External))
	}

	var raw []recursoV1
	if err := c.call(ctx, "resources", http.MethodGet, c.schedulerBase+"/api/availability/recursos?"+q.Encode(), nil, &raw, nil); err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(f.Name))
	out := make([]scheduling.Resource, 0, len(raw))
	for _, r := range raw {
		res, err := mapResourceV1(r)
		if err != nil {
			c.logger.Warn("skipping malformed resource", "error", err)
			continue
		}
		if f.Disposable != nil && res.Disposable != *f.Disposable {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(res.Name), name) {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// ItemStock returns the available quantity of a disposable item type.
func (c *Client) ItemStock(ctx context.Context, itemTypeID int64) (int, error) {
	endpoint := fmt.Sprintf("%s/api/estoque/itens/%d/disponivel", c.schedulerBase, itemTypeID)
	var resp stockV1
	if err := c.call(ctx, "item_stock", http.MethodGet, endpoint, nil, &resp, nil); err != nil {
		return 0, err
	}
	if resp.Disponivel == nil {
		return 0, fmt.Errorf("item_stock: %w: disponivel", errMissingField)
	}
	if *resp.Disponivel < 0 {
		return 0, nil
	}
	return *resp.Disponivel, nil
}

// Validate runs the remote conflict check.
func (c *Client) Validate(ctx context.Context, payload scheduling.Payload) (scheduling.ValidationResult, error) {
	var resp validarResponseV1
	if err := c.call(ctx, "validate", http.MethodPost, c.schedulerBase+"/api/procedimentos/validar", payloadToV1(payload), &resp, nil); err != nil {
		return scheduling.ValidationResult{}, err
	}
	result, err := mapValidationV1(resp, c.loc)
	if err != nil {
		return scheduling.ValidationResult{}, fmt.Errorf("validate: %w", err)
	}
	return result, nil
}

// CreateBooking persists the draft. The idempotency key travels as the
// Idempotency-Key header, but the backend is not trusted to honor it, so
// the request is never replayed once it may have been sent.
func (c *Client) CreateBooking(ctx context.Context, payload scheduling.Payload, idempotencyKey string) (scheduling.SubmitResult, error) {
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	var resp agendarResponseV1
	if err := c.callOnce(ctx, "submit", http.MethodPost, c.schedulerBase+"/api/procedimentos/agendar", payloadToV1(payload), &resp, headers); err != nil {
		return scheduling.SubmitResult{}, err
	}
	if resp.ProcedimentoID == nil {
		return scheduling.SubmitResult{}, fmt.Errorf("submit: %w: %w", booking.ErrOutcomeUnknown, ErrNoBookingID)
	}
	return scheduling.SubmitResult{BookingID: *resp.ProcedimentoID}, nil
}

func windowValues(w scheduling.Window, startKey, endKey string) url.Values {
	q := url.Values{}
	if !w.Start.IsZero() {
		q.Set(startKey, w.Start.Format(time.RFC3339))
	}
	if !w.End.IsZero() {
		q.Set(endKey, w.End.Format(time.RFC3339))
	}
	return q
}
