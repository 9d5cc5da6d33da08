// Package mockbackend is an in-process hospital backend seeded with sample
// centers, rooms, bookings, staff and stock. It serves local development
// and tests with the same contract as the remote API.
package mockbackend

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

var (
	ErrUnknownItem    = fmt.Errorf("mockbackend: unknown item type: %w", booking.ErrNotFound)
	ErrUnknownBooking = fmt.Errorf("mockbackend: unknown booking: %w", booking.ErrNotFound)
	ErrUnknownRoom    = fmt.Errorf("mockbackend: unknown room: %w", booking.ErrNotFound)
)

var _ booking.Backend = (*Backend)(nil)

// Backend implements booking.Backend over seeded in-memory data.
type Backend struct {
	registry *booking.IDRegistry
	logger   *logging.Logger
	loc      *time.Location
	now      func() time.Time

	mu        sync.Mutex
	bookings  []scheduling.Booking
	overrides map[string]scheduling.BookingStatus
	stock     map[int64]int
	byKey     map[string]int64
	nextID    int64
}

// New builds a mock backend and seeds every center and room into registry.
func New(registry *booking.IDRegistry, logger *logging.Logger) *Backend {
	if registry == nil {
		registry = booking.NewIDRegistry()
	}
	if logger == nil {
		logger = logging.Default()
	}
	b := &Backend{
		registry:  registry,
		logger:    logger.Component("mockbackend"),
		loc:       time.UTC,
		now:       time.Now,
		overrides: make(map[string]scheduling.BookingStatus),
		stock:     make(map[int64]int),
		byKey:     make(map[string]int64),
		nextID:    firstBookingID,
	}
	for _, c := range seedCenters {
		registry.SeedCenters(c.id)
	}
	for _, r := range seedRooms {
		registry.SeedRoom(r.id, r.centerID)
	}
	for _, res := range seedResources {
		if res.Disposable {
			b.stock[res.ID] = res.Stock
		}
	}
	b.bookings = b.seedBookings()
	return b
}

// WithLocation sets the zone the seeded wall-clock times are read in.
func (b *Backend) WithLocation(loc *time.Location) *Backend {
	if loc == nil {
		return b
	}
	b.mu.Lock()
	b.loc = loc
	b.bookings = b.seedBookings()
	b.mu.Unlock()
	return b
}

func (b *Backend) WithClock(now func() time.Time) *Backend {
	if now != nil {
		b.now = now
	}
	return b
}

// Registry returns the id registry the backend numbers centers and rooms with.
func (b *Backend) Registry() *booking.IDRegistry {
	return b.registry
}

func (b *Backend) Name() string { return "mock" }

func (b *Backend) seedBookings() []scheduling.Booking {
	out := make([]scheduling.Booking, 0, len(seedBookings))
	for _, s := range seedBookings {
		start, err := wallClock(s.date, s.start, b.loc)
		if err != nil {
			b.logger.Warn("skipping seed booking", "id", s.id, "error", err)
			continue
		}
		end, err := wallClock(s.date, s.end, b.loc)
		if err != nil {
			b.logger.Warn("skipping seed booking", "id", s.id, "error", err)
			continue
		}
		out = append(out, scheduling.Booking{
			ID:          s.id,
			RoomID:      s.roomID,
			Title:       s.title,
			DoctorName:  s.doctor,
			PatientName: s.patient,
			SurgeryType: s.surgeryType,
			Start:       start,
			End:         end,
			Urgency:     s.urgency,
			Team: []scheduling.TeamMember{
				{Name: s.doctor, Roles: []string{"SURGEON"}, Type: "OWNED"},
			},
		})
	}
	return out
}

func wallClock(date, hhmm string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04", date+" "+hhmm, loc)
}

func (b *Backend) Centers(ctx context.Context) ([]scheduling.Center, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]scheduling.Center, 0, len(seedCenters))
	for _, c := range seedCenters {
		num, _ := b.registry.CenterNum(c.id)
		out = append(out, scheduling.Center{ID: num, ExternalID: c.id, Name: c.name})
	}
	return out, nil
}

// Rooms returns the rooms of centerID, or all rooms when centerID is zero.
func (b *Backend) Rooms(ctx context.Context, centerID int64) ([]scheduling.Room, error) {
	all, err := b.CalendarRooms(ctx)
	if err != nil {
		return nil, err
	}
	if centerID == 0 {
		return all, nil
	}
	out := make([]scheduling.Room, 0, len(all))
	for _, r := range all {
		if r.CenterID == centerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (b *Backend) CalendarRooms(ctx context.Context) ([]scheduling.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]scheduling.Room, 0, len(seedRooms))
	for _, r := range seedRooms {
		num, _ := b.registry.RoomNum(r.id)
		centerNum, _ := b.registry.CenterNum(r.centerID)
		out = append(out, scheduling.Room{
			ID:               num,
			ExternalID:       r.id,
			Name:             r.name,
			CenterID:         centerNum,
			CenterExternalID: r.centerID,
		})
	}
	return out, nil
}

func (b *Backend) centerRooms(centerExt string) map[string]struct{} {
	if centerExt == "" {
		return nil
	}
	set := make(map[string]struct{})
	for _, r := range seedRooms {
		if r.centerID == centerExt {
			set[r.id] = struct{}{}
		}
	}
	return set
}

func (b *Backend) Bookings(ctx context.Context, f booking.BookingFilter) ([]scheduling.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	centerRooms := b.centerRooms(f.CenterID)
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]scheduling.Booking, 0, len(b.bookings))
	for _, bk := range b.bookings {
		if !f.Matches(bk, centerRooms, b.loc) {
			continue
		}
		if status, ok := b.overrides[bk.ID]; ok {
			bk.Status = status
		} else {
			bk.Status = scheduling.StatusAt(bk.Start, bk.End, now)
		}
		bk.Team = append([]scheduling.TeamMember(nil), bk.Team...)
		out = append(out, bk)
	}
	return out, nil
}

func (b *Backend) UpdateStatus(ctx context.Context, bookingID string, status scheduling.BookingStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Valid() {
		return scheduling.ErrInvalidStatus
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bk := range b.bookings {
		if bk.ID == bookingID {
			b.overrides[bookingID] = status
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownBooking, bookingID)
}

// Slots offers one slot per booking of the query day in the center (or
// room), attributed to the surgeon bound to that room.
func (b *Backend) Slots(ctx context.Context, q scheduling.SlotQuery) ([]scheduling.Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := booking.BookingFilter{Date: q.Window.Start.In(b.loc).Format("2006-01-02")}
	if q.CenterID != 0 {
		ext, ok := b.registry.CenterExt(q.CenterID)
		if !ok {
			return []scheduling.Slot{}, nil
		}
		f.CenterID = ext
	}
	if q.RoomID != 0 {
		ext, ok := b.registry.RoomExt(q.RoomID)
		if !ok {
			return []scheduling.Slot{}, nil
		}
		f.RoomIDs = []string{ext}
	}
	bookings, err := b.Bookings(ctx, f)
	if err != nil {
		return nil, err
	}

	roomNames := make(map[string]string, len(seedRooms))
	for _, r := range seedRooms {
		roomNames[r.id] = r.name
	}

	out := make([]scheduling.Slot, 0, len(bookings))
	for _, bk := range bookings {
		surgeonID, ok := roomSurgeon[bk.RoomID]
		if !ok {
			surgeonID = 1
		}
		if q.ProfessionalID != 0 && q.ProfessionalID != surgeonID {
			continue
		}
		roomNum, _ := b.registry.RoomNum(bk.RoomID)
		out = append(out, scheduling.Slot{
			Start:            bk.Start,
			End:              bk.End,
			Score:            1,
			RoomID:           roomNum,
			RoomName:         roomNames[bk.RoomID],
			ProfessionalID:   surgeonID,
			ProfessionalName: professionalName(surgeonID),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	return out, nil
}

func professionalName(id int64) string {
	for _, p := range seedProfessionals {
		if p.ID == id {
			return p.Name
		}
	}
	return ""
}

func (b *Backend) Professionals(ctx context.Context, f booking.ProfessionalFilter) ([]scheduling.Professional, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(f.Name))
	out := make([]scheduling.Professional, 0, len(seedProfessionals))
	for _, p := range seedProfessionals {
		if f.Internal != nil && p.Internal != *f.Internal {
			continue
		}
		if f.SpecialtyID != 0 && !p.HasSpecialty(f.SpecialtyID) {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(p.Name), name) {
			continue
		}
		p.Specialties = append([]scheduling.Specialty(nil), p.Specialties...)
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) Resources(ctx context.Context, f booking.ResourceFilter) ([]scheduling.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(f.Name))

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]scheduling.Resource, 0, len(seedResources))
	for _, r := range seedResources {
		if f.GroupID != 0 && r.GroupID != f.GroupID {
			continue
		}
		if f.External != nil && r.External != *f.External {
			continue
		}
		if f.Disposable != nil && r.Disposable != *f.Disposable {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(r.Name), name) {
			continue
		}
		if r.Disposable {
			r.Stock = b.stock[r.ID]
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *Backend) ItemStock(ctx context.Context, itemTypeID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	qty, ok := b.stock[itemTypeID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownItem, itemTypeID)
	}
	return qty, nil
}

// Validate accepts every draft.
func (b *Backend) Validate(ctx context.Context, _ scheduling.Payload) (scheduling.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return scheduling.ValidationResult{}, err
	}
	return scheduling.ValidationResult{OK: true}, nil
}

// CreateBooking stores the draft as a calendar booking and draws its items
// from stock. Repeating an idempotency key returns the first booking id.
func (b *Backend) CreateBooking(ctx context.Context, payload scheduling.Payload, idempotencyKey string) (scheduling.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return scheduling.SubmitResult{}, err
	}
	if payload.RoomID == nil || payload.Start == nil || payload.End == nil {
		return scheduling.SubmitResult{}, &scheduling.IncompleteDraftError{Missing: missingPayloadFields(payload)}
	}
	roomExt, ok := b.registry.RoomExt(*payload.RoomID)
	if !ok {
		return scheduling.SubmitResult{}, fmt.Errorf("%w: %d", ErrUnknownRoom, *payload.RoomID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if idempotencyKey != "" {
		if id, ok := b.byKey[idempotencyKey]; ok {
			return scheduling.SubmitResult{BookingID: id, Duplicate: true}, nil
		}
	}
	for _, it := range payload.Items {
		if _, ok := b.stock[it.ItemTypeID]; !ok {
			return scheduling.SubmitResult{}, fmt.Errorf("%w: %d", ErrUnknownItem, it.ItemTypeID)
		}
		if it.Quantity > b.stock[it.ItemTypeID] {
			return scheduling.SubmitResult{}, fmt.Errorf("%w: item %d", scheduling.ErrOutOfStock, it.ItemTypeID)
		}
	}
	for _, it := range payload.Items {
		b.stock[it.ItemTypeID] -= it.Quantity
	}

	id := b.nextID
	b.nextID++
	if idempotencyKey != "" {
		b.byKey[idempotencyKey] = id
	}

	doctor := ""
	if payload.ResponsibleID != nil {
		doctor = professionalName(*payload.ResponsibleID)
	}
	patient := "Paciente"
	if payload.PatientID != nil {
		patient = "Paciente " + strconv.FormatInt(*payload.PatientID, 10)
	}
	team := make([]scheduling.TeamMember, 0, len(payload.ProfessionalIDs))
	for i, pid := range payload.ProfessionalIDs {
		role := "ASSISTANT"
		if i == 0 {
			role = "SURGEON"
		}
		team = append(team, scheduling.TeamMember{
			ID:    strconv.FormatInt(pid, 10),
			Name:  professionalName(pid),
			Roles: []string{role},
			Type:  "OWNED",
		})
	}
	b.bookings = append(b.bookings, scheduling.Booking{
		ID:          strconv.FormatInt(id, 10),
		RoomID:      roomExt,
		Title:       payload.ProcedureName,
		DoctorName:  doctor,
		PatientName: patient,
		SurgeryType: payload.ProcedureName,
		Start:       payload.Start.In(b.loc),
		End:         payload.End.In(b.loc),
		Urgency:     scheduling.UrgencyMedium,
		Team:        team,
	})
	b.logger.Info("booking created", "booking_id", id, "room", roomExt)
	return scheduling.SubmitResult{BookingID: id}, nil
}

func missingPayloadFields(p scheduling.Payload) []string {
	var missing []string
	if p.RoomID == nil {
		missing = append(missing, "room")
	}
	if p.Start == nil {
		missing = append(missing, "start")
	}
	if p.End == nil {
		missing = append(missing, "end")
	}
	return missing
}
