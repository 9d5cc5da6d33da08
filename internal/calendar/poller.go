// Package calendar keeps a periodically refreshed view of the surgical
// bookings for a date and a set of centers or rooms.
package calendar

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/or-scheduler/internal/audit"
	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/events"
	"github.com/wolfman30/or-scheduler/internal/observability/metrics"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

var calendarTracer = otel.Tracer("or-scheduler.internal.calendar")

// DefaultInterval is the polling period when none is configured.
const DefaultInterval = 10 * time.Second

// Filter selects the calendar view. Ids are the booking backend's string ids.
type Filter struct {
	Date      string   `json:"date"`
	CenterIDs []string `json:"center_ids,omitempty"`
	RoomIDs   []string `json:"room_ids,omitempty"`
}

func (f Filter) clone() Filter {
	return Filter{
		Date:      f.Date,
		CenterIDs: append([]string(nil), f.CenterIDs...),
		RoomIDs:   append([]string(nil), f.RoomIDs...),
	}
}

// Snapshot is the latest calendar state. Err is set when the last refresh
// failed; Bookings then hold the previous successful result.
type Snapshot struct {
	Filter    Filter               `json:"filter"`
	Rooms     []scheduling.Room    `json:"rooms"`
	Bookings  []scheduling.Booking `json:"bookings"`
	FetchedAt time.Time            `json:"fetched_at"`
	Err       string               `json:"error,omitempty"`
}

// RoomLister lists every calendar room; refdata.Cache satisfies it.
type RoomLister interface {
	CalendarRooms(ctx context.Context) ([]scheduling.Room, error)
}

// Broadcaster receives every new snapshot.
type Broadcaster interface {
	Broadcast(s Snapshot)
}

// Poller refreshes the calendar on a fixed interval.
type Poller struct {
	src      booking.CalendarSource
	rooms    RoomLister
	interval time.Duration
	loc      *time.Location
	now      func() time.Time

	publisher   events.Publisher
	audit       audit.Recorder
	broadcaster Broadcaster
	metrics     *metrics.SchedulerMetrics
	logger      *logging.Logger

	refreshMu sync.Mutex

	mu       sync.RWMutex
	filter   Filter
	gen      uint64
	snapshot Snapshot
}

// NewPoller builds a poller. rooms may be nil, in which case the source's
// own CalendarRooms is used.
func NewPoller(src booking.CalendarSource, rooms RoomLister, logger *logging.Logger) *Poller {
	if src == nil {
		panic("calendar: source required")
	}
	if rooms == nil {
		rooms = src
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Poller{
		src:      src,
		rooms:    rooms,
		interval: DefaultInterval,
		loc:      time.UTC,
		now:      time.Now,
		logger:   logger.Component("calendar"),
	}
}

func (p *Poller) WithInterval(d time.Duration) *Poller {
	if d > 0 {
		p.interval = d
	}
	return p
}

// WithLocation sets the zone the default date is computed in.
func (p *Poller) WithLocation(loc *time.Location) *Poller {
	if loc != nil {
		p.loc = loc
	}
	return p
}

func (p *Poller) WithClock(now func() time.Time) *Poller {
	if now != nil {
		p.now = now
	}
	return p
}

func (p *Poller) WithPublisher(pub events.Publisher) *Poller {
	p.publisher = pub
	return p
}

func (p *Poller) WithAudit(r audit.Recorder) *Poller {
	p.audit = r
	return p
}

func (p *Poller) WithBroadcaster(b Broadcaster) *Poller {
	p.broadcaster = b
	return p
}

func (p *Poller) WithMetrics(m *metrics.SchedulerMetrics) *Poller {
	p.metrics = m
	return p
}

// Run refreshes immediately and then on every tick until ctx ends.
func (p *Poller) Run(ctx context.Context) {
	p.Refresh(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

// Filter returns the active filter.
func (p *Poller) Filter() Filter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filter.clone()
}

// SetFilter swaps the filter and refreshes. A refresh still running for the
// previous filter is discarded.
func (p *Poller) SetFilter(ctx context.Context, f Filter) Snapshot {
	f = f.clone()
	f.Date = strings.TrimSpace(f.Date)
	p.mu.Lock()
	p.filter = f
	p.gen++
	p.mu.Unlock()
	return p.Refresh(ctx)
}

// Snapshot returns the latest state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneSnapshot(p.snapshot)
}

// Refresh fetches the bookings for the active filter. Failures keep the
// previous bookings and record the error on the snapshot.
func (p *Poller) Refresh(ctx context.Context) Snapshot {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.RLock()
	f := p.filter.clone()
	gen := p.gen
	prev := p.snapshot
	p.mu.RUnlock()

	if f.Date == "" {
		f.Date = p.now().In(p.loc).Format("2006-01-02")
	}

	ctx, span := calendarTracer.Start(ctx, "calendar.refresh")
	defer span.End()
	span.SetAttributes(
		attribute.String("calendar.date", f.Date),
		attribute.Int("calendar.centers", len(f.CenterIDs)),
		attribute.Int("calendar.rooms", len(f.RoomIDs)),
	)

	next := Snapshot{Filter: f, FetchedAt: p.now()}
	bookings, rooms, err := p.fetch(ctx, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		p.metrics.ObserveCalendarRefresh("error")
		p.logger.Warn("calendar refresh failed", "error", err, "date", f.Date)
		next.Err = err.Error()
		if sameFilter(prev.Filter, f) {
			next.Bookings = prev.Bookings
			next.Rooms = prev.Rooms
		}
		if rooms != nil {
			next.Rooms = rooms
		}
	} else {
		p.metrics.ObserveCalendarRefresh("ok")
		next.Bookings = bookings
		next.Rooms = rooms
	}
	if next.Bookings == nil {
		next.Bookings = []scheduling.Booking{}
	}
	if next.Rooms == nil {
		next.Rooms = []scheduling.Room{}
	}

	p.mu.Lock()
	if p.gen != gen {
		current := cloneSnapshot(p.snapshot)
		p.mu.Unlock()
		return current
	}
	p.snapshot = next
	p.mu.Unlock()

	if p.broadcaster != nil {
		p.broadcaster.Broadcast(cloneSnapshot(next))
	}
	return cloneSnapshot(next)
}

func (p *Poller) fetch(ctx context.Context, f Filter) ([]scheduling.Booking, []scheduling.Room, error) {
	all, err := p.rooms.CalendarRooms(ctx)
	if err != nil {
		return nil, nil, err
	}
	visible := VisibleRooms(all, f)

	bf := booking.BookingFilter{Date: f.Date}
	if len(f.CenterIDs) > 0 || len(f.RoomIDs) > 0 {
		if len(visible) == 0 {
			return []scheduling.Booking{}, visible, nil
		}
		bf.RoomIDs = make([]string, 0, len(visible))
		for _, r := range visible {
			bf.RoomIDs = append(bf.RoomIDs, r.ExternalID)
		}
	}
	bookings, err := p.src.Bookings(ctx, bf)
	if err != nil {
		return nil, visible, err
	}
	return bookings, visible, nil
}

// UpdateStatus changes a booking's status, records it, and refreshes.
func (p *Poller) UpdateStatus(ctx context.Context, bookingID string, status scheduling.BookingStatus, actor string) (Snapshot, error) {
	if !status.Valid() {
		return Snapshot{}, scheduling.ErrInvalidStatus
	}
	ctx, span := calendarTracer.Start(ctx, "calendar.update_status")
	span.SetAttributes(
		attribute.String("calendar.booking_id", bookingID),
		attribute.String("calendar.status", string(status)),
	)
	if err := p.src.UpdateStatus(ctx, bookingID, status); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		span.End()
		return Snapshot{}, err
	}
	span.End()

	if p.audit != nil {
		if err := p.audit.LogEvent(ctx, audit.StatusChanged(bookingID, status, actor)); err != nil {
			p.logger.Error("failed to write audit event", "error", err, "booking_id", bookingID)
		}
	}
	if p.publisher != nil {
		evt := events.BookingStatusChangedV1{
			BookingID: bookingID,
			Status:    string(status),
			ChangedBy: actor,
			ChangedAt: p.now().UTC(),
		}
		if _, err := p.publisher.Publish(ctx, "booking:"+bookingID, "", evt); err != nil {
			p.logger.Error("failed to publish status event", "error", err, "booking_id", bookingID)
		}
	}
	p.logger.Info("booking status updated", "booking_id", bookingID, "status", status, "actor", actor)
	return p.Refresh(ctx), nil
}

// VisibleRooms returns the selected rooms, else the rooms of the selected
// centers, else every room.
func VisibleRooms(rooms []scheduling.Room, f Filter) []scheduling.Room {
	if len(f.RoomIDs) > 0 {
		return pick(rooms, f.RoomIDs, func(r scheduling.Room) string { return r.ExternalID })
	}
	if len(f.CenterIDs) > 0 {
		return pick(rooms, f.CenterIDs, func(r scheduling.Room) string { return r.CenterExternalID })
	}
	return append([]scheduling.Room(nil), rooms...)
}

func pick(rooms []scheduling.Room, ids []string, key func(scheduling.Room) string) []scheduling.Room {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	out := make([]scheduling.Room, 0, len(rooms))
	for _, r := range rooms {
		if _, ok := set[key(r)]; ok {
			out = append(out, r)
		}
	}
	return out
}

// RoomName returns the name of the room with the given backend id, or the
// placeholder when it is unknown.
func RoomName(rooms []scheduling.Room, roomID string) string {
	for _, r := range rooms {
		if r.ExternalID == roomID && r.Name != "" {
			return r.Name
		}
	}
	return scheduling.Placeholder
}

func sameFilter(a, b Filter) bool {
	return a.Date == b.Date && equalStrings(a.CenterIDs, b.CenterIDs) && equalStrings(a.RoomIDs, b.RoomIDs)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneSnapshot(s Snapshot) Snapshot {
	s.Filter = s.Filter.clone()
	s.Rooms = append([]scheduling.Room(nil), s.Rooms...)
	bookings := make([]scheduling.Booking, len(s.Bookings))
	for i, b := range s.Bookings {
		b.Team = append([]scheduling.TeamMember(nil), b.Team...)
		bookings[i] = b
	}
	s.Bookings = bookings
	return s
}
