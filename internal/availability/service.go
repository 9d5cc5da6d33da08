// Package availability answers open-slot queries for the booking wizard.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/observability/metrics"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

var tracer = otel.Tracer("or-scheduler.internal.availability")

// Query is the availability request of step one.
type Query = scheduling.SlotQuery

// FetchError means the backend could not be asked, as opposed to an empty
// answer.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("availability: %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err is a backend failure.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// Service narrows and orders backend slots.
type Service struct {
	source  booking.AvailabilitySource
	loc     *time.Location
	now     func() time.Time
	metrics *metrics.SchedulerMetrics
	logger  *logging.Logger
}

var _ scheduling.SlotSearcher = (*Service)(nil)

func NewService(source booking.AvailabilitySource, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		source: source,
		loc:    time.UTC,
		now:    time.Now,
		logger: logger,
	}
}

func (s *Service) WithMetrics(m *metrics.SchedulerMetrics) *Service {
	s.metrics = m
	return s
}

// WithLocation sets the zone of the default 07:00-19:00 window.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Search returns slots for q, latest start first. A center is required.
// An empty result is not an error; backend failures are *FetchError.
func (s *Service) Search(ctx context.Context, q Query) ([]scheduling.Slot, error) {
	if q.CenterID == 0 {
		return nil, scheduling.ErrCenterRequired
	}
	q = q.Normalize(s.now(), s.loc)

	ctx, span := tracer.Start(ctx, "availability.search")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("scheduler.center_id", q.CenterID),
		attribute.Int64("scheduler.room_id", q.RoomID),
		attribute.Int64("scheduler.professional_id", q.ProfessionalID),
		attribute.Int("scheduler.duration_minutes", q.DurationMinutes),
	)

	candidates, err := s.source.Slots(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch slots")
		s.metrics.ObserveSlotSearch("error")
		return nil, &FetchError{Op: "slots", Err: err}
	}

	slots := Narrow(candidates, q)
	span.SetAttributes(attribute.Int("scheduler.slots", len(slots)))
	if len(slots) == 0 {
		s.metrics.ObserveSlotSearch("empty")
	} else {
		s.metrics.ObserveSlotSearch("ok")
	}
	return slots, nil
}

// SearchOrEmpty folds backend failures into an empty list, logging them.
func (s *Service) SearchOrEmpty(ctx context.Context, q Query) []scheduling.Slot {
	slots, err := s.Search(ctx, q)
	if err != nil {
		s.logger.Warn("availability search failed", "error", err, "center_id", q.CenterID)
		return []scheduling.Slot{}
	}
	return slots
}

// Narrow drops slots bound to a different room or professional than the
// query asks for, then sorts by start, latest first. Slots that do not name
// a room or professional are kept.
func Narrow(slots []scheduling.Slot, q Query) []scheduling.Slot {
	out := make([]scheduling.Slot, 0, len(slots))
	for _, slot := range slots {
		if q.RoomID != 0 && slot.RoomID != q.RoomID {
			continue
		}
		if q.ProfessionalID != 0 && slot.ProfessionalID != q.ProfessionalID {
			continue
		}
		out = append(out, slot)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.After(out[j].Start)
	})
	return out
}
