// Package bookings persists validated drafts through the hospital backend
// at most once per idempotency key.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
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

var bookingsTracer = otel.Tracer("or-scheduler.internal.bookings")

var (
	// ErrSubmissionInFlight is returned when another request holds the
	// claim for the same idempotency key.
	ErrSubmissionInFlight = errors.New("bookings: submission already in flight")
	ErrMissingKey         = errors.New("bookings: idempotency key required")
	// ErrOutcomeUnresolved is returned for a key whose earlier create may
	// have reached the backend unanswered; it is not sent again.
	ErrOutcomeUnresolved = errors.New("bookings: earlier submission outcome unknown")
)

// Service submits drafts, recording each attempt in the ledger.
type Service struct {
	submitter booking.Submitter
	ledger    Ledger
	publisher events.Publisher
	audit     audit.Recorder
	metrics   *metrics.SchedulerMetrics
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(submitter booking.Submitter, ledger Ledger, logger *logging.Logger) *Service {
	if submitter == nil {
		panic("bookings: submitter required")
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		submitter: submitter,
		ledger:    ledger,
		logger:    logger.Component("bookings"),
		now:       time.Now,
	}
}

func (s *Service) WithPublisher(p events.Publisher) *Service {
	s.publisher = p
	return s
}

func (s *Service) WithAudit(r audit.Recorder) *Service {
	s.audit = r
	return s
}

func (s *Service) WithMetrics(m *metrics.SchedulerMetrics) *Service {
	s.metrics = m
	return s
}

// Submit creates the booking. A key that already produced a booking
// returns that booking with Duplicate set; a key still being submitted
// returns ErrSubmissionInFlight and one whose create went unanswered
// returns ErrOutcomeUnresolved.
func (s *Service) Submit(ctx context.Context, wizardID string, payload scheduling.Payload, key string) (scheduling.SubmitResult, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("scheduler.wizard_id", wizardID),
		attribute.String("scheduler.idempotency_key", key),
	)

	if key == "" {
		return scheduling.SubmitResult{}, ErrMissingKey
	}

	claimed, existing, err := s.ledger.Claim(ctx, key, wizardID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		s.metrics.ObserveSubmission("error")
		return scheduling.SubmitResult{}, err
	}
	if !claimed {
		if existing.State == ClaimCompleted {
			s.metrics.ObserveSubmission("duplicate")
			s.logger.Info("duplicate submission", "wizard_id", wizardID, "booking_id", existing.BookingID)
			return scheduling.SubmitResult{BookingID: existing.BookingID, Duplicate: true}, nil
		}
		if existing.State == ClaimUnknown {
			s.metrics.ObserveSubmission("unresolved")
			return scheduling.SubmitResult{}, ErrOutcomeUnresolved
		}
		s.metrics.ObserveSubmission("in_flight")
		return scheduling.SubmitResult{}, ErrSubmissionInFlight
	}

	result, err := s.submitter.CreateBooking(ctx, payload, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create booking failed")
		settle, outcome := s.ledger.Fail, "error"
		if errors.Is(err, booking.ErrOutcomeUnknown) {
			settle, outcome = s.ledger.MarkUnknown, "unknown"
			s.logger.Error("booking create went unanswered, key held", "wizard_id", wizardID, "idempotency_key", key, "error", err)
		}
		if ferr := settle(ctx, key, err); ferr != nil {
			s.logger.Error("failed to record submission failure", "error", ferr, "wizard_id", wizardID)
		}
		s.record(ctx, audit.SubmissionFailed(wizardID, key, err))
		s.metrics.ObserveSubmission(outcome)
		return scheduling.SubmitResult{}, fmt.Errorf("bookings: submit: %w", err)
	}

	if err := s.ledger.Complete(ctx, key, result.BookingID); err != nil {
		s.logger.Error("failed to record submission", "error", err, "wizard_id", wizardID, "booking_id", result.BookingID)
	}
	span.SetAttributes(attribute.Int64("scheduler.booking_id", result.BookingID))

	s.record(ctx, audit.Submitted(wizardID, key, result.BookingID, payload))
	s.publish(ctx, wizardID, key, result.BookingID, payload)

	outcome := "ok"
	if result.Duplicate {
		outcome = "duplicate"
	}
	s.metrics.ObserveSubmission(outcome)
	s.logger.Info("booking submitted", "wizard_id", wizardID, "booking_id", result.BookingID, "duplicate", result.Duplicate)
	return result, nil
}

// Lookup returns the ledger entry for an idempotency key.
func (s *Service) Lookup(ctx context.Context, key string) (Claim, error) {
	return s.ledger.Lookup(ctx, key)
}

func (s *Service) record(ctx context.Context, evt audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogEvent(ctx, evt); err != nil {
		s.logger.Error("failed to write audit event", "error", err, "event_type", evt.EventType)
	}
}

func (s *Service) publish(ctx context.Context, wizardID, key string, bookingID int64, payload scheduling.Payload) {
	if s.publisher == nil {
		return
	}
	evt := events.BookingCreatedV1{
		BookingID:       bookingID,
		WizardID:        wizardID,
		IdempotencyKey:  key,
		PatientID:       payload.PatientID,
		ResponsibleID:   payload.ResponsibleID,
		ProcedureName:   payload.ProcedureName,
		RoomID:          payload.RoomID,
		ProfessionalIDs: payload.ProfessionalIDs,
		ResourceIDs:     payload.ResourceIDs,
		ItemCount:       len(payload.Items),
		CreatedAt:       s.now().UTC(),
	}
	if payload.Start != nil {
		evt.Start = *payload.Start
	}
	if payload.End != nil {
		evt.End = *payload.End
	}
	aggregate := "booking:" + strconv.FormatInt(bookingID, 10)
	if _, err := s.publisher.Publish(ctx, aggregate, wizardID, evt); err != nil {
		s.logger.Error("failed to publish booking event", "error", err, "booking_id", bookingID)
	}
}
