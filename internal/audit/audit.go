// Package audit keeps an append-only record of booking decisions:
// validation rejections, submissions and calendar status changes.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wolfman30/or-scheduler/internal/scheduling"
)

// EventType names an audit record kind.
type EventType string

const (
	EventValidationRejected EventType = "wizard.validation_rejected"
	EventBookingSubmitted   EventType = "booking.submitted"
	EventSubmissionFailed   EventType = "booking.submission_failed"
	EventStatusChanged      EventType = "booking.status_changed"
)

// Event is an immutable audit record.
type Event struct {
	ID              string          `json:"id"`
	EventType       EventType       `json:"event_type"`
	WizardID        string          `json:"wizard_id,omitempty"`
	BookingID       string          `json:"booking_id,omitempty"`
	Actor           string          `json:"actor,omitempty"`
	ProfessionalIDs []int64         `json:"professional_ids,omitempty"`
	ResourceIDs     []int64         `json:"resource_ids,omitempty"`
	Details         json.RawMessage `json:"details,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Details carries event-specific fields.
type Details struct {
	IdempotencyKey string                  `json:"idempotency_key,omitempty"`
	ProcedureName  string                  `json:"procedure_name,omitempty"`
	RoomID         *int64                  `json:"room_id,omitempty"`
	Start          *time.Time              `json:"start,omitempty"`
	End            *time.Time              `json:"end,omitempty"`
	Conflicts      json.RawMessage         `json:"conflicts,omitempty"`
	Suggestions    []scheduling.Suggestion `json:"suggestions,omitempty"`
	Status         string                  `json:"status,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

// Recorder is what the workflow writes audit events through.
type Recorder interface {
	LogEvent(ctx context.Context, event Event) error
}

// Service writes audit events to Postgres.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func prepare(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return event
}

// LogEvent records one audit event.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	event = prepare(event)

	query := `
		INSERT INTO booking_audit_events (
			id, event_type, wizard_id, booking_id, actor,
			professional_ids, resource_ids, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		nullString(event.WizardID),
		nullString(event.BookingID),
		nullString(event.Actor),
		pq.Array(event.ProfessionalIDs),
		pq.Array(event.ResourceIDs),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}
	return nil
}

// Filter selects audit events.
type Filter struct {
	WizardID  string
	BookingID string
	EventType EventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// QueryEvents returns matching events, newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, event_type, wizard_id, booking_id, actor,
			   professional_ids, resource_ids, details, created_at
		FROM booking_audit_events
		WHERE 1 = 1
	`
	var args []any
	argIdx := 1

	if filter.WizardID != "" {
		query += fmt.Sprintf(" AND wizard_id = $%d", argIdx)
		args = append(args, filter.WizardID)
		argIdx++
	}
	if filter.BookingID != "" {
		query += fmt.Sprintf(" AND booking_id = $%d", argIdx)
		args = append(args, filter.BookingID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var wizardID, bookingID, actor sql.NullString
		var details []byte
		err := rows.Scan(
			&e.ID, &e.EventType, &wizardID, &bookingID, &actor,
			pq.Array(&e.ProfessionalIDs), pq.Array(&e.ResourceIDs), &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.WizardID = wizardID.String
		e.BookingID = bookingID.String
		e.Actor = actor.String
		if len(details) > 0 {
			e.Details = append(json.RawMessage(nil), details...)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MemoryRecorder keeps events in process when no database is configured.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) LogEvent(_ context.Context, event Event) error {
	event = prepare(event)
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events in insertion order.
func (m *MemoryRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// ValidationRejected builds the event for a draft refused by the remote check.
func ValidationRejected(wizardID string, payload scheduling.Payload, result scheduling.ValidationResult) Event {
	return Event{
		EventType:       EventValidationRejected,
		WizardID:        wizardID,
		ProfessionalIDs: payload.ProfessionalIDs,
		ResourceIDs:     payload.ResourceIDs,
		Details: mustDetails(Details{
			ProcedureName: payload.ProcedureName,
			RoomID:        payload.RoomID,
			Start:         payload.Start,
			End:           payload.End,
			Conflicts:     result.Conflicts,
			Suggestions:   result.Suggestions,
		}),
	}
}

// Submitted builds the event for a persisted booking.
func Submitted(wizardID, key string, bookingID int64, payload scheduling.Payload) Event {
	return Event{
		EventType:       EventBookingSubmitted,
		WizardID:        wizardID,
		BookingID:       strconv.FormatInt(bookingID, 10),
		ProfessionalIDs: payload.ProfessionalIDs,
		ResourceIDs:     payload.ResourceIDs,
		Details: mustDetails(Details{
			IdempotencyKey: key,
			ProcedureName:  payload.ProcedureName,
			RoomID:         payload.RoomID,
			Start:          payload.Start,
			End:            payload.End,
		}),
	}
}

// SubmissionFailed builds the event for a create call that failed.
func SubmissionFailed(wizardID, key string, cause error) Event {
	d := Details{IdempotencyKey: key}
	if cause != nil {
		d.Error = cause.Error()
	}
	return Event{
		EventType: EventSubmissionFailed,
		WizardID:  wizardID,
		Details:   mustDetails(d),
	}
}

// StatusChanged builds the event for a calendar status update.
func StatusChanged(bookingID string, status scheduling.BookingStatus, actor string) Event {
	return Event{
		EventType: EventStatusChanged,
		BookingID: bookingID,
		Actor:     actor,
		Details:   mustDetails(Details{Status: string(status)}),
	}
}

func mustDetails(d Details) json.RawMessage {
	data, _ := json.Marshal(d)
	return data
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
