package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/or-scheduler/internal/scheduling"
)

func samplePayload() scheduling.Payload {
	patient, responsible, room := int64(123), int64(1), int64(1000)
	start := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	return scheduling.Payload{
		PatientID:       &patient,
		ResponsibleID:   &responsible,
		ProcedureName:   "Appendectomy",
		RoomID:          &room,
		Start:           &start,
		End:             &end,
		ProfessionalIDs: []int64{1, 4},
		ResourceIDs:     []int64{3},
	}
}

func TestService_LogEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db)

	tests := []struct {
		name  string
		event Event
	}{
		{
			name: "validation rejected",
			event: ValidationRejected("wiz-1", samplePayload(), scheduling.ValidationResult{
				Conflicts: json.RawMessage(`[{"room":"busy"}]`),
			}),
		},
		{
			name:  "booking submitted",
			event: Submitted("wiz-1", "key-1", 98765, samplePayload()),
		},
		{
			name:  "status changed",
			event: StatusChanged("b1", scheduling.StatusCanceled, "nurse@example.com"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec("INSERT INTO booking_audit_events").
				WithArgs(sqlmock.AnyArg(), tt.event.EventType, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
					sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			assert.NoError(t, service.LogEvent(context.Background(), tt.event))
		})
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_LogEventWrapsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO booking_audit_events").WillReturnError(errors.New("connection reset"))
	err = NewService(db).LogEvent(context.Background(), SubmissionFailed("wiz-1", "key-1", errors.New("503")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit: failed to log event")
}

func TestService_QueryEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "event_type", "wizard_id", "booking_id", "actor",
		"professional_ids", "resource_ids", "details", "created_at",
	}).AddRow("evt-1", string(EventBookingSubmitted), "wiz-1", "98765", nil, "{1,4}", "{3}", []byte(`{"idempotency_key":"key-1"}`), now)

	mock.ExpectQuery("SELECT (.+) FROM booking_audit_events").
		WithArgs("wiz-1", EventBookingSubmitted).
		WillReturnRows(rows)

	events, err := NewService(db).QueryEvents(context.Background(), Filter{
		WizardID:  "wiz-1",
		EventType: EventBookingSubmitted,
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "98765", events[0].BookingID)
	assert.Empty(t, events[0].Actor)
	assert.Equal(t, []int64{1, 4}, events[0].ProfessionalIDs)
	assert.Equal(t, []int64{3}, events[0].ResourceIDs)

	var d Details
	require.NoError(t, json.Unmarshal(events[0].Details, &d))
	assert.Equal(t, "key-1", d.IdempotencyKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryRecorderAssignsIDs(t *testing.T) {
	rec := NewMemoryRecorder()
	require.NoError(t, rec.LogEvent(context.Background(), StatusChanged("b2", scheduling.StatusCompleted, "")))

	events := rec.Events()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())
}

func TestValidationRejectedCarriesConflicts(t *testing.T) {
	suggestion := scheduling.Suggestion{
		Start: time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 10, 11, 0, 0, 0, time.UTC),
	}
	evt := ValidationRejected("wiz-9", samplePayload(), scheduling.ValidationResult{
		Conflicts:   json.RawMessage(`["room"]`),
		Suggestions: []scheduling.Suggestion{suggestion},
	})

	var d Details
	require.NoError(t, json.Unmarshal(evt.Details, &d))
	assert.JSONEq(t, `["room"]`, string(d.Conflicts))
	require.Len(t, d.Suggestions, 1)
	assert.True(t, suggestion.Start.Equal(d.Suggestions[0].Start))
	assert.Equal(t, []int64{1, 4}, evt.ProfessionalIDs)
}
