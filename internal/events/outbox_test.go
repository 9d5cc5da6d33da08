package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"

	"github.com/wolfman30/or-scheduler/pkg/logging"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewOutboxStore(mock)

	mock.ExpectExec("INSERT INTO event_outbox").
		WithArgs(pgxmock.AnyArg(), "booking:98765", TypeBookingCreated, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if _, err := store.Publish(context.Background(), "booking:98765", "wizard-1", BookingCreatedV1{BookingID: 98765}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "aggregate", "event_type", "payload", "created_at"}).
		AddRow(id, "booking:98765", TypeBookingCreated, []byte(`{"event_type":"booking.created.v1"}`), now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(10)).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch pending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id || entries[0].Aggregate != "booking:98765" {
		t.Fatalf("unexpected entries: %#v", entries)
	}

	mock.ExpectExec("UPDATE event_outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mark delivered to report success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type recordingHandler struct {
	handled []uuid.UUID
	failOn  uuid.UUID
}

func (h *recordingHandler) Handle(_ context.Context, entry OutboxEntry) error {
	if entry.ID == h.failOn {
		return errors.New("broker down")
	}
	h.handled = append(h.handled, entry.ID)
	return nil
}

func TestDelivererDrainSkipsFailedEntries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	okID, badID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "aggregate", "event_type", "payload", "created_at"}).
		AddRow(badID, "booking:1", TypeBookingCreated, []byte(`{}`), now).
		AddRow(okID, "booking:2", TypeBookingCreated, []byte(`{}`), now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(25)).WillReturnRows(rows)
	mock.ExpectExec("UPDATE event_outbox").WithArgs(okID).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	handler := &recordingHandler{failOn: badID}
	d := NewDeliverer(NewOutboxStore(mock), handler, logging.Discard())
	if got := d.Drain(context.Background()); got != 1 {
		t.Fatalf("expected one delivery, got %d", got)
	}
	if len(handler.handled) != 1 || handler.handled[0] != okID {
		t.Fatalf("unexpected handled ids: %v", handler.handled)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
