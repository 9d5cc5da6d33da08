package bookings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/or-scheduler/internal/audit"
	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/events"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

type stubSubmitter struct {
	calls atomic.Int32
	id    int64
	err   error
	gate  chan struct{}
	keys  []string
	mu    sync.Mutex
}

func (s *stubSubmitter) CreateBooking(_ context.Context, _ scheduling.Payload, key string) (scheduling.SubmitResult, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return scheduling.SubmitResult{}, s.err
	}
	return scheduling.SubmitResult{BookingID: s.id}, nil
}

func payload() scheduling.Payload {
	patient, room := int64(123), int64(1000)
	start := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	return scheduling.Payload{
		PatientID:       &patient,
		ProcedureName:   "Appendectomy",
		RoomID:          &room,
		Start:           &start,
		End:             &end,
		ProfessionalIDs: []int64{7},
	}
}

func TestSubmitPersistsPublishesAndAudits(t *testing.T) {
	sub := &stubSubmitter{id: 98765}
	pub := events.NewMemoryPublisher()
	rec := audit.NewMemoryRecorder()
	svc := NewService(sub, NewMemoryLedger(), logging.Discard()).WithPublisher(pub).WithAudit(rec)

	res, err := svc.Submit(context.Background(), "wiz-1", payload(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(98765), res.BookingID)
	assert.False(t, res.Duplicate)
	assert.Equal(t, []string{"key-1"}, sub.keys)

	envs := pub.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, events.TypeBookingCreated, envs[0].EventType)
	assert.Equal(t, "booking:98765", envs[0].Aggregate)
	assert.Equal(t, "wiz-1", envs[0].CorrelationID)

	logged := rec.Events()
	require.Len(t, logged, 1)
	assert.Equal(t, audit.EventBookingSubmitted, logged[0].EventType)
	assert.Equal(t, "98765", logged[0].BookingID)

	claim, err := svc.Lookup(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, ClaimCompleted, claim.State)
}

func TestSubmitDuplicateKeyReturnsStoredBooking(t *testing.T) {
	sub := &stubSubmitter{id: 98765}
	svc := NewService(sub, NewMemoryLedger(), logging.Discard())

	_, err := svc.Submit(context.Background(), "wiz-1", payload(), "key-1")
	require.NoError(t, err)
	res, err := svc.Submit(context.Background(), "wiz-1", payload(), "key-1")
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(98765), res.BookingID)
	assert.Equal(t, int32(1), sub.calls.Load())
}

func TestSubmitConcurrentDoubleClick(t *testing.T) {
	sub := &stubSubmitter{id: 1, gate: make(chan struct{})}
	svc := NewService(sub, NewMemoryLedger(), logging.Discard())

	first := make(chan error, 1)
	go func() {
		_, err := svc.Submit(context.Background(), "wiz-1", payload(), "key-1")
		first <- err
	}()
	require.Eventually(t, func() bool { return sub.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := svc.Submit(context.Background(), "wiz-1", payload(), "key-1")
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(sub.gate)
	require.NoError(t, <-first)
	assert.Equal(t, int32(1), sub.calls.Load())
}

func TestSubmitFailureAllowsRetry(t *testing.T) {
	sub := &stubSubmitter{id: 5, err: errors.New("backend unavailable")}
	rec := audit.NewMemoryRecorder()
	svc := NewService(sub, NewMemoryLedger(), logging.Discard()).WithAudit(rec)

	_, err := svc.Submit(context.Background(), "wiz-1", payload(), "key-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")

	claim, err := svc.Lookup(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, ClaimFailed, claim.State)

	sub.err = nil
	res, err := svc.Submit(context.Background(), "wiz-1", payload(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.BookingID)

	logged := rec.Events()
	require.Len(t, logged, 2)
	assert.Equal(t, audit.EventSubmissionFailed, logged[0].EventType)
	assert.Equal(t, audit.EventBookingSubmitted, logged[1].EventType)
}

func TestSubmitRequiresKey(t *testing.T) {
	svc := NewService(&stubSubmitter{}, nil, logging.Discard())
	_, err := svc.Submit(context.Background(), "wiz-1", payload(), "")
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestSubmitUnansweredCreateHoldsKey(t *testing.T) {
	sub := &stubSubmitter{id: 5, err: fmt.Errorf("submit: %w: connection reset", booking.ErrOutcomeUnknown)}
	rec := audit.NewMemoryRecorder()
	svc := NewService(sub, NewMemoryLedger(), logging.Discard()).WithAudit(rec)

	_, err := svc.Submit(context.Background(), "wiz-1", payload(), "key-1")
	require.ErrorIs(t, err, booking.ErrOutcomeUnknown)

	claim, err := svc.Lookup(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, ClaimUnknown, claim.State)
	assert.Contains(t, claim.Error, "connection reset")

	sub.err = nil
	_, err = svc.Submit(context.Background(), "wiz-1", payload(), "key-1")
	assert.ErrorIs(t, err, ErrOutcomeUnresolved)
	assert.Equal(t, int32(1), sub.calls.Load())

	logged := rec.Events()
	require.Len(t, logged, 1)
	assert.Equal(t, audit.EventSubmissionFailed, logged[0].EventType)
}
