package bookings

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLedger(t *testing.T) (*PgLedger, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgLedger(mock), mock
}

func TestPgLedgerFirstClaimWins(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectExec("INSERT INTO submission_ledger").
		WithArgs("key-1", "wiz-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	claimed, c, err := ledger.Claim(context.Background(), "key-1", "wiz-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, ClaimPending, c.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgLedgerDuplicateReturnsExisting(t *testing.T) {
	ledger, mock := newMockLedger(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO submission_ledger").
		WithArgs("key-1", "wiz-2").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("UPDATE submission_ledger").
		WithArgs("key-1", "wiz-2", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT idempotency_key").
		WithArgs("key-1").
		WillReturnRows(pgxmock.NewRows([]string{"idempotency_key", "wizard_id", "state", "booking_id", "error", "created_at", "updated_at"}).
			AddRow("key-1", "wiz-1", "completed", int64(98765), nil, now, now))

	claimed, c, err := ledger.Claim(context.Background(), "key-1", "wiz-2")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, ClaimCompleted, c.State)
	assert.Equal(t, int64(98765), c.BookingID)
	assert.Equal(t, "wiz-1", c.WizardID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgLedgerReclaimsFailedKey(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectExec("INSERT INTO submission_ledger").
		WithArgs("key-1", "wiz-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("UPDATE submission_ledger").
		WithArgs("key-1", "wiz-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	claimed, _, err := ledger.Claim(context.Background(), "key-1", "wiz-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgLedgerCompleteAndFail(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectExec("UPDATE submission_ledger").
		WithArgs("key-1", int64(98765)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, ledger.Complete(context.Background(), "key-1", 98765))

	mock.ExpectExec("UPDATE submission_ledger").
		WithArgs("key-2", "backend 503").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, ledger.Fail(context.Background(), "key-2", errors.New("backend 503")))

	mock.ExpectExec("SET state = 'unknown'").
		WithArgs("key-3", "connection reset").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, ledger.MarkUnknown(context.Background(), "key-3", errors.New("connection reset")))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgLedgerLookupMissing(t *testing.T) {
	ledger, mock := newMockLedger(t)
	mock.ExpectQuery("SELECT idempotency_key").WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := ledger.Lookup(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrClaimNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryLedgerLifecycle(t *testing.T) {
	ledger := NewMemoryLedger()
	now := time.Date(2025, 10, 25, 9, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }
	ctx := context.Background()

	claimed, _, err := ledger.Claim(ctx, "k", "w1")
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, existing, err := ledger.Claim(ctx, "k", "w2")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, ClaimPending, existing.State)

	require.NoError(t, ledger.Fail(ctx, "k", errors.New("timeout")))
	claimed, _, err = ledger.Claim(ctx, "k", "w1")
	require.NoError(t, err)
	assert.True(t, claimed, "failed keys can be claimed again")

	require.NoError(t, ledger.Complete(ctx, "k", 42))
	claimed, existing, err = ledger.Claim(ctx, "k", "w1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, ClaimCompleted, existing.State)
	assert.Equal(t, int64(42), existing.BookingID)

	// Failing a completed claim is a no-op.
	require.NoError(t, ledger.Fail(ctx, "k", errors.New("late")))
	c, err := ledger.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, ClaimCompleted, c.State)
}

func TestMemoryLedgerReclaimsStalePending(t *testing.T) {
	ledger := NewMemoryLedger()
	now := time.Date(2025, 10, 25, 9, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }
	ctx := context.Background()

	claimed, _, err := ledger.Claim(ctx, "k", "w1")
	require.NoError(t, err)
	require.True(t, claimed)

	now = now.Add(DefaultStaleAfter + time.Second)
	claimed, _, err = ledger.Claim(ctx, "k", "w1")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestMemoryLedgerUnknownIsNeverReclaimed(t *testing.T) {
	ledger := NewMemoryLedger()
	now := time.Date(2025, 10, 25, 9, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }

	claimed, _, err := ledger.Claim(context.Background(), "key-1", "wiz-1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, ledger.MarkUnknown(context.Background(), "key-1", errors.New("connection reset")))

	now = now.Add(time.Hour)
	claimed, existing, err := ledger.Claim(context.Background(), "key-1", "wiz-1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, ClaimUnknown, existing.State)
}
