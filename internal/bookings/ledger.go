package bookings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// ClaimState is the lifecycle of one submission attempt.
type ClaimState string

const (
	ClaimPending   ClaimState = "pending"
	ClaimCompleted ClaimState = "completed"
	ClaimFailed    ClaimState = "failed"
	// ClaimUnknown marks a create that may have reached the backend without
	// an answer. It is never claimed again.
	ClaimUnknown ClaimState = "unknown"
)

// ErrClaimNotFound is returned by Lookup for unknown keys.
var ErrClaimNotFound = errors.New("bookings: submission not found")

// Claim is the ledger row for one idempotency key.
type Claim struct {
	Key       string     `json:"idempotency_key"`
	WizardID  string     `json:"wizard_id"`
	State     ClaimState `json:"state"`
	BookingID int64      `json:"booking_id,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Ledger records submission attempts keyed by idempotency key. The first
// Claim for a key wins; failed claims, and pending claims older than the
// ledger's stale threshold, can be claimed again.
type Ledger interface {
	Claim(ctx context.Context, key, wizardID string) (bool, Claim, error)
	Complete(ctx context.Context, key string, bookingID int64) error
	Fail(ctx context.Context, key string, cause error) error
	MarkUnknown(ctx context.Context, key string, cause error) error
	Lookup(ctx context.Context, key string) (Claim, error)
}

// DefaultStaleAfter is how long a pending claim blocks retries.
const DefaultStaleAfter = 2 * time.Minute

type ledgerDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgLedger stores claims in the submission_ledger table.
type PgLedger struct {
	pool       ledgerDB
	staleAfter time.Duration
	now        func() time.Time
}

// NewPgLedger accepts a *pgxpool.Pool or any compatible executor.
func NewPgLedger(pool ledgerDB) *PgLedger {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &PgLedger{pool: pool, staleAfter: DefaultStaleAfter, now: time.Now}
}

func (l *PgLedger) WithStaleAfter(d time.Duration) *PgLedger {
	if d > 0 {
		l.staleAfter = d
	}
	return l
}

func (l *PgLedger) Claim(ctx context.Context, key, wizardID string) (bool, Claim, error) {
	insert := `
		INSERT INTO submission_ledger (idempotency_key, wizard_id, state)
		VALUES ($1, $2, 'pending')
		ON CONFLICT DO NOTHING
	`
	ct, err := l.pool.Exec(ctx, insert, key, wizardID)
	if err != nil {
		return false, Claim{}, fmt.Errorf("bookings: claim submission: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return true, Claim{Key: key, WizardID: wizardID, State: ClaimPending}, nil
	}

	reclaim := `
		UPDATE submission_ledger
		SET state = 'pending', wizard_id = $2, error = NULL, updated_at = now()
		WHERE idempotency_key = $1
		  AND (state = 'failed' OR (state = 'pending' AND updated_at < $3))
	`
	ct, err = l.pool.Exec(ctx, reclaim, key, wizardID, toPGTime(l.now().Add(-l.staleAfter)))
	if err != nil {
		return false, Claim{}, fmt.Errorf("bookings: reclaim submission: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return true, Claim{Key: key, WizardID: wizardID, State: ClaimPending}, nil
	}

	existing, err := l.Lookup(ctx, key)
	if err != nil {
		return false, Claim{}, err
	}
	return false, existing, nil
}

func (l *PgLedger) Complete(ctx context.Context, key string, bookingID int64) error {
	query := `
		UPDATE submission_ledger
		SET state = 'completed', booking_id = $2, error = NULL, updated_at = now()
		WHERE idempotency_key = $1
	`
	if _, err := l.pool.Exec(ctx, query, key, bookingID); err != nil {
		return fmt.Errorf("bookings: complete submission: %w", err)
	}
	return nil
}

func (l *PgLedger) Fail(ctx context.Context, key string, cause error) error {
	msg := causeText(cause)
	query := `
		UPDATE submission_ledger
		SET state = 'failed', error = $2, updated_at = now()
		WHERE idempotency_key = $1 AND state = 'pending'
	`
	if _, err := l.pool.Exec(ctx, query, key, msg); err != nil {
		return fmt.Errorf("bookings: fail submission: %w", err)
	}
	return nil
}

func (l *PgLedger) MarkUnknown(ctx context.Context, key string, cause error) error {
	query := `
		UPDATE submission_ledger
		SET state = 'unknown', error = $2, updated_at = now()
		WHERE idempotency_key = $1 AND state = 'pending'
	`
	if _, err := l.pool.Exec(ctx, query, key, causeText(cause)); err != nil {
		return fmt.Errorf("bookings: mark submission unknown: %w", err)
	}
	return nil
}

func (l *PgLedger) Lookup(ctx context.Context, key string) (Claim, error) {
	query := `
		SELECT idempotency_key, wizard_id, state, booking_id, error, created_at, updated_at
		FROM submission_ledger
		WHERE idempotency_key = $1
	`
	var (
		c         Claim
		state     string
		bookingID pgtype.Int8
		errText   pgtype.Text
		created   pgtype.Timestamptz
		updated   pgtype.Timestamptz
	)
	err := l.pool.QueryRow(ctx, query, key).Scan(&c.Key, &c.WizardID, &state, &bookingID, &errText, &created, &updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Claim{}, ErrClaimNotFound
		}
		return Claim{}, fmt.Errorf("bookings: lookup submission: %w", err)
	}
	c.State = ClaimState(state)
	if bookingID.Valid {
		c.BookingID = bookingID.Int64
	}
	c.Error = errText.String
	c.CreatedAt = created.Time
	c.UpdatedAt = updated.Time
	return c, nil
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func toPGTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{
		Time:  t,
		Valid: true,
	}
}

// MemoryLedger is the in-process ledger used without a database.
type MemoryLedger struct {
	mu         sync.Mutex
	claims     map[string]Claim
	staleAfter time.Duration
	now        func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		claims:     make(map[string]Claim),
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
}

func (m *MemoryLedger) Claim(_ context.Context, key, wizardID string) (bool, Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	existing, ok := m.claims[key]
	if ok {
		stale := existing.State == ClaimPending && existing.UpdatedAt.Before(now.Add(-m.staleAfter))
		if existing.State != ClaimFailed && !stale {
			return false, existing, nil
		}
	}
	c := Claim{Key: key, WizardID: wizardID, State: ClaimPending, CreatedAt: now, UpdatedAt: now}
	if ok {
		c.CreatedAt = existing.CreatedAt
	}
	m.claims[key] = c
	return true, c, nil
}

func (m *MemoryLedger) Complete(_ context.Context, key string, bookingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[key]
	if !ok {
		return ErrClaimNotFound
	}
	c.State = ClaimCompleted
	c.BookingID = bookingID
	c.Error = ""
	c.UpdatedAt = m.now()
	m.claims[key] = c
	return nil
}

func (m *MemoryLedger) Fail(_ context.Context, key string, cause error) error {
	return m.settle(key, ClaimFailed, cause)
}

func (m *MemoryLedger) MarkUnknown(_ context.Context, key string, cause error) error {
	return m.settle(key, ClaimUnknown, cause)
}

func (m *MemoryLedger) settle(key string, state ClaimState, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[key]
	if !ok {
		return ErrClaimNotFound
	}
	if c.State != ClaimPending {
		return nil
	}
	c.State = state
	c.Error = causeText(cause)
	c.UpdatedAt = m.now()
	m.claims[key] = c
	return nil
}

func (m *MemoryLedger) Lookup(_ context.Context, key string) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[key]
	if !ok {
		return Claim{}, ErrClaimNotFound
	}
	return c, nil
}
