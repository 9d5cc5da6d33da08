package sessions

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()

	w := scheduling.NewWizard()
	require.NoError(t, w.SetProcedure(scheduling.ProcedureInput{PatientID: "123", ProcedureName: "Appendectomy", DurationHours: 1.5, CenterID: 100}))
	require.NoError(t, store.Save(ctx, w.State()))
	assert.True(t, mr.Exists("wizard:"+w.ID()))
	assert.Equal(t, time.Hour, mr.TTL("wizard:"+w.ID()))

	st, err := store.Load(ctx, w.ID())
	require.NoError(t, err)
	assert.Equal(t, w.IdempotencyKey(), st.IdempotencyKey)
	assert.Equal(t, "Appendectomy", st.Draft.ProcedureName)
	assert.Equal(t, 90, st.Draft.DurationMinutes)

	require.NoError(t, store.Delete(ctx, w.ID()))
	_, err = store.Load(ctx, w.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreExpires(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()
	w := scheduling.NewWizard()
	require.NoError(t, store.Save(ctx, w.State()))

	mr.FastForward(2 * time.Minute)
	_, err := store.Load(ctx, w.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreCorruptPayload(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	require.NoError(t, mr.Set("wizard:bad", "{not json"))
	_, err := store.Load(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpires(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2025, 10, 25, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	w := scheduling.NewWizard()
	require.NoError(t, store.Save(ctx, w.State()))
	_, err := store.Load(ctx, w.ID())
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Load(ctx, w.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerRestoresFromStore(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	ctx := context.Background()

	first := NewManager(store, time.Hour, logging.Discard())
	w, err := first.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, w.SetProcedure(scheduling.ProcedureInput{PatientID: "42", ProcedureName: "Craniotomia", DurationHours: 2, CenterID: 101}))
	require.NoError(t, first.Save(ctx, w))

	// A second manager simulates a restarted process.
	second := NewManager(store, time.Hour, logging.Discard())
	restored, err := second.Get(ctx, w.ID())
	require.NoError(t, err)
	assert.Equal(t, w.IdempotencyKey(), restored.IdempotencyKey())
	assert.Equal(t, "Craniotomia", restored.Draft().ProcedureName)
	assert.Equal(t, 1, second.Len())

	same, err := second.Get(ctx, w.ID())
	require.NoError(t, err)
	assert.Same(t, restored, same)
}

func TestManagerDiscard(t *testing.T) {
	m := NewManager(nil, time.Hour, logging.Discard())
	ctx := context.Background()

	w, err := m.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Discard(ctx, w.ID()))

	_, err = m.Get(ctx, w.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, m.Len())
}

func TestManagerSweepDropsIdleAndClosed(t *testing.T) {
	now := time.Date(2025, 10, 25, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := NewManager(nil, time.Hour, logging.Discard(), scheduling.WithClock(clock)).WithClock(clock)
	ctx := context.Background()

	idle, err := m.Open(ctx)
	require.NoError(t, err)
	closed, err := m.Open(ctx)
	require.NoError(t, err)
	closed.Cancel()

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, m.Sweep())
	assert.Zero(t, m.Len())

	// Still in the store; memory store TTL is measured from its own clock.
	_, err = m.store.Load(ctx, idle.ID())
	require.NoError(t, err)
}
