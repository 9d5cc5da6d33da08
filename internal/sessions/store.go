package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/or-scheduler/internal/scheduling"
)

// ErrNotFound is returned when no wizard is stored under the id.
var ErrNotFound = errors.New("sessions: wizard not found")

// Store persists wizard snapshots.
type Store interface {
	Save(ctx context.Context, st scheduling.WizardState) error
	Load(ctx context.Context, id string) (scheduling.WizardState, error)
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	state     scheduling.WizardState
	expiresAt time.Time
}

// MemoryStore keeps snapshots in process. Used when Redis is not configured.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Save(_ context.Context, st scheduling.WizardState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{state: st}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.entries[st.ID] = e
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (scheduling.WizardState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return scheduling.WizardState{}, ErrNotFound
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.entries, id)
		return scheduling.WizardState{}, ErrNotFound
	}
	return e.state, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// RedisStore keeps snapshots as JSON strings with a sliding TTL.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("sessions: redis client cannot be nil")
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("or-scheduler.internal.sessions"),
	}
}

func wizardKey(id string) string {
	return fmt.Sprintf("wizard:%s", id)
}

func (s *RedisStore) Save(ctx context.Context, st scheduling.WizardState) error {
	ctx, span := s.tracer.Start(ctx, "sessions.save")
	defer span.End()

	data, err := json.Marshal(st)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: failed to marshal wizard: %w", err)
	}
	if err := s.redis.Set(ctx, wizardKey(st.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: failed to persist wizard: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (scheduling.WizardState, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.load")
	defer span.End()

	data, err := s.redis.Get(ctx, wizardKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return scheduling.WizardState{}, ErrNotFound
		}
		span.RecordError(err)
		return scheduling.WizardState{}, fmt.Errorf("sessions: failed to load wizard: %w", err)
	}
	var st scheduling.WizardState
	if err := json.Unmarshal(data, &st); err != nil {
		span.RecordError(err)
		return scheduling.WizardState{}, fmt.Errorf("sessions: failed to decode wizard: %w", err)
	}
	return st, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "sessions.delete")
	defer span.End()

	if err := s.redis.Del(ctx, wizardKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("sessions: failed to delete wizard: %w", err)
	}
	return nil
}
