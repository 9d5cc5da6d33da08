// Package sessions owns the live booking wizards of the BFF and persists
// their snapshots so a session survives a restart.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/or-scheduler/internal/observability/metrics"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

// Manager maps wizard ids to live wizards. Wizards not in memory are
// restored from the store on first access.
type Manager struct {
	store   Store
	ttl     time.Duration
	opts    []scheduling.WizardOption
	now     func() time.Time
	metrics *metrics.SchedulerMetrics
	logger  *logging.Logger

	mu   sync.RWMutex
	live map[string]*scheduling.Wizard
}

// NewManager builds a manager. opts are applied to every new or restored wizard.
func NewManager(store Store, ttl time.Duration, logger *logging.Logger, opts ...scheduling.WizardOption) *Manager {
	if store == nil {
		store = NewMemoryStore(ttl)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		opts:   opts,
		now:    time.Now,
		logger: logger.Component("sessions"),
		live:   make(map[string]*scheduling.Wizard),
	}
}

func (m *Manager) WithMetrics(sm *metrics.SchedulerMetrics) *Manager {
	m.metrics = sm
	return m
}

// WithClock overrides the clock used to expire idle wizards.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// Open starts a new wizard and persists it.
func (m *Manager) Open(ctx context.Context) (*scheduling.Wizard, error) {
	w := scheduling.NewWizard(m.opts...)
	if err := m.store.Save(ctx, w.State()); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.live[w.ID()] = w
	n := len(m.live)
	m.mu.Unlock()
	m.metrics.SetActiveWizards(n)
	m.logger.Info("wizard opened", "wizard_id", w.ID())
	return w, nil
}

// Get returns the live wizard, restoring it from the store when needed.
func (m *Manager) Get(ctx context.Context, id string) (*scheduling.Wizard, error) {
	m.mu.RLock()
	w, ok := m.live[id]
	m.mu.RUnlock()
	if ok {
		return w, nil
	}

	st, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.live[id]; ok {
		return w, nil
	}
	w = scheduling.RestoreWizard(st, m.opts...)
	m.live[id] = w
	m.metrics.SetActiveWizards(len(m.live))
	m.logger.Debug("wizard restored", "wizard_id", id, "step", st.StepName)
	return w, nil
}

// Save persists the wizard's current snapshot. Call after every mutation.
func (m *Manager) Save(ctx context.Context, w *scheduling.Wizard) error {
	return m.store.Save(ctx, w.State())
}

// Discard forgets the wizard in memory and in the store.
func (m *Manager) Discard(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.live, id)
	n := len(m.live)
	m.mu.Unlock()
	m.metrics.SetActiveWizards(n)
	if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Len returns the number of wizards held in memory.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// Sweep drops in-memory wizards idle for longer than the TTL. Their
// snapshots stay in the store until the store expires them.
func (m *Manager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	removed := 0
	for id, w := range m.live {
		st := w.State()
		if st.Closed || st.UpdatedAt.Before(cutoff) {
			delete(m.live, id)
			removed++
		}
	}
	n := len(m.live)
	m.mu.Unlock()

	if removed > 0 {
		m.metrics.SetActiveWizards(n)
		m.logger.Debug("idle wizards swept", "removed", removed)
	}
	return removed
}

// RunJanitor sweeps on every tick until ctx ends.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
