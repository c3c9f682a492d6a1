package manager

import (
	"context"

	"lemond/internal/backend"
)

// Eviction can race a fresh load under heavy churn; give up after this many.
const maxAcquireAttempts = 3

// Acquire resolves name, loads it if needed, and pins the slot with a
// reference so it cannot be evicted until the lease is released.
func (m *Manager) Acquire(ctx context.Context, name string) (*Lease, error) {
	info, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		if l, err := m.tryAcquire(info.Name); l != nil || err != nil {
			return l, err
		}
		if _, err := m.GetOrLoad(ctx, info, backend.LaunchOptions{}); err != nil {
			return nil, err
		}
	}
	m.mu.RLock()
	capacity := m.pools[info.ResolveCategory()].capacity
	m.mu.RUnlock()
	return nil, capacityExceededError{category: info.ResolveCategory(), capacity: capacity}
}

// tryAcquire takes a reference on a ready slot. It returns (nil, nil) when
// the model needs loading.
func (m *Manager) tryAcquire(name string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.findLocked(name)
	if s == nil {
		return nil, nil
	}
	m.checkAliveLocked(s)
	switch s.state {
	case SlotReady:
		s.refs.Add(1)
		s.lastUsed = m.cfg.Now()
		return &Lease{m: m, slot: s}, nil
	case SlotDraining:
		return nil, modelBusyError{id: name, reason: "unloading"}
	}
	return nil, nil
}

// Release drops one reference taken by Acquire and refreshes the slot's
// last-used time.
func (m *Manager) Release(s *Slot) {
	if s.refs.Add(-1) < 0 {
		s.refs.Store(0)
		m.log.Error().Str("model", s.Info.Name).Msg("release without acquire")
	}
	m.mu.Lock()
	s.lastUsed = m.cfg.Now()
	m.broadcastLocked()
	m.mu.Unlock()
}
