package manager

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Unload drains and removes a loaded model.
//   - Sets the slot to draining so new requests are refused.
//   - Waits up to DrainTimeout for in-flight requests to finish; if they do
//     not, the slot returns to ready and a busy error is reported.
//   - Stops the backend process and frees the pool entry and NPU token.
func (m *Manager) Unload(ctx context.Context, name string) error {
	if name == "" {
		return ErrModelNotFound("(unspecified)")
	}
	m.mu.Lock()
	s := m.findLocked(name)
	if s == nil {
		m.mu.Unlock()
		return ErrModelNotFound(name)
	}
	switch s.state {
	case SlotLoading:
		m.mu.Unlock()
		return modelBusyError{id: name, reason: "still loading"}
	case SlotDraining:
		m.mu.Unlock()
		return modelBusyError{id: name, reason: "already unloading"}
	case SlotFailed:
		m.removeLocked(s)
		m.mu.Unlock()
		m.stopSlot(s, "unload")
		m.publish(EventUnloadDone, name, nil)
		return nil
	}
	s.state = SlotDraining
	m.mu.Unlock()
	m.publish(EventUnloadStart, name, map[string]any{})

	deadline := time.Now().Add(m.cfg.DrainTimeout)
	for s.refs.Load() > 0 {
		if time.Now().After(deadline) || ctx.Err() != nil {
			refs := s.Refs()
			m.mu.Lock()
			if s.state == SlotDraining {
				s.state = SlotReady
			}
			m.broadcastLocked()
			m.mu.Unlock()
			m.publish(EventUnloadTimeout, name, map[string]any{"inflight": refs})
			m.log.Warn().Str("model", name).Int("inflight", refs).Msg("unload timed out waiting for requests")
			return modelBusyError{id: name, reason: "requests still in flight"}
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.mu.Lock()
	m.removeLocked(s)
	m.mu.Unlock()
	m.stopSlot(s, "unload")
	m.log.Info().Str("model", name).Msg("model unloaded")
	m.publish(EventUnloadDone, name, map[string]any{})
	return nil
}

// UnloadAll unloads every model, attempting all of them and joining errors.
// Slots still loading are skipped.
func (m *Manager) UnloadAll(ctx context.Context) error {
	m.mu.RLock()
	var names []string
	for _, p := range m.pools {
		for name, s := range p.slots {
			if s.state != SlotLoading {
				names = append(names, name)
			}
		}
	}
	m.mu.RUnlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := m.Unload(ctx, name); err != nil && !IsModelNotFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
