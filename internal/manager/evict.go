package manager

import (
	"errors"
	"sort"

	"lemond/internal/process"
	"lemond/pkg/types"
)

// pool holds the slots of one category. All access is under Manager.mu.
type pool struct {
	category types.Category
	capacity int
	slots    map[string]*Slot
}

func newPool(c types.Category, capacity int) *pool {
	return &pool{category: c, capacity: capacity, slots: make(map[string]*Slot)}
}

// victims picks n evictable slots in eviction order, skipping those already
// planned. It returns nil when fewer than n qualify. Failed slots go first,
// then least recently used, then oldest insertion.
func (p *pool) victims(n int, planned map[*Slot]bool) []*Slot {
	if n <= 0 {
		return nil
	}
	var cands []*Slot
	for _, s := range p.slots {
		if !planned[s] && s.evictable() {
			cands = append(cands, s)
		}
	}
	if len(cands) < n {
		return nil
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if (a.state == SlotFailed) != (b.state == SlotFailed) {
			return a.state == SlotFailed
		}
		if !a.lastUsed.Equal(b.lastUsed) {
			return a.lastUsed.Before(b.lastUsed)
		}
		return a.seq < b.seq
	})
	return cands[:n]
}

// planEvictionLocked works out which slots must go so info can be inserted.
// It mutates nothing; the returned error is a capacity or NPU conflict.
func (m *Manager) planEvictionLocked(info types.ModelInfo, cat types.Category, npu bool) ([]*Slot, error) {
	p := m.pools[cat]
	planned := make(map[*Slot]bool)
	var plan []*Slot
	occupied := len(p.slots)

	if npu && m.npuHolder != nil && m.npuHolder.Info.Name != info.Name {
		h := m.npuHolder
		if !h.evictable() {
			return nil, npuConflictError{holder: h.Info.Name, want: info.Name}
		}
		planned[h] = true
		plan = append(plan, h)
		if h.Category == cat {
			occupied--
		}
	}

	need := occupied - p.capacity + 1
	if need > 0 {
		vs := p.victims(need, planned)
		if vs == nil {
			return nil, capacityExceededError{category: cat, capacity: p.capacity}
		}
		plan = append(plan, vs...)
	}
	return plan, nil
}

// removeLocked drops a slot from its pool and releases the NPU token if it
// held it. Callers hold m.mu.
func (m *Manager) removeLocked(s *Slot) {
	p := m.pools[s.Category]
	if cur, ok := p.slots[s.Info.Name]; ok && cur == s {
		delete(p.slots, s.Info.Name)
	}
	if m.npuHolder == s {
		m.npuHolder = nil
	}
	loadedModels.WithLabelValues(string(s.Category)).Set(float64(len(p.slots)))
	m.broadcastLocked()
}

// evict stops slots already removed from their pools. Runs without m.mu.
func (m *Manager) evict(victims []*Slot, reason string) {
	for _, v := range victims {
		evictionsTotal.WithLabelValues(string(v.Category), reason).Inc()
		m.mu.Lock()
		m.evictionsTotal++
		m.mu.Unlock()
		m.log.Info().Str("model", v.Info.Name).Str("reason", reason).Msg("evicting model")
		m.publish(EventEvicted, v.Info.Name, map[string]any{"reason": reason, "category": string(v.Category)})
		m.stopSlot(v, reason)
	}
}

// stopSlot terminates the slot's backend, logging rather than returning
// failures since the slot is already out of routing.
func (m *Manager) stopSlot(s *Slot, reason string) {
	if s.backend == nil {
		return
	}
	err := s.backend.Stop(m.cfg.StopTimeout)
	switch {
	case err == nil:
	case errors.Is(err, process.ErrUnkillable):
		m.log.Error().Err(err).Str("model", s.Info.Name).Int("pid", s.backend.PID()).Msg("backend survived kill")
	default:
		m.log.Warn().Err(err).Str("model", s.Info.Name).Str("reason", reason).Msg("backend stop")
	}
}
