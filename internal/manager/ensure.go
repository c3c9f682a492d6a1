package manager

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"lemond/internal/backend"
	"lemond/pkg/types"
)

// Load resolves name and makes sure it is loaded with opts. A model already
// loaded with different explicit options is reloaded once it is idle.
func (m *Manager) Load(ctx context.Context, name string, opts backend.LaunchOptions) error {
	info, err := m.Resolve(name)
	if err != nil {
		return err
	}
	if m.optionsDiffer(info.Name, opts) {
		m.log.Info().Str("model", info.Name).Msg("reloading with new options")
		if err := m.Unload(ctx, info.Name); err != nil && !IsModelNotFound(err) {
			return err
		}
	}
	_, err = m.GetOrLoad(ctx, info, opts)
	return err
}

func (m *Manager) optionsDiffer(name string, opts backend.LaunchOptions) bool {
	if reflect.ValueOf(opts).IsZero() {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.findLocked(name)
	return s != nil && s.state == SlotReady && !reflect.DeepEqual(s.Options, opts)
}

// GetOrLoad returns the ready slot for info, starting a backend when needed.
// Concurrent callers for the same model share one start. The start itself
// is not tied to ctx: a caller that gives up only stops waiting.
func (m *Manager) GetOrLoad(ctx context.Context, info types.ModelInfo, opts backend.LaunchOptions) (*Slot, error) {
	if s := m.touchReady(info.Name); s != nil {
		return s, nil
	}
	ch := m.loads.DoChan(info.Name, func() (any, error) {
		return m.load(info, opts)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Slot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// touchReady returns the ready slot for name and bumps its last-used time.
func (m *Manager) touchReady(name string) *Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.findLocked(name)
	if s == nil {
		return nil
	}
	m.checkAliveLocked(s)
	if s.state != SlotReady {
		return nil
	}
	s.lastUsed = m.cfg.Now()
	return s
}

func (m *Manager) findLocked(name string) *Slot {
	for _, p := range m.pools {
		if s, ok := p.slots[name]; ok {
			return s
		}
	}
	return nil
}

// load reserves capacity, evicts, and starts the backend. It runs inside the
// singleflight for info.Name so at most one load per model is in progress.
func (m *Manager) load(info types.ModelInfo, opts backend.LaunchOptions) (*Slot, error) {
	if err := m.ctx.Err(); err != nil {
		return nil, fmt.Errorf("manager closed: %w", err)
	}
	cat := info.ResolveCategory()
	npu := info.RequiresNPU()
	slot, victims, fresh, err := m.reserve(info, cat, npu, opts)
	if err != nil || !fresh {
		return slot, err
	}
	// Victims leave before the newcomer starts so the NPU is never shared.
	for _, v := range victims {
		reason := "lru"
		if npu && v.NPU {
			reason = "npu"
		}
		m.evict([]*Slot{v}, reason)
	}

	log := m.log.With().Str("model", info.Name).Str("recipe", string(info.Recipe)).Logger()
	log.Info().Str("category", string(cat)).Bool("npu", npu).Msg("loading model")
	m.publish(EventLoadStart, info.Name, map[string]any{"recipe": string(info.Recipe)})
	began := time.Now()

	b, err := m.cfg.Factory(info.Recipe, m.cfg.Backend)
	if err == nil {
		m.mu.Lock()
		slot.backend = b
		m.mu.Unlock()
		err = b.Start(m.ctx, info, opts)
	}
	loadDuration.WithLabelValues(string(info.Recipe)).Observe(time.Since(began).Seconds())
	if err != nil {
		m.mu.Lock()
		m.removeLocked(slot)
		m.lastErr = err.Error()
		m.mu.Unlock()
		loadsTotal.WithLabelValues(string(info.Recipe), "error").Inc()
		log.Error().Err(err).Msg("load failed")
		m.publish(EventLoadFailed, info.Name, map[string]any{"error": err.Error()})
		return nil, err
	}

	m.mu.Lock()
	if m.pools[cat].slots[info.Name] != slot {
		// Removed by Close while starting.
		m.mu.Unlock()
		m.stopSlot(slot, "shutdown")
		return nil, fmt.Errorf("load %s: %w", info.Name, context.Canceled)
	}
	now := m.cfg.Now()
	slot.state = SlotReady
	slot.lastUsed = now
	slot.loadedAt = now
	m.loadsTotal++
	m.broadcastLocked()
	m.mu.Unlock()

	loadsTotal.WithLabelValues(string(info.Recipe), "ok").Inc()
	log.Info().Int("port", b.Port()).Int("pid", b.PID()).Dur("took", time.Since(began)).Msg("model ready")
	m.publish(EventLoadReady, info.Name, map[string]any{"port": b.Port()})
	return slot, nil
}

// reserve inserts a loading slot for info once the pool and the NPU token
// have room, returning the slots that must be evicted first. An already
// ready slot is returned with fresh=false. With CapacityWait set, a full
// pool is retried until the wait expires.
func (m *Manager) reserve(info types.ModelInfo, cat types.Category, npu bool, opts backend.LaunchOptions) (slot *Slot, victims []*Slot, fresh bool, err error) {
	var deadline time.Time
	if m.cfg.CapacityWait > 0 {
		deadline = time.Now().Add(m.cfg.CapacityWait)
	}
	for {
		m.mu.Lock()
		var stale []*Slot
		if s := m.findLocked(info.Name); s != nil {
			m.checkAliveLocked(s)
			switch s.state {
			case SlotReady:
				s.lastUsed = m.cfg.Now()
				m.mu.Unlock()
				return s, nil, false, nil
			case SlotFailed:
				// Crashed earlier; replace it with a fresh process.
				m.removeLocked(s)
				stale = append(stale, s)
			default:
				m.mu.Unlock()
				return nil, nil, false, modelBusyError{id: info.Name, reason: string(s.state)}
			}
		}

		plan, perr := m.planEvictionLocked(info, cat, npu)
		if perr != nil {
			wait := m.changed
			m.mu.Unlock()
			m.evict(stale, "failed")
			if deadline.IsZero() || !time.Now().Before(deadline) {
				m.noteRefusal(info, perr)
				return nil, nil, false, perr
			}
			t := time.NewTimer(time.Until(deadline))
			select {
			case <-wait:
			case <-t.C:
			case <-m.ctx.Done():
				t.Stop()
				return nil, nil, false, m.ctx.Err()
			}
			t.Stop()
			continue
		}

		for _, v := range plan {
			m.removeLocked(v)
		}
		m.nextSeq++
		slot = &Slot{
			Info:     info,
			Category: cat,
			NPU:      npu,
			Options:  opts,
			seq:      m.nextSeq,
			state:    SlotLoading,
			lastUsed: m.cfg.Now(),
		}
		p := m.pools[cat]
		p.slots[info.Name] = slot
		if npu {
			m.npuHolder = slot
		}
		loadedModels.WithLabelValues(string(cat)).Set(float64(len(p.slots)))
		m.mu.Unlock()
		m.evict(stale, "failed")
		return slot, plan, true, nil
	}
}

func (m *Manager) noteRefusal(info types.ModelInfo, err error) {
	loadsTotal.WithLabelValues(string(info.Recipe), "refused").Inc()
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
	m.log.Warn().Err(err).Str("model", info.Name).Msg("load refused")
}

// checkAliveLocked marks a ready slot failed when its process has died
// outside of a request. Callers hold m.mu.
func (m *Manager) checkAliveLocked(s *Slot) {
	if s.state != SlotReady || s.backend == nil || s.backend.Alive() {
		return
	}
	s.state = SlotFailed
	m.log.Warn().Str("model", s.Info.Name).Int("pid", s.backend.PID()).Msg("backend exited unexpectedly")
	m.publish(EventCrashed, s.Info.Name, nil)
}
