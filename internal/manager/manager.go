package manager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"lemond/pkg/types"
)

// Manager owns the per-category pools and the NPU token. One coarse mutex
// guards pool membership, slot state and the NPU holder; backend Start and
// Stop are never called while it is held.
type Manager struct {
	cfg       ManagerConfig
	registry  Catalog
	publisher EventPublisher
	log       zerolog.Logger

	mu        sync.RWMutex
	pools     map[types.Category]*pool
	npuHolder *Slot
	nextSeq   uint64
	// changed is closed and replaced whenever capacity may have been freed.
	changed chan struct{}

	loads singleflight.Group
	// Base context for backend starts; canceled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	statsMu   sync.Mutex
	lastStats types.StatsResponse

	startTime      time.Time
	loadsTotal     uint64
	evictionsTotal uint64
	lastErr        string
}

// New builds a Manager over a catalog with default tunables.
func New(reg Catalog) *Manager {
	return NewWithConfig(ManagerConfig{Registry: reg})
}

// Ready reports whether at least one slot is serving.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pools {
		for _, s := range p.slots {
			if s.state == SlotReady {
				return true
			}
		}
	}
	return false
}

// Capacity returns the configured pool size for a category.
func (m *Manager) Capacity(c types.Category) int {
	if p, ok := m.pools[c]; ok {
		return p.capacity
	}
	return 0
}

// Resolve maps a client-facing name through the catalog.
func (m *Manager) Resolve(name string) (types.ModelInfo, error) {
	if m.registry == nil {
		return types.ModelInfo{}, ErrDependencyUnavailable("no model catalog configured")
	}
	info, err := m.registry.Resolve(name)
	if err != nil {
		return types.ModelInfo{}, modelNotFoundError{id: name, err: err}
	}
	return info, nil
}

// ListModels returns the catalog with loaded flags, sorted by name.
func (m *Manager) ListModels() []types.ModelEntry {
	if m.registry == nil {
		return nil
	}
	infos := m.registry.List()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ModelEntry, 0, len(infos))
	for _, info := range infos {
		cat := info.ResolveCategory()
		s := m.pools[cat].slots[info.Name]
		out = append(out, types.ModelEntry{
			ID:         info.Name,
			Object:     "model",
			Created:    m.startTime.Unix(),
			OwnedBy:    "lemond",
			Checkpoint: info.Checkpoint,
			Recipe:     info.Recipe,
			Category:   cat,
			Labels:     info.Labels,
			Loaded:     s != nil && s.state == SlotReady,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close cancels pending starts and stops every backend without draining.
func (m *Manager) Close() error {
	m.cancel()
	m.mu.Lock()
	var all []*Slot
	for _, p := range m.pools {
		for _, s := range p.slots {
			// A loading slot is cleaned up by its own load once the start fails.
			if s.state != SlotLoading && s.backend != nil {
				all = append(all, s)
			}
		}
		p.slots = make(map[string]*Slot)
	}
	m.npuHolder = nil
	m.broadcastLocked()
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Slot) {
			defer wg.Done()
			m.stopSlot(s, "shutdown")
		}(s)
	}
	wg.Wait()
	loadedModels.Reset()
	return nil
}

// broadcastLocked wakes loads waiting for capacity. Callers hold m.mu.
func (m *Manager) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Manager) publish(name, model string, fields map[string]any) {
	m.publisher.Publish(Event{Name: name, ModelID: model, Fields: fields})
}
