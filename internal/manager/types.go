package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"lemond/internal/backend"
	"lemond/pkg/types"
)

// SlotState is the router-level lifecycle of a slot. The backend keeps its
// own finer-grained process state.
type SlotState string

const (
	// SlotLoading reserves pool capacity (and the NPU token) while the backend starts.
	SlotLoading SlotState = "loading"
	SlotReady   SlotState = "ready"
	// SlotDraining refuses new requests while an unload waits for in-flight ones.
	SlotDraining SlotState = "draining"
	// SlotFailed marks a crashed backend; it is removed on next access.
	SlotFailed SlotState = "failed"
)

// Resolver maps a client-facing model name to its ModelInfo.
type Resolver interface {
	Resolve(name string) (types.ModelInfo, error)
}

// Catalog is the model registry the manager consults and edits.
type Catalog interface {
	Resolver
	List() []types.ModelInfo
	Register(types.ModelInfo) error
	Delete(name string) error
}

// BackendFactory builds an unstarted backend for a recipe.
type BackendFactory func(recipe types.Recipe, cfg backend.Config) (backend.Backend, error)

// Slot is one model occupying pool capacity. Info, Category, NPU and Options
// are fixed at creation; state and lastUsed are guarded by Manager.mu.
type Slot struct {
	Info     types.ModelInfo
	Category types.Category
	NPU      bool
	Options  backend.LaunchOptions

	backend  backend.Backend
	seq      uint64
	state    SlotState
	lastUsed time.Time
	loadedAt time.Time
	refs     atomic.Int32
}

// Name returns the model name served by the slot.
func (s *Slot) Name() string { return s.Info.Name }

// Refs returns the number of in-flight requests.
func (s *Slot) Refs() int { return int(s.refs.Load()) }

// Backend returns the wrapper serving the slot.
func (s *Slot) Backend() backend.Backend { return s.backend }

// evictable reports whether the slot may be chosen as a victim. Callers hold
// Manager.mu, which also serializes refcount increments.
func (s *Slot) evictable() bool {
	if s.refs.Load() > 0 {
		return false
	}
	return s.state == SlotReady || s.state == SlotFailed
}

// Lease pins a slot for the duration of a request.
type Lease struct {
	m    *Manager
	slot *Slot
	once sync.Once
}

func (l *Lease) Slot() *Slot              { return l.slot }
func (l *Lease) Backend() backend.Backend { return l.slot.backend }

// Release drops the lease's reference. Extra calls are ignored.
func (l *Lease) Release() {
	l.once.Do(func() { l.m.Release(l.slot) })
}
