package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lemond/internal/backend"
	"lemond/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultCapacity     = 1
	defaultDrainTimeout = 30 * time.Second
	defaultStopTimeout  = 5 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry Catalog
	// Per-category pool sizes; categories not listed get DefaultCapacity.
	Capacity        map[types.Category]int
	DefaultCapacity int
	// CapacityWait > 0 makes a load wait that long for a busy pool (or NPU
	// holder) to free up instead of failing immediately.
	CapacityWait time.Duration
	// How long Unload waits for in-flight requests before refusing.
	DrainTimeout time.Duration
	// Grace period before a backend is force-killed.
	StopTimeout time.Duration

	Backend   backend.Config
	Factory   BackendFactory
	Publisher EventPublisher
	Logger    zerolog.Logger
	// Clock; tests replace it to control LRU order.
	Now func() time.Time
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = defaultCapacity
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.Factory == nil {
		cfg.Factory = backend.New
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Backend.StopTimeout <= 0 {
		cfg.Backend.StopTimeout = cfg.StopTimeout
	}
	cfg.Backend.Logger = cfg.Logger

	m := &Manager{
		cfg:       cfg,
		registry:  cfg.Registry,
		pools:     make(map[types.Category]*pool, len(types.Categories)),
		publisher: cfg.Publisher,
		log:       cfg.Logger.With().Str("component", "manager").Logger(),
		changed:   make(chan struct{}),
		startTime: cfg.Now(),
	}
	for _, c := range types.Categories {
		capacity := cfg.DefaultCapacity
		if n, ok := cfg.Capacity[c]; ok && n > 0 {
			capacity = n
		}
		m.pools[c] = newPool(c, capacity)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}
