package manager

import (
	"sort"

	"lemond/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.cfg.Now()
	resp := types.StatusResponse{
		EvictionsTotal: m.evictionsTotal,
		LoadsTotal:     m.loadsTotal,
		LastError:      m.lastErr,
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
	if m.npuHolder != nil {
		resp.NPUHolder = m.npuHolder.Info.Name
	}
	for _, c := range types.Categories {
		p := m.pools[c]
		ps := types.PoolStatus{Category: c, Capacity: p.capacity, Slots: make([]types.SlotStatus, 0, len(p.slots))}
		for _, s := range sortedSlots(p) {
			ps.Slots = append(ps.Slots, slotStatus(s))
		}
		resp.Pools = append(resp.Pools, ps)
	}
	return resp
}

// List reports every slot across all pools.
func (m *Manager) List() []types.SlotStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.SlotStatus
	for _, c := range types.Categories {
		for _, s := range sortedSlots(m.pools[c]) {
			out = append(out, slotStatus(s))
		}
	}
	return out
}

// Health reports loaded models and pool sizes. ModelLoaded is the most
// recently used ready LLM.
func (m *Manager) Health() types.HealthResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.HealthResponse{
		Status:          "ok",
		AllModelsLoaded: []types.LoadedModelInfo{},
		MaxModels:       make(map[types.Category]int, len(m.pools)),
	}
	var latest *Slot
	for _, c := range types.Categories {
		p := m.pools[c]
		resp.MaxModels[c] = p.capacity
		for _, s := range sortedSlots(p) {
			if s.state != SlotReady {
				continue
			}
			resp.AllModelsLoaded = append(resp.AllModelsLoaded, types.LoadedModelInfo{
				ModelName:  s.Info.Name,
				Checkpoint: s.Info.Checkpoint,
				Recipe:     s.Info.Recipe,
				Category:   s.Category,
				Device:     device(s),
			})
			if c == types.CategoryLLM && (latest == nil || s.lastUsed.After(latest.lastUsed)) {
				latest = s
			}
		}
	}
	if latest != nil {
		resp.ModelLoaded = latest.Info.Name
	}
	return resp
}

// Loaded reports whether name has a ready slot.
func (m *Manager) Loaded(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.findLocked(name)
	return s != nil && s.state == SlotReady
}

func sortedSlots(p *pool) []*Slot {
	out := make([]*Slot, 0, len(p.slots))
	for _, s := range p.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func slotStatus(s *Slot) types.SlotStatus {
	st := types.SlotStatus{
		ModelName: s.Info.Name,
		Category:  s.Category,
		Recipe:    s.Info.Recipe,
		State:     string(s.state),
		Refs:      s.Refs(),
		LastUsed:  s.lastUsed.Unix(),
		NPU:       s.NPU,
		CtxSize:   s.Options.CtxSize,
	}
	if s.state == SlotReady && st.Refs > 0 {
		st.State = "serving"
	}
	if b := s.backend; b != nil {
		st.BackendState = string(b.State())
		st.Port = b.Port()
		st.PID = b.PID()
	}
	return st
}

func device(s *Slot) string {
	switch {
	case s.Info.Recipe == types.RecipeOGAHybrid:
		return "gpu npu"
	case s.NPU:
		return "npu"
	case s.Info.Recipe == types.RecipeOGACPU || s.Info.Recipe == types.RecipeWhisper:
		return "cpu"
	case s.Options.LlamaBackend == "cpu":
		return "cpu"
	}
	return "gpu"
}
