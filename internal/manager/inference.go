package manager

import (
	"context"
	"errors"

	"lemond/internal/backend"
	"lemond/pkg/types"
)

// Forward routes a buffered request to the model's backend, loading it on
// demand. The slot reference is released on every path.
func (m *Manager) Forward(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	lease, err := m.Acquire(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	resp, err := lease.Backend().Forward(ctx, req)
	if err != nil {
		m.observeFailure(lease.Slot(), err)
		return nil, err
	}
	if resp.Usage != nil {
		m.RecordStats(*resp.Usage)
	}
	return resp, nil
}

// ForwardStream routes a streaming request, delivering chunks to sink until
// the backend finishes, fails, or the sink refuses a chunk.
func (m *Manager) ForwardStream(ctx context.Context, req *backend.Request, sink backend.Sink) error {
	lease, err := m.Acquire(ctx, req.Model)
	if err != nil {
		return err
	}
	defer lease.Release()
	err = lease.Backend().ForwardStream(ctx, req, sink)
	if err != nil && !errors.Is(err, backend.ErrClientGone) && ctx.Err() == nil {
		m.observeFailure(lease.Slot(), err)
	}
	return err
}

// observeFailure takes a crashed slot out of routing. Upstream 4xx/5xx
// replies leave the slot alone.
func (m *Manager) observeFailure(s *Slot, err error) {
	if !backend.IsCrashed(err) {
		return
	}
	m.mu.Lock()
	if s.state == SlotReady || s.state == SlotDraining {
		s.state = SlotFailed
		m.lastErr = err.Error()
	}
	m.broadcastLocked()
	m.mu.Unlock()
	m.log.Error().Err(err).Str("model", s.Info.Name).Msg("backend crashed")
	m.publish(EventCrashed, s.Info.Name, map[string]any{"error": err.Error()})
}

// RecordStats stores telemetry of the latest completed inference.
func (m *Manager) RecordStats(u types.Usage) {
	m.statsMu.Lock()
	m.lastStats = types.StatsResponse{
		TimeToFirstToken: u.TimeToFirstToken,
		TokensPerSecond:  u.TokensPerSecond,
		InputTokens:      u.PromptTokens,
		OutputTokens:     u.CompletionTokens,
	}
	m.statsMu.Unlock()
}

// Stats returns the telemetry recorded by the last inference.
func (m *Manager) Stats() types.StatsResponse {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.lastStats
}
