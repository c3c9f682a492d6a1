package manager

import (
	"context"

	"lemond/pkg/types"
)

// Pull registers a model with the catalog so it can be loaded by name.
func (m *Manager) Pull(info types.ModelInfo) error {
	if m.registry == nil {
		return ErrDependencyUnavailable("no model catalog configured")
	}
	if err := m.registry.Register(info); err != nil {
		return err
	}
	m.log.Info().Str("model", info.Name).Str("recipe", string(info.Recipe)).Msg("model registered")
	return nil
}

// Delete unloads the model if it is loaded and removes it from the catalog.
// A busy model is left untouched.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if m.registry == nil {
		return ErrDependencyUnavailable("no model catalog configured")
	}
	if _, err := m.Resolve(name); err != nil {
		return err
	}
	if err := m.Unload(ctx, name); err != nil && !IsModelNotFound(err) {
		return err
	}
	if err := m.registry.Delete(name); err != nil {
		return err
	}
	m.log.Info().Str("model", name).Msg("model deleted")
	return nil
}
