package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"lemond/internal/common/fsutil"
	"lemond/internal/config"
	"lemond/pkg/types"
)

// Registry is the in-memory model catalog. Shipped entries come from catalog
// files and model directories; user entries are added through Register and,
// when a user file is configured, persisted there.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]types.ModelInfo
	userFile string
}

// New returns a registry holding the given shipped entries. Later entries
// replace earlier ones with the same name.
func New(models ...types.ModelInfo) *Registry {
	r := &Registry{models: make(map[string]types.ModelInfo, len(models))}
	for _, m := range models {
		m.Suggested = true
		r.models[m.Name] = m
	}
	return r
}

// OpenUserFile loads previously registered models from path and persists
// future Register/Delete calls there. A missing file is not an error.
func (r *Registry) OpenUserFile(path string) error {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.userFile = p
	r.mu.Unlock()
	if !fsutil.PathExists(p) {
		return nil
	}
	models, err := LoadFile(p)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range models {
		if cur, ok := r.models[m.Name]; ok && cur.Suggested {
			continue
		}
		m.Suggested = false
		r.models[m.Name] = m
	}
	return nil
}

// Resolve implements manager.Resolver.
func (r *Registry) Resolve(name string) (types.ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	if !ok {
		return types.ModelInfo{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return m, nil
}

// List returns every entry sorted by name.
func (r *Registry) List() []types.ModelInfo {
	r.mu.RLock()
	out := make([]types.ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Register adds or replaces a user entry.
func (r *Registry) Register(m types.ModelInfo) error {
	if err := Validate(m); err != nil {
		return err
	}
	m.Suggested = false
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.models[m.Name]; ok && cur.Suggested {
		return conflictError{name: m.Name}
	}
	prev, had := r.models[m.Name]
	r.models[m.Name] = m
	if err := r.persistLocked(); err != nil {
		if had {
			r.models[m.Name] = prev
		} else {
			delete(r.models, m.Name)
		}
		return err
	}
	return nil
}

// Delete removes an entry. Only user entries touch the user file.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	delete(r.models, name)
	if m.Suggested {
		return nil
	}
	if err := r.persistLocked(); err != nil {
		r.models[name] = m
		return err
	}
	return nil
}

// persistLocked rewrites the user file with every user entry.
func (r *Registry) persistLocked() error {
	if r.userFile == "" {
		return nil
	}
	cf := catalogFile{Models: []types.ModelInfo{}}
	for _, m := range r.models {
		if !m.Suggested {
			cf.Models = append(cf.Models, m)
		}
	}
	sort.Slice(cf.Models, func(i, j int) bool { return cf.Models[i].Name < cf.Models[j].Name })
	b, err := config.Encode(r.userFile, cf)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(r.userFile, b, 0o644); err != nil {
		return fmt.Errorf("save user models: %w", err)
	}
	return nil
}

// Load builds a registry from the configured sources: the catalog file, the
// model directory scan and the user file. A missing model directory is
// skipped; everything else is an error.
func Load(modelsFile, modelsDir, userFile string) (*Registry, error) {
	var shipped []types.ModelInfo
	if modelsDir != "" {
		dir, err := fsutil.ExpandHome(modelsDir)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(dir); err == nil {
			found, err := LoadDir(dir)
			if err != nil {
				return nil, err
			}
			shipped = append(shipped, found...)
		}
	}
	if modelsFile != "" {
		models, err := LoadFile(modelsFile)
		if err != nil {
			return nil, err
		}
		shipped = append(shipped, models...)
	}
	r := New(shipped...)
	if userFile != "" {
		if err := r.OpenUserFile(userFile); err != nil {
			return nil, err
		}
	}
	return r, nil
}
