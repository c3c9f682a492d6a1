package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lemond/internal/common/fsutil"
	"lemond/internal/config"
	"lemond/pkg/types"
)

// catalogFile is the on-disk layout of a model catalog in any supported
// format (.json, .yaml/.yml, .toml).
type catalogFile struct {
	Models []types.ModelInfo `json:"models" yaml:"models" toml:"models"`
}

// LoadDir scans a directory for *.gguf files and builds catalog entries from
// filenames. The name is the full filename (including extension); Path is the
// absolute file path. Multimodal projector files (mmproj*.gguf) are skipped.
func LoadDir(dir string) ([]types.ModelInfo, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.ModelInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, ".gguf") || strings.HasPrefix(lower, "mmproj") {
			continue
		}
		models = append(models, types.ModelInfo{
			Name:       name,
			Checkpoint: name,
			Path:       filepath.Join(abs, name),
			Recipe:     types.RecipeLlamaCpp,
			Suggested:  true,
		})
	}
	return models, nil
}

// LoadFile reads a catalog file. Every entry is validated; relative weight
// paths are resolved against the file's directory.
func LoadFile(path string) ([]types.ModelInfo, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var cf catalogFile
	if err := config.Decode(p, b, &cf); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(p)
	for i := range cf.Models {
		m := &cf.Models[i]
		if m.Path != "" {
			if m.Path, err = fsutil.ExpandHome(m.Path); err != nil {
				return nil, err
			}
			if !filepath.IsAbs(m.Path) {
				m.Path = filepath.Join(dir, m.Path)
			}
		}
		if err := Validate(*m); err != nil {
			return nil, fmt.Errorf("%s: entry %d: %w", path, i, err)
		}
	}
	return cf.Models, nil
}

// Validate checks that an entry can be resolved and launched.
func Validate(m types.ModelInfo) error {
	switch {
	case strings.TrimSpace(m.Name) == "":
		return invalidError{msg: "model name is required"}
	case strings.ContainsAny(m.Name, " \t\n/\\"):
		return invalidError{msg: "model name must not contain whitespace or slashes: " + m.Name}
	case !m.Recipe.Valid():
		return invalidError{msg: fmt.Sprintf("model %s: unknown recipe %q", m.Name, m.Recipe)}
	case m.Category != "" && !m.Category.Valid():
		return invalidError{msg: fmt.Sprintf("model %s: unknown category %q", m.Name, m.Category)}
	case m.Checkpoint == "" && m.Path == "":
		return invalidError{msg: "model " + m.Name + ": checkpoint or path is required"}
	}
	return nil
}
