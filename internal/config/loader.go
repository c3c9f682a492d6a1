package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
// Fields absent from the file stay zero; Merge them over Default().
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := Decode(path, b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode unmarshals b into v using the format implied by path's extension.
func Decode(path string, b []byte, v any) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, v)
	case ".json":
		return json.Unmarshal(b, v)
	case ".toml":
		return toml.Unmarshal(b, v)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
}

// Encode is the inverse of Decode.
func Encode(path string, v any) ([]byte, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Marshal(v)
	case ".json":
		return json.MarshalIndent(v, "", "  ")
	case ".toml":
		return toml.Marshal(v)
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", ext)
	}
}
