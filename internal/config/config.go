package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified"; Default fills them in.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Model catalog sources.
	ModelsFile     string `json:"models_file" yaml:"models_file" toml:"models_file"`
	ModelsDir      string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	UserModelsFile string `json:"user_models_file" yaml:"user_models_file" toml:"user_models_file"`

	// Pool capacities keyed by category (llm, embedding, reranking, audio).
	MaxLoadedModels map[string]int `json:"max_loaded_models" yaml:"max_loaded_models" toml:"max_loaded_models"`
	DefaultCapacity int            `json:"default_capacity" yaml:"default_capacity" toml:"default_capacity"`
	// How long a load waits for a busy pool to free a slot. Zero fails fast.
	CapacityWait Duration `json:"capacity_wait" yaml:"capacity_wait" toml:"capacity_wait"`

	// Backend executables.
	LlamaCppBin     string            `json:"llamacpp_bin" yaml:"llamacpp_bin" toml:"llamacpp_bin"`
	LlamaCppBins    map[string]string `json:"llamacpp_bins" yaml:"llamacpp_bins" toml:"llamacpp_bins"`
	LlamaCppBackend string            `json:"llamacpp_backend" yaml:"llamacpp_backend" toml:"llamacpp_backend"`
	LlamaCppArgs    string            `json:"llamacpp_args" yaml:"llamacpp_args" toml:"llamacpp_args"`
	FLMBin          string            `json:"flm_bin" yaml:"flm_bin" toml:"flm_bin"`
	RyzenAIBin      string            `json:"ryzenai_bin" yaml:"ryzenai_bin" toml:"ryzenai_bin"`
	WhisperBin      string            `json:"whisper_bin" yaml:"whisper_bin" toml:"whisper_bin"`

	// Backend children listen on Host within [PortStart, PortEnd].
	Host      string `json:"host" yaml:"host" toml:"host"`
	PortStart int    `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd   int    `json:"port_end" yaml:"port_end" toml:"port_end"`
	CtxSize   int    `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`

	HealthInterval Duration            `json:"health_interval" yaml:"health_interval" toml:"health_interval"`
	LoadTimeout    Duration            `json:"load_timeout" yaml:"load_timeout" toml:"load_timeout"`
	LoadTimeouts   map[string]Duration `json:"load_timeouts" yaml:"load_timeouts" toml:"load_timeouts"`
	RequestTimeout Duration            `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	InferTimeout   Duration            `json:"infer_timeout" yaml:"infer_timeout" toml:"infer_timeout"`
	StopTimeout    Duration            `json:"stop_timeout" yaml:"stop_timeout" toml:"stop_timeout"`
	DrainTimeout   Duration            `json:"drain_timeout" yaml:"drain_timeout" toml:"drain_timeout"`

	MaxBodyBytes   int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes" toml:"max_upload_bytes"`

	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat  string `json:"log_format" yaml:"log_format" toml:"log_format"`
	RequestLog string `json:"request_log" yaml:"request_log" toml:"request_log"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:            "127.0.0.1:8000",
		ModelsDir:       "~/models",
		UserModelsFile:  "~/.cache/lemond/user_models.json",
		MaxLoadedModels: map[string]int{"llm": 1, "embedding": 1, "reranking": 1, "audio": 1},
		DefaultCapacity: 1,
		LlamaCppBin:     "llama-server",
		FLMBin:          "flm",
		RyzenAIBin:      "ryzenai-server",
		WhisperBin:      "whisper-server",
		Host:            "127.0.0.1",
		PortStart:       8001,
		PortEnd:         8999,
		CtxSize:         4096,
		HealthInterval:  Duration(250 * time.Millisecond),
		RequestTimeout:  Duration(10 * time.Minute),
		StopTimeout:     Duration(5 * time.Second),
		DrainTimeout:    Duration(30 * time.Second),
		MaxBodyBytes:    1 << 20,
		MaxUploadBytes:  64 << 20,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Merge overlays every non-zero field of over onto base. Maps are merged
// key by key.
func Merge(base, over Config) Config {
	bv := reflect.ValueOf(&base).Elem()
	ov := reflect.ValueOf(over)
	for i := 0; i < ov.NumField(); i++ {
		f := ov.Field(i)
		if f.IsZero() {
			continue
		}
		dst := bv.Field(i)
		if f.Kind() == reflect.Map && !dst.IsNil() {
			merged := reflect.MakeMap(f.Type())
			for _, k := range dst.MapKeys() {
				merged.SetMapIndex(k, dst.MapIndex(k))
			}
			for _, k := range f.MapKeys() {
				merged.SetMapIndex(k, f.MapIndex(k))
			}
			dst.Set(merged)
			continue
		}
		dst.Set(f)
	}
	return base
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.PortStart <= 0 || c.PortEnd < c.PortStart || c.PortEnd > 65535 {
		return fmt.Errorf("invalid backend port range %d-%d", c.PortStart, c.PortEnd)
	}
	if c.DefaultCapacity < 1 {
		return fmt.Errorf("default_capacity must be at least 1")
	}
	for cat, n := range c.MaxLoadedModels {
		if n < 1 {
			return fmt.Errorf("max_loaded_models[%s] must be at least 1", cat)
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("log_format must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// Duration is a time.Duration that reads and writes as "30s" style strings.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
