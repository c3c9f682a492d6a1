package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"lemond/internal/config"
	"lemond/internal/registry"
	"lemond/pkg/types"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) { v, ok := m[k]; return v, ok }
}

func TestParseCapacities(t *testing.T) {
	got, err := parseCapacities("2")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]int{"llm": 2, "embedding": 2, "reranking": 2, "audio": 2}, got); diff != "" {
		t.Fatalf("uniform (-want +got):\n%s", diff)
	}
	got, err = parseCapacities("llm=3, embedding=1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]int{"llm": 3, "embedding": 1}, got); diff != "" {
		t.Fatalf("pairs (-want +got):\n%s", diff)
	}
	for _, bad := range []string{"llm", "video=1", "llm=x"} {
		if _, err := parseCapacities(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestResolveConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "lemond.yaml")
	_ = os.WriteFile(p, []byte("addr: \":7000\"\nctx_size: 8192\nllamacpp_backend: vulkan\nmax_loaded_models:\n  llm: 2\n"), 0o644)

	f := serveFlags{configPath: p, capacities: "embedding=3"}
	f.cfg.LlamaCppBackend = "rocm"
	cfg, err := resolveConfig(f, envMap(map[string]string{
		"LEMOND_ADDR":     ":7100",
		"LEMOND_CTX_SIZE": "16384",
	}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != ":7100" || cfg.CtxSize != 16384 {
		t.Fatalf("env should override file: %+v", cfg)
	}
	if cfg.LlamaCppBackend != "rocm" {
		t.Fatalf("flag should override file: %q", cfg.LlamaCppBackend)
	}
	want := map[string]int{"llm": 2, "embedding": 3, "reranking": 1, "audio": 1}
	if diff := cmp.Diff(want, cfg.MaxLoadedModels); diff != "" {
		t.Fatalf("capacities (-want +got):\n%s", diff)
	}
	if cfg.LlamaCppBin != "llama-server" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestResolveConfigFromEnvPath(t *testing.T) {
	p := filepath.Join(t.TempDir(), "lemond.toml")
	_ = os.WriteFile(p, []byte("log_format = \"console\"\n"), 0o644)
	cfg, err := resolveConfig(serveFlags{}, envMap(map[string]string{"LEMOND_CONFIG": p}))
	if err != nil || cfg.LogFormat != "console" {
		t.Fatalf("cfg=%+v err=%v", cfg, err)
	}
	if _, err := resolveConfig(serveFlags{}, envMap(map[string]string{"LEMOND_LOG_FORMAT": "xml"})); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestManagerConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.MaxLoadedModels = map[string]int{"llm": 2, "audio": 1}
	cfg.LoadTimeouts = map[string]config.Duration{"flm": config.Duration(90 * time.Second)}
	cfg.LlamaCppArgs = "--threads 8 --no-mmap"
	cfg.CapacityWait = config.Duration(time.Second)

	mc := managerConfig(cfg, registry.New(), zerolog.Nop())
	if mc.Capacity[types.CategoryLLM] != 2 || mc.Capacity[types.CategoryAudio] != 1 {
		t.Fatalf("capacity=%v", mc.Capacity)
	}
	if mc.CapacityWait != time.Second || mc.DrainTimeout != 30*time.Second {
		t.Fatalf("timeouts: wait=%v drain=%v", mc.CapacityWait, mc.DrainTimeout)
	}
	if mc.Backend.LoadTimeouts[types.RecipeFLM] != 90*time.Second || mc.Backend.Ports == nil {
		t.Fatalf("backend=%+v", mc.Backend)
	}
	if diff := cmp.Diff([]string{"--threads", "8", "--no-mmap"}, mc.Backend.LlamaArgs); diff != "" {
		t.Fatalf("llama args (-want +got):\n%s", diff)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger("warn", "json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, `"message":"shown"`) {
		t.Fatalf("output=%q", out)
	}
	if _, err := newLogger("loud", "json", &buf); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := newLogger("info", "xml", &buf); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "lemond dev") {
		t.Fatalf("output=%q", out.String())
	}
}
