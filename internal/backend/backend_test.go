package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lemond/internal/process"
	"lemond/pkg/types"
)

var fakeBin string

// TestMain builds the fake backend program once for the whole package.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "lemond-backend")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fakeBin = filepath.Join(dir, "fake_backend")
	if runtime.GOOS == "windows" {
		fakeBin += ".exe"
	}
	cmd := exec.Command("go", "build", "-o", fakeBin, "./testdata/fake_backend.go")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "build fake backend: %v: %s\n", err, out)
		os.Exit(1)
	}
	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		LlamaServerBin: fakeBin,
		FLMBin:         fakeBin,
		RyzenAIBin:     fakeBin,
		WhisperBin:     fakeBin,
		Ports:          process.NewPortAllocator("127.0.0.1", 0, 0),
		HealthInterval: 20 * time.Millisecond,
		LoadTimeout:    10 * time.Second,
		StopTimeout:    2 * time.Second,
		Logger:         zerolog.Nop(),
	}
}

func startBackend(t *testing.T, cfg Config, info types.ModelInfo) Backend {
	t.Helper()
	b, err := New(info.Recipe, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := b.Start(ctx, info, LaunchOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = b.Stop(time.Second) })
	return b
}

var llamaModel = types.ModelInfo{Name: "Qwen3-0.6B-GGUF", Path: "/models/qwen.gguf", Recipe: types.RecipeLlamaCpp}

type collectSink struct {
	chunks []Chunk
	failAt int
}

func (c *collectSink) Chunk(ch Chunk) error {
	if c.failAt > 0 && len(c.chunks) >= c.failAt {
		return errors.New("broken pipe")
	}
	c.chunks = append(c.chunks, ch)
	return nil
}

func TestLlamaCppLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	cfg := testConfig(t)
	b := startBackend(t, cfg, llamaModel)
	if b.State() != StateReady || !b.Alive() {
		t.Fatalf("state=%s alive=%v", b.State(), b.Alive())
	}
	if b.Port() <= 0 || b.PID() <= 0 {
		t.Fatalf("port=%d pid=%d", b.Port(), b.PID())
	}

	resp, err := b.Forward(context.Background(), &Request{
		Endpoint: EndpointChat,
		Model:    llamaModel.Name,
		Body:     map[string]any{"messages": []any{map[string]any{"role": "user", "content": "hi"}}},
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	body := string(resp.Body)
	for _, want := range []string{`"reasoning_content":"hmm"`, `"content":"Hello"`, `"model":"Qwen3-0.6B-GGUF"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("response missing %s: %s", want, body)
		}
	}
	if strings.Contains(body, "timings") {
		t.Fatalf("timings should be folded into usage: %s", body)
	}
	if resp.Usage == nil || resp.Usage.CompletionTokens != 2 || resp.Usage.TokensPerSecond != 100 {
		t.Fatalf("usage=%+v", resp.Usage)
	}

	sink := &collectSink{}
	if err := b.ForwardStream(context.Background(), &Request{Endpoint: EndpointChat, Model: llamaModel.Name, Stream: true, Body: map[string]any{}}, sink); err != nil {
		t.Fatalf("ForwardStream: %v", err)
	}
	var text strings.Builder
	var finish string
	var usage *types.Usage
	for _, c := range sink.chunks {
		text.WriteString(c.Content)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
		if c.Usage != nil {
			usage = c.Usage
		}
	}
	if text.String() != "<think>hmm</think>Hello" || finish != "stop" {
		t.Fatalf("text=%q finish=%q", text.String(), finish)
	}
	if usage == nil || usage.PromptTokens != 5 || usage.TimeToFirstToken != 0.05 {
		t.Fatalf("usage=%+v", usage)
	}

	if err := b.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if b.State() != StateStopped || b.Alive() {
		t.Fatalf("after stop state=%s alive=%v", b.State(), b.Alive())
	}
	if n := cfg.Ports.Reserved(); n != 0 {
		t.Fatalf("ports still reserved: %d", n)
	}
	// Stop is idempotent.
	if err := b.Stop(time.Second); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStartEarlyExitReportsStderr(t *testing.T) {
	t.Setenv("FAKE_BACKEND_MODE", "exit")
	cfg := testConfig(t)
	b, _ := New(types.RecipeLlamaCpp, cfg)
	err := b.Start(context.Background(), llamaModel, LaunchOptions{})
	if !IsLoadFailure(err) || IsLoadTimeout(err) {
		t.Fatalf("expected non-timeout load failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("stderr tail missing from %q", err.Error())
	}
	if b.State() != StateFailed || b.Alive() {
		t.Fatalf("state=%s alive=%v", b.State(), b.Alive())
	}
	if n := cfg.Ports.Reserved(); n != 0 {
		t.Fatalf("ports still reserved: %d", n)
	}
}

func TestStartHealthTimeoutKillsProcess(t *testing.T) {
	t.Setenv("FAKE_BACKEND_MODE", "nohealth")
	cfg := testConfig(t)
	cfg.LoadTimeout = 300 * time.Millisecond
	b, _ := New(types.RecipeLlamaCpp, cfg)
	start := time.Now()
	err := b.Start(context.Background(), llamaModel, LaunchOptions{})
	if !IsLoadTimeout(err) {
		t.Fatalf("expected load timeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("timeout took too long: %s", time.Since(start))
	}
	if b.Alive() {
		t.Fatalf("backend alive after timeout")
	}
	if n := cfg.Ports.Reserved(); n != 0 {
		t.Fatalf("ports still reserved: %d", n)
	}
}

func TestStartCanceled(t *testing.T) {
	t.Setenv("FAKE_BACKEND_MODE", "nohealth")
	cfg := testConfig(t)
	b, _ := New(types.RecipeLlamaCpp, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := b.Start(ctx, llamaModel, LaunchOptions{})
	if !IsLoadFailure(err) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected canceled load, got %v", err)
	}
}

func TestCrashDuringRequest(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	b := startBackend(t, testConfig(t), llamaModel)
	_, err := b.Forward(context.Background(), &Request{Endpoint: EndpointChat, Model: "crash", Body: map[string]any{"model": "crash"}})
	if !IsCrashed(err) {
		t.Fatalf("expected crash, got %v", err)
	}
	if b.Alive() || b.State() != StateFailed {
		t.Fatalf("state=%s alive=%v", b.State(), b.Alive())
	}
	if !IsCrashed(func() error {
		_, err := b.Forward(context.Background(), &Request{Endpoint: EndpointChat, Body: map[string]any{}})
		return err
	}()) {
		t.Fatalf("requests to a failed backend should report a crash")
	}
}

func TestUpstreamErrorPassesStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	b := startBackend(t, testConfig(t), llamaModel)
	_, err := b.Forward(context.Background(), &Request{Endpoint: EndpointChat, Body: map[string]any{"max_tokens": -1}})
	ue, ok := AsUpstream(err)
	if !ok || ue.Status != 400 || ue.Message != "max_tokens must be positive" {
		t.Fatalf("got %v", err)
	}
	if !b.Alive() {
		t.Fatalf("a rejected request must not fail the backend")
	}
}

func TestStreamStopsWhenSinkFails(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	b := startBackend(t, testConfig(t), llamaModel)
	sink := &collectSink{failAt: 1}
	err := b.ForwardStream(context.Background(), &Request{Endpoint: EndpointChat, Stream: true, Body: map[string]any{}}, sink)
	if !errors.Is(err, ErrClientGone) {
		t.Fatalf("expected ErrClientGone, got %v", err)
	}
	if len(sink.chunks) != 1 {
		t.Fatalf("chunks=%d", len(sink.chunks))
	}
	if !b.Alive() {
		t.Fatalf("client disconnect must not fail the backend")
	}
}

func TestWhisperTranscription(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	info := types.ModelInfo{Name: "Whisper-Tiny", Path: "/models/ggml-tiny.bin", Recipe: types.RecipeWhisper}
	b := startBackend(t, testConfig(t), info)
	resp, err := b.Forward(context.Background(), &Request{
		Endpoint: EndpointTranscriptions,
		Model:    info.Name,
		Audio:    &AudioFile{Filename: "a.wav", Data: []byte("RIFF...."), Fields: map[string]string{"model": info.Name, "language": "en"}},
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if string(resp.Body) != `{"text":"hi there"}` {
		t.Fatalf("body=%s", resp.Body)
	}
	if err := b.ForwardStream(context.Background(), &Request{Endpoint: EndpointTranscriptions}, &collectSink{}); !IsUnsupported(err) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestRyzenAIStopsViaHalt(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	cfg := testConfig(t)
	info := types.ModelInfo{Name: "Phi-3-Mini-Instruct-Hybrid", Path: "/models/phi3", Recipe: types.RecipeOGAHybrid}
	b := startBackend(t, cfg, info)
	start := time.Now()
	if err := b.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("halt did not stop the server promptly")
	}
	if b.State() != StateStopped || cfg.Ports.Reserved() != 0 {
		t.Fatalf("state=%s reserved=%d", b.State(), cfg.Ports.Reserved())
	}
}

func TestUnsupportedEndpointAndRecipe(t *testing.T) {
	b, err := New(types.RecipeFLM, testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Forward(context.Background(), &Request{Endpoint: EndpointReranking}); !IsUnsupported(err) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if _, err := New("tensorrt", testConfig(t)); !IsUnsupported(err) {
		t.Fatalf("expected unsupported recipe, got %v", err)
	}
}

func TestForwardBeforeStart(t *testing.T) {
	b, _ := New(types.RecipeLlamaCpp, testConfig(t))
	_, err := b.Forward(context.Background(), &Request{Endpoint: EndpointChat})
	if !IsCrashed(err) || !errors.Is(err, ErrNotRunning) {
		t.Fatalf("got %v", err)
	}
	if err := b.Stop(time.Second); err != nil {
		t.Fatalf("Stop on idle backend: %v", err)
	}
}

func TestSanityCheck(t *testing.T) {
	cfg := Config{
		LlamaServerBin:  fakeBin,
		LlamaServerBins: map[string]string{"rocm": filepath.Join(t.TempDir(), "missing-llama-server")},
		WhisperBin:      "definitely-not-a-real-binary-xyz",
	}
	got := map[string]BinaryCheck{}
	for _, c := range cfg.SanityCheck() {
		got[c.Backend] = c
	}
	if len(got) != 5 {
		t.Fatalf("checks=%+v", got)
	}
	if !got["llamacpp"].Found {
		t.Fatalf("fake llama-server not found: %+v", got["llamacpp"])
	}
	if got["llamacpp-rocm"].Found || got["whispercpp"].Found {
		t.Fatalf("missing binaries reported as found: %+v", got)
	}
	if got["flm"].Error != "not configured" {
		t.Fatalf("flm=%+v", got["flm"])
	}
}
