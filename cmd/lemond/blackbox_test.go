//go:build !windows

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"lemond/internal/process"
	"lemond/pkg/types"
)

var (
	buildOnce  sync.Once
	buildErr   error
	lemondBin  string
	fakeBinary string
)

// buildBinaries compiles lemond and the fake backend once per test run.
func buildBinaries(t *testing.T) (string, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode")
	}
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "lemond-blackbox")
		if err != nil {
			buildErr = err
			return
		}
		lemondBin = filepath.Join(dir, "lemond")
		fakeBinary = filepath.Join(dir, "fake_backend")
		for _, b := range [][]string{
			{"build", "-o", lemondBin, "."},
			{"build", "-o", fakeBinary, "../../internal/backend/testdata/fake_backend.go"},
		} {
			cmd := exec.Command("go", b...)
			cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
			if out, err := cmd.CombinedOutput(); err != nil {
				buildErr = fmt.Errorf("go %v: %v\n%s", b, err, out)
				return
			}
		}
	})
	if buildErr != nil {
		t.Fatalf("build: %v", buildErr)
	}
	return lemondBin, fakeBinary
}

type serverProc struct {
	cmd  *exec.Cmd
	base string
	done chan error
}

func startServer(t *testing.T) *serverProc {
	t.Helper()
	bin, fake := buildBinaries(t)
	modelsDir := t.TempDir()
	for _, n := range []string{"alpha.gguf", "beta.gguf"} {
		if err := os.WriteFile(filepath.Join(modelsDir, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	port, err := process.FindFreePort("127.0.0.1", 18080)
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	cmd := exec.Command(bin, "serve",
		"--addr", fmt.Sprintf("127.0.0.1:%d", port),
		"--models-dir", modelsDir,
		"--user-models-file", filepath.Join(t.TempDir(), "user_models.json"),
		"--port-start", "19000",
		"--port-end", "19500",
	)
	cmd.Env = append(os.Environ(),
		"LEMOND_LLAMACPP_BIN="+fake,
		"LEMOND_HEALTH_INTERVAL=20ms",
		"LEMOND_LOG_LEVEL=debug",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	sp := &serverProc{cmd: cmd, base: base, done: make(chan error, 1)}
	go func() { sp.done <- cmd.Wait() }()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-sp.done
	})

	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become healthy in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
	return sp
}

func (sp *serverProc) waitExit(t *testing.T) {
	t.Helper()
	select {
	case err := <-sp.done:
		sp.done <- err
		if err != nil {
			t.Fatalf("server exited with %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("server did not exit")
	}
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func postJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader([]byte(payload)))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func TestBlackbox_Flow(t *testing.T) {
	sp := startServer(t)

	resp, body := get(t, sp.base+"/api/v1/models")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/models %d %s", resp.StatusCode, body)
	}
	var models types.ModelsResponse
	if err := json.Unmarshal(body, &models); err != nil {
		t.Fatalf("/models json: %v body=%s", err, body)
	}
	if len(models.Data) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models.Data))
	}

	if resp, _ := get(t, sp.base+"/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/readyz before load: %d", resp.StatusCode)
	}

	resp, body = postJSON(t, sp.base+"/v1/chat/completions", `{"model":"alpha.gguf","messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte(`"content":"Hello"`)) {
		t.Fatalf("chat %d %s", resp.StatusCode, body)
	}
	if resp, _ := get(t, sp.base+"/readyz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("/readyz after load: %d", resp.StatusCode)
	}

	resp, body = get(t, sp.base+"/api/v1/status")
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("/status %d %s", resp.StatusCode, body)
	}
	var slots int
	for _, p := range st.Pools {
		slots += len(p.Slots)
	}
	if slots != 1 || st.LoadsTotal != 1 {
		t.Fatalf("status=%+v", st)
	}

	resp, body = postJSON(t, sp.base+"/api/v1/chat/completions", `{"model":"missing.gguf","messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d, body=%s", resp.StatusCode, body)
	}

	if resp, body := postJSON(t, sp.base+"/internal/shutdown", `{}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("shutdown %d %s", resp.StatusCode, body)
	}
	sp.waitExit(t)
}

func TestBlackbox_SignalStopsBackends(t *testing.T) {
	sp := startServer(t)
	if resp, body := postJSON(t, sp.base+"/api/v1/load", `{"model_name":"beta.gguf"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("load %d %s", resp.StatusCode, body)
	}
	_, body := get(t, sp.base+"/api/v1/status")
	var st types.StatusResponse
	_ = json.Unmarshal(body, &st)
	var pid int
	for _, p := range st.Pools {
		for _, s := range p.Slots {
			pid = s.PID
		}
	}
	if pid == 0 {
		t.Fatalf("no backend pid in status: %s", body)
	}

	if err := sp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	sp.waitExit(t)
	if err := syscall.Kill(pid, 0); err == nil {
		t.Fatalf("backend pid %d still running after shutdown", pid)
	}
}
