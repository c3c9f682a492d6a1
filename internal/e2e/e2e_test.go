package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"lemond/internal/manager"
	"lemond/pkg/types"
)

func TestE2E_ChatLoadsOnDemandAndReplacesLRU(t *testing.T) {
	s := newStack(t, nil)

	resp, body := s.post(t, "/api/v1/chat/completions", chat("alpha", false))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("alpha: %d %s", resp.StatusCode, body)
	}
	for _, want := range []string{`"content":"Hello"`, `"reasoning_content":"hmm"`, `"model":"alpha"`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("response missing %s: %s", want, body)
		}
	}
	if _, ok := s.loaded(t)["alpha"]; !ok {
		t.Fatalf("alpha not reported as loaded")
	}

	// The llm pool holds one model; beta replaces alpha.
	resp, body = s.post(t, "/v1/chat/completions", chat("beta", false))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("beta: %d %s", resp.StatusCode, body)
	}
	got := s.loaded(t)
	if _, ok := got["alpha"]; ok || len(got) != 1 {
		t.Fatalf("expected only beta loaded, got %v", got)
	}
	if diff := cmp.Diff([]string{manager.EventLoadStart, manager.EventLoadReady, manager.EventEvicted}, s.pub.Names("alpha")); diff != "" {
		t.Fatalf("alpha events (-want +got):\n%s", diff)
	}
}

func TestE2E_StreamingRelaysAndRecordsStats(t *testing.T) {
	s := newStack(t, nil)
	resp, body := s.post(t, "/api/v1/chat/completions", chat("alpha", true))
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("status=%d ct=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	out := string(body)
	for _, want := range []string{`"reasoning_content":"hmm"`, `"content":"Hel"`, `"finish_reason":"stop"`, `"prompt_tokens":5`, "data: [DONE]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stream missing %s:\n%s", want, out)
		}
	}
	if strings.Count(out, "[DONE]") != 1 {
		t.Fatalf("expected a single [DONE]:\n%s", out)
	}

	_, body = s.get(t, "/api/v1/stats")
	var st types.StatsResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	if st.InputTokens != 5 || st.OutputTokens != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestE2E_CategoriesLoadSideBySide(t *testing.T) {
	s := newStack(t, nil)
	if resp, body := s.post(t, "/api/v1/chat/completions", chat("alpha", false)); resp.StatusCode != 200 {
		t.Fatalf("chat: %d %s", resp.StatusCode, body)
	}
	resp, body := s.post(t, "/api/v1/embeddings", map[string]any{"model": "nomic-embed", "input": "hello"})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"embedding"`) {
		t.Fatalf("embeddings: %d %s", resp.StatusCode, body)
	}
	got := s.loaded(t)
	if got["alpha"].Category != types.CategoryLLM || got["nomic-embed"].Category != types.CategoryEmbedding {
		t.Fatalf("loaded=%v", got)
	}
}

func TestE2E_NPUIsExclusiveAcrossPools(t *testing.T) {
	s := newStack(t, map[types.Category]int{types.CategoryLLM: 2})
	if resp, body := s.post(t, "/api/v1/load", map[string]any{"model_name": "npu-chat"}); resp.StatusCode != 200 {
		t.Fatalf("load npu-chat: %d %s", resp.StatusCode, body)
	}
	if resp, body := s.post(t, "/api/v1/load", map[string]any{"model_name": "alpha"}); resp.StatusCode != 200 {
		t.Fatalf("load alpha: %d %s", resp.StatusCode, body)
	}
	if resp, body := s.post(t, "/api/v1/load", map[string]any{"model_name": "npu-embed"}); resp.StatusCode != 200 {
		t.Fatalf("load npu-embed: %d %s", resp.StatusCode, body)
	}
	got := s.loaded(t)
	if _, ok := got["npu-chat"]; ok {
		t.Fatalf("npu-chat should have been evicted for the NPU: %v", got)
	}
	if _, ok := got["alpha"]; !ok {
		t.Fatalf("alpha does not use the NPU and should stay: %v", got)
	}
	if got["npu-embed"].Device != "npu" {
		t.Fatalf("device=%q", got["npu-embed"].Device)
	}

	_, body := s.get(t, "/api/v1/status")
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	if st.NPUHolder != "npu-embed" || st.EvictionsTotal != 1 {
		t.Fatalf("status=%+v", st)
	}
}

func TestE2E_ConcurrentRequestsShareOneLoad(t *testing.T) {
	s := newStack(t, nil)
	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, _ := json.Marshal(chat("alpha", false))
			req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, s.srv.URL+"/api/v1/chat/completions", bytes.NewReader(b))
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			_ = resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()
	for i, c := range codes {
		if c != http.StatusOK {
			t.Fatalf("request %d: status %d", i, c)
		}
	}
	starts := 0
	for _, name := range s.pub.Names("alpha") {
		if name == manager.EventLoadStart {
			starts++
		}
	}
	if starts != 1 {
		t.Fatalf("expected one load, got %d", starts)
	}
}

func TestE2E_ErrorsMapToStatusCodes(t *testing.T) {
	s := newStack(t, nil)

	resp, body := s.post(t, "/api/v1/chat/completions", chat("missing", false))
	if resp.StatusCode != http.StatusNotFound || errorBody(t, body).Type != "not_found_error" {
		t.Fatalf("unknown model: %d %s", resp.StatusCode, body)
	}

	resp, body = s.post(t, "/api/v1/chat/completions", map[string]any{"model": "alpha", "max_tokens": -1, "messages": []any{map[string]any{"role": "user", "content": "x"}}})
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(errorBody(t, body).Message, "max_tokens") {
		t.Fatalf("upstream 4xx: %d %s", resp.StatusCode, body)
	}

	resp, body = s.post(t, "/api/v1/embeddings", map[string]any{"model": "Whisper-Tiny", "input": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsupported endpoint: %d %s", resp.StatusCode, body)
	}
}

func TestE2E_CrashThenRecover(t *testing.T) {
	s := newStack(t, nil)
	resp, body := s.post(t, "/api/v1/chat/completions", chat("crash", false))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("crash: %d %s", resp.StatusCode, body)
	}
	// The failed slot is the first eviction candidate.
	if resp, body := s.post(t, "/api/v1/chat/completions", chat("alpha", false)); resp.StatusCode != http.StatusOK {
		t.Fatalf("after crash: %d %s", resp.StatusCode, body)
	}
	if got := s.loaded(t); len(got) != 1 {
		t.Fatalf("loaded=%v", got)
	}
}

func TestE2E_LoadFailureLeavesNothingBehind(t *testing.T) {
	s := newStack(t, nil)
	t.Setenv("FAKE_BACKEND_MODE", "exit")
	resp, body := s.post(t, "/api/v1/load", map[string]any{"model_name": "alpha"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("load: %d %s", resp.StatusCode, body)
	}
	if !strings.Contains(errorBody(t, body).Message, "cannot load model") {
		t.Fatalf("stderr tail missing from error: %s", body)
	}
	if got := s.loaded(t); len(got) != 0 {
		t.Fatalf("loaded=%v", got)
	}
}

func TestE2E_UnloadAndUnloadAll(t *testing.T) {
	s := newStack(t, nil)
	s.post(t, "/api/v1/load", map[string]any{"model_name": "alpha"})
	s.post(t, "/api/v1/load", map[string]any{"model_name": "nomic-embed"})

	if resp, body := s.post(t, "/api/v1/unload", map[string]any{"model_name": "alpha"}); resp.StatusCode != 200 {
		t.Fatalf("unload: %d %s", resp.StatusCode, body)
	}
	if resp, _ := s.post(t, "/api/v1/unload", map[string]any{"model_name": "alpha"}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second unload: %d", resp.StatusCode)
	}
	if resp, body := s.post(t, "/api/v1/unload", map[string]any{}); resp.StatusCode != 200 {
		t.Fatalf("unload all: %d %s", resp.StatusCode, body)
	}
	if got := s.loaded(t); len(got) != 0 {
		t.Fatalf("loaded=%v", got)
	}
}

func TestE2E_PullLoadDelete(t *testing.T) {
	s := newStack(t, nil)
	resp, body := s.post(t, "/api/v1/pull", map[string]any{
		"model_name": "user.Tiny",
		"path":       "/models/tiny.gguf",
		"recipe":     "llamacpp",
		"reasoning":  true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pull: %d %s", resp.StatusCode, body)
	}
	resp, body = s.get(t, "/api/v1/models/user.Tiny")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "reasoning") {
		t.Fatalf("model entry: %d %s", resp.StatusCode, body)
	}
	if resp, body := s.post(t, "/api/v1/chat/completions", chat("user.Tiny", false)); resp.StatusCode != 200 {
		t.Fatalf("chat: %d %s", resp.StatusCode, body)
	}
	if resp, body := s.post(t, "/api/v1/delete", map[string]any{"model_name": "user.Tiny"}); resp.StatusCode != 200 {
		t.Fatalf("delete: %d %s", resp.StatusCode, body)
	}
	if got := s.loaded(t); len(got) != 0 {
		t.Fatalf("deleted model still loaded: %v", got)
	}
	if resp, _ := s.get(t, "/api/v1/models/user.Tiny"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted model still listed: %d", resp.StatusCode)
	}

	// Shipped entries cannot be shadowed.
	resp, body = s.post(t, "/api/v1/pull", map[string]any{"model_name": "alpha", "path": "/x.gguf"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("shadowing pull: %d %s", resp.StatusCode, body)
	}
}

func TestE2E_Transcription(t *testing.T) {
	s := newStack(t, nil)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("model", "Whisper-Tiny")
	fw, _ := mw.CreateFormFile("file", "clip.wav")
	_, _ = fw.Write([]byte("RIFF0000WAVE"))
	_ = mw.Close()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, s.srv.URL+"/api/v1/audio/transcriptions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, body := do(t, req)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "hi there") {
		t.Fatalf("transcription: %d %s", resp.StatusCode, body)
	}
	if got := s.loaded(t); got["Whisper-Tiny"].Category != types.CategoryAudio {
		t.Fatalf("loaded=%v", got)
	}
}
