// Command fake_backend impersonates llama-server, flm, ryzenai-server and
// whisper-server closely enough for the wrapper tests. Behavior is selected
// with FAKE_BACKEND_MODE:
//
//	exit      print to stderr and exit 3 before listening
//	nohealth  listen but answer 503 on health checks forever
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	host, port := "127.0.0.1", "0"
	args := os.Args[1:]
	for i := 0; i < len(args)-1; i++ {
		switch args[i] {
		case "--host":
			host = args[i+1]
		case "--port":
			port = args[i+1]
		}
	}
	mode := os.Getenv("FAKE_BACKEND_MODE")
	if mode == "exit" {
		fmt.Fprintln(os.Stderr, "boom: cannot load model")
		os.Exit(3)
	}

	health := func(w http.ResponseWriter, r *http.Request) {
		if mode == "nohealth" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", health)
	mux.HandleFunc("/v1/models", health)
	mux.HandleFunc("/v1/chat/completions", chat)
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"object": "list",
			"model":  "native",
			"data":   []any{map[string]any{"object": "embedding", "index": 0, "embedding": []float64{0.1, 0.2}}},
			"usage":  map[string]any{"prompt_tokens": 3, "total_tokens": 3},
		})
	})
	mux.HandleFunc("/inference", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil || r.FormValue("response_format") != "json" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"text": " hi there "})
	})
	mux.HandleFunc("/halt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		go func() {
			time.Sleep(10 * time.Millisecond)
			os.Exit(0)
		}()
	})

	srv := &http.Server{Addr: net.JoinHostPort(host, port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

var timings = map[string]any{
	"prompt_n": 5, "prompt_ms": 50.0, "predicted_n": 2, "predicted_ms": 20.0, "predicted_per_second": 100.0,
}

func chat(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req["model"] == "crash" {
		os.Exit(2)
	}
	if mt, ok := req["max_tokens"].(float64); ok && mt < 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"max_tokens must be positive","type":"invalid_request_error"}}`))
		return
	}
	if stream, _ := req["stream"].(bool); stream {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		send := func(v any) {
			b, _ := json.Marshal(v)
			fmt.Fprintf(w, "data: %s\n\n", b)
			fl.Flush()
		}
		for _, piece := range []string{"<think>hmm</think>", "Hel", "lo"} {
			send(map[string]any{"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": piece}}}})
		}
		send(map[string]any{"choices": []any{map[string]any{"index": 0, "delta": map[string]any{}, "finish_reason": "stop"}}})
		send(map[string]any{
			"choices": []any{},
			"usage":   map[string]any{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
			"timings": timings,
		})
		fmt.Fprint(w, "data: [DONE]\n\n")
		fl.Flush()
		return
	}
	writeJSON(w, map[string]any{
		"id":     "chatcmpl-native",
		"object": "chat.completion",
		"model":  req["model"],
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": "<think>hmm</think>Hello"},
			"finish_reason": "stop",
		}},
		"usage":   map[string]any{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		"timings": timings,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
