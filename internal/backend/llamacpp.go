package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"lemond/pkg/types"
)

// Flags the wrapper owns; user-supplied llamacpp args may not set them.
var reservedLlamaFlags = map[string]bool{
	"-m": true, "--model": true,
	"--host": true, "--port": true,
	"-c": true, "--ctx-size": true,
	"--mmproj": true, "--embeddings": true, "--embedding": true, "--reranking": true, "--rerank": true,
}

// LlamaCpp serves GGUF models with llama.cpp's llama-server.
type LlamaCpp struct{ *server }

func newLlamaCpp(cfg Config) *LlamaCpp {
	return &LlamaCpp{server: newServer("llamacpp", cfg, "/health", map[Endpoint]string{
		EndpointChat:        "/v1/chat/completions",
		EndpointCompletions: "/v1/completions",
		EndpointEmbeddings:  "/v1/embeddings",
		EndpointReranking:   "/v1/rerank",
	})}
}

func (b *LlamaCpp) Start(ctx context.Context, info types.ModelInfo, opts LaunchOptions) error {
	return b.launch(ctx, info, func(host string, port int) (launchSpec, error) {
		bin, args, err := llamaCommand(b.cfg, info, opts, host, port)
		return launchSpec{bin: bin, args: args}, err
	})
}

// llamaCommand builds the llama-server command line for a model.
func llamaCommand(cfg Config, info types.ModelInfo, opts LaunchOptions, host string, port int) (string, []string, error) {
	if strings.TrimSpace(info.Path) == "" {
		return "", nil, fmt.Errorf("model %s has no resolved weights path", info.Name)
	}
	gpu := opts.LlamaBackend
	if gpu == "" {
		gpu = cfg.LlamaBackend
	}
	bin := cfg.LlamaServerBin
	if alt := cfg.LlamaServerBins[gpu]; alt != "" {
		bin = alt
	}
	ctxSize := opts.CtxSize
	if ctxSize <= 0 {
		ctxSize = cfg.CtxSize
	}

	args := []string{
		"-m", info.Path,
		"--host", host,
		"--port", strconv.Itoa(port),
		"-c", strconv.Itoa(ctxSize),
	}
	switch info.ResolveCategory() {
	case types.CategoryEmbedding:
		args = append(args, "--embeddings")
	case types.CategoryReranking:
		args = append(args, "--reranking")
	default:
		args = append(args, "--jinja")
		if info.MMProj != "" {
			args = append(args, "--mmproj", info.MMProj)
		}
	}
	if gpu == "cpu" {
		args = append(args, "-ngl", "0")
	} else {
		args = append(args, "-ngl", "99")
	}

	extra := opts.LlamaArgs
	if len(extra) == 0 {
		extra = cfg.LlamaArgs
	}
	for _, a := range extra {
		flag, _, _ := strings.Cut(a, "=")
		if reservedLlamaFlags[flag] {
			return "", nil, fmt.Errorf("llamacpp args may not override %s", flag)
		}
	}
	return bin, append(args, extra...), nil
}
