package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"lemond/pkg/types"
)

// RyzenAI serves ONNX GenAI models (the oga-* recipes) with ryzenai-server.
// The server exposes a halt endpoint, which is the only graceful stop on
// platforms without SIGTERM.
type RyzenAI struct{ *server }

func newRyzenAI(cfg Config) *RyzenAI {
	s := newServer("ryzenai", cfg, "/health", map[Endpoint]string{
		EndpointChat:        "/v1/chat/completions",
		EndpointCompletions: "/v1/completions",
	})
	s.haltPath = "/halt"
	return &RyzenAI{server: s}
}

// ryzenMode maps a recipe to the server's execution mode.
func ryzenMode(r types.Recipe) (string, error) {
	switch r {
	case types.RecipeOGAHybrid:
		return "hybrid", nil
	case types.RecipeOGANPU:
		return "npu", nil
	case types.RecipeOGACPU:
		return "cpu", nil
	}
	return "", fmt.Errorf("recipe %s is not served by ryzenai-server", r)
}

func (b *RyzenAI) Start(ctx context.Context, info types.ModelInfo, opts LaunchOptions) error {
	return b.launch(ctx, info, func(_ string, port int) (launchSpec, error) {
		mode, err := ryzenMode(info.Recipe)
		if err != nil {
			return launchSpec{}, err
		}
		if strings.TrimSpace(info.Path) == "" {
			return launchSpec{}, fmt.Errorf("model %s has no resolved weights path", info.Name)
		}
		ctxSize := opts.CtxSize
		if ctxSize <= 0 {
			ctxSize = b.cfg.CtxSize
		}
		return launchSpec{
			bin: b.cfg.RyzenAIBin,
			args: []string{
				"-m", info.Path,
				"--port", strconv.Itoa(port),
				"--mode", mode,
				"--ctx-size", strconv.Itoa(ctxSize),
			},
		}, nil
	})
}
