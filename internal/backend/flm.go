package backend

import (
	"context"
	"fmt"
	"strconv"

	"lemond/pkg/types"
)

// FLM serves NPU models with FastFlowLM. flm resolves weights from its own
// store, so the checkpoint rather than a path identifies the model, both on
// the command line and in request bodies.
type FLM struct{ *server }

func newFLM(cfg Config) *FLM {
	return &FLM{server: newServer("flm", cfg, "/v1/models", map[Endpoint]string{
		EndpointChat:        "/v1/chat/completions",
		EndpointCompletions: "/v1/completions",
		EndpointEmbeddings:  "/v1/embeddings",
	})}
}

func (b *FLM) Start(ctx context.Context, info types.ModelInfo, opts LaunchOptions) error {
	return b.launch(ctx, info, func(_ string, port int) (launchSpec, error) {
		if info.Checkpoint == "" {
			return launchSpec{}, fmt.Errorf("model %s has no checkpoint", info.Name)
		}
		ctxSize := opts.CtxSize
		if ctxSize <= 0 {
			ctxSize = b.cfg.CtxSize
		}
		return launchSpec{
			bin:   b.cfg.FLMBin,
			args:  []string{"serve", info.Checkpoint, "--ctx-len", strconv.Itoa(ctxSize), "--port", strconv.Itoa(port)},
			model: info.Checkpoint,
		}, nil
	})
}
