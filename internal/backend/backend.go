// Package backend wraps one external inference server process per model and
// normalizes its wire protocol to the OpenAI-compatible shape served by the
// router.
//
// The set of wrappers is closed: LlamaCpp (llama.cpp llama-server), FLM
// (FastFlowLM), RyzenAI (ryzenai-server for the oga-* recipes) and Whisper
// (whisper.cpp server). New selects one from a model's recipe. All of them
// share the process and HTTP plumbing in server.go and differ in launch
// arguments, native paths and request shaping.
package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"lemond/internal/process"
	"lemond/pkg/types"
)

// State is the lifecycle state of a backend process.
type State string

const (
	StateIdle           State = "idle"
	StateSpawning       State = "spawning"
	StateHealthChecking State = "health_checking"
	StateReady          State = "ready"
	StateServing        State = "serving"
	StateStopping       State = "stopping"
	StateStopped        State = "stopped"
	StateFailed         State = "failed"
)

// Endpoint names a normalized API operation.
type Endpoint string

const (
	EndpointChat           Endpoint = "chat/completions"
	EndpointCompletions    Endpoint = "completions"
	EndpointEmbeddings     Endpoint = "embeddings"
	EndpointReranking      Endpoint = "reranking"
	EndpointTranscriptions Endpoint = "audio/transcriptions"
)

// Backend is the capability set every wrapper variant implements.
type Backend interface {
	// Start launches the process and blocks until it is healthy. On failure the
	// process is terminated and its port released before returning.
	Start(ctx context.Context, info types.ModelInfo, opts LaunchOptions) error
	// Forward relays a buffered request and returns the normalized response.
	Forward(ctx context.Context, req *Request) (*Response, error)
	// ForwardStream relays a streamed request, handing each normalized chunk
	// to sink as it arrives.
	ForwardStream(ctx context.Context, req *Request, sink Sink) error
	// Stop shuts the process down, force-killing it after timeout.
	Stop(timeout time.Duration) error
	// Alive reports whether the process is running and not failed.
	Alive() bool
	State() State
	Port() int
	PID() int
}

// LaunchOptions are per-load overrides of the configured defaults.
type LaunchOptions struct {
	CtxSize      int
	LlamaBackend string
	LlamaArgs    []string
}

// Request is a normalized inference request.
type Request struct {
	Endpoint Endpoint
	// Model name as sent by the client; echoed back in responses.
	Model  string
	Stream bool
	// Decoded JSON body. Backends copy it before rewriting fields.
	Body map[string]any
	// Audio upload for transcription requests.
	Audio *AudioFile
}

// AudioFile is a multipart upload destined for a transcription backend.
type AudioFile struct {
	Filename string
	Data     []byte
	Fields   map[string]string
}

// Response is a normalized buffered response.
type Response struct {
	Status int
	Body   []byte
	Usage  *types.Usage
}

// Chunk is one normalized streaming delta.
type Chunk struct {
	Content      string
	Reasoning    string
	ToolCalls    []types.ToolCall
	FinishReason string
	Usage        *types.Usage
}

// Empty reports whether the chunk carries nothing worth relaying.
func (c Chunk) Empty() bool {
	return c.Content == "" && c.Reasoning == "" && len(c.ToolCalls) == 0 && c.FinishReason == "" && c.Usage == nil
}

// Sink receives streamed chunks. Returning an error stops the stream.
type Sink interface {
	Chunk(Chunk) error
}

// Defaults applied when the corresponding Config fields are unset.
const (
	defaultHealthInterval = 250 * time.Millisecond
	defaultRequestTimeout = 10 * time.Minute
	defaultStopTimeout    = 5 * time.Second
	defaultCtxSize        = 4096
)

// Health-check budgets per recipe. NPU and hybrid loads compile large graphs
// and need minutes.
var defaultLoadTimeouts = map[types.Recipe]time.Duration{
	types.RecipeLlamaCpp:  2 * time.Minute,
	types.RecipeFLM:       4 * time.Minute,
	types.RecipeOGAHybrid: 4 * time.Minute,
	types.RecipeOGANPU:    4 * time.Minute,
	types.RecipeOGACPU:    2 * time.Minute,
	types.RecipeWhisper:   time.Minute,
}

// Config holds process and protocol settings shared by all wrappers.
type Config struct {
	// Executables per backend program.
	LlamaServerBin string
	// Optional llama-server builds keyed by GPU backend (vulkan, rocm, metal, cpu).
	LlamaServerBins map[string]string
	FLMBin          string
	RyzenAIBin      string
	WhisperBin      string

	// Default llama.cpp GPU backend and extra args when a load does not override them.
	LlamaBackend string
	LlamaArgs    []string
	CtxSize      int

	Ports          *process.PortAllocator
	HealthInterval time.Duration
	// LoadTimeout overrides every per-recipe default when > 0.
	LoadTimeout  time.Duration
	LoadTimeouts map[types.Recipe]time.Duration
	// Upper bound on a single forwarded request.
	RequestTimeout time.Duration
	StopTimeout    time.Duration

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.Ports == nil {
		c.Ports = process.NewPortAllocator("127.0.0.1", 0, 0)
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.CtxSize <= 0 {
		c.CtxSize = defaultCtxSize
	}
	if c.HTTPClient == nil {
		// Timeout=0: every request carries a context deadline instead, so long
		// generations are not cut off by a client-wide limit.
		c.HTTPClient = &http.Client{Timeout: 0}
	}
	return c
}

// loadTimeout returns the health-check budget for a recipe.
func (c Config) loadTimeout(r types.Recipe) time.Duration {
	if c.LoadTimeout > 0 {
		return c.LoadTimeout
	}
	if d, ok := c.LoadTimeouts[r]; ok && d > 0 {
		return d
	}
	if d, ok := defaultLoadTimeouts[r]; ok {
		return d
	}
	return 2 * time.Minute
}

// New returns the wrapper variant serving the given recipe.
func New(recipe types.Recipe, cfg Config) (Backend, error) {
	cfg = cfg.withDefaults()
	switch recipe {
	case types.RecipeLlamaCpp:
		return newLlamaCpp(cfg), nil
	case types.RecipeFLM:
		return newFLM(cfg), nil
	case types.RecipeOGAHybrid, types.RecipeOGANPU, types.RecipeOGACPU:
		return newRyzenAI(cfg), nil
	case types.RecipeWhisper:
		return newWhisper(cfg), nil
	}
	return nil, &UnsupportedError{What: "recipe " + string(recipe)}
}
