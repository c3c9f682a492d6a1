package types

// ErrorBody is the OpenAI-style error object.
type ErrorBody struct {
	// Human readable message.
	// example: model not found: Qwen3-0.6B-GGUF
	Message string `json:"message" example:"model not found: Qwen3-0.6B-GGUF"`
	// Error class, e.g. invalid_request_error, not_found_error, internal_error.
	// example: not_found_error
	Type string `json:"type" example:"not_found_error"`
	// HTTP status code.
	// example: 404
	Code int `json:"code,omitempty" example:"404"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ToolCallFunction carries the function name and JSON-encoded arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a structured function call extracted from generated text.
type ToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// Usage contains token accounting plus generation telemetry.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	// Seconds from request start to the first generated token.
	TimeToFirstToken float64 `json:"time_to_first_token,omitempty"`
	// Generation throughput after the first token.
	TokensPerSecond float64 `json:"tokens_per_second,omitempty"`
}

// ChunkDelta is the incremental message fragment of a chat stream.
type ChunkDelta struct {
	Role             string     `json:"role,omitempty"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// ChatChunkChoice is one choice within a chat.completion.chunk.
type ChatChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is the chat.completion.chunk envelope.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
	Usage   *Usage            `json:"usage,omitempty"`
}

// CompletionChunkChoice is one choice within a text_completion.chunk.
type CompletionChunkChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason"`
}

// CompletionChunk is the text_completion.chunk envelope.
type CompletionChunk struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Created int64                   `json:"created"`
	Model   string                  `json:"model"`
	Choices []CompletionChunkChoice `json:"choices"`
	Usage   *Usage                  `json:"usage,omitempty"`
}

// ModelEntry is one row of GET /api/v1/models.
type ModelEntry struct {
	ID         string   `json:"id" example:"Qwen3-0.6B-GGUF"`
	Object     string   `json:"object" example:"model"`
	Created    int64    `json:"created"`
	OwnedBy    string   `json:"owned_by" example:"lemond"`
	Checkpoint string   `json:"checkpoint"`
	Recipe     Recipe   `json:"recipe" example:"llamacpp"`
	Category   Category `json:"category" example:"llm"`
	Labels     []string `json:"labels,omitempty"`
	Loaded     bool     `json:"loaded"`
}

// ModelsResponse wraps the list of models returned by GET /api/v1/models.
type ModelsResponse struct {
	Object string       `json:"object" example:"list"`
	Data   []ModelEntry `json:"data"`
}

// LoadRequest is the body of POST /api/v1/load.
type LoadRequest struct {
	// example: Qwen3-0.6B-GGUF
	ModelName string `json:"model_name" example:"Qwen3-0.6B-GGUF"`
	// Optional context size override.
	// example: 8192
	CtxSize int `json:"ctx_size,omitempty" example:"8192"`
	// Optional llama.cpp GPU backend (vulkan, rocm, metal, cpu).
	// example: vulkan
	LlamacppBackend string `json:"llamacpp_backend,omitempty" example:"vulkan"`
	// Optional extra llama-server arguments, space separated.
	LlamacppArgs string `json:"llamacpp_args,omitempty"`
}

// UnloadRequest is the body of POST /api/v1/unload. An empty model name unloads everything.
type UnloadRequest struct {
	ModelName string `json:"model_name,omitempty"`
}

// PullRequest registers a model with the model catalog.
type PullRequest struct {
	ModelName  string   `json:"model_name"`
	Checkpoint string   `json:"checkpoint,omitempty"`
	Recipe     Recipe   `json:"recipe,omitempty"`
	Path       string   `json:"path,omitempty"`
	MMProj     string   `json:"mmproj,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	// Convenience flags mirrored into Labels.
	Reasoning  bool `json:"reasoning,omitempty"`
	Vision     bool `json:"vision,omitempty"`
	Embeddings bool `json:"embedding,omitempty"`
	Reranking  bool `json:"reranking,omitempty"`
}

// DeleteRequest removes a model from the catalog.
type DeleteRequest struct {
	ModelName string `json:"model_name"`
}

// StatusMessage is a generic success body for management endpoints.
type StatusMessage struct {
	Status  string `json:"status" example:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	// Most recently loaded LLM, empty when none.
	ModelLoaded     string            `json:"model_loaded"`
	AllModelsLoaded []LoadedModelInfo `json:"all_models_loaded"`
	MaxModels       map[Category]int  `json:"max_models"`
}

// LoadedModelInfo describes a loaded model for /health.
type LoadedModelInfo struct {
	ModelName  string   `json:"model_name"`
	Checkpoint string   `json:"checkpoint"`
	Recipe     Recipe   `json:"recipe"`
	Category   Category `json:"type"`
	Device     string   `json:"device"`
}

// StatsResponse reports telemetry of the most recent completed inference.
type StatsResponse struct {
	TimeToFirstToken float64 `json:"time_to_first_token"`
	TokensPerSecond  float64 `json:"tokens_per_second"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
}

// SlotStatus summarizes a backend slot for /status.
type SlotStatus struct {
	// example: Qwen3-0.6B-GGUF
	ModelName string   `json:"model_name" example:"Qwen3-0.6B-GGUF"`
	Category  Category `json:"category" example:"llm"`
	Recipe    Recipe   `json:"recipe" example:"llamacpp"`
	// Slot lifecycle state (loading, ready, serving, draining, failed).
	// example: ready
	State string `json:"state" example:"ready"`
	// Backend process state.
	BackendState string `json:"backend_state,omitempty" example:"ready"`
	// Requests currently holding the slot.
	Refs int `json:"refs"`
	// Last time this slot served a request (unix seconds).
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	NPU      bool  `json:"npu"`
	Port     int   `json:"port,omitempty" example:"8001"`
	PID      int   `json:"pid,omitempty" example:"12345"`
	CtxSize  int   `json:"ctx_size,omitempty"`
}

// PoolStatus reports one category pool.
type PoolStatus struct {
	Category Category     `json:"category"`
	Capacity int          `json:"capacity"`
	Slots    []SlotStatus `json:"slots"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Pools []PoolStatus `json:"pools"`
	// Model currently holding the NPU, empty when free.
	NPUHolder string `json:"npu_holder,omitempty"`
	// Total number of evictions performed.
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Total number of successful model loads.
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Last load error observed (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
