// Package streaming relays backend token streams to clients as OpenAI-style
// Server-Sent Events. A Proxy is a backend.Sink: each chunk is normalized and
// written (and flushed) as soon as it arrives, reasoning markers are split
// into reasoning_content deltas, embedded tool calls become tool_calls
// deltas, and a final usage chunk plus the [DONE] sentinel close the stream.
package streaming

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"lemond/internal/backend"
	"lemond/internal/textparse"
	"lemond/pkg/types"
)

// Mode selects the chunk envelope.
type Mode int

const (
	// ModeChat emits chat.completion.chunk events.
	ModeChat Mode = iota
	// ModeCompletion emits text_completion.chunk events. The text completions
	// envelope has no reasoning or tool call fields, so generated text is
	// relayed verbatim and separately reported reasoning is not forwarded.
	ModeCompletion
)

// Leading text held back for a reasoning model before it is released as content.
const maxHeldReasoning = 16 << 10

// Options configure a Proxy.
type Options struct {
	Mode  Mode
	Model string
	// StartInReasoning is set when the prompt template already opened a think
	// block, so the first tokens are reasoning.
	StartInReasoning bool
	// Reasoning marks a model that thinks before answering. Leading text is
	// held until a think marker shows which channel it belongs to, the same
	// rule the buffered path applies.
	Reasoning bool
	// Classify turns an error into the payload of the terminal error event.
	Classify func(error) types.ErrorBody
	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Proxy writes one SSE response. It is not safe for concurrent use; the
// backend calls Chunk from a single goroutine.
type Proxy struct {
	w     io.Writer
	flush func()
	opts  Options

	id      string
	created int64

	start      time.Time
	firstToken time.Time
	lastToken  time.Time
	tokens     int
	usage      *types.Usage
	finish     string

	started  bool
	roleSent bool
	done     bool
	err      error

	reasoning textparse.ReasoningSplitter
	tools     textparse.ToolCallScanner
}

// NewProxy creates a proxy writing to w. flush may be nil.
func NewProxy(w io.Writer, flush func(), opts Options) *Proxy {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Classify == nil {
		opts.Classify = func(err error) types.ErrorBody {
			return types.ErrorBody{Message: err.Error(), Type: "internal_error"}
		}
	}
	prefix := "chatcmpl-"
	if opts.Mode == ModeCompletion {
		prefix = "cmpl-"
	}
	p := &Proxy{
		w:     w,
		flush: flush,
		opts:  opts,
		id:    prefix + strings.ReplaceAll(uuid.NewString(), "-", ""),
		start: opts.Now(),
	}
	p.created = p.start.Unix()
	switch {
	case opts.StartInReasoning:
		p.reasoning.StartInReasoning()
	case opts.Reasoning:
		p.reasoning.HoldUntilMarker(maxHeldReasoning)
	}
	return p
}

// Started reports whether any bytes have been written. Before that, a
// failure can still be reported as a plain JSON error response.
func (p *Proxy) Started() bool { return p.started }

// Chunk implements backend.Sink.
func (p *Proxy) Chunk(c backend.Chunk) error {
	if p.err != nil {
		return p.err
	}
	if c.Usage != nil {
		p.usage = c.Usage
	}
	if c.FinishReason != "" {
		p.finish = c.FinishReason
	}
	if c.Content != "" || c.Reasoning != "" || len(c.ToolCalls) > 0 {
		now := p.opts.Now()
		if p.firstToken.IsZero() {
			p.firstToken = now
			ttftSeconds.Observe(now.Sub(p.start).Seconds())
		}
		p.lastToken = now
		p.tokens++
	}

	if p.opts.Mode == ModeCompletion {
		if c.Content == "" {
			return nil
		}
		return p.writeCompletion(c.Content, nil)
	}

	content, reasoning, calls := c.Content, c.Reasoning, c.ToolCalls
	if content != "" {
		visible, thought := p.reasoning.Add(content)
		reasoning += thought
		var found []types.ToolCall
		content, found = p.tools.Add(visible)
		calls = append(calls, found...)
	}
	return p.writeDelta(content, reasoning, calls)
}

// Finish flushes held-back text, writes the finish and usage chunks and the
// [DONE] sentinel.
func (p *Proxy) Finish() error {
	if p.err != nil || p.done {
		return p.err
	}
	if p.opts.Mode == ModeChat {
		visible, thought := p.reasoning.Flush()
		content, calls := p.tools.Add(visible)
		tail, more := p.tools.Flush()
		if err := p.writeDelta(content+tail, thought, append(calls, more...)); err != nil {
			return err
		}
	}

	reason := p.finish
	if reason == "" {
		reason = "stop"
	}
	if reason == "stop" && p.tools.Found() {
		reason = "tool_calls"
	}
	usage := p.Stats()
	if p.opts.Mode == ModeCompletion {
		if err := p.writeCompletion("", &reason); err != nil {
			return err
		}
		if err := p.writeEvent(types.CompletionChunk{
			ID: p.id, Object: "text_completion.chunk", Created: p.created, Model: p.opts.Model,
			Choices: []types.CompletionChunkChoice{}, Usage: &usage,
		}); err != nil {
			return err
		}
	} else {
		if err := p.writeEvent(p.chatChunk(types.ChunkDelta{}, &reason)); err != nil {
			return err
		}
		if err := p.writeEvent(types.ChatCompletionChunk{
			ID: p.id, Object: "chat.completion.chunk", Created: p.created, Model: p.opts.Model,
			Choices: []types.ChatChunkChoice{}, Usage: &usage,
		}); err != nil {
			return err
		}
	}
	p.done = true
	return p.writeRaw("data: [DONE]\n\n")
}

// Fail writes a single error event. Nothing is written after it.
func (p *Proxy) Fail(err error) error {
	if p.err != nil || p.done {
		return p.err
	}
	p.done = true
	return p.writeEvent(types.ErrorResponse{Error: p.opts.Classify(err)})
}

// Stats returns usage for the stream so far. Counts reported by the backend
// win; otherwise each relayed chunk counts as one token and timing comes
// from the proxy's own clock.
func (p *Proxy) Stats() types.Usage {
	var u types.Usage
	if p.usage != nil {
		u = *p.usage
	}
	if u.CompletionTokens == 0 {
		u.CompletionTokens = p.tokens
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	if u.TimeToFirstToken == 0 && !p.firstToken.IsZero() {
		u.TimeToFirstToken = p.firstToken.Sub(p.start).Seconds()
	}
	if u.TokensPerSecond == 0 && u.CompletionTokens > 1 {
		if gen := p.lastToken.Sub(p.firstToken).Seconds(); gen > 0 {
			u.TokensPerSecond = float64(u.CompletionTokens-1) / gen
		}
	}
	return u
}

func (p *Proxy) writeDelta(content, reasoning string, calls []types.ToolCall) error {
	if content == "" && reasoning == "" && len(calls) == 0 {
		return nil
	}
	d := types.ChunkDelta{Content: content, ReasoningContent: reasoning, ToolCalls: calls}
	if !p.roleSent {
		d.Role = "assistant"
		p.roleSent = true
	}
	return p.writeEvent(p.chatChunk(d, nil))
}

func (p *Proxy) chatChunk(d types.ChunkDelta, finish *string) types.ChatCompletionChunk {
	return types.ChatCompletionChunk{
		ID:      p.id,
		Object:  "chat.completion.chunk",
		Created: p.created,
		Model:   p.opts.Model,
		Choices: []types.ChatChunkChoice{{Index: 0, Delta: d, FinishReason: finish}},
	}
}

func (p *Proxy) writeCompletion(text string, finish *string) error {
	return p.writeEvent(types.CompletionChunk{
		ID:      p.id,
		Object:  "text_completion.chunk",
		Created: p.created,
		Model:   p.opts.Model,
		Choices: []types.CompletionChunkChoice{{Index: 0, Text: text, FinishReason: finish}},
	})
}

func (p *Proxy) writeEvent(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.writeRaw("data: " + string(b) + "\n\n")
}

// writeRaw commits headers on first use and records the first write error,
// which is how a disconnected client is detected.
func (p *Proxy) writeRaw(s string) error {
	if p.err != nil {
		return p.err
	}
	if !p.started {
		if hw, ok := p.w.(http.ResponseWriter); ok {
			h := hw.Header()
			h.Set("Content-Type", "text/event-stream")
			h.Set("Cache-Control", "no-cache")
			h.Set("Connection", "keep-alive")
			h.Set("X-Accel-Buffering", "no")
		}
		p.started = true
	}
	if _, err := io.WriteString(p.w, s); err != nil {
		p.err = err
		disconnectsTotal.Inc()
		return err
	}
	if p.flush != nil {
		p.flush()
	}
	return nil
}
