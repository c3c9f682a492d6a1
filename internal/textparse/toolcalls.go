package textparse

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"lemond/pkg/types"
)

const (
	toolCallOpen    = "<tool_call>"
	toolCallClose   = "</tool_call>"
	mistralToolTag  = "[TOOL_CALLS]"
	toolCallKindFn  = "function"
	toolCallIDStart = "call_"
)

// rawToolCall is the JSON shape models emit inside tool-call markers.
type rawToolCall struct {
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
}

func (r rawToolCall) toToolCall() (types.ToolCall, bool) {
	if strings.TrimSpace(r.Name) == "" {
		return types.ToolCall{}, false
	}
	args := r.Arguments
	if len(args) == 0 {
		args = r.Parameters
	}
	argStr := "{}"
	if len(args) > 0 {
		// Arguments may arrive as an object or as an already-encoded string.
		var s string
		if err := json.Unmarshal(args, &s); err == nil {
			argStr = s
		} else {
			var compact bytes.Buffer
			if err := json.Compact(&compact, args); err == nil {
				argStr = compact.String()
			}
		}
	}
	return types.ToolCall{
		ID:       toolCallIDStart + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		Type:     toolCallKindFn,
		Function: types.ToolCallFunction{Name: r.Name, Arguments: argStr},
	}, true
}

func parseToolCallObject(body string) (types.ToolCall, bool) {
	var raw rawToolCall
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &raw); err != nil {
		return types.ToolCall{}, false
	}
	return raw.toToolCall()
}

// parseToolCallArray decodes the leading JSON array of a [TOOL_CALLS] tail
// and returns the calls plus whatever text follows the array.
func parseToolCallArray(tail string) ([]types.ToolCall, string, bool) {
	dec := json.NewDecoder(strings.NewReader(tail))
	var raws []rawToolCall
	if err := dec.Decode(&raws); err != nil {
		return nil, tail, false
	}
	rest := tail[dec.InputOffset():]
	calls := make([]types.ToolCall, 0, len(raws))
	for _, r := range raws {
		if tc, ok := r.toToolCall(); ok {
			calls = append(calls, tc)
		}
	}
	return calls, rest, len(calls) > 0
}

// ExtractToolCalls removes tool-call payloads from a complete generation and
// returns them as structured calls. Malformed payloads stay in the text.
func ExtractToolCalls(text string) (string, []types.ToolCall) {
	var sc ToolCallScanner
	content, calls := sc.Add(text)
	fc, fcalls := sc.Flush()
	calls = append(calls, fcalls...)
	for i := range calls {
		calls[i].Index = nil
	}
	return strings.TrimSpace(content + fc), calls
}

type toolState int

const (
	toolStateScanning toolState = iota
	toolStateInCall
	toolStateMistral
)

// ToolCallScanner is the incremental form of ExtractToolCalls. The zero value
// is ready to use.
type ToolCallScanner struct {
	state toolState
	buf   string
	count int
}

// Add consumes a content fragment and returns visible text plus any tool
// calls completed by it.
func (sc *ToolCallScanner) Add(delta string) (string, []types.ToolCall) {
	sc.buf += delta
	var out strings.Builder
	var calls []types.ToolCall
	for sc.buf != "" {
		switch sc.state {
		case toolStateScanning:
			i := strings.Index(sc.buf, toolCallOpen)
			j := strings.Index(sc.buf, mistralToolTag)
			switch {
			case i >= 0 && (j < 0 || i < j):
				out.WriteString(sc.buf[:i])
				sc.buf = sc.buf[i+len(toolCallOpen):]
				sc.state = toolStateInCall
				continue
			case j >= 0:
				out.WriteString(sc.buf[:j])
				sc.buf = sc.buf[j+len(mistralToolTag):]
				sc.state = toolStateMistral
				continue
			}
			keep := partialSuffix(sc.buf, []string{toolCallOpen, mistralToolTag})
			out.WriteString(sc.buf[:len(sc.buf)-keep])
			sc.buf = sc.buf[len(sc.buf)-keep:]
			return out.String(), calls
		case toolStateInCall:
			k := strings.Index(sc.buf, toolCallClose)
			if k < 0 {
				return out.String(), calls
			}
			body := sc.buf[:k]
			sc.buf = sc.buf[k+len(toolCallClose):]
			sc.state = toolStateScanning
			if tc, ok := parseToolCallObject(body); ok {
				calls = append(calls, sc.indexed(tc))
			} else {
				out.WriteString(toolCallOpen + body + toolCallClose)
			}
		case toolStateMistral:
			// The array runs to the end of the generation; wait for Flush.
			return out.String(), calls
		}
	}
	return out.String(), calls
}

// Flush resolves any pending payload at end of stream.
func (sc *ToolCallScanner) Flush() (string, []types.ToolCall) {
	rest := sc.buf
	state := sc.state
	sc.buf = ""
	sc.state = toolStateScanning
	switch state {
	case toolStateInCall:
		if tc, ok := parseToolCallObject(rest); ok {
			return "", []types.ToolCall{sc.indexed(tc)}
		}
		return toolCallOpen + rest, nil
	case toolStateMistral:
		calls, tail, ok := parseToolCallArray(rest)
		if !ok {
			return mistralToolTag + rest, nil
		}
		for i := range calls {
			calls[i] = sc.indexed(calls[i])
		}
		return tail, calls
	}
	return rest, nil
}

// Found reports whether any tool call has been emitted.
func (sc *ToolCallScanner) Found() bool { return sc.count > 0 }

func (sc *ToolCallScanner) indexed(tc types.ToolCall) types.ToolCall {
	idx := sc.count
	tc.Index = &idx
	sc.count++
	return tc
}
