package backend

import (
	"encoding/json"
	"net/http"

	"lemond/internal/textparse"
	"lemond/pkg/types"
)

// nativeUsage is the OpenAI usage object as reported by the child.
type nativeUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// llamaTimings is llama-server's per-request performance block.
type llamaTimings struct {
	PromptN            int     `json:"prompt_n"`
	PromptMS           float64 `json:"prompt_ms"`
	PredictedN         int     `json:"predicted_n"`
	PredictedMS        float64 `json:"predicted_ms"`
	PredictedPerSecond float64 `json:"predicted_per_second"`
}

type nativeError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type nativeStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string           `json:"content"`
			ReasoningContent string           `json:"reasoning_content"`
			ToolCalls        []types.ToolCall `json:"tool_calls"`
		} `json:"delta"`
		Text         string  `json:"text"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage   *nativeUsage  `json:"usage"`
	Timings *llamaTimings `json:"timings"`
	Error   *nativeError  `json:"error"`
}

// toUsage merges the usage object and llama.cpp timings into one record.
// Counts from usage win; timings supply the telemetry.
func toUsage(u *nativeUsage, t *llamaTimings) *types.Usage {
	if u == nil && t == nil {
		return nil
	}
	out := &types.Usage{}
	if t != nil {
		out.PromptTokens = t.PromptN
		out.CompletionTokens = t.PredictedN
		out.TimeToFirstToken = t.PromptMS / 1000
		out.TokensPerSecond = t.PredictedPerSecond
		if out.TokensPerSecond == 0 && t.PredictedMS > 0 {
			out.TokensPerSecond = float64(t.PredictedN) / (t.PredictedMS / 1000)
		}
	}
	if u != nil {
		if u.PromptTokens > 0 {
			out.PromptTokens = u.PromptTokens
		}
		if u.CompletionTokens > 0 {
			out.CompletionTokens = u.CompletionTokens
		}
	}
	out.TotalTokens = out.PromptTokens + out.CompletionTokens
	if u != nil && u.TotalTokens > out.TotalTokens {
		out.TotalTokens = u.TotalTokens
	}
	return out
}

func decodeStreamChunk(data string) (Chunk, error) {
	var msg nativeStreamChunk
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return Chunk{}, err
	}
	if msg.Error != nil {
		return Chunk{}, &UpstreamError{Status: errorStatus(msg.Error.Code), Message: msg.Error.Message}
	}
	var c Chunk
	if len(msg.Choices) > 0 {
		ch := msg.Choices[0]
		c.Content = ch.Delta.Content + ch.Text
		c.Reasoning = ch.Delta.ReasoningContent
		c.ToolCalls = ch.Delta.ToolCalls
		if ch.FinishReason != nil {
			c.FinishReason = *ch.FinishReason
		}
	}
	c.Usage = toUsage(msg.Usage, msg.Timings)
	return c, nil
}

// errorStatus maps a numeric error code to an HTTP status, defaulting to 500.
func errorStatus(code any) int {
	if f, ok := code.(float64); ok && f >= 400 && f < 600 {
		return int(f)
	}
	return http.StatusInternalServerError
}

// normalizeResponse rewrites a buffered reply into the OpenAI shape: the
// client's model name, reasoning and tool calls split out of chat content,
// and a usage block carrying telemetry. Non-JSON bodies pass through.
func normalizeResponse(ep Endpoint, model string, raw []byte) ([]byte, *types.Usage) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw, nil
	}
	var tele struct {
		Usage   *nativeUsage  `json:"usage"`
		Timings *llamaTimings `json:"timings"`
	}
	_ = json.Unmarshal(raw, &tele)
	usage := toUsage(tele.Usage, tele.Timings)

	if model != "" {
		doc["model"] = model
	}
	if ep == EndpointChat {
		normalizeChatChoices(doc)
	}
	delete(doc, "timings")
	if usage != nil {
		doc["usage"] = usage
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return raw, usage
	}
	return out, usage
}

func normalizeChatChoices(doc map[string]any) {
	choices, _ := doc["choices"].([]any)
	for _, c := range choices {
		choice, ok := c.(map[string]any)
		if !ok {
			continue
		}
		msg, ok := choice["message"].(map[string]any)
		if !ok {
			continue
		}
		content, ok := msg["content"].(string)
		if !ok {
			continue
		}
		if rc, _ := msg["reasoning_content"].(string); rc == "" {
			if c, r := textparse.ExtractReasoning(content); r != "" {
				msg["reasoning_content"] = r
				content = c
			}
		}
		if existing, _ := msg["tool_calls"].([]any); len(existing) == 0 {
			if c, calls := textparse.ExtractToolCalls(content); len(calls) > 0 {
				msg["tool_calls"] = calls
				content = c
				if fr, _ := choice["finish_reason"].(string); fr == "" || fr == "stop" {
					choice["finish_reason"] = "tool_calls"
				}
			}
		}
		msg["content"] = content
	}
}
