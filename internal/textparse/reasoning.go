// Package textparse separates model "thinking" and embedded tool calls from
// generated text. Every parser has a whole-text form for buffered responses
// and an incremental form that tolerates markers split across stream chunks.
package textparse

import "strings"

type span struct{ open, close string }

// Reasoning delimiters, longest variants first so a full harmony header wins
// over its suffix.
var reasoningSpans = []span{
	{"<|start|>assistant<|channel|>analysis<|message|>", "<|end|>"},
	{"<|channel|>analysis<|message|>", "<|end|>"},
	{"<think>", "</think>"},
}

// Harmony framing that carries no user-visible text.
var strippedTokens = []string{
	"<|start|>assistant<|channel|>final<|message|>",
	"<|channel|>final<|message|>",
	"<|return|>",
}

// ReasoningSplitter routes streamed text into answer and reasoning channels.
// The zero value is ready to use.
type ReasoningSplitter struct {
	buf         string
	inReasoning bool
	closeTag    string

	// Leading text is held until a marker decides its channel.
	pending      bool
	pendingLimit int
}

// StartInReasoning is used when the prompt template already opened a think
// block, so the stream begins inside reasoning.
func (s *ReasoningSplitter) StartInReasoning() {
	s.inReasoning = true
	s.closeTag = "</think>"
	s.pending = false
}

// HoldUntilMarker keeps leading text back until an opening marker or a bare
// </think> appears. A bare </think> means the prompt template opened the
// block, so everything before it is reasoning. Once more than limit bytes are
// held without a marker the text is released as content.
func (s *ReasoningSplitter) HoldUntilMarker(limit int) {
	s.pending = true
	s.pendingLimit = limit
}

// Add consumes the next fragment and returns the text that can be released
// on each channel. Text that may be the start of a marker is held back.
func (s *ReasoningSplitter) Add(delta string) (content, reasoning string) {
	s.buf += delta
	var c, r strings.Builder
	for s.buf != "" {
		if s.pending {
			closeAt := strings.Index(s.buf, "</think>")
			openAt, _, _ := s.nextMarker()
			switch {
			case closeAt >= 0 && (openAt < 0 || closeAt < openAt):
				r.WriteString(s.buf[:closeAt])
				s.buf = s.buf[closeAt+len("</think>"):]
				s.pending = false
				continue
			case openAt >= 0 || len(s.buf) > s.pendingLimit:
				s.pending = false
			default:
				return c.String(), r.String()
			}
		}
		if s.inReasoning {
			if i := strings.Index(s.buf, s.closeTag); i >= 0 {
				r.WriteString(s.buf[:i])
				s.buf = s.buf[i+len(s.closeTag):]
				s.inReasoning = false
				continue
			}
			keep := partialSuffix(s.buf, []string{s.closeTag})
			r.WriteString(s.buf[:len(s.buf)-keep])
			s.buf = s.buf[len(s.buf)-keep:]
			break
		}
		idx, tok, sp := s.nextMarker()
		if idx >= 0 {
			c.WriteString(s.buf[:idx])
			s.buf = s.buf[idx+len(tok):]
			if sp != nil {
				s.inReasoning = true
				s.closeTag = sp.close
			}
			continue
		}
		keep := partialSuffix(s.buf, allMarkers())
		c.WriteString(s.buf[:len(s.buf)-keep])
		s.buf = s.buf[len(s.buf)-keep:]
		break
	}
	return c.String(), r.String()
}

// Flush releases any held-back text to the current channel.
func (s *ReasoningSplitter) Flush() (content, reasoning string) {
	rest := s.buf
	s.buf = ""
	s.pending = false
	if s.inReasoning {
		return "", rest
	}
	return rest, ""
}

// nextMarker finds the earliest opening or stripped token in the buffer.
func (s *ReasoningSplitter) nextMarker() (int, string, *span) {
	best, bestTok := -1, ""
	var bestSpan *span
	consider := func(i int, tok string, sp *span) {
		if i < 0 {
			return
		}
		if best < 0 || i < best || (i == best && len(tok) > len(bestTok)) {
			best, bestTok, bestSpan = i, tok, sp
		}
	}
	for i := range reasoningSpans {
		sp := &reasoningSpans[i]
		consider(strings.Index(s.buf, sp.open), sp.open, sp)
	}
	for _, tok := range strippedTokens {
		consider(strings.Index(s.buf, tok), tok, nil)
	}
	return best, bestTok, bestSpan
}

func allMarkers() []string {
	out := make([]string, 0, len(reasoningSpans)+len(strippedTokens))
	for _, sp := range reasoningSpans {
		out = append(out, sp.open)
	}
	return append(out, strippedTokens...)
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of one of the tokens.
func partialSuffix(s string, tokens []string) int {
	longest := 0
	for _, tok := range tokens {
		for n := min(len(tok)-1, len(s)); n > longest; n-- {
			if strings.HasSuffix(s, tok[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}

// ExtractReasoning splits a complete generation into visible content and
// reasoning. A closing </think> before any opener means the template opened
// the block in the prompt.
func ExtractReasoning(text string) (content, reasoning string) {
	var s ReasoningSplitter
	s.HoldUntilMarker(len(text))
	c, r := s.Add(text)
	fc, fr := s.Flush()
	return strings.TrimSpace(c + fc), strings.TrimSpace(r + fr)
}
