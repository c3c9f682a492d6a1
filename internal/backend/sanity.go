package backend

import (
	"os/exec"
	"sort"
)

// BinaryCheck reports whether one backend executable can be found.
type BinaryCheck struct {
	Backend string `json:"backend"`
	Path    string `json:"path,omitempty"`
	Found   bool   `json:"found"`
	Error   string `json:"error,omitempty"`
}

// SanityCheck looks up every configured backend executable on PATH. It does
// not start anything; a missing binary only matters once a model using it is
// loaded.
func (c Config) SanityCheck() []BinaryCheck {
	bins := map[string]string{
		"llamacpp":   c.LlamaServerBin,
		"flm":        c.FLMBin,
		"ryzenai":    c.RyzenAIBin,
		"whispercpp": c.WhisperBin,
	}
	for gpu, bin := range c.LlamaServerBins {
		bins["llamacpp-"+gpu] = bin
	}
	out := make([]BinaryCheck, 0, len(bins))
	for name, bin := range bins {
		r := BinaryCheck{Backend: name, Path: bin}
		switch {
		case bin == "":
			r.Error = "not configured"
		default:
			if p, err := exec.LookPath(bin); err != nil {
				r.Error = err.Error()
			} else {
				r.Found, r.Path = true, p
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}
