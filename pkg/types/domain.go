package types

import "strings"

// Recipe selects the backend program and execution provider used to serve a model.
type Recipe string

const (
	RecipeLlamaCpp  Recipe = "llamacpp"
	RecipeFLM       Recipe = "flm"
	RecipeOGAHybrid Recipe = "oga-hybrid"
	RecipeOGANPU    Recipe = "oga-npu"
	RecipeOGACPU    Recipe = "oga-cpu"
	RecipeWhisper   Recipe = "whispercpp"
)

// Recipes lists every recipe the router knows how to launch.
var Recipes = []Recipe{RecipeLlamaCpp, RecipeFLM, RecipeOGAHybrid, RecipeOGANPU, RecipeOGACPU, RecipeWhisper}

// Valid reports whether r is a known recipe.
func (r Recipe) Valid() bool {
	for _, k := range Recipes {
		if r == k {
			return true
		}
	}
	return false
}

// UsesNPU reports whether models served with this recipe occupy the NPU.
func (r Recipe) UsesNPU() bool {
	switch r {
	case RecipeFLM, RecipeOGANPU, RecipeOGAHybrid:
		return true
	}
	return false
}

// Category groups models that share a capacity-bounded pool.
type Category string

const (
	CategoryLLM       Category = "llm"
	CategoryEmbedding Category = "embedding"
	CategoryReranking Category = "reranking"
	CategoryAudio     Category = "audio"
)

// Categories lists every pool category in a stable order.
var Categories = []Category{CategoryLLM, CategoryEmbedding, CategoryReranking, CategoryAudio}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Capability labels attached to models.
const (
	LabelVision      = "vision"
	LabelReasoning   = "reasoning"
	LabelToolCalling = "tool-calling"
	LabelEmbeddings  = "embeddings"
	LabelReranking   = "reranking"
	LabelAudio       = "audio"
)

// ModelInfo is the resolved, read-only description of an installed model.
type ModelInfo struct {
	// Name clients use to address the model.
	// example: Qwen3-0.6B-GGUF
	Name string `json:"name" yaml:"name" toml:"name" example:"Qwen3-0.6B-GGUF"`
	// Checkpoint identifier, usually a Hugging Face repo (optionally with a ":variant").
	// example: unsloth/Qwen3-0.6B-GGUF:Q4_0
	Checkpoint string `json:"checkpoint" yaml:"checkpoint" toml:"checkpoint" example:"unsloth/Qwen3-0.6B-GGUF:Q4_0"`
	// Resolved on-disk path of the model weights.
	Path string `json:"path,omitempty" yaml:"path" toml:"path"`
	// Backend selector.
	// example: llamacpp
	Recipe Recipe `json:"recipe" yaml:"recipe" toml:"recipe" example:"llamacpp"`
	// Pool category. Derived from labels and recipe when empty.
	// example: llm
	Category Category `json:"category,omitempty" yaml:"category" toml:"category" example:"llm"`
	// Capability labels (vision, reasoning, tool-calling, embeddings, reranking).
	Labels []string `json:"labels,omitempty" yaml:"labels" toml:"labels"`
	// Optional multimodal projector path for vision models.
	MMProj string `json:"mmproj,omitempty" yaml:"mmproj" toml:"mmproj"`
	// Suggested is false for models registered by users rather than shipped in the catalog.
	Suggested bool `json:"suggested,omitempty" yaml:"suggested" toml:"suggested"`
}

// HasLabel reports whether the model carries the given capability label.
func (m ModelInfo) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// RequiresNPU reports whether loading the model takes the system-wide NPU token.
func (m ModelInfo) RequiresNPU() bool { return m.Recipe.UsesNPU() }

// ResolveCategory returns the explicit category, or one derived from labels and recipe.
func (m ModelInfo) ResolveCategory() Category {
	if m.Category.Valid() {
		return m.Category
	}
	switch {
	case m.Recipe == RecipeWhisper || m.HasLabel(LabelAudio):
		return CategoryAudio
	case m.HasLabel(LabelEmbeddings):
		return CategoryEmbedding
	case m.HasLabel(LabelReranking):
		return CategoryReranking
	default:
		return CategoryLLM
	}
}
