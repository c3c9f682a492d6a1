package registry

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"lemond/pkg/types"
)

func TestLoadDir_FiltersGGUF(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"a.gguf",
		"b.GGUF", // case-insensitive
		"mmproj-a-f16.gguf",
		"not-model.txt",
		"model.bin",
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte(""), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	models, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d: %+v", len(models), models)
	}
	for _, m := range models {
		if m.Recipe != types.RecipeLlamaCpp || !filepath.IsAbs(m.Path) || !m.Suggested {
			t.Fatalf("unexpected entry: %+v", m)
		}
	}
}

func TestLoadDir_ExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
	if err := os.MkdirAll(filepath.Join(home, "models"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, "models", "x.gguf"), []byte(""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	models, err := LoadDir("~/models")
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 1 || models[0].Name != "x.gguf" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestLoadDir_Missing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

func TestLoadFile_Formats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"models.json": `{"models":[{"name":"Qwen3-0.6B-GGUF","checkpoint":"unsloth/Qwen3-0.6B-GGUF:Q4_0","recipe":"llamacpp","labels":["reasoning"]}]}`,
		"models.yaml": "models:\n  - name: Qwen3-0.6B-GGUF\n    checkpoint: unsloth/Qwen3-0.6B-GGUF:Q4_0\n    recipe: llamacpp\n    labels: [reasoning]\n",
		"models.toml": "[[models]]\nname = \"Qwen3-0.6B-GGUF\"\ncheckpoint = \"unsloth/Qwen3-0.6B-GGUF:Q4_0\"\nrecipe = \"llamacpp\"\nlabels = [\"reasoning\"]\n",
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(dir, name)
			if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			models, err := LoadFile(p)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if len(models) != 1 || models[0].Name != "Qwen3-0.6B-GGUF" || !models[0].HasLabel(types.LabelReasoning) {
				t.Fatalf("unexpected: %+v", models)
			}
		})
	}
}

func TestLoadFile_RelativePathAndValidation(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "models.json")
	_ = os.WriteFile(p, []byte(`{"models":[{"name":"local","path":"weights/local.gguf","recipe":"llamacpp"}]}`), 0o644)
	models, err := LoadFile(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want := filepath.Join(dir, "weights", "local.gguf"); models[0].Path != want {
		t.Fatalf("path=%q want %q", models[0].Path, want)
	}

	_ = os.WriteFile(p, []byte(`{"models":[{"name":"x","checkpoint":"c","recipe":"onnx"}]}`), 0o644)
	if _, err := LoadFile(p); !IsInvalid(err) {
		t.Fatalf("expected invalid entry error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	ok := types.ModelInfo{Name: "m", Checkpoint: "c", Recipe: types.RecipeFLM}
	if err := Validate(ok); err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}
	bad := []types.ModelInfo{
		{Checkpoint: "c", Recipe: types.RecipeFLM},
		{Name: "has space", Checkpoint: "c", Recipe: types.RecipeFLM},
		{Name: "m", Checkpoint: "c"},
		{Name: "m", Recipe: types.RecipeFLM},
		{Name: "m", Checkpoint: "c", Recipe: types.RecipeFLM, Category: "video"},
	}
	for _, m := range bad {
		if err := Validate(m); !IsInvalid(err) {
			t.Fatalf("%+v: expected invalid, got %v", m, err)
		}
	}
}
