package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/lookout/internal/config"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("LOOKOUT_TEST_KEY", "secret")

	tests := []struct {
		in, want string
	}{
		{"${LOOKOUT_TEST_KEY}", "secret"},
		{"Bearer ${LOOKOUT_TEST_KEY}!", "Bearer secret!"},
		{"${LOOKOUT_TEST_UNSET}", ""},
		{"pa$$word", "pa$$word"},
		{"$LOOKOUT_TEST_KEY", "$LOOKOUT_TEST_KEY"},
	}
	for _, tt := range tests {
		if got := config.ExpandEnv(tt.in); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_ExpandsCredentials(t *testing.T) {
	t.Setenv("LOOKOUT_LLM_KEY", "sk-from-env")
	t.Setenv("LOOKOUT_VISION_KEY", "md-from-env")

	yaml := `
providers:
  llm:
    name: openai
    api_key: ${LOOKOUT_LLM_KEY}
  vision:
    name: moondream
    api_key: ${LOOKOUT_VISION_KEY}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-from-env" || cfg.Providers.Vision.APIKey != "md-from-env" {
		t.Errorf("keys not expanded: %+v", cfg.Providers)
	}
}

func TestLoad_UnsetCredentialIsRejected(t *testing.T) {
	yaml := `
providers:
  llm:
    name: openai
    api_key: ${LOOKOUT_DEFINITELY_UNSET}
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error when the referenced variable is unset")
	}
}

func TestLoad_ResolvesFallbackRelativeToFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "station.jpg"), []byte{0xff, 0xd8}, 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "lookout.yaml")
	writeConfig(t, cfgPath, minimalYAML+"vision:\n  fallback_image: station.jpg\n")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(dir, "station.jpg"); cfg.Vision.FallbackImage != want {
		t.Errorf("fallback_image = %q, want %q", cfg.Vision.FallbackImage, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/lookout.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		Agent:  config.AgentConfig{MaxToolRounds: -1},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"log_level", "providers.llm.name", "max_tool_rounds"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"llm", "vision"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
	if !slices.Contains(config.ValidProviderNames["vision"], "moondream") {
		t.Error("moondream must be a known vision provider")
	}
}
