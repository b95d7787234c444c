package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/MrWong99/lookout/internal/mcp"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure returned by [Validate].
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultInstructions     = "You are a helpful voice AI assistant. The user may share their camera with you. Use describe_scene when they ask what is around them and locate_least_crowded_area when they want to know where there is more room. Keep answers short and spoken."
	DefaultGreeting         = "Greet the user and offer your assistance."
	DefaultMaxToolRounds    = 3
	DefaultTurnTimeout      = 45 * time.Second
	DefaultMaxHistoryTokens = 8000
	DefaultBreakerFailures  = 5
	DefaultBreakerReset     = 30 * time.Second
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"vision": {"moondream", "openai", "gemini"},
}

// keyless lists providers that run locally and need no API key.
var keyless = []string{"ollama", "llamacpp", "llamafile"}

// envRef matches a "${NAME}" environment variable reference.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// A relative vision.fallback_image is resolved against the directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := loadBytes(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Relative paths are resolved against the working directory.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBytes(data []byte, dir string) (*Config, error) {
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if img := cfg.Vision.FallbackImage; img != "" && !filepath.IsAbs(img) {
		cfg.Vision.FallbackImage = filepath.Join(dir, img)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	ApplyDefaults(cfg)
	return cfg, nil
}

// expandSecrets replaces ${VAR} references in credential fields.
func expandSecrets(cfg *Config) {
	cfg.Providers.LLM.APIKey = ExpandEnv(cfg.Providers.LLM.APIKey)
	cfg.Providers.Vision.APIKey = ExpandEnv(cfg.Providers.Vision.APIKey)
	cfg.SessionLog.PostgresDSN = ExpandEnv(cfg.SessionLog.PostgresDSN)
	for i := range cfg.MCP.Servers {
		for k, v := range cfg.MCP.Servers[i].Env {
			cfg.MCP.Servers[i].Env[k] = ExpandEnv(v)
		}
	}
}

// ExpandEnv replaces every ${NAME} in s with the value of the environment
// variable NAME. Unset variables expand to the empty string. A bare "$" is
// left alone so secrets containing dollar signs survive.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// ApplyDefaults fills zero-value fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Agent.Instructions == "" {
		cfg.Agent.Instructions = DefaultInstructions
	}
	if cfg.Agent.Greeting == "" {
		cfg.Agent.Greeting = DefaultGreeting
	}
	if cfg.Agent.MaxToolRounds == 0 {
		cfg.Agent.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.Agent.TurnTimeout == 0 {
		cfg.Agent.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.Agent.MaxHistoryTokens == 0 {
		cfg.Agent.MaxHistoryTokens = DefaultMaxHistoryTokens
	}
	if cfg.Vision.Breaker.MaxFailures == 0 {
		cfg.Vision.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if cfg.Vision.Breaker.ResetTimeout == 0 {
		cfg.Vision.Breaker.ResetTimeout = DefaultBreakerReset
	}
}

// Validate checks that cfg contains a coherent set of values.
// All failures are joined and wrapped in [ErrInvalidConfig].
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("vision", cfg.Providers.Vision.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	} else if cfg.Providers.LLM.APIKey == "" && !slices.Contains(keyless, cfg.Providers.LLM.Name) && cfg.Providers.LLM.BaseURL == "" {
		errs = append(errs, fmt.Errorf("providers.llm: provider %q requires api_key", cfg.Providers.LLM.Name))
	}
	if cfg.Providers.Vision.Name == "" {
		slog.Warn("providers.vision is not configured; vision tools will not be offered")
	} else if cfg.Providers.Vision.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.vision: provider %q requires api_key", cfg.Providers.Vision.Name))
	}

	// Agent
	if cfg.Agent.MaxToolRounds < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tool_rounds %d must not be negative", cfg.Agent.MaxToolRounds))
	}
	if cfg.Agent.TurnTimeout < 0 {
		errs = append(errs, fmt.Errorf("agent.turn_timeout %s must not be negative", cfg.Agent.TurnTimeout))
	}
	if cfg.Agent.MaxHistoryTokens < 0 {
		errs = append(errs, fmt.Errorf("agent.max_history_tokens %d must not be negative", cfg.Agent.MaxHistoryTokens))
	}

	// Vision
	if cfg.Vision.MaxEdge < 0 {
		errs = append(errs, fmt.Errorf("vision.max_edge %d must not be negative", cfg.Vision.MaxEdge))
	}
	if cfg.Vision.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("vision.breaker.max_failures %d must not be negative", cfg.Vision.Breaker.MaxFailures))
	}
	if path := cfg.Vision.FallbackImage; path != "" {
		if f, err := os.Open(path); err != nil {
			errs = append(errs, fmt.Errorf("vision.fallback_image: %w", err))
		} else {
			f.Close()
		}
	}

	// MCP servers
	if cfg.MCP.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("mcp.call_timeout %s must not be negative", cfg.MCP.CallTimeout))
	}
	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if prev, ok := seen[srv.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
		} else {
			seen[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
