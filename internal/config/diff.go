package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are flagged individually; anything else is listed
// in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AgentChanged is true if the instructions or the greeting changed. New
	// sessions pick up the change.
	AgentChanged bool

	// VisionPromptsChanged is true if a filler phrase or the least-crowded
	// prompt changed. New sessions pick up the change.
	VisionPromptsChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// HotReloadable reports whether d contains a change that can be applied
// without restarting.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.AgentChanged || d.VisionPromptsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Agent.Instructions != new.Agent.Instructions || old.Agent.Greeting != new.Agent.Greeting ||
		old.Agent.SkipGreeting != new.Agent.SkipGreeting {
		d.AgentChanged = true
	}

	ov, nv := old.Vision, new.Vision
	if ov.DescribeFiller != nv.DescribeFiller || ov.LocateFiller != nv.LocateFiller || ov.LeastCrowdedPrompt != nv.LeastCrowdedPrompt {
		d.VisionPromptsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !equalTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !equalEntry(old.Providers.LLM, new.Providers.LLM) || !equalEntry(old.Providers.Vision, new.Providers.Vision) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Agent.MaxToolRounds != new.Agent.MaxToolRounds || old.Agent.TurnTimeout != new.Agent.TurnTimeout ||
		old.Agent.MaxHistoryTokens != new.Agent.MaxHistoryTokens {
		d.RestartRequired = append(d.RestartRequired, "agent")
	}
	if ov.FallbackImage != nv.FallbackImage || ov.MaxEdge != nv.MaxEdge || ov.Breaker != nv.Breaker {
		d.RestartRequired = append(d.RestartRequired, "vision")
	}
	if !slices.Equal(old.Transport.STUNServers, new.Transport.STUNServers) ||
		!slices.Equal(old.Transport.AllowedOrigins, new.Transport.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "transport")
	}
	if !equalServers(old.MCP.Servers, new.MCP.Servers) || old.MCP.CallTimeout != new.MCP.CallTimeout {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.SessionLog != new.SessionLog {
		d.RestartRequired = append(d.RestartRequired, "sessionlog")
	}

	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// equalEntry ignores Options, which are compared by the provider factories.
func equalEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

func equalServers(a, b []MCPServerConfig) bool {
	return slices.EqualFunc(a, b, func(x, y MCPServerConfig) bool {
		if x.Name != y.Name || x.Transport != y.Transport || x.Command != y.Command || x.URL != y.URL || len(x.Env) != len(y.Env) {
			return false
		}
		for k, v := range x.Env {
			if y.Env[k] != v {
				return false
			}
		}
		return true
	})
}
