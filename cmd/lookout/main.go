// Command lookout is the main entry point for the Lookout vision voice agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lookout/internal/app"
	"github.com/MrWong99/lookout/internal/config"
	"github.com/MrWong99/lookout/internal/observe"
	"github.com/MrWong99/lookout/pkg/provider/llm"
	"github.com/MrWong99/lookout/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/lookout/pkg/provider/llm/openai"
	"github.com/MrWong99/lookout/pkg/provider/vision"
	geminivision "github.com/MrWong99/lookout/pkg/provider/vision/gemini"
	"github.com/MrWong99/lookout/pkg/provider/vision/moondream"
	oaivision "github.com/MrWong99/lookout/pkg/provider/vision/openai"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lookout: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lookout: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("lookout starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must run before app.New so the default metrics bind to the SDK provider.
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.Reload)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		go reloadOnHangup(ctx, watcher)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping sessions")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// ctx bounds client construction for providers that dial during New.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai talks to the Chat Completions API directly so it can send
	// multimodal user messages with a detail hint.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if detail := optString(entry.Options, "image_detail"); detail != "" {
			opts = append(opts, oaillm.WithImageDetail(detail))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The rest share the any-llm pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
		"llamacpp", "llamafile", "ollama",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── Vision ────────────────────────────────────────────────────────────────

	reg.RegisterVision("moondream", func(entry config.ProviderEntry) (vision.Provider, error) {
		var opts []moondream.Option
		if entry.BaseURL != "" {
			opts = append(opts, moondream.WithBaseURL(entry.BaseURL))
		}
		return moondream.New(entry.APIKey, opts...)
	})

	reg.RegisterVision("openai", func(entry config.ProviderEntry) (vision.Provider, error) {
		var opts []oaivision.Option
		if entry.Model != "" {
			opts = append(opts, oaivision.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaivision.WithBaseURL(entry.BaseURL))
		}
		if detail := optString(entry.Options, "detail"); detail != "" {
			opts = append(opts, oaivision.WithDetail(detail))
		}
		return oaivision.New(entry.APIKey, opts...)
	})

	reg.RegisterVision("gemini", func(entry config.ProviderEntry) (vision.Provider, error) {
		var opts []geminivision.Option
		if entry.Model != "" {
			opts = append(opts, geminivision.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminivision.WithBaseURL(entry.BaseURL))
		}
		return geminivision.New(ctx, entry.APIKey, opts...)
	})

	slog.Debug("providers registered", "llm", reg.LLMNames(), "vision", reg.VisionNames())
}

// buildProviders instantiates the providers named in cfg. The LLM is
// required; a missing vision provider only disables the vision tools.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = p
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	if name := cfg.Providers.Vision.Name; name != "" {
		v, err := reg.CreateVision(cfg.Providers.Vision)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("vision provider not registered, vision tools disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vision provider %q: %w", name, err)
		} else {
			ps.Vision = v
			slog.Info("provider created", "kind", "vision", "name", name)
		}
	}

	return ps, nil
}

// reloadOnHangup checks the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := w.Check(); err != nil {
				slog.Warn("config reload on SIGHUP rejected", "err", err)
			}
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Lookout startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Vision", cfg.Providers.Vision.Name, cfg.Providers.Vision.Model)
	fallback := cfg.Vision.FallbackImage
	if fallback == "" {
		fallback = "(none)"
	}
	if len(fallback) > 19 {
		fallback = "…" + fallback[len(fallback)-18:]
	}
	fmt.Printf("║  Fallback image  : %-19s ║\n", fallback)
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	if cfg.SessionLog.PostgresDSN != "" {
		fmt.Printf("║  Session log     : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Session log     : %-19s ║\n", "memory")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
