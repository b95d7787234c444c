// Package app wires all Lookout subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithPlatform, WithMCPHost, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder for fallback images
	_ "image/png"  // register decoder for fallback images
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lookout/internal/config"
	"github.com/MrWong99/lookout/internal/health"
	"github.com/MrWong99/lookout/internal/mcp"
	"github.com/MrWong99/lookout/internal/mcp/mcphost"
	"github.com/MrWong99/lookout/internal/observe"
	"github.com/MrWong99/lookout/internal/resilience"
	"github.com/MrWong99/lookout/internal/sessionlog"
	"github.com/MrWong99/lookout/pkg/provider/llm"
	"github.com/MrWong99/lookout/pkg/provider/vision"
	"github.com/MrWong99/lookout/pkg/types"
	"github.com/MrWong99/lookout/pkg/video"
	"github.com/MrWong99/lookout/pkg/video/webrtc"
)

// memoryLogLimit caps the in-memory session log per session.
const memoryLogLimit = 1000

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM    llm.Provider
	Vision vision.Provider
}

// signaler is implemented by platforms that serve their own signaling
// endpoint, such as [webrtc.Platform].
type signaler interface {
	SignalHandler() http.Handler
}

// App owns all subsystem lifetimes and serves the Lookout HTTP surface.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems: initialised in New, torn down in Shutdown.
	platform video.Platform
	mcpHost  mcp.Host
	log      sessionlog.Store
	metrics  *observe.Metrics
	breaker  *resilience.CircuitBreaker
	fallback *types.Image
	sessions *SessionManager
	logLevel *slog.LevelVar
	server   *http.Server

	// probes are extra readiness checks for external dependencies.
	probes []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPlatform injects a video platform instead of creating a WebRTC one.
func WithPlatform(p video.Platform) Option {
	return func(a *App) { a.platform = p }
}

// WithMCPHost injects an MCP host instead of creating one from config.
func WithMCPHost(h mcp.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// WithSessionLog injects a session log store instead of creating one from config.
func WithSessionLog(s sessionlog.Store) Option {
	return func(a *App) { a.log = s }
}

// WithMetrics injects the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.Reload] change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: session log connection, MCP
// server registration, fallback image loading and platform construction.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Session log ───────────────────────────────────────────────────
	if err := a.initSessionLog(ctx); err != nil {
		return nil, fmt.Errorf("app: init session log: %w", err)
	}

	// ── 2. MCP host ─────────────────────────────────────────────────────
	if err := a.initMCP(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}

	// ── 3. Vision ────────────────────────────────────────────────────────
	if err := a.initVision(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init vision: %w", err)
	}

	// ── 4. Sessions + platform ───────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:    cfg,
		Providers: providers,
		MCPHost:   a.mcpHost,
		Log:       a.log,
		Metrics:   a.metrics,
		Breaker:   a.breaker,
		Fallback:  a.fallback,
	})
	a.initPlatform()
	a.platform.OnRoomOpened(a.sessions.Open)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSessionLog connects the PostgreSQL session log or falls back to memory.
func (a *App) initSessionLog(ctx context.Context) error {
	if a.log != nil {
		return nil
	}

	dsn := a.cfg.SessionLog.PostgresDSN
	if dsn == "" {
		a.log = sessionlog.NewMemoryStore(memoryLogLimit)
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping: %w", err)
	}
	store := sessionlog.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	a.log = store
	a.probes = append(a.probes, health.Ping("sessionlog", pool.Ping))
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("session log connected to postgres")
	return nil
}

// initMCP sets up the MCP host and registers the configured servers.
func (a *App) initMCP(ctx context.Context) error {
	if a.mcpHost == nil {
		host := mcphost.New(mcphost.WithCallTimeout(a.cfg.MCP.CallTimeout))
		a.mcpHost = host
		a.closers = append(a.closers, host.Close)
	}

	for _, srv := range a.cfg.MCP.Servers {
		if err := a.mcpHost.RegisterServer(ctx, srv.ToServerConfig()); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}
	return nil
}

// initVision loads the fallback image and builds the breaker guarding the
// vision provider. Without a vision provider the sessions offer no vision
// tools.
func (a *App) initVision() error {
	if a.providers.Vision == nil {
		slog.Warn("no vision provider configured, vision tools disabled")
		return nil
	}

	if path := a.cfg.Vision.FallbackImage; path != "" {
		img, err := loadImage(path)
		if err != nil {
			return fmt.Errorf("fallback image: %w", err)
		}
		a.fallback = img
		slog.Info("loaded fallback image", "path", path, "width", img.Width, "height", img.Height)
	}

	bc := a.cfg.Vision.Breaker
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "vision-" + a.providers.Vision.Name(),
		MaxFailures:  bc.MaxFailures,
		ResetTimeout: bc.ResetTimeout,
		IsFailure:    isVisionOutage,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("vision breaker state changed", "breaker", name, "from", from, "to", to)
		},
	})
	return nil
}

// isVisionOutage reports whether err suggests the vision backend is down.
// Rejected credentials and unusable answers do not trip the breaker.
func isVisionOutage(err error) bool {
	return errors.Is(err, vision.ErrUnavailable) ||
		errors.Is(err, vision.ErrTimeout) ||
		errors.Is(err, vision.ErrRateLimited)
}

// initPlatform creates the WebRTC platform if one wasn't injected.
func (a *App) initPlatform() {
	if a.platform != nil {
		return
	}
	var opts []webrtc.Option
	if servers := a.cfg.Transport.STUNServers; len(servers) > 0 {
		opts = append(opts, webrtc.WithSTUNServers(servers...))
	}
	if origins := a.cfg.Transport.AllowedOrigins; len(origins) > 0 {
		opts = append(opts, webrtc.WithOriginPatterns(origins...))
	}
	p := webrtc.New(opts...)
	a.platform = p
	a.closers = append(a.closers, p.Close)
}

// loadImage reads an encoded JPEG or PNG file.
func loadImage(path string) (*types.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", path, err)
	}
	return &types.Image{
		Data:     data,
		MIMEType: "image/" + format,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Platform returns the video platform rooms are opened on.
func (a *App) Platform() video.Platform { return a.platform }

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of a changed configuration. It is
// the [config.Watcher] change callback. Agent and vision prompt changes
// affect sessions started afterwards.
func (a *App) Reload(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AgentChanged || d.VisionPromptsChanged {
		a.sessions.Apply(next)
		slog.Info("session settings reloaded", "agent", d.AgentChanged, "vision_prompts", d.VisionPromptsChanged)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, ends every session and then tears down the
// subsystems in init order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", len(a.sessions.Sessions()), "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		if err := a.sessions.StopAll(ctx); err != nil {
			shutdownErr = err
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
