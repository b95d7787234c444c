package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lookout/internal/health"
	"github.com/MrWong99/lookout/internal/observe"
)

// readHeaderTimeout is the timeout for reading request headers.
const readHeaderTimeout = 10 * time.Second

// Handler returns the HTTP surface of the application:
//
//	GET /rooms/{roomID}/signal  WebRTC signaling (when the platform serves it)
//	GET /sessions               active sessions as JSON
//	GET /metrics                Prometheus scrape endpoint
//	GET /healthz, /readyz       liveness and readiness probes
//
// Every route is wrapped in [observe.Middleware].
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	if s, ok := a.platform.(signaler); ok {
		mux.Handle("GET /rooms/{roomID}/signal", s.SignalHandler())
	}
	mux.HandleFunc("GET /sessions", a.serveSessions)
	mux.Handle("GET /metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	a.readiness().Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

// readiness fails while a configured provider is missing or the vision
// breaker is open. External dependencies add their own probes.
func (a *App) readiness() *health.Handler {
	components := map[string]bool{"llm": a.providers.LLM != nil}
	if a.cfg.Providers.Vision.Name != "" {
		components["vision"] = a.providers.Vision != nil
	}
	checkers := []health.Checker{health.Configured("providers", components)}
	if a.breaker != nil {
		checkers = append(checkers, health.Breaker(a.breaker))
	}
	checkers = append(checkers, a.probes...)
	return health.New(checkers...)
}

func (a *App) serveSessions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.sessions.Sessions()); err != nil {
		slog.Warn("encode sessions", "err", err)
	}
}

// Run serves HTTP on the configured listen address and blocks until ctx is
// cancelled or the server fails. On cancellation the server is given
// readHeaderTimeout to finish in-flight requests; sessions keep running
// until [App.Shutdown].
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is like [App.Run] but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readHeaderTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
