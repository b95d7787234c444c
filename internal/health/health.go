// Package health serves the liveness (/healthz) and readiness (/readyz)
// probes.
//
// Both answer with a JSON object: "status" is "ok" or "fail", and /readyz
// adds a "checks" map from checker name to "ok" or "fail: <reason>".
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lookout/internal/resilience"
)

// DefaultCheckTimeout bounds each readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Checker is one named readiness condition. Check returns nil when the
// condition holds and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Configured fails while any component in components is false, naming each
// missing one ("vision not configured").
func Configured(name string, components map[string]bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		var missing []error
		for _, c := range slices.Sorted(maps.Keys(components)) {
			if !components[c] {
				missing = append(missing, fmt.Errorf("%s not configured", c))
			}
		}
		return errors.Join(missing...)
	}}
}

// Breaker fails while cb is open. Half-open counts as ready so trial
// requests can close it again.
func Breaker(cb *resilience.CircuitBreaker) Checker {
	return Checker{Name: "breaker:" + cb.Name(), Check: func(context.Context) error {
		if cb.State() == resilience.StateOpen {
			return resilience.ErrCircuitOpen
		}
		return nil
	}}
}

// Ping adapts a connectivity probe such as (*pgxpool.Pool).Ping.
func Ping(name string, ping func(context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. Its checkers are fixed at construction.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New returns a Handler whose /readyz runs checkers concurrently, each
// bounded by [DefaultCheckTimeout].
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers), timeout: DefaultCheckTimeout}
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports the process alive whenever it can answer.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz answers 200 when every checker passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := h.run(r.Context())

	res := response{Status: "ok", Checks: make(map[string]string, len(results))}
	code := http.StatusOK
	for name, err := range results {
		if err != nil {
			res.Checks[name] = "fail: " + err.Error()
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[name] = "ok"
	}
	writeJSON(w, code, res)
}

// run evaluates every checker and returns its error by name. A checker that
// overruns its timeout reports the context error.
func (h *Handler) run(ctx context.Context) map[string]error {
	var (
		mu      sync.Mutex
		results = make(map[string]error, len(h.checkers))
		g       errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			err := c.Check(cctx)
			if err == nil && cctx.Err() != nil {
				err = cctx.Err()
			}
			mu.Lock()
			results[c.Name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
