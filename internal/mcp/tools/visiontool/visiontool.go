// Package visiontool provides the built-in tools that let the agent look
// through the user's camera.
//
// Two tools are exported via [NewTools]:
//   - "describe_scene": short caption of the latest snapshot.
//   - "locate_least_crowded_area": asks the vision model where the scene is
//     least crowded.
//
// Each call speaks a short filler line without waiting for it, reads the
// latest frame without consuming it, downscales it and asks the vision
// provider. When no live frame exists the configured static fallback image is
// used and the result is flagged with source "fallback". With neither, the
// tool answers "no image available".
//
// All handlers are safe for concurrent use.
package visiontool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/lookout/internal/mcp/tools"
	"github.com/MrWong99/lookout/internal/resilience"
	"github.com/MrWong99/lookout/pkg/provider/vision"
	"github.com/MrWong99/lookout/pkg/types"
	"github.com/MrWong99/lookout/pkg/video"
)

// Tool names.
const (
	DescribeSceneName      = "describe_scene"
	LocateLeastCrowdedName = "locate_least_crowded_area"
)

// NoImageMessage is returned when neither a live frame nor a fallback image
// is available.
const NoImageMessage = "no image available"

// Result sources.
const (
	SourceLive     = "live"
	SourceFallback = "fallback"
)

// Defaults applied by [NewTools] for zero-value [Config] fields.
const (
	DefaultMaxEdge            = 768
	DefaultDescribeFiller     = "Let me take a look."
	DefaultLocateFiller       = "One moment, let me check where there is more room."
	DefaultLeastCrowdedPrompt = "Which part of this scene is the least crowded? " +
		"Answer in one sentence with a direction the person can walk towards, such as left, right or straight ahead."

	// sayTimeout bounds the detached filler send.
	sayTimeout = 5 * time.Second

	// maxDurationMs is advertised on both tool definitions.
	maxDurationMs = 20_000
)

// FrameSnapshot yields the most recent frame without consuming it.
// [visual.Buffer] satisfies this interface.
type FrameSnapshot interface {
	Peek() (video.Frame, bool)
}

// Speaker voices a short acknowledgement to the user.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// Outcome describes one finished tool call. Source is empty when no image was
// available.
type Outcome struct {
	Tool     string
	Provider string
	Source   string
	Duration time.Duration
	Err      error
}

// Config wires the tools to a session.
type Config struct {
	// Provider answers the vision questions. Required.
	Provider vision.Provider

	// Frames is the session's frame buffer. May be nil.
	Frames FrameSnapshot

	// Speaker voices the filler lines. May be nil.
	Speaker Speaker

	// Fallback is the static reference image used when no live frame exists.
	// May be nil.
	Fallback *types.Image

	// MaxEdge bounds the longest edge of the image sent to the provider.
	MaxEdge int

	// Breaker, if set, guards provider calls.
	Breaker *resilience.CircuitBreaker

	DescribeFiller     string
	LocateFiller       string
	LeastCrowdedPrompt string

	// OnOutcome, if set, is called after every tool call that reached the
	// image step.
	OnOutcome func(Outcome)
}

type querier struct {
	cfg Config
}

// NewTools returns the describe_scene and locate_least_crowded_area tools.
func NewTools(cfg Config) ([]tools.Tool, error) {
	if cfg.Provider == nil {
		return nil, errors.New("vision tool: provider must not be nil")
	}
	if cfg.MaxEdge <= 0 {
		cfg.MaxEdge = DefaultMaxEdge
	}
	if cfg.DescribeFiller == "" {
		cfg.DescribeFiller = DefaultDescribeFiller
	}
	if cfg.LocateFiller == "" {
		cfg.LocateFiller = DefaultLocateFiller
	}
	if cfg.LeastCrowdedPrompt == "" {
		cfg.LeastCrowdedPrompt = DefaultLeastCrowdedPrompt
	}
	q := &querier{cfg: cfg}

	noArgs := map[string]any{"type": "object", "properties": map[string]any{}}
	return []tools.Tool{
		{
			Definition: types.ToolDefinition{
				Name:          DescribeSceneName,
				Description:   "Describe what the user's camera currently shows. Use it when the user asks what is around them or what they are looking at.",
				Parameters:    noArgs,
				MaxDurationMs: maxDurationMs,
			},
			Handler: q.describeScene,
		},
		{
			Definition: types.ToolDefinition{
				Name:          LocateLeastCrowdedName,
				Description:   "Find the least crowded part of the scene in front of the user's camera and return a walking direction.",
				Parameters:    noArgs,
				MaxDurationMs: maxDurationMs,
			},
			Handler: q.locateLeastCrowded,
		},
	}, nil
}

func (q *querier) describeScene(ctx context.Context, _ string) (string, error) {
	return q.run(ctx, DescribeSceneName, q.cfg.DescribeFiller, "description",
		func(ctx context.Context, img types.Image) (string, error) {
			return q.cfg.Provider.Caption(ctx, img, vision.CaptionShort)
		})
}

func (q *querier) locateLeastCrowded(ctx context.Context, _ string) (string, error) {
	return q.run(ctx, LocateLeastCrowdedName, q.cfg.LocateFiller, "answer",
		func(ctx context.Context, img types.Image) (string, error) {
			return q.cfg.Provider.Query(ctx, img, q.cfg.LeastCrowdedPrompt)
		})
}

func (q *querier) run(ctx context.Context, tool, filler, key string, ask func(context.Context, types.Image) (string, error)) (string, error) {
	q.say(ctx, filler)

	img, source, ok := q.snapshot()
	if !ok {
		slog.Info("vision tool: no image available", "tool", tool)
		return NoImageMessage, nil
	}

	scaled, err := downscale(img, q.cfg.MaxEdge)
	if err != nil {
		slog.Warn("vision tool: downscale failed, sending original", "tool", tool, "err", err)
		scaled = img
	}

	start := time.Now()
	var text string
	call := func(ctx context.Context) error {
		var err error
		text, err = ask(ctx, scaled)
		return err
	}
	if q.cfg.Breaker != nil {
		err = q.cfg.Breaker.Do(ctx, call)
	} else {
		err = call(ctx)
	}

	// The caller gave up while the provider was working: drop the answer.
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
		text = ""
	}
	q.report(Outcome{Tool: tool, Provider: q.cfg.Provider.Name(), Source: source, Duration: time.Since(start), Err: err})
	if err != nil {
		return "", fmt.Errorf("vision tool: %s: %w", tool, err)
	}

	res, err := json.Marshal(map[string]string{key: text, "source": source})
	if err != nil {
		return "", fmt.Errorf("vision tool: %s: failed to encode result: %w", tool, err)
	}
	return string(res), nil
}

// snapshot returns the live frame if one is buffered, else the fallback.
func (q *querier) snapshot() (types.Image, string, bool) {
	if q.cfg.Frames != nil {
		if f, ok := q.cfg.Frames.Peek(); ok {
			return f.Image(), SourceLive, true
		}
	}
	if q.cfg.Fallback != nil && len(q.cfg.Fallback.Data) > 0 {
		return *q.cfg.Fallback, SourceFallback, true
	}
	return types.Image{}, "", false
}

// say voices text without blocking the tool call.
func (q *querier) say(ctx context.Context, text string) {
	if q.cfg.Speaker == nil || text == "" {
		return
	}
	sayCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sayTimeout)
	go func() {
		defer cancel()
		if err := q.cfg.Speaker.Say(sayCtx, text); err != nil {
			slog.Debug("vision tool: filler not delivered", "err", err)
		}
	}()
}

func (q *querier) report(o Outcome) {
	if q.cfg.OnOutcome != nil {
		q.cfg.OnOutcome(o)
	}
}
