package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lookout/internal/mcp"
	"github.com/MrWong99/lookout/internal/mcp/tools"
	"github.com/MrWong99/lookout/internal/mcp/tools/visiontool"
	"github.com/MrWong99/lookout/internal/observe"
	"github.com/MrWong99/lookout/internal/sessionlog"
	"github.com/MrWong99/lookout/internal/turn"
	"github.com/MrWong99/lookout/internal/visual"
	"github.com/MrWong99/lookout/pkg/provider/llm"
	"github.com/MrWong99/lookout/pkg/types"
	"github.com/MrWong99/lookout/pkg/video"
)

// Defaults applied by [New] for zero-value [Config] fields.
const (
	DefaultMaxToolRounds = 3
	DefaultTurnTimeout   = 45 * time.Second
	DefaultGreetingWait  = 2 * time.Second
)

// FallbackReply is sent when a turn could not be answered.
const FallbackReply = "Sorry, something went wrong on my side. Could you say that again?"

// Config holds the dependencies and settings of a [Session].
//
// Required fields are SessionID, Room and LLM. Everything else is optional.
type Config struct {
	// SessionID identifies the session in logs and the session log.
	SessionID string

	// Room is the room the session serves.
	Room video.Room

	// LLM is the reasoning model.
	LLM llm.Provider

	// Instructions is the system prompt.
	Instructions string

	// Greeting, when non-empty, is sent to the model as the first turn once
	// the session starts. The greeting turn is augmented like any other.
	Greeting string

	// GreetingWait bounds how long the greeting waits for the first frame of
	// an already published camera track.
	GreetingWait time.Duration

	// MaxToolRounds caps the tool-call rounds per turn. The final round is
	// offered no tools so the model has to answer. Models that cannot call
	// tools get no tool rounds at all.
	MaxToolRounds int

	// TurnTimeout bounds the model and tool work for one turn.
	TurnTimeout time.Duration

	// MaxHistoryTokens bounds the history sent to the model. It is clamped
	// to the model's context window; zero means the whole window.
	MaxHistoryTokens int

	// Vision configures the camera tools. Frames and Speaker are filled in by
	// the session. Nil means the session offers no vision tools.
	Vision *visiontool.Config

	// MCPHost provides the shared external tools. May be nil.
	MCPHost mcp.Host

	// Log records the transcript. May be nil.
	Log sessionlog.Store

	// Metrics receives frame, turn and tool measurements. May be nil.
	Metrics *observe.Metrics
}

// Session is the agent for one room. Create it with [New], drive it with
// [Session.Run] and release it with [Session.Close].
type Session struct {
	cfg Config

	buf       *visual.Buffer
	sup       *visual.Supervisor
	watcher   *visual.Watcher
	augmenter *turn.Augmenter
	router    *toolRouter

	firstFrame     chan struct{}
	firstFrameOnce sync.Once

	// mu serialises turns; history is only touched with mu held.
	mu      sync.Mutex
	history []types.Message

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and wires the frame pipeline and the tools of a session.
// Nothing runs until [Session.Run] is called.
//
// Errors are prefixed with "agent: ".
func New(cfg Config) (*Session, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("agent: SessionID must not be empty")
	}
	if cfg.Room == nil {
		return nil, errors.New("agent: Room must not be nil")
	}
	if cfg.LLM == nil {
		return nil, errors.New("agent: LLM must not be nil")
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.GreetingWait <= 0 {
		cfg.GreetingWait = DefaultGreetingWait
	}

	caps := cfg.LLM.Capabilities()
	if w := caps.ContextWindow; w > 0 && (cfg.MaxHistoryTokens <= 0 || cfg.MaxHistoryTokens > w) {
		cfg.MaxHistoryTokens = w
	}
	if !caps.SupportsToolCalling {
		slog.Warn("agent: model does not call tools, vision tools disabled", "session_id", cfg.SessionID)
		cfg.MaxToolRounds = 0
	}

	s := &Session{
		cfg:        cfg,
		buf:        visual.NewBuffer(),
		sup:        visual.NewSupervisor(),
		firstFrame: make(chan struct{}),
	}
	s.watcher = visual.NewWatcher(cfg.Room, s.buf, s.sup,
		visual.WithFrameHook(s.onFrame),
		visual.WithStateHook(s.onStreamState),
	)
	s.augmenter = turn.NewAugmenter(s.buf)

	var builtins []tools.Tool
	if cfg.Vision != nil {
		vc := *cfg.Vision
		vc.Frames = s.buf
		vc.Speaker = RoomSpeaker{Room: cfg.Room}
		next := vc.OnOutcome
		vc.OnOutcome = func(o visiontool.Outcome) {
			if m := cfg.Metrics; m != nil {
				m.RecordVisionRequest(context.Background(), o.Provider, o.Tool, o.Source, o.Duration, o.Err)
			}
			if next != nil {
				next(o)
			}
		}
		vt, err := visiontool.NewTools(vc)
		if err != nil {
			return nil, fmt.Errorf("agent: %w", err)
		}
		builtins = append(builtins, vt...)
	}
	s.router = newToolRouter(builtins, cfg.MCPHost)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.SessionID }

// Buffer returns the session's frame buffer.
func (s *Session) Buffer() *visual.Buffer { return s.buf }

// Tools returns the definitions offered to the model.
func (s *Session) Tools() []types.ToolDefinition { return s.router.Definitions() }

// Run starts watching the room's video, sends the greeting and then handles
// turns in arrival order until the room closes (nil) or ctx is cancelled
// (ctx.Err()). A failed turn is answered with [FallbackReply] and does not
// end the session. Closing the room cancels the turn in flight.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	roomDone := s.cfg.Room.Done()
	go func() {
		select {
		case <-roomDone:
			cancel()
		case <-ctx.Done():
		}
	}()

	if m := s.cfg.Metrics; m != nil {
		m.ActiveSessions.Add(ctx, 1)
		defer m.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}

	if err := s.watcher.Start(ctx); err != nil {
		return fmt.Errorf("agent: start watcher: %w", err)
	}

	if s.cfg.Greeting != "" {
		s.greet(ctx)
	}

	turns := s.cfg.Room.Turns()
	for {
		select {
		case <-roomDone:
			return nil
		case <-ctx.Done():
			if closed(roomDone) {
				return nil
			}
			return ctx.Err()
		case t, ok := <-turns:
			if !ok {
				return nil
			}
			if err := s.HandleTurn(ctx, t); err != nil {
				slog.Warn("agent: turn failed", "session_id", s.cfg.SessionID, "err", err)
			}
		}
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// greet waits briefly for the first frame when a camera track is already
// selected, so the greeting can see the user, then answers the greeting turn.
func (s *Session) greet(ctx context.Context) {
	if _, ok := s.watcher.ActiveTrack(); ok {
		timer := time.NewTimer(s.cfg.GreetingWait)
		defer timer.Stop()
		select {
		case <-s.firstFrame:
		case <-timer.C:
			slog.Debug("agent: greeting without frame", "session_id", s.cfg.SessionID)
		case <-ctx.Done():
			return
		}
	}
	if err := s.HandleTurn(ctx, video.Turn{Text: s.cfg.Greeting, At: time.Now()}); err != nil {
		slog.Warn("agent: greeting failed", "session_id", s.cfg.SessionID, "err", err)
	}
}

// HandleTurn answers one finalized user turn: it attaches the buffered frame
// exactly once, runs the model with tools and sends the reply to the room.
// Concurrent calls are serialised.
func (s *Session) HandleTurn(ctx context.Context, t video.Turn) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "agent.turn",
		trace.WithAttributes(attribute.String("session.id", s.cfg.SessionID)))
	defer span.End()
	log := observe.Logger(ctx).With("session_id", s.cfg.SessionID)

	msg := types.Message{Role: "user", Content: t.Text, Name: t.Participant}
	augmented := s.augmenter.Augment(&msg)
	if m := s.cfg.Metrics; m != nil {
		m.RecordTurn(ctx, augmented)
	}
	s.record(ctx, sessionlog.Entry{Kind: sessionlog.KindTurn, Text: t.Text, HasImage: augmented})
	span.SetAttributes(attribute.Bool("turn.augmented", augmented))

	turnCtx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	history := append(slices.Clone(s.history), msg)
	history, err := trimHistory(history, s.cfg.MaxHistoryTokens, s.cfg.LLM.CountTokens)
	if err != nil {
		log.Warn("agent: failed to count history tokens", "err", err)
	}

	reply, history, err := s.complete(turnCtx, history)
	for i := range history {
		history[i] = withoutImages(history[i])
	}
	s.history = history

	if err != nil {
		observe.FailSpan(span, err)
		if ctx.Err() != nil {
			return err
		}
		if sendErr := s.send(ctx, FallbackReply); sendErr != nil {
			log.Warn("agent: fallback reply not delivered", "err", sendErr)
		}
		return err
	}
	if reply == "" {
		return nil
	}
	s.history = append(s.history, types.Message{Role: "assistant", Content: reply})
	s.record(ctx, sessionlog.Entry{Kind: sessionlog.KindReply, Text: reply})
	return s.send(ctx, reply)
}

// complete runs the model until it answers without tool calls or the tool
// rounds are used up. It returns the reply and history extended with every
// assistant tool call and its result.
func (s *Session) complete(ctx context.Context, history []types.Message) (string, []types.Message, error) {
	defs := s.router.Definitions()
	for round := 0; ; round++ {
		req := llm.CompletionRequest{
			SystemPrompt: s.cfg.Instructions,
			Messages:     history,
		}
		if round < s.cfg.MaxToolRounds {
			req.Tools = defs
		}

		start := time.Now()
		resp, err := s.cfg.LLM.Complete(ctx, req)
		if m := s.cfg.Metrics; m != nil {
			m.LLMDuration.Record(ctx, time.Since(start).Seconds())
		}
		if err != nil {
			return "", history, fmt.Errorf("agent: complete: %w", err)
		}
		if resp == nil {
			return "", history, errors.New("agent: complete: empty response")
		}
		if len(resp.ToolCalls) == 0 || len(req.Tools) == 0 {
			return resp.Content, history, nil
		}

		history = append(history, types.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			res := s.router.Execute(ctx, call.Name, call.Arguments)
			s.recordTool(ctx, call.Name, res)
			history = append(history, types.Message{
				Role:       "tool",
				Content:    res.Content,
				ToolCallID: call.ID,
			})
		}
	}
}

func (s *Session) send(ctx context.Context, text string) error {
	if err := s.cfg.Room.Send(ctx, video.Outbound{Type: video.OutboundReply, Text: text}); err != nil {
		return fmt.Errorf("agent: send reply: %w", err)
	}
	return nil
}

func (s *Session) recordTool(ctx context.Context, name string, res *mcp.ToolResult) {
	status := "ok"
	if res.IsError {
		status = "error"
		slog.Info("agent: tool call failed", "session_id", s.cfg.SessionID, "tool", name, "err", res.Content)
	}
	if m := s.cfg.Metrics; m != nil {
		m.RecordToolCall(ctx, name, status)
	}
	s.record(ctx, sessionlog.Entry{
		Kind:       sessionlog.KindToolCall,
		Tool:       name,
		Text:       res.Content,
		IsError:    res.IsError,
		DurationMs: res.DurationMs,
	})
}

// record appends e to the session log. Log failures never affect the
// conversation.
func (s *Session) record(ctx context.Context, e sessionlog.Entry) {
	if s.cfg.Log == nil {
		return
	}
	e.SessionID = s.cfg.SessionID
	e.RoomID = s.cfg.Room.ID()
	if err := s.cfg.Log.Append(context.WithoutCancel(ctx), e); err != nil {
		slog.Warn("agent: session log append failed", "session_id", s.cfg.SessionID, "err", err)
	}
}

func (s *Session) onFrame(_ video.Frame, replaced bool) {
	s.firstFrameOnce.Do(func() { close(s.firstFrame) })
	if m := s.cfg.Metrics; m != nil {
		m.RecordFrame(context.Background(), s.cfg.Room.ID(), replaced)
	}
}

func (s *Session) onStreamState(trackID string, from, to visual.StreamState) {
	slog.Debug("agent: stream state", "session_id", s.cfg.SessionID, "track_id", trackID, "from", from, "to", to)
	m := s.cfg.Metrics
	if m == nil {
		return
	}
	switch {
	case to == visual.StateStreaming:
		m.ActiveStreams.Add(context.Background(), 1)
	case from == visual.StateStreaming:
		m.ActiveStreams.Add(context.Background(), -1)
	}
}

// Close stops the video watcher and every reader task, waiting until they
// have exited or ctx expires. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.watcher.Stop()
		if err := s.sup.StopAll(ctx); err != nil {
			s.closeErr = fmt.Errorf("agent: stop tasks: %w", err)
		}
	})
	return s.closeErr
}
