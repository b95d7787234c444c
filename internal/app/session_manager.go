package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/lookout/internal/agent"
	"github.com/MrWong99/lookout/internal/config"
	"github.com/MrWong99/lookout/internal/mcp"
	"github.com/MrWong99/lookout/internal/mcp/tools/visiontool"
	"github.com/MrWong99/lookout/internal/observe"
	"github.com/MrWong99/lookout/internal/resilience"
	"github.com/MrWong99/lookout/internal/sessionlog"
	"github.com/MrWong99/lookout/pkg/types"
	"github.com/MrWong99/lookout/pkg/video"
)

// sessionCloseTimeout bounds the teardown of a session whose room closed.
const sessionCloseTimeout = 10 * time.Second

// SessionInfo holds metadata about an active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// RoomID is the room the session serves.
	RoomID string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

type activeSession struct {
	info    SessionInfo
	room    video.Room
	session *agent.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// SessionManager runs one agent session per open room. A session starts
// when the platform reports a new room and stops when the room closes.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	active   map[string]*activeSession // by room ID
	retiring map[*activeSession]struct{} // replaced, still shutting down
	agentCfg config.AgentConfig
	visCfg   config.VisionConfig
	seq      int
	closed   bool

	// Dependencies injected at construction.
	providers *Providers
	mcpHost   mcp.Host
	log       sessionlog.Store
	metrics   *observe.Metrics
	breaker   *resilience.CircuitBreaker
	fallback  *types.Image
	now       func() time.Time
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config    *config.Config
	Providers *Providers
	MCPHost   mcp.Host
	Log       sessionlog.Store
	Metrics   *observe.Metrics

	// Breaker guards the vision provider. May be nil.
	Breaker *resilience.CircuitBreaker

	// Fallback is the static reference image. May be nil.
	Fallback *types.Image
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		active:    make(map[string]*activeSession),
		retiring:  make(map[*activeSession]struct{}),
		agentCfg:  cfg.Config.Agent,
		visCfg:    cfg.Config.Vision,
		providers: cfg.Providers,
		mcpHost:   cfg.MCPHost,
		log:       cfg.Log,
		metrics:   cfg.Metrics,
		breaker:   cfg.Breaker,
		fallback:  cfg.Fallback,
		now:       time.Now,
	}
}

// Open starts a session for room. It is the platform's room-opened callback.
// A room that already has a live session is ignored.
func (sm *SessionManager) Open(room video.Room) {
	if _, err := sm.Start(room); err != nil {
		slog.Warn("session: not started", "room", room.ID(), "err", err)
	}
}

// Start creates the agent session for room and runs it in the background
// until the room closes or [SessionManager.StopAll] is called.
//
// A session still registered under the same room ID is replaced when it
// belongs to a closed or different room, as happens when a user reconnects
// before the old session finished its turn. The old session is cancelled
// and shuts down in the background.
func (sm *SessionManager) Start(room video.Room) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return SessionInfo{}, errors.New("session: manager is shut down")
	}
	if cur, ok := sm.active[room.ID()]; ok {
		if cur.room == room && !roomClosed(room) {
			return SessionInfo{}, fmt.Errorf("session: room %q already has session %s", room.ID(), cur.info.SessionID)
		}
		slog.Info("session replaced", "session_id", cur.info.SessionID, "room", room.ID())
		cur.cancel()
		delete(sm.active, room.ID())
		sm.retiring[cur] = struct{}{}
	}

	now := sm.now().UTC()
	sm.seq++
	info := SessionInfo{
		SessionID: fmt.Sprintf("session-%s-%s-%d", sanitizeName(room.ID()), now.Format("20060102T150405Z"), sm.seq),
		RoomID:    room.ID(),
		StartedAt: now,
	}

	sess, err := agent.New(sm.sessionConfig(info.SessionID, room))
	if err != nil {
		return SessionInfo{}, fmt.Errorf("session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	as := &activeSession{info: info, room: room, session: sess, cancel: cancel, done: make(chan struct{})}
	sm.active[room.ID()] = as

	go sm.run(ctx, as)

	slog.Info("session started",
		"session_id", info.SessionID,
		"room", info.RoomID,
		"tools", len(sess.Tools()),
	)
	return info, nil
}

// sessionConfig builds the agent configuration from the current settings.
// Must be called with sm.mu held.
func (sm *SessionManager) sessionConfig(sessionID string, room video.Room) agent.Config {
	ac := sm.agentCfg
	cfg := agent.Config{
		SessionID:        sessionID,
		Room:             room,
		LLM:              sm.providers.LLM,
		Instructions:     ac.Instructions,
		MaxToolRounds:    ac.MaxToolRounds,
		TurnTimeout:      ac.TurnTimeout,
		MaxHistoryTokens: ac.MaxHistoryTokens,
		MCPHost:          sm.mcpHost,
		Log:              sm.log,
		Metrics:          sm.metrics,
	}
	if !ac.SkipGreeting {
		cfg.Greeting = ac.Greeting
	}
	if sm.providers.Vision != nil {
		vc := sm.visCfg
		cfg.Vision = &visiontool.Config{
			Provider:           sm.providers.Vision,
			Fallback:           sm.fallback,
			MaxEdge:            vc.MaxEdge,
			Breaker:            sm.breaker,
			DescribeFiller:     vc.DescribeFiller,
			LocateFiller:       vc.LocateFiller,
			LeastCrowdedPrompt: vc.LeastCrowdedPrompt,
		}
	}
	return cfg
}

func (sm *SessionManager) run(ctx context.Context, as *activeSession) {
	defer close(as.done)
	defer as.cancel()

	if err := as.session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("session: run ended with error", "session_id", as.info.SessionID, "err", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
	defer cancel()
	if err := as.session.Close(closeCtx); err != nil {
		slog.Warn("session: close error", "session_id", as.info.SessionID, "err", err)
	}

	sm.mu.Lock()
	if sm.active[as.info.RoomID] == as {
		delete(sm.active, as.info.RoomID)
	}
	delete(sm.retiring, as)
	sm.mu.Unlock()

	slog.Info("session stopped", "session_id", as.info.SessionID, "room", as.info.RoomID)
}

// Apply updates the settings used for sessions started from now on. Running
// sessions keep the settings they were created with.
func (sm *SessionManager) Apply(cfg *config.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.agentCfg = cfg.Agent
	sm.visCfg.DescribeFiller = cfg.Vision.DescribeFiller
	sm.visCfg.LocateFiller = cfg.Vision.LocateFiller
	sm.visCfg.LeastCrowdedPrompt = cfg.Vision.LeastCrowdedPrompt
}

// Sessions returns the active sessions ordered by room ID.
func (sm *SessionManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.active))
	for _, as := range sm.active {
		out = append(out, as.info)
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return strings.Compare(a.RoomID, b.RoomID) })
	return out
}

// StopAll stops every session and rejects new ones. It waits until the
// sessions have released their video readers or ctx expires.
func (sm *SessionManager) StopAll(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	running := make([]*activeSession, 0, len(sm.active)+len(sm.retiring))
	for _, as := range sm.active {
		as.cancel()
		running = append(running, as)
	}
	for as := range sm.retiring {
		running = append(running, as)
	}
	sm.mu.Unlock()

	for _, as := range running {
		select {
		case <-as.done:
		case <-ctx.Done():
			return fmt.Errorf("session: stop %s: %w", as.info.SessionID, ctx.Err())
		}
	}
	return nil
}

func roomClosed(room video.Room) bool {
	select {
	case <-room.Done():
		return true
	default:
		return false
	}
}

// sanitizeName replaces spaces with hyphens and lowercases a name
// for use in session IDs.
func sanitizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")
	return name
}
