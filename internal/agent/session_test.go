package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/lookout/internal/mcp"
	mcpmock "github.com/MrWong99/lookout/internal/mcp/mock"
	"github.com/MrWong99/lookout/internal/mcp/tools/visiontool"
	"github.com/MrWong99/lookout/internal/observe"
	"github.com/MrWong99/lookout/internal/sessionlog"
	"github.com/MrWong99/lookout/pkg/provider/llm"
	llmmock "github.com/MrWong99/lookout/pkg/provider/llm/mock"
	"github.com/MrWong99/lookout/pkg/provider/vision"
	visionmock "github.com/MrWong99/lookout/pkg/provider/vision/mock"
	"github.com/MrWong99/lookout/pkg/types"
	"github.com/MrWong99/lookout/pkg/video"
	videomock "github.com/MrWong99/lookout/pkg/video/mock"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func testFrame(seq byte) video.Frame {
	return video.Frame{
		Data:       []byte{0xff, 0xd8, seq},
		MIMEType:   "image/jpeg",
		Width:      640,
		Height:     480,
		CapturedAt: time.Now(),
		TrackID:    "alice/camera",
	}
}

func newSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	if cfg.SessionID == "" {
		cfg.SessionID = "s1"
	}
	if cfg.Room == nil {
		cfg.Room = videomock.NewRoom("r1")
	}
	if cfg.LLM == nil {
		cfg.LLM = &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func replies(room *videomock.Room) []string {
	var out []string
	for _, m := range room.Sent() {
		if m.Type == video.OutboundReply {
			out = append(out, m.Text)
		}
	}
	return out
}

func lastMessage(req llm.CompletionRequest) types.Message {
	return req.Messages[len(req.Messages)-1]
}

// ─── construction ─────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	room := videomock.NewRoom("r")
	model := &llmmock.Provider{}
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing session id", Config{Room: room, LLM: model}, "SessionID"},
		{"missing room", Config{SessionID: "s", LLM: model}, "Room"},
		{"missing llm", Config{SessionID: "s", Room: room}, "LLM"},
		{"vision without provider", Config{SessionID: "s", Room: room, LLM: model, Vision: &visiontool.Config{}}, "provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("New: err = %v, want mention of %q", err, tt.want)
			}
			if !strings.HasPrefix(err.Error(), "agent: ") {
				t.Errorf("error %q lacks package prefix", err)
			}
		})
	}
}

func TestNew_ToolsOffered(t *testing.T) {
	t.Parallel()

	host := &mcpmock.Host{ToolsResult: []types.ToolDefinition{{Name: "weather"}}}
	s := newSession(t, Config{
		Vision:  &visiontool.Config{Provider: &visionmock.Provider{}},
		MCPHost: host,
	})

	var names []string
	for _, d := range s.Tools() {
		names = append(names, d.Name)
	}
	want := []string{visiontool.DescribeSceneName, visiontool.LocateLeastCrowdedName, "weather"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("Tools = %v, want %v", names, want)
	}
}

func TestNew_NoVisionMeansNoVisionTools(t *testing.T) {
	t.Parallel()

	s := newSession(t, Config{})
	if n := len(s.Tools()); n != 0 {
		t.Errorf("Tools = %d, want 0", n)
	}
}

func TestNew_ModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		caps        types.ModelCapabilities
		maxHistory  int
		wantHistory int
		wantRounds  int
	}{
		{"unset budget takes the window", types.ModelCapabilities{ContextWindow: 8192, SupportsToolCalling: true}, 0, 8192, DefaultMaxToolRounds},
		{"budget above window is clamped", types.ModelCapabilities{ContextWindow: 8192, SupportsToolCalling: true}, 20000, 8192, DefaultMaxToolRounds},
		{"budget below window is kept", types.ModelCapabilities{ContextWindow: 8192, SupportsToolCalling: true}, 4000, 4000, DefaultMaxToolRounds},
		{"unknown window keeps budget", types.ModelCapabilities{SupportsToolCalling: true}, 0, 0, DefaultMaxToolRounds},
		{"no tool calling", types.ModelCapabilities{ContextWindow: 8192}, 4000, 4000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			caps := tt.caps
			s := newSession(t, Config{
				LLM:              &llmmock.Provider{ModelCapabilities: &caps},
				MaxHistoryTokens: tt.maxHistory,
			})
			if s.cfg.MaxHistoryTokens != tt.wantHistory {
				t.Errorf("MaxHistoryTokens = %d, want %d", s.cfg.MaxHistoryTokens, tt.wantHistory)
			}
			if s.cfg.MaxToolRounds != tt.wantRounds {
				t.Errorf("MaxToolRounds = %d, want %d", s.cfg.MaxToolRounds, tt.wantRounds)
			}
		})
	}
}

func TestHandleTurn_ModelWithoutToolsGetsNone(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: "I can only talk."},
		ModelCapabilities: &types.ModelCapabilities{ContextWindow: 4096},
	}
	room := videomock.NewRoom("r1")
	s := newSession(t, Config{
		Room:   room,
		LLM:    model,
		Vision: &visiontool.Config{Provider: &visionmock.Provider{}},
	})

	if err := s.HandleTurn(context.Background(), video.Turn{Text: "what do you see?"}); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	calls := model.Completes()
	if len(calls) != 1 || len(calls[0].Req.Tools) != 0 {
		t.Fatalf("Complete calls = %+v, want one call without tools", calls)
	}
	if got := replies(room); len(got) != 1 || got[0] != "I can only talk." {
		t.Errorf("replies = %v", got)
	}
}

// ─── turns ────────────────────────────────────────────────────────────────────

func TestHandleTurn_FrameAttachedExactlyOnce(t *testing.T) {
	t.Parallel()

	room := videomock.NewRoom("r1")
	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "I see you."}}
	s := newSession(t, Config{Room: room, LLM: model, Instructions: "be brief"})

	s.Buffer().Set(testFrame(1))
	ctx := context.Background()
	if err := s.HandleTurn(ctx, video.Turn{Participant: "alice", Text: "what do you see?"}); err != nil {
		t.Fatalf("HandleTurn 1: %v", err)
	}
	if err := s.HandleTurn(ctx, video.Turn{Participant: "alice", Text: "and now?"}); err != nil {
		t.Fatalf("HandleTurn 2: %v", err)
	}

	calls := model.Completes()
	if len(calls) != 2 {
		t.Fatalf("Complete calls = %d, want 2", len(calls))
	}
	first := lastMessage(calls[0].Req)
	if first.ImageCount() != 1 {
		t.Errorf("first turn images = %d, want 1", first.ImageCount())
	}
	if first.Content != "what do you see?" || first.Name != "alice" {
		t.Errorf("first turn = %+v", first)
	}
	if calls[0].Req.SystemPrompt != "be brief" {
		t.Errorf("SystemPrompt = %q", calls[0].Req.SystemPrompt)
	}

	for i, m := range calls[1].Req.Messages {
		if m.HasImage() {
			t.Errorf("second request message %d still carries an image", i)
		}
	}
	if got := len(calls[1].Req.Messages); got != 3 {
		t.Errorf("second request history = %d messages, want 3", got)
	}
	if _, ok := s.Buffer().Peek(); ok {
		t.Error("frame still buffered after augmentation")
	}
	if got := replies(room); len(got) != 2 || got[0] != "I see you." {
		t.Errorf("replies = %v", got)
	}
}

func TestHandleTurn_VisionToolRound(t *testing.T) {
	t.Parallel()

	room := videomock.NewRoom("r1")
	model := &llmmock.Provider{CompleteResponses: []*llm.CompletionResponse{
		{ToolCalls: []types.ToolCall{{ID: "c1", Name: visiontool.DescribeSceneName, Arguments: "{}"}}},
		{Content: "You are in a kitchen."},
	}}
	vp := &visionmock.Provider{CaptionResult: "a kitchen"}
	fallback := types.Image{Data: []byte("not-a-real-image"), MIMEType: "image/jpeg"}
	store := sessionlog.NewMemoryStore(0)
	s := newSession(t, Config{
		Room:   room,
		LLM:    model,
		Vision: &visiontool.Config{Provider: vp, Fallback: &fallback},
		Log:    store,
	})

	if err := s.HandleTurn(context.Background(), video.Turn{Text: "where am I?"}); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	calls := model.Completes()
	if len(calls) != 2 {
		t.Fatalf("Complete calls = %d, want 2", len(calls))
	}
	if len(calls[0].Req.Tools) != 2 {
		t.Errorf("tools offered = %d, want 2", len(calls[0].Req.Tools))
	}
	msgs := calls[1].Req.Messages
	asst, tool := msgs[len(msgs)-2], msgs[len(msgs)-1]
	if asst.Role != "assistant" || len(asst.ToolCalls) != 1 {
		t.Errorf("assistant message = %+v", asst)
	}
	if tool.Role != "tool" || tool.ToolCallID != "c1" || !strings.Contains(tool.Content, "a kitchen") {
		t.Errorf("tool message = %+v", tool)
	}
	if !strings.Contains(tool.Content, visiontool.SourceFallback) {
		t.Errorf("tool result %q does not name the fallback source", tool.Content)
	}
	if n := len(vp.Calls()); n != 1 {
		t.Errorf("vision calls = %d, want 1", n)
	}

	waitFor(t, func() bool {
		for _, m := range room.Sent() {
			if m.Type == video.OutboundSay && m.Text == visiontool.DefaultDescribeFiller {
				return true
			}
		}
		return false
	})
	if got := replies(room); len(got) != 1 || got[0] != "You are in a kitchen." {
		t.Errorf("replies = %v", got)
	}

	entries, err := store.List(context.Background(), "s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var kinds []string
	for _, e := range entries {
		kinds = append(kinds, string(e.Kind))
		if e.RoomID != "r1" {
			t.Errorf("entry room = %q", e.RoomID)
		}
	}
	if got := strings.Join(kinds, ","); got != "turn,tool_call,reply" {
		t.Errorf("logged kinds = %s", got)
	}
	if entries[1].Tool != visiontool.DescribeSceneName || entries[1].IsError {
		t.Errorf("tool entry = %+v", entries[1])
	}
}

func TestHandleTurn_ToolRoundsCapped(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content:   "giving up on tools",
		ToolCalls: []types.ToolCall{{ID: "c", Name: "weather", Arguments: "{}"}},
	}}
	host := &mcpmock.Host{
		ToolsResult:       []types.ToolDefinition{{Name: "weather"}},
		ExecuteToolResult: &mcp.ToolResult{Content: "sunny"},
	}
	room := videomock.NewRoom("r1")
	s := newSession(t, Config{Room: room, LLM: model, MCPHost: host, MaxToolRounds: 2})

	if err := s.HandleTurn(context.Background(), video.Turn{Text: "weather?"}); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	calls := model.Completes()
	if len(calls) != 3 {
		t.Fatalf("Complete calls = %d, want 3", len(calls))
	}
	if len(calls[2].Req.Tools) != 0 {
		t.Error("final round still offered tools")
	}
	if n := host.CallCount("ExecuteTool"); n != 2 {
		t.Errorf("ExecuteTool calls = %d, want 2", n)
	}
	if got := replies(room); len(got) != 1 || got[0] != "giving up on tools" {
		t.Errorf("replies = %v", got)
	}
}

func TestHandleTurn_ToolErrorReachesModel(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{CompleteResponses: []*llm.CompletionResponse{
		{ToolCalls: []types.ToolCall{{ID: "c1", Name: "weather", Arguments: "{}"}}},
		{Content: "I could not check the weather."},
	}}
	host := &mcpmock.Host{
		ToolsResult:    []types.ToolDefinition{{Name: "weather"}},
		ExecuteToolErr: errors.New("connection refused"),
	}
	store := sessionlog.NewMemoryStore(0)
	s := newSession(t, Config{LLM: model, MCPHost: host, Log: store})

	if err := s.HandleTurn(context.Background(), video.Turn{Text: "weather?"}); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	calls := model.Completes()
	tool := lastMessage(calls[1].Req)
	if tool.Role != "tool" || !strings.Contains(tool.Content, "connection refused") {
		t.Errorf("tool message = %+v", tool)
	}
	entries, _ := store.List(context.Background(), "s1")
	if len(entries) < 2 || !entries[1].IsError {
		t.Errorf("tool entry not flagged as error: %+v", entries)
	}
}

func TestHandleTurn_VisionTimeoutDoesNotStopLaterTurns(t *testing.T) {
	t.Parallel()

	room := videomock.NewRoom("r1")
	model := &llmmock.Provider{CompleteResponses: []*llm.CompletionResponse{
		{ToolCalls: []types.ToolCall{{ID: "c1", Name: visiontool.DescribeSceneName, Arguments: "{}"}}},
		{Content: "The camera did not answer in time."},
		{Content: "Sure, ask me again in a moment."},
	}}
	vp := &visionmock.Provider{Err: &vision.Error{Provider: "mock", Op: "caption", Kind: vision.ErrTimeout}}
	s := newSession(t, Config{Room: room, LLM: model, Vision: &visiontool.Config{Provider: vp}})
	s.Buffer().Set(testFrame(1))

	if err := s.HandleTurn(context.Background(), video.Turn{Text: "what is in front of me?"}); err != nil {
		t.Fatalf("first HandleTurn: %v", err)
	}
	tool := lastMessage(model.Completes()[1].Req)
	if tool.Role != "tool" || !strings.Contains(tool.Content, "timeout") {
		t.Errorf("tool message = %+v, want the timeout", tool)
	}

	if err := s.HandleTurn(context.Background(), video.Turn{Text: "never mind"}); err != nil {
		t.Fatalf("second HandleTurn: %v", err)
	}
	want := []string{"The camera did not answer in time.", "Sure, ask me again in a moment."}
	if got := replies(room); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("replies = %v, want %v", got, want)
	}
	if n := len(vp.Calls()); n != 1 {
		t.Errorf("vision calls = %d, want 1", n)
	}
}

func TestHandleTurn_ModelErrorSendsFallback(t *testing.T) {
	t.Parallel()

	room := videomock.NewRoom("r1")
	model := &llmmock.Provider{CompleteErr: errors.New("upstream 500")}
	s := newSession(t, Config{Room: room, LLM: model})

	err := s.HandleTurn(context.Background(), video.Turn{Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "upstream 500") {
		t.Fatalf("HandleTurn: err = %v", err)
	}
	if got := replies(room); len(got) != 1 || got[0] != FallbackReply {
		t.Errorf("replies = %v, want fallback", got)
	}
}

func TestHandleTurn_CancelledContext(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{}
	s := newSession(t, Config{LLM: model})
	s.Buffer().Set(testFrame(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.HandleTurn(ctx, video.Turn{Text: "hi"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, ok := s.Buffer().Peek(); !ok {
		t.Error("cancelled turn consumed the frame")
	}
	if n := len(model.Completes()); n != 0 {
		t.Errorf("Complete calls = %d, want 0", n)
	}
}

func TestHandleTurn_HistoryTrimmed(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "ok"},
		TokenCount:       1000,
	}
	s := newSession(t, Config{LLM: model, MaxHistoryTokens: 100})

	for _, text := range []string{"one", "two", "three"} {
		if err := s.HandleTurn(context.Background(), video.Turn{Text: text}); err != nil {
			t.Fatalf("HandleTurn %s: %v", text, err)
		}
	}

	calls := model.Completes()
	msgs := calls[len(calls)-1].Req.Messages
	if len(msgs) != 1 || msgs[0].Content != "three" {
		t.Errorf("messages = %+v, want only the newest turn", msgs)
	}
	for _, counted := range model.Counted() {
		for _, m := range counted {
			if m.HasImage() {
				t.Fatal("frame reached the token counter")
			}
		}
	}
}

// ─── lifecycle ────────────────────────────────────────────────────────────────

func TestRun_GreetingSeesFirstFrame(t *testing.T) {
	t.Parallel()

	room := videomock.NewRoom("r1")
	cam := videomock.NewTrack("alice/camera")
	room.AddParticipant(video.Participant{
		Identity:     "alice",
		Publications: []video.Publication{{TrackID: cam.ID(), Kind: video.KindVideo, Track: cam}},
	})
	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello there!"}}
	s := newSession(t, Config{
		Room:         room,
		LLM:          model,
		Greeting:     "Greet the user.",
		GreetingWait: 2 * time.Second,
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	waitFor(t, func() bool { return cam.OpenSubscriptions() == 1 })
	cam.Push(testFrame(1))
	waitFor(t, func() bool { return len(replies(room)) == 1 })

	greeting := lastMessage(model.Completes()[0].Req)
	if greeting.Content != "Greet the user." {
		t.Errorf("greeting turn = %q", greeting.Content)
	}
	if greeting.ImageCount() != 1 {
		t.Errorf("greeting images = %d, want 1", greeting.ImageCount())
	}

	room.PushTurn(video.Turn{Participant: "alice", Text: "thanks"})
	waitFor(t, func() bool { return len(replies(room)) == 2 })

	if err := room.Close(); err != nil {
		t.Fatalf("room Close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil after room close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after room close")
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := cam.OpenSubscriptions(); n != 0 {
		t.Errorf("open subscriptions after Close = %d", n)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestRun_NoGreetingWaitsForTurns(t *testing.T) {
	t.Parallel()

	room := videomock.NewRoom("r1")
	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}
	s := newSession(t, Config{Room: room, LLM: model})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	room.PushTurn(video.Turn{Text: "hello"})
	waitFor(t, func() bool { return len(replies(room)) == 1 })
	if n := len(model.Completes()); n != 1 {
		t.Errorf("Complete calls = %d, want 1 (no greeting)", n)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// stalledModel blocks every completion until its context ends.
type stalledModel struct {
	llmmock.Provider
	entered chan struct{}
}

func (m *stalledModel) Complete(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.entered <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_RoomCloseCancelsTurn(t *testing.T) {
	t.Parallel()

	room := videomock.NewRoom("r1")
	model := &stalledModel{entered: make(chan struct{}, 1)}
	s := newSession(t, Config{Room: room, LLM: model, TurnTimeout: time.Minute})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	room.PushTurn(video.Turn{Text: "hello"})
	select {
	case <-model.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("turn never reached the model")
	}
	if err := room.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil after the room closed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept waiting on the turn after the room closed")
	}
	if sent := room.Sent(); len(sent) != 0 {
		t.Errorf("sent %+v to a closed room", sent)
	}
}

func TestRun_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	room := videomock.NewRoom("r1")
	cam := videomock.NewTrack("alice/camera")
	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	s := newSession(t, Config{Room: room, LLM: model, Metrics: m})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitFor(t, func() bool { return room.ObserverCount() == 1 })
	room.Publish(video.Participant{Identity: "alice"}, "camera", cam)
	waitFor(t, func() bool { return cam.OpenSubscriptions() == 1 })
	cam.Push(testFrame(1))
	waitFor(t, func() bool { _, ok := s.Buffer().Peek(); return ok })

	room.PushTurn(video.Turn{Text: "look"})
	waitFor(t, func() bool { return len(replies(room)) == 1 })

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for name, want := range map[string]int64{
		"lookout.frames.received": 1,
		"lookout.turns":           1,
		"lookout.turns.augmented": 1,
		"lookout.active_sessions": 1,
		"lookout.active_streams":  1,
	} {
		if got := sumOf(rm, name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func sumOf(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestRoomSpeaker_Say(t *testing.T) {
	t.Parallel()

	room := videomock.NewRoom("r1")
	sp := RoomSpeaker{Room: room}
	if err := sp.Say(context.Background(), "one moment"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	sent := room.Sent()
	if len(sent) != 1 || sent[0].Type != video.OutboundSay || sent[0].Text != "one moment" {
		t.Errorf("sent = %+v", sent)
	}

	room.SendErr = video.ErrTransport
	if err := sp.Say(context.Background(), "again"); !errors.Is(err, video.ErrTransport) {
		t.Errorf("Say err = %v, want ErrTransport", err)
	}
}
