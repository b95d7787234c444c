package visual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/lookout/pkg/video"
)

// StreamState is the lifecycle state of a [Stream].
type StreamState int

const (
	// StateUnsubscribed is the initial state before Start.
	StateUnsubscribed StreamState = iota

	// StateSubscribing means the reader task is subscribing or waiting for
	// the first frame.
	StateSubscribing

	// StateStreaming means at least one frame has arrived.
	StateStreaming

	// StateStopped is terminal: stopped, end-of-stream, or subscribe failure.
	StateStopped
)

// String returns the lower-case name of the state.
func (s StreamState) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StreamOption configures a [Stream].
type StreamOption func(*Stream)

// WithFrameHook registers fn to be called after every frame is stored.
// replaced reports whether an unconsumed frame was overwritten. fn runs on
// the reader goroutine and must not block.
func WithFrameHook(fn func(f video.Frame, replaced bool)) StreamOption {
	return func(s *Stream) {
		s.onFrame = fn
	}
}

// WithStateHook registers fn to be called on every state transition.
func WithStateHook(fn func(trackID string, from, to StreamState)) StreamOption {
	return func(s *Stream) {
		s.onState = fn
	}
}

// Stream copies frames from one [video.Track] into a [Buffer]. Each Stream is
// single-use: once stopped, a new track needs a new Stream.
//
// Stream is safe for concurrent use.
type Stream struct {
	track video.Track
	buf   *Buffer
	sup   *Supervisor

	onFrame func(video.Frame, bool)
	onState func(string, StreamState, StreamState)

	mu        sync.Mutex
	state     StreamState
	stop      func()
	err       error
	done      chan struct{}
	closeDone sync.Once
}

// NewStream returns an unstarted stream that writes frames from track into buf
// using a reader goroutine owned by sup.
func NewStream(track video.Track, buf *Buffer, sup *Supervisor, opts ...StreamOption) *Stream {
	s := &Stream{
		track: track,
		buf:   buf,
		sup:   sup,
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TrackID returns the ID of the streamed track.
func (s *Stream) TrackID() string { return s.track.ID() }

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the subscription error that stopped the stream, if any.
// The error wraps [video.ErrTransport] when the transport rejected the
// subscription.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the stream has reached [StateStopped] and its reader
// has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Start subscribes to the track inside a supervised task and begins copying
// frames. It returns without waiting for the subscription to complete.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnsubscribed {
		return fmt.Errorf("visual: stream %s already %s", s.track.ID(), s.state)
	}
	s.transitionLocked(StateSubscribing)

	stop, err := s.sup.Go(ctx, "stream:"+s.track.ID(), s.run)
	if err != nil {
		s.err = err
		s.transitionLocked(StateStopped)
		s.closeDone.Do(func() { close(s.done) })
		return fmt.Errorf("visual: start stream %s: %w", s.track.ID(), err)
	}
	s.stop = stop
	return nil
}

// Stop cancels the reader, waits for it to exit and releases the
// subscription. Safe to call more than once and before Start.
func (s *Stream) Stop() {
	s.mu.Lock()
	stop := s.stop
	if s.state == StateUnsubscribed {
		s.transitionLocked(StateStopped)
		s.closeDone.Do(func() { close(s.done) })
	}
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (s *Stream) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.transitionLocked(StateStopped)
		s.mu.Unlock()
		s.closeDone.Do(func() { close(s.done) })
	}()

	sub, err := s.track.Subscribe(ctx)
	if err != nil {
		if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
			slog.Warn("visual: track subscription failed, continuing without video",
				"track_id", s.track.ID(), "err", err)
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return
	}
	defer func() {
		if err := sub.Close(); err != nil {
			slog.Debug("visual: close subscription", "track_id", s.track.ID(), "err", err)
		}
	}()

	frames := sub.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				slog.Debug("visual: track ended", "track_id", s.track.ID())
				return
			}
			replaced := s.buf.Set(f)
			s.markStreaming()
			if s.onFrame != nil {
				s.onFrame(f, replaced)
			}
		}
	}
}

func (s *Stream) markStreaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubscribing {
		s.transitionLocked(StateStreaming)
	}
}

// transitionLocked moves to next unless the stream is already stopped.
// Must be called with s.mu held.
func (s *Stream) transitionLocked(next StreamState) {
	prev := s.state
	if prev == StateStopped || prev == next {
		return
	}
	s.state = next
	if s.onState != nil {
		s.onState(s.track.ID(), prev, next)
	}
}
