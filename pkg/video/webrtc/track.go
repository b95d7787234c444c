package webrtc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder for DecodeConfig
	_ "image/png"  // register decoder for DecodeConfig
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/lookout/pkg/video"
)

// subscriberBuffer is the per-subscriber frame queue depth. When full the
// oldest queued frame is discarded.
const subscriberBuffer = 2

// track is a video track fed by binary messages on a "video/<name>" data
// channel. It implements [video.Track].
type track struct {
	id    string
	name  string
	owner string

	mu    sync.Mutex
	subs  map[*subscription]struct{}
	ended bool
}

func newTrack(owner, name string) *track {
	return &track{
		id:    owner + "/" + name,
		name:  name,
		owner: owner,
		subs:  make(map[*subscription]struct{}),
	}
}

func (t *track) ID() string { return t.id }

func (t *track) Kind() video.Kind { return video.KindVideo }

// Subscribe returns a new subscription. Subscribing to an ended track fails
// with an error wrapping [video.ErrTransport].
func (t *track) Subscribe(ctx context.Context) (video.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("webrtc: subscribe %s: %w", t.id, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return nil, fmt.Errorf("webrtc: subscribe %s: track unpublished: %w", t.id, video.ErrTransport)
	}
	s := &subscription{track: t, ch: make(chan video.Frame, subscriberBuffer)}
	t.subs[s] = struct{}{}
	return s, nil
}

// deliver fans f out to all subscribers without blocking.
func (t *track) deliver(f video.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.subs {
		s.offer(f)
	}
}

// end closes every subscription and rejects new ones.
func (t *track) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended = true
	for s := range t.subs {
		close(s.ch)
		delete(t.subs, s)
	}
}

// handleMessage converts a binary data channel message into a frame.
// Text messages and payloads that are not JPEG or PNG are dropped.
func (t *track) handleMessage(data []byte, binary bool) {
	if !binary || len(data) == 0 {
		return
	}
	f, ok := decodeFrame(t.id, data)
	if !ok {
		slog.Debug("webrtc: dropping non-image message", "track_id", t.id, "bytes", len(data))
		return
	}
	t.deliver(f)
}

// decodeFrame sniffs the MIME type and dimensions of an encoded image.
// The payload is copied so the frame stays immutable after the transport
// reuses its buffer.
func decodeFrame(trackID string, data []byte) (video.Frame, bool) {
	mime := http.DetectContentType(data)
	if mime != "image/jpeg" && mime != "image/png" {
		return video.Frame{}, false
	}
	buf := bytes.Clone(data)
	f := video.Frame{
		Data:       buf,
		MIMEType:   mime,
		CapturedAt: time.Now(),
		TrackID:    trackID,
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(buf)); err == nil {
		f.Width, f.Height = cfg.Width, cfg.Height
	}
	return f, true
}

// subscription implements [video.Subscription].
type subscription struct {
	track *track
	ch    chan video.Frame
}

func (s *subscription) Frames() <-chan video.Frame { return s.ch }

func (s *subscription) Close() error {
	s.track.mu.Lock()
	defer s.track.mu.Unlock()
	if _, ok := s.track.subs[s]; ok {
		delete(s.track.subs, s)
		close(s.ch)
	}
	return nil
}

// offer enqueues f, discarding the oldest queued frame when full.
// Must be called with the track mutex held.
func (s *subscription) offer(f video.Frame) {
	select {
	case s.ch <- f:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- f:
	default:
	}
}

var (
	_ video.Track        = (*track)(nil)
	_ video.Subscription = (*subscription)(nil)
)
