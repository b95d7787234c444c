// Package webrtc provides a [video.Platform] implementation backed by WebRTC
// via pion/webrtc. It lets a browser share its camera with the agent without
// any third-party media server.
//
// Browsers signal over a WebSocket (see [Platform.SignalHandler]). Each data
// channel a peer opens with the label "video/<name>" publishes a video track
// whose binary messages are JPEG or PNG snapshots. The "chat" data channel
// carries finalized user turns inbound and replies outbound as JSON.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/lookout/pkg/video"
)

// ErrPlatformClosed is returned by [Platform.Join] after [Platform.Close].
var ErrPlatformClosed = errors.New("webrtc: platform closed")

// Compile-time interface assertion.
var _ video.Platform = (*Platform)(nil)

// Option configures a [Platform].
type Option func(*Platform)

// WithSTUNServers sets the STUN server URLs used during ICE negotiation.
// Defaults to ["stun:stun.l.google.com:19302"].
func WithSTUNServers(servers ...string) Option {
	return func(p *Platform) {
		p.iceServers = servers
	}
}

// WithTransportFactory replaces the pion-backed peer transport. Intended for
// tests.
func WithTransportFactory(f TransportFactory) Option {
	return func(p *Platform) {
		p.newTransport = f
	}
}

// WithOriginPatterns sets the host patterns accepted for cross-origin
// WebSocket signaling. By default only same-origin requests are accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(p *Platform) {
		p.originPatterns = patterns
	}
}

// Platform implements [video.Platform] using WebRTC as the transport layer.
// Rooms are opened on first [Platform.Join] (or first signaling peer) and
// close when their last peer leaves.
//
// Platform is safe for concurrent use.
type Platform struct {
	iceServers     []string // immutable after New
	originPatterns []string // immutable after New
	newTransport   TransportFactory

	mu     sync.Mutex
	rooms  map[string]*Room
	onOpen func(video.Room)
	closed bool
}

// New creates a new WebRTC Platform with the given options applied.
func New(opts ...Option) *Platform {
	p := &Platform{
		iceServers:   []string{"stun:stun.l.google.com:19302"},
		newTransport: NewPionTransport,
		rooms:        make(map[string]*Room),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnRoomOpened implements [video.Platform].
func (p *Platform) OnRoomOpened(cb func(video.Room)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onOpen = cb
}

// Join implements [video.Platform].
func (p *Platform) Join(ctx context.Context, roomID string) (video.Room, error) {
	return p.room(ctx, roomID)
}

// room returns the open room for roomID, creating it and running the open
// hook if needed. Concurrent callers for a new room wait until the hook
// has returned.
func (p *Platform) room(ctx context.Context, roomID string) (*Room, error) {
	if roomID == "" {
		return nil, fmt.Errorf("webrtc: room ID is required")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPlatformClosed
	}
	r, ok := p.rooms[roomID]
	if ok {
		p.mu.Unlock()
		select {
		case <-r.ready:
			return r, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r = newRoom(roomID, p.forget)
	p.rooms[roomID] = r
	cb := p.onOpen
	p.mu.Unlock()

	if cb != nil {
		cb(r)
	}
	close(r.ready)
	return r, nil
}

// forget drops a closed room so the next Join opens a fresh one.
func (p *Platform) forget(r *Room) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rooms[r.id] == r {
		delete(p.rooms, r.id)
	}
}

// Rooms returns the IDs of all open rooms in sorted order.
func (p *Platform) Rooms() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.rooms))
	for id := range p.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every open room and rejects further joins.
func (p *Platform) Close() error {
	p.mu.Lock()
	p.closed = true
	rooms := make([]*Room, 0, len(p.rooms))
	for _, r := range p.rooms {
		rooms = append(rooms, r)
	}
	p.mu.Unlock()

	var errs []error
	for _, r := range rooms {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
