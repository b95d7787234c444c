// Package mock provides in-memory mock implementations of the [video.Platform],
// [video.Room] and [video.Track] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record calls so that tests can
// assert on counts and arguments, and expose fields that control return values.
//
// Typical usage:
//
//	room := mock.NewRoom("room-1")
//	cam := mock.NewTrack("alice/camera")
//	room.Publish(video.Participant{Identity: "alice"}, "camera", cam)
//	cam.Push(video.Frame{Data: jpegBytes, MIMEType: "image/jpeg"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lookout/pkg/video"
)

// ─── Track ────────────────────────────────────────────────────────────────────

// Track is a mock implementation of [video.Track]. Frames pushed with
// [Track.Push] are delivered to every open subscription.
type Track struct {
	mu sync.Mutex

	id   string
	kind video.Kind
	subs []*Subscription

	// SubscribeErr, if non-nil, is returned by Subscribe.
	SubscribeErr error

	// SubscribeCount records how many times Subscribe was called. Read it
	// through [Track.Subscribes] while a reader may be running.
	SubscribeCount int
}

// NewTrack returns a video track with the given ID.
func NewTrack(id string) *Track {
	return &Track{id: id, kind: video.KindVideo}
}

// NewAudioTrack returns an audio track with the given ID.
func NewAudioTrack(id string) *Track {
	return &Track{id: id, kind: video.KindAudio}
}

// ID implements [video.Track].
func (t *Track) ID() string { return t.id }

// Kind implements [video.Track].
func (t *Track) Kind() video.Kind { return t.kind }

// Subscribe implements [video.Track].
func (t *Track) Subscribe(_ context.Context) (video.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SubscribeCount++
	if t.SubscribeErr != nil {
		return nil, t.SubscribeErr
	}
	s := &Subscription{track: t, ch: make(chan video.Frame, 64)}
	t.subs = append(t.subs, s)
	return s, nil
}

// Push delivers f to every open subscription, dropping it for subscribers
// whose buffer is full. If f.TrackID is empty it is set to the track's ID.
func (t *Track) Push(f video.Frame) {
	if f.TrackID == "" {
		f.TrackID = t.id
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		if s.closed {
			continue
		}
		select {
		case s.ch <- f:
		default:
		}
	}
}

// End closes every open subscription's frame channel, simulating end-of-stream.
func (t *Track) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		s.closeLocked()
	}
}

// Subscribes returns SubscribeCount under the track's lock.
func (t *Track) Subscribes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.SubscribeCount
}

// Subscriptions returns all subscriptions created so far.
func (t *Track) Subscriptions() []*Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Subscription, len(t.subs))
	copy(out, t.subs)
	return out
}

// OpenSubscriptions returns the number of subscriptions not yet closed.
func (t *Track) OpenSubscriptions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.subs {
		if !s.closed {
			n++
		}
	}
	return n
}

// Subscription is a mock implementation of [video.Subscription].
type Subscription struct {
	track  *Track
	ch     chan video.Frame
	closed bool

	// CloseCount records how many times Close was called. Guarded by the
	// owning track's mutex.
	CloseCount int
}

// Frames implements [video.Subscription].
func (s *Subscription) Frames() <-chan video.Frame { return s.ch }

// Close implements [video.Subscription].
func (s *Subscription) Close() error {
	s.track.mu.Lock()
	defer s.track.mu.Unlock()
	s.CloseCount++
	s.closeLocked()
	return nil
}

// Closed reports whether the subscription has been closed.
func (s *Subscription) Closed() bool {
	s.track.mu.Lock()
	defer s.track.mu.Unlock()
	return s.closed
}

func (s *Subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// ─── Room ─────────────────────────────────────────────────────────────────────

// Room is a mock implementation of [video.Room]. Use [Room.Publish],
// [Room.Unpublish] and [Room.PushTurn] to simulate participant activity.
type Room struct {
	mu sync.Mutex

	id           string
	participants []video.Participant
	observers    map[int]video.TrackObserver
	nextObserver int
	turns        chan video.Turn
	done         chan struct{}
	closed       bool
	sent         []video.Outbound

	// SendErr, if non-nil, is returned by Send.
	SendErr error

	// CloseCount records how many times Close was called.
	CloseCount int
}

// NewRoom returns an empty room.
func NewRoom(id string) *Room {
	return &Room{
		id:        id,
		observers: make(map[int]video.TrackObserver),
		turns:     make(chan video.Turn, 16),
		done:      make(chan struct{}),
	}
}

// ID implements [video.Room].
func (r *Room) ID() string { return r.id }

// Participants implements [video.Room].
func (r *Room) Participants() []video.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]video.Participant, len(r.participants))
	for i, p := range r.participants {
		p.Publications = append([]video.Publication(nil), p.Publications...)
		out[i] = p
	}
	return out
}

// Observe implements [video.Room].
func (r *Room) Observe(obs video.TrackObserver) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextObserver
	r.nextObserver++
	r.observers[id] = obs
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

// ObserverCount returns the number of registered observers.
func (r *Room) ObserverCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

// Turns implements [video.Room].
func (r *Room) Turns() <-chan video.Turn { return r.turns }

// Send implements [video.Room]. Successful sends are recorded.
func (r *Room) Send(_ context.Context, msg video.Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return r.SendErr
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of every message passed to a successful Send.
func (r *Room) Sent() []video.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]video.Outbound, len(r.sent))
	copy(out, r.sent)
	return out
}

// Done implements [video.Room].
func (r *Room) Done() <-chan struct{} { return r.done }

// Close implements [video.Room]. It closes the turns channel and Done.
func (r *Room) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCount++
	if !r.closed {
		r.closed = true
		close(r.turns)
		close(r.done)
	}
	return nil
}

// PushTurn enqueues a finalized user turn.
func (r *Room) PushTurn(t video.Turn) {
	r.turns <- t
}

// AddParticipant records p as connected without emitting an event. Use it to
// set up tracks that already exist before an observer registers.
func (r *Room) AddParticipant(p video.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = append(r.participants, p)
}

// Publish adds a publication for participant p (creating the participant if
// needed) and emits [video.TrackPublished] to all observers.
func (r *Room) Publish(p video.Participant, name string, t video.Track) video.Publication {
	pub := video.Publication{TrackID: t.ID(), Name: name, Kind: t.Kind(), Track: t}
	r.mu.Lock()
	found := false
	for i := range r.participants {
		if r.participants[i].Identity == p.Identity {
			r.participants[i].Publications = append(r.participants[i].Publications, pub)
			found = true
			break
		}
	}
	if !found {
		p.Publications = []video.Publication{pub}
		r.participants = append(r.participants, p)
	}
	r.mu.Unlock()

	r.Emit(video.TrackEvent{
		Type:        video.TrackPublished,
		Publication: pub,
		Participant: video.Participant{Identity: p.Identity, Name: p.Name},
	})
	return pub
}

// Unpublish removes the publication with trackID and emits
// [video.TrackUnpublished]. Unknown IDs are ignored.
func (r *Room) Unpublish(trackID string) {
	var (
		pub   video.Publication
		owner video.Participant
		found bool
	)
	r.mu.Lock()
	for i := range r.participants {
		pubs := r.participants[i].Publications
		for j := range pubs {
			if pubs[j].TrackID == trackID {
				pub = pubs[j]
				owner = video.Participant{Identity: r.participants[i].Identity, Name: r.participants[i].Name}
				r.participants[i].Publications = append(pubs[:j:j], pubs[j+1:]...)
				found = true
				break
			}
		}
	}
	r.mu.Unlock()
	if !found {
		return
	}
	r.Emit(video.TrackEvent{Type: video.TrackUnpublished, Publication: pub, Participant: owner})
}

// Emit delivers ev synchronously to every registered observer.
func (r *Room) Emit(ev video.TrackEvent) {
	r.mu.Lock()
	obs := make([]video.TrackObserver, 0, len(r.observers))
	for i := 0; i < r.nextObserver; i++ {
		if o, ok := r.observers[i]; ok {
			obs = append(obs, o)
		}
	}
	r.mu.Unlock()
	for _, o := range obs {
		o.OnTrackEvent(ev)
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [video.Platform]. Join returns rooms
// created with [NewRoom], reusing a room per ID.
type Platform struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	onOpen func(video.Room)

	// JoinErr, if non-nil, is returned by Join.
	JoinErr error

	// JoinCalls records the roomID of every Join call.
	JoinCalls []string
}

// Join implements [video.Platform].
func (p *Platform) Join(_ context.Context, roomID string) (video.Room, error) {
	p.mu.Lock()
	p.JoinCalls = append(p.JoinCalls, roomID)
	if p.JoinErr != nil {
		err := p.JoinErr
		p.mu.Unlock()
		return nil, err
	}
	if p.rooms == nil {
		p.rooms = make(map[string]*Room)
	}
	r, ok := p.rooms[roomID]
	if ok {
		p.mu.Unlock()
		return r, nil
	}
	r = NewRoom(roomID)
	p.rooms[roomID] = r
	cb := p.onOpen
	p.mu.Unlock()
	if cb != nil {
		cb(r)
	}
	return r, nil
}

// OnRoomOpened implements [video.Platform].
func (p *Platform) OnRoomOpened(cb func(video.Room)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onOpen = cb
}

// Room returns the room created for roomID, or nil.
func (p *Platform) Room(roomID string) *Room {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rooms[roomID]
}

var (
	_ video.Platform     = (*Platform)(nil)
	_ video.Room         = (*Room)(nil)
	_ video.Track        = (*Track)(nil)
	_ video.Subscription = (*Subscription)(nil)
)
