package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/lookout/pkg/video"
)

const (
	// chatLabel is the data channel carrying turns and replies.
	chatLabel = "chat"

	// videoLabelPrefix prefixes data channels that publish a video track.
	videoLabelPrefix = "video/"

	// turnBuffer is the capacity of the room's turn channel. Turns arriving
	// while it is full are dropped with a warning.
	turnBuffer = 16
)

// chatMessage is the JSON envelope exchanged on the chat data channel.
type chatMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// peer holds the runtime state for a single connected WebRTC peer.
type peer struct {
	identity  string
	name      string
	transport PeerTransport
	tracks    map[string]*track // by track name; guarded by Room.mu
	chat      DataChannel       // guarded by Room.mu
}

// Room manages the WebRTC peers of a single room. It implements [video.Room].
//
// Track events are emitted synchronously and in order: emitMu serialises
// every state change together with its notification, while mu guards the
// state itself so observers may call read-only methods from their callback.
//
// Room is safe for concurrent use.
type Room struct {
	id      string
	ready   chan struct{} // closed once the platform's open hook returned
	onClose func(*Room)

	emitMu sync.Mutex

	mu           sync.Mutex
	peers        map[string]*peer
	observers    map[int]video.TrackObserver
	nextObserver int
	hadPeers     bool
	closed       bool
	turns        chan video.Turn
	done         chan struct{}
}

func newRoom(id string, onClose func(*Room)) *Room {
	return &Room{
		id:        id,
		ready:     make(chan struct{}),
		onClose:   onClose,
		peers:     make(map[string]*peer),
		observers: make(map[int]video.TrackObserver),
		turns:     make(chan video.Turn, turnBuffer),
		done:      make(chan struct{}),
	}
}

// ID implements [video.Room].
func (r *Room) ID() string { return r.id }

// Participants implements [video.Room]. Peers are ordered by identity and
// publications by track name.
func (r *Room) Participants() []video.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]video.Participant, 0, len(r.peers))
	for _, p := range r.peers {
		part := video.Participant{Identity: p.identity, Name: p.name}
		for _, t := range p.tracks {
			part.Publications = append(part.Publications, publicationOf(t))
		}
		slices.SortFunc(part.Publications, func(a, b video.Publication) int {
			return strings.Compare(a.Name, b.Name)
		})
		out = append(out, part)
	}
	slices.SortFunc(out, func(a, b video.Participant) int {
		return strings.Compare(a.Identity, b.Identity)
	})
	return out
}

// Observe implements [video.Room].
func (r *Room) Observe(obs video.TrackObserver) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextObserver
	r.nextObserver++
	r.observers[id] = obs
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.observers, id)
		})
	}
}

// Turns implements [video.Room].
func (r *Room) Turns() <-chan video.Turn { return r.turns }

// Done implements [video.Room].
func (r *Room) Done() <-chan struct{} { return r.done }

// Send implements [video.Room]. The message is written to every peer's chat
// channel. Peers without an open chat channel are skipped.
func (r *Room) Send(ctx context.Context, msg video.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(chatMessage{Type: msg.Type.String(), Text: msg.Text})
	if err != nil {
		return fmt.Errorf("webrtc: encode outbound: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return video.ErrRoomClosed
	}
	type target struct {
		identity string
		ch       DataChannel
	}
	targets := make([]target, 0, len(r.peers))
	for _, p := range r.peers {
		if p.chat != nil {
			targets = append(targets, target{p.identity, p.chat})
		}
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		slog.Debug("webrtc: no chat recipients", "room", r.id, "type", msg.Type)
		return nil
	}
	var errs []error
	for _, t := range targets {
		if err := t.ch.SendText(string(data)); err != nil {
			errs = append(errs, fmt.Errorf("peer %q: %w", t.identity, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("webrtc: send %s: %w: %w", msg.Type, video.ErrTransport, errors.Join(errs...))
	}
	return nil
}

// AddPeer attaches a signaled peer to the room. A peer re-joining with an
// identity that is already present replaces the previous connection.
func (r *Room) AddPeer(identity, name string, t PeerTransport) error {
	if name == "" {
		name = identity
	}
	p := &peer{identity: identity, name: name, transport: t, tracks: make(map[string]*track)}

	r.emitMu.Lock()
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.emitMu.Unlock()
		return fmt.Errorf("webrtc: add peer %q to room %q: %w", identity, r.id, video.ErrRoomClosed)
	}
	old := r.peers[identity]
	var oldTracks []*track
	if old != nil {
		oldTracks = sortedTracks(old.tracks)
		old.tracks = make(map[string]*track)
		old.chat = nil
	}
	r.peers[identity] = p
	r.hadPeers = true
	r.mu.Unlock()

	t.OnDataChannel(func(dc DataChannel) { r.attachChannel(p, dc) })
	t.OnClose(func() { r.removePeer(identity, p) })

	if old != nil {
		owner := video.Participant{Identity: old.identity, Name: old.name}
		for _, tk := range oldTracks {
			tk.end()
			r.emit(video.TrackEvent{Type: video.TrackUnpublished, Publication: publicationOf(tk), Participant: owner})
		}
		r.emit(video.TrackEvent{Type: video.ParticipantLeft, Participant: owner})
	}
	r.emit(video.TrackEvent{
		Type:        video.ParticipantJoined,
		Participant: video.Participant{Identity: identity, Name: name},
	})
	r.emitMu.Unlock()

	if old != nil {
		if err := old.transport.Close(); err != nil {
			slog.Debug("webrtc: close replaced transport", "room", r.id, "identity", identity, "err", err)
		}
	}
	slog.Info("webrtc: peer joined", "room", r.id, "identity", identity, "rejoin", old != nil)
	return nil
}

// RemovePeer disconnects the peer identified by identity and unpublishes its
// tracks. When the last peer leaves, the room closes.
func (r *Room) RemovePeer(identity string) error {
	if !r.removePeer(identity, nil) {
		return fmt.Errorf("webrtc: peer %q not found in room %q", identity, r.id)
	}
	return nil
}

// removeIfBound removes identity only while it is still served by t, so a
// stale signaling socket cannot evict a peer that re-joined.
func (r *Room) removeIfBound(identity string, t PeerTransport) bool {
	r.mu.Lock()
	p, ok := r.peers[identity]
	r.mu.Unlock()
	if !ok || p.transport != t {
		return false
	}
	return r.removePeer(identity, p)
}

// removePeer removes identity if it is still bound to want (or to any peer
// when want is nil). It reports whether a peer was removed.
func (r *Room) removePeer(identity string, want *peer) bool {
	r.emitMu.Lock()
	r.mu.Lock()
	p, ok := r.peers[identity]
	if !ok || (want != nil && p != want) {
		r.mu.Unlock()
		r.emitMu.Unlock()
		return false
	}
	delete(r.peers, identity)
	tracks := sortedTracks(p.tracks)
	p.tracks = make(map[string]*track)
	p.chat = nil
	empty := len(r.peers) == 0 && r.hadPeers
	r.mu.Unlock()

	owner := video.Participant{Identity: p.identity, Name: p.name}
	for _, t := range tracks {
		t.end()
		r.emit(video.TrackEvent{Type: video.TrackUnpublished, Publication: publicationOf(t), Participant: owner})
	}
	r.emit(video.TrackEvent{Type: video.ParticipantLeft, Participant: owner})
	r.emitMu.Unlock()

	if err := p.transport.Close(); err != nil {
		slog.Debug("webrtc: close peer transport", "room", r.id, "identity", identity, "err", err)
	}
	slog.Info("webrtc: peer left", "room", r.id, "identity", identity)

	if empty {
		r.closeIfEmpty()
	}
	return true
}

// attachChannel routes a newly opened data channel by label.
func (r *Room) attachChannel(p *peer, dc DataChannel) {
	label := dc.Label()
	switch {
	case label == chatLabel:
		r.mu.Lock()
		if r.peers[p.identity] == p {
			p.chat = dc
		}
		r.mu.Unlock()
		dc.OnMessage(func(data []byte, binary bool) { r.handleChat(p, data, binary) })
		dc.OnClose(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if p.chat == dc {
				p.chat = nil
			}
		})
	case strings.HasPrefix(label, videoLabelPrefix) && len(label) > len(videoLabelPrefix):
		t := r.publish(p, strings.TrimPrefix(label, videoLabelPrefix))
		if t == nil {
			return
		}
		dc.OnMessage(t.handleMessage)
		dc.OnClose(func() { r.unpublish(p, t) })
	default:
		slog.Debug("webrtc: ignoring data channel", "room", r.id, "identity", p.identity, "label", label)
	}
}

// publish registers a new video track for p and emits TrackPublished. A track
// with the same name replaces the previous one, which is unpublished first.
func (r *Room) publish(p *peer, name string) *track {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if r.closed || r.peers[p.identity] != p {
		r.mu.Unlock()
		return nil
	}
	old := p.tracks[name]
	t := newTrack(p.identity, name)
	p.tracks[name] = t
	r.mu.Unlock()

	owner := video.Participant{Identity: p.identity, Name: p.name}
	if old != nil {
		old.end()
		r.emit(video.TrackEvent{Type: video.TrackUnpublished, Publication: publicationOf(old), Participant: owner})
	}
	r.emit(video.TrackEvent{Type: video.TrackPublished, Publication: publicationOf(t), Participant: owner})
	slog.Info("webrtc: track published", "room", r.id, "track_id", t.id)
	return t
}

// unpublish withdraws t if it is still p's current track of that name.
func (r *Room) unpublish(p *peer, t *track) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if p.tracks[t.name] != t {
		r.mu.Unlock()
		return
	}
	delete(p.tracks, t.name)
	r.mu.Unlock()

	t.end()
	r.emit(video.TrackEvent{
		Type:        video.TrackUnpublished,
		Publication: publicationOf(t),
		Participant: video.Participant{Identity: p.identity, Name: p.name},
	})
	slog.Info("webrtc: track unpublished", "room", r.id, "track_id", t.id)
}

// handleChat decodes an inbound chat message and queues turns.
func (r *Room) handleChat(p *peer, data []byte, binary bool) {
	if binary {
		return
	}
	var msg chatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("webrtc: malformed chat message", "room", r.id, "identity", p.identity, "err", err)
		return
	}
	if msg.Type != "turn" || strings.TrimSpace(msg.Text) == "" {
		return
	}
	turn := video.Turn{Participant: p.identity, Text: msg.Text, At: time.Now()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.turns <- turn:
	default:
		slog.Warn("webrtc: turn queue full, dropping turn", "room", r.id, "identity", p.identity)
	}
}

// emit delivers ev to all observers in registration order.
// Must be called with emitMu held and mu released.
func (r *Room) emit(ev video.TrackEvent) {
	r.mu.Lock()
	ids := make([]int, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	obs := make([]video.TrackObserver, 0, len(ids))
	for _, id := range ids {
		obs = append(obs, r.observers[id])
	}
	r.mu.Unlock()

	for _, o := range obs {
		o.OnTrackEvent(ev)
	}
}

// Close implements [video.Room]. It disconnects every peer, ends all tracks
// and closes the turn channel. Safe to call more than once.
func (r *Room) Close() error {
	return r.close(false)
}

func (r *Room) closeIfEmpty() {
	_ = r.close(true)
}

func (r *Room) close(onlyIfEmpty bool) error {
	r.emitMu.Lock()
	r.mu.Lock()
	if r.closed || (onlyIfEmpty && len(r.peers) > 0) {
		r.mu.Unlock()
		r.emitMu.Unlock()
		return nil
	}
	r.closed = true
	type departing struct {
		peer   *peer
		tracks []*track
	}
	gone := make([]departing, 0, len(r.peers))
	for _, p := range r.peers {
		gone = append(gone, departing{peer: p, tracks: sortedTracks(p.tracks)})
		p.tracks = make(map[string]*track)
		p.chat = nil
	}
	slices.SortFunc(gone, func(a, b departing) int { return strings.Compare(a.peer.identity, b.peer.identity) })
	r.peers = make(map[string]*peer)
	close(r.turns)
	close(r.done)
	r.mu.Unlock()

	for _, d := range gone {
		owner := video.Participant{Identity: d.peer.identity, Name: d.peer.name}
		for _, t := range d.tracks {
			t.end()
			r.emit(video.TrackEvent{Type: video.TrackUnpublished, Publication: publicationOf(t), Participant: owner})
		}
	}
	r.emitMu.Unlock()

	var errs []error
	for _, d := range gone {
		if err := d.peer.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("peer %q: %w", d.peer.identity, err))
		}
	}

	if r.onClose != nil {
		r.onClose(r)
	}
	slog.Info("webrtc: room closed", "room", r.id)
	if len(errs) > 0 {
		return fmt.Errorf("webrtc: close room %q: %w", r.id, errors.Join(errs...))
	}
	return nil
}

func publicationOf(t *track) video.Publication {
	return video.Publication{TrackID: t.id, Name: t.name, Kind: video.KindVideo, Track: t}
}

func sortedTracks(m map[string]*track) []*track {
	out := make([]*track, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *track) int { return strings.Compare(a.name, b.name) })
	return out
}

var _ video.Room = (*Room)(nil)
