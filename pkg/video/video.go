// Package video defines the interfaces and types for live video track
// connectivity within Lookout.
//
// The primary abstractions are:
//
//   - [Platform]: joins a room and returns a [Room].
//   - [Room]: an active session with remote participants, giving callers
//     typed track lifecycle events, finalized user turns and an outbound
//     message path.
//   - [Track]: a published video track that can be subscribed to for a
//     stream of [Frame] values.
//
// Implementations are provided by transport-specific adapter packages (e.g.,
// video/webrtc). The interfaces are intentionally narrow to keep the visual
// pipeline decoupled from transport details.
//
// This package lives under pkg/ because external code (third-party transport
// adapters) is expected to implement [Platform], [Room] and [Track].
package video

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/lookout/pkg/types"
)

// ErrTransport is wrapped by every error that originates in the transport
// layer, such as a failed subscription or a send on a dead peer.
var ErrTransport = errors.New("video: transport error")

// ErrRoomClosed is returned by operations on a [Room] that has been closed.
var ErrRoomClosed = errors.New("video: room closed")

// Frame is a single encoded still image captured from a video track.
// Frames are immutable once produced; consumers must not modify Data.
type Frame struct {
	// Data holds the encoded image bytes as delivered by the transport.
	Data []byte

	// MIMEType is "image/jpeg" or "image/png".
	MIMEType string

	// Width and Height are the pixel dimensions, zero when unknown.
	Width  int
	Height int

	// CapturedAt is when the transport received the frame.
	CapturedAt time.Time

	// TrackID identifies the track that produced the frame.
	TrackID string
}

// Image returns the frame as a conversation image.
func (f Frame) Image() types.Image {
	return types.Image{
		Data:       f.Data,
		MIMEType:   f.MIMEType,
		Width:      f.Width,
		Height:     f.Height,
		CapturedAt: f.CapturedAt,
	}
}

// Kind classifies a published track.
type Kind int

const (
	// KindVideo is a camera or screen track carrying still frames.
	KindVideo Kind = iota

	// KindAudio is an audio track. Lookout never subscribes to these.
	KindAudio
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Subscription is an active subscription to a [Track].
type Subscription interface {
	// Frames returns the channel delivering frames as they arrive. The
	// channel is closed at end-of-stream or after Close.
	Frames() <-chan Frame

	// Close releases the subscription. Safe to call more than once.
	Close() error
}

// Track is a published media track.
//
// Implementations must be safe for concurrent use.
type Track interface {
	// ID returns the room-unique track identifier.
	ID() string

	// Kind returns the media kind of the track.
	Kind() Kind

	// Subscribe starts receiving frames. Errors wrap [ErrTransport].
	Subscribe(ctx context.Context) (Subscription, error)
}

// Participant is a remote peer in a room.
type Participant struct {
	// Identity is the unique participant identifier.
	Identity string

	// Name is the human-readable display name.
	Name string

	// Publications lists the tracks the participant currently publishes.
	// Only populated by [Room.Participants].
	Publications []Publication
}

// Publication describes a track published by a participant.
type Publication struct {
	// TrackID is the room-unique identifier of the track.
	TrackID string

	// Name is the publisher-assigned track name (e.g. "camera").
	Name string

	// Kind is the media kind.
	Kind Kind

	// Track is the subscribable handle.
	Track Track
}

// EventType classifies track lifecycle events emitted by a [Room].
type EventType int

const (
	// TrackPublished is emitted when a participant publishes a track.
	TrackPublished EventType = iota

	// TrackUnpublished is emitted when a track is withdrawn.
	TrackUnpublished

	// ParticipantJoined is emitted when a peer connects.
	ParticipantJoined

	// ParticipantLeft is emitted when a peer disconnects.
	ParticipantLeft
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case TrackPublished:
		return "TRACK_PUBLISHED"
	case TrackUnpublished:
		return "TRACK_UNPUBLISHED"
	case ParticipantJoined:
		return "PARTICIPANT_JOINED"
	case ParticipantLeft:
		return "PARTICIPANT_LEFT"
	default:
		return "UNKNOWN"
	}
}

// TrackEvent describes a lifecycle change in a room.
type TrackEvent struct {
	Type EventType

	// Publication is set for TrackPublished and TrackUnpublished.
	Publication Publication

	// Participant is the peer the event concerns.
	Participant Participant
}

// TrackObserver receives [TrackEvent] values from a [Room].
type TrackObserver interface {
	// OnTrackEvent is invoked synchronously on the transport's goroutine.
	// Implementations must return promptly and must not call Observe.
	OnTrackEvent(ev TrackEvent)
}

// ObserverFunc adapts a plain function to [TrackObserver].
type ObserverFunc func(TrackEvent)

// OnTrackEvent calls f(ev).
func (f ObserverFunc) OnTrackEvent(ev TrackEvent) { f(ev) }

// Turn is a finalized user utterance delivered by the client's speech pipeline.
type Turn struct {
	// Participant is the identity of the speaker.
	Participant string

	// Text is the transcribed utterance.
	Text string

	// At is when the turn was received.
	At time.Time
}

// OutboundType classifies messages sent to participants.
type OutboundType int

const (
	// OutboundReply is the agent's answer to a turn.
	OutboundReply OutboundType = iota

	// OutboundSay is a short spoken acknowledgement, e.g. a filler phrase
	// played while a tool is running.
	OutboundSay
)

// String returns the wire name of the outbound type.
func (t OutboundType) String() string {
	switch t {
	case OutboundReply:
		return "reply"
	case OutboundSay:
		return "say"
	default:
		return "unknown"
	}
}

// Outbound is a text message sent to the room's participants for speech synthesis.
type Outbound struct {
	Type OutboundType
	Text string
}

// Room represents an active session with remote participants.
//
// Implementations must be safe for concurrent use.
type Room interface {
	// ID returns the room identifier.
	ID() string

	// Participants returns a snapshot of the connected participants and their
	// current publications.
	Participants() []Participant

	// Observe registers obs for track lifecycle events and returns a function
	// that unregisters it. Events are delivered in the order they occur.
	Observe(obs TrackObserver) (unregister func())

	// Turns returns the channel of finalized user turns. It is closed when
	// the room closes.
	Turns() <-chan Turn

	// Send delivers msg to all participants. Errors wrap [ErrTransport].
	Send(ctx context.Context, msg Outbound) error

	// Done is closed when the room closes.
	Done() <-chan struct{}

	// Close disconnects all participants. Safe to call more than once.
	Close() error
}

// Platform is the entry point for a video transport.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Join returns the room identified by roomID, opening it if necessary.
	Join(ctx context.Context, roomID string) (Room, error)

	// OnRoomOpened registers cb to be invoked whenever a room is opened,
	// before any participant is attached to it. Only one callback may be
	// registered at a time; subsequent calls replace the previous one.
	OnRoomOpened(cb func(Room))
}
