package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Candidate is a trickled ICE candidate in the browser's JSON shape.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// DataChannel is the subset of a WebRTC data channel the room needs.
type DataChannel interface {
	// Label returns the channel label chosen by the remote peer.
	Label() string

	// OnMessage registers the handler for inbound messages. binary is false
	// for text messages.
	OnMessage(fn func(data []byte, binary bool))

	// OnClose registers the handler invoked once the channel closes.
	OnClose(fn func())

	// SendText sends a text message.
	SendText(text string) error
}

// PeerTransport abstracts a single WebRTC peer connection.
// This decouples room logic from pion and allows testing without a network.
type PeerTransport interface {
	// Answer applies the remote SDP offer and returns the local SDP answer.
	// Local candidates are trickled through OnICECandidate.
	Answer(ctx context.Context, sdpOffer string) (sdpAnswer string, err error)

	// AddICECandidate adds a remote ICE candidate.
	AddICECandidate(c Candidate) error

	// OnICECandidate registers the handler for local ICE candidates.
	OnICECandidate(fn func(Candidate))

	// OnDataChannel registers the handler for data channels opened by the peer.
	OnDataChannel(fn func(DataChannel))

	// OnClose registers the handler invoked when the connection fails or closes.
	OnClose(fn func())

	// Close tears down the peer connection and releases resources.
	Close() error
}

// TransportFactory creates a [PeerTransport] for a newly signaling peer.
type TransportFactory func(iceServers []string) (PeerTransport, error)

// ─── pion implementation ─────────────────────────────────────────────────────

// pionTransport is the production [PeerTransport] backed by pion/webrtc.
type pionTransport struct {
	pc *webrtc.PeerConnection

	closeOnce sync.Once
	mu        sync.Mutex
	onClose   func()
}

// NewPionTransport creates a pion peer connection using the given STUN/TURN URLs.
func NewPionTransport(iceServers []string) (PeerTransport, error) {
	api := webrtc.NewAPI()
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("webrtc: new peer connection: %w", err)
	}
	t := &pionTransport{pc: pc}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.fireClose()
		}
	})
	return t, nil
}

func (t *pionTransport) Answer(_ context.Context, sdpOffer string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpOffer}
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("webrtc: set remote description: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtc: create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("webrtc: set local description: %w", err)
	}
	return answer.SDP, nil
}

func (t *pionTransport) AddICECandidate(c Candidate) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (t *pionTransport) OnICECandidate(fn func(Candidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// Gathering complete.
			return
		}
		init := c.ToJSON()
		fn(Candidate{Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})
}

func (t *pionTransport) OnDataChannel(fn func(DataChannel)) {
	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&pionChannel{dc: dc})
	})
}

func (t *pionTransport) OnClose(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = fn
}

func (t *pionTransport) fireClose() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		fn := t.onClose
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

// pionChannel adapts *webrtc.DataChannel to [DataChannel].
type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) Label() string { return c.dc.Label() }

func (c *pionChannel) OnMessage(fn func(data []byte, binary bool)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data, !msg.IsString)
	})
}

func (c *pionChannel) OnClose(fn func()) { c.dc.OnClose(fn) }

func (c *pionChannel) SendText(text string) error { return c.dc.SendText(text) }

var _ PeerTransport = (*pionTransport)(nil)
