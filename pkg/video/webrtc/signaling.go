package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// signalMessage is the JSON envelope exchanged on the signaling socket.
type signalMessage struct {
	Type      string     `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// SignalHandler returns an http.Handler that serves the signaling endpoint:
//
//	GET /rooms/{roomID}/signal?identity=<id>&name=<display name>
//
// The request is upgraded to a WebSocket. The browser sends an "offer" and
// trickles "candidate" messages; the server replies with an "answer" and its
// own candidates. The peer stays in the room until it sends "bye", the
// socket closes, or its peer connection fails.
func (p *Platform) SignalHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rooms/{roomID}/signal", p.ServeSignal)
	return mux
}

// ServeSignal handles one signaling WebSocket. The request must carry the
// roomID path value.
func (p *Platform) ServeSignal(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	identity := r.URL.Query().Get("identity")
	if roomID == "" || identity == "" {
		http.Error(w, "room and identity are required", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")

	room, err := p.room(r.Context(), roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrPlatformClosed) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: p.originPatterns})
	if err != nil {
		slog.Warn("webrtc: websocket accept failed", "room", roomID, "identity", identity, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sig := &signalConn{conn: conn, ctx: ctx}

	transport, err := p.newTransport(p.iceServers)
	if err != nil {
		slog.Error("webrtc: create peer transport", "room", roomID, "identity", identity, "err", err)
		sig.send(signalMessage{Type: "error", Error: "transport unavailable"})
		conn.Close(websocket.StatusInternalError, "transport unavailable")
		return
	}
	transport.OnICECandidate(func(c Candidate) {
		sig.send(signalMessage{Type: "candidate", Candidate: &c})
	})

	if err := room.AddPeer(identity, name, transport); err != nil {
		_ = transport.Close()
		sig.send(signalMessage{Type: "error", Error: err.Error()})
		conn.Close(websocket.StatusTryAgainLater, "room closed")
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				slog.Debug("webrtc: signaling read ended", "room", roomID, "identity", identity, "err", err)
			}
			_ = room.removeIfBound(identity, transport)
			return
		}

		var msg signalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sig.send(signalMessage{Type: "error", Error: "malformed message"})
			continue
		}
		switch msg.Type {
		case "offer":
			answer, err := transport.Answer(ctx, msg.SDP)
			if err != nil {
				slog.Warn("webrtc: negotiation failed", "room", roomID, "identity", identity, "err", err)
				sig.send(signalMessage{Type: "error", Error: "negotiation failed"})
				continue
			}
			sig.send(signalMessage{Type: "answer", SDP: answer})
		case "candidate":
			if msg.Candidate == nil {
				continue
			}
			if err := transport.AddICECandidate(*msg.Candidate); err != nil {
				slog.Debug("webrtc: add ICE candidate", "room", roomID, "identity", identity, "err", err)
			}
		case "bye":
			_ = room.removeIfBound(identity, transport)
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		default:
			slog.Debug("webrtc: unknown signaling message", "room", roomID, "type", msg.Type)
		}
	}
}

// signalConn serialises JSON writes on a signaling socket.
type signalConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
	ctx  context.Context
}

func (s *signalConn) send(msg signalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
		slog.Debug("webrtc: signaling write failed", "type", msg.Type, "err", err)
	}
}
