package webrtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func dialSignal(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func writeSignal(t *testing.T, conn *websocket.Conn, msg signalMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func readSignal(t *testing.T, conn *websocket.Conn) signalMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var msg signalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	return msg
}

func TestSignal_OfferAnswerCandidateBye(t *testing.T) {
	t.Parallel()

	transports := make(chan *fakeTransport, 1)
	p := New(WithTransportFactory(func([]string) (PeerTransport, error) {
		tr := &fakeTransport{}
		transports <- tr
		return tr, nil
	}))
	t.Cleanup(func() { _ = p.Close() })
	srv := httptest.NewServer(p.SignalHandler())
	t.Cleanup(srv.Close)

	conn := dialSignal(t, srv, "/rooms/station/signal?identity=alice&name=Alice")
	tr := <-transports

	writeSignal(t, conn, signalMessage{Type: "offer", SDP: "v=0"})
	if msg := readSignal(t, conn); msg.Type != "candidate" || msg.Candidate == nil || msg.Candidate.Candidate != "candidate:local" {
		t.Errorf("first message = %+v, want local candidate", msg)
	}
	if msg := readSignal(t, conn); msg.Type != "answer" || msg.SDP != "answer-for-v=0" {
		t.Errorf("second message = %+v, want answer", msg)
	}

	writeSignal(t, conn, signalMessage{Type: "candidate", Candidate: &Candidate{Candidate: "candidate:remote"}})

	room, err := p.room(context.Background(), "station")
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	if parts := room.Participants(); len(parts) != 1 || parts[0].Name != "Alice" {
		t.Fatalf("Participants() = %+v", parts)
	}

	writeSignal(t, conn, signalMessage{Type: "bye"})
	select {
	case <-room.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("room not closed after bye")
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.remote) != 1 || tr.remote[0].Candidate != "candidate:remote" {
		t.Errorf("remote candidates = %+v", tr.remote)
	}
	if !tr.closed {
		t.Error("transport not closed after bye")
	}
}

func TestSignal_SocketCloseRemovesPeer(t *testing.T) {
	t.Parallel()

	p := New(WithTransportFactory(func([]string) (PeerTransport, error) { return &fakeTransport{}, nil }))
	t.Cleanup(func() { _ = p.Close() })
	srv := httptest.NewServer(p.SignalHandler())
	t.Cleanup(srv.Close)

	conn := dialSignal(t, srv, "/rooms/station/signal?identity=bob")
	writeSignal(t, conn, signalMessage{Type: "offer", SDP: "v=0"})
	readSignal(t, conn)
	readSignal(t, conn)

	room, _ := p.room(context.Background(), "station")
	conn.Close(websocket.StatusNormalClosure, "")

	select {
	case <-room.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("room not closed after socket close")
	}
}

func TestSignal_MissingIdentity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(New().SignalHandler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/rooms/station/signal")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
