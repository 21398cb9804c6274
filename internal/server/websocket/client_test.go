package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentproof/proofstream/internal/broker"
	"github.com/agentproof/proofstream/internal/domain"
	"github.com/agentproof/proofstream/internal/domain/events"
)

// connPair upgrades one WebSocket session and returns both ends: the
// server-side conn to build a Client on, and the dial-side conn to
// observe it through.
func connPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(ts.Close)

	dialConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = dialConn.Close() })

	select {
	case serverConn := <-serverConns:
		t.Cleanup(func() { _ = serverConn.Close() })
		return serverConn, dialConn
	case <-time.After(2 * time.Second):
		t.Fatal("server conn never arrived")
		return nil, nil
	}
}

func TestClient_StateMachine(t *testing.T) {
	serverConn, _ := connPair(t)
	client := NewClient(serverConn, nil, nil)

	if client.State() != StateConnecting {
		t.Fatalf("initial state = %v, want connecting", client.State())
	}

	client.Open()
	if client.State() != StateOpen {
		t.Fatalf("state after Open = %v, want open", client.State())
	}

	// Open is one-way; a second call must not restart the pumps.
	client.Open()
	if client.State() != StateOpen {
		t.Errorf("state after second Open = %v", client.State())
	}

	client.Close()
	if client.State() != StateClosing {
		t.Errorf("state after Close = %v, want closing", client.State())
	}
	client.Close()
}

func TestClient_SendBeforeOpenIsDropped(t *testing.T) {
	serverConn, _ := connPair(t)
	client := NewClient(serverConn, nil, nil)

	client.Send([]byte(`{"type":"pong"}`))

	if n := len(client.send); n != 0 {
		t.Errorf("send buffer holds %d messages before Open, want 0", n)
	}
}

func TestClientSubscriber_SendDuringHandshakeIsDropped(t *testing.T) {
	serverConn, _ := connPair(t)
	client := NewClient(serverConn, nil, nil)
	subs := broker.NewSubscriptionRegistry()
	subs.Register(client.ID())
	sub := NewClientSubscriber(client, subs)

	// Still Connecting: the event is skipped without marking the
	// subscriber dead.
	if err := sub.Send(events.NewAgentRegistered("agent-1", nil)); err != nil {
		t.Fatalf("Send during handshake = %v, want nil", err)
	}
	if n := len(client.send); n != 0 {
		t.Errorf("send buffer holds %d messages, want 0", n)
	}
}

func TestClientSubscriber_SendAfterCloseReturnsError(t *testing.T) {
	serverConn, _ := connPair(t)
	client := NewClient(serverConn, nil, nil)
	subs := broker.NewSubscriptionRegistry()
	subs.Register(client.ID())
	sub := NewClientSubscriber(client, subs)

	client.Open()
	client.Close()

	err := sub.Send(events.NewAgentRegistered("agent-1", nil))
	if !errors.Is(err, domain.ErrSubscriberClosed) {
		t.Errorf("Send after close = %v, want ErrSubscriberClosed", err)
	}
}

func TestClient_ReadPumpDropsFramesWhenNotOpen(t *testing.T) {
	serverConn, dialConn := connPair(t)

	handled := make(chan []byte, 4)
	client := NewClient(serverConn, func(c *Client, message []byte) {
		handled <- message
	}, nil)

	// Run the read pump with the client still Connecting.
	go client.readPump()

	if err := dialConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-handled:
		t.Fatalf("frame handled before Open: %s", msg)
	case <-time.After(200 * time.Millisecond):
	}

	client.state.Store(int32(StateOpen))

	if err := dialConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("frame not handled after Open")
	}
}

func TestBroker_EmitDuringHandshakeKeepsClient(t *testing.T) {
	b := broker.New(nil)
	if err := b.Start(); err != nil {
		t.Fatalf("broker start: %v", err)
	}
	defer func() { _ = b.Stop() }()

	serverConn, dialConn := connPair(t)
	client := NewClient(serverConn, nil, nil)
	subs := broker.NewSubscriptionRegistry()
	subs.Register(client.ID())

	b.Subscribe(NewClientSubscriber(client, subs))
	waitFor(t, func() bool { return b.SubscriberCount() == 1 })

	// Event racing the handshake: must not unregister the subscriber
	// or wedge the state machine.
	b.Emit(events.NewAgentRegistered("agent-1", nil))
	time.Sleep(100 * time.Millisecond)

	if n := b.SubscriberCount(); n != 1 {
		t.Fatalf("subscriber count after handshake-window emit = %d, want 1", n)
	}

	client.Open()
	if client.State() != StateOpen {
		t.Fatalf("state after Open = %v, want open", client.State())
	}

	b.Emit(events.NewAgentRegistered("agent-2", nil))

	frame := readFrame(t, dialConn)
	if frame["type"] != "stream_event" {
		t.Errorf("frame type = %v, want stream_event", frame["type"])
	}
}
