package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentproof/proofstream/internal/broker"
	"github.com/agentproof/proofstream/internal/protocol"
	"github.com/agentproof/proofstream/internal/stream"
)

// testHarness wires a full broker stack behind an httptest server.
type testHarness struct {
	broker  *broker.Broker
	streams *stream.Registry
	subs    *broker.SubscriptionRegistry
	server  *Server
	wsURL   string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	b := broker.New(nil)
	if err := b.Start(); err != nil {
		t.Fatalf("broker start: %v", err)
	}
	t.Cleanup(func() { _ = b.Stop() })

	streams := stream.NewRegistry()
	subs := broker.NewSubscriptionRegistry()
	server := NewServer("127.0.0.1", 0, "test", b, streams, subs)

	ts := httptest.NewServer(http.HandlerFunc(server.handleWebSocket))
	t.Cleanup(ts.Close)

	return &testHarness{
		broker:  b,
		streams: streams,
		subs:    subs,
		server:  server,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

// connect dials the harness and consumes the welcome frame.
func (h *testHarness) connect(t *testing.T) (*websocket.Conn, string) {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(h.wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	welcome := readFrame(t, ws)
	if welcome["type"] != protocol.TypeConnectionEstablished {
		t.Fatalf("first frame type = %v, want connection_established", welcome["type"])
	}
	clientID, _ := welcome["client_id"].(string)
	if clientID == "" {
		t.Fatal("welcome frame missing client_id")
	}
	return ws, clientID
}

// readFrame reads one frame with a bounded deadline.
func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}

	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	return frame
}

// expectNoFrame asserts that nothing arrives within the window.
func expectNoFrame(t *testing.T, ws *websocket.Conn, window time.Duration) {
	t.Helper()

	_ = ws.SetReadDeadline(time.Now().Add(window))
	_, raw, err := ws.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame: %s", raw)
	}
	if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestServer_WelcomeFrame(t *testing.T) {
	h := newHarness(t)

	ws, _, err := websocket.DefaultDialer.Dial(h.wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = ws.Close() }()

	frame := readFrame(t, ws)
	if frame["type"] != protocol.TypeConnectionEstablished {
		t.Fatalf("type = %v, want connection_established", frame["type"])
	}
	if id, _ := frame["client_id"].(string); id == "" {
		t.Error("welcome frame missing client_id")
	}

	info, _ := frame["server_info"].(map[string]any)
	if info["version"] != "test" {
		t.Errorf("server_info.version = %v", info["version"])
	}
	if _, ok := info["features"]; !ok {
		t.Error("server_info.features missing")
	}
	if _, ok := info["active_streams"].(float64); !ok {
		t.Error("server_info.active_streams missing")
	}
}

func TestServer_PingPong(t *testing.T) {
	h := newHarness(t)
	ws, _ := h.connect(t)

	send(t, ws, `{"type":"ping"}`)

	frame := readFrame(t, ws)
	if frame["type"] != protocol.TypePong {
		t.Errorf("type = %v, want pong", frame["type"])
	}
	if _, ok := frame["timestamp"].(float64); !ok {
		t.Error("pong missing numeric timestamp")
	}
}

func TestServer_UnknownMessageType(t *testing.T) {
	h := newHarness(t)
	ws, _ := h.connect(t)

	send(t, ws, `{"type":"frobnicate"}`)

	frame := readFrame(t, ws)
	if frame["type"] != protocol.TypeError {
		t.Errorf("type = %v, want error", frame["type"])
	}
	if frame["message"] != "Unknown message type: frobnicate" {
		t.Errorf("message = %v", frame["message"])
	}
}

func TestServer_MalformedFrame(t *testing.T) {
	h := newHarness(t)
	ws, _ := h.connect(t)

	send(t, ws, `{not json at all`)

	frame := readFrame(t, ws)
	if frame["type"] != protocol.TypeError {
		t.Errorf("type = %v, want error", frame["type"])
	}
	if frame["message"] != "Invalid JSON format" {
		t.Errorf("message = %v", frame["message"])
	}

	// A protocol fault never closes the connection.
	send(t, ws, `{"type":"ping"}`)
	if readFrame(t, ws)["type"] != protocol.TypePong {
		t.Error("connection should survive a malformed frame")
	}
}

func TestServer_SubscribeInvalidEventType(t *testing.T) {
	h := newHarness(t)
	ws, _ := h.connect(t)

	send(t, ws, `{"type":"subscribe","filter":{"event_types":["bogus"]}}`)

	frame := readFrame(t, ws)
	if frame["type"] != protocol.TypeSubscriptionError {
		t.Errorf("type = %v, want subscription_error", frame["type"])
	}
}

func TestServer_FilteredBroadcast(t *testing.T) {
	h := newHarness(t)

	wsA, _ := h.connect(t)
	wsB, _ := h.connect(t)

	// A only wants RWKV events; B matches everything.
	send(t, wsA, `{"type":"subscribe","filter":{"architectures":["RWKV"]}}`)
	if frame := readFrame(t, wsA); frame["type"] != protocol.TypeSubscriptionConfirmed {
		t.Fatalf("A subscribe reply = %v", frame["type"])
	}
	send(t, wsB, `{"type":"subscribe","filter":{}}`)
	if frame := readFrame(t, wsB); frame["type"] != protocol.TypeSubscriptionConfirmed {
		t.Fatalf("B subscribe reply = %v", frame["type"])
	}

	// B creates a stream and submits a Mamba proof into it.
	send(t, wsB, `{"type":"create_stream","stream_spec":{"purpose":"demo"}}`)
	created := readFrame(t, wsB)
	if created["type"] != protocol.TypeStreamCreated {
		t.Fatalf("create_stream reply = %v", created["type"])
	}
	streamID, _ := created["stream_id"].(string)
	if streamID == "" {
		t.Fatal("stream_created missing stream_id")
	}

	// B also receives the stream_created broadcast (match-all filter).
	evt := readFrame(t, wsB)
	if evt["type"] != protocol.TypeStreamEvent {
		t.Fatalf("expected stream_event broadcast, got %v", evt["type"])
	}

	send(t, wsB, `{"type":"submit_proof","stream_id":"`+streamID+`","proof_data":{"proof":"xyz"},"public_inputs":[1,2,3],"architecture":"Mamba"}`)

	// Acknowledgement first, then the broadcast of B's own submission.
	sawAck, sawEvent := false, false
	for i := 0; i < 2; i++ {
		frame := readFrame(t, wsB)
		switch frame["type"] {
		case protocol.TypeProofSubmitted:
			if frame["status"] != "accepted" {
				t.Errorf("status = %v", frame["status"])
			}
			sawAck = true
		case protocol.TypeStreamEvent:
			event, _ := frame["event"].(map[string]any)
			if event["event_type"] != "proof_submitted" {
				t.Errorf("broadcast event_type = %v", event["event_type"])
			}
			data, _ := event["data"].(map[string]any)
			if data["architecture"] != "Mamba" {
				t.Errorf("architecture = %v", data["architecture"])
			}
			if _, ok := data["proof_hash"].(string); !ok {
				t.Error("broadcast should carry a proof fingerprint")
			}
			if _, ok := data["proof_data"]; ok {
				t.Error("raw proof data must never be broadcast")
			}
			sawEvent = true
		default:
			t.Fatalf("unexpected frame %v", frame["type"])
		}
	}
	if !sawAck || !sawEvent {
		t.Errorf("sawAck=%v sawEvent=%v", sawAck, sawEvent)
	}

	// A's RWKV filter matches neither the stream creation nor the
	// Mamba submission.
	expectNoFrame(t, wsA, 300*time.Millisecond)

	// The stream's counter moved exactly once.
	st, ok := h.streams.Get(streamID)
	if !ok {
		t.Fatal("stream not registered")
	}
	if st.EventCount != 1 {
		t.Errorf("EventCount = %d, want 1", st.EventCount)
	}
}

func TestServer_SubmitProofUnknownStream(t *testing.T) {
	h := newHarness(t)
	ws, _ := h.connect(t)

	send(t, ws, `{"type":"submit_proof","stream_id":"unknown","proof_data":{}}`)

	frame := readFrame(t, ws)
	if frame["type"] != protocol.TypeProofSubmissionError {
		t.Errorf("type = %v, want proof_submission_error", frame["type"])
	}
	if frame["message"] != "Stream unknown not found" {
		t.Errorf("message = %v", frame["message"])
	}
}

func TestServer_UnsubscribeFallbackClearsAll(t *testing.T) {
	h := newHarness(t)
	ws, clientID := h.connect(t)

	send(t, ws, `{"type":"subscribe","filter":{"architectures":["RWKV"]}}`)
	_ = readFrame(t, ws)
	send(t, ws, `{"type":"subscribe","filter":{"architectures":["Mamba"]}}`)
	confirmed := readFrame(t, ws)
	if confirmed["subscription_id"] != float64(1) {
		t.Errorf("second subscription_id = %v, want 1", confirmed["subscription_id"])
	}

	// In-range index removes exactly one.
	send(t, ws, `{"type":"unsubscribe","subscription_id":0}`)
	frame := readFrame(t, ws)
	if frame["type"] != protocol.TypeUnsubscriptionConfirmed {
		t.Errorf("type = %v, want unsubscription_confirmed", frame["type"])
	}
	if h.subs.Count(clientID) != 1 {
		t.Errorf("filters after removal = %d, want 1", h.subs.Count(clientID))
	}

	// Out-of-range index clears everything.
	send(t, ws, `{"type":"unsubscribe","subscription_id":42}`)
	frame = readFrame(t, ws)
	if frame["type"] != protocol.TypeAllSubscriptionsCleared {
		t.Errorf("type = %v, want all_subscriptions_cleared", frame["type"])
	}
	if h.subs.Count(clientID) != 0 {
		t.Errorf("filters after clear = %d, want 0", h.subs.Count(clientID))
	}
}

func TestServer_DisconnectCleansUp(t *testing.T) {
	h := newHarness(t)
	ws, clientID := h.connect(t)

	send(t, ws, `{"type":"subscribe","filter":{}}`)
	_ = readFrame(t, ws)

	waitFor(t, func() bool { return h.server.ClientCount() == 1 })

	_ = ws.Close()

	waitFor(t, func() bool { return h.server.ClientCount() == 0 })
	waitFor(t, func() bool { return h.broker.SubscriberCount() == 0 })

	if h.subs.Count(clientID) != 0 {
		t.Error("subscription registry entry should be dropped on disconnect")
	}

	// Emitting afterward must not deliver anywhere or panic.
	h.broker.BroadcastAgentRegistered("agent-1", []string{"RWKV"})
	time.Sleep(50 * time.Millisecond)
}

func TestServer_StartStop(t *testing.T) {
	b := broker.New(nil)
	_ = b.Start()
	defer func() { _ = b.Stop() }()

	server := NewServer("127.0.0.1", 0, "test", b, stream.NewRegistry(), broker.NewSubscriptionRegistry())

	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestServer_GetClient_NotFound(t *testing.T) {
	h := newHarness(t)

	if h.server.GetClient("non-existent") != nil {
		t.Error("expected nil for non-existent client")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
