// Package client implements the producer/consumer mirror of the broker
// protocol, used by collaborator processes and the CLI tooling.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentproof/proofstream/internal/broker"
	"github.com/agentproof/proofstream/internal/domain"
	"github.com/agentproof/proofstream/internal/protocol"
)

// Handler is invoked with the raw frame for every received message of
// a registered type.
type Handler func(raw json.RawMessage)

// Client is a streaming client connected to a broker server.
type Client struct {
	url  string
	conn *websocket.Conn

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	waitersMu sync.Mutex
	waiters   map[string][]chan json.RawMessage

	mu        sync.Mutex
	clientID  string
	connected bool

	closeCh   chan struct{}
	closeOnce sync.Once
}

// Dial connects to a broker server at the given WebSocket URL and
// starts the background read loop.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		url:       url,
		conn:      conn,
		handlers:  make(map[string][]Handler),
		waiters:   make(map[string][]chan json.RawMessage),
		connected: true,
		closeCh:   make(chan struct{}),
	}

	// Capture the server-assigned identity from the welcome frame.
	c.On(protocol.TypeConnectionEstablished, func(raw json.RawMessage) {
		var welcome protocol.ConnectionEstablished
		if err := json.Unmarshal(raw, &welcome); err != nil {
			return
		}
		c.mu.Lock()
		c.clientID = welcome.ClientID
		c.mu.Unlock()
	})

	go c.readLoop()

	return c, nil
}

// ClientID returns the server-assigned identity, or "" before the
// welcome frame arrives.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Connected reports whether the connection is still up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// On registers a handler for a message type. Handlers run on the read
// loop goroutine, in frame order.
func (c *Client) On(msgType string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], h)
}

// WaitFor blocks until the next frame of the given type arrives, the
// context expires, or the connection closes.
func (c *Client) WaitFor(ctx context.Context, msgType string) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)

	c.waitersMu.Lock()
	c.waiters[msgType] = append(c.waiters[msgType], ch)
	c.waitersMu.Unlock()

	select {
	case raw := <-ch:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, domain.ErrNotConnected
	}
}

// Subscribe declares interest in events matching the filter.
func (c *Client) Subscribe(filter broker.Filter) error {
	return c.send(protocol.Request{
		Type:   protocol.TypeSubscribe,
		Filter: &filter,
	})
}

// Unsubscribe removes the subscription at the given index. An invalid
// index clears all of this client's filters on the server.
func (c *Client) Unsubscribe(subscriptionID int) error {
	return c.send(protocol.Request{
		Type:           protocol.TypeUnsubscribe,
		SubscriptionID: &subscriptionID,
	})
}

// UnsubscribeAll clears every filter this client holds.
func (c *Client) UnsubscribeAll() error {
	return c.send(protocol.Request{Type: protocol.TypeUnsubscribe})
}

// CreateStream asks the server to create a new proof stream.
func (c *Client) CreateStream(spec map[string]any) error {
	return c.send(protocol.Request{
		Type:       protocol.TypeCreateStream,
		StreamSpec: spec,
	})
}

// SubmitProof submits a proof into a stream. The proof data and public
// inputs may be any JSON-serializable values; the server broadcasts
// only content fingerprints of them.
func (c *Client) SubmitProof(streamID string, proofData, publicInputs any, architecture string) error {
	proof, err := json.Marshal(proofData)
	if err != nil {
		return fmt.Errorf("%w: proof data: %v", domain.ErrInvalidPayload, err)
	}
	inputs, err := json.Marshal(publicInputs)
	if err != nil {
		return fmt.Errorf("%w: public inputs: %v", domain.ErrInvalidPayload, err)
	}

	return c.send(protocol.Request{
		Type:         protocol.TypeSubmitProof,
		StreamID:     streamID,
		ProofData:    proof,
		PublicInputs: inputs,
		Architecture: architecture,
	})
}

// Ping sends a ping frame.
func (c *Client) Ping() error {
	return c.send(protocol.Request{Type: protocol.TypePing})
}

// send marshals and writes one frame.
func (c *Client) send(req protocol.Request) error {
	if !c.Connected() {
		return domain.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(req); err != nil {
		return domain.NewTransportError(c.ClientID(), err)
	}
	return nil
}

// readLoop reads frames from the connection and routes each to the
// one-shot waiters and registered handlers for its type.
func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.closeOnce.Do(func() { close(c.closeCh) })
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		msgType, err := protocol.MessageType(raw)
		if err != nil {
			continue
		}

		c.waitersMu.Lock()
		waiters := c.waiters[msgType]
		delete(c.waiters, msgType)
		c.waitersMu.Unlock()
		for _, ch := range waiters {
			ch <- raw
		}

		c.handlersMu.RLock()
		handlers := c.handlers[msgType]
		c.handlersMu.RUnlock()
		for _, h := range handlers {
			h(raw)
		}
	}
}

// Done returns a channel that's closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.closeCh
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}
