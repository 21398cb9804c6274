// Package websocket implements the broker's connection manager: it
// accepts WebSocket sessions, tracks them, routes their inbound frames
// to the dispatcher, and delivers outbound events.
//
// Each Client manages:
//   - A goroutine for reading incoming messages (readPump)
//   - A goroutine for writing outgoing messages (writePump)
//   - Automatic ping/pong for connection health monitoring
//   - Graceful shutdown handling
//
// Message Flow:
//   - Incoming: WebSocket → readPump → MessageHandler → Dispatcher
//   - Outgoing: Broker → ClientSubscriber → Client.Send() → writePump → WebSocket
//
// Thread Safety:
//   - Send() is safe to call from any goroutine
//   - Close() is safe to call multiple times
//   - Internal state is protected by an atomic state machine
package websocket

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// State is a connection lifecycle state. The only state in which
// messages are accepted or events delivered is StateOpen.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessageHandler is a function that handles incoming frames.
type MessageHandler func(client *Client, message []byte)

// Client represents one live WebSocket session.
//
// Lifecycle: Connecting → Open → Closing → Closed (terminal).
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	done           chan struct{}
	messageHandler MessageHandler
	onClose        func(id string)

	state atomic.Int32
}

// NewClient creates a new client in the Connecting state. The id is
// derived from the remote address and connect time, which keeps it
// unique within the process.
func NewClient(conn *websocket.Conn, handler MessageHandler, onClose func(id string)) *Client {
	return &Client{
		id:             fmt.Sprintf("%s:%d", conn.RemoteAddr(), time.Now().UnixNano()),
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
		messageHandler: handler,
		onClose:        onClose,
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Open transitions the client from Connecting to Open and starts its
// read and write pumps.
func (c *Client) Open() {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return
	}
	go c.writePump()
	go c.readPump()
}

// Send queues a message to be sent to the client. Messages queued for
// a non-Open client, or once the send buffer is full, are dropped so a
// slow consumer never stalls the broadcast.
func (c *Client) Send(message []byte) {
	if c.State() != StateOpen {
		return
	}

	select {
	case c.send <- message:
	default:
		// Channel full, client is too slow
		log.Warn().Str("client_id", c.id).Msg("client send channel full, dropping message")
	}
}

// Close begins teardown. Safe to call multiple times; the pumps finish
// the transition to Closed.
func (c *Client) Close() {
	swapped := c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) ||
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing))
	if !swapped {
		return
	}

	close(c.done)
}

// Done returns a channel that's closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// readPump pumps frames from the WebSocket connection to the message
// handler. It owns the terminal state transition: when it returns, the
// connection table entry and subscription list are removed via onClose.
func (c *Client) readPump() {
	defer func() {
		c.Close()
		_ = c.conn.Close()
		c.state.Store(int32(StateClosed))
		if c.onClose != nil {
			c.onClose(c.id)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}

		// Frames received while not Open are dropped.
		if c.State() != StateOpen {
			continue
		}

		if c.messageHandler != nil {
			c.messageHandler(c, message)
		}
	}
}

// writePump pumps messages from the send channel to the WebSocket
// connection. Each message is sent as a separate text frame to avoid
// JSON corruption, in the order it was queued.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// Send close frame with deadline to prevent blocking on laggy connections
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			// Graceful shutdown requested - defer will handle close frame
			return

		case message, ok := <-c.send:
			if !ok {
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("write error")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("ping error")
				return
			}
		}
	}
}
