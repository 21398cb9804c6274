package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/agentproof/proofstream/internal/broker"
	"github.com/agentproof/proofstream/internal/protocol"
	"github.com/agentproof/proofstream/internal/stream"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 15 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 90 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB

	// Send buffer size per client.
	sendBufferSize = 1024
)

// serverFeatures is advertised in the welcome frame.
var serverFeatures = []string{"proof_streaming", "real_time_coordination", "agent_discovery"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Client auth is out of scope; any origin may connect.
		return true
	},
}

// Server is the WebSocket streaming server. It accepts sessions,
// registers each with the subscription registry and the broker, and
// tears both down in one step on disconnect.
type Server struct {
	addr       string
	version    string
	server     *http.Server
	dispatcher *Dispatcher
	broker     *broker.Broker
	streams    *stream.Registry
	subs       *broker.SubscriptionRegistry

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewServer creates a new WebSocket server.
func NewServer(host string, port int, version string, b *broker.Broker, streams *stream.Registry, subs *broker.SubscriptionRegistry) *Server {
	addr := fmt.Sprintf("%s:%d", host, port)
	s := &Server{
		addr:       addr,
		version:    version,
		broker:     b,
		streams:    streams,
		subs:       subs,
		dispatcher: NewDispatcher(b, streams, subs),
		clients:    make(map[string]*Client),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
		// No ReadTimeout/WriteTimeout here: those apply to the
		// underlying HTTP connection and would cut long-lived WebSocket
		// sessions. The read/write pumps manage their own deadlines.
	}

	return s
}

// Start starts the WebSocket server.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("WebSocket server starting")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("WebSocket server error")
		}
	}()

	return nil
}

// Stop gracefully stops the WebSocket server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("WebSocket server stopping")

	s.mu.Lock()
	for _, client := range s.clients {
		client.Close()
	}
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	return s.server.Shutdown(ctx)
}

// ServeWS serves the WebSocket endpoint. It is exposed so the endpoint
// can be mounted on an external router.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	s.handleWebSocket(w, r)
}

// handleWebSocket handles WebSocket upgrade requests.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(conn, s.dispatcher.Handle, s.teardown)

	// Connection table entry and empty filter list appear together,
	// before any frame from this client is processed.
	s.mu.Lock()
	s.clients[client.ID()] = client
	s.mu.Unlock()
	s.subs.Register(client.ID())

	s.broker.Subscribe(NewClientSubscriber(client, s.subs))

	// Queue the welcome frame ahead of any broadcast delivery.
	s.sendWelcome(client)
	client.Open()

	log.Info().
		Str("client_id", client.ID()).
		Str("remote_addr", conn.RemoteAddr().String()).
		Msg("client connected")
}

// sendWelcome queues the connection_established frame.
func (s *Server) sendWelcome(client *Client) {
	welcome := protocol.NewConnectionEstablished(client.ID(), protocol.ServerInfo{
		Version:       s.version,
		Features:      serverFeatures,
		ActiveStreams: s.streams.Count(),
	})

	data, err := json.Marshal(welcome)
	if err != nil {
		log.Warn().Err(err).Msg("failed to serialize welcome frame")
		return
	}

	// The client is still Connecting; bypass the Open gate.
	select {
	case client.send <- data:
	default:
	}
}

// teardown removes a client from the connection table and the
// subscription registry. Runs exactly once, from the client's readPump
// exit, for both graceful and abrupt closes.
func (s *Server) teardown(id string) {
	s.broker.Unsubscribe(id)
	s.subs.Drop(id)

	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()

	log.Info().Str("client_id", id).Msg("client disconnected")
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// GetClient returns a client by ID.
func (s *Server) GetClient(id string) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[id]
}
