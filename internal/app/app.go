// Package app orchestrates all components of the proofstream broker.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentproof/proofstream/internal/broker"
	"github.com/agentproof/proofstream/internal/config"
	httpserver "github.com/agentproof/proofstream/internal/server/http"
	"github.com/agentproof/proofstream/internal/server/websocket"
	"github.com/agentproof/proofstream/internal/stream"
)

// shutdownTimeout bounds how long Stop waits for the servers to drain.
const shutdownTimeout = 5 * time.Second

// App is the main application struct that wires the broker core to its
// transports and runs their lifecycles.
type App struct {
	cfg     *config.Config
	version string

	// Core components
	broker    *broker.Broker
	streams   *stream.Registry
	subs      *broker.SubscriptionRegistry
	collector *broker.Collector
	wsServer  *websocket.Server
	httpSrv   *httpserver.Server

	// Lifecycle
	mu      sync.RWMutex
	running bool
}

// New creates a new App instance.
func New(cfg *config.Config, version string) (*App, error) {
	streams := stream.NewRegistry()
	subs := broker.NewSubscriptionRegistry()

	a := &App{
		cfg:     cfg,
		version: version,
		streams: streams,
		subs:    subs,
	}

	a.collector = broker.NewCollector(
		time.Duration(cfg.Metrics.IntervalSeconds)*time.Second,
		func() int { return a.wsServer.ClientCount() },
		streams.Count,
	)
	a.broker = broker.New(a.collector)
	a.wsServer = websocket.NewServer(cfg.Server.Host, cfg.Server.WebSocketPort, version, a.broker, streams, subs)
	a.httpSrv = httpserver.NewServer(cfg.Server.Host, cfg.Server.HTTPPort, a.collector, streams, func() int {
		return a.wsServer.ClientCount()
	})

	return a, nil
}

// Broker exposes the event broker for collaborator write paths
// (verification complete, chain step added, agent registered).
func (a *App) Broker() *broker.Broker {
	return a.broker
}

// Start starts the application and blocks until the context is
// cancelled.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.mu.Unlock()

	if err := a.broker.Start(); err != nil {
		return fmt.Errorf("failed to start event broker: %w", err)
	}

	if err := a.wsServer.Start(); err != nil {
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}

	if err := a.httpSrv.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	a.collector.Start()

	log.Info().
		Str("version", a.version).
		Str("ws_addr", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.WebSocketPort)).
		Str("http_addr", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.HTTPPort)).
		Msg("proofstream broker running")

	<-ctx.Done()

	return a.Stop()
}

// Stop shuts the components down in reverse start order.
func (a *App) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.collector.Stop()

	if err := a.httpSrv.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	if err := a.wsServer.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("WebSocket server shutdown error")
	}
	if err := a.broker.Stop(); err != nil {
		log.Warn().Err(err).Msg("broker shutdown error")
	}

	return nil
}

// IsRunning reports whether the app has been started and not stopped.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}
