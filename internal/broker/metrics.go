package broker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMetricsInterval is the period between metric aggregation ticks.
const DefaultMetricsInterval = 5 * time.Second

// Snapshot is a process-wide metrics snapshot, recomputed periodically
// by the Collector and read-only to everyone else.
type Snapshot struct {
	TotalEvents      int64   `json:"total_events"`
	EventsPerSecond  float64 `json:"events_per_second"`
	ConnectedClients int     `json:"connected_clients"`
	ActiveStreams    int     `json:"active_streams"`
	AverageLatency   float64 `json:"average_latency"`
}

// Collector aggregates broker throughput on a fixed period. Counter
// updates are atomic so recording an event never contends with the
// dispatch loop.
type Collector struct {
	interval time.Duration

	// live registry samplers
	clientsFn func() int
	streamsFn func() int

	totalEvents  atomic.Int64
	sinceTick    atomic.Int64
	latencyNanos atomic.Int64
	latencyCount atomic.Int64

	mu       sync.RWMutex
	snapshot Snapshot
	lastTick time.Time

	done    chan struct{}
	running bool
}

// NewCollector creates a metrics collector sampling connected clients
// and active streams through the given callbacks.
func NewCollector(interval time.Duration, clientsFn, streamsFn func() int) *Collector {
	if interval <= 0 {
		interval = DefaultMetricsInterval
	}
	if clientsFn == nil {
		clientsFn = func() int { return 0 }
	}
	if streamsFn == nil {
		streamsFn = func() int { return 0 }
	}
	return &Collector{
		interval:  interval,
		clientsFn: clientsFn,
		streamsFn: streamsFn,
		done:      make(chan struct{}),
	}
}

// Start begins the periodic aggregation loop.
func (c *Collector) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.lastTick = time.Now()
	c.mu.Unlock()

	go c.loop()
}

// Stop terminates the aggregation loop.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.done)
}

// RecordEvent counts one emitted event and its dispatch latency.
func (c *Collector) RecordEvent(latency time.Duration) {
	c.totalEvents.Add(1)
	c.sinceTick.Add(1)
	c.latencyNanos.Add(int64(latency))
	c.latencyCount.Add(1)
}

// Snapshot returns the most recent metrics snapshot.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := c.snapshot
	// Total is always live; the rest is as of the last tick.
	snap.TotalEvents = c.totalEvents.Load()
	return snap
}

// loop runs the aggregation ticker until Stop.
func (c *Collector) loop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

// tick recomputes the snapshot from the counters accumulated since the
// previous tick.
func (c *Collector) tick(now time.Time) {
	c.mu.Lock()
	elapsed := now.Sub(c.lastTick).Seconds()
	c.lastTick = now
	c.mu.Unlock()

	events := c.sinceTick.Swap(0)
	nanos := c.latencyNanos.Swap(0)
	count := c.latencyCount.Swap(0)

	var eps float64
	if elapsed > 0 {
		eps = float64(events) / elapsed
	}

	var avgLatency float64
	if count > 0 {
		avgLatency = (time.Duration(nanos) / time.Duration(count)).Seconds()
	}

	snap := Snapshot{
		TotalEvents:      c.totalEvents.Load(),
		EventsPerSecond:  eps,
		ConnectedClients: c.clientsFn(),
		ActiveStreams:    c.streamsFn(),
		AverageLatency:   avgLatency,
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	log.Debug().
		Int64("total_events", snap.TotalEvents).
		Float64("events_per_second", snap.EventsPerSecond).
		Int("connected_clients", snap.ConnectedClients).
		Int("active_streams", snap.ActiveStreams).
		Msg("metrics updated")
}
