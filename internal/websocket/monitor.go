package websocket

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Monitor runs the heartbeat cycle: every interval it terminates connections
// that failed to acknowledge the previous probe, then flags the survivors and
// probes them again. One ticker serves the whole relay; it is created at
// start and stopped exactly once at shutdown.
type Monitor struct {
	registry *Registry
	interval time.Duration
	logger   *log.Logger

	shutdown chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewMonitor creates a liveness monitor over the registry.
func NewMonitor(registry *Registry, interval time.Duration, logger *log.Logger) *Monitor {
	return &Monitor{
		registry: registry,
		interval: interval,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// Start launches the heartbeat loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrMonitorRunning
	}
	m.running = true

	go m.run()
	return nil
}

// Stop halts the heartbeat loop.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrMonitorNotRunning
	}
	m.running = false

	close(m.shutdown)
	return nil
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe()
		case <-m.shutdown:
			return
		}
	}
}

// probe terminates suspected-dead connections and sends the next round of
// pings. A peer that misses one probe is terminated abruptly on the next
// tick; a graceful close would wait on the very peer that stopped responding.
func (m *Monitor) probe() {
	for _, conn := range m.registry.All() {
		if !conn.Alive() {
			m.logger.Info("terminating unresponsive connection", "id", conn.ID(), "room", conn.RoomCode())
			conn.Terminate()
			m.registry.Remove(conn)
			continue
		}
		conn.SetAlive(false)
		if err := conn.Ping(); err != nil {
			m.logger.Debug("ping failed", "id", conn.ID(), "error", err)
		}
	}
}
