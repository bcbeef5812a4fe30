package websocket

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// wsPair upgrades one client connection and registers the server side.
func wsPair(t *testing.T, registry *Registry) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		conn := NewConnection(wsConn, "host", nil)
		registry.Add(conn)

		// Run a read loop so pong control frames are processed.
		wsConn.SetPongHandler(func(string) error {
			conn.SetAlive(true)
			return nil
		})
		go func() {
			for {
				if _, _, err := wsConn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestMonitorKeepsResponsiveConnection(t *testing.T) {
	registry := NewRegistry()
	client := wsPair(t, registry)

	// The client read loop answers pings with pongs automatically.
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	monitor := NewMonitor(registry, 30*time.Millisecond, log.New(io.Discard))
	if err := monitor.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer monitor.Stop()

	time.Sleep(200 * time.Millisecond)
	if registry.Len() != 1 {
		t.Fatalf("responsive connection was dropped, registry len %d", registry.Len())
	}
}

func TestMonitorTerminatesSilentConnection(t *testing.T) {
	registry := NewRegistry()
	// No client read loop: pings are never answered.
	wsPair(t, registry)

	monitor := NewMonitor(registry, 30*time.Millisecond, log.New(io.Discard))
	if err := monitor.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer monitor.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("silent connection should have been terminated, registry len %d", registry.Len())
}

func TestMonitorStartStop(t *testing.T) {
	monitor := NewMonitor(NewRegistry(), time.Second, log.New(io.Discard))

	if err := monitor.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := monitor.Start(); err != ErrMonitorRunning {
		t.Fatalf("expected ErrMonitorRunning, got %v", err)
	}
	if err := monitor.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := monitor.Stop(); err != ErrMonitorNotRunning {
		t.Fatalf("expected ErrMonitorNotRunning, got %v", err)
	}
}
