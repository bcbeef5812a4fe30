package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection wraps a WebSocket connection with a single writer goroutine.
// All outbound messages flow through writeCh so concurrent senders (router,
// sweeper, monitor, admin) never race on the underlying connection.
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	role  string
	alive atomic.Bool

	mu          sync.RWMutex
	roomCode    string
	targetLangs []string
	joinTimer   *time.Timer
}

const (
	sendTimeout         = 5 * time.Second
	controlWriteTimeout = 10 * time.Second
)

// NewConnection wraps conn. The role and target languages are fixed at
// accept time; the room assignment happens later, if at all.
func NewConnection(conn *websocket.Conn, role string, targetLangs []string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:          uuid.New().String(),
		conn:        conn,
		writeCh:     make(chan []byte, 100),
		ctx:         ctx,
		cancel:      cancel,
		role:        role,
		targetLangs: targetLangs,
	}
	c.alive.Store(true)

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// SendJSON queues v for delivery. Returns an error when the connection is
// closed or the write buffer stays full past the send timeout.
func (c *Connection) SendJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(sendTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Ping sends a heartbeat probe. Control frames bypass the write loop;
// gorilla's WriteControl is safe for concurrent use.
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteTimeout))
}

// Close shuts the connection down with a close handshake.
func (c *Connection) Close() error {
	return c.shutdown(true)
}

// Terminate tears the connection down without a close handshake. Used for
// peers suspected dead, where waiting on a handshake would block the monitor.
func (c *Connection) Terminate() {
	_ = c.shutdown(false)
}

func (c *Connection) shutdown(graceful bool) error {
	var err error
	c.closeOnce.Do(func() {
		c.stopJoinTimer()
		if graceful {
			deadline := time.Now().Add(time.Second)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		}
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// ID returns the server-assigned connection identifier.
func (c *Connection) ID() string { return c.id }

// Role returns "host" or "student".
func (c *Connection) Role() string { return c.role }

// RoomCode returns the assigned room code, or "" before a join.
func (c *Connection) RoomCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomCode
}

// TargetLangs returns a copy of the connection's target languages.
func (c *Connection) TargetLangs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.targetLangs) == 0 {
		return nil
	}
	langs := make([]string, len(c.targetLangs))
	copy(langs, c.targetLangs)
	return langs
}

// AssignRoom records the room assignment and cancels the join timeout.
func (c *Connection) AssignRoom(code string) {
	c.mu.Lock()
	c.roomCode = code
	timer := c.joinTimer
	c.joinTimer = nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
}

// Alive reports whether the peer acknowledged the previous heartbeat probe.
func (c *Connection) Alive() bool { return c.alive.Load() }

// SetAlive updates the heartbeat flag.
func (c *Connection) SetAlive(v bool) { c.alive.Store(v) }

func (c *Connection) setJoinTimer(t *time.Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joinTimer = t
}

func (c *Connection) stopJoinTimer() {
	c.mu.Lock()
	timer := c.joinTimer
	c.joinTimer = nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
}
