package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"polycast/internal/store"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Rooms are joined by code, not origin; tighten per deployment.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler accepts WebSocket connections, classifies them per the join rules
// and feeds inbound payloads to the message router.
type Handler struct {
	registry    *Registry
	rooms       *store.Store
	rejected    *store.RejectedCodes
	snapshots   interfaces.SnapshotStore
	router      interfaces.MessageRouter
	joinTimeout time.Duration
	logger      *log.Logger
}

const lookupTimeout = 5 * time.Second

// NewHandler wires the connection entry point.
func NewHandler(registry *Registry, rooms *store.Store, rejected *store.RejectedCodes,
	snapshots interfaces.SnapshotStore, router interfaces.MessageRouter,
	joinTimeout time.Duration, logger *log.Logger) *Handler {
	return &Handler{
		registry:    registry,
		rooms:       rooms,
		rejected:    rejected,
		snapshots:   snapshots,
		router:      router,
		joinTimeout: joinTimeout,
		logger:      logger,
	}
}

// HandleWebSocket upgrades the request and runs the join decision table:
// no room code leaves the connection unassigned under a join timeout; a host
// creates or takes over its room; a student joins an existing room or is
// rejected (with the code cached so repeat attempts skip the store lookup).
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	roomCode := query.Get("roomCode")
	role := types.RoleStudent
	if query.Get("isHost") == "true" {
		role = types.RoleHost
	}
	targetLangs := parseTargetLangs(query.Get("targetLangs"))

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(wsConn, role, targetLangs)
	h.registry.Add(conn)
	h.logger.Info("client connected", "id", conn.ID(), "role", role, "targets", strings.Join(targetLangs, ","))

	if err := conn.SendJSON(types.NewNotice(types.MessageTypeInfo,
		fmt.Sprintf("Connected to Polycast relay (Targets: %s)", strings.Join(targetLangs, ", ")))); err != nil {
		h.logger.Debug("greeting send failed", "id", conn.ID(), "error", err)
	}

	if roomCode != "" {
		if !h.joinRoom(conn, roomCode) {
			h.registry.Remove(conn)
			_ = conn.Close()
			return
		}
	} else {
		// Unassigned connections get a deadline to join a room.
		conn.setJoinTimer(time.AfterFunc(h.joinTimeout, func() {
			if conn.RoomCode() != "" {
				return
			}
			h.logger.Info("closing connection, join timeout expired", "id", conn.ID())
			_ = conn.SendJSON(types.NewError("Connection timed out waiting to join a room."))
			_ = conn.Close()
		}))
	}

	go h.readPump(conn)
}

// joinRoom applies the join rules for a connection that supplied a room code.
// Returns false when the connection was rejected and must be closed.
func (h *Handler) joinRoom(conn *Connection, code string) bool {
	if conn.Role() == types.RoleStudent && h.rejected.Contains(code) {
		h.logger.Info("rejected student for known bad room code", "code", code)
		_ = conn.SendJSON(types.NewNotice(types.MessageTypeRoomError,
			"This room does not exist or has expired. Please check the code and try again."))
		return false
	}

	if conn.Role() == types.RoleHost {
		if h.rooms.EnsureRoom(code) {
			h.logger.Info("host created room on connect", "code", code)
		}
		if err := h.rooms.SetHost(code, conn); err != nil {
			h.logger.Error("failed to set room host", "code", code, "error", err)
			return false
		}
		conn.AssignRoom(code)
		h.persistRoom(code)
		_ = conn.SendJSON(types.RoomJoined{
			Type:     types.MessageTypeRoomJoined,
			RoomCode: code,
			IsHost:   true,
			Message:  fmt.Sprintf("You are hosting room %s", code),
		})
		return true
	}

	// Student join: memory first, then the durable store (synchronous,
	// this is the one lookup that gates the join decision).
	if !h.rooms.Exists(code) {
		found, err := h.hydrateFromSnapshot(code)
		if err != nil {
			// A failing lookup is not a miss; the code must not be
			// cached as rejected.
			_ = conn.SendJSON(types.NewError("Unable to verify the room right now. Please try again."))
			return false
		}
		if !found {
			h.logger.Info("rejected student, room not found", "code", code)
			h.rejected.Add(code)
			_ = conn.SendJSON(types.NewNotice(types.MessageTypeRoomError,
				"Room not found. Please check the code and try again."))
			return false
		}
	}

	transcript, err := h.rooms.AddStudent(code, conn)
	if err != nil {
		h.logger.Error("failed to add student", "code", code, "error", err)
		return false
	}
	conn.AssignRoom(code)
	h.logger.Info("student joined room", "code", code, "id", conn.ID())

	if len(transcript) > 0 {
		_ = conn.SendJSON(types.TranscriptHistory{
			Type: types.MessageTypeTranscriptHistory,
			Data: transcript,
		})
	}
	_ = conn.SendJSON(types.RoomJoined{
		Type:     types.MessageTypeRoomJoined,
		RoomCode: code,
		IsHost:   false,
		Message:  fmt.Sprintf("You joined room %s as a student", code),
	})
	return true
}

// hydrateFromSnapshot recreates a room from the durable store, if it has one.
// A lookup failure is reported distinctly from a definitive miss so callers
// do not treat an unreachable store as proof the room is gone.
func (h *Handler) hydrateFromSnapshot(code string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	exists, err := h.snapshots.RoomExists(ctx, code)
	if err != nil {
		h.logger.Error("snapshot lookup failed", "code", code, "error", err)
		return false, err
	}
	if !exists {
		return false, nil
	}

	snap, err := h.snapshots.GetRoom(ctx, code)
	if err != nil {
		h.logger.Error("snapshot load failed", "code", code, "error", err)
		return false, err
	}
	h.rooms.Hydrate(snap)
	return true, nil
}

// readPump reads inbound frames for one connection and dispatches them in
// order, preserving per-connection submission ordering.
func (h *Handler) readPump(conn *Connection) {
	defer h.cleanup(conn)

	conn.conn.SetPongHandler(func(string) error {
		conn.SetAlive(true)
		return nil
	})

	for {
		msgType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("read error", "id", conn.ID(), "error", err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			h.router.HandleMessage(context.Background(), conn, msgType == websocket.BinaryMessage, data)
		}
	}
}

// cleanup detaches a closed connection from its room. A departing host only
// clears the weak host reference, the room itself stays open until expiry;
// a departing student is removed from the membership list. Either way the
// room snapshot is refreshed best-effort.
func (h *Handler) cleanup(conn *Connection) {
	conn.stopJoinTimer()

	if code := conn.RoomCode(); code != "" {
		if conn.Role() == types.RoleHost {
			h.rooms.ClearHost(code, conn)
			h.logger.Info("host disconnected, room kept open", "code", code)
			notice := types.NewNotice(types.MessageTypeHostDisconnected,
				"The host has disconnected. The room remains open.")
			for _, student := range h.rooms.StudentsOf(code) {
				_ = student.SendJSON(notice)
			}
		} else {
			h.rooms.RemoveStudent(code, conn)
			h.logger.Info("student disconnected", "code", code, "id", conn.ID())
		}
		h.persistRoom(code)
	}

	h.registry.Remove(conn)
	_ = conn.Close()
}

// persistRoom mirrors the room's current state to the snapshot store in the
// background. Failures are logged, never retried, never user-visible.
func (h *Handler) persistRoom(code string) {
	snap, ok := h.rooms.SnapshotOf(code)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()
		if err := h.snapshots.SaveRoom(ctx, snap); err != nil {
			h.logger.Warn("room snapshot save failed", "code", code, "error", err)
		}
	}()
}

// parseTargetLangs splits the comma-separated targetLangs query parameter,
// URL-decoding each entry and dropping empties.
func parseTargetLangs(raw string) []string {
	if raw == "" {
		return nil
	}
	var langs []string
	for _, part := range strings.Split(raw, ",") {
		decoded, err := url.QueryUnescape(strings.TrimSpace(part))
		if err != nil {
			decoded = strings.TrimSpace(part)
		}
		decoded = strings.TrimSpace(decoded)
		if decoded != "" {
			langs = append(langs, decoded)
		}
	}
	return langs
}
