package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"polycast/internal/relay"
	"polycast/internal/store"
	"polycast/internal/websocket"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

const requestTimeout = 10 * time.Second

// Settings is the slice of the snapshot store the HTTP layer needs beyond
// the shared room mirror: mode persistence and the health probe.
type Settings interface {
	SetSetting(ctx context.Context, key, value string) error
	HealthCheck(ctx context.Context) error
}

// ModeSettingKey is where the relay mode is persisted across restarts.
const ModeSettingKey = "relay_mode"

// Server exposes the room management, admin and mode endpoints.
type Server struct {
	rooms     *store.Store
	rejected  *store.RejectedCodes
	registry  *websocket.Registry
	mode      *relay.Mode
	snapshots interfaces.SnapshotStore
	settings  Settings
	adminKey  string
	logger    *log.Logger
	router    *http.ServeMux
}

// NewServer wires the HTTP surface. An empty adminKey disables the admin
// endpoints entirely.
func NewServer(rooms *store.Store, rejected *store.RejectedCodes, registry *websocket.Registry,
	mode *relay.Mode, snapshots interfaces.SnapshotStore, settings Settings,
	adminKey string, logger *log.Logger) *Server {
	s := &Server{
		rooms:     rooms,
		rejected:  rejected,
		registry:  registry,
		mode:      mode,
		snapshots: snapshots,
		settings:  settings,
		adminKey:  adminKey,
		logger:    logger,
		router:    http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/create-room", s.createRoom)
	s.router.HandleFunc("GET /api/check-room/{code}", s.checkRoom)
	s.router.HandleFunc("POST /api/admin/terminate-room/{code}", s.requireAdmin(s.terminateRoom))
	s.router.HandleFunc("POST /api/admin/global-cleanup", s.requireAdmin(s.globalCleanup))
	s.router.HandleFunc("GET /mode", s.getMode)
	s.router.HandleFunc("POST /mode", s.setMode)
	s.router.HandleFunc("GET /health", s.healthCheck)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.jsonMiddleware(s.router)).ServeHTTP(w, r)
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	code, err := s.rooms.CreateRoom(ctx)
	if err != nil {
		if errors.Is(err, store.ErrCodespaceExhausted) {
			s.sendError(w, "no room codes available", http.StatusServiceUnavailable)
			return
		}
		s.logger.Error("room creation failed", "error", err)
		s.sendError(w, "failed to create room", http.StatusInternalServerError)
		return
	}
	s.logger.Info("room created", "code", code)
	s.persistRoom(code)

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"roomCode": code})
}

// checkRoom reports whether a room is joinable, consulting memory first and
// hydrating from the snapshot store on a durable-only hit. A definitive miss
// is cached so repeated probes for the same bad code stay in memory.
func (s *Server) checkRoom(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !types.IsValidRoomCode(code) {
		s.sendError(w, "invalid room code", http.StatusBadRequest)
		return
	}
	if s.rejected.Contains(code) {
		s.sendError(w, "room not found", http.StatusNotFound)
		return
	}

	if s.rooms.Exists(code) {
		json.NewEncoder(w).Encode(map[string]bool{"exists": true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	exists, err := s.snapshots.RoomExists(ctx, code)
	if err != nil {
		s.logger.Error("snapshot lookup failed", "code", code, "error", err)
		s.sendError(w, "failed to check room", http.StatusInternalServerError)
		return
	}
	if exists {
		if snap, err := s.snapshots.GetRoom(ctx, code); err == nil {
			s.rooms.Hydrate(snap)
		} else {
			s.logger.Warn("room hydration failed", "code", code, "error", err)
		}
		json.NewEncoder(w).Encode(map[string]bool{"exists": true})
		return
	}

	s.rejected.Add(code)
	s.sendError(w, "room not found", http.StatusNotFound)
}

// terminateRoom force-closes a room: members are notified and disconnected,
// then both the in-memory room and its snapshot are removed. A room known
// only to the snapshot store is still deleted there.
func (s *Server) terminateRoom(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	closed := 0
	room, live := s.rooms.Get(code)
	if live {
		// Delete before closing members so their disconnect cleanup
		// cannot snapshot and re-save the terminated room.
		s.rooms.Delete(code)

		notice := types.NewNotice(types.MessageTypeRoomTerminated,
			"This room has been terminated by an administrator.")
		if room.Host != nil {
			_ = room.Host.SendJSON(notice)
			_ = room.Host.Close()
			closed++
		}
		for _, student := range room.Students {
			_ = student.SendJSON(notice)
			_ = student.Close()
			closed++
		}
	} else {
		exists, err := s.snapshots.RoomExists(ctx, code)
		if err != nil {
			s.logger.Error("snapshot lookup failed", "code", code, "error", err)
			s.sendError(w, "failed to terminate room", http.StatusInternalServerError)
			return
		}
		if !exists {
			s.sendError(w, "room not found", http.StatusNotFound)
			return
		}
	}

	if err := s.snapshots.DeleteRoom(ctx, code); err != nil {
		s.logger.Warn("snapshot delete failed", "code", code, "error", err)
	}
	s.logger.Info("room terminated by admin", "code", code, "connections_closed", closed)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"terminated":        code,
		"connectionsClosed": closed,
	})
}

// globalCleanup closes every unassigned connection and every connection stuck
// on a rejected room code, then resets the rejected-code cache.
func (s *Server) globalCleanup(w http.ResponseWriter, r *http.Request) {
	notice := types.NewNotice(types.MessageTypeAdminTerminated,
		"Your connection has been closed by an administrator.")

	closed := 0
	for _, conn := range s.registry.All() {
		code := conn.RoomCode()
		if code != "" && !s.rejected.Contains(code) {
			continue
		}
		_ = conn.SendJSON(notice)
		_ = conn.Close()
		s.registry.Remove(conn)
		closed++
	}
	cleared := s.rejected.Clear()
	s.logger.Info("global cleanup complete", "connections_closed", closed, "codes_cleared", cleared)

	json.NewEncoder(w).Encode(map[string]int{
		"connectionsClosed": closed,
		"rejectedCleared":   cleared,
	})
}

func (s *Server) getMode(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"mode": s.mode.String()})
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch req.Mode {
	case types.ModeText:
		s.mode.SetText(true)
	case types.ModeAudio:
		s.mode.SetText(false)
	default:
		s.sendError(w, "mode must be \"text\" or \"audio\"", http.StatusBadRequest)
		return
	}
	s.logger.Info("relay mode changed", "mode", req.Mode)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.settings.SetSetting(ctx, ModeSettingKey, req.Mode); err != nil {
		s.logger.Warn("mode persistence failed", "error", err)
	}

	json.NewEncoder(w).Encode(map[string]string{"mode": s.mode.String()})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK
	if err := s.settings.HealthCheck(ctx); err != nil {
		s.logger.Error("snapshot store unhealthy", "error", err)
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      status,
		"mode":        s.mode.String(),
		"rooms":       s.rooms.Len(),
		"connections": s.registry.Len(),
	})
}

// requireAdmin gates a handler behind the X-Admin-Key header. With no key
// configured the admin surface is off.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			s.sendError(w, "admin endpoints are disabled", http.StatusForbidden)
			return
		}
		key := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) != 1 {
			s.sendError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// persistRoom mirrors a freshly created room to the snapshot store in the
// background so its code survives a restart.
func (s *Server) persistRoom(code string) {
	snap, ok := s.rooms.SnapshotOf(code)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := s.snapshots.SaveRoom(ctx, snap); err != nil {
			s.logger.Warn("room snapshot save failed", "code", code, "error", err)
		}
	}()
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
