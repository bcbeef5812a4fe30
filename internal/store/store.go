package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// Store owns the canonical in-memory room state. All mutation happens through
// its methods under one mutex, so no partial update of a room is observable.
// The snapshot store is consulted only for room-code collision checks and for
// hydrating rooms that survived a restart; it is never a second writer.
type Store struct {
	mu        sync.Mutex
	rooms     map[string]*Room
	snapshots interfaces.SnapshotStore
	logger    *log.Logger
}

// codeAttempts is how many uniform random draws are tried before falling back
// to a linear scan of the code space.
const codeAttempts = 5

// New creates an empty room store backed by the given snapshot store.
func New(snapshots interfaces.SnapshotStore, logger *log.Logger) *Store {
	return &Store{
		rooms:     make(map[string]*Room),
		snapshots: snapshots,
		logger:    logger,
	}
}

// CreateRoom generates an unused five-digit code, registers an empty room
// under it and returns the code. Returns ErrCodespaceExhausted when every
// code is taken; that is a request failure, not a process failure.
func (s *Store) CreateRoom(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := fmt.Sprintf("%d", types.RoomCodeMin+rand.IntN(types.RoomCodeMax-types.RoomCodeMin+1))
		if s.codeTaken(ctx, code) {
			continue
		}
		if s.tryRegister(code) {
			return code, nil
		}
	}

	// Random draws kept colliding; scan the code space in order.
	for n := types.RoomCodeMin; n <= types.RoomCodeMax; n++ {
		code := fmt.Sprintf("%d", n)
		if s.codeTaken(ctx, code) {
			continue
		}
		if s.tryRegister(code) {
			return code, nil
		}
	}

	return "", ErrCodespaceExhausted
}

// codeTaken checks memory first (cheap), then the durable store.
func (s *Store) codeTaken(ctx context.Context, code string) bool {
	if s.Exists(code) {
		return true
	}
	exists, err := s.snapshots.RoomExists(ctx, code)
	if err != nil {
		// A failing snapshot store must not block room creation; treat
		// the code as free and let the save overwrite any stale row.
		s.logger.Warn("snapshot existence check failed during code generation", "code", code, "error", err)
		return false
	}
	return exists
}

// tryRegister claims code for a new room, but only if it is still unclaimed.
// The durable existence check runs outside the lock, so a concurrent creator
// may have taken the code since; the claim under the lock is the
// authoritative step, and a losing caller retries with the next candidate.
func (s *Store) tryRegister(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code]; ok {
		return false
	}
	s.rooms[code] = &Room{Code: code, CreatedAt: time.Now()}
	s.logger.Info("room created", "code", code)
	return true
}

// Get returns a copy of the room's current state.
func (s *Store) Get(code string) (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return Room{}, false
	}
	return room.copyOf(), true
}

// Put inserts or replaces a room under the given code.
func (s *Store) Put(code string, room *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.Code = code
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	s.rooms[code] = room
}

// Delete removes a room. Removing an unknown code is a no-op.
func (s *Store) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
}

// Exists reports whether a room is present in memory.
func (s *Store) Exists(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[code]
	return ok
}

// EnsureRoom creates an empty room under code if none exists. Returns true
// when a new room was created. Used when a host connects with a code of its
// own choosing.
func (s *Store) EnsureRoom(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code]; ok {
		return false
	}
	s.rooms[code] = &Room{Code: code, CreatedAt: time.Now()}
	s.logger.Info("room created by host connect", "code", code)
	return true
}

// Hydrate recreates a room from its durable snapshot, preserving the original
// creation time and transcript. A room already in memory is left untouched.
func (s *Store) Hydrate(snapshot *types.RoomSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[snapshot.Code]; ok {
		return
	}
	transcript := make([]types.TranscriptEntry, len(snapshot.Transcript))
	copy(transcript, snapshot.Transcript)
	createdAt := snapshot.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	s.rooms[snapshot.Code] = &Room{
		Code:       snapshot.Code,
		Transcript: transcript,
		CreatedAt:  createdAt,
	}
	s.logger.Info("room hydrated from snapshot", "code", snapshot.Code, "transcript_entries", len(transcript))
}

// SetHost points the room's host reference at conn, replacing any previous
// host. At most one host reference exists per room.
func (s *Store) SetHost(code string, conn interfaces.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	room.Host = conn
	return nil
}

// ClearHost drops the room's host reference, but only if it still points at
// conn. A host that reconnected already replaced the reference; the stale
// connection's close must not evict the new one.
func (s *Store) ClearHost(code string, conn interfaces.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return
	}
	if room.Host == conn {
		room.Host = nil
	}
}

// AddStudent appends conn to the room's student list (join order preserved)
// and returns a copy of the current transcript for history replay.
func (s *Store) AddStudent(code string, conn interfaces.Connection) ([]types.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room.Students = append(room.Students, conn)
	transcript := make([]types.TranscriptEntry, len(room.Transcript))
	copy(transcript, room.Transcript)
	return transcript, nil
}

// RemoveStudent drops conn from the room's student list.
func (s *Store) RemoveStudent(code string, conn interfaces.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return
	}
	for i, student := range room.Students {
		if student == conn {
			room.Students = append(room.Students[:i], room.Students[i+1:]...)
			return
		}
	}
}

// AppendTranscript adds one entry to the room's transcript, evicting the
// oldest entries past TranscriptLimit, and returns a copy of the updated
// transcript for persistence.
func (s *Store) AppendTranscript(code string, entry types.TranscriptEntry) ([]types.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room.Transcript = append(room.Transcript, entry)
	if len(room.Transcript) > TranscriptLimit {
		room.Transcript = room.Transcript[len(room.Transcript)-TranscriptLimit:]
	}
	transcript := make([]types.TranscriptEntry, len(room.Transcript))
	copy(transcript, room.Transcript)
	return transcript, nil
}

// StudentsOf returns a copy of the room's student list.
func (s *Store) StudentsOf(code string) []interfaces.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok || len(room.Students) == 0 {
		return nil
	}
	students := make([]interfaces.Connection, len(room.Students))
	copy(students, room.Students)
	return students
}

// SnapshotOf returns the room's durable form for persistence.
func (s *Store) SnapshotOf(code string) (*types.RoomSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return nil, false
	}
	return room.snapshot(), true
}

// Expired returns copies of every room whose age exceeds maxAge at now.
// Age is measured from creation time, not last activity: an actively used
// room still expires at the threshold.
func (s *Store) Expired(now time.Time, maxAge time.Duration) []Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Room
	for _, room := range s.rooms {
		if now.Sub(room.CreatedAt) > maxAge {
			expired = append(expired, room.copyOf())
		}
	}
	return expired
}

// Len returns the number of rooms in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}
