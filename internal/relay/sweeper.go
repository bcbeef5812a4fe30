package relay

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"polycast/internal/store"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

const snapshotTimeout = 5 * time.Second

// Sweeper evicts rooms whose creation time has passed the maximum age.
// Expiry is by creation time, not activity: a room lives for a fixed session
// length no matter how busy it is.
type Sweeper struct {
	rooms     *store.Store
	snapshots interfaces.SnapshotStore
	interval  time.Duration
	maxAge    time.Duration
	limiter   *RateLimiter
	logger    *log.Logger

	shutdown chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewSweeper creates a sweeper over the room store.
func NewSweeper(rooms *store.Store, snapshots interfaces.SnapshotStore,
	interval, maxAge time.Duration, logger *log.Logger) *Sweeper {
	return &Sweeper{
		rooms:     rooms,
		snapshots: snapshots,
		interval:  interval,
		maxAge:    maxAge,
		logger:    logger,
		shutdown:  make(chan struct{}),
	}
}

// AttachLimiter makes the sweep also purge stale rate-limit windows.
func (s *Sweeper) AttachLimiter(limiter *RateLimiter) {
	s.limiter = limiter
}

// Start launches the sweep loop.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSweeperRunning
	}
	s.running = true

	go s.run()
	return nil
}

// Stop halts the sweep loop.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrSweeperNotRunning
	}
	s.running = false

	close(s.shutdown)
	return nil
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(time.Now())
		case <-s.shutdown:
			return
		}
	}
}

// Sweep evicts every room older than the maximum age: members are notified
// and closed, the room is removed from the store, and the snapshot deletion
// is requested in the background.
func (s *Sweeper) Sweep(now time.Time) {
	if s.limiter != nil {
		s.limiter.Cleanup()
	}
	for _, room := range s.rooms.Expired(now, s.maxAge) {
		s.logger.Info("room expired", "code", room.Code, "age", now.Sub(room.CreatedAt), "students", len(room.Students))

		// Remove the room before closing its members: each close triggers
		// that connection's disconnect cleanup, which must not find the
		// room and re-save a snapshot of it after the delete below.
		s.rooms.Delete(room.Code)

		notice := types.NewNotice(types.MessageTypeRoomExpired,
			"This room has expired and is now closed.")
		if room.Host != nil {
			_ = room.Host.SendJSON(notice)
			_ = room.Host.Close()
		}
		for _, student := range room.Students {
			_ = student.SendJSON(notice)
			_ = student.Close()
		}

		code := room.Code
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
			defer cancel()
			if err := s.snapshots.DeleteRoom(ctx, code); err != nil {
				s.logger.Warn("snapshot delete failed for expired room", "code", code, "error", err)
			}
		}()
	}
}
