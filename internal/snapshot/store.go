package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	"polycast/pkg/types"
)

// Store is the durable mirror of in-memory room state, backed by SQLite.
// It is a downstream copy, never a second writer: the relay pushes room
// snapshots here and reads them back only to gate student joins and to
// hydrate rooms after a restart.
//
// All writes are serialized through a single goroutine; SQLite handles
// concurrent reads fine under WAL but write contention is avoided entirely
// by funneling mutations through one channel.
type Store struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
	logger   *log.Logger
}

type writeOp struct {
	op     func(*sql.DB) error
	result chan error
}

const (
	writeTimeout = 30 * time.Second
	retryDelay   = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	code       TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	transcript TEXT NOT NULL DEFAULT '[]',
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Open opens (creating if needed) the snapshot database at path.
func Open(path string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply snapshot schema: %w", err)
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
		logger:   logger,
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop applies write operations one at a time, retrying once after a
// short delay. Snapshot writes are best-effort; a second failure is reported
// to the caller, who logs and moves on.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			err := op.op(s.db)
			if err != nil {
				s.logger.Warn("snapshot write failed, retrying", "error", err)
				time.Sleep(retryDelay)
				err = op.op(s.db)
			}
			op.result <- err

		case <-s.shutdown:
			// Answer anything still queued so no caller is left blocked
			// on its result channel.
			for {
				select {
				case op := <-s.writeCh:
					op.result <- ErrStoreClosed
				default:
					return
				}
			}
		}
	}
}

func (s *Store) executeWrite(op func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{op: op, result: result}:
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	}
}

// RoomExists reports whether a room snapshot is present.
func (s *Store) RoomExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms WHERE code = ?`, code).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check room existence: %w", err)
	}
	return n > 0, nil
}

// GetRoom loads a room snapshot. Returns ErrRoomNotFound for unknown codes.
func (s *Store) GetRoom(ctx context.Context, code string) (*types.RoomSnapshot, error) {
	var (
		createdAt      time.Time
		transcriptJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, transcript FROM rooms WHERE code = ?`, code,
	).Scan(&createdAt, &transcriptJSON)
	if err == sql.ErrNoRows {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query room snapshot: %w", err)
	}

	snapshot := &types.RoomSnapshot{Code: code, CreatedAt: createdAt}
	if err := json.Unmarshal([]byte(transcriptJSON), &snapshot.Transcript); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	return snapshot, nil
}

// SaveRoom inserts or replaces a room snapshot.
func (s *Store) SaveRoom(ctx context.Context, snapshot *types.RoomSnapshot) error {
	transcriptJSON, err := json.Marshal(snapshot.Transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO rooms (code, created_at, transcript, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET
				transcript = excluded.transcript,
				updated_at = excluded.updated_at`,
			snapshot.Code, snapshot.CreatedAt, string(transcriptJSON), time.Now(),
		)
		if err != nil {
			return fmt.Errorf("failed to save room snapshot: %w", err)
		}
		return nil
	})
}

// UpdateTranscript replaces the stored transcript for a room.
func (s *Store) UpdateTranscript(ctx context.Context, code string, transcript []types.TranscriptEntry) error {
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE rooms SET transcript = ?, updated_at = ? WHERE code = ?`,
			string(transcriptJSON), time.Now(), code,
		)
		if err != nil {
			return fmt.Errorf("failed to update transcript: %w", err)
		}
		return nil
	})
}

// DeleteRoom removes a room snapshot. Deleting an unknown code succeeds.
func (s *Store) DeleteRoom(ctx context.Context, code string) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM rooms WHERE code = ?`, code)
		if err != nil {
			return fmt.Errorf("failed to delete room snapshot: %w", err)
		}
		return nil
	})
}

// GetSetting reads a persisted relay setting. Returns ErrSettingNotFound for
// unknown keys.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrSettingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query setting: %w", err)
	}
	return value, nil
}

// SetSetting writes a persisted relay setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		)
		if err != nil {
			return fmt.Errorf("failed to set setting: %w", err)
		}
		return nil
	})
}

// HealthCheck validates connectivity to the snapshot database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("snapshot database ping failed: %w", err)
	}
	return nil
}

// Close shuts down the write loop and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot database: %w", err)
	}
	return nil
}
