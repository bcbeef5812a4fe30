package relay

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"polycast/internal/store"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

func TestSweepEvictsExpiredRooms(t *testing.T) {
	snaps := newFakeSnapshots()
	rooms := store.New(snaps, log.New(io.Discard))
	sweeper := NewSweeper(rooms, snaps, time.Minute, time.Hour, log.New(io.Discard))

	now := time.Now()
	host := &fakeConn{id: "host-1", role: types.RoleHost}
	student := &fakeConn{id: "student-1", role: types.RoleStudent}
	rooms.Put("11111", &store.Room{
		Code:      "11111",
		Host:      host,
		Students:  []interfaces.Connection{student},
		CreatedAt: now.Add(-2 * time.Hour),
	})
	rooms.Put("22222", &store.Room{
		Code:      "22222",
		CreatedAt: now.Add(-time.Minute),
	})

	sweeper.Sweep(now)

	if rooms.Exists("11111") {
		t.Fatal("expired room should be removed")
	}
	if !rooms.Exists("22222") {
		t.Fatal("fresh room should survive the sweep")
	}

	for _, conn := range []*fakeConn{host, student} {
		msgs := conn.messages()
		if len(msgs) != 1 {
			t.Fatalf("%s: expected 1 message, got %d", conn.id, len(msgs))
		}
		notice, ok := msgs[0].(types.Notice)
		if !ok || notice.Type != types.MessageTypeRoomExpired {
			t.Fatalf("%s: unexpected message %+v", conn.id, msgs[0])
		}
	}

	waitFor(t, func() bool {
		snaps.mu.Lock()
		defer snaps.mu.Unlock()
		return len(snaps.deleted) == 1 && snaps.deleted[0] == "11111"
	})
}

func TestSweepDeletesRoomBeforeClosingMembers(t *testing.T) {
	snaps := newFakeSnapshots()
	rooms := store.New(snaps, log.New(io.Discard))
	sweeper := NewSweeper(rooms, snaps, time.Minute, time.Hour, log.New(io.Discard))

	// Closing a member triggers its disconnect cleanup, which looks the
	// room up to refresh the snapshot; by then the room must be gone or
	// the eviction gets re-saved to the durable store.
	sawRoomOnClose := false
	student := &fakeConn{id: "student-1", role: types.RoleStudent}
	student.closeFn = func() {
		sawRoomOnClose = rooms.Exists("66666")
	}
	rooms.Put("66666", &store.Room{
		Code:      "66666",
		Students:  []interfaces.Connection{student},
		CreatedAt: time.Now().Add(-2 * time.Hour),
	})

	sweeper.Sweep(time.Now())

	if sawRoomOnClose {
		t.Fatal("room must be removed from the store before members are closed")
	}
}

func TestSweepHandlesHostlessRoom(t *testing.T) {
	snaps := newFakeSnapshots()
	rooms := store.New(snaps, log.New(io.Discard))
	sweeper := NewSweeper(rooms, snaps, time.Minute, time.Hour, log.New(io.Discard))

	rooms.Put("33333", &store.Room{
		Code:      "33333",
		CreatedAt: time.Now().Add(-90 * time.Minute),
	})

	sweeper.Sweep(time.Now())

	if rooms.Exists("33333") {
		t.Fatal("hostless expired room should be removed")
	}
}

func TestSweeperStartStop(t *testing.T) {
	snaps := newFakeSnapshots()
	rooms := store.New(snaps, log.New(io.Discard))
	sweeper := NewSweeper(rooms, snaps, 10*time.Millisecond, time.Hour, log.New(io.Discard))

	if err := sweeper.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sweeper.Start(); err != ErrSweeperRunning {
		t.Fatalf("expected ErrSweeperRunning, got %v", err)
	}
	if err := sweeper.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := sweeper.Stop(); err != ErrSweeperNotRunning {
		t.Fatalf("expected ErrSweeperNotRunning, got %v", err)
	}
}
