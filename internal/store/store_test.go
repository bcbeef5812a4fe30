package store

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// fakeSnapshots implements interfaces.SnapshotStore for collision checks.
// A non-zero delay simulates durable-store lookup latency.
type fakeSnapshots struct {
	mu          sync.Mutex
	existing    map[string]bool
	existsCalls int
	delay       time.Duration
}

func (f *fakeSnapshots) RoomExists(_ context.Context, code string) (bool, error) {
	f.mu.Lock()
	f.existsCalls++
	delay := f.delay
	exists := f.existing[code]
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return exists, nil
}

func (f *fakeSnapshots) GetRoom(context.Context, string) (*types.RoomSnapshot, error) {
	return nil, fmt.Errorf("not found")
}

func (f *fakeSnapshots) SaveRoom(context.Context, *types.RoomSnapshot) error { return nil }

func (f *fakeSnapshots) UpdateTranscript(context.Context, string, []types.TranscriptEntry) error {
	return nil
}

func (f *fakeSnapshots) DeleteRoom(context.Context, string) error { return nil }

// fakeConn is a minimal connection stand-in for membership tests.
type fakeConn struct {
	id string
}

func (f *fakeConn) ID() string                 { return f.id }
func (f *fakeConn) Role() string               { return types.RoleStudent }
func (f *fakeConn) RoomCode() string           { return "" }
func (f *fakeConn) TargetLangs() []string      { return nil }
func (f *fakeConn) SendJSON(interface{}) error { return nil }
func (f *fakeConn) Close() error               { return nil }
func (f *fakeConn) Terminate()                 {}

func newTestStore() (*Store, *fakeSnapshots) {
	snaps := &fakeSnapshots{existing: make(map[string]bool)}
	return New(snaps, log.New(io.Discard)), snaps
}

func TestCreateRoomGeneratesValidUniqueCodes(t *testing.T) {
	s, _ := newTestStore()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := s.CreateRoom(context.Background())
		if err != nil {
			t.Fatalf("CreateRoom failed: %v", err)
		}
		if !types.IsValidRoomCode(code) {
			t.Fatalf("generated invalid room code %q", code)
		}
		if seen[code] {
			t.Fatalf("duplicate room code %q", code)
		}
		seen[code] = true
		if !s.Exists(code) {
			t.Fatalf("room %q not registered after creation", code)
		}
	}
}

func TestCreateRoomExhaustedCodespace(t *testing.T) {
	s, snaps := newTestStore()

	// Every code is claimed by the durable store, so both the random
	// attempts and the linear scan must come up empty.
	for n := types.RoomCodeMin; n <= types.RoomCodeMax; n++ {
		snaps.existing[fmt.Sprintf("%d", n)] = true
	}

	_, err := s.CreateRoom(context.Background())
	if err != ErrCodespaceExhausted {
		t.Fatalf("expected ErrCodespaceExhausted, got %v", err)
	}
}

func TestAppendTranscriptCapsAtLimit(t *testing.T) {
	s, _ := newTestStore()
	code, err := s.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	total := TranscriptLimit + 10
	var transcript []types.TranscriptEntry
	for i := 0; i < total; i++ {
		transcript, err = s.AppendTranscript(code, types.TranscriptEntry{
			Text:      fmt.Sprintf("utterance %d", i),
			Timestamp: time.Now(),
		})
		if err != nil {
			t.Fatalf("AppendTranscript failed: %v", err)
		}
	}

	if len(transcript) != TranscriptLimit {
		t.Fatalf("transcript length = %d, want %d", len(transcript), TranscriptLimit)
	}
	// The oldest entries were evicted first; the remaining ones are the
	// most recent, in submission order.
	if transcript[0].Text != fmt.Sprintf("utterance %d", total-TranscriptLimit) {
		t.Errorf("unexpected first entry %q", transcript[0].Text)
	}
	if transcript[len(transcript)-1].Text != fmt.Sprintf("utterance %d", total-1) {
		t.Errorf("unexpected last entry %q", transcript[len(transcript)-1].Text)
	}
}

func TestAppendTranscriptUnknownRoom(t *testing.T) {
	s, _ := newTestStore()
	if _, err := s.AppendTranscript("12345", types.TranscriptEntry{Text: "x"}); err != ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestStudentMembershipOrder(t *testing.T) {
	s, _ := newTestStore()
	code, _ := s.CreateRoom(context.Background())

	a, b, c := &fakeConn{id: "a"}, &fakeConn{id: "b"}, &fakeConn{id: "c"}
	for _, conn := range []interfaces.Connection{a, b, c} {
		if _, err := s.AddStudent(code, conn); err != nil {
			t.Fatalf("AddStudent failed: %v", err)
		}
	}

	students := s.StudentsOf(code)
	if len(students) != 3 {
		t.Fatalf("expected 3 students, got %d", len(students))
	}
	for i, want := range []string{"a", "b", "c"} {
		if students[i].ID() != want {
			t.Errorf("student %d = %s, want %s (join order must be preserved)", i, students[i].ID(), want)
		}
	}

	s.RemoveStudent(code, b)
	students = s.StudentsOf(code)
	if len(students) != 2 || students[0].ID() != "a" || students[1].ID() != "c" {
		t.Errorf("unexpected students after removal: %v", students)
	}
}

func TestAddStudentReturnsTranscriptCopy(t *testing.T) {
	s, _ := newTestStore()
	code, _ := s.CreateRoom(context.Background())
	s.AppendTranscript(code, types.TranscriptEntry{Text: "hello", Timestamp: time.Now()})

	transcript, err := s.AddStudent(code, &fakeConn{id: "a"})
	if err != nil {
		t.Fatalf("AddStudent failed: %v", err)
	}
	if len(transcript) != 1 || transcript[0].Text != "hello" {
		t.Fatalf("unexpected transcript %v", transcript)
	}

	// The returned slice is a copy; mutating it must not affect the room.
	transcript[0].Text = "mutated"
	room, _ := s.Get(code)
	if room.Transcript[0].Text != "hello" {
		t.Error("transcript copy leaked a reference into room state")
	}
}

func TestSetHostReplacesAndClearHostIsInstanceScoped(t *testing.T) {
	s, _ := newTestStore()
	code, _ := s.CreateRoom(context.Background())

	first, second := &fakeConn{id: "h1"}, &fakeConn{id: "h2"}
	if err := s.SetHost(code, first); err != nil {
		t.Fatalf("SetHost failed: %v", err)
	}
	if err := s.SetHost(code, second); err != nil {
		t.Fatalf("SetHost replace failed: %v", err)
	}

	room, _ := s.Get(code)
	if room.Host != second {
		t.Fatal("second host must replace the first")
	}

	// The stale first connection closing must not evict the new host.
	s.ClearHost(code, first)
	room, _ = s.Get(code)
	if room.Host != second {
		t.Fatal("stale host clear evicted the current host")
	}

	s.ClearHost(code, second)
	room, _ = s.Get(code)
	if room.Host != nil {
		t.Fatal("host reference not cleared")
	}
}

func TestSetHostUnknownRoom(t *testing.T) {
	s, _ := newTestStore()
	if err := s.SetHost("99999", &fakeConn{id: "h"}); err != ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestHydratePreservesCreationTimeAndTranscript(t *testing.T) {
	s, _ := newTestStore()
	created := time.Now().Add(-30 * time.Minute)
	s.Hydrate(&types.RoomSnapshot{
		Code:      "34567",
		CreatedAt: created,
		Transcript: []types.TranscriptEntry{
			{Text: "earlier", Timestamp: created},
		},
	})

	room, ok := s.Get("34567")
	if !ok {
		t.Fatal("hydrated room missing")
	}
	if !room.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", room.CreatedAt, created)
	}
	if len(room.Transcript) != 1 || room.Transcript[0].Text != "earlier" {
		t.Errorf("unexpected transcript %v", room.Transcript)
	}

	// Hydrating over a live room must not clobber it.
	s.AppendTranscript("34567", types.TranscriptEntry{Text: "live"})
	s.Hydrate(&types.RoomSnapshot{Code: "34567"})
	room, _ = s.Get("34567")
	if len(room.Transcript) != 2 {
		t.Error("hydrate overwrote a live room")
	}
}

func TestExpiredUsesCreationTime(t *testing.T) {
	s, _ := newTestStore()

	s.Hydrate(&types.RoomSnapshot{Code: "11111", CreatedAt: time.Now().Add(-2 * time.Hour)})
	s.Hydrate(&types.RoomSnapshot{Code: "22222", CreatedAt: time.Now().Add(-10 * time.Minute)})

	expired := s.Expired(time.Now(), time.Hour)
	if len(expired) != 1 || expired[0].Code != "11111" {
		t.Fatalf("expected only room 11111 expired, got %v", expired)
	}
}

func TestPutGetDelete(t *testing.T) {
	s, _ := newTestStore()

	s.Put("77777", &Room{})
	room, ok := s.Get("77777")
	if !ok || room.Code != "77777" {
		t.Fatal("Put/Get round trip failed")
	}
	if room.CreatedAt.IsZero() {
		t.Error("Put must default CreatedAt")
	}

	s.Delete("77777")
	if s.Exists("77777") {
		t.Fatal("room still present after Delete")
	}
	s.Delete("77777") // idempotent
}

func TestCreateRoomConcurrentCallersGetDistinctCodes(t *testing.T) {
	// One free code left and a slow durable lookup: every caller sees the
	// code as free during the check, but only one may be handed the room.
	snaps := &fakeSnapshots{existing: make(map[string]bool), delay: 20 * time.Millisecond}
	s := New(snaps, log.New(io.Discard))
	for n := types.RoomCodeMin; n < types.RoomCodeMax; n++ {
		s.Put(fmt.Sprintf("%d", n), &Room{})
	}

	const callers = 4
	var wg sync.WaitGroup
	codes := make(chan string, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := s.CreateRoom(context.Background())
			if err != nil {
				errs <- err
				return
			}
			codes <- code
		}()
	}
	wg.Wait()
	close(codes)
	close(errs)

	var handedOut []string
	for code := range codes {
		handedOut = append(handedOut, code)
	}
	if len(handedOut) != 1 {
		t.Fatalf("expected exactly 1 caller to win the last code, got %d: %v", len(handedOut), handedOut)
	}
	if handedOut[0] != "99999" {
		t.Fatalf("unexpected winning code %q", handedOut[0])
	}
	for err := range errs {
		if err != ErrCodespaceExhausted {
			t.Fatalf("losing caller should see ErrCodespaceExhausted, got %v", err)
		}
	}
}
