package store

import (
	"time"

	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// TranscriptLimit bounds a room's transcript; the oldest entry is evicted
// once the limit is exceeded.
const TranscriptLimit = 50

// Room is one ephemeral session grouping a host and zero or more students.
// The store owns Room values; connections referenced here are owned by the
// transport layer. A room with no students and a nil host stays valid until
// the expiry sweep removes it.
type Room struct {
	Code       string
	Host       interfaces.Connection // weak reference; nil when no host is connected
	Students   []interfaces.Connection
	Transcript []types.TranscriptEntry
	CreatedAt  time.Time
}

// copyOf returns a shallow copy with duplicated slices, safe to hand out
// after the store's lock is released.
func (r *Room) copyOf() Room {
	c := Room{
		Code:      r.Code,
		Host:      r.Host,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Students) > 0 {
		c.Students = make([]interfaces.Connection, len(r.Students))
		copy(c.Students, r.Students)
	}
	if len(r.Transcript) > 0 {
		c.Transcript = make([]types.TranscriptEntry, len(r.Transcript))
		copy(c.Transcript, r.Transcript)
	}
	return c
}

// snapshot converts the room to its durable form.
func (r *Room) snapshot() *types.RoomSnapshot {
	transcript := make([]types.TranscriptEntry, len(r.Transcript))
	copy(transcript, r.Transcript)
	return &types.RoomSnapshot{
		Code:       r.Code,
		CreatedAt:  r.CreatedAt,
		Transcript: transcript,
	}
}
