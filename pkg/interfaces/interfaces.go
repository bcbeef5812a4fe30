package interfaces

import (
	"context"

	"polycast/pkg/types"
)

// Connection is the relay's view of a live client connection. The transport
// layer owns the connection's lifecycle; room state only holds references.
type Connection interface {
	// ID returns the server-assigned connection identifier.
	ID() string
	// Role returns "host" or "student".
	Role() string
	// RoomCode returns the assigned room code, or "" before a join.
	RoomCode() string
	// TargetLangs returns the target languages parsed at connect time,
	// in the order they were supplied.
	TargetLangs() []string
	// SendJSON queues a JSON message for delivery. Best-effort: a full
	// write buffer or closed connection returns an error.
	SendJSON(v interface{}) error
	// Close shuts the connection down with a close handshake.
	Close() error
	// Terminate tears the connection down abruptly, without waiting on
	// the peer. Used when the peer is suspected dead.
	Terminate()
}

// SnapshotStore is the durable mirror of room state. All methods except the
// lookup pair used to gate student joins are called fire-and-forget.
type SnapshotStore interface {
	RoomExists(ctx context.Context, code string) (bool, error)
	GetRoom(ctx context.Context, code string) (*types.RoomSnapshot, error)
	SaveRoom(ctx context.Context, snapshot *types.RoomSnapshot) error
	UpdateTranscript(ctx context.Context, code string, transcript []types.TranscriptEntry) error
	DeleteRoom(ctx context.Context, code string) error
}

// MessageRouter processes one inbound payload from a connection. binary
// reports the WebSocket frame type; classification of the payload itself
// (text submission vs. raw audio) is the router's job.
type MessageRouter interface {
	HandleMessage(ctx context.Context, conn Connection, binary bool, payload []byte)
}

// Transcriber converts raw audio bytes into recognized text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Translator translates text into each target language in one batched call.
// The returned map is keyed by target language.
type Translator interface {
	TranslateBatch(ctx context.Context, text, sourceLang string, targetLangs []string) (map[string]string, error)
}
