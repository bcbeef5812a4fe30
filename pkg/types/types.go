package types

import (
	"time"
)

// Connection roles
const (
	RoleHost    = "host"
	RoleStudent = "student"
)

// Relay operating modes
const (
	ModeAudio = "audio"
	ModeText  = "text"
)

// Inbound message types
const (
	MessageTypeTextSubmit = "text_submit"
)

// Outbound message types
const (
	MessageTypeInfo              = "info"
	MessageTypeRoomJoined        = "room_joined"
	MessageTypeRoomError         = "room_error"
	MessageTypeError             = "error"
	MessageTypeRecognized        = "recognized"
	MessageTypeTranslation       = "translation"
	MessageTypeTranscriptHistory = "transcript_history"
	MessageTypeRoomExpired       = "room_expired"
	MessageTypeRoomTerminated    = "room_terminated"
	MessageTypeHostDisconnected  = "host_disconnected"
	MessageTypeAdminTerminated   = "admin_terminated"
)

// TranscriptEntry is one recognized utterance in a room's transcript.
// Entries are immutable; append order is chronological.
type TranscriptEntry struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomSnapshot is the durable mirror of a room's state. The snapshot store
// holds an eventually-consistent copy; live connections are never part of it.
type RoomSnapshot struct {
	Code       string            `json:"code"`
	CreatedAt  time.Time         `json:"created_at"`
	Transcript []TranscriptEntry `json:"transcript"`
}

// TextSubmit is the JSON payload a host sends in text mode. It may arrive on
// either a text or a binary WebSocket frame.
type TextSubmit struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// Notice is the generic outbound message carrying a human-readable text:
// info, error, room_error, room_expired, room_terminated, host_disconnected
// and admin_terminated all share this shape.
type Notice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RoomJoined acknowledges a successful room assignment.
type RoomJoined struct {
	Type     string `json:"type"`
	RoomCode string `json:"roomCode"`
	IsHost   bool   `json:"isHost"`
	Message  string `json:"message"`
}

// Recognized carries the source text of an utterance. Lang is set for text
// submissions and empty for transcribed audio.
type Recognized struct {
	Type string `json:"type"`
	Lang string `json:"lang,omitempty"`
	Data string `json:"data"`
}

// Translation carries one target language's translated text.
type Translation struct {
	Type string `json:"type"`
	Lang string `json:"lang"`
	Data string `json:"data"`
}

// TranscriptHistory replays the full current transcript to a joining student.
type TranscriptHistory struct {
	Type string            `json:"type"`
	Data []TranscriptEntry `json:"data"`
}

// NewNotice builds a Notice of the given message type.
func NewNotice(msgType, message string) Notice {
	return Notice{Type: msgType, Message: message}
}

// NewError builds an error Notice.
func NewError(message string) Notice {
	return Notice{Type: MessageTypeError, Message: message}
}
