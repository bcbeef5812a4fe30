package store

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrCodespaceExhausted = errors.New("room code space exhausted")
)
