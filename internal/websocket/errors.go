package websocket

import "errors"

// Connection errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Monitor errors
var (
	ErrMonitorRunning    = errors.New("liveness monitor is already running")
	ErrMonitorNotRunning = errors.New("liveness monitor is not running")
)
