package relay

import "errors"

// Sweeper errors
var (
	ErrSweeperRunning    = errors.New("lifecycle sweeper is already running")
	ErrSweeperNotRunning = errors.New("lifecycle sweeper is not running")
)
