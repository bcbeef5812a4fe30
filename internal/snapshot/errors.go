package snapshot

import "errors"

var (
	ErrRoomNotFound    = errors.New("room snapshot not found")
	ErrSettingNotFound = errors.New("setting not found")
	ErrStoreClosed     = errors.New("snapshot store is closed")
	ErrWriteTimeout    = errors.New("snapshot write timed out")
)
