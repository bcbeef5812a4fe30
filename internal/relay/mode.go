package relay

import (
	"sync/atomic"

	"polycast/pkg/types"
)

// Mode is the relay-wide submission mode. Audio mode accepts raw audio frames
// from the host; text mode accepts text_submit messages. Flipped at runtime
// through the admin API and persisted in the snapshot store's settings table.
type Mode struct {
	text atomic.Bool
}

// NewMode returns a Mode starting in audio mode, or text mode when text is true.
func NewMode(text bool) *Mode {
	m := &Mode{}
	m.text.Store(text)
	return m
}

// IsText reports whether the relay is in text mode.
func (m *Mode) IsText() bool {
	return m.text.Load()
}

// SetText switches between text and audio mode.
func (m *Mode) SetText(text bool) {
	m.text.Store(text)
}

// String returns "text" or "audio".
func (m *Mode) String() string {
	if m.IsText() {
		return types.ModeText
	}
	return types.ModeAudio
}
