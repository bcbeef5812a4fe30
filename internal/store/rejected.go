package store

import "sync"

// RejectedCodes caches room codes known not to exist so repeated bad
// reconnection attempts are refused without a store lookup. Entries never
// expire on their own; the set is cleared wholesale by the admin cleanup.
type RejectedCodes struct {
	mu    sync.RWMutex
	codes map[string]struct{}
}

// NewRejectedCodes creates an empty rejection cache.
func NewRejectedCodes() *RejectedCodes {
	return &RejectedCodes{codes: make(map[string]struct{})}
}

// Add records a code as known-bad.
func (r *RejectedCodes) Add(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[code] = struct{}{}
}

// Contains reports whether a code was previously rejected.
func (r *RejectedCodes) Contains(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.codes[code]
	return ok
}

// Clear empties the cache and returns how many codes were dropped.
func (r *RejectedCodes) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.codes)
	r.codes = make(map[string]struct{})
	return n
}

// Len returns the number of cached codes.
func (r *RejectedCodes) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.codes)
}
