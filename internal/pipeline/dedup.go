package pipeline

import (
	"strings"
	"sync"
)

// DedupTracker owns the set of identifying keys accepted during a run.
// The set grows monotonically and is scoped to one run; it is not
// persisted. Safe for concurrent use so a tracker may be shared across
// targets for cross-site dedup.
type DedupTracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupTracker returns an empty tracker.
func NewDedupTracker() *DedupTracker {
	return &DedupTracker{seen: make(map[string]struct{})}
}

// NormalizeKey folds case and collapses whitespace so "The Grand Hall"
// and " the  grand hall " collide.
func NormalizeKey(key string) string {
	return strings.Join(strings.Fields(strings.ToLower(key)), " ")
}

// CheckAndRegister registers the normalized key. It returns true when the
// key is new and false when it was already present. Check and insert
// happen under one lock so concurrent callers cannot both register the
// same key.
func (t *DedupTracker) CheckAndRegister(key string) bool {
	norm := NormalizeKey(key)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.seen[norm]; dup {
		return false
	}
	t.seen[norm] = struct{}{}
	return true
}

// Len returns the number of registered keys.
func (t *DedupTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
