package chatsync

import (
	"sync"
	"time"
)

// Ledger tracks optimistically-applied entries until their durable
// counterpart arrives. Each entry is keyed by a client-generated key and
// resolved exactly once: by key when the durable row echoes it back, or by
// the supplied match function when it does not. Entries that never resolve
// can be failed explicitly or expired in bulk. The primitive is generic so
// any optimistic action can reuse it, not just message sends.
type Ledger[T any] struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry[T]
	match   func(pending, durable T) bool
}

type ledgerEntry[T any] struct {
	value     T
	appliedAt time.Time
	failed    bool
}

func NewLedger[T any](match func(pending, durable T) bool) *Ledger[T] {
	return &Ledger[T]{
		entries: make(map[string]*ledgerEntry[T]),
		match:   match,
	}
}

// Apply records an optimistic entry under key. Re-applying an existing key
// (a resend) resets its clock and clears the failure mark.
func (l *Ledger[T]) Apply(key string, v T) {
	l.mu.Lock()
	l.entries[key] = &ledgerEntry[T]{value: v, appliedAt: time.Now()}
	l.mu.Unlock()
}

// Resolve unifies a durable value with its pending entry and removes it.
// durableKey is the client key carried by the durable row; when it is empty
// or unknown the match function decides. Returns the resolved key, or false
// when nothing matched — at most one entry is ever consumed per call.
func (l *Ledger[T]) Resolve(durableKey string, durable T) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if durableKey != "" {
		if _, ok := l.entries[durableKey]; ok {
			delete(l.entries, durableKey)
			return durableKey, true
		}
	}
	if l.match == nil {
		return "", false
	}
	for key, e := range l.entries {
		if !e.failed && l.match(e.value, durable) {
			delete(l.entries, key)
			return key, true
		}
	}
	return "", false
}

// Fail marks a pending entry as failed. Reports false when the entry was
// already resolved or already failed, so callers flip UI state at most once.
func (l *Ledger[T]) Fail(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || e.failed {
		return false
	}
	e.failed = true
	return true
}

// Drop removes an entry without resolving it.
func (l *Ledger[T]) Drop(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

// Expire fails every pending entry applied before now-maxAge and returns
// their keys.
func (l *Ledger[T]) Expire(maxAge time.Duration, now time.Time) []string {
	cutoff := now.Add(-maxAge)
	l.mu.Lock()
	defer l.mu.Unlock()
	var keys []string
	for key, e := range l.entries {
		if !e.failed && e.appliedAt.Before(cutoff) {
			e.failed = true
			keys = append(keys, key)
		}
	}
	return keys
}

func (l *Ledger[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
