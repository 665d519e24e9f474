// Package textsnap keeps the short-lived text captures the diff detector
// compares. Snapshots live in process memory only, are bounded per document
// by count and age, and are never written to the relational store.
//
// All methods are safe for concurrent use.
package textsnap

import (
	"sync"
	"time"

	"github.com/MrWong99/wordwise/pkg/learning"
)

const (
	// DefaultTTL is how long a snapshot is retained.
	DefaultTTL = 24 * time.Hour

	// DefaultMaxEntries is how many snapshots are kept per document.
	DefaultMaxEntries = 50
)

// key addresses the rolling list of one document. An empty document id is a
// valid key.
type key struct {
	userID     string
	documentID string
}

// Store is a TTL- and size-bounded snapshot buffer keyed by user and document.
type Store struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu   sync.Mutex
	docs map[key][]learning.TextSnapshot
}

// Option configures a [Store].
type Option func(*Store)

// WithTTL sets the retention window. Non-positive values keep the default.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithMaxEntries bounds the snapshots kept per document. Non-positive values
// keep the default.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty [Store].
func New(opts ...Option) *Store {
	s := &Store{
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		docs:       make(map[key][]learning.TextSnapshot),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Swap returns the most recent unexpired snapshot of the document and records
// current in one step, so two concurrent submissions never diff against the
// same previous capture. ok is false on the first capture.
//
// A current snapshot that is not newer than the latest stored one is not
// recorded.
func (s *Store) Swap(userID, documentID string, current learning.TextSnapshot) (prev learning.TextSnapshot, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{userID, documentID}
	entries := s.evict(s.docs[k])
	if n := len(entries); n > 0 {
		prev, ok = entries[n-1], true
	}
	if !ok || current.Timestamp.After(prev.Timestamp) {
		entries = append(entries, current)
		if len(entries) > s.maxEntries {
			entries = entries[len(entries)-s.maxEntries:]
		}
	}
	s.store(k, entries)
	return prev, ok
}

// Latest returns the most recent unexpired snapshot of the document.
func (s *Store) Latest(userID, documentID string) (learning.TextSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{userID, documentID}
	entries := s.evict(s.docs[k])
	s.store(k, entries)
	if len(entries) == 0 {
		return learning.TextSnapshot{}, false
	}
	return entries[len(entries)-1], true
}

// History returns the unexpired snapshots of the document, oldest first.
func (s *Store) History(userID, documentID string) []learning.TextSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{userID, documentID}
	entries := s.evict(s.docs[k])
	s.store(k, entries)
	out := make([]learning.TextSnapshot, len(entries))
	copy(out, entries)
	return out
}

// DropUser forgets every snapshot of the user and returns how many were
// removed.
func (s *Store) DropUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, entries := range s.docs {
		if k.userID == userID {
			n += len(entries)
			delete(s.docs, k)
		}
	}
	return n
}

// Purge evicts expired snapshots of every document and returns how many were
// removed.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, entries := range s.docs {
		kept := s.evict(entries)
		n += len(entries) - len(kept)
		s.store(k, kept)
	}
	return n
}

// Len returns the number of retained snapshots across all documents,
// including expired ones not yet evicted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, entries := range s.docs {
		n += len(entries)
	}
	return n
}

// evict drops entries older than the TTL. Entries are kept in timestamp
// order, so the expired ones form a prefix. Must be called with s.mu held.
//
// Survivors are copied to a fresh backing array so evicted text does not stay
// reachable.
func (s *Store) evict(entries []learning.TextSnapshot) []learning.TextSnapshot {
	cutoff := s.now().Add(-s.ttl)
	start := 0
	for start < len(entries) && entries[start].Timestamp.Before(cutoff) {
		start++
	}
	if start == 0 {
		return entries
	}
	fresh := make([]learning.TextSnapshot, len(entries)-start)
	copy(fresh, entries[start:])
	return fresh
}

// store must be called with s.mu held.
func (s *Store) store(k key, entries []learning.TextSnapshot) {
	if len(entries) == 0 {
		delete(s.docs, k)
		return
	}
	s.docs[k] = entries
}
