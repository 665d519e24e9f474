// Package mock provides a recording test double for [learning.Store].
//
// [Store] forwards every call to an in-memory [memstore.Store] so tests get
// realistic behaviour, records each invocation for assertion, and lets tests
// inject an error per method name.
//
// Typical usage:
//
//	store := mock.New()
//	store.SetErr("AppendEvent", learning.ErrUnavailable)
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("UpsertPattern"); got != 1 {
//	    t.Errorf("expected 1 UpsertPattern call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/wordwise/pkg/learning"
	"github.com/MrWong99/wordwise/pkg/learning/memstore"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Compile-time interface check.
var _ learning.Store = (*Store)(nil)

// Store is a configurable test double for [learning.Store]. It is safe for
// concurrent use.
type Store struct {
	backing learning.Store

	mu    sync.Mutex
	calls []Call
	errs  map[string]error
}

// New returns a Store backed by a fresh [memstore.Store].
func New() *Store {
	return Wrap(memstore.New())
}

// Wrap returns a Store that forwards to backing.
func Wrap(backing learning.Store) *Store {
	return &Store{backing: backing, errs: make(map[string]error)}
}

// SetErr makes method return err instead of forwarding. A nil err clears the
// injection.
func (m *Store) SetErr(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering error injection.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// record appends the call and returns the injected error for method, if any.
func (m *Store) record(method string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
	return m.errs[method]
}

// ─────────────────────────────────────────────────────────────────────────────
// PatternStore
// ─────────────────────────────────────────────────────────────────────────────

// UpsertPattern implements [learning.PatternStore].
func (m *Store) UpsertPattern(ctx context.Context, occ learning.PatternOccurrence) (*learning.ErrorPattern, error) {
	if err := m.record("UpsertPattern", occ); err != nil {
		return nil, err
	}
	return m.backing.UpsertPattern(ctx, occ)
}

// GetPattern implements [learning.PatternStore].
func (m *Store) GetPattern(ctx context.Context, userID, misspelling, correction string) (*learning.ErrorPattern, error) {
	if err := m.record("GetPattern", userID, misspelling, correction); err != nil {
		return nil, err
	}
	return m.backing.GetPattern(ctx, userID, misspelling, correction)
}

// ListPatterns implements [learning.PatternStore].
func (m *Store) ListPatterns(ctx context.Context, userID string) ([]learning.ErrorPattern, error) {
	if err := m.record("ListPatterns", userID); err != nil {
		return nil, err
	}
	return m.backing.ListPatterns(ctx, userID)
}

// TopPatterns implements [learning.PatternStore].
func (m *Store) TopPatterns(ctx context.Context, userID string, limit int) ([]learning.ErrorPattern, error) {
	if err := m.record("TopPatterns", userID, limit); err != nil {
		return nil, err
	}
	return m.backing.TopPatterns(ctx, userID, limit)
}

// UpdatePattern implements [learning.PatternStore].
func (m *Store) UpdatePattern(ctx context.Context, userID string, id int64, patch learning.PatternPatch) (*learning.ErrorPattern, error) {
	if err := m.record("UpdatePattern", userID, id, patch); err != nil {
		return nil, err
	}
	return m.backing.UpdatePattern(ctx, userID, id, patch)
}

// SetImprovingTypes implements [learning.PatternStore].
func (m *Store) SetImprovingTypes(ctx context.Context, userID string, types []learning.ErrorType) (int64, error) {
	if err := m.record("SetImprovingTypes", userID, types); err != nil {
		return 0, err
	}
	return m.backing.SetImprovingTypes(ctx, userID, types)
}

// ─────────────────────────────────────────────────────────────────────────────
// ConfusionStore
// ─────────────────────────────────────────────────────────────────────────────

// UpsertConfusionPair implements [learning.ConfusionStore].
func (m *Store) UpsertConfusionPair(ctx context.Context, userID, a, b string, at time.Time) (*learning.ConfusionPair, error) {
	if err := m.record("UpsertConfusionPair", userID, a, b, at); err != nil {
		return nil, err
	}
	return m.backing.UpsertConfusionPair(ctx, userID, a, b, at)
}

// GetConfusionPair implements [learning.ConfusionStore].
func (m *Store) GetConfusionPair(ctx context.Context, userID, a, b string) (*learning.ConfusionPair, error) {
	if err := m.record("GetConfusionPair", userID, a, b); err != nil {
		return nil, err
	}
	return m.backing.GetConfusionPair(ctx, userID, a, b)
}

// ListConfusionPairs implements [learning.ConfusionStore].
func (m *Store) ListConfusionPairs(ctx context.Context, userID string, limit int) ([]learning.ConfusionPair, error) {
	if err := m.record("ListConfusionPairs", userID, limit); err != nil {
		return nil, err
	}
	return m.backing.ListConfusionPairs(ctx, userID, limit)
}

// ─────────────────────────────────────────────────────────────────────────────
// DictionaryStore
// ─────────────────────────────────────────────────────────────────────────────

// AddWord implements [learning.DictionaryStore].
func (m *Store) AddWord(ctx context.Context, userID, word string, source learning.DictionarySource, at time.Time) (*learning.DictionaryEntry, error) {
	if err := m.record("AddWord", userID, word, source, at); err != nil {
		return nil, err
	}
	return m.backing.AddWord(ctx, userID, word, source, at)
}

// HasWord implements [learning.DictionaryStore].
func (m *Store) HasWord(ctx context.Context, userID, word string) (bool, error) {
	if err := m.record("HasWord", userID, word); err != nil {
		return false, err
	}
	return m.backing.HasWord(ctx, userID, word)
}

// RemoveWord implements [learning.DictionaryStore].
func (m *Store) RemoveWord(ctx context.Context, userID, word string) (bool, error) {
	if err := m.record("RemoveWord", userID, word); err != nil {
		return false, err
	}
	return m.backing.RemoveWord(ctx, userID, word)
}

// ListWords implements [learning.DictionaryStore].
func (m *Store) ListWords(ctx context.Context, userID string) ([]learning.DictionaryEntry, error) {
	if err := m.record("ListWords", userID); err != nil {
		return nil, err
	}
	return m.backing.ListWords(ctx, userID)
}

// ─────────────────────────────────────────────────────────────────────────────
// EventLog
// ─────────────────────────────────────────────────────────────────────────────

// AppendEvent implements [learning.EventLog].
func (m *Store) AppendEvent(ctx context.Context, e learning.ErrorEvent) error {
	if err := m.record("AppendEvent", e); err != nil {
		return err
	}
	return m.backing.AppendEvent(ctx, e)
}

// LogCorrection implements [learning.Store]. An error injected for
// "LogCorrection", or for one of the writes it bundles ("AppendEvent",
// "UpsertPattern" and, with a pair, "UpsertConfusionPair"), fails the whole
// unit and nothing reaches the backing store.
func (m *Store) LogCorrection(ctx context.Context, c learning.Correction) (*learning.CorrectionResult, error) {
	if err := m.record("LogCorrection", c); err != nil {
		return nil, err
	}
	steps := []string{"AppendEvent", "UpsertPattern"}
	if c.Pair != nil {
		steps = append(steps, "UpsertConfusionPair")
	}
	if err := m.injected(steps...); err != nil {
		return nil, err
	}
	return m.backing.LogCorrection(ctx, c)
}

// injected returns the first error injected for any of methods.
func (m *Store) injected(methods ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, method := range methods {
		if err := m.errs[method]; err != nil {
			return err
		}
	}
	return nil
}

// ListEvents implements [learning.EventLog].
func (m *Store) ListEvents(ctx context.Context, userID string, since, until time.Time) ([]learning.ErrorEvent, error) {
	if err := m.record("ListEvents", userID, since, until); err != nil {
		return nil, err
	}
	return m.backing.ListEvents(ctx, userID, since, until)
}

// CountEvents implements [learning.EventLog].
func (m *Store) CountEvents(ctx context.Context, userID string) (int, error) {
	if err := m.record("CountEvents", userID); err != nil {
		return 0, err
	}
	return m.backing.CountEvents(ctx, userID)
}

// EventDays implements [learning.EventLog].
func (m *Store) EventDays(ctx context.Context, userID string) ([]time.Time, error) {
	if err := m.record("EventDays", userID); err != nil {
		return nil, err
	}
	return m.backing.EventDays(ctx, userID)
}

// ActiveUsers implements [learning.EventLog].
func (m *Store) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	if err := m.record("ActiveUsers", since); err != nil {
		return nil, err
	}
	return m.backing.ActiveUsers(ctx, since)
}

// ─────────────────────────────────────────────────────────────────────────────
// SnapshotStore and ActivityStore
// ─────────────────────────────────────────────────────────────────────────────

// UpsertSnapshot implements [learning.SnapshotStore].
func (m *Store) UpsertSnapshot(ctx context.Context, s learning.ProgressSnapshot) (*learning.ProgressSnapshot, error) {
	if err := m.record("UpsertSnapshot", s); err != nil {
		return nil, err
	}
	return m.backing.UpsertSnapshot(ctx, s)
}

// GetSnapshot implements [learning.SnapshotStore].
func (m *Store) GetSnapshot(ctx context.Context, userID string, weekStart time.Time) (*learning.ProgressSnapshot, error) {
	if err := m.record("GetSnapshot", userID, weekStart); err != nil {
		return nil, err
	}
	return m.backing.GetSnapshot(ctx, userID, weekStart)
}

// ListSnapshots implements [learning.SnapshotStore].
func (m *Store) ListSnapshots(ctx context.Context, userID string, since time.Time) ([]learning.ProgressSnapshot, error) {
	if err := m.record("ListSnapshots", userID, since); err != nil {
		return nil, err
	}
	return m.backing.ListSnapshots(ctx, userID, since)
}

// AddWordsWritten implements [learning.ActivityStore].
func (m *Store) AddWordsWritten(ctx context.Context, userID string, day time.Time, words int) error {
	if err := m.record("AddWordsWritten", userID, day, words); err != nil {
		return err
	}
	return m.backing.AddWordsWritten(ctx, userID, day, words)
}

// WordsWritten implements [learning.ActivityStore].
func (m *Store) WordsWritten(ctx context.Context, userID string, since, until time.Time) (int, error) {
	if err := m.record("WordsWritten", userID, since, until); err != nil {
		return 0, err
	}
	return m.backing.WordsWritten(ctx, userID, since, until)
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// EraseUser implements [learning.Store].
func (m *Store) EraseUser(ctx context.Context, userID string) (bool, error) {
	if err := m.record("EraseUser", userID); err != nil {
		return false, err
	}
	return m.backing.EraseUser(ctx, userID)
}

// PurgeBefore implements [learning.Store].
func (m *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (learning.PurgeResult, error) {
	if err := m.record("PurgeBefore", cutoff); err != nil {
		return learning.PurgeResult{}, err
	}
	return m.backing.PurgeBefore(ctx, cutoff)
}

// Ping implements [learning.Store].
func (m *Store) Ping(ctx context.Context) error {
	if err := m.record("Ping"); err != nil {
		return err
	}
	return m.backing.Ping(ctx)
}
