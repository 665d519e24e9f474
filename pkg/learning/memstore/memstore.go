// Package memstore provides an in-memory implementation of [learning.Store].
//
// It mirrors the semantics of the relational stores (case-insensitive pattern
// keys, canonical confusion pairs, idempotent dictionary inserts, cascade
// erasure) and is used by the "memory" store driver and by unit tests. All
// methods are safe for concurrent use.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/wordwise/pkg/learning"
)

var _ learning.Store = (*Store)(nil)

type patternKey struct{ user, misspelling, correction string }

type pairKey struct{ user, a, b string }

type dictKey struct{ user, word string }

type snapshotKey struct {
	user string
	week int64
}

type activityKey struct {
	user string
	day  int64
}

// Store is a mutex-guarded in-memory [learning.Store].
type Store struct {
	mu sync.Mutex

	nextID int64

	users      map[string]struct{}
	patterns   map[patternKey]*learning.ErrorPattern
	pairs      map[pairKey]*learning.ConfusionPair
	dictionary map[dictKey]*learning.DictionaryEntry
	events     []learning.ErrorEvent
	snapshots  map[snapshotKey]*learning.ProgressSnapshot
	activity   map[activityKey]int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:      make(map[string]struct{}),
		patterns:   make(map[patternKey]*learning.ErrorPattern),
		pairs:      make(map[pairKey]*learning.ConfusionPair),
		dictionary: make(map[dictKey]*learning.DictionaryEntry),
		snapshots:  make(map[snapshotKey]*learning.ProgressSnapshot),
		activity:   make(map[activityKey]int),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) touchUser(userID string) {
	s.users[userID] = struct{}{}
}

// ─── Patterns ────────────────────────────────────────────────────────────────

// UpsertPattern implements [learning.PatternStore].
func (s *Store) UpsertPattern(_ context.Context, occ learning.PatternOccurrence) (*learning.ErrorPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertPattern(occ), nil
}

func (s *Store) upsertPattern(occ learning.PatternOccurrence) *learning.ErrorPattern {
	s.touchUser(occ.UserID)
	m, c := learning.PatternKey(occ.Misspelling, occ.Correction)
	key := patternKey{occ.UserID, m, c}
	if p, ok := s.patterns[key]; ok {
		p.Frequency++
		if occ.SeenAt.After(p.LastSeen) {
			p.LastSeen = occ.SeenAt.UTC()
		}
		out := *p
		return &out
	}
	p := &learning.ErrorPattern{
		ID:           s.id(),
		UserID:       occ.UserID,
		Misspelling:  strings.TrimSpace(occ.Misspelling),
		Correction:   strings.TrimSpace(occ.Correction),
		ErrorType:    occ.ErrorType,
		Frequency:    1,
		LanguageCode: occ.LanguageCode,
		FirstSeen:    occ.SeenAt.UTC(),
		LastSeen:     occ.SeenAt.UTC(),
	}
	s.patterns[key] = p
	out := *p
	return &out
}

// GetPattern implements [learning.PatternStore].
func (s *Store) GetPattern(_ context.Context, userID, misspelling, correction string) (*learning.ErrorPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, c := learning.PatternKey(misspelling, correction)
	p, ok := s.patterns[patternKey{userID, m, c}]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

// ListPatterns implements [learning.PatternStore].
func (s *Store) ListPatterns(_ context.Context, userID string) ([]learning.ErrorPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedPatterns(userID), nil
}

// TopPatterns implements [learning.PatternStore].
func (s *Store) TopPatterns(_ context.Context, userID string, limit int) ([]learning.ErrorPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.sortedPatterns(userID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) sortedPatterns(userID string) []learning.ErrorPattern {
	out := []learning.ErrorPattern{}
	for k, p := range s.patterns {
		if k.user == userID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b learning.ErrorPattern) int {
		if c := cmp.Compare(b.Frequency, a.Frequency); c != 0 {
			return c
		}
		if c := b.LastSeen.Compare(a.LastSeen); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// UpdatePattern implements [learning.PatternStore].
func (s *Store) UpdatePattern(_ context.Context, userID string, id int64, patch learning.PatternPatch) (*learning.ErrorPattern, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, p := range s.patterns {
		if k.user == userID && p.ID == id {
			patch.Apply(p)
			out := *p
			return &out, nil
		}
	}
	return nil, learning.ErrNotFound
}

// SetImprovingTypes implements [learning.PatternStore].
func (s *Store) SetImprovingTypes(_ context.Context, userID string, types []learning.ErrorType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for k, p := range s.patterns {
		if k.user != userID {
			continue
		}
		want := slices.Contains(types, p.ErrorType)
		if p.Improving != want {
			p.Improving = want
			changed++
		}
	}
	return changed, nil
}

// ─── Confusion pairs ─────────────────────────────────────────────────────────

// UpsertConfusionPair implements [learning.ConfusionStore].
func (s *Store) UpsertConfusionPair(_ context.Context, userID, a, b string, at time.Time) (*learning.ConfusionPair, error) {
	wa, wb, err := canonicalPair(a, b)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertPair(userID, wa, wb, at), nil
}

func canonicalPair(a, b string) (string, string, error) {
	wa, wb := learning.CanonicalPair(a, b)
	if wa == "" || wb == "" || wa == wb {
		return "", "", learning.Validationf("confusion pair needs two distinct words, got %q and %q", a, b)
	}
	return wa, wb, nil
}

func (s *Store) upsertPair(userID, wa, wb string, at time.Time) *learning.ConfusionPair {
	s.touchUser(userID)
	key := pairKey{userID, wa, wb}
	if p, ok := s.pairs[key]; ok {
		p.ConfusionCount++
		if at.After(p.LastConfusedAt) {
			p.LastConfusedAt = at.UTC()
		}
		out := *p
		return &out
	}
	p := &learning.ConfusionPair{
		ID:             s.id(),
		UserID:         userID,
		WordA:          wa,
		WordB:          wb,
		ConfusionCount: 1,
		LastConfusedAt: at.UTC(),
	}
	s.pairs[key] = p
	out := *p
	return &out
}

// GetConfusionPair implements [learning.ConfusionStore].
func (s *Store) GetConfusionPair(_ context.Context, userID, a, b string) (*learning.ConfusionPair, error) {
	wa, wb := learning.CanonicalPair(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pairs[pairKey{userID, wa, wb}]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

// ListConfusionPairs implements [learning.ConfusionStore].
func (s *Store) ListConfusionPairs(_ context.Context, userID string, limit int) ([]learning.ConfusionPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []learning.ConfusionPair{}
	for k, p := range s.pairs {
		if k.user == userID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b learning.ConfusionPair) int {
		if c := cmp.Compare(b.ConfusionCount, a.ConfusionCount); c != 0 {
			return c
		}
		if c := b.LastConfusedAt.Compare(a.LastConfusedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ─── Dictionary ──────────────────────────────────────────────────────────────

// AddWord implements [learning.DictionaryStore].
func (s *Store) AddWord(_ context.Context, userID, word string, source learning.DictionarySource, at time.Time) (*learning.DictionaryEntry, error) {
	w := learning.NormalizeWord(word)
	if w == "" {
		return nil, learning.Validationf("dictionary word must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchUser(userID)
	key := dictKey{userID, w}
	if e, ok := s.dictionary[key]; ok {
		out := *e
		return &out, nil
	}
	e := &learning.DictionaryEntry{ID: s.id(), UserID: userID, Word: w, Source: source, AddedAt: at.UTC()}
	s.dictionary[key] = e
	out := *e
	return &out, nil
}

// HasWord implements [learning.DictionaryStore].
func (s *Store) HasWord(_ context.Context, userID, word string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dictionary[dictKey{userID, learning.NormalizeWord(word)}]
	return ok, nil
}

// RemoveWord implements [learning.DictionaryStore].
func (s *Store) RemoveWord(_ context.Context, userID, word string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dictKey{userID, learning.NormalizeWord(word)}
	if _, ok := s.dictionary[key]; !ok {
		return false, nil
	}
	delete(s.dictionary, key)
	return true, nil
}

// ListWords implements [learning.DictionaryStore].
func (s *Store) ListWords(_ context.Context, userID string) ([]learning.DictionaryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []learning.DictionaryEntry{}
	for k, e := range s.dictionary {
		if k.user == userID {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b learning.DictionaryEntry) int { return strings.Compare(a.Word, b.Word) })
	return out, nil
}

// ─── Events ──────────────────────────────────────────────────────────────────

// AppendEvent implements [learning.EventLog].
func (s *Store) AppendEvent(_ context.Context, e learning.ErrorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEventID(e); err != nil {
		return err
	}
	s.appendEvent(e)
	return nil
}

func (s *Store) checkEventID(e learning.ErrorEvent) error {
	for _, existing := range s.events {
		if existing.ID == e.ID {
			return learning.NewStoreError("events.append", e.UserID, learning.ErrDuplicate, learning.ErrDuplicate)
		}
	}
	return nil
}

func (s *Store) appendEvent(e learning.ErrorEvent) {
	s.touchUser(e.UserID)
	e.CreatedAt = e.CreatedAt.UTC()
	s.events = append(s.events, e)
}

// ─── Corrections ─────────────────────────────────────────────────────────────

// LogCorrection implements [learning.Store]. Every check runs before the
// first write, under one lock.
func (s *Store) LogCorrection(_ context.Context, c learning.Correction) (*learning.CorrectionResult, error) {
	var wa, wb string
	if c.Pair != nil {
		var err error
		if wa, wb, err = canonicalPair(c.Pair[0], c.Pair[1]); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEventID(c.Event); err != nil {
		return nil, err
	}
	s.appendEvent(c.Event)
	out := &learning.CorrectionResult{Pattern: s.upsertPattern(c.Pattern)}
	if c.Pair != nil {
		out.Pair = s.upsertPair(c.Pattern.UserID, wa, wb, c.Pattern.SeenAt)
	}
	return out, nil
}

// ListEvents implements [learning.EventLog].
func (s *Store) ListEvents(_ context.Context, userID string, since, until time.Time) ([]learning.ErrorEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []learning.ErrorEvent{}
	for _, e := range s.events {
		if e.UserID != userID || e.CreatedAt.Before(since) {
			continue
		}
		if !until.IsZero() && !e.CreatedAt.Before(until) {
			continue
		}
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b learning.ErrorEvent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// CountEvents implements [learning.EventLog].
func (s *Store) CountEvents(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.events {
		if e.UserID == userID {
			n++
		}
	}
	return n, nil
}

// EventDays implements [learning.EventLog].
func (s *Store) EventDays(_ context.Context, userID string) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]struct{})
	out := []time.Time{}
	for _, e := range s.events {
		if e.UserID != userID {
			continue
		}
		d := learning.Day(e.CreatedAt)
		if _, ok := seen[d.Unix()]; ok {
			continue
		}
		seen[d.Unix()] = struct{}{}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b time.Time) int { return b.Compare(a) })
	return out, nil
}

// ActiveUsers implements [learning.EventLog].
func (s *Store) ActiveUsers(_ context.Context, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, e := range s.events {
		if !e.CreatedAt.Before(since) {
			seen[e.UserID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	slices.Sort(out)
	return out, nil
}

// ─── Snapshots ───────────────────────────────────────────────────────────────

// UpsertSnapshot implements [learning.SnapshotStore].
func (s *Store) UpsertSnapshot(_ context.Context, snap learning.ProgressSnapshot) (*learning.ProgressSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchUser(snap.UserID)
	snap.WeekStart = learning.WeekStart(snap.WeekStart)
	key := snapshotKey{snap.UserID, snap.WeekStart.Unix()}
	if existing, ok := s.snapshots[key]; ok {
		snap.ID = existing.ID
	} else {
		snap.ID = s.id()
	}
	stored := snap
	s.snapshots[key] = &stored
	return &snap, nil
}

// GetSnapshot implements [learning.SnapshotStore].
func (s *Store) GetSnapshot(_ context.Context, userID string, weekStart time.Time) (*learning.ProgressSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[snapshotKey{userID, learning.WeekStart(weekStart).Unix()}]
	if !ok {
		return nil, nil
	}
	out := *snap
	return &out, nil
}

// ListSnapshots implements [learning.SnapshotStore].
func (s *Store) ListSnapshots(_ context.Context, userID string, since time.Time) ([]learning.ProgressSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []learning.ProgressSnapshot{}
	for k, snap := range s.snapshots {
		if k.user == userID && !snap.WeekStart.Before(since) {
			out = append(out, *snap)
		}
	}
	slices.SortFunc(out, func(a, b learning.ProgressSnapshot) int { return a.WeekStart.Compare(b.WeekStart) })
	return out, nil
}

// ─── Activity ────────────────────────────────────────────────────────────────

// AddWordsWritten implements [learning.ActivityStore].
func (s *Store) AddWordsWritten(_ context.Context, userID string, day time.Time, words int) error {
	if words <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchUser(userID)
	s.activity[activityKey{userID, learning.Day(day).Unix()}] += words
	return nil
}

// WordsWritten implements [learning.ActivityStore].
func (s *Store) WordsWritten(_ context.Context, userID string, since, until time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for k, n := range s.activity {
		if k.user != userID {
			continue
		}
		day := time.Unix(k.day, 0).UTC()
		if day.Before(since) || (!until.IsZero() && !day.Before(until)) {
			continue
		}
		total += n
	}
	return total, nil
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// EraseUser implements [learning.Store].
func (s *Store) EraseUser(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.users[userID]
	delete(s.users, userID)
	for k := range s.patterns {
		if k.user == userID {
			delete(s.patterns, k)
		}
	}
	for k := range s.pairs {
		if k.user == userID {
			delete(s.pairs, k)
		}
	}
	for k := range s.dictionary {
		if k.user == userID {
			delete(s.dictionary, k)
		}
	}
	for k := range s.snapshots {
		if k.user == userID {
			delete(s.snapshots, k)
		}
	}
	for k := range s.activity {
		if k.user == userID {
			delete(s.activity, k)
		}
	}
	s.events = slices.DeleteFunc(s.events, func(e learning.ErrorEvent) bool { return e.UserID == userID })
	return existed, nil
}

// PurgeBefore implements [learning.Store].
func (s *Store) PurgeBefore(_ context.Context, cutoff time.Time) (learning.PurgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res learning.PurgeResult
	before := len(s.events)
	s.events = slices.DeleteFunc(s.events, func(e learning.ErrorEvent) bool { return e.CreatedAt.Before(cutoff) })
	res.Events = int64(before - len(s.events))

	for k, p := range s.patterns {
		if p.LastSeen.Before(cutoff) {
			delete(s.patterns, k)
			res.Patterns++
		}
	}
	for k, p := range s.pairs {
		if p.LastConfusedAt.Before(cutoff) {
			delete(s.pairs, k)
			res.ConfusionPairs++
		}
	}
	for k, snap := range s.snapshots {
		if snap.WeekStart.Before(cutoff) {
			delete(s.snapshots, k)
			res.Snapshots++
		}
	}
	for k := range s.activity {
		if time.Unix(k.day, 0).Before(cutoff) {
			delete(s.activity, k)
			res.Activity++
		}
	}
	return res, nil
}

// Ping implements [learning.Store]. The in-memory store is always reachable.
func (s *Store) Ping(context.Context) error { return nil }
