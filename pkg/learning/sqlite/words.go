package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MrWong99/wordwise/pkg/learning"
)

// ─────────────────────────────────────────────────────────────────────────────
// Confusion pairs
// ─────────────────────────────────────────────────────────────────────────────

const pairColumns = `id, user_id, word_a, word_b, confusion_count, last_confused_at`

type pairRow struct {
	ID             int64  `db:"id"`
	UserID         string `db:"user_id"`
	WordA          string `db:"word_a"`
	WordB          string `db:"word_b"`
	ConfusionCount int    `db:"confusion_count"`
	LastConfusedAt string `db:"last_confused_at"`
}

func (r pairRow) toPair() (learning.ConfusionPair, error) {
	at, err := parseTime(r.LastConfusedAt)
	if err != nil {
		return learning.ConfusionPair{}, err
	}
	return learning.ConfusionPair{
		ID:             r.ID,
		UserID:         r.UserID,
		WordA:          r.WordA,
		WordB:          r.WordB,
		ConfusionCount: r.ConfusionCount,
		LastConfusedAt: at,
	}, nil
}

// UpsertConfusionPair implements [learning.ConfusionStore].
func (s *Store) UpsertConfusionPair(ctx context.Context, userID, a, b string, at time.Time) (*learning.ConfusionPair, error) {
	return upsertConfusionPair(ctx, s.db, userID, a, b, at)
}

func upsertConfusionPair(ctx context.Context, q sqlx.ExtContext, userID, a, b string, at time.Time) (*learning.ConfusionPair, error) {
	wa, wb := learning.CanonicalPair(a, b)
	if wa == "" || wb == "" || wa == wb {
		return nil, learning.Validationf("confusion pair needs two distinct words, got %q and %q", a, b)
	}
	if err := ensureUser(ctx, q, userID); err != nil {
		return nil, err
	}

	const query = `
		INSERT INTO confusion_pairs (user_id, word_a, word_b, last_confused_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, word_a, word_b) DO UPDATE
		SET confusion_count  = confusion_pairs.confusion_count + 1,
		    last_confused_at = max(confusion_pairs.last_confused_at, excluded.last_confused_at)
		RETURNING ` + pairColumns

	var row pairRow
	if err := sqlx.GetContext(ctx, q, &row, query, userID, wa, wb, formatTime(at)); err != nil {
		return nil, wrap("confusions.upsert", userID, err)
	}
	p, err := row.toPair()
	if err != nil {
		return nil, wrap("confusions.upsert", userID, err)
	}
	return &p, nil
}

// GetConfusionPair implements [learning.ConfusionStore].
func (s *Store) GetConfusionPair(ctx context.Context, userID, a, b string) (*learning.ConfusionPair, error) {
	wa, wb := learning.CanonicalPair(a, b)
	const query = `SELECT ` + pairColumns + `
		FROM confusion_pairs
		WHERE user_id = ? AND word_a = ? AND word_b = ?`

	var row pairRow
	if err := s.db.GetContext(ctx, &row, query, userID, wa, wb); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("confusions.get", userID, err)
	}
	p, err := row.toPair()
	if err != nil {
		return nil, wrap("confusions.get", userID, err)
	}
	return &p, nil
}

// ListConfusionPairs implements [learning.ConfusionStore].
func (s *Store) ListConfusionPairs(ctx context.Context, userID string, limit int) ([]learning.ConfusionPair, error) {
	const query = `SELECT ` + pairColumns + `
		FROM confusion_pairs
		WHERE user_id = ?
		ORDER BY confusion_count DESC, last_confused_at DESC, id ASC
		LIMIT ?`

	var rows []pairRow
	if err := s.db.SelectContext(ctx, &rows, query, userID, limitArg(limit)); err != nil {
		return nil, wrap("confusions.list", userID, err)
	}
	out := make([]learning.ConfusionPair, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPair()
		if err != nil {
			return nil, wrap("confusions.list", userID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Dictionary
// ─────────────────────────────────────────────────────────────────────────────

const dictionaryColumns = `id, user_id, word, source, added_at`

type entryRow struct {
	ID      int64  `db:"id"`
	UserID  string `db:"user_id"`
	Word    string `db:"word"`
	Source  string `db:"source"`
	AddedAt string `db:"added_at"`
}

func (r entryRow) toEntry() (learning.DictionaryEntry, error) {
	at, err := parseTime(r.AddedAt)
	if err != nil {
		return learning.DictionaryEntry{}, err
	}
	return learning.DictionaryEntry{
		ID:      r.ID,
		UserID:  r.UserID,
		Word:    r.Word,
		Source:  learning.DictionarySource(r.Source),
		AddedAt: at,
	}, nil
}

// AddWord implements [learning.DictionaryStore].
func (s *Store) AddWord(ctx context.Context, userID, word string, source learning.DictionarySource, at time.Time) (*learning.DictionaryEntry, error) {
	w := learning.NormalizeWord(word)
	if w == "" {
		return nil, learning.Validationf("dictionary word must not be empty")
	}
	if source == "" {
		source = learning.DictionaryManual
	}
	if err := ensureUser(ctx, s.db, userID); err != nil {
		return nil, err
	}

	const query = `
		INSERT INTO dictionary_entries (user_id, word, source, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, word) DO UPDATE SET word = dictionary_entries.word
		RETURNING ` + dictionaryColumns

	var row entryRow
	if err := s.db.GetContext(ctx, &row, query, userID, w, string(source), formatTime(at)); err != nil {
		return nil, wrap("dictionary.add", userID, err)
	}
	e, err := row.toEntry()
	if err != nil {
		return nil, wrap("dictionary.add", userID, err)
	}
	return &e, nil
}

// HasWord implements [learning.DictionaryStore].
func (s *Store) HasWord(ctx context.Context, userID, word string) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok,
		`SELECT EXISTS (SELECT 1 FROM dictionary_entries WHERE user_id = ? AND word = ?)`,
		userID, learning.NormalizeWord(word))
	if err != nil {
		return false, wrap("dictionary.has", userID, err)
	}
	return ok, nil
}

// RemoveWord implements [learning.DictionaryStore].
func (s *Store) RemoveWord(ctx context.Context, userID, word string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dictionary_entries WHERE user_id = ? AND word = ?`,
		userID, learning.NormalizeWord(word))
	if err != nil {
		return false, wrap("dictionary.remove", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("dictionary.remove", userID, err)
	}
	return n > 0, nil
}

// ListWords implements [learning.DictionaryStore].
func (s *Store) ListWords(ctx context.Context, userID string) ([]learning.DictionaryEntry, error) {
	const query = `SELECT ` + dictionaryColumns + `
		FROM dictionary_entries
		WHERE user_id = ?
		ORDER BY word`

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, wrap("dictionary.list", userID, err)
	}
	out := make([]learning.DictionaryEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEntry()
		if err != nil {
			return nil, wrap("dictionary.list", userID, err)
		}
		out = append(out, e)
	}
	return out, nil
}
