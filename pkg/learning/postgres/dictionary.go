package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/wordwise/pkg/learning"
)

const dictionaryColumns = `id, user_id, word, source, added_at`

// AddWord implements [learning.DictionaryStore]. The no-op DO UPDATE makes the
// statement return the existing row on conflict.
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
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, word) DO UPDATE SET word = dictionary_entries.word
		RETURNING ` + dictionaryColumns

	e, err := scanEntry(s.db.QueryRow(ctx, query, userID, w, string(source), at.UTC()))
	if err != nil {
		return nil, wrap("dictionary.add", userID, err)
	}
	return e, nil
}

// HasWord implements [learning.DictionaryStore].
func (s *Store) HasWord(ctx context.Context, userID, word string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM dictionary_entries WHERE user_id = $1 AND word = $2)`
	var ok bool
	if err := s.db.QueryRow(ctx, query, userID, learning.NormalizeWord(word)).Scan(&ok); err != nil {
		return false, wrap("dictionary.has", userID, err)
	}
	return ok, nil
}

// RemoveWord implements [learning.DictionaryStore].
func (s *Store) RemoveWord(ctx context.Context, userID, word string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM dictionary_entries WHERE user_id = $1 AND word = $2`,
		userID, learning.NormalizeWord(word))
	if err != nil {
		return false, wrap("dictionary.remove", userID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListWords implements [learning.DictionaryStore].
func (s *Store) ListWords(ctx context.Context, userID string) ([]learning.DictionaryEntry, error) {
	const query = `SELECT ` + dictionaryColumns + `
		FROM dictionary_entries
		WHERE user_id = $1
		ORDER BY word COLLATE "C"`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, wrap("dictionary.list", userID, err)
	}
	defer rows.Close()

	out := []learning.DictionaryEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrap("dictionary.list", userID, err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("dictionary.list", userID, err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (*learning.DictionaryEntry, error) {
	var (
		e      learning.DictionaryEntry
		source string
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Word, &source, &e.AddedAt); err != nil {
		return nil, err
	}
	e.Source = learning.DictionarySource(source)
	e.AddedAt = e.AddedAt.UTC()
	return &e, nil
}
