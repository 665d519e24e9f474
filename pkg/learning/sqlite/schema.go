// Package sqlite provides an embedded [learning.Store] on top of SQLite for
// single-node deployments and local development.
//
// It uses the pure-Go modernc.org/sqlite driver through sqlx. Timestamps are
// stored as fixed-width UTC text so that lexical and chronological order
// agree; calendar days and week starts are stored as YYYY-MM-DD.
//
// Usage:
//
//	store, err := sqlite.Open(ctx, "file:wordwise.db")
//	if err != nil { … }
//	defer store.Close()
package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL
// ─────────────────────────────────────────────────────────────────────────────

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS error_patterns (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id         TEXT    NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		misspelling     TEXT    NOT NULL,
		correction      TEXT    NOT NULL,
		misspelling_key TEXT    NOT NULL,
		correction_key  TEXT    NOT NULL,
		error_type      TEXT    NOT NULL,
		frequency       INTEGER NOT NULL DEFAULT 1 CHECK (frequency >= 1),
		improving       INTEGER NOT NULL DEFAULT 0,
		language_code   TEXT    NOT NULL DEFAULT 'en',
		first_seen      TEXT    NOT NULL,
		last_seen       TEXT    NOT NULL,
		UNIQUE (user_id, misspelling_key, correction_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_error_patterns_user_freq
		ON error_patterns (user_id, frequency DESC, last_seen DESC)`,
	`CREATE TABLE IF NOT EXISTS confusion_pairs (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id          TEXT    NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		word_a           TEXT    NOT NULL,
		word_b           TEXT    NOT NULL,
		confusion_count  INTEGER NOT NULL DEFAULT 1 CHECK (confusion_count >= 1),
		last_confused_at TEXT    NOT NULL,
		UNIQUE (user_id, word_a, word_b),
		CHECK (word_a < word_b)
	)`,
	`CREATE TABLE IF NOT EXISTS dictionary_entries (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id  TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		word     TEXT NOT NULL,
		source   TEXT NOT NULL DEFAULT 'manual',
		added_at TEXT NOT NULL,
		UNIQUE (user_id, word)
	)`,
	`CREATE TABLE IF NOT EXISTS error_events (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		original_text  TEXT NOT NULL,
		corrected_text TEXT NOT NULL,
		error_type     TEXT NOT NULL,
		context        TEXT,
		confidence     REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
		source         TEXT NOT NULL,
		created_at     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_error_events_user_created
		ON error_events (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS progress_snapshots (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id               TEXT    NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		week_start            TEXT    NOT NULL,
		total_words_written   INTEGER NOT NULL DEFAULT 0,
		total_corrections     INTEGER NOT NULL DEFAULT 0,
		accuracy_score        REAL    NOT NULL DEFAULT 0,
		error_type_breakdown  TEXT    NOT NULL DEFAULT '{}',
		top_errors            TEXT    NOT NULL DEFAULT '[]',
		patterns_mastered     INTEGER NOT NULL DEFAULT 0,
		new_patterns_detected INTEGER NOT NULL DEFAULT 0,
		updated_at            TEXT    NOT NULL,
		UNIQUE (user_id, week_start)
	)`,
	`CREATE TABLE IF NOT EXISTS writing_activity (
		user_id TEXT    NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		day     TEXT    NOT NULL,
		words   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, day)
	)`,
}

// Migrate creates all tables and indexes if they do not already exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}
