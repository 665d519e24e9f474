package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/MrWong99/wordwise/pkg/learning"
)

const patternColumns = `id, user_id, misspelling, correction, error_type, frequency,
	improving, language_code, first_seen, last_seen`

type patternRow struct {
	ID           int64  `db:"id"`
	UserID       string `db:"user_id"`
	Misspelling  string `db:"misspelling"`
	Correction   string `db:"correction"`
	ErrorType    string `db:"error_type"`
	Frequency    int    `db:"frequency"`
	Improving    bool   `db:"improving"`
	LanguageCode string `db:"language_code"`
	FirstSeen    string `db:"first_seen"`
	LastSeen     string `db:"last_seen"`
}

func (r patternRow) toPattern() (learning.ErrorPattern, error) {
	first, err := parseTime(r.FirstSeen)
	if err != nil {
		return learning.ErrorPattern{}, err
	}
	last, err := parseTime(r.LastSeen)
	if err != nil {
		return learning.ErrorPattern{}, err
	}
	return learning.ErrorPattern{
		ID:           r.ID,
		UserID:       r.UserID,
		Misspelling:  r.Misspelling,
		Correction:   r.Correction,
		ErrorType:    learning.ErrorType(r.ErrorType),
		Frequency:    r.Frequency,
		Improving:    r.Improving,
		LanguageCode: r.LanguageCode,
		FirstSeen:    first,
		LastSeen:     last,
	}, nil
}

// UpsertPattern implements [learning.PatternStore].
func (s *Store) UpsertPattern(ctx context.Context, occ learning.PatternOccurrence) (*learning.ErrorPattern, error) {
	return upsertPattern(ctx, s.db, occ)
}

func upsertPattern(ctx context.Context, q sqlx.ExtContext, occ learning.PatternOccurrence) (*learning.ErrorPattern, error) {
	if err := ensureUser(ctx, q, occ.UserID); err != nil {
		return nil, err
	}
	mkey, ckey := learning.PatternKey(occ.Misspelling, occ.Correction)
	lang := occ.LanguageCode
	if lang == "" {
		lang = "en"
	}
	seen := formatTime(occ.SeenAt)

	const query = `
		INSERT INTO error_patterns (
			user_id, misspelling, correction, misspelling_key, correction_key,
			error_type, language_code, first_seen, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, misspelling_key, correction_key) DO UPDATE
		SET frequency = error_patterns.frequency + 1,
		    last_seen = max(error_patterns.last_seen, excluded.last_seen)
		RETURNING ` + patternColumns

	var row patternRow
	err := sqlx.GetContext(ctx, q, &row, query,
		occ.UserID, strings.TrimSpace(occ.Misspelling), strings.TrimSpace(occ.Correction), mkey, ckey,
		string(occ.ErrorType), lang, seen, seen,
	)
	if err != nil {
		return nil, wrap("patterns.upsert", occ.UserID, err)
	}
	return patternOrErr("patterns.upsert", row)
}

// GetPattern implements [learning.PatternStore].
func (s *Store) GetPattern(ctx context.Context, userID, misspelling, correction string) (*learning.ErrorPattern, error) {
	mkey, ckey := learning.PatternKey(misspelling, correction)
	const query = `SELECT ` + patternColumns + `
		FROM error_patterns
		WHERE user_id = ? AND misspelling_key = ? AND correction_key = ?`

	var row patternRow
	if err := s.db.GetContext(ctx, &row, query, userID, mkey, ckey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("patterns.get", userID, err)
	}
	return patternOrErr("patterns.get", row)
}

// ListPatterns implements [learning.PatternStore].
func (s *Store) ListPatterns(ctx context.Context, userID string) ([]learning.ErrorPattern, error) {
	return s.TopPatterns(ctx, userID, 0)
}

// TopPatterns implements [learning.PatternStore].
func (s *Store) TopPatterns(ctx context.Context, userID string, limit int) ([]learning.ErrorPattern, error) {
	const query = `SELECT ` + patternColumns + `
		FROM error_patterns
		WHERE user_id = ?
		ORDER BY frequency DESC, last_seen DESC, id ASC
		LIMIT ?`

	var rows []patternRow
	if err := s.db.SelectContext(ctx, &rows, query, userID, limitArg(limit)); err != nil {
		return nil, wrap("patterns.list", userID, err)
	}
	out := make([]learning.ErrorPattern, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPattern()
		if err != nil {
			return nil, wrap("patterns.list", userID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// UpdatePattern implements [learning.PatternStore].
func (s *Store) UpdatePattern(ctx context.Context, userID string, id int64, patch learning.PatternPatch) (*learning.ErrorPattern, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	var errorType, lang, improving any
	if patch.ErrorType != nil {
		errorType = string(*patch.ErrorType)
	}
	if patch.LanguageCode != nil {
		lang = strings.TrimSpace(*patch.LanguageCode)
	}
	if patch.Improving != nil {
		improving = *patch.Improving
	}

	const query = `
		UPDATE error_patterns SET
			error_type    = COALESCE(?, error_type),
			improving     = COALESCE(?, improving),
			language_code = COALESCE(?, language_code)
		WHERE user_id = ? AND id = ?
		RETURNING ` + patternColumns

	var row patternRow
	if err := s.db.GetContext(ctx, &row, query, errorType, improving, lang, userID, id); err != nil {
		return nil, wrap("patterns.update", userID, err)
	}
	return patternOrErr("patterns.update", row)
}

// SetImprovingTypes implements [learning.PatternStore].
func (s *Store) SetImprovingTypes(ctx context.Context, userID string, types []learning.ErrorType) (int64, error) {
	var (
		query string
		args  []any
	)
	if len(types) == 0 {
		query = `UPDATE error_patterns SET improving = 0 WHERE user_id = ? AND improving <> 0`
		args = []any{userID}
	} else {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		var err error
		query, args, err = sqlx.In(`
			UPDATE error_patterns
			SET improving = (error_type IN (?))
			WHERE user_id = ? AND improving <> (error_type IN (?))`,
			names, userID, names)
		if err != nil {
			return 0, wrap("patterns.set_improving", userID, err)
		}
		query = s.db.Rebind(query)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrap("patterns.set_improving", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("patterns.set_improving", userID, err)
	}
	return n, nil
}

func patternOrErr(op string, row patternRow) (*learning.ErrorPattern, error) {
	p, err := row.toPattern()
	if err != nil {
		return nil, wrap(op, row.UserID, err)
	}
	return &p, nil
}
