package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/wordwise/pkg/learning"
)

// beginner is implemented by *pgxpool.Pool and *pgx.Conn.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LogCorrection implements [learning.Store]. The three writes share one
// transaction when the underlying DB can begin one; a [DB] passed to [New]
// without a Begin method runs them in sequence.
func (s *Store) LogCorrection(ctx context.Context, c learning.Correction) (*learning.CorrectionResult, error) {
	b, ok := s.db.(beginner)
	if !ok {
		return logCorrection(ctx, s.db, c)
	}

	var (
		out      *learning.CorrectionResult
		writeErr error
	)
	err := pgx.BeginFunc(ctx, b, func(tx pgx.Tx) error {
		out, writeErr = logCorrection(ctx, tx, c)
		return writeErr
	})
	switch {
	case writeErr != nil:
		return nil, writeErr
	case err != nil:
		return nil, wrap("corrections.tx", c.Event.UserID, err)
	}
	return out, nil
}

func logCorrection(ctx context.Context, db DB, c learning.Correction) (*learning.CorrectionResult, error) {
	if err := appendEvent(ctx, db, c.Event); err != nil {
		return nil, err
	}
	p, err := upsertPattern(ctx, db, c.Pattern)
	if err != nil {
		return nil, err
	}
	out := &learning.CorrectionResult{Pattern: p}
	if c.Pair != nil {
		if out.Pair, err = upsertConfusionPair(ctx, db, c.Pattern.UserID, c.Pair[0], c.Pair[1], c.Pattern.SeenAt); err != nil {
			return nil, err
		}
	}
	return out, nil
}
