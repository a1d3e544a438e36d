package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medrecords/pkg/types"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrConflict = errors.New("row conflicts with an existing row")

func psql() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// mapError turns driver errors into the sentinels callers branch on.
// Context errors pass through untouched.
func mapError(err error, notFound error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", msg, err)
	}

	if errors.Is(err, pgx.ErrNoRows) && notFound != nil {
		return fmt.Errorf("%s: %w", msg, notFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", msg, ErrConflict)
		case "23503": // foreign_key_violation
			if notFound != nil {
				return fmt.Errorf("%s: %w", msg, notFound)
			}
		case "23514": // check_violation
			return fmt.Errorf("%s: %w: %s", msg, types.ErrInvalidTransition, pgErr.ConstraintName)
		}
	}

	return fmt.Errorf("%s: %w", msg, err)
}

// buildUpdateClause renders "a = EXCLUDED.a, b = EXCLUDED.b" for upserts.
func buildUpdateClause(fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s = EXCLUDED.%s", f, f))
	}
	return strings.Join(parts, ", ")
}
