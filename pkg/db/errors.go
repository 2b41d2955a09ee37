package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

const (
	pgUniqueViolation    = "23505"
	pgSerializationError = "40001"
	pgDeadlockDetected   = "40P01"
)

// IsUniqueViolation reports whether err is a unique constraint failure. When
// names are given only a matching constraint (or index) counts. Postgres
// reports the index name while SQLite, used by the test suite, reports
// "table.column", so callers that run on both pass both forms.
func IsUniqueViolation(err error, names ...string) bool {
	if err == nil {
		return false
	}
	if pg, ok := pkgerrors.PostgresError(err); ok {
		return pg.Code == pgUniqueViolation && matchesAny(names, func(name string) bool { return pg.Constraint == name })
	}

	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return matchesAny(names, func(name string) bool { return strings.Contains(msg, name) })
}

// matchesAny is true when no non-empty name is given or one of them matches.
func matchesAny(names []string, match func(string) bool) bool {
	wanted := false
	for _, name := range names {
		if name == "" {
			continue
		}
		wanted = true
		if match(name) {
			return true
		}
	}
	return !wanted
}

// IsRetryableTx reports whether a transaction aborted only because of
// concurrent writers and can be replayed as is.
func IsRetryableTx(err error) bool {
	pg, ok := pkgerrors.PostgresError(err)
	if !ok {
		return false
	}
	return pg.Code == pgSerializationError || pg.Code == pgDeadlockDetected
}
