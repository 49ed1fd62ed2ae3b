package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUnknownWindowType is returned when a retention query names a window
// type other than "day" or "week".
var ErrUnknownWindowType = errors.New("window type must be \"day\" or \"week\"")

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation. For the events table this means the identifier already has a
// witness: the caller must treat it as the duplicate/skip case, not as a
// transient failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
