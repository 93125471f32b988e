package shared

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict indicates the database could not grant a row
	// lock in time or aborted the transaction to resolve contention.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
)

// lock_not_available, serialization_failure, deadlock_detected
var conflictCodes = map[string]struct{}{
	"55P03": {},
	"40001": {},
	"40P01": {},
}

// MapConflict translates Postgres contention failures into
// ErrConcurrencyConflict so callers never have to parse SQLSTATEs.
func MapConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := conflictCodes[pgErr.Code]; ok {
			return errors.Join(ErrConcurrencyConflict, err)
		}
	}
	return err
}
