package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestMapConflictTranslatesContentionCodes(t *testing.T) {
	for _, code := range []string{"55P03", "40001", "40P01"} {
		err := MapConflict(fmt.Errorf("exec: %w", &pgconn.PgError{Code: code}))
		require.ErrorIs(t, err, ErrConcurrencyConflict, "code %s", code)
	}
}

func TestMapConflictPassesOtherErrorsThrough(t *testing.T) {
	require.NoError(t, MapConflict(nil))

	sentinel := errors.New("boom")
	require.ErrorIs(t, MapConflict(sentinel), sentinel)

	// Constraint violations keep their own identity.
	err := MapConflict(&pgconn.PgError{Code: "23505"})
	require.NotErrorIs(t, err, ErrConcurrencyConflict)
}
