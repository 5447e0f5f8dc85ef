package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestDetailErrorUnwrapsToKind(t *testing.T) {
	err := InsufficientStock(3, 10, 2, 4, 9)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, "insufficient stock: item 3: quantity: available 4, requested 9", err.Error())
}

func TestWithItemStampsOnlyUnsetDetails(t *testing.T) {
	err := WithItem(Invalid("quantity", "must be positive"), 2)
	var detail *DetailError
	require.ErrorAs(t, err, &detail)
	require.Equal(t, 2, detail.Item)

	again := WithItem(err, 5)
	require.ErrorAs(t, again, &detail)
	require.Equal(t, 2, detail.Item)

	plain := errors.New("boom")
	require.Equal(t, plain, WithItem(plain, 1))
}

func TestTranslateDBError(t *testing.T) {
	require.NoError(t, TranslateDBError(nil))
	for _, code := range []string{"40001", "40P01"} {
		err := TranslateDBError(fmt.Errorf("commit: %w", &pgconn.PgError{Code: code, Message: "could not serialize"}))
		require.ErrorIs(t, err, ErrConcurrencyConflict)
	}
	other := &pgconn.PgError{Code: "23505"}
	require.Equal(t, error(other), TranslateDBError(other))
}

func TestUserSafeMessage(t *testing.T) {
	require.Equal(t, "internal error", UserSafeMessage(errors.New("dial tcp: refused")))
	require.Equal(t, "not found", UserSafeMessage(ErrNotFound))
	require.Contains(t, UserSafeMessage(Invalid("date", "bad format")), "date")
}
