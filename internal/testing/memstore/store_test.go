package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDocumentNumberReturnedOnRollback(t *testing.T) {
	store := New()
	ctx := context.Background()
	at := time.Date(2026, 10, 3, 0, 0, 0, 0, time.UTC)

	next := func() string {
		var number string
		require.NoError(t, store.RunTx(ctx, func(ctx context.Context) error {
			var err error
			number, err = store.NextDocumentNumber(ctx, 1, "ADJ", at)
			return err
		}))
		return number
	}

	require.Equal(t, "ADJ-2610-0001", next())
	err := store.RunTx(ctx, func(ctx context.Context) error {
		if _, err := store.NextDocumentNumber(ctx, 1, "ADJ", at); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, "ADJ-2610-0002", next())

	_, err = store.NextDocumentNumber(ctx, 1, "ADJ", at)
	require.Error(t, err)
}
