package adjustments

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/memstore"
)

type memoryRepo struct {
	store       *memstore.Store
	adjustments map[int64]Adjustment
	nextID      int64
	nextItem    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(store *memstore.Store) *memoryRepo {
	return &memoryRepo{store: store, adjustments: make(map[int64]Adjustment)}
}

func cloneAdjustment(a Adjustment) Adjustment {
	items := make([]Item, len(a.Items))
	copy(items, a.Items)
	a.Items = items
	return a
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.RunTx(ctx, func(ctx context.Context) error {
		return fn(ctx, &memoryTx{repo: r})
	})
}

func (r *memoryRepo) Get(ctx context.Context, tenantID, id int64) (Adjustment, error) {
	var (
		a  Adjustment
		ok bool
	)
	r.store.Read(ctx, func() {
		a, ok = r.adjustments[id]
		a = cloneAdjustment(a)
	})
	if !ok || a.TenantID != tenantID {
		return Adjustment{}, shared.ErrNotFound
	}
	return a, nil
}

func (tx *memoryTx) Insert(ctx context.Context, a Adjustment) (Adjustment, error) {
	tx.repo.nextID++
	a.ID = tx.repo.nextID
	for i := range a.Items {
		tx.repo.nextItem++
		a.Items[i].ID = tx.repo.nextItem
	}
	tx.repo.adjustments[a.ID] = cloneAdjustment(a)
	id := a.ID
	memstore.OnRollback(ctx, func() { delete(tx.repo.adjustments, id) })
	return a, nil
}

func (tx *memoryTx) Lock(ctx context.Context, tenantID, id int64) (Adjustment, error) {
	a, ok := tx.repo.adjustments[id]
	if !ok || a.TenantID != tenantID {
		return Adjustment{}, shared.ErrNotFound
	}
	return cloneAdjustment(a), nil
}

func (tx *memoryTx) UpdateDecision(ctx context.Context, a Adjustment, expected Status) error {
	current, ok := tx.repo.adjustments[a.ID]
	if !ok || current.Status != expected || current.Version != a.Version {
		return shared.ErrConcurrencyConflict
	}
	updated := cloneAdjustment(a)
	updated.Items = current.Items
	updated.Version = current.Version + 1
	tx.repo.adjustments[a.ID] = updated
	memstore.OnRollback(ctx, func() { tx.repo.adjustments[a.ID] = current })
	return nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, tenantID int64, docType string, at time.Time) (string, error) {
	return tx.repo.store.NextDocumentNumber(ctx, tenantID, docType, at)
}
