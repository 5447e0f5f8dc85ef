package transfers

import (
	"context"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/memstore"
)

type memoryRepo struct {
	store     *memstore.Store
	transfers map[int64]Transfer
	nextID    int64
	nextItem  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(store *memstore.Store) *memoryRepo {
	return &memoryRepo{store: store, transfers: make(map[int64]Transfer)}
}

func cloneTransfer(t Transfer) Transfer {
	items := make([]Item, len(t.Items))
	copy(items, t.Items)
	t.Items = items
	return t
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.RunTx(ctx, func(ctx context.Context) error {
		return fn(ctx, &memoryTx{repo: r})
	})
}

func (r *memoryRepo) Get(ctx context.Context, tenantID, id int64) (Transfer, error) {
	var (
		t  Transfer
		ok bool
	)
	r.store.Read(ctx, func() {
		t, ok = r.transfers[id]
		t = cloneTransfer(t)
	})
	if !ok || t.TenantID != tenantID {
		return Transfer{}, shared.ErrNotFound
	}
	return t, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	var all []Transfer
	r.store.Read(ctx, func() {
		for _, t := range r.transfers {
			if t.TenantID != filter.TenantID {
				continue
			}
			if filter.Status != "" && t.Status != filter.Status {
				continue
			}
			if filter.LocationID != 0 && t.FromLocationID != filter.LocationID && t.ToLocationID != filter.LocationID {
				continue
			}
			all = append(all, cloneTransfer(t))
		}
	})
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	start := (filter.Page - 1) * filter.PerPage
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (tx *memoryTx) Insert(ctx context.Context, t Transfer) (Transfer, error) {
	tx.repo.nextID++
	t.ID = tx.repo.nextID
	for i := range t.Items {
		tx.repo.nextItem++
		t.Items[i].ID = tx.repo.nextItem
	}
	tx.repo.transfers[t.ID] = cloneTransfer(t)
	id := t.ID
	memstore.OnRollback(ctx, func() { delete(tx.repo.transfers, id) })
	return t, nil
}

func (tx *memoryTx) Lock(ctx context.Context, tenantID, id int64) (Transfer, error) {
	t, ok := tx.repo.transfers[id]
	if !ok || t.TenantID != tenantID {
		return Transfer{}, shared.ErrNotFound
	}
	return cloneTransfer(t), nil
}

func (tx *memoryTx) UpdateTransition(ctx context.Context, t Transfer, expected Status) error {
	current, ok := tx.repo.transfers[t.ID]
	if !ok || current.Status != expected || current.Version != t.Version {
		return shared.ErrConcurrencyConflict
	}
	updated := cloneTransfer(t)
	updated.Items = current.Items
	updated.Version = current.Version + 1
	tx.repo.transfers[t.ID] = updated
	memstore.OnRollback(ctx, func() { tx.repo.transfers[t.ID] = current })
	return nil
}

func (tx *memoryTx) UpdateItems(ctx context.Context, transferID int64, items []Item) error {
	current := tx.repo.transfers[transferID]
	prev := current.Items
	next := make([]Item, len(items))
	copy(next, items)
	current.Items = next
	tx.repo.transfers[transferID] = current
	memstore.OnRollback(ctx, func() {
		t := tx.repo.transfers[transferID]
		t.Items = prev
		tx.repo.transfers[transferID] = t
	})
	return nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, tenantID int64, docType string, at time.Time) (string, error) {
	return tx.repo.store.NextDocumentNumber(ctx, tenantID, docType, at)
}
