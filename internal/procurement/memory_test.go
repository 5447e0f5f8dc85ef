package procurement

import (
	"context"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/memstore"
)

type memoryProcRepo struct {
	store  *memstore.Store
	pos    map[int64]PurchaseOrder
	grns   map[int64]GoodsReceipt
	nextID int64
}

type memoryProcTx struct {
	repo *memoryProcRepo
}

func newMemoryProcRepo(store *memstore.Store) *memoryProcRepo {
	return &memoryProcRepo{store: store, pos: make(map[int64]PurchaseOrder), grns: make(map[int64]GoodsReceipt)}
}

func clonePO(po PurchaseOrder) PurchaseOrder {
	po.Lines = append([]POLine(nil), po.Lines...)
	return po
}

func cloneGRN(grn GoodsReceipt) GoodsReceipt {
	grn.Lines = append([]GRNLine(nil), grn.Lines...)
	return grn
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.RunTx(ctx, func(ctx context.Context) error {
		return fn(ctx, &memoryProcTx{repo: r})
	})
}

func (r *memoryProcRepo) GetPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	var (
		po PurchaseOrder
		ok bool
	)
	r.store.Read(ctx, func() {
		po, ok = r.pos[id]
		po = clonePO(po)
	})
	if !ok || po.TenantID != tenantID {
		return PurchaseOrder{}, shared.ErrNotFound
	}
	return po, nil
}

func (r *memoryProcRepo) GetGRN(ctx context.Context, tenantID, id int64) (GoodsReceipt, error) {
	var (
		grn GoodsReceipt
		ok  bool
	)
	r.store.Read(ctx, func() {
		grn, ok = r.grns[id]
		grn = cloneGRN(grn)
	})
	if !ok || grn.TenantID != tenantID {
		return GoodsReceipt{}, shared.ErrNotFound
	}
	return grn, nil
}

func (tx *memoryProcTx) CreatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	tx.repo.nextID++
	po.ID = tx.repo.nextID
	for i := range po.Lines {
		tx.repo.nextID++
		po.Lines[i].ID = tx.repo.nextID
	}
	tx.repo.pos[po.ID] = clonePO(po)
	id := po.ID
	memstore.OnRollback(ctx, func() { delete(tx.repo.pos, id) })
	return po, nil
}

func (tx *memoryProcTx) LockPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	po, ok := tx.repo.pos[id]
	if !ok || po.TenantID != tenantID {
		return PurchaseOrder{}, shared.ErrNotFound
	}
	return clonePO(po), nil
}

func (tx *memoryProcTx) UpdatePOReceipt(ctx context.Context, po PurchaseOrder) error {
	prev := tx.repo.pos[po.ID]
	tx.repo.pos[po.ID] = clonePO(po)
	memstore.OnRollback(ctx, func() { tx.repo.pos[po.ID] = prev })
	return nil
}

func (tx *memoryProcTx) CreateGRN(ctx context.Context, grn GoodsReceipt) (GoodsReceipt, error) {
	tx.repo.nextID++
	grn.ID = tx.repo.nextID
	for i := range grn.Lines {
		tx.repo.nextID++
		grn.Lines[i].ID = tx.repo.nextID
	}
	tx.repo.grns[grn.ID] = cloneGRN(grn)
	id := grn.ID
	memstore.OnRollback(ctx, func() { delete(tx.repo.grns, id) })
	return grn, nil
}

func (tx *memoryProcTx) LockGRN(ctx context.Context, tenantID, id int64) (GoodsReceipt, error) {
	grn, ok := tx.repo.grns[id]
	if !ok || grn.TenantID != tenantID {
		return GoodsReceipt{}, shared.ErrNotFound
	}
	return cloneGRN(grn), nil
}

func (tx *memoryProcTx) UpdateGRNStatus(ctx context.Context, grn GoodsReceipt, expected GRNStatus) error {
	current, ok := tx.repo.grns[grn.ID]
	if !ok || current.Status != expected || current.Version != grn.Version {
		return shared.ErrConcurrencyConflict
	}
	updated := cloneGRN(grn)
	updated.Lines = current.Lines
	updated.Version = current.Version + 1
	tx.repo.grns[grn.ID] = updated
	memstore.OnRollback(ctx, func() { tx.repo.grns[grn.ID] = current })
	return nil
}

func (tx *memoryProcTx) NextNumber(ctx context.Context, tenantID int64, docType string, at time.Time) (string, error) {
	return tx.repo.store.NextDocumentNumber(ctx, tenantID, docType, at)
}
