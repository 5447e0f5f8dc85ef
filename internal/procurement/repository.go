package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextNumber(ctx context.Context, tenantID int64, docType string, at time.Time) (string, error)
	CreatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	LockPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, error)
	UpdatePOReceipt(ctx context.Context, po PurchaseOrder) error
	CreateGRN(ctx context.Context, grn GoodsReceipt) (GoodsReceipt, error)
	LockGRN(ctx context.Context, tenantID, id int64) (GoodsReceipt, error)
	UpdateGRNStatus(ctx context.Context, grn GoodsReceipt, expected GRNStatus) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn in a transaction, joining one already carried by ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const poColumns = `id, tenant_id, number, supplier_id, status, expected_date, note, created_by, created_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.TenantID, &po.Number, &po.SupplierID, &po.Status, &po.ExpectedDate, &po.Note, &po.CreatedBy, &po.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, shared.ErrNotFound
	}
	return po, err
}

func loadPOLines(ctx context.Context, q db.Querier, poID int64) ([]POLine, error) {
	rows, err := q.Query(ctx, `SELECT id, line_no, product_id, ordered_qty, received_qty, unit_price
FROM purchase_order_lines WHERE po_id = $1 ORDER BY line_no`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var l POLine
		if err := rows.Scan(&l.ID, &l.LineNo, &l.ProductID, &l.OrderedQty, &l.ReceivedQty, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetPO returns a purchase order and its lines.
func (r *Repository) GetPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	q := db.Conn(ctx, r.pool)
	po, err := scanPO(q.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadPOLines(ctx, q, po.ID)
	return po, err
}

const grnColumns = `id, tenant_id, number, supplier_id, po_id, status, received_at, note, created_by,
	posted_by, posted_at, cancelled_by, cancelled_at, created_at, version`

func scanGRN(row pgx.Row) (GoodsReceipt, error) {
	var g GoodsReceipt
	err := row.Scan(&g.ID, &g.TenantID, &g.Number, &g.SupplierID, &g.POID, &g.Status, &g.ReceivedAt, &g.Note, &g.CreatedBy,
		&g.PostedBy, &g.PostedAt, &g.CancelledBy, &g.CancelledAt, &g.CreatedAt, &g.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return GoodsReceipt{}, shared.ErrNotFound
	}
	return g, err
}

func loadGRNLines(ctx context.Context, q db.Querier, grnID int64) ([]GRNLine, error) {
	rows, err := q.Query(ctx, `SELECT id, line_no, product_id, location_id, qty, unit_cost, batch_number, expiry_date
FROM goods_receipt_items WHERE grn_id = $1 ORDER BY line_no`, grnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []GRNLine
	for rows.Next() {
		var l GRNLine
		if err := rows.Scan(&l.ID, &l.LineNo, &l.ProductID, &l.LocationID, &l.Qty, &l.UnitCost, &l.BatchNumber, &l.ExpiryDate); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetGRN returns a goods receipt and its lines.
func (r *Repository) GetGRN(ctx context.Context, tenantID, id int64) (GoodsReceipt, error) {
	q := db.Conn(ctx, r.pool)
	grn, err := scanGRN(q.QueryRow(ctx, `SELECT `+grnColumns+` FROM goods_receipts WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return GoodsReceipt{}, err
	}
	grn.Lines, err = loadGRNLines(ctx, q, grn.ID)
	return grn, err
}

func (r *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (tenant_id, number, supplier_id, status, expected_date, note, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		po.TenantID, po.Number, po.SupplierID, string(po.Status), po.ExpectedDate, po.Note, po.CreatedBy, po.CreatedAt).Scan(&po.ID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	for i := range po.Lines {
		l := &po.Lines[i]
		if err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (po_id, line_no, product_id, ordered_qty, received_qty, unit_price)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, po.ID, l.LineNo, l.ProductID, l.OrderedQty, l.ReceivedQty, l.UnitPrice).Scan(&l.ID); err != nil {
			return PurchaseOrder{}, err
		}
	}
	return po, nil
}

func (r *txRepo) LockPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	po, err := scanPO(r.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadPOLines(ctx, r.tx, po.ID)
	return po, err
}

func (r *txRepo) UpdatePOReceipt(ctx context.Context, po PurchaseOrder) error {
	batch := &pgx.Batch{}
	for _, l := range po.Lines {
		batch.Queue(`UPDATE purchase_order_lines SET received_qty = $2 WHERE id = $1`, l.ID, l.ReceivedQty)
	}
	batch.Queue(`UPDATE purchase_orders SET status = $2 WHERE id = $1`, po.ID, string(po.Status))
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepo) CreateGRN(ctx context.Context, grn GoodsReceipt) (GoodsReceipt, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_receipts (tenant_id, number, supplier_id, po_id, status, received_at, note, created_by, created_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		grn.TenantID, grn.Number, grn.SupplierID, grn.POID, string(grn.Status), grn.ReceivedAt, grn.Note, grn.CreatedBy, grn.CreatedAt, grn.Version).Scan(&grn.ID)
	if err != nil {
		return GoodsReceipt{}, err
	}
	for i := range grn.Lines {
		l := &grn.Lines[i]
		if err := r.tx.QueryRow(ctx, `INSERT INTO goods_receipt_items (grn_id, line_no, product_id, location_id, qty, unit_cost, batch_number, expiry_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			grn.ID, l.LineNo, l.ProductID, l.LocationID, l.Qty, l.UnitCost, l.BatchNumber, l.ExpiryDate).Scan(&l.ID); err != nil {
			return GoodsReceipt{}, err
		}
	}
	return grn, nil
}

func (r *txRepo) LockGRN(ctx context.Context, tenantID, id int64) (GoodsReceipt, error) {
	grn, err := scanGRN(r.tx.QueryRow(ctx, `SELECT `+grnColumns+` FROM goods_receipts WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return GoodsReceipt{}, err
	}
	grn.Lines, err = loadGRNLines(ctx, r.tx, grn.ID)
	return grn, err
}

func (r *txRepo) UpdateGRNStatus(ctx context.Context, grn GoodsReceipt, expected GRNStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE goods_receipts SET
	status = $4, posted_by = $5, posted_at = $6, cancelled_by = $7, cancelled_at = $8, version = version + 1
WHERE id = $1 AND status = $2 AND version = $3`,
		grn.ID, string(expected), grn.Version, string(grn.Status), grn.PostedBy, grn.PostedAt, grn.CancelledBy, grn.CancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

func (r *txRepo) NextNumber(ctx context.Context, tenantID int64, docType string, at time.Time) (string, error) {
	return shared.NextDocumentNumber(ctx, r.tx, tenantID, docType, at)
}
