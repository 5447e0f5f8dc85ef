package transfers

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	NextNumber(ctx context.Context, tenantID int64, docType string, at time.Time) (string, error)
	Insert(ctx context.Context, t Transfer) (Transfer, error)
	Lock(ctx context.Context, tenantID, id int64) (Transfer, error)
	UpdateTransition(ctx context.Context, t Transfer, expected Status) error
	UpdateItems(ctx context.Context, transferID int64, items []Item) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes fn in a transaction, joining one carried by ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const transferColumns = `id, tenant_id, transfer_number, from_location_id, to_location_id, status, priority,
	requested_by, approved_by, shipped_by, received_by, rejected_by,
	requested_at, approved_at, shipped_at, received_at, rejected_at,
	tracking_info, notes, rejection_reason, version`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.TenantID, &t.Number, &t.FromLocationID, &t.ToLocationID, &t.Status, &t.Priority,
		&t.RequestedBy, &t.ApprovedBy, &t.ShippedBy, &t.ReceivedBy, &t.RejectedBy,
		&t.RequestedAt, &t.ApprovedAt, &t.ShippedAt, &t.ReceivedAt, &t.RejectedAt,
		&t.TrackingInfo, &t.Notes, &t.RejectionReason, &t.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, shared.ErrNotFound
	}
	return t, err
}

func loadItems(ctx context.Context, q db.Querier, transferID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, line_no, product_id, requested_quantity, approved_quantity, shipped_quantity, received_quantity
FROM stock_transfer_items WHERE transfer_id = $1 ORDER BY line_no`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.LineNo, &it.ProductID, &it.RequestedQuantity, &it.ApprovedQuantity, &it.ShippedQuantity, &it.ReceivedQuantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Get loads a transfer with its items.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (Transfer, error) {
	q := db.Conn(ctx, r.pool)
	t, err := scanTransfer(q.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return Transfer{}, err
	}
	t.Items, err = loadItems(ctx, q, t.ID)
	return t, err
}

// List returns a page of transfers and the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	q := db.Conn(ctx, r.pool)
	const where = `WHERE tenant_id = $1
  AND ($2::text = '' OR status = $2)
  AND ($3::bigint = 0 OR from_location_id = $3 OR to_location_id = $3)`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM stock_transfers `+where,
		filter.TenantID, string(filter.Status), filter.LocationID).Scan(&total); err != nil {
		return nil, 0, err
	}
	offset := (filter.Page - 1) * filter.PerPage
	rows, err := q.Query(ctx, `SELECT `+transferColumns+` FROM stock_transfers `+where+`
ORDER BY requested_at DESC, id DESC
LIMIT $4 OFFSET $5`, filter.TenantID, string(filter.Status), filter.LocationID, filter.PerPage, offset)
	if err != nil {
		return nil, 0, err
	}
	var list []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		list = append(list, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range list {
		if list[i].Items, err = loadItems(ctx, q, list[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return list, total, nil
}

func (r *txRepo) Insert(ctx context.Context, t Transfer) (Transfer, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfers (tenant_id, transfer_number, from_location_id, to_location_id,
	status, priority, requested_by, requested_at, notes, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`,
		t.TenantID, t.Number, t.FromLocationID, t.ToLocationID, string(t.Status), string(t.Priority),
		t.RequestedBy, t.RequestedAt, t.Notes, t.Version).Scan(&t.ID)
	if err != nil {
		return Transfer{}, err
	}
	for i := range t.Items {
		it := &t.Items[i]
		if err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfer_items (transfer_id, line_no, product_id, requested_quantity)
VALUES ($1, $2, $3, $4) RETURNING id`, t.ID, it.LineNo, it.ProductID, it.RequestedQuantity).Scan(&it.ID); err != nil {
			return Transfer{}, err
		}
	}
	return t, nil
}

func (r *txRepo) Lock(ctx context.Context, tenantID, id int64) (Transfer, error) {
	t, err := scanTransfer(r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM stock_transfers
WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return Transfer{}, err
	}
	t.Items, err = loadItems(ctx, r.tx, t.ID)
	return t, err
}

func (r *txRepo) UpdateTransition(ctx context.Context, t Transfer, expected Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_transfers SET
	status = $4, approved_by = $5, shipped_by = $6, received_by = $7, rejected_by = $8,
	approved_at = $9, shipped_at = $10, received_at = $11, rejected_at = $12,
	tracking_info = $13, notes = $14, rejection_reason = $15, version = version + 1
WHERE id = $1 AND status = $2 AND version = $3`,
		t.ID, string(expected), t.Version, string(t.Status), t.ApprovedBy, t.ShippedBy, t.ReceivedBy, t.RejectedBy,
		t.ApprovedAt, t.ShippedAt, t.ReceivedAt, t.RejectedAt, t.TrackingInfo, t.Notes, t.RejectionReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

func (r *txRepo) UpdateItems(ctx context.Context, transferID int64, items []Item) error {
	for _, it := range items {
		if _, err := r.tx.Exec(ctx, `UPDATE stock_transfer_items
SET approved_quantity = $3, shipped_quantity = $4, received_quantity = $5
WHERE transfer_id = $1 AND id = $2`, transferID, it.ID, it.ApprovedQuantity, it.ShippedQuantity, it.ReceivedQuantity); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) NextNumber(ctx context.Context, tenantID int64, docType string, at time.Time) (string, error) {
	return shared.NextDocumentNumber(ctx, r.tx, tenantID, docType, at)
}
