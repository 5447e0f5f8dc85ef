package adjustments

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Repository persists adjustments in PostgreSQL.
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
	Insert(ctx context.Context, adj Adjustment) (Adjustment, error)
	Lock(ctx context.Context, tenantID, id int64) (Adjustment, error)
	UpdateDecision(ctx context.Context, adj Adjustment, expected Status) error
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

const adjustmentColumns = `id, tenant_id, adjustment_number, adjustment_date, status, adjusted_by,
	approved_by, rejected_by, approved_at, rejected_at, notes, rejection_reason, created_at, version`

func scanAdjustment(row pgx.Row) (Adjustment, error) {
	var a Adjustment
	err := row.Scan(&a.ID, &a.TenantID, &a.Number, &a.Date, &a.Status, &a.AdjustedBy,
		&a.ApprovedBy, &a.RejectedBy, &a.ApprovedAt, &a.RejectedAt, &a.Notes, &a.RejectionReason, &a.CreatedAt, &a.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Adjustment{}, shared.ErrNotFound
	}
	return a, err
}

func loadItems(ctx context.Context, q db.Querier, adjustmentID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, line_no, product_id, location_id, current_stock, new_stock, delta, reason
FROM stock_adjustment_items WHERE adjustment_id = $1 ORDER BY line_no`, adjustmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.LineNo, &it.ProductID, &it.LocationID, &it.CurrentStock, &it.NewStock, &it.Delta, &it.Reason); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Get loads an adjustment with its items.
func (r *Repository) Get(ctx context.Context, tenantID, id int64) (Adjustment, error) {
	q := db.Conn(ctx, r.pool)
	adj, err := scanAdjustment(q.QueryRow(ctx, `SELECT `+adjustmentColumns+` FROM stock_adjustments WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		return Adjustment{}, err
	}
	adj.Items, err = loadItems(ctx, q, adj.ID)
	return adj, err
}

func (r *txRepo) Insert(ctx context.Context, adj Adjustment) (Adjustment, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_adjustments (tenant_id, adjustment_number, adjustment_date, status,
	adjusted_by, notes, created_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`, adj.TenantID, adj.Number, adj.Date, string(adj.Status), adj.AdjustedBy, adj.Notes, adj.CreatedAt, adj.Version).Scan(&adj.ID)
	if err != nil {
		return Adjustment{}, err
	}
	for i := range adj.Items {
		it := &adj.Items[i]
		if err := r.tx.QueryRow(ctx, `INSERT INTO stock_adjustment_items (adjustment_id, line_no, product_id, location_id,
	current_stock, new_stock, delta, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			adj.ID, it.LineNo, it.ProductID, it.LocationID, it.CurrentStock, it.NewStock, it.Delta, it.Reason).Scan(&it.ID); err != nil {
			return Adjustment{}, err
		}
	}
	return adj, nil
}

func (r *txRepo) Lock(ctx context.Context, tenantID, id int64) (Adjustment, error) {
	adj, err := scanAdjustment(r.tx.QueryRow(ctx, `SELECT `+adjustmentColumns+` FROM stock_adjustments
WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
	if err != nil {
		return Adjustment{}, err
	}
	adj.Items, err = loadItems(ctx, r.tx, adj.ID)
	return adj, err
}

func (r *txRepo) UpdateDecision(ctx context.Context, adj Adjustment, expected Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_adjustments SET
	status = $4, approved_by = $5, rejected_by = $6, approved_at = $7, rejected_at = $8,
	rejection_reason = $9, version = version + 1
WHERE id = $1 AND status = $2 AND version = $3`,
		adj.ID, string(expected), adj.Version, string(adj.Status), adj.ApprovedBy, adj.RejectedBy,
		adj.ApprovedAt, adj.RejectedAt, adj.RejectionReason)
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
