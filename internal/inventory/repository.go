package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository persists stock lines and movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockStockLine(ctx context.Context, tenantID, productID, locationID int64) (StockLine, error)
	UpdateStockQuantity(ctx context.Context, line StockLine) error
	UpdateThresholds(ctx context.Context, line StockLine) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a transaction, joining one already
// carried by ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const stockLineColumns = `tenant_id, product_id, location_id, quantity_on_hand, reserved_quantity,
	min_threshold, max_threshold, last_movement_at, updated_at`

func scanStockLine(row pgx.Row) (StockLine, error) {
	var line StockLine
	err := row.Scan(&line.TenantID, &line.ProductID, &line.LocationID, &line.QuantityOnHand, &line.ReservedQuantity,
		&line.MinThreshold, &line.MaxThreshold, &line.LastMovementAt, &line.UpdatedAt)
	return line, err
}

// GetStockLine reads a single line.
func (r *Repository) GetStockLine(ctx context.Context, tenantID, productID, locationID int64) (StockLine, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+stockLineColumns+` FROM stock_lines
WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3`, tenantID, productID, locationID)
	line, err := scanStockLine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLine{}, ErrLineNotFound
	}
	return line, err
}

// ListStockLines lists lines matching the filter ordered by product then location.
func (r *Repository) ListStockLines(ctx context.Context, filter StockLineFilter) ([]StockLine, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+stockLineColumns+` FROM stock_lines
WHERE tenant_id = $1
  AND ($2::bigint = 0 OR product_id = $2)
  AND ($3::bigint = 0 OR location_id = $3)
ORDER BY product_id, location_id`, filter.TenantID, filter.ProductID, filter.LocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []StockLine
	for rows.Next() {
		line, err := scanStockLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ListMovements returns the stock card of one line.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var from, to *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, tenant_id, product_id, location_id, kind, quantity,
	quantity_before, quantity_after, reference_type, reference_id, actor_id, unit_cost,
	COALESCE(batch_number, ''), expiry_date, COALESCE(note, ''), created_at
FROM stock_movements
WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3
  AND ($4::timestamptz IS NULL OR created_at >= $4)
  AND ($5::timestamptz IS NULL OR created_at <= $5)
ORDER BY created_at, id
LIMIT $6`, filter.TenantID, filter.ProductID, filter.LocationID, from, to, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ProductID, &m.LocationID, &m.Kind, &m.Quantity,
			&m.QuantityBefore, &m.QuantityAfter, &m.ReferenceType, &m.ReferenceID, &m.ActorID, &m.UnitCost,
			&m.BatchNumber, &m.ExpiryDate, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// SumMovements returns the signed sum and count of a line's movements.
func (r *Repository) SumMovements(ctx context.Context, tenantID, productID, locationID int64) (int64, int64, error) {
	var sum, count int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT
	COALESCE(SUM(CASE WHEN kind IN ('transfer_out', 'adjustment_decrease') THEN -quantity ELSE quantity END), 0)::bigint,
	COUNT(*)
FROM stock_movements
WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3`, tenantID, productID, locationID).Scan(&sum, &count)
	return sum, count, err
}

// ListLineActivity aggregates first movement, last outbound movement and the
// nearest unexpired batch per line.
func (r *Repository) ListLineActivity(ctx context.Context, tenantID, locationID int64, since time.Time) (map[StockKey]LineActivity, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT product_id, location_id,
	MIN(created_at),
	MAX(created_at) FILTER (WHERE kind IN ('transfer_out', 'adjustment_decrease')),
	MIN(expiry_date) FILTER (WHERE kind = 'receipt' AND expiry_date >= $3::date)
FROM stock_movements
WHERE tenant_id = $1 AND ($2::bigint = 0 OR location_id = $2)
GROUP BY product_id, location_id`, tenantID, locationID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	activity := make(map[StockKey]LineActivity)
	for rows.Next() {
		var key StockKey
		var a LineActivity
		if err := rows.Scan(&key.ProductID, &key.LocationID, &a.FirstMovementAt, &a.LastOutboundAt, &a.NextExpiry); err != nil {
			return nil, err
		}
		activity[key] = a
	}
	return activity, rows.Err()
}

// ListTenants returns every tenant holding at least one stock line.
func (r *Repository) ListTenants(ctx context.Context) ([]int64, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT DISTINCT tenant_id FROM stock_lines ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// LockStockLine materialises the line when missing and locks it for update.
func (r *txRepo) LockStockLine(ctx context.Context, tenantID, productID, locationID int64) (StockLine, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO stock_lines (tenant_id, product_id, location_id)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id, product_id, location_id) DO NOTHING`, tenantID, productID, locationID); err != nil {
		return StockLine{}, err
	}
	row := r.tx.QueryRow(ctx, `SELECT `+stockLineColumns+` FROM stock_lines
WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3
FOR UPDATE`, tenantID, productID, locationID)
	return scanStockLine(row)
}

func (r *txRepo) UpdateStockQuantity(ctx context.Context, line StockLine) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_lines
SET quantity_on_hand = $4, last_movement_at = $5, updated_at = $6
WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3`,
		line.TenantID, line.ProductID, line.LocationID, line.QuantityOnHand, line.LastMovementAt, line.UpdatedAt)
	return err
}

func (r *txRepo) UpdateThresholds(ctx context.Context, line StockLine) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_lines
SET min_threshold = $4, max_threshold = $5, updated_at = $6
WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3`,
		line.TenantID, line.ProductID, line.LocationID, line.MinThreshold, line.MaxThreshold, line.UpdatedAt)
	return err
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (tenant_id, product_id, location_id, kind, quantity,
	quantity_before, quantity_after, reference_type, reference_id, actor_id, unit_cost, batch_number,
	expiry_date, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, NULLIF($14, ''), $15)
RETURNING id`,
		m.TenantID, m.ProductID, m.LocationID, string(m.Kind), m.Quantity, m.QuantityBefore, m.QuantityAfter,
		string(m.ReferenceType), m.ReferenceID, m.ActorID, m.UnitCost, m.BatchNumber, m.ExpiryDate, m.Note, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}
