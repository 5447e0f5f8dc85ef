package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

// Ledger is an in-memory inventory.RepositoryPort.
type Ledger struct {
	store     *Store
	lines     map[lineKey]inventory.StockLine
	movements []inventory.Movement
	nextID    int64
	// FailInsertAfter makes the n-th movement insert fail when positive.
	FailInsertAfter int
	FailErr         error
	inserts         int
}

type lineKey struct {
	tenant, product, location int64
}

type ledgerTx struct {
	l *Ledger
}

// NewLedger constructs a Ledger on store.
func NewLedger(store *Store) *Ledger {
	return &Ledger{store: store, lines: make(map[lineKey]inventory.StockLine)}
}

// Seed sets a line directly together with an opening receipt movement so the
// line reconciles with the log.
func (l *Ledger) Seed(tenantID, productID, locationID, onHand int64) {
	l.store.Read(context.Background(), func() {
		key := lineKey{tenantID, productID, locationID}
		line := l.lines[key]
		line.TenantID, line.ProductID, line.LocationID = tenantID, productID, locationID
		before := line.QuantityOnHand
		line.QuantityOnHand = onHand
		l.lines[key] = line
		if delta := onHand - before; delta != 0 {
			kind := inventory.MovementReceipt
			if delta < 0 {
				kind, delta = inventory.MovementAdjustmentDecrease, -delta
			}
			l.nextID++
			l.movements = append(l.movements, inventory.Movement{
				ID: l.nextID, TenantID: tenantID, ProductID: productID, LocationID: locationID,
				Kind: kind, Quantity: delta, QuantityBefore: before, QuantityAfter: onHand,
				ReferenceType: inventory.ReferenceManual, ReferenceID: "seed", CreatedAt: time.Now().UTC(),
			})
		}
	})
}

// SetReserved sets the reserved quantity of a line.
func (l *Ledger) SetReserved(tenantID, productID, locationID, reserved int64) {
	l.store.Read(context.Background(), func() {
		key := lineKey{tenantID, productID, locationID}
		line := l.lines[key]
		line.TenantID, line.ProductID, line.LocationID = tenantID, productID, locationID
		line.ReservedQuantity = reserved
		l.lines[key] = line
	})
}

// Movements returns a copy of the log, optionally filtered by reference type.
func (l *Ledger) Movements(refType inventory.ReferenceType) []inventory.Movement {
	var out []inventory.Movement
	l.store.Read(context.Background(), func() {
		for _, m := range l.movements {
			if refType == "" || m.ReferenceType == refType {
				out = append(out, m)
			}
		}
	})
	return out
}

// AppendMovement adds a raw movement to the log, bypassing the line.
func (l *Ledger) AppendMovement(m inventory.Movement) {
	l.store.Read(context.Background(), func() {
		l.nextID++
		m.ID = l.nextID
		l.movements = append(l.movements, m)
	})
}

func (l *Ledger) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return l.store.RunTx(ctx, func(ctx context.Context) error {
		return fn(ctx, &ledgerTx{l: l})
	})
}

func (l *Ledger) GetStockLine(ctx context.Context, tenantID, productID, locationID int64) (inventory.StockLine, error) {
	var (
		line inventory.StockLine
		ok   bool
	)
	l.store.Read(ctx, func() {
		line, ok = l.lines[lineKey{tenantID, productID, locationID}]
	})
	if !ok {
		return inventory.StockLine{}, inventory.ErrLineNotFound
	}
	return line, nil
}

func (l *Ledger) ListStockLines(ctx context.Context, filter inventory.StockLineFilter) ([]inventory.StockLine, error) {
	var lines []inventory.StockLine
	l.store.Read(ctx, func() {
		for key, line := range l.lines {
			if key.tenant != filter.TenantID {
				continue
			}
			if filter.ProductID != 0 && key.product != filter.ProductID {
				continue
			}
			if filter.LocationID != 0 && key.location != filter.LocationID {
				continue
			}
			lines = append(lines, line)
		}
	})
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].ProductID != lines[j].ProductID {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lines[i].LocationID < lines[j].LocationID
	})
	return lines, nil
}

func (l *Ledger) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	var out []inventory.Movement
	l.store.Read(ctx, func() {
		for _, m := range l.movements {
			if m.TenantID != filter.TenantID || m.ProductID != filter.ProductID || m.LocationID != filter.LocationID {
				continue
			}
			if !filter.From.IsZero() && m.CreatedAt.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && m.CreatedAt.After(filter.To) {
				continue
			}
			out = append(out, m)
			if filter.Limit > 0 && len(out) == filter.Limit {
				break
			}
		}
	})
	return out, nil
}

func (l *Ledger) SumMovements(ctx context.Context, tenantID, productID, locationID int64) (int64, int64, error) {
	var sum, count int64
	l.store.Read(ctx, func() {
		for _, m := range l.movements {
			if m.TenantID == tenantID && m.ProductID == productID && m.LocationID == locationID {
				sum += m.SignedQuantity()
				count++
			}
		}
	})
	return sum, count, nil
}

func (l *Ledger) ListLineActivity(ctx context.Context, tenantID, locationID int64, since time.Time) (map[inventory.StockKey]inventory.LineActivity, error) {
	out := make(map[inventory.StockKey]inventory.LineActivity)
	l.store.Read(ctx, func() {
		for _, m := range l.movements {
			if m.TenantID != tenantID || (locationID != 0 && m.LocationID != locationID) {
				continue
			}
			key := inventory.StockKey{ProductID: m.ProductID, LocationID: m.LocationID}
			a := out[key]
			created := m.CreatedAt
			if a.FirstMovementAt == nil || created.Before(*a.FirstMovementAt) {
				a.FirstMovementAt = &created
			}
			if m.Kind.Decreases() && (a.LastOutboundAt == nil || created.After(*a.LastOutboundAt)) {
				a.LastOutboundAt = &created
			}
			if m.Kind == inventory.MovementReceipt && m.ExpiryDate != nil && !m.ExpiryDate.Before(since.Truncate(24*time.Hour)) {
				expiry := *m.ExpiryDate
				if a.NextExpiry == nil || expiry.Before(*a.NextExpiry) {
					a.NextExpiry = &expiry
				}
			}
			out[key] = a
		}
	})
	return out, nil
}

func (tx *ledgerTx) LockStockLine(ctx context.Context, tenantID, productID, locationID int64) (inventory.StockLine, error) {
	key := lineKey{tenantID, productID, locationID}
	line, ok := tx.l.lines[key]
	if !ok {
		line = inventory.StockLine{TenantID: tenantID, ProductID: productID, LocationID: locationID}
		tx.l.lines[key] = line
		OnRollback(ctx, func() { delete(tx.l.lines, key) })
	}
	return line, nil
}

func (tx *ledgerTx) UpdateStockQuantity(ctx context.Context, line inventory.StockLine) error {
	tx.replace(ctx, line)
	return nil
}

func (tx *ledgerTx) UpdateThresholds(ctx context.Context, line inventory.StockLine) error {
	tx.replace(ctx, line)
	return nil
}

func (tx *ledgerTx) replace(ctx context.Context, line inventory.StockLine) {
	key := lineKey{line.TenantID, line.ProductID, line.LocationID}
	prev, existed := tx.l.lines[key]
	tx.l.lines[key] = line
	OnRollback(ctx, func() {
		if existed {
			tx.l.lines[key] = prev
		} else {
			delete(tx.l.lines, key)
		}
	})
}

func (tx *ledgerTx) InsertMovement(ctx context.Context, m inventory.Movement) (inventory.Movement, error) {
	tx.l.inserts++
	if tx.l.FailInsertAfter > 0 && tx.l.inserts >= tx.l.FailInsertAfter {
		return inventory.Movement{}, tx.l.FailErr
	}
	tx.l.nextID++
	m.ID = tx.l.nextID
	n := len(tx.l.movements)
	tx.l.movements = append(tx.l.movements, m)
	OnRollback(ctx, func() { tx.l.movements = tx.l.movements[:n] })
	return m, nil
}
