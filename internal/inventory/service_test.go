package inventory_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/memstore"
)

const tenant = int64(1)

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (o *countingObserver) ObserveMovement(kind string, quantity int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int64)
	}
	o.counts[kind] += quantity
}

type fixture struct {
	store    *memstore.Store
	ledger   *memstore.Ledger
	svc      *inventory.Service
	observer *countingObserver
}

func newFixture(cfg inventory.ServiceConfig) fixture {
	store := memstore.New()
	ledger := memstore.NewLedger(store)
	obs := &countingObserver{}
	svc := inventory.NewService(ledger, memstore.NewIdempotency(store), cfg, obs)
	return fixture{store: store, ledger: ledger, svc: svc, observer: obs}
}

func movement(kind inventory.MovementKind, product, location, qty int64) inventory.MovementInput {
	return inventory.MovementInput{
		TenantID:   tenant,
		ProductID:  product,
		LocationID: location,
		Kind:       kind,
		Quantity:   qty,
		Reference:  inventory.Reference{Type: inventory.ReferenceManual, ID: "test"},
		ActorID:    9,
	}
}

func requireReconciles(t *testing.T, svc *inventory.Service, product, location int64) inventory.Reconciliation {
	t.Helper()
	rec, err := svc.Reconcile(context.Background(), tenant, product, location)
	require.NoError(t, err)
	require.True(t, rec.Consistent, "on hand %d, movement sum %d", rec.QuantityOnHand, rec.MovementSum)
	return rec
}

func TestApplyMovementKeepsLedgerReconstructible(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	ctx := context.Background()

	steps := []inventory.MovementInput{
		movement(inventory.MovementReceipt, 10, 1, 100),
		movement(inventory.MovementTransferOut, 10, 1, 30),
		movement(inventory.MovementAdjustmentIncrease, 10, 1, 5),
		movement(inventory.MovementAdjustmentDecrease, 10, 1, 15),
		movement(inventory.MovementTransferIn, 10, 1, 7),
	}
	var last inventory.Movement
	for _, step := range steps {
		m, err := f.svc.ApplyMovement(ctx, step)
		require.NoError(t, err)
		require.Equal(t, m.QuantityBefore+m.SignedQuantity(), m.QuantityAfter)
		if last.ID != 0 {
			require.Equal(t, last.QuantityAfter, m.QuantityBefore)
		}
		last = m
	}

	line, err := f.svc.GetStock(ctx, tenant, 10, 1)
	require.NoError(t, err)
	require.EqualValues(t, 67, line.QuantityOnHand)
	require.NotNil(t, line.LastMovementAt)

	rec := requireReconciles(t, f.svc, 10, 1)
	require.EqualValues(t, 5, rec.MovementCount)

	history, err := f.svc.ListMovements(ctx, inventory.MovementFilter{TenantID: tenant, ProductID: 10, LocationID: 1})
	require.NoError(t, err)
	require.Len(t, history, 5)
	require.Equal(t, inventory.MovementReceipt, history[0].Kind)
}

func TestApplyMovementRejectsNegativeStock(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	ctx := context.Background()
	f.ledger.Seed(tenant, 10, 1, 20)

	_, err := f.svc.ApplyMovement(ctx, movement(inventory.MovementTransferOut, 10, 1, 21))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var detail *shared.DetailError
	require.True(t, errors.As(err, &detail))
	require.EqualValues(t, 10, detail.ProductID)
	require.EqualValues(t, 1, detail.LocationID)

	line, err := f.svc.GetStock(ctx, tenant, 10, 1)
	require.NoError(t, err)
	require.EqualValues(t, 20, line.QuantityOnHand)
	require.Len(t, f.ledger.Movements(inventory.ReferenceManual), 1)
	require.Empty(t, f.observer.counts)
}

func TestApplyMovementRespectsReservedQuantity(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	ctx := context.Background()
	f.ledger.Seed(tenant, 10, 1, 20)
	f.ledger.SetReserved(tenant, 10, 1, 15)

	_, err := f.svc.ApplyMovement(ctx, movement(inventory.MovementAdjustmentDecrease, 10, 1, 6))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	_, err = f.svc.ApplyMovement(ctx, movement(inventory.MovementAdjustmentDecrease, 10, 1, 5))
	require.NoError(t, err)
}

func TestNegativeStockOverride(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{NegativeStockLocations: []int64{2}})
	ctx := context.Background()

	_, err := f.svc.ApplyMovement(ctx, movement(inventory.MovementTransferOut, 10, 1, 1))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	m, err := f.svc.ApplyMovement(ctx, movement(inventory.MovementTransferOut, 10, 2, 4))
	require.NoError(t, err)
	require.EqualValues(t, -4, m.QuantityAfter)
	requireReconciles(t, f.svc, 10, 2)

	global := newFixture(inventory.ServiceConfig{AllowNegativeStock: true})
	_, err = global.svc.ApplyMovement(ctx, movement(inventory.MovementAdjustmentDecrease, 10, 1, 3))
	require.NoError(t, err)
}

func TestApplyMovementRejectsQuantityOverflow(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	_, err := f.svc.ApplyMovement(ctx, movement(inventory.MovementReceipt, 10, 1, 10))
	require.NoError(t, err)

	_, err = f.svc.ApplyMovement(ctx, movement(inventory.MovementReceipt, 10, 1, math.MaxInt64))
	require.ErrorIs(t, err, shared.ErrValidation)
	line, err := f.svc.GetStock(ctx, tenant, 10, 1)
	require.NoError(t, err)
	require.EqualValues(t, 10, line.QuantityOnHand)

	_, err = f.svc.ApplyMovement(ctx, movement(inventory.MovementTransferOut, 10, 2, 5))
	require.NoError(t, err)
	_, err = f.svc.ApplyMovement(ctx, movement(inventory.MovementTransferOut, 10, 2, math.MaxInt64))
	require.ErrorIs(t, err, shared.ErrValidation)
	requireReconciles(t, f.svc, 10, 1)
	requireReconciles(t, f.svc, 10, 2)
}

func TestApplyMovementValidation(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	ctx := context.Background()

	cases := map[string]inventory.MovementInput{
		"quantity": movement(inventory.MovementReceipt, 10, 1, 0),
		"kind":     movement("teleport", 10, 1, 1),
		"product":  movement(inventory.MovementReceipt, 0, 1, 1),
		"location": movement(inventory.MovementReceipt, 10, 0, 1),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.ApplyMovement(ctx, input)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	require.Empty(t, f.ledger.Movements(""))
}

func TestExpectedBeforeDetectsDrift(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	ctx := context.Background()
	f.ledger.Seed(tenant, 10, 1, 80)

	input := movement(inventory.MovementAdjustmentDecrease, 10, 1, 10)
	snapshot := int64(100)
	input.ExpectedBefore = &snapshot
	_, err := f.svc.ApplyMovement(ctx, input)
	require.ErrorIs(t, err, shared.ErrStaleAdjustment)

	snapshot = 80
	m, err := f.svc.ApplyMovement(ctx, input)
	require.NoError(t, err)
	require.EqualValues(t, 70, m.QuantityAfter)
}

func TestConcurrentDecrementsSerialise(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	ctx := context.Background()
	f.ledger.Seed(tenant, 10, 1, 50)

	var ok, insufficient atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApplyMovement(ctx, movement(inventory.MovementTransferOut, 10, 1, 10))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, shared.ErrInsufficientStock):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 5, ok.Load())
	require.EqualValues(t, 7, insufficient.Load())
	line, err := f.svc.GetStock(ctx, tenant, 10, 1)
	require.NoError(t, err)
	require.Zero(t, line.QuantityOnHand)
	requireReconciles(t, f.svc, 10, 1)
}

func TestJoinedTransactionRollsBackEveryMovement(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	ctx := context.Background()
	f.ledger.Seed(tenant, 10, 1, 10)
	f.ledger.Seed(tenant, 11, 1, 2)

	err := f.ledger.WithTx(ctx, func(ctx context.Context, _ inventory.TxRepository) error {
		if _, err := f.svc.ApplyMovement(ctx, movement(inventory.MovementTransferOut, 10, 1, 5)); err != nil {
			return err
		}
		_, err := f.svc.ApplyMovement(ctx, movement(inventory.MovementTransferOut, 11, 1, 5))
		return err
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	line, err := f.svc.GetStock(ctx, tenant, 10, 1)
	require.NoError(t, err)
	require.EqualValues(t, 10, line.QuantityOnHand)
	require.Len(t, f.ledger.Movements(""), 2)
	require.Empty(t, f.observer.counts)
}

func TestObserverRunsAfterCommit(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	ctx := context.Background()

	_, err := f.svc.ApplyMovement(ctx, movement(inventory.MovementReceipt, 10, 1, 12))
	require.NoError(t, err)
	require.EqualValues(t, 12, f.observer.counts[string(inventory.MovementReceipt)])
}

func TestPostManualMovementIsIdempotent(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	ctx := context.Background()

	input := movement(inventory.MovementReceipt, 10, 1, 5)
	m, err := f.svc.PostManualMovement(ctx, input, "req-1")
	require.NoError(t, err)
	require.Equal(t, inventory.ReferenceManual, m.ReferenceType)
	require.Equal(t, "test", m.ReferenceID)

	_, err = f.svc.PostManualMovement(ctx, input, "req-1")
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	line, err := f.svc.GetStock(ctx, tenant, 10, 1)
	require.NoError(t, err)
	require.EqualValues(t, 5, line.QuantityOnHand)
}

func TestFailedManualMovementReleasesKey(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	ctx := context.Background()

	_, err := f.svc.PostManualMovement(ctx, movement(inventory.MovementTransferOut, 10, 1, 5), "req-2")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	f.ledger.Seed(tenant, 10, 1, 5)
	_, err = f.svc.PostManualMovement(ctx, movement(inventory.MovementTransferOut, 10, 1, 5), "req-2")
	require.NoError(t, err)
}

func TestSetThresholds(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	ctx := context.Background()

	line, err := f.svc.SetThresholds(ctx, inventory.ThresholdInput{TenantID: tenant, ProductID: 10, LocationID: 1, MinThreshold: 30, MaxThreshold: 200})
	require.NoError(t, err)
	require.EqualValues(t, 30, line.MinThreshold)
	require.Zero(t, line.QuantityOnHand)

	_, err = f.svc.SetThresholds(ctx, inventory.ThresholdInput{TenantID: tenant, ProductID: 10, LocationID: 1, MinThreshold: 50, MaxThreshold: 20})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.SetThresholds(ctx, inventory.ThresholdInput{TenantID: tenant, ProductID: 10, LocationID: 1, MinThreshold: -1})
	require.ErrorIs(t, err, shared.ErrValidation)

	require.Empty(t, f.ledger.Movements(""))
}

func TestGetStockAcrossLocations(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	ctx := context.Background()
	f.ledger.Seed(tenant, 10, 1, 5)
	f.ledger.Seed(tenant, 10, 2, 7)
	f.ledger.Seed(tenant, 11, 1, 9)
	f.ledger.Seed(tenant+1, 10, 3, 1)

	lines, err := f.svc.GetStockAcrossLocations(ctx, tenant, 10)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.EqualValues(t, 1, lines[0].LocationID)
	require.EqualValues(t, 7, lines[1].QuantityOnHand)

	missing, err := f.svc.GetStock(ctx, tenant, 99, 1)
	require.NoError(t, err)
	require.Zero(t, missing.QuantityOnHand)
}
