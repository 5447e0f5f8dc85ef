package adjustments

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/memstore"
)

const (
	tenant    = int64(1)
	warehouse = int64(100)
	productX  = int64(7)
	productY  = int64(8)
	counter   = int64(21)
	manager   = int64(22)
)

type transitionCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *transitionCounter) ObserveTransition(workflow, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[workflow+":"+to]++
}

type fixture struct {
	svc       *Service
	ledger    *memstore.Ledger
	stock     *inventory.Service
	audit     *memstore.Audit
	approvals *memstore.Approvals
	observer  *transitionCounter
}

func newFixture() fixture {
	store := memstore.New()
	ledger := memstore.NewLedger(store)
	stock := inventory.NewService(ledger, nil, inventory.ServiceConfig{}, nil)
	audit := memstore.NewAudit(store)
	approvals := memstore.NewApprovals(store)
	observer := &transitionCounter{}
	return fixture{
		svc:       NewService(newMemoryRepo(store), stock, audit, approvals, observer),
		ledger:    ledger,
		stock:     stock,
		audit:     audit,
		approvals: approvals,
		observer:  observer,
	}
}

func (f fixture) onHand(t *testing.T, product int64) int64 {
	t.Helper()
	line, err := f.stock.GetStock(context.Background(), tenant, product, warehouse)
	require.NoError(t, err)
	return line.QuantityOnHand
}

func (f fixture) submit(t *testing.T, items ...ItemInput) Adjustment {
	t.Helper()
	adj, err := f.svc.Submit(context.Background(), SubmitInput{TenantID: tenant, AdjustedBy: counter, Items: items})
	require.NoError(t, err)
	return adj
}

func decision(id int64) DecisionInput {
	return DecisionInput{TenantID: tenant, AdjustmentID: id, ActorID: manager}
}

func TestTransitionTable(t *testing.T) {
	to, err := Next(StatusPending, ActionApprove)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, to)
	to, err = Next(StatusPending, ActionReject)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, to)
	for _, from := range []Status{StatusApproved, StatusRejected} {
		for _, act := range []Action{ActionApprove, ActionReject} {
			_, err := Next(from, act)
			require.ErrorIs(t, err, shared.ErrInvalidTransition)
		}
	}
}

func TestSubmitSnapshotsCurrentStock(t *testing.T) {
	f := newFixture()
	f.ledger.Seed(tenant, productX, warehouse, 100)
	adj := f.submit(t,
		ItemInput{ProductID: productX, LocationID: warehouse, NewStock: 90, Reason: "shrinkage"},
		ItemInput{ProductID: productY, LocationID: warehouse, NewStock: 4, Reason: "found"},
	)
	require.Equal(t, StatusPending, adj.Status)
	require.NotEmpty(t, adj.Number)
	require.Len(t, adj.Items, 2)
	require.EqualValues(t, 100, adj.Items[0].CurrentStock)
	require.EqualValues(t, -10, adj.Items[0].Delta)
	require.EqualValues(t, 0, adj.Items[1].CurrentStock)
	require.EqualValues(t, 4, adj.Items[1].Delta)
	require.Empty(t, f.ledger.Movements(inventory.ReferenceAdjustment))
	require.EqualValues(t, 100, f.onHand(t, productX))
	require.Equal(t, []string{"ADJUSTMENT_SUBMIT"}, f.audit.Actions())
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, SubmitInput{TenantID: tenant, AdjustedBy: counter})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Submit(ctx, SubmitInput{TenantID: tenant, AdjustedBy: counter, Items: []ItemInput{
		{ProductID: productX, LocationID: warehouse, NewStock: 1, Reason: "count"},
		{ProductID: productY, LocationID: warehouse, NewStock: -1, Reason: "count"},
	}})
	var detail *shared.DetailError
	require.True(t, errors.As(err, &detail))
	require.Equal(t, 2, detail.Item)
	require.Equal(t, "new_stock", detail.Field)

	_, err = f.svc.Submit(ctx, SubmitInput{TenantID: tenant, AdjustedBy: counter, Items: []ItemInput{
		{ProductID: productX, LocationID: warehouse, NewStock: 1, Reason: "count"},
		{ProductID: productX, LocationID: warehouse, NewStock: 2, Reason: "recount"},
	}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Submit(ctx, SubmitInput{TenantID: tenant, AdjustedBy: counter, Items: []ItemInput{
		{ProductID: productX, LocationID: warehouse, NewStock: 1},
	}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApproveAppliesDeltas(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.ledger.Seed(tenant, productX, warehouse, 100)
	f.ledger.Seed(tenant, productY, warehouse, 10)
	adj := f.submit(t,
		ItemInput{ProductID: productX, LocationID: warehouse, NewStock: 90, Reason: "shrinkage"},
		ItemInput{ProductID: productY, LocationID: warehouse, NewStock: 10, Reason: "verified"},
	)

	approved, err := f.svc.Approve(ctx, decision(adj.ID))
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	require.Equal(t, manager, *approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	require.EqualValues(t, 90, f.onHand(t, productX))
	require.EqualValues(t, 10, f.onHand(t, productY))
	movements := f.ledger.Movements(inventory.ReferenceAdjustment)
	require.Len(t, movements, 1)
	require.Equal(t, inventory.MovementAdjustmentDecrease, movements[0].Kind)
	require.EqualValues(t, 10, movements[0].Quantity)
	require.Equal(t, adj.Number, movements[0].ReferenceID)

	rec, err := f.stock.Reconcile(ctx, tenant, productX, warehouse)
	require.NoError(t, err)
	require.True(t, rec.Consistent)

	require.Len(t, f.approvals.Logs(approvalModule), 2)
	require.Equal(t, 1, f.observer.counts["adjustment:approved"])
}

func TestApproveIncreaseFromEmptyLine(t *testing.T) {
	f := newFixture()
	adj := f.submit(t, ItemInput{ProductID: productX, LocationID: warehouse, NewStock: 12, Reason: "found"})
	_, err := f.svc.Approve(context.Background(), decision(adj.ID))
	require.NoError(t, err)
	require.EqualValues(t, 12, f.onHand(t, productX))
	movements := f.ledger.Movements(inventory.ReferenceAdjustment)
	require.Len(t, movements, 1)
	require.Equal(t, inventory.MovementAdjustmentIncrease, movements[0].Kind)
}

func TestApproveFailsWhenStockDrifted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.ledger.Seed(tenant, productX, warehouse, 100)
	adj := f.submit(t, ItemInput{ProductID: productX, LocationID: warehouse, NewStock: 90, Reason: "count"})

	_, err := f.stock.ApplyMovement(ctx, inventory.MovementInput{
		TenantID:   tenant,
		ProductID:  productX,
		LocationID: warehouse,
		Kind:       inventory.MovementTransferOut,
		Quantity:   20,
		Reference:  inventory.Reference{Type: inventory.ReferenceManual, ID: "pick"},
		ActorID:    counter,
	})
	require.NoError(t, err)
	require.EqualValues(t, 80, f.onHand(t, productX))

	_, err = f.svc.Approve(ctx, decision(adj.ID))
	require.ErrorIs(t, err, shared.ErrStaleAdjustment)
	var detail *shared.DetailError
	require.True(t, errors.As(err, &detail))
	require.Equal(t, 1, detail.Item)
	require.Equal(t, productX, detail.ProductID)

	require.Empty(t, f.ledger.Movements(inventory.ReferenceAdjustment))
	require.EqualValues(t, 80, f.onHand(t, productX))
	stored, err := f.svc.Get(ctx, tenant, adj.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
	require.Zero(t, f.observer.counts["adjustment:approved"])
}

func TestApproveDriftOnLaterItemRollsBackEarlierMovements(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.ledger.Seed(tenant, productX, warehouse, 100)
	f.ledger.Seed(tenant, productY, warehouse, 50)
	adj := f.submit(t,
		ItemInput{ProductID: productX, LocationID: warehouse, NewStock: 95, Reason: "count"},
		ItemInput{ProductID: productY, LocationID: warehouse, NewStock: 45, Reason: "count"},
	)
	f.ledger.Seed(tenant, productY, warehouse, 49)

	_, err := f.svc.Approve(ctx, decision(adj.ID))
	require.ErrorIs(t, err, shared.ErrStaleAdjustment)
	require.EqualValues(t, 100, f.onHand(t, productX))
	require.Empty(t, f.ledger.Movements(inventory.ReferenceAdjustment))
}

func TestRejectLeavesLedgerUntouched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.ledger.Seed(tenant, productX, warehouse, 100)
	adj := f.submit(t, ItemInput{ProductID: productX, LocationID: warehouse, NewStock: 10, Reason: "count"})

	input := decision(adj.ID)
	input.Reason = "recount required"
	rejected, err := f.svc.Reject(ctx, input)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, "recount required", rejected.RejectionReason)
	require.EqualValues(t, 100, f.onHand(t, productX))

	_, err = f.svc.Approve(ctx, decision(adj.ID))
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, []string{"ADJUSTMENT_SUBMIT", "ADJUSTMENT_REJECT"}, f.audit.Actions())
}

func TestApproveTwiceIsRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.ledger.Seed(tenant, productX, warehouse, 100)
	adj := f.submit(t, ItemInput{ProductID: productX, LocationID: warehouse, NewStock: 90, Reason: "count"})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Approve(ctx, decision(adj.ID))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
	}
	require.Equal(t, 1, ok)
	require.EqualValues(t, 90, f.onHand(t, productX))
	require.Len(t, f.ledger.Movements(inventory.ReferenceAdjustment), 1)
}

func TestGetUnknownAdjustment(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Get(context.Background(), tenant, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.Approve(context.Background(), decision(99))
	require.ErrorIs(t, err, shared.ErrNotFound)
}
