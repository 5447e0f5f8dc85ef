package adjustments

import (
	"context"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const approvalModule = "ADJUSTMENT"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, id int64) (Adjustment, error)
}

// LedgerPort is the subset of the stock ledger the workflow relies on.
type LedgerPort interface {
	ApplyMovement(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error)
	GetStock(ctx context.Context, tenantID, productID, locationID int64) (inventory.StockLine, error)
}

// AuditPort records audit logs.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// TransitionObserver is notified of committed status changes.
type TransitionObserver interface {
	ObserveTransition(workflow, to string)
}

// Service drives stock count adjustments.
type Service struct {
	repo      RepositoryPort
	ledger    LedgerPort
	audit     AuditPort
	approvals ApprovalPort
	observer  TransitionObserver
	now       func() time.Time
}

// NewService constructs the adjustment service.
func NewService(repo RepositoryPort, ledger LedgerPort, audit AuditPort, approvals ApprovalPort, observer TransitionObserver) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit, approvals: approvals, observer: observer, now: func() time.Time { return time.Now().UTC() }}
}

// Submit snapshots the current stock of every line and stores the adjustment
// as pending. The ledger is not changed.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (Adjustment, error) {
	if err := validateSubmit(input); err != nil {
		return Adjustment{}, err
	}
	now := s.now()
	adj := Adjustment{
		TenantID:   input.TenantID,
		Date:       input.Date,
		Status:     StatusPending,
		AdjustedBy: input.AdjustedBy,
		Notes:      input.Notes,
		CreatedAt:  now,
		Version:    1,
	}
	if adj.Date.IsZero() {
		adj.Date = now.Truncate(24 * time.Hour)
	}
	var created Adjustment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i, in := range input.Items {
			line, err := s.ledger.GetStock(ctx, input.TenantID, in.ProductID, in.LocationID)
			if err != nil {
				return shared.WithItem(err, i+1)
			}
			adj.Items = append(adj.Items, Item{
				LineNo:       i + 1,
				ProductID:    in.ProductID,
				LocationID:   in.LocationID,
				CurrentStock: line.QuantityOnHand,
				NewStock:     in.NewStock,
				Delta:        in.NewStock - line.QuantityOnHand,
				Reason:       in.Reason,
			})
		}
		var err error
		if adj.Number, err = tx.NextNumber(ctx, adj.TenantID, shared.DocAdjustment, now); err != nil {
			return err
		}
		created, err = tx.Insert(ctx, adj)
		if err != nil {
			return err
		}
		if err := s.recordApproval(ctx, created, input.AdjustedBy, shared.ApprovalSubmit, input.Notes); err != nil {
			return err
		}
		return s.recordAudit(ctx, created, input.AdjustedBy, "ADJUSTMENT_SUBMIT", map[string]any{"items": len(created.Items)})
	})
	if err != nil {
		return Adjustment{}, shared.TranslateDBError(err)
	}
	s.observe(ctx, StatusPending)
	return created, nil
}

func validateSubmit(input SubmitInput) error {
	switch {
	case input.AdjustedBy == 0:
		return shared.Invalid("adjusted_by", "actor required")
	case len(input.Items) == 0:
		return shared.Invalid("items", "at least one item required")
	}
	seen := make(map[inventory.StockKey]struct{}, len(input.Items))
	for i, item := range input.Items {
		switch {
		case item.ProductID == 0:
			return shared.InvalidItem(i+1, "product_id", "product required")
		case item.LocationID == 0:
			return shared.InvalidItem(i+1, "location_id", "location required")
		case item.NewStock < 0:
			return shared.InvalidItem(i+1, "new_stock", "counted stock cannot be negative")
		case item.Reason == "":
			return shared.InvalidItem(i+1, "reason", "reason required")
		}
		key := inventory.StockKey{ProductID: item.ProductID, LocationID: item.LocationID}
		if _, dup := seen[key]; dup {
			return shared.InvalidItem(i+1, "product_id", "line listed twice")
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Approve re-reads the ledger and applies one movement per non-zero item.
// Any drift from the submitted snapshot fails the whole approval with
// shared.ErrStaleAdjustment; the caller must resubmit against current stock.
func (s *Service) Approve(ctx context.Context, input DecisionInput) (Adjustment, error) {
	if err := validateDecision(input); err != nil {
		return Adjustment{}, err
	}
	return s.transition(ctx, input, ActionApprove, func(ctx context.Context, adj *Adjustment) error {
		for i, item := range adj.Items {
			line, err := s.ledger.GetStock(ctx, adj.TenantID, item.ProductID, item.LocationID)
			if err != nil {
				return shared.WithItem(err, i+1)
			}
			if line.QuantityOnHand != item.CurrentStock {
				return shared.StaleStock(i+1, item.ProductID, item.LocationID, item.CurrentStock, line.QuantityOnHand)
			}
		}
		for i, item := range adj.Items {
			if item.Delta == 0 {
				continue
			}
			kind, qty := inventory.MovementAdjustmentIncrease, item.Delta
			if item.Delta < 0 {
				kind, qty = inventory.MovementAdjustmentDecrease, -item.Delta
			}
			snapshot := item.CurrentStock
			if _, err := s.ledger.ApplyMovement(ctx, inventory.MovementInput{
				TenantID:       adj.TenantID,
				ProductID:      item.ProductID,
				LocationID:     item.LocationID,
				Kind:           kind,
				Quantity:       qty,
				Reference:      inventory.Reference{Type: inventory.ReferenceAdjustment, ID: adj.Number},
				ActorID:        input.ActorID,
				Note:           item.Reason,
				ExpectedBefore: &snapshot,
			}); err != nil {
				return shared.WithItem(err, i+1)
			}
		}
		now := s.now()
		adj.ApprovedBy = &input.ActorID
		adj.ApprovedAt = &now
		if err := s.recordApproval(ctx, *adj, input.ActorID, shared.ApprovalApprove, input.Reason); err != nil {
			return err
		}
		return s.recordAudit(ctx, *adj, input.ActorID, "ADJUSTMENT_APPROVE", nil)
	})
}

// Reject closes a pending adjustment without touching the ledger.
func (s *Service) Reject(ctx context.Context, input DecisionInput) (Adjustment, error) {
	if err := validateDecision(input); err != nil {
		return Adjustment{}, err
	}
	return s.transition(ctx, input, ActionReject, func(ctx context.Context, adj *Adjustment) error {
		now := s.now()
		adj.RejectedBy = &input.ActorID
		adj.RejectedAt = &now
		adj.RejectionReason = input.Reason
		if err := s.recordApproval(ctx, *adj, input.ActorID, shared.ApprovalReject, input.Reason); err != nil {
			return err
		}
		return s.recordAudit(ctx, *adj, input.ActorID, "ADJUSTMENT_REJECT", map[string]any{"reason": input.Reason})
	})
}

// Get loads an adjustment with its items.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Adjustment, error) {
	if id <= 0 {
		return Adjustment{}, shared.Invalid("id", "adjustment id required")
	}
	return s.repo.Get(ctx, tenantID, id)
}

func (s *Service) transition(ctx context.Context, input DecisionInput, action Action, apply func(context.Context, *Adjustment) error) (Adjustment, error) {
	var result Adjustment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		adj, err := tx.Lock(ctx, input.TenantID, input.AdjustmentID)
		if err != nil {
			return err
		}
		next, err := Next(adj.Status, action)
		if err != nil {
			return err
		}
		if err := apply(ctx, &adj); err != nil {
			return err
		}
		expected := adj.Status
		adj.Status = next
		if err := tx.UpdateDecision(ctx, adj, expected); err != nil {
			return err
		}
		adj.Version++
		result = adj
		return nil
	})
	if err != nil {
		return Adjustment{}, shared.TranslateDBError(err)
	}
	s.observe(ctx, result.Status)
	return result, nil
}

func validateDecision(input DecisionInput) error {
	switch {
	case input.AdjustmentID <= 0:
		return shared.Invalid("id", "adjustment id required")
	case input.ActorID == 0:
		return shared.Invalid("actor_id", "actor required")
	}
	return nil
}

func (s *Service) observe(ctx context.Context, to Status) {
	if s.observer == nil {
		return
	}
	db.AfterCommit(ctx, func() { s.observer.ObserveTransition("adjustment", string(to)) })
}

func (s *Service) recordApproval(ctx context.Context, adj Adjustment, actorID int64, action shared.ApprovalAction, note string) error {
	if s.approvals == nil {
		return nil
	}
	return s.approvals.Record(ctx, shared.ApprovalLog{
		TenantID: adj.TenantID,
		Module:   approvalModule,
		RefID:    shared.ApprovalRef(approvalModule, adj.TenantID, adj.ID),
		ActorID:  actorID,
		Action:   action,
		Note:     note,
		At:       s.now(),
	})
}

func (s *Service) recordAudit(ctx context.Context, adj Adjustment, actorID int64, action string, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = adj.Number
	return s.audit.Record(ctx, shared.AuditLog{
		TenantID: adj.TenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_adjustment",
		EntityID: strconv.FormatInt(adj.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
