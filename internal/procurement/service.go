package procurement

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const idempotencyModule = "procurement.grn"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, tenantID, id int64) (PurchaseOrder, error)
	GetGRN(ctx context.Context, tenantID, id int64) (GoodsReceipt, error)
}

// LedgerPort posts receipt movements.
type LedgerPort interface {
	ApplyMovement(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error)
}

// IdempotencyPort guards against posting one receipt twice.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, tenantID int64, key, module string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransitionObserver is notified of committed status changes.
type TransitionObserver interface {
	ObserveTransition(workflow, to string)
}

// Service orchestrates purchase orders and goods receipts.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	idempotency IdempotencyPort
	audit       AuditPort
	observer    TransitionObserver
	now         func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, ledger LedgerPort, idem IdempotencyPort, audit AuditPort, observer TransitionObserver) *Service {
	return &Service{repo: repo, ledger: ledger, idempotency: idem, audit: audit, observer: observer, now: func() time.Time { return time.Now().UTC() }}
}

// CreatePurchaseOrder stores an open purchase order.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if err := validatePO(input); err != nil {
		return PurchaseOrder{}, err
	}
	po := PurchaseOrder{
		TenantID:     input.TenantID,
		Number:       input.Number,
		SupplierID:   input.SupplierID,
		Status:       POStatusOpen,
		ExpectedDate: input.ExpectedDate,
		Note:         input.Note,
		CreatedBy:    input.CreatedBy,
		CreatedAt:    s.now(),
	}
	for i, line := range input.Lines {
		po.Lines = append(po.Lines, POLine{LineNo: i + 1, ProductID: line.ProductID, OrderedQty: line.Qty, UnitPrice: line.UnitPrice})
	}
	var created PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if po.Number == "" {
			if po.Number, err = tx.NextNumber(ctx, po.TenantID, shared.DocPurchaseOrder, po.CreatedAt); err != nil {
				return err
			}
		}
		created, err = tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		return s.recordAudit(ctx, created.TenantID, input.CreatedBy, "PO_CREATE", "purchase_order", created.ID, map[string]any{"number": created.Number})
	})
	if err != nil {
		return PurchaseOrder{}, shared.TranslateDBError(err)
	}
	return created, nil
}

func validatePO(input CreatePOInput) error {
	switch {
	case input.SupplierID <= 0:
		return shared.Invalid("supplier_id", "supplier required")
	case input.CreatedBy == 0:
		return shared.Invalid("created_by", "actor required")
	case len(input.Lines) == 0:
		return shared.Invalid("lines", "at least one line required")
	}
	seen := make(map[int64]struct{}, len(input.Lines))
	for i, line := range input.Lines {
		switch {
		case line.ProductID <= 0:
			return shared.InvalidItem(i+1, "product_id", "product required")
		case line.Qty <= 0:
			return shared.InvalidItem(i+1, "quantity", "quantity must be positive")
		case line.UnitPrice.IsNegative():
			return shared.InvalidItem(i+1, "unit_price", "price cannot be negative")
		}
		if _, dup := seen[line.ProductID]; dup {
			return shared.InvalidItem(i+1, "product_id", "product listed twice")
		}
		seen[line.ProductID] = struct{}{}
	}
	return nil
}

// GetPurchaseOrder loads an order with its lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, tenantID, id int64) (PurchaseOrder, error) {
	if id <= 0 {
		return PurchaseOrder{}, shared.Invalid("id", "purchase order id required")
	}
	return s.repo.GetPO(ctx, tenantID, id)
}

// CreateGoodsReceipt stores a draft receipt. A linked purchase order supplies
// the supplier when none is given and bounds the received quantities.
func (s *Service) CreateGoodsReceipt(ctx context.Context, input CreateGRNInput) (GoodsReceipt, error) {
	if err := validateGRN(input); err != nil {
		return GoodsReceipt{}, err
	}
	if input.POID != nil {
		po, err := s.repo.GetPO(ctx, input.TenantID, *input.POID)
		if err != nil {
			return GoodsReceipt{}, err
		}
		if input.SupplierID == 0 {
			input.SupplierID = po.SupplierID
		}
		if input.SupplierID != po.SupplierID {
			return GoodsReceipt{}, shared.Invalid("supplier_id", "supplier differs from purchase order")
		}
		if err := checkAgainstPO(po, input.Lines); err != nil {
			return GoodsReceipt{}, err
		}
	}
	if input.SupplierID <= 0 {
		return GoodsReceipt{}, shared.Invalid("supplier_id", "supplier required")
	}
	now := s.now()
	grn := GoodsReceipt{
		TenantID:   input.TenantID,
		Number:     input.Number,
		SupplierID: input.SupplierID,
		POID:       input.POID,
		Status:     GRNStatusDraft,
		ReceivedAt: input.ReceivedAt,
		Note:       input.Note,
		CreatedBy:  input.CreatedBy,
		CreatedAt:  now,
		Version:    1,
	}
	if grn.ReceivedAt.IsZero() {
		grn.ReceivedAt = now
	}
	for i, line := range input.Lines {
		grn.Lines = append(grn.Lines, GRNLine{
			LineNo:      i + 1,
			ProductID:   line.ProductID,
			LocationID:  line.LocationID,
			Qty:         line.Qty,
			UnitCost:    line.UnitCost,
			BatchNumber: line.BatchNumber,
			ExpiryDate:  line.ExpiryDate,
		})
	}
	var created GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if grn.Number == "" {
			if grn.Number, err = tx.NextNumber(ctx, grn.TenantID, shared.DocGoodsReceipt, now); err != nil {
				return err
			}
		}
		created, err = tx.CreateGRN(ctx, grn)
		if err != nil {
			return err
		}
		return s.recordAudit(ctx, created.TenantID, input.CreatedBy, "GRN_CREATE", "goods_receipt", created.ID, map[string]any{"number": created.Number})
	})
	if err != nil {
		return GoodsReceipt{}, shared.TranslateDBError(err)
	}
	s.observe(ctx, GRNStatusDraft)
	return created, nil
}

func validateGRN(input CreateGRNInput) error {
	switch {
	case input.CreatedBy == 0:
		return shared.Invalid("created_by", "actor required")
	case input.POID != nil && *input.POID <= 0:
		return shared.Invalid("purchase_order_id", "invalid purchase order")
	case len(input.Lines) == 0:
		return shared.Invalid("items", "at least one item required")
	}
	for i, line := range input.Lines {
		switch {
		case line.ProductID <= 0:
			return shared.InvalidItem(i+1, "product_id", "product required")
		case line.LocationID <= 0:
			return shared.InvalidItem(i+1, "location_id", "location required")
		case line.Qty <= 0:
			return shared.InvalidItem(i+1, "quantity", "quantity must be positive")
		case line.UnitCost.IsNegative():
			return shared.InvalidItem(i+1, "unit_cost", "unit cost cannot be negative")
		}
	}
	return nil
}

// checkAgainstPO rejects products not on the order and quantities beyond
// what the order still expects.
func checkAgainstPO(po PurchaseOrder, lines []GRNLineInput) error {
	remaining := make(map[int64]int64, len(po.Lines))
	for _, l := range po.Lines {
		remaining[l.ProductID] = l.Remaining()
	}
	for i, line := range lines {
		left, ok := remaining[line.ProductID]
		if !ok {
			return shared.InvalidItem(i+1, "product_id", "product not on purchase order")
		}
		if line.Qty > left {
			return shared.InvalidItem(i+1, "quantity", fmt.Sprintf("exceeds remaining %d on purchase order", left))
		}
		remaining[line.ProductID] = left - line.Qty
	}
	return nil
}

// GetGoodsReceipt loads a receipt with its lines.
func (s *Service) GetGoodsReceipt(ctx context.Context, tenantID, id int64) (GoodsReceipt, error) {
	if id <= 0 {
		return GoodsReceipt{}, shared.Invalid("id", "goods receipt id required")
	}
	return s.repo.GetGRN(ctx, tenantID, id)
}

// FinalizeGoodsReceipt posts one receipt movement per line and advances the
// linked purchase order, all in one transaction.
func (s *Service) FinalizeGoodsReceipt(ctx context.Context, input GRNActionInput) (GoodsReceipt, error) {
	return s.transition(ctx, input, GRNActionFinalize, func(ctx context.Context, tx TxRepository, grn *GoodsReceipt) error {
		if s.idempotency != nil {
			if err := s.idempotency.CheckAndInsert(ctx, grn.TenantID, "GRN:"+grn.Number, idempotencyModule); err != nil {
				return err
			}
		}
		for i, line := range grn.Lines {
			if _, err := s.ledger.ApplyMovement(ctx, inventory.MovementInput{
				TenantID:    grn.TenantID,
				ProductID:   line.ProductID,
				LocationID:  line.LocationID,
				Kind:        inventory.MovementReceipt,
				Quantity:    line.Qty,
				Reference:   inventory.Reference{Type: inventory.ReferenceGoodsReceipt, ID: grn.Number},
				ActorID:     input.ActorID,
				UnitCost:    line.UnitCost,
				BatchNumber: line.BatchNumber,
				ExpiryDate:  line.ExpiryDate,
				Note:        "GRN " + grn.Number,
			}); err != nil {
				return shared.WithItem(err, i+1)
			}
		}
		poStatus := ""
		if grn.POID != nil {
			po, err := s.fulfil(ctx, tx, *grn)
			if err != nil {
				return err
			}
			poStatus = string(po.Status)
		}
		now := s.now()
		grn.PostedBy = &input.ActorID
		grn.PostedAt = &now
		meta := map[string]any{"number": grn.Number, "items": len(grn.Lines)}
		if poStatus != "" {
			meta["purchase_order_status"] = poStatus
		}
		return s.recordAudit(ctx, grn.TenantID, input.ActorID, "GRN_POST", "goods_receipt", grn.ID, meta)
	})
}

func (s *Service) fulfil(ctx context.Context, tx TxRepository, grn GoodsReceipt) (PurchaseOrder, error) {
	po, err := tx.LockPO(ctx, grn.TenantID, *grn.POID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	index := make(map[int64]int, len(po.Lines))
	for i, l := range po.Lines {
		index[l.ProductID] = i
	}
	for i, line := range grn.Lines {
		at, ok := index[line.ProductID]
		if !ok {
			return PurchaseOrder{}, shared.InvalidItem(i+1, "product_id", "product not on purchase order")
		}
		if line.Qty > po.Lines[at].Remaining() {
			return PurchaseOrder{}, shared.InvalidItem(i+1, "quantity", fmt.Sprintf("exceeds remaining %d on purchase order", po.Lines[at].Remaining()))
		}
		po.Lines[at].ReceivedQty += line.Qty
	}
	po.Status = FulfilmentStatus(po.Lines)
	if err := tx.UpdatePOReceipt(ctx, po); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// CancelGoodsReceipt closes a draft receipt without touching the ledger.
func (s *Service) CancelGoodsReceipt(ctx context.Context, input GRNActionInput) (GoodsReceipt, error) {
	return s.transition(ctx, input, GRNActionCancel, func(ctx context.Context, _ TxRepository, grn *GoodsReceipt) error {
		now := s.now()
		grn.CancelledBy = &input.ActorID
		grn.CancelledAt = &now
		return s.recordAudit(ctx, grn.TenantID, input.ActorID, "GRN_CANCEL", "goods_receipt", grn.ID, map[string]any{"number": grn.Number})
	})
}

func (s *Service) transition(ctx context.Context, input GRNActionInput, action GRNAction, apply func(context.Context, TxRepository, *GoodsReceipt) error) (GoodsReceipt, error) {
	switch {
	case input.ReceiptID <= 0:
		return GoodsReceipt{}, shared.Invalid("id", "goods receipt id required")
	case input.ActorID == 0:
		return GoodsReceipt{}, shared.Invalid("actor_id", "actor required")
	}
	var result GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grn, err := tx.LockGRN(ctx, input.TenantID, input.ReceiptID)
		if err != nil {
			return err
		}
		next, err := NextGRN(grn.Status, action)
		if err != nil {
			return err
		}
		if err := apply(ctx, tx, &grn); err != nil {
			return err
		}
		expected := grn.Status
		grn.Status = next
		if err := tx.UpdateGRNStatus(ctx, grn, expected); err != nil {
			return err
		}
		grn.Version++
		result = grn
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, shared.TranslateDBError(err)
	}
	s.observe(ctx, result.Status)
	return result, nil
}

func (s *Service) observe(ctx context.Context, to GRNStatus) {
	if s.observer == nil {
		return
	}
	db.AfterCommit(ctx, func() { s.observer.ObserveTransition("goods_receipt", string(to)) })
}

func (s *Service) recordAudit(ctx context.Context, tenantID, actorID int64, action, entity string, entityID int64, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
