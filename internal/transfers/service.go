package transfers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const approvalModule = "TRANSFER"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, id int64) (Transfer, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, int, error)
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

// Service drives the transfer state machine.
type Service struct {
	repo      RepositoryPort
	ledger    LedgerPort
	audit     AuditPort
	approvals ApprovalPort
	observer  TransitionObserver
	now       func() time.Time
}

// NewService constructs the transfer service.
func NewService(repo RepositoryPort, ledger LedgerPort, audit AuditPort, approvals ApprovalPort, observer TransitionObserver) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit, approvals: approvals, observer: observer, now: func() time.Time { return time.Now().UTC() }}
}

// Create validates and stores a transfer request. Stock is not checked here.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if err := validateCreate(&input); err != nil {
		return Transfer{}, err
	}
	now := s.now()
	transfer := Transfer{
		TenantID:       input.TenantID,
		FromLocationID: input.FromLocationID,
		ToLocationID:   input.ToLocationID,
		Status:         StatusRequested,
		Priority:       input.Priority,
		RequestedBy:    input.RequestedBy,
		RequestedAt:    now,
		Notes:          input.Notes,
		Version:        1,
	}
	for i, item := range input.Items {
		transfer.Items = append(transfer.Items, Item{LineNo: i + 1, ProductID: item.ProductID, RequestedQuantity: item.Quantity})
	}
	var created Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if transfer.Number, err = tx.NextNumber(ctx, transfer.TenantID, shared.DocTransfer, now); err != nil {
			return err
		}
		created, err = tx.Insert(ctx, transfer)
		if err != nil {
			return err
		}
		if err := s.recordApproval(ctx, created, input.RequestedBy, shared.ApprovalSubmit, input.Notes); err != nil {
			return err
		}
		return s.recordAudit(ctx, created, input.RequestedBy, "TRANSFER_CREATE", map[string]any{
			"from_location_id": created.FromLocationID,
			"to_location_id":   created.ToLocationID,
			"items":            len(created.Items),
		})
	})
	if err != nil {
		return Transfer{}, shared.TranslateDBError(err)
	}
	s.observe(ctx, StatusRequested)
	return created, nil
}

func validateCreate(input *CreateInput) error {
	switch {
	case input.FromLocationID == 0:
		return shared.Invalid("from_location_id", "source location required")
	case input.ToLocationID == 0:
		return shared.Invalid("to_location_id", "destination location required")
	case input.FromLocationID == input.ToLocationID:
		return shared.Invalid("to_location_id", "destination must differ from source")
	case input.RequestedBy == 0:
		return shared.Invalid("requested_by", "requester required")
	case len(input.Items) == 0:
		return shared.Invalid("items", "at least one item required")
	}
	if input.Priority == "" {
		input.Priority = PriorityNormal
	}
	if !input.Priority.Valid() {
		return shared.Invalid("priority", fmt.Sprintf("unknown priority %q", input.Priority))
	}
	seen := make(map[int64]struct{}, len(input.Items))
	for i, item := range input.Items {
		if item.ProductID == 0 {
			return shared.InvalidItem(i+1, "product_id", "product required")
		}
		if item.Quantity <= 0 {
			return shared.InvalidItem(i+1, "quantity", "quantity must be positive")
		}
		if _, dup := seen[item.ProductID]; dup {
			return shared.InvalidItem(i+1, "product_id", "product listed twice")
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}

// Approve checks source availability for every item and approves the request
// only when all of them can be covered. The ledger is not touched.
func (s *Service) Approve(ctx context.Context, input ActionInput) (Transfer, error) {
	if err := validateAction(input); err != nil {
		return Transfer{}, err
	}
	return s.transition(ctx, input.TenantID, input.TransferID, ActionApprove, func(ctx context.Context, t *Transfer) error {
		for i, item := range t.Items {
			line, err := s.ledger.GetStock(ctx, t.TenantID, item.ProductID, t.FromLocationID)
			if err != nil {
				return err
			}
			if line.Available() < item.RequestedQuantity {
				return shared.InsufficientStock(i+1, item.ProductID, t.FromLocationID, line.Available(), item.RequestedQuantity)
			}
		}
		now := s.now()
		for i := range t.Items {
			qty := t.Items[i].RequestedQuantity
			t.Items[i].ApprovedQuantity = &qty
		}
		t.ApprovedBy = &input.ActorID
		t.ApprovedAt = &now
		if input.Notes != "" {
			t.Notes = input.Notes
		}
		if err := s.recordApproval(ctx, *t, input.ActorID, shared.ApprovalApprove, input.Notes); err != nil {
			return err
		}
		return s.recordAudit(ctx, *t, input.ActorID, "TRANSFER_APPROVE", nil)
	})
}

// Ship debits the source location with one transfer_out movement per item.
func (s *Service) Ship(ctx context.Context, input ShipInput) (Transfer, error) {
	if err := validateAction(input.ActionInput); err != nil {
		return Transfer{}, err
	}
	return s.transition(ctx, input.TenantID, input.TransferID, ActionShip, func(ctx context.Context, t *Transfer) error {
		for i := range t.Items {
			item := &t.Items[i]
			qty := item.RequestedQuantity
			if item.ApprovedQuantity != nil {
				qty = *item.ApprovedQuantity
			}
			if _, err := s.ledger.ApplyMovement(ctx, inventory.MovementInput{
				TenantID:   t.TenantID,
				ProductID:  item.ProductID,
				LocationID: t.FromLocationID,
				Kind:       inventory.MovementTransferOut,
				Quantity:   qty,
				Reference:  inventory.Reference{Type: inventory.ReferenceTransfer, ID: t.Number},
				ActorID:    input.ActorID,
				Note:       fmt.Sprintf("Transfer %s to location %d", t.Number, t.ToLocationID),
			}); err != nil {
				return shared.WithItem(err, i+1)
			}
			item.ShippedQuantity = &qty
		}
		now := s.now()
		t.ShippedBy = &input.ActorID
		t.ShippedAt = &now
		t.TrackingInfo = input.TrackingInfo
		return s.recordAudit(ctx, *t, input.ActorID, "TRANSFER_SHIP", map[string]any{"tracking_info": input.TrackingInfo})
	})
}

// Receive credits the destination with the quantities actually counted.
// Over and short receipts are recorded on the items and do not block completion.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (Transfer, error) {
	if err := validateAction(input.ActionInput); err != nil {
		return Transfer{}, err
	}
	counted := make(map[int64]int64, len(input.Items))
	for i, item := range input.Items {
		if item.ProductID == 0 {
			return Transfer{}, shared.InvalidItem(i+1, "product_id", "product required")
		}
		if item.Quantity < 0 {
			return Transfer{}, shared.InvalidItem(i+1, "quantity", "quantity cannot be negative")
		}
		if _, dup := counted[item.ProductID]; dup {
			return Transfer{}, shared.InvalidItem(i+1, "product_id", "product listed twice")
		}
		counted[item.ProductID] = item.Quantity
	}
	return s.transition(ctx, input.TenantID, input.TransferID, ActionReceive, func(ctx context.Context, t *Transfer) error {
		known := make(map[int64]struct{}, len(t.Items))
		for _, item := range t.Items {
			known[item.ProductID] = struct{}{}
		}
		for i, item := range input.Items {
			if _, ok := known[item.ProductID]; !ok {
				return shared.InvalidItem(i+1, "product_id", "product is not part of the transfer")
			}
		}
		variances := make(map[string]int64)
		for i := range t.Items {
			item := &t.Items[i]
			var shipped int64
			if item.ShippedQuantity != nil {
				shipped = *item.ShippedQuantity
			}
			qty, ok := counted[item.ProductID]
			if !ok {
				qty = shipped
			}
			if qty > 0 {
				if _, err := s.ledger.ApplyMovement(ctx, inventory.MovementInput{
					TenantID:   t.TenantID,
					ProductID:  item.ProductID,
					LocationID: t.ToLocationID,
					Kind:       inventory.MovementTransferIn,
					Quantity:   qty,
					Reference:  inventory.Reference{Type: inventory.ReferenceTransfer, ID: t.Number},
					ActorID:    input.ActorID,
					Note:       fmt.Sprintf("Transfer %s from location %d", t.Number, t.FromLocationID),
				}); err != nil {
					return shared.WithItem(err, i+1)
				}
			}
			item.ReceivedQuantity = &qty
			if v := item.Variance(); v != 0 {
				variances[strconv.FormatInt(item.ProductID, 10)] = v
			}
		}
		now := s.now()
		t.ReceivedBy = &input.ActorID
		t.ReceivedAt = &now
		if input.Notes != "" {
			t.Notes = input.Notes
		}
		meta := map[string]any{}
		if len(variances) > 0 {
			meta["variances"] = variances
		}
		return s.recordAudit(ctx, *t, input.ActorID, "TRANSFER_RECEIVE", meta)
	})
}

// Reject closes a request that was never approved.
func (s *Service) Reject(ctx context.Context, input RejectInput) (Transfer, error) {
	if err := validateAction(input.ActionInput); err != nil {
		return Transfer{}, err
	}
	if input.Reason == "" {
		return Transfer{}, shared.Invalid("reason", "rejection reason required")
	}
	return s.transition(ctx, input.TenantID, input.TransferID, ActionReject, func(ctx context.Context, t *Transfer) error {
		now := s.now()
		t.RejectedBy = &input.ActorID
		t.RejectedAt = &now
		t.RejectionReason = input.Reason
		if err := s.recordApproval(ctx, *t, input.ActorID, shared.ApprovalReject, input.Reason); err != nil {
			return err
		}
		return s.recordAudit(ctx, *t, input.ActorID, "TRANSFER_REJECT", map[string]any{"reason": input.Reason})
	})
}

// Get loads a transfer with its items.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Transfer, error) {
	if id <= 0 {
		return Transfer{}, shared.Invalid("id", "transfer id required")
	}
	return s.repo.Get(ctx, tenantID, id)
}

// List pages through transfers newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, shared.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, shared.Invalid("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// transition locks the transfer, resolves the next status through the
// transition table, lets apply mutate the transfer and persists the result
// with a status and version guard. Everything runs in one transaction.
func (s *Service) transition(ctx context.Context, tenantID, id int64, action Action, apply func(context.Context, *Transfer) error) (Transfer, error) {
	var result Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.Lock(ctx, tenantID, id)
		if err != nil {
			return err
		}
		next, err := Next(t.Status, action)
		if err != nil {
			return err
		}
		if err := apply(ctx, &t); err != nil {
			return err
		}
		expected := t.Status
		t.Status = next
		if err := tx.UpdateTransition(ctx, t, expected); err != nil {
			return err
		}
		if err := tx.UpdateItems(ctx, t.ID, t.Items); err != nil {
			return err
		}
		t.Version++
		result = t
		return nil
	})
	if err != nil {
		return Transfer{}, shared.TranslateDBError(err)
	}
	s.observe(ctx, result.Status)
	return result, nil
}

func validateAction(input ActionInput) error {
	switch {
	case input.TransferID <= 0:
		return shared.Invalid("id", "transfer id required")
	case input.ActorID == 0:
		return shared.Invalid("actor_id", "actor required")
	}
	return nil
}

func (s *Service) observe(ctx context.Context, to Status) {
	if s.observer == nil {
		return
	}
	db.AfterCommit(ctx, func() { s.observer.ObserveTransition("transfer", string(to)) })
}

func (s *Service) recordApproval(ctx context.Context, t Transfer, actorID int64, action shared.ApprovalAction, note string) error {
	if s.approvals == nil {
		return nil
	}
	return s.approvals.Record(ctx, shared.ApprovalLog{
		TenantID: t.TenantID,
		Module:   approvalModule,
		RefID:    shared.ApprovalRef(approvalModule, t.TenantID, t.ID),
		ActorID:  actorID,
		Action:   action,
		Note:     note,
		At:       s.now(),
	})
}

func (s *Service) recordAudit(ctx context.Context, t Transfer, actorID int64, action string, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = t.Number
	return s.audit.Record(ctx, shared.AuditLog{
		TenantID: t.TenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: strconv.FormatInt(t.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
