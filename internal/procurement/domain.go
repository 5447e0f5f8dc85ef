package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// POStatus is the fulfilment state of a purchase order.
type POStatus string

const (
	POStatusOpen     POStatus = "open"
	POStatusPartial  POStatus = "partial"
	POStatusReceived POStatus = "received"
)

// GRNStatus is the lifecycle state of a goods receipt.
type GRNStatus string

const (
	GRNStatusDraft     GRNStatus = "draft"
	GRNStatusPosted    GRNStatus = "posted"
	GRNStatusCancelled GRNStatus = "cancelled"
)

// GRNAction names a goods receipt operation.
type GRNAction string

const (
	GRNActionFinalize GRNAction = "finalize"
	GRNActionCancel   GRNAction = "cancel"
)

var grnTransitions = map[GRNStatus]map[GRNAction]GRNStatus{
	GRNStatusDraft: {
		GRNActionFinalize: GRNStatusPosted,
		GRNActionCancel:   GRNStatusCancelled,
	},
}

// NextGRN resolves the target status of action from status.
func NextGRN(from GRNStatus, action GRNAction) (GRNStatus, error) {
	if to, ok := grnTransitions[from][action]; ok {
		return to, nil
	}
	return from, shared.Transition("goods receipt", string(from), string(action))
}

// PurchaseOrder is the minimal order a goods receipt can fulfil.
type PurchaseOrder struct {
	ID           int64      `json:"id"`
	TenantID     int64      `json:"tenant_id"`
	Number       string     `json:"po_number"`
	SupplierID   int64      `json:"supplier_id"`
	Status       POStatus   `json:"status"`
	ExpectedDate *time.Time `json:"expected_date,omitempty"`
	Note         string     `json:"note,omitempty"`
	CreatedBy    int64      `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	Lines        []POLine   `json:"lines"`
}

// POLine is an ordered product with the quantity received so far.
type POLine struct {
	ID          int64           `json:"id"`
	LineNo      int             `json:"line_no"`
	ProductID   int64           `json:"product_id"`
	OrderedQty  int64           `json:"ordered_quantity"`
	ReceivedQty int64           `json:"received_quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Remaining returns the quantity still expected on the line.
func (l POLine) Remaining() int64 {
	if l.ReceivedQty >= l.OrderedQty {
		return 0
	}
	return l.OrderedQty - l.ReceivedQty
}

// FulfilmentStatus derives the order status from its lines.
func FulfilmentStatus(lines []POLine) POStatus {
	var received, complete int
	for _, l := range lines {
		if l.ReceivedQty > 0 {
			received++
		}
		if l.Remaining() == 0 {
			complete++
		}
	}
	switch {
	case len(lines) > 0 && complete == len(lines):
		return POStatusReceived
	case received > 0:
		return POStatusPartial
	default:
		return POStatusOpen
	}
}

// GoodsReceipt records inbound goods before they are posted to the ledger.
type GoodsReceipt struct {
	ID          int64      `json:"id"`
	TenantID    int64      `json:"tenant_id"`
	Number      string     `json:"receipt_number"`
	SupplierID  int64      `json:"supplier_id"`
	POID        *int64     `json:"purchase_order_id,omitempty"`
	Status      GRNStatus  `json:"status"`
	ReceivedAt  time.Time  `json:"received_at"`
	Note        string     `json:"note,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	PostedBy    *int64     `json:"posted_by,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	CancelledBy *int64     `json:"cancelled_by,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Version     int64      `json:"version"`
	Lines       []GRNLine  `json:"items"`
}

// GRNLine describes received goods for one stock line.
type GRNLine struct {
	ID          int64           `json:"id"`
	LineNo      int             `json:"line_no"`
	ProductID   int64           `json:"product_id"`
	LocationID  int64           `json:"location_id"`
	Qty         int64           `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	BatchNumber string          `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
}

// CreatePOInput describes a purchase order.
type CreatePOInput struct {
	TenantID     int64
	Number       string
	SupplierID   int64
	ExpectedDate *time.Time
	Note         string
	CreatedBy    int64
	Lines        []POLineInput
}

// POLineInput is one ordered product.
type POLineInput struct {
	ProductID int64
	Qty       int64
	UnitPrice decimal.Decimal
}

// CreateGRNInput describes a draft goods receipt.
type CreateGRNInput struct {
	TenantID   int64
	Number     string
	SupplierID int64
	POID       *int64
	ReceivedAt time.Time
	Note       string
	CreatedBy  int64
	Lines      []GRNLineInput
}

// GRNLineInput is one received product.
type GRNLineInput struct {
	ProductID   int64
	LocationID  int64
	Qty         int64
	UnitCost    decimal.Decimal
	BatchNumber string
	ExpiryDate  *time.Time
}

// GRNActionInput identifies a receipt and the acting user.
type GRNActionInput struct {
	TenantID  int64
	ReceiptID int64
	ActorID   int64
}
