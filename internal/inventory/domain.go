package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// MovementReceipt records supplier stock arriving at a location.
	MovementReceipt MovementKind = "receipt"
	// MovementTransferOut debits the source location of a transfer.
	MovementTransferOut MovementKind = "transfer_out"
	// MovementTransferIn credits the destination location of a transfer.
	MovementTransferIn MovementKind = "transfer_in"
	// MovementAdjustmentIncrease raises stock after an approved count.
	MovementAdjustmentIncrease MovementKind = "adjustment_increase"
	// MovementAdjustmentDecrease lowers stock after an approved count.
	MovementAdjustmentDecrease MovementKind = "adjustment_decrease"
)

// Valid reports whether k is a known kind.
func (k MovementKind) Valid() bool {
	switch k {
	case MovementReceipt, MovementTransferOut, MovementTransferIn, MovementAdjustmentIncrease, MovementAdjustmentDecrease:
		return true
	}
	return false
}

// Decreases reports whether the kind debits stock.
func (k MovementKind) Decreases() bool {
	return k == MovementTransferOut || k == MovementAdjustmentDecrease
}

// Sign returns -1 for debits and +1 for credits.
func (k MovementKind) Sign() int64 {
	if k.Decreases() {
		return -1
	}
	return 1
}

// ReferenceType names the document that caused a movement.
type ReferenceType string

const (
	ReferenceTransfer     ReferenceType = "transfer"
	ReferenceGoodsReceipt ReferenceType = "goods_receipt"
	ReferenceAdjustment   ReferenceType = "adjustment"
	ReferenceManual       ReferenceType = "manual"
)

// Reference points at the source document of a movement.
type Reference struct {
	Type ReferenceType `json:"type"`
	ID   string        `json:"id"`
}

// StockKey identifies a stock line inside a tenant.
type StockKey struct {
	ProductID  int64
	LocationID int64
}

// StockLine is the current quantity of one product at one location.
type StockLine struct {
	TenantID         int64      `json:"tenant_id"`
	ProductID        int64      `json:"product_id"`
	LocationID       int64      `json:"location_id"`
	QuantityOnHand   int64      `json:"quantity_on_hand"`
	ReservedQuantity int64      `json:"reserved_quantity"`
	MinThreshold     int64      `json:"min_threshold"`
	MaxThreshold     int64      `json:"max_threshold"`
	LastMovementAt   *time.Time `json:"last_movement_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Available returns on-hand minus reserved.
func (l StockLine) Available() int64 {
	return l.QuantityOnHand - l.ReservedQuantity
}

// Key returns the line identity.
func (l StockLine) Key() StockKey {
	return StockKey{ProductID: l.ProductID, LocationID: l.LocationID}
}

// Movement is an immutable record of a single quantity change.
type Movement struct {
	ID             int64           `json:"id"`
	TenantID       int64           `json:"tenant_id"`
	ProductID      int64           `json:"product_id"`
	LocationID     int64           `json:"location_id"`
	Kind           MovementKind    `json:"kind"`
	Quantity       int64           `json:"quantity"`
	QuantityBefore int64           `json:"quantity_before"`
	QuantityAfter  int64           `json:"quantity_after"`
	ReferenceType  ReferenceType   `json:"reference_type"`
	ReferenceID    string          `json:"reference_id"`
	ActorID        int64           `json:"actor_id"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	BatchNumber    string          `json:"batch_number,omitempty"`
	ExpiryDate     *time.Time      `json:"expiry_date,omitempty"`
	Note           string          `json:"note,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SignedQuantity returns the quantity with the direction applied.
func (m Movement) SignedQuantity() int64 {
	return m.Kind.Sign() * m.Quantity
}

// MovementInput describes a request to change stock.
type MovementInput struct {
	TenantID    int64
	ProductID   int64
	LocationID  int64
	Kind        MovementKind
	Quantity    int64
	Reference   Reference
	ActorID     int64
	UnitCost    decimal.Decimal
	BatchNumber string
	ExpiryDate  *time.Time
	Note        string
	// ExpectedBefore, when set, must equal the on-hand quantity observed under
	// the row lock or the movement fails with shared.ErrStaleAdjustment.
	ExpectedBefore *int64
}

// MovementFilter filters movement history.
type MovementFilter struct {
	TenantID   int64
	ProductID  int64
	LocationID int64
	From       time.Time
	To         time.Time
	Limit      int
}

// StockLineFilter narrows stock line listings.
type StockLineFilter struct {
	TenantID   int64
	ProductID  int64
	LocationID int64
}

// Reconciliation compares a line with the sum of its movements.
type Reconciliation struct {
	ProductID      int64 `json:"product_id"`
	LocationID     int64 `json:"location_id"`
	QuantityOnHand int64 `json:"quantity_on_hand"`
	MovementSum    int64 `json:"movement_sum"`
	MovementCount  int64 `json:"movement_count"`
	Consistent     bool  `json:"consistent"`
}

// ThresholdInput configures min/max for a line.
type ThresholdInput struct {
	TenantID     int64
	ProductID    int64
	LocationID   int64
	MinThreshold int64
	MaxThreshold int64
}

// ErrLineNotFound indicates a missing stock line row.
var ErrLineNotFound = errors.New("inventory: stock line not found")
