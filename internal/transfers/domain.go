package transfers

import (
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Status is the transfer lifecycle state.
type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusShipped   Status = "shipped"
	StatusReceived  Status = "received"
	StatusRejected  Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusApproved, StatusShipped, StatusReceived, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further action is possible.
func (s Status) Terminal() bool {
	return s == StatusReceived || s == StatusRejected
}

// Action names a workflow step.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionShip    Action = "ship"
	ActionReceive Action = "receive"
)

// transitions is the only place allowed moves are declared.
var transitions = map[Status]map[Action]Status{
	StatusRequested: {ActionApprove: StatusApproved, ActionReject: StatusRejected},
	StatusApproved:  {ActionShip: StatusShipped},
	StatusShipped:   {ActionReceive: StatusReceived},
}

var actionTargets = map[Action]Status{
	ActionApprove: StatusApproved,
	ActionReject:  StatusRejected,
	ActionShip:    StatusShipped,
	ActionReceive: StatusReceived,
}

// Next resolves the status reached by applying action from the given status.
func Next(from Status, action Action) (Status, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	target, ok := actionTargets[action]
	if !ok {
		target = Status(action)
	}
	return "", shared.Transition("transfer", string(from), string(target))
}

// Priority orders transfer requests for the warehouse.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Transfer moves stock between two locations of a tenant.
type Transfer struct {
	ID              int64      `json:"id"`
	TenantID        int64      `json:"tenant_id"`
	Number          string     `json:"transfer_number"`
	FromLocationID  int64      `json:"from_location_id"`
	ToLocationID    int64      `json:"to_location_id"`
	Status          Status     `json:"status"`
	Priority        Priority   `json:"priority"`
	Items           []Item     `json:"items"`
	RequestedBy     int64      `json:"requested_by"`
	ApprovedBy      *int64     `json:"approved_by,omitempty"`
	ShippedBy       *int64     `json:"shipped_by,omitempty"`
	ReceivedBy      *int64     `json:"received_by,omitempty"`
	RejectedBy      *int64     `json:"rejected_by,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ShippedAt       *time.Time `json:"shipped_at,omitempty"`
	ReceivedAt      *time.Time `json:"received_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	TrackingInfo    string     `json:"tracking_info,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	Version         int64      `json:"version"`
}

// Item is one product line of a transfer.
type Item struct {
	ID                int64  `json:"id"`
	LineNo            int    `json:"line_no"`
	ProductID         int64  `json:"product_id"`
	RequestedQuantity int64  `json:"requested_quantity"`
	ApprovedQuantity  *int64 `json:"approved_quantity,omitempty"`
	ShippedQuantity   *int64 `json:"shipped_quantity,omitempty"`
	ReceivedQuantity  *int64 `json:"received_quantity,omitempty"`
}

// Variance returns received minus shipped, zero until both are known.
func (i Item) Variance() int64 {
	if i.ShippedQuantity == nil || i.ReceivedQuantity == nil {
		return 0
	}
	return *i.ReceivedQuantity - *i.ShippedQuantity
}

// CreateInput describes a transfer request.
type CreateInput struct {
	TenantID       int64
	FromLocationID int64
	ToLocationID   int64
	Priority       Priority
	Notes          string
	RequestedBy    int64
	Items          []ItemInput
}

// ItemInput is a requested product quantity.
type ItemInput struct {
	ProductID int64
	Quantity  int64
}

// ActionInput identifies the transfer and actor of a workflow step.
type ActionInput struct {
	TenantID   int64
	TransferID int64
	ActorID    int64
	Notes      string
}

// ShipInput carries the shipping details.
type ShipInput struct {
	ActionInput
	TrackingInfo string
}

// ReceiveInput carries the quantities counted at the destination. Items left
// out are assumed received in full.
type ReceiveInput struct {
	ActionInput
	Items []ReceivedItem
}

// ReceivedItem is the counted quantity of one product.
type ReceivedItem struct {
	ProductID int64
	Quantity  int64
}

// RejectInput carries the rejection reason.
type RejectInput struct {
	ActionInput
	Reason string
}

// ListFilter narrows ListTransfers.
type ListFilter struct {
	TenantID   int64
	Status     Status
	LocationID int64
	Page       int
	PerPage    int
}
