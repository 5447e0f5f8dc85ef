package adjustments

import (
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Status is the adjustment lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Action names a workflow step.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

var transitions = map[Status]map[Action]Status{
	StatusPending: {ActionApprove: StatusApproved, ActionReject: StatusRejected},
}

// Next resolves the status reached by applying action.
func Next(from Status, action Action) (Status, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	target := StatusApproved
	if action == ActionReject {
		target = StatusRejected
	}
	return "", shared.Transition("adjustment", string(from), string(target))
}

// Adjustment corrects recorded stock after a physical count.
type Adjustment struct {
	ID              int64      `json:"id"`
	TenantID        int64      `json:"tenant_id"`
	Number          string     `json:"adjustment_number"`
	Date            time.Time  `json:"date"`
	Status          Status     `json:"status"`
	Items           []Item     `json:"items"`
	AdjustedBy      int64      `json:"adjusted_by"`
	ApprovedBy      *int64     `json:"approved_by,omitempty"`
	RejectedBy      *int64     `json:"rejected_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Version         int64      `json:"version"`
}

// Item is one counted line. CurrentStock is the ledger quantity seen at
// submission and Delta is NewStock minus CurrentStock.
type Item struct {
	ID           int64  `json:"id"`
	LineNo       int    `json:"line_no"`
	ProductID    int64  `json:"product_id"`
	LocationID   int64  `json:"location_id"`
	CurrentStock int64  `json:"current_stock"`
	NewStock     int64  `json:"new_stock"`
	Delta        int64  `json:"delta"`
	Reason       string `json:"reason"`
}

// SubmitInput describes a counted adjustment.
type SubmitInput struct {
	TenantID   int64
	Date       time.Time
	Notes      string
	AdjustedBy int64
	Items      []ItemInput
}

// ItemInput is the counted quantity of one line.
type ItemInput struct {
	ProductID  int64
	LocationID int64
	NewStock   int64
	Reason     string
}

// DecisionInput approves or rejects an adjustment.
type DecisionInput struct {
	TenantID     int64
	AdjustmentID int64
	ActorID      int64
	Reason       string
}
