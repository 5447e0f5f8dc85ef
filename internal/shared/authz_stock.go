package shared

// Stock permissions checked by the RBAC middleware.
const (
	PermStockView          = "stock.view"
	PermStockMovementPost  = "stock.movement.post"
	PermStockThresholdEdit = "stock.threshold.edit"
	PermTransferRequest    = "stock.transfer.request"
	PermTransferApprove    = "stock.transfer.approve"
	PermTransferShip       = "stock.transfer.ship"
	PermTransferReceive    = "stock.transfer.receive"
	PermAdjustmentSubmit   = "stock.adjustment.submit"
	PermAdjustmentApprove  = "stock.adjustment.approve"
	PermReceiptPost        = "stock.receipt.post"
)

// StockScopes lists all permissions related to stock operations.
func StockScopes() []string {
	return []string{
		PermStockView,
		PermStockMovementPost,
		PermStockThresholdEdit,
		PermTransferRequest,
		PermTransferApprove,
		PermTransferShip,
		PermTransferReceive,
		PermAdjustmentSubmit,
		PermAdjustmentApprove,
		PermReceiptPost,
	}
}
