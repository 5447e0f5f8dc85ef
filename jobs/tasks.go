package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockAlertScan evaluates stock alerts and stores a snapshot per tenant.
	TaskStockAlertScan = "stock:alert-scan"
	// TaskIdempotencyCleanup purges idempotency keys past retention.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

// AlertScanPayload narrows a scan to one tenant. Zero scans every tenant.
type AlertScanPayload struct {
	TenantID int64 `json:"tenant_id,omitempty"`
}

// NewAlertScanTask constructs an Asynq task for the alert scan.
func NewAlertScanTask(tenantID int64) (*asynq.Task, error) {
	body, err := json.Marshal(AlertScanPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockAlertScan, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask builds the retention cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
