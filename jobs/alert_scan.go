package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DefaultScanLockTTL bounds how long one tenant scan may hold its lock.
const DefaultScanLockTTL = 2 * time.Minute

// SnapshotRefresher rebuilds and stores a tenant's alert summary.
type SnapshotRefresher interface {
	Refresh(ctx context.Context, tenantID int64) (inventory.AlertSummary, error)
}

// TenantSource lists tenants that hold stock.
type TenantSource interface {
	ListTenants(ctx context.Context) ([]int64, error)
}

// AlertScanJob refreshes alert snapshots, one tenant at a time under a
// Redis lock so overlapping runs skip tenants already being scanned.
type AlertScanJob struct {
	Snapshots SnapshotRefresher
	Tenants   TenantSource
	Locker    *redislock.Client
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	LockTTL   time.Duration
}

// NewAlertScanJob wires dependencies for the scan handler.
func NewAlertScanJob(snapshots SnapshotRefresher, tenants TenantSource, locker *redislock.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *AlertScanJob {
	return &AlertScanJob{
		Snapshots: snapshots,
		Tenants:   tenants,
		Locker:    locker,
		Logger:    logger,
		Metrics:   metrics,
		LockTTL:   DefaultScanLockTTL,
	}
}

// Handle processes TaskStockAlertScan tasks.
func (j *AlertScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Snapshots == nil {
		return errors.New("alert scan: handler not configured")
	}
	var payload AlertScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStockAlertScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("tenant_id", payload.TenantID))
	start := time.Now()
	tenants, err := j.tenants(ctx, payload)
	if err != nil {
		resultErr = err
		logger.Error("load scan tenants", slog.Any("error", err))
		return resultErr
	}

	scanned, skipped := 0, 0
	for _, tenantID := range tenants {
		ok, err := j.ScanTenant(ctx, tenantID)
		if err != nil {
			resultErr = err
			logger.Error("scan tenant", slog.Int64("scan_tenant", tenantID), slog.Any("error", err))
			return resultErr
		}
		if ok {
			scanned++
		} else {
			skipped++
		}
	}
	logger.Info("completed alert scan",
		slog.Int("tenants", scanned),
		slog.Int("skipped", skipped),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

// ScanTenant refreshes one tenant's snapshot. It reports false when another
// scan of the tenant holds the lock.
func (j *AlertScanJob) ScanTenant(ctx context.Context, tenantID int64) (bool, error) {
	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, shared.AlertScanLockKey(tenantID), j.lockTTL(), nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			j.logger().Info("alert scan already running", slog.Int64("tenant_id", tenantID))
			return false, nil
		}
		if err != nil {
			return false, err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				j.logger().Warn("release scan lock", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			}
		}()
	}
	summary, err := j.Snapshots.Refresh(ctx, tenantID)
	if err != nil {
		return false, err
	}
	types := make([]string, 0, len(inventory.AlertTypes))
	counts := make(map[string]int, len(summary.Counts))
	for _, typ := range inventory.AlertTypes {
		types = append(types, string(typ))
		counts[string(typ)] = summary.Counts[typ]
	}
	j.metrics().SetAlertCounts(tenantID, types, counts)
	return true, nil
}

func (j *AlertScanJob) tenants(ctx context.Context, payload AlertScanPayload) ([]int64, error) {
	if payload.TenantID > 0 {
		return []int64{payload.TenantID}, nil
	}
	if j.Tenants == nil {
		return nil, errors.New("alert scan: tenant source not configured")
	}
	return j.Tenants.ListTenants(ctx)
}

func (j *AlertScanJob) lockTTL() time.Duration {
	if j.LockTTL <= 0 {
		return DefaultScanLockTTL
	}
	return j.LockTTL
}

func (j *AlertScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AlertScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
