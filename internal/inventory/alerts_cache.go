package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// DefaultSnapshotTTL bounds how long a stored alert summary is served.
const DefaultSnapshotTTL = 10 * time.Minute

// RebuildTimeout bounds a shared snapshot rebuild, which runs detached from
// the cancellation of the caller that started it.
const RebuildTimeout = time.Minute

// SummaryBuilder produces a fresh alert summary.
type SummaryBuilder interface {
	Summarize(ctx context.Context, tenantID int64) (AlertSummary, error)
}

// AlertSnapshots stores alert summaries in Redis and coalesces concurrent rebuilds.
type AlertSnapshots struct {
	client  *redis.Client
	ttl     time.Duration
	builder SummaryBuilder
	group   singleflight.Group
}

// NewAlertSnapshots constructs the snapshot store.
func NewAlertSnapshots(client *redis.Client, builder SummaryBuilder, ttl time.Duration) *AlertSnapshots {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &AlertSnapshots{client: client, builder: builder, ttl: ttl}
}

// Load returns the stored snapshot, reporting false when none is cached.
func (c *AlertSnapshots) Load(ctx context.Context, tenantID int64) (AlertSummary, bool, error) {
	if c == nil || c.client == nil {
		return AlertSummary{}, false, nil
	}
	payload, err := c.client.Get(ctx, shared.AlertSnapshotKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return AlertSummary{}, false, nil
	}
	if err != nil {
		return AlertSummary{}, false, err
	}
	var summary AlertSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return AlertSummary{}, false, err
	}
	return summary, true, nil
}

// Store writes a snapshot with the configured TTL.
func (c *AlertSnapshots) Store(ctx context.Context, summary AlertSummary) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, shared.AlertSnapshotKey(summary.TenantID), raw, c.ttl).Err()
}

// Refresh rebuilds and stores the snapshot of a tenant. Concurrent callers for
// the same tenant share one evaluation.
func (c *AlertSnapshots) Refresh(ctx context.Context, tenantID int64) (AlertSummary, error) {
	ch := c.group.DoChan(strconv.FormatInt(tenantID, 10), func() (interface{}, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RebuildTimeout)
		defer cancel()
		summary, err := c.builder.Summarize(buildCtx, tenantID)
		if err != nil {
			return nil, err
		}
		if err := c.Store(buildCtx, summary); err != nil {
			return nil, err
		}
		return summary, nil
	})
	select {
	case <-ctx.Done():
		return AlertSummary{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return AlertSummary{}, res.Err
		}
		return res.Val.(AlertSummary), nil
	}
}

// Get serves the cached snapshot or rebuilds it on a miss.
func (c *AlertSnapshots) Get(ctx context.Context, tenantID int64) (AlertSummary, error) {
	summary, ok, err := c.Load(ctx, tenantID)
	if err != nil {
		return AlertSummary{}, err
	}
	if ok {
		return summary, nil
	}
	return c.Refresh(ctx, tenantID)
}
