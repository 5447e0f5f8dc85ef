package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// AlertType classifies the health of a stock line.
type AlertType string

const (
	AlertNormal     AlertType = "normal"
	AlertLow        AlertType = "low"
	AlertOut        AlertType = "out"
	AlertOverstock  AlertType = "overstock"
	AlertExpiring   AlertType = "expiring"
	AlertSlowMoving AlertType = "slow_moving"
)

// AlertTypes lists every status and tag in reporting order.
var AlertTypes = []AlertType{AlertNormal, AlertLow, AlertOut, AlertOverstock, AlertExpiring, AlertSlowMoving}

// ParseAlertType validates a type received from a caller.
func ParseAlertType(raw string) (AlertType, error) {
	t := AlertType(raw)
	switch t {
	case AlertNormal, AlertLow, AlertOut, AlertOverstock, AlertExpiring, AlertSlowMoving:
		return t, nil
	}
	return "", shared.Invalid("type", fmt.Sprintf("unknown alert type %q", raw))
}

const (
	DefaultExpiryHorizon    = 30 * 24 * time.Hour
	DefaultSlowMovingWindow = 90 * 24 * time.Hour
)

// AlertPolicy configures the time based tags.
type AlertPolicy struct {
	ExpiryHorizon    time.Duration
	SlowMovingWindow time.Duration
}

// LineActivity summarises the movement log of a line for alert evaluation.
type LineActivity struct {
	FirstMovementAt *time.Time
	LastOutboundAt  *time.Time
	// NextExpiry is the earliest expiry date of a received batch that has not expired yet.
	NextExpiry *time.Time
}

// Alert is the classification of one stock line.
type Alert struct {
	ProductID      int64       `json:"product_id"`
	LocationID     int64       `json:"location_id"`
	QuantityOnHand int64       `json:"quantity_on_hand"`
	MinThreshold   int64       `json:"min_threshold"`
	MaxThreshold   int64       `json:"max_threshold"`
	Status         AlertType   `json:"status"`
	Tags           []AlertType `json:"tags"`
	NextExpiry     *time.Time  `json:"next_expiry,omitempty"`
	LastOutboundAt *time.Time  `json:"last_outbound_at,omitempty"`
}

// Has reports whether the alert carries t either as status or tag.
func (a Alert) Has(t AlertType) bool {
	for _, tag := range a.Tags {
		if tag == t {
			return true
		}
	}
	return false
}

// Classify returns the quantity based status of a line.
func Classify(line StockLine) AlertType {
	switch {
	case line.QuantityOnHand <= 0:
		return AlertOut
	case line.QuantityOnHand > 0 && line.QuantityOnHand <= line.MinThreshold:
		return AlertLow
	case line.MaxThreshold > 0 && line.QuantityOnHand > line.MaxThreshold:
		return AlertOverstock
	}
	return AlertNormal
}

// Evaluate classifies a line and adds the expiring and slow moving tags.
func Evaluate(line StockLine, activity LineActivity, policy AlertPolicy, now time.Time) Alert {
	status := Classify(line)
	alert := Alert{
		ProductID:      line.ProductID,
		LocationID:     line.LocationID,
		QuantityOnHand: line.QuantityOnHand,
		MinThreshold:   line.MinThreshold,
		MaxThreshold:   line.MaxThreshold,
		Status:         status,
		Tags:           []AlertType{status},
		NextExpiry:     activity.NextExpiry,
		LastOutboundAt: activity.LastOutboundAt,
	}
	if line.QuantityOnHand <= 0 {
		return alert
	}
	if activity.NextExpiry != nil && !activity.NextExpiry.After(now.Add(policy.ExpiryHorizon)) {
		alert.Tags = append(alert.Tags, AlertExpiring)
	}
	idleSince := activity.LastOutboundAt
	if idleSince == nil {
		idleSince = activity.FirstMovementAt
	}
	if idleSince != nil && idleSince.Before(now.Add(-policy.SlowMovingWindow)) {
		alert.Tags = append(alert.Tags, AlertSlowMoving)
	}
	return alert
}

// AlertQuery filters EvaluateAlerts.
type AlertQuery struct {
	TenantID   int64
	LocationID int64
	Type       AlertType
}

// EvaluateAlerts classifies every line of the tenant, optionally narrowed to a
// location and to lines carrying the requested type.
func (s *Service) EvaluateAlerts(ctx context.Context, query AlertQuery) ([]Alert, error) {
	lines, err := s.repo.ListStockLines(ctx, StockLineFilter{TenantID: query.TenantID, LocationID: query.LocationID})
	if err != nil {
		return nil, err
	}
	now := s.now()
	activity, err := s.repo.ListLineActivity(ctx, query.TenantID, query.LocationID, now)
	if err != nil {
		return nil, err
	}
	alerts := make([]Alert, 0, len(lines))
	for _, line := range lines {
		alert := Evaluate(line, activity[line.Key()], s.cfg.Alerts, now)
		if query.Type != "" && !alert.Has(query.Type) {
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// AlertSummary is the tenant wide snapshot produced by the background scan.
type AlertSummary struct {
	TenantID    int64             `json:"tenant_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Lines       int               `json:"lines"`
	Counts      map[AlertType]int `json:"counts"`
	Alerts      []Alert           `json:"alerts"`
}

// Summarize evaluates every line of a tenant and keeps the lines that need attention.
func (s *Service) Summarize(ctx context.Context, tenantID int64) (AlertSummary, error) {
	alerts, err := s.EvaluateAlerts(ctx, AlertQuery{TenantID: tenantID})
	if err != nil {
		return AlertSummary{}, err
	}
	summary := AlertSummary{
		TenantID:    tenantID,
		GeneratedAt: s.now(),
		Lines:       len(alerts),
		Counts:      make(map[AlertType]int),
		Alerts:      []Alert{},
	}
	for _, alert := range alerts {
		for _, tag := range alert.Tags {
			summary.Counts[tag]++
		}
		if len(alert.Tags) > 1 || alert.Status != AlertNormal {
			summary.Alerts = append(summary.Alerts, alert)
		}
	}
	return summary, nil
}
