package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockLine(ctx context.Context, tenantID, productID, locationID int64) (StockLine, error)
	ListStockLines(ctx context.Context, filter StockLineFilter) ([]StockLine, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	SumMovements(ctx context.Context, tenantID, productID, locationID int64) (sum int64, count int64, err error)
	ListLineActivity(ctx context.Context, tenantID, locationID int64, since time.Time) (map[StockKey]LineActivity, error)
}

// IdempotencyPort guards manual postings against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, tenantID int64, key, module string) error
}

// Observer receives committed movements, typically for metrics.
type Observer interface {
	ObserveMovement(kind string, quantity int64)
}

// Service is the single entry point that mutates stock lines.
type Service struct {
	repo     RepositoryPort
	idem     IdempotencyPort
	observer Observer
	cfg      ServiceConfig
	now      func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock     bool
	NegativeStockLocations []int64
	Alerts                 AlertPolicy
}

// NewService builds Service.
func NewService(repo RepositoryPort, idem IdempotencyPort, cfg ServiceConfig, observer Observer) *Service {
	return &Service{repo: repo, idem: idem, observer: observer, cfg: cfg.withDefaults(), now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.Alerts.ExpiryHorizon <= 0 {
		c.Alerts.ExpiryHorizon = DefaultExpiryHorizon
	}
	if c.Alerts.SlowMovingWindow <= 0 {
		c.Alerts.SlowMovingWindow = DefaultSlowMovingWindow
	}
	return c
}

func (s *Service) allowNegative(locationID int64) bool {
	return s.cfg.AllowNegativeStock || slices.Contains(s.cfg.NegativeStockLocations, locationID)
}

// ApplyMovement validates and applies one movement. The movement insert and the
// stock line update share a transaction; a transaction already present in ctx
// is joined so callers can batch several movements atomically.
func (s *Service) ApplyMovement(ctx context.Context, input MovementInput) (Movement, error) {
	if err := validateMovement(input); err != nil {
		return Movement{}, err
	}
	var applied Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, err := tx.LockStockLine(ctx, input.TenantID, input.ProductID, input.LocationID)
		if err != nil {
			return err
		}
		if input.ExpectedBefore != nil && *input.ExpectedBefore != line.QuantityOnHand {
			return shared.StaleStock(0, input.ProductID, input.LocationID, *input.ExpectedBefore, line.QuantityOnHand)
		}
		before := line.QuantityOnHand
		if !fitsQuantity(before, input.Kind.Sign()*input.Quantity) {
			return shared.Invalid("quantity", "quantity would overflow the stock line")
		}
		after := before + input.Kind.Sign()*input.Quantity
		if input.Kind.Decreases() && !s.allowNegative(input.LocationID) {
			if after < 0 || after-line.ReservedQuantity < 0 {
				return shared.InsufficientStock(0, input.ProductID, input.LocationID, line.Available(), input.Quantity)
			}
		}
		now := s.now()
		applied, err = tx.InsertMovement(ctx, Movement{
			TenantID:       input.TenantID,
			ProductID:      input.ProductID,
			LocationID:     input.LocationID,
			Kind:           input.Kind,
			Quantity:       input.Quantity,
			QuantityBefore: before,
			QuantityAfter:  after,
			ReferenceType:  input.Reference.Type,
			ReferenceID:    input.Reference.ID,
			ActorID:        input.ActorID,
			UnitCost:       input.UnitCost,
			BatchNumber:    input.BatchNumber,
			ExpiryDate:     input.ExpiryDate,
			Note:           input.Note,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		line.QuantityOnHand = after
		line.LastMovementAt = &now
		line.UpdatedAt = now
		if err := tx.UpdateStockQuantity(ctx, line); err != nil {
			return err
		}
		if s.observer != nil {
			kind, qty := string(applied.Kind), applied.Quantity
			db.AfterCommit(ctx, func() { s.observer.ObserveMovement(kind, qty) })
		}
		return nil
	})
	if err != nil {
		return Movement{}, shared.TranslateDBError(err)
	}
	return applied, nil
}

// PostManualMovement applies a movement requested directly by an operator. A
// non-empty idempotency key is recorded in the same transaction so a replayed
// request fails with shared.ErrIdempotencyConflict and applies nothing.
func (s *Service) PostManualMovement(ctx context.Context, input MovementInput, idempotencyKey string) (Movement, error) {
	input.Reference.Type = ReferenceManual
	if input.Reference.ID == "" {
		input.Reference.ID = idempotencyKey
	}
	if input.Reference.ID == "" {
		input.Reference.ID = fmt.Sprintf("MAN-%d", s.now().UnixNano())
	}
	if err := validateMovement(input); err != nil {
		return Movement{}, err
	}
	if idempotencyKey == "" || s.idem == nil {
		return s.ApplyMovement(ctx, input)
	}
	var applied Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, _ TxRepository) error {
		if err := s.idem.CheckAndInsert(ctx, input.TenantID, "MOV:"+idempotencyKey, "inventory"); err != nil {
			return err
		}
		var err error
		applied, err = s.ApplyMovement(ctx, input)
		return err
	})
	if err != nil {
		return Movement{}, shared.TranslateDBError(err)
	}
	return applied, nil
}

func validateMovement(input MovementInput) error {
	switch {
	case input.TenantID == 0:
		return shared.Invalid("tenant_id", "tenant required")
	case input.ProductID == 0:
		return shared.Invalid("product_id", "product required")
	case input.LocationID == 0:
		return shared.Invalid("location_id", "location required")
	case !input.Kind.Valid():
		return shared.Invalid("kind", fmt.Sprintf("unknown movement kind %q", input.Kind))
	case input.Quantity <= 0:
		return shared.Invalid("quantity", "quantity must be positive")
	case input.Reference.Type == "":
		return shared.Invalid("reference_type", "reference required")
	case input.UnitCost.IsNegative():
		return shared.Invalid("unit_cost", "unit cost cannot be negative")
	}
	return nil
}

// fitsQuantity reports whether before+delta stays inside int64.
func fitsQuantity(before, delta int64) bool {
	if delta > 0 {
		return before <= math.MaxInt64-delta
	}
	return before >= math.MinInt64-delta
}

// GetStock returns the line for a product at a location. A line that never
// saw a movement is reported with zero quantities.
func (s *Service) GetStock(ctx context.Context, tenantID, productID, locationID int64) (StockLine, error) {
	if productID == 0 || locationID == 0 {
		return StockLine{}, shared.Invalid("product_id", "product and location required")
	}
	line, err := s.repo.GetStockLine(ctx, tenantID, productID, locationID)
	if errors.Is(err, ErrLineNotFound) {
		return StockLine{TenantID: tenantID, ProductID: productID, LocationID: locationID}, nil
	}
	return line, err
}

// GetStockAcrossLocations lists every line held for a product.
func (s *Service) GetStockAcrossLocations(ctx context.Context, tenantID, productID int64) ([]StockLine, error) {
	if productID == 0 {
		return nil, shared.Invalid("product_id", "product required")
	}
	return s.repo.ListStockLines(ctx, StockLineFilter{TenantID: tenantID, ProductID: productID})
}

// SetThresholds updates min/max for a line without touching quantities.
func (s *Service) SetThresholds(ctx context.Context, input ThresholdInput) (StockLine, error) {
	switch {
	case input.ProductID == 0 || input.LocationID == 0:
		return StockLine{}, shared.Invalid("product_id", "product and location required")
	case input.MinThreshold < 0:
		return StockLine{}, shared.Invalid("min_threshold", "must not be negative")
	case input.MaxThreshold < 0:
		return StockLine{}, shared.Invalid("max_threshold", "must not be negative")
	case input.MaxThreshold > 0 && input.MaxThreshold < input.MinThreshold:
		return StockLine{}, shared.Invalid("max_threshold", "must be zero or at least min_threshold")
	}
	var updated StockLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, err := tx.LockStockLine(ctx, input.TenantID, input.ProductID, input.LocationID)
		if err != nil {
			return err
		}
		line.MinThreshold = input.MinThreshold
		line.MaxThreshold = input.MaxThreshold
		line.UpdatedAt = s.now()
		if err := tx.UpdateThresholds(ctx, line); err != nil {
			return err
		}
		updated = line
		return nil
	})
	if err != nil {
		return StockLine{}, shared.TranslateDBError(err)
	}
	return updated, nil
}

// ListMovements returns the stock card of a line ordered by creation.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ProductID == 0 || filter.LocationID == 0 {
		return nil, shared.Invalid("product_id", "product and location required")
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, shared.Invalid("to", "must not be before from")
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 500
	}
	return s.repo.ListMovements(ctx, filter)
}

// Reconcile compares the stored on-hand quantity with the movement history.
func (s *Service) Reconcile(ctx context.Context, tenantID, productID, locationID int64) (Reconciliation, error) {
	line, err := s.GetStock(ctx, tenantID, productID, locationID)
	if err != nil {
		return Reconciliation{}, err
	}
	sum, count, err := s.repo.SumMovements(ctx, tenantID, productID, locationID)
	if err != nil {
		return Reconciliation{}, err
	}
	return Reconciliation{
		ProductID:      productID,
		LocationID:     locationID,
		QuantityOnHand: line.QuantityOnHand,
		MovementSum:    sum,
		MovementCount:  count,
		Consistent:     sum == line.QuantityOnHand,
	}, nil
}
