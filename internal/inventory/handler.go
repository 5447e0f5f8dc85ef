package inventory

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires HTTP endpoints for the ledger and alert evaluator.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	snapshots *AlertSnapshots
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, snapshots *AlertSnapshots, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, snapshots: snapshots, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers stock and alert routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermStockView))
			r.Get("/{productID}", h.handleStockAcrossLocations)
			r.Get("/{productID}/{locationID}", h.handleStock)
			r.Get("/{productID}/{locationID}/movements", h.handleMovements)
			r.Get("/{productID}/{locationID}/reconcile", h.handleReconcile)
		})
		r.With(h.rbac.RequireAll(shared.PermStockMovementPost)).Post("/movements", h.handlePostMovement)
		r.With(h.rbac.RequireAll(shared.PermStockThresholdEdit)).Put("/{productID}/{locationID}/thresholds", h.handleThresholds)
	})
	r.Route("/alerts", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockView))
		r.Get("/", h.handleAlerts)
		r.Get("/summary", h.handleAlertSummary)
	})
}

type movementRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	LocationID  int64           `json:"location_id" validate:"required,gt=0"`
	Kind        string          `json:"kind" validate:"required,oneof=receipt transfer_out transfer_in adjustment_increase adjustment_decrease"`
	Quantity    int64           `json:"quantity" validate:"required,gt=0"`
	ReferenceID string          `json:"reference_id" validate:"max=64"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	BatchNumber string          `json:"batch_number" validate:"max=64"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
	Note        string          `json:"note" validate:"max=500"`
}

type thresholdRequest struct {
	MinThreshold int64 `json:"min_threshold" validate:"gte=0"`
	MaxThreshold int64 `json:"max_threshold" validate:"gte=0"`
}

func (h *Handler) handlePostMovement(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req movementRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	movement, err := h.service.PostManualMovement(r.Context(), MovementInput{
		TenantID:    actor.TenantID,
		ProductID:   req.ProductID,
		LocationID:  req.LocationID,
		Kind:        MovementKind(req.Kind),
		Quantity:    req.Quantity,
		Reference:   Reference{Type: ReferenceManual, ID: req.ReferenceID},
		ActorID:     actor.UserID,
		UnitCost:    req.UnitCost,
		BatchNumber: req.BatchNumber,
		ExpiryDate:  req.ExpiryDate,
		Note:        req.Note,
	}, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.fail(w, "post movement", err)
		return
	}
	h.logger.Info("stock movement posted",
		slog.Int64("movement_id", movement.ID),
		slog.String("kind", string(movement.Kind)),
		slog.Int64("product_id", movement.ProductID),
		slog.Int64("location_id", movement.LocationID),
		slog.Int64("quantity", movement.Quantity))
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	productID, locationID, err := lineParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.GetStock(r.Context(), actor.TenantID, productID, locationID)
	if err != nil {
		h.fail(w, "get stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) handleStockAcrossLocations(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	productID, err := httpx.PathInt64(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.service.GetStockAcrossLocations(r.Context(), actor.TenantID, productID)
	if err != nil {
		h.fail(w, "get stock across locations", err)
		return
	}
	if lines == nil {
		lines = []StockLine{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": productID, "lines": lines})
}

func (h *Handler) handleThresholds(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	productID, locationID, err := lineParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req thresholdRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.SetThresholds(r.Context(), ThresholdInput{
		TenantID:     actor.TenantID,
		ProductID:    productID,
		LocationID:   locationID,
		MinThreshold: req.MinThreshold,
		MaxThreshold: req.MaxThreshold,
	})
	if err != nil {
		h.fail(w, "set thresholds", err)
		return
	}
	httpx.JSON(w, http.StatusOK, line)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	productID, locationID, err := lineParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := httpx.QueryTime(r, "from", false)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.QueryTime(r, "to", true)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.QueryInt64(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movements, err := h.service.ListMovements(r.Context(), MovementFilter{
		TenantID:   actor.TenantID,
		ProductID:  productID,
		LocationID: locationID,
		From:       from,
		To:         to,
		Limit:      int(limit),
	})
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	if movements == nil {
		movements = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	productID, locationID, err := lineParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Reconcile(r.Context(), actor.TenantID, productID, locationID)
	if err != nil {
		h.fail(w, "reconcile stock", err)
		return
	}
	if !rec.Consistent {
		h.logger.Warn("stock line drifted from movement log",
			slog.Int64("product_id", productID),
			slog.Int64("location_id", locationID),
			slog.Int64("on_hand", rec.QuantityOnHand),
			slog.Int64("movement_sum", rec.MovementSum))
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	locationID, err := httpx.QueryInt64(r, "locationId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	query := AlertQuery{TenantID: actor.TenantID, LocationID: locationID}
	if raw := r.URL.Query().Get("type"); raw != "" {
		if query.Type, err = ParseAlertType(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	alerts, err := h.service.EvaluateAlerts(r.Context(), query)
	if err != nil {
		h.fail(w, "evaluate alerts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handler) handleAlertSummary(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	summary, err := h.snapshots.Get(r.Context(), actor.TenantID)
	if err != nil {
		h.fail(w, "alert summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	} else {
		h.logger.Info(op+" rejected", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func lineParams(r *http.Request) (int64, int64, error) {
	productID, err := httpx.PathInt64(r, "productID")
	if err != nil {
		return 0, 0, err
	}
	locationID, err := httpx.PathInt64(r, "locationID")
	if err != nil {
		return 0, 0, err
	}
	return productID, locationID, nil
}
