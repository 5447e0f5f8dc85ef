package adjustments

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires HTTP endpoints for stock adjustments.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs the adjustment handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers adjustment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/adjustments", func(r chi.Router) {
		r.With(h.rbac.RequireAll(shared.PermAdjustmentSubmit)).Post("/", h.handleSubmit)
		r.With(h.rbac.RequireAny(shared.PermStockView, shared.PermAdjustmentSubmit)).Get("/{id}", h.handleGet)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermAdjustmentApprove))
			r.Post("/{id}/approve", h.handleApprove)
			r.Post("/{id}/reject", h.handleReject)
		})
	})
}

type submitRequest struct {
	Date  string              `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Notes string              `json:"notes" validate:"max=1000"`
	Items []submitItemRequest `json:"items" validate:"required,min=1,dive"`
}

type submitItemRequest struct {
	ProductID  int64  `json:"product_id" validate:"required,gt=0"`
	LocationID int64  `json:"location_id" validate:"required,gt=0"`
	NewStock   int64  `json:"new_stock" validate:"gte=0"`
	Reason     string `json:"reason" validate:"required,max=255"`
}

type decisionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req submitRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := SubmitInput{TenantID: actor.TenantID, Notes: req.Notes, AdjustedBy: actor.UserID}
	if req.Date != "" {
		input.Date, _ = time.Parse("2006-01-02", req.Date)
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, ItemInput{ProductID: it.ProductID, LocationID: it.LocationID, NewStock: it.NewStock, Reason: it.Reason})
	}
	adj, err := h.service.Submit(r.Context(), input)
	if err != nil {
		h.fail(w, "submit adjustment", err)
		return
	}
	h.logger.Info("adjustment submitted", slog.Int64("adjustment_id", adj.ID), slog.String("number", adj.Number))
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	adj, err := h.service.Get(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, "get adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "approve adjustment", h.service.Approve)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "reject adjustment", h.service.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, DecisionInput) (Adjustment, error)) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req decisionRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	adj, err := fn(r.Context(), DecisionInput{TenantID: actor.TenantID, AdjustmentID: id, ActorID: actor.UserID, Reason: req.Reason})
	if err != nil {
		h.fail(w, op, err)
		return
	}
	h.logger.Info(op, slog.Int64("adjustment_id", adj.ID), slog.String("status", string(adj.Status)))
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	} else {
		h.logger.Info(op+" rejected", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
