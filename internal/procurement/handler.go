package procurement

import (
	"context"
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

const dateLayout = "2006-01-02"

// Handler manages purchase order and goods receipt endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockView, shared.PermReceiptPost))
		r.Get("/purchase-orders/{id}", h.getPO)
		r.Get("/goods-receipts/{id}", h.getGRN)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermReceiptPost))
		r.Post("/purchase-orders", h.createPO)
		r.Post("/goods-receipts", h.createGRN)
		r.Post("/goods-receipts/{id}/finalize", h.finalizeGRN)
		r.Post("/goods-receipts/{id}/cancel", h.cancelGRN)
	})
}

type createPORequest struct {
	Number       string          `json:"po_number" validate:"max=64"`
	SupplierID   int64           `json:"supplier_id" validate:"required,gt=0"`
	ExpectedDate string          `json:"expected_date" validate:"omitempty,datetime=2006-01-02"`
	Note         string          `json:"note" validate:"max=1000"`
	Lines        []poLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type poLineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createGRNRequest struct {
	Number          string           `json:"receipt_number" validate:"max=64"`
	SupplierID      int64            `json:"supplier_id" validate:"gte=0"`
	PurchaseOrderID *int64           `json:"purchase_order_id" validate:"omitempty,gt=0"`
	ReceivedAt      *time.Time       `json:"received_at"`
	Note            string           `json:"note" validate:"max=1000"`
	Items           []grnItemRequest `json:"items" validate:"required,min=1,dive"`
}

type grnItemRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	LocationID  int64           `json:"location_id" validate:"required,gt=0"`
	Quantity    int64           `json:"quantity" validate:"required,gt=0"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	BatchNumber string          `json:"batch_number" validate:"max=64"`
	ExpiryDate  string          `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req createPORequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreatePOInput{
		TenantID:     actor.TenantID,
		Number:       req.Number,
		SupplierID:   req.SupplierID,
		ExpectedDate: parseDate(req.ExpectedDate),
		Note:         req.Note,
		CreatedBy:    actor.UserID,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, POLineInput{ProductID: l.ProductID, Qty: l.Quantity, UnitPrice: l.UnitPrice})
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.fail(w, "create purchase order", err)
		return
	}
	h.logger.Info("purchase order created", slog.Int64("po_id", po.ID), slog.String("number", po.Number))
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, "get purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) createGRN(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req createGRNRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateGRNInput{
		TenantID:   actor.TenantID,
		Number:     req.Number,
		SupplierID: req.SupplierID,
		POID:       req.PurchaseOrderID,
		Note:       req.Note,
		CreatedBy:  actor.UserID,
	}
	if req.ReceivedAt != nil {
		input.ReceivedAt = req.ReceivedAt.UTC()
	}
	for _, it := range req.Items {
		input.Lines = append(input.Lines, GRNLineInput{
			ProductID:   it.ProductID,
			LocationID:  it.LocationID,
			Qty:         it.Quantity,
			UnitCost:    it.UnitCost,
			BatchNumber: it.BatchNumber,
			ExpiryDate:  parseDate(it.ExpiryDate),
		})
	}
	grn, err := h.service.CreateGoodsReceipt(r.Context(), input)
	if err != nil {
		h.fail(w, "create goods receipt", err)
		return
	}
	h.logger.Info("goods receipt created", slog.Int64("grn_id", grn.ID), slog.String("number", grn.Number))
	httpx.JSON(w, http.StatusCreated, grn)
}

func (h *Handler) getGRN(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grn, err := h.service.GetGoodsReceipt(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, "get goods receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) finalizeGRN(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "finalize goods receipt", h.service.FinalizeGoodsReceipt)
}

func (h *Handler) cancelGRN(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "cancel goods receipt", h.service.CancelGoodsReceipt)
}

func (h *Handler) act(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, GRNActionInput) (GoodsReceipt, error)) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grn, err := fn(r.Context(), GRNActionInput{TenantID: actor.TenantID, ReceiptID: id, ActorID: actor.UserID})
	if err != nil {
		h.fail(w, op, err)
		return
	}
	h.logger.Info(op, slog.Int64("grn_id", grn.ID), slog.String("status", string(grn.Status)))
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	} else {
		h.logger.Info(op+" rejected", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// parseDate reads an already validated yyyy-mm-dd value.
func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil
	}
	return &t
}
