package transfers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires HTTP endpoints for the transfer workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs the transfer handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transfers", func(r chi.Router) {
		r.With(h.rbac.RequireAny(shared.PermStockView, shared.PermTransferRequest)).Get("/", h.handleList)
		r.With(h.rbac.RequireAny(shared.PermStockView, shared.PermTransferRequest)).Get("/{id}", h.handleGet)
		r.With(h.rbac.RequireAll(shared.PermTransferRequest)).Post("/", h.handleCreate)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermTransferApprove))
			r.Post("/{id}/approve", h.handleApprove)
			r.Post("/{id}/reject", h.handleReject)
		})
		r.With(h.rbac.RequireAll(shared.PermTransferShip)).Post("/{id}/ship", h.handleShip)
		r.With(h.rbac.RequireAll(shared.PermTransferReceive)).Post("/{id}/receive", h.handleReceive)
	})
}

type createRequest struct {
	FromLocationID int64         `json:"from_location_id" validate:"required,gt=0"`
	ToLocationID   int64         `json:"to_location_id" validate:"required,gt=0,nefield=FromLocationID"`
	Priority       string        `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Notes          string        `json:"notes" validate:"max=1000"`
	Items          []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type itemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

type notesRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

type shipRequest struct {
	TrackingInfo string `json:"tracking_info" validate:"max=255"`
}

type receiveRequest struct {
	Notes string               `json:"notes" validate:"max=1000"`
	Items []receiveItemRequest `json:"items" validate:"dive"`
}

type receiveItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"gte=0"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req createRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{
		TenantID:       actor.TenantID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Priority:       Priority(req.Priority),
		Notes:          req.Notes,
		RequestedBy:    actor.UserID,
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	transfer, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, "create transfer", err)
		return
	}
	h.logger.Info("transfer requested", slog.Int64("transfer_id", transfer.ID), slog.String("number", transfer.Number))
	httpx.JSON(w, http.StatusCreated, transfer)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	locationID, err := httpx.QueryInt64(r, "locationId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := httpx.QueryInt64(r, "page")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perPage, err := httpx.QueryInt64(r, "perPage")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, pagination, err := h.service.List(r.Context(), ListFilter{
		TenantID:   actor.TenantID,
		Status:     Status(r.URL.Query().Get("status")),
		LocationID: locationID,
		Page:       int(page),
		PerPage:    int(perPage),
	})
	if err != nil {
		h.fail(w, "list transfers", err)
		return
	}
	if list == nil {
		list = []Transfer{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": list, "pagination": pagination})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	transfer, err := h.service.Get(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, "get transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	input, ok := h.actionInput(w, r)
	if !ok {
		return
	}
	var req notesRequest
	if err := h.decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.Notes = req.Notes
	h.respond(w, "approve transfer", func() (Transfer, error) { return h.service.Approve(r.Context(), input) })
}

func (h *Handler) handleShip(w http.ResponseWriter, r *http.Request) {
	input, ok := h.actionInput(w, r)
	if !ok {
		return
	}
	var req shipRequest
	if err := h.decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "ship transfer", func() (Transfer, error) {
		return h.service.Ship(r.Context(), ShipInput{ActionInput: input, TrackingInfo: req.TrackingInfo})
	})
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	input, ok := h.actionInput(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if err := h.decodeOptional(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.Notes = req.Notes
	receive := ReceiveInput{ActionInput: input}
	for _, it := range req.Items {
		receive.Items = append(receive.Items, ReceivedItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	h.respond(w, "receive transfer", func() (Transfer, error) { return h.service.Receive(r.Context(), receive) })
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	input, ok := h.actionInput(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := httpx.DecodeAndValidate(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.respond(w, "reject transfer", func() (Transfer, error) {
		return h.service.Reject(r.Context(), RejectInput{ActionInput: input, Reason: req.Reason})
	})
}

func (h *Handler) actionInput(w http.ResponseWriter, r *http.Request) (ActionInput, bool) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return ActionInput{}, false
	}
	return ActionInput{TenantID: actor.TenantID, TransferID: id, ActorID: actor.UserID}, true
}

// decodeOptional accepts an empty body for actions whose payload is optional.
func (h *Handler) decodeOptional(r *http.Request, target any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return httpx.DecodeAndValidate(r, h.validator, target)
}

func (h *Handler) respond(w http.ResponseWriter, op string, fn func() (Transfer, error)) {
	transfer, err := fn()
	if err != nil {
		h.fail(w, op, err)
		return
	}
	h.logger.Info(op,
		slog.Int64("transfer_id", transfer.ID),
		slog.String("status", string(transfer.Status)),
		slog.Int64("version", transfer.Version))
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	} else {
		h.logger.Info(op+" rejected", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
