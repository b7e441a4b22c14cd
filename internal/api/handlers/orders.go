package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"classifieds/internal/billing"
	"classifieds/internal/core"
	"classifieds/internal/types"
)

// OrderCreator opens a paid checkout for a boost plan.
type OrderCreator interface {
	CreateOrder(ctx context.Context, actor types.Actor, listingID, planCode string) (*billing.CreateOrderResult, error)
}

// CreateOrderRequest is the body of POST /v1/orders.
type CreateOrderRequest struct {
	ItemID   string `json:"itemId" validate:"required,max=128"`
	PlanCode string `json:"planCode" validate:"required,plancode"`
}

// CreateOrderResponse points the buyer at the hosted checkout page.
type CreateOrderResponse struct {
	OK          bool   `json:"ok"`
	OrderID     string `json:"orderId"`
	CheckoutURL string `json:"checkoutUrl"`
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`
}

// OrderHandler serves boost purchases.
type OrderHandler struct {
	orders    OrderCreator
	validator *core.Validator
	logger    *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderCreator, v *core.Validator, l *slog.Logger) *OrderHandler {
	if l == nil {
		l = slog.Default()
	}
	return &OrderHandler{orders: orders, validator: v, logger: l}
}

// RegisterRoutes mounts POST /orders.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/orders", h.Create)
}

// Create handles POST /v1/orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := core.ActorFrom(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req CreateOrderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.orders.CreateOrder(r.Context(), actor, req.ItemID, req.PlanCode)
	if err != nil {
		if billing.IsRetryable(err) {
			h.logger.ErrorContext(r.Context(), "order creation failed", "item_id", req.ItemID, "error", err)
		}
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, CreateOrderResponse{
		OK:          true,
		OrderID:     res.OrderID,
		CheckoutURL: res.CheckoutURL,
		AmountMinor: res.AmountMinor,
		Currency:    res.Currency,
	})
}
