package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rigstore/apiserver/internal/services"
	"github.com/rigstore/apiserver/internal/store"
)

// OrderHandler provides HTTP handlers for orders.
type OrderHandler struct {
	orderService *services.OrderService
}

// NewOrderHandler constructs a handler with the provided service.
func NewOrderHandler(orderService *services.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// OrderRouter registers order routes on the given router. Every route
// requires an authenticated identity.
func OrderRouter(r chi.Router, orderService *services.OrderService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewOrderHandler(orderService)

	r.Use(authMiddleware)
	r.Get("/", handler.ListOrders)
	r.Post("/", handler.PlaceOrder)
	r.Route("/{orderID}", func(r chi.Router) {
		r.Patch("/", handler.UpdateOrderStatus)
		r.Delete("/", handler.DeleteOrder)
	})
}

// PlaceOrder runs the checkout workflow and returns the created order
// with its snapshotted items.
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var input services.PlaceOrderInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	order, err := h.orderService.Place(r.Context(), identity, input)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to place order")
		}
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// ListOrders returns every order owned by the caller, newest first.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orders, err := h.orderService.List(r.Context(), identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

// UpdateOrderStatus sets a new status on an order owned by the caller.
func (h *OrderHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseIDParam(r, "orderID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.orderService.UpdateStatus(r.Context(), identity, id, req.Status); err != nil {
		writeOrderError(w, err, "failed to update order")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "order status updated"})
}

// DeleteOrder removes an order owned by the caller together with its
// line items.
func (h *OrderHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseIDParam(r, "orderID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.orderService.Delete(r.Context(), identity, id); err != nil {
		writeOrderError(w, err, "failed to delete order")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateOrderStatusRequest is the JSON payload for a status change.
type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}

func writeOrderError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "you do not own this order")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
