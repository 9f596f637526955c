package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/dabil/internal/model"
	"github.com/mmeshcher/dabil/internal/service"
)

type orderLineRequest struct {
	MenuItemID int64 `json:"menuItemId"`
	Quantity   int   `json:"quantity"`
}

type createOrderRequest struct {
	SessionID int64              `json:"sessionId"`
	Items     []orderLineRequest `json:"items"`
	Notes     string             `json:"notes"`
}

// CreateOrder создаёт заказ в открытом визите гостя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	lines := make([]service.OrderLine, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, service.OrderLine{MenuItemID: it.MenuItemID, Quantity: it.Quantity})
	}

	order, err := h.service.CreateOrder(r.Context(), actor, req.SessionID, lines, req.Notes)
	if err != nil {
		h.fail(w, err, "create order error", zap.Int64("userID", actor.UserID), zap.Int64("sessionID", req.SessionID))
		return
	}

	h.writeJSON(w, http.StatusCreated, newOrderResponse(order))
}

// GetOrder возвращает заказ вместе с данными ресторана.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	oc, err := h.service.GetOrder(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err, "get order error", zap.Int64("orderID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, orderDetailsResponse{
		orderResponse:  newOrderResponse(&oc.Order),
		RestaurantID:   oc.RestaurantID,
		RestaurantName: oc.RestaurantName,
		RestaurantType: string(oc.RestaurantType),
	})
}

// ServeOrder рассчитывает заказ: списывает кошелёк гостя, начисляет баллы и отмечает заказ поданным.
func (h *Handler) ServeOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	receipt, err := h.service.SettleOrder(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err, "settle order error", zap.Int64("userID", actor.UserID), zap.Int64("orderID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

type orderTransition func(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply orderTransition, msg string) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	order, err := apply(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err, msg, zap.Int64("userID", actor.UserID), zap.Int64("orderID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, newOrderResponse(order))
}

// RequestPayment запрашивает у гостя подтверждение оплаты.
func (h *Handler) RequestPayment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.RequestPayment, "request payment error")
}

// ConfirmPayment подтверждает оплату от имени гостя.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ConfirmPayment, "confirm payment error")
}

// DeclinePayment отклоняет оплату от имени гостя.
func (h *Handler) DeclinePayment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.DeclinePayment, "decline payment error")
}

// RetryOrder возвращает отклонённый заказ в ожидание.
func (h *Handler) RetryOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.RetryOrder, "retry order error")
}

// PaymentStatus возвращает состояние подтверждения оплаты заказа.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	st, err := h.service.PaymentStatus(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err, "payment status error", zap.Int64("orderID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, paymentStatusResponse{
		OrderID:   st.OrderID,
		Status:    string(st.Status),
		Awaiting:  st.Awaiting,
		Confirmed: st.Confirmed,
		Declined:  st.Declined,
	})
}
