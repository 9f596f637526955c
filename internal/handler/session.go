package handler

import (
	"net/http"

	"go.uber.org/zap"
)

type checkInRequest struct {
	RestaurantID int64  `json:"restaurantId"`
	TableNumber  string `json:"tableNumber"`
	PartySize    int    `json:"partySize"`
}

// CheckIn открывает визит гостя в ресторане.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req checkInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RestaurantID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.service.CheckIn(r.Context(), actor, req.RestaurantID, req.TableNumber, req.PartySize)
	if err != nil {
		h.fail(w, err, "check in error", zap.Int64("userID", actor.UserID), zap.Int64("restaurantID", req.RestaurantID))
		return
	}

	h.writeJSON(w, http.StatusCreated, newSessionResponse(sess))
}

// CheckOut закрывает визит.
func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess, err := h.service.CheckOut(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err, "check out error", zap.Int64("userID", actor.UserID), zap.Int64("sessionID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

// ActiveSession возвращает открытый визит текущего гостя.
func (h *Handler) ActiveSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	sess, err := h.service.ActiveSession(r.Context(), actor)
	if err != nil {
		h.fail(w, err, "get active session error", zap.Int64("userID", actor.UserID))
		return
	}

	h.writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

// SessionOrders возвращает заказы визита.
func (h *Handler) SessionOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	orders, err := h.service.SessionOrders(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err, "get session orders error", zap.Int64("sessionID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, newOrderListResponse(orders))
}

// Guests возвращает активных гостей ресторана для POS-терминала.
func (h *Handler) Guests(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	guests, err := h.service.Guests(r.Context(), actor)
	if err != nil {
		h.fail(w, err, "list guests error", zap.Int64("userID", actor.UserID))
		return
	}

	resp := make([]guestResponse, 0, len(guests))
	for _, g := range guests {
		resp = append(resp, guestResponse{
			SessionID:     g.SessionID,
			TableNumber:   g.TableNumber,
			PartySize:     g.PartySize,
			CheckedInAt:   formatTime(&g.CheckedInAt),
			GuestName:     g.GuestName,
			Email:         g.Email,
			OrderCount:    g.OrderCount,
			PendingOrders: g.PendingOrders,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}
