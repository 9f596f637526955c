package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/dabil/internal/model"
)

const (
	signatureHeader = "x-paystack-signature"
	maxWebhookBody  = 1 << 20
)

type fundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type redeemRequest struct {
	Points int64 `json:"points"`
}

// Balance возвращает кошелёк текущего пользователя.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.Balance(r.Context(), actor)
	if err != nil {
		h.fail(w, err, "get balance error", zap.Int64("userID", actor.UserID))
		return
	}

	h.writeJSON(w, http.StatusOK, walletResponse{
		Balance:           wallet.Balance,
		TotalFunded:       wallet.TotalFunded,
		TotalSpent:        wallet.TotalSpent,
		Currency:          wallet.Currency,
		LastTransactionAt: formatTime(wallet.LastTransactionAt),
	})
}

// Fund начинает пополнение кошелька через Paystack.
func (h *Handler) Fund(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req fundRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	handle, err := h.service.InitiateFunding(r.Context(), actor, req.Amount)
	if err != nil {
		h.fail(w, err, "initiate funding error", zap.Int64("userID", actor.UserID))
		return
	}

	h.writeJSON(w, http.StatusOK, fundingResponse{
		Reference:        handle.Reference,
		AuthorizationURL: handle.AuthorizationURL,
		AccessCode:       handle.AccessCode,
		Amount:           handle.Amount,
	})
}

// VerifyFunding подтверждает пополнение после возврата гостя со страницы оплаты.
func (h *Handler) VerifyFunding(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	reference := chi.URLParam(r, "reference")

	balance, err := h.service.VerifyFunding(r.Context(), actor, reference)
	if err != nil {
		h.fail(w, err, "verify funding error", zap.Int64("userID", actor.UserID), zap.String("reference", reference))
		return
	}

	h.writeJSON(w, http.StatusOK, verifyResponse{
		Reference: reference,
		Status:    string(model.EntryCompleted),
		Balance:   balance,
	})
}

// Transactions возвращает страницу истории операций кошелька.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entries, err := h.service.Transactions(r.Context(), actor, limit, offset)
	if err != nil {
		h.fail(w, err, "list transactions error", zap.Int64("userID", actor.UserID))
		return
	}

	resp := make([]transactionResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, newTransactionResponse(&entries[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Redeem обменивает баллы на средства кошелька.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req redeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	red, err := h.service.RedeemPoints(r.Context(), actor, req.Points)
	if err != nil {
		h.fail(w, err, "redeem points error", zap.Int64("userID", actor.UserID))
		return
	}

	h.writeJSON(w, http.StatusOK, redemptionResponse{
		Points:        red.Points,
		Credited:      red.Credited,
		NewBalance:    red.NewBalance,
		PointsBalance: red.PointsBalance,
		Reference:     red.Reference,
	})
}

// Loyalty возвращает баллы и уровень текущего пользователя.
func (h *Handler) Loyalty(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	view, err := h.service.Loyalty(r.Context(), actor)
	if err != nil {
		h.fail(w, err, "get loyalty error", zap.Int64("userID", actor.UserID))
		return
	}

	h.writeJSON(w, http.StatusOK, newLoyaltyResponse(view))
}

// PaystackWebhook принимает уведомления Paystack. Подпись проверяется по сырому телу запроса.
func (h *Handler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.HandleWebhook(r.Context(), body, r.Header.Get(signatureHeader)); err != nil {
		h.fail(w, err, "paystack webhook error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// AdminStats возвращает агрегаты платформы.
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	stats, err := h.service.AdminStats(r.Context(), actor)
	if err != nil {
		h.fail(w, err, "admin stats error")
		return
	}

	h.writeJSON(w, http.StatusOK, adminStatsResponse{
		TotalUsers:   stats.TotalUsers,
		TotalRevenue: stats.TotalRevenue,
		ActiveUsers:  stats.ActiveUsers,
	})
}

// Reconcile сверяет баланс кошелька пользователя с журналом.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	rec, err := h.service.Reconcile(r.Context(), actor, userID)
	if err != nil {
		h.fail(w, err, "reconcile wallet error", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusOK, newReconciliationResponse(userID, rec))
}
