// Package handler содержит HTTP-обработчики API сервиса Dabil.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/dabil/internal/ledger"
	"github.com/mmeshcher/dabil/internal/loyalty"
	"github.com/mmeshcher/dabil/internal/middleware"
	"github.com/mmeshcher/dabil/internal/model"
	"github.com/mmeshcher/dabil/internal/repository"
	"github.com/mmeshcher/dabil/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Signup(ctx context.Context, c service.Credentials) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	Profile(ctx context.Context, actor model.Actor) (*model.User, error)
	UpdateProfile(ctx context.Context, actor model.Actor, in service.ProfileUpdate) (*model.User, error)
	ChangePassword(ctx context.Context, actor model.Actor, current, next string) error

	CreateRestaurant(ctx context.Context, actor model.Actor, in service.NewRestaurant) (*model.Restaurant, *model.User, error)
	ListRestaurants(ctx context.Context) ([]model.Restaurant, error)
	GetRestaurant(ctx context.Context, id int64) (*service.RestaurantDetails, error)
	AddMenuItem(ctx context.Context, actor model.Actor, restaurantID int64, in service.NewMenuItem) (*model.MenuItem, error)
	DeactivateRestaurant(ctx context.Context, actor model.Actor, id int64) error
	CreateStaff(ctx context.Context, actor model.Actor, restaurantID int64, c service.Credentials) (*model.User, error)
	ListStaff(ctx context.Context, actor model.Actor, restaurantID int64) ([]model.User, error)
	CheckInURL(restaurantID int64) string
	RestaurantQR(ctx context.Context, restaurantID int64) ([]byte, error)
	RestaurantStats(ctx context.Context, actor model.Actor, restaurantID int64) (*model.RestaurantStats, error)
	LoyaltyOverview(ctx context.Context, actor model.Actor, restaurantID int64) (*model.LoyaltyOverview, error)

	CheckIn(ctx context.Context, actor model.Actor, restaurantID int64, table string, partySize int) (*model.Session, error)
	CheckOut(ctx context.Context, actor model.Actor, sessionID int64) (*model.Session, error)
	ActiveSession(ctx context.Context, actor model.Actor) (*model.Session, error)
	Guests(ctx context.Context, actor model.Actor) ([]model.Guest, error)
	SessionOrders(ctx context.Context, actor model.Actor, sessionID int64) ([]model.Order, error)

	CreateOrder(ctx context.Context, actor model.Actor, sessionID int64, lines []service.OrderLine, notes string) (*model.Order, error)
	GetOrder(ctx context.Context, actor model.Actor, orderID int64) (*model.OrderContext, error)
	SettleOrder(ctx context.Context, actor model.Actor, orderID int64) (*model.SettlementReceipt, error)
	RequestPayment(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error)
	ConfirmPayment(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error)
	DeclinePayment(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error)
	RetryOrder(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error)
	PaymentStatus(ctx context.Context, actor model.Actor, orderID int64) (*service.PaymentStatus, error)

	Balance(ctx context.Context, actor model.Actor) (*model.Wallet, error)
	Transactions(ctx context.Context, actor model.Actor, limit, offset int) ([]model.LedgerEntry, error)
	InitiateFunding(ctx context.Context, actor model.Actor, amount decimal.Decimal) (*service.FundingHandle, error)
	VerifyFunding(ctx context.Context, actor model.Actor, reference string) (decimal.Decimal, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	RedeemPoints(ctx context.Context, actor model.Actor, points int64) (*service.Redemption, error)
	Loyalty(ctx context.Context, actor model.Actor) (*service.LoyaltyView, error)

	Reconcile(ctx context.Context, actor model.Actor, userID int64) (*ledger.Reconciliation, error)
	AdminStats(ctx context.Context, actor model.Actor) (*model.AdminStats, error)
}

// Handler реализует HTTP-обработчики API сервиса Dabil.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, loyalty.ErrInvalidPoints):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrWalletNotFound),
		errors.Is(err, repository.ErrEntryNotFound),
		errors.Is(err, repository.ErrRestaurantNotFound),
		errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrLoyaltyNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrRestaurantExists),
		errors.Is(err, repository.ErrSessionActive),
		errors.Is(err, repository.ErrDuplicateReference),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrSessionClosed),
		errors.Is(err, ledger.ErrEntryNotPending):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, loyalty.ErrInsufficientPoints),
		errors.Is(err, service.ErrPaymentFailed),
		errors.Is(err, service.ErrAmountMismatch):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail отвечает кодом, соответствующим ошибке. Для 4xx клиент получает текст ошибки,
// для 5xx только стандартный статус; такие ошибки пишутся в лог.
func (h *Handler) fail(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(code), code)
		return
	}
	http.Error(w, err.Error(), code)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

func actorFrom(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return model.Actor{}, false
	}
	return *actor, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
