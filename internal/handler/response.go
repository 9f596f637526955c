package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/dabil/internal/ledger"
	"github.com/mmeshcher/dabil/internal/model"
	"github.com/mmeshcher/dabil/internal/service"
)

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

type userResponse struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	RestaurantID *int64 `json:"restaurantId,omitempty"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         string(u.Role),
		RestaurantID: u.RestaurantID,
		Active:       u.Active,
		CreatedAt:    formatTime(&u.CreatedAt),
	}
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type restaurantResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Type        string `json:"restaurantType"`
	CuisineType string `json:"cuisineType,omitempty"`
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
}

func newRestaurantResponse(r *model.Restaurant) restaurantResponse {
	return restaurantResponse{
		ID:          r.ID,
		Name:        r.Name,
		Slug:        r.Slug,
		Type:        string(r.Type),
		CuisineType: r.CuisineType,
		Address:     r.Address,
		City:        r.City,
	}
}

type menuItemResponse struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Available   bool            `json:"available"`
}

func newMenuItemResponse(m *model.MenuItem) menuItemResponse {
	return menuItemResponse{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Category:    m.Category,
		Price:       m.Price,
		Available:   m.Available,
	}
}

type restaurantDetailsResponse struct {
	restaurantResponse
	Menu []menuItemResponse `json:"menu"`
}

func newRestaurantDetailsResponse(d *service.RestaurantDetails) restaurantDetailsResponse {
	resp := restaurantDetailsResponse{
		restaurantResponse: newRestaurantResponse(&d.Restaurant),
		Menu:               make([]menuItemResponse, 0, len(d.Menu)),
	}
	for i := range d.Menu {
		resp.Menu = append(resp.Menu, newMenuItemResponse(&d.Menu[i]))
	}
	return resp
}

type sessionResponse struct {
	ID                  int64           `json:"id"`
	RestaurantID        int64           `json:"restaurantId"`
	TableNumber         string          `json:"tableNumber,omitempty"`
	PartySize           int             `json:"partySize"`
	Status              string          `json:"status"`
	TotalSpent          decimal.Decimal `json:"totalSpent"`
	LoyaltyPointsEarned int64           `json:"loyaltyPointsEarned"`
	CheckedInAt         string          `json:"checkedInAt"`
	CheckedOutAt        string          `json:"checkedOutAt,omitempty"`
}

func newSessionResponse(s *model.Session) sessionResponse {
	return sessionResponse{
		ID:                  s.ID,
		RestaurantID:        s.RestaurantID,
		TableNumber:         s.TableNumber,
		PartySize:           s.PartySize,
		Status:              string(s.Status),
		TotalSpent:          s.TotalSpent,
		LoyaltyPointsEarned: s.LoyaltyPointsEarned,
		CheckedInAt:         formatTime(&s.CheckedInAt),
		CheckedOutAt:        formatTime(s.CheckedOutAt),
	}
}

type guestResponse struct {
	SessionID     int64  `json:"sessionId"`
	TableNumber   string `json:"tableNumber,omitempty"`
	PartySize     int    `json:"partySize"`
	CheckedInAt   string `json:"checkedInAt"`
	GuestName     string `json:"guestName"`
	Email         string `json:"email"`
	OrderCount    int    `json:"orderCount"`
	PendingOrders int    `json:"pendingOrders"`
}

type orderResponse struct {
	ID          int64             `json:"id"`
	SessionID   int64             `json:"sessionId"`
	Number      string            `json:"orderNumber"`
	Items       []model.OrderItem `json:"items"`
	Subtotal    decimal.Decimal   `json:"subtotal"`
	TotalAmount decimal.Decimal   `json:"totalAmount"`
	Status      string            `json:"status"`
	Notes       string            `json:"notes,omitempty"`
	CreatedAt   string            `json:"createdAt"`
	ServedAt    string            `json:"servedAt,omitempty"`
}

func newOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:          o.ID,
		SessionID:   o.SessionID,
		Number:      o.Number,
		Items:       o.Items,
		Subtotal:    o.Subtotal,
		TotalAmount: o.TotalAmount,
		Status:      string(o.Status),
		Notes:       o.Notes,
		CreatedAt:   formatTime(&o.CreatedAt),
		ServedAt:    formatTime(o.ServedAt),
	}
}

func newOrderListResponse(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	return resp
}

type orderDetailsResponse struct {
	orderResponse
	RestaurantID   int64  `json:"restaurantId"`
	RestaurantName string `json:"restaurantName"`
	RestaurantType string `json:"restaurantType"`
}

type receiptResponse struct {
	OrderID       int64           `json:"orderId"`
	OrderNumber   string          `json:"orderNumber"`
	AmountCharged decimal.Decimal `json:"amountCharged"`
	NewBalance    decimal.Decimal `json:"newBalance"`
	PointsEarned  int64           `json:"pointsEarned"`
	Tier          string          `json:"tier"`
	Reference     string          `json:"reference"`
	ServedAt      string          `json:"servedAt"`
}

func newReceiptResponse(r *model.SettlementReceipt) receiptResponse {
	return receiptResponse{
		OrderID:       r.OrderID,
		OrderNumber:   r.OrderNumber,
		AmountCharged: r.AmountCharged,
		NewBalance:    r.NewBalance,
		PointsEarned:  r.PointsEarned,
		Tier:          string(r.Tier),
		Reference:     r.Reference,
		ServedAt:      formatTime(&r.ServedAt),
	}
}

type paymentStatusResponse struct {
	OrderID   int64  `json:"orderId"`
	Status    string `json:"status"`
	Awaiting  bool   `json:"awaitingPayment"`
	Confirmed bool   `json:"paymentConfirmed"`
	Declined  bool   `json:"paymentDeclined"`
}

type walletResponse struct {
	Balance           decimal.Decimal `json:"balance"`
	TotalFunded       decimal.Decimal `json:"totalFunded"`
	TotalSpent        decimal.Decimal `json:"totalSpent"`
	Currency          string          `json:"currency"`
	LastTransactionAt string          `json:"lastTransactionAt,omitempty"`
}

type transactionResponse struct {
	ID            int64           `json:"id"`
	OrderID       *int64          `json:"orderId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"transactionType"`
	Reference     string          `json:"reference"`
	Status        string          `json:"status"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     string          `json:"createdAt"`
	ProcessedAt   string          `json:"processedAt,omitempty"`
}

func newTransactionResponse(e *model.LedgerEntry) transactionResponse {
	return transactionResponse{
		ID:            e.ID,
		OrderID:       e.OrderID,
		Amount:        e.Amount,
		Type:          string(e.Type),
		Reference:     e.Reference,
		Status:        string(e.Status),
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		Description:   e.Description,
		CreatedAt:     formatTime(&e.CreatedAt),
		ProcessedAt:   formatTime(e.ProcessedAt),
	}
}

type fundingResponse struct {
	Reference        string          `json:"reference"`
	AuthorizationURL string          `json:"authorizationUrl"`
	AccessCode       string          `json:"accessCode"`
	Amount           decimal.Decimal `json:"amount"`
}

type verifyResponse struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Balance   decimal.Decimal `json:"balance"`
}

type redemptionResponse struct {
	Points        int64           `json:"pointsRedeemed"`
	Credited      decimal.Decimal `json:"amountCredited"`
	NewBalance    decimal.Decimal `json:"newBalance"`
	PointsBalance int64           `json:"pointsBalance"`
	Reference     string          `json:"reference"`
}

type loyaltyResponse struct {
	PointsBalance    int64  `json:"pointsBalance"`
	LifetimeEarned   int64  `json:"lifetimePointsEarned"`
	LifetimeRedeemed int64  `json:"lifetimePointsRedeemed"`
	CurrentTier      string `json:"currentTier"`
	NextTier         string `json:"nextTier,omitempty"`
	PointsToNext     int64  `json:"pointsToNextTier"`
	LastEarnedAt     string `json:"lastEarnedAt,omitempty"`
}

func newLoyaltyResponse(v *service.LoyaltyView) loyaltyResponse {
	return loyaltyResponse{
		PointsBalance:    v.Account.PointsBalance,
		LifetimeEarned:   v.Account.LifetimeEarned,
		LifetimeRedeemed: v.Account.LifetimeRedeemed,
		CurrentTier:      string(v.Account.CurrentTier),
		NextTier:         string(v.NextTier),
		PointsToNext:     v.PointsToNext,
		LastEarnedAt:     formatTime(v.Account.LastEarnedAt),
	}
}

type reconciliationResponse struct {
	UserID    int64           `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	LedgerSum decimal.Decimal `json:"ledgerSum"`
	Entries   int             `json:"entries"`
	Balanced  bool            `json:"balanced"`
}

func newReconciliationResponse(userID int64, r *ledger.Reconciliation) reconciliationResponse {
	return reconciliationResponse{
		UserID:    userID,
		Balance:   r.Balance,
		LedgerSum: r.LedgerSum,
		Entries:   r.Entries,
		Balanced:  r.Balanced(),
	}
}

type statsResponse struct {
	ServedOrders   int64           `json:"servedOrders"`
	Revenue        decimal.Decimal `json:"revenue"`
	ActiveSessions int64           `json:"activeSessions"`
}

type tierShareResponse struct {
	Tier      string `json:"tier"`
	Customers int64  `json:"customers"`
}

type topCustomerResponse struct {
	UserID       int64           `json:"userId"`
	Name         string          `json:"name"`
	Tier         string          `json:"tier"`
	PointsEarned int64           `json:"pointsEarned"`
	Spent        decimal.Decimal `json:"spent"`
	Visits       int64           `json:"visits"`
}

type loyaltyOverviewResponse struct {
	PointsEarned    int64                 `json:"pointsEarned"`
	PointsThisMonth int64                 `json:"pointsThisMonth"`
	ActiveCustomers int64                 `json:"activeCustomers"`
	CustomerSpend   decimal.Decimal       `json:"customerSpend"`
	Tiers           []tierShareResponse   `json:"tierDistribution"`
	TopCustomers    []topCustomerResponse `json:"topCustomers"`
}

func newLoyaltyOverviewResponse(ov *model.LoyaltyOverview) loyaltyOverviewResponse {
	resp := loyaltyOverviewResponse{
		PointsEarned:    ov.PointsEarned,
		PointsThisMonth: ov.PointsThisMonth,
		ActiveCustomers: ov.ActiveCustomers,
		CustomerSpend:   ov.CustomerSpend,
		Tiers:           make([]tierShareResponse, 0, len(ov.Tiers)),
		TopCustomers:    make([]topCustomerResponse, 0, len(ov.TopCustomers)),
	}
	for _, t := range ov.Tiers {
		resp.Tiers = append(resp.Tiers, tierShareResponse{Tier: string(t.Tier), Customers: t.Customers})
	}
	for _, c := range ov.TopCustomers {
		resp.TopCustomers = append(resp.TopCustomers, topCustomerResponse{
			UserID:       c.UserID,
			Name:         c.Name,
			Tier:         string(c.Tier),
			PointsEarned: c.PointsEarned,
			Spent:        c.Spent,
			Visits:       c.Visits,
		})
	}
	return resp
}

type adminStatsResponse struct {
	TotalUsers   int64           `json:"totalUsers"`
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
	ActiveUsers  int64           `json:"activeUsers"`
}
