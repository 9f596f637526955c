package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderPending          OrderStatus = "pending"
	OrderAwaitingPayment  OrderStatus = "awaiting_payment"
	OrderPaymentConfirmed OrderStatus = "payment_confirmed"
	OrderPaymentDeclined  OrderStatus = "payment_declined"
	OrderServed           OrderStatus = "served"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:          {OrderAwaitingPayment, OrderServed},
	OrderAwaitingPayment:  {OrderPaymentConfirmed, OrderPaymentDeclined},
	OrderPaymentConfirmed: {OrderServed},
	OrderPaymentDeclined:  {OrderPending},
}

// CanTransition сообщает, допустим ли переход заказа из статуса s в статус to.
// Переходы однонаправленные, кроме повтора payment_declined -> pending.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderItem описывает позицию заказа с ценой, зафиксированной на момент создания.
type OrderItem struct {
	MenuItemID int64           `json:"menuItemId"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
}

// Order описывает заказ гостя в рамках сессии.
type Order struct {
	ID          int64
	SessionID   int64
	Number      string
	Items       []OrderItem
	Subtotal    decimal.Decimal
	TotalAmount decimal.Decimal
	Status      OrderStatus
	Notes       string
	CreatedAt   time.Time
	ServedAt    *time.Time
}

// OrderContext содержит заказ вместе с данными сессии и ресторана, к которым он относится.
type OrderContext struct {
	Order          Order
	CustomerID     int64
	RestaurantID   int64
	RestaurantType RestaurantType
	RestaurantName string
}

// SettlementReceipt содержит результат успешного расчёта по заказу.
type SettlementReceipt struct {
	OrderID       int64
	OrderNumber   string
	AmountCharged decimal.Decimal
	NewBalance    decimal.Decimal
	PointsEarned  int64
	Tier          Tier
	Reference     string
	ServedAt      time.Time
}
