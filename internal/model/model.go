// Package model содержит доменные сущности платформы Dabil.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role определяет роль учётной записи.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// Actor описывает аутентифицированного пользователя, от имени которого выполняется операция.
type Actor struct {
	UserID       int64
	Role         Role
	RestaurantID *int64
}

// WorksAt сообщает, работает ли пользователь в ресторане (сотрудник или менеджер) либо является администратором.
func (a Actor) WorksAt(restaurantID int64) bool {
	if a.Role == RoleAdmin {
		return true
	}
	return (a.Role == RoleStaff || a.Role == RoleManager) && a.RestaurantID != nil && *a.RestaurantID == restaurantID
}

// Manages сообщает, управляет ли пользователь рестораном либо является администратором.
func (a Actor) Manages(restaurantID int64) bool {
	if a.Role == RoleAdmin {
		return true
	}
	return a.Role == RoleManager && a.RestaurantID != nil && *a.RestaurantID == restaurantID
}

// User представляет зарегистрированного пользователя: гостя, сотрудника, управляющего или администратора.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash []byte
	Role         Role
	RestaurantID *int64
	Active       bool
	CreatedAt    time.Time
}

// RestaurantType описывает формат ресторана; от него зависит ставка начисления баллов.
type RestaurantType string

const (
	RestaurantQSR        RestaurantType = "QSR"
	RestaurantCasual     RestaurantType = "Casual"
	RestaurantLuxury     RestaurantType = "Luxury"
	RestaurantFastFood   RestaurantType = "Fast Food"
	RestaurantFineDining RestaurantType = "Fine Dining"
)

// Valid сообщает, является ли тип ресторана известным.
func (t RestaurantType) Valid() bool {
	switch t {
	case RestaurantQSR, RestaurantCasual, RestaurantLuxury, RestaurantFastFood, RestaurantFineDining:
		return true
	}
	return false
}

// Restaurant описывает заведение, подключённое к платформе.
type Restaurant struct {
	ID          int64
	Name        string
	Slug        string
	Type        RestaurantType
	CuisineType string
	Address     string
	City        string
	OwnerUserID *int64
	Active      bool
	CreatedAt   time.Time
}

// MenuItem описывает позицию меню ресторана.
type MenuItem struct {
	ID           int64
	RestaurantID int64
	Name         string
	Description  string
	Category     string
	Price        decimal.Decimal
	Available    bool
	CreatedAt    time.Time
}

// SessionStatus описывает состояние визита гостя.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session связывает гостя с рестораном на время визита.
type Session struct {
	ID                  int64
	UserID              int64
	RestaurantID        int64
	TableNumber         string
	PartySize           int
	Status              SessionStatus
	TotalSpent          decimal.Decimal
	LoyaltyPointsEarned int64
	CheckedInAt         time.Time
	CheckedOutAt        *time.Time
}

// Guest описывает активную сессию для POS-терминала персонала.
type Guest struct {
	SessionID     int64
	TableNumber   string
	PartySize     int
	CheckedInAt   time.Time
	GuestName     string
	Email         string
	OrderCount    int
	PendingOrders int
}

// RestaurantStats содержит агрегаты ресторана для управляющего.
type RestaurantStats struct {
	ServedOrders   int64
	Revenue        decimal.Decimal
	ActiveSessions int64
}

// AdminStats содержит агрегаты платформы для администратора.
type AdminStats struct {
	TotalUsers   int64
	TotalRevenue decimal.Decimal
	ActiveUsers  int64
}

// TierShare показывает, сколько гостей ресторана находится на уровне.
type TierShare struct {
	Tier      Tier
	Customers int64
}

// TopCustomer описывает гостя ресторана в рейтинге по заработанным баллам.
type TopCustomer struct {
	UserID       int64
	Name         string
	Tier         Tier
	PointsEarned int64
	Spent        decimal.Decimal
	Visits       int64
}

// LoyaltyOverview содержит сводку программы лояльности по одному ресторану.
// Считаются только визиты с оплаченными заказами.
type LoyaltyOverview struct {
	PointsEarned    int64
	PointsThisMonth int64
	ActiveCustomers int64
	CustomerSpend   decimal.Decimal
	Tiers           []TierShare
	TopCustomers    []TopCustomer
}
