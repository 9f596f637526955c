// Package repository содержит контракт хранилища и его реализации: PostgreSQL и in-memory.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/dabil/internal/model"
)

// ErrUserExists возвращается при попытке создать пользователя с уже занятым email.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrWalletNotFound возвращается, если у пользователя нет кошелька.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrEntryNotFound возвращается, если запись журнала с указанным reference не найдена.
	ErrEntryNotFound = errors.New("ledger entry not found")
	// ErrDuplicateReference возвращается при повторной вставке записи журнала с тем же reference.
	ErrDuplicateReference = errors.New("duplicate ledger reference")
	// ErrLoyaltyNotFound возвращается, если у пользователя ещё нет счёта баллов.
	ErrLoyaltyNotFound = errors.New("loyalty account not found")
	// ErrRestaurantNotFound возвращается, если ресторан не найден.
	ErrRestaurantNotFound = errors.New("restaurant not found")
	// ErrRestaurantExists возвращается при конфликте slug ресторана.
	ErrRestaurantExists = errors.New("restaurant already exists")
	// ErrSessionNotFound возвращается, если сессия не найдена.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionActive возвращается, если у гостя уже есть активная сессия в этом ресторане.
	ErrSessionActive = errors.New("active session already exists")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
)

// TopCustomersLimit ограничивает рейтинг гостей в LoyaltyOverview.
const TopCustomersLimit = 10

// Store описывает типизированный доступ к данным. Методы Lock* блокируют строку
// до конца транзакции, если вызываются внутри InTx.
type Store interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// UpdateUser сохраняет email, имя и хеш пароля пользователя.
	UpdateUser(ctx context.Context, u *model.User) error
	ListStaff(ctx context.Context, restaurantID int64) ([]model.User, error)

	CreateWallet(ctx context.Context, w *model.Wallet) error
	GetWallet(ctx context.Context, userID int64) (*model.Wallet, error)
	LockWallet(ctx context.Context, userID int64) (*model.Wallet, error)
	GetWalletByID(ctx context.Context, walletID int64) (*model.Wallet, error)
	LockWalletByID(ctx context.Context, walletID int64) (*model.Wallet, error)
	UpdateWallet(ctx context.Context, w *model.Wallet) error

	AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
	GetLedgerEntry(ctx context.Context, reference string) (*model.LedgerEntry, error)
	LockLedgerEntry(ctx context.Context, reference string) (*model.LedgerEntry, error)
	FinalizeLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, walletID int64, limit, offset int) ([]model.LedgerEntry, error)
	ListPendingFunding(ctx context.Context, before time.Time, limit int) ([]model.LedgerEntry, error)

	GetLoyaltyAccount(ctx context.Context, userID int64) (*model.LoyaltyAccount, error)
	LockLoyaltyAccount(ctx context.Context, userID int64) (*model.LoyaltyAccount, error)
	SaveLoyaltyAccount(ctx context.Context, a *model.LoyaltyAccount) error
	// EnsureLoyaltyAccount создаёт пустой бронзовый счёт, если его ещё нет. Существующий не меняется.
	EnsureLoyaltyAccount(ctx context.Context, userID int64) error

	CreateRestaurant(ctx context.Context, r *model.Restaurant) error
	GetRestaurant(ctx context.Context, id int64) (*model.Restaurant, error)
	ListRestaurants(ctx context.Context) ([]model.Restaurant, error)
	SetRestaurantOwner(ctx context.Context, restaurantID, userID int64) error
	SetRestaurantActive(ctx context.Context, restaurantID int64, active bool) error
	CreateMenuItem(ctx context.Context, m *model.MenuItem) error
	ListMenuItems(ctx context.Context, restaurantID int64) ([]model.MenuItem, error)
	RestaurantStats(ctx context.Context, restaurantID int64) (*model.RestaurantStats, error)
	// LoyaltyOverview считает баллы и траты гостей ресторана; PointsThisMonth включает визиты с monthStart.
	LoyaltyOverview(ctx context.Context, restaurantID int64, monthStart time.Time) (*model.LoyaltyOverview, error)

	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id int64) (*model.Session, error)
	GetActiveSession(ctx context.Context, userID int64) (*model.Session, error)
	CloseSession(ctx context.Context, id int64, at time.Time) (*model.Session, error)
	AddSessionTotals(ctx context.Context, sessionID int64, spent decimal.Decimal, points int64) error
	ListGuests(ctx context.Context, restaurantID int64) ([]model.Guest, error)

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id int64) (*model.OrderContext, error)
	LockOrder(ctx context.Context, id int64) (*model.OrderContext, error)
	UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, servedAt *time.Time) error
	ListSessionOrders(ctx context.Context, sessionID int64) ([]model.Order, error)

	AdminStats(ctx context.Context, since time.Time) (*model.AdminStats, error)
}

// Repository описывает хранилище с поддержкой транзакций.
type Repository interface {
	Store

	// InTx выполняет fn в одной транзакции. Если fn возвращает ошибку,
	// ни одно изменение не сохраняется.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Close() error
}
