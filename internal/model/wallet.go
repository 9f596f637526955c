package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency используется для новых кошельков, если валюта не задана конфигурацией.
const DefaultCurrency = "NGN"

// Wallet хранит предоплаченный баланс пользователя.
type Wallet struct {
	ID                int64
	UserID            int64
	Balance           decimal.Decimal
	TotalFunded       decimal.Decimal
	TotalSpent        decimal.Decimal
	Currency          string
	LastTransactionAt *time.Time
}

// EntryType описывает вид записи в журнале кошелька.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
	EntryBonus  EntryType = "bonus"
	EntryRefund EntryType = "refund"
)

// Sign возвращает направление движения средств: +1 для зачислений, -1 для списаний.
func (t EntryType) Sign() int {
	if t == EntryDebit {
		return -1
	}
	return 1
}

// EntryStatus описывает состояние записи журнала.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

// LedgerEntry описывает неизменяемую запись об одном событии, влияющем на баланс.
// Запись пополнения создаётся в статусе pending и финализируется ровно один раз.
type LedgerEntry struct {
	ID                int64
	WalletID          int64
	OrderID           *int64
	Amount            decimal.Decimal
	Type              EntryType
	Reference         string
	ExternalReference string
	Status            EntryStatus
	BalanceBefore     decimal.Decimal
	BalanceAfter      decimal.Decimal
	Description       string
	CreatedAt         time.Time
	ProcessedAt       *time.Time
}

// Tier описывает уровень программы лояльности.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// LoyaltyAccount хранит баллы пользователя.
// PointsBalance всегда равен LifetimeEarned - LifetimeRedeemed.
type LoyaltyAccount struct {
	UserID           int64
	PointsBalance    int64
	LifetimeEarned   int64
	LifetimeRedeemed int64
	CurrentTier      Tier
	LastEarnedAt     *time.Time
	LastRedeemedAt   *time.Time
}

// NewLoyaltyAccount создаёт пустой счёт баллов бронзового уровня.
func NewLoyaltyAccount(userID int64) *LoyaltyAccount {
	return &LoyaltyAccount{
		UserID:      userID,
		CurrentTier: TierBronze,
	}
}
