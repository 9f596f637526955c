package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/dabil/internal/ledger"
	"github.com/mmeshcher/dabil/internal/loyalty"
	"github.com/mmeshcher/dabil/internal/model"
	"github.com/mmeshcher/dabil/internal/repository"
)

const (
	// DefaultPageSize задаёт размер страницы истории операций по умолчанию.
	DefaultPageSize = 20
	// MaxPageSize ограничивает размер страницы истории операций.
	MaxPageSize = 100
	// ActiveUserWindow задаёт период, за который пользователь с визитом считается активным.
	ActiveUserWindow = 30 * 24 * time.Hour
)

// Redemption содержит результат обмена баллов на деньги кошелька.
type Redemption struct {
	Points        int64
	Credited      decimal.Decimal
	NewBalance    decimal.Decimal
	PointsBalance int64
	Reference     string
}

// LoyaltyView описывает состояние программы лояльности пользователя.
type LoyaltyView struct {
	Account      model.LoyaltyAccount
	NextTier     model.Tier
	NextAt       int64
	PointsToNext int64
}

// Balance возвращает кошелёк пользователя.
func (s *Service) Balance(ctx context.Context, actor model.Actor) (*model.Wallet, error) {
	return s.repo.GetWallet(ctx, actor.UserID)
}

// Transactions возвращает страницу истории операций кошелька, новые первыми.
func (s *Service) Transactions(ctx context.Context, actor model.Actor, limit, offset int) ([]model.LedgerEntry, error) {
	if limit < 0 || offset < 0 {
		return nil, invalidf("limit %d, offset %d", limit, offset)
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	w, err := s.repo.GetWallet(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLedgerEntries(ctx, w.ID, limit, offset)
}

// RedeemPoints обменивает баллы на деньги кошелька по курсу 4 балла за единицу валюты.
// Блокировки берутся в порядке счёт баллов, кошелёк.
func (s *Service) RedeemPoints(ctx context.Context, actor model.Actor, points int64) (*Redemption, error) {
	if err := loyalty.ValidateRedemption(points); err != nil {
		return nil, invalid(err)
	}

	var res *Redemption
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		acct, err := tx.LockLoyaltyAccount(ctx, actor.UserID)
		if errors.Is(err, repository.ErrLoyaltyNotFound) {
			return loyalty.ErrInsufficientPoints
		}
		if err != nil {
			return err
		}

		now := s.now()
		credit, err := loyalty.Redeem(acct, points, now)
		if err != nil {
			return err
		}

		w, err := tx.LockWallet(ctx, actor.UserID)
		if err != nil {
			return err
		}
		entry, err := ledger.Bonus(w, credit, "redeem_"+uuid.NewString(),
			fmt.Sprintf("Points redemption: %d points", points), now)
		if err != nil {
			return err
		}
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.SaveLoyaltyAccount(ctx, acct); err != nil {
			return err
		}

		res = &Redemption{
			Points:        points,
			Credited:      credit,
			NewBalance:    w.Balance,
			PointsBalance: acct.PointsBalance,
			Reference:     entry.Reference,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Loyalty возвращает баллы, уровень и порог следующего уровня.
func (s *Service) Loyalty(ctx context.Context, actor model.Actor) (*LoyaltyView, error) {
	acct, err := s.repo.GetLoyaltyAccount(ctx, actor.UserID)
	if errors.Is(err, repository.ErrLoyaltyNotFound) {
		acct = model.NewLoyaltyAccount(actor.UserID)
	} else if err != nil {
		return nil, err
	}

	view := &LoyaltyView{Account: *acct}
	if next, at, ok := loyalty.NextThreshold(acct.CurrentTier); ok {
		view.NextTier = next
		view.NextAt = at
		view.PointsToNext = max(at-acct.LifetimeEarned, 0)
	}
	return view, nil
}

// Reconcile сверяет баланс кошелька пользователя с журналом.
func (s *Service) Reconcile(ctx context.Context, actor model.Actor, userID int64) (*ledger.Reconciliation, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrForbidden
	}
	w, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListLedgerEntries(ctx, w.ID, 0, 0)
	if err != nil {
		return nil, err
	}
	rec := ledger.Reconcile(w, entries)
	return &rec, nil
}

// AdminStats возвращает сводку по платформе.
func (s *Service) AdminStats(ctx context.Context, actor model.Actor) (*model.AdminStats, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrForbidden
	}
	return s.repo.AdminStats(ctx, s.now().Add(-ActiveUserWindow))
}
