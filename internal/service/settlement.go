package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmeshcher/dabil/internal/ledger"
	"github.com/mmeshcher/dabil/internal/loyalty"
	"github.com/mmeshcher/dabil/internal/model"
	"github.com/mmeshcher/dabil/internal/repository"
)

// SettleOrder списывает сумму заказа с кошелька гостя, начисляет баллы и
// переводит заказ в served. Все изменения выполняются в одной транзакции.
// Сумма берётся только из сохранённого заказа. Блокировки берутся в порядке
// заказ, счёт баллов, кошелёк.
func (s *Service) SettleOrder(ctx context.Context, actor model.Actor, orderID int64) (*model.SettlementReceipt, error) {
	var receipt *model.SettlementReceipt

	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		oc, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.WorksAt(oc.RestaurantID) {
			return ErrForbidden
		}
		order := oc.Order
		if !order.Status.CanTransition(model.OrderServed) {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, order.Number, order.Status)
		}

		acct, err := tx.LockLoyaltyAccount(ctx, oc.CustomerID)
		if errors.Is(err, repository.ErrLoyaltyNotFound) {
			if err := tx.EnsureLoyaltyAccount(ctx, oc.CustomerID); err != nil {
				return err
			}
			acct, err = tx.LockLoyaltyAccount(ctx, oc.CustomerID)
		}
		if err != nil {
			return err
		}

		points := loyalty.Points(order.TotalAmount, oc.RestaurantType, acct.CurrentTier)

		w, err := tx.LockWallet(ctx, oc.CustomerID)
		if err != nil {
			return err
		}

		now := s.now()
		entry, err := ledger.Debit(w, order.TotalAmount, "debit_"+uuid.NewString(),
			fmt.Sprintf("Order %s at %s", order.Number, oc.RestaurantName), &order.ID, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}

		loyalty.Accrue(acct, points, now)
		if err := tx.SaveLoyaltyAccount(ctx, acct); err != nil {
			return err
		}

		if err := tx.UpdateOrderStatus(ctx, order.ID, model.OrderServed, &now); err != nil {
			return err
		}
		if err := tx.AddSessionTotals(ctx, order.SessionID, order.TotalAmount, points); err != nil {
			return err
		}

		receipt = &model.SettlementReceipt{
			OrderID:       order.ID,
			OrderNumber:   order.Number,
			AmountCharged: order.TotalAmount,
			NewBalance:    w.Balance,
			PointsEarned:  points,
			Tier:          acct.CurrentTier,
			Reference:     entry.Reference,
			ServedAt:      now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
