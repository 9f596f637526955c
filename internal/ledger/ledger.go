// Package ledger содержит примитивы изменения баланса кошелька.
// Каждая операция изменяет кошелёк в памяти и возвращает запись журнала с
// balance_before/balance_after; сохранение выполняет вызывающая транзакция.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/dabil/internal/model"
)

var (
	// ErrInsufficientFunds возвращается, если баланс кошелька меньше суммы списания.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	// ErrIntegrity возвращается при нарушении инварианта журнала. В корректной программе недостижима.
	ErrIntegrity = errors.New("ledger integrity violation")
	// ErrEntryNotPending возвращается при попытке повторно финализировать запись пополнения.
	ErrEntryNotPending = errors.New("ledger entry already finalized")
)

// Debit списывает amount с кошелька и возвращает завершённую запись типа debit.
func Debit(w *model.Wallet, amount decimal.Decimal, reference, description string, orderID *int64, now time.Time) (*model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: debit amount %s", ErrIntegrity, amount)
	}
	if w.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	before := w.Balance
	after := before.Sub(amount)

	w.Balance = after
	w.TotalSpent = w.TotalSpent.Add(amount)
	w.LastTransactionAt = &now

	return &model.LedgerEntry{
		WalletID:      w.ID,
		OrderID:       orderID,
		Amount:        amount,
		Type:          model.EntryDebit,
		Reference:     reference,
		Status:        model.EntryCompleted,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   description,
		CreatedAt:     now,
		ProcessedAt:   &now,
	}, nil
}

// PendingFunding создаёт запись пополнения в статусе pending. Баланс не меняется.
func PendingFunding(w *model.Wallet, amount decimal.Decimal, reference, description string, now time.Time) *model.LedgerEntry {
	return &model.LedgerEntry{
		WalletID:          w.ID,
		Amount:            amount,
		Type:              model.EntryCredit,
		Reference:         reference,
		ExternalReference: reference,
		Status:            model.EntryPending,
		BalanceBefore:     w.Balance,
		BalanceAfter:      w.Balance,
		Description:       description,
		CreatedAt:         now,
	}
}

// CompleteFunding зачисляет сумму pending-записи на кошелёк и переводит запись в completed.
func CompleteFunding(w *model.Wallet, e *model.LedgerEntry, now time.Time) error {
	if e.Status != model.EntryPending {
		return ErrEntryNotPending
	}
	if e.WalletID != w.ID {
		return fmt.Errorf("%w: entry %s belongs to wallet %d, not %d", ErrIntegrity, e.Reference, e.WalletID, w.ID)
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: funding amount %s", ErrIntegrity, e.Amount)
	}

	before := w.Balance
	after := before.Add(e.Amount)

	w.Balance = after
	w.TotalFunded = w.TotalFunded.Add(e.Amount)
	w.LastTransactionAt = &now

	e.Status = model.EntryCompleted
	e.BalanceBefore = before
	e.BalanceAfter = after
	e.ProcessedAt = &now
	return nil
}

// FailFunding переводит pending-запись в failed без изменения баланса.
func FailFunding(e *model.LedgerEntry, now time.Time) error {
	if e.Status != model.EntryPending {
		return ErrEntryNotPending
	}
	e.Status = model.EntryFailed
	e.ProcessedAt = &now
	return nil
}

// Bonus зачисляет на кошелёк бонусную сумму (обмен баллов) и возвращает завершённую запись.
func Bonus(w *model.Wallet, amount decimal.Decimal, reference, description string, now time.Time) (*model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: bonus amount %s", ErrIntegrity, amount)
	}

	before := w.Balance
	after := before.Add(amount)

	w.Balance = after
	w.LastTransactionAt = &now

	return &model.LedgerEntry{
		WalletID:      w.ID,
		Amount:        amount,
		Type:          model.EntryBonus,
		Reference:     reference,
		Status:        model.EntryCompleted,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   description,
		CreatedAt:     now,
		ProcessedAt:   &now,
	}, nil
}

// Sum возвращает сумму завершённых зачислений минус сумму завершённых списаний.
func Sum(entries []model.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Status != model.EntryCompleted {
			continue
		}
		if e.Type.Sign() < 0 {
			total = total.Sub(e.Amount)
		} else {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// Reconciliation содержит результат сверки баланса кошелька с журналом.
type Reconciliation struct {
	Balance   decimal.Decimal
	LedgerSum decimal.Decimal
	Entries   int
}

// Balanced сообщает, совпадает ли баланс с журналом.
func (r Reconciliation) Balanced() bool {
	return r.Balance.Equal(r.LedgerSum)
}

// Reconcile сверяет баланс кошелька с его журналом.
func Reconcile(w *model.Wallet, entries []model.LedgerEntry) Reconciliation {
	return Reconciliation{
		Balance:   w.Balance,
		LedgerSum: Sum(entries),
		Entries:   len(entries),
	}
}
