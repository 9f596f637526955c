package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/dabil/internal/ledger"
	"github.com/mmeshcher/dabil/internal/model"
	"github.com/mmeshcher/dabil/internal/paystack"
	"github.com/mmeshcher/dabil/internal/repository"
	"github.com/mmeshcher/dabil/internal/validation"
)

// FundingHandle содержит данные для перехода гостя на страницу оплаты.
type FundingHandle struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
	Amount           decimal.Decimal
}

// InitiateFunding создаёт pending-пополнение и платёж в шлюзе. Баланс не меняется
// до подтверждения. Если шлюз недоступен, запись переводится в failed.
func (s *Service) InitiateFunding(ctx context.Context, actor model.Actor, amount decimal.Decimal) (*FundingHandle, error) {
	if err := validation.Amount(amount); err != nil {
		return nil, invalid(err)
	}
	if amount.LessThan(s.cfg.FundingMin) || amount.GreaterThan(s.cfg.FundingMax) {
		return nil, invalidf("funding amount must be between %s and %s", s.cfg.FundingMin, s.cfg.FundingMax)
	}

	u, err := s.repo.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	w, err := s.repo.GetWallet(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	reference := fmt.Sprintf("dabil_%d_%s", actor.UserID, uuid.NewString())
	entry := ledger.PendingFunding(w, amount, reference, "Wallet funding via Paystack", s.now())
	if err := s.repo.AppendLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}

	auth, err := s.gateway.Initialize(ctx, paystack.InitializeRequest{
		Email:       u.Email,
		Amount:      amount,
		Reference:   reference,
		CallbackURL: s.cfg.FrontendURL + "/wallet/callback",
		Metadata: map[string]any{
			"user_id":   actor.UserID,
			"wallet_id": w.ID,
		},
	})
	if err != nil {
		if ferr := s.failFunding(context.WithoutCancel(ctx), reference); ferr != nil {
			s.logger.Error("mark funding failed", zap.Error(ferr), zap.String("reference", reference))
		}
		return nil, fmt.Errorf("%w: %w", ErrGateway, err)
	}

	return &FundingHandle{
		Reference:        reference,
		AuthorizationURL: auth.AuthorizationURL,
		AccessCode:       auth.AccessCode,
		Amount:           amount,
	}, nil
}

func (s *Service) failFunding(ctx context.Context, reference string) error {
	return s.repo.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		e, err := tx.LockLedgerEntry(ctx, reference)
		if err != nil {
			return err
		}
		if err := ledger.FailFunding(e, s.now()); err != nil {
			return err
		}
		return tx.FinalizeLedgerEntry(ctx, e)
	})
}

// VerifyFunding подтверждает пополнение владельца кошелька.
func (s *Service) VerifyFunding(ctx context.Context, actor model.Actor, reference string) (decimal.Decimal, error) {
	w, err := s.repo.GetWallet(ctx, actor.UserID)
	if err != nil {
		return decimal.Zero, err
	}
	e, err := s.repo.GetLedgerEntry(ctx, reference)
	if err != nil {
		return decimal.Zero, err
	}
	if e.WalletID != w.ID {
		return decimal.Zero, repository.ErrEntryNotFound
	}
	return s.ConfirmFunding(ctx, reference)
}

// ConfirmFunding проверяет платёж в шлюзе и при успехе зачисляет сумму на кошелёк.
// Повторный вызов для завершённого пополнения возвращает текущий баланс без
// повторного зачисления.
func (s *Service) ConfirmFunding(ctx context.Context, reference string) (decimal.Decimal, error) {
	e, err := s.repo.GetLedgerEntry(ctx, reference)
	if err != nil {
		return decimal.Zero, err
	}
	if e.Type != model.EntryCredit {
		return decimal.Zero, repository.ErrEntryNotFound
	}

	switch e.Status {
	case model.EntryCompleted:
		return s.walletBalance(ctx, e.WalletID)
	case model.EntryFailed:
		return decimal.Zero, ErrPaymentFailed
	}

	v, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrGateway, err)
	}

	var (
		balance decimal.Decimal
		outcome error
	)
	err = s.repo.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		e, err := tx.LockLedgerEntry(ctx, reference)
		if err != nil {
			return err
		}
		now := s.now()

		switch e.Status {
		case model.EntryCompleted:
			w, err := tx.GetWalletByID(ctx, e.WalletID)
			if err != nil {
				return err
			}
			balance = w.Balance
			return nil
		case model.EntryFailed:
			outcome = ErrPaymentFailed
			return nil
		}

		if !v.Succeeded() || !v.Amount.Equal(e.Amount) {
			outcome = ErrPaymentFailed
			if v.Succeeded() {
				outcome = fmt.Errorf("%w: paid %s, expected %s", ErrAmountMismatch, v.Amount, e.Amount)
			}
			if err := ledger.FailFunding(e, now); err != nil {
				return err
			}
			return tx.FinalizeLedgerEntry(ctx, e)
		}

		w, err := tx.LockWalletByID(ctx, e.WalletID)
		if err != nil {
			return err
		}
		if err := ledger.CompleteFunding(w, e, now); err != nil {
			return err
		}
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.FinalizeLedgerEntry(ctx, e); err != nil {
			return err
		}
		balance = w.Balance
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	if outcome != nil {
		return decimal.Zero, outcome
	}
	return balance, nil
}

func (s *Service) walletBalance(ctx context.Context, walletID int64) (decimal.Decimal, error) {
	w, err := s.repo.GetWalletByID(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// HandleWebhook обрабатывает уведомление Paystack. Учитывается только charge.success;
// окончательный статус всё равно запрашивается через verify.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.gateway.VerifySignature(body, signature) {
		return ErrInvalidSignature
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return invalidf("decode webhook: %v", err)
	}
	if ev.Event != "charge.success" || ev.Data.Reference == "" {
		return nil
	}

	_, err := s.ConfirmFunding(ctx, ev.Data.Reference)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrEntryNotFound),
		errors.Is(err, ErrPaymentFailed),
		errors.Is(err, ErrAmountMismatch):
		s.logger.Warn("webhook funding not applied", zap.Error(err), zap.String("reference", ev.Data.Reference))
		return nil
	default:
		return err
	}
}
