package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/dabil/internal/paystack"
	"github.com/mmeshcher/dabil/internal/repository"
)

const (
	// PendingFundingAge задаёт возраст pending-пополнения, после которого его проверяет фоновый процесс.
	PendingFundingAge = time.Hour
	sweepBatchSize    = 100
)

// StartFundingSweeper запускает фоновую проверку зависших пополнений, по которым
// не пришёл ни редирект, ни вебхук.
func (s *Service) StartFundingSweeper(ctx context.Context, interval time.Duration) {
	if s.gateway == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepPendingFunding(ctx)
			}
		}
	}()
}

func (s *Service) sweepPendingFunding(ctx context.Context) {
	entries, err := s.repo.ListPendingFunding(ctx, s.now().Add(-PendingFundingAge), sweepBatchSize)
	if err != nil {
		s.logger.Error("list pending funding", zap.Error(err))
		return
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}

		balance, err := s.ConfirmFunding(ctx, e.Reference)
		switch {
		case err == nil:
			s.logger.Info("pending funding confirmed",
				zap.String("reference", e.Reference), zap.String("balance", balance.String()))
		case errors.Is(err, ErrPaymentFailed), errors.Is(err, ErrAmountMismatch):
			s.logger.Info("pending funding failed", zap.String("reference", e.Reference), zap.Error(err))
		case errors.Is(err, paystack.ErrRejected):
			s.logger.Warn("gateway rejected pending funding", zap.String("reference", e.Reference), zap.Error(err))
		case errors.Is(err, ErrGateway):
			s.logger.Warn("gateway unavailable, sweep postponed", zap.Error(err))
			return
		case errors.Is(err, repository.ErrEntryNotFound):
			continue
		default:
			s.logger.Error("confirm pending funding", zap.String("reference", e.Reference), zap.Error(err))
		}
	}
}
