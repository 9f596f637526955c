// Package service реализует бизнес-логику сервиса Dabil: кошельки, расчёт заказов и программу лояльности.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/dabil/internal/model"
	"github.com/mmeshcher/dabil/internal/paystack"
	"github.com/mmeshcher/dabil/internal/repository"
)

var (
	// ErrValidation оборачивает ошибки входных данных. Проверка выполняется до любых изменений.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials возвращается при неверном email или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden возвращается, если у пользователя нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition возвращается, если статус заказа не допускает операцию.
	ErrInvalidTransition = errors.New("order status does not allow this operation")
	// ErrSessionClosed возвращается при работе с завершённой сессией.
	ErrSessionClosed = errors.New("session is not active")
	// ErrGateway возвращается при сбое платёжного шлюза.
	ErrGateway = errors.New("payment gateway failure")
	// ErrPaymentFailed возвращается, если шлюз сообщил о неуспешном платеже.
	ErrPaymentFailed = errors.New("payment was not successful")
	// ErrAmountMismatch возвращается, если сумма у шлюза не совпадает с суммой пополнения.
	ErrAmountMismatch = errors.New("gateway amount does not match funding amount")
	// ErrInvalidSignature возвращается для вебхука с неверной подписью.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Gateway описывает платёжный шлюз.
type Gateway interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.Authorization, error)
	Verify(ctx context.Context, reference string) (*paystack.Verification, error)
	VerifySignature(body []byte, signature string) bool
}

// TokenIssuer выпускает токены доступа.
type TokenIssuer interface {
	IssueToken(u *model.User) (string, error)
}

// Config содержит параметры бизнес-логики.
type Config struct {
	Currency    string
	FundingMin  decimal.Decimal
	FundingMax  decimal.Decimal
	FrontendURL string
}

// Service содержит бизнес-логику сервиса Dabil.
type Service struct {
	repo       repository.Repository
	gateway    Gateway
	tokens     TokenIssuer
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
	bcryptCost int
}

// NewService создаёт сервис с указанным хранилищем, платёжным шлюзом и выпуском токенов.
func NewService(repo repository.Repository, gateway Gateway, tokens TokenIssuer, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Currency == "" {
		cfg.Currency = model.DefaultCurrency
	}
	return &Service{
		repo:       repo,
		gateway:    gateway,
		tokens:     tokens,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
