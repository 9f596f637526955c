package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/dabil/internal/model"
	"github.com/mmeshcher/dabil/internal/repository"
	"github.com/mmeshcher/dabil/internal/validation"
)

// AuthResult содержит токен и профиль пользователя после входа или регистрации.
type AuthResult struct {
	Token string
	User  *model.User
}

// Credentials содержит данные новой учётной записи.
type Credentials struct {
	Email    string
	Name     string
	Password string
}

func (s *Service) prepareUser(c Credentials, role model.Role, restaurantID *int64) (*model.User, error) {
	email, err := validation.NormalizeEmail(c.Email)
	if err != nil {
		return nil, invalid(err)
	}
	if err := validation.Password(c.Password); err != nil {
		return nil, invalid(err)
	}
	if err := validation.Required(c.Name); err != nil {
		return nil, invalidf("name: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	return &model.User{
		Email:        email,
		Name:         c.Name,
		PasswordHash: hash,
		Role:         role,
		RestaurantID: restaurantID,
		Active:       true,
	}, nil
}

// createAccount создаёт пользователя, пустой кошелёк и бронзовый счёт баллов внутри tx.
func (s *Service) createAccount(ctx context.Context, tx repository.Store, u *model.User) error {
	if err := tx.CreateUser(ctx, u); err != nil {
		return err
	}
	w := &model.Wallet{
		UserID:      u.ID,
		Balance:     decimal.Zero,
		TotalFunded: decimal.Zero,
		TotalSpent:  decimal.Zero,
		Currency:    s.cfg.Currency,
	}
	if err := tx.CreateWallet(ctx, w); err != nil {
		return err
	}
	return tx.SaveLoyaltyAccount(ctx, model.NewLoyaltyAccount(u.ID))
}

// Signup регистрирует покупателя и выдаёт токен.
func (s *Service) Signup(ctx context.Context, c Credentials) (*AuthResult, error) {
	u, err := s.prepareUser(c, model.RoleCustomer, nil)
	if err != nil {
		return nil, err
	}

	err = s.repo.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		return s.createAccount(ctx, tx, u)
	})
	if err != nil {
		return nil, err
	}

	return s.issue(u)
}

// Login проверяет email и пароль и выдаёт токен.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email, err := validation.NormalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.Active {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(u)
}

// Profile возвращает данные пользователя.
func (s *Service) Profile(ctx context.Context, actor model.Actor) (*model.User, error) {
	return s.repo.GetUser(ctx, actor.UserID)
}

// ProfileUpdate содержит новые имя и email пользователя.
type ProfileUpdate struct {
	Name  string
	Email string
}

// UpdateProfile меняет имя и email пользователя. Занятый email даёт repository.ErrUserExists.
func (s *Service) UpdateProfile(ctx context.Context, actor model.Actor, in ProfileUpdate) (*model.User, error) {
	if err := validation.Required(in.Name); err != nil {
		return nil, invalidf("name: %v", err)
	}
	email, err := validation.NormalizeEmail(in.Email)
	if err != nil {
		return nil, invalid(err)
	}

	u, err := s.repo.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	u.Name = in.Name
	u.Email = email
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ChangePassword заменяет пароль после проверки текущего.
func (s *Service) ChangePassword(ctx context.Context, actor model.Actor, current, next string) error {
	if current == "" {
		return invalidf("current password is required")
	}
	if err := validation.Password(next); err != nil {
		return invalid(err)
	}

	u, err := s.repo.GetUser(ctx, actor.UserID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(current)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = hash
	return s.repo.UpdateUser(ctx, u)
}

func (s *Service) issue(u *model.User) (*AuthResult, error) {
	token, err := s.tokens.IssueToken(u)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: u}, nil
}
