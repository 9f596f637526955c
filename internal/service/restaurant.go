package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/mmeshcher/dabil/internal/model"
	"github.com/mmeshcher/dabil/internal/repository"
	"github.com/mmeshcher/dabil/internal/validation"
)

// QRSize задаёт сторону PNG с QR-кодом в пикселях.
const QRSize = 256

// NewRestaurant содержит данные нового ресторана и его менеджера.
type NewRestaurant struct {
	Name        string
	Type        model.RestaurantType
	CuisineType string
	Address     string
	City        string
	Owner       Credentials
}

// NewMenuItem содержит данные новой позиции меню.
type NewMenuItem struct {
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
}

// RestaurantDetails содержит ресторан вместе с доступным меню.
type RestaurantDetails struct {
	Restaurant model.Restaurant
	Menu       []model.MenuItem
}

// CreateRestaurant создаёт ресторан и учётную запись его менеджера в одной транзакции.
func (s *Service) CreateRestaurant(ctx context.Context, actor model.Actor, in NewRestaurant) (*model.Restaurant, *model.User, error) {
	if actor.Role != model.RoleAdmin {
		return nil, nil, ErrForbidden
	}
	if err := validation.Required(in.Name); err != nil {
		return nil, nil, invalidf("name: %v", err)
	}
	if !in.Type.Valid() {
		return nil, nil, invalidf("unknown restaurant type %q", in.Type)
	}
	slug := validation.Slug(in.Name)
	if slug == "" {
		return nil, nil, invalidf("name %q has no usable characters", in.Name)
	}

	r := &model.Restaurant{
		Name:        in.Name,
		Slug:        slug,
		Type:        in.Type,
		CuisineType: in.CuisineType,
		Address:     in.Address,
		City:        in.City,
		Active:      true,
	}

	var manager *model.User
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.CreateRestaurant(ctx, r); err != nil {
			return err
		}

		u, err := s.prepareUser(in.Owner, model.RoleManager, &r.ID)
		if err != nil {
			return err
		}
		if err := s.createAccount(ctx, tx, u); err != nil {
			return err
		}
		if err := tx.SetRestaurantOwner(ctx, r.ID, u.ID); err != nil {
			return err
		}
		r.OwnerUserID = &u.ID
		manager = u
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return r, manager, nil
}

// ListRestaurants возвращает активные рестораны.
func (s *Service) ListRestaurants(ctx context.Context) ([]model.Restaurant, error) {
	return s.repo.ListRestaurants(ctx)
}

// GetRestaurant возвращает активный ресторан и его доступное меню.
func (s *Service) GetRestaurant(ctx context.Context, id int64) (*RestaurantDetails, error) {
	r, err := s.activeRestaurant(ctx, id)
	if err != nil {
		return nil, err
	}
	menu, err := s.repo.ListMenuItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RestaurantDetails{Restaurant: *r, Menu: menu}, nil
}

func (s *Service) activeRestaurant(ctx context.Context, id int64) (*model.Restaurant, error) {
	r, err := s.repo.GetRestaurant(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return nil, repository.ErrRestaurantNotFound
	}
	return r, nil
}

// DeactivateRestaurant скрывает ресторан из каталога. История визитов и заказов сохраняется.
func (s *Service) DeactivateRestaurant(ctx context.Context, actor model.Actor, id int64) error {
	if actor.Role != model.RoleAdmin {
		return ErrForbidden
	}
	if err := s.repo.SetRestaurantActive(ctx, id, false); err != nil {
		return err
	}
	s.logger.Info("restaurant deactivated", zap.Int64("restaurantID", id), zap.Int64("adminID", actor.UserID))
	return nil
}

// AddMenuItem добавляет позицию в меню ресторана.
func (s *Service) AddMenuItem(ctx context.Context, actor model.Actor, restaurantID int64, in NewMenuItem) (*model.MenuItem, error) {
	if !actor.Manages(restaurantID) {
		return nil, ErrForbidden
	}
	if err := validation.Required(in.Name); err != nil {
		return nil, invalidf("name: %v", err)
	}
	if err := validation.Amount(in.Price); err != nil {
		return nil, invalidf("price: %v", err)
	}
	if _, err := s.activeRestaurant(ctx, restaurantID); err != nil {
		return nil, err
	}

	m := &model.MenuItem{
		RestaurantID: restaurantID,
		Name:         in.Name,
		Description:  in.Description,
		Category:     in.Category,
		Price:        in.Price,
		Available:    true,
	}
	if err := s.repo.CreateMenuItem(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateStaff создаёт учётную запись сотрудника ресторана.
func (s *Service) CreateStaff(ctx context.Context, actor model.Actor, restaurantID int64, c Credentials) (*model.User, error) {
	if !actor.Manages(restaurantID) {
		return nil, ErrForbidden
	}
	if _, err := s.activeRestaurant(ctx, restaurantID); err != nil {
		return nil, err
	}

	u, err := s.prepareUser(c, model.RoleStaff, &restaurantID)
	if err != nil {
		return nil, err
	}

	err = s.repo.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		return s.createAccount(ctx, tx, u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ListStaff возвращает персонал ресторана.
func (s *Service) ListStaff(ctx context.Context, actor model.Actor, restaurantID int64) ([]model.User, error) {
	if !actor.Manages(restaurantID) {
		return nil, ErrForbidden
	}
	if _, err := s.repo.GetRestaurant(ctx, restaurantID); err != nil {
		return nil, err
	}
	return s.repo.ListStaff(ctx, restaurantID)
}

// CheckInURL возвращает адрес страницы check-in для ресторана.
func (s *Service) CheckInURL(restaurantID int64) string {
	q := url.Values{"restaurant": {strconv.FormatInt(restaurantID, 10)}}
	return s.cfg.FrontendURL + "/checkin?" + q.Encode()
}

// RestaurantQR возвращает PNG с QR-кодом ссылки check-in.
func (s *Service) RestaurantQR(ctx context.Context, restaurantID int64) ([]byte, error) {
	if _, err := s.activeRestaurant(ctx, restaurantID); err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(s.CheckInURL(restaurantID), qrcode.Medium, QRSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// RestaurantStats возвращает показатели ресторана для менеджера.
func (s *Service) RestaurantStats(ctx context.Context, actor model.Actor, restaurantID int64) (*model.RestaurantStats, error) {
	if !actor.Manages(restaurantID) {
		return nil, ErrForbidden
	}
	if _, err := s.repo.GetRestaurant(ctx, restaurantID); err != nil {
		if errors.Is(err, repository.ErrRestaurantNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get restaurant: %w", err)
	}
	return s.repo.RestaurantStats(ctx, restaurantID)
}

// LoyaltyOverview возвращает сводку лояльности гостей ресторана. Месяц считается по UTC.
func (s *Service) LoyaltyOverview(ctx context.Context, actor model.Actor, restaurantID int64) (*model.LoyaltyOverview, error) {
	if !actor.Manages(restaurantID) {
		return nil, ErrForbidden
	}
	if _, err := s.repo.GetRestaurant(ctx, restaurantID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.repo.LoyaltyOverview(ctx, restaurantID, monthStart)
}
