package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/dabil/internal/model"
)

// CheckIn открывает визит гостя в ресторан. У гостя может быть только одна
// активная сессия в каждом ресторане.
func (s *Service) CheckIn(ctx context.Context, actor model.Actor, restaurantID int64, table string, partySize int) (*model.Session, error) {
	if partySize == 0 {
		partySize = 1
	}
	if partySize < 0 {
		return nil, invalidf("party size %d", partySize)
	}
	if _, err := s.activeRestaurant(ctx, restaurantID); err != nil {
		return nil, err
	}

	sess := &model.Session{
		UserID:       actor.UserID,
		RestaurantID: restaurantID,
		TableNumber:  strings.TrimSpace(table),
		PartySize:    partySize,
		Status:       model.SessionActive,
		TotalSpent:   decimal.Zero,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// CheckOut завершает визит. Доступно самому гостю и сотрудникам ресторана.
func (s *Service) CheckOut(ctx context.Context, actor model.Actor, sessionID int64) (*model.Session, error) {
	sess, err := s.visibleSession(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionActive {
		return nil, ErrSessionClosed
	}
	return s.repo.CloseSession(ctx, sessionID, s.now())
}

// ActiveSession возвращает текущую активную сессию гостя.
func (s *Service) ActiveSession(ctx context.Context, actor model.Actor) (*model.Session, error) {
	return s.repo.GetActiveSession(ctx, actor.UserID)
}

// Guests возвращает гостей, отметившихся в ресторане сотрудника.
func (s *Service) Guests(ctx context.Context, actor model.Actor) ([]model.Guest, error) {
	if actor.RestaurantID == nil || !actor.WorksAt(*actor.RestaurantID) {
		return nil, ErrForbidden
	}
	return s.repo.ListGuests(ctx, *actor.RestaurantID)
}

// SessionOrders возвращает заказы сессии, новые первыми.
func (s *Service) SessionOrders(ctx context.Context, actor model.Actor, sessionID int64) ([]model.Order, error) {
	if _, err := s.visibleSession(ctx, actor, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListSessionOrders(ctx, sessionID)
}

func (s *Service) visibleSession(ctx context.Context, actor model.Actor, sessionID int64) (*model.Session, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != actor.UserID && !actor.WorksAt(sess.RestaurantID) {
		return nil, ErrForbidden
	}
	return sess, nil
}
