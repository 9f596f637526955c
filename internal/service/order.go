package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/dabil/internal/model"
	"github.com/mmeshcher/dabil/internal/repository"
)

// OrderLine описывает позицию заказа в запросе гостя. Цена берётся из меню.
type OrderLine struct {
	MenuItemID int64
	Quantity   int
}

// PaymentStatus описывает состояние подтверждения оплаты заказа.
type PaymentStatus struct {
	OrderID   int64
	Status    model.OrderStatus
	Awaiting  bool
	Confirmed bool
	Declined  bool
}

// CreateOrder создаёт заказ в активной сессии гостя по ценам текущего меню ресторана.
func (s *Service) CreateOrder(ctx context.Context, actor model.Actor, sessionID int64, lines []OrderLine, notes string) (*model.Order, error) {
	if len(lines) == 0 {
		return nil, invalidf("order has no items")
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, invalidf("quantity %d for menu item %d", l.Quantity, l.MenuItemID)
		}
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != actor.UserID {
		return nil, ErrForbidden
	}
	if sess.Status != model.SessionActive {
		return nil, ErrSessionClosed
	}

	menu, err := s.repo.ListMenuItems(ctx, sess.RestaurantID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.MenuItem, len(menu))
	for _, m := range menu {
		byID[m.ID] = m
	}

	items := make([]model.OrderItem, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		m, ok := byID[l.MenuItemID]
		if !ok {
			return nil, invalidf("menu item %d is not available", l.MenuItemID)
		}
		items = append(items, model.OrderItem{
			MenuItemID: m.ID,
			Name:       m.Name,
			Quantity:   l.Quantity,
			UnitPrice:  m.Price,
		})
		total = total.Add(m.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	o := &model.Order{
		SessionID:   sessionID,
		Number:      fmt.Sprintf("ORD%d", s.now().UnixNano()),
		Items:       items,
		Subtotal:    total,
		TotalAmount: total,
		Status:      model.OrderPending,
		Notes:       notes,
	}
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder возвращает заказ гостю или сотруднику ресторана.
func (s *Service) GetOrder(ctx context.Context, actor model.Actor, orderID int64) (*model.OrderContext, error) {
	oc, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if oc.CustomerID != actor.UserID && !actor.WorksAt(oc.RestaurantID) {
		return nil, ErrForbidden
	}
	return oc, nil
}

// RequestPayment запрашивает у гостя подтверждение оплаты заказа.
func (s *Service) RequestPayment(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error) {
	return s.changeStatus(ctx, actor, orderID, model.OrderAwaitingPayment, byStaff)
}

// ConfirmPayment подтверждает оплату от имени гостя.
func (s *Service) ConfirmPayment(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error) {
	return s.changeStatus(ctx, actor, orderID, model.OrderPaymentConfirmed, byCustomer)
}

// DeclinePayment отклоняет оплату от имени гостя.
func (s *Service) DeclinePayment(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error) {
	return s.changeStatus(ctx, actor, orderID, model.OrderPaymentDeclined, byCustomer)
}

// RetryOrder возвращает отклонённый заказ в pending.
func (s *Service) RetryOrder(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error) {
	return s.changeStatus(ctx, actor, orderID, model.OrderPending, func(a model.Actor, oc *model.OrderContext) bool {
		return byCustomer(a, oc) || byStaff(a, oc)
	})
}

// PaymentStatus возвращает состояние подтверждения оплаты.
func (s *Service) PaymentStatus(ctx context.Context, actor model.Actor, orderID int64) (*PaymentStatus, error) {
	oc, err := s.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	st := oc.Order.Status
	return &PaymentStatus{
		OrderID:   orderID,
		Status:    st,
		Awaiting:  st == model.OrderAwaitingPayment,
		Confirmed: st == model.OrderPaymentConfirmed,
		Declined:  st == model.OrderPaymentDeclined,
	}, nil
}

func byStaff(a model.Actor, oc *model.OrderContext) bool {
	return a.WorksAt(oc.RestaurantID)
}

func byCustomer(a model.Actor, oc *model.OrderContext) bool {
	return a.UserID == oc.CustomerID
}

func (s *Service) changeStatus(
	ctx context.Context,
	actor model.Actor,
	orderID int64,
	to model.OrderStatus,
	allowed func(model.Actor, *model.OrderContext) bool,
) (*model.Order, error) {
	var out model.Order
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		oc, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !allowed(actor, oc) {
			return ErrForbidden
		}
		if !oc.Order.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oc.Order.Status, to)
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, to, nil); err != nil {
			return err
		}
		oc.Order.Status = to
		out = oc.Order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
