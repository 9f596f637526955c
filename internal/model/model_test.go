package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderPending, OrderAwaitingPayment, true},
		{OrderPending, OrderServed, true},
		{OrderAwaitingPayment, OrderPaymentConfirmed, true},
		{OrderAwaitingPayment, OrderPaymentDeclined, true},
		{OrderPaymentConfirmed, OrderServed, true},
		{OrderPaymentDeclined, OrderPending, true},

		{OrderAwaitingPayment, OrderServed, false},
		{OrderPaymentDeclined, OrderServed, false},
		{OrderServed, OrderPending, false},
		{OrderServed, OrderServed, false},
		{OrderPending, OrderPaymentConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestActor_WorksAtAndManages(t *testing.T) {
	here, there := int64(1), int64(2)

	tests := []struct {
		name        string
		actor       Actor
		wantWorks   bool
		wantManages bool
	}{
		{name: "admin", actor: Actor{Role: RoleAdmin}, wantWorks: true, wantManages: true},
		{name: "manager here", actor: Actor{Role: RoleManager, RestaurantID: &here}, wantWorks: true, wantManages: true},
		{name: "manager elsewhere", actor: Actor{Role: RoleManager, RestaurantID: &there}},
		{name: "staff here", actor: Actor{Role: RoleStaff, RestaurantID: &here}, wantWorks: true},
		{name: "staff unbound", actor: Actor{Role: RoleStaff}},
		{name: "customer", actor: Actor{Role: RoleCustomer, RestaurantID: &here}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantWorks, tt.actor.WorksAt(here))
			assert.Equal(t, tt.wantManages, tt.actor.Manages(here))
		})
	}
}

func TestRestaurantType_Valid(t *testing.T) {
	assert.True(t, RestaurantFineDining.Valid())
	assert.True(t, RestaurantFastFood.Valid())
	assert.False(t, RestaurantType("Food Truck").Valid())
}

func TestEntryType_Sign(t *testing.T) {
	assert.Equal(t, -1, EntryDebit.Sign())
	assert.Equal(t, 1, EntryCredit.Sign())
	assert.Equal(t, 1, EntryBonus.Sign())
	assert.Equal(t, 1, EntryRefund.Sign())
}
