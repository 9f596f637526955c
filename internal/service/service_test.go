package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/dabil/internal/ledger"
	"github.com/mmeshcher/dabil/internal/loyalty"
	"github.com/mmeshcher/dabil/internal/model"
	"github.com/mmeshcher/dabil/internal/paystack"
	"github.com/mmeshcher/dabil/internal/repository"
)

type stubGateway struct {
	mu          sync.Mutex
	amounts     map[string]decimal.Decimal
	initErr     error
	verifyErr   error
	verifyErrs  map[string]error
	status      string
	paid        *decimal.Decimal
	verifyCalls int
	signatureOK bool
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		amounts:     map[string]decimal.Decimal{},
		verifyErrs:  map[string]error{},
		status:      paystack.StatusSuccess,
		signatureOK: true,
	}
}

func (g *stubGateway) Initialize(_ context.Context, req paystack.InitializeRequest) (*paystack.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return nil, g.initErr
	}
	g.amounts[req.Reference] = req.Amount
	return &paystack.Authorization{
		AuthorizationURL: "https://checkout.paystack.com/" + req.Reference,
		AccessCode:       "code",
		Reference:        req.Reference,
	}, nil
}

func (g *stubGateway) Verify(_ context.Context, reference string) (*paystack.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if err, ok := g.verifyErrs[reference]; ok {
		return nil, err
	}
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	amount := g.amounts[reference]
	if g.paid != nil {
		amount = *g.paid
	}
	return &paystack.Verification{Status: g.status, Reference: reference, Amount: amount}, nil
}

func (g *stubGateway) VerifySignature(_ []byte, signature string) bool {
	return g.signatureOK && signature != ""
}

type stubTokens struct{}

func (stubTokens) IssueToken(u *model.User) (string, error) {
	return fmt.Sprintf("token-%d", u.ID), nil
}

type fixture struct {
	svc        *Service
	repo       *repository.MemoryRepository
	gw         *stubGateway
	admin      model.Actor
	manager    model.Actor
	customer   model.Actor
	restaurant *model.Restaurant
	jollof     *model.MenuItem
	suya       *model.MenuItem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo := repository.NewMemoryRepository()
	gw := newStubGateway()
	svc := NewService(repo, gw, stubTokens{}, Config{
		Currency:    "NGN",
		FundingMin:  decimal.NewFromInt(100),
		FundingMax:  decimal.NewFromInt(500000),
		FrontendURL: "http://front.test",
	}, zap.NewNop())
	svc.bcryptCost = bcrypt.MinCost

	admin := &model.User{Email: "admin@dabil.ng", Name: "Admin", Role: model.RoleAdmin, Active: true}
	require.NoError(t, repo.CreateUser(ctx, admin))
	f := &fixture{svc: svc, repo: repo, gw: gw, admin: model.Actor{UserID: admin.ID, Role: model.RoleAdmin}}

	r, manager, err := svc.CreateRestaurant(ctx, f.admin, NewRestaurant{
		Name: "Mama Put",
		Type: model.RestaurantQSR,
		City: "Lagos",
		Owner: Credentials{
			Email:    "manager@mamaput.ng",
			Name:     "Manager",
			Password: "secret-1",
		},
	})
	require.NoError(t, err)
	f.restaurant = r
	f.manager = model.Actor{UserID: manager.ID, Role: model.RoleManager, RestaurantID: &r.ID}

	f.jollof, err = svc.AddMenuItem(ctx, f.manager, r.ID, NewMenuItem{Name: "Jollof", Price: decimal.NewFromInt(1500)})
	require.NoError(t, err)
	f.suya, err = svc.AddMenuItem(ctx, f.manager, r.ID, NewMenuItem{Name: "Suya", Price: decimal.NewFromInt(500)})
	require.NoError(t, err)

	res, err := svc.Signup(ctx, Credentials{Email: "ada@example.com", Name: "Ada", Password: "secret-1"})
	require.NoError(t, err)
	f.customer = model.Actor{UserID: res.User.ID, Role: model.RoleCustomer}

	return f
}

func (f *fixture) fund(t *testing.T, amount int64) {
	t.Helper()
	ctx := context.Background()

	h, err := f.svc.InitiateFunding(ctx, f.customer, decimal.NewFromInt(amount))
	require.NoError(t, err)
	_, err = f.svc.ConfirmFunding(ctx, h.Reference)
	require.NoError(t, err)
}

func (f *fixture) order(t *testing.T, lines ...OrderLine) *model.Order {
	t.Helper()
	ctx := context.Background()

	sess, err := f.svc.ActiveSession(ctx, f.customer)
	if errors.Is(err, repository.ErrSessionNotFound) {
		sess, err = f.svc.CheckIn(ctx, f.customer, f.restaurant.ID, "T1", 2)
	}
	require.NoError(t, err)

	o, err := f.svc.CreateOrder(ctx, f.customer, sess.ID, lines, "")
	require.NoError(t, err)
	return o
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	w, err := f.svc.Balance(context.Background(), f.customer)
	require.NoError(t, err)
	return w.Balance
}

func (f *fixture) points(t *testing.T) *model.LoyaltyAccount {
	t.Helper()
	acct, err := f.repo.GetLoyaltyAccount(context.Background(), f.customer.UserID)
	require.NoError(t, err)
	return acct
}

func (f *fixture) assertInvariants(t *testing.T) {
	t.Helper()
	rec, err := f.svc.Reconcile(context.Background(), f.admin, f.customer.UserID)
	require.NoError(t, err)
	assert.True(t, rec.Balanced(), "balance %s, ledger %s", rec.Balance, rec.LedgerSum)

	acct := f.points(t)
	assert.Equal(t, acct.LifetimeEarned-acct.LifetimeRedeemed, acct.PointsBalance)
}

func TestSettleOrder_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 5000)

	o := f.order(t, OrderLine{MenuItemID: f.jollof.ID, Quantity: 1})
	require.True(t, o.TotalAmount.Equal(decimal.NewFromInt(1500)))

	receipt, err := f.svc.SettleOrder(ctx, f.manager, o.ID)
	require.NoError(t, err)

	assert.True(t, receipt.NewBalance.Equal(decimal.NewFromInt(3500)))
	assert.EqualValues(t, 150, receipt.PointsEarned)
	assert.Equal(t, model.TierBronze, receipt.Tier)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(3500)))
	assert.EqualValues(t, 150, f.points(t).PointsBalance)

	oc, err := f.repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderServed, oc.Order.Status)
	assert.NotNil(t, oc.Order.ServedAt)

	sess, err := f.repo.GetSession(ctx, o.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.TotalSpent.Equal(decimal.NewFromInt(1500)))
	assert.EqualValues(t, 150, sess.LoyaltyPointsEarned)

	w, err := f.svc.Balance(ctx, f.customer)
	require.NoError(t, err)
	assert.True(t, w.TotalSpent.Equal(decimal.NewFromInt(1500)))

	f.assertInvariants(t)
}

func TestSettleOrder_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1000)

	o := f.order(t, OrderLine{MenuItemID: f.jollof.ID, Quantity: 1})

	_, err := f.svc.SettleOrder(ctx, f.manager, o.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(1000)))
	assert.EqualValues(t, 0, f.points(t).PointsBalance)

	oc, err := f.repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, oc.Order.Status)

	f.assertInvariants(t)
}

type faultyRepo struct {
	*repository.MemoryRepository
	fail error
}

func (r *faultyRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	return r.MemoryRepository.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		return fn(ctx, &faultyStore{Store: tx, fail: r.fail})
	})
}

type faultyStore struct {
	repository.Store
	fail error
}

func (s *faultyStore) UpdateOrderStatus(context.Context, int64, model.OrderStatus, *time.Time) error {
	return s.fail
}

func TestSettleOrder_RollsBackAfterDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 5000)
	o := f.order(t, OrderLine{MenuItemID: f.jollof.ID, Quantity: 1})

	boom := errors.New("disk on fire")
	f.svc.repo = &faultyRepo{MemoryRepository: f.repo, fail: boom}

	_, err := f.svc.SettleOrder(ctx, f.manager, o.ID)
	require.ErrorIs(t, err, boom)

	f.svc.repo = f.repo
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(5000)))
	assert.EqualValues(t, 0, f.points(t).LifetimeEarned)

	entries, err := f.svc.Transactions(ctx, f.customer, 0, 0)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, model.EntryDebit, e.Type)
	}

	oc, err := f.repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, oc.Order.Status)

	f.assertInvariants(t)
}

func TestSettleOrder_ConcurrentOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 5000)
	o := f.order(t, OrderLine{MenuItemID: f.jollof.ID, Quantity: 1})

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SettleOrder(ctx, f.manager, o.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInvalidTransition):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(3500)))
	assert.EqualValues(t, 150, f.points(t).PointsBalance)
	f.assertInvariants(t)
}

func TestSettleOrder_CrossesSilverExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 5000)

	require.NoError(t, f.repo.SaveLoyaltyAccount(ctx, &model.LoyaltyAccount{
		UserID:         f.customer.UserID,
		PointsBalance:  1850,
		LifetimeEarned: 1850,
		CurrentTier:    model.TierBronze,
	}))

	o := f.order(t, OrderLine{MenuItemID: f.jollof.ID, Quantity: 1})
	receipt, err := f.svc.SettleOrder(ctx, f.manager, o.ID)
	require.NoError(t, err)

	assert.EqualValues(t, 150, receipt.PointsEarned)
	assert.Equal(t, model.TierSilver, receipt.Tier)

	acct := f.points(t)
	assert.EqualValues(t, 2000, acct.LifetimeEarned)
	assert.Equal(t, model.TierSilver, acct.CurrentTier)
}

func TestSettleOrder_CreatesMissingLoyaltyAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := &model.User{Email: "legacy@example.com", Name: "Legacy", Role: model.RoleCustomer, Active: true}
	require.NoError(t, f.repo.CreateUser(ctx, u))
	require.NoError(t, f.repo.CreateWallet(ctx, &model.Wallet{UserID: u.ID, Currency: "NGN"}))
	f.customer = model.Actor{UserID: u.ID, Role: model.RoleCustomer}
	_, err := f.repo.GetLoyaltyAccount(ctx, u.ID)
	require.ErrorIs(t, err, repository.ErrLoyaltyNotFound)

	f.fund(t, 5000)
	first := f.order(t, OrderLine{MenuItemID: f.jollof.ID, Quantity: 1})
	second := f.order(t, OrderLine{MenuItemID: f.suya.ID, Quantity: 2})

	_, err = f.svc.SettleOrder(ctx, f.manager, first.ID)
	require.NoError(t, err)
	receipt, err := f.svc.SettleOrder(ctx, f.manager, second.ID)
	require.NoError(t, err)

	assert.EqualValues(t, 100, receipt.PointsEarned)
	acct := f.points(t)
	assert.EqualValues(t, 250, acct.PointsBalance)
	assert.EqualValues(t, 250, acct.LifetimeEarned)
	f.assertInvariants(t)
}

func TestSettleOrder_PaymentConfirmationFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 5000)
	o := f.order(t, OrderLine{MenuItemID: f.suya.ID, Quantity: 2})

	_, err := f.svc.ConfirmPayment(ctx, f.customer, o.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.RequestPayment(ctx, f.customer, o.ID)
	require.ErrorIs(t, err, ErrForbidden)

	updated, err := f.svc.RequestPayment(ctx, f.manager, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderAwaitingPayment, updated.Status)

	_, err = f.svc.SettleOrder(ctx, f.manager, o.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.DeclinePayment(ctx, f.customer, o.ID)
	require.NoError(t, err)

	ps, err := f.svc.PaymentStatus(ctx, f.customer, o.ID)
	require.NoError(t, err)
	assert.True(t, ps.Declined)

	_, err = f.svc.RetryOrder(ctx, f.customer, o.ID)
	require.NoError(t, err)
	_, err = f.svc.RequestPayment(ctx, f.manager, o.ID)
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, f.customer, o.ID)
	require.NoError(t, err)

	ps, err = f.svc.PaymentStatus(ctx, f.manager, o.ID)
	require.NoError(t, err)
	assert.True(t, ps.Confirmed)

	receipt, err := f.svc.SettleOrder(ctx, f.manager, o.ID)
	require.NoError(t, err)
	assert.True(t, receipt.AmountCharged.Equal(decimal.NewFromInt(1000)))

	_, err = f.svc.SettleOrder(ctx, f.manager, o.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	f.assertInvariants(t)
}

func TestSettleOrder_ForeignStaffForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 5000)
	o := f.order(t, OrderLine{MenuItemID: f.jollof.ID, Quantity: 1})

	other := int64(999)
	_, err := f.svc.SettleOrder(ctx, model.Actor{UserID: 77, Role: model.RoleStaff, RestaurantID: &other}, o.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.SettleOrder(ctx, f.customer, o.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.SettleOrder(ctx, f.manager, 12345)
	require.ErrorIs(t, err, repository.ErrOrderNotFound)
}

func TestRedeemPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1000)

	require.NoError(t, f.repo.SaveLoyaltyAccount(ctx, &model.LoyaltyAccount{
		UserID:         f.customer.UserID,
		PointsBalance:  500,
		LifetimeEarned: 500,
		CurrentTier:    model.TierBronze,
	}))

	res, err := f.svc.RedeemPoints(ctx, f.customer, 400)
	require.NoError(t, err)
	assert.True(t, res.Credited.Equal(decimal.NewFromInt(100)))
	assert.True(t, res.NewBalance.Equal(decimal.NewFromInt(1100)))
	assert.EqualValues(t, 100, res.PointsBalance)

	acct := f.points(t)
	assert.EqualValues(t, 400, acct.LifetimeRedeemed)
	assert.NotNil(t, acct.LastRedeemedAt)
	f.assertInvariants(t)
}

func TestRedeemPoints_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1000)

	require.NoError(t, f.repo.SaveLoyaltyAccount(ctx, &model.LoyaltyAccount{
		UserID:         f.customer.UserID,
		PointsBalance:  100,
		LifetimeEarned: 100,
		CurrentTier:    model.TierBronze,
	}))

	tests := []struct {
		name   string
		points int64
		want   error
	}{
		{name: "not divisible by four", points: 42, want: ErrValidation},
		{name: "zero", points: 0, want: ErrValidation},
		{name: "negative", points: -4, want: ErrValidation},
		{name: "more than balance", points: 104, want: loyalty.ErrInsufficientPoints},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RedeemPoints(ctx, f.customer, tt.points)
			require.ErrorIs(t, err, tt.want)

			assert.True(t, f.balance(t).Equal(decimal.NewFromInt(1000)))
			acct := f.points(t)
			assert.EqualValues(t, 100, acct.PointsBalance)
			assert.EqualValues(t, 0, acct.LifetimeRedeemed)
		})
	}
}

func TestConfirmFunding_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.svc.InitiateFunding(ctx, f.customer, decimal.NewFromInt(2000))
	require.NoError(t, err)
	assert.Contains(t, h.Reference, fmt.Sprintf("dabil_%d_", f.customer.UserID))
	assert.True(t, f.balance(t).IsZero())

	first, err := f.svc.ConfirmFunding(ctx, h.Reference)
	require.NoError(t, err)
	second, err := f.svc.VerifyFunding(ctx, f.customer, h.Reference)
	require.NoError(t, err)

	assert.True(t, first.Equal(decimal.NewFromInt(2000)))
	assert.True(t, second.Equal(decimal.NewFromInt(2000)))
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, 1, f.gw.verifyCalls)

	w, err := f.svc.Balance(ctx, f.customer)
	require.NoError(t, err)
	assert.True(t, w.TotalFunded.Equal(decimal.NewFromInt(2000)))
	f.assertInvariants(t)
}

func TestConfirmFunding_GatewayDeclined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.svc.InitiateFunding(ctx, f.customer, decimal.NewFromInt(2000))
	require.NoError(t, err)

	f.gw.status = "failed"
	_, err = f.svc.ConfirmFunding(ctx, h.Reference)
	require.ErrorIs(t, err, ErrPaymentFailed)

	e, err := f.repo.GetLedgerEntry(ctx, h.Reference)
	require.NoError(t, err)
	assert.Equal(t, model.EntryFailed, e.Status)

	f.gw.status = paystack.StatusSuccess
	_, err = f.svc.ConfirmFunding(ctx, h.Reference)
	require.ErrorIs(t, err, ErrPaymentFailed)
	assert.True(t, f.balance(t).IsZero())
	assert.Equal(t, 1, f.gw.verifyCalls)
}

func TestConfirmFunding_AmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.svc.InitiateFunding(ctx, f.customer, decimal.NewFromInt(2000))
	require.NoError(t, err)

	paid := decimal.NewFromInt(200)
	f.gw.paid = &paid
	_, err = f.svc.ConfirmFunding(ctx, h.Reference)
	require.ErrorIs(t, err, ErrAmountMismatch)
	assert.True(t, f.balance(t).IsZero())
}

func TestConfirmFunding_GatewayDownKeepsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.svc.InitiateFunding(ctx, f.customer, decimal.NewFromInt(2000))
	require.NoError(t, err)

	f.gw.verifyErr = errors.New("timeout")
	_, err = f.svc.ConfirmFunding(ctx, h.Reference)
	require.ErrorIs(t, err, ErrGateway)

	e, err := f.repo.GetLedgerEntry(ctx, h.Reference)
	require.NoError(t, err)
	assert.Equal(t, model.EntryPending, e.Status)
}

func TestVerifyFunding_ForeignReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.svc.InitiateFunding(ctx, f.customer, decimal.NewFromInt(2000))
	require.NoError(t, err)

	_, err = f.svc.VerifyFunding(ctx, f.manager, h.Reference)
	require.ErrorIs(t, err, repository.ErrEntryNotFound)
	assert.Equal(t, 0, f.gw.verifyCalls)
}

func TestInitiateFunding_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, amount := range []string{"99.99", "500000.01", "0", "150.001"} {
		_, err := f.svc.InitiateFunding(ctx, f.customer, decimal.RequireFromString(amount))
		assert.ErrorIs(t, err, ErrValidation, amount)
	}

	f.gw.initErr = errors.New("connection refused")
	_, err := f.svc.InitiateFunding(ctx, f.customer, decimal.NewFromInt(1000))
	require.ErrorIs(t, err, ErrGateway)

	entries, err := f.svc.Transactions(ctx, f.customer, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntryFailed, entries[0].Status)
	assert.True(t, f.balance(t).IsZero())
}

func TestHandleWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.svc.InitiateFunding(ctx, f.customer, decimal.NewFromInt(3000))
	require.NoError(t, err)

	body := []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q}}`, h.Reference))

	f.gw.signatureOK = false
	require.ErrorIs(t, f.svc.HandleWebhook(ctx, body, "sig"), ErrInvalidSignature)
	assert.True(t, f.balance(t).IsZero())

	f.gw.signatureOK = true
	require.NoError(t, f.svc.HandleWebhook(ctx, body, "sig"))
	require.NoError(t, f.svc.HandleWebhook(ctx, body, "sig"))
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(3000)))

	require.NoError(t, f.svc.HandleWebhook(ctx, []byte(`{"event":"charge.success","data":{"reference":"nope"}}`), "sig"))
	require.NoError(t, f.svc.HandleWebhook(ctx, []byte(`{"event":"transfer.success","data":{}}`), "sig"))
	require.ErrorIs(t, f.svc.HandleWebhook(ctx, []byte(`{`), "sig"), ErrValidation)
	f.assertInvariants(t)
}

func TestSweepPendingFunding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.svc.InitiateFunding(ctx, f.customer, decimal.NewFromInt(1500))
	require.NoError(t, err)

	f.svc.sweepPendingFunding(ctx)
	assert.True(t, f.balance(t).IsZero())

	later := time.Now().Add(2 * PendingFundingAge)
	f.svc.now = func() time.Time { return later }
	f.svc.sweepPendingFunding(ctx)

	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(1500)))
	e, err := f.repo.GetLedgerEntry(ctx, h.Reference)
	require.NoError(t, err)
	assert.Equal(t, model.EntryCompleted, e.Status)
}

func (f *fixture) orphanFunding(t *testing.T, reference string, age time.Duration) {
	t.Helper()
	ctx := context.Background()

	w, err := f.repo.GetWallet(ctx, f.customer.UserID)
	require.NoError(t, err)
	require.NoError(t, f.repo.AppendLedgerEntry(ctx, &model.LedgerEntry{
		WalletID:      w.ID,
		Amount:        decimal.NewFromInt(700),
		Type:          model.EntryCredit,
		Reference:     reference,
		Status:        model.EntryPending,
		BalanceBefore: w.Balance,
		BalanceAfter:  w.Balance,
		CreatedAt:     time.Now().Add(-age),
	}))
}

func TestSweepPendingFunding_SkipsRejectedReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.orphanFunding(t, "dabil_orphan", 3*time.Hour)
	f.gw.verifyErrs["dabil_orphan"] = fmt.Errorf("%w: status 400: Transaction reference not found", paystack.ErrRejected)

	h, err := f.svc.InitiateFunding(ctx, f.customer, decimal.NewFromInt(1500))
	require.NoError(t, err)

	later := time.Now().Add(2 * PendingFundingAge)
	f.svc.now = func() time.Time { return later }
	f.svc.sweepPendingFunding(ctx)

	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(1500)))
	e, err := f.repo.GetLedgerEntry(ctx, h.Reference)
	require.NoError(t, err)
	assert.Equal(t, model.EntryCompleted, e.Status)

	orphan, err := f.repo.GetLedgerEntry(ctx, "dabil_orphan")
	require.NoError(t, err)
	assert.Equal(t, model.EntryPending, orphan.Status)
}

func TestSweepPendingFunding_StopsWhenGatewayDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.orphanFunding(t, "dabil_a", 3*time.Hour)
	f.orphanFunding(t, "dabil_b", 2*time.Hour)
	f.gw.verifyErr = errors.New("giving up after 4 attempt(s)")

	f.svc.sweepPendingFunding(ctx)

	assert.Equal(t, 1, f.gw.verifyCalls)
	assert.True(t, f.balance(t).IsZero())
}

func TestSignupAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, Credentials{Email: "ADA@example.com", Name: "Ada", Password: "another"})
	require.ErrorIs(t, err, repository.ErrUserExists)

	_, err = f.svc.Signup(ctx, Credentials{Email: "bad", Name: "Bad", Password: "secret-1"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Signup(ctx, Credentials{Email: "short@example.com", Name: "Short", Password: "123"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Login(ctx, "ada@example.com", "wrong-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "ghost@example.com", "secret-1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := f.svc.Login(ctx, " Ada@Example.com ", "secret-1")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("token-%d", f.customer.UserID), res.Token)

	w, err := f.svc.Balance(ctx, f.customer)
	require.NoError(t, err)
	assert.Equal(t, "NGN", w.Currency)
	assert.True(t, w.Balance.IsZero())

	view, err := f.svc.Loyalty(ctx, f.customer)
	require.NoError(t, err)
	assert.Equal(t, model.TierBronze, view.Account.CurrentTier)
	assert.Equal(t, model.TierSilver, view.NextTier)
	assert.EqualValues(t, 2000, view.PointsToNext)
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.CheckIn(ctx, f.customer, f.restaurant.ID, "T4", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.PartySize)

	_, err = f.svc.CheckIn(ctx, f.customer, f.restaurant.ID, "T5", 1)
	require.ErrorIs(t, err, repository.ErrSessionActive)

	_, err = f.svc.CreateOrder(ctx, f.customer, sess.ID, nil, "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateOrder(ctx, f.customer, sess.ID, []OrderLine{{MenuItemID: f.jollof.ID, Quantity: 0}}, "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateOrder(ctx, f.customer, sess.ID, []OrderLine{{MenuItemID: 4242, Quantity: 1}}, "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateOrder(ctx, f.manager, sess.ID, []OrderLine{{MenuItemID: f.jollof.ID, Quantity: 1}}, "")
	require.ErrorIs(t, err, ErrForbidden)

	o, err := f.svc.CreateOrder(ctx, f.customer, sess.ID, []OrderLine{
		{MenuItemID: f.jollof.ID, Quantity: 2},
		{MenuItemID: f.suya.ID, Quantity: 3},
	}, "no pepper")
	require.NoError(t, err)
	assert.True(t, o.TotalAmount.Equal(decimal.NewFromInt(4500)))
	assert.True(t, o.Subtotal.Equal(o.TotalAmount))
	assert.Equal(t, model.OrderPending, o.Status)
	assert.Regexp(t, `^ORD\d+$`, o.Number)

	guests, err := f.svc.Guests(ctx, f.manager)
	require.NoError(t, err)
	require.Len(t, guests, 1)
	assert.Equal(t, "Ada", guests[0].GuestName)
	assert.Equal(t, 1, guests[0].PendingOrders)

	_, err = f.svc.Guests(ctx, f.customer)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.CheckOut(ctx, f.customer, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.CheckOut(ctx, f.customer, sess.ID)
	require.ErrorIs(t, err, ErrSessionClosed)

	_, err = f.svc.CreateOrder(ctx, f.customer, sess.ID, []OrderLine{{MenuItemID: f.jollof.ID, Quantity: 1}}, "")
	require.ErrorIs(t, err, ErrSessionClosed)

	orders, err := f.svc.SessionOrders(ctx, f.manager, sess.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestRestaurantManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.CreateRestaurant(ctx, f.manager, NewRestaurant{Name: "Nope", Type: model.RestaurantQSR})
	require.ErrorIs(t, err, ErrForbidden)

	_, _, err = f.svc.CreateRestaurant(ctx, f.admin, NewRestaurant{Name: "Odd", Type: "Buffet"})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = f.svc.CreateRestaurant(ctx, f.admin, NewRestaurant{
		Name:  "Mama Put",
		Type:  model.RestaurantCasual,
		Owner: Credentials{Email: "other@mamaput.ng", Name: "Other", Password: "secret-1"},
	})
	require.ErrorIs(t, err, repository.ErrRestaurantExists)

	_, err = f.repo.GetUserByEmail(ctx, "other@mamaput.ng")
	require.ErrorIs(t, err, repository.ErrUserNotFound)

	_, err = f.svc.AddMenuItem(ctx, f.manager, f.restaurant.ID, NewMenuItem{Name: "Free", Price: decimal.Zero})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.AddMenuItem(ctx, f.customer, f.restaurant.ID, NewMenuItem{Name: "Zobo", Price: decimal.NewFromInt(300)})
	require.ErrorIs(t, err, ErrForbidden)

	staff, err := f.svc.CreateStaff(ctx, f.manager, f.restaurant.ID, Credentials{
		Email: "waiter@mamaput.ng", Name: "Waiter", Password: "secret-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RoleStaff, staff.Role)
	require.NotNil(t, staff.RestaurantID)
	assert.Equal(t, f.restaurant.ID, *staff.RestaurantID)

	details, err := f.svc.GetRestaurant(ctx, f.restaurant.ID)
	require.NoError(t, err)
	assert.Len(t, details.Menu, 2)

	png, err := f.svc.RestaurantQR(ctx, f.restaurant.ID)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))
	assert.Equal(t, fmt.Sprintf("http://front.test/checkin?restaurant=%d", f.restaurant.ID), f.svc.CheckInURL(f.restaurant.ID))

	_, err = f.svc.RestaurantQR(ctx, 999)
	require.ErrorIs(t, err, repository.ErrRestaurantNotFound)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 5000)
	o := f.order(t, OrderLine{MenuItemID: f.jollof.ID, Quantity: 2})
	_, err := f.svc.SettleOrder(ctx, f.manager, o.ID)
	require.NoError(t, err)

	rs, err := f.svc.RestaurantStats(ctx, f.manager, f.restaurant.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rs.ServedOrders)
	assert.True(t, rs.Revenue.Equal(decimal.NewFromInt(3000)))

	_, err = f.svc.AdminStats(ctx, f.manager)
	require.ErrorIs(t, err, ErrForbidden)

	as, err := f.svc.AdminStats(ctx, f.admin)
	require.NoError(t, err)
	assert.EqualValues(t, 3, as.TotalUsers)
	assert.EqualValues(t, 1, as.ActiveUsers)
	assert.True(t, as.TotalRevenue.Equal(decimal.NewFromInt(3000)))

	_, err = f.svc.Reconcile(ctx, f.customer, f.customer.UserID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateProfileAndChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateProfile(ctx, f.customer, ProfileUpdate{Name: "", Email: "ada@example.com"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.UpdateProfile(ctx, f.customer, ProfileUpdate{Name: "Ada", Email: "manager@mamaput.ng"})
	require.ErrorIs(t, err, repository.ErrUserExists)

	u, err := f.svc.UpdateProfile(ctx, f.customer, ProfileUpdate{Name: "Ada Lovelace", Email: " Ada.L@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, "ada.l@example.com", u.Email)
	assert.Equal(t, "Ada Lovelace", u.Name)

	_, err = f.svc.Login(ctx, "ada.l@example.com", "secret-1")
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, f.customer, "wrong-pass", "secret-2")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	err = f.svc.ChangePassword(ctx, f.customer, "secret-1", "123")
	require.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.svc.ChangePassword(ctx, f.customer, "secret-1", "secret-2"))

	_, err = f.svc.Login(ctx, "ada.l@example.com", "secret-1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "ada.l@example.com", "secret-2")
	require.NoError(t, err)
}

func TestDeactivateRestaurant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.svc.DeactivateRestaurant(ctx, f.manager, f.restaurant.ID), ErrForbidden)
	require.ErrorIs(t, f.svc.DeactivateRestaurant(ctx, f.admin, 999), repository.ErrRestaurantNotFound)

	require.NoError(t, f.svc.DeactivateRestaurant(ctx, f.admin, f.restaurant.ID))

	list, err := f.svc.ListRestaurants(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.GetRestaurant(ctx, f.restaurant.ID)
	require.ErrorIs(t, err, repository.ErrRestaurantNotFound)

	_, err = f.svc.CheckIn(ctx, f.customer, f.restaurant.ID, "T1", 2)
	require.ErrorIs(t, err, repository.ErrRestaurantNotFound)

	r, err := f.repo.GetRestaurant(ctx, f.restaurant.ID)
	require.NoError(t, err)
	assert.False(t, r.Active)
}

func TestListStaff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	waiter, err := f.svc.CreateStaff(ctx, f.manager, f.restaurant.ID, Credentials{
		Email: "waiter@mamaput.ng", Name: "Waiter", Password: "secret-1",
	})
	require.NoError(t, err)

	staff, err := f.svc.ListStaff(ctx, f.manager, f.restaurant.ID)
	require.NoError(t, err)
	require.Len(t, staff, 2)
	assert.Equal(t, waiter.ID, staff[0].ID)
	assert.Equal(t, model.RoleManager, staff[1].Role)

	_, err = f.svc.ListStaff(ctx, f.customer, f.restaurant.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.ListStaff(ctx, f.admin, 999)
	require.ErrorIs(t, err, repository.ErrRestaurantNotFound)
}

func TestLoyaltyOverview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 5000)

	o := f.order(t, OrderLine{MenuItemID: f.jollof.ID, Quantity: 1}, OrderLine{MenuItemID: f.suya.ID, Quantity: 2})
	_, err := f.svc.SettleOrder(ctx, f.manager, o.ID)
	require.NoError(t, err)
	f.order(t, OrderLine{MenuItemID: f.suya.ID, Quantity: 1})

	ov, err := f.svc.LoyaltyOverview(ctx, f.manager, f.restaurant.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 250, ov.PointsEarned)
	assert.EqualValues(t, 250, ov.PointsThisMonth)
	assert.EqualValues(t, 1, ov.ActiveCustomers)
	assert.True(t, ov.CustomerSpend.Equal(decimal.NewFromInt(2500)))
	require.Len(t, ov.Tiers, 1)
	assert.Equal(t, model.TierShare{Tier: model.TierBronze, Customers: 1}, ov.Tiers[0])
	require.Len(t, ov.TopCustomers, 1)
	assert.Equal(t, "Ada", ov.TopCustomers[0].Name)
	assert.EqualValues(t, 1, ov.TopCustomers[0].Visits)

	f.svc.now = func() time.Time { return time.Now().AddDate(0, 2, 0) }
	ov, err = f.svc.LoyaltyOverview(ctx, f.manager, f.restaurant.ID)
	require.NoError(t, err)
	assert.Zero(t, ov.PointsThisMonth)
	assert.EqualValues(t, 250, ov.PointsEarned)

	_, err = f.svc.LoyaltyOverview(ctx, f.customer, f.restaurant.ID)
	require.ErrorIs(t, err, ErrForbidden)
}
