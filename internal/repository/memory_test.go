package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/dabil/internal/model"
)

func seedUser(t *testing.T, repo *MemoryRepository, email string) (*model.User, *model.Wallet) {
	t.Helper()
	ctx := context.Background()

	u := &model.User{Email: email, Name: "Ada", Role: model.RoleCustomer, Active: true}
	require.NoError(t, repo.CreateUser(ctx, u))

	w := &model.Wallet{UserID: u.ID, Currency: model.DefaultCurrency}
	require.NoError(t, repo.CreateWallet(ctx, w))
	require.NoError(t, repo.SaveLoyaltyAccount(ctx, model.NewLoyaltyAccount(u.ID)))
	return u, w
}

func TestMemoryRepository_DuplicateEmail(t *testing.T) {
	repo := NewMemoryRepository()
	seedUser(t, repo, "ada@example.com")

	err := repo.CreateUser(context.Background(), &model.User{Email: "ADA@example.com"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestMemoryRepository_InTxRollsBack(t *testing.T) {
	repo := NewMemoryRepository()
	u, _ := seedUser(t, repo, "ada@example.com")
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.InTx(ctx, func(ctx context.Context, tx Store) error {
		w, err := tx.LockWallet(ctx, u.ID)
		require.NoError(t, err)
		w.Balance = decimal.NewFromInt(500)
		require.NoError(t, tx.UpdateWallet(ctx, w))
		require.NoError(t, tx.AppendLedgerEntry(ctx, &model.LedgerEntry{
			WalletID:  w.ID,
			Amount:    decimal.NewFromInt(500),
			Type:      model.EntryBonus,
			Reference: "ref-1",
			Status:    model.EntryCompleted,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	w, err := repo.GetWallet(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())

	_, err = repo.GetLedgerEntry(ctx, "ref-1")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestMemoryRepository_InTxCommits(t *testing.T) {
	repo := NewMemoryRepository()
	u, _ := seedUser(t, repo, "ada@example.com")
	ctx := context.Background()

	err := repo.InTx(ctx, func(ctx context.Context, tx Store) error {
		w, err := tx.LockWallet(ctx, u.ID)
		if err != nil {
			return err
		}
		w.Balance = decimal.NewFromInt(250)
		return tx.UpdateWallet(ctx, w)
	})
	require.NoError(t, err)

	w, err := repo.GetWallet(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(250)))
}

func TestMemoryRepository_LedgerReferenceUnique(t *testing.T) {
	repo := NewMemoryRepository()
	_, w := seedUser(t, repo, "ada@example.com")
	ctx := context.Background()

	e := &model.LedgerEntry{WalletID: w.ID, Amount: decimal.NewFromInt(1), Type: model.EntryCredit,
		Reference: "dup", Status: model.EntryPending, CreatedAt: time.Now()}
	require.NoError(t, repo.AppendLedgerEntry(ctx, e))

	again := *e
	assert.ErrorIs(t, repo.AppendLedgerEntry(ctx, &again), ErrDuplicateReference)
}

func TestMemoryRepository_FinalizeOnlyPending(t *testing.T) {
	repo := NewMemoryRepository()
	_, w := seedUser(t, repo, "ada@example.com")
	ctx := context.Background()

	e := &model.LedgerEntry{WalletID: w.ID, Amount: decimal.NewFromInt(100), Type: model.EntryCredit,
		Reference: "fund-1", Status: model.EntryPending, CreatedAt: time.Now()}
	require.NoError(t, repo.AppendLedgerEntry(ctx, e))

	e.Status = model.EntryCompleted
	require.NoError(t, repo.FinalizeLedgerEntry(ctx, e))
	assert.ErrorIs(t, repo.FinalizeLedgerEntry(ctx, e), ErrEntryNotFound)

	stored, err := repo.GetLedgerEntry(ctx, "fund-1")
	require.NoError(t, err)
	assert.Equal(t, model.EntryCompleted, stored.Status)
}

func TestMemoryRepository_ListLedgerEntriesPaging(t *testing.T) {
	repo := NewMemoryRepository()
	_, w := seedUser(t, repo, "ada@example.com")
	ctx := context.Background()

	for _, ref := range []string{"a", "b", "c"} {
		require.NoError(t, repo.AppendLedgerEntry(ctx, &model.LedgerEntry{
			WalletID: w.ID, Amount: decimal.NewFromInt(1), Type: model.EntryBonus,
			Reference: ref, Status: model.EntryCompleted, CreatedAt: time.Now(),
		}))
	}

	page, err := repo.ListLedgerEntries(ctx, w.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Reference)
	assert.Equal(t, "b", page[1].Reference)

	page, err = repo.ListLedgerEntries(ctx, w.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Reference)

	page, err = repo.ListLedgerEntries(ctx, w.ID, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryRepository_OneActiveSessionPerRestaurant(t *testing.T) {
	repo := NewMemoryRepository()
	u, _ := seedUser(t, repo, "ada@example.com")
	ctx := context.Background()

	r := &model.Restaurant{Name: "Mama Put", Slug: "mama-put", Type: model.RestaurantQSR, Active: true}
	require.NoError(t, repo.CreateRestaurant(ctx, r))

	s1 := &model.Session{UserID: u.ID, RestaurantID: r.ID, PartySize: 2, Status: model.SessionActive}
	require.NoError(t, repo.CreateSession(ctx, s1))

	s2 := &model.Session{UserID: u.ID, RestaurantID: r.ID, PartySize: 1, Status: model.SessionActive}
	assert.ErrorIs(t, repo.CreateSession(ctx, s2), ErrSessionActive)

	closed, err := repo.CloseSession(ctx, s1.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, closed.Status)

	_, err = repo.CloseSession(ctx, s1.ID, time.Now())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, repo.CreateSession(ctx, s2))
}

func TestMemoryRepository_OrderContextAndStats(t *testing.T) {
	repo := NewMemoryRepository()
	u, _ := seedUser(t, repo, "ada@example.com")
	ctx := context.Background()

	r := &model.Restaurant{Name: "Nok", Slug: "nok", Type: model.RestaurantFineDining, Active: true}
	require.NoError(t, repo.CreateRestaurant(ctx, r))
	sess := &model.Session{UserID: u.ID, RestaurantID: r.ID, PartySize: 1, Status: model.SessionActive}
	require.NoError(t, repo.CreateSession(ctx, sess))

	o := &model.Order{
		SessionID:   sess.ID,
		Number:      "ORD1",
		Items:       []model.OrderItem{{MenuItemID: 1, Name: "Jollof", Quantity: 2, UnitPrice: decimal.NewFromInt(1500)}},
		Subtotal:    decimal.NewFromInt(3000),
		TotalAmount: decimal.NewFromInt(3000),
		Status:      model.OrderPending,
	}
	require.NoError(t, repo.CreateOrder(ctx, o))

	oc, err := repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, oc.CustomerID)
	assert.Equal(t, model.RestaurantFineDining, oc.RestaurantType)
	assert.Len(t, oc.Order.Items, 1)

	guests, err := repo.ListGuests(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, guests, 1)
	assert.Equal(t, 1, guests[0].PendingOrders)

	now := time.Now()
	require.NoError(t, repo.UpdateOrderStatus(ctx, o.ID, model.OrderServed, &now))

	stats, err := repo.RestaurantStats(ctx, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.ServedOrders)
	assert.True(t, stats.Revenue.Equal(decimal.NewFromInt(3000)))
	assert.EqualValues(t, 1, stats.ActiveSessions)
}

func TestMemoryRepository_EnsureLoyaltyAccountKeepsExisting(t *testing.T) {
	repo := NewMemoryRepository()
	u, _ := seedUser(t, repo, "ada@example.com")
	ctx := context.Background()

	acct := model.NewLoyaltyAccount(u.ID)
	acct.PointsBalance = 300
	acct.LifetimeEarned = 300
	require.NoError(t, repo.SaveLoyaltyAccount(ctx, acct))

	require.NoError(t, repo.EnsureLoyaltyAccount(ctx, u.ID))
	got, err := repo.GetLoyaltyAccount(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 300, got.PointsBalance)

	require.NoError(t, repo.EnsureLoyaltyAccount(ctx, 4242))
	fresh, err := repo.LockLoyaltyAccount(ctx, 4242)
	require.NoError(t, err)
	assert.Equal(t, model.TierBronze, fresh.CurrentTier)
	assert.Zero(t, fresh.PointsBalance)
}
