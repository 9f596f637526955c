package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/dabil/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Транзакции сериализуются
// мьютексом и работают с копией состояния, которая публикуется только при успехе.
// Используется без DATABASE_URI и в тестах.
type MemoryRepository struct {
	*memStore
	mu sync.Mutex
	st *memState
}

type memState struct {
	seq         map[string]int64
	users       map[int64]model.User
	wallets     map[int64]model.Wallet
	entries     []model.LedgerEntry
	entryByRef  map[string]int
	loyalty     map[int64]model.LoyaltyAccount
	restaurants map[int64]model.Restaurant
	menu        map[int64]model.MenuItem
	sessions    map[int64]model.Session
	orders      map[int64]model.Order
}

func newMemState() *memState {
	return &memState{
		seq:         map[string]int64{},
		users:       map[int64]model.User{},
		wallets:     map[int64]model.Wallet{},
		entryByRef:  map[string]int{},
		loyalty:     map[int64]model.LoyaltyAccount{},
		restaurants: map[int64]model.Restaurant{},
		menu:        map[int64]model.MenuItem{},
		sessions:    map[int64]model.Session{},
		orders:      map[int64]model.Order{},
	}
}

func (st *memState) clone() *memState {
	orders := make(map[int64]model.Order, len(st.orders))
	for id, o := range st.orders {
		o.Items = slices.Clone(o.Items)
		orders[id] = o
	}
	return &memState{
		seq:         maps.Clone(st.seq),
		users:       maps.Clone(st.users),
		wallets:     maps.Clone(st.wallets),
		entries:     slices.Clone(st.entries),
		entryByRef:  maps.Clone(st.entryByRef),
		loyalty:     maps.Clone(st.loyalty),
		restaurants: maps.Clone(st.restaurants),
		menu:        maps.Clone(st.menu),
		sessions:    maps.Clone(st.sessions),
		orders:      orders,
	}
}

func (st *memState) next(table string) int64 {
	st.seq[table]++
	return st.seq[table]
}

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository() *MemoryRepository {
	m := &MemoryRepository{st: newMemState()}
	m.memStore = &memStore{repo: m}
	return m
}

// InTx выполняет fn над копией состояния. Внутри fn нельзя обращаться к самому
// MemoryRepository, только к переданному tx.
func (m *MemoryRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.st.clone()
	if err := fn(ctx, &memStore{repo: m, st: work, inTx: true}); err != nil {
		return err
	}
	m.st = work
	return nil
}

// Close ничего не делает.
func (m *MemoryRepository) Close() error {
	return nil
}

type memStore struct {
	repo *MemoryRepository
	st   *memState
	inTx bool
}

// begin захватывает мьютекс вне транзакции и возвращает рабочее состояние и функцию освобождения.
func (s *memStore) begin() (*memState, func()) {
	if s.inTx {
		return s.st, func() {}
	}
	s.repo.mu.Lock()
	return s.repo.st, s.repo.mu.Unlock
}

func (s *memStore) CreateUser(_ context.Context, u *model.User) error {
	st, done := s.begin()
	defer done()

	for _, existing := range st.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
	}
	u.ID = st.next("users")
	u.CreatedAt = time.Now()
	st.users[u.ID] = *u
	return nil
}

func (s *memStore) GetUser(_ context.Context, id int64) (*model.User, error) {
	st, done := s.begin()
	defer done()

	u, ok := st.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	st, done := s.begin()
	defer done()

	for _, u := range st.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *memStore) UpdateUser(_ context.Context, u *model.User) error {
	st, done := s.begin()
	defer done()

	existing, ok := st.users[u.ID]
	if !ok {
		return ErrUserNotFound
	}
	for id, other := range st.users {
		if id != u.ID && strings.EqualFold(other.Email, u.Email) {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
	}
	existing.Email = u.Email
	existing.Name = u.Name
	existing.PasswordHash = u.PasswordHash
	st.users[u.ID] = existing
	return nil
}

func (s *memStore) ListStaff(_ context.Context, restaurantID int64) ([]model.User, error) {
	st, done := s.begin()
	defer done()

	var res []model.User
	for _, u := range st.users {
		if u.RestaurantID != nil && *u.RestaurantID == restaurantID &&
			(u.Role == model.RoleStaff || u.Role == model.RoleManager) {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (s *memStore) CreateWallet(_ context.Context, w *model.Wallet) error {
	st, done := s.begin()
	defer done()

	w.ID = st.next("wallets")
	st.wallets[w.UserID] = *w
	return nil
}

func (s *memStore) GetWallet(_ context.Context, userID int64) (*model.Wallet, error) {
	st, done := s.begin()
	defer done()

	w, ok := st.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return &w, nil
}

func (s *memStore) LockWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	return s.GetWallet(ctx, userID)
}

func (s *memStore) LockWalletByID(ctx context.Context, walletID int64) (*model.Wallet, error) {
	return s.GetWalletByID(ctx, walletID)
}

func (s *memStore) GetWalletByID(_ context.Context, walletID int64) (*model.Wallet, error) {
	st, done := s.begin()
	defer done()

	for _, w := range st.wallets {
		if w.ID == walletID {
			return &w, nil
		}
	}
	return nil, ErrWalletNotFound
}

func (s *memStore) UpdateWallet(_ context.Context, w *model.Wallet) error {
	st, done := s.begin()
	defer done()

	if _, ok := st.wallets[w.UserID]; !ok {
		return ErrWalletNotFound
	}
	if w.Balance.IsNegative() {
		return fmt.Errorf("update wallet %d: negative balance %s", w.ID, w.Balance)
	}
	st.wallets[w.UserID] = *w
	return nil
}

func (s *memStore) AppendLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	st, done := s.begin()
	defer done()

	if _, ok := st.entryByRef[e.Reference]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateReference, e.Reference)
	}
	e.ID = st.next("transactions")
	st.entryByRef[e.Reference] = len(st.entries)
	st.entries = append(st.entries, *e)
	return nil
}

func (s *memStore) GetLedgerEntry(_ context.Context, reference string) (*model.LedgerEntry, error) {
	st, done := s.begin()
	defer done()

	i, ok := st.entryByRef[reference]
	if !ok {
		return nil, ErrEntryNotFound
	}
	e := st.entries[i]
	return &e, nil
}

func (s *memStore) LockLedgerEntry(ctx context.Context, reference string) (*model.LedgerEntry, error) {
	return s.GetLedgerEntry(ctx, reference)
}

func (s *memStore) FinalizeLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	st, done := s.begin()
	defer done()

	i, ok := st.entryByRef[e.Reference]
	if !ok || st.entries[i].Status != model.EntryPending {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, e.Reference)
	}
	stored := st.entries[i]
	stored.Status = e.Status
	stored.BalanceBefore = e.BalanceBefore
	stored.BalanceAfter = e.BalanceAfter
	stored.ProcessedAt = e.ProcessedAt
	st.entries[i] = stored
	return nil
}

func (s *memStore) ListLedgerEntries(_ context.Context, walletID int64, limit, offset int) ([]model.LedgerEntry, error) {
	st, done := s.begin()
	defer done()

	var res []model.LedgerEntry
	for i := len(st.entries) - 1; i >= 0; i-- {
		if st.entries[i].WalletID == walletID {
			res = append(res, st.entries[i])
		}
	}
	if offset >= len(res) {
		return nil, nil
	}
	res = res[offset:]
	if limit > 0 && limit < len(res) {
		res = res[:limit]
	}
	return res, nil
}

func (s *memStore) ListPendingFunding(_ context.Context, before time.Time, limit int) ([]model.LedgerEntry, error) {
	st, done := s.begin()
	defer done()

	var res []model.LedgerEntry
	for _, e := range st.entries {
		if len(res) == limit {
			break
		}
		if e.Status == model.EntryPending && e.Type == model.EntryCredit && e.CreatedAt.Before(before) {
			res = append(res, e)
		}
	}
	return res, nil
}

func (s *memStore) GetLoyaltyAccount(_ context.Context, userID int64) (*model.LoyaltyAccount, error) {
	st, done := s.begin()
	defer done()

	a, ok := st.loyalty[userID]
	if !ok {
		return nil, ErrLoyaltyNotFound
	}
	return &a, nil
}

func (s *memStore) LockLoyaltyAccount(ctx context.Context, userID int64) (*model.LoyaltyAccount, error) {
	return s.GetLoyaltyAccount(ctx, userID)
}

func (s *memStore) SaveLoyaltyAccount(_ context.Context, a *model.LoyaltyAccount) error {
	st, done := s.begin()
	defer done()

	if a.PointsBalance != a.LifetimeEarned-a.LifetimeRedeemed || a.PointsBalance < 0 {
		return fmt.Errorf("save loyalty account %d: inconsistent points", a.UserID)
	}
	st.loyalty[a.UserID] = *a
	return nil
}

func (s *memStore) EnsureLoyaltyAccount(_ context.Context, userID int64) error {
	st, done := s.begin()
	defer done()

	if _, ok := st.loyalty[userID]; !ok {
		st.loyalty[userID] = *model.NewLoyaltyAccount(userID)
	}
	return nil
}

func (s *memStore) CreateRestaurant(_ context.Context, r *model.Restaurant) error {
	st, done := s.begin()
	defer done()

	for _, existing := range st.restaurants {
		if existing.Slug == r.Slug {
			return fmt.Errorf("%w: %s", ErrRestaurantExists, r.Slug)
		}
	}
	r.ID = st.next("restaurants")
	r.CreatedAt = time.Now()
	st.restaurants[r.ID] = *r
	return nil
}

func (s *memStore) GetRestaurant(_ context.Context, id int64) (*model.Restaurant, error) {
	st, done := s.begin()
	defer done()

	r, ok := st.restaurants[id]
	if !ok {
		return nil, ErrRestaurantNotFound
	}
	return &r, nil
}

func (s *memStore) ListRestaurants(_ context.Context) ([]model.Restaurant, error) {
	st, done := s.begin()
	defer done()

	var res []model.Restaurant
	for _, r := range st.restaurants {
		if r.Active {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (s *memStore) SetRestaurantOwner(_ context.Context, restaurantID, userID int64) error {
	st, done := s.begin()
	defer done()

	r, ok := st.restaurants[restaurantID]
	if !ok {
		return ErrRestaurantNotFound
	}
	r.OwnerUserID = &userID
	st.restaurants[restaurantID] = r
	return nil
}

func (s *memStore) SetRestaurantActive(_ context.Context, restaurantID int64, active bool) error {
	st, done := s.begin()
	defer done()

	r, ok := st.restaurants[restaurantID]
	if !ok {
		return ErrRestaurantNotFound
	}
	r.Active = active
	st.restaurants[restaurantID] = r
	return nil
}

func (s *memStore) CreateMenuItem(_ context.Context, m *model.MenuItem) error {
	st, done := s.begin()
	defer done()

	m.ID = st.next("menu_items")
	m.CreatedAt = time.Now()
	st.menu[m.ID] = *m
	return nil
}

func (s *memStore) ListMenuItems(_ context.Context, restaurantID int64) ([]model.MenuItem, error) {
	st, done := s.begin()
	defer done()

	var res []model.MenuItem
	for _, m := range st.menu {
		if m.RestaurantID == restaurantID && m.Available {
			res = append(res, m)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Category != res[j].Category {
			return res[i].Category < res[j].Category
		}
		return res[i].Name < res[j].Name
	})
	return res, nil
}

func (s *memStore) RestaurantStats(_ context.Context, restaurantID int64) (*model.RestaurantStats, error) {
	st, done := s.begin()
	defer done()

	stats := &model.RestaurantStats{Revenue: decimal.Zero}
	for _, o := range st.orders {
		if o.Status == model.OrderServed && st.sessions[o.SessionID].RestaurantID == restaurantID {
			stats.ServedOrders++
			stats.Revenue = stats.Revenue.Add(o.TotalAmount)
		}
	}
	for _, sess := range st.sessions {
		if sess.RestaurantID == restaurantID && sess.Status == model.SessionActive {
			stats.ActiveSessions++
		}
	}
	return stats, nil
}

func (s *memStore) LoyaltyOverview(_ context.Context, restaurantID int64, monthStart time.Time) (*model.LoyaltyOverview, error) {
	st, done := s.begin()
	defer done()

	ov := &model.LoyaltyOverview{CustomerSpend: decimal.Zero}
	byUser := map[int64]*model.TopCustomer{}
	for _, sess := range st.sessions {
		if sess.RestaurantID != restaurantID || sess.TotalSpent.IsZero() {
			continue
		}
		ov.PointsEarned += sess.LoyaltyPointsEarned
		ov.CustomerSpend = ov.CustomerSpend.Add(sess.TotalSpent)
		if !sess.CheckedInAt.Before(monthStart) {
			ov.PointsThisMonth += sess.LoyaltyPointsEarned
		}

		c, ok := byUser[sess.UserID]
		if !ok {
			c = &model.TopCustomer{
				UserID: sess.UserID,
				Name:   st.users[sess.UserID].Name,
				Tier:   model.TierBronze,
				Spent:  decimal.Zero,
			}
			if acct, ok := st.loyalty[sess.UserID]; ok {
				c.Tier = acct.CurrentTier
			}
			byUser[sess.UserID] = c
		}
		c.PointsEarned += sess.LoyaltyPointsEarned
		c.Spent = c.Spent.Add(sess.TotalSpent)
		c.Visits++
	}
	ov.ActiveCustomers = int64(len(byUser))

	tiers := map[model.Tier]int64{}
	for _, c := range byUser {
		tiers[c.Tier]++
		ov.TopCustomers = append(ov.TopCustomers, *c)
	}
	for tier, n := range tiers {
		ov.Tiers = append(ov.Tiers, model.TierShare{Tier: tier, Customers: n})
	}
	sort.Slice(ov.Tiers, func(i, j int) bool {
		if ov.Tiers[i].Customers != ov.Tiers[j].Customers {
			return ov.Tiers[i].Customers > ov.Tiers[j].Customers
		}
		return ov.Tiers[i].Tier < ov.Tiers[j].Tier
	})
	sort.Slice(ov.TopCustomers, func(i, j int) bool {
		if ov.TopCustomers[i].PointsEarned != ov.TopCustomers[j].PointsEarned {
			return ov.TopCustomers[i].PointsEarned > ov.TopCustomers[j].PointsEarned
		}
		return ov.TopCustomers[i].UserID < ov.TopCustomers[j].UserID
	})
	if len(ov.TopCustomers) > TopCustomersLimit {
		ov.TopCustomers = ov.TopCustomers[:TopCustomersLimit]
	}
	return ov, nil
}

func (s *memStore) CreateSession(_ context.Context, sess *model.Session) error {
	st, done := s.begin()
	defer done()

	for _, existing := range st.sessions {
		if existing.UserID == sess.UserID && existing.RestaurantID == sess.RestaurantID &&
			existing.Status == model.SessionActive {
			return ErrSessionActive
		}
	}
	sess.ID = st.next("sessions")
	sess.CheckedInAt = time.Now()
	st.sessions[sess.ID] = *sess
	return nil
}

func (s *memStore) GetSession(_ context.Context, id int64) (*model.Session, error) {
	st, done := s.begin()
	defer done()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *memStore) GetActiveSession(_ context.Context, userID int64) (*model.Session, error) {
	st, done := s.begin()
	defer done()

	var found *model.Session
	for _, sess := range st.sessions {
		if sess.UserID != userID || sess.Status != model.SessionActive {
			continue
		}
		if found == nil || sess.CheckedInAt.After(found.CheckedInAt) ||
			(sess.CheckedInAt.Equal(found.CheckedInAt) && sess.ID > found.ID) {
			sess := sess
			found = &sess
		}
	}
	if found == nil {
		return nil, ErrSessionNotFound
	}
	return found, nil
}

func (s *memStore) CloseSession(_ context.Context, id int64, at time.Time) (*model.Session, error) {
	st, done := s.begin()
	defer done()

	sess, ok := st.sessions[id]
	if !ok || sess.Status != model.SessionActive {
		return nil, ErrSessionNotFound
	}
	sess.Status = model.SessionCompleted
	sess.CheckedOutAt = &at
	st.sessions[id] = sess
	return &sess, nil
}

func (s *memStore) AddSessionTotals(_ context.Context, sessionID int64, spent decimal.Decimal, points int64) error {
	st, done := s.begin()
	defer done()

	sess, ok := st.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.TotalSpent = sess.TotalSpent.Add(spent)
	sess.LoyaltyPointsEarned += points
	st.sessions[sessionID] = sess
	return nil
}

func (s *memStore) ListGuests(_ context.Context, restaurantID int64) ([]model.Guest, error) {
	st, done := s.begin()
	defer done()

	var res []model.Guest
	for _, sess := range st.sessions {
		if sess.RestaurantID != restaurantID || sess.Status != model.SessionActive {
			continue
		}
		u := st.users[sess.UserID]
		g := model.Guest{
			SessionID:   sess.ID,
			TableNumber: sess.TableNumber,
			PartySize:   sess.PartySize,
			CheckedInAt: sess.CheckedInAt,
			GuestName:   u.Name,
			Email:       u.Email,
		}
		for _, o := range st.orders {
			if o.SessionID != sess.ID {
				continue
			}
			g.OrderCount++
			if o.Status == model.OrderPending {
				g.PendingOrders++
			}
		}
		res = append(res, g)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CheckedInAt.After(res[j].CheckedInAt) })
	return res, nil
}

func (s *memStore) CreateOrder(_ context.Context, o *model.Order) error {
	st, done := s.begin()
	defer done()

	if _, ok := st.sessions[o.SessionID]; !ok {
		return ErrSessionNotFound
	}
	o.ID = st.next("orders")
	o.CreatedAt = time.Now()
	stored := *o
	stored.Items = slices.Clone(o.Items)
	st.orders[o.ID] = stored
	return nil
}

func (s *memStore) GetOrder(_ context.Context, id int64) (*model.OrderContext, error) {
	st, done := s.begin()
	defer done()

	o, ok := st.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	sess := st.sessions[o.SessionID]
	r := st.restaurants[sess.RestaurantID]
	o.Items = slices.Clone(o.Items)

	return &model.OrderContext{
		Order:          o,
		CustomerID:     sess.UserID,
		RestaurantID:   sess.RestaurantID,
		RestaurantType: r.Type,
		RestaurantName: r.Name,
	}, nil
}

func (s *memStore) LockOrder(ctx context.Context, id int64) (*model.OrderContext, error) {
	return s.GetOrder(ctx, id)
}

func (s *memStore) UpdateOrderStatus(_ context.Context, id int64, status model.OrderStatus, servedAt *time.Time) error {
	st, done := s.begin()
	defer done()

	o, ok := st.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	if servedAt != nil {
		o.ServedAt = servedAt
	}
	st.orders[id] = o
	return nil
}

func (s *memStore) ListSessionOrders(_ context.Context, sessionID int64) ([]model.Order, error) {
	st, done := s.begin()
	defer done()

	var res []model.Order
	for _, o := range st.orders {
		if o.SessionID == sessionID {
			o.Items = slices.Clone(o.Items)
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (s *memStore) AdminStats(_ context.Context, since time.Time) (*model.AdminStats, error) {
	st, done := s.begin()
	defer done()

	stats := &model.AdminStats{TotalRevenue: decimal.Zero}
	for _, u := range st.users {
		if u.Active {
			stats.TotalUsers++
		}
	}
	for _, o := range st.orders {
		if o.Status == model.OrderServed {
			stats.TotalRevenue = stats.TotalRevenue.Add(o.TotalAmount)
		}
	}
	visitors := map[int64]struct{}{}
	for _, sess := range st.sessions {
		if !sess.CheckedInAt.Before(since) {
			visitors[sess.UserID] = struct{}{}
		}
	}
	stats.ActiveUsers = int64(len(visitors))
	return stats, nil
}
