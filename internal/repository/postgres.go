package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/dabil/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier покрывает общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgStore реализует Store поверх пула или открытой транзакции.
type pgStore struct {
	q     querier
	inTx  bool
	sleep func(time.Duration)
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	*pgStore
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pgStore: &pgStore{q: pool, sleep: time.Sleep},
		pool:    pool,
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// InTx выполняет fn в транзакции READ COMMITTED. Строки, прочитанные через Lock*,
// заблокированы до фиксации. Транзакция не повторяется автоматически.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgStore{q: tx, inTx: true, sleep: r.sleep}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// withRetry повторяет чтение при временных ошибках. Внутри транзакции повторов нет.
func (s *pgStore) withRetry(ctx context.Context, fn func() error) error {
	if s.inTx {
		return fn()
	}

	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if isRetryable(err) && i < len(delays) {
			s.sleep(delays[i])
			continue
		}

		break
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Денежные суммы хранятся в копейках (kobo) в BIGINT.
func toMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// CreateUser создаёт пользователя.
func (s *pgStore) CreateUser(ctx context.Context, u *model.User) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO users (email, name, password_hash, role, restaurant_id, active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		u.Email, u.Name, u.PasswordHash, string(u.Role), u.RestaurantID, u.Active,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

const userColumns = `id, email, name, password_hash, role, restaurant_id, active, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.RestaurantID, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *pgStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(s.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail возвращает пользователя по email без учёта регистра.
func (s *pgStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(s.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

// UpdateUser сохраняет изменённые email, имя и хеш пароля.
func (s *pgStore) UpdateUser(ctx context.Context, u *model.User) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE users SET email = $2, name = $3, password_hash = $4 WHERE id = $1`,
		u.ID, u.Email, u.Name, u.PasswordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListStaff возвращает сотрудников и менеджеров ресторана, новые первыми.
func (s *pgStore) ListStaff(ctx context.Context, restaurantID int64) ([]model.User, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE restaurant_id = $1 AND role IN ('staff', 'manager')
		 ORDER BY id DESC`,
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("select staff: %w", err)
	}
	defer rows.Close()

	var res []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CreateWallet создаёт кошелёк пользователя.
func (s *pgStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO wallets (user_id, balance, total_funded, total_spent, currency)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		w.UserID, toMinor(w.Balance), toMinor(w.TotalFunded), toMinor(w.TotalSpent), w.Currency,
	).Scan(&w.ID)
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

func (s *pgStore) getWallet(ctx context.Context, column string, key int64, lock bool) (*model.Wallet, error) {
	query := `SELECT id, user_id, balance, total_funded, total_spent, currency, last_transaction_at
		 FROM wallets WHERE ` + column + ` = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var (
		w                      model.Wallet
		balance, funded, spent int64
	)
	err := s.withRetry(ctx, func() error {
		return s.q.QueryRow(ctx, query, key).
			Scan(&w.ID, &w.UserID, &balance, &funded, &spent, &w.Currency, &w.LastTransactionAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	w.Balance = fromMinor(balance)
	w.TotalFunded = fromMinor(funded)
	w.TotalSpent = fromMinor(spent)
	return &w, nil
}

// GetWallet возвращает кошелёк пользователя.
func (s *pgStore) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	return s.getWallet(ctx, "user_id", userID, false)
}

// LockWallet возвращает кошелёк пользователя, блокируя строку для изменения.
func (s *pgStore) LockWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	return s.getWallet(ctx, "user_id", userID, true)
}

// GetWalletByID возвращает кошелёк по его идентификатору.
func (s *pgStore) GetWalletByID(ctx context.Context, walletID int64) (*model.Wallet, error) {
	return s.getWallet(ctx, "id", walletID, false)
}

// LockWalletByID блокирует кошелёк по его идентификатору.
func (s *pgStore) LockWalletByID(ctx context.Context, walletID int64) (*model.Wallet, error) {
	return s.getWallet(ctx, "id", walletID, true)
}

// UpdateWallet сохраняет баланс и итоги кошелька.
func (s *pgStore) UpdateWallet(ctx context.Context, w *model.Wallet) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE wallets
		 SET balance = $2, total_funded = $3, total_spent = $4, last_transaction_at = $5
		 WHERE id = $1`,
		w.ID, toMinor(w.Balance), toMinor(w.TotalFunded), toMinor(w.TotalSpent), w.LastTransactionAt,
	)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// AppendLedgerEntry добавляет запись в журнал.
func (s *pgStore) AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO transactions (wallet_id, order_id, amount, transaction_type, reference, external_reference,
		                           status, balance_before, balance_after, description, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		e.WalletID, e.OrderID, toMinor(e.Amount), string(e.Type), e.Reference, e.ExternalReference,
		string(e.Status), toMinor(e.BalanceBefore), toMinor(e.BalanceAfter), e.Description, e.CreatedAt, e.ProcessedAt,
	).Scan(&e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, e.Reference)
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

const entryColumns = `id, wallet_id, order_id, amount, transaction_type, reference, COALESCE(external_reference, ''),
	status, balance_before, balance_after, description, created_at, processed_at`

func scanEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var (
		e                     model.LedgerEntry
		amount, before, after int64
		typ, status           string
	)
	err := row.Scan(&e.ID, &e.WalletID, &e.OrderID, &amount, &typ, &e.Reference, &e.ExternalReference,
		&status, &before, &after, &e.Description, &e.CreatedAt, &e.ProcessedAt)
	if err != nil {
		return nil, err
	}
	e.Amount = fromMinor(amount)
	e.BalanceBefore = fromMinor(before)
	e.BalanceAfter = fromMinor(after)
	e.Type = model.EntryType(typ)
	e.Status = model.EntryStatus(status)
	return &e, nil
}

func (s *pgStore) getLedgerEntry(ctx context.Context, reference string, lock bool) (*model.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM transactions WHERE reference = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	e, err := scanEntry(s.q.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// GetLedgerEntry возвращает запись журнала по reference.
func (s *pgStore) GetLedgerEntry(ctx context.Context, reference string) (*model.LedgerEntry, error) {
	return s.getLedgerEntry(ctx, reference, false)
}

// LockLedgerEntry возвращает запись журнала по reference, блокируя её.
func (s *pgStore) LockLedgerEntry(ctx context.Context, reference string) (*model.LedgerEntry, error) {
	return s.getLedgerEntry(ctx, reference, true)
}

// FinalizeLedgerEntry переводит pending-запись в итоговый статус.
// Условие status = 'pending' не даёт финализировать запись дважды.
func (s *pgStore) FinalizeLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE transactions
		 SET status = $2, balance_before = $3, balance_after = $4, processed_at = $5
		 WHERE id = $1 AND status = 'pending'`,
		e.ID, string(e.Status), toMinor(e.BalanceBefore), toMinor(e.BalanceAfter), e.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("finalize ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, e.Reference)
	}
	return nil
}

// ListLedgerEntries возвращает записи журнала кошелька, новые первыми. При limit <= 0 ограничения нет.
func (s *pgStore) ListLedgerEntries(ctx context.Context, walletID int64, limit, offset int) ([]model.LedgerEntry, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	var res []model.LedgerEntry
	err := s.withRetry(ctx, func() error {
		rows, err := s.q.Query(ctx,
			`SELECT `+entryColumns+`
			 FROM transactions
			 WHERE wallet_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2 OFFSET $3`,
			walletID, lim, offset,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return fmt.Errorf("scan ledger entry: %w", err)
			}
			res = append(res, *e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	return res, nil
}

// ListPendingFunding возвращает pending-пополнения, созданные раньше before, старые первыми.
func (s *pgStore) ListPendingFunding(ctx context.Context, before time.Time, limit int) ([]model.LedgerEntry, error) {
	var res []model.LedgerEntry
	err := s.withRetry(ctx, func() error {
		rows, err := s.q.Query(ctx,
			`SELECT `+entryColumns+`
			 FROM transactions
			 WHERE status = 'pending' AND transaction_type = 'credit' AND created_at < $1
			 ORDER BY created_at
			 LIMIT $2`,
			before, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return fmt.Errorf("scan ledger entry: %w", err)
			}
			res = append(res, *e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("select pending funding: %w", err)
	}
	return res, nil
}

func (s *pgStore) getLoyalty(ctx context.Context, userID int64, lock bool) (*model.LoyaltyAccount, error) {
	query := `SELECT user_id, points_balance, lifetime_points_earned, lifetime_points_redeemed,
		        current_tier, last_earned_at, last_redeemed_at
		 FROM loyalty_points WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var (
		a    model.LoyaltyAccount
		tier string
	)
	err := s.q.QueryRow(ctx, query, userID).Scan(&a.UserID, &a.PointsBalance, &a.LifetimeEarned,
		&a.LifetimeRedeemed, &tier, &a.LastEarnedAt, &a.LastRedeemedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoyaltyNotFound
		}
		return nil, fmt.Errorf("get loyalty account: %w", err)
	}
	a.CurrentTier = model.Tier(tier)
	return &a, nil
}

// GetLoyaltyAccount возвращает счёт баллов пользователя.
func (s *pgStore) GetLoyaltyAccount(ctx context.Context, userID int64) (*model.LoyaltyAccount, error) {
	return s.getLoyalty(ctx, userID, false)
}

// LockLoyaltyAccount возвращает счёт баллов пользователя, блокируя строку.
func (s *pgStore) LockLoyaltyAccount(ctx context.Context, userID int64) (*model.LoyaltyAccount, error) {
	return s.getLoyalty(ctx, userID, true)
}

// SaveLoyaltyAccount создаёт или обновляет счёт баллов.
func (s *pgStore) SaveLoyaltyAccount(ctx context.Context, a *model.LoyaltyAccount) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO loyalty_points (user_id, points_balance, lifetime_points_earned, lifetime_points_redeemed,
		                             current_tier, last_earned_at, last_redeemed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
		   points_balance = EXCLUDED.points_balance,
		   lifetime_points_earned = EXCLUDED.lifetime_points_earned,
		   lifetime_points_redeemed = EXCLUDED.lifetime_points_redeemed,
		   current_tier = EXCLUDED.current_tier,
		   last_earned_at = EXCLUDED.last_earned_at,
		   last_redeemed_at = EXCLUDED.last_redeemed_at`,
		a.UserID, a.PointsBalance, a.LifetimeEarned, a.LifetimeRedeemed, string(a.CurrentTier),
		a.LastEarnedAt, a.LastRedeemedAt,
	)
	if err != nil {
		return fmt.Errorf("save loyalty account: %w", err)
	}
	return nil
}

// EnsureLoyaltyAccount создаёт счёт баллов, если его нет.
func (s *pgStore) EnsureLoyaltyAccount(ctx context.Context, userID int64) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO loyalty_points (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("ensure loyalty account: %w", err)
	}
	return nil
}

// CreateRestaurant создаёт ресторан.
func (s *pgStore) CreateRestaurant(ctx context.Context, r *model.Restaurant) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO restaurants (name, slug, restaurant_type, cuisine_type, address, city, owner_user_id, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		r.Name, r.Slug, string(r.Type), r.CuisineType, r.Address, r.City, r.OwnerUserID, r.Active,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrRestaurantExists, r.Slug)
		}
		return fmt.Errorf("create restaurant: %w", err)
	}
	return nil
}

const restaurantColumns = `id, name, slug, restaurant_type, cuisine_type, address, city, owner_user_id, active, created_at`

func scanRestaurant(row pgx.Row) (*model.Restaurant, error) {
	var (
		r  model.Restaurant
		rt string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Slug, &rt, &r.CuisineType, &r.Address, &r.City,
		&r.OwnerUserID, &r.Active, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Type = model.RestaurantType(rt)
	return &r, nil
}

// GetRestaurant возвращает ресторан по идентификатору.
func (s *pgStore) GetRestaurant(ctx context.Context, id int64) (*model.Restaurant, error) {
	r, err := scanRestaurant(s.q.QueryRow(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRestaurantNotFound
		}
		return nil, fmt.Errorf("get restaurant: %w", err)
	}
	return r, nil
}

// ListRestaurants возвращает активные рестораны по алфавиту.
func (s *pgStore) ListRestaurants(ctx context.Context) ([]model.Restaurant, error) {
	rows, err := s.q.Query(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select restaurants: %w", err)
	}
	defer rows.Close()

	var res []model.Restaurant
	for rows.Next() {
		r, err := scanRestaurant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan restaurant: %w", err)
		}
		res = append(res, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// SetRestaurantOwner назначает управляющего ресторана.
func (s *pgStore) SetRestaurantOwner(ctx context.Context, restaurantID, userID int64) error {
	tag, err := s.q.Exec(ctx, `UPDATE restaurants SET owner_user_id = $2 WHERE id = $1`, restaurantID, userID)
	if err != nil {
		return fmt.Errorf("set restaurant owner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRestaurantNotFound
	}
	return nil
}

// SetRestaurantActive включает или скрывает ресторан. Данные ресторана не удаляются.
func (s *pgStore) SetRestaurantActive(ctx context.Context, restaurantID int64, active bool) error {
	tag, err := s.q.Exec(ctx, `UPDATE restaurants SET active = $2 WHERE id = $1`, restaurantID, active)
	if err != nil {
		return fmt.Errorf("set restaurant active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRestaurantNotFound
	}
	return nil
}

// CreateMenuItem добавляет позицию меню.
func (s *pgStore) CreateMenuItem(ctx context.Context, m *model.MenuItem) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO menu_items (restaurant_id, name, description, category, price, available)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		m.RestaurantID, m.Name, m.Description, m.Category, toMinor(m.Price), m.Available,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create menu item: %w", err)
	}
	return nil
}

// ListMenuItems возвращает доступные позиции меню ресторана.
func (s *pgStore) ListMenuItems(ctx context.Context, restaurantID int64) ([]model.MenuItem, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, restaurant_id, name, description, category, price, available, created_at
		 FROM menu_items
		 WHERE restaurant_id = $1 AND available
		 ORDER BY category, name`,
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("select menu items: %w", err)
	}
	defer rows.Close()

	var res []model.MenuItem
	for rows.Next() {
		var (
			m     model.MenuItem
			price int64
		)
		if err := rows.Scan(&m.ID, &m.RestaurantID, &m.Name, &m.Description, &m.Category, &price,
			&m.Available, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		m.Price = fromMinor(price)
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// RestaurantStats возвращает агрегаты по обслуженным заказам и активным сессиям ресторана.
func (s *pgStore) RestaurantStats(ctx context.Context, restaurantID int64) (*model.RestaurantStats, error) {
	var (
		st      model.RestaurantStats
		revenue int64
	)
	err := s.q.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM orders o JOIN sessions s ON o.session_id = s.id
		     WHERE s.restaurant_id = $1 AND o.status = 'served'),
		   (SELECT COALESCE(SUM(o.total_amount), 0) FROM orders o JOIN sessions s ON o.session_id = s.id
		     WHERE s.restaurant_id = $1 AND o.status = 'served'),
		   (SELECT COUNT(*) FROM sessions WHERE restaurant_id = $1 AND status = 'active')`,
		restaurantID,
	).Scan(&st.ServedOrders, &revenue, &st.ActiveSessions)
	if err != nil {
		return nil, fmt.Errorf("restaurant stats: %w", err)
	}
	st.Revenue = fromMinor(revenue)
	return &st, nil
}

// LoyaltyOverview собирает сводку лояльности ресторана по визитам с оплаченными заказами.
func (s *pgStore) LoyaltyOverview(ctx context.Context, restaurantID int64, monthStart time.Time) (*model.LoyaltyOverview, error) {
	var (
		ov    model.LoyaltyOverview
		spend int64
	)
	err := s.withRetry(ctx, func() error {
		return s.q.QueryRow(ctx,
			`SELECT COALESCE(SUM(loyalty_points_earned), 0),
			        COALESCE(SUM(loyalty_points_earned) FILTER (WHERE checked_in_at >= $2), 0),
			        COUNT(DISTINCT user_id),
			        COALESCE(SUM(total_spent), 0)
			 FROM sessions
			 WHERE restaurant_id = $1 AND total_spent > 0`,
			restaurantID, monthStart,
		).Scan(&ov.PointsEarned, &ov.PointsThisMonth, &ov.ActiveCustomers, &spend)
	})
	if err != nil {
		return nil, fmt.Errorf("loyalty overview: %w", err)
	}
	ov.CustomerSpend = fromMinor(spend)

	rows, err := s.q.Query(ctx,
		`SELECT s.user_id, u.name, COALESCE(lp.current_tier, 'bronze'),
		        SUM(s.loyalty_points_earned), SUM(s.total_spent), COUNT(*)
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 LEFT JOIN loyalty_points lp ON lp.user_id = s.user_id
		 WHERE s.restaurant_id = $1 AND s.total_spent > 0
		 GROUP BY s.user_id, u.name, lp.current_tier
		 ORDER BY SUM(s.loyalty_points_earned) DESC, s.user_id`,
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("select loyalty customers: %w", err)
	}
	defer rows.Close()

	tiers := map[model.Tier]int64{}
	var order []model.Tier
	for rows.Next() {
		var (
			c     model.TopCustomer
			tier  string
			spent int64
		)
		if err := rows.Scan(&c.UserID, &c.Name, &tier, &c.PointsEarned, &spent, &c.Visits); err != nil {
			return nil, fmt.Errorf("scan loyalty customer: %w", err)
		}
		c.Tier = model.Tier(tier)
		c.Spent = fromMinor(spent)
		if _, seen := tiers[c.Tier]; !seen {
			order = append(order, c.Tier)
		}
		tiers[c.Tier]++
		if len(ov.TopCustomers) < TopCustomersLimit {
			ov.TopCustomers = append(ov.TopCustomers, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, t := range order {
		ov.Tiers = append(ov.Tiers, model.TierShare{Tier: t, Customers: tiers[t]})
	}
	sort.SliceStable(ov.Tiers, func(i, j int) bool { return ov.Tiers[i].Customers > ov.Tiers[j].Customers })
	return &ov, nil
}

// CreateSession открывает визит гостя. Частичный уникальный индекс не допускает
// двух активных сессий одного гостя в одном ресторане.
func (s *pgStore) CreateSession(ctx context.Context, sess *model.Session) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO sessions (user_id, restaurant_id, table_number, party_size, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, checked_in_at`,
		sess.UserID, sess.RestaurantID, sess.TableNumber, sess.PartySize, string(sess.Status),
	).Scan(&sess.ID, &sess.CheckedInAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSessionActive
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

const sessionColumns = `id, user_id, restaurant_id, table_number, party_size, status, total_spent,
	loyalty_points_earned, checked_in_at, checked_out_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	var (
		sess   model.Session
		status string
		spent  int64
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.RestaurantID, &sess.TableNumber, &sess.PartySize, &status,
		&spent, &sess.LoyaltyPointsEarned, &sess.CheckedInAt, &sess.CheckedOutAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Status = model.SessionStatus(status)
	sess.TotalSpent = fromMinor(spent)
	return &sess, nil
}

// GetSession возвращает сессию по идентификатору.
func (s *pgStore) GetSession(ctx context.Context, id int64) (*model.Session, error) {
	return scanSession(s.q.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// GetActiveSession возвращает последнюю активную сессию гостя.
func (s *pgStore) GetActiveSession(ctx context.Context, userID int64) (*model.Session, error) {
	return scanSession(s.q.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_id = $1 AND status = 'active'
		 ORDER BY checked_in_at DESC
		 LIMIT 1`,
		userID,
	))
}

// CloseSession завершает активную сессию.
func (s *pgStore) CloseSession(ctx context.Context, id int64, at time.Time) (*model.Session, error) {
	return scanSession(s.q.QueryRow(ctx,
		`UPDATE sessions SET status = 'completed', checked_out_at = $2
		 WHERE id = $1 AND status = 'active'
		 RETURNING `+sessionColumns,
		id, at,
	))
}

// AddSessionTotals увеличивает агрегаты сессии на сумму и баллы обслуженного заказа.
func (s *pgStore) AddSessionTotals(ctx context.Context, sessionID int64, spent decimal.Decimal, points int64) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE sessions
		 SET total_spent = total_spent + $2, loyalty_points_earned = loyalty_points_earned + $3
		 WHERE id = $1`,
		sessionID, toMinor(spent), points,
	)
	if err != nil {
		return fmt.Errorf("update session totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListGuests возвращает активные сессии ресторана с количеством заказов.
func (s *pgStore) ListGuests(ctx context.Context, restaurantID int64) ([]model.Guest, error) {
	rows, err := s.q.Query(ctx,
		`SELECT s.id, s.table_number, s.party_size, s.checked_in_at, u.name, u.email,
		        COUNT(o.id), COUNT(o.id) FILTER (WHERE o.status = 'pending')
		 FROM sessions s
		 JOIN users u ON s.user_id = u.id
		 LEFT JOIN orders o ON o.session_id = s.id
		 WHERE s.restaurant_id = $1 AND s.status = 'active'
		 GROUP BY s.id, u.name, u.email
		 ORDER BY s.checked_in_at DESC`,
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("select guests: %w", err)
	}
	defer rows.Close()

	var res []model.Guest
	for rows.Next() {
		var g model.Guest
		if err := rows.Scan(&g.SessionID, &g.TableNumber, &g.PartySize, &g.CheckedInAt, &g.GuestName, &g.Email,
			&g.OrderCount, &g.PendingOrders); err != nil {
			return nil, fmt.Errorf("scan guest: %w", err)
		}
		res = append(res, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CreateOrder сохраняет новый заказ.
func (s *pgStore) CreateOrder(ctx context.Context, o *model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}

	err = s.q.QueryRow(ctx,
		`INSERT INTO orders (session_id, order_number, items, subtotal, total_amount, status, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		o.SessionID, o.Number, items, toMinor(o.Subtotal), toMinor(o.TotalAmount), string(o.Status), o.Notes,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

const orderColumns = `o.id, o.session_id, o.order_number, o.items, o.subtotal, o.total_amount, o.status,
	o.notes, o.created_at, o.served_at`

func scanOrder(row pgx.Row, extra ...any) (*model.Order, error) {
	var (
		o               model.Order
		items           []byte
		subtotal, total int64
		status          string
	)
	dest := append([]any{&o.ID, &o.SessionID, &o.Number, &items, &subtotal, &total, &status,
		&o.Notes, &o.CreatedAt, &o.ServedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	o.Subtotal = fromMinor(subtotal)
	o.TotalAmount = fromMinor(total)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func (s *pgStore) getOrder(ctx context.Context, id int64, lock bool) (*model.OrderContext, error) {
	query := `SELECT ` + orderColumns + `, s.user_id, s.restaurant_id, r.restaurant_type, r.name
		 FROM orders o
		 JOIN sessions s ON o.session_id = s.id
		 JOIN restaurants r ON s.restaurant_id = r.id
		 WHERE o.id = $1`
	if lock {
		query += ` FOR UPDATE OF o`
	}

	var (
		oc model.OrderContext
		rt string
	)
	o, err := scanOrder(s.q.QueryRow(ctx, query, id), &oc.CustomerID, &oc.RestaurantID, &rt, &oc.RestaurantName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	oc.Order = *o
	oc.RestaurantType = model.RestaurantType(rt)
	return &oc, nil
}

// GetOrder возвращает заказ с данными сессии и ресторана.
func (s *pgStore) GetOrder(ctx context.Context, id int64) (*model.OrderContext, error) {
	return s.getOrder(ctx, id, false)
}

// LockOrder возвращает заказ с данными сессии и ресторана, блокируя строку заказа.
func (s *pgStore) LockOrder(ctx context.Context, id int64) (*model.OrderContext, error) {
	return s.getOrder(ctx, id, true)
}

// UpdateOrderStatus меняет статус заказа.
func (s *pgStore) UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, servedAt *time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE orders SET status = $2, served_at = COALESCE($3, served_at) WHERE id = $1`,
		id, string(status), servedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ListSessionOrders возвращает заказы сессии, новые первыми.
func (s *pgStore) ListSessionOrders(ctx context.Context, sessionID int64) ([]model.Order, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.session_id = $1 ORDER BY o.created_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// AdminStats возвращает агрегаты платформы: активных пользователей, выручку и гостей с визитами после since.
func (s *pgStore) AdminStats(ctx context.Context, since time.Time) (*model.AdminStats, error) {
	var (
		st      model.AdminStats
		revenue int64
	)
	err := s.withRetry(ctx, func() error {
		return s.q.QueryRow(ctx,
			`SELECT
			   (SELECT COUNT(*) FROM users WHERE active),
			   (SELECT COALESCE(SUM(total_amount), 0) FROM orders WHERE status = 'served'),
			   (SELECT COUNT(DISTINCT user_id) FROM sessions WHERE checked_in_at >= $1)`,
			since,
		).Scan(&st.TotalUsers, &revenue, &st.ActiveUsers)
	})
	if err != nil {
		return nil, fmt.Errorf("admin stats: %w", err)
	}
	st.TotalRevenue = fromMinor(revenue)
	return &st, nil
}
