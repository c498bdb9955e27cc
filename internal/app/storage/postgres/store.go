package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/usage"
	"github.com/R3E-Network/subscription_layer/internal/app/storage"
)

const uniqueViolation = "23505"

const (
	constraintOneActive   = "subscriptions_one_active_per_wallet"
	constraintSubTxHash   = "subscriptions_transaction_hash_key"
	constraintPaymentHash = "payments_transaction_hash_key"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:  sqlx.NewDb(db, "postgres"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// --- UserStore --------------------------------------------------------------

const ensureUserSQL = `
	INSERT INTO users (wallet_address, tier, created_at, updated_at)
	VALUES ($1, 'free', $2, $2)
	ON CONFLICT (wallet_address) DO NOTHING
`

func (s *Store) EnsureUser(ctx context.Context, wallet string) (subscription.User, error) {
	if _, err := s.db.ExecContext(ctx, ensureUserSQL, wallet, s.now()); err != nil {
		return subscription.User{}, err
	}
	return s.GetUser(ctx, wallet)
}

func (s *Store) GetUser(ctx context.Context, wallet string) (subscription.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.User{}, storage.ErrNotFound
	}
	if err != nil {
		return subscription.User{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) SetUserTier(ctx context.Context, wallet string, t tier.Tier) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET tier = $2, updated_at = $3 WHERE wallet_address = $1
	`, wallet, string(t), s.now())
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *Store) SetNotificationEndpoint(ctx context.Context, wallet, url, token, email string) (subscription.User, error) {
	var row userRow
	now := s.now()
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO users (wallet_address, tier, notification_url, notification_token, email, created_at, updated_at)
		VALUES ($1, 'free', $2, $3, $4, $5, $5)
		ON CONFLICT (wallet_address) DO UPDATE
		SET notification_url = EXCLUDED.notification_url,
		    notification_token = EXCLUDED.notification_token,
		    email = EXCLUDED.email,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+userColumns, wallet, url, token, email, now)
	if err != nil {
		return subscription.User{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListNotifiableUsers(ctx context.Context) ([]subscription.User, error) {
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+userColumns+` FROM users
		WHERE (notification_url <> '' AND notification_token <> '') OR email <> ''
		ORDER BY wallet_address
	`)
	if err != nil {
		return nil, err
	}
	out := make([]subscription.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- SubscriptionStore ------------------------------------------------------

func (s *Store) CreateSubscription(ctx context.Context, sub subscription.Subscription, now time.Time) (subscription.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return subscription.Subscription{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, ensureUserSQL, sub.WalletAddress, now); err != nil {
		return subscription.Subscription{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE subscriptions SET status = 'expired'
		WHERE wallet_address = $1 AND status = 'active' AND expires_at <= $2
	`, sub.WalletAddress, now); err != nil {
		return subscription.Subscription{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sub.ID, sub.WalletAddress, string(sub.Tier), string(sub.Status), sub.CreatedAt, sub.ExpiresAt,
		toNullTime(sub.NextBillingAt), sub.AutoRenew, toNullTime(sub.LastReminder3dAt),
		toNullTime(sub.LastReminder1dAt), sub.TransactionHash); err != nil {
		return subscription.Subscription{}, mapError(err)
	}

	if sub.Status == subscription.StatusActive {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET tier = $2, updated_at = $3 WHERE wallet_address = $1
		`, sub.WalletAddress, string(sub.Tier), now); err != nil {
			return subscription.Subscription{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return subscription.Subscription{}, mapError(err)
	}
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (subscription.Subscription, error) {
	return s.getSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
}

func (s *Store) LatestSubscription(ctx context.Context, wallet string) (subscription.Subscription, error) {
	return s.getSubscription(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, wallet)
}

func (s *Store) getSubscription(ctx context.Context, query string, args ...any) (subscription.Subscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.Subscription{}, storage.ErrNotFound
	}
	if err != nil {
		return subscription.Subscription{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]subscription.Subscription, error) {
	return s.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active'
		ORDER BY expires_at
	`)
}

func (s *Store) ListExpiringSubscriptions(ctx context.Context, kind subscription.ReminderKind, now, until time.Time) ([]subscription.Subscription, error) {
	column, err := reminderColumn(kind)
	if err != nil {
		return nil, err
	}
	return s.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active' AND expires_at > $1 AND expires_at <= $2 AND `+column+` IS NULL
		ORDER BY expires_at
	`, now, until)
}

func (s *Store) ListLapsedSubscriptions(ctx context.Context, now time.Time) ([]subscription.Subscription, error) {
	return s.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at
	`, now)
}

func (s *Store) listSubscriptions(ctx context.Context, query string, args ...any) ([]subscription.Subscription, error) {
	var rows []subscriptionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]subscription.Subscription, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, id string, kind subscription.ReminderKind, at time.Time) (bool, error) {
	column, err := reminderColumn(kind)
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET `+column+` = $2 WHERE id = $1 AND `+column+` IS NULL
	`, id, at)
	if err != nil {
		return false, err
	}
	return s.claimed(ctx, result, id)
}

func (s *Store) ClearReminder(ctx context.Context, id string, kind subscription.ReminderKind) error {
	column, err := reminderColumn(kind)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE subscriptions SET `+column+` = NULL WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *Store) MarkSubscriptionExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	var wallet string
	err = tx.GetContext(ctx, &wallet, `
		UPDATE subscriptions SET status = 'expired'
		WHERE id = $1 AND status = 'active'
		RETURNING wallet_address
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, id); err != nil {
			return false, err
		}
		if !exists {
			return false, storage.ErrNotFound
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET tier = 'free', updated_at = $2 WHERE wallet_address = $1
	`, wallet, at); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) claimed(ctx context.Context, result sql.Result, id string) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, id); err != nil {
		return false, err
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

func reminderColumn(kind subscription.ReminderKind) (string, error) {
	switch kind {
	case subscription.Reminder3d:
		return "last_reminder_3d_at", nil
	case subscription.Reminder1d:
		return "last_reminder_1d_at", nil
	default:
		return "", fmt.Errorf("unknown reminder kind %q", kind)
	}
}

// --- PaymentStore -----------------------------------------------------------

func (s *Store) RecordPayment(ctx context.Context, p subscription.Payment) (subscription.Payment, bool, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ConfirmedAt.IsZero() {
		p.ConfirmedAt = s.now()
	}

	var id string
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO payments (id, wallet_address, transaction_hash, amount, tier, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transaction_hash) DO NOTHING
		RETURNING id
	`, p.ID, p.WalletAddress, p.TransactionHash, p.Amount, string(p.Tier), p.ConfirmedAt)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return subscription.Payment{}, false, mapError(err)
	}

	existing, err := s.GetPaymentByTransaction(ctx, p.TransactionHash)
	if err != nil {
		return subscription.Payment{}, false, err
	}
	if existing.WalletAddress != p.WalletAddress {
		return subscription.Payment{}, false, storage.ErrDuplicateTransaction
	}
	return existing, false, nil
}

func (s *Store) GetPaymentByTransaction(ctx context.Context, txHash string) (subscription.Payment, error) {
	var row paymentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+paymentColumns+` FROM payments WHERE transaction_hash = $1`, txHash)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.Payment{}, storage.ErrNotFound
	}
	if err != nil {
		return subscription.Payment{}, err
	}
	return row.toDomain(), nil
}

// --- UsageStore -------------------------------------------------------------

// A budget of zero never inserts; an exhausted counter matches no row.
const chargeUsageSQL = `
	INSERT INTO usage_counters (wallet_address, usage_day, feature, calls_used, updated_at)
	SELECT $1, $2::date, $3, 1, NOW()
	WHERE $4::int > 0
	ON CONFLICT (wallet_address, usage_day, feature) DO UPDATE
	SET calls_used = usage_counters.calls_used + 1, updated_at = NOW()
	WHERE usage_counters.calls_used < $4::int
	RETURNING calls_used
`

func (s *Store) ChargeUsage(ctx context.Context, wallet, day string, feature tier.Feature, budget int) (int, bool, error) {
	var used int
	err := s.db.GetContext(ctx, &used, chargeUsageSQL, wallet, day, string(feature), budget)
	if err == nil {
		return used, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}
	used, err = s.GetUsage(ctx, wallet, day, feature)
	if err != nil {
		return 0, false, err
	}
	return used, false, nil
}

func (s *Store) RollbackUsage(ctx context.Context, wallet, day string, feature tier.Feature) (int, error) {
	var used int
	err := s.db.GetContext(ctx, &used, `
		UPDATE usage_counters
		SET calls_used = GREATEST(calls_used - 1, 0), updated_at = NOW()
		WHERE wallet_address = $1 AND usage_day = $2::date AND feature = $3
		RETURNING calls_used
	`, wallet, day, string(feature))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return used, err
}

func (s *Store) GetUsage(ctx context.Context, wallet, day string, feature tier.Feature) (int, error) {
	var used int
	err := s.db.GetContext(ctx, &used, `
		SELECT calls_used FROM usage_counters
		WHERE wallet_address = $1 AND usage_day = $2::date AND feature = $3
	`, wallet, day, string(feature))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return used, err
}

func (s *Store) ListUsage(ctx context.Context, wallet, day string) ([]usage.Counter, error) {
	var rows []counterRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT wallet_address, usage_day::text AS usage_day, feature, calls_used
		FROM usage_counters
		WHERE wallet_address = $1 AND usage_day = $2::date
		ORDER BY feature
	`, wallet, day)
	if err != nil {
		return nil, err
	}
	out := make([]usage.Counter, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- helpers ----------------------------------------------------------------

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case constraintOneActive:
		return storage.ErrActiveSubscriptionExists
	case constraintSubTxHash, constraintPaymentHash:
		return storage.ErrDuplicateTransaction
	default:
		return err
	}
}
