package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/usage"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrActiveSubscriptionExists is returned when a wallet already holds a live subscription.
	ErrActiveSubscriptionExists = errors.New("storage: active subscription exists")
	// ErrDuplicateTransaction is returned when a transaction hash already funds another record.
	ErrDuplicateTransaction = errors.New("storage: duplicate transaction hash")
)

// UserStore persists wallet identities. Wallet addresses must already be canonical.
type UserStore interface {
	// EnsureUser creates the user with the free tier if absent and returns the stored row.
	EnsureUser(ctx context.Context, wallet string) (subscription.User, error)
	GetUser(ctx context.Context, wallet string) (subscription.User, error)
	SetUserTier(ctx context.Context, wallet string, t tier.Tier) error
	// SetNotificationEndpoint creates the user if absent.
	SetNotificationEndpoint(ctx context.Context, wallet, url, token, email string) (subscription.User, error)
	ListNotifiableUsers(ctx context.Context) ([]subscription.User, error)
}

// SubscriptionStore persists subscriptions.
type SubscriptionStore interface {
	// CreateSubscription atomically ensures the user, expires rows of the wallet
	// that are active but lapsed at now, inserts sub and sets the cached tier.
	// A live active row yields ErrActiveSubscriptionExists; a reused hash yields
	// ErrDuplicateTransaction.
	CreateSubscription(ctx context.Context, sub subscription.Subscription, now time.Time) (subscription.Subscription, error)
	GetSubscription(ctx context.Context, id string) (subscription.Subscription, error)
	LatestSubscription(ctx context.Context, wallet string) (subscription.Subscription, error)
	ListActiveSubscriptions(ctx context.Context) ([]subscription.Subscription, error)
	// ListExpiringSubscriptions returns active rows with now < expires_at <= until
	// whose reminder stamp for kind is still null.
	ListExpiringSubscriptions(ctx context.Context, kind subscription.ReminderKind, now, until time.Time) ([]subscription.Subscription, error)
	// ListLapsedSubscriptions returns active rows with expires_at <= now.
	ListLapsedSubscriptions(ctx context.Context, now time.Time) ([]subscription.Subscription, error)
	// MarkReminderSent stamps the reminder if unset. It reports whether this call set it.
	MarkReminderSent(ctx context.Context, id string, kind subscription.ReminderKind, at time.Time) (bool, error)
	// ClearReminder unsets a reminder stamp so a failed send can be retried.
	ClearReminder(ctx context.Context, id string, kind subscription.ReminderKind) error
	// MarkSubscriptionExpired moves an active row to expired and resets the
	// owner's cached tier. It reports whether this call performed the transition.
	MarkSubscriptionExpired(ctx context.Context, id string, at time.Time) (bool, error)
}

// PaymentStore persists verified payments.
type PaymentStore interface {
	// RecordPayment inserts p unless its hash exists. An existing row for the same
	// wallet is returned with created=false; one for another wallet yields
	// ErrDuplicateTransaction.
	RecordPayment(ctx context.Context, p subscription.Payment) (payment subscription.Payment, created bool, err error)
	GetPaymentByTransaction(ctx context.Context, txHash string) (subscription.Payment, error)
}

// UsageStore meters daily feature calls.
type UsageStore interface {
	// ChargeUsage increments the counter when it is below budget and returns the
	// new count. allowed is false and the counter untouched when it is not.
	ChargeUsage(ctx context.Context, wallet, day string, feature tier.Feature, budget int) (used int, allowed bool, err error)
	// RollbackUsage decrements the counter with a floor of zero.
	RollbackUsage(ctx context.Context, wallet, day string, feature tier.Feature) (used int, err error)
	GetUsage(ctx context.Context, wallet, day string, feature tier.Feature) (int, error)
	ListUsage(ctx context.Context, wallet, day string) ([]usage.Counter, error)
}
