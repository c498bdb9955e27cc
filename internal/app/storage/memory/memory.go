package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/usage"
	"github.com/R3E-Network/subscription_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	users         map[string]subscription.User
	subscriptions map[string]subscription.Subscription
	byWallet      map[string][]string
	byTxHash      map[string]string
	payments      map[string]subscription.Payment
	usage         map[usageKey]int
	now           func() time.Time
}

type usageKey struct {
	wallet  string
	day     string
	feature tier.Feature
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.UsageStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]subscription.User),
		subscriptions: make(map[string]subscription.Subscription),
		byWallet:      make(map[string][]string),
		byTxHash:      make(map[string]string),
		payments:      make(map[string]subscription.Payment),
		usage:         make(map[usageKey]int),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// --- UserStore --------------------------------------------------------------

func (s *Store) EnsureUser(_ context.Context, wallet string) (subscription.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureUserLocked(wallet), nil
}

func (s *Store) ensureUserLocked(wallet string) subscription.User {
	if u, ok := s.users[wallet]; ok {
		return u
	}
	now := s.now()
	u := subscription.User{WalletAddress: wallet, Tier: tier.Free, CreatedAt: now, UpdatedAt: now}
	s.users[wallet] = u
	return u
}

func (s *Store) GetUser(_ context.Context, wallet string) (subscription.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[wallet]
	if !ok {
		return subscription.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) SetUserTier(_ context.Context, wallet string, t tier.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[wallet]
	if !ok {
		return storage.ErrNotFound
	}
	u.Tier = t
	u.UpdatedAt = s.now()
	s.users[wallet] = u
	return nil
}

func (s *Store) SetNotificationEndpoint(_ context.Context, wallet, url, token, email string) (subscription.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.ensureUserLocked(wallet)
	u.NotificationURL = url
	u.NotificationToken = token
	u.Email = email
	u.UpdatedAt = s.now()
	s.users[wallet] = u
	return u, nil
}

func (s *Store) ListNotifiableUsers(_ context.Context) ([]subscription.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []subscription.User
	for _, u := range s.users {
		if (u.NotificationURL != "" && u.NotificationToken != "") || u.Email != "" {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WalletAddress < out[j].WalletAddress })
	return out, nil
}

// --- SubscriptionStore ------------------------------------------------------

func (s *Store) CreateSubscription(_ context.Context, sub subscription.Subscription, now time.Time) (subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.TransactionHash != "" {
		if _, exists := s.byTxHash[sub.TransactionHash]; exists {
			return subscription.Subscription{}, storage.ErrDuplicateTransaction
		}
	}

	s.ensureUserLocked(sub.WalletAddress)

	for _, id := range s.byWallet[sub.WalletAddress] {
		existing := s.subscriptions[id]
		if existing.Status != subscription.StatusActive {
			continue
		}
		if !existing.Lapsed(now) {
			return subscription.Subscription{}, storage.ErrActiveSubscriptionExists
		}
	}
	// Lapsed rows are expired only once the insert is known to succeed.
	for _, id := range s.byWallet[sub.WalletAddress] {
		existing := s.subscriptions[id]
		if existing.Status == subscription.StatusActive && existing.Lapsed(now) {
			existing.Status = subscription.StatusExpired
			s.subscriptions[id] = existing
		}
	}

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	s.subscriptions[sub.ID] = cloneSubscription(sub)
	s.byWallet[sub.WalletAddress] = append(s.byWallet[sub.WalletAddress], sub.ID)
	if sub.TransactionHash != "" {
		s.byTxHash[sub.TransactionHash] = sub.ID
	}

	if sub.Status == subscription.StatusActive {
		u := s.users[sub.WalletAddress]
		u.Tier = sub.Tier
		u.UpdatedAt = now
		s.users[sub.WalletAddress] = u
	}
	return cloneSubscription(sub), nil
}

func (s *Store) GetSubscription(_ context.Context, id string) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return subscription.Subscription{}, storage.ErrNotFound
	}
	return cloneSubscription(sub), nil
}

func (s *Store) LatestSubscription(_ context.Context, wallet string) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byWallet[wallet]
	if len(ids) == 0 {
		return subscription.Subscription{}, storage.ErrNotFound
	}
	latest := s.subscriptions[ids[0]]
	for _, id := range ids[1:] {
		sub := s.subscriptions[id]
		if !sub.CreatedAt.Before(latest.CreatedAt) {
			latest = sub
		}
	}
	return cloneSubscription(latest), nil
}

func (s *Store) ListActiveSubscriptions(_ context.Context) ([]subscription.Subscription, error) {
	return s.filter(func(sub subscription.Subscription) bool {
		return sub.Status == subscription.StatusActive
	}), nil
}

func (s *Store) ListExpiringSubscriptions(_ context.Context, kind subscription.ReminderKind, now, until time.Time) ([]subscription.Subscription, error) {
	return s.filter(func(sub subscription.Subscription) bool {
		return sub.Status == subscription.StatusActive &&
			sub.ExpiresAt.After(now) && !sub.ExpiresAt.After(until) &&
			sub.ReminderSentAt(kind) == nil
	}), nil
}

func (s *Store) ListLapsedSubscriptions(_ context.Context, now time.Time) ([]subscription.Subscription, error) {
	return s.filter(func(sub subscription.Subscription) bool {
		return sub.Status == subscription.StatusActive && sub.Lapsed(now)
	}), nil
}

func (s *Store) filter(keep func(subscription.Subscription) bool) []subscription.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []subscription.Subscription
	for _, sub := range s.subscriptions {
		if keep(sub) {
			out = append(out, cloneSubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

func (s *Store) MarkReminderSent(_ context.Context, id string, kind subscription.ReminderKind, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if sub.ReminderSentAt(kind) != nil {
		return false, nil
	}
	stamp := at
	if kind == subscription.Reminder1d {
		sub.LastReminder1dAt = &stamp
	} else {
		sub.LastReminder3dAt = &stamp
	}
	s.subscriptions[id] = sub
	return true, nil
}

func (s *Store) ClearReminder(_ context.Context, id string, kind subscription.ReminderKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if kind == subscription.Reminder1d {
		sub.LastReminder1dAt = nil
	} else {
		sub.LastReminder3dAt = nil
	}
	s.subscriptions[id] = sub
	return nil
}

func (s *Store) MarkSubscriptionExpired(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if sub.Status != subscription.StatusActive {
		return false, nil
	}
	sub.Status = subscription.StatusExpired
	s.subscriptions[id] = sub

	if u, ok := s.users[sub.WalletAddress]; ok {
		u.Tier = tier.Free
		u.UpdatedAt = at
		s.users[sub.WalletAddress] = u
	}
	return true, nil
}

// --- PaymentStore -----------------------------------------------------------

func (s *Store) RecordPayment(_ context.Context, p subscription.Payment) (subscription.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.payments[p.TransactionHash]; ok {
		if existing.WalletAddress != p.WalletAddress {
			return subscription.Payment{}, false, storage.ErrDuplicateTransaction
		}
		return existing, false, nil
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ConfirmedAt.IsZero() {
		p.ConfirmedAt = s.now()
	}
	s.payments[p.TransactionHash] = p
	return p, true, nil
}

func (s *Store) GetPaymentByTransaction(_ context.Context, txHash string) (subscription.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[txHash]
	if !ok {
		return subscription.Payment{}, storage.ErrNotFound
	}
	return p, nil
}

// --- UsageStore -------------------------------------------------------------

func (s *Store) ChargeUsage(_ context.Context, wallet, day string, feature tier.Feature, budget int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := usageKey{wallet: wallet, day: day, feature: feature}
	used := s.usage[key]
	if used >= budget {
		return used, false, nil
	}
	used++
	s.usage[key] = used
	return used, true, nil
}

func (s *Store) RollbackUsage(_ context.Context, wallet, day string, feature tier.Feature) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := usageKey{wallet: wallet, day: day, feature: feature}
	used, ok := s.usage[key]
	if !ok {
		return 0, nil
	}
	if used > 0 {
		used--
	}
	s.usage[key] = used
	return used, nil
}

func (s *Store) GetUsage(_ context.Context, wallet, day string, feature tier.Feature) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[usageKey{wallet: wallet, day: day, feature: feature}], nil
}

func (s *Store) ListUsage(_ context.Context, wallet, day string) ([]usage.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []usage.Counter
	for key, used := range s.usage {
		if key.wallet == wallet && key.day == day {
			out = append(out, usage.Counter{WalletAddress: wallet, Day: day, Feature: key.feature, CallsUsed: used})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out, nil
}

// --- helpers ----------------------------------------------------------------

func cloneSubscription(sub subscription.Subscription) subscription.Subscription {
	sub.NextBillingAt = cloneTime(sub.NextBillingAt)
	sub.LastReminder3dAt = cloneTime(sub.LastReminder3dAt)
	sub.LastReminder1dAt = cloneTime(sub.LastReminder1dAt)
	return sub
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
