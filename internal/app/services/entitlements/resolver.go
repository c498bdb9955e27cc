// Package entitlements computes the effective tier of a wallet from its
// subscription records rather than the cached user tier.
package entitlements

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/metrics"
	"github.com/R3E-Network/subscription_layer/internal/app/storage"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

// Expirer performs the active -> expired transition for a lapsed subscription.
type Expirer interface {
	Expire(ctx context.Context, sub subscription.Subscription) (bool, error)
}

// Resolver answers "what tier does this wallet have right now".
type Resolver struct {
	subs    storage.SubscriptionStore
	expirer Expirer
	log     *logger.Logger
	now     func() time.Time
}

// New creates a resolver. A nil expirer disables lazy expiry.
func New(subs storage.SubscriptionStore, expirer Expirer, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewDefault("entitlements")
	}
	return &Resolver{
		subs:    subs,
		expirer: expirer,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the wallet's effective tier. A missing or lapsed subscription
// resolves to free; a lapsed row still marked active is expired on the way out.
func (r *Resolver) Resolve(ctx context.Context, wallet string) (subscription.Entitlement, error) {
	canonical, err := subscription.NormalizeWallet(wallet)
	if err != nil {
		return subscription.Entitlement{}, err
	}
	now := r.now()
	free := subscription.Entitlement{WalletAddress: canonical, Tier: tier.Free, ResolvedAt: now}

	sub, err := r.subs.LatestSubscription(ctx, canonical)
	if stderrors.Is(err, storage.ErrNotFound) {
		return free, nil
	}
	if err != nil {
		return subscription.Entitlement{}, storage.Unavailable(err)
	}

	if sub.Lapsed(now) {
		if sub.Status == subscription.StatusActive && r.expirer != nil {
			done, err := r.expirer.Expire(ctx, sub)
			if err != nil {
				// The read stays correct; the next sweep retries the write.
				r.log.WithError(err).WithField("subscription_id", sub.ID).Warn("lazy expiry failed")
			} else if done {
				metrics.RecordLazyExpiration()
				sub.Status = subscription.StatusExpired
			}
		}
		return free, nil
	}
	if sub.Status != subscription.StatusActive {
		return free, nil
	}

	return subscription.Entitlement{
		WalletAddress: canonical,
		Tier:          sub.Tier,
		Subscription:  &sub,
		ResolvedAt:    now,
	}, nil
}
