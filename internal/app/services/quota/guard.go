// Package quota meters daily feature calls against the caller's tier budget.
package quota

import (
	"context"
	"time"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/usage"
	"github.com/R3E-Network/subscription_layer/internal/app/metrics"
	"github.com/R3E-Network/subscription_layer/internal/app/storage"
	"github.com/R3E-Network/subscription_layer/internal/errors"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

var (
	ErrUnknownFeature = errors.Validation("UNKNOWN_FEATURE", "feature is not metered")
	ErrTierMismatch   = errors.Validation("TIER_MISMATCH", "claimed tier does not match the wallet's subscription")
)

// Resolver supplies the effective tier of a wallet.
type Resolver interface {
	Resolve(ctx context.Context, wallet string) (subscription.Entitlement, error)
}

// Guard charges and refunds daily quota.
type Guard struct {
	usage    storage.UsageStore
	resolver Resolver
	plans    tier.Catalogue
	log      *logger.Logger
	now      func() time.Time
}

// New creates a guard.
func New(usageStore storage.UsageStore, resolver Resolver, plans tier.Catalogue, log *logger.Logger) *Guard {
	if log == nil {
		log = logger.NewDefault("quota")
	}
	return &Guard{
		usage:    usageStore,
		resolver: resolver,
		plans:    plans,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Charge meters one call to feature. A denial is a normal outcome reported
// through Charge.Allowed, never an error. claimed is the tier the caller
// believes the wallet holds; an empty claim skips the check.
func (g *Guard) Charge(ctx context.Context, wallet string, feature tier.Feature, claimed tier.Tier) (usage.Charge, error) {
	ent, budget, err := g.budget(ctx, wallet, feature)
	if err != nil {
		return usage.Charge{}, err
	}
	if claimed != "" && claimed != ent.Tier {
		return usage.Charge{}, ErrTierMismatch.
			WithDetail("claimed", string(claimed)).
			WithDetail("resolved", string(ent.Tier))
	}

	day := usage.Day(g.now())
	charge := usage.Charge{Tier: ent.Tier, Feature: feature, Day: day, Limit: budget}

	if budget.IsUnlimited() {
		metrics.RecordQuotaCharge(string(feature), string(ent.Tier), "unlimited")
		charge.Allowed = true
		charge.Remaining = tier.Unlimited
		return charge, nil
	}
	if budget == 0 {
		metrics.RecordQuotaCharge(string(feature), string(ent.Tier), "denied")
		return charge, nil
	}

	used, allowed, err := g.usage.ChargeUsage(ctx, ent.WalletAddress, day, feature, int(budget))
	if err != nil {
		return usage.Charge{}, storage.Unavailable(err)
	}
	charge.Allowed = allowed
	charge.Remaining = remaining(budget, used)

	result := "allowed"
	if !allowed {
		result = "denied"
	}
	metrics.RecordQuotaCharge(string(feature), string(ent.Tier), result)
	return charge, nil
}

// Rollback refunds one call made today, never below zero.
func (g *Guard) Rollback(ctx context.Context, wallet string, feature tier.Feature) (usage.Charge, error) {
	return g.rollback(ctx, wallet, feature, usage.Day(g.now()))
}

func (g *Guard) rollback(ctx context.Context, wallet string, feature tier.Feature, day string) (usage.Charge, error) {
	ent, budget, err := g.budget(ctx, wallet, feature)
	if err != nil {
		return usage.Charge{}, err
	}
	charge := usage.Charge{Allowed: true, Tier: ent.Tier, Feature: feature, Day: day, Limit: budget}
	if budget.IsUnlimited() {
		charge.Remaining = tier.Unlimited
		return charge, nil
	}

	used, err := g.usage.RollbackUsage(ctx, ent.WalletAddress, day, feature)
	if err != nil {
		return usage.Charge{}, storage.Unavailable(err)
	}
	metrics.RecordQuotaRollback(string(feature))
	charge.Remaining = remaining(budget, used)
	return charge, nil
}

// Run charges feature, calls fn if allowed and refunds the charge when fn
// fails. fn is not called on denial.
func (g *Guard) Run(ctx context.Context, wallet string, feature tier.Feature, claimed tier.Tier, fn func(context.Context) error) (usage.Charge, error) {
	charge, err := g.Charge(ctx, wallet, feature, claimed)
	if err != nil || !charge.Allowed {
		return charge, err
	}

	if fnErr := fn(ctx); fnErr != nil {
		if !charge.Remaining.IsUnlimited() {
			// Refund even if the caller's context is already done.
			refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if refunded, err := g.rollback(refundCtx, wallet, feature, charge.Day); err != nil {
				g.log.WithError(err).WithField("feature", string(feature)).Warn("quota refund failed")
			} else {
				charge.Remaining = refunded.Remaining
			}
		}
		return charge, fnErr
	}
	return charge, nil
}

// Usage lists today's counters for wallet alongside its tier.
func (g *Guard) Usage(ctx context.Context, wallet string) (subscription.Entitlement, []usage.Counter, error) {
	ent, err := g.resolver.Resolve(ctx, wallet)
	if err != nil {
		return subscription.Entitlement{}, nil, err
	}
	counters, err := g.usage.ListUsage(ctx, ent.WalletAddress, usage.Day(g.now()))
	if err != nil {
		return subscription.Entitlement{}, nil, storage.Unavailable(err)
	}
	return ent, counters, nil
}

func (g *Guard) budget(ctx context.Context, wallet string, feature tier.Feature) (subscription.Entitlement, tier.Budget, error) {
	ent, err := g.resolver.Resolve(ctx, wallet)
	if err != nil {
		return subscription.Entitlement{}, 0, err
	}
	budget, ok := g.plans.Budget(ent.Tier, feature)
	if !ok {
		return subscription.Entitlement{}, 0, ErrUnknownFeature.WithDetail("feature", string(feature))
	}
	return ent, budget, nil
}

func remaining(budget tier.Budget, used int) tier.Budget {
	left := int(budget) - used
	if left < 0 {
		left = 0
	}
	return tier.Budget(left)
}
