package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/services/entitlements"
	"github.com/R3E-Network/subscription_layer/internal/app/storage/memory"
)

const wallet = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newGuard(t *testing.T) (*Guard, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, entitlements.New(store, nil, nil), tier.DefaultCatalogue(), nil), store
}

func subscribe(t *testing.T, store *memory.Store, level tier.Tier) {
	t.Helper()
	now := time.Now().UTC()
	_, err := store.CreateSubscription(context.Background(), subscription.Subscription{
		WalletAddress:   wallet,
		Tier:            level,
		Status:          subscription.StatusActive,
		ExpiresAt:       now.Add(30 * 24 * time.Hour),
		TransactionHash: "0x01",
	}, now)
	require.NoError(t, err)
}

func TestFreeTierTenCallsThenDenied(t *testing.T) {
	guard, store := newGuard(t)
	ctx := context.Background()

	for want := 9; want >= 0; want-- {
		charge, err := guard.Charge(ctx, wallet, tier.AIAnalysis, "")
		require.NoError(t, err)
		assert.True(t, charge.Allowed)
		assert.Equal(t, tier.Budget(want), charge.Remaining)
		assert.Equal(t, tier.Free, charge.Tier)
	}

	charge, err := guard.Charge(ctx, wallet, tier.AIAnalysis, "")
	require.NoError(t, err)
	assert.False(t, charge.Allowed)
	assert.Equal(t, tier.Budget(0), charge.Remaining)

	used, err := store.GetUsage(ctx, wallet, charge.Day, tier.AIAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 10, used)
}

func TestChargeRollbackRoundTrip(t *testing.T) {
	guard, _ := newGuard(t)
	ctx := context.Background()

	first, err := guard.Charge(ctx, wallet, tier.DailyEchoes, "")
	require.NoError(t, err)
	second, err := guard.Charge(ctx, wallet, tier.DailyEchoes, "")
	require.NoError(t, err)

	refunded, err := guard.Rollback(ctx, wallet, tier.DailyEchoes)
	require.NoError(t, err)
	assert.Equal(t, first.Remaining, refunded.Remaining)
	assert.Equal(t, second.Remaining+1, refunded.Remaining)

	_, err = guard.Rollback(ctx, wallet, tier.DailyEchoes)
	require.NoError(t, err)
	floor, err := guard.Rollback(ctx, wallet, tier.DailyEchoes)
	require.NoError(t, err)
	assert.Equal(t, tier.Budget(5), floor.Remaining)
}

func TestUnlimitedAndDisabledFeatures(t *testing.T) {
	guard, store := newGuard(t)
	ctx := context.Background()

	charge, err := guard.Charge(ctx, wallet, tier.CrossPlatform, "")
	require.NoError(t, err)
	assert.False(t, charge.Allowed, "zero budget means not available")
	assert.Equal(t, tier.Budget(0), charge.Remaining)

	subscribe(t, store, tier.Premium)
	for i := 0; i < 50; i++ {
		charge, err = guard.Charge(ctx, wallet, tier.AIAnalysis, tier.Premium)
		require.NoError(t, err)
		require.True(t, charge.Allowed)
		assert.True(t, charge.Remaining.IsUnlimited())
	}
	used, err := store.GetUsage(ctx, wallet, charge.Day, tier.AIAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 0, used, "unlimited charges never touch the counter")
}

func TestChargeValidation(t *testing.T) {
	guard, store := newGuard(t)
	ctx := context.Background()

	_, err := guard.Charge(ctx, wallet, tier.Feature("teleport"), "")
	assert.ErrorIs(t, err, ErrUnknownFeature)

	subscribe(t, store, tier.Premium)
	_, err = guard.Charge(ctx, wallet, tier.NFTMints, tier.Pro)
	assert.ErrorIs(t, err, ErrTierMismatch)

	_, err = guard.Charge(ctx, "not-a-wallet", tier.NFTMints, "")
	assert.ErrorIs(t, err, subscription.ErrInvalidWallet)
}

func TestRunRefundsFailedCall(t *testing.T) {
	guard, _ := newGuard(t)
	ctx := context.Background()
	boom := errors.New("upstream failed")

	charge, err := guard.Run(ctx, wallet, tier.NFTMints, "", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.True(t, charge.Allowed)
	assert.Equal(t, tier.Budget(2), charge.Remaining)

	calls := 0
	for i := 0; i < 3; i++ {
		charge, err = guard.Run(ctx, wallet, tier.NFTMints, "", func(context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls, "denied run must not call fn")
	assert.False(t, charge.Allowed)
}

func TestConcurrentChargesNeverExceedBudget(t *testing.T) {
	guard, _ := newGuard(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			charge, err := guard.Charge(ctx, wallet, tier.AIAnalysis, "")
			assert.NoError(t, err)
			if charge.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestUsageListsCounters(t *testing.T) {
	guard, _ := newGuard(t)
	ctx := context.Background()
	_, err := guard.Charge(ctx, wallet, tier.NFTMints, "")
	require.NoError(t, err)

	ent, counters, err := guard.Usage(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, tier.Free, ent.Tier)
	require.Len(t, counters, 1)
	assert.Equal(t, tier.NFTMints, counters[0].Feature)
}
