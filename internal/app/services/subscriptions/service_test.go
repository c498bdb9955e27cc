package subscriptions

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/services/payments"
	"github.com/R3E-Network/subscription_layer/internal/app/storage/memory"
	"github.com/R3E-Network/subscription_layer/internal/errors"
)

const wallet = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func txHash(i int) string {
	return fmt.Sprintf("0x%064x", i)
}

type stubVerifier struct {
	err error
}

func (v stubVerifier) Verify(_ context.Context, hash string, t tier.Tier, payer string) (*payments.VerifiedPayment, error) {
	if v.err != nil {
		return nil, v.err
	}
	return &payments.VerifiedPayment{
		WalletAddress:   payer,
		TransactionHash: hash,
		Tier:            t,
		Amount:          big.NewInt(7_000_000),
		Required:        big.NewInt(7_000_000),
		VerifiedAt:      time.Now().UTC(),
	}, nil
}

func newService(v Verifier) (*Service, *memory.Store) {
	store := memory.New()
	return New(store, store, v, tier.DefaultCatalogue(), nil), store
}

func TestActivateCreatesThirtyDaySubscription(t *testing.T) {
	svc, store := newService(stubVerifier{})
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	sub, err := svc.Activate(ctx, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", tier.Premium, txHash(1))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, wallet, sub.WalletAddress)
	assert.Equal(t, now.Add(30*24*time.Hour), sub.ExpiresAt)
	require.NotNil(t, sub.NextBillingAt)
	assert.Equal(t, sub.ExpiresAt, *sub.NextBillingAt)
	assert.True(t, sub.AutoRenew)

	payment, err := store.GetPaymentByTransaction(ctx, txHash(1))
	require.NoError(t, err)
	assert.Equal(t, "7000000", payment.Amount)

	user, err := store.GetUser(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, tier.Premium, user.Tier)

	_, err = svc.Activate(ctx, wallet, tier.Premium, txHash(2))
	assert.ErrorIs(t, err, ErrActiveSubscription)
	assert.Equal(t, errors.KindConflict, errors.KindOf(err))

	// the second payment is still on record for reconciliation
	_, err = store.GetPaymentByTransaction(ctx, txHash(2))
	assert.NoError(t, err)
}

func TestActivateRejectsReusedTransaction(t *testing.T) {
	svc, _ := newService(stubVerifier{})
	ctx := context.Background()

	_, err := svc.Activate(ctx, wallet, tier.Pro, txHash(1))
	require.NoError(t, err)

	_, err = svc.Activate(ctx, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", tier.Pro, txHash(1))
	assert.ErrorIs(t, err, ErrTransactionUsed)
}

func TestActivateAfterExpiryRenews(t *testing.T) {
	svc, _ := newService(stubVerifier{})
	ctx := context.Background()
	start := time.Now().UTC().Add(-31 * 24 * time.Hour)
	svc.now = func() time.Time { return start }

	_, err := svc.Activate(ctx, wallet, tier.Premium, txHash(1))
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().UTC() }
	renewed, err := svc.Activate(ctx, wallet, tier.Pro, txHash(2))
	require.NoError(t, err)
	assert.Equal(t, tier.Pro, renewed.Tier)
}

func TestActivateConcurrentCreatesOneActive(t *testing.T) {
	svc, store := newService(stubVerifier{})
	ctx := context.Background()

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Activate(ctx, wallet, tier.Premium, txHash(i+1))
		}(i)
	}
	wg.Wait()

	succeeded, conflicts := 0, 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrActiveSubscription)
		conflicts++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)

	active, err := store.ListActiveSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestActivateValidationAndVerification(t *testing.T) {
	svc, store := newService(stubVerifier{err: payments.ErrTransactionNotFound})
	ctx := context.Background()

	_, err := svc.Activate(ctx, "bad", tier.Premium, txHash(1))
	assert.ErrorIs(t, err, subscription.ErrInvalidWallet)

	_, err = svc.Activate(ctx, wallet, tier.Premium, "0xnope")
	assert.ErrorIs(t, err, payments.ErrInvalidTxHash)

	_, err = svc.Activate(ctx, wallet, tier.Free, txHash(1))
	assert.ErrorIs(t, err, payments.ErrUnknownTier)

	_, err = svc.Activate(ctx, wallet, tier.Premium, txHash(1))
	assert.ErrorIs(t, err, payments.ErrTransactionNotFound)
	assert.Equal(t, errors.KindVerification, errors.KindOf(err))

	_, err = store.GetPaymentByTransaction(ctx, txHash(1))
	assert.Error(t, err, "failed verification writes nothing")
}
