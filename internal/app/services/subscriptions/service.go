// Package subscriptions turns a verified on-chain payment into an active subscription.
package subscriptions

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/metrics"
	"github.com/R3E-Network/subscription_layer/internal/app/services/payments"
	"github.com/R3E-Network/subscription_layer/internal/app/storage"
	"github.com/R3E-Network/subscription_layer/internal/chain"
	"github.com/R3E-Network/subscription_layer/internal/errors"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

var (
	ErrActiveSubscription = errors.Conflict("ACTIVE_SUBSCRIPTION_EXISTS", "wallet already has an active subscription")
	ErrTransactionUsed    = errors.Conflict("TRANSACTION_ALREADY_USED", "transaction hash already funded a subscription")
)

// Verifier confirms a payment on the settlement chain.
type Verifier interface {
	Verify(ctx context.Context, txHash string, t tier.Tier, payer string) (*payments.VerifiedPayment, error)
}

// Service activates subscriptions.
type Service struct {
	subs     storage.SubscriptionStore
	payments storage.PaymentStore
	verifier Verifier
	plans    tier.Catalogue
	log      *logger.Logger
	now      func() time.Time
}

// New creates the activation service.
func New(subs storage.SubscriptionStore, paymentStore storage.PaymentStore, verifier Verifier, plans tier.Catalogue, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("subscriptions")
	}
	return &Service{
		subs:     subs,
		payments: paymentStore,
		verifier: verifier,
		plans:    plans,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Activate verifies txHash paid for t from wallet, records the payment and
// creates an active subscription. Concurrent calls for one wallet yield at
// most one active subscription; the rest fail with ErrActiveSubscription.
func (s *Service) Activate(ctx context.Context, wallet string, t tier.Tier, txHash string) (subscription.Subscription, error) {
	sub, err := s.activate(ctx, wallet, t, txHash)
	if err != nil {
		metrics.RecordActivation(string(t), string(errors.KindOf(err)))
		return subscription.Subscription{}, err
	}
	metrics.RecordActivation(string(t), "activated")
	return sub, nil
}

func (s *Service) activate(ctx context.Context, wallet string, t tier.Tier, txHash string) (subscription.Subscription, error) {
	canonical, err := subscription.NormalizeWallet(wallet)
	if err != nil {
		return subscription.Subscription{}, err
	}
	hash, err := chain.NormalizeTxHash(txHash)
	if err != nil {
		return subscription.Subscription{}, payments.ErrInvalidTxHash.Wrap(err)
	}
	plan, ok := s.plans.Plan(t)
	if !ok || !t.Paid() {
		return subscription.Subscription{}, payments.ErrUnknownTier.WithDetail("tier", string(t))
	}

	verified, err := s.verifier.Verify(ctx, hash, t, canonical)
	if err != nil {
		return subscription.Subscription{}, err
	}

	if _, _, err := s.payments.RecordPayment(ctx, subscription.Payment{
		WalletAddress:   canonical,
		TransactionHash: hash,
		Amount:          verified.Amount.String(),
		Tier:            t,
		ConfirmedAt:     verified.VerifiedAt,
	}); err != nil {
		if stderrors.Is(err, storage.ErrDuplicateTransaction) {
			return subscription.Subscription{}, ErrTransactionUsed.WithDetail("transaction_hash", hash)
		}
		return subscription.Subscription{}, storage.Unavailable(err)
	}

	now := s.now()
	expires := now.Add(time.Duration(plan.DurationDays) * 24 * time.Hour)
	nextBilling := expires
	sub, err := s.subs.CreateSubscription(ctx, subscription.Subscription{
		WalletAddress:   canonical,
		Tier:            t,
		Status:          subscription.StatusActive,
		CreatedAt:       now,
		ExpiresAt:       expires,
		NextBillingAt:   &nextBilling,
		AutoRenew:       true,
		TransactionHash: hash,
	}, now)
	switch {
	case stderrors.Is(err, storage.ErrActiveSubscriptionExists):
		return subscription.Subscription{}, ErrActiveSubscription.WithDetail("wallet_address", canonical)
	case stderrors.Is(err, storage.ErrDuplicateTransaction):
		return subscription.Subscription{}, ErrTransactionUsed.WithDetail("transaction_hash", hash)
	case err != nil:
		return subscription.Subscription{}, storage.Unavailable(err)
	}

	s.log.WithField("wallet_address", canonical).
		WithField("tier", string(t)).
		WithField("transaction_hash", hash).
		WithField("expires_at", sub.ExpiresAt).
		Info("subscription activated")
	return sub, nil
}
