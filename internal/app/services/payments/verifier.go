// Package payments verifies on-chain settlement transfers before they are trusted.
package payments

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/metrics"
	"github.com/R3E-Network/subscription_layer/internal/chain"
	"github.com/R3E-Network/subscription_layer/internal/errors"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

// Verification error codes.
const (
	CodeTransactionNotFound = "TRANSACTION_NOT_FOUND"
	CodeTransactionFailed   = "TRANSACTION_FAILED"
	CodeNoTransferFound     = "NO_TRANSFER_FOUND"
	CodeTransferMismatch    = "TRANSFER_MISMATCH"
	CodeChainUnavailable    = "CHAIN_UNAVAILABLE"
	CodeInvalidTxHash       = "INVALID_TRANSACTION_HASH"
	CodeUnknownTier         = "UNKNOWN_TIER"
)

var (
	ErrTransactionNotFound = errors.Verification(CodeTransactionNotFound, "transaction not found on chain")
	ErrTransactionFailed   = errors.Verification(CodeTransactionFailed, "transaction did not execute successfully")
	ErrNoTransferFound     = errors.Verification(CodeNoTransferFound, "no settlement token transfer in transaction")
	ErrTransferMismatch    = errors.Verification(CodeTransferMismatch, "transfer does not match payer, treasury or price")
	ErrInvalidTxHash       = errors.Validation(CodeInvalidTxHash, "malformed transaction hash")
	ErrUnknownTier         = errors.Validation(CodeUnknownTier, "tier cannot be purchased")
)

// ChainReader fetches transaction receipts from the settlement chain.
type ChainReader interface {
	GetApplicationLog(ctx context.Context, txHash string) (*chain.ApplicationLog, error)
}

// Config binds the verifier to a settlement asset and treasury.
type Config struct {
	TokenHash string
	Treasury  string
	Decimals  int
}

// VerifiedPayment is a transfer that satisfied every check.
type VerifiedPayment struct {
	WalletAddress   string
	TransactionHash string
	Tier            tier.Tier
	Amount          *big.Int
	Required        *big.Int
	VerifiedAt      time.Time
}

// Verifier checks that a transaction paid for a tier. It never writes.
type Verifier struct {
	reader   ChainReader
	plans    tier.Catalogue
	token    util.Uint160
	treasury util.Uint160
	decimals int
	log      *logger.Logger
	now      func() time.Time
}

// NewVerifier builds a verifier. Treasury may be a script hash or a base58 address.
func NewVerifier(reader ChainReader, plans tier.Catalogue, cfg Config, log *logger.Logger) (*Verifier, error) {
	if reader == nil {
		return nil, fmt.Errorf("chain reader required")
	}
	token, err := chain.ParseScriptHash(cfg.TokenHash)
	if err != nil {
		return nil, fmt.Errorf("settlement token hash: %w", err)
	}
	treasuryHex, err := chain.NormalizeAddress(cfg.Treasury)
	if err != nil {
		return nil, fmt.Errorf("treasury address: %w", err)
	}
	treasury, err := chain.ParseScriptHash(treasuryHex)
	if err != nil {
		return nil, fmt.Errorf("treasury address: %w", err)
	}
	if log == nil {
		log = logger.NewDefault("payments")
	}
	return &Verifier{
		reader:   reader,
		plans:    plans,
		token:    token,
		treasury: treasury,
		decimals: cfg.Decimals,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Verify fetches txHash and checks it transferred at least the price of t
// from payer to the treasury in the settlement token.
func (v *Verifier) Verify(ctx context.Context, txHash string, t tier.Tier, payer string) (*VerifiedPayment, error) {
	wallet, err := subscription.NormalizeWallet(payer)
	if err != nil {
		return nil, err
	}
	hash, err := chain.NormalizeTxHash(txHash)
	if err != nil {
		return nil, ErrInvalidTxHash.Wrap(err)
	}
	plan, ok := v.plans.Plan(t)
	if !ok || !t.Paid() {
		return nil, ErrUnknownTier.WithDetail("tier", string(t))
	}
	required, err := plan.PriceUnits(v.decimals)
	if err != nil {
		return nil, errors.Internal("price conversion failed", err)
	}
	payerHash, err := chain.ParseScriptHash(wallet)
	if err != nil {
		return nil, subscription.ErrInvalidWallet.Wrap(err)
	}

	appLog, err := v.reader.GetApplicationLog(ctx, hash)
	if err != nil {
		return nil, v.fail(classifyChainError(err), hash)
	}
	if !appLog.Succeeded() {
		return nil, v.fail(ErrTransactionFailed.WithDetail("transaction_hash", hash), hash)
	}

	transfers := appLog.Transfers(v.token)
	if len(transfers) == 0 {
		return nil, v.fail(ErrNoTransferFound.WithDetail("transaction_hash", hash), hash)
	}

	for _, tr := range transfers {
		if tr.From == nil || !tr.From.Equals(payerHash) {
			continue
		}
		if tr.To == nil || !tr.To.Equals(v.treasury) {
			continue
		}
		if tr.Amount.Cmp(required) < 0 {
			continue
		}
		return &VerifiedPayment{
			WalletAddress:   wallet,
			TransactionHash: hash,
			Tier:            t,
			Amount:          new(big.Int).Set(tr.Amount),
			Required:        required,
			VerifiedAt:      v.now(),
		}, nil
	}

	first := transfers[0]
	mismatch := ErrTransferMismatch.
		WithDetail("transaction_hash", hash).
		WithDetail("required", required.String()).
		WithDetail("amount", first.Amount.String())
	if first.From != nil {
		mismatch = mismatch.WithDetail("from", chain.FormatScriptHash(*first.From))
	}
	if first.To != nil {
		mismatch = mismatch.WithDetail("to", chain.FormatScriptHash(*first.To))
	}
	return nil, v.fail(mismatch, hash)
}

func (v *Verifier) fail(err *errors.ServiceError, hash string) error {
	metrics.RecordVerificationFailure(err.Code)
	v.log.WithError(err).WithField("transaction_hash", hash).Warn("payment verification rejected")
	return err
}

func classifyChainError(err error) *errors.ServiceError {
	switch {
	case stderrors.Is(err, chain.ErrTransactionNotFound):
		return ErrTransactionNotFound.Wrap(err)
	case chain.IsTransient(err):
		return errors.Transient(CodeChainUnavailable, "settlement chain unavailable", err)
	default:
		return errors.Internal("settlement chain read failed", err)
	}
}
