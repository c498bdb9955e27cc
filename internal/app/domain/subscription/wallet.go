package subscription

import (
	"github.com/R3E-Network/subscription_layer/internal/chain"
	"github.com/R3E-Network/subscription_layer/internal/errors"
)

// ErrInvalidWallet rejects addresses that are neither a script hash nor a Neo address.
var ErrInvalidWallet = errors.Validation("INVALID_ADDRESS", "malformed wallet address")

// NormalizeWallet returns the canonical key used for every wallet lookup and write.
func NormalizeWallet(raw string) (string, error) {
	wallet, err := chain.NormalizeAddress(raw)
	if err != nil {
		return "", ErrInvalidWallet.Wrap(err)
	}
	return wallet, nil
}
