package storage

import (
	"context"
	stderrors "errors"

	"github.com/R3E-Network/subscription_layer/internal/errors"
)

// Unavailable classifies an unexpected store failure as retryable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.Transient("STORE_TIMEOUT", "ledger store timed out", err)
	}
	return errors.Transient("STORE_UNAVAILABLE", "ledger store unavailable", err)
}
