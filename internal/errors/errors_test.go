package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSample = Verification("TRANSFER_MISMATCH", "transfer does not match")

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("activate: %w", errSample.WithDetail("field", "to"))

	assert.True(t, stderrors.Is(err, errSample))
	assert.False(t, stderrors.Is(err, Verification("NO_TRANSFER_FOUND", "x")))
	assert.Equal(t, KindVerification, KindOf(err))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(err))
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = errSample.WithDetail("k", "v")
	assert.Nil(t, errSample.Details)
}

func TestRetryableOnlyForTransient(t *testing.T) {
	cause := stderrors.New("dial tcp: timeout")
	transient := Transient("CHAIN_UNAVAILABLE", "chain read failed", cause)

	assert.True(t, IsRetryable(transient))
	assert.True(t, stderrors.Is(transient, cause))
	assert.False(t, IsRetryable(Conflict("DUPLICATE", "dup")))
	assert.False(t, IsRetryable(cause))
	assert.False(t, IsRetryable(nil))
}

func TestUnclassifiedDefaultsToInternal(t *testing.T) {
	err := stderrors.New("plain")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
}
