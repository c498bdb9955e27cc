package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLapsedAtExpiryInstant(t *testing.T) {
	expires := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sub := Subscription{Status: StatusActive, ExpiresAt: expires}

	assert.False(t, sub.Lapsed(expires.Add(-time.Nanosecond)))
	assert.True(t, sub.LiveAt(expires.Add(-time.Nanosecond)))

	assert.True(t, sub.Lapsed(expires))
	assert.False(t, sub.LiveAt(expires))

	sub.Status = StatusExpired
	assert.False(t, sub.LiveAt(expires.Add(-time.Hour)))
}
