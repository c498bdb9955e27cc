package subscription

import (
	"time"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusActive         Status = "active"
	StatusExpired        Status = "expired"
)

// ReminderKind identifies a pre-expiry reminder lead time.
type ReminderKind string

const (
	Reminder3d ReminderKind = "3d"
	Reminder1d ReminderKind = "1d"
)

// LeadTime is how far ahead of expiry the reminder fires.
func (k ReminderKind) LeadTime() time.Duration {
	switch k {
	case Reminder1d:
		return 24 * time.Hour
	default:
		return 3 * 24 * time.Hour
	}
}

// User is keyed by canonical wallet address. Tier is a display cache only.
type User struct {
	WalletAddress     string    `json:"wallet_address"`
	ExternalID        string    `json:"external_id,omitempty"`
	Email             string    `json:"email,omitempty"`
	NotificationURL   string    `json:"notification_url,omitempty"`
	NotificationToken string    `json:"-"`
	Tier              tier.Tier `json:"tier"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Subscription is a time-bounded tier grant funded by one transaction.
type Subscription struct {
	ID               string     `json:"id"`
	WalletAddress    string     `json:"wallet_address"`
	Tier             tier.Tier  `json:"tier"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	NextBillingAt    *time.Time `json:"next_billing_at,omitempty"`
	AutoRenew        bool       `json:"auto_renew"`
	LastReminder3dAt *time.Time `json:"last_reminder_3d_at,omitempty"`
	LastReminder1dAt *time.Time `json:"last_reminder_1d_at,omitempty"`
	TransactionHash  string     `json:"transaction_hash"`
}

// Lapsed reports whether the grant window has closed at now.
func (s Subscription) Lapsed(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// LiveAt reports whether s grants its tier at now.
func (s Subscription) LiveAt(now time.Time) bool {
	return s.Status == StatusActive && !s.Lapsed(now)
}

// ReminderSentAt returns the stamp for kind.
func (s Subscription) ReminderSentAt(kind ReminderKind) *time.Time {
	if kind == Reminder1d {
		return s.LastReminder1dAt
	}
	return s.LastReminder3dAt
}

// Payment is the audit record of a verified on-chain transfer.
type Payment struct {
	ID              string    `json:"id"`
	WalletAddress   string    `json:"wallet_address"`
	TransactionHash string    `json:"transaction_hash"`
	Amount          string    `json:"amount"`
	Tier            tier.Tier `json:"tier"`
	ConfirmedAt     time.Time `json:"confirmed_at"`
}

// Entitlement is the effective tier of a wallet at a point in time.
type Entitlement struct {
	WalletAddress string        `json:"wallet_address"`
	Tier          tier.Tier     `json:"tier"`
	Subscription  *Subscription `json:"subscription"`
	ResolvedAt    time.Time     `json:"resolved_at"`
}
