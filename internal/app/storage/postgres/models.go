package postgres

import (
	"database/sql"
	"time"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/subscription"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/usage"
)

const userColumns = `wallet_address, external_id, email, notification_url, notification_token, tier, created_at, updated_at`

type userRow struct {
	WalletAddress     string    `db:"wallet_address"`
	ExternalID        string    `db:"external_id"`
	Email             string    `db:"email"`
	NotificationURL   string    `db:"notification_url"`
	NotificationToken string    `db:"notification_token"`
	Tier              string    `db:"tier"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r userRow) toDomain() subscription.User {
	return subscription.User{
		WalletAddress:     r.WalletAddress,
		ExternalID:        r.ExternalID,
		Email:             r.Email,
		NotificationURL:   r.NotificationURL,
		NotificationToken: r.NotificationToken,
		Tier:              tier.Tier(r.Tier),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

const subscriptionColumns = `id, wallet_address, tier, status, created_at, expires_at, next_billing_at,
	auto_renew, last_reminder_3d_at, last_reminder_1d_at, transaction_hash`

type subscriptionRow struct {
	ID               string       `db:"id"`
	WalletAddress    string       `db:"wallet_address"`
	Tier             string       `db:"tier"`
	Status           string       `db:"status"`
	CreatedAt        time.Time    `db:"created_at"`
	ExpiresAt        time.Time    `db:"expires_at"`
	NextBillingAt    sql.NullTime `db:"next_billing_at"`
	AutoRenew        bool         `db:"auto_renew"`
	LastReminder3dAt sql.NullTime `db:"last_reminder_3d_at"`
	LastReminder1dAt sql.NullTime `db:"last_reminder_1d_at"`
	TransactionHash  string       `db:"transaction_hash"`
}

func (r subscriptionRow) toDomain() subscription.Subscription {
	return subscription.Subscription{
		ID:               r.ID,
		WalletAddress:    r.WalletAddress,
		Tier:             tier.Tier(r.Tier),
		Status:           subscription.Status(r.Status),
		CreatedAt:        r.CreatedAt.UTC(),
		ExpiresAt:        r.ExpiresAt.UTC(),
		NextBillingAt:    nullTime(r.NextBillingAt),
		AutoRenew:        r.AutoRenew,
		LastReminder3dAt: nullTime(r.LastReminder3dAt),
		LastReminder1dAt: nullTime(r.LastReminder1dAt),
		TransactionHash:  r.TransactionHash,
	}
}

const paymentColumns = `id, wallet_address, transaction_hash, amount::text AS amount, tier, confirmed_at`

type paymentRow struct {
	ID              string    `db:"id"`
	WalletAddress   string    `db:"wallet_address"`
	TransactionHash string    `db:"transaction_hash"`
	Amount          string    `db:"amount"`
	Tier            string    `db:"tier"`
	ConfirmedAt     time.Time `db:"confirmed_at"`
}

func (r paymentRow) toDomain() subscription.Payment {
	return subscription.Payment{
		ID:              r.ID,
		WalletAddress:   r.WalletAddress,
		TransactionHash: r.TransactionHash,
		Amount:          r.Amount,
		Tier:            tier.Tier(r.Tier),
		ConfirmedAt:     r.ConfirmedAt.UTC(),
	}
}

type counterRow struct {
	WalletAddress string `db:"wallet_address"`
	Day           string `db:"usage_day"`
	Feature       string `db:"feature"`
	CallsUsed     int    `db:"calls_used"`
}

func (r counterRow) toDomain() usage.Counter {
	return usage.Counter{
		WalletAddress: r.WalletAddress,
		Day:           r.Day,
		Feature:       tier.Feature(r.Feature),
		CallsUsed:     r.CallsUsed,
	}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
