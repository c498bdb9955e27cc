package usage

import (
	"time"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
)

// DayLayout is the calendar-day key format.
const DayLayout = "2006-01-02"

// Day returns the UTC calendar day of t.
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// Counter is the number of calls a wallet made to a feature on one day.
type Counter struct {
	WalletAddress string       `json:"wallet_address"`
	Day           string       `json:"day"`
	Feature       tier.Feature `json:"feature"`
	CallsUsed     int          `json:"calls_used"`
}

// Charge is the outcome of metering one call.
type Charge struct {
	Allowed   bool         `json:"allowed"`
	Remaining tier.Budget  `json:"remaining"`
	Limit     tier.Budget  `json:"limit"`
	Tier      tier.Tier    `json:"tier"`
	Feature   tier.Feature `json:"feature"`
	Day       string       `json:"day"`
}
