package tier

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Tier is a named entitlement level.
type Tier string

const (
	Free    Tier = "free"
	Premium Tier = "premium"
	Pro     Tier = "pro"
)

// Paid reports whether the tier can be purchased.
func (t Tier) Paid() bool { return t == Premium || t == Pro }

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t == Free || t.Paid() }

// Parse normalises s into a Tier.
func Parse(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Feature names a metered action.
type Feature string

const (
	DailyEchoes   Feature = "daily_echoes"
	AIAnalysis    Feature = "ai_analysis"
	NFTMints      Feature = "nft_mints"
	CrossPlatform Feature = "cross_platform"
	APIAccess     Feature = "api_access"
)

// Budget is a daily call allowance. Unlimited short-circuits metering.
type Budget int

// Unlimited is the sentinel for an unmetered feature.
const Unlimited Budget = -1

func (b Budget) IsUnlimited() bool { return b < 0 }

func (b Budget) String() string {
	if b.IsUnlimited() {
		return "unlimited"
	}
	return fmt.Sprintf("%d", int(b))
}

// MarshalJSON renders Unlimited as the string "unlimited".
func (b Budget) MarshalJSON() ([]byte, error) {
	if b.IsUnlimited() {
		return []byte(`"unlimited"`), nil
	}
	return []byte(fmt.Sprintf("%d", int(b))), nil
}

// Plan describes what a tier costs and what it allows.
type Plan struct {
	Tier         Tier               `json:"tier"`
	Name         string             `json:"name"`
	Price        string             `json:"price"`
	DurationDays int                `json:"duration_days"`
	Budgets      map[Feature]Budget `json:"limits"`
}

// PriceUnits converts the decimal price into the settlement asset's smallest unit.
func (p Plan) PriceUnits(decimals int) (*big.Int, error) {
	price := strings.TrimSpace(p.Price)
	if price == "" {
		price = "0"
	}
	r, ok := new(big.Rat).SetString(price)
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("invalid price %q for tier %s", p.Price, p.Tier)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return nil, fmt.Errorf("price %q for tier %s has more precision than %d decimals", p.Price, p.Tier, decimals)
	}
	return new(big.Int).Set(r.Num()), nil
}

// Catalogue maps each tier to its plan.
type Catalogue map[Tier]Plan

// Plan returns the plan for t.
func (c Catalogue) Plan(t Tier) (Plan, bool) {
	p, ok := c[t]
	return p, ok
}

// Budget returns the daily budget of feature on tier t.
func (c Catalogue) Budget(t Tier, feature Feature) (Budget, bool) {
	p, ok := c[t]
	if !ok {
		return 0, false
	}
	b, ok := p.Budgets[feature]
	return b, ok
}

// Features lists every feature known to any tier, sorted.
func (c Catalogue) Features() []Feature {
	seen := make(map[Feature]struct{})
	for _, p := range c {
		for f := range p.Budgets {
			seen[f] = struct{}{}
		}
	}
	out := make([]Feature, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks that every tier has a plan and every plan prices cleanly.
func (c Catalogue) Validate(decimals int) error {
	for _, t := range []Tier{Free, Premium, Pro} {
		p, ok := c[t]
		if !ok {
			return fmt.Errorf("catalogue missing tier %s", t)
		}
		if _, err := p.PriceUnits(decimals); err != nil {
			return err
		}
		if t.Paid() && p.DurationDays <= 0 {
			return fmt.Errorf("tier %s: duration_days must be positive", t)
		}
	}
	features := c.Features()
	for t, p := range c {
		for _, f := range features {
			if _, ok := p.Budgets[f]; !ok {
				return fmt.Errorf("tier %s: missing budget for feature %s", t, f)
			}
		}
	}
	return nil
}

// DefaultCatalogue is the built-in price list.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		Free: {
			Tier: Free, Name: "Free Explorer", Price: "0",
			Budgets: map[Feature]Budget{
				DailyEchoes: 5, AIAnalysis: 10, NFTMints: 2, CrossPlatform: 0, APIAccess: 0,
			},
		},
		Premium: {
			Tier: Premium, Name: "Echo Breaker", Price: "7", DurationDays: 30,
			Budgets: map[Feature]Budget{
				DailyEchoes: Unlimited, AIAnalysis: Unlimited, NFTMints: 50, CrossPlatform: Unlimited, APIAccess: 0,
			},
		},
		Pro: {
			Tier: Pro, Name: "Echo Master", Price: "25", DurationDays: 30,
			Budgets: map[Feature]Budget{
				DailyEchoes: Unlimited, AIAnalysis: Unlimited, NFTMints: Unlimited, CrossPlatform: Unlimited, APIAccess: Unlimited,
			},
		},
	}
}
