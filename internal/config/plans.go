package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
)

type plansFile struct {
	Plans map[string]planEntry `yaml:"plans"`
}

type planEntry struct {
	Name         string            `yaml:"name"`
	Price        string            `yaml:"price"`
	DurationDays int               `yaml:"duration_days"`
	Budgets      map[string]string `yaml:"budgets"`
}

// LoadPlans reads a plan catalogue from a YAML file. Budgets are
// non-negative integers or the literal "unlimited".
func LoadPlans(path string) (tier.Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}
	return ParsePlans(data)
}

// ParsePlans decodes a YAML plan catalogue.
func ParsePlans(data []byte) (tier.Catalogue, error) {
	var file plansFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plans file: %w", err)
	}
	if len(file.Plans) == 0 {
		return nil, fmt.Errorf("plans file defines no plans")
	}

	catalogue := make(tier.Catalogue, len(file.Plans))
	for name, entry := range file.Plans {
		t, ok := tier.Parse(name)
		if !ok {
			return nil, fmt.Errorf("unknown tier %q", name)
		}
		budgets := make(map[tier.Feature]tier.Budget, len(entry.Budgets))
		for feature, raw := range entry.Budgets {
			b, err := parseBudget(raw)
			if err != nil {
				return nil, fmt.Errorf("tier %s feature %s: %w", name, feature, err)
			}
			budgets[tier.Feature(feature)] = b
		}
		price := strings.TrimSpace(entry.Price)
		if price == "" {
			price = "0"
		}
		catalogue[t] = tier.Plan{
			Tier:         t,
			Name:         entry.Name,
			Price:        price,
			DurationDays: entry.DurationDays,
			Budgets:      budgets,
		}
	}
	return catalogue, nil
}

func parseBudget(raw string) (tier.Budget, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "unlimited") {
		return tier.Unlimited, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("budget %q is not a number or \"unlimited\"", raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("budget %d is negative", n)
	}
	return tier.Budget(n), nil
}
