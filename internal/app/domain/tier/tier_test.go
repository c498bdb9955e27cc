package tier

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceUnits(t *testing.T) {
	units, err := Plan{Tier: Premium, Price: "7"}.PriceUnits(6)
	require.NoError(t, err)
	assert.Equal(t, "7000000", units.String())

	units, err = Plan{Tier: Pro, Price: "24.99"}.PriceUnits(6)
	require.NoError(t, err)
	assert.Equal(t, "24990000", units.String())

	_, err = Plan{Tier: Pro, Price: "0.0000001"}.PriceUnits(6)
	assert.Error(t, err)

	_, err = Plan{Tier: Pro, Price: "-1"}.PriceUnits(6)
	assert.Error(t, err)
}

func TestDefaultCatalogueIsValid(t *testing.T) {
	c := DefaultCatalogue()
	require.NoError(t, c.Validate(6))

	b, ok := c.Budget(Free, AIAnalysis)
	require.True(t, ok)
	assert.Equal(t, Budget(10), b)

	b, ok = c.Budget(Pro, NFTMints)
	require.True(t, ok)
	assert.True(t, b.IsUnlimited())

	_, ok = c.Budget(Free, Feature("teleport"))
	assert.False(t, ok)
}

func TestValidateRejectsMissingFeature(t *testing.T) {
	c := DefaultCatalogue()
	delete(c[Pro].Budgets, NFTMints)
	assert.Error(t, c.Validate(6))
}

func TestParse(t *testing.T) {
	tr, ok := Parse(" Premium ")
	assert.True(t, ok)
	assert.Equal(t, Premium, tr)

	_, ok = Parse("gold")
	assert.False(t, ok)
}

func TestBudgetJSON(t *testing.T) {
	raw, err := json.Marshal(map[string]Budget{"a": Unlimited, "b": 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"unlimited","b":3}`, string(raw))
}
