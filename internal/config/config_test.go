package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
)

const treasury = "0x0102030405060708090a0b0c0d0e0f1011121314"

func baseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("USAGE_BACKEND", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TREASURY_ADDRESS", treasury)
	t.Setenv("CRON_SECRET", "s3cret")
	t.Setenv("PLANS_FILE", "")
}

func TestLoadDefaults(t *testing.T) {
	baseEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, 6, cfg.Chain.Decimals)
	assert.Equal(t, "0xcd48b160c1bbc9d74997b803b9a7ad50a4bef020", cfg.Chain.TokenHash)
	assert.Equal(t, "@hourly", cfg.Lifecycle.Schedule)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, tier.DefaultCatalogue(), cfg.Plans)
}

func TestLoadReadsEnvFile(t *testing.T) {
	baseEnv(t)
	os.Unsetenv("CRON_SECRET")
	t.Cleanup(func() { os.Unsetenv("CRON_SECRET") })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CRON_SECRET=from-file\nHTTP_ADDR=:9090\n"), 0o600))
	t.Setenv("HTTP_ADDR", "")
	os.Unsetenv("HTTP_ADDR")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.HTTP.CronSecret)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	baseEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		env     map[string]string
		wantErr string
	}{
		"postgres without url": {
			env:     map[string]string{"STORAGE_DRIVER": "postgres", "USAGE_BACKEND": "postgres"},
			wantErr: "DATABASE_URL",
		},
		"unknown driver": {
			env:     map[string]string{"STORAGE_DRIVER": "mysql"},
			wantErr: "STORAGE_DRIVER",
		},
		"postgres usage on memory ledger": {
			env:     map[string]string{"USAGE_BACKEND": "postgres"},
			wantErr: "USAGE_BACKEND",
		},
		"missing cron secret": {
			env:     map[string]string{"CRON_SECRET": ""},
			wantErr: "CRON_SECRET",
		},
		"bad treasury": {
			env:     map[string]string{"TREASURY_ADDRESS": "nope"},
			wantErr: "TREASURY_ADDRESS",
		},
		"bad token": {
			env:     map[string]string{"SETTLEMENT_TOKEN_HASH": "0x1234"},
			wantErr: "SETTLEMENT_TOKEN_HASH",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			baseEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadRedisUsage(t *testing.T) {
	baseEnv(t)
	t.Setenv("USAGE_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("USAGE_RETENTION", "48h")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverRedis, cfg.Storage.UsageBackend)
	assert.Equal(t, 48*time.Hour, cfg.Storage.UsageRetention)
}

const plansYAML = `
plans:
  free:
    name: Free Explorer
    price: 0
    budgets:
      daily_echoes: 3
      api_access: 0
  premium:
    name: Echo Breaker
    price: "9.5"
    duration_days: 30
    budgets:
      daily_echoes: unlimited
      api_access: 0
  pro:
    name: Echo Master
    price: 30
    duration_days: 31
    budgets:
      daily_echoes: Unlimited
      api_access: unlimited
`

func TestParsePlans(t *testing.T) {
	plans, err := ParsePlans([]byte(plansYAML))
	require.NoError(t, err)
	require.NoError(t, plans.Validate(6))

	b, ok := plans.Budget(tier.Free, tier.DailyEchoes)
	require.True(t, ok)
	assert.Equal(t, tier.Budget(3), b)

	b, _ = plans.Budget(tier.Pro, tier.APIAccess)
	assert.True(t, b.IsUnlimited())

	premium, _ := plans.Plan(tier.Premium)
	assert.Equal(t, "9.5", premium.Price)
	assert.Equal(t, 30, premium.DurationDays)

	free, _ := plans.Plan(tier.Free)
	assert.Equal(t, "0", free.Price)
}

func TestParsePlansRejects(t *testing.T) {
	cases := map[string]string{
		"empty":          "plans: {}",
		"unknown tier":   "plans:\n  gold:\n    name: Gold\n",
		"negative":       "plans:\n  free:\n    budgets:\n      daily_echoes: -2\n",
		"not a number":   "plans:\n  free:\n    budgets:\n      daily_echoes: lots\n",
		"malformed yaml": "plans: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePlans([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithPlansFile(t *testing.T) {
	baseEnv(t)
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(plansYAML), 0o600))
	t.Setenv("PLANS_FILE", path)

	cfg, err := Load("")
	require.NoError(t, err)
	b, _ := cfg.Plans.Budget(tier.Free, tier.DailyEchoes)
	assert.Equal(t, tier.Budget(3), b)
}
