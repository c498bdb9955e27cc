// Package redis provides a UsageStore backed by Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/app/domain/usage"
	"github.com/R3E-Network/subscription_layer/internal/app/storage"
)

const keyPrefix = "usage"

// Check and increment in one server-side step. Returns {allowed, used}.
var chargeScript = goredis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local budget = tonumber(ARGV[1])
if used >= budget then
	return {0, used}
end
used = redis.call('INCR', KEYS[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('EXPIRE', KEYS[1], ttl)
end
return {1, used}
`)

// Decrement with a floor of zero.
var rollbackScript = goredis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
if used <= 0 then
	return 0
end
return redis.call('DECR', KEYS[1])
`)

// UsageStore meters daily feature calls in Redis.
type UsageStore struct {
	client    goredis.UniversalClient
	retention time.Duration
}

var _ storage.UsageStore = (*UsageStore)(nil)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient dials Redis and verifies the connection.
func NewClient(ctx context.Context, opts Options) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// NewUsageStore wraps an existing client. Counters expire retention after
// their latest charge; zero keeps them.
func NewUsageStore(client goredis.UniversalClient, retention time.Duration) *UsageStore {
	return &UsageStore{client: client, retention: retention}
}

func counterKey(wallet, day string, feature tier.Feature) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, wallet, day, feature)
}

func (s *UsageStore) ChargeUsage(ctx context.Context, wallet, day string, feature tier.Feature, budget int) (int, bool, error) {
	res, err := chargeScript.Run(ctx, s.client,
		[]string{counterKey(wallet, day, feature)},
		budget, int64(s.retention/time.Second)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("charge usage: %w", err)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, false, fmt.Errorf("charge usage: unexpected reply %v", res)
	}
	allowed, ok1 := values[0].(int64)
	used, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return 0, false, fmt.Errorf("charge usage: unexpected reply %v", res)
	}
	return int(used), allowed == 1, nil
}

func (s *UsageStore) RollbackUsage(ctx context.Context, wallet, day string, feature tier.Feature) (int, error) {
	used, err := rollbackScript.Run(ctx, s.client, []string{counterKey(wallet, day, feature)}).Int()
	if err != nil {
		return 0, fmt.Errorf("rollback usage: %w", err)
	}
	return used, nil
}

func (s *UsageStore) GetUsage(ctx context.Context, wallet, day string, feature tier.Feature) (int, error) {
	used, err := s.client.Get(ctx, counterKey(wallet, day, feature)).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return used, err
}

func (s *UsageStore) ListUsage(ctx context.Context, wallet, day string) ([]usage.Counter, error) {
	prefix := fmt.Sprintf("%s:%s:%s:", keyPrefix, wallet, day)
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan usage: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	out := make([]usage.Counter, 0, len(keys))
	for i, key := range keys {
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		var used int
		if _, err := fmt.Sscan(raw, &used); err != nil {
			return nil, fmt.Errorf("parse usage %s: %w", key, err)
		}
		out = append(out, usage.Counter{
			WalletAddress: wallet,
			Day:           day,
			Feature:       tier.Feature(strings.TrimPrefix(key, prefix)),
			CallsUsed:     used,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out, nil
}
