package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatgate/chatgate/internal/keystore"
)

// counterTTL keeps per-day counters around long enough for any timezone
// skew between callers before Redis reclaims them.
const counterTTL = 48 * time.Hour

// consumeScript checks the day counter against the limit and increments it
// only when under the limit, in one atomic server-side step.
var consumeScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if count >= limit then
  return {0, count}
end
count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return {1, count}
`)

// RedisEnforcer enforces quotas with a per-key, per-day Redis counter.
// The SQL record is updated best-effort after each admit so that admin
// listings stay roughly current, but Redis holds the authoritative count.
type RedisEnforcer struct {
	client *redis.Client
	store  keystore.Store
	prefix string
}

// NewRedisEnforcer creates a Redis-backed Enforcer. store may be nil when no
// mirroring into the key records is wanted.
func NewRedisEnforcer(client *redis.Client, store keystore.Store, prefix string) *RedisEnforcer {
	if prefix == "" {
		prefix = "chatgate:quota:"
	}
	return &RedisEnforcer{client: client, store: store, prefix: prefix}
}

// Consume runs the conditional increment script for key on the given day.
func (e *RedisEnforcer) Consume(ctx context.Context, key keystore.Key, day string) (keystore.QuotaDecision, error) {
	counter := e.prefix + key.Key + ":" + day
	raw, err := consumeScript.Run(ctx, e.client, []string{counter},
		key.DailyLimit, int(counterTTL.Seconds())).Result()
	if err != nil {
		return keystore.QuotaDecision{}, fmt.Errorf("quota script failed: %w", err)
	}
	reply, ok := raw.([]any)
	if !ok || len(reply) != 2 {
		return keystore.QuotaDecision{}, fmt.Errorf("unexpected quota script reply: %v", raw)
	}
	allowed, _ := reply[0].(int64)
	count, _ := reply[1].(int64)

	decision := keystore.QuotaDecision{
		Allowed: allowed == 1,
		Count:   int(count),
		Limit:   key.DailyLimit,
	}
	if decision.Allowed && e.store != nil {
		key.UsageDate = day
		key.UsageCount = decision.Count
		// Losing this write only leaves the admin view stale; Redis stays exact.
		_ = e.store.UpdateKey(ctx, key)
	}
	return decision, nil
}
