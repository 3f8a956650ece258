package budget

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"aegis/pkg/platform/sentinel"
)

// reserveScript performs the whole multi-scope charge in one atomic script:
// every key is checked against its cap first, and only if all are under cap
// does any increment commit. Redis executes scripts serially per server, so
// the check and the increment can never interleave with another request's.
//
// ARGV layout per key i: amount, cap, ttl-seconds.
// Reply: {1, newTotal...} on commit, {0, currentTotal...} on rejection.
var reserveScript = redis.NewScript(`
local n = #KEYS
for i = 1, n do
  local amount = tonumber(ARGV[(i-1)*3 + 1])
  local cap = tonumber(ARGV[(i-1)*3 + 2])
  local current = tonumber(redis.call('HGET', KEYS[i], 'amount') or '0')
  if current + amount > cap then
    local reply = {0}
    for j = 1, n do
      reply[j+1] = tonumber(redis.call('HGET', KEYS[j], 'amount') or '0')
    end
    return reply
  end
end
local reply = {1}
for i = 1, n do
  local amount = tonumber(ARGV[(i-1)*3 + 1])
  local ttl = tonumber(ARGV[(i-1)*3 + 3])
  local total = redis.call('HINCRBY', KEYS[i], 'amount', amount)
  redis.call('HINCRBY', KEYS[i], 'count', 1)
  if redis.call('TTL', KEYS[i]) < 0 then
    redis.call('EXPIRE', KEYS[i], ttl)
  end
  reply[i+1] = total
end
return reply
`)

// RedisStore implements Store on Redis. This is the production store for
// multi-instance deployments: all gateway instances share one ledger and the
// conditional increment happens server-side in a single round trip.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps a Redis client as a ledger store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// ReserveAll runs the conditional increment script over all reservation keys.
func (s *RedisStore) ReserveAll(ctx context.Context, reservations []Reservation) ([]ScopeResult, error) {
	keys := make([]string, len(reservations))
	args := make([]interface{}, 0, len(reservations)*3)
	for i, r := range reservations {
		keys[i] = r.Key
		ttl := int64(r.TTL.Seconds())
		if ttl < 1 {
			ttl = 1
		}
		args = append(args, r.Amount, r.Cap, ttl)
	}

	reply, err := reserveScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: budget ledger script: %v", sentinel.ErrUnavailable, err)
	}
	if len(reply) != len(reservations)+1 {
		return nil, fmt.Errorf("%w: budget ledger reply shape: %v", sentinel.ErrUnavailable, reply)
	}

	committed := reply[0] == 1
	results := make([]ScopeResult, len(reservations))
	for i, r := range reservations {
		total := reply[i+1]
		results[i] = ScopeResult{
			Accepted: committed || total+r.Amount <= r.Cap,
			Total:    total,
			Cap:      r.Cap,
		}
	}
	return results, nil
}

// Usage reads the current amount and count for a key. Missing keys read as
// zero (window not yet created).
func (s *RedisStore) Usage(ctx context.Context, key string) (int64, int64, error) {
	values, err := s.client.HMGet(ctx, key, "amount", "count").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: budget ledger read: %v", sentinel.ErrUnavailable, err)
	}

	return parseCounterField(values[0]), parseCounterField(values[1]), nil
}

func parseCounterField(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
