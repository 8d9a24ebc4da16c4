package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// INCR and PEXPIRE run as one script so concurrent replicas share a window.
var windowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

const redisTimeout = 2 * time.Second

// Redis shares counters between replicas. When Redis is unreachable it counts
// in process memory instead of letting every request through.
type Redis struct {
	client   *redis.Client
	window   time.Duration
	prefix   string
	fallback *InMemory
}

func NewRedis(client *redis.Client, w time.Duration) *Redis {
	if w <= 0 {
		w = time.Minute
	}
	return &Redis{client: client, window: w, prefix: "storefront:rl:", fallback: NewInMemory(w)}
}

func (l *Redis) Allow(ctx context.Context, key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	if l.client == nil {
		return l.fallback.Allow(ctx, key, limit)
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	res, err := windowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil || len(res) < 2 {
		log.Printf("ratelimit redis unavailable, using memory key=%s err=%v", key, err)
		return l.fallback.Allow(ctx, key, limit)
	}

	count, ttlMs := res[0], res[1]
	if ttlMs < 0 {
		ttlMs = l.window.Milliseconds()
	}
	return decide(int(count), limit, time.Now().UTC().Add(time.Duration(ttlMs)*time.Millisecond))
}
