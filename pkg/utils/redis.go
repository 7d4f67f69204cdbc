package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the client shared by the realtime relay, the
// follow-up queue and the in-flight limiter. Zero values take defaults.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// ClientName is sent with CLIENT SETNAME so connections are
	// identifiable in CLIENT LIST.
	ClientName string

	DialTimeout time.Duration
	// IOTimeout applies to reads and writes. Blocking commands used by the
	// relay subscriber are not affected.
	IOTimeout   time.Duration
	PoolSize    int
	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.ClientName == "" {
		out.ClientName = "crm-calls"
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.IOTimeout <= 0 {
		out.IOTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis builds a client from cfg and fails fast if PING does not answer
// within PingTimeout.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		ClientName:      cfg.ClientName,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.IOTimeout,
		WriteTimeout:    cfg.IOTimeout,
		PoolSize:        cfg.PoolSize,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Concurrency slots are members of a sorted set scored by their expiry in
// unix milliseconds. Each holder owns one member, so a crashed holder only
// leaks its own slot until that score passes.
var slotAcquireScript = redis.NewScript(`
-- KEYS[1] = slot set
-- ARGV[1] = now_ms, ARGV[2] = ttl_ms, ARGV[3] = limit, ARGV[4] = slot token
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now)
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], now + tonumber(ARGV[2]), ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

var slotReleaseScript = redis.NewScript(`
-- KEYS[1] = slot set, ARGV[1] = slot token
redis.call('ZREM', KEYS[1], ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// Slot identifies one acquired concurrency slot.
type Slot struct {
	Key   string
	Token string
}

// AcquireConcurrencyCap takes a slot under key when fewer than limit live
// slots exist. ok is false when the cap is reached. token must be unique per
// holder; ttl bounds how long a slot survives without Release.
func AcquireConcurrencyCap(ctx context.Context, rdb redis.Scripter, key, token string, limit int, ttl time.Duration, now time.Time) (Slot, bool, error) {
	if rdb == nil {
		return Slot{}, false, fmt.Errorf("redis client is nil")
	}
	if key == "" || token == "" {
		return Slot{}, false, fmt.Errorf("key and token are required")
	}
	if limit <= 0 {
		return Slot{}, false, fmt.Errorf("limit must be > 0")
	}
	if ttl <= 0 {
		return Slot{}, false, fmt.Errorf("ttl must be > 0")
	}

	res, err := slotAcquireScript.Run(ctx, rdb, []string{key}, now.UnixMilli(), ttl.Milliseconds(), limit, token).Int()
	if err != nil {
		return Slot{}, false, err
	}
	if res != 1 {
		return Slot{}, false, nil
	}
	return Slot{Key: key, Token: token}, true, nil
}

// ReleaseConcurrencyCap frees s. Releasing an expired or unknown slot is a
// no-op.
func ReleaseConcurrencyCap(ctx context.Context, rdb redis.Scripter, s Slot) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if s.Key == "" || s.Token == "" {
		return fmt.Errorf("slot key and token are required")
	}
	return slotReleaseScript.Run(ctx, rdb, []string{s.Key}, s.Token).Err()
}
