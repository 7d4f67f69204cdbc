package calls

import (
	"context"
	"errors"
	"time"

	"crm-calls/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrTooManyInFlight = errors.New("calls: too many calls in progress")

// InFlightLimiter caps concurrent initiations per user. release must be
// called exactly once after a successful Acquire.
type InFlightLimiter interface {
	Acquire(ctx context.Context, userID string) (release func(), err error)
}

// RedisInFlight shares the cap across API instances through the slot set in
// pkg/utils. A slot not released within ttl expires on its own.
type RedisInFlight struct {
	rdb   redis.Scripter
	limit int
	ttl   time.Duration
	clock func() time.Time
}

func NewRedisInFlight(rdb redis.Scripter, limit int, ttl time.Duration) *RedisInFlight {
	return &RedisInFlight{rdb: rdb, limit: limit, ttl: ttl, clock: time.Now}
}

func inFlightKey(userID string) string { return "calls:inflight:" + userID }

func (r *RedisInFlight) Acquire(ctx context.Context, userID string) (func(), error) {
	slot, ok, err := utils.AcquireConcurrencyCap(ctx, r.rdb, inFlightKey(userID), uuid.NewString(), r.limit, r.ttl, r.clock())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTooManyInFlight
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = utils.ReleaseConcurrencyCap(releaseCtx, r.rdb, slot)
	}, nil
}
