package throttle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "throttle:submit:"

// RedisThrottle shares cooldowns across service instances using SET NX PX:
// the key exists exactly while the submitter is cooling down, so the check and
// the record are one atomic command.
type RedisThrottle struct {
	client    redis.Cmdable
	keyPrefix string
	cooldown  time.Duration
}

// NewRedisThrottle constructs the throttle.
func NewRedisThrottle(client redis.Cmdable, prefix string, cooldown time.Duration) *RedisThrottle {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisThrottle{client: client, keyPrefix: prefix, cooldown: cooldown}
}

// CheckAndRecord allows the submission when no cooldown key exists and
// starts a new cooldown; otherwise it reports the remaining TTL.
func (r *RedisThrottle) CheckAndRecord(ctx context.Context, key string) (Decision, error) {
	if r.cooldown <= 0 {
		return Decision{Allowed: true}, nil
	}
	k := r.keyPrefix + key
	// a key that expires between SETNX and PTTL gets one more attempt
	for i := 0; i < 2; i++ {
		ok, err := r.client.SetNX(ctx, k, strconv.FormatInt(time.Now().UnixMilli(), 10), r.cooldown).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return Decision{Allowed: true}, nil
		}
		ttl, err := r.client.PTTL(ctx, k).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("redis pttl: %w", err)
		}
		if ttl > 0 {
			return Decision{Remaining: ttl}, nil
		}
		if ttl == -1 {
			// no expiry set: repair so the key cannot block forever
			if err := r.client.PExpire(ctx, k, r.cooldown).Err(); err != nil {
				return Decision{}, fmt.Errorf("redis pexpire: %w", err)
			}
			return Decision{Remaining: r.cooldown}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// Reset removes the cooldown key.
func (r *RedisThrottle) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
