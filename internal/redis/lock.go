package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Locker serializes the read-then-write critical sections of the allocator
// and the treatment guard. Doctor-slot locks guard the "is this slot free"
// check plus the insert; patient locks guard the active-treatment set.
type Locker interface {
	WithDoctorSlotLock(ctx context.Context, doctorID int64, slotStart time.Time, fn func(ctx context.Context) error) error
	WithPatientLock(ctx context.Context, patientID int64, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker backed by per-resource Redis keys.
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisLocker) WithDoctorSlotLock(ctx context.Context, doctorID int64, slotStart time.Time, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:doctor:%d:%d", doctorID, slotStart.UTC().Unix())
	return l.withLock(ctx, key, fn)
}

func (l *redisLocker) WithPatientLock(ctx context.Context, patientID int64, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:patient:%d", patientID)
	return l.withLock(ctx, key, fn)
}

func (l *redisLocker) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
