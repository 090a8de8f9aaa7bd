package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker hands out per-job run locks. ok is false when another holder has it.
type Locker interface {
	TryLock(ctx context.Context, jobID int64) (release func(), ok bool, err error)
}

// LocalLock guards runs within this process.
type LocalLock struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[int64]struct{})}
}

func (l *LocalLock) TryLock(_ context.Context, jobID int64) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[jobID]; busy {
		return nil, false, nil
	}
	l.held[jobID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, jobID)
			l.mu.Unlock()
		})
	}, true, nil
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock guards runs across every process sharing the Redis instance.
// Keys expire after ttl so a crashed holder cannot block a job forever.
type RedisLock struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisLock(client redis.UniversalClient, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, ttl: ttl}
}

func lockKey(jobID int64) string { return fmt.Sprintf("job_lock:%d", jobID) }

func (l *RedisLock) TryLock(ctx context.Context, jobID int64) (func(), bool, error) {
	key := lockKey(jobID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("executor: redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
		})
	}, true, nil
}
