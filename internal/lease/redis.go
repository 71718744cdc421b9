package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript extends the lease only while it is still held by ARGV[1].
// KEYS[1] = lease key
// ARGV[1] = lease id
// ARGV[2] = duration in milliseconds
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while it is still held by ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

const redisResourcesKey = "brook:lease:resources"

// RedisLeaser implements Leaser with one expiring key per resource.
type RedisLeaser struct {
	client redis.UniversalClient
	prefix string
}

var _ Leaser = (*RedisLeaser)(nil)

// NewRedisLeaser returns a Leaser over client.
func NewRedisLeaser(client redis.UniversalClient) *RedisLeaser {
	return &RedisLeaser{client: client, prefix: "brook:lease:"}
}

// DialRedis opens a client for addr and checks connectivity.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (r *RedisLeaser) key(resource string) string { return r.prefix + resource }

// EnsureResource implements Leaser by registering the resource name.
func (r *RedisLeaser) EnsureResource(ctx context.Context, resource string) error {
	if err := r.client.SAdd(ctx, redisResourcesKey, resource).Err(); err != nil {
		return fmt.Errorf("redis register resource: %w", err)
	}
	return nil
}

// Acquire implements Leaser.
func (r *RedisLeaser) Acquire(ctx context.Context, resource, leaseID string, d time.Duration) error {
	ok, err := r.client.SetNX(ctx, r.key(resource), leaseID, d).Result()
	if err != nil {
		return fmt.Errorf("redis acquire: %w", err)
	}
	if ok {
		return nil
	}
	// Re-acquiring our own lease extends it.
	err = r.Renew(ctx, resource, leaseID, d)
	if errors.Is(err, ErrLeaseLost) {
		return ErrLeaseConflict
	}
	return err
}

// Renew implements Leaser. An expired key reports ErrLeaseLost.
func (r *RedisLeaser) Renew(ctx context.Context, resource, leaseID string, d time.Duration) error {
	n, err := renewScript.Run(ctx, r.client, []string{r.key(resource)}, leaseID, d.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis renew: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release implements Leaser.
func (r *RedisLeaser) Release(ctx context.Context, resource, leaseID string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key(resource)}, leaseID).Int64()
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
