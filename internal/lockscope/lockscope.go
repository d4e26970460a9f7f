// Package lockscope serializes executions sharing a lock scope
// (project:{id} or epic:{id}) across processes using Redis SetNX leases,
// and deduplicates externally-triggered starts via idempotency keys.
package lockscope

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder can block a scope.
const DefaultTTL = 5 * time.Minute

// ErrScopeHeld is returned when another execution holds the scope.
var ErrScopeHeld = fmt.Errorf("lock scope held by another execution")

// Manager acquires and releases scope leases.
type Manager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(address string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		PoolSize: 100,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewManager creates a lease manager. ttl of 0 uses DefaultTTL.
func NewManager(client *redis.Client, ttl time.Duration) *Manager {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{client: client, ttl: ttl}
}

func scopeKey(scope string) string {
	return "quill:lockscope:" + scope
}

// Acquire takes the lease on a scope for the given holder. Empty scopes
// need no serialization and always succeed. Re-acquiring a scope the
// holder already owns extends the lease.
func (m *Manager) Acquire(ctx context.Context, scope, holder string) error {
	if scope == "" {
		return nil
	}

	ok, err := m.client.SetNX(ctx, scopeKey(scope), holder, m.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lock scope %s: %w", scope, err)
	}
	if ok {
		return nil
	}

	current, err := m.client.Get(ctx, scopeKey(scope)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to inspect lock scope %s: %w", scope, err)
	}
	if current == holder {
		if err := m.client.Expire(ctx, scopeKey(scope), m.ttl).Err(); err != nil {
			return fmt.Errorf("failed to extend lock scope %s: %w", scope, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s held by %s", ErrScopeHeld, scope, current)
}

// Release drops the lease if the holder still owns it. Someone else's
// lease is left alone.
func (m *Manager) Release(ctx context.Context, scope, holder string) error {
	if scope == "" {
		return nil
	}
	// Check-and-delete runs as one script so an expired lease re-acquired
	// by another holder cannot be deleted from under them.
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	released, err := script.Run(ctx, m.client, []string{scopeKey(scope)}, holder).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock scope %s: %w", scope, err)
	}
	if released == 0 {
		log.Printf("[LockScope] Release of %s skipped, lease no longer held by %s", scope, holder)
	}
	return nil
}

// RegisterIdempotencyKey records a key with a TTL and reports whether this
// call was the first to see it. The database remains the source of truth
// for open executions; this is a fast pre-filter for duplicate triggers.
func (m *Manager) RegisterIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return true, nil
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	first, err := m.client.SetNX(ctx, "quill:idem:"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to register idempotency key: %w", err)
	}
	return first, nil
}
