package lease

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Manager hands out TTL-bounded exclusive leases per partition key using
// Redis conditional writes. Acquisition is non-blocking: losing the race is
// an expected outcome, not an error, and callers simply skip the cycle. A
// crashed holder's lease expires on its own, so the next acquirer takes over
// without any cleanup.
type Manager struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewManager builds a lease manager. The holder identity prefix is derived
// from the process so competing instances are distinguishable in Redis.
func NewManager(client *redis.Client, ttl time.Duration) *Manager {
	if ttl == 0 {
		ttl = 300 * time.Second
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "local"
	}
	return &Manager{
		client: client,
		ttl:    ttl,
		prefix: fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

// Lease is a held claim on one partition key.
type Lease struct {
	client *redis.Client
	key    string
	holder string
}

func leaseKey(partition string) string {
	return "lease:" + partition
}

// Acquire attempts to take the partition's lease. It returns (nil, false)
// when another live holder has it; callers must treat that as "skip this
// cycle" rather than retry.
func (m *Manager) Acquire(ctx context.Context, partition string) (*Lease, bool, error) {
	holder := m.prefix + "-" + uuid.NewString()
	ok, err := m.client.SetNX(ctx, leaseKey(partition), holder, m.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", partition, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{client: m.client, key: leaseKey(partition), holder: holder}, true, nil
}

// Release deletes the lease only if we still hold it. Losing ownership to a
// stale-lease takeover between acquire and release is an expected race; the
// conditional delete is then a no-op.
func (l *Lease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.holder).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
