package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

const defaultLockPrefix = "callbridge:lock:"

// ErrLockNotHeld is returned by Extend when this instance does not own the lock.
var ErrLockNotHeld = errors.New("lock not held by this instance")

// LockOption configures a Lock.
type LockOption func(*Lock)

// WithLockPrefix overrides the key prefix. Used to isolate deployments sharing one Redis.
func WithLockPrefix(prefix string) LockOption {
	return func(l *Lock) { l.prefix = prefix }
}

// WithOwnerID sets a fixed owner identity instead of hostname:pid:random.
func WithOwnerID(id string) LockOption {
	return func(l *Lock) { l.ownerID = id }
}

// Lock implements DistributedLock with SET NX PX. Each key stores the owner
// identity so a lock can only be released or extended by the instance that took it.
type Lock struct {
	client  redis.UniversalClient
	prefix  string
	ownerID string
}

// NewLock creates a new Redis-backed distributed lock.
func NewLock(client redis.UniversalClient, opts ...LockOption) *Lock {
	l := &Lock{
		client: client,
		prefix: defaultLockPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ownerID == "" {
		l.ownerID = generateOwnerID()
	}
	return l
}

// generateOwnerID returns hostname:pid:random.
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	suffix := make([]byte, 8)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(suffix))
}

func (l *Lock) key(name string) string {
	return l.prefix + name
}

// Acquire takes the lock for ttl. Returns false when another owner holds it.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(name), l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// ownedScript runs an action on KEYS[1] only when its value equals ARGV[1].
// ARGV[2] selects the action: "del" or "pexpire" with ARGV[3] milliseconds.
var ownedScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) ~= ARGV[1] then
		return 0
	end
	if ARGV[2] == "del" then
		return redis.call("del", KEYS[1])
	end
	return redis.call("pexpire", KEYS[1], ARGV[3])
`)

// Release drops the lock if this instance owns it.
// Releasing an expired or foreign lock is not an error.
func (l *Lock) Release(ctx context.Context, name string) error {
	err := ownedScript.Run(ctx, l.client, []string{l.key(name)}, l.ownerID, "del", 0).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend resets the TTL of a lock this instance owns.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	n, err := ownedScript.Run(ctx, l.client, []string{l.key(name)}, l.ownerID, "pexpire", ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("extend lock %s: %w", name, ErrLockNotHeld)
	}
	return nil
}

// Holder reports the owner of a lock, or "" when it is free.
func (l *Lock) Holder(ctx context.Context, name string) (string, error) {
	owner, err := l.client.Get(ctx, l.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lock holder %s: %w", name, err)
	}
	return owner, nil
}

// Ping checks if the Redis backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// OwnerID returns this instance's lock identity.
func (l *Lock) OwnerID() string {
	return l.ownerID
}
