package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*AdvisoryLock)(nil)

const (
	// DefaultLockPoolSize caps how many advisory locks one process can hold at once.
	DefaultLockPoolSize = 10

	defaultAcquireTimeout = 2 * time.Second
	releaseTimeout        = 5 * time.Second
)

// LockPoolConfig returns the settings for the pool dedicated to advisory locks.
// Held locks pin their connection, so this pool is kept apart from the one
// used by the stores.
func LockPoolConfig(url string) Config {
	return Config{
		URL:             url,
		MaxOpenConns:    DefaultLockPoolSize,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// AdvisoryLockOption configures an AdvisoryLock.
type AdvisoryLockOption func(*AdvisoryLock)

// WithAcquireTimeout bounds how long Acquire waits for a free pool connection.
func WithAcquireTimeout(d time.Duration) AdvisoryLockOption {
	return func(l *AdvisoryLock) {
		l.acquireTimeout = d
	}
}

// WithLockLogger sets the logger for unlock failures.
func WithLockLogger(logger *slog.Logger) AdvisoryLockOption {
	return func(l *AdvisoryLock) {
		l.logger = logger
	}
}

// AdvisoryLock implements DistributedLock using PostgreSQL session advisory locks.
//
// Advisory locks belong to the connection that took them, so each held lock
// pins one *sql.Conn from the lock pool until Release. The TTL parameter is
// ignored and Extend is a no-op. If the connection drops, PostgreSQL releases
// the lock.
type AdvisoryLock struct {
	db             *DB
	acquireTimeout time.Duration
	logger         *slog.Logger

	mu sync.Mutex
	// conns maps held names to their connection. A nil entry marks an
	// acquisition in flight.
	conns map[string]*sql.Conn
}

// NewAdvisoryLock creates a new PostgreSQL advisory lock adapter. db should be
// a pool opened with LockPoolConfig.
func NewAdvisoryLock(db *DB, opts ...AdvisoryLockOption) *AdvisoryLock {
	l := &AdvisoryLock{
		db:             db,
		acquireTimeout: defaultAcquireTimeout,
		logger:         slog.Default(),
		conns:          make(map[string]*sql.Conn),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// hashLockName converts a string lock name to a 64-bit key using FNV-1a.
func hashLockName(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("callbridge:lock:" + name))
	return int64(h.Sum64())
}

// Acquire attempts to take the lock with pg_try_advisory_lock without blocking.
// A lock already held by this process reports false, like one held elsewhere.
// When the lock pool is exhausted it returns an error after the acquire timeout.
func (l *AdvisoryLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	if _, held := l.conns[name]; held {
		l.mu.Unlock()
		return false, nil
	}
	l.conns[name] = nil
	l.mu.Unlock()

	conn, err := l.tryLock(ctx, name)
	l.mu.Lock()
	if conn == nil {
		delete(l.conns, name)
	} else {
		l.conns[name] = conn
	}
	l.mu.Unlock()

	if err != nil {
		return false, err
	}
	return conn != nil, nil
}

func (l *AdvisoryLock) tryLock(ctx context.Context, name string) (*sql.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, l.acquireTimeout)
	defer cancel()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", hashLockName(name)).Scan(&acquired); err != nil {
		// The lock state of this session is unknown; do not return it to the pool.
		discard(conn)
		return nil, err
	}
	if !acquired {
		_ = conn.Close()
		return nil, nil
	}
	return conn, nil
}

// Release unlocks on the pinned connection and returns it to the pool.
// Safe to call when the lock is not held. A connection whose unlock fails is
// discarded so the session, and with it the lock, ends.
func (l *AdvisoryLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	conn := l.conns[name]
	if conn == nil {
		l.mu.Unlock()
		return nil
	}
	delete(l.conns, name)
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	var released bool
	err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", hashLockName(name)).Scan(&released)
	switch {
	case err != nil:
		l.logger.Warn("advisory unlock failed, discarding connection", "lock", name, "error", err)
		discard(conn)
		return err
	case !released:
		l.logger.Warn("advisory unlock reported lock not held", "lock", name)
		discard(conn)
		return nil
	}

	if err := conn.Close(); err != nil {
		l.logger.Warn("failed to return lock connection", "lock", name, "error", err)
	}
	return nil
}

// Extend is a no-op: advisory locks do not expire.
func (l *AdvisoryLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	return nil
}

// Ping checks if the PostgreSQL backend is healthy.
func (l *AdvisoryLock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// discard closes the underlying session instead of returning it to the pool.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}
