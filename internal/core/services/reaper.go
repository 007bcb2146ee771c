package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

const reaperLockName = "state-reaper"

// StateReaper periodically deletes abandoned OAuth states.
// It runs on worker nodes; with a DistributedLock configured only one
// instance sweeps per cycle.
type StateReaper struct {
	store  driven.OAuthStateStore
	lock   driven.DistributedLock
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration
	lockTTL  time.Duration
}

// StateReaperConfig holds configuration for the state reaper.
type StateReaperConfig struct {
	Store    driven.OAuthStateStore
	Lock     driven.DistributedLock // Optional
	Logger   *slog.Logger
	Interval time.Duration // default: 5m
	LockTTL  time.Duration // default: 1m
}

// NewStateReaper creates a new state reaper.
func NewStateReaper(cfg StateReaperConfig) *StateReaper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Minute
	}
	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = time.Minute
	}
	return &StateReaper{
		store:    cfg.Store,
		lock:     cfg.Lock,
		logger:   logger,
		interval: interval,
		lockTTL:  lockTTL,
	}
}

// Start begins the sweep loop. It runs until Stop is called or ctx is cancelled.
func (r *StateReaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("state reaper starting", "interval", r.interval)
	go r.run(ctx)
}

// Stop waits for the loop to exit.
func (r *StateReaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	r.mu.Unlock()

	<-r.doneCh

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.logger.Info("state reaper stopped")
}

func (r *StateReaper) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup cycle and returns how many states were deleted.
func (r *StateReaper) Sweep(ctx context.Context) int64 {
	if r.lock != nil {
		acquired, err := r.lock.Acquire(ctx, reaperLockName, r.lockTTL)
		if err != nil {
			r.logger.Warn("failed to acquire reaper lock", "error", err)
			return 0
		}
		if !acquired {
			r.logger.Debug("reaper lock held by another instance, skipping cycle")
			return 0
		}
		defer func() {
			if err := r.lock.Release(ctx, reaperLockName); err != nil {
				r.logger.Warn("failed to release reaper lock", "error", err)
			}
		}()
	}

	n, err := r.store.Cleanup(ctx)
	if err != nil {
		r.logger.Error("failed to clean up oauth states", "error", err)
		return 0
	}
	if n > 0 {
		r.logger.Info("expired oauth states removed", "count", n)
	}
	return n
}
