package storage

import (
	"context"
	"log/slog"
	"time"
)

// TokenSweeper clears share tokens that have passed their expiry.
type TokenSweeper interface {
	SweepExpiredTokens(ctx context.Context) (int64, error)
}

// CleanupService periodically clears expired share tokens and purges
// staging and trash objects left behind by interrupted requests.
type CleanupService struct {
	sweeper    TokenSweeper
	store      Store
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	done       chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(sweeper TokenSweeper, store Store, interval, staleAfter time.Duration) *CleanupService {
	return &CleanupService{
		sweeper:    sweeper,
		store:      store,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
		done:       make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval, "stale_after", cs.staleAfter)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				cs.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

// CleanupResult summarizes one cleanup cycle.
type CleanupResult struct {
	TokensCleared int64
	ObjectsPurged int
	Failed        int
}

// RunOnce performs a single cleanup cycle.
func (cs *CleanupService) RunOnce(ctx context.Context) CleanupResult {
	var res CleanupResult

	cleared, err := cs.sweeper.SweepExpiredTokens(ctx)
	if err != nil {
		slog.Error("failed to sweep expired share tokens", "error", err)
		res.Failed++
	}
	res.TokensCleared = cleared

	cutoff := cs.now().Add(-cs.staleAfter)
	for _, prefix := range []string{StagingPrefix, TrashPrefix} {
		objects, err := cs.store.List(ctx, prefix)
		if err != nil {
			slog.Error("failed to list objects", "prefix", prefix, "error", err)
			res.Failed++
			continue
		}

		for _, obj := range objects {
			createdAt, ok := tempKeyTime(obj.Key)
			if !ok {
				createdAt = obj.ModTime
			}
			if createdAt.After(cutoff) {
				continue
			}
			if err := cs.store.Delete(ctx, obj.Key); err != nil {
				slog.Error("failed to purge object", "key", obj.Key, "error", err)
				res.Failed++
				continue
			}
			res.ObjectsPurged++
			slog.Info("purged stale object", "key", obj.Key, "created_at", createdAt)
		}
	}

	slog.Info("cleanup cycle complete",
		"tokens_cleared", res.TokensCleared,
		"objects_purged", res.ObjectsPurged,
		"failed", res.Failed,
	)
	return res
}
