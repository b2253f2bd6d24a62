package compaction

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cmu-delphi/epitools/internal/core/dataset"
	"github.com/cmu-delphi/epitools/internal/core/partition"
	"github.com/cmu-delphi/epitools/internal/core/storage"
)

const shutdownDrainTimeout = 30 * time.Second

// Scheduler runs compaction sweeps on a periodic interval. It is
// stateless: each tick independently scans every (dataset, partition)
// shard, so an interrupted sweep is simply retried on the next tick.
type Scheduler struct {
	interval    time.Duration
	datasets    dataset.Repository
	store       storage.ObservationStore
	workerCount int
}

// NewScheduler creates a periodic compaction scheduler.
func NewScheduler(interval time.Duration, datasets dataset.Repository, store storage.ObservationStore, workerCount int) *Scheduler {
	if workerCount <= 0 {
		workerCount = 4
	}
	return &Scheduler{
		interval:    interval,
		datasets:    datasets,
		store:       store,
		workerCount: workerCount,
	}
}

// Start begins periodic compaction. Runs until context is cancelled,
// then performs one final sweep so a clean shutdown leaves no backlog.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Compaction] Starting compaction scheduler",
		"interval", s.interval,
		"workers", s.workerCount,
	)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			slog.Info("[Compaction] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
			defer cancel()

			slog.Info("[Compaction] Running final sweep before shutdown...")
			s.sweep(shutdownCtx)
			slog.Info("[Compaction] Final sweep complete")

			return nil
		}
	}
}

// sweep compacts every (dataset, partition) shard on a bounded worker
// pool. Shards are independent, so a failing shard only skips itself.
func (s *Scheduler) sweep(ctx context.Context) {
	start := time.Now()

	var eg errgroup.Group
	eg.SetLimit(s.workerCount)

	var total int64
	for _, ds := range s.datasets.GetDatasets() {
		for p := 0; p < partition.Count; p++ {
			eg.Go(func() error {
				deleted, err := CompactShard(ctx, s.store, ds, p)
				if err != nil {
					slog.Error("[Compaction] Shard compaction failed",
						"error", err, "dataset", ds.Name, "partition", p)
					return nil // other shards proceed
				}
				if deleted > 0 {
					slog.Info("[Compaction] Compacted shard",
						"dataset", ds.Name, "partition", p, "deleted", deleted)
					atomic.AddInt64(&total, deleted)
				}
				return nil
			})
		}
	}

	// Workers log their own failures and always return nil.
	_ = eg.Wait()

	slog.Info("[Compaction] Sweep complete",
		"deleted", atomic.LoadInt64(&total),
		"duration", time.Since(start),
	)
}
