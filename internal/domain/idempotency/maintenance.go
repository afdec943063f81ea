package idempotency

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"

	"metapus/pkg/logger"
)

// DefaultMaintenanceInterval is the documented default cadence (§4.8).
const DefaultMaintenanceInterval = time.Hour

// DefaultCleanupBatch bounds a single Cleanup call.
const DefaultCleanupBatch = 1000

// Maintenance runs periodic eviction of expired records out-of-band from
// the request path, and bounds the Hot Cache's own memory growth.
type Maintenance struct {
	storages []Storage
	hotCache *HotCache
	interval time.Duration
	batch    int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMaintenance builds a maintenance loop over one or more storage
// backends (a deployment may run more than one backend side by side during
// a migration) plus the shared Hot Cache.
func NewMaintenance(storages []Storage, hotCache *HotCache, interval time.Duration, batch int) *Maintenance {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	if batch <= 0 {
		batch = DefaultCleanupBatch
	}
	return &Maintenance{storages: storages, hotCache: hotCache, interval: interval, batch: batch}
}

// Start launches the periodic housekeeping goroutine. Safe to call once;
// a second call is a no-op.
func (m *Maintenance) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.RunOnce(runCtx)
			}
		}
	}()
}

// Stop cancels the housekeeping goroutine and waits for it to exit.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// RunOnce performs a single housekeeping pass: Cleanup on every backend and
// an eviction sweep of the Hot Cache. Errors from individual backends are
// aggregated and logged, never aborting the remaining backends' cleanup.
func (m *Maintenance) RunOnce(ctx context.Context) {
	var aggregate error
	total := 0
	for _, s := range m.storages {
		n, err := s.Cleanup(ctx, m.batch)
		total += n
		if err != nil {
			aggregate = multierr.Append(aggregate, err)
		}
	}

	evicted := 0
	if m.hotCache != nil {
		evicted = m.hotCache.Evict(time.Now())
	}

	if aggregate != nil {
		logger.Error(ctx, "idempotency maintenance pass had backend errors",
			"error", aggregate, "records_removed", total, "hot_cache_evicted", evicted)
		return
	}
	logger.Info(ctx, "idempotency maintenance pass complete",
		"records_removed", total, "hot_cache_evicted", evicted)
}
