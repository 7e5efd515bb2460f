package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	appsync "github.com/resale/backend/internal/application/sync"
)

// SyncTrigger periodically sweeps every enabled integration through the sync
// service. Sweeps never overlap: a tick that fires while the previous sweep
// is still running is skipped, so a slow provider cannot pile up runs.
type SyncTrigger struct {
	service  *appsync.Service
	interval time.Duration
	logger   *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	inFlight  atomic.Bool
}

// NewSyncTrigger creates a new periodic sync trigger
func NewSyncTrigger(service *appsync.Service, interval time.Duration, logger *zap.Logger) *SyncTrigger {
	return &SyncTrigger{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the periodic sweep loop
func (t *SyncTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.loop(ctx)

	t.logger.Info("sync trigger started", zap.Duration("interval", t.interval))
	return nil
}

// Stop halts the sweep loop and waits for an in-flight sweep
func (t *SyncTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("sync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerNow runs one sweep immediately, unless one is already in flight
func (t *SyncTrigger) TriggerNow(ctx context.Context) error {
	if !t.inFlight.CompareAndSwap(false, true) {
		return ErrSyncAlreadyRunning
	}
	defer t.inFlight.Store(false)

	_, err := t.service.SyncAll(ctx)
	return err
}

func (t *SyncTrigger) loop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.TriggerNow(ctx); err != nil {
				if err == ErrSyncAlreadyRunning {
					t.logger.Warn("skipping sync tick, previous sweep still running")
					continue
				}
				t.logger.Error("sync sweep failed", zap.Error(err))
			}
		}
	}
}
