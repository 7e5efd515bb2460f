package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StatusRefresher sweeps sent orders against their providers and advances
// the ones that reached a terminal state. Implemented by the dispatch engine.
type StatusRefresher interface {
	RefreshSentOrders(ctx context.Context, limit int) (int, error)
}

// DeliveryPoller periodically re-checks sent orders so a provider that only
// reports delivery out of band still drives orders to delivered or failed.
// Sweeps never overlap: a tick that fires while the previous sweep is still
// running is skipped.
type DeliveryPoller struct {
	refresher StatusRefresher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	inFlight  atomic.Bool
}

// NewDeliveryPoller creates a new delivery poller
func NewDeliveryPoller(refresher StatusRefresher, interval time.Duration, batchSize int, logger *zap.Logger) *DeliveryPoller {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &DeliveryPoller{
		refresher: refresher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Start begins the periodic sweep loop
func (p *DeliveryPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info("delivery poller started",
		zap.Duration("interval", p.interval),
		zap.Int("batch_size", p.batchSize))
	return nil
}

// Stop halts the sweep loop and waits for an in-flight sweep
func (p *DeliveryPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("delivery poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerNow runs one sweep immediately, unless one is already in flight
func (p *DeliveryPoller) TriggerNow(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrRefreshAlreadyRunning
	}
	defer p.inFlight.Store(false)

	settled, err := p.refresher.RefreshSentOrders(ctx, p.batchSize)
	if err != nil {
		return err
	}
	if settled > 0 {
		p.logger.Info("delivery sweep settled orders", zap.Int("settled", settled))
	}
	return nil
}

func (p *DeliveryPoller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.TriggerNow(ctx); err != nil {
				if err == ErrRefreshAlreadyRunning {
					p.logger.Warn("skipping delivery tick, previous sweep still running")
					continue
				}
				p.logger.Error("delivery sweep failed", zap.Error(err))
			}
		}
	}
}
