package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appdispatch "github.com/resale/backend/internal/application/dispatch"
	"github.com/resale/backend/internal/domain/dispatch"
)

// EngineExecutor adapts the dispatch engine to the scheduler's executor
// contract. An attempt that loses the per-order lock is not a failure: the
// job is deferred and tries again after the lock-contention delay.
type EngineExecutor struct {
	engine        *appdispatch.Engine
	logger        *zap.Logger
	contendedWait time.Duration
}

// NewEngineExecutor creates a new engine-backed executor
func NewEngineExecutor(engine *appdispatch.Engine, logger *zap.Logger) *EngineExecutor {
	return &EngineExecutor{
		engine:        engine,
		logger:        logger,
		contendedWait: 5 * time.Second,
	}
}

// Execute runs one dispatch attempt
func (e *EngineExecutor) Execute(ctx context.Context, orderID uuid.UUID) (bool, time.Duration, error) {
	outcome, err := e.engine.Dispatch(ctx, orderID)
	if err != nil {
		if errors.Is(err, dispatch.ErrDispatchInFlight) {
			e.logger.Debug("order lock contended, deferring",
				zap.String("order_id", orderID.String()))
			return true, e.contendedWait, nil
		}
		return false, 0, err
	}

	if outcome.Retryable {
		return true, outcome.RetryAfter, nil
	}
	return false, 0, nil
}

// Ensure EngineExecutor implements DispatchExecutor
var _ DispatchExecutor = (*EngineExecutor)(nil)
