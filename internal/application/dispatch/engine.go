package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/resale/backend/internal/domain/dispatch"
)

// Config tunes the engine's retry policy and per-order lock lease
type Config struct {
	// MaxAttempts bounds external call attempts per order
	MaxAttempts int
	// LockTTL is the per-order lock lease; a crashed worker frees the order
	// after this long
	LockTTL time.Duration
	// BaseBackoff is the delay after the first failed attempt
	BaseBackoff time.Duration
	// MaxBackoff caps the exponential backoff
	MaxBackoff time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		LockTTL:     2 * time.Minute,
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  15 * time.Minute,
	}
}

// Engine drives the order dispatch state machine. One call to Dispatch runs
// exactly one attempt: it re-resolves the route, re-reads the integration
// config, freezes the financial snapshot on first touch and applies the
// uniform retry classification to whatever the adapter reports.
type Engine struct {
	orders       dispatch.OrderRepository
	resolver     *Resolver
	integrations dispatch.IntegrationConfigRepository
	registry     dispatch.DriverRegistry
	locker       dispatch.OrderLocker
	rates        RateSource
	logger       *zap.Logger
	tracer       trace.Tracer
	cfg          Config
}

// NewEngine creates a new dispatch engine
func NewEngine(
	orders dispatch.OrderRepository,
	resolver *Resolver,
	integrations dispatch.IntegrationConfigRepository,
	registry dispatch.DriverRegistry,
	locker dispatch.OrderLocker,
	rates RateSource,
	logger *zap.Logger,
	cfg Config,
) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	if rates == nil {
		rates = UnitRateSource{}
	}
	return &Engine{
		orders:       orders,
		resolver:     resolver,
		integrations: integrations,
		registry:     registry,
		locker:       locker,
		rates:        rates,
		logger:       logger,
		tracer:       otel.Tracer("dispatch-engine"),
		cfg:          cfg,
	}
}

// Accept registers an approved order for dispatch. The call is idempotent on
// (tenant, requester, order_uuid): a duplicate returns the existing order
// and reports created=false, and no second order is ever created.
func (e *Engine) Accept(ctx context.Context, cmd AcceptCommand) (*dispatch.Order, bool, error) {
	order, err := dispatch.NewOrder(cmd.TenantID, cmd.RequesterID, cmd.PackageID,
		cmd.OrderUUID, cmd.Quantity, cmd.Params, cmd.SellAmount)
	if err != nil {
		return nil, false, err
	}

	if err := e.orders.Create(ctx, order); err != nil {
		if errors.Is(err, dispatch.ErrDuplicateOrderUUID) {
			existing, findErr := e.orders.FindByOrderUUID(ctx, cmd.TenantID, cmd.RequesterID, order.OrderUUID)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return order, true, nil
}

// GetOrder returns one dispatch record
func (e *Engine) GetOrder(ctx context.Context, id uuid.UUID) (*dispatch.Order, error) {
	return e.orders.FindByID(ctx, id)
}

// Dispatch runs one dispatch attempt for an order. Attempts for the same
// order are serialized by the per-order lock; a held lock reports
// ErrDispatchInFlight and the caller retries later.
func (e *Engine) Dispatch(ctx context.Context, orderID uuid.UUID) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.dispatch",
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer span.End()

	order, err := e.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if done := e.settledOutcome(order); done != nil {
		return done, nil
	}

	lease, acquired, err := e.locker.Acquire(ctx, orderID, e.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, dispatch.ErrDispatchInFlight
	}
	defer func() {
		if err := e.locker.Release(context.WithoutCancel(ctx), orderID, lease); err != nil {
			e.logger.Warn("failed to release order lock",
				zap.String("order_id", orderID.String()), zap.Error(err))
		}
	}()

	// Re-read under the lock: a concurrent attempt may have advanced the
	// order between our first read and acquiring the lease.
	order, err = e.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if done := e.settledOutcome(order); done != nil {
		return done, nil
	}

	outcome, err := e.attempt(ctx, order)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("order.status", outcome.Status.String()),
		attribute.Int("order.attempts", outcome.Attempts),
	)
	return outcome, nil
}

// RefreshStatus re-checks a sent order against the provider and advances it
// to delivered or failed when the provider reports a terminal state. The
// refresh is best-effort: a failed check or a broken route leaves the order
// sent and a later sweep tries again. No submit attempt is consumed and
// nothing is ever resubmitted from this path.
func (e *Engine) RefreshStatus(ctx context.Context, orderID uuid.UUID) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.refresh_status",
		trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer span.End()

	order, err := e.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ExternalStatus != dispatch.StatusSent {
		return e.outcome(order), nil
	}

	lease, acquired, err := e.locker.Acquire(ctx, orderID, e.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, dispatch.ErrDispatchInFlight
	}
	defer func() {
		if err := e.locker.Release(context.WithoutCancel(ctx), orderID, lease); err != nil {
			e.logger.Warn("failed to release order lock",
				zap.String("order_id", orderID.String()), zap.Error(err))
		}
	}()

	order, err = e.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ExternalStatus != dispatch.StatusSent {
		return e.outcome(order), nil
	}

	log := e.logger.With(
		zap.String("order_id", order.ID.String()),
		zap.String("tenant_id", order.TenantID.String()),
	)

	route, err := e.resolver.Resolve(ctx, order.TenantID, order.PackageID)
	if err != nil {
		if errors.Is(err, dispatch.ErrNotRouted) {
			log.Warn("sent order no longer routed, skipping status refresh")
			return e.outcome(order), nil
		}
		return nil, err
	}
	cfg, err := e.integrations.FindByID(ctx, route.IntegrationID)
	if err != nil {
		if errors.Is(err, dispatch.ErrIntegrationNotFound) {
			log.Warn("routed integration gone, skipping status refresh")
			return e.outcome(order), nil
		}
		return nil, err
	}
	driver, err := e.registry.Get(cfg.Kind)
	if err != nil {
		log.Warn("no driver for status refresh", zap.Error(err))
		return e.outcome(order), nil
	}

	result := driver.CheckOrderStatus(ctx, cfg, dispatch.OrderRef{
		ExternalOrderID: order.ExternalOrderID,
		OrderUUID:       order.OrderUUID,
	})

	switch {
	case !result.Err.IsZero():
		// The check failed; the order stays sent and the next sweep retries
		order.SetMessage(result.Message)
		log.Warn("status refresh check failed",
			zap.String("failure", result.Err.String()))

	case !result.Found:
		// The provider accepted this order earlier; treat absence as
		// provider-side lag, never as license to resubmit
		order.SetMessage("accepted order not found upstream")
		log.Warn("sent order not found upstream, keeping sent")

	case result.ExternalStatus == dispatch.StatusDelivered:
		if err := order.MarkDelivered(); err != nil {
			return nil, err
		}
		log.Info("order delivered")

	case result.ExternalStatus == dispatch.StatusFailed:
		if err := order.MarkFailed(result.Message); err != nil {
			return nil, err
		}
		log.Warn("provider reports order failed")

	default:
		// Still in flight on the provider side
		order.SetMessage(result.Message)
	}

	if err := e.orders.UpdateDispatchState(ctx, order); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.status", order.ExternalStatus.String()))
	return e.outcome(order), nil
}

// RefreshSentOrders sweeps up to limit sent orders through RefreshStatus.
// Returns the number of orders that reached a terminal state.
func (e *Engine) RefreshSentOrders(ctx context.Context, limit int) (int, error) {
	orders, err := e.orders.ListByStatus(ctx, dispatch.StatusSent, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, order := range orders {
		out, err := e.RefreshStatus(ctx, order.ID)
		if err != nil {
			if errors.Is(err, dispatch.ErrDispatchInFlight) {
				continue
			}
			e.logger.Warn("status refresh failed",
				zap.String("order_id", order.ID.String()), zap.Error(err))
			continue
		}
		if out.Status.IsFinal() {
			settled++
		}
	}
	return settled, nil
}

// attempt runs the route/config/submit pipeline for one locked order
func (e *Engine) attempt(ctx context.Context, order *dispatch.Order) (*Outcome, error) {
	log := e.logger.With(
		zap.String("order_id", order.ID.String()),
		zap.String("tenant_id", order.TenantID.String()),
	)

	// The route is re-resolved on every attempt; a repointed package takes
	// effect immediately, including for retries of older orders.
	route, err := e.resolver.Resolve(ctx, order.TenantID, order.PackageID)
	if err != nil {
		if errors.Is(err, dispatch.ErrNotRouted) {
			log.Warn("package not routed, failing order")
			return e.failOrder(ctx, order, "package not routed")
		}
		return nil, err
	}

	cfg, err := e.integrations.FindByID(ctx, route.IntegrationID)
	if err != nil {
		if errors.Is(err, dispatch.ErrIntegrationNotFound) {
			return e.failOrder(ctx, order, "routed integration does not exist")
		}
		return nil, err
	}

	// Config problems are reported without consuming an attempt: the order
	// stays dispatchable and succeeds as soon as an admin fixes the config.
	if !cfg.Enabled {
		return e.holdOrder(ctx, order, dispatch.ErrIntegrationDisabled.Error())
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return e.holdOrder(ctx, order, err.Error())
	}

	driver, err := e.registry.Get(cfg.Kind)
	if err != nil {
		return e.failOrder(ctx, order, err.Error())
	}

	if !order.FxLocked {
		if err := e.freezeFinancials(ctx, order, route); err != nil {
			return nil, err
		}
	}

	// An ambiguous earlier submission must be resolved by a status check
	// before anything is resubmitted.
	if order.NeedsStatusCheck() {
		resolved, outcome, err := e.resolveUnknown(ctx, order, driver, cfg, log)
		if err != nil || !resolved {
			return outcome, err
		}
		// Not found upstream: the earlier submission never landed and a
		// fresh submission is safe.
	}

	return e.submit(ctx, order, driver, cfg, route, log)
}

// submit places the order on the provider and classifies the result
func (e *Engine) submit(ctx context.Context, order *dispatch.Order, driver dispatch.Driver, cfg *dispatch.IntegrationConfig, route *dispatch.PackageRoute, log *zap.Logger) (*Outcome, error) {
	result := e.safeSubmit(ctx, driver, cfg, dispatch.SubmitRequest{
		OrderUUID:         order.OrderUUID,
		ExternalPackageID: route.ExternalPackageID,
		Quantity:          order.Quantity,
		Params:            order.Params,
	})
	order.RecordAttempt(result.Message)

	switch {
	case result.Accepted:
		if err := order.MarkSent(result.ExternalOrderID); err != nil {
			return nil, err
		}
		if result.ExternalStatus == dispatch.StatusDelivered {
			if err := order.MarkDelivered(); err != nil {
				return nil, err
			}
		}
		log.Info("order accepted by provider",
			zap.String("external_order_id", result.ExternalOrderID),
			zap.String("status", order.ExternalStatus.String()))

	case result.Err.IsAmbiguous():
		// The side effect may have landed; never blind-resubmit.
		if err := order.MarkUnknown(result.Message); err != nil {
			return nil, err
		}
		log.Warn("ambiguous submission, status check required",
			zap.String("failure", result.Err.String()))

	case result.Err.IsTransient():
		if order.Attempts >= e.cfg.MaxAttempts {
			if err := order.MarkFailed(fmt.Sprintf("attempts exhausted: %s", result.Message)); err != nil {
				return nil, err
			}
			log.Warn("attempts exhausted, failing order",
				zap.Int("attempts", order.Attempts))
		} else {
			log.Warn("transient dispatch failure",
				zap.String("failure", result.Err.String()),
				zap.Int("attempts", order.Attempts))
		}

	default:
		// Rejections and unclassifiable responses are terminal.
		if err := order.MarkFailed(result.Message); err != nil {
			return nil, err
		}
		log.Warn("provider rejected order",
			zap.String("failure", result.Err.String()))
	}

	if err := e.orders.UpdateDispatchState(ctx, order); err != nil {
		return nil, err
	}
	return e.outcome(order), nil
}

// resolveUnknown runs the status check for an order in the unknown state.
// resolved=false means the provider has no record and submission is safe.
func (e *Engine) resolveUnknown(ctx context.Context, order *dispatch.Order, driver dispatch.Driver, cfg *dispatch.IntegrationConfig, log *zap.Logger) (bool, *Outcome, error) {
	result := driver.CheckOrderStatus(ctx, cfg, dispatch.OrderRef{
		ExternalOrderID: order.ExternalOrderID,
		OrderUUID:       order.OrderUUID,
	})
	order.RecordAttempt(result.Message)

	if !result.Err.IsZero() {
		// The check itself failed; the order stays unknown and the next
		// attempt checks again.
		if order.Attempts >= e.cfg.MaxAttempts {
			if err := order.MarkFailed(fmt.Sprintf("unresolved after status checks: %s", result.Message)); err != nil {
				return true, nil, err
			}
		}
		if err := e.orders.UpdateDispatchState(ctx, order); err != nil {
			return true, nil, err
		}
		log.Warn("status check failed",
			zap.String("failure", result.Err.String()),
			zap.Int("attempts", order.Attempts))
		return true, e.outcome(order), nil
	}

	if !result.Found {
		log.Info("earlier submission not found upstream, resubmitting")
		return false, nil, nil
	}

	switch result.ExternalStatus {
	case dispatch.StatusSent:
		if err := order.MarkSent(pickExternalID(order.ExternalOrderID, result.ExternalOrderID)); err != nil {
			return true, nil, err
		}
	case dispatch.StatusDelivered:
		if order.ExternalOrderID == "" {
			order.ExternalOrderID = result.ExternalOrderID
		}
		if err := order.MarkDelivered(); err != nil {
			return true, nil, err
		}
	case dispatch.StatusFailed:
		if err := order.MarkFailed(result.Message); err != nil {
			return true, nil, err
		}
	}

	if err := e.orders.UpdateDispatchState(ctx, order); err != nil {
		return true, nil, err
	}
	log.Info("ambiguous order resolved by status check",
		zap.String("status", order.ExternalStatus.String()))
	return true, e.outcome(order), nil
}

// freezeFinancials snapshots the fx rate and amounts in effect right now.
// A concurrent freeze losing the compare-and-set is not an error: the first
// snapshot wins and this order reloads it.
func (e *Engine) freezeFinancials(ctx context.Context, order *dispatch.Order, route *dispatch.PackageRoute) error {
	rate, err := e.rates.Rate(ctx, order.TenantID, route.IntegrationID)
	if err != nil {
		return err
	}

	cost := route.CostPrice.Mul(decimal.NewFromInt(int64(order.Quantity))).Mul(rate)
	if err := order.FreezeFinancials(rate, cost, order.SellAmount); err != nil {
		return err
	}

	if err := e.orders.LockFinancials(ctx, order); err != nil {
		if errors.Is(err, dispatch.ErrFxAlreadyLocked) {
			fresh, findErr := e.orders.FindByID(ctx, order.ID)
			if findErr != nil {
				return findErr
			}
			*order = *fresh
			return nil
		}
		return err
	}
	return nil
}

// safeSubmit shields the engine from adapter panics; a panic is classified
// as a transient fetch failure so the retry policy applies.
func (e *Engine) safeSubmit(ctx context.Context, driver dispatch.Driver, cfg *dispatch.IntegrationConfig, req dispatch.SubmitRequest) (result dispatch.SubmitResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("adapter panic during submit",
				zap.String("order_uuid", req.OrderUUID),
				zap.Any("panic", r))
			result = dispatch.SubmitResult{
				Err:     dispatch.FailureFetch,
				Message: fmt.Sprintf("adapter panic: %v", r),
			}
		}
	}()
	return driver.SubmitOrder(ctx, cfg, req)
}

// failOrder terminally fails an order for a pre-call reason (no route, no
// adapter). No attempt is consumed: no external call was made.
func (e *Engine) failOrder(ctx context.Context, order *dispatch.Order, message string) (*Outcome, error) {
	if err := order.MarkFailed(message); err != nil {
		return nil, err
	}
	if err := e.orders.UpdateDispatchState(ctx, order); err != nil {
		return nil, err
	}
	return e.outcome(order), nil
}

// holdOrder records a config problem without consuming an attempt or moving
// the state machine. The outcome is not retryable by the scheduler; the
// order dispatches normally once an admin repairs the config.
func (e *Engine) holdOrder(ctx context.Context, order *dispatch.Order, message string) (*Outcome, error) {
	order.SetMessage(message)
	if err := e.orders.UpdateDispatchState(ctx, order); err != nil {
		return nil, err
	}
	out := e.outcome(order)
	out.Retryable = false
	out.RetryAfter = 0
	return out, nil
}

// settledOutcome returns a final outcome for orders that need no attempt
func (e *Engine) settledOutcome(order *dispatch.Order) *Outcome {
	if order.ExternalStatus == dispatch.StatusSent || order.ExternalStatus.IsFinal() {
		return &Outcome{
			OrderID:  order.ID,
			Status:   order.ExternalStatus,
			Attempts: order.Attempts,
			Message:  order.LastMessage,
		}
	}
	return nil
}

// outcome builds the scheduler-facing outcome for the order's current state
func (e *Engine) outcome(order *dispatch.Order) *Outcome {
	out := &Outcome{
		OrderID:  order.ID,
		Status:   order.ExternalStatus,
		Attempts: order.Attempts,
		Message:  order.LastMessage,
	}
	if order.ExternalStatus == dispatch.StatusNotSent || order.ExternalStatus == dispatch.StatusUnknown {
		out.Retryable = order.Attempts < e.cfg.MaxAttempts
		out.RetryAfter = e.backoff(order.Attempts)
	}
	return out
}

// backoff returns the capped exponential delay before the next attempt
func (e *Engine) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := e.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= e.cfg.MaxBackoff {
			return e.cfg.MaxBackoff
		}
	}
	if delay > e.cfg.MaxBackoff {
		delay = e.cfg.MaxBackoff
	}
	return delay
}

func pickExternalID(current, reported string) string {
	if current != "" {
		return current
	}
	return reported
}
