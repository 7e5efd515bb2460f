package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/resale/backend/internal/domain/dispatch"
)

// AcceptCommand carries an approved order into the dispatch core. OrderUUID
// is the caller's idempotency key; an empty key gets one generated.
type AcceptCommand struct {
	TenantID    uuid.UUID
	RequesterID uuid.UUID
	OrderUUID   string
	PackageID   uuid.UUID
	Quantity    int
	Params      map[string]string
	SellAmount  decimal.Decimal
}

// Outcome reports the result of one dispatch attempt to the scheduler.
// Retryable outcomes carry the backoff delay before the next attempt.
type Outcome struct {
	OrderID    uuid.UUID
	Status     dispatch.ExternalStatus
	Attempts   int
	Message    string
	Retryable  bool
	RetryAfter time.Duration
}

// Final returns true when no further attempts should run
func (o *Outcome) Final() bool {
	return !o.Retryable
}

// RateSource provides the exchange rate from an integration's provider
// currency into the tenant billing currency, used once per order when the
// financial snapshot is frozen.
type RateSource interface {
	Rate(ctx context.Context, tenantID, integrationID uuid.UUID) (decimal.Decimal, error)
}

// UnitRateSource is a RateSource that always reports a rate of one, for
// deployments where provider and billing currency match.
type UnitRateSource struct{}

// Rate returns decimal one
func (UnitRateSource) Rate(ctx context.Context, tenantID, integrationID uuid.UUID) (decimal.Decimal, error) {
	return decimal.NewFromInt(1), nil
}

var _ RateSource = (*UnitRateSource)(nil)
