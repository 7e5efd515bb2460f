package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxLastMessage bounds the stored provider message for operator diagnosis
const maxLastMessage = 500

// ---------------------------------------------------------------------------
// Order Errors
// ---------------------------------------------------------------------------

var (
	// ErrOrderNotFound indicates the order does not exist
	ErrOrderNotFound = errors.New("dispatch: order not found")
	// ErrOrderInvalidTransition indicates an illegal state machine transition
	ErrOrderInvalidTransition = errors.New("dispatch: invalid order status transition")
	// ErrDuplicateOrderUUID indicates the (tenant, requester, order_uuid)
	// triple already exists; the caller must reuse the existing order
	ErrDuplicateOrderUUID = errors.New("dispatch: duplicate order UUID")
	// ErrFxAlreadyLocked indicates the financial snapshot is frozen and must
	// not be overwritten
	ErrFxAlreadyLocked = errors.New("dispatch: financial snapshot already locked")
	// ErrDispatchInFlight indicates another dispatch attempt holds the
	// per-order lock
	ErrDispatchInFlight = errors.New("dispatch: dispatch attempt already in flight")
)

// ---------------------------------------------------------------------------
// ExternalStatus represents the provider-side status of an order
// ---------------------------------------------------------------------------

// ExternalStatus represents the provider-side status of an order
type ExternalStatus string

const (
	// StatusNotSent means no external call has succeeded yet
	StatusNotSent ExternalStatus = "not_sent"
	// StatusSent means the provider accepted the order
	StatusSent ExternalStatus = "sent"
	// StatusDelivered means the provider completed delivery
	StatusDelivered ExternalStatus = "delivered"
	// StatusFailed means dispatch failed terminally
	StatusFailed ExternalStatus = "failed"
	// StatusUnknown means a submission or status check was ambiguous; the
	// order must be resolved by a follow-up status check, never a blind retry
	StatusUnknown ExternalStatus = "unknown"
)

// IsValid returns true if the status is part of the state machine
func (s ExternalStatus) IsValid() bool {
	switch s {
	case StatusNotSent, StatusSent, StatusDelivered, StatusFailed, StatusUnknown:
		return true
	default:
		return false
	}
}

// IsFinal returns true for terminal states
func (s ExternalStatus) IsFinal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// String returns the string representation of ExternalStatus
func (s ExternalStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Order Entity
// ---------------------------------------------------------------------------

// Order is the dispatch record for one approved order. Only the dispatch
// engine mutates the external-status fields, and orders are never deleted:
// the attempt counter and last provider message form the audit trail.
type Order struct {
	// ID is the unique identifier of this order
	ID uuid.UUID
	// TenantID is the tenant this order belongs to
	TenantID uuid.UUID
	// RequesterID identifies the order's origin (API client, admin, ...)
	RequesterID uuid.UUID
	// OrderUUID is the caller-supplied or generated idempotency key.
	// (TenantID, RequesterID, OrderUUID) is unique when the key is present.
	OrderUUID string
	// PackageID is our internal package id
	PackageID uuid.UUID
	// Quantity is the ordered quantity
	Quantity int
	// Params are buyer-supplied input parameters forwarded to the provider
	Params map[string]string
	// ExternalOrderID is the provider order id, empty until accepted
	ExternalOrderID string
	// ExternalStatus is the current state machine position
	ExternalStatus ExternalStatus
	// Attempts counts external call attempts, incremented regardless of outcome
	Attempts int
	// LastMessage is the latest bounded provider message for operators
	LastMessage string
	// SentAt is when the provider accepted the order
	SentAt *time.Time
	// CompletedAt is when the order reached a terminal state
	CompletedAt *time.Time

	// Financial snapshot, frozen at dispatch approval. Once FxLocked is set
	// no later process may overwrite these fields, even if the live exchange
	// rate changes.
	FxRate       decimal.Decimal
	CostAmount   decimal.Decimal
	SellAmount   decimal.Decimal
	ProfitAmount decimal.Decimal
	FxLocked     bool

	// CreatedAt is when this order entered dispatch
	CreatedAt time.Time
	// UpdatedAt is when this order was last updated
	UpdatedAt time.Time
}

// NewOrder creates a dispatch record for an approved order. An empty
// orderUUID is replaced with a generated one so every order carries an
// idempotency key.
func NewOrder(tenantID, requesterID, packageID uuid.UUID, orderUUID string, quantity int, params map[string]string, sellAmount decimal.Decimal) (*Order, error) {
	if tenantID == uuid.Nil {
		return nil, ErrRouteInvalidTenantID
	}
	if packageID == uuid.Nil {
		return nil, ErrRouteInvalidPackageID
	}
	if quantity <= 0 {
		return nil, errors.New("dispatch: quantity must be positive")
	}
	if orderUUID == "" {
		orderUUID = uuid.NewString()
	}

	now := time.Now()
	return &Order{
		ID:             uuid.New(),
		TenantID:       tenantID,
		RequesterID:    requesterID,
		OrderUUID:      orderUUID,
		PackageID:      packageID,
		Quantity:       quantity,
		Params:         params,
		ExternalStatus: StatusNotSent,
		SellAmount:     sellAmount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// RecordAttempt increments the attempt counter and stores the provider
// message, truncated to a bounded length. Called for every external call
// attempt regardless of outcome.
func (o *Order) RecordAttempt(message string) {
	o.Attempts++
	o.LastMessage = truncateMessage(message)
	o.UpdatedAt = time.Now()
}

// SetMessage stores a diagnostic message without consuming an attempt.
// Used for failures detected before any external call, e.g. config errors.
func (o *Order) SetMessage(message string) {
	o.LastMessage = truncateMessage(message)
	o.UpdatedAt = time.Now()
}

// MarkSent records provider acceptance. Valid from not_sent and from
// unknown (when a status check discovers the earlier submission landed).
func (o *Order) MarkSent(externalOrderID string) error {
	if o.ExternalStatus != StatusNotSent && o.ExternalStatus != StatusUnknown {
		return ErrOrderInvalidTransition
	}
	now := time.Now()
	o.ExternalOrderID = externalOrderID
	o.ExternalStatus = StatusSent
	o.SentAt = &now
	o.UpdatedAt = now
	return nil
}

// MarkDelivered records provider delivery. Valid from sent and unknown.
func (o *Order) MarkDelivered() error {
	if o.ExternalStatus != StatusSent && o.ExternalStatus != StatusUnknown {
		return ErrOrderInvalidTransition
	}
	now := time.Now()
	if o.SentAt == nil {
		o.SentAt = &now
	}
	o.ExternalStatus = StatusDelivered
	o.CompletedAt = &now
	o.UpdatedAt = now
	return nil
}

// MarkFailed records a terminal failure: provider rejection from sent, or a
// pre-call failure (no route, no adapter, validation) from not_sent.
func (o *Order) MarkFailed(message string) error {
	if o.ExternalStatus == StatusDelivered || o.ExternalStatus == StatusFailed {
		return ErrOrderInvalidTransition
	}
	now := time.Now()
	o.ExternalStatus = StatusFailed
	o.LastMessage = truncateMessage(message)
	o.CompletedAt = &now
	o.UpdatedAt = now
	return nil
}

// MarkUnknown records an ambiguous outcome: a submission timeout where the
// external side effect may have occurred, or an unrecognized status shape.
func (o *Order) MarkUnknown(message string) error {
	if o.ExternalStatus.IsFinal() {
		return ErrOrderInvalidTransition
	}
	o.ExternalStatus = StatusUnknown
	o.LastMessage = truncateMessage(message)
	o.UpdatedAt = time.Now()
	return nil
}

// FreezeFinancials captures the exchange rate and resulting amounts in
// effect at dispatch approval. Once locked the snapshot is immutable; the
// persistence layer additionally refuses to overwrite locked columns.
func (o *Order) FreezeFinancials(rate, cost, sell decimal.Decimal) error {
	if o.FxLocked {
		return ErrFxAlreadyLocked
	}
	o.FxRate = rate
	o.CostAmount = cost
	o.SellAmount = sell
	o.ProfitAmount = sell.Sub(cost)
	o.FxLocked = true
	o.UpdatedAt = time.Now()
	return nil
}

// CanSubmit returns true if a fresh submission attempt is allowed
func (o *Order) CanSubmit() bool {
	return o.ExternalStatus == StatusNotSent
}

// NeedsStatusCheck returns true if the order must be resolved by a status
// check before any resubmission
func (o *Order) NeedsStatusCheck() bool {
	return o.ExternalStatus == StatusUnknown
}

func truncateMessage(s string) string {
	if len(s) <= maxLastMessage {
		return s
	}
	return s[:maxLastMessage]
}

// ---------------------------------------------------------------------------
// OrderRepository Interface
// ---------------------------------------------------------------------------

// OrderRepository defines persistence for dispatch records. Updates of the
// dispatch state never touch the frozen financial columns; freezing is a
// separate compare-and-set so a locked snapshot can never be overwritten.
type OrderRepository interface {
	// Create inserts a new order; ErrDuplicateOrderUUID when the
	// (tenant, requester, order_uuid) triple already exists
	Create(ctx context.Context, order *Order) error

	// FindByID finds an order by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// FindByOrderUUID finds an order by its idempotency key
	FindByOrderUUID(ctx context.Context, tenantID, requesterID uuid.UUID, orderUUID string) (*Order, error)

	// ListByStatus returns up to limit orders in the given external status,
	// oldest first. Used by the delivery poller to sweep sent orders.
	ListByStatus(ctx context.Context, status ExternalStatus, limit int) ([]*Order, error)

	// UpdateDispatchState persists status, attempts, message, external order
	// id and timestamps. Financial columns are untouched.
	UpdateDispatchState(ctx context.Context, order *Order) error

	// LockFinancials persists the frozen snapshot iff fx_locked is still
	// false in storage; returns ErrFxAlreadyLocked otherwise
	LockFinancials(ctx context.Context, order *Order) error
}

// ---------------------------------------------------------------------------
// OrderLocker Interface
// ---------------------------------------------------------------------------

// OrderLocker serializes dispatch attempts per order: a single order never
// has two attempts in flight. Implementations must be safe across processes
// (the production implementation uses a redis SETNX lease).
//
// Acquire hands back an opaque lease token and Release only frees the lock
// when the token still matches. A worker that overruns the TTL loses its
// lease; its late Release must not delete a lock another worker has since
// acquired.
type OrderLocker interface {
	// Acquire takes the per-order lock; acquired is false when already held.
	// On success lease identifies this holder and must be passed to Release.
	Acquire(ctx context.Context, orderID uuid.UUID, ttl time.Duration) (lease string, acquired bool, err error)

	// Release frees the per-order lock iff lease still owns it
	Release(ctx context.Context, orderID uuid.UUID, lease string) error
}
