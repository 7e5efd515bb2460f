package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Provider Errors
// ---------------------------------------------------------------------------

var (
	// ErrProviderNotRegistered indicates no driver exists for a provider kind
	ErrProviderNotRegistered = errors.New("dispatch: provider driver not registered")
	// ErrIntegrationNotFound indicates the integration config does not exist
	ErrIntegrationNotFound = errors.New("dispatch: integration not found")
	// ErrIntegrationDisabled indicates the integration is switched off
	ErrIntegrationDisabled = errors.New("dispatch: integration disabled")
	// ErrCredentialMismatch indicates the credential shape does not match the provider kind
	ErrCredentialMismatch = errors.New("dispatch: credential shape does not match provider kind")
	// ErrInvalidBaseURL indicates the configured base URL cannot be normalized
	ErrInvalidBaseURL = errors.New("dispatch: invalid base URL")
)

// ---------------------------------------------------------------------------
// ProviderKind represents the family of an external top-up provider
// ---------------------------------------------------------------------------

// ProviderKind represents the family of an external top-up provider.
// The set is closed: adding a provider means adding a constant here and a
// driver implementation in the infrastructure layer. Kind resolution happens
// once at registry construction, never by string comparison per call.
type ProviderKind string

const (
	// ProviderKindInternal proxies another tenant's public storefront API
	ProviderKindInternal ProviderKind = "INTERNAL"
	// ProviderKindPanel is a key/secret form-encoded top-up panel API
	ProviderKindPanel ProviderKind = "PANEL"
)

// IsValid returns true if the provider kind is part of the closed set
func (k ProviderKind) IsValid() bool {
	switch k {
	case ProviderKindInternal, ProviderKindPanel:
		return true
	default:
		return false
	}
}

// String returns the string representation of ProviderKind
func (k ProviderKind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// FailureKind classifies adapter failures for the retry policy
// ---------------------------------------------------------------------------

// FailureKind is a short machine-readable failure classification returned by
// adapters inside result objects. An empty FailureKind means success.
type FailureKind string

const (
	// FailureNone means the call succeeded
	FailureNone FailureKind = ""
	// FailureConfig means the integration config was rejected before any network call
	FailureConfig FailureKind = "CONFIG_INVALID"
	// FailureFetch means the network call could not complete (connect/read error)
	FailureFetch FailureKind = "FETCH_FAILED"
	// FailureTimeout means the call exceeded its deadline; for submissions the
	// external side effect may or may not have occurred
	FailureTimeout FailureKind = "TIMEOUT"
	// FailureParse means the payload matched no known shape
	FailureParse FailureKind = "BALANCE_PARSE_FAIL"
	// FailureRejected means the provider explicitly declined the request
	FailureRejected FailureKind = "REJECTED"
)

// RemoteFailure builds a FailureKind for an error envelope or HTTP status
// embedded in the provider response, e.g. REMOTE_500.
func RemoteFailure(code int) FailureKind {
	return FailureKind(fmt.Sprintf("REMOTE_%d", code))
}

// IsZero returns true if the kind represents success
func (f FailureKind) IsZero() bool {
	return f == FailureNone
}

// IsTransient returns true if the failure is worth retrying: timeouts,
// network errors and remote 5xx. Rejections and config errors are not.
func (f FailureKind) IsTransient() bool {
	switch f {
	case FailureFetch, FailureTimeout:
		return true
	case FailureNone, FailureConfig, FailureRejected, FailureParse:
		return false
	}
	if code, ok := f.remoteCode(); ok {
		return code >= 500
	}
	return false
}

// IsAmbiguous returns true if the external side effect may have occurred
// even though the call failed. Ambiguous submission failures must be
// resolved by a status check, never by a blind resubmit.
func (f FailureKind) IsAmbiguous() bool {
	return f == FailureTimeout
}

func (f FailureKind) remoteCode() (int, bool) {
	s := string(f)
	if !strings.HasPrefix(s, "REMOTE_") {
		return 0, false
	}
	var code int
	if _, err := fmt.Sscanf(s, "REMOTE_%d", &code); err != nil {
		return 0, false
	}
	return code, true
}

// String returns the string representation of FailureKind
func (f FailureKind) String() string {
	return string(f)
}

// ---------------------------------------------------------------------------
// Result objects
// ---------------------------------------------------------------------------

// BalanceResult is the outcome of a balance check. A zero balance with an
// empty Err is a real zero; a fetch failure always carries a non-empty Err
// so callers never persist or display a false zero.
type BalanceResult struct {
	// Balance is the provider account balance (meaningless when Err is set)
	Balance decimal.Decimal
	// Currency is the balance currency code when the provider reports one
	Currency string
	// Err classifies the failure, empty on success
	Err FailureKind
	// Message is a bounded human-readable diagnostic, never secrets
	Message string
}

// OK returns true if the balance was actually determined
func (r BalanceResult) OK() bool {
	return r.Err.IsZero()
}

// CatalogProduct is the normalized shape of one provider catalog entry
type CatalogProduct struct {
	// ExternalID is the product identifier on the provider
	ExternalID string
	// Name is the display name
	Name string
	// Category groups products on the provider side
	Category string
	// Price is the provider cost price per unit
	Price decimal.Decimal
	// Currency is the price currency
	Currency string
	// Available indicates the product can currently be ordered
	Available bool
}

// CatalogResult is the outcome of a catalog listing. On failure Products is
// empty and Err is set; consumers of catalog data cannot distinguish "no
// products" from "fetch failed" without checking the snapshot error field,
// which is the documented contract for this best-effort operation.
type CatalogResult struct {
	Products []CatalogProduct
	Err      FailureKind
	Message  string
}

// SubmitRequest carries everything an adapter needs to place one order
type SubmitRequest struct {
	// OrderUUID is the idempotency key forwarded to providers that accept one
	OrderUUID string
	// ExternalPackageID is the package identifier on the provider
	ExternalPackageID string
	// Quantity is the ordered quantity
	Quantity int
	// Params are buyer-supplied input parameters (player id, zone, ...)
	Params map[string]string
}

// SubmitResult is the outcome of an order submission
type SubmitResult struct {
	// Accepted is true when the provider acknowledged the order
	Accepted bool
	// ExternalOrderID is the provider's order identifier, empty until accepted
	ExternalOrderID string
	// ExternalStatus is the normalized provider-side order status
	ExternalStatus ExternalStatus
	// Err classifies the failure, empty on acceptance
	Err FailureKind
	// Message is a bounded diagnostic for operators
	Message string
}

// OrderRef identifies an order on the provider for status checks. External
// order id wins when known; the client order UUID covers the ambiguous case
// where a submission timed out before an id was returned.
type OrderRef struct {
	ExternalOrderID string
	OrderUUID       string
}

// StatusResult is the outcome of an order status check
type StatusResult struct {
	// Found is false when the provider has no record of the order
	Found bool
	// ExternalOrderID echoes the provider order id when the lookup ran by UUID
	ExternalOrderID string
	// ExternalStatus is the normalized provider-side status
	ExternalStatus ExternalStatus
	// Err classifies the failure, empty when the check itself succeeded
	Err FailureKind
	// Message is a bounded diagnostic
	Message string
}

// ---------------------------------------------------------------------------
// Driver Port Interface
// ---------------------------------------------------------------------------

// Driver defines the port interface every external provider adapter
// implements. Adapters never return Go errors across this boundary for
// expected failure modes; they return result objects carrying a FailureKind
// so the engine applies one uniform retry policy regardless of provider.
//
// The per-tenant IntegrationConfig is passed into every call. Adapters hold
// no per-tenant mutable state and are safe for concurrent use.
type Driver interface {
	// Kind returns the provider kind this driver handles
	Kind() ProviderKind

	// GetBalance fetches the provider account balance
	GetBalance(ctx context.Context, cfg *IntegrationConfig) BalanceResult

	// ListProducts fetches the provider catalog; best-effort, empty on failure
	ListProducts(ctx context.Context, cfg *IntegrationConfig) CatalogResult

	// SubmitOrder places one order on the provider
	SubmitOrder(ctx context.Context, cfg *IntegrationConfig, req SubmitRequest) SubmitResult

	// CheckOrderStatus queries the provider-side status of one order
	CheckOrderStatus(ctx context.Context, cfg *IntegrationConfig, ref OrderRef) StatusResult
}

// DriverRegistry resolves the driver for a provider kind. The mapping is
// fixed at construction time.
type DriverRegistry interface {
	// Get returns the driver for the given kind
	Get(kind ProviderKind) (Driver, error)

	// List returns all registered drivers
	List() []Driver
}
