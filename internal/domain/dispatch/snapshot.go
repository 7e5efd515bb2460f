package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Snapshot Value Objects
// ---------------------------------------------------------------------------

// BalanceSnapshot is the last known provider balance for one integration,
// overwritten on each sync run. Err carries the failure classification of
// the last fetch so "balance is actually zero" is never confused with
// "fetch failed".
type BalanceSnapshot struct {
	IntegrationID uuid.UUID
	TenantID      uuid.UUID
	Balance       decimal.Decimal
	Currency      string
	Err           FailureKind
	Message       string
	FetchedAt     time.Time
}

// OK returns true if the last fetch actually determined the balance
func (s *BalanceSnapshot) OK() bool {
	return s.Err.IsZero()
}

// CatalogSnapshot is the last fetched provider catalog for one integration.
// An empty product list with a non-empty Err means the fetch failed; an
// empty list with no Err means the provider genuinely has no products.
type CatalogSnapshot struct {
	IntegrationID uuid.UUID
	TenantID      uuid.UUID
	Products      []CatalogProduct
	Err           FailureKind
	Message       string
	FetchedAt     time.Time
}

// OK returns true if the last fetch succeeded
func (s *CatalogSnapshot) OK() bool {
	return s.Err.IsZero()
}

// ---------------------------------------------------------------------------
// SnapshotRepository Interface
// ---------------------------------------------------------------------------

// SnapshotRepository persists per-integration balance and catalog snapshots.
// Writes are upserts keyed by integration id; reads are consumed by the
// admin surface.
type SnapshotRepository interface {
	// SaveBalance overwrites the balance snapshot for an integration
	SaveBalance(ctx context.Context, snap *BalanceSnapshot) error

	// GetBalance returns the balance snapshot for an integration, nil when
	// no sync has run yet
	GetBalance(ctx context.Context, integrationID uuid.UUID) (*BalanceSnapshot, error)

	// SaveCatalog overwrites the catalog snapshot for an integration
	SaveCatalog(ctx context.Context, snap *CatalogSnapshot) error

	// GetCatalog returns the catalog snapshot for an integration, nil when
	// no sync has run yet
	GetCatalog(ctx context.Context, integrationID uuid.UUID) (*CatalogSnapshot, error)
}
