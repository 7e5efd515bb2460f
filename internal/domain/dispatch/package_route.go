package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// PackageRoute Errors
// ---------------------------------------------------------------------------

var (
	// ErrRouteInvalidTenantID indicates a missing tenant id
	ErrRouteInvalidTenantID = errors.New("dispatch: invalid tenant ID")
	// ErrRouteInvalidPackageID indicates a missing package id
	ErrRouteInvalidPackageID = errors.New("dispatch: invalid package ID")
	// ErrRouteInvalidIntegrationID indicates a missing integration id
	ErrRouteInvalidIntegrationID = errors.New("dispatch: invalid integration ID")
	// ErrRouteInvalidExternalPackageID indicates a missing external package id
	ErrRouteInvalidExternalPackageID = errors.New("dispatch: invalid external package ID")
	// ErrNotRouted indicates no active route exists for a (tenant, package) pair
	ErrNotRouted = errors.New("dispatch: package not routed")
)

// ---------------------------------------------------------------------------
// PackageRoute Entity
// ---------------------------------------------------------------------------

// PackageRoute maps an internal (tenant, package) pair to the external
// (integration, package) pair that fulfills it. Exactly one route exists per
// (tenant, package); saving a second route for the same pair replaces the
// first. Routes are re-read on every dispatch attempt because operators may
// repoint a package between attempts of the same order.
type PackageRoute struct {
	// ID is the unique identifier of this route
	ID uuid.UUID
	// TenantID is the tenant this route belongs to
	TenantID uuid.UUID
	// PackageID is our internal package id
	PackageID uuid.UUID
	// IntegrationID selects the provider integration
	IntegrationID uuid.UUID
	// ExternalPackageID is the package identifier on the provider
	ExternalPackageID string
	// CostPrice is the provider cost per unit, in the provider currency
	CostPrice decimal.Decimal
	// Active indicates the route is currently in use
	Active bool
	// CreatedAt is when this route was created
	CreatedAt time.Time
	// UpdatedAt is when this route was last updated
	UpdatedAt time.Time
}

// NewPackageRoute creates a new package route
func NewPackageRoute(tenantID, packageID, integrationID uuid.UUID, externalPackageID string, costPrice decimal.Decimal) (*PackageRoute, error) {
	if tenantID == uuid.Nil {
		return nil, ErrRouteInvalidTenantID
	}
	if packageID == uuid.Nil {
		return nil, ErrRouteInvalidPackageID
	}
	if integrationID == uuid.Nil {
		return nil, ErrRouteInvalidIntegrationID
	}
	if externalPackageID == "" {
		return nil, ErrRouteInvalidExternalPackageID
	}

	now := time.Now()
	return &PackageRoute{
		ID:                uuid.New(),
		TenantID:          tenantID,
		PackageID:         packageID,
		IntegrationID:     integrationID,
		ExternalPackageID: externalPackageID,
		CostPrice:         costPrice,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Validate validates the package route
func (r *PackageRoute) Validate() error {
	if r.TenantID == uuid.Nil {
		return ErrRouteInvalidTenantID
	}
	if r.PackageID == uuid.Nil {
		return ErrRouteInvalidPackageID
	}
	if r.IntegrationID == uuid.Nil {
		return ErrRouteInvalidIntegrationID
	}
	if r.ExternalPackageID == "" {
		return ErrRouteInvalidExternalPackageID
	}
	return nil
}

// ---------------------------------------------------------------------------
// PackageRouteRepository Interface
// ---------------------------------------------------------------------------

// PackageRouteRepository defines persistence for package routes. The
// uniqueness of (tenant, package) is enforced by the storage layer; Save on
// an already-routed pair replaces the existing route in place.
type PackageRouteRepository interface {
	// FindActive returns the single active route for a (tenant, package)
	// pair, or ErrNotRouted
	FindActive(ctx context.Context, tenantID, packageID uuid.UUID) (*PackageRoute, error)

	// FindByTenant returns all routes for a tenant
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]PackageRoute, error)

	// Save creates the route, or replaces the existing route for the same
	// (tenant, package) pair
	Save(ctx context.Context, route *PackageRoute) error

	// Delete removes a route
	Delete(ctx context.Context, tenantID, packageID uuid.UUID) error
}
