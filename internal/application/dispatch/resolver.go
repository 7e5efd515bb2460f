package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/resale/backend/internal/domain/dispatch"
)

// Resolver resolves the active route for a (tenant, package) pair. It is a
// pure lookup with no caching: operators may repoint a package between
// attempts of the same order, and every attempt must honor the current route.
type Resolver struct {
	routes dispatch.PackageRouteRepository
}

// NewResolver creates a new Resolver
func NewResolver(routes dispatch.PackageRouteRepository) *Resolver {
	return &Resolver{routes: routes}
}

// Resolve returns the single active route for the pair, or ErrNotRouted
func (r *Resolver) Resolve(ctx context.Context, tenantID, packageID uuid.UUID) (*dispatch.PackageRoute, error) {
	return r.routes.FindActive(ctx, tenantID, packageID)
}

// UpsertRoute creates the route or replaces the existing route for the same
// (tenant, package) pair
func (r *Resolver) UpsertRoute(ctx context.Context, route *dispatch.PackageRoute) error {
	if err := route.Validate(); err != nil {
		return err
	}
	return r.routes.Save(ctx, route)
}

// ListRoutes returns all routes for a tenant
func (r *Resolver) ListRoutes(ctx context.Context, tenantID uuid.UUID) ([]dispatch.PackageRoute, error) {
	return r.routes.FindByTenant(ctx, tenantID)
}

// DeleteRoute removes a route
func (r *Resolver) DeleteRoute(ctx context.Context, tenantID, packageID uuid.UUID) error {
	return r.routes.Delete(ctx, tenantID, packageID)
}
