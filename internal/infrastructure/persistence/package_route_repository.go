package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/resale/backend/internal/domain/dispatch"
	"github.com/resale/backend/internal/infrastructure/persistence/models"
)

// GormPackageRouteRepository implements PackageRouteRepository using GORM
type GormPackageRouteRepository struct {
	db *gorm.DB
}

// NewGormPackageRouteRepository creates a new GormPackageRouteRepository
func NewGormPackageRouteRepository(db *gorm.DB) *GormPackageRouteRepository {
	return &GormPackageRouteRepository{db: db}
}

// FindActive returns the single active route for a (tenant, package) pair
func (r *GormPackageRouteRepository) FindActive(ctx context.Context, tenantID, packageID uuid.UUID) (*dispatch.PackageRoute, error) {
	var model models.PackageRouteModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND package_id = ? AND active = ?", tenantID, packageID, true).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dispatch.ErrNotRouted
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByTenant returns all routes for a tenant
func (r *GormPackageRouteRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]dispatch.PackageRoute, error) {
	var routeModels []models.PackageRouteModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&routeModels).Error; err != nil {
		return nil, err
	}

	routes := make([]dispatch.PackageRoute, len(routeModels))
	for i, model := range routeModels {
		routes[i] = *model.ToDomain()
	}
	return routes, nil
}

// Save creates the route, or replaces the existing route for the same
// (tenant, package) pair. The conflict target is the unique index, so a
// repoint never produces a second row.
func (r *GormPackageRouteRepository) Save(ctx context.Context, route *dispatch.PackageRoute) error {
	if err := route.Validate(); err != nil {
		return err
	}

	model := models.PackageRouteModelFromDomain(route)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "package_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"integration_id", "external_package_id", "cost_price", "active", "updated_at",
			}),
		}).
		Create(model).Error
}

// Delete removes a route
func (r *GormPackageRouteRepository) Delete(ctx context.Context, tenantID, packageID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Delete(&models.PackageRouteModel{}, "tenant_id = ? AND package_id = ?", tenantID, packageID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return dispatch.ErrNotRouted
	}
	return nil
}

// Ensure GormPackageRouteRepository implements PackageRouteRepository
var _ dispatch.PackageRouteRepository = (*GormPackageRouteRepository)(nil)
