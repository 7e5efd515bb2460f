package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/resale/backend/internal/domain/dispatch"
	"github.com/resale/backend/internal/infrastructure/persistence/models"
)

// GormIntegrationConfigRepository implements IntegrationConfigRepository using GORM
type GormIntegrationConfigRepository struct {
	db *gorm.DB
}

// NewGormIntegrationConfigRepository creates a new GormIntegrationConfigRepository
func NewGormIntegrationConfigRepository(db *gorm.DB) *GormIntegrationConfigRepository {
	return &GormIntegrationConfigRepository{db: db}
}

// FindByID finds an integration by its ID
func (r *GormIntegrationConfigRepository) FindByID(ctx context.Context, id uuid.UUID) (*dispatch.IntegrationConfig, error) {
	var model models.IntegrationConfigModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dispatch.ErrIntegrationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByTenant returns all integrations for a tenant
func (r *GormIntegrationConfigRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]dispatch.IntegrationConfig, error) {
	var configModels []models.IntegrationConfigModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&configModels).Error; err != nil {
		return nil, err
	}

	configs := make([]dispatch.IntegrationConfig, len(configModels))
	for i, model := range configModels {
		configs[i] = *model.ToDomain()
	}
	return configs, nil
}

// FindAllEnabled returns every enabled integration across tenants
func (r *GormIntegrationConfigRepository) FindAllEnabled(ctx context.Context) ([]dispatch.IntegrationConfig, error) {
	var configModels []models.IntegrationConfigModel
	if err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("created_at ASC").
		Find(&configModels).Error; err != nil {
		return nil, err
	}

	configs := make([]dispatch.IntegrationConfig, len(configModels))
	for i, model := range configModels {
		configs[i] = *model.ToDomain()
	}
	return configs, nil
}

// Save creates or updates an integration
func (r *GormIntegrationConfigRepository) Save(ctx context.Context, cfg *dispatch.IntegrationConfig) error {
	model := models.IntegrationConfigModelFromDomain(cfg)
	return r.db.WithContext(ctx).Save(model).Error
}

// Ensure GormIntegrationConfigRepository implements IntegrationConfigRepository
var _ dispatch.IntegrationConfigRepository = (*GormIntegrationConfigRepository)(nil)
