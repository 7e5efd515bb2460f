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

// GormSnapshotRepository implements SnapshotRepository using GORM. Snapshots
// are one row per integration, overwritten on every sync run.
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository creates a new GormSnapshotRepository
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	return &GormSnapshotRepository{db: db}
}

// SaveBalance overwrites the balance snapshot for an integration
func (r *GormSnapshotRepository) SaveBalance(ctx context.Context, snap *dispatch.BalanceSnapshot) error {
	model := &models.BalanceSnapshotModel{}
	model.FromDomain(snap)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "integration_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// GetBalance returns the balance snapshot for an integration, nil when no
// sync has run yet
func (r *GormSnapshotRepository) GetBalance(ctx context.Context, integrationID uuid.UUID) (*dispatch.BalanceSnapshot, error) {
	var model models.BalanceSnapshotModel
	if err := r.db.WithContext(ctx).First(&model, "integration_id = ?", integrationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// SaveCatalog overwrites the catalog snapshot for an integration
func (r *GormSnapshotRepository) SaveCatalog(ctx context.Context, snap *dispatch.CatalogSnapshot) error {
	model := &models.CatalogSnapshotModel{}
	model.FromDomain(snap)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "integration_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// GetCatalog returns the catalog snapshot for an integration, nil when no
// sync has run yet
func (r *GormSnapshotRepository) GetCatalog(ctx context.Context, integrationID uuid.UUID) (*dispatch.CatalogSnapshot, error) {
	var model models.CatalogSnapshotModel
	if err := r.db.WithContext(ctx).First(&model, "integration_id = ?", integrationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Ensure GormSnapshotRepository implements SnapshotRepository
var _ dispatch.SnapshotRepository = (*GormSnapshotRepository)(nil)
