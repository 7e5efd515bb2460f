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

// GormOrderRepository implements OrderRepository using GORM. Dispatch-state
// updates and financial freezing are deliberately separate statements: the
// state update never lists the fx columns, and the freeze is a compare-and-set
// on fx_locked so a frozen snapshot cannot be overwritten by any code path.
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Create inserts a new order. The insert is idempotent on the
// (tenant_id, requester_id, order_uuid) unique index; a conflicting insert
// reports ErrDuplicateOrderUUID so the caller re-reads the existing order.
func (r *GormOrderRepository) Create(ctx context.Context, order *dispatch.Order) error {
	model := models.OrderModelFromDomain(order)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "requester_id"}, {Name: "order_uuid"}},
			DoNothing: true,
		}).
		Create(model)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return dispatch.ErrDuplicateOrderUUID
	}
	return nil
}

// FindByID finds an order by its ID
func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*dispatch.Order, error) {
	var model models.OrderModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dispatch.ErrOrderNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByOrderUUID finds an order by its idempotency key
func (r *GormOrderRepository) FindByOrderUUID(ctx context.Context, tenantID, requesterID uuid.UUID, orderUUID string) (*dispatch.Order, error) {
	var model models.OrderModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND requester_id = ? AND order_uuid = ?", tenantID, requesterID, orderUUID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dispatch.ErrOrderNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListByStatus returns up to limit orders in the given external status,
// oldest first, so the delivery poller sweeps the longest-waiting orders
func (r *GormOrderRepository) ListByStatus(ctx context.Context, status dispatch.ExternalStatus, limit int) ([]*dispatch.Order, error) {
	var rows []models.OrderModel
	if err := r.db.WithContext(ctx).
		Where("external_status = ?", status.String()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	orders := make([]*dispatch.Order, 0, len(rows))
	for i := range rows {
		orders = append(orders, rows[i].ToDomain())
	}
	return orders, nil
}

// UpdateDispatchState persists the mutable dispatch columns. The fx columns
// are not in the column list and can never be written through this method.
func (r *GormOrderRepository) UpdateDispatchState(ctx context.Context, order *dispatch.Order) error {
	model := models.OrderModelFromDomain(order)
	result := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("id = ?", order.ID).
		Select("external_order_id", "external_status", "attempts", "last_message",
			"sent_at", "completed_at", "updated_at").
		Updates(model)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return dispatch.ErrOrderNotFound
	}
	return nil
}

// LockFinancials persists the frozen financial snapshot iff fx_locked is
// still false in storage. A concurrent or earlier freeze wins and this call
// reports ErrFxAlreadyLocked.
func (r *GormOrderRepository) LockFinancials(ctx context.Context, order *dispatch.Order) error {
	result := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("id = ? AND fx_locked = ?", order.ID, false).
		Updates(map[string]any{
			"fx_rate":       order.FxRate,
			"cost_amount":   order.CostAmount,
			"sell_amount":   order.SellAmount,
			"profit_amount": order.ProfitAmount,
			"fx_locked":     true,
			"updated_at":    order.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&models.OrderModel{}).
			Where("id = ?", order.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return dispatch.ErrOrderNotFound
		}
		return dispatch.ErrFxAlreadyLocked
	}
	return nil
}

// Ensure GormOrderRepository implements OrderRepository
var _ dispatch.OrderRepository = (*GormOrderRepository)(nil)
