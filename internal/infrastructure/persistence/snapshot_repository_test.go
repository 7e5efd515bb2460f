package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/resale/backend/internal/domain/dispatch"
	"github.com/resale/backend/internal/infrastructure/persistence/models"
)

func setupSnapshotRepo(t *testing.T) *GormSnapshotRepository {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.BalanceSnapshotModel{}, &models.CatalogSnapshotModel{}))
	return NewGormSnapshotRepository(db)
}

func TestGormSnapshotRepository_Balance(t *testing.T) {
	repo := setupSnapshotRepo(t)
	ctx := context.Background()
	integrationID := uuid.New()
	tenantID := uuid.New()

	t.Run("nil before first sync", func(t *testing.T) {
		snap, err := repo.GetBalance(ctx, integrationID)
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("save and overwrite", func(t *testing.T) {
		require.NoError(t, repo.SaveBalance(ctx, &dispatch.BalanceSnapshot{
			IntegrationID: integrationID,
			TenantID:      tenantID,
			Balance:       decimal.RequireFromString("57.30"),
			Currency:      "USD",
			FetchedAt:     time.Now(),
		}))

		// A later failed fetch overwrites the row but keeps the failure visible
		require.NoError(t, repo.SaveBalance(ctx, &dispatch.BalanceSnapshot{
			IntegrationID: integrationID,
			TenantID:      tenantID,
			Err:           dispatch.FailureFetch,
			Message:       "connection refused",
			FetchedAt:     time.Now(),
		}))

		snap, err := repo.GetBalance(ctx, integrationID)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.False(t, snap.OK())
		assert.Equal(t, dispatch.FailureFetch, snap.Err)
	})
}

func TestGormSnapshotRepository_Catalog(t *testing.T) {
	repo := setupSnapshotRepo(t)
	ctx := context.Background()
	integrationID := uuid.New()

	t.Run("nil before first sync", func(t *testing.T) {
		snap, err := repo.GetCatalog(ctx, integrationID)
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("round trip with products", func(t *testing.T) {
		require.NoError(t, repo.SaveCatalog(ctx, &dispatch.CatalogSnapshot{
			IntegrationID: integrationID,
			TenantID:      uuid.New(),
			Products: []dispatch.CatalogProduct{
				{ExternalID: "p-1", Name: "100 Gems", Price: decimal.RequireFromString("4.99"), Currency: "USD", Available: true},
			},
			FetchedAt: time.Now(),
		}))

		snap, err := repo.GetCatalog(ctx, integrationID)
		require.NoError(t, err)
		require.NotNil(t, snap)
		require.Len(t, snap.Products, 1)
		assert.Equal(t, "p-1", snap.Products[0].ExternalID)
		assert.True(t, snap.OK())
	})

	t.Run("empty list with error means fetch failed, not empty catalog", func(t *testing.T) {
		require.NoError(t, repo.SaveCatalog(ctx, &dispatch.CatalogSnapshot{
			IntegrationID: integrationID,
			Err:           dispatch.RemoteFailure(503),
			Message:       "unavailable",
			FetchedAt:     time.Now(),
		}))

		snap, err := repo.GetCatalog(ctx, integrationID)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Empty(t, snap.Products)
		assert.False(t, snap.OK())
	})
}
