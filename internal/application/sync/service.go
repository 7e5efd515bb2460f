package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resale/backend/internal/domain/dispatch"
)

// Service refreshes per-integration balance and catalog snapshots. Every
// fetch is best-effort and isolated: one provider being down never blocks
// the others, and a failed fetch overwrites the snapshot with its failure
// classification instead of a misleading zero or empty catalog.
type Service struct {
	integrations dispatch.IntegrationConfigRepository
	registry     dispatch.DriverRegistry
	snapshots    dispatch.SnapshotRepository
	logger       *zap.Logger
}

// NewService creates a new sync service
func NewService(
	integrations dispatch.IntegrationConfigRepository,
	registry dispatch.DriverRegistry,
	snapshots dispatch.SnapshotRepository,
	logger *zap.Logger,
) *Service {
	return &Service{
		integrations: integrations,
		registry:     registry,
		snapshots:    snapshots,
		logger:       logger,
	}
}

// Result summarizes one sync sweep for logging and operator visibility
type Result struct {
	Total    int
	Balances int
	Catalogs int
	Failed   int
}

// SyncAll refreshes snapshots for every enabled integration
func (s *Service) SyncAll(ctx context.Context) (Result, error) {
	configs, err := s.integrations.FindAllEnabled(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	res.Total = len(configs)
	for i := range configs {
		cfg := configs[i]
		balanceOK, catalogOK := s.SyncIntegration(ctx, &cfg)
		if balanceOK {
			res.Balances++
		}
		if catalogOK {
			res.Catalogs++
		}
		if !balanceOK || !catalogOK {
			res.Failed++
		}
	}

	s.logger.Info("sync sweep finished",
		zap.Int("integrations", res.Total),
		zap.Int("balances_ok", res.Balances),
		zap.Int("catalogs_ok", res.Catalogs),
		zap.Int("failed", res.Failed))
	return res, nil
}

// SyncIntegration refreshes both snapshots for one integration and reports
// whether each fetch succeeded. Snapshot writes themselves are independent;
// a persisted failure snapshot still counts as a completed sync.
func (s *Service) SyncIntegration(ctx context.Context, cfg *dispatch.IntegrationConfig) (balanceOK, catalogOK bool) {
	log := s.logger.With(
		zap.String("integration_id", cfg.ID.String()),
		zap.String("tenant_id", cfg.TenantID.String()),
		zap.String("kind", cfg.Kind.String()))

	driver, err := s.registry.Get(cfg.Kind)
	if err != nil {
		now := time.Now()
		s.saveBalance(ctx, log, &dispatch.BalanceSnapshot{
			IntegrationID: cfg.ID,
			TenantID:      cfg.TenantID,
			Err:           dispatch.FailureConfig,
			Message:       err.Error(),
			FetchedAt:     now,
		})
		s.saveCatalog(ctx, log, &dispatch.CatalogSnapshot{
			IntegrationID: cfg.ID,
			TenantID:      cfg.TenantID,
			Err:           dispatch.FailureConfig,
			Message:       err.Error(),
			FetchedAt:     now,
		})
		log.Warn("no driver for integration kind", zap.Error(err))
		return false, false
	}

	balance := driver.GetBalance(ctx, cfg)
	s.saveBalance(ctx, log, &dispatch.BalanceSnapshot{
		IntegrationID: cfg.ID,
		TenantID:      cfg.TenantID,
		Balance:       balance.Balance,
		Currency:      balance.Currency,
		Err:           balance.Err,
		Message:       balance.Message,
		FetchedAt:     time.Now(),
	})
	if !balance.OK() {
		log.Warn("balance fetch failed",
			zap.String("failure", balance.Err.String()),
			zap.String("message", balance.Message))
	}

	catalog := driver.ListProducts(ctx, cfg)
	s.saveCatalog(ctx, log, &dispatch.CatalogSnapshot{
		IntegrationID: cfg.ID,
		TenantID:      cfg.TenantID,
		Products:      catalog.Products,
		Err:           catalog.Err,
		Message:       catalog.Message,
		FetchedAt:     time.Now(),
	})
	if !catalog.Err.IsZero() {
		log.Warn("catalog fetch failed",
			zap.String("failure", catalog.Err.String()))
	}

	return balance.OK(), catalog.Err.IsZero()
}

// GetBalanceSnapshot returns the last balance snapshot, nil when no sync ran
func (s *Service) GetBalanceSnapshot(ctx context.Context, integrationID uuid.UUID) (*dispatch.BalanceSnapshot, error) {
	return s.snapshots.GetBalance(ctx, integrationID)
}

// GetCatalogSnapshot returns the last catalog snapshot, nil when no sync ran
func (s *Service) GetCatalogSnapshot(ctx context.Context, integrationID uuid.UUID) (*dispatch.CatalogSnapshot, error) {
	return s.snapshots.GetCatalog(ctx, integrationID)
}

func (s *Service) saveBalance(ctx context.Context, log *zap.Logger, snap *dispatch.BalanceSnapshot) {
	if err := s.snapshots.SaveBalance(ctx, snap); err != nil {
		log.Error("failed to persist balance snapshot", zap.Error(err))
	}
}

func (s *Service) saveCatalog(ctx context.Context, log *zap.Logger, snap *dispatch.CatalogSnapshot) {
	if err := s.snapshots.SaveCatalog(ctx, snap); err != nil {
		log.Error("failed to persist catalog snapshot", zap.Error(err))
	}
}
