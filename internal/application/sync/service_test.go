package sync

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/resale/backend/internal/domain/dispatch"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeIntegrationRepo struct {
	configs []dispatch.IntegrationConfig
}

func (r *fakeIntegrationRepo) FindByID(ctx context.Context, id uuid.UUID) (*dispatch.IntegrationConfig, error) {
	for i := range r.configs {
		if r.configs[i].ID == id {
			return &r.configs[i], nil
		}
	}
	return nil, dispatch.ErrIntegrationNotFound
}

func (r *fakeIntegrationRepo) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]dispatch.IntegrationConfig, error) {
	return r.configs, nil
}

func (r *fakeIntegrationRepo) FindAllEnabled(ctx context.Context) ([]dispatch.IntegrationConfig, error) {
	var out []dispatch.IntegrationConfig
	for _, cfg := range r.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (r *fakeIntegrationRepo) Save(ctx context.Context, cfg *dispatch.IntegrationConfig) error {
	r.configs = append(r.configs, *cfg)
	return nil
}

type fakeSnapshotRepo struct {
	mu       sync.Mutex
	balances map[uuid.UUID]*dispatch.BalanceSnapshot
	catalogs map[uuid.UUID]*dispatch.CatalogSnapshot
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{
		balances: make(map[uuid.UUID]*dispatch.BalanceSnapshot),
		catalogs: make(map[uuid.UUID]*dispatch.CatalogSnapshot),
	}
}

func (r *fakeSnapshotRepo) SaveBalance(ctx context.Context, snap *dispatch.BalanceSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *snap
	r.balances[snap.IntegrationID] = &cp
	return nil
}

func (r *fakeSnapshotRepo) GetBalance(ctx context.Context, integrationID uuid.UUID) (*dispatch.BalanceSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[integrationID], nil
}

func (r *fakeSnapshotRepo) SaveCatalog(ctx context.Context, snap *dispatch.CatalogSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *snap
	r.catalogs[snap.IntegrationID] = &cp
	return nil
}

func (r *fakeSnapshotRepo) GetCatalog(ctx context.Context, integrationID uuid.UUID) (*dispatch.CatalogSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.catalogs[integrationID], nil
}

type scriptedDriver struct {
	kind    dispatch.ProviderKind
	balance func(cfg *dispatch.IntegrationConfig) dispatch.BalanceResult
	catalog func(cfg *dispatch.IntegrationConfig) dispatch.CatalogResult
}

func (d *scriptedDriver) Kind() dispatch.ProviderKind { return d.kind }

func (d *scriptedDriver) GetBalance(ctx context.Context, cfg *dispatch.IntegrationConfig) dispatch.BalanceResult {
	return d.balance(cfg)
}

func (d *scriptedDriver) ListProducts(ctx context.Context, cfg *dispatch.IntegrationConfig) dispatch.CatalogResult {
	return d.catalog(cfg)
}

func (d *scriptedDriver) SubmitOrder(ctx context.Context, cfg *dispatch.IntegrationConfig, req dispatch.SubmitRequest) dispatch.SubmitResult {
	return dispatch.SubmitResult{}
}

func (d *scriptedDriver) CheckOrderStatus(ctx context.Context, cfg *dispatch.IntegrationConfig, ref dispatch.OrderRef) dispatch.StatusResult {
	return dispatch.StatusResult{}
}

type scriptedRegistry struct {
	drivers map[dispatch.ProviderKind]dispatch.Driver
}

func (r *scriptedRegistry) Get(kind dispatch.ProviderKind) (dispatch.Driver, error) {
	d, ok := r.drivers[kind]
	if !ok {
		return nil, dispatch.ErrProviderNotRegistered
	}
	return d, nil
}

func (r *scriptedRegistry) List() []dispatch.Driver {
	var out []dispatch.Driver
	for _, d := range r.drivers {
		out = append(out, d)
	}
	return out
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestService_SyncAllIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	healthy := dispatch.IntegrationConfig{
		ID: uuid.New(), TenantID: uuid.New(), Kind: dispatch.ProviderKindInternal,
		BaseURL: "https://a.example.com", APIToken: "tok", Enabled: true,
	}
	broken := dispatch.IntegrationConfig{
		ID: uuid.New(), TenantID: uuid.New(), Kind: dispatch.ProviderKindPanel,
		BaseURL: "https://b.example.com", ClientID: "k", ClientSecret: "s", Enabled: true,
	}
	disabled := dispatch.IntegrationConfig{
		ID: uuid.New(), TenantID: uuid.New(), Kind: dispatch.ProviderKindInternal,
		BaseURL: "https://c.example.com", APIToken: "tok", Enabled: false,
	}

	registry := &scriptedRegistry{drivers: map[dispatch.ProviderKind]dispatch.Driver{
		dispatch.ProviderKindInternal: &scriptedDriver{
			kind: dispatch.ProviderKindInternal,
			balance: func(cfg *dispatch.IntegrationConfig) dispatch.BalanceResult {
				return dispatch.BalanceResult{Balance: decimal.RequireFromString("42.00"), Currency: "USD"}
			},
			catalog: func(cfg *dispatch.IntegrationConfig) dispatch.CatalogResult {
				return dispatch.CatalogResult{Products: []dispatch.CatalogProduct{{ExternalID: "p-1"}}}
			},
		},
		dispatch.ProviderKindPanel: &scriptedDriver{
			kind: dispatch.ProviderKindPanel,
			balance: func(cfg *dispatch.IntegrationConfig) dispatch.BalanceResult {
				return dispatch.BalanceResult{Err: dispatch.FailureFetch, Message: "connection refused"}
			},
			catalog: func(cfg *dispatch.IntegrationConfig) dispatch.CatalogResult {
				return dispatch.CatalogResult{Err: dispatch.FailureFetch, Message: "connection refused"}
			},
		},
	}}

	snapshots := newFakeSnapshotRepo()
	svc := NewService(&fakeIntegrationRepo{configs: []dispatch.IntegrationConfig{healthy, broken, disabled}},
		registry, snapshots, zap.NewNop())

	res, err := svc.SyncAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Total, "disabled integrations are skipped")
	assert.Equal(t, 1, res.Balances)
	assert.Equal(t, 1, res.Catalogs)
	assert.Equal(t, 1, res.Failed)

	t.Run("healthy snapshot carries the balance", func(t *testing.T) {
		snap, err := svc.GetBalanceSnapshot(ctx, healthy.ID)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.True(t, snap.OK())
		assert.True(t, snap.Balance.Equal(decimal.RequireFromString("42.00")))
	})

	t.Run("failed snapshot is never a false zero", func(t *testing.T) {
		snap, err := svc.GetBalanceSnapshot(ctx, broken.ID)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.False(t, snap.OK())
		assert.Equal(t, dispatch.FailureFetch, snap.Err)
		assert.Equal(t, "connection refused", snap.Message)
	})

	t.Run("failed catalog keeps the empty list distinguishable", func(t *testing.T) {
		snap, err := svc.GetCatalogSnapshot(ctx, broken.ID)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Empty(t, snap.Products)
		assert.False(t, snap.OK())
	})

	t.Run("disabled integration has no snapshot", func(t *testing.T) {
		snap, err := svc.GetBalanceSnapshot(ctx, disabled.ID)
		require.NoError(t, err)
		assert.Nil(t, snap)
	})
}

func TestService_SyncIntegrationWithoutDriver(t *testing.T) {
	ctx := context.Background()
	cfg := dispatch.IntegrationConfig{
		ID: uuid.New(), TenantID: uuid.New(), Kind: dispatch.ProviderKind("FTP"),
		BaseURL: "https://x.example.com", Enabled: true,
	}

	snapshots := newFakeSnapshotRepo()
	svc := NewService(&fakeIntegrationRepo{}, &scriptedRegistry{drivers: map[dispatch.ProviderKind]dispatch.Driver{}},
		snapshots, zap.NewNop())

	balanceOK, catalogOK := svc.SyncIntegration(ctx, &cfg)
	assert.False(t, balanceOK)
	assert.False(t, catalogOK)

	snap, err := svc.GetBalanceSnapshot(ctx, cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, dispatch.FailureConfig, snap.Err)
}

func TestService_SnapshotOverwrittenEachRun(t *testing.T) {
	ctx := context.Background()
	cfg := dispatch.IntegrationConfig{
		ID: uuid.New(), TenantID: uuid.New(), Kind: dispatch.ProviderKindInternal,
		BaseURL: "https://a.example.com", APIToken: "tok", Enabled: true,
	}

	fail := true
	driver := &scriptedDriver{
		kind: dispatch.ProviderKindInternal,
		balance: func(*dispatch.IntegrationConfig) dispatch.BalanceResult {
			if fail {
				return dispatch.BalanceResult{Err: dispatch.RemoteFailure(500), Message: "maintenance"}
			}
			return dispatch.BalanceResult{Balance: decimal.RequireFromString("10.00"), Currency: "USD"}
		},
		catalog: func(*dispatch.IntegrationConfig) dispatch.CatalogResult {
			return dispatch.CatalogResult{}
		},
	}

	snapshots := newFakeSnapshotRepo()
	svc := NewService(&fakeIntegrationRepo{}, &scriptedRegistry{drivers: map[dispatch.ProviderKind]dispatch.Driver{
		dispatch.ProviderKindInternal: driver,
	}}, snapshots, zap.NewNop())

	svc.SyncIntegration(ctx, &cfg)
	snap, _ := svc.GetBalanceSnapshot(ctx, cfg.ID)
	require.NotNil(t, snap)
	assert.False(t, snap.OK())

	fail = false
	svc.SyncIntegration(ctx, &cfg)
	snap, _ = svc.GetBalanceSnapshot(ctx, cfg.ID)
	require.NotNil(t, snap)
	assert.True(t, snap.OK())
	assert.True(t, snap.Balance.Equal(decimal.RequireFromString("10.00")))
}
