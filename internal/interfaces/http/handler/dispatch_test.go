package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	appdispatch "github.com/resale/backend/internal/application/dispatch"
	"github.com/resale/backend/internal/domain/dispatch"
	"github.com/resale/backend/internal/infrastructure/scheduler"
	"github.com/resale/backend/internal/interfaces/http/dto"
)

// MockOrderService implements OrderService for testing
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Accept(ctx context.Context, cmd appdispatch.AcceptCommand) (*dispatch.Order, bool, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*dispatch.Order), args.Bool(1), args.Error(2)
}

func (m *MockOrderService) GetOrder(ctx context.Context, id uuid.UUID) (*dispatch.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.Order), args.Error(1)
}

// MockRouteService implements RouteService for testing
type MockRouteService struct {
	mock.Mock
}

func (m *MockRouteService) UpsertRoute(ctx context.Context, route *dispatch.PackageRoute) error {
	args := m.Called(ctx, route)
	return args.Error(0)
}

func (m *MockRouteService) ListRoutes(ctx context.Context, tenantID uuid.UUID) ([]dispatch.PackageRoute, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dispatch.PackageRoute), args.Error(1)
}

func (m *MockRouteService) DeleteRoute(ctx context.Context, tenantID, packageID uuid.UUID) error {
	args := m.Called(ctx, tenantID, packageID)
	return args.Error(0)
}

// MockSnapshotService implements SnapshotService for testing
type MockSnapshotService struct {
	mock.Mock
}

func (m *MockSnapshotService) GetBalanceSnapshot(ctx context.Context, integrationID uuid.UUID) (*dispatch.BalanceSnapshot, error) {
	args := m.Called(ctx, integrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.BalanceSnapshot), args.Error(1)
}

func (m *MockSnapshotService) GetCatalogSnapshot(ctx context.Context, integrationID uuid.UUID) (*dispatch.CatalogSnapshot, error) {
	args := m.Called(ctx, integrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.CatalogSnapshot), args.Error(1)
}

// MockDispatchQueue implements DispatchQueue for testing
type MockDispatchQueue struct {
	mock.Mock
}

func (m *MockDispatchQueue) Enqueue(orderID uuid.UUID) error {
	args := m.Called(orderID)
	return args.Error(0)
}

// MockSyncRunner implements SyncRunner for testing
type MockSyncRunner struct {
	mock.Mock
}

func (m *MockSyncRunner) TriggerNow(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type dispatchMocks struct {
	orders    *MockOrderService
	routes    *MockRouteService
	snapshots *MockSnapshotService
	queue     *MockDispatchQueue
	sync      *MockSyncRunner
}

func setupDispatchRouter(t *testing.T) (*gin.Engine, dispatchMocks) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := dispatchMocks{
		orders:    new(MockOrderService),
		routes:    new(MockRouteService),
		snapshots: new(MockSnapshotService),
		queue:     new(MockDispatchQueue),
		sync:      new(MockSyncRunner),
	}

	h := NewDispatchHandler(m.orders, m.routes, m.snapshots, m.queue, m.sync)

	engine := gin.New()
	api := engine.Group("/api/v1")
	h.RegisterRoutes(api)

	return engine, m
}

func testOrder(tenantID, requesterID uuid.UUID) *dispatch.Order {
	order, err := dispatch.NewOrder(tenantID, requesterID, uuid.New(),
		"ord-0001", 1, map[string]string{"account": "player-42"}, decimal.NewFromFloat(19.90))
	if err != nil {
		panic(err)
	}
	return order
}

func TestDispatchHandler_CreateOrder(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	tenantID := uuid.New()
	requesterID := uuid.New()
	order := testOrder(tenantID, requesterID)

	m.orders.On("Accept", mock.Anything, mock.MatchedBy(func(cmd appdispatch.AcceptCommand) bool {
		return cmd.TenantID == tenantID && cmd.RequesterID == requesterID && cmd.Quantity == 2
	})).Return(order, true, nil)
	m.queue.On("Enqueue", order.ID).Return(nil)

	body, _ := json.Marshal(CreateOrderRequest{
		OrderUUID:  "ord-0001",
		PackageID:  order.PackageID.String(),
		Quantity:   2,
		SellAmount: 19.90,
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/dispatch/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID.String())
	req.Header.Set("X-Requester-ID", requesterID.String())
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	m.orders.AssertExpectations(t)
	m.queue.AssertExpectations(t)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, order.ID.String(), data["id"])
	assert.Equal(t, "not_sent", data["external_status"])
}

func TestDispatchHandler_CreateOrder_Duplicate(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	tenantID := uuid.New()
	requesterID := uuid.New()
	order := testOrder(tenantID, requesterID)

	m.orders.On("Accept", mock.Anything, mock.Anything).Return(order, false, nil)

	body, _ := json.Marshal(CreateOrderRequest{
		OrderUUID:  order.OrderUUID,
		PackageID:  order.PackageID.String(),
		Quantity:   1,
		SellAmount: 19.90,
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/dispatch/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID.String())
	req.Header.Set("X-Requester-ID", requesterID.String())
	engine.ServeHTTP(w, req)

	// A replay returns the existing record and never queues a second attempt
	assert.Equal(t, http.StatusOK, w.Code)
	m.queue.AssertNotCalled(t, "Enqueue", mock.Anything)
}

func TestDispatchHandler_CreateOrder_MissingRequester(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	body, _ := json.Marshal(CreateOrderRequest{
		PackageID: uuid.NewString(),
		Quantity:  1,
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/dispatch/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	m.orders.AssertNotCalled(t, "Accept", mock.Anything, mock.Anything)
}

func TestDispatchHandler_CreateOrder_InvalidBody(t *testing.T) {
	engine, _ := setupDispatchRouter(t)

	body, _ := json.Marshal(map[string]interface{}{
		"package_id": "not-a-uuid",
		"quantity":   0,
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/dispatch/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requester-ID", uuid.NewString())
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDispatchHandler_GetOrder(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	order := testOrder(uuid.New(), uuid.New())
	m.orders.On("GetOrder", mock.Anything, order.ID).Return(order, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/dispatch/orders/"+order.ID.String(), nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, order.OrderUUID, data["order_uuid"])
}

func TestDispatchHandler_GetOrder_NotFound(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	orderID := uuid.New()
	m.orders.On("GetOrder", mock.Anything, orderID).Return(nil, dispatch.ErrOrderNotFound)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/dispatch/orders/"+orderID.String(), nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
}

func TestDispatchHandler_GetOrder_InvalidID(t *testing.T) {
	engine, _ := setupDispatchRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/dispatch/orders/not-a-uuid", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDispatchHandler_DispatchOrder(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	order := testOrder(uuid.New(), uuid.New())
	m.orders.On("GetOrder", mock.Anything, order.ID).Return(order, nil)
	m.queue.On("Enqueue", order.ID).Return(nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/dispatch/orders/"+order.ID.String()+"/dispatch", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	m.queue.AssertExpectations(t)
}

func TestDispatchHandler_DispatchOrder_QueueFull(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	order := testOrder(uuid.New(), uuid.New())
	m.orders.On("GetOrder", mock.Anything, order.ID).Return(order, nil)
	m.queue.On("Enqueue", order.ID).Return(scheduler.ErrJobQueueFull)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/dispatch/orders/"+order.ID.String()+"/dispatch", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeQueueFull, resp.Error.Code)
}

func TestDispatchHandler_UpsertRoute(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	tenantID := uuid.New()
	packageID := uuid.New()
	integrationID := uuid.New()

	m.routes.On("UpsertRoute", mock.Anything, mock.MatchedBy(func(r *dispatch.PackageRoute) bool {
		return r.TenantID == tenantID && r.PackageID == packageID &&
			r.IntegrationID == integrationID && r.ExternalPackageID == "pkg-100-gems"
	})).Return(nil)

	body, _ := json.Marshal(UpsertRouteRequest{
		PackageID:         packageID.String(),
		IntegrationID:     integrationID.String(),
		ExternalPackageID: "pkg-100-gems",
		CostPrice:         12.50,
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPut, "/api/v1/dispatch/routes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID.String())
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	m.routes.AssertExpectations(t)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["active"])
	assert.Equal(t, "12.5", data["cost_price"])
}

func TestDispatchHandler_UpsertRoute_Inactive(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	inactive := false
	m.routes.On("UpsertRoute", mock.Anything, mock.MatchedBy(func(r *dispatch.PackageRoute) bool {
		return !r.Active
	})).Return(nil)

	body, _ := json.Marshal(UpsertRouteRequest{
		PackageID:         uuid.NewString(),
		IntegrationID:     uuid.NewString(),
		ExternalPackageID: "pkg-1",
		Active:            &inactive,
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPut, "/api/v1/dispatch/routes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	m.routes.AssertExpectations(t)
}

func TestDispatchHandler_ListRoutes(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	tenantID := uuid.New()
	route, err := dispatch.NewPackageRoute(tenantID, uuid.New(), uuid.New(), "pkg-1", decimal.NewFromInt(10))
	require.NoError(t, err)

	m.routes.On("ListRoutes", mock.Anything, tenantID).Return([]dispatch.PackageRoute{*route}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/dispatch/routes", nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	items := resp.Data.([]interface{})
	require.Len(t, items, 1)
}

func TestDispatchHandler_DeleteRoute(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	tenantID := uuid.New()
	packageID := uuid.New()
	m.routes.On("DeleteRoute", mock.Anything, tenantID, packageID).Return(nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodDelete, "/api/v1/dispatch/routes/"+packageID.String(), nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	m.routes.AssertExpectations(t)
}

func TestDispatchHandler_GetBalance(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	integrationID := uuid.New()
	snap := &dispatch.BalanceSnapshot{
		IntegrationID: integrationID,
		Balance:       decimal.NewFromFloat(250.75),
		Currency:      "USD",
		FetchedAt:     time.Now(),
	}
	m.snapshots.On("GetBalanceSnapshot", mock.Anything, integrationID).Return(snap, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/dispatch/integrations/"+integrationID.String()+"/balance", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "250.75", data["balance"])
	assert.Equal(t, false, data["stale"])
}

func TestDispatchHandler_GetBalance_StaleAfterFailedFetch(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	integrationID := uuid.New()
	snap := &dispatch.BalanceSnapshot{
		IntegrationID: integrationID,
		Balance:       decimal.NewFromFloat(250.75),
		Currency:      "USD",
		Err:           dispatch.FailureTimeout,
		Message:       "context deadline exceeded",
		FetchedAt:     time.Now(),
	}
	m.snapshots.On("GetBalanceSnapshot", mock.Anything, integrationID).Return(snap, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/dispatch/integrations/"+integrationID.String()+"/balance", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	// A failed fetch is reported as stale, never as a zero balance
	assert.Equal(t, true, data["stale"])
	assert.Equal(t, "250.75", data["balance"])
}

func TestDispatchHandler_GetBalance_NoSnapshot(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	integrationID := uuid.New()
	m.snapshots.On("GetBalanceSnapshot", mock.Anything, integrationID).Return(nil, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/dispatch/integrations/"+integrationID.String()+"/balance", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDispatchHandler_GetCatalog(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	integrationID := uuid.New()
	snap := &dispatch.CatalogSnapshot{
		IntegrationID: integrationID,
		Products: []dispatch.CatalogProduct{
			{ExternalID: "pkg-1", Name: "100 Gems", Price: decimal.NewFromInt(10), Currency: "USD", Available: true},
			{ExternalID: "pkg-2", Name: "500 Gems", Price: decimal.NewFromInt(45), Currency: "USD", Available: false},
		},
		FetchedAt: time.Now(),
	}
	m.snapshots.On("GetCatalogSnapshot", mock.Anything, integrationID).Return(snap, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/dispatch/integrations/"+integrationID.String()+"/catalog", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	products := data["products"].([]interface{})
	require.Len(t, products, 2)
	first := products[0].(map[string]interface{})
	assert.Equal(t, "pkg-1", first["external_id"])
	assert.Equal(t, true, first["available"])
}

func TestDispatchHandler_TriggerSync(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	m.sync.On("TriggerNow", mock.Anything).Return(nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/dispatch/sync", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	m.sync.AssertExpectations(t)
}

func TestDispatchHandler_TriggerSync_AlreadyRunning(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	m.sync.On("TriggerNow", mock.Anything).Return(scheduler.ErrSyncAlreadyRunning)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/dispatch/sync", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeSyncRunning, resp.Error.Code)
}

func TestDispatchHandler_UnknownErrorHidesDetails(t *testing.T) {
	engine, m := setupDispatchRouter(t)

	orderID := uuid.New()
	m.orders.On("GetOrder", mock.Anything, orderID).
		Return(nil, errors.New("pq: connection refused host=db-internal"))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/dispatch/orders/"+orderID.String(), nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.ErrCodeInternal, resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "db-internal")
}
