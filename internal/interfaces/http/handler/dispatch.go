package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appdispatch "github.com/resale/backend/internal/application/dispatch"
	"github.com/resale/backend/internal/domain/dispatch"
)

// OrderService accepts orders and reads dispatch records
type OrderService interface {
	Accept(ctx context.Context, cmd appdispatch.AcceptCommand) (*dispatch.Order, bool, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*dispatch.Order, error)
}

// RouteService manages package routes
type RouteService interface {
	UpsertRoute(ctx context.Context, route *dispatch.PackageRoute) error
	ListRoutes(ctx context.Context, tenantID uuid.UUID) ([]dispatch.PackageRoute, error)
	DeleteRoute(ctx context.Context, tenantID, packageID uuid.UUID) error
}

// SnapshotService reads the last synced balance and catalog per integration
type SnapshotService interface {
	GetBalanceSnapshot(ctx context.Context, integrationID uuid.UUID) (*dispatch.BalanceSnapshot, error)
	GetCatalogSnapshot(ctx context.Context, integrationID uuid.UUID) (*dispatch.CatalogSnapshot, error)
}

// DispatchQueue hands orders to the background dispatch workers
type DispatchQueue interface {
	Enqueue(orderID uuid.UUID) error
}

// SyncRunner triggers an immediate snapshot sync sweep
type SyncRunner interface {
	TriggerNow(ctx context.Context) error
}

// DispatchHandler handles order dispatch API endpoints
type DispatchHandler struct {
	BaseHandler
	orders    OrderService
	routes    RouteService
	snapshots SnapshotService
	queue     DispatchQueue
	sync      SyncRunner
}

// NewDispatchHandler creates a new DispatchHandler
func NewDispatchHandler(
	orders OrderService,
	routes RouteService,
	snapshots SnapshotService,
	queue DispatchQueue,
	sync SyncRunner,
) *DispatchHandler {
	return &DispatchHandler{
		orders:    orders,
		routes:    routes,
		snapshots: snapshots,
		queue:     queue,
		sync:      sync,
	}
}

// RegisterRoutes registers dispatch routes on the API group
func (h *DispatchHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/dispatch")

	orders := group.Group("/orders")
	{
		orders.POST("", h.CreateOrder)
		orders.GET("/:id", h.GetOrder)
		orders.POST("/:id/dispatch", h.DispatchOrder)
	}

	routes := group.Group("/routes")
	{
		routes.PUT("", h.UpsertRoute)
		routes.GET("", h.ListRoutes)
		routes.DELETE("/:packageID", h.DeleteRoute)
	}

	integrations := group.Group("/integrations")
	{
		integrations.GET("/:id/balance", h.GetBalance)
		integrations.GET("/:id/catalog", h.GetCatalog)
	}

	group.POST("/sync", h.TriggerSync)
}

// CreateOrderRequest represents a request to accept an order for dispatch
// @Description Request body for accepting an approved order
type CreateOrderRequest struct {
	OrderUUID  string            `json:"order_uuid" binding:"max=100" example:"ord-2026-0001"`
	PackageID  string            `json:"package_id" binding:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	Quantity   int               `json:"quantity" binding:"required,min=1" example:"1"`
	Params     map[string]string `json:"params" example:"account:player-42"`
	SellAmount float64           `json:"sell_amount" binding:"min=0" example:"19.90"`
}

// OrderResponse represents a dispatch record in API responses
type OrderResponse struct {
	ID              uuid.UUID         `json:"id"`
	TenantID        uuid.UUID         `json:"tenant_id"`
	RequesterID     uuid.UUID         `json:"requester_id"`
	OrderUUID       string            `json:"order_uuid"`
	PackageID       uuid.UUID         `json:"package_id"`
	Quantity        int               `json:"quantity"`
	Params          map[string]string `json:"params,omitempty"`
	ExternalOrderID string            `json:"external_order_id,omitempty"`
	ExternalStatus  string            `json:"external_status"`
	Attempts        int               `json:"attempts"`
	LastMessage     string            `json:"last_message,omitempty"`
	SentAt          *time.Time        `json:"sent_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	FxRate          string            `json:"fx_rate"`
	CostAmount      string            `json:"cost_amount"`
	SellAmount      string            `json:"sell_amount"`
	ProfitAmount    string            `json:"profit_amount"`
	FxLocked        bool              `json:"fx_locked"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toOrderResponse(o *dispatch.Order) OrderResponse {
	return OrderResponse{
		ID:              o.ID,
		TenantID:        o.TenantID,
		RequesterID:     o.RequesterID,
		OrderUUID:       o.OrderUUID,
		PackageID:       o.PackageID,
		Quantity:        o.Quantity,
		Params:          o.Params,
		ExternalOrderID: o.ExternalOrderID,
		ExternalStatus:  o.ExternalStatus.String(),
		Attempts:        o.Attempts,
		LastMessage:     o.LastMessage,
		SentAt:          o.SentAt,
		CompletedAt:     o.CompletedAt,
		FxRate:          o.FxRate.String(),
		CostAmount:      o.CostAmount.String(),
		SellAmount:      o.SellAmount.String(),
		ProfitAmount:    o.ProfitAmount.String(),
		FxLocked:        o.FxLocked,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

// CreateOrder godoc
// @Summary      Accept an order for dispatch
// @Description  Registers an approved order and queues its first dispatch attempt.
// @Description  Idempotent on (tenant, requester, order_uuid): a duplicate returns
// @Description  the existing record with 200 instead of creating a second one.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Param        X-Requester-ID header string true "Requester ID" format(uuid)
// @Param        request body CreateOrderRequest true "Order acceptance request"
// @Success      200 {object} dto.Response{data=OrderResponse}
// @Success      201 {object} dto.Response{data=OrderResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      422 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /dispatch/orders [post]
func (h *DispatchHandler) CreateOrder(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	requesterID, err := getRequesterID(c)
	if err != nil {
		h.BadRequest(c, "Invalid requester ID")
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	packageID, err := uuid.Parse(req.PackageID)
	if err != nil {
		h.BadRequest(c, "Invalid package ID format")
		return
	}

	cmd := appdispatch.AcceptCommand{
		TenantID:    tenantID,
		RequesterID: requesterID,
		OrderUUID:   req.OrderUUID,
		PackageID:   packageID,
		Quantity:    req.Quantity,
		Params:      req.Params,
		SellAmount:  decimal.NewFromFloat(req.SellAmount),
	}

	order, created, err := h.orders.Accept(c.Request.Context(), cmd)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	if created {
		// Queue saturation is not fatal here: the record exists and a
		// later manual dispatch will pick it up.
		_ = h.queue.Enqueue(order.ID)
		h.Created(c, toOrderResponse(order))
		return
	}
	h.Success(c, toOrderResponse(order))
}

// GetOrder godoc
// @Summary      Get a dispatch record
// @Description  Retrieve a dispatch record by its ID
// @Tags         orders
// @Produce      json
// @Param        id path string true "Order ID" format(uuid)
// @Success      200 {object} dto.Response{data=OrderResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /dispatch/orders/{id} [get]
func (h *DispatchHandler) GetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid order ID format")
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, toOrderResponse(order))
}

// DispatchOrder godoc
// @Summary      Queue a dispatch attempt
// @Description  Queues an immediate dispatch attempt for an order, typically
// @Description  after a failed order has been repointed to another route.
// @Tags         orders
// @Produce      json
// @Param        id path string true "Order ID" format(uuid)
// @Success      202 {object} dto.Response{data=OrderResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /dispatch/orders/{id}/dispatch [post]
func (h *DispatchHandler) DispatchOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid order ID format")
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	if err := h.queue.Enqueue(order.ID); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Accepted(c, toOrderResponse(order))
}

// UpsertRouteRequest represents a request to create or replace a package route
// @Description Request body for routing a package to an integration
type UpsertRouteRequest struct {
	PackageID         string  `json:"package_id" binding:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	IntegrationID     string  `json:"integration_id" binding:"required,uuid" example:"660e8400-e29b-41d4-a716-446655440000"`
	ExternalPackageID string  `json:"external_package_id" binding:"required,max=100" example:"pkg-100-gems"`
	CostPrice         float64 `json:"cost_price" binding:"min=0" example:"12.50"`
	Active            *bool   `json:"active" example:"true"`
}

// RouteResponse represents a package route in API responses
type RouteResponse struct {
	ID                uuid.UUID `json:"id"`
	TenantID          uuid.UUID `json:"tenant_id"`
	PackageID         uuid.UUID `json:"package_id"`
	IntegrationID     uuid.UUID `json:"integration_id"`
	ExternalPackageID string    `json:"external_package_id"`
	CostPrice         string    `json:"cost_price"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toRouteResponse(r *dispatch.PackageRoute) RouteResponse {
	return RouteResponse{
		ID:                r.ID,
		TenantID:          r.TenantID,
		PackageID:         r.PackageID,
		IntegrationID:     r.IntegrationID,
		ExternalPackageID: r.ExternalPackageID,
		CostPrice:         r.CostPrice.String(),
		Active:            r.Active,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// UpsertRoute godoc
// @Summary      Create or replace a package route
// @Description  Routes a package to an integration. A package has at most one
// @Description  route per tenant; repointing replaces the previous target.
// @Tags         routes
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Param        request body UpsertRouteRequest true "Route upsert request"
// @Success      200 {object} dto.Response{data=RouteResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /dispatch/routes [put]
func (h *DispatchHandler) UpsertRoute(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req UpsertRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	packageID, err := uuid.Parse(req.PackageID)
	if err != nil {
		h.BadRequest(c, "Invalid package ID format")
		return
	}
	integrationID, err := uuid.Parse(req.IntegrationID)
	if err != nil {
		h.BadRequest(c, "Invalid integration ID format")
		return
	}

	route, err := dispatch.NewPackageRoute(tenantID, packageID, integrationID,
		req.ExternalPackageID, decimal.NewFromFloat(req.CostPrice))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	if req.Active != nil {
		route.Active = *req.Active
	}

	if err := h.routes.UpsertRoute(c.Request.Context(), route); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, toRouteResponse(route))
}

// ListRoutes godoc
// @Summary      List package routes
// @Description  Retrieve all package routes for the tenant
// @Tags         routes
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Success      200 {object} dto.Response{data=[]RouteResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /dispatch/routes [get]
func (h *DispatchHandler) ListRoutes(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	routes, err := h.routes.ListRoutes(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	responses := make([]RouteResponse, 0, len(routes))
	for i := range routes {
		responses = append(responses, toRouteResponse(&routes[i]))
	}
	h.Success(c, responses)
}

// DeleteRoute godoc
// @Summary      Delete a package route
// @Description  Removes the route for a package, leaving the package unrouted
// @Tags         routes
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Param        packageID path string true "Package ID" format(uuid)
// @Success      204
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /dispatch/routes/{packageID} [delete]
func (h *DispatchHandler) DeleteRoute(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	packageID, err := uuid.Parse(c.Param("packageID"))
	if err != nil {
		h.BadRequest(c, "Invalid package ID format")
		return
	}

	if err := h.routes.DeleteRoute(c.Request.Context(), tenantID, packageID); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.NoContent(c)
}

// BalanceResponse represents a provider balance snapshot in API responses
type BalanceResponse struct {
	IntegrationID uuid.UUID `json:"integration_id"`
	Balance       string    `json:"balance"`
	Currency      string    `json:"currency,omitempty"`
	Stale         bool      `json:"stale"`
	Message       string    `json:"message,omitempty"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// GetBalance godoc
// @Summary      Get a provider balance snapshot
// @Description  Returns the last synced balance for an integration. A snapshot
// @Description  whose last fetch failed is marked stale and keeps the message;
// @Description  the balance field then reflects the last successful fetch.
// @Tags         integrations
// @Produce      json
// @Param        id path string true "Integration ID" format(uuid)
// @Success      200 {object} dto.Response{data=BalanceResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /dispatch/integrations/{id}/balance [get]
func (h *DispatchHandler) GetBalance(c *gin.Context) {
	integrationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid integration ID format")
		return
	}

	snap, err := h.snapshots.GetBalanceSnapshot(c.Request.Context(), integrationID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	if snap == nil {
		h.NotFound(c, "No balance snapshot for this integration yet")
		return
	}

	h.Success(c, BalanceResponse{
		IntegrationID: snap.IntegrationID,
		Balance:       snap.Balance.String(),
		Currency:      snap.Currency,
		Stale:         !snap.OK(),
		Message:       snap.Message,
		FetchedAt:     snap.FetchedAt,
	})
}

// CatalogProductResponse represents one provider product in API responses
type CatalogProductResponse struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
	Price      string `json:"price"`
	Currency   string `json:"currency,omitempty"`
	Available  bool   `json:"available"`
}

// CatalogResponse represents a provider catalog snapshot in API responses
type CatalogResponse struct {
	IntegrationID uuid.UUID                `json:"integration_id"`
	Products      []CatalogProductResponse `json:"products"`
	Stale         bool                     `json:"stale"`
	Message       string                   `json:"message,omitempty"`
	FetchedAt     time.Time                `json:"fetched_at"`
}

// GetCatalog godoc
// @Summary      Get a provider catalog snapshot
// @Description  Returns the last synced product catalog for an integration
// @Tags         integrations
// @Produce      json
// @Param        id path string true "Integration ID" format(uuid)
// @Success      200 {object} dto.Response{data=CatalogResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /dispatch/integrations/{id}/catalog [get]
func (h *DispatchHandler) GetCatalog(c *gin.Context) {
	integrationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid integration ID format")
		return
	}

	snap, err := h.snapshots.GetCatalogSnapshot(c.Request.Context(), integrationID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}
	if snap == nil {
		h.NotFound(c, "No catalog snapshot for this integration yet")
		return
	}

	products := make([]CatalogProductResponse, 0, len(snap.Products))
	for _, p := range snap.Products {
		products = append(products, CatalogProductResponse{
			ExternalID: p.ExternalID,
			Name:       p.Name,
			Category:   p.Category,
			Price:      p.Price.String(),
			Currency:   p.Currency,
			Available:  p.Available,
		})
	}

	h.Success(c, CatalogResponse{
		IntegrationID: snap.IntegrationID,
		Products:      products,
		Stale:         !snap.OK(),
		Message:       snap.Message,
		FetchedAt:     snap.FetchedAt,
	})
}

// TriggerSync godoc
// @Summary      Trigger a snapshot sync sweep
// @Description  Starts an immediate balance and catalog sync across all enabled
// @Description  integrations. Only one sweep runs at a time.
// @Tags         sync
// @Produce      json
// @Success      202 {object} dto.Response
// @Failure      409 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /dispatch/sync [post]
func (h *DispatchHandler) TriggerSync(c *gin.Context) {
	if err := h.sync.TriggerNow(c.Request.Context()); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Accepted(c, gin.H{"message": "sync started"})
}
