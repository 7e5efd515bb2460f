package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/resale/backend/internal/domain/dispatch"
)

// ---------------------------------------------------------------------------
// IntegrationConfigModel
// ---------------------------------------------------------------------------

// IntegrationConfigModel is the persistence model for the IntegrationConfig
// domain entity. Credential columns hold the material exactly as entered;
// normalization happens at call time in the adapters.
type IntegrationConfigModel struct {
	ID           uuid.UUID             `gorm:"type:uuid;primary_key"`
	TenantID     uuid.UUID             `gorm:"type:uuid;not null;index:idx_integration_tenant"`
	Name         string                `gorm:"type:varchar(100);not null"`
	Kind         dispatch.ProviderKind `gorm:"type:varchar(20);not null"`
	BaseURL      string                `gorm:"type:varchar(500);not null"`
	APIToken     string                `gorm:"type:varchar(500)"`
	ClientID     string                `gorm:"type:varchar(200)"`
	ClientSecret string                `gorm:"type:varchar(500)"`
	Enabled      bool                  `gorm:"not null;default:true;index"`
	CreatedAt    time.Time             `gorm:"not null"`
	UpdatedAt    time.Time             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IntegrationConfigModel) TableName() string {
	return "integration_configs"
}

// ToDomain converts the persistence model to a domain IntegrationConfig
func (m *IntegrationConfigModel) ToDomain() *dispatch.IntegrationConfig {
	return &dispatch.IntegrationConfig{
		ID:           m.ID,
		TenantID:     m.TenantID,
		Name:         m.Name,
		Kind:         m.Kind,
		BaseURL:      m.BaseURL,
		APIToken:     m.APIToken,
		ClientID:     m.ClientID,
		ClientSecret: m.ClientSecret,
		Enabled:      m.Enabled,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain IntegrationConfig
func (m *IntegrationConfigModel) FromDomain(c *dispatch.IntegrationConfig) {
	m.ID = c.ID
	m.TenantID = c.TenantID
	m.Name = c.Name
	m.Kind = c.Kind
	m.BaseURL = c.BaseURL
	m.APIToken = c.APIToken
	m.ClientID = c.ClientID
	m.ClientSecret = c.ClientSecret
	m.Enabled = c.Enabled
	m.CreatedAt = c.CreatedAt
	m.UpdatedAt = c.UpdatedAt
}

// IntegrationConfigModelFromDomain creates a persistence model from a domain entity
func IntegrationConfigModelFromDomain(c *dispatch.IntegrationConfig) *IntegrationConfigModel {
	m := &IntegrationConfigModel{}
	m.FromDomain(c)
	return m
}

// ---------------------------------------------------------------------------
// PackageRouteModel
// ---------------------------------------------------------------------------

// PackageRouteModel is the persistence model for the PackageRoute domain
// entity. The unique index on (tenant_id, package_id) makes the one-route
// invariant a storage guarantee, not just application logic.
type PackageRouteModel struct {
	ID                uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID          uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uidx_route_tenant_package,priority:1"`
	PackageID         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uidx_route_tenant_package,priority:2"`
	IntegrationID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	ExternalPackageID string          `gorm:"type:varchar(100);not null"`
	CostPrice         decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Active            bool            `gorm:"not null;default:true"`
	CreatedAt         time.Time       `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PackageRouteModel) TableName() string {
	return "package_routes"
}

// ToDomain converts the persistence model to a domain PackageRoute
func (m *PackageRouteModel) ToDomain() *dispatch.PackageRoute {
	return &dispatch.PackageRoute{
		ID:                m.ID,
		TenantID:          m.TenantID,
		PackageID:         m.PackageID,
		IntegrationID:     m.IntegrationID,
		ExternalPackageID: m.ExternalPackageID,
		CostPrice:         m.CostPrice,
		Active:            m.Active,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain PackageRoute
func (m *PackageRouteModel) FromDomain(r *dispatch.PackageRoute) {
	m.ID = r.ID
	m.TenantID = r.TenantID
	m.PackageID = r.PackageID
	m.IntegrationID = r.IntegrationID
	m.ExternalPackageID = r.ExternalPackageID
	m.CostPrice = r.CostPrice
	m.Active = r.Active
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
}

// PackageRouteModelFromDomain creates a persistence model from a domain entity
func PackageRouteModelFromDomain(r *dispatch.PackageRoute) *PackageRouteModel {
	m := &PackageRouteModel{}
	m.FromDomain(r)
	return m
}

// ---------------------------------------------------------------------------
// OrderModel
// ---------------------------------------------------------------------------

// OrderModel is the persistence model for the Order dispatch record. The
// idempotency key (tenant_id, requester_id, order_uuid) is unique; rows are
// never deleted so attempts and last_message stay auditable.
type OrderModel struct {
	ID              uuid.UUID               `gorm:"type:uuid;primary_key"`
	TenantID        uuid.UUID               `gorm:"type:uuid;not null;uniqueIndex:uidx_order_idempotency,priority:1"`
	RequesterID     uuid.UUID               `gorm:"type:uuid;not null;uniqueIndex:uidx_order_idempotency,priority:2"`
	OrderUUID       string                  `gorm:"type:varchar(64);not null;uniqueIndex:uidx_order_idempotency,priority:3"`
	PackageID       uuid.UUID               `gorm:"type:uuid;not null;index"`
	Quantity        int                     `gorm:"not null"`
	ParamsJSON      string                  `gorm:"type:jsonb;column:params"`
	ExternalOrderID string                  `gorm:"type:varchar(100);index"`
	ExternalStatus  dispatch.ExternalStatus `gorm:"type:varchar(20);not null;default:'not_sent';index"`
	Attempts        int                     `gorm:"not null;default:0"`
	LastMessage     string                  `gorm:"type:varchar(500)"`
	SentAt          *time.Time
	CompletedAt     *time.Time
	FxRate          decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	CostAmount      decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	SellAmount      decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	ProfitAmount    decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	FxLocked        bool            `gorm:"not null;default:false"`
	CreatedAt       time.Time       `gorm:"not null"`
	UpdatedAt       time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "dispatch_orders"
}

// ToDomain converts the persistence model to a domain Order
func (m *OrderModel) ToDomain() *dispatch.Order {
	order := &dispatch.Order{
		ID:              m.ID,
		TenantID:        m.TenantID,
		RequesterID:     m.RequesterID,
		OrderUUID:       m.OrderUUID,
		PackageID:       m.PackageID,
		Quantity:        m.Quantity,
		Params:          make(map[string]string),
		ExternalOrderID: m.ExternalOrderID,
		ExternalStatus:  m.ExternalStatus,
		Attempts:        m.Attempts,
		LastMessage:     m.LastMessage,
		SentAt:          m.SentAt,
		CompletedAt:     m.CompletedAt,
		FxRate:          m.FxRate,
		CostAmount:      m.CostAmount,
		SellAmount:      m.SellAmount,
		ProfitAmount:    m.ProfitAmount,
		FxLocked:        m.FxLocked,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}

	if m.ParamsJSON != "" {
		var params map[string]string
		if err := json.Unmarshal([]byte(m.ParamsJSON), &params); err == nil {
			order.Params = params
		}
	}
	return order
}

// FromDomain populates the persistence model from a domain Order
func (m *OrderModel) FromDomain(o *dispatch.Order) {
	m.ID = o.ID
	m.TenantID = o.TenantID
	m.RequesterID = o.RequesterID
	m.OrderUUID = o.OrderUUID
	m.PackageID = o.PackageID
	m.Quantity = o.Quantity
	m.ExternalOrderID = o.ExternalOrderID
	m.ExternalStatus = o.ExternalStatus
	m.Attempts = o.Attempts
	m.LastMessage = o.LastMessage
	m.SentAt = o.SentAt
	m.CompletedAt = o.CompletedAt
	m.FxRate = o.FxRate
	m.CostAmount = o.CostAmount
	m.SellAmount = o.SellAmount
	m.ProfitAmount = o.ProfitAmount
	m.FxLocked = o.FxLocked
	m.CreatedAt = o.CreatedAt
	m.UpdatedAt = o.UpdatedAt

	if len(o.Params) > 0 {
		if jsonBytes, err := json.Marshal(o.Params); err == nil {
			m.ParamsJSON = string(jsonBytes)
		}
	} else {
		m.ParamsJSON = "{}"
	}
}

// OrderModelFromDomain creates a persistence model from a domain Order
func OrderModelFromDomain(o *dispatch.Order) *OrderModel {
	m := &OrderModel{}
	m.FromDomain(o)
	return m
}

// ---------------------------------------------------------------------------
// Snapshot models
// ---------------------------------------------------------------------------

// BalanceSnapshotModel is the persistence model for the per-integration
// balance snapshot, one row per integration overwritten on each sync run.
type BalanceSnapshotModel struct {
	IntegrationID uuid.UUID            `gorm:"type:uuid;primary_key"`
	TenantID      uuid.UUID            `gorm:"type:uuid;not null;index"`
	Balance       decimal.Decimal      `gorm:"type:decimal(20,8);not null;default:0"`
	Currency      string               `gorm:"type:varchar(10)"`
	Err           dispatch.FailureKind `gorm:"type:varchar(30);column:err"`
	Message       string               `gorm:"type:varchar(500)"`
	FetchedAt     time.Time            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BalanceSnapshotModel) TableName() string {
	return "balance_snapshots"
}

// ToDomain converts the persistence model to a domain BalanceSnapshot
func (m *BalanceSnapshotModel) ToDomain() *dispatch.BalanceSnapshot {
	return &dispatch.BalanceSnapshot{
		IntegrationID: m.IntegrationID,
		TenantID:      m.TenantID,
		Balance:       m.Balance,
		Currency:      m.Currency,
		Err:           m.Err,
		Message:       m.Message,
		FetchedAt:     m.FetchedAt,
	}
}

// FromDomain populates the persistence model from a domain BalanceSnapshot
func (m *BalanceSnapshotModel) FromDomain(s *dispatch.BalanceSnapshot) {
	m.IntegrationID = s.IntegrationID
	m.TenantID = s.TenantID
	m.Balance = s.Balance
	m.Currency = s.Currency
	m.Err = s.Err
	m.Message = s.Message
	m.FetchedAt = s.FetchedAt
}

// CatalogSnapshotModel is the persistence model for the per-integration
// catalog snapshot. Products are stored as a JSON document; the catalog is
// read whole or not at all.
type CatalogSnapshotModel struct {
	IntegrationID uuid.UUID            `gorm:"type:uuid;primary_key"`
	TenantID      uuid.UUID            `gorm:"type:uuid;not null;index"`
	ProductsJSON  string               `gorm:"type:jsonb;column:products"`
	Err           dispatch.FailureKind `gorm:"type:varchar(30);column:err"`
	Message       string               `gorm:"type:varchar(500)"`
	FetchedAt     time.Time            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CatalogSnapshotModel) TableName() string {
	return "catalog_snapshots"
}

// ToDomain converts the persistence model to a domain CatalogSnapshot
func (m *CatalogSnapshotModel) ToDomain() *dispatch.CatalogSnapshot {
	snap := &dispatch.CatalogSnapshot{
		IntegrationID: m.IntegrationID,
		TenantID:      m.TenantID,
		Products:      make([]dispatch.CatalogProduct, 0),
		Err:           m.Err,
		Message:       m.Message,
		FetchedAt:     m.FetchedAt,
	}

	if m.ProductsJSON != "" {
		var products []dispatch.CatalogProduct
		if err := json.Unmarshal([]byte(m.ProductsJSON), &products); err == nil {
			snap.Products = products
		}
	}
	return snap
}

// FromDomain populates the persistence model from a domain CatalogSnapshot
func (m *CatalogSnapshotModel) FromDomain(s *dispatch.CatalogSnapshot) {
	m.IntegrationID = s.IntegrationID
	m.TenantID = s.TenantID
	m.Err = s.Err
	m.Message = s.Message
	m.FetchedAt = s.FetchedAt

	if len(s.Products) > 0 {
		if jsonBytes, err := json.Marshal(s.Products); err == nil {
			m.ProductsJSON = string(jsonBytes)
		}
	} else {
		m.ProductsJSON = "[]"
	}
}
