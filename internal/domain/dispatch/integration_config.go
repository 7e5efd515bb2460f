package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// IntegrationConfig Entity
// ---------------------------------------------------------------------------

// IntegrationConfig is one tenant-provider pairing. It is created and edited
// by tenant admins; the dispatch core only reads it. Credential material is
// opaque here: validation happens at call time so a misconfigured integration
// fails fast on its first use instead of silently.
type IntegrationConfig struct {
	// ID is the unique identifier of this integration
	ID uuid.UUID
	// TenantID is the tenant that owns this integration
	TenantID uuid.UUID
	// Name is a display label chosen by the tenant admin
	Name string
	// Kind selects the provider driver
	Kind ProviderKind
	// BaseURL is the tenant-supplied provider address; adapters normalize it
	// before every call (missing scheme, stray slashes, doubled protocol)
	BaseURL string
	// APIToken is the opaque credential for token-style providers
	APIToken string
	// ClientID is the key half of an (id, secret) credential pair
	ClientID string
	// ClientSecret is the secret half of an (id, secret) credential pair
	ClientSecret string
	// Enabled gates dispatch and sync for this integration
	Enabled bool
	// CreatedAt is when this integration was created
	CreatedAt time.Time
	// UpdatedAt is when this integration was last updated
	UpdatedAt time.Time
}

// ValidateCredentials checks that the credential shape matches the provider
// kind. Called by adapters before any network call.
func (c *IntegrationConfig) ValidateCredentials() error {
	if !c.Kind.IsValid() {
		return ErrCredentialMismatch
	}
	switch c.Kind {
	case ProviderKindInternal:
		if c.APIToken == "" {
			return ErrCredentialMismatch
		}
	case ProviderKindPanel:
		if c.ClientID == "" || c.ClientSecret == "" {
			return ErrCredentialMismatch
		}
	}
	if c.BaseURL == "" {
		return ErrInvalidBaseURL
	}
	return nil
}

// ---------------------------------------------------------------------------
// IntegrationConfigRepository Interface
// ---------------------------------------------------------------------------

// IntegrationConfigRepository defines persistence for integration configs.
// The dispatch core re-reads configs on every attempt; admin collaborators
// may change them between reads.
type IntegrationConfigRepository interface {
	// FindByID finds an integration by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*IntegrationConfig, error)

	// FindByTenant returns all integrations for a tenant
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]IntegrationConfig, error)

	// FindAllEnabled returns every enabled integration across tenants,
	// used by the balance/catalog sync jobs
	FindAllEnabled(ctx context.Context) ([]IntegrationConfig, error)

	// Save creates or updates an integration
	Save(ctx context.Context, cfg *IntegrationConfig) error
}
