package dispatch

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPackageRoute(t *testing.T) {
	tenantID := uuid.New()
	packageID := uuid.New()
	integrationID := uuid.New()
	cost := decimal.RequireFromString("1.50")

	t.Run("valid route", func(t *testing.T) {
		r, err := NewPackageRoute(tenantID, packageID, integrationID, "pkg-77", cost)
		require.NoError(t, err)
		assert.True(t, r.Active)
		assert.Equal(t, "pkg-77", r.ExternalPackageID)
		assert.True(t, r.CostPrice.Equal(cost))
		assert.NoError(t, r.Validate())
	})

	tests := []struct {
		name          string
		tenantID      uuid.UUID
		packageID     uuid.UUID
		integrationID uuid.UUID
		externalID    string
		wantErr       error
	}{
		{"missing tenant", uuid.Nil, packageID, integrationID, "p", ErrRouteInvalidTenantID},
		{"missing package", tenantID, uuid.Nil, integrationID, "p", ErrRouteInvalidPackageID},
		{"missing integration", tenantID, packageID, uuid.Nil, "p", ErrRouteInvalidIntegrationID},
		{"missing external id", tenantID, packageID, integrationID, "", ErrRouteInvalidExternalPackageID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPackageRoute(tt.tenantID, tt.packageID, tt.integrationID, tt.externalID, cost)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
