package providers

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/resale/backend/internal/domain/dispatch"
)

// Registry resolves provider drivers by kind. The mapping is built once at
// construction from the closed kind set; lookups never allocate.
type Registry struct {
	drivers map[dispatch.ProviderKind]dispatch.Driver
}

// NewRegistry builds the registry with one driver per supported kind
func NewRegistry(logger *zap.Logger) *Registry {
	drivers := []dispatch.Driver{
		NewStorefrontAdapter(logger),
		NewPanelAdapter(logger),
	}

	byKind := make(map[dispatch.ProviderKind]dispatch.Driver, len(drivers))
	for _, d := range drivers {
		byKind[d.Kind()] = d
	}
	return &Registry{drivers: byKind}
}

// Get returns the driver for the given kind
func (r *Registry) Get(kind dispatch.ProviderKind) (dispatch.Driver, error) {
	d, ok := r.drivers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", dispatch.ErrProviderNotRegistered, kind)
	}
	return d, nil
}

// List returns all registered drivers
func (r *Registry) List() []dispatch.Driver {
	out := make([]dispatch.Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		out = append(out, d)
	}
	return out
}

// Ensure Registry implements the DriverRegistry interface
var _ dispatch.DriverRegistry = (*Registry)(nil)
