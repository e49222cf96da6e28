package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

// Registry bundles every Firestore-backed repository behind the
// repositories.Registry interface.
type Registry struct {
	provider *pfirestore.Provider

	carts           *CartRepository
	catalog         *CatalogRepository
	vendors         *VendorRepository
	commissionTiers *CommissionTierRepository
	shippingRates   *ShippingRateRepository
	orders          *OrderRepository
	deliveries      *DeliveryRepository
	loyalty         *LoyaltyRepository
	counters        *CounterRepository
	health          repositories.HealthRepository
}

// NewRegistry constructs every repository against the shared provider. The
// health repository probes Firestore connectivity.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	vendors, err := NewVendorRepository(provider)
	if err != nil {
		return nil, err
	}
	commissionTiers, err := NewCommissionTierRepository(provider)
	if err != nil {
		return nil, err
	}
	shippingRates, err := NewShippingRateRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	deliveries, err := NewDeliveryRepository(provider)
	if err != nil {
		return nil, err
	}
	loyalty, err := NewLoyaltyRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	health, err := repositories.NewProbeHealthRepository([]repositories.DependencyProbe{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:        provider,
		carts:           carts,
		catalog:         catalog,
		vendors:         vendors,
		commissionTiers: commissionTiers,
		shippingRates:   shippingRates,
		orders:          orders,
		deliveries:      deliveries,
		loyalty:         loyalty,
		counters:        counters,
		health:          health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx runs fn directly. Cross-document invariants (stock, loyalty
// balances, sequences) are enforced by transactional repository operations,
// so there is no ambient transaction to thread through the context.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction func is required")
	}
	return fn(ctx)
}

func (r *Registry) Carts() repositories.CartRepository               { return r.carts }
func (r *Registry) Catalog() repositories.CatalogRepository          { return r.catalog }
func (r *Registry) Vendors() repositories.VendorRepository           { return r.vendors }
func (r *Registry) CommissionTiers() repositories.CommissionTierRepository {
	return r.commissionTiers
}
func (r *Registry) ShippingRates() repositories.ShippingRateRepository { return r.shippingRates }
func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Deliveries() repositories.DeliveryRepository        { return r.deliveries }
func (r *Registry) Loyalty() repositories.LoyaltyRepository            { return r.loyalty }
func (r *Registry) Counters() repositories.CounterRepository           { return r.counters }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }

var _ repositories.Registry = (*Registry)(nil)
