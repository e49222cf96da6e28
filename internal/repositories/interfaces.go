package repositories

import (
	"context"
	"time"

	domain "github.com/souqline/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Catalog() CatalogRepository
	Vendors() VendorRepository
	CommissionTiers() CommissionTierRepository
	ShippingRates() ShippingRateRepository
	Orders() OrderRepository
	Deliveries() DeliveryRepository
	Loyalty() LoyaltyRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart persistence. Carts are keyed by customer so each
// customer has at most one. UpsertCart enforces optimistic locking when
// ExpectedUpdatedAt is set on the cart metadata.
type CartRepository interface {
	GetCart(ctx context.Context, customerID string) (domain.Cart, error)
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdatedAt *time.Time) (domain.Cart, error)
	DeleteCart(ctx context.Context, customerID string) error
}

// CatalogRepository reads products and mutates stock. AdjustStock applies all
// line deltas in one transaction: either every line succeeds or none is
// applied, with insufficient stock reported as a typed StockError naming the
// product.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	AdjustStock(ctx context.Context, req StockAdjustRequest) (StockAdjustResult, error)
}

// StockLine is one product delta in a stock adjustment. Negative Delta
// consumes stock, positive releases it back.
type StockLine struct {
	ProductID string
	Delta     int64
}

// StockAdjustRequest carries the transactional stock mutation for an order.
type StockAdjustRequest struct {
	Lines    []StockLine
	OrderRef string
	Now      time.Time
}

// StockAdjustResult reports the post-adjustment stock level per product.
type StockAdjustResult struct {
	Stocks map[string]int64
}

// VendorRepository reads seller profiles for commission settlement.
type VendorRepository interface {
	FindByID(ctx context.Context, vendorID string) (domain.Vendor, error)
}

// CommissionTierRepository persists the platform commission schedule.
type CommissionTierRepository interface {
	ListActive(ctx context.Context) ([]domain.CommissionTier, error)
	Upsert(ctx context.Context, tier domain.CommissionTier) (domain.CommissionTier, error)
}

// ShippingRateRepository persists per-route shipping configuration.
type ShippingRateRepository interface {
	FindActive(ctx context.Context, country string, shippingType domain.ShippingType) (domain.ShippingRate, error)
	ListActiveByCountry(ctx context.Context, country string) ([]domain.ShippingRate, error)
	Upsert(ctx context.Context, rate domain.ShippingRate) (domain.ShippingRate, error)
}

// OrderRepository persists order aggregates.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// DeliveryRepository persists the shipping leg of orders.
type DeliveryRepository interface {
	Insert(ctx context.Context, delivery domain.Delivery) error
	Update(ctx context.Context, delivery domain.Delivery) error
	FindByOrder(ctx context.Context, orderID string) (domain.Delivery, error)
}

// LoyaltyRepository owns point balances and their ledger. Debit runs a
// transactional balance guard and surfaces shortfalls as a typed LoyaltyError;
// balances never go negative.
type LoyaltyRepository interface {
	Get(ctx context.Context, customerID string) (domain.LoyaltyAccount, error)
	Credit(ctx context.Context, entry domain.LoyaltyEntry) (domain.LoyaltyAccount, error)
	Debit(ctx context.Context, entry domain.LoyaltyEntry) (domain.LoyaltyAccount, error)
}

// CounterRepository provides monotonically increasing sequences (order numbers).
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig tunes a counter document.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (HealthReport, error)
}

// HealthStatus summarises one dependency probe.
type HealthStatus struct {
	Name    string
	Healthy bool
	Detail  string
}

// HealthReport aggregates dependency probes for readiness checks.
type HealthReport struct {
	Healthy     bool
	Components  []HealthStatus
	CollectedAt time.Time
}
