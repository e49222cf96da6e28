package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/souqline/api/internal/platform/config"
	"github.com/souqline/api/internal/repositories"
	"github.com/souqline/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Carts      services.CartService
	Orders     services.OrderService
	Shipping   services.ShippingService
	Commission services.CommissionService
	Loyalty    services.LoyaltyService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises container assembly.
type Option func(*containerConfig)

type containerConfig struct {
	events   services.OrderEventPublisher
	payments services.PaymentRecorder
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// WithOrderEventPublisher attaches the order lifecycle event publisher.
func WithOrderEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(cfg *containerConfig) {
		cfg.events = publisher
	}
}

// WithPaymentRecorder attaches the settlement record publisher.
func WithPaymentRecorder(recorder services.PaymentRecorder) Option {
	return func(cfg *containerConfig) {
		cfg.payments = recorder
	}
}

// WithServiceLogger installs a structured event logger shared by all services.
func WithServiceLogger(logger func(ctx context.Context, event string, fields map[string]any)) Option {
	return func(cfg *containerConfig) {
		cfg.logger = logger
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Firestore-backed registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	var options containerConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	svc, err := buildServices(ctx, reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, options containerConfig) (Services, error) {
	var svc Services

	commissionSvc, err := services.NewCommissionService(services.CommissionServiceDeps{
		Vendors: reg.Vendors(),
		Tiers:   reg.CommissionTiers(),
		Clock:   time.Now,
		Logger:  options.logger,
	})
	if err != nil {
		return svc, fmt.Errorf("build commission service: %w", err)
	}
	svc.Commission = commissionSvc

	shippingSvc, err := services.NewShippingService(services.ShippingServiceDeps{
		Rates:  reg.ShippingRates(),
		Clock:  time.Now,
		Logger: options.logger,
	})
	if err != nil {
		return svc, fmt.Errorf("build shipping service: %w", err)
	}
	svc.Shipping = shippingSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Catalog:  reg.Catalog(),
		Currency: cfg.Defaults.Currency,
		Clock:    time.Now,
		Logger:   options.logger,
	})
	if err != nil {
		return svc, fmt.Errorf("build cart service: %w", err)
	}
	svc.Carts = cartSvc

	loyaltySvc, err := services.NewLoyaltyService(services.LoyaltyServiceDeps{
		Ledger: reg.Loyalty(),
		Clock:  time.Now,
		Logger: options.logger,
	})
	if err != nil {
		return svc, fmt.Errorf("build loyalty service: %w", err)
	}
	svc.Loyalty = loyaltySvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Deliveries:      reg.Deliveries(),
		Catalog:         reg.Catalog(),
		Loyalty:         reg.Loyalty(),
		Counters:        reg.Counters(),
		Carts:           cartSvc,
		Commission:      commissionSvc,
		Shipping:        shippingSvc,
		PointValueMinor: cfg.Loyalty.PointValueMinor,
		EarnRateMinor:   cfg.Loyalty.EarnRateMinor,
		Currency:        cfg.Defaults.Currency,
		UnitOfWork:      reg,
		Clock:           time.Now,
		Events:          options.events,
		Payments:        options.payments,
		Logger:          options.logger,
	})
	if err != nil {
		return svc, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	return svc, nil
}
