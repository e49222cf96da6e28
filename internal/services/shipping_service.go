package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

const bulkDiscountThresholdGrams = 5_000

var (
	// ErrShippingInvalidInput signals the caller provided invalid data.
	ErrShippingInvalidInput = errors.New("shipping: invalid input")
	// ErrShippingNoRoute indicates neither the country nor the catch-all has a rate configured.
	ErrShippingNoRoute = errors.New("shipping: no route configured")
)

// ShippingServiceDeps bundles collaborators required to construct the shipping service.
type ShippingServiceDeps struct {
	Rates  repositories.ShippingRateRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type shippingService struct {
	rates  repositories.ShippingRateRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewShippingService wires dependencies into a concrete ShippingService implementation.
func NewShippingService(deps ShippingServiceDeps) (ShippingService, error) {
	if deps.Rates == nil {
		return nil, errors.New("shipping service: rate repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &shippingService{
		rates: deps.Rates,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *shippingService) Quote(ctx context.Context, cmd QuoteShippingCommand) (ShippingQuote, error) {
	if err := validateQuoteCommand(cmd); err != nil {
		return ShippingQuote{}, err
	}

	rate, err := s.lookupRate(ctx, cmd.Country, cmd.Type)
	if err != nil {
		return ShippingQuote{}, err
	}
	return s.price(rate, cmd), nil
}

// CompareOptions quotes every service level reachable for the destination:
// the country's own routes plus catch-all routes for types the country does
// not configure itself. Results are sorted cheapest first.
func (s *shippingService) CompareOptions(ctx context.Context, cmd QuoteShippingCommand) ([]ShippingQuote, error) {
	probe := cmd
	probe.Type = domain.ShippingStandard
	if err := validateQuoteCommand(probe); err != nil {
		return nil, err
	}

	country := strings.ToUpper(strings.TrimSpace(cmd.Country))
	rates, err := s.rates.ListActiveByCountry(ctx, country)
	if err != nil {
		return nil, err
	}

	covered := make(map[domain.ShippingType]bool, len(rates))
	for _, rate := range rates {
		covered[rate.Type] = true
	}

	if country != domain.ShippingCountryFallback {
		fallbackRates, err := s.rates.ListActiveByCountry(ctx, domain.ShippingCountryFallback)
		if err != nil {
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return nil, err
			}
		}
		for _, rate := range fallbackRates {
			if covered[rate.Type] {
				continue
			}
			rates = append(rates, rate)
		}
	}

	if len(rates) == 0 {
		return nil, fmt.Errorf("%w: country %s", ErrShippingNoRoute, country)
	}

	quotes := make([]ShippingQuote, 0, len(rates))
	for _, rate := range rates {
		routeCmd := cmd
		routeCmd.Type = rate.Type
		quotes = append(quotes, s.price(rate, routeCmd))
	}
	sort.Slice(quotes, func(i, j int) bool {
		if quotes[i].CostMinor != quotes[j].CostMinor {
			return quotes[i].CostMinor < quotes[j].CostMinor
		}
		return quotes[i].Type < quotes[j].Type
	})
	return quotes, nil
}

func (s *shippingService) UpsertRate(ctx context.Context, cmd UpsertShippingRateCommand) (ShippingRate, error) {
	country := strings.ToUpper(strings.TrimSpace(cmd.Country))
	if country == "" {
		return ShippingRate{}, fmt.Errorf("%w: country is required", ErrShippingInvalidInput)
	}
	if cmd.Type != domain.ShippingStandard && cmd.Type != domain.ShippingExpress {
		return ShippingRate{}, fmt.Errorf("%w: unknown shipping type %q", ErrShippingInvalidInput, cmd.Type)
	}
	if cmd.BaseRateMinor < 0 || cmd.RatePerKgMinor < 0 || cmd.MinimumBillableMinor < 0 {
		return ShippingRate{}, fmt.Errorf("%w: rates cannot be negative", ErrShippingInvalidInput)
	}
	if cmd.MinDays < 0 || cmd.MaxDays < 0 {
		return ShippingRate{}, fmt.Errorf("%w: delivery days cannot be negative", ErrShippingInvalidInput)
	}
	if cmd.MinDays > cmd.MaxDays {
		return ShippingRate{}, fmt.Errorf("%w: minimum days %d above maximum %d", ErrShippingInvalidInput, cmd.MinDays, cmd.MaxDays)
	}
	if cmd.BulkDiscountBps < 0 || cmd.BulkDiscountBps > 10_000 {
		return ShippingRate{}, fmt.Errorf("%w: bulk discount %d out of range [0, 10000]", ErrShippingInvalidInput, cmd.BulkDiscountBps)
	}
	if cmd.RemoteSurchargeBps < 0 || cmd.RemoteSurchargeBps > 10_000 {
		return ShippingRate{}, fmt.Errorf("%w: remote surcharge %d out of range [0, 10000]", ErrShippingInvalidInput, cmd.RemoteSurchargeBps)
	}

	rate := ShippingRate{
		ID:                   strings.TrimSpace(cmd.ID),
		Country:              country,
		Type:                 cmd.Type,
		BaseRateMinor:        cmd.BaseRateMinor,
		RatePerKgMinor:       cmd.RatePerKgMinor,
		MinDays:              cmd.MinDays,
		MaxDays:              cmd.MaxDays,
		MinimumBillableMinor: cmd.MinimumBillableMinor,
		BulkDiscountBps:      cmd.BulkDiscountBps,
		RemoteSurchargeBps:   cmd.RemoteSurchargeBps,
		Active:               cmd.Active,
		UpdatedAt:            s.clock(),
	}

	saved, err := s.rates.Upsert(ctx, rate)
	if err != nil {
		return ShippingRate{}, err
	}
	return saved, nil
}

func (s *shippingService) lookupRate(ctx context.Context, country string, shippingType ShippingType) (ShippingRate, error) {
	country = strings.ToUpper(strings.TrimSpace(country))

	rate, err := s.rates.FindActive(ctx, country, shippingType)
	if err == nil {
		return rate, nil
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		return ShippingRate{}, err
	}

	if country != domain.ShippingCountryFallback {
		rate, err = s.rates.FindActive(ctx, domain.ShippingCountryFallback, shippingType)
		if err == nil {
			return rate, nil
		}
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return ShippingRate{}, err
		}
	}
	return ShippingRate{}, fmt.Errorf("%w: country %s type %s", ErrShippingNoRoute, country, shippingType)
}

// price applies the tariff: base plus per-kg charge, a bulk discount strictly
// over the weight threshold, a remote-city surcharge on the discounted cost,
// then the billable floor. The delay is the route's pessimistic estimate.
func (s *shippingService) price(rate ShippingRate, cmd QuoteShippingCommand) ShippingQuote {
	cost := rate.BaseRateMinor + domain.PerKgCharge(rate.RatePerKgMinor, cmd.WeightGrams)

	if cmd.WeightGrams > bulkDiscountThresholdGrams && rate.BulkDiscountBps > 0 {
		cost -= domain.ApplyBps(cost, rate.BulkDiscountBps)
	}
	if cmd.RemoteCity && rate.RemoteSurchargeBps > 0 {
		cost += domain.ApplyBps(cost, rate.RemoteSurchargeBps)
	}
	if cost < rate.MinimumBillableMinor {
		cost = rate.MinimumBillableMinor
	}

	now := s.clock()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	delayDays := rate.MaxDays

	return ShippingQuote{
		RateID:            rate.ID,
		Country:           rate.Country,
		Type:              rate.Type,
		CostMinor:         cost,
		DelayDays:         delayDays,
		EstimatedDelivery: today.AddDate(0, 0, delayDays),
	}
}

func validateQuoteCommand(cmd QuoteShippingCommand) error {
	if strings.TrimSpace(cmd.Country) == "" {
		return fmt.Errorf("%w: country is required", ErrShippingInvalidInput)
	}
	if cmd.Type != domain.ShippingStandard && cmd.Type != domain.ShippingExpress {
		return fmt.Errorf("%w: unknown shipping type %q", ErrShippingInvalidInput, cmd.Type)
	}
	if cmd.WeightGrams < 0 {
		return fmt.Errorf("%w: weight cannot be negative", ErrShippingInvalidInput)
	}
	return nil
}
