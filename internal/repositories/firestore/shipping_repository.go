package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const shippingRateCollection = "shippingRates"

// ShippingRateRepository persists per-route shipping configuration.
type ShippingRateRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[shippingRateDocument]
}

// NewShippingRateRepository constructs a Firestore-backed shipping rate repository.
func NewShippingRateRepository(provider *pfirestore.Provider) (*ShippingRateRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping rate repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[shippingRateDocument](provider, shippingRateCollection, nil, nil)
	return &ShippingRateRepository{provider: provider, base: base}, nil
}

// FindActive returns the active rate for a (country, type) route. Country
// lookup is exact; callers fall back to the catch-all country themselves.
func (r *ShippingRateRepository) FindActive(ctx context.Context, country string, shippingType domain.ShippingType) (domain.ShippingRate, error) {
	if r == nil || r.base == nil {
		return domain.ShippingRate{}, errors.New("shipping rate repository not initialised")
	}
	country = normaliseShippingCountry(country)
	if country == "" {
		return domain.ShippingRate{}, errors.New("shipping rate repository: country is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("country", "==", country).
			Where("type", "==", string(shippingType)).
			Where("active", "==", true).
			Limit(1)
	})
	if err != nil {
		return domain.ShippingRate{}, err
	}
	if len(docs) == 0 {
		return domain.ShippingRate{}, pfirestore.WrapError("shipping_rates.find_active", status.Error(codes.NotFound, "shipping rate not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ListActiveByCountry returns every active rate configured for a country,
// standard before express.
func (r *ShippingRateRepository) ListActiveByCountry(ctx context.Context, country string) ([]domain.ShippingRate, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("shipping rate repository not initialised")
	}
	country = normaliseShippingCountry(country)
	if country == "" {
		return nil, errors.New("shipping rate repository: country is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("country", "==", country).
			Where("active", "==", true)
	})
	if err != nil {
		return nil, err
	}

	rates := make([]domain.ShippingRate, 0, len(docs))
	for _, doc := range docs {
		rates = append(rates, doc.Data.toDomain(doc.ID))
	}
	sort.Slice(rates, func(i, j int) bool {
		return rates[i].Type < rates[j].Type
	})
	return rates, nil
}

// Upsert writes a rate, assigning an ID when absent.
func (r *ShippingRateRepository) Upsert(ctx context.Context, rate domain.ShippingRate) (domain.ShippingRate, error) {
	if r == nil || r.base == nil {
		return domain.ShippingRate{}, errors.New("shipping rate repository not initialised")
	}

	doc := shippingRateDocument{
		Country:              normaliseShippingCountry(rate.Country),
		Type:                 string(rate.Type),
		BaseRateMinor:        rate.BaseRateMinor,
		RatePerKgMinor:       rate.RatePerKgMinor,
		MinDays:              rate.MinDays,
		MaxDays:              rate.MaxDays,
		MinimumBillableMinor: rate.MinimumBillableMinor,
		BulkDiscountBps:      rate.BulkDiscountBps,
		RemoteSurchargeBps:   rate.RemoteSurchargeBps,
		Active:               rate.Active,
		UpdatedAt:            rate.UpdatedAt.UTC(),
	}

	rateID := strings.TrimSpace(rate.ID)
	if rateID == "" {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return domain.ShippingRate{}, err
		}
		newRef := client.Collection(shippingRateCollection).NewDoc()
		if _, err := newRef.Create(ctx, doc); err != nil {
			return domain.ShippingRate{}, pfirestore.WrapError("shipping_rates.upsert", err)
		}
		rate.ID = newRef.ID
		return rate, nil
	}

	if _, err := r.base.Set(ctx, rateID, doc); err != nil {
		return domain.ShippingRate{}, err
	}
	rate.ID = rateID
	return rate, nil
}

type shippingRateDocument struct {
	Country              string    `firestore:"country"`
	Type                 string    `firestore:"type"`
	BaseRateMinor        int64     `firestore:"baseRate"`
	RatePerKgMinor       int64     `firestore:"ratePerKg"`
	MinDays              int       `firestore:"minDays"`
	MaxDays              int       `firestore:"maxDays"`
	MinimumBillableMinor int64     `firestore:"minimumBillable"`
	BulkDiscountBps      int64     `firestore:"bulkDiscountBps"`
	RemoteSurchargeBps   int64     `firestore:"remoteSurchargeBps"`
	Active               bool      `firestore:"active"`
	UpdatedAt            time.Time `firestore:"updatedAt"`
}

func (d shippingRateDocument) toDomain(id string) domain.ShippingRate {
	return domain.ShippingRate{
		ID:                   id,
		Country:              d.Country,
		Type:                 domain.ShippingType(d.Type),
		BaseRateMinor:        d.BaseRateMinor,
		RatePerKgMinor:       d.RatePerKgMinor,
		MinDays:              d.MinDays,
		MaxDays:              d.MaxDays,
		MinimumBillableMinor: d.MinimumBillableMinor,
		BulkDiscountBps:      d.BulkDiscountBps,
		RemoteSurchargeBps:   d.RemoteSurchargeBps,
		Active:               d.Active,
		UpdatedAt:            d.UpdatedAt,
	}
}

func normaliseShippingCountry(country string) string {
	return strings.ToUpper(strings.TrimSpace(country))
}

var _ repositories.ShippingRateRepository = (*ShippingRateRepository)(nil)
