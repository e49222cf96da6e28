package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const commissionTierCollection = "commissionTiers"

// CommissionTierRepository persists the platform commission schedule.
type CommissionTierRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[commissionTierDocument]
}

// NewCommissionTierRepository constructs a Firestore-backed tier repository.
func NewCommissionTierRepository(provider *pfirestore.Provider) (*CommissionTierRepository, error) {
	if provider == nil {
		return nil, errors.New("commission tier repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[commissionTierDocument](provider, commissionTierCollection, nil, nil)
	return &CommissionTierRepository{provider: provider, base: base}, nil
}

// ListActive returns every active tier ordered by minimum amount, then rank.
// The schedule is small so it is read whole.
func (r *CommissionTierRepository) ListActive(ctx context.Context) ([]domain.CommissionTier, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("commission tier repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("active", "==", true)
	})
	if err != nil {
		return nil, err
	}

	tiers := make([]domain.CommissionTier, 0, len(docs))
	for _, doc := range docs {
		tiers = append(tiers, doc.Data.toDomain(doc.ID))
	}
	sort.Slice(tiers, func(i, j int) bool {
		if tiers[i].MinAmountMinor != tiers[j].MinAmountMinor {
			return tiers[i].MinAmountMinor < tiers[j].MinAmountMinor
		}
		return tiers[i].Rank > tiers[j].Rank
	})
	return tiers, nil
}

// Upsert writes a tier, assigning an ID when absent.
func (r *CommissionTierRepository) Upsert(ctx context.Context, tier domain.CommissionTier) (domain.CommissionTier, error) {
	if r == nil || r.base == nil {
		return domain.CommissionTier{}, errors.New("commission tier repository not initialised")
	}

	tierID := strings.TrimSpace(tier.ID)
	doc := commissionTierDocument{
		MinAmountMinor: tier.MinAmountMinor,
		MaxAmountMinor: tier.MaxAmountMinor,
		RateBps:        tier.RateBps,
		Rank:           tier.Rank,
		Active:         tier.Active,
		Description:    strings.TrimSpace(tier.Description),
		UpdatedAt:      tier.UpdatedAt.UTC(),
	}

	if tierID == "" {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return domain.CommissionTier{}, err
		}
		newRef := client.Collection(commissionTierCollection).NewDoc()
		if _, err := newRef.Create(ctx, doc); err != nil {
			return domain.CommissionTier{}, pfirestore.WrapError("commission_tiers.upsert", err)
		}
		tier.ID = newRef.ID
		return tier, nil
	}

	if _, err := r.base.Set(ctx, tierID, doc); err != nil {
		return domain.CommissionTier{}, err
	}
	tier.ID = tierID
	return tier, nil
}

type commissionTierDocument struct {
	MinAmountMinor int64     `firestore:"minAmount"`
	MaxAmountMinor *int64    `firestore:"maxAmount,omitempty"`
	RateBps        int64     `firestore:"rateBps"`
	Rank           int       `firestore:"rank"`
	Active         bool      `firestore:"active"`
	Description    string    `firestore:"description,omitempty"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func (d commissionTierDocument) toDomain(id string) domain.CommissionTier {
	return domain.CommissionTier{
		ID:             id,
		MinAmountMinor: d.MinAmountMinor,
		MaxAmountMinor: d.MaxAmountMinor,
		RateBps:        d.RateBps,
		Rank:           d.Rank,
		Active:         d.Active,
		Description:    d.Description,
		UpdatedAt:      d.UpdatedAt,
	}
}

var _ repositories.CommissionTierRepository = (*CommissionTierRepository)(nil)
