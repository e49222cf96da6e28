package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const vendorCollection = "vendors"

// VendorRepository reads seller profiles.
type VendorRepository struct {
	base *pfirestore.BaseRepository[vendorDocument]
}

// NewVendorRepository constructs a Firestore-backed vendor repository.
func NewVendorRepository(provider *pfirestore.Provider) (*VendorRepository, error) {
	if provider == nil {
		return nil, errors.New("vendor repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[vendorDocument](provider, vendorCollection, nil, nil)
	return &VendorRepository{base: base}, nil
}

// FindByID fetches a single vendor.
func (r *VendorRepository) FindByID(ctx context.Context, vendorID string) (domain.Vendor, error) {
	if r == nil || r.base == nil {
		return domain.Vendor{}, errors.New("vendor repository not initialised")
	}
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		return domain.Vendor{}, errors.New("vendor repository: vendor id is required")
	}
	doc, err := r.base.Get(ctx, vendorID)
	if err != nil {
		return domain.Vendor{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

type vendorDocument struct {
	DisplayName           string    `firestore:"displayName"`
	CommissionOverrideBps *int64    `firestore:"commissionOverrideBps,omitempty"`
	Active                bool      `firestore:"active"`
	CreatedAt             time.Time `firestore:"createdAt"`
	UpdatedAt             time.Time `firestore:"updatedAt"`
}

func (d vendorDocument) toDomain(id string) domain.Vendor {
	return domain.Vendor{
		ID:                    id,
		DisplayName:           strings.TrimSpace(d.DisplayName),
		CommissionOverrideBps: d.CommissionOverrideBps,
		Active:                d.Active,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}

var _ repositories.VendorRepository = (*VendorRepository)(nil)
