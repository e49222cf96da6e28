package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

var (
	// ErrCommissionInvalidInput signals the caller provided invalid data.
	ErrCommissionInvalidInput = errors.New("commission: invalid input")
	// ErrCommissionNoApplicableTier indicates no tier of the schedule covers the amount.
	ErrCommissionNoApplicableTier = errors.New("commission: no applicable tier")
	// ErrCommissionVendorNotFound indicates the vendor could not be located.
	ErrCommissionVendorNotFound = errors.New("commission: vendor not found")
)

// CommissionServiceDeps bundles collaborators required to construct the commission service.
type CommissionServiceDeps struct {
	Vendors repositories.VendorRepository
	Tiers   repositories.CommissionTierRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type commissionService struct {
	vendors repositories.VendorRepository
	tiers   repositories.CommissionTierRepository
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCommissionService wires dependencies into a concrete CommissionService implementation.
func NewCommissionService(deps CommissionServiceDeps) (CommissionService, error) {
	if deps.Vendors == nil {
		return nil, errors.New("commission service: vendor repository is required")
	}
	if deps.Tiers == nil {
		return nil, errors.New("commission service: tier repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &commissionService{
		vendors: deps.Vendors,
		tiers:   deps.Tiers,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *commissionService) Resolve(ctx context.Context, cmd ResolveCommissionCommand) (CommissionResolution, error) {
	vendorID := strings.TrimSpace(cmd.VendorID)
	if vendorID == "" {
		return CommissionResolution{}, fmt.Errorf("%w: vendor id is required", ErrCommissionInvalidInput)
	}
	if cmd.AmountMinor < 0 {
		return CommissionResolution{}, fmt.Errorf("%w: amount cannot be negative", ErrCommissionInvalidInput)
	}

	vendor, err := s.vendors.FindByID(ctx, vendorID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return CommissionResolution{}, fmt.Errorf("%w: %s", ErrCommissionVendorNotFound, vendorID)
		}
		return CommissionResolution{}, err
	}

	// A negotiated rate only holds while the vendor is active; suspended
	// vendors fall back to the schedule.
	if vendor.Active && vendor.CommissionOverrideBps != nil {
		rate := *vendor.CommissionOverrideBps
		return CommissionResolution{
			RateBps:     rate,
			AmountMinor: domain.ApplyBps(cmd.AmountMinor, rate),
			Description: "vendor override",
			Custom:      true,
		}, nil
	}

	tiers, err := s.tiers.ListActive(ctx)
	if err != nil {
		return CommissionResolution{}, err
	}

	var matches []CommissionTier
	for _, tier := range tiers {
		if cmd.AmountMinor < tier.MinAmountMinor {
			continue
		}
		if tier.MaxAmountMinor != nil && cmd.AmountMinor > *tier.MaxAmountMinor {
			continue
		}
		matches = append(matches, tier)
	}

	if len(matches) == 0 {
		return CommissionResolution{}, fmt.Errorf("%w: amount %d", ErrCommissionNoApplicableTier, cmd.AmountMinor)
	}

	selected := matches[0]
	for _, tier := range matches[1:] {
		if tier.Rank > selected.Rank {
			selected = tier
		}
	}
	if len(matches) > 1 {
		s.logger(ctx, "commission.tier.overlap", map[string]any{
			"amount":   cmd.AmountMinor,
			"matches":  len(matches),
			"selected": selected.ID,
			"rank":     selected.Rank,
		})
	}

	return CommissionResolution{
		RateBps:     selected.RateBps,
		AmountMinor: domain.ApplyBps(cmd.AmountMinor, selected.RateBps),
		TierID:      selected.ID,
		Description: selected.Description,
	}, nil
}

func (s *commissionService) ListTiers(ctx context.Context) ([]CommissionTier, error) {
	return s.tiers.ListActive(ctx)
}

func (s *commissionService) UpsertTier(ctx context.Context, cmd UpsertCommissionTierCommand) (CommissionTier, error) {
	if cmd.MinAmountMinor < 0 {
		return CommissionTier{}, fmt.Errorf("%w: minimum amount cannot be negative", ErrCommissionInvalidInput)
	}
	if cmd.MaxAmountMinor != nil && *cmd.MaxAmountMinor < cmd.MinAmountMinor {
		return CommissionTier{}, fmt.Errorf("%w: maximum amount %d below minimum %d", ErrCommissionInvalidInput, *cmd.MaxAmountMinor, cmd.MinAmountMinor)
	}
	if cmd.RateBps < 0 || cmd.RateBps > 10_000 {
		return CommissionTier{}, fmt.Errorf("%w: rate %d out of range [0, 10000]", ErrCommissionInvalidInput, cmd.RateBps)
	}
	if cmd.Rank < 0 {
		return CommissionTier{}, fmt.Errorf("%w: rank cannot be negative", ErrCommissionInvalidInput)
	}

	tier := CommissionTier{
		ID:             strings.TrimSpace(cmd.ID),
		MinAmountMinor: cmd.MinAmountMinor,
		MaxAmountMinor: cmd.MaxAmountMinor,
		RateBps:        cmd.RateBps,
		Rank:           cmd.Rank,
		Active:         cmd.Active,
		Description:    strings.TrimSpace(cmd.Description),
		UpdatedAt:      s.clock(),
	}

	saved, err := s.tiers.Upsert(ctx, tier)
	if err != nil {
		return CommissionTier{}, err
	}
	return saved, nil
}
