package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
)

func notFoundRepoError(op string) error {
	return pfirestore.WrapError(op, status.Error(codes.NotFound, "not found"))
}

type stubVendorRepository struct {
	findFn func(context.Context, string) (domain.Vendor, error)
}

func (s *stubVendorRepository) FindByID(ctx context.Context, vendorID string) (domain.Vendor, error) {
	if s.findFn != nil {
		return s.findFn(ctx, vendorID)
	}
	return domain.Vendor{ID: vendorID, Active: true}, nil
}

type stubTierRepository struct {
	listFn   func(context.Context) ([]domain.CommissionTier, error)
	upsertFn func(context.Context, domain.CommissionTier) (domain.CommissionTier, error)
}

func (s *stubTierRepository) ListActive(ctx context.Context) ([]domain.CommissionTier, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}

func (s *stubTierRepository) Upsert(ctx context.Context, tier domain.CommissionTier) (domain.CommissionTier, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, tier)
	}
	if tier.ID == "" {
		tier.ID = "tier_generated"
	}
	return tier, nil
}

func int64Ptr(v int64) *int64 {
	return &v
}

func defaultTierSchedule() []domain.CommissionTier {
	return []domain.CommissionTier{
		{ID: "tier_low", MinAmountMinor: 0, MaxAmountMinor: int64Ptr(9_999), RateBps: 1_000, Active: true},
		{ID: "tier_high", MinAmountMinor: 10_000, RateBps: 700, Active: true},
	}
}

func newCommissionServiceForTest(t *testing.T, vendors *stubVendorRepository, tiers *stubTierRepository) CommissionService {
	t.Helper()
	svc, err := NewCommissionService(CommissionServiceDeps{
		Vendors: vendors,
		Tiers:   tiers,
		Clock: func() time.Time {
			return time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("new commission service: %v", err)
	}
	return svc
}

func TestCommissionResolveBoundaryAmounts(t *testing.T) {
	tiers := &stubTierRepository{listFn: func(context.Context) ([]domain.CommissionTier, error) {
		return defaultTierSchedule(), nil
	}}
	svc := newCommissionServiceForTest(t, &stubVendorRepository{}, tiers)

	ctx := context.Background()

	res, err := svc.Resolve(ctx, ResolveCommissionCommand{VendorID: "vendor_1", AmountMinor: 9_999})
	if err != nil {
		t.Fatalf("resolve 9999: %v", err)
	}
	if res.RateBps != 1_000 {
		t.Fatalf("expected 1000 bps for 9999, got %d", res.RateBps)
	}
	if res.AmountMinor != 1_000 {
		t.Fatalf("expected commission 1000 for 9999, got %d", res.AmountMinor)
	}
	if res.TierID != "tier_low" {
		t.Fatalf("expected tier_low, got %q", res.TierID)
	}

	res, err = svc.Resolve(ctx, ResolveCommissionCommand{VendorID: "vendor_1", AmountMinor: 10_000})
	if err != nil {
		t.Fatalf("resolve 10000: %v", err)
	}
	if res.RateBps != 700 {
		t.Fatalf("expected 700 bps for 10000, got %d", res.RateBps)
	}
	if res.AmountMinor != 700 {
		t.Fatalf("expected commission 700 for 10000, got %d", res.AmountMinor)
	}
}

func TestCommissionResolveRoundsHalfUp(t *testing.T) {
	tiers := &stubTierRepository{listFn: func(context.Context) ([]domain.CommissionTier, error) {
		return []domain.CommissionTier{
			{ID: "tier", MinAmountMinor: 0, RateBps: 333, Active: true},
		}, nil
	}}
	svc := newCommissionServiceForTest(t, &stubVendorRepository{}, tiers)

	// 1001 * 333 = 333333 -> 33.3333 rounds to 33.
	res, err := svc.Resolve(context.Background(), ResolveCommissionCommand{VendorID: "vendor_1", AmountMinor: 1_001})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.AmountMinor != 33 {
		t.Fatalf("expected 33, got %d", res.AmountMinor)
	}

	// 1500 * 333 = 499500 -> 49.95 rounds to 50.
	res, err = svc.Resolve(context.Background(), ResolveCommissionCommand{VendorID: "vendor_1", AmountMinor: 1_500})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.AmountMinor != 50 {
		t.Fatalf("expected 50, got %d", res.AmountMinor)
	}
}

func TestCommissionResolveVendorOverrideSkipsTiers(t *testing.T) {
	vendors := &stubVendorRepository{findFn: func(_ context.Context, vendorID string) (domain.Vendor, error) {
		return domain.Vendor{ID: vendorID, CommissionOverrideBps: int64Ptr(500), Active: true}, nil
	}}
	tierCalls := 0
	tiers := &stubTierRepository{listFn: func(context.Context) ([]domain.CommissionTier, error) {
		tierCalls++
		return defaultTierSchedule(), nil
	}}
	svc := newCommissionServiceForTest(t, vendors, tiers)

	res, err := svc.Resolve(context.Background(), ResolveCommissionCommand{VendorID: "vendor_1", AmountMinor: 10_000})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Custom {
		t.Fatalf("expected custom resolution")
	}
	if res.RateBps != 500 || res.AmountMinor != 500 {
		t.Fatalf("expected 500 bps / 500 minor, got %d / %d", res.RateBps, res.AmountMinor)
	}
	if tierCalls != 0 {
		t.Fatalf("expected tier schedule untouched, got %d calls", tierCalls)
	}
}

func TestCommissionResolveInactiveVendorIgnoresOverride(t *testing.T) {
	vendors := &stubVendorRepository{findFn: func(_ context.Context, vendorID string) (domain.Vendor, error) {
		return domain.Vendor{ID: vendorID, CommissionOverrideBps: int64Ptr(500), Active: false}, nil
	}}
	tiers := &stubTierRepository{listFn: func(context.Context) ([]domain.CommissionTier, error) {
		return defaultTierSchedule(), nil
	}}
	svc := newCommissionServiceForTest(t, vendors, tiers)

	res, err := svc.Resolve(context.Background(), ResolveCommissionCommand{VendorID: "vendor_1", AmountMinor: 10_000})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Custom {
		t.Fatalf("suspended vendor must not keep its negotiated rate")
	}
	if res.TierID != "tier_high" || res.RateBps != 700 {
		t.Fatalf("expected tier_high at 700 bps, got %q at %d", res.TierID, res.RateBps)
	}
}

func TestCommissionResolveOverlapPrefersHighestRank(t *testing.T) {
	tiers := &stubTierRepository{listFn: func(context.Context) ([]domain.CommissionTier, error) {
		return []domain.CommissionTier{
			{ID: "tier_a", MinAmountMinor: 0, MaxAmountMinor: int64Ptr(20_000), RateBps: 1_000, Rank: 1, Active: true},
			{ID: "tier_b", MinAmountMinor: 5_000, MaxAmountMinor: int64Ptr(15_000), RateBps: 800, Rank: 5, Active: true},
		}, nil
	}}

	var loggedEvents []string
	svc, err := NewCommissionService(CommissionServiceDeps{
		Vendors: &stubVendorRepository{},
		Tiers:   tiers,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			loggedEvents = append(loggedEvents, event)
		},
	})
	if err != nil {
		t.Fatalf("new commission service: %v", err)
	}

	res, err := svc.Resolve(context.Background(), ResolveCommissionCommand{VendorID: "vendor_1", AmountMinor: 10_000})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.TierID != "tier_b" {
		t.Fatalf("expected tier_b, got %q", res.TierID)
	}
	if len(loggedEvents) != 1 || loggedEvents[0] != "commission.tier.overlap" {
		t.Fatalf("expected overlap log event, got %v", loggedEvents)
	}
}

func TestCommissionResolveNoTierMatches(t *testing.T) {
	tiers := &stubTierRepository{listFn: func(context.Context) ([]domain.CommissionTier, error) {
		return []domain.CommissionTier{
			{ID: "tier", MinAmountMinor: 50_000, RateBps: 500, Active: true},
		}, nil
	}}
	svc := newCommissionServiceForTest(t, &stubVendorRepository{}, tiers)

	_, err := svc.Resolve(context.Background(), ResolveCommissionCommand{VendorID: "vendor_1", AmountMinor: 100})
	if !errors.Is(err, ErrCommissionNoApplicableTier) {
		t.Fatalf("expected ErrCommissionNoApplicableTier, got %v", err)
	}
}

func TestCommissionResolveVendorNotFound(t *testing.T) {
	vendors := &stubVendorRepository{findFn: func(context.Context, string) (domain.Vendor, error) {
		return domain.Vendor{}, notFoundRepoError("vendors.get")
	}}
	svc := newCommissionServiceForTest(t, vendors, &stubTierRepository{})

	_, err := svc.Resolve(context.Background(), ResolveCommissionCommand{VendorID: "missing", AmountMinor: 100})
	if !errors.Is(err, ErrCommissionVendorNotFound) {
		t.Fatalf("expected ErrCommissionVendorNotFound, got %v", err)
	}
}

func TestCommissionUpsertTierValidation(t *testing.T) {
	svc := newCommissionServiceForTest(t, &stubVendorRepository{}, &stubTierRepository{})
	ctx := context.Background()

	if _, err := svc.UpsertTier(ctx, UpsertCommissionTierCommand{MinAmountMinor: 100, MaxAmountMinor: int64Ptr(50), RateBps: 500}); !errors.Is(err, ErrCommissionInvalidInput) {
		t.Fatalf("expected invalid input for max below min, got %v", err)
	}
	if _, err := svc.UpsertTier(ctx, UpsertCommissionTierCommand{RateBps: 10_001}); !errors.Is(err, ErrCommissionInvalidInput) {
		t.Fatalf("expected invalid input for rate out of range, got %v", err)
	}
	if _, err := svc.UpsertTier(ctx, UpsertCommissionTierCommand{RateBps: 500, Rank: -1}); !errors.Is(err, ErrCommissionInvalidInput) {
		t.Fatalf("expected invalid input for negative rank, got %v", err)
	}

	saved, err := svc.UpsertTier(ctx, UpsertCommissionTierCommand{MinAmountMinor: 0, MaxAmountMinor: int64Ptr(9_999), RateBps: 1_000, Active: true})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if saved.ID == "" {
		t.Fatalf("expected assigned tier id")
	}
	if saved.UpdatedAt.IsZero() {
		t.Fatalf("expected updated timestamp")
	}
}
