package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/souqline/api/internal/domain"
	"github.com/souqline/api/internal/repositories"
)

const loyaltyEntryIDPrefix = "lpe_"

var (
	// ErrLoyaltyInvalidInput indicates the caller supplied invalid input.
	ErrLoyaltyInvalidInput = errors.New("loyalty service: invalid input")
	// ErrLoyaltyInsufficientPoints indicates the balance cannot cover a debit.
	ErrLoyaltyInsufficientPoints = errors.New("loyalty service: insufficient points")
)

// LoyaltyServiceDeps wires the ledger repository for balance operations.
type LoyaltyServiceDeps struct {
	Ledger      repositories.LoyaltyRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type loyaltyService struct {
	ledger repositories.LoyaltyRepository
	now    func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewLoyaltyService constructs a LoyaltyService enforcing dependency validation.
func NewLoyaltyService(deps LoyaltyServiceDeps) (LoyaltyService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("loyalty service: ledger repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &loyaltyService{
		ledger: deps.Ledger,
		now:    func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Balance reads the customer's point balance. A customer without an account
// reads as zero.
func (s *loyaltyService) Balance(ctx context.Context, customerID string) (LoyaltyAccount, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return LoyaltyAccount{}, fmt.Errorf("%w: customer id is required", ErrLoyaltyInvalidInput)
	}
	account, err := s.ledger.Get(ctx, customerID)
	if err != nil {
		return LoyaltyAccount{}, err
	}
	return account, nil
}

func (s *loyaltyService) Credit(ctx context.Context, cmd LoyaltyAdjustCommand) (LoyaltyAccount, error) {
	entry, err := s.buildEntry(cmd)
	if err != nil {
		return LoyaltyAccount{}, err
	}
	account, err := s.ledger.Credit(ctx, entry)
	if err != nil {
		return LoyaltyAccount{}, s.translateLedgerError(err)
	}
	s.logger(ctx, "loyalty.credited", map[string]any{
		"customerId": entry.CustomerID,
		"points":     entry.Points,
		"reason":     entry.Reason,
	})
	return account, nil
}

func (s *loyaltyService) Debit(ctx context.Context, cmd LoyaltyAdjustCommand) (LoyaltyAccount, error) {
	entry, err := s.buildEntry(cmd)
	if err != nil {
		return LoyaltyAccount{}, err
	}
	account, err := s.ledger.Debit(ctx, entry)
	if err != nil {
		return LoyaltyAccount{}, s.translateLedgerError(err)
	}
	s.logger(ctx, "loyalty.debited", map[string]any{
		"customerId": entry.CustomerID,
		"points":     entry.Points,
		"reason":     entry.Reason,
	})
	return account, nil
}

func (s *loyaltyService) buildEntry(cmd LoyaltyAdjustCommand) (domain.LoyaltyEntry, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return domain.LoyaltyEntry{}, fmt.Errorf("%w: customer id is required", ErrLoyaltyInvalidInput)
	}
	if cmd.Points < 1 {
		return domain.LoyaltyEntry{}, fmt.Errorf("%w: points must be at least 1", ErrLoyaltyInvalidInput)
	}
	return domain.LoyaltyEntry{
		ID:         loyaltyEntryIDPrefix + s.newID(),
		CustomerID: customerID,
		Points:     cmd.Points,
		Reason:     strings.TrimSpace(cmd.Reason),
		OrderID:    strings.TrimSpace(cmd.OrderID),
		CreatedAt:  s.now(),
	}, nil
}

func (s *loyaltyService) translateLedgerError(err error) error {
	if err == nil {
		return nil
	}
	var loyaltyErr *repositories.LoyaltyError
	if errors.As(err, &loyaltyErr) {
		switch loyaltyErr.Code {
		case repositories.LoyaltyErrorInsufficientPoints:
			return fmt.Errorf("%w: %v", ErrLoyaltyInsufficientPoints, err)
		case repositories.LoyaltyErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrLoyaltyInvalidInput, err)
		}
	}
	return err
}
