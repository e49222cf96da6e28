package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const (
	loyaltyCollection       = "loyaltyAccounts"
	loyaltyLedgerCollection = "ledger"
)

// LoyaltyRepository owns point balances. Each movement appends a ledger entry
// under the account document; the balance is adjusted in the same transaction.
type LoyaltyRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[loyaltyAccountDocument]
}

// NewLoyaltyRepository constructs a Firestore-backed loyalty repository.
func NewLoyaltyRepository(provider *pfirestore.Provider) (*LoyaltyRepository, error) {
	if provider == nil {
		return nil, errors.New("loyalty repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[loyaltyAccountDocument](provider, loyaltyCollection, nil, nil)
	return &LoyaltyRepository{provider: provider, base: base}, nil
}

// Get fetches a customer's balance. A customer with no movements yet has a
// zero balance rather than an error.
func (r *LoyaltyRepository) Get(ctx context.Context, customerID string) (domain.LoyaltyAccount, error) {
	if r == nil || r.base == nil {
		return domain.LoyaltyAccount{}, errors.New("loyalty repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.LoyaltyAccount{}, errors.New("loyalty repository: customer id is required")
	}

	doc, err := r.base.Get(ctx, customerID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.LoyaltyAccount{CustomerID: customerID}, nil
		}
		return domain.LoyaltyAccount{}, err
	}
	return doc.Data.toDomain(customerID), nil
}

// Credit adds points to the balance and appends a ledger entry.
func (r *LoyaltyRepository) Credit(ctx context.Context, entry domain.LoyaltyEntry) (domain.LoyaltyAccount, error) {
	if entry.Points <= 0 {
		return domain.LoyaltyAccount{}, repositories.NewLoyaltyError(repositories.LoyaltyErrorInvalidInput, "credit points must be positive", nil)
	}
	return r.apply(ctx, "loyalty.credit", entry)
}

// Debit removes points from the balance and appends a ledger entry. The
// transaction aborts with a typed error when the balance cannot cover the
// debit; balances never go negative.
func (r *LoyaltyRepository) Debit(ctx context.Context, entry domain.LoyaltyEntry) (domain.LoyaltyAccount, error) {
	if entry.Points <= 0 {
		return domain.LoyaltyAccount{}, repositories.NewLoyaltyError(repositories.LoyaltyErrorInvalidInput, "debit points must be positive", nil)
	}
	entry.Points = -entry.Points
	return r.apply(ctx, "loyalty.debit", entry)
}

func (r *LoyaltyRepository) apply(ctx context.Context, op string, entry domain.LoyaltyEntry) (domain.LoyaltyAccount, error) {
	if r == nil || r.provider == nil {
		return domain.LoyaltyAccount{}, errors.New("loyalty repository not initialised")
	}
	customerID := strings.TrimSpace(entry.CustomerID)
	if customerID == "" {
		return domain.LoyaltyAccount{}, repositories.NewLoyaltyError(repositories.LoyaltyErrorInvalidInput, "customer id is required", nil)
	}

	now := entry.CreatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var account domain.LoyaltyAccount
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		accountRef, err := r.base.DocumentRef(ctx, customerID)
		if err != nil {
			return err
		}

		var doc loyaltyAccountDocument
		snap, err := tx.Get(accountRef)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode loyalty account %s: %w", customerID, err)
			}
		case status.Code(err) == codes.NotFound:
			doc = loyaltyAccountDocument{}
		default:
			return err
		}

		next := doc.Balance + entry.Points
		if next < 0 {
			return repositories.NewLoyaltyError(
				repositories.LoyaltyErrorInsufficientPoints,
				fmt.Sprintf("balance %d cannot cover debit of %d", doc.Balance, -entry.Points),
				nil,
			)
		}
		doc.Balance = next
		doc.UpdatedAt = now

		if err := tx.Set(accountRef, doc); err != nil {
			return err
		}

		ledgerRef := accountRef.Collection(loyaltyLedgerCollection).NewDoc()
		ledgerID := strings.TrimSpace(entry.ID)
		if ledgerID != "" {
			ledgerRef = accountRef.Collection(loyaltyLedgerCollection).Doc(ledgerID)
		}
		ledger := loyaltyEntryDocument{
			Points:    entry.Points,
			Reason:    strings.TrimSpace(entry.Reason),
			OrderID:   strings.TrimSpace(entry.OrderID),
			CreatedAt: now,
		}
		if err := tx.Create(ledgerRef, ledger); err != nil {
			return err
		}

		account = doc.toDomain(customerID)
		return nil
	})
	if err != nil {
		return domain.LoyaltyAccount{}, wrapLoyaltyError(op, err)
	}
	return account, nil
}

type loyaltyAccountDocument struct {
	Balance   int64     `firestore:"balance"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d loyaltyAccountDocument) toDomain(customerID string) domain.LoyaltyAccount {
	return domain.LoyaltyAccount{
		CustomerID: customerID,
		Balance:    d.Balance,
		UpdatedAt:  d.UpdatedAt,
	}
}

type loyaltyEntryDocument struct {
	Points    int64     `firestore:"points"`
	Reason    string    `firestore:"reason,omitempty"`
	OrderID   string    `firestore:"orderId,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func wrapLoyaltyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var loyaltyErr *repositories.LoyaltyError
	if errors.As(err, &loyaltyErr) {
		if loyaltyErr.Op == "" {
			loyaltyErr.Op = op
		}
		return loyaltyErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.LoyaltyRepository = (*LoyaltyRepository)(nil)
