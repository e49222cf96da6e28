package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists carts within Firestore. The document is keyed by
// customer ID, so one active cart per customer holds by construction.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{base: base}, nil
}

// GetCart loads the cart for the given customer ID.
func (r *CartRepository) GetCart(ctx context.Context, customerID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(customerID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: customer id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}
	return cartFromDocument(doc), nil
}

// UpsertCart persists the whole cart document keyed by the customer ID. When
// expectedUpdatedAt is set the write is guarded against concurrent mutation.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdatedAt *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	id := strings.TrimSpace(cart.CustomerID)
	if id == "" {
		id = strings.TrimSpace(cart.ID)
	}
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: customer id is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := cartDocument{
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:     cartItemDocuments(cart.Items),
		CreatedAt: createdAt,
		UpdatedAt: now,
	}

	var (
		result pfirestore.MutationResult
		err    error
	)
	if expectedUpdatedAt == nil || expectedUpdatedAt.IsZero() {
		result, err = r.base.Set(ctx, id, doc)
	} else {
		result, err = r.base.Update(ctx, id, []firestore.Update{
			{Path: "currency", Value: doc.Currency},
			{Path: "items", Value: doc.Items},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}, firestore.LastUpdateTime(expectedUpdatedAt.UTC()))
	}
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cart
	saved.ID = id
	saved.CustomerID = id
	saved.Currency = doc.Currency
	saved.Items = make([]domain.CartItem, len(cart.Items))
	copy(saved.Items, cart.Items)
	saved.CreatedAt = createdAt
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// DeleteCart removes the customer's cart document. Deleting an absent cart is
// not an error.
func (r *CartRepository) DeleteCart(ctx context.Context, customerID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(customerID)
	if id == "" {
		return errors.New("cart repository: customer id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

func cartFromDocument(doc pfirestore.Document[cartDocument]) domain.Cart {
	items := make([]domain.CartItem, 0, len(doc.Data.Items))
	for _, item := range doc.Data.Items {
		items = append(items, domain.CartItem{
			ID:                   item.ID,
			ProductID:            item.ProductID,
			VendorID:             item.VendorID,
			Name:                 item.Name,
			Quantity:             item.Quantity,
			Size:                 item.Size,
			Color:                item.Color,
			PersonalizationNotes: item.PersonalizationNotes,
			UnitPriceMinor:       item.UnitPriceMinor,
			WeightGrams:          item.WeightGrams,
			MadeToOrder:          item.MadeToOrder,
			AddedAt:              item.AddedAt,
			UpdatedAt:            item.UpdatedAt,
		})
	}

	updatedAt := doc.UpdateTime
	if updatedAt.IsZero() {
		updatedAt = doc.Data.UpdatedAt
	}
	createdAt := doc.Data.CreatedAt
	if createdAt.IsZero() {
		createdAt = doc.UpdateTime
	}

	return domain.Cart{
		ID:         doc.ID,
		CustomerID: doc.ID,
		Currency:   strings.ToUpper(strings.TrimSpace(doc.Data.Currency)),
		Items:      items,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
}

func cartItemDocuments(items []domain.CartItem) []cartItemDocument {
	out := make([]cartItemDocument, 0, len(items))
	for _, item := range items {
		out = append(out, cartItemDocument{
			ID:                   item.ID,
			ProductID:            item.ProductID,
			VendorID:             item.VendorID,
			Name:                 item.Name,
			Quantity:             item.Quantity,
			Size:                 item.Size,
			Color:                item.Color,
			PersonalizationNotes: item.PersonalizationNotes,
			UnitPriceMinor:       item.UnitPriceMinor,
			WeightGrams:          item.WeightGrams,
			MadeToOrder:          item.MadeToOrder,
			AddedAt:              item.AddedAt,
			UpdatedAt:            item.UpdatedAt,
		})
	}
	return out
}

type cartDocument struct {
	Currency  string             `firestore:"currency"`
	Items     []cartItemDocument `firestore:"items"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID                   string    `firestore:"id"`
	ProductID            string    `firestore:"productId"`
	VendorID             string    `firestore:"vendorId"`
	Name                 string    `firestore:"name"`
	Quantity             int64     `firestore:"quantity"`
	Size                 string    `firestore:"size,omitempty"`
	Color                string    `firestore:"color,omitempty"`
	PersonalizationNotes string    `firestore:"personalizationNotes,omitempty"`
	UnitPriceMinor       int64     `firestore:"unitPrice"`
	WeightGrams          int64     `firestore:"weightGrams"`
	MadeToOrder          bool      `firestore:"madeToOrder"`
	AddedAt              time.Time `firestore:"addedAt"`
	UpdatedAt            time.Time `firestore:"updatedAt"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
