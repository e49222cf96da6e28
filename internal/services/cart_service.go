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

const cartItemIDPrefix = "itm_"

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartItemNotFound indicates the referenced line does not exist in the customer's cart.
	ErrCartItemNotFound = errors.New("cart service: item not found")
	// ErrCartProductUnavailable indicates the product does not exist or is no longer sellable.
	ErrCartProductUnavailable = errors.New("cart service: product unavailable")
	// ErrCartInsufficientStock indicates the product has no stock left to add.
	ErrCartInsufficientStock = errors.New("cart service: insufficient stock")
	// ErrCartConflict indicates a concurrent mutation won the write race.
	ErrCartConflict = errors.New("cart service: conflict")
	// ErrCartUnavailable indicates the backing store cannot fulfil the request.
	ErrCartUnavailable = errors.New("cart service: unavailable")
)

// CartServiceDeps wires the repositories and defaults for cart operations.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Catalog     repositories.CatalogRepository
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	catalog  repositories.CatalogRepository
	currency string
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog repository is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "MAD"
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

	return &cartService{
		carts:    deps.Carts,
		catalog:  deps.Catalog,
		currency: currency,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// GetOrCreateCart loads the active cart for the customer, creating an empty
// cart when absent.
func (s *cartService) GetOrCreateCart(ctx context.Context, customerID string) (Cart, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Cart{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}

	cart, _, err := s.loadCart(ctx, customerID)
	if err != nil {
		return Cart{}, err
	}
	return cart, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Cart{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	product, err := s.lookupProduct(ctx, productID)
	if err != nil {
		return Cart{}, err
	}

	cart, expected, err := s.loadCart(ctx, customerID)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	size := strings.TrimSpace(cmd.Size)
	color := strings.TrimSpace(cmd.Color)
	notes := strings.TrimSpace(cmd.PersonalizationNotes)

	merged := false
	for i := range cart.Items {
		item := &cart.Items[i]
		if item.ProductID != productID || item.Size != size || item.Color != color {
			continue
		}
		quantity, clamped, err := capQuantity(product, item.Quantity+cmd.Quantity)
		if err != nil {
			return Cart{}, err
		}
		item.Quantity = quantity
		item.StockClamped = clamped
		item.AvailableStock = product.Stock
		item.PriceChanged = item.UnitPriceMinor != product.PriceMinor
		item.UnitPriceMinor = product.PriceMinor
		item.WeightGrams = product.WeightGrams
		item.MadeToOrder = product.MadeToOrder
		item.PersonalizationNotes = notes
		item.UpdatedAt = now
		merged = true
		break
	}

	if !merged {
		quantity, clamped, err := capQuantity(product, cmd.Quantity)
		if err != nil {
			return Cart{}, err
		}
		cart.Items = append(cart.Items, CartItem{
			ID:                   cartItemIDPrefix + s.newID(),
			ProductID:            productID,
			VendorID:             product.VendorID,
			Name:                 product.Name,
			Quantity:             quantity,
			Size:                 size,
			Color:                color,
			PersonalizationNotes: notes,
			UnitPriceMinor:       product.PriceMinor,
			WeightGrams:          product.WeightGrams,
			MadeToOrder:          product.MadeToOrder,
			StockClamped:         clamped,
			AvailableStock:       product.Stock,
			AddedAt:              now,
			UpdatedAt:            now,
		})
	}

	return s.saveCart(ctx, cart, expected, now)
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Cart{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Cart{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}

	cart, expected, err := s.loadCart(ctx, customerID)
	if err != nil {
		return Cart{}, err
	}

	idx := cartItemIndex(cart, itemID)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, itemID)
	}

	now := s.now()

	if cmd.Quantity < 1 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
		return s.saveCart(ctx, cart, expected, now)
	}

	item := &cart.Items[idx]
	product, err := s.lookupProduct(ctx, item.ProductID)
	if err != nil {
		return Cart{}, err
	}

	quantity, clamped, err := capQuantity(product, cmd.Quantity)
	if err != nil {
		return Cart{}, err
	}
	item.Quantity = quantity
	item.StockClamped = clamped
	item.AvailableStock = product.Stock
	item.PriceChanged = item.UnitPriceMinor != product.PriceMinor
	item.UnitPriceMinor = product.PriceMinor
	item.UpdatedAt = now

	return s.saveCart(ctx, cart, expected, now)
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Cart{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Cart{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}

	cart, expected, err := s.loadCart(ctx, customerID)
	if err != nil {
		return Cart{}, err
	}

	idx := cartItemIndex(cart, itemID)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, itemID)
	}
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)

	return s.saveCart(ctx, cart, expected, s.now())
}

func (s *cartService) Clear(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}
	if err := s.carts.DeleteCart(ctx, customerID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return s.translateRepoError(err)
	}
	return nil
}

// Synchronize reconciles the cart against the live catalog. Lines whose
// product vanished or stopped selling are dropped, quantities are clamped to
// current stock, and stale price snapshots are refreshed and flagged.
func (s *cartService) Synchronize(ctx context.Context, customerID string) (Cart, CartSyncReport, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Cart{}, CartSyncReport{}, fmt.Errorf("%w: customer id is required", ErrCartInvalidInput)
	}

	cart, expected, err := s.loadCart(ctx, customerID)
	if err != nil {
		return Cart{}, CartSyncReport{}, err
	}
	if len(cart.Items) == 0 {
		return cart, CartSyncReport{}, nil
	}

	productIDs := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := s.catalog.GetProducts(ctx, productIDs)
	if err != nil {
		return Cart{}, CartSyncReport{}, s.translateRepoError(err)
	}

	now := s.now()
	var report CartSyncReport
	kept := cart.Items[:0]
	for _, item := range cart.Items {
		product, ok := products[item.ProductID]
		if !ok || !product.Sellable {
			report.RemovedProductIDs = append(report.RemovedProductIDs, item.ProductID)
			continue
		}

		item.StockClamped = false
		item.AvailableStock = product.Stock
		if !product.MadeToOrder && item.Quantity > product.Stock {
			if product.Stock < 1 {
				report.RemovedProductIDs = append(report.RemovedProductIDs, item.ProductID)
				continue
			}
			item.Quantity = product.Stock
			item.StockClamped = true
			report.ClampedProductIDs = append(report.ClampedProductIDs, item.ProductID)
		}

		item.PriceChanged = item.UnitPriceMinor != product.PriceMinor
		if item.PriceChanged {
			item.UnitPriceMinor = product.PriceMinor
			report.RepricedProducts = append(report.RepricedProducts, item.ProductID)
		}
		item.Name = product.Name
		item.WeightGrams = product.WeightGrams
		item.MadeToOrder = product.MadeToOrder
		item.UpdatedAt = now
		kept = append(kept, item)
	}
	cart.Items = kept

	saved, err := s.saveCart(ctx, cart, expected, now)
	if err != nil {
		return Cart{}, CartSyncReport{}, err
	}
	if len(report.RemovedProductIDs) > 0 || len(report.ClampedProductIDs) > 0 || len(report.RepricedProducts) > 0 {
		s.logger(ctx, "cart.synchronized", map[string]any{
			"customerId": customerID,
			"removed":    len(report.RemovedProductIDs),
			"clamped":    len(report.ClampedProductIDs),
			"repriced":   len(report.RepricedProducts),
		})
	}
	return saved, report, nil
}

func (s *cartService) ItemCount(ctx context.Context, customerID string) (int64, error) {
	cart, err := s.GetOrCreateCart(ctx, customerID)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, item := range cart.Items {
		count += item.Quantity
	}
	return count, nil
}

func (s *cartService) lookupProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, fmt.Errorf("%w: %s", ErrCartProductUnavailable, productID)
		}
		return domain.Product{}, s.translateRepoError(err)
	}
	if !product.Sellable {
		return domain.Product{}, fmt.Errorf("%w: %s", ErrCartProductUnavailable, productID)
	}
	return product, nil
}

// loadCart returns the stored cart plus its UpdatedAt for optimistic locking,
// or a fresh unsaved cart when the customer has none yet.
func (s *cartService) loadCart(ctx context.Context, customerID string) (Cart, *time.Time, error) {
	cart, err := s.carts.GetCart(ctx, customerID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			now := s.now()
			return Cart{
				ID:         customerID,
				CustomerID: customerID,
				Currency:   s.currency,
				Items:      []CartItem{},
				CreatedAt:  now,
				UpdatedAt:  now,
			}, nil, nil
		}
		return Cart{}, nil, s.translateRepoError(err)
	}
	expected := cart.UpdatedAt
	return cart, &expected, nil
}

func (s *cartService) saveCart(ctx context.Context, cart Cart, expected *time.Time, now time.Time) (Cart, error) {
	cart.UpdatedAt = now
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	saved, err := s.carts.UpsertCart(ctx, cart, expected)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return Cart{}, fmt.Errorf("%w: cart changed concurrently", ErrCartConflict)
		}
		return Cart{}, s.translateRepoError(err)
	}
	return saved, nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
	}
	return err
}

func cartItemIndex(cart Cart, itemID string) int {
	for i, item := range cart.Items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

// capQuantity limits the requested quantity to the available stock. Made to
// order products are never capped. Zero stock on a stocked product is a
// conflict rather than a silent clamp.
func capQuantity(product domain.Product, requested int64) (int64, bool, error) {
	if product.MadeToOrder {
		return requested, false, nil
	}
	if product.Stock < 1 {
		return 0, false, fmt.Errorf("%w: %s", ErrCartInsufficientStock, product.ID)
	}
	if requested > product.Stock {
		return product.Stock, true, nil
	}
	return requested, false, nil
}
