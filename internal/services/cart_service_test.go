package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

var fixedCartClock = func() time.Time {
	return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
}

func conflictRepoError(op string) error {
	return pfirestore.WrapError(op, status.Error(codes.FailedPrecondition, "precondition failed"))
}

type memoryCartRepository struct {
	cart      domain.Cart
	exists    bool
	upsertErr error
	upserts   int
}

func (m *memoryCartRepository) GetCart(ctx context.Context, customerID string) (domain.Cart, error) {
	if !m.exists {
		return domain.Cart{}, notFoundRepoError("carts.get")
	}
	return m.cart, nil
}

func (m *memoryCartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdatedAt *time.Time) (domain.Cart, error) {
	if m.upsertErr != nil {
		return domain.Cart{}, m.upsertErr
	}
	m.upserts++
	m.cart = cart
	m.exists = true
	return cart, nil
}

func (m *memoryCartRepository) DeleteCart(ctx context.Context, customerID string) error {
	if !m.exists {
		return notFoundRepoError("carts.delete")
	}
	m.exists = false
	m.cart = domain.Cart{}
	return nil
}

type stubCatalogRepository struct {
	products map[string]domain.Product
	adjustFn func(ctx context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error)
}

func (s *stubCatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if product, ok := s.products[productID]; ok {
		return product, nil
	}
	return domain.Product{}, notFoundRepoError("products.get")
}

func (s *stubCatalogRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product)
	for _, id := range productIDs {
		if product, ok := s.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

func (s *stubCatalogRepository) AdjustStock(ctx context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, req)
	}
	return repositories.StockAdjustResult{Stocks: map[string]int64{}}, nil
}

func newCartServiceForTest(t *testing.T, carts repositories.CartRepository, catalog repositories.CatalogRepository) CartService {
	t.Helper()
	seq := 0
	svc, err := NewCartService(CartServiceDeps{
		Carts:    carts,
		Catalog:  catalog,
		Currency: "MAD",
		Clock:    fixedCartClock,
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("%04d", seq)
		},
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func testCatalog() *stubCatalogRepository {
	return &stubCatalogRepository{products: map[string]domain.Product{
		"prod_scarf": {
			ID:          "prod_scarf",
			VendorID:    "ven_1",
			Name:        "Foulard en soie",
			PriceMinor:  25_000,
			Stock:       10,
			WeightGrams: 120,
			Sellable:    true,
		},
		"prod_lamp": {
			ID:          "prod_lamp",
			VendorID:    "ven_2",
			Name:        "Lampe artisanale",
			PriceMinor:  90_000,
			Stock:       4,
			WeightGrams: 2_300,
			Sellable:    true,
		},
		"prod_rug": {
			ID:          "prod_rug",
			VendorID:    "ven_2",
			Name:        "Tapis berbere",
			PriceMinor:  450_000,
			Stock:       0,
			WeightGrams: 8_000,
			Sellable:    true,
			MadeToOrder: true,
		},
	}}
}

func TestCartServiceGetOrCreateCartReturnsEmptyCart(t *testing.T) {
	svc := newCartServiceForTest(t, &memoryCartRepository{}, testCatalog())

	cart, err := svc.GetOrCreateCart(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("GetOrCreateCart: %v", err)
	}
	if cart.CustomerID != "cus_1" {
		t.Fatalf("expected customer cus_1, got %q", cart.CustomerID)
	}
	if cart.Currency != "MAD" {
		t.Fatalf("expected MAD currency, got %q", cart.Currency)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %d items", len(cart.Items))
	}
}

func TestCartServiceAddItemMergesSameVariant(t *testing.T) {
	repo := &memoryCartRepository{}
	svc := newCartServiceForTest(t, repo, testCatalog())
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_scarf", Quantity: 2, Color: "bleu"}); err != nil {
		t.Fatalf("first AddItem: %v", err)
	}
	cart, err := svc.AddItem(ctx, AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_scarf", Quantity: 3, Color: "bleu"})
	if err != nil {
		t.Fatalf("second AddItem: %v", err)
	}

	if len(cart.Items) != 1 {
		t.Fatalf("expected one merged line, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", cart.Items[0].Quantity)
	}
}

func TestCartServiceAddItemKeepsDistinctVariantsSeparate(t *testing.T) {
	repo := &memoryCartRepository{}
	svc := newCartServiceForTest(t, repo, testCatalog())
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_scarf", Quantity: 1, Color: "bleu"}); err != nil {
		t.Fatalf("AddItem bleu: %v", err)
	}
	cart, err := svc.AddItem(ctx, AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_scarf", Quantity: 1, Color: "rouge"})
	if err != nil {
		t.Fatalf("AddItem rouge: %v", err)
	}

	if len(cart.Items) != 2 {
		t.Fatalf("expected two lines, got %d", len(cart.Items))
	}
	if cart.Items[0].ID == cart.Items[1].ID {
		t.Fatalf("expected distinct item ids")
	}
}

func TestCartServiceAddItemClampsToStock(t *testing.T) {
	svc := newCartServiceForTest(t, &memoryCartRepository{}, testCatalog())

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_lamp", Quantity: 9})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	item := cart.Items[0]
	if item.Quantity != 4 {
		t.Fatalf("expected quantity clamped to 4, got %d", item.Quantity)
	}
	if !item.StockClamped {
		t.Fatalf("expected StockClamped flag")
	}
	if item.AvailableStock != 4 {
		t.Fatalf("expected available stock 4, got %d", item.AvailableStock)
	}
}

func TestCartServiceAddItemZeroStockFails(t *testing.T) {
	catalog := testCatalog()
	catalog.products["prod_lamp"] = domain.Product{
		ID: "prod_lamp", VendorID: "ven_2", Name: "Lampe artisanale",
		PriceMinor: 90_000, Stock: 0, Sellable: true,
	}
	svc := newCartServiceForTest(t, &memoryCartRepository{}, catalog)

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_lamp", Quantity: 1})
	if !errors.Is(err, ErrCartInsufficientStock) {
		t.Fatalf("expected ErrCartInsufficientStock, got %v", err)
	}
}

func TestCartServiceAddItemMadeToOrderIgnoresStock(t *testing.T) {
	svc := newCartServiceForTest(t, &memoryCartRepository{}, testCatalog())

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_rug", Quantity: 3})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if cart.Items[0].Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", cart.Items[0].Quantity)
	}
	if cart.Items[0].StockClamped {
		t.Fatalf("made to order line must not be clamped")
	}
}

func TestCartServiceAddItemUnsellableProduct(t *testing.T) {
	catalog := testCatalog()
	product := catalog.products["prod_scarf"]
	product.Sellable = false
	catalog.products["prod_scarf"] = product
	svc := newCartServiceForTest(t, &memoryCartRepository{}, catalog)

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_scarf", Quantity: 1})
	if !errors.Is(err, ErrCartProductUnavailable) {
		t.Fatalf("expected ErrCartProductUnavailable, got %v", err)
	}
}

func TestCartServiceUpdateQuantityBelowOneRemovesLine(t *testing.T) {
	repo := &memoryCartRepository{}
	svc := newCartServiceForTest(t, repo, testCatalog())
	ctx := context.Background()

	seeded, err := svc.AddItem(ctx, AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_scarf", Quantity: 2})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	cart, err := svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{CustomerID: "cus_1", ItemID: seeded.Items[0].ID, Quantity: 0})
	if err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected line removed, got %d items", len(cart.Items))
	}
}

func TestCartServiceUpdateQuantityUnknownItem(t *testing.T) {
	repo := &memoryCartRepository{}
	svc := newCartServiceForTest(t, repo, testCatalog())
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_scarf", Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	_, err := svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{CustomerID: "cus_1", ItemID: "itm_missing", Quantity: 2})
	if !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound, got %v", err)
	}
}

func TestCartServiceUpsertConflict(t *testing.T) {
	repo := &memoryCartRepository{upsertErr: conflictRepoError("carts.upsert")}
	svc := newCartServiceForTest(t, repo, testCatalog())

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_scarf", Quantity: 1})
	if !errors.Is(err, ErrCartConflict) {
		t.Fatalf("expected ErrCartConflict, got %v", err)
	}
}

func TestCartServiceSynchronizeReconcilesCart(t *testing.T) {
	repo := &memoryCartRepository{}
	catalog := testCatalog()
	svc := newCartServiceForTest(t, repo, catalog)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_scarf", Quantity: 2}); err != nil {
		t.Fatalf("AddItem scarf: %v", err)
	}
	if _, err := svc.AddItem(ctx, AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_lamp", Quantity: 4}); err != nil {
		t.Fatalf("AddItem lamp: %v", err)
	}

	// Catalog drifts after the lines were added.
	scarf := catalog.products["prod_scarf"]
	scarf.PriceMinor = 27_500
	catalog.products["prod_scarf"] = scarf
	lamp := catalog.products["prod_lamp"]
	lamp.Stock = 1
	catalog.products["prod_lamp"] = lamp

	cart, report, err := svc.Synchronize(ctx, "cus_1")
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}

	if len(report.RepricedProducts) != 1 || report.RepricedProducts[0] != "prod_scarf" {
		t.Fatalf("expected scarf repriced, got %v", report.RepricedProducts)
	}
	if len(report.ClampedProductIDs) != 1 || report.ClampedProductIDs[0] != "prod_lamp" {
		t.Fatalf("expected lamp clamped, got %v", report.ClampedProductIDs)
	}

	for _, item := range cart.Items {
		switch item.ProductID {
		case "prod_scarf":
			if item.UnitPriceMinor != 27_500 || !item.PriceChanged {
				t.Fatalf("expected scarf repriced to 27500, got %d (changed=%v)", item.UnitPriceMinor, item.PriceChanged)
			}
		case "prod_lamp":
			if item.Quantity != 1 || !item.StockClamped {
				t.Fatalf("expected lamp clamped to 1, got %d (clamped=%v)", item.Quantity, item.StockClamped)
			}
		}
	}
}

func TestCartServiceSynchronizeDropsRemovedProducts(t *testing.T) {
	repo := &memoryCartRepository{}
	catalog := testCatalog()
	svc := newCartServiceForTest(t, repo, catalog)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_scarf", Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	delete(catalog.products, "prod_scarf")

	cart, report, err := svc.Synchronize(ctx, "cus_1")
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %d items", len(cart.Items))
	}
	if len(report.RemovedProductIDs) != 1 || report.RemovedProductIDs[0] != "prod_scarf" {
		t.Fatalf("expected scarf removed, got %v", report.RemovedProductIDs)
	}
}

func TestCartServiceItemCountSumsQuantities(t *testing.T) {
	repo := &memoryCartRepository{}
	svc := newCartServiceForTest(t, repo, testCatalog())
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_scarf", Quantity: 2}); err != nil {
		t.Fatalf("AddItem scarf: %v", err)
	}
	if _, err := svc.AddItem(ctx, AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_lamp", Quantity: 3}); err != nil {
		t.Fatalf("AddItem lamp: %v", err)
	}

	count, err := svc.ItemCount(ctx, "cus_1")
	if err != nil {
		t.Fatalf("ItemCount: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 items, got %d", count)
	}
}

func TestCartServiceClearIsIdempotent(t *testing.T) {
	repo := &memoryCartRepository{}
	svc := newCartServiceForTest(t, repo, testCatalog())
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{CustomerID: "cus_1", ProductID: "prod_scarf", Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := svc.Clear(ctx, "cus_1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := svc.Clear(ctx, "cus_1"); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	if repo.exists {
		t.Fatalf("expected cart deleted")
	}
}
