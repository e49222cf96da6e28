package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/platform/requestctx"
	"github.com/souqline/api/internal/services"
)

type stubCartService struct {
	getOrCreateFunc func(ctx context.Context, customerID string) (services.Cart, error)
	addItemFunc     func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error)
	updateItemFunc  func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error)
	removeItemFunc  func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error)
	clearFunc       func(ctx context.Context, customerID string) error
	syncFunc        func(ctx context.Context, customerID string) (services.Cart, services.CartSyncReport, error)
}

func (s *stubCartService) GetOrCreateCart(ctx context.Context, customerID string) (services.Cart, error) {
	if s.getOrCreateFunc != nil {
		return s.getOrCreateFunc(ctx, customerID)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addItemFunc != nil {
		return s.addItemFunc(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	if s.updateItemFunc != nil {
		return s.updateItemFunc(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeItemFunc != nil {
		return s.removeItemFunc(ctx, cmd)
	}
	return services.Cart{}, nil
}

func (s *stubCartService) Clear(ctx context.Context, customerID string) error {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, customerID)
	}
	return nil
}

func (s *stubCartService) Synchronize(ctx context.Context, customerID string) (services.Cart, services.CartSyncReport, error) {
	if s.syncFunc != nil {
		return s.syncFunc(ctx, customerID)
	}
	return services.Cart{}, services.CartSyncReport{}, nil
}

func (s *stubCartService) ItemCount(ctx context.Context, customerID string) (int64, error) {
	return 0, nil
}

var _ services.CartService = (*stubCartService)(nil)

func newCartTestRouter(service services.CartService) chi.Router {
	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(service).Routes)
	return router
}

func cartTestRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(requestctx.WithCustomerID(req.Context(), "cus_7"))
}

func TestCartHandlersGetCart(t *testing.T) {
	now := time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC)
	service := &stubCartService{
		getOrCreateFunc: func(ctx context.Context, customerID string) (services.Cart, error) {
			if customerID != "cus_7" {
				t.Fatalf("unexpected customer id %q", customerID)
			}
			return services.Cart{
				ID:         "cus_7",
				CustomerID: "cus_7",
				Currency:   "mad",
				Items: []services.CartItem{
					{
						ID:             "itm_1",
						ProductID:      "prod_scarf",
						VendorID:       "ven_1",
						Name:           "Foulard en soie",
						Quantity:       2,
						Color:          "bleu",
						UnitPriceMinor: 25000,
						WeightGrams:    120,
						AddedAt:        now,
					},
				},
				UpdatedAt: now,
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	newCartTestRouter(service).ServeHTTP(rr, cartTestRequest(http.MethodGet, "/cart", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.Currency != "MAD" {
		t.Fatalf("expected currency MAD, got %q", resp.Cart.Currency)
	}
	if resp.Cart.ItemsCount != 2 || len(resp.Cart.Items) != 1 {
		t.Fatalf("expected one line of quantity 2, got count %d lines %d", resp.Cart.ItemsCount, len(resp.Cart.Items))
	}
	if resp.Cart.Items[0].UnitPrice != 25000 {
		t.Fatalf("expected unit price 25000, got %d", resp.Cart.Items[0].UnitPrice)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	var captured services.AddCartItemCommand
	service := &stubCartService{
		addItemFunc: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			captured = cmd
			return services.Cart{ID: "cus_7", CustomerID: "cus_7", Currency: "MAD"}, nil
		},
	}

	body := `{"product_id":"prod_lamp","quantity":3,"color":"cuivre","personalization_notes":"gravure"}`
	rr := httptest.NewRecorder()
	newCartTestRouter(service).ServeHTTP(rr, cartTestRequest(http.MethodPost, "/cart/items", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CustomerID != "cus_7" || captured.ProductID != "prod_lamp" || captured.Quantity != 3 {
		t.Fatalf("unexpected command %#v", captured)
	}
	if captured.Color != "cuivre" || captured.PersonalizationNotes != "gravure" {
		t.Fatalf("unexpected variant fields %#v", captured)
	}
}

func TestCartHandlersAddItemInvalidJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	newCartTestRouter(&stubCartService{}).ServeHTTP(rr, cartTestRequest(http.MethodPost, "/cart/items", `{"product_id":`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersAddItemInsufficientStock(t *testing.T) {
	service := &stubCartService{
		addItemFunc: func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartInsufficientStock
		},
	}

	rr := httptest.NewRecorder()
	newCartTestRouter(service).ServeHTTP(rr, cartTestRequest(http.MethodPost, "/cart/items", `{"product_id":"prod_rug","quantity":1}`))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if payload["error"] != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock code, got %v", payload["error"])
	}
}

func TestCartHandlersUpdateItem(t *testing.T) {
	var captured services.UpdateCartItemCommand
	service := &stubCartService{
		updateItemFunc: func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
			captured = cmd
			return services.Cart{ID: "cus_7", CustomerID: "cus_7"}, nil
		},
	}

	rr := httptest.NewRecorder()
	newCartTestRouter(service).ServeHTTP(rr, cartTestRequest(http.MethodPatch, "/cart/items/itm_9", `{"quantity":5}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ItemID != "itm_9" || captured.Quantity != 5 {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestCartHandlersUpdateItemNotFound(t *testing.T) {
	service := &stubCartService{
		updateItemFunc: func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartItemNotFound
		},
	}

	rr := httptest.NewRecorder()
	newCartTestRouter(service).ServeHTTP(rr, cartTestRequest(http.MethodPatch, "/cart/items/itm_missing", `{"quantity":1}`))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveItem(t *testing.T) {
	var captured services.RemoveCartItemCommand
	service := &stubCartService{
		removeItemFunc: func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
			captured = cmd
			return services.Cart{ID: "cus_7", CustomerID: "cus_7"}, nil
		},
	}

	rr := httptest.NewRecorder()
	newCartTestRouter(service).ServeHTTP(rr, cartTestRequest(http.MethodDelete, "/cart/items/itm_2", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ItemID != "itm_2" {
		t.Fatalf("expected item itm_2, got %q", captured.ItemID)
	}
}

func TestCartHandlersClear(t *testing.T) {
	cleared := ""
	service := &stubCartService{
		clearFunc: func(ctx context.Context, customerID string) error {
			cleared = customerID
			return nil
		},
	}

	rr := httptest.NewRecorder()
	newCartTestRouter(service).ServeHTTP(rr, cartTestRequest(http.MethodDelete, "/cart", ""))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if cleared != "cus_7" {
		t.Fatalf("expected clear for cus_7, got %q", cleared)
	}
}

func TestCartHandlersSynchronize(t *testing.T) {
	service := &stubCartService{
		syncFunc: func(ctx context.Context, customerID string) (services.Cart, services.CartSyncReport, error) {
			return services.Cart{ID: "cus_7", CustomerID: "cus_7", Currency: "MAD"}, services.CartSyncReport{
				RemovedProductIDs: []string{"prod_gone"},
				RepricedProducts:  []string{"prod_scarf"},
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	newCartTestRouter(service).ServeHTTP(rr, cartTestRequest(http.MethodPost, "/cart/sync", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp cartSyncResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Report.RemovedProductIDs) != 1 || resp.Report.RemovedProductIDs[0] != "prod_gone" {
		t.Fatalf("unexpected removed products %v", resp.Report.RemovedProductIDs)
	}
	if len(resp.Report.ClampedProductIDs) != 0 {
		t.Fatalf("expected empty clamped list, got %v", resp.Report.ClampedProductIDs)
	}
	if len(resp.Report.RepricedProducts) != 1 {
		t.Fatalf("unexpected repriced products %v", resp.Report.RepricedProducts)
	}
}

func TestCartHandlersMissingIdentity(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	newCartTestRouter(&stubCartService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	rr := httptest.NewRecorder()
	newCartTestRouter(nil).ServeHTTP(rr, cartTestRequest(http.MethodGet, "/cart", ""))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
