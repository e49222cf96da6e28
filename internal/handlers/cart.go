package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the customer's cart endpoints.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs handlers backed by the cart service.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Post("/sync", h.synchronize)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetOrCreateCart(ctx, customerID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(ctx, customerID); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type addCartItemRequest struct {
	ProductID            string `json:"product_id"`
	Quantity             int64  `json:"quantity"`
	Size                 string `json:"size"`
	Color                string `json:"color"`
	PersonalizationNotes string `json:"personalization_notes"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}

	var req addCartItemRequest
	if !decodeRequestBody(ctx, w, r, &req) {
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		CustomerID:           customerID,
		ProductID:            strings.TrimSpace(req.ProductID),
		Quantity:             req.Quantity,
		Size:                 strings.TrimSpace(req.Size),
		Color:                strings.TrimSpace(req.Color),
		PersonalizationNotes: strings.TrimSpace(req.PersonalizationNotes),
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type updateCartItemRequest struct {
	Quantity int64 `json:"quantity"`
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	var req updateCartItemRequest
	if !decodeRequestBody(ctx, w, r, &req) {
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		CustomerID: customerID,
		ItemID:     itemID,
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		CustomerID: customerID,
		ItemID:     itemID,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) synchronize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}

	cart, report, err := h.carts.Synchronize(ctx, customerID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	response := cartSyncResponse{
		Cart: buildCartPayload(cart),
		Report: cartSyncReportPayload{
			RemovedProductIDs: emptyIfNil(report.RemovedProductIDs),
			ClampedProductIDs: emptyIfNil(report.ClampedProductIDs),
			RepricedProducts:  emptyIfNil(report.RepricedProducts),
		},
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", "product is no longer available", http.StatusConflict))
	case errors.Is(err, services.ErrCartInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

func decodeRequestBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartSyncResponse struct {
	Cart   cartPayload           `json:"cart"`
	Report cartSyncReportPayload `json:"report"`
}

type cartSyncReportPayload struct {
	RemovedProductIDs []string `json:"removed_product_ids"`
	ClampedProductIDs []string `json:"clamped_product_ids"`
	RepricedProducts  []string `json:"repriced_products"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer_id"`
	Currency   string            `json:"currency"`
	ItemsCount int64             `json:"items_count"`
	Items      []cartItemPayload `json:"items"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	ID                   string `json:"id"`
	ProductID            string `json:"product_id"`
	VendorID             string `json:"vendor_id"`
	Name                 string `json:"name,omitempty"`
	Quantity             int64  `json:"quantity"`
	Size                 string `json:"size,omitempty"`
	Color                string `json:"color,omitempty"`
	PersonalizationNotes string `json:"personalization_notes,omitempty"`
	UnitPrice            int64  `json:"unit_price"`
	WeightGrams          int64  `json:"weight_grams,omitempty"`
	MadeToOrder          bool   `json:"made_to_order,omitempty"`
	PriceChanged         bool   `json:"price_changed,omitempty"`
	StockClamped         bool   `json:"stock_clamped,omitempty"`
	AvailableStock       int64  `json:"available_stock,omitempty"`
	AddedAt              string `json:"added_at,omitempty"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:         strings.TrimSpace(cart.ID),
		CustomerID: strings.TrimSpace(cart.CustomerID),
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:      make([]cartItemPayload, 0, len(cart.Items)),
	}
	for _, item := range cart.Items {
		payload.ItemsCount += item.Quantity
		payload.Items = append(payload.Items, cartItemPayload{
			ID:                   strings.TrimSpace(item.ID),
			ProductID:            strings.TrimSpace(item.ProductID),
			VendorID:             strings.TrimSpace(item.VendorID),
			Name:                 strings.TrimSpace(item.Name),
			Quantity:             item.Quantity,
			Size:                 strings.TrimSpace(item.Size),
			Color:                strings.TrimSpace(item.Color),
			PersonalizationNotes: strings.TrimSpace(item.PersonalizationNotes),
			UnitPrice:            item.UnitPriceMinor,
			WeightGrams:          item.WeightGrams,
			MadeToOrder:          item.MadeToOrder,
			PriceChanged:         item.PriceChanged,
			StockClamped:         item.StockClamped,
			AvailableStock:       item.AvailableStock,
			AddedAt:              formatTime(item.AddedAt),
		})
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}
	return payload
}
