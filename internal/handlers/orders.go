package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 16 * 1024
)

// OrderHandlers exposes checkout and the order lifecycle endpoints.
type OrderHandlers struct {
	orders  services.OrderService
	limiter rateLimiter
}

// OrderOption customises order handler construction.
type OrderOption func(*OrderHandlers)

// WithCheckoutRateLimit throttles order creation per customer. Checkout is
// unlimited when no limit is configured.
func WithCheckoutRateLimit(limit int, window time.Duration) OrderOption {
	return func(h *OrderHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/delivery", h.getDelivery)
	r.Post("/{orderID}/confirm", h.transition(func(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
		return h.orders.Confirm(ctx, cmd)
	}))
	r.Post("/{orderID}/preparation", h.transition(func(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
		return h.orders.StartPreparation(ctx, cmd)
	}))
	r.Post("/{orderID}/ready", h.transition(func(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
		return h.orders.MarkReady(ctx, cmd)
	}))
	r.Post("/{orderID}/ship", h.shipOrder)
	r.Post("/{orderID}/delivery", h.transition(func(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
		return h.orders.StartDelivery(ctx, cmd)
	}))
	r.Post("/{orderID}/deliver", h.transition(func(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
		return h.orders.Deliver(ctx, cmd)
	}))
	r.Post("/{orderID}/return", h.transition(func(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
		return h.orders.Return(ctx, cmd)
	}))
	r.Post("/{orderID}/refund", h.transition(func(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
		return h.orders.Refund(ctx, cmd)
	}))
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

type createOrderRequest struct {
	ShippingType          string         `json:"shipping_type"`
	Address               addressPayload `json:"address"`
	RemoteCity            bool           `json:"remote_city"`
	LoyaltyPointsToRedeem int64          `json:"loyalty_points_to_redeem"`
	Notes                 string         `json:"notes"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(customerID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateFromCart(ctx, services.CreateOrderCommand{
		CustomerID:            customerID,
		ShippingType:          services.ShippingType(strings.ToUpper(strings.TrimSpace(req.ShippingType))),
		Address:               addressFromPayload(req.Address),
		RemoteCity:            req.RemoteCity,
		LoyaltyPointsToRedeem: req.LoyaltyPointsToRedeem,
		Notes:                 strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	listQuery := services.OrderListQuery{
		CustomerID: customerID,
		Status:     parseFilterValues(query["status"]),
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		listQuery.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		listQuery.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}
	listQuery.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.orders.ListOrders(ctx, listQuery)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDFromRequest(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, customerID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDFromRequest(w, r)
	if !ok {
		return
	}

	delivery, err := h.orders.GetDelivery(ctx, customerID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, deliveryResponse{Delivery: buildDeliveryPayload(delivery)})
}

func (h *OrderHandlers) transition(apply func(context.Context, services.TransitionOrderCommand) (services.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.orders == nil {
			httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
			return
		}

		customerID, ok := customerFromRequest(w, r)
		if !ok {
			return
		}
		orderID, ok := orderIDFromRequest(w, r)
		if !ok {
			return
		}

		order, err := apply(ctx, services.TransitionOrderCommand{
			CustomerID: customerID,
			OrderID:    orderID,
		})
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}

		writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
	}
}

type shipOrderRequest struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

func (h *OrderHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDFromRequest(w, r)
	if !ok {
		return
	}

	var req shipOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Ship(ctx, services.ShipOrderCommand{
		CustomerID:     customerID,
		OrderID:        orderID,
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		Carrier:        strings.TrimSpace(req.Carrier),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDFromRequest(w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		CustomerID: customerID,
		OrderID:    orderID,
		Reason:     strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func orderIDFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderCartOutOfSync):
		httpx.WriteError(ctx, w, httpx.NewError("cart_out_of_sync", "cart has changed; review it and retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInsufficientPoints):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_points", "loyalty balance is too low", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrShippingNoRoute):
		httpx.WriteError(ctx, w, httpx.NewError("shipping_route_not_found", "no shipping route serves this destination", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID        string `json:"id"`
	Number    string `json:"number"`
	Status    string `json:"status"`
	Type      string `json:"type"`
	Currency  string `json:"currency"`
	Total     int64  `json:"total"`
	CreatedAt string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                    string             `json:"id"`
	Number                string             `json:"number"`
	CustomerID            string             `json:"customer_id"`
	Status                string             `json:"status"`
	Type                  string             `json:"type"`
	Currency              string             `json:"currency"`
	Lines                 []orderLinePayload `json:"lines"`
	Totals                orderTotalsPayload `json:"totals"`
	LoyaltyPointsRedeemed int64              `json:"loyalty_points_redeemed,omitempty"`
	ManualReview          bool               `json:"manual_review,omitempty"`
	CancelReason          string             `json:"cancel_reason,omitempty"`
	Notes                 string             `json:"notes,omitempty"`
	ConfirmedAt           string             `json:"confirmed_at,omitempty"`
	ShippedAt             string             `json:"shipped_at,omitempty"`
	DeliveredAt           string             `json:"delivered_at,omitempty"`
	CanceledAt            string             `json:"canceled_at,omitempty"`
	ReturnedAt            string             `json:"returned_at,omitempty"`
	RefundedAt            string             `json:"refunded_at,omitempty"`
	CreatedAt             string             `json:"created_at"`
	UpdatedAt             string             `json:"updated_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal   int64 `json:"subtotal"`
	Commission int64 `json:"commission"`
	Shipping   int64 `json:"shipping"`
	Discount   int64 `json:"discount"`
	Total      int64 `json:"total"`
}

type orderLinePayload struct {
	ProductID            string `json:"product_id"`
	VendorID             string `json:"vendor_id"`
	Name                 string `json:"name,omitempty"`
	Quantity             int64  `json:"quantity"`
	Size                 string `json:"size,omitempty"`
	Color                string `json:"color,omitempty"`
	PersonalizationNotes string `json:"personalization_notes,omitempty"`
	UnitPrice            int64  `json:"unit_price"`
	Subtotal             int64  `json:"subtotal"`
	CommissionBps        int64  `json:"commission_bps"`
	Commission           int64  `json:"commission"`
	MadeToOrder          bool   `json:"made_to_order,omitempty"`
	WeightGrams          int64  `json:"weight_grams,omitempty"`
}

type deliveryResponse struct {
	Delivery deliveryPayload `json:"delivery"`
}

type deliveryPayload struct {
	ID                string         `json:"id"`
	OrderID           string         `json:"order_id"`
	Type              string         `json:"type"`
	Address           addressPayload `json:"address"`
	RemoteCity        bool           `json:"remote_city,omitempty"`
	WeightGrams       int64          `json:"weight_grams"`
	Cost              int64          `json:"cost"`
	Status            string         `json:"status"`
	TrackingNumber    string         `json:"tracking_number,omitempty"`
	Carrier           string         `json:"carrier,omitempty"`
	EstimatedDelivery string         `json:"estimated_delivery,omitempty"`
	DeliveredAt       string         `json:"delivered_at,omitempty"`
	CreatedAt         string         `json:"created_at"`
	UpdatedAt         string         `json:"updated_at,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:        strings.TrimSpace(order.ID),
		Number:    strings.TrimSpace(order.Number),
		Status:    string(order.Status),
		Type:      string(order.Type),
		Currency:  strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:     order.Totals.TotalMinor,
		CreatedAt: formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:         strings.TrimSpace(order.ID),
		Number:     strings.TrimSpace(order.Number),
		CustomerID: strings.TrimSpace(order.CustomerID),
		Status:     string(order.Status),
		Type:       string(order.Type),
		Currency:   strings.ToUpper(strings.TrimSpace(order.Currency)),
		Lines:      make([]orderLinePayload, 0, len(order.Lines)),
		Totals: orderTotalsPayload{
			Subtotal:   order.Totals.SubtotalMinor,
			Commission: order.Totals.CommissionMinor,
			Shipping:   order.Totals.ShippingMinor,
			Discount:   order.Totals.DiscountMinor,
			Total:      order.Totals.TotalMinor,
		},
		LoyaltyPointsRedeemed: order.LoyaltyPointsRedeemed,
		ManualReview:          order.ManualReview,
		CancelReason:          strings.TrimSpace(order.CancelReason),
		Notes:                 strings.TrimSpace(order.Notes),
		ConfirmedAt:           formatTimePtr(order.StatusTimes.ConfirmedAt),
		ShippedAt:             formatTimePtr(order.StatusTimes.ShippedAt),
		DeliveredAt:           formatTimePtr(order.StatusTimes.DeliveredAt),
		CanceledAt:            formatTimePtr(order.StatusTimes.CanceledAt),
		ReturnedAt:            formatTimePtr(order.StatusTimes.ReturnedAt),
		RefundedAt:            formatTimePtr(order.StatusTimes.RefundedAt),
		CreatedAt:             formatTime(order.CreatedAt),
		UpdatedAt:             formatTime(order.UpdatedAt),
	}

	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ProductID:            strings.TrimSpace(line.ProductID),
			VendorID:             strings.TrimSpace(line.VendorID),
			Name:                 strings.TrimSpace(line.Name),
			Quantity:             line.Quantity,
			Size:                 strings.TrimSpace(line.Size),
			Color:                strings.TrimSpace(line.Color),
			PersonalizationNotes: strings.TrimSpace(line.PersonalizationNotes),
			UnitPrice:            line.UnitPriceMinor,
			Subtotal:             line.SubtotalMinor,
			CommissionBps:        line.CommissionBps,
			Commission:           line.CommissionMinor,
			MadeToOrder:          line.MadeToOrder,
			WeightGrams:          line.WeightGrams,
		})
	}

	return payload
}

func buildDeliveryPayload(delivery services.Delivery) deliveryPayload {
	payload := deliveryPayload{
		ID:             strings.TrimSpace(delivery.ID),
		OrderID:        strings.TrimSpace(delivery.OrderID),
		Type:           string(delivery.Type),
		Address:        buildAddressPayload(delivery.Address),
		RemoteCity:     delivery.RemoteCity,
		WeightGrams:    delivery.WeightGrams,
		Cost:           delivery.CostMinor,
		Status:         string(delivery.Status),
		TrackingNumber: strings.TrimSpace(delivery.TrackingNumber),
		Carrier:        strings.TrimSpace(delivery.Carrier),
		DeliveredAt:    formatTimePtr(delivery.DeliveredAt),
		CreatedAt:      formatTime(delivery.CreatedAt),
		UpdatedAt:      formatTime(delivery.UpdatedAt),
	}
	if !delivery.EstimatedDelivery.IsZero() {
		payload.EstimatedDelivery = formatTime(delivery.EstimatedDelivery)
	}
	return payload
}
