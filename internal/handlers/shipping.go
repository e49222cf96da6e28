package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

const (
	maxShippingBodySize    = 8 * 1024
	shippingQuoteRateLimit = 60
	shippingQuoteRateSpan  = time.Minute
)

// ShippingHandlers exposes delivery pricing endpoints.
type ShippingHandlers struct {
	shipping services.ShippingService
	limiter  rateLimiter
}

// ShippingOption customises shipping handler construction.
type ShippingOption func(*ShippingHandlers)

// WithQuoteRateLimit overrides the per-customer quote rate limit.
func WithQuoteRateLimit(limit int, window time.Duration) ShippingOption {
	return func(h *ShippingHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewShippingHandlers constructs handlers backed by the shipping service.
// Quote endpoints are rate limited per customer because they fan out to rate
// lookups on every call.
func NewShippingHandlers(shipping services.ShippingService, opts ...ShippingOption) *ShippingHandlers {
	h := &ShippingHandlers{
		shipping: shipping,
		limiter:  newSimpleRateLimiter(shippingQuoteRateLimit, shippingQuoteRateSpan, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /shipping endpoints onto the provided router.
func (h *ShippingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quote", h.quote)
	r.Post("/options", h.compareOptions)
}

type shippingQuoteRequest struct {
	Country     string `json:"country"`
	City        string `json:"city"`
	RemoteCity  bool   `json:"remote_city"`
	Type        string `json:"type"`
	WeightGrams int64  `json:"weight_grams"`
}

func (h *ShippingHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.parseQuoteRequest(w, r)
	if !ok {
		return
	}

	quote, err := h.shipping.Quote(ctx, cmd)
	if err != nil {
		writeShippingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, shippingQuoteResponse{Quote: buildShippingQuotePayload(quote)})
}

func (h *ShippingHandlers) compareOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.parseQuoteRequest(w, r)
	if !ok {
		return
	}

	quotes, err := h.shipping.CompareOptions(ctx, cmd)
	if err != nil {
		writeShippingError(ctx, w, err)
		return
	}

	options := make([]shippingQuotePayload, 0, len(quotes))
	for _, quote := range quotes {
		options = append(options, buildShippingQuotePayload(quote))
	}
	writeJSONResponse(w, http.StatusOK, shippingOptionsResponse{Options: options})
}

func (h *ShippingHandlers) parseQuoteRequest(w http.ResponseWriter, r *http.Request) (services.QuoteShippingCommand, bool) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service unavailable", http.StatusServiceUnavailable))
		return services.QuoteShippingCommand{}, false
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return services.QuoteShippingCommand{}, false
	}

	if h.limiter != nil && !h.limiter.Allow(customerID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many quote requests; slow down", http.StatusTooManyRequests))
		return services.QuoteShippingCommand{}, false
	}

	body, err := readLimitedBody(r, maxShippingBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return services.QuoteShippingCommand{}, false
	}
	var req shippingQuoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return services.QuoteShippingCommand{}, false
	}

	return services.QuoteShippingCommand{
		Country:     strings.ToUpper(strings.TrimSpace(req.Country)),
		City:        strings.TrimSpace(req.City),
		RemoteCity:  req.RemoteCity,
		Type:        services.ShippingType(strings.ToUpper(strings.TrimSpace(req.Type))),
		WeightGrams: req.WeightGrams,
	}, true
}

func writeShippingError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrShippingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrShippingNoRoute):
		httpx.WriteError(ctx, w, httpx.NewError("shipping_route_not_found", "no shipping route serves this destination", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("shipping_error", "failed to price the shipment", http.StatusInternalServerError))
	}
}

type shippingQuoteResponse struct {
	Quote shippingQuotePayload `json:"quote"`
}

type shippingOptionsResponse struct {
	Options []shippingQuotePayload `json:"options"`
}

type shippingQuotePayload struct {
	RateID            string `json:"rate_id"`
	Country           string `json:"country"`
	Type              string `json:"type"`
	Cost              int64  `json:"cost"`
	DelayDays         int    `json:"delay_days"`
	EstimatedDelivery string `json:"estimated_delivery"`
}

func buildShippingQuotePayload(quote services.ShippingQuote) shippingQuotePayload {
	return shippingQuotePayload{
		RateID:            strings.TrimSpace(quote.RateID),
		Country:           strings.ToUpper(strings.TrimSpace(quote.Country)),
		Type:              string(quote.Type),
		Cost:              quote.CostMinor,
		DelayDays:         quote.DelayDays,
		EstimatedDelivery: formatTime(quote.EstimatedDelivery),
	}
}
