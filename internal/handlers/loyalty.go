package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/services"
)

// LoyaltyHandlers exposes the customer's loyalty balance.
type LoyaltyHandlers struct {
	loyalty services.LoyaltyService
}

// NewLoyaltyHandlers constructs handlers backed by the loyalty service.
func NewLoyaltyHandlers(loyalty services.LoyaltyService) *LoyaltyHandlers {
	return &LoyaltyHandlers{loyalty: loyalty}
}

// Routes wires the /loyalty endpoints onto the provided router.
func (h *LoyaltyHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.balance)
}

func (h *LoyaltyHandlers) balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_service_unavailable", "loyalty service unavailable", http.StatusServiceUnavailable))
		return
	}

	customerID, ok := customerFromRequest(w, r)
	if !ok {
		return
	}

	account, err := h.loyalty.Balance(ctx, customerID)
	if err != nil {
		if errors.Is(err, services.ErrLoyaltyInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_error", "failed to read loyalty balance", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, loyaltyBalanceResponse{
		CustomerID: strings.TrimSpace(account.CustomerID),
		Balance:    account.Balance,
		UpdatedAt:  formatTime(account.UpdatedAt),
	})
}

type loyaltyBalanceResponse struct {
	CustomerID string `json:"customer_id"`
	Balance    int64  `json:"balance"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}
