package handlers

import (
	"net/http"
	"strings"

	"github.com/souqline/api/internal/platform/httpx"
	"github.com/souqline/api/internal/platform/requestctx"
)

// CustomerIDHeader carries the authenticated customer identifier set by the
// API gateway. The gateway is the trust boundary; the header is never
// accepted from the public internet directly.
const CustomerIDHeader = "X-Customer-Id"

// RequireCustomer rejects requests without a customer identity and stores the
// identifier on the request context for downstream handlers.
func RequireCustomer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			customerID := strings.TrimSpace(r.Header.Get(CustomerIDHeader))
			if customerID == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "customer identity required", http.StatusUnauthorized))
				return
			}
			ctx := requestctx.WithCustomerID(r.Context(), customerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func customerFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	customerID, ok := requestctx.CustomerID(r.Context())
	if !ok || strings.TrimSpace(customerID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "customer identity required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(customerID), true
}
