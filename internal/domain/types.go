package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage bundles a page of results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is the slice of catalog data the order core needs: price, stock,
// weight, and the vendor it settles against.
type Product struct {
	ID          string
	VendorID    string
	Name        string
	PriceMinor  int64
	Stock       int64
	WeightGrams int64
	Sellable    bool
	MadeToOrder bool
	UpdatedAt   time.Time
}

// Vendor carries the seller profile fields used for commission settlement.
// CommissionOverrideBps, when set, bypasses the tier schedule entirely.
type Vendor struct {
	ID                    string
	DisplayName           string
	CommissionOverrideBps *int64
	Active                bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// CommissionTier defines one row of the platform commission schedule. The
// amount range is inclusive on both ends; a nil MaxAmountMinor means the tier
// is open above. Rank breaks ties when ranges overlap (highest wins).
type CommissionTier struct {
	ID             string
	MinAmountMinor int64
	MaxAmountMinor *int64
	RateBps        int64
	Rank           int
	Active         bool
	Description    string
	UpdatedAt      time.Time
}

// CommissionResolution is the outcome of resolving a rate for one amount.
// Custom is true when the rate came from a vendor override rather than a tier.
type CommissionResolution struct {
	RateBps     int64
	AmountMinor int64
	TierID      string
	Description string
	Custom      bool
}

// ShippingType enumerates the offered delivery service levels.
type ShippingType string

const (
	// ShippingStandard is the default ground service.
	ShippingStandard ShippingType = "STANDARD"
	// ShippingExpress is the expedited service.
	ShippingExpress ShippingType = "EXPRESS"
)

// ShippingCountryFallback is the catch-all country code used when no rate is
// configured for the destination country.
const ShippingCountryFallback = "GENERAL"

// ShippingRate configures pricing for one (country, type) route. Rates are
// minor units, percentages basis points, weights grams.
type ShippingRate struct {
	ID                   string
	Country              string
	Type                 ShippingType
	BaseRateMinor        int64
	RatePerKgMinor       int64
	MinDays              int
	MaxDays              int
	MinimumBillableMinor int64
	BulkDiscountBps      int64
	RemoteSurchargeBps   int64
	Active               bool
	UpdatedAt            time.Time
}

// ShippingQuote is a priced route with its delivery estimate.
type ShippingQuote struct {
	RateID            string
	Country           string
	Type              ShippingType
	CostMinor         int64
	DelayDays         int
	EstimatedDelivery time.Time
}

// Address is the delivery destination recorded on an order.
type Address struct {
	Line1   string
	Line2   string
	City    string
	Country string
	Phone   string
}

// Cart is a customer's single active cart. The document is keyed by customer,
// so one cart per customer holds by construction.
type Cart struct {
	ID         string
	CustomerID string
	Currency   string
	Items      []CartItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartItem is one line of a cart. Lines are unique per
// (ProductID, Size, Color); UnitPriceMinor is a snapshot refreshed on add and
// on synchronize. StockClamped/PriceChanged/AvailableStock are reconciliation
// outcomes surfaced to the client, not client inputs.
type CartItem struct {
	ID                   string
	ProductID            string
	VendorID             string
	Name                 string
	Quantity             int64
	Size                 string
	Color                string
	PersonalizationNotes string
	UnitPriceMinor       int64
	WeightGrams          int64
	MadeToOrder          bool
	PriceChanged         bool
	StockClamped         bool
	AvailableStock       int64
	AddedAt              time.Time
	UpdatedAt            time.Time
}

// CartSyncReport summarizes what Synchronize changed.
type CartSyncReport struct {
	RemovedProductIDs []string
	ClampedProductIDs []string
	RepricedProducts  []string
}

// OrderStatus is an order lifecycle state. Wire values are the French labels
// used across the marketplace.
type OrderStatus string

const (
	// OrderStatusPending is the initial state after checkout.
	OrderStatusPending OrderStatus = "EN_ATTENTE"
	// OrderStatusConfirmed means payment was acknowledged.
	OrderStatusConfirmed OrderStatus = "CONFIRMEE"
	// OrderStatusPreparing means vendors are assembling the order.
	OrderStatusPreparing OrderStatus = "EN_PREPARATION"
	// OrderStatusReady means the parcel awaits carrier pickup.
	OrderStatusReady OrderStatus = "PRETE"
	// OrderStatusShipped means the carrier has the parcel.
	OrderStatusShipped OrderStatus = "EXPEDIEE"
	// OrderStatusOutForDelivery means last-mile delivery is underway.
	OrderStatusOutForDelivery OrderStatus = "EN_LIVRAISON"
	// OrderStatusDelivered means the customer received the parcel.
	OrderStatusDelivered OrderStatus = "LIVREE"
	// OrderStatusCanceled is terminal; reachable from any non-terminal state.
	OrderStatusCanceled OrderStatus = "ANNULEE"
	// OrderStatusReturned means a delivered order came back.
	OrderStatusReturned OrderStatus = "RETOURNEE"
	// OrderStatusRefunded is terminal after a return is settled.
	OrderStatusRefunded OrderStatus = "REMBOURSEE"
)

// OrderType classifies fulfillment timing, derived from the lines.
type OrderType string

const (
	// OrderTypeImmediate means every line ships from stock.
	OrderTypeImmediate OrderType = "IMMEDIATE"
	// OrderTypeDeferred means every line is made to order.
	OrderTypeDeferred OrderType = "DIFFEREE"
	// OrderTypeMixed combines both.
	OrderTypeMixed OrderType = "MIXTE"
)

// OrderTotals is the frozen money breakdown of an order.
// TotalMinor = Subtotal + Commission + Shipping - Discount.
type OrderTotals struct {
	SubtotalMinor   int64
	CommissionMinor int64
	ShippingMinor   int64
	DiscountMinor   int64
	TotalMinor      int64
}

// OrderLine is one purchased line with its price and commission frozen at
// checkout time.
type OrderLine struct {
	ProductID            string
	VendorID             string
	Name                 string
	Quantity             int64
	Size                 string
	Color                string
	PersonalizationNotes string
	UnitPriceMinor       int64
	SubtotalMinor        int64
	CommissionBps        int64
	CommissionMinor      int64
	CommissionCustom     bool
	MadeToOrder          bool
	WeightGrams          int64
}

// OrderStatusTimes records when each notable transition happened.
type OrderStatusTimes struct {
	ConfirmedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CanceledAt  *time.Time
	ReturnedAt  *time.Time
	RefundedAt  *time.Time
}

// Order is the aggregate produced by checkout. ManualReview marks orders
// whose commission could not be resolved from configuration.
type Order struct {
	ID                    string
	Number                string
	CustomerID            string
	Status                OrderStatus
	Type                  OrderType
	Currency              string
	Lines                 []OrderLine
	Totals                OrderTotals
	LoyaltyPointsRedeemed int64
	ManualReview          bool
	CancelReason          string
	Notes                 string
	StatusTimes           OrderStatusTimes
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// DeliveryStatus tracks the parcel, moving in lockstep with the order.
type DeliveryStatus string

const (
	// DeliveryStatusPreparing is the initial delivery state.
	DeliveryStatusPreparing DeliveryStatus = "EN_PREPARATION"
	// DeliveryStatusShipped means the carrier accepted the parcel.
	DeliveryStatusShipped DeliveryStatus = "EXPEDIEE"
	// DeliveryStatusOutForDelivery means last-mile delivery is underway.
	DeliveryStatusOutForDelivery DeliveryStatus = "EN_LIVRAISON"
	// DeliveryStatusDelivered means the parcel arrived.
	DeliveryStatusDelivered DeliveryStatus = "LIVREE"
	// DeliveryStatusReturned means the parcel came back.
	DeliveryStatusReturned DeliveryStatus = "RETOURNEE"
)

// Delivery is the shipping leg of an order.
type Delivery struct {
	ID                string
	OrderID           string
	Type              ShippingType
	Address           Address
	RemoteCity        bool
	WeightGrams       int64
	CostMinor         int64
	Status            DeliveryStatus
	TrackingNumber    string
	Carrier           string
	EstimatedDelivery time.Time
	DeliveredAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LoyaltyAccount is a customer's point balance. Balance never goes negative.
type LoyaltyAccount struct {
	CustomerID string
	Balance    int64
	UpdatedAt  time.Time
}

// LoyaltyEntry is one ledger movement, positive for credits and negative for
// debits.
type LoyaltyEntry struct {
	ID         string
	CustomerID string
	Points     int64
	Reason     string
	OrderID    string
	CreatedAt  time.Time
}
