package services

import (
	"context"
	"time"

	domain "github.com/souqline/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	Product              = domain.Product
	Vendor               = domain.Vendor
	CommissionTier       = domain.CommissionTier
	CommissionResolution = domain.CommissionResolution
	ShippingType         = domain.ShippingType
	ShippingRate         = domain.ShippingRate
	ShippingQuote        = domain.ShippingQuote
	Address              = domain.Address
	Cart                 = domain.Cart
	CartItem             = domain.CartItem
	CartSyncReport       = domain.CartSyncReport
	Order                = domain.Order
	OrderLine            = domain.OrderLine
	OrderStatus          = domain.OrderStatus
	OrderTotals          = domain.OrderTotals
	Delivery             = domain.Delivery
	DeliveryStatus       = domain.DeliveryStatus
	LoyaltyAccount       = domain.LoyaltyAccount
	LoyaltyEntry         = domain.LoyaltyEntry
)

// CommissionService resolves the platform commission for a vendor sale.
type CommissionService interface {
	Resolve(ctx context.Context, cmd ResolveCommissionCommand) (CommissionResolution, error)
	ListTiers(ctx context.Context) ([]CommissionTier, error)
	UpsertTier(ctx context.Context, cmd UpsertCommissionTierCommand) (CommissionTier, error)
}

// ResolveCommissionCommand asks for the commission on one sale amount.
type ResolveCommissionCommand struct {
	VendorID    string
	AmountMinor int64
}

// UpsertCommissionTierCommand creates or replaces a tier of the schedule.
type UpsertCommissionTierCommand struct {
	ID             string
	MinAmountMinor int64
	MaxAmountMinor *int64
	RateBps        int64
	Rank           int
	Active         bool
	Description    string
}

// ShippingService prices delivery routes and manages their configuration.
type ShippingService interface {
	Quote(ctx context.Context, cmd QuoteShippingCommand) (ShippingQuote, error)
	CompareOptions(ctx context.Context, cmd QuoteShippingCommand) ([]ShippingQuote, error)
	UpsertRate(ctx context.Context, cmd UpsertShippingRateCommand) (ShippingRate, error)
}

// QuoteShippingCommand describes the parcel and destination to price.
type QuoteShippingCommand struct {
	Country     string
	City        string
	RemoteCity  bool
	Type        ShippingType
	WeightGrams int64
}

// UpsertShippingRateCommand creates or replaces a route configuration.
type UpsertShippingRateCommand struct {
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
}

// CartService manages the customer's single active cart.
type CartService interface {
	GetOrCreateCart(ctx context.Context, customerID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	Clear(ctx context.Context, customerID string) error
	Synchronize(ctx context.Context, customerID string) (Cart, CartSyncReport, error)
	ItemCount(ctx context.Context, customerID string) (int64, error)
}

// AddCartItemCommand adds a product variant to the cart, merging with an
// existing line of the same (product, size, color).
type AddCartItemCommand struct {
	CustomerID           string
	ProductID            string
	Quantity             int64
	Size                 string
	Color                string
	PersonalizationNotes string
}

// UpdateCartItemCommand changes a line quantity; below one removes the line.
type UpdateCartItemCommand struct {
	CustomerID string
	ItemID     string
	Quantity   int64
}

// RemoveCartItemCommand drops a line from the cart.
type RemoveCartItemCommand struct {
	CustomerID string
	ItemID     string
}

// OrderService runs checkout and the order lifecycle.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, customerID string, orderID string) (Order, error)
	GetDelivery(ctx context.Context, customerID string, orderID string) (Delivery, error)
	ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error)

	Confirm(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	StartPreparation(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	MarkReady(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error)
	StartDelivery(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	Deliver(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	Return(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	Refund(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CreateOrderCommand turns the customer's cart into an order.
type CreateOrderCommand struct {
	CustomerID            string
	ShippingType          ShippingType
	Address               Address
	RemoteCity            bool
	LoyaltyPointsToRedeem int64
	Notes                 string
}

// OrderListQuery narrows a customer's order listing.
type OrderListQuery struct {
	CustomerID string
	Status     []string
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// TransitionOrderCommand moves an order along its lifecycle.
type TransitionOrderCommand struct {
	CustomerID string
	OrderID    string
}

// ShipOrderCommand marks the order shipped and stamps carrier details on the
// delivery.
type ShipOrderCommand struct {
	CustomerID     string
	OrderID        string
	TrackingNumber string
	Carrier        string
}

// CancelOrderCommand cancels a non-terminal order and records the reason.
type CancelOrderCommand struct {
	CustomerID string
	OrderID    string
	Reason     string
}

// LoyaltyService owns point balances.
type LoyaltyService interface {
	Balance(ctx context.Context, customerID string) (LoyaltyAccount, error)
	Credit(ctx context.Context, cmd LoyaltyAdjustCommand) (LoyaltyAccount, error)
	Debit(ctx context.Context, cmd LoyaltyAdjustCommand) (LoyaltyAccount, error)
}

// LoyaltyAdjustCommand moves points on a customer's balance.
type LoyaltyAdjustCommand struct {
	CustomerID string
	Points     int64
	Reason     string
	OrderID    string
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// OrderEventMessage is the wire payload of an order lifecycle event.
type OrderEventMessage struct {
	Event       string    `json:"event"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	CustomerID  string    `json:"customerId"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// PaymentRecorder forwards the amount due on a new order to the settlement
// pipeline.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, message PaymentRecordMessage) (string, error)
}

// PaymentRecordMessage is the wire payload handed to the settlement pipeline.
type PaymentRecordMessage struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	CustomerID  string    `json:"customerId"`
	AmountMinor int64     `json:"amount"`
	Currency    string    `json:"currency"`
	RecordedAt  time.Time `json:"recordedAt"`
}
