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

const (
	orderEventCreated        = "order.created"
	orderEventConfirmed      = "order.confirmed"
	orderEventPreparing      = "order.preparing"
	orderEventReady          = "order.ready"
	orderEventShipped        = "order.shipped"
	orderEventOutForDelivery = "order.out_for_delivery"
	orderEventDelivered      = "order.delivered"
	orderEventReturned       = "order.returned"
	orderEventRefunded       = "order.refunded"
	orderEventCanceled       = "order.canceled"

	orderIDPrefix    = "ord_"
	deliveryIDPrefix = "dlv_"

	orderSequenceID = "orders"

	loyaltyReasonRedemption = "order_redemption"
	loyaltyReasonAccrual    = "order_delivered"
	loyaltyReasonRollback   = "order_checkout_failed"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or belongs to
	// another customer.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInvalidTransition indicates an illegal lifecycle move.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderCartOutOfSync indicates the cart drifted from the catalog between
	// the last read and checkout. The client must re-read the cart.
	ErrOrderCartOutOfSync = errors.New("order: cart out of sync")
	// ErrOrderInsufficientStock indicates a line could not be covered by stock.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderInsufficientPoints indicates the loyalty balance cannot cover the
	// requested redemption.
	ErrOrderInsufficientPoints = errors.New("order: insufficient loyalty points")
)

// orderTransitions lists the legal moves of the lifecycle. Cancellation is
// legal from every non-terminal status.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:        {domain.OrderStatusConfirmed, domain.OrderStatusCanceled},
	domain.OrderStatusConfirmed:      {domain.OrderStatusPreparing, domain.OrderStatusCanceled},
	domain.OrderStatusPreparing:      {domain.OrderStatusReady, domain.OrderStatusCanceled},
	domain.OrderStatusReady:          {domain.OrderStatusShipped, domain.OrderStatusCanceled},
	domain.OrderStatusShipped:        {domain.OrderStatusOutForDelivery, domain.OrderStatusCanceled},
	domain.OrderStatusOutForDelivery: {domain.OrderStatusDelivered, domain.OrderStatusCanceled},
	domain.OrderStatusDelivered:      {domain.OrderStatusReturned},
	domain.OrderStatusReturned:       {domain.OrderStatusRefunded},
}

// deliveryStatusFor maps order statuses to their delivery counterpart. Order
// statuses without one leave the delivery untouched.
var deliveryStatusFor = map[domain.OrderStatus]domain.DeliveryStatus{
	domain.OrderStatusPreparing:      domain.DeliveryStatusPreparing,
	domain.OrderStatusShipped:        domain.DeliveryStatusShipped,
	domain.OrderStatusOutForDelivery: domain.DeliveryStatusOutForDelivery,
	domain.OrderStatusDelivered:      domain.DeliveryStatusDelivered,
	domain.OrderStatusReturned:       domain.DeliveryStatusReturned,
}

var orderEventForStatus = map[domain.OrderStatus]string{
	domain.OrderStatusConfirmed:      orderEventConfirmed,
	domain.OrderStatusPreparing:      orderEventPreparing,
	domain.OrderStatusReady:          orderEventReady,
	domain.OrderStatusShipped:        orderEventShipped,
	domain.OrderStatusOutForDelivery: orderEventOutForDelivery,
	domain.OrderStatusDelivered:      orderEventDelivered,
	domain.OrderStatusReturned:       orderEventReturned,
	domain.OrderStatusRefunded:       orderEventRefunded,
	domain.OrderStatusCanceled:       orderEventCanceled,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Deliveries repositories.DeliveryRepository
	Catalog    repositories.CatalogRepository
	Loyalty    repositories.LoyaltyRepository
	Counters   repositories.CounterRepository
	Carts      CartService
	Commission CommissionService
	Shipping   ShippingService

	// PointValueMinor is the discount granted per redeemed point.
	// EarnRateMinor is the order amount that earns one point; zero disables
	// accrual.
	PointValueMinor int64
	EarnRateMinor   int64
	Currency        string

	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Payments    PaymentRecorder
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	deliveries repositories.DeliveryRepository
	catalog    repositories.CatalogRepository
	loyalty    repositories.LoyaltyRepository
	counters   repositories.CounterRepository
	carts      CartService
	commission CommissionService
	shipping   ShippingService

	pointValue int64
	earnRate   int64
	currency   string

	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	payments   PaymentRecorder
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Deliveries == nil {
		return nil, errors.New("order service: delivery repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}
	if deps.Loyalty == nil {
		return nil, errors.New("order service: loyalty repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart service is required")
	}
	if deps.Commission == nil {
		return nil, errors.New("order service: commission service is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("order service: shipping service is required")
	}
	if deps.PointValueMinor <= 0 {
		return nil, errors.New("order service: point value must be positive")
	}
	if deps.EarnRateMinor < 0 {
		return nil, errors.New("order service: earn rate must not be negative")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "MAD"
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		deliveries: deps.Deliveries,
		catalog:    deps.Catalog,
		loyalty:    deps.Loyalty,
		counters:   deps.Counters,
		carts:      deps.Carts,
		commission: deps.Commission,
		shipping:   deps.Shipping,
		pointValue: deps.PointValueMinor,
		earnRate:   deps.EarnRateMinor,
		currency:   currency,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		events:   deps.Events,
		payments: deps.Payments,
		logger:   logger,
	}, nil
}

// CreateFromCart turns the customer's synchronized cart into an order. The
// stock decrement is transactional; every later failure compensates by
// releasing stock and re-crediting redeemed points.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if cmd.LoyaltyPointsToRedeem < 0 {
		return Order{}, fmt.Errorf("%w: loyalty points must not be negative", ErrOrderInvalidInput)
	}
	if err := validateOrderAddress(cmd.Address); err != nil {
		return Order{}, err
	}
	shippingType := cmd.ShippingType
	if shippingType == "" {
		shippingType = domain.ShippingStandard
	}
	if shippingType != domain.ShippingStandard && shippingType != domain.ShippingExpress {
		return Order{}, fmt.Errorf("%w: unknown shipping type %q", ErrOrderInvalidInput, cmd.ShippingType)
	}

	cart, report, err := s.carts.Synchronize(ctx, customerID)
	if err != nil {
		return Order{}, fmt.Errorf("%w: cart synchronization failed: %v", ErrOrderInvalidInput, err)
	}
	if len(cart.Items) == 0 {
		return Order{}, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	}
	if len(report.RemovedProductIDs) > 0 || len(report.ClampedProductIDs) > 0 || len(report.RepricedProducts) > 0 {
		return Order{}, fmt.Errorf("%w: cart drifted during checkout", ErrOrderCartOutOfSync)
	}

	if cmd.LoyaltyPointsToRedeem > 0 {
		account, err := s.loyalty.Get(ctx, customerID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		if account.Balance < cmd.LoyaltyPointsToRedeem {
			return Order{}, fmt.Errorf("%w: balance %d cannot cover %d", ErrOrderInsufficientPoints, account.Balance, cmd.LoyaltyPointsToRedeem)
		}
	}

	now := s.clock()
	orderID := orderIDPrefix + s.newID()

	stockLines := stockDecrementLines(cart.Items)
	if len(stockLines) > 0 {
		if _, err := s.catalog.AdjustStock(ctx, repositories.StockAdjustRequest{
			Lines:    stockLines,
			OrderRef: orderID,
			Now:      now,
		}); err != nil {
			var stockErr *repositories.StockError
			if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorInsufficient {
				return Order{}, fmt.Errorf("%w: %s", ErrOrderInsufficientStock, stockErr.ProductID)
			}
			return Order{}, s.mapRepositoryError(err)
		}
	}

	lines, totals, manualReview, err := s.buildOrderLines(ctx, cart.Items)
	if err != nil {
		s.releaseStock(ctx, stockLines, orderID)
		return Order{}, err
	}

	quote, err := s.shipping.Quote(ctx, QuoteShippingCommand{
		Country:     cmd.Address.Country,
		City:        cmd.Address.City,
		RemoteCity:  cmd.RemoteCity,
		Type:        shippingType,
		WeightGrams: totalCartWeight(cart.Items),
	})
	if err != nil {
		s.releaseStock(ctx, stockLines, orderID)
		if errors.Is(err, ErrShippingNoRoute) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("%w: shipping quote failed: %v", ErrOrderConflict, err)
	}
	totals.ShippingMinor = quote.CostMinor

	// The discount never exceeds the merchandise subtotal; points beyond that
	// stay on the account instead of being burned for nothing.
	pointsRedeemed := cmd.LoyaltyPointsToRedeem
	if pointsRedeemed > 0 && pointsRedeemed*s.pointValue > totals.SubtotalMinor {
		pointsRedeemed = totals.SubtotalMinor / s.pointValue
	}
	if pointsRedeemed > 0 {
		if _, err := s.loyalty.Debit(ctx, domain.LoyaltyEntry{
			CustomerID: customerID,
			Points:     pointsRedeemed,
			Reason:     loyaltyReasonRedemption,
			OrderID:    orderID,
			CreatedAt:  now,
		}); err != nil {
			s.releaseStock(ctx, stockLines, orderID)
			var loyaltyErr *repositories.LoyaltyError
			if errors.As(err, &loyaltyErr) && loyaltyErr.Code == repositories.LoyaltyErrorInsufficientPoints {
				return Order{}, fmt.Errorf("%w: %v", ErrOrderInsufficientPoints, err)
			}
			return Order{}, s.mapRepositoryError(err)
		}
		totals.DiscountMinor = pointsRedeemed * s.pointValue
	}

	totals.TotalMinor = totals.SubtotalMinor + totals.CommissionMinor + totals.ShippingMinor - totals.DiscountMinor

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		s.compensateCheckout(ctx, customerID, orderID, stockLines, pointsRedeemed, now)
		return Order{}, err
	}

	order := Order{
		ID:                    orderID,
		Number:                number,
		CustomerID:            customerID,
		Status:                domain.OrderStatusPending,
		Type:                  deriveOrderType(lines),
		Currency:              cart.Currency,
		Lines:                 lines,
		Totals:                totals,
		LoyaltyPointsRedeemed: pointsRedeemed,
		ManualReview:          manualReview,
		Notes:                 strings.TrimSpace(cmd.Notes),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if order.Currency == "" {
		order.Currency = s.currency
	}

	delivery := Delivery{
		ID:                deliveryIDPrefix + s.newID(),
		OrderID:           orderID,
		Type:              shippingType,
		Address:           cmd.Address,
		RemoteCity:        cmd.RemoteCity,
		WeightGrams:       totalCartWeight(cart.Items),
		CostMinor:         quote.CostMinor,
		Status:            domain.DeliveryStatusPreparing,
		EstimatedDelivery: quote.EstimatedDelivery,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, domain.Order(order)); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.deliveries.Insert(txCtx, domain.Delivery(delivery)); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		s.compensateCheckout(ctx, customerID, orderID, stockLines, pointsRedeemed, now)
		return Order{}, err
	}

	if err := s.carts.Clear(ctx, customerID); err != nil {
		s.logger(ctx, "order.cart.clear.failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
	}

	s.publishEvent(ctx, orderEventCreated, order, now)
	s.recordPayment(ctx, order, now)

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, customerID string, orderID string) (Order, error) {
	return s.loadOwnedOrder(ctx, customerID, orderID)
}

func (s *orderService) GetDelivery(ctx context.Context, customerID string, orderID string) (Delivery, error) {
	if _, err := s.loadOwnedOrder(ctx, customerID, orderID); err != nil {
		return Delivery{}, err
	}
	delivery, err := s.deliveries.FindByOrder(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return Delivery{}, s.mapRepositoryError(err)
	}
	return delivery, nil
}

func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error) {
	customerID := strings.TrimSpace(query.CustomerID)
	if customerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		CustomerID: customerID,
		Status:     query.Status,
		DateRange:  domain.RangeQuery[time.Time]{From: query.From, To: query.To},
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Confirm(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	return s.transition(ctx, cmd.CustomerID, cmd.OrderID, domain.OrderStatusConfirmed, transitionExtras{})
}

func (s *orderService) StartPreparation(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	return s.transition(ctx, cmd.CustomerID, cmd.OrderID, domain.OrderStatusPreparing, transitionExtras{})
}

func (s *orderService) MarkReady(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	return s.transition(ctx, cmd.CustomerID, cmd.OrderID, domain.OrderStatusReady, transitionExtras{})
}

func (s *orderService) Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error) {
	return s.transition(ctx, cmd.CustomerID, cmd.OrderID, domain.OrderStatusShipped, transitionExtras{
		trackingNumber: strings.TrimSpace(cmd.TrackingNumber),
		carrier:        strings.TrimSpace(cmd.Carrier),
	})
}

func (s *orderService) StartDelivery(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	return s.transition(ctx, cmd.CustomerID, cmd.OrderID, domain.OrderStatusOutForDelivery, transitionExtras{})
}

func (s *orderService) Deliver(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	return s.transition(ctx, cmd.CustomerID, cmd.OrderID, domain.OrderStatusDelivered, transitionExtras{})
}

func (s *orderService) Return(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	return s.transition(ctx, cmd.CustomerID, cmd.OrderID, domain.OrderStatusReturned, transitionExtras{})
}

func (s *orderService) Refund(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	return s.transition(ctx, cmd.CustomerID, cmd.OrderID, domain.OrderStatusRefunded, transitionExtras{})
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	return s.transition(ctx, cmd.CustomerID, cmd.OrderID, domain.OrderStatusCanceled, transitionExtras{
		cancelReason: strings.TrimSpace(cmd.Reason),
	})
}

// transitionExtras carries the side inputs of specific transitions.
type transitionExtras struct {
	trackingNumber string
	carrier        string
	cancelReason   string
}

func (s *orderService) transition(ctx context.Context, customerID, orderID string, target domain.OrderStatus, extras transitionExtras) (Order, error) {
	order, err := s.loadOwnedOrder(ctx, customerID, orderID)
	if err != nil {
		return Order{}, err
	}

	// Re-applying the current status is an idempotent no-op: timestamps stay
	// untouched and no event is emitted.
	if order.Status == target {
		return order, nil
	}

	if !canTransition(order.Status, target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, order.Status, target)
	}

	now := s.clock()
	order.Status = target
	order.UpdatedAt = now
	stampStatusTime(&order, target, now)
	if target == domain.OrderStatusCanceled {
		order.CancelReason = extras.cancelReason
		// The restock and the status flip commit together. When stock cannot
		// be put back the order keeps its current status.
		err := s.runInTx(ctx, func(txCtx context.Context) error {
			if err := s.restoreStock(txCtx, stockDecrementLines(orderLinesAsCartItems(order.Lines)), order.ID); err != nil {
				return s.mapRepositoryError(err)
			}
			if err := s.orders.Update(txCtx, domain.Order(order)); err != nil {
				return s.mapRepositoryError(err)
			}
			return nil
		})
		if err != nil {
			return Order{}, err
		}
	} else if err := s.orders.Update(ctx, domain.Order(order)); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.syncDelivery(ctx, order, target, extras, now)

	if target == domain.OrderStatusDelivered {
		s.accrueLoyalty(ctx, order, now)
	}

	if event, ok := orderEventForStatus[target]; ok {
		s.publishEvent(ctx, event, order, now)
	}

	return order, nil
}

func (s *orderService) loadOwnedOrder(ctx context.Context, customerID, orderID string) (Order, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	// Ownership violations read as not found so order IDs cannot be probed.
	if order.CustomerID != customerID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// buildOrderLines freezes the synchronized unit prices and resolves the
// commission per line. A missing tier does not fail checkout: the line
// carries zero commission and the order is flagged for manual review.
func (s *orderService) buildOrderLines(ctx context.Context, items []CartItem) ([]OrderLine, OrderTotals, bool, error) {
	lines := make([]OrderLine, 0, len(items))
	var totals OrderTotals
	manualReview := false

	for _, item := range items {
		subtotal := item.UnitPriceMinor * item.Quantity
		line := OrderLine{
			ProductID:            item.ProductID,
			VendorID:             item.VendorID,
			Name:                 item.Name,
			Quantity:             item.Quantity,
			Size:                 item.Size,
			Color:                item.Color,
			PersonalizationNotes: item.PersonalizationNotes,
			UnitPriceMinor:       item.UnitPriceMinor,
			SubtotalMinor:        subtotal,
			MadeToOrder:          item.MadeToOrder,
			WeightGrams:          item.WeightGrams,
		}

		resolution, err := s.commission.Resolve(ctx, ResolveCommissionCommand{
			VendorID:    item.VendorID,
			AmountMinor: subtotal,
		})
		switch {
		case err == nil:
			line.CommissionBps = resolution.RateBps
			line.CommissionMinor = resolution.AmountMinor
			line.CommissionCustom = resolution.Custom
		case errors.Is(err, ErrCommissionNoApplicableTier):
			manualReview = true
			s.logger(ctx, "order.commission.unresolved", map[string]any{
				"vendor":  item.VendorID,
				"product": item.ProductID,
				"amount":  subtotal,
			})
		default:
			return nil, OrderTotals{}, false, fmt.Errorf("%w: commission resolution failed: %v", ErrOrderConflict, err)
		}

		totals.SubtotalMinor += subtotal
		totals.CommissionMinor += line.CommissionMinor
		lines = append(lines, line)
	}

	return lines, totals, manualReview, nil
}

func (s *orderService) syncDelivery(ctx context.Context, order Order, target domain.OrderStatus, extras transitionExtras, now time.Time) {
	status, ok := deliveryStatusFor[target]
	if !ok && extras.trackingNumber == "" {
		return
	}

	delivery, err := s.deliveries.FindByOrder(ctx, order.ID)
	if err != nil {
		s.logger(ctx, "order.delivery.load.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return
	}

	if ok {
		delivery.Status = status
	}
	if extras.trackingNumber != "" {
		delivery.TrackingNumber = extras.trackingNumber
	}
	if extras.carrier != "" {
		delivery.Carrier = extras.carrier
	}
	if target == domain.OrderStatusDelivered && delivery.DeliveredAt == nil {
		delivery.DeliveredAt = &now
	}
	delivery.UpdatedAt = now

	if err := s.deliveries.Update(ctx, delivery); err != nil {
		s.logger(ctx, "order.delivery.update.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

// accrueLoyalty credits the points earned on a delivered order. A zero earn
// rate disables accrual. Failures are logged, never propagated.
func (s *orderService) accrueLoyalty(ctx context.Context, order Order, now time.Time) {
	if s.earnRate <= 0 {
		return
	}
	earned := order.Totals.TotalMinor / s.earnRate
	if earned <= 0 {
		return
	}
	if _, err := s.loyalty.Credit(ctx, domain.LoyaltyEntry{
		CustomerID: order.CustomerID,
		Points:     earned,
		Reason:     loyaltyReasonAccrual,
		OrderID:    order.ID,
		CreatedAt:  now,
	}); err != nil {
		s.logger(ctx, "order.loyalty.accrual.failed", map[string]any{
			"order":  order.ID,
			"points": earned,
			"error":  err.Error(),
		})
	}
}

// compensateCheckout undoes the side effects of a failed checkout: stock goes
// back and redeemed points are re-credited.
func (s *orderService) compensateCheckout(ctx context.Context, customerID, orderID string, stockLines []repositories.StockLine, pointsRedeemed int64, now time.Time) {
	s.releaseStock(ctx, stockLines, orderID)
	if pointsRedeemed <= 0 {
		return
	}
	if _, err := s.loyalty.Credit(ctx, domain.LoyaltyEntry{
		CustomerID: customerID,
		Points:     pointsRedeemed,
		Reason:     loyaltyReasonRollback,
		OrderID:    orderID,
		CreatedAt:  now,
	}); err != nil {
		s.logger(ctx, "order.loyalty.rollback.failed", map[string]any{
			"order":  orderID,
			"points": pointsRedeemed,
			"error":  err.Error(),
		})
	}
}

// restoreStock inverts earlier decrements and propagates the failure to the
// caller.
func (s *orderService) restoreStock(ctx context.Context, decrements []repositories.StockLine, orderID string) error {
	if len(decrements) == 0 {
		return nil
	}
	releases := make([]repositories.StockLine, 0, len(decrements))
	for _, line := range decrements {
		releases = append(releases, repositories.StockLine{ProductID: line.ProductID, Delta: -line.Delta})
	}
	_, err := s.catalog.AdjustStock(ctx, repositories.StockAdjustRequest{
		Lines:    releases,
		OrderRef: orderID,
		Now:      s.clock(),
	})
	return err
}

// releaseStock is the best-effort variant used during checkout compensation.
// Failures are logged, never propagated.
func (s *orderService) releaseStock(ctx context.Context, decrements []repositories.StockLine, orderID string) {
	if err := s.restoreStock(ctx, decrements, orderID); err != nil {
		s.logger(ctx, "order.stock.release.failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderSequenceID, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CMD-%d-%06d", now.Year(), seq%1_000_000), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) publishEvent(ctx context.Context, event string, order Order, now time.Time) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		Event:       event,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		OccurredAt:  now,
	}); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"event": event,
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

// recordPayment hands the amount due to the settlement pipeline. Failures are
// logged, never surfaced: the order already exists.
func (s *orderService) recordPayment(ctx context.Context, order Order, now time.Time) {
	if s.payments == nil {
		return
	}
	if _, err := s.payments.RecordPayment(ctx, PaymentRecordMessage{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		CustomerID:  order.CustomerID,
		AmountMinor: order.Totals.TotalMinor,
		Currency:    order.Currency,
		RecordedAt:  now,
	}); err != nil {
		s.logger(ctx, "order.payment.record.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func validateOrderAddress(addr Address) error {
	if strings.TrimSpace(addr.Line1) == "" {
		return fmt.Errorf("%w: address line is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.City) == "" {
		return fmt.Errorf("%w: address city is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.Country) == "" {
		return fmt.Errorf("%w: address country is required", ErrOrderInvalidInput)
	}
	return nil
}

func canTransition(current, target domain.OrderStatus) bool {
	for _, allowed := range orderTransitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

func stampStatusTime(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusConfirmed:
		order.StatusTimes.ConfirmedAt = &now
	case domain.OrderStatusShipped:
		order.StatusTimes.ShippedAt = &now
	case domain.OrderStatusDelivered:
		if order.StatusTimes.DeliveredAt == nil {
			order.StatusTimes.DeliveredAt = &now
		}
	case domain.OrderStatusCanceled:
		order.StatusTimes.CanceledAt = &now
	case domain.OrderStatusReturned:
		order.StatusTimes.ReturnedAt = &now
	case domain.OrderStatusRefunded:
		order.StatusTimes.RefundedAt = &now
	}
}

// stockDecrementLines builds the negative deltas for stocked lines. Made to
// order lines never consume stock.
func stockDecrementLines(items []CartItem) []repositories.StockLine {
	lines := make([]repositories.StockLine, 0, len(items))
	for _, item := range items {
		if item.MadeToOrder {
			continue
		}
		lines = append(lines, repositories.StockLine{ProductID: item.ProductID, Delta: -item.Quantity})
	}
	return lines
}

func orderLinesAsCartItems(lines []OrderLine) []CartItem {
	items := make([]CartItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, CartItem{
			ProductID:   line.ProductID,
			Quantity:    line.Quantity,
			MadeToOrder: line.MadeToOrder,
		})
	}
	return items
}

func totalCartWeight(items []CartItem) int64 {
	var grams int64
	for _, item := range items {
		grams += item.WeightGrams * item.Quantity
	}
	return grams
}

func deriveOrderType(lines []OrderLine) domain.OrderType {
	madeToOrder := 0
	for _, line := range lines {
		if line.MadeToOrder {
			madeToOrder++
		}
	}
	switch {
	case madeToOrder == 0:
		return domain.OrderTypeImmediate
	case madeToOrder == len(lines):
		return domain.OrderTypeDeferred
	default:
		return domain.OrderTypeMixed
	}
}
