package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/platform/pagination"
	"github.com/souqline/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists order aggregates.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data), nil
}

// List returns orders matching the filter ordered by most recent first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	customerID := strings.TrimSpace(filter.CustomerID)
	statuses := normaliseOrderStatuses(filter.Status)

	var createdFrom, createdTo *time.Time
	if filter.DateRange.From != nil {
		value := filter.DateRange.From.UTC()
		if !value.IsZero() {
			createdFrom = &value
		}
	}
	if filter.DateRange.To != nil {
		value := filter.DateRange.To.UTC()
		if !value.IsZero() {
			createdTo = &value
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if customerID != "" {
			q = q.Where("customerId", "==", customerID)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statuses) > 10 {
				statuses = statuses[:10]
			}
			q = q.Where("status", "in", statuses)
		}
		if createdFrom != nil {
			q = q.Where("createdAt", ">=", *createdFrom)
		}
		if createdTo != nil {
			q = q.Where("createdAt", "<=", *createdTo)
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderDocument struct {
	Number                string              `firestore:"number"`
	CustomerID            string              `firestore:"customerId"`
	Status                string              `firestore:"status"`
	Type                  string              `firestore:"type"`
	Currency              string              `firestore:"currency"`
	Lines                 []orderLineDocument `firestore:"lines"`
	SubtotalMinor         int64               `firestore:"subtotal"`
	CommissionMinor       int64               `firestore:"commission"`
	ShippingMinor         int64               `firestore:"shipping"`
	DiscountMinor         int64               `firestore:"discount"`
	TotalMinor            int64               `firestore:"total"`
	LoyaltyPointsRedeemed int64               `firestore:"loyaltyPointsRedeemed"`
	ManualReview          bool                `firestore:"manualReview"`
	CancelReason          string              `firestore:"cancelReason,omitempty"`
	Notes                 string              `firestore:"notes,omitempty"`
	ConfirmedAt           *time.Time          `firestore:"confirmedAt,omitempty"`
	ShippedAt             *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt           *time.Time          `firestore:"deliveredAt,omitempty"`
	CanceledAt            *time.Time          `firestore:"canceledAt,omitempty"`
	ReturnedAt            *time.Time          `firestore:"returnedAt,omitempty"`
	RefundedAt            *time.Time          `firestore:"refundedAt,omitempty"`
	CreatedAt             time.Time           `firestore:"createdAt"`
	UpdatedAt             time.Time           `firestore:"updatedAt"`
}

type orderLineDocument struct {
	ProductID            string `firestore:"productId"`
	VendorID             string `firestore:"vendorId"`
	Name                 string `firestore:"name"`
	Quantity             int64  `firestore:"quantity"`
	Size                 string `firestore:"size,omitempty"`
	Color                string `firestore:"color,omitempty"`
	PersonalizationNotes string `firestore:"personalizationNotes,omitempty"`
	UnitPriceMinor       int64  `firestore:"unitPrice"`
	SubtotalMinor        int64  `firestore:"subtotal"`
	CommissionBps        int64  `firestore:"commissionBps"`
	CommissionMinor      int64  `firestore:"commission"`
	CommissionCustom     bool   `firestore:"commissionCustom"`
	MadeToOrder          bool   `firestore:"madeToOrder"`
	WeightGrams          int64  `firestore:"weightGrams"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = orderLineDocument{
			ProductID:            strings.TrimSpace(line.ProductID),
			VendorID:             strings.TrimSpace(line.VendorID),
			Name:                 strings.TrimSpace(line.Name),
			Quantity:             line.Quantity,
			Size:                 strings.TrimSpace(line.Size),
			Color:                strings.TrimSpace(line.Color),
			PersonalizationNotes: strings.TrimSpace(line.PersonalizationNotes),
			UnitPriceMinor:       line.UnitPriceMinor,
			SubtotalMinor:        line.SubtotalMinor,
			CommissionBps:        line.CommissionBps,
			CommissionMinor:      line.CommissionMinor,
			CommissionCustom:     line.CommissionCustom,
			MadeToOrder:          line.MadeToOrder,
			WeightGrams:          line.WeightGrams,
		}
	}
	return orderDocument{
		Number:                strings.TrimSpace(order.Number),
		CustomerID:            strings.TrimSpace(order.CustomerID),
		Status:                string(order.Status),
		Type:                  string(order.Type),
		Currency:              strings.TrimSpace(order.Currency),
		Lines:                 lines,
		SubtotalMinor:         order.Totals.SubtotalMinor,
		CommissionMinor:       order.Totals.CommissionMinor,
		ShippingMinor:         order.Totals.ShippingMinor,
		DiscountMinor:         order.Totals.DiscountMinor,
		TotalMinor:            order.Totals.TotalMinor,
		LoyaltyPointsRedeemed: order.LoyaltyPointsRedeemed,
		ManualReview:          order.ManualReview,
		CancelReason:          strings.TrimSpace(order.CancelReason),
		Notes:                 strings.TrimSpace(order.Notes),
		ConfirmedAt:           timePointerUTC(order.StatusTimes.ConfirmedAt),
		ShippedAt:             timePointerUTC(order.StatusTimes.ShippedAt),
		DeliveredAt:           timePointerUTC(order.StatusTimes.DeliveredAt),
		CanceledAt:            timePointerUTC(order.StatusTimes.CanceledAt),
		ReturnedAt:            timePointerUTC(order.StatusTimes.ReturnedAt),
		RefundedAt:            timePointerUTC(order.StatusTimes.RefundedAt),
		CreatedAt:             order.CreatedAt.UTC(),
		UpdatedAt:             order.UpdatedAt.UTC(),
	}
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	lines := make([]domain.OrderLine, len(doc.Lines))
	for i, line := range doc.Lines {
		lines[i] = domain.OrderLine{
			ProductID:            line.ProductID,
			VendorID:             line.VendorID,
			Name:                 line.Name,
			Quantity:             line.Quantity,
			Size:                 line.Size,
			Color:                line.Color,
			PersonalizationNotes: line.PersonalizationNotes,
			UnitPriceMinor:       line.UnitPriceMinor,
			SubtotalMinor:        line.SubtotalMinor,
			CommissionBps:        line.CommissionBps,
			CommissionMinor:      line.CommissionMinor,
			CommissionCustom:     line.CommissionCustom,
			MadeToOrder:          line.MadeToOrder,
			WeightGrams:          line.WeightGrams,
		}
	}
	return domain.Order{
		ID:         strings.TrimSpace(id),
		Number:     doc.Number,
		CustomerID: doc.CustomerID,
		Status:     domain.OrderStatus(doc.Status),
		Type:       domain.OrderType(doc.Type),
		Currency:   doc.Currency,
		Lines:      lines,
		Totals: domain.OrderTotals{
			SubtotalMinor:   doc.SubtotalMinor,
			CommissionMinor: doc.CommissionMinor,
			ShippingMinor:   doc.ShippingMinor,
			DiscountMinor:   doc.DiscountMinor,
			TotalMinor:      doc.TotalMinor,
		},
		LoyaltyPointsRedeemed: doc.LoyaltyPointsRedeemed,
		ManualReview:          doc.ManualReview,
		CancelReason:          doc.CancelReason,
		Notes:                 doc.Notes,
		StatusTimes: domain.OrderStatusTimes{
			ConfirmedAt: timePointerUTC(doc.ConfirmedAt),
			ShippedAt:   timePointerUTC(doc.ShippedAt),
			DeliveredAt: timePointerUTC(doc.DeliveredAt),
			CanceledAt:  timePointerUTC(doc.CanceledAt),
			ReturnedAt:  timePointerUTC(doc.ReturnedAt),
			RefundedAt:  timePointerUTC(doc.RefundedAt),
		},
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func timePointerUTC(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	raw, ok := cursor.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	docID, ok := cursor.StartAfter[1].(string)
	if !ok || docID == "" {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, docID, nil
}

func normaliseOrderStatuses(statuses []string) []string {
	if len(statuses) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(statuses))
	seen := make(map[string]struct{})
	for _, status := range statuses {
		trimmed := strings.ToUpper(strings.TrimSpace(status))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
