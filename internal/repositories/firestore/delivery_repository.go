package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const deliveryCollection = "deliveries"

// DeliveryRepository persists the shipping leg of orders.
type DeliveryRepository struct {
	base *pfirestore.BaseRepository[deliveryDocument]
}

// NewDeliveryRepository constructs a Firestore-backed delivery repository.
func NewDeliveryRepository(provider *pfirestore.Provider) (*DeliveryRepository, error) {
	if provider == nil {
		return nil, errors.New("delivery repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[deliveryDocument](provider, deliveryCollection, nil, nil)
	return &DeliveryRepository{base: base}, nil
}

// Insert stores a new delivery. The ID must be unique.
func (r *DeliveryRepository) Insert(ctx context.Context, delivery domain.Delivery) error {
	if r == nil || r.base == nil {
		return errors.New("delivery repository not initialised")
	}
	deliveryID := strings.TrimSpace(delivery.ID)
	if deliveryID == "" {
		return errors.New("delivery repository: delivery id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, deliveryID)
	if err != nil {
		return err
	}
	doc := encodeDeliveryDocument(delivery)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("deliveries.insert", err)
	}
	return nil
}

// Update replaces the persisted delivery state with the provided snapshot.
func (r *DeliveryRepository) Update(ctx context.Context, delivery domain.Delivery) error {
	if r == nil || r.base == nil {
		return errors.New("delivery repository not initialised")
	}
	deliveryID := strings.TrimSpace(delivery.ID)
	if deliveryID == "" {
		return errors.New("delivery repository: delivery id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, deliveryID)
	if err != nil {
		return err
	}
	doc := encodeDeliveryDocument(delivery)
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("deliveries.update", err)
	}
	return nil
}

// FindByOrder fetches the delivery attached to an order. Every order that
// checkout produced has exactly one.
func (r *DeliveryRepository) FindByOrder(ctx context.Context, orderID string) (domain.Delivery, error) {
	if r == nil || r.base == nil {
		return domain.Delivery{}, errors.New("delivery repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Delivery{}, errors.New("delivery repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).Limit(1)
	})
	if err != nil {
		return domain.Delivery{}, err
	}
	if len(docs) == 0 {
		return domain.Delivery{}, pfirestore.WrapError("deliveries.find_by_order", status.Error(codes.NotFound, "delivery not found"))
	}
	return decodeDeliveryDocument(docs[0].ID, docs[0].Data), nil
}

type deliveryDocument struct {
	OrderID           string     `firestore:"orderId"`
	Type              string     `firestore:"type"`
	AddressLine1      string     `firestore:"addressLine1"`
	AddressLine2      string     `firestore:"addressLine2,omitempty"`
	City              string     `firestore:"city"`
	Country           string     `firestore:"country"`
	Phone             string     `firestore:"phone,omitempty"`
	RemoteCity        bool       `firestore:"remoteCity"`
	WeightGrams       int64      `firestore:"weightGrams"`
	CostMinor         int64      `firestore:"cost"`
	Status            string     `firestore:"status"`
	TrackingNumber    string     `firestore:"trackingNumber,omitempty"`
	Carrier           string     `firestore:"carrier,omitempty"`
	EstimatedDelivery time.Time  `firestore:"estimatedDelivery"`
	DeliveredAt       *time.Time `firestore:"deliveredAt,omitempty"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

func encodeDeliveryDocument(delivery domain.Delivery) deliveryDocument {
	return deliveryDocument{
		OrderID:           strings.TrimSpace(delivery.OrderID),
		Type:              string(delivery.Type),
		AddressLine1:      strings.TrimSpace(delivery.Address.Line1),
		AddressLine2:      strings.TrimSpace(delivery.Address.Line2),
		City:              strings.TrimSpace(delivery.Address.City),
		Country:           strings.TrimSpace(delivery.Address.Country),
		Phone:             strings.TrimSpace(delivery.Address.Phone),
		RemoteCity:        delivery.RemoteCity,
		WeightGrams:       delivery.WeightGrams,
		CostMinor:         delivery.CostMinor,
		Status:            string(delivery.Status),
		TrackingNumber:    strings.TrimSpace(delivery.TrackingNumber),
		Carrier:           strings.TrimSpace(delivery.Carrier),
		EstimatedDelivery: delivery.EstimatedDelivery.UTC(),
		DeliveredAt:       timePointerUTC(delivery.DeliveredAt),
		CreatedAt:         delivery.CreatedAt.UTC(),
		UpdatedAt:         delivery.UpdatedAt.UTC(),
	}
}

func decodeDeliveryDocument(id string, doc deliveryDocument) domain.Delivery {
	return domain.Delivery{
		ID:      strings.TrimSpace(id),
		OrderID: doc.OrderID,
		Type:    domain.ShippingType(doc.Type),
		Address: domain.Address{
			Line1:   doc.AddressLine1,
			Line2:   doc.AddressLine2,
			City:    doc.City,
			Country: doc.Country,
			Phone:   doc.Phone,
		},
		RemoteCity:        doc.RemoteCity,
		WeightGrams:       doc.WeightGrams,
		CostMinor:         doc.CostMinor,
		Status:            domain.DeliveryStatus(doc.Status),
		TrackingNumber:    doc.TrackingNumber,
		Carrier:           doc.Carrier,
		EstimatedDelivery: doc.EstimatedDelivery,
		DeliveredAt:       timePointerUTC(doc.DeliveredAt),
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
}

var _ repositories.DeliveryRepository = (*DeliveryRepository)(nil)
