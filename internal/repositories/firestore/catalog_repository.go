package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/souqline/api/internal/domain"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

const (
	productCollection       = "products"
	stockMovementCollection = "stockMovements"
)

// CatalogRepository reads products and applies transactional stock mutations.
type CatalogRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &CatalogRepository{provider: provider, products: products}, nil
}

// GetProduct loads a single product by ID.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("catalog repository: product id is required")
	}

	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// GetProducts loads a batch of products keyed by ID. Missing products are
// simply absent from the result map.
func (r *CatalogRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("catalog repository not initialised")
	}

	out := make(map[string]domain.Product, len(productIDs))
	for _, productID := range productIDs {
		id := strings.TrimSpace(productID)
		if id == "" {
			continue
		}
		if _, ok := out[id]; ok {
			continue
		}
		doc, err := r.products.Get(ctx, id)
		if err != nil {
			if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		out[id] = doc.Data.toDomain(doc.ID)
	}
	return out, nil
}

// AdjustStock applies every line delta inside a single transaction. Negative
// deltas consume stock; a line that would push stock below zero aborts the
// whole transaction with a typed StockError naming the product. A movement
// document is appended alongside for audits.
func (r *CatalogRepository) AdjustStock(ctx context.Context, req repositories.StockAdjustRequest) (repositories.StockAdjustResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockAdjustResult{}, errors.New("catalog repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockAdjustResult{}, errors.New("catalog adjust stock: at least one line is required")
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result repositories.StockAdjustResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc productDocument
		}

		stocks := make(map[string]int64, len(req.Lines))
		writes := make([]pendingWrite, 0, len(req.Lines))

		// All reads happen before any write inside a Firestore transaction.
		for _, line := range req.Lines {
			id := strings.TrimSpace(line.ProductID)
			if id == "" {
				return repositories.NewStockError(repositories.StockErrorUnknown, "", "catalog adjust stock: product id is required", nil)
			}
			if line.Delta == 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, id, fmt.Sprintf("catalog adjust stock: delta for %s must be non-zero", id), nil)
			}

			ref, err := r.products.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorProductNotFound, id, fmt.Sprintf("product %s not found", id), err)
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", id, err)
			}

			next := doc.Stock + line.Delta
			if next < 0 {
				return repositories.NewStockError(repositories.StockErrorInsufficient, id, fmt.Sprintf("insufficient stock for %s", id), nil)
			}
			doc.Stock = next
			doc.UpdatedAt = now
			stocks[id] = next
			writes = append(writes, pendingWrite{ref: ref, doc: doc})
		}

		for _, write := range writes {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}

		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		movementRef := client.Collection(stockMovementCollection).NewDoc()
		movement := stockMovementDocument{
			OrderRef:  strings.TrimSpace(req.OrderRef),
			Lines:     stockMovementLines(req.Lines),
			CreatedAt: now,
		}
		if err := tx.Create(movementRef, movement); err != nil {
			return err
		}

		result = repositories.StockAdjustResult{Stocks: stocks}
		return nil
	})
	if err != nil {
		return repositories.StockAdjustResult{}, wrapStockError("catalog.adjustStock", err)
	}
	return result, nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	VendorID    string    `firestore:"vendorId"`
	Name        string    `firestore:"name"`
	PriceMinor  int64     `firestore:"price"`
	Stock       int64     `firestore:"stock"`
	WeightGrams int64     `firestore:"weightGrams"`
	Sellable    bool      `firestore:"sellable"`
	MadeToOrder bool      `firestore:"madeToOrder"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		VendorID:    strings.TrimSpace(d.VendorID),
		Name:        strings.TrimSpace(d.Name),
		PriceMinor:  d.PriceMinor,
		Stock:       d.Stock,
		WeightGrams: d.WeightGrams,
		Sellable:    d.Sellable,
		MadeToOrder: d.MadeToOrder,
		UpdatedAt:   d.UpdatedAt,
	}
}

type stockMovementDocument struct {
	OrderRef  string                      `firestore:"orderRef,omitempty"`
	Lines     []stockMovementLineDocument `firestore:"lines"`
	CreatedAt time.Time                   `firestore:"createdAt"`
}

type stockMovementLineDocument struct {
	ProductID string `firestore:"productId"`
	Delta     int64  `firestore:"delta"`
}

func stockMovementLines(lines []repositories.StockLine) []stockMovementLineDocument {
	out := make([]stockMovementLineDocument, len(lines))
	for i, line := range lines {
		out[i] = stockMovementLineDocument{
			ProductID: strings.TrimSpace(line.ProductID),
			Delta:     line.Delta,
		}
	}
	return out
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
