//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	pconfig "github.com/souqline/api/internal/platform/config"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/repositories"
)

func TestCatalogRepositoryLastUnitIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "catalog-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewCatalogRepository(provider)
	if err != nil {
		t.Fatalf("new catalog repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("firestore client: %v", err)
	}
	if _, err := client.Collection(productCollection).Doc("prod_lantern").Set(ctx, productDocument{
		VendorID:    "ven_1",
		Name:        "Lanterne en cuivre",
		PriceMinor:  38_000,
		Stock:       1,
		WeightGrams: 900,
		Sellable:    true,
		UpdatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	// Two checkouts race for the last unit; exactly one may take it.
	results := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(len(results))

	for i := range results {
		go func(idx int) {
			defer wg.Done()
			_, err := repo.AdjustStock(ctx, repositories.StockAdjustRequest{
				Lines:    []repositories.StockLine{{ProductID: "prod_lantern", Delta: -1}},
				OrderRef: fmt.Sprintf("ord_race_%d", idx),
				Now:      time.Now().UTC(),
			})
			results[idx] = err
		}(i)
	}

	wg.Wait()

	var wins, losses int
	for _, adjustErr := range results {
		if adjustErr == nil {
			wins++
			continue
		}
		losses++
		var stockErr *repositories.StockError
		if !errors.As(adjustErr, &stockErr) {
			t.Fatalf("expected stock error for the loser, got %T %v", adjustErr, adjustErr)
		}
		if stockErr.Code != repositories.StockErrorInsufficient {
			t.Fatalf("expected insufficient code, got %s", stockErr.Code)
		}
		if stockErr.ProductID != "prod_lantern" {
			t.Fatalf("expected failing line named, got %q", stockErr.ProductID)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected exactly one winner, got %d wins and %d losses", wins, losses)
	}

	product, err := repo.GetProduct(ctx, "prod_lantern")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 0 {
		t.Fatalf("expected stock 0 after the race, got %d", product.Stock)
	}

	// A cancellation puts the unit back exactly once.
	if _, err := repo.AdjustStock(ctx, repositories.StockAdjustRequest{
		Lines:    []repositories.StockLine{{ProductID: "prod_lantern", Delta: 1}},
		OrderRef: "ord_race_0",
		Now:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("restock: %v", err)
	}

	product, err = repo.GetProduct(ctx, "prod_lantern")
	if err != nil {
		t.Fatalf("get product after restock: %v", err)
	}
	if product.Stock != 1 {
		t.Fatalf("expected stock 1 after restock, got %d", product.Stock)
	}
}
