//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	pconfig "github.com/souqline/api/internal/platform/config"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type zoneDoc struct {
	Region    string `firestore:"region"`
	DelayDays int    `firestore:"delayDays"`
}

func TestProviderAgainstEmulator(t *testing.T) {
	endpoint, containerID := launchEmulator(t)
	defer killContainer(containerID)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "souqline-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if _, err := provider.Client(ctx); err != nil {
		t.Fatalf("dial emulator: %v", err)
	}

	repo := pfirestore.NewBaseRepository[zoneDoc](provider, "shipping_zones", nil, nil)

	if _, err := repo.Set(ctx, "casablanca", zoneDoc{Region: "Casablanca-Settat", DelayDays: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}

	doc, err := repo.Get(ctx, "casablanca")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.ID != "casablanca" || doc.Data.Region != "Casablanca-Settat" || doc.Data.DelayDays != 1 {
		t.Fatalf("unexpected document: %#v", doc)
	}
	if doc.UpdateTime.IsZero() {
		t.Fatalf("update time missing")
	}

	if _, err := repo.Update(ctx, "casablanca", []firestore.Update{{Path: "delayDays", Value: 2}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if doc, err = repo.Get(ctx, "casablanca"); err != nil || doc.Data.DelayDays != 2 {
		t.Fatalf("get after update: doc=%#v err=%v", doc, err)
	}

	docs, err := repo.Query(ctx, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected a single zone, got %d", len(docs))
	}

	_, err = repo.Get(ctx, "tanger")
	if err == nil {
		t.Fatalf("expected missing zone to fail")
	}
	var cls interface{ IsNotFound() bool }
	if !errors.As(err, &cls) || !cls.IsNotFound() {
		t.Fatalf("expected not-found classification, got %v", err)
	}

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "casablanca")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var zone zoneDoc
		if err := snap.DataTo(&zone); err != nil {
			return err
		}
		zone.DelayDays++
		return tx.Set(ref, zone)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if doc, err = repo.Get(ctx, "casablanca"); err != nil || doc.Data.DelayDays != 3 {
		t.Fatalf("get after transaction: doc=%#v err=%v", doc, err)
	}

	cancelled, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	err = provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// launchEmulator starts a Firestore emulator container and returns its
// endpoint once it accepts TCP connections. Skips when docker is unusable.
func launchEmulator(t *testing.T) (string, string) {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	infoCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(infoCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()

	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start emulator: %v - %s", err, out)
	}
	id := strings.TrimSpace(string(out))
	if len(id) > 12 {
		id = id[:12]
	}

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(30 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return endpoint, id
		}
		if time.Now().After(deadline) {
			killContainer(id)
			t.Fatalf("emulator never became ready: %v", err)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func killContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}
