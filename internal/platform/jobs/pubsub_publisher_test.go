package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/souqline/api/internal/services"
)

func newTestClient(t *testing.T, srv *pstest.Server) *pubsub.Client {
	t.Helper()
	client, err := pubsub.NewClient(context.Background(), "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv)

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	msg := services.OrderEventMessage{
		Event:       "order.created",
		OrderID:     "ord_test",
		OrderNumber: "CMD-2026-000042",
		CustomerID:  "cust-1",
		Status:      "EN_ATTENTE",
		OccurredAt:  time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishOrderEvent(ctx, msg); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != msg.OrderID || payload.Event != msg.Event {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["status"]; attr != "EN_ATTENTE" {
		t.Fatalf("expected status attribute, got %q", attr)
	}
}

func TestPubSubPaymentRecorderPublishesAmount(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()
	client := newTestClient(t, srv)

	topic, err := client.CreateTopic(ctx, "payments")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	recorder, err := NewPubSubPaymentRecorder(topic)
	if err != nil {
		t.Fatalf("NewPubSubPaymentRecorder: %v", err)
	}

	msg := services.PaymentRecordMessage{
		OrderID:     "ord_test",
		OrderNumber: "CMD-2026-000042",
		CustomerID:  "cust-1",
		AmountMinor: 125_00,
		Currency:    "MAD",
		RecordedAt:  time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC),
	}

	if _, err := recorder.RecordPayment(ctx, msg); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.PaymentRecordMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != msg.OrderID || payload.AmountMinor != msg.AmountMinor {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["orderNumber"]; attr != msg.OrderNumber {
		t.Fatalf("expected orderNumber attribute, got %q", attr)
	}
}
