package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newLoyaltyServiceForTest(t *testing.T, ledger *stubLoyaltyRepository) LoyaltyService {
	t.Helper()
	svc, err := NewLoyaltyService(LoyaltyServiceDeps{
		Ledger: ledger,
		Clock:  func() time.Time { return time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewLoyaltyService: %v", err)
	}
	return svc
}

func TestLoyaltyServiceBalanceMissingAccountReadsZero(t *testing.T) {
	svc := newLoyaltyServiceForTest(t, &stubLoyaltyRepository{})

	account, err := svc.Balance(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if account.Balance != 0 {
		t.Fatalf("expected zero balance, got %d", account.Balance)
	}
}

func TestLoyaltyServiceCreditValidatesPoints(t *testing.T) {
	svc := newLoyaltyServiceForTest(t, &stubLoyaltyRepository{})

	_, err := svc.Credit(context.Background(), LoyaltyAdjustCommand{CustomerID: "cus_1", Points: 0})
	if !errors.Is(err, ErrLoyaltyInvalidInput) {
		t.Fatalf("expected ErrLoyaltyInvalidInput, got %v", err)
	}
}

func TestLoyaltyServiceCreditMovesBalance(t *testing.T) {
	ledger := &stubLoyaltyRepository{balance: 20}
	svc := newLoyaltyServiceForTest(t, ledger)

	account, err := svc.Credit(context.Background(), LoyaltyAdjustCommand{
		CustomerID: "cus_1", Points: 30, Reason: "anniversaire",
	})
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if account.Balance != 50 {
		t.Fatalf("expected balance 50, got %d", account.Balance)
	}
	if len(ledger.credits) != 1 || ledger.credits[0].Reason != "anniversaire" {
		t.Fatalf("expected ledger entry recorded, got %+v", ledger.credits)
	}
	if ledger.credits[0].ID == "" {
		t.Fatalf("expected generated entry id")
	}
}

func TestLoyaltyServiceDebitShortfall(t *testing.T) {
	ledger := &stubLoyaltyRepository{balance: 10}
	svc := newLoyaltyServiceForTest(t, ledger)

	_, err := svc.Debit(context.Background(), LoyaltyAdjustCommand{CustomerID: "cus_1", Points: 25})
	if !errors.Is(err, ErrLoyaltyInsufficientPoints) {
		t.Fatalf("expected ErrLoyaltyInsufficientPoints, got %v", err)
	}
	if ledger.balance != 10 {
		t.Fatalf("balance must be untouched on shortfall, got %d", ledger.balance)
	}
}

func TestLoyaltyServiceDebitMovesBalance(t *testing.T) {
	ledger := &stubLoyaltyRepository{balance: 100}
	svc := newLoyaltyServiceForTest(t, ledger)

	account, err := svc.Debit(context.Background(), LoyaltyAdjustCommand{
		CustomerID: "cus_1", Points: 40, Reason: "echange", OrderID: "ord_1",
	})
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if account.Balance != 60 {
		t.Fatalf("expected balance 60, got %d", account.Balance)
	}
	if len(ledger.debits) != 1 || ledger.debits[0].OrderID != "ord_1" {
		t.Fatalf("expected debit entry with order ref, got %+v", ledger.debits)
	}
}
