package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testClock = time.Date(2026, time.June, 15, 9, 0, 0, 0, time.UTC)

func checkoutRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeErrorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return body.Error
}

func TestMiddlewareRejectsMissingKey(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testClock }))

	called := false
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest(`{"addressId":"adr_1"}`))

	if called {
		t.Fatal("handler must not run without an idempotency key")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	var calls int
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testClock }))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord_01","status":"EN_ATTENTE"}`))
	}))

	first := checkoutRequest(`{"addressId":"adr_1"}`)
	first.Header.Set(defaultHeaderName, "chk-7f3a")
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, first)

	if calls != 1 || rr1.Code != http.StatusCreated {
		t.Fatalf("first request: calls=%d status=%d", calls, rr1.Code)
	}

	second := checkoutRequest(`{"addressId":"adr_1"}`)
	second.Header.Set(defaultHeaderName, "chk-7f3a")
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, second)

	if calls != 1 {
		t.Fatalf("handler ran again on replay, calls=%d", calls)
	}
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", rr2.Code)
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatal("replay marker header missing")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("replay lost content type, got %q", got)
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("replayed body %q differs from original %q", rr2.Body.String(), rr1.Body.String())
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testClock }))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := checkoutRequest(`{"addressId":"adr_1"}`)
	first.Header.Set(defaultHeaderName, "chk-dupe")
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, first)
	if rr1.Code != http.StatusOK {
		t.Fatalf("first request failed with %d", rr1.Code)
	}

	second := checkoutRequest(`{"addressId":"adr_2"}`)
	second.Header.Set(defaultHeaderName, "chk-dupe")
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, second)

	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr2.Code)
	}
	if code := decodeErrorCode(t, rr2.Body.Bytes()); code != "idempotency_key_conflict" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestMiddlewarePendingReservationConflicts(t *testing.T) {
	store := NewMemoryStore()
	middleware := Middleware(store, WithClock(func() time.Time { return testClock }))
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is pending")
	}))

	req := checkoutRequest(`{"addressId":"adr_1"}`)
	req.Header.Set(defaultHeaderName, "chk-pending")

	body, err := bufferBody(req)
	if err != nil {
		t.Fatalf("buffer body: %v", err)
	}
	requester := requesterID(req.Context())
	fingerprint := fingerprintRequest(req, body, requester)
	if _, err := store.Reserve(req.Context(), scopeKey("chk-pending", requester), fingerprint, testClock, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_in_progress" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestMiddlewareReleasesKeyWhenSaveFails(t *testing.T) {
	store := &failingStore{}
	middleware := Middleware(store, WithClock(func() time.Time { return testClock }))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := checkoutRequest(`{"addressId":"adr_1"}`)
	req.Header.Set(defaultHeaderName, "chk-fail")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_store_error" {
		t.Fatalf("unexpected error code %q", code)
	}
	if !store.released {
		t.Fatal("reservation was not released after the save failure")
	}
}

type failingStore struct {
	released bool
}

func (s *failingStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *failingStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return errors.New("firestore offline")
}

func (s *failingStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *failingStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
