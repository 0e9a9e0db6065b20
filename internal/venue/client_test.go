package venue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

type fakeSigner struct{}

func (fakeSigner) Sign(method, path string) (map[string]string, error) {
	return map[string]string{"X-Test": method + path}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_PlaceOrder_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body orderRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.TokenID != "tok-1" || body.Side != "BUY" {
			t.Fatalf("unexpected order body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(orderResponse{OrderID: "ord-123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, fakeSigner{}, discardLogger())
	ack, err := c.PlaceOrder(context.Background(), "tok-1", Buy, decimal.RequireFromString("0.34"), decimal.RequireFromString("10"), false)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.OrderID != "ord-123" {
		t.Errorf("ack.OrderID = %q, want ord-123", ack.OrderID)
	}
}

func TestClient_PlaceOrder_InsufficientBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(venueErrorBody{Kind: "insufficient_balance", Message: "not enough collateral"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, fakeSigner{}, discardLogger())
	_, err := c.PlaceOrder(context.Background(), "tok-1", Buy, decimal.RequireFromString("0.34"), decimal.RequireFromString("10"), false)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want wrapping ErrInsufficientBalance", err)
	}
}

func TestClient_PlaceOrder_MinNotional(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(venueErrorBody{Kind: "min_notional", Message: "order too small"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, fakeSigner{}, discardLogger())
	_, err := c.PlaceOrder(context.Background(), "tok-1", Buy, decimal.RequireFromString("0.01"), decimal.RequireFromString("1"), false)
	if !errors.Is(err, ErrMinNotional) {
		t.Fatalf("err = %v, want wrapping ErrMinNotional", err)
	}
}

func TestClient_GetCollateralBalance_ConvertsMicroUnits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(balanceResponse{Balance: "1500000000"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, fakeSigner{}, discardLogger())
	bal, err := c.GetCollateralBalance(context.Background())
	if err != nil {
		t.Fatalf("GetCollateralBalance: %v", err)
	}
	if !bal.Equal(decimal.RequireFromString("1500")) {
		t.Errorf("balance = %s, want 1500", bal)
	}
}

func TestClient_CancelOrder_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, fakeSigner{}, discardLogger())
	if err := c.CancelOrder(context.Background(), "ord-1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}
