package httpwallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"nwcprovider/internal/wallet"
)

func TestCreateInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wallets/acct1/invoices" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("missing bearer token, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"payment_hash":    "hash123",
			"payment_request": "lnbc1...",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	inv, err := c.CreateInvoice(context.Background(), "acct1", 1000, "memo", "", 3600)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if inv.PaymentHash != "hash123" || inv.PaymentRequest != "lnbc1..." {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
}

func TestPayInvoiceSurfacesPaymentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]string{"message": "insufficient balance"})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.PayInvoice(context.Background(), "acct1", "lnbc1...", 0, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "insufficient balance" {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestGetWallet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int64{"balance_msat": 555000})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	info, err := c.GetWallet(context.Background(), "acct1")
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if info.BalanceMsat != 555000 {
		t.Fatalf("got balance %d, want 555000", info.BalanceMsat)
	}
}

func TestDecodeInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wallets/acct1/decode" || r.URL.Query().Get("invoice") != "lnbc1realinvoice" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"payment_hash": "hash456",
			"amount_msat":  21000,
			"description":  "coffee",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	hash, amountMsat, desc, err := c.DecodeInvoice(context.Background(), "acct1", "lnbc1realinvoice")
	if err != nil {
		t.Fatalf("DecodeInvoice: %v", err)
	}
	if hash != "hash456" || amountMsat != 21000 || desc != "coffee" {
		t.Fatalf("unexpected decode result: hash=%q amountMsat=%d desc=%q", hash, amountMsat, desc)
	}
}

func TestCreateAndGetOffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/wallets/acct1/offers":
			json.NewEncoder(w).Encode(map[string]any{
				"bolt12":     "lno1mockabc",
				"offer_id":   "abc",
				"amount_msat": 21000,
				"active":     true,
			})
		case r.Method == http.MethodGet && r.URL.Path == "/wallets/acct1/offers/abc":
			json.NewEncoder(w).Encode(map[string]any{
				"bolt12":   "lno1mockabc",
				"offer_id": "abc",
				"active":   true,
			})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	offer, err := c.CreateOffer(context.Background(), "acct1", 21000, "coffee club", 0, false)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.OfferID != "abc" || offer.Bolt12 != "lno1mockabc" {
		t.Fatalf("unexpected offer: %+v", offer)
	}

	got, err := c.GetOffer(context.Background(), "acct1", "abc")
	if err != nil {
		t.Fatalf("GetOffer: %v", err)
	}
	if !got.Active {
		t.Fatalf("expected active offer, got %+v", got)
	}
}

func TestGetOffersEncodesFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("active") != "true" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]map[string]any{{"offer_id": "abc"}})
	}))
	defer srv.Close()

	active := true
	c := New(srv.URL, "")
	offers, err := c.GetOffers(context.Background(), "acct1", wallet.OfferFilter{Active: &active})
	if err != nil {
		t.Fatalf("GetOffers: %v", err)
	}
	if len(offers) != 1 || offers[0].OfferID != "abc" {
		t.Fatalf("unexpected offers: %+v", offers)
	}
}

func TestGetPaymentsEncodesFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" || r.URL.Query().Get("type") != "incoming" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]map[string]any{{"payment_hash": "abc"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	payments, err := c.GetPayments(context.Background(), "acct1", wallet.PaymentFilter{Limit: 5, Type: "incoming"})
	if err != nil {
		t.Fatalf("GetPayments: %v", err)
	}
	if len(payments) != 1 || payments[0].PaymentHash != "abc" {
		t.Fatalf("unexpected payments: %+v", payments)
	}
}
