package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"nwcprovider/internal/budget"
	"nwcprovider/internal/queue"
	"nwcprovider/internal/store"
	"nwcprovider/internal/store/memstore"
	"nwcprovider/internal/wallet/mock"
)

func newTestDeps(t *testing.T, walletID string) (Deps, *mock.Wallet, *memstore.Store) {
	t.Helper()
	q := queue.New(8)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go q.Run(ctx)

	st := memstore.New()
	w := mock.New()
	return Deps{Store: st, Wallet: w, Queue: q, WalletID: walletID, SiteTitle: "Test Provider"}, w, st
}

func authorizeClient(t *testing.T, st store.Store, pubKey string, perms []string, expiresAt int64) {
	t.Helper()
	err := st.PutClientKey(context.Background(), &store.ClientKey{
		PubKey:      pubKey,
		Permissions: perms,
		CreatedAt:   time.Now().Unix(),
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		t.Fatalf("PutClientKey: %v", err)
	}
}

func firstResult(results []Result) Result { return results[0] }

// Scenario 1: make_invoice.
func TestScenarioMakeInvoice(t *testing.T) {
	d, _, st := newTestDeps(t, "wallet1")
	authorizeClient(t, st, "client1", []string{budget.PermInvoice}, 0)

	params, _ := json.Marshal(map[string]interface{}{"amount": 123000, "description": "test 123", "expiry": 1000})
	r := firstResult(Dispatch(context.Background(), d, "client1", "make_invoice", params))
	if r.Err != nil {
		t.Fatalf("unexpected error: %+v", r.Err)
	}
	result := r.Result.(map[string]interface{})
	if result["type"] != "incoming" {
		t.Fatalf("type = %v, want incoming", result["type"])
	}
	if result["amount"].(int64) != 123000 {
		t.Fatalf("amount = %v, want 123000", result["amount"])
	}
	paymentHash, amountMsat, _, err := mock.DecodeInvoice(result["invoice"].(string))
	if err != nil {
		t.Fatalf("DecodeInvoice: %v", err)
	}
	if amountMsat != 123000 {
		t.Fatalf("decoded invoice amount = %d, want 123000", amountMsat)
	}
	if result["payment_hash"] != paymentHash {
		t.Fatalf("payment_hash mismatch")
	}
}

// Scenario 2: pay_invoice happy path between two wallets.
func TestScenarioPayInvoiceHappyPath(t *testing.T) {
	dWallet1, w, st := newTestDeps(t, "wallet1")
	authorizeClient(t, st, "client1", []string{budget.PermInvoice, budget.PermBalance}, 0)
	authorizeClient(t, st, "client2", []string{budget.PermPay, budget.PermBalance}, 0)
	w.Credit("wallet1", 1_000_000)
	w.Credit("wallet2", 1_000_000)

	invParams, _ := json.Marshal(map[string]interface{}{"amount": 123000, "description": "x"})
	invResult := firstResult(Dispatch(context.Background(), dWallet1, "client1", "make_invoice", invParams))
	invoice := invResult.Result.(map[string]interface{})["invoice"].(string)

	dWallet2 := dWallet1
	dWallet2.WalletID = "wallet2"

	payParams, _ := json.Marshal(map[string]interface{}{"invoice": invoice})
	payResult := firstResult(Dispatch(context.Background(), dWallet2, "client2", "pay_invoice", payParams))
	if payResult.Err != nil {
		t.Fatalf("pay_invoice failed: %+v", payResult.Err)
	}
	if payResult.Result.(map[string]interface{})["preimage"] == "" {
		t.Fatal("expected non-empty preimage")
	}

	bal1 := firstResult(Dispatch(context.Background(), dWallet1, "client1", "get_balance", nil))
	bal2 := firstResult(Dispatch(context.Background(), dWallet2, "client2", "get_balance", nil))
	if bal1.Err != nil || bal1.Result.(map[string]interface{})["balance"].(int64) != 1_000_000+123000 {
		t.Fatalf("wallet1 balance wrong: %+v err=%+v", bal1.Result, bal1.Err)
	}
	if bal2.Err != nil || bal2.Result.(map[string]interface{})["balance"].(int64) != 1_000_000-123000 {
		t.Fatalf("wallet2 balance wrong: %+v err=%+v", bal2.Result, bal2.Err)
	}
}

// Scenario 3: multi_pay_invoice across three invoices, two recipients.
func TestScenarioMultiPayInvoice(t *testing.T) {
	d1, w, st := newTestDeps(t, "wallet1")
	authorizeClient(t, st, "issuer", []string{budget.PermInvoice}, 0)
	authorizeClient(t, st, "client3", []string{budget.PermPay, budget.PermBalance}, 0)
	w.Credit("wallet3", 10_000_000)

	mk := func(walletID string) string {
		d := d1
		d.WalletID = walletID
		params, _ := json.Marshal(map[string]interface{}{"amount": 123000, "description": "batch"})
		r := firstResult(Dispatch(context.Background(), d, "issuer", "make_invoice", params))
		return r.Result.(map[string]interface{})["invoice"].(string)
	}
	inv1 := mk("wallet1")
	inv2 := mk("wallet1")
	inv3 := mk("wallet2")

	d3 := d1
	d3.WalletID = "wallet3"
	params, _ := json.Marshal(map[string]interface{}{"invoices": []map[string]interface{}{
		{"id": "invoice1", "invoice": inv1},
		{"id": "invoice2", "invoice": inv2},
		{"invoice": inv3},
	}})
	results := Dispatch(context.Background(), d3, "client3", "multi_pay_invoice", params)
	if len(results) != 3 {
		t.Fatalf("expected 3 response tuples, got %d", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("invoice %d failed: %+v", i, r.Err)
		}
		if len(r.ExtraTags) != 1 || r.ExtraTags[0][0] != "d" || r.ExtraTags[0][1] == "" {
			t.Fatalf("invoice %d missing d tag: %+v", i, r.ExtraTags)
		}
		if r.Result.(map[string]interface{})["preimage"] == "" {
			t.Fatalf("invoice %d missing preimage", i)
		}
	}
	if results[0].ExtraTags[0][1] != "invoice1" || results[1].ExtraTags[0][1] != "invoice2" {
		t.Fatalf("expected explicit ids to be used as d-tag value")
	}

	bal3 := firstResult(Dispatch(context.Background(), d3, "client3", "get_balance", nil))
	if bal3.Result.(map[string]interface{})["balance"].(int64) != 10_000_000-3*123000 {
		t.Fatalf("wallet3 balance wrong: %+v", bal3.Result)
	}
}

// Scenario 4: QUOTA_EXCEEDED once the current cycle's budget is spent.
// Success after cycle rollover is covered by internal/budget's
// TestTrackedSpendQuotaExceeded, which can move the clock.
func TestScenarioQuotaExceeded(t *testing.T) {
	d1, w, st := newTestDeps(t, "wallet1")
	d2 := d1
	d2.WalletID = "wallet2"
	authorizeClient(t, st, "issuer", []string{budget.PermInvoice}, 0)
	authorizeClient(t, st, "payer", []string{budget.PermPay}, 0)
	w.Credit("wallet2", 10_000_000)

	now := time.Now().Unix()
	st.PutBudget(context.Background(), &store.Budget{PubKey: "payer", BudgetMsats: 100000, RefreshWindow: 3600, CreatedAt: now})

	mkInvoice := func(amount int) string {
		params, _ := json.Marshal(map[string]interface{}{"amount": amount, "description": "q"})
		r := firstResult(Dispatch(context.Background(), d1, "issuer", "make_invoice", params))
		return r.Result.(map[string]interface{})["invoice"].(string)
	}

	pay := func(invoice string) *WalletError {
		params, _ := json.Marshal(map[string]interface{}{"invoice": invoice})
		r := firstResult(Dispatch(context.Background(), d2, "payer", "pay_invoice", params))
		return r.Err
	}

	if err := pay(mkInvoice(99000)); err != nil {
		t.Fatalf("expected 99000 payment to succeed, got %+v", err)
	}
	if err := pay(mkInvoice(2000)); err == nil || err.Code != "QUOTA_EXCEEDED" {
		t.Fatalf("expected QUOTA_EXCEEDED, got %+v", err)
	}
}

// Scenario 5: UNAUTHORIZED after expiry.
func TestScenarioUnauthorizedAfterExpiry(t *testing.T) {
	d, _, st := newTestDeps(t, "wallet1")
	expiresAt := time.Now().Unix() - 2
	authorizeClient(t, st, "client1", []string{budget.PermBalance}, expiresAt)

	r := firstResult(Dispatch(context.Background(), d, "client1", "get_balance", nil))
	if r.Err == nil || r.Err.Code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %+v", r.Err)
	}
}

// Scenario 6: RESTRICTED when permission set excludes the method.
func TestScenarioRestricted(t *testing.T) {
	d, _, st := newTestDeps(t, "wallet1")
	authorizeClient(t, st, "client1", []string{budget.PermInfo}, 0)

	params, _ := json.Marshal(map[string]interface{}{"amount": 1000})
	r := firstResult(Dispatch(context.Background(), d, "client1", "make_invoice", params))
	if r.Err == nil || r.Err.Code != "RESTRICTED" {
		t.Fatalf("expected RESTRICTED, got %+v", r.Err)
	}
}

func TestGetInfoMethodsIsPermissionClosure(t *testing.T) {
	d, _, st := newTestDeps(t, "wallet1")
	authorizeClient(t, st, "client1", []string{budget.PermInfo, budget.PermBalance}, 0)

	r := firstResult(Dispatch(context.Background(), d, "client1", "get_info", nil))
	if r.Err != nil {
		t.Fatalf("unexpected error: %+v", r.Err)
	}
	methods := r.Result.(map[string]interface{})["methods"].([]string)
	want := map[string]bool{"get_info": true, "get_balance": true}
	if len(methods) != len(want) {
		t.Fatalf("methods = %v, want exactly %v", methods, want)
	}
	for _, m := range methods {
		if !want[m] {
			t.Fatalf("unexpected method %q in closure", m)
		}
	}
}

// Scenario 7: make_offer, lookup_offer, list_offers.
func TestScenarioOfferLifecycle(t *testing.T) {
	d, _, st := newTestDeps(t, "wallet1")
	authorizeClient(t, st, "client1", []string{budget.PermOffer, budget.PermLookupOffer, budget.PermListOffers}, 0)

	makeParams, _ := json.Marshal(map[string]interface{}{"amount": 21000, "memo": "coffee club"})
	made := firstResult(Dispatch(context.Background(), d, "client1", "make_offer", makeParams))
	if made.Err != nil {
		t.Fatalf("make_offer failed: %+v", made.Err)
	}
	offer := made.Result.(map[string]interface{})
	offerID, _ := offer["offer_id"].(string)
	if offerID == "" || offer["bolt12"] == "" {
		t.Fatalf("expected populated offer, got %+v", offer)
	}

	lookupParams, _ := json.Marshal(map[string]interface{}{"offer_id": offerID})
	looked := firstResult(Dispatch(context.Background(), d, "client1", "lookup_offer", lookupParams))
	if looked.Err != nil {
		t.Fatalf("lookup_offer failed: %+v", looked.Err)
	}
	if looked.Result.(map[string]interface{})["offer_id"] != offerID {
		t.Fatalf("lookup_offer returned wrong offer: %+v", looked.Result)
	}

	listed := firstResult(Dispatch(context.Background(), d, "client1", "list_offers", nil))
	if listed.Err != nil {
		t.Fatalf("list_offers failed: %+v", listed.Err)
	}
	offers := listed.Result.(map[string]interface{})["offers"].([]map[string]interface{})
	if len(offers) != 1 || offers[0]["offer_id"] != offerID {
		t.Fatalf("expected 1 listed offer matching %q, got %+v", offerID, offers)
	}
}

func TestNotImplementedForUnknownMethod(t *testing.T) {
	d, _, st := newTestDeps(t, "wallet1")
	authorizeClient(t, st, "client1", []string{budget.PermInfo, budget.PermBalance, budget.PermPay, budget.PermInvoice, budget.PermLookup, budget.PermHistory}, 0)

	r := firstResult(Dispatch(context.Background(), d, "client1", "sign_message", nil))
	if r.Err == nil || r.Err.Code != "NOT_IMPLEMENTED" {
		t.Fatalf("expected NOT_IMPLEMENTED, got %+v", r.Err)
	}
}
