package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nwcprovider/internal/budget"
	"nwcprovider/internal/nostrcrypto"
	"nwcprovider/internal/store"
	"nwcprovider/internal/store/memstore"
)

func newTestServer(t *testing.T) *Server {
	priv, err := nostrcrypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	pub, err := nostrcrypto.PublicKey(priv)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	return New(memstore.New(), pub, "wss://relay.example.com", "", "default", nil)
}

func TestCreateAndFetchClientKey(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	clientPriv, _ := nostrcrypto.GeneratePrivateKey()
	clientPub, _ := nostrcrypto.PublicKey(clientPriv)

	body := strings.NewReader(`{"pubkey":"` + clientPub + `","description":"test client","permissions":["balance","info"],"budget_msats":100000,"refresh_window":3600}`)
	req := httptest.NewRequest(http.MethodPost, "/client-keys", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/client-keys/"+clientPub, nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", getRec.Code, getRec.Body.String())
	}

	var out struct {
		ClientKey *store.ClientKey  `json:"client_key"`
		Budgets   []*store.Budget   `json:"budgets"`
	}
	if err := json.NewDecoder(getRec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ClientKey.Description != "test client" {
		t.Fatalf("unexpected description: %+v", out.ClientKey)
	}
	if len(out.Budgets) != 1 || out.Budgets[0].BudgetMsats != 100000 {
		t.Fatalf("unexpected budgets: %+v", out.Budgets)
	}
}

func TestCreateClientKeyRejectsUnknownPermission(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	clientPriv, _ := nostrcrypto.GeneratePrivateKey()
	clientPub, _ := nostrcrypto.PublicKey(clientPriv)

	body := strings.NewReader(`{"pubkey":"` + clientPub + `","permissions":["superadmin"]}`)
	req := httptest.NewRequest(http.MethodPost, "/client-keys", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	putBody := strings.NewReader(`{"key":"site_title","value":"My Provider"}`)
	putReq := httptest.NewRequest(http.MethodPut, "/config", putBody)
	putRec := httptest.NewRecorder()
	mux.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusOK {
		t.Fatalf("put status = %d", putRec.Code)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/config?key=site_title", nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)

	var out struct {
		Value string `json:"value"`
		Found bool   `json:"found"`
	}
	json.NewDecoder(getRec.Body).Decode(&out)
	if !out.Found || out.Value != "My Provider" {
		t.Fatalf("unexpected config: %+v", out)
	}
}

func TestPairingURLFormat(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	pairingURL, clientPubKey, err := s.PairingURL(ctx, "", nil, 0, 0, 0)
	if err != nil {
		t.Fatalf("PairingURL: %v", err)
	}
	if !strings.HasPrefix(pairingURL, "nostr+walletconnect://"+s.ProviderPubKey+"?relay=") {
		t.Fatalf("unexpected pairing url: %s", pairingURL)
	}
	if !strings.Contains(pairingURL, "&secret=") {
		t.Fatalf("pairing url missing secret param: %s", pairingURL)
	}
	if len(clientPubKey) != 64 {
		t.Fatalf("unexpected client pubkey length: %s", clientPubKey)
	}

	ck, err := s.Store.GetClientKey(ctx, clientPubKey)
	if err != nil {
		t.Fatalf("expected a registered client key for the paired pubkey: %v", err)
	}
	if len(ck.Permissions) != len(budget.AllPermissions) {
		t.Fatalf("expected default pairing to grant every permission, got %+v", ck.Permissions)
	}
}

func TestPairingURLHonorsScopedParams(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	req := httptest.NewRequest(http.MethodGet, "/pairing-url?description=phone+wallet&permissions=balance,info&budget_msats=50000&refresh_window=86400", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var out struct {
		ClientPubKey string `json:"client_pubkey"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	ck, err := s.Store.GetClientKey(context.Background(), out.ClientPubKey)
	if err != nil {
		t.Fatalf("GetClientKey: %v", err)
	}
	if ck.Description != "phone wallet" || len(ck.Permissions) != 2 {
		t.Fatalf("unexpected client key: %+v", ck)
	}
	budgets, err := s.Store.ListBudgets(context.Background(), out.ClientPubKey)
	if err != nil {
		t.Fatalf("ListBudgets: %v", err)
	}
	if len(budgets) != 1 || budgets[0].BudgetMsats != 50000 {
		t.Fatalf("unexpected budgets: %+v", budgets)
	}
}

func TestPairingQRServesPNG(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	req := httptest.NewRequest(http.MethodGet, "/pairing-qr", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content-type = %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty PNG body")
	}

	keys, err := s.Store.ListClientKeys(context.Background())
	if err != nil {
		t.Fatalf("ListClientKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected pairing-qr to register a client key, got %d", len(keys))
	}
}

func TestPairingURLResponseIncludesNpub(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	req := httptest.NewRequest(http.MethodGet, "/pairing-url", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var out struct {
		ClientNpub string `json:"client_npub"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(out.ClientNpub, "npub1") {
		t.Fatalf("expected client_npub with npub1 prefix, got %q", out.ClientNpub)
	}

	keys, err := s.Store.ListClientKeys(context.Background())
	if err != nil {
		t.Fatalf("ListClientKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected pairing-url to register a client key, got %d", len(keys))
	}
}
