// Package admin is the operator-facing HTTP surface: client-key
// provisioning, budget and config management, and pairing-URL rendering.
// It mirrors the teacher's mux/middleware composition in main.go
// (http.HandleFunc plus small wrapper middlewares) and its QR rendering in
// html_auth.go's generateQRCodeDataURL.
package admin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"nwcprovider/internal/budget"
	"nwcprovider/internal/nips"
	"nwcprovider/internal/nostrcrypto"
	"nwcprovider/internal/paranoia"
	"nwcprovider/internal/store"
)

const maxDescriptionLen = 256

// Server exposes the admin HTTP surface over a store, the provider's own
// keypair, and the relay URL clients should be pointed at.
type Server struct {
	Store          store.Store
	ProviderPubKey string
	RelayURL       string
	RelayAlias     string
	WalletID       string
	log            *slog.Logger
}

// New constructs a Server. log defaults to slog.Default() when nil.
func New(st store.Store, providerPubKey, relayURL, relayAlias, walletID string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Store:          st,
		ProviderPubKey: providerPubKey,
		RelayURL:       relayURL,
		RelayAlias:     relayAlias,
		WalletID:       walletID,
		log:            log,
	}
}

// Mux builds the admin handler tree. Callers mount it at whatever address
// config.AdminAddr names; it is deliberately separate from the relay-facing
// half of the provider.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.jsonHandler(s.handleHealth))
	mux.HandleFunc("/client-keys", s.jsonHandler(s.handleClientKeys))
	mux.HandleFunc("/client-keys/", s.jsonHandler(s.handleClientKeyByPubKey))
	mux.HandleFunc("/config", s.jsonHandler(s.handleConfig))
	mux.HandleFunc("/pairing-url", s.jsonHandler(s.handlePairingURL))
	mux.HandleFunc("/pairing-qr", s.handlePairingQR)
	return mux
}

// jsonHandler wraps a handler that may return an error; errors are logged
// and surfaced as a {"error": "..."} JSON body, following the teacher's
// sanitizeErrorForUser instinct of never leaking internals to the caller.
func (s *Server) jsonHandler(h func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := h(w, r); err != nil {
			s.log.Error("admin request failed", "path", r.URL.Path, "error", err)
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	return json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// clientKeyRequest is the wire shape for creating or updating a client key.
type clientKeyRequest struct {
	PubKey        string   `json:"pubkey"`
	Description   string   `json:"description"`
	Permissions   []string `json:"permissions"`
	ExpiresAt     int64    `json:"expires_at"`
	BudgetMsats   int64    `json:"budget_msats,omitempty"`
	RefreshWindow int64    `json:"refresh_window,omitempty"`
}

func (s *Server) handleClientKeys(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		keys, err := s.Store.ListClientKeys(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(w).Encode(keys)

	case http.MethodPost:
		var req clientKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return fmt.Errorf("decode request: %w", err)
		}
		if err := paranoia.RequireHex32("pubkey", req.PubKey); err != nil {
			return err
		}
		if req.Description != "" && !paranoia.IsPrintableShortString(req.Description, maxDescriptionLen) {
			return fmt.Errorf("description must be a printable string up to %d bytes", maxDescriptionLen)
		}
		if req.ExpiresAt != 0 && !paranoia.IsUnixTimestamp(req.ExpiresAt) {
			return fmt.Errorf("expires_at is not a plausible unix timestamp")
		}
		if req.BudgetMsats != 0 && !paranoia.IsPositiveMsats(req.BudgetMsats) {
			return fmt.Errorf("budget_msats must be a positive, bounded msat amount")
		}
		for _, p := range req.Permissions {
			if !isKnownPermission(p) {
				return fmt.Errorf("unknown permission %q", p)
			}
		}
		ck := &store.ClientKey{
			PubKey:      req.PubKey,
			WalletID:    s.WalletID,
			Description: req.Description,
			Permissions: req.Permissions,
			CreatedAt:   time.Now().Unix(),
			ExpiresAt:   req.ExpiresAt,
		}
		if err := s.Store.PutClientKey(ctx, ck); err != nil {
			return err
		}
		if req.BudgetMsats > 0 {
			if err := s.Store.PutBudget(ctx, &store.Budget{
				PubKey:        req.PubKey,
				BudgetMsats:   req.BudgetMsats,
				RefreshWindow: req.RefreshWindow,
				CreatedAt:     ck.CreatedAt,
			}); err != nil {
				return err
			}
		}
		w.WriteHeader(http.StatusCreated)
		return json.NewEncoder(w).Encode(ck)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil
	}
}

func (s *Server) handleClientKeyByPubKey(w http.ResponseWriter, r *http.Request) error {
	pubKey := r.URL.Path[len("/client-keys/"):]
	if pubKey == "" {
		w.WriteHeader(http.StatusNotFound)
		return nil
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		ck, err := s.Store.GetClientKey(ctx, pubKey)
		if err != nil {
			return err
		}
		budgets, err := s.Store.ListBudgets(ctx, pubKey)
		if err != nil {
			return err
		}
		return json.NewEncoder(w).Encode(map[string]any{"client_key": ck, "budgets": budgets})

	case http.MethodDelete:
		if err := s.Store.DeleteClientKey(ctx, pubKey); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil
	}
}

func isKnownPermission(p string) bool {
	for _, known := range budget.AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		key := r.URL.Query().Get("key")
		if key == "" {
			w.WriteHeader(http.StatusBadRequest)
			return json.NewEncoder(w).Encode(map[string]string{"error": "missing key query param"})
		}
		value, ok, err := s.Store.GetConfig(ctx, key)
		if err != nil {
			return err
		}
		return json.NewEncoder(w).Encode(map[string]any{"key": key, "value": value, "found": ok})

	case http.MethodPut:
		var req struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return fmt.Errorf("decode request: %w", err)
		}
		if req.Key == "" {
			return fmt.Errorf("key is required")
		}
		if err := s.Store.PutConfig(ctx, req.Key, req.Value); err != nil {
			return err
		}
		return json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil
	}
}

// PairingURL mints a fresh client keypair, registers it in the store as a
// ClientKey (with an optional Budget) so the resulting secret is actually
// usable, and builds the nostr+walletconnect:// URI a wallet application
// consumes to pair with this provider, per spec §6. This mirrors the
// original's two-step register-then-pair flow
// (original_source/views_api.py's `PUT /api/v1/nwc/{pubkey}` followed by
// `GET /api/v1/pairing/{secret}`) collapsed into one call, since here
// the provider — not the wallet app — is the one generating the keypair.
func (s *Server) PairingURL(ctx context.Context, description string, permissions []string, expiresAt, budgetMsats, refreshWindow int64) (string, string, error) {
	clientSecret, err := nostrcrypto.GeneratePrivateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate client secret: %w", err)
	}
	clientPubKey, err := nostrcrypto.PublicKey(clientSecret)
	if err != nil {
		return "", "", fmt.Errorf("derive client pubkey: %w", err)
	}

	if len(permissions) == 0 {
		permissions = budget.AllPermissions
	}
	ck := &store.ClientKey{
		PubKey:      clientPubKey,
		WalletID:    s.WalletID,
		Description: description,
		Permissions: permissions,
		CreatedAt:   time.Now().Unix(),
		ExpiresAt:   expiresAt,
	}
	if err := s.Store.PutClientKey(ctx, ck); err != nil {
		return "", "", fmt.Errorf("register paired client key: %w", err)
	}
	if budgetMsats > 0 {
		if err := s.Store.PutBudget(ctx, &store.Budget{
			PubKey:        clientPubKey,
			BudgetMsats:   budgetMsats,
			RefreshWindow: refreshWindow,
			CreatedAt:     ck.CreatedAt,
		}); err != nil {
			return "", "", fmt.Errorf("register paired client budget: %w", err)
		}
	}

	relay := s.RelayURL
	if s.RelayAlias != "" {
		relay = s.RelayAlias
	}

	u := fmt.Sprintf("nostr+walletconnect://%s?relay=%s&secret=%s",
		s.ProviderPubKey, url.QueryEscape(relay), clientSecret)
	return u, clientPubKey, nil
}

// pairingParamsFromQuery reads the optional client-key fields a pairing
// request may scope down, defaulting to every known permission and no
// budget cap (matching how handleClientKeys' POST path treats a zero
// budget_msats as "unlimited").
func pairingParamsFromQuery(q url.Values) (description string, permissions []string, expiresAt, budgetMsats, refreshWindow int64) {
	description = q.Get("description")
	if v := q.Get("permissions"); v != "" {
		permissions = strings.Split(v, ",")
	}
	expiresAt, _ = strconv.ParseInt(q.Get("expires_at"), 10, 64)
	budgetMsats, _ = strconv.ParseInt(q.Get("budget_msats"), 10, 64)
	refreshWindow, _ = strconv.ParseInt(q.Get("refresh_window"), 10, 64)
	return description, permissions, expiresAt, budgetMsats, refreshWindow
}

func (s *Server) handlePairingURL(w http.ResponseWriter, r *http.Request) error {
	description, permissions, expiresAt, budgetMsats, refreshWindow := pairingParamsFromQuery(r.URL.Query())
	pairingURL, clientPubKey, err := s.PairingURL(r.Context(), description, permissions, expiresAt, budgetMsats, refreshWindow)
	if err != nil {
		return err
	}
	resp := map[string]string{
		"pairing_url":   pairingURL,
		"client_pubkey": clientPubKey,
	}
	if npub, err := nips.EncodePubkey(clientPubKey); err == nil {
		resp["client_npub"] = npub
	}
	return json.NewEncoder(w).Encode(resp)
}

// handlePairingQR renders the pairing URL as a PNG, inlined as a data URI
// when ?format=json is passed, or served directly as image/png otherwise.
func (s *Server) handlePairingQR(w http.ResponseWriter, r *http.Request) {
	description, permissions, expiresAt, budgetMsats, refreshWindow := pairingParamsFromQuery(r.URL.Query())
	pairingURL, clientPubKey, err := s.PairingURL(r.Context(), description, permissions, expiresAt, budgetMsats, refreshWindow)
	if err != nil {
		s.log.Error("failed to build pairing url", "error", err)
		http.Error(w, "failed to build pairing url", http.StatusInternalServerError)
		return
	}

	png, err := qrcode.Encode(pairingURL, qrcode.Medium, 256)
	if err != nil {
		s.log.Error("failed to generate QR code", "error", err)
		http.Error(w, "failed to generate QR code", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		resp := map[string]string{
			"client_pubkey": clientPubKey,
			"pairing_url":   pairingURL,
			"qr_data_url":   "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		}
		if npub, err := nips.EncodePubkey(clientPubKey); err == nil {
			resp["client_npub"] = npub
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Write(png)
}
