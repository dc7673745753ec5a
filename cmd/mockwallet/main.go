// Command mockwallet serves internal/wallet/mock's in-memory Lightning
// wallet over the HTTP REST contract internal/wallet/httpwallet expects,
// so nwcprovider can be run end-to-end against it for local development
// and manual testing without a real Lightning node.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"nwcprovider/internal/wallet"
	"nwcprovider/internal/wallet/mock"
)

func main() {
	addr := os.Getenv("MOCKWALLET_ADDR")
	if addr == "" {
		addr = ":8899"
	}

	w := mock.New()
	for _, seed := range strings.Split(os.Getenv("MOCKWALLET_SEED"), ",") {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		parts := strings.SplitN(seed, ":", 2)
		if len(parts) != 2 {
			continue
		}
		amount, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		w.Credit(parts[0], amount)
		slog.Info("seeded mock wallet", "wallet_id", parts[0], "balance_msat", amount)
	}

	mux := buildMux(w)
	slog.Info("mockwallet listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mockwallet exited", "error", err)
		os.Exit(1)
	}
}

func buildMux(w *mock.Wallet) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/wallets/", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		routeWalletRequest(w, rw, r)
	})
	return mux
}

// routeWalletRequest parses /wallets/{id}[/invoices|/payments[/{hash}[/status]]]
// and dispatches to the matching mock.Wallet method.
func routeWalletRequest(w *mock.Wallet, rw http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/wallets/"), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		http.NotFound(rw, r)
		return
	}
	walletID := segments[0]
	ctx := r.Context()

	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		info, err := w.GetWallet(ctx, walletID)
		writeJSON(rw, info, err)

	case len(segments) == 2 && segments[1] == "invoices" && r.Method == http.MethodPost:
		var req struct {
			AmountSat       int64  `json:"amount_sat"`
			Memo            string `json:"memo"`
			DescriptionHash string `json:"description_hash"`
			Expiry          int64  `json:"expiry"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(rw, nil, fmt.Errorf("decode request: %w", err))
			return
		}
		inv, err := w.CreateInvoice(ctx, walletID, req.AmountSat, req.Memo, req.DescriptionHash, req.Expiry)
		writeJSON(rw, inv, err)

	case len(segments) == 2 && segments[1] == "payments" && r.Method == http.MethodPost:
		var req struct {
			PaymentRequest string `json:"payment_request"`
			MaxSat         int64  `json:"max_sat"`
			Description    string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(rw, nil, fmt.Errorf("decode request: %w", err))
			return
		}
		paymentHash, err := w.PayInvoice(ctx, walletID, req.PaymentRequest, req.MaxSat, req.Description)
		if pErr, ok := err.(*wallet.PaymentError); ok {
			rw.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(rw).Encode(map[string]string{"message": pErr.Message})
			return
		}
		writeJSON(rw, map[string]string{"payment_hash": paymentHash}, err)

	case len(segments) == 4 && segments[1] == "payments" && segments[3] == "status" && r.Method == http.MethodGet:
		status, err := w.CheckTransactionStatus(ctx, walletID, segments[2])
		writeJSON(rw, status, err)

	case len(segments) == 3 && segments[1] == "payments" && r.Method == http.MethodGet:
		payment, err := w.GetWalletPayment(ctx, walletID, segments[2])
		writeJSON(rw, payment, err)

	case len(segments) == 2 && segments[1] == "decode" && r.Method == http.MethodGet:
		paymentHash, amountMsat, description, err := w.DecodeInvoice(ctx, walletID, r.URL.Query().Get("invoice"))
		writeJSON(rw, map[string]interface{}{
			"payment_hash": paymentHash,
			"amount_msat":  amountMsat,
			"description":  description,
		}, err)

	case len(segments) == 2 && segments[1] == "offers" && r.Method == http.MethodPost:
		var req struct {
			AmountMsat     int64  `json:"amount_msat"`
			Memo           string `json:"memo"`
			AbsoluteExpiry int64  `json:"absolute_expiry"`
			SingleUse      bool   `json:"single_use"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(rw, nil, fmt.Errorf("decode request: %w", err))
			return
		}
		offer, err := w.CreateOffer(ctx, walletID, req.AmountMsat, req.Memo, req.AbsoluteExpiry, req.SingleUse)
		writeJSON(rw, offer, err)

	case len(segments) == 3 && segments[1] == "offers" && r.Method == http.MethodGet:
		offer, err := w.GetOffer(ctx, walletID, segments[2])
		writeJSON(rw, offer, err)

	case len(segments) == 2 && segments[1] == "offers" && r.Method == http.MethodGet:
		filter := wallet.OfferFilter{}
		if v := r.URL.Query().Get("limit"); v != "" {
			filter.Limit, _ = strconv.Atoi(v)
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			filter.Offset, _ = strconv.Atoi(v)
		}
		if v := r.URL.Query().Get("from"); v != "" {
			filter.From, _ = strconv.ParseInt(v, 10, 64)
		}
		if v := r.URL.Query().Get("until"); v != "" {
			filter.Until, _ = strconv.ParseInt(v, 10, 64)
		}
		if v := r.URL.Query().Get("active"); v != "" {
			b := v == "true"
			filter.Active = &b
		}
		if v := r.URL.Query().Get("single_use"); v != "" {
			b := v == "true"
			filter.SingleUse = &b
		}
		if v := r.URL.Query().Get("used"); v != "" {
			b := v == "true"
			filter.Used = &b
		}
		offers, err := w.GetOffers(ctx, walletID, filter)
		writeJSON(rw, offers, err)

	case len(segments) == 2 && segments[1] == "payments" && r.Method == http.MethodGet:
		filter := wallet.PaymentFilter{Type: r.URL.Query().Get("type")}
		if v := r.URL.Query().Get("limit"); v != "" {
			filter.Limit, _ = strconv.Atoi(v)
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			filter.Offset, _ = strconv.Atoi(v)
		}
		if v := r.URL.Query().Get("from"); v != "" {
			filter.From, _ = strconv.ParseInt(v, 10, 64)
		}
		if v := r.URL.Query().Get("until"); v != "" {
			filter.Until, _ = strconv.ParseInt(v, 10, 64)
		}
		filter.Unpaid = r.URL.Query().Get("unpaid") == "true"

		payments, err := w.GetPayments(ctx, walletID, filter)
		writeJSON(rw, payments, err)

	default:
		http.NotFound(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, v interface{}, err error) {
	if err != nil {
		rw.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(rw).Encode(map[string]string{"message": err.Error()})
		return
	}
	json.NewEncoder(rw).Encode(v)
}
