// Package mock implements an in-memory wallet.HostWallet for tests and
// local development, modeled on the balance-tracking, synthetic-invoice
// mock wallet used to exercise NWC provider-side handlers in the reference
// corpus.
package mock

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"nwcprovider/internal/util"
	"nwcprovider/internal/wallet"
)

// Wallet is a single synthetic lightning wallet: a balance plus a ledger of
// invoices/payments keyed by payment hash.
type Wallet struct {
	mu       sync.Mutex
	balances map[string]int64 // walletID -> balance msat
	payments map[string]*wallet.Payment
	owners   map[string]string // paymentHash -> issuing walletID, for incoming invoices

	offers      map[string]*wallet.Offer // offerID -> offer
	offerOwners map[string]string        // offerID -> issuing walletID
}

// New creates a mock wallet with every walletID starting at zero balance;
// use Credit to seed starting balances for tests.
func New() *Wallet {
	return &Wallet{
		balances:    make(map[string]int64),
		payments:    make(map[string]*wallet.Payment),
		owners:      make(map[string]string),
		offers:      make(map[string]*wallet.Offer),
		offerOwners: make(map[string]string),
	}
}

// Credit adds amountMsat to walletID's balance, for test setup. PayInvoice
// credits the payee of a settled invoice directly, not through Credit.
func (w *Wallet) Credit(walletID string, amountMsat int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[walletID] += amountMsat
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// encodeInvoice builds a synthetic, self-decodable invoice string; no
// bolt11 codec appears anywhere in the reference corpus, so the mock
// round-trips amount/payment-hash/description through its own delimited
// scheme instead of a real bech32 bolt11 encoding.
func encodeInvoice(paymentHash string, amountMsat int64, description string) string {
	return fmt.Sprintf("lnmock1%s:%d:%s", paymentHash, amountMsat, strings.ReplaceAll(description, ":", " "))
}

// DecodeInvoice extracts the fields encodeInvoice embedded, for handlers
// that need a payment hash or amount from a bare invoice string.
func DecodeInvoice(invoice string) (paymentHash string, amountMsat int64, description string, err error) {
	if !strings.HasPrefix(invoice, "lnmock1") {
		return "", 0, "", fmt.Errorf("mock: not a mock invoice: %s", invoice)
	}
	parts := strings.SplitN(strings.TrimPrefix(invoice, "lnmock1"), ":", 3)
	if len(parts) != 3 {
		return "", 0, "", fmt.Errorf("mock: malformed mock invoice")
	}
	amount, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, "", fmt.Errorf("mock: malformed amount: %w", err)
	}
	return parts[0], amount, parts[2], nil
}

func (w *Wallet) CreateInvoice(ctx context.Context, walletID string, amountSat int64, memo string, descriptionHash string, expiry int64) (*wallet.Invoice, error) {
	amountMsat := amountSat * 1000
	paymentHash := sha256Hex(randomHex(32))
	invoice := encodeInvoice(paymentHash, amountMsat, memo)

	now := time.Now().Unix()
	exp := expiry
	if exp <= 0 {
		exp = 3600
	}

	w.mu.Lock()
	w.payments[paymentHash] = &wallet.Payment{
		Type:            "incoming",
		Invoice:         invoice,
		Description:     memo,
		DescriptionHash: descriptionHash,
		PaymentHash:     paymentHash,
		AmountMsat:      amountMsat,
		CreatedAt:       now,
		ExpiresAt:       now + exp,
		Pending:         true,
	}
	w.owners[paymentHash] = walletID
	w.mu.Unlock()

	return &wallet.Invoice{PaymentHash: paymentHash, PaymentRequest: invoice}, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (w *Wallet) PayInvoice(ctx context.Context, walletID, paymentRequest string, maxSat int64, description string) (string, error) {
	paymentHash, amountMsat, desc, err := DecodeInvoice(paymentRequest)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.balances[walletID] < amountMsat {
		return "", &wallet.PaymentError{Status: "failed", Message: "insufficient balance"}
	}

	incoming, settled := w.payments[paymentHash]
	if settled && incoming.Type == "incoming" && incoming.Pending {
		// Paying an invoice this mock also issued: credit the issuer and
		// mark it settled.
		incoming.Pending = false
		incoming.Preimage = randomHex(32)
		incoming.SettledAt = time.Now().Unix()
		if issuer, ok := w.owners[paymentHash]; ok {
			w.balances[issuer] += amountMsat
		}
	}

	w.balances[walletID] -= amountMsat
	preimage := randomHex(32)
	now := time.Now().Unix()
	w.payments[paymentHash+"|out|"+walletID] = &wallet.Payment{
		Type:        "outgoing",
		Invoice:     paymentRequest,
		Description: desc,
		PaymentHash: paymentHash,
		Preimage:    preimage,
		AmountMsat:  amountMsat,
		CreatedAt:   now,
		SettledAt:   now,
	}
	return paymentHash, nil
}

// DecodeInvoice extracts the fields encodeInvoice embedded. It is a method
// (rather than the free DecodeInvoice function used internally by
// PayInvoice) so it satisfies wallet.HostWallet alongside every other call
// a production host wallet backend would serve over its own decode
// endpoint.
func (w *Wallet) DecodeInvoice(ctx context.Context, walletID, paymentRequest string) (string, int64, string, error) {
	return DecodeInvoice(paymentRequest)
}

func (w *Wallet) CheckTransactionStatus(ctx context.Context, walletID, paymentHash string) (*wallet.TransactionStatus, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if out, ok := w.payments[paymentHash+"|out|"+walletID]; ok {
		return &wallet.TransactionStatus{Success: true, Paid: true, Preimage: out.Preimage, FeeMsat: 0}, nil
	}
	if in, ok := w.payments[paymentHash]; ok && !in.Pending {
		return &wallet.TransactionStatus{Success: true, Paid: true, Preimage: in.Preimage}, nil
	}
	return &wallet.TransactionStatus{Success: false, Paid: false}, nil
}

func (w *Wallet) GetWallet(ctx context.Context, walletID string) (*wallet.WalletInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &wallet.WalletInfo{BalanceMsat: w.balances[walletID]}, nil
}

func (w *Wallet) GetWalletPayment(ctx context.Context, walletID, paymentHash string) (*wallet.Payment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if out, ok := w.payments[paymentHash+"|out|"+walletID]; ok {
		copied := *out
		return &copied, nil
	}
	if in, ok := w.payments[paymentHash]; ok && w.owners[paymentHash] == walletID {
		copied := *in
		return &copied, nil
	}
	return nil, nil
}

func (w *Wallet) GetPayments(ctx context.Context, walletID string, filter wallet.PaymentFilter) ([]*wallet.Payment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var all []*wallet.Payment
	for key, p := range w.payments {
		if strings.Contains(key, "|out|"+walletID) {
			all = append(all, p)
			continue
		}
		if !strings.Contains(key, "|out|") && w.owners[key] == walletID {
			all = append(all, p)
		}
	}

	var out []*wallet.Payment
	for _, p := range all {
		if filter.Type != "" && p.Type != filter.Type {
			continue
		}
		if !filter.Unpaid && p.Pending {
			continue
		}
		if filter.Until > 0 && p.CreatedAt > filter.Until {
			continue
		}
		if filter.From > 0 && p.CreatedAt < filter.From {
			continue
		}
		out = append(out, p)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	if filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else {
		out = nil
	}
	return util.LimitSlice(out, limit), nil
}

// encodeOffer builds a synthetic, self-identifying bolt12 string; like
// encodeInvoice, no real bolt12 codec exists anywhere in the reference
// corpus, so the mock only needs the offer id to be recoverable from it.
func encodeOffer(offerID string) string {
	return fmt.Sprintf("lno1mock%s", offerID)
}

func (w *Wallet) CreateOffer(ctx context.Context, walletID string, amountMsat int64, memo string, absoluteExpiry int64, singleUse bool) (*wallet.Offer, error) {
	offerID := sha256Hex(randomHex(32))
	offer := &wallet.Offer{
		Bolt12:         encodeOffer(offerID),
		OfferID:        offerID,
		Memo:           memo,
		AmountMsat:     amountMsat,
		AbsoluteExpiry: absoluteExpiry,
		SingleUse:      singleUse,
		Active:         true,
		CreatedAt:      time.Now().Unix(),
	}

	w.mu.Lock()
	w.offers[offerID] = offer
	w.offerOwners[offerID] = walletID
	w.mu.Unlock()

	copied := *offer
	return &copied, nil
}

func (w *Wallet) GetOffer(ctx context.Context, walletID, offerID string) (*wallet.Offer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	offer, ok := w.offers[offerID]
	if !ok || w.offerOwners[offerID] != walletID {
		return nil, nil
	}
	copied := *offer
	return &copied, nil
}

func (w *Wallet) GetOffers(ctx context.Context, walletID string, filter wallet.OfferFilter) ([]*wallet.Offer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var all []*wallet.Offer
	for id, o := range w.offers {
		if w.offerOwners[id] != walletID {
			continue
		}
		if filter.Until > 0 && o.CreatedAt > filter.Until {
			continue
		}
		if filter.From > 0 && o.CreatedAt < filter.From {
			continue
		}
		if filter.Active != nil && o.Active != *filter.Active {
			continue
		}
		if filter.SingleUse != nil && o.SingleUse != *filter.SingleUse {
			continue
		}
		if filter.Used != nil && o.Used != *filter.Used {
			continue
		}
		copied := *o
		all = append(all, &copied)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	if filter.Offset < len(all) {
		all = all[filter.Offset:]
	} else {
		all = nil
	}
	return util.LimitSlice(all, limit), nil
}
