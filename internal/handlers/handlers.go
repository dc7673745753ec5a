// Package handlers implements the NIP-47 method handlers: pay_invoice,
// multi_pay_invoice, make_invoice, lookup_invoice, list_transactions,
// get_balance, get_info, and the bolt12 offer family (make_offer,
// lookup_offer, list_offers).
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"nwcprovider/internal/budget"
	"nwcprovider/internal/metrics"
	"nwcprovider/internal/queue"
	"nwcprovider/internal/store"
	"nwcprovider/internal/wallet"
)

// WalletError is the tagged error shape surfaced to clients on the wire.
type WalletError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *WalletError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errUnauthorized() *WalletError { return &WalletError{Code: "UNAUTHORIZED", Message: "no active connection for this pubkey"} }
func errRestricted() *WalletError   { return &WalletError{Code: "RESTRICTED", Message: "method not permitted"} }
func errNotImplemented(method string) *WalletError {
	return &WalletError{Code: "NOT_IMPLEMENTED", Message: "unsupported method: " + method}
}
func errInternal(err error) *WalletError { return &WalletError{Code: "INTERNAL", Message: err.Error()} }
func errQuota() *WalletError             { return &WalletError{Code: "QUOTA_EXCEEDED", Message: "budget would be exceeded"} }
func errPaymentFailed(msg string) *WalletError { return &WalletError{Code: "PAYMENT_FAILED", Message: msg} }

// Result is one response tuple per spec §4.5: a handler emits one for most
// methods, several for multi_pay_invoice.
type Result struct {
	Result    interface{}
	Err       *WalletError
	ExtraTags [][]string
}

// Deps bundles everything a handler needs beyond the parsed request.
type Deps struct {
	Store      store.Store
	Wallet     wallet.HostWallet
	Queue      *queue.Queue
	WalletID   string // the host wallet account this provider instance bridges to
	SiteTitle  string
	SupportedMethods []string
}

// supportedMethodSet is the fixed set of NIP-47 methods this provider
// implements, used both for get_info's method intersection and dispatch.
var supportedMethodSet = []string{
	"pay_invoice", "multi_pay_invoice", "make_invoice", "lookup_invoice",
	"list_transactions", "get_balance", "get_info",
	"make_offer", "lookup_offer", "list_offers",
}

// SupportedMethods returns the fixed method list, newly allocated so
// callers can't mutate the shared backing array.
func SupportedMethods() []string {
	out := make([]string, len(supportedMethodSet))
	copy(out, supportedMethodSet)
	return out
}

// Dispatch authorizes pubKey for method, then runs its handler. Authorization
// failures and unknown methods each produce exactly one Result; only
// multi_pay_invoice's handler may return more than one.
func Dispatch(ctx context.Context, d Deps, pubKey, method string, params json.RawMessage) []Result {
	if !isSupportedMethod(method) {
		return []Result{{Err: errNotImplemented(method)}}
	}

	now := time.Now().Unix()
	ck, err := budget.Authorize(ctx, d.Store, pubKey, method, now)
	if err != nil {
		switch {
		case errors.Is(err, budget.ErrUnauthorized):
			return []Result{{Err: errUnauthorized()}}
		case errors.Is(err, budget.ErrRestricted):
			return []Result{{Err: errRestricted()}}
		default:
			return []Result{{Err: errInternal(err)}}
		}
	}

	switch method {
	case "pay_invoice":
		return []Result{handlePayInvoice(ctx, d, ck, params)}
	case "multi_pay_invoice":
		return handleMultiPayInvoice(ctx, d, ck, params)
	case "make_invoice":
		return []Result{handleMakeInvoice(ctx, d, ck, params)}
	case "lookup_invoice":
		return []Result{handleLookupInvoice(ctx, d, ck, params)}
	case "list_transactions":
		return []Result{handleListTransactions(ctx, d, ck, params)}
	case "get_balance":
		return []Result{handleGetBalance(ctx, d, ck)}
	case "get_info":
		return []Result{handleGetInfo(d, ck)}
	case "make_offer":
		return []Result{handleMakeOffer(ctx, d, ck, params)}
	case "lookup_offer":
		return []Result{handleLookupOffer(ctx, d, ck, params)}
	case "list_offers":
		return []Result{handleListOffers(ctx, d, ck, params)}
	default:
		return []Result{{Err: errNotImplemented(method)}}
	}
}

func isSupportedMethod(method string) bool {
	for _, m := range supportedMethodSet {
		if m == method {
			return true
		}
	}
	return false
}

type payInvoiceParams struct {
	Invoice string `json:"invoice"`
}

func handlePayInvoice(ctx context.Context, d Deps, ck *store.ClientKey, raw json.RawMessage) Result {
	var params payInvoiceParams
	if err := json.Unmarshal(raw, &params); err != nil || params.Invoice == "" {
		return Result{Err: errInternal(fmt.Errorf("missing invoice parameter"))}
	}

	_, amountMsat, _, err := d.Wallet.DecodeInvoice(ctx, d.WalletID, params.Invoice)
	if err != nil {
		return Result{Err: errInternal(err)}
	}

	value, err := budget.TrackedSpend(ctx, d.Queue, d.Store, ck.PubKey, amountMsat, func(ctx context.Context) (interface{}, error) {
		return d.Wallet.PayInvoice(ctx, d.WalletID, params.Invoice, amountMsat/1000, "")
	})
	if err != nil {
		return payErrorResult(err)
	}
	paymentHash, _ := value.(string)

	preimage, err := pollPreimage(ctx, d.Wallet, d.WalletID, paymentHash)
	if err != nil {
		return Result{Err: errPaymentFailed(err.Error())}
	}
	metrics.IncPaymentsSucceeded()
	return Result{Result: map[string]interface{}{"preimage": preimage}}
}

func payErrorResult(err error) Result {
	var payErr *wallet.PaymentError
	if errors.As(err, &payErr) {
		metrics.IncPaymentsFailed()
		if payErr.Status == "failed" {
			return Result{Err: errPaymentFailed(payErr.Message)}
		}
		return Result{Err: errInternal(payErr)}
	}
	if errors.Is(err, budget.ErrQuotaExceeded) {
		metrics.IncQuotaRejections()
		return Result{Err: errQuota()}
	}
	return Result{Err: errInternal(err)}
}

// pollPreimage polls check_transaction_status at 50ms intervals until a
// preimage is available, capped at a wall-clock bound per spec §5.
func pollPreimage(ctx context.Context, hw wallet.HostWallet, walletID, paymentHash string) (string, error) {
	deadline := time.Now().Add(30 * time.Second)
	for {
		status, err := hw.CheckTransactionStatus(ctx, walletID, paymentHash)
		if err != nil {
			return "", err
		}
		if status.Paid && status.Preimage != "" {
			return status.Preimage, nil
		}
		if time.Now().After(deadline) {
			return "", errors.New("timed out waiting for payment settlement")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

type multiInvoiceEntry struct {
	ID      string `json:"id"`
	Invoice string `json:"invoice"`
}

type multiPayInvoiceParams struct {
	Invoices []multiInvoiceEntry `json:"invoices"`
}

func handleMultiPayInvoice(ctx context.Context, d Deps, ck *store.ClientKey, raw json.RawMessage) []Result {
	var params multiPayInvoiceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return []Result{{Err: errInternal(fmt.Errorf("invalid multi_pay_invoice params"))}}
	}
	for _, inv := range params.Invoices {
		if inv.Invoice == "" {
			return []Result{{Err: errInternal(fmt.Errorf("missing invoice in multi_pay_invoice entry"))}}
		}
	}

	results := make([]Result, 0, len(params.Invoices))
	for _, inv := range params.Invoices {
		r := handlePayInvoiceEntry(ctx, d, ck, inv.Invoice)
		tagValue := inv.ID
		if tagValue == "" {
			if paymentHash, _, _, err := d.Wallet.DecodeInvoice(ctx, d.WalletID, inv.Invoice); err == nil {
				tagValue = paymentHash
			}
		}
		r.ExtraTags = [][]string{{"d", tagValue}}
		results = append(results, r)
	}
	return results
}

func handlePayInvoiceEntry(ctx context.Context, d Deps, ck *store.ClientKey, invoice string) Result {
	defer func() {
		// A per-invoice panic must not take down the rest of the batch.
		recover()
	}()

	_, amountMsat, _, err := d.Wallet.DecodeInvoice(ctx, d.WalletID, invoice)
	if err != nil {
		return Result{Err: errInternal(err)}
	}

	value, err := budget.TrackedSpend(ctx, d.Queue, d.Store, ck.PubKey, amountMsat, func(ctx context.Context) (interface{}, error) {
		return d.Wallet.PayInvoice(ctx, d.WalletID, invoice, amountMsat/1000, "")
	})
	if err != nil {
		return payErrorResult(err)
	}
	paymentHash, _ := value.(string)

	preimage, err := pollPreimage(ctx, d.Wallet, d.WalletID, paymentHash)
	if err != nil {
		return Result{Err: errInternal(err)}
	}
	metrics.IncPaymentsSucceeded()
	return Result{Result: map[string]interface{}{"preimage": preimage}}
}

type makeInvoiceParams struct {
	Amount          int64  `json:"amount"`
	Description     string `json:"description"`
	DescriptionHash string `json:"description_hash"`
	Expiry          int64  `json:"expiry"`
}

var zeroPreimage = strings.Repeat("0", 64)

func handleMakeInvoice(ctx context.Context, d Deps, ck *store.ClientKey, raw json.RawMessage) Result {
	var params makeInvoiceParams
	if err := json.Unmarshal(raw, &params); err != nil || params.Amount <= 0 {
		return Result{Err: errInternal(fmt.Errorf("missing or invalid amount parameter"))}
	}

	inv, err := d.Wallet.CreateInvoice(ctx, d.WalletID, params.Amount/1000, params.Description, params.DescriptionHash, params.Expiry)
	if err != nil {
		return Result{Err: errInternal(err)}
	}

	now := time.Now().Unix()
	result := map[string]interface{}{
		"type":             "incoming",
		"invoice":          inv.PaymentRequest,
		"description":      params.Description,
		"description_hash": params.DescriptionHash,
		"payment_hash":     inv.PaymentHash,
		"amount":           params.Amount,
		"created_at":       now,
		"preimage":         zeroPreimage,
	}
	if params.Expiry > 0 {
		result["expires_at"] = now + params.Expiry
	}
	return Result{Result: result}
}

type lookupInvoiceParams struct {
	PaymentHash string `json:"payment_hash"`
	Invoice     string `json:"invoice"`
}

func handleLookupInvoice(ctx context.Context, d Deps, ck *store.ClientKey, raw json.RawMessage) Result {
	var params lookupInvoiceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return Result{Err: errInternal(fmt.Errorf("invalid lookup_invoice params"))}
	}

	paymentHash := params.PaymentHash
	if paymentHash == "" && params.Invoice != "" {
		var err error
		paymentHash, _, _, err = d.Wallet.DecodeInvoice(ctx, d.WalletID, params.Invoice)
		if err != nil {
			return Result{Err: errInternal(err)}
		}
	}
	if paymentHash == "" {
		return Result{Err: errInternal(fmt.Errorf("missing payment_hash or invoice parameter"))}
	}

	payment, err := d.Wallet.GetWalletPayment(ctx, d.WalletID, paymentHash)
	if err != nil {
		return Result{Err: errInternal(err)}
	}
	if payment == nil {
		return Result{Err: errInternal(fmt.Errorf("payment not found"))}
	}
	return Result{Result: paymentToResult(payment)}
}

func paymentToResult(p *wallet.Payment) map[string]interface{} {
	out := map[string]interface{}{
		"type":         p.Type,
		"invoice":      p.Invoice,
		"payment_hash": p.PaymentHash,
		"amount":       p.AmountMsat,
		"fees_paid":    p.FeeMsat,
		"created_at":   p.CreatedAt,
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if p.DescriptionHash != "" {
		out["description_hash"] = p.DescriptionHash
	}
	if !p.Pending && p.Preimage != "" {
		out["preimage"] = p.Preimage
	}
	if p.ExpiresAt > 0 {
		out["expires_at"] = p.ExpiresAt
	}
	if p.SettledAt > 0 {
		out["settled_at"] = p.SettledAt
	}
	return out
}

type listTransactionsParams struct {
	From   int64  `json:"from"`
	Until  int64  `json:"until"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Unpaid bool   `json:"unpaid"`
	Type   string `json:"type"`
}

func handleListTransactions(ctx context.Context, d Deps, ck *store.ClientKey, raw json.RawMessage) Result {
	params := listTransactionsParams{Limit: 10}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return Result{Err: errInternal(fmt.Errorf("invalid list_transactions params"))}
		}
	}

	payments, err := d.Wallet.GetPayments(ctx, d.WalletID, wallet.PaymentFilter{
		From: params.From, Until: params.Until, Limit: params.Limit, Offset: params.Offset,
		Unpaid: params.Unpaid, Type: params.Type,
	})
	if err != nil {
		return Result{Err: errInternal(err)}
	}

	txs := make([]map[string]interface{}, 0, len(payments))
	for _, p := range payments {
		txs = append(txs, paymentToResult(p))
	}
	return Result{Result: map[string]interface{}{"transactions": txs}}
}

func handleGetBalance(ctx context.Context, d Deps, ck *store.ClientKey) Result {
	info, err := d.Wallet.GetWallet(ctx, d.WalletID)
	if err != nil {
		return Result{Err: errInternal(err)}
	}
	return Result{Result: map[string]interface{}{"balance": info.BalanceMsat}}
}

type makeOfferParams struct {
	Amount         int64  `json:"amount"`
	Memo           string `json:"memo"`
	AbsoluteExpiry int64  `json:"absolute_expiry"`
	SingleUse      bool   `json:"single_use"`
}

func handleMakeOffer(ctx context.Context, d Deps, ck *store.ClientKey, raw json.RawMessage) Result {
	var params makeOfferParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return Result{Err: errInternal(fmt.Errorf("invalid make_offer params"))}
		}
	}

	offer, err := d.Wallet.CreateOffer(ctx, d.WalletID, params.Amount, params.Memo, params.AbsoluteExpiry, params.SingleUse)
	if err != nil {
		return Result{Err: errInternal(err)}
	}
	return Result{Result: offerToResult(offer)}
}

type lookupOfferParams struct {
	OfferID string `json:"offer_id"`
}

func handleLookupOffer(ctx context.Context, d Deps, ck *store.ClientKey, raw json.RawMessage) Result {
	var params lookupOfferParams
	if err := json.Unmarshal(raw, &params); err != nil || params.OfferID == "" {
		return Result{Err: errInternal(fmt.Errorf("missing offer_id parameter"))}
	}

	offer, err := d.Wallet.GetOffer(ctx, d.WalletID, params.OfferID)
	if err != nil {
		return Result{Err: errInternal(err)}
	}
	if offer == nil {
		return Result{Err: errInternal(fmt.Errorf("offer not found"))}
	}
	return Result{Result: offerToResult(offer)}
}

func offerToResult(o *wallet.Offer) map[string]interface{} {
	out := map[string]interface{}{
		"bolt12":     o.Bolt12,
		"offer_id":   o.OfferID,
		"active":     o.Active,
		"single_use": o.SingleUse,
		"used":       o.Used,
		"created_at": o.CreatedAt,
	}
	if o.Memo != "" {
		out["memo"] = o.Memo
	}
	if o.AmountMsat > 0 {
		out["amount"] = o.AmountMsat
	}
	if o.AbsoluteExpiry > 0 {
		out["absolute_expiry"] = o.AbsoluteExpiry
	}
	return out
}

type listOffersParams struct {
	From      int64 `json:"from"`
	Until     int64 `json:"until"`
	Limit     int   `json:"limit"`
	Offset    int   `json:"offset"`
	Active    *bool `json:"active"`
	SingleUse *bool `json:"single_use"`
	Used      *bool `json:"used"`
}

func handleListOffers(ctx context.Context, d Deps, ck *store.ClientKey, raw json.RawMessage) Result {
	params := listOffersParams{Limit: 10}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return Result{Err: errInternal(fmt.Errorf("invalid list_offers params"))}
		}
	}

	offers, err := d.Wallet.GetOffers(ctx, d.WalletID, wallet.OfferFilter{
		From: params.From, Until: params.Until, Limit: params.Limit, Offset: params.Offset,
		Active: params.Active, SingleUse: params.SingleUse, Used: params.Used,
	})
	if err != nil {
		return Result{Err: errInternal(err)}
	}

	out := make([]map[string]interface{}, 0, len(offers))
	for _, o := range offers {
		out = append(out, offerToResult(o))
	}
	return Result{Result: map[string]interface{}{"offers": out}}
}

func handleGetInfo(d Deps, ck *store.ClientKey) Result {
	granted := budget.MethodsFor(ck.Permissions)
	methods := make([]string, 0, len(supportedMethodSet))
	for _, m := range supportedMethodSet {
		if granted[m] {
			methods = append(methods, m)
		}
	}
	return Result{Result: map[string]interface{}{
		"alias":        d.SiteTitle,
		"color":        "",
		"network":      "mainnet",
		"block_height": 0,
		"block_hash":   "",
		"methods":      methods,
	}}
}
