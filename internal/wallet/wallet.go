// Package wallet defines the HostWallet interface the core consumes to
// create and pay invoices, and the PaymentError the core knows how to
// translate into the NIP-47 error taxonomy.
package wallet

import "context"

// PaymentError is raised by PayInvoice when the host wallet rejects or
// fails a payment outright, as opposed to an ambient I/O/internal error.
type PaymentError struct {
	Status  string // "failed" maps to PAYMENT_FAILED; anything else becomes INTERNAL
	Message string
}

func (e *PaymentError) Error() string { return e.Message }

// Invoice is the result of creating an invoice on the host wallet.
type Invoice struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
}

// TransactionStatus reports whether a payment has settled.
type TransactionStatus struct {
	Success  bool   `json:"success"`
	Paid     bool   `json:"paid"`
	Preimage string `json:"preimage,omitempty"`
	FeeMsat  int64  `json:"fee_msat"`
}

// WalletInfo is the host wallet's balance snapshot.
type WalletInfo struct {
	BalanceMsat int64 `json:"balance_msat"`
}

// Payment is one entry in the host wallet's payment history, covering both
// incoming and outgoing transactions.
type Payment struct {
	Type            string `json:"type"` // "incoming" | "outgoing"
	Invoice         string `json:"invoice"`
	Description     string `json:"description,omitempty"`
	DescriptionHash string `json:"description_hash,omitempty"`
	PaymentHash     string `json:"payment_hash"`
	Preimage        string `json:"preimage,omitempty"`
	AmountMsat      int64  `json:"amount_msat"`
	FeeMsat         int64  `json:"fee_msat"`
	CreatedAt       int64  `json:"created_at"`
	ExpiresAt       int64  `json:"expires_at,omitempty"`
	SettledAt       int64  `json:"settled_at,omitempty"`
	Pending         bool   `json:"pending"`
}

// PaymentFilter narrows GetPayments results.
type PaymentFilter struct {
	From   int64
	Until  int64
	Limit  int
	Offset int
	Unpaid bool
	Type   string // "incoming", "outgoing", or "" for both
}

// Offer is a standing bolt12 offer the host wallet can hand out repeatedly
// (or once, if SingleUse), as opposed to a one-shot bolt11 invoice.
type Offer struct {
	Bolt12         string `json:"bolt12"`
	OfferID        string `json:"offer_id"`
	Memo           string `json:"memo,omitempty"`
	AmountMsat     int64  `json:"amount_msat,omitempty"`
	AbsoluteExpiry int64  `json:"absolute_expiry,omitempty"`
	SingleUse      bool   `json:"single_use"`
	Active         bool   `json:"active"`
	Used           bool   `json:"used"`
	CreatedAt      int64  `json:"created_at"`
}

// OfferFilter narrows GetOffers results.
type OfferFilter struct {
	From      int64
	Until     int64
	Limit     int
	Offset    int
	Active    *bool
	SingleUse *bool
	Used      *bool
}

// HostWallet is the external collaborator the core bridges NIP-47 requests
// to. It is intentionally narrow: the core never manages funds or routes.
type HostWallet interface {
	CreateInvoice(ctx context.Context, walletID string, amountSat int64, memo string, descriptionHash string, expiry int64) (*Invoice, error)
	PayInvoice(ctx context.Context, walletID, paymentRequest string, maxSat int64, description string) (paymentHash string, err error)
	CheckTransactionStatus(ctx context.Context, walletID, paymentHash string) (*TransactionStatus, error)
	GetWallet(ctx context.Context, walletID string) (*WalletInfo, error)
	GetWalletPayment(ctx context.Context, walletID, paymentHash string) (*Payment, error)
	GetPayments(ctx context.Context, walletID string, filter PaymentFilter) ([]*Payment, error)

	// DecodeInvoice resolves payment hash, amount, and description from a
	// bare payment request, for callers (budget authorization, lookup by
	// invoice) that need those fields before or without actually paying.
	DecodeInvoice(ctx context.Context, walletID, paymentRequest string) (paymentHash string, amountMsat int64, description string, err error)

	// CreateOffer mints a standing bolt12 offer. amountMsat is 0 for an
	// any-amount offer; absoluteExpiry is a unix timestamp, 0 for none.
	CreateOffer(ctx context.Context, walletID string, amountMsat int64, memo string, absoluteExpiry int64, singleUse bool) (*Offer, error)
	GetOffer(ctx context.Context, walletID, offerID string) (*Offer, error)
	GetOffers(ctx context.Context, walletID string, filter OfferFilter) ([]*Offer, error)
}
