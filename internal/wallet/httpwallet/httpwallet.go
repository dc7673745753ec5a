// Package httpwallet implements wallet.HostWallet as a REST client against
// a host wallet's HTTP API, following the plain net/http request idiom the
// teacher uses in lnurl.go's fetchLNURLPayInfo (context-scoped timeout,
// validated URL, JSON decode, explicit status-code handling).
package httpwallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nwcprovider/internal/wallet"
)

const requestTimeout = 15 * time.Second

// Client bridges the provider core to a host wallet reachable over HTTP.
// It expects a REST contract of:
//
//	POST   {baseURL}/wallets/{id}/invoices
//	POST   {baseURL}/wallets/{id}/payments
//	GET    {baseURL}/wallets/{id}/payments/{hash}/status
//	GET    {baseURL}/wallets/{id}
//	GET    {baseURL}/wallets/{id}/payments/{hash}
//	GET    {baseURL}/wallets/{id}/payments?filter...
//	GET    {baseURL}/wallets/{id}/decode?invoice=...
//	POST   {baseURL}/wallets/{id}/offers
//	GET    {baseURL}/wallets/{id}/offers/{offerID}
//	GET    {baseURL}/wallets/{id}/offers?filter...
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New constructs a Client. token, if non-empty, is sent as a Bearer
// Authorization header on every request.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

var _ wallet.HostWallet = (*Client)(nil)

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("httpwallet: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("httpwallet: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("httpwallet: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpwallet: read response: %w", err)
	}

	if resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity {
		var apiErr struct {
			Message string `json:"message"`
		}
		json.Unmarshal(respBody, &apiErr)
		return &wallet.PaymentError{Status: "failed", Message: apiErr.Message}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("httpwallet: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("httpwallet: decode response: %w", err)
	}
	return nil
}

func (c *Client) CreateInvoice(ctx context.Context, walletID string, amountSat int64, memo string, descriptionHash string, expiry int64) (*wallet.Invoice, error) {
	reqBody := struct {
		AmountSat       int64  `json:"amount_sat"`
		Memo            string `json:"memo"`
		DescriptionHash string `json:"description_hash,omitempty"`
		Expiry          int64  `json:"expiry,omitempty"`
	}{amountSat, memo, descriptionHash, expiry}

	var out struct {
		PaymentHash    string `json:"payment_hash"`
		PaymentRequest string `json:"payment_request"`
	}
	if err := c.do(ctx, http.MethodPost, "/wallets/"+url.PathEscape(walletID)+"/invoices", reqBody, &out); err != nil {
		return nil, err
	}
	return &wallet.Invoice{PaymentHash: out.PaymentHash, PaymentRequest: out.PaymentRequest}, nil
}

func (c *Client) PayInvoice(ctx context.Context, walletID, paymentRequest string, maxSat int64, description string) (string, error) {
	reqBody := struct {
		PaymentRequest string `json:"payment_request"`
		MaxSat         int64  `json:"max_sat,omitempty"`
		Description    string `json:"description,omitempty"`
	}{paymentRequest, maxSat, description}

	var out struct {
		PaymentHash string `json:"payment_hash"`
	}
	if err := c.do(ctx, http.MethodPost, "/wallets/"+url.PathEscape(walletID)+"/payments", reqBody, &out); err != nil {
		return "", err
	}
	return out.PaymentHash, nil
}

func (c *Client) CheckTransactionStatus(ctx context.Context, walletID, paymentHash string) (*wallet.TransactionStatus, error) {
	var out wallet.TransactionStatus
	path := "/wallets/" + url.PathEscape(walletID) + "/payments/" + url.PathEscape(paymentHash) + "/status"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetWallet(ctx context.Context, walletID string) (*wallet.WalletInfo, error) {
	var out wallet.WalletInfo
	if err := c.do(ctx, http.MethodGet, "/wallets/"+url.PathEscape(walletID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetWalletPayment(ctx context.Context, walletID, paymentHash string) (*wallet.Payment, error) {
	var out wallet.Payment
	path := "/wallets/" + url.PathEscape(walletID) + "/payments/" + url.PathEscape(paymentHash)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeInvoice asks the host wallet backend to decode a bare payment
// request, so the provider never has to understand bolt11 (or any other
// invoice encoding) itself.
func (c *Client) DecodeInvoice(ctx context.Context, walletID, paymentRequest string) (string, int64, string, error) {
	var out struct {
		PaymentHash string `json:"payment_hash"`
		AmountMsat  int64  `json:"amount_msat"`
		Description string `json:"description"`
	}
	q := url.Values{}
	q.Set("invoice", paymentRequest)
	path := "/wallets/" + url.PathEscape(walletID) + "/decode?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", 0, "", err
	}
	return out.PaymentHash, out.AmountMsat, out.Description, nil
}

func (c *Client) GetPayments(ctx context.Context, walletID string, filter wallet.PaymentFilter) ([]*wallet.Payment, error) {
	q := url.Values{}
	if filter.From > 0 {
		q.Set("from", fmt.Sprintf("%d", filter.From))
	}
	if filter.Until > 0 {
		q.Set("until", fmt.Sprintf("%d", filter.Until))
	}
	if filter.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", filter.Offset))
	}
	if filter.Unpaid {
		q.Set("unpaid", "true")
	}
	if filter.Type != "" {
		q.Set("type", filter.Type)
	}

	var out []*wallet.Payment
	path := "/wallets/" + url.PathEscape(walletID) + "/payments"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateOffer(ctx context.Context, walletID string, amountMsat int64, memo string, absoluteExpiry int64, singleUse bool) (*wallet.Offer, error) {
	reqBody := struct {
		AmountMsat     int64  `json:"amount_msat,omitempty"`
		Memo           string `json:"memo,omitempty"`
		AbsoluteExpiry int64  `json:"absolute_expiry,omitempty"`
		SingleUse      bool   `json:"single_use"`
	}{amountMsat, memo, absoluteExpiry, singleUse}

	var out wallet.Offer
	if err := c.do(ctx, http.MethodPost, "/wallets/"+url.PathEscape(walletID)+"/offers", reqBody, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetOffer(ctx context.Context, walletID, offerID string) (*wallet.Offer, error) {
	var out wallet.Offer
	path := "/wallets/" + url.PathEscape(walletID) + "/offers/" + url.PathEscape(offerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetOffers(ctx context.Context, walletID string, filter wallet.OfferFilter) ([]*wallet.Offer, error) {
	q := url.Values{}
	if filter.From > 0 {
		q.Set("from", fmt.Sprintf("%d", filter.From))
	}
	if filter.Until > 0 {
		q.Set("until", fmt.Sprintf("%d", filter.Until))
	}
	if filter.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", filter.Offset))
	}
	if filter.Active != nil {
		q.Set("active", fmt.Sprintf("%t", *filter.Active))
	}
	if filter.SingleUse != nil {
		q.Set("single_use", fmt.Sprintf("%t", *filter.SingleUse))
	}
	if filter.Used != nil {
		q.Set("used", fmt.Sprintf("%t", *filter.Used))
	}

	var out []*wallet.Offer
	path := "/wallets/" + url.PathEscape(walletID) + "/offers"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
