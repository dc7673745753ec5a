// Package dispatcher wires a relaytransport.Client to handlers.Dispatch,
// owning the MainSubscription replay state and the info/request/response
// event lifecycle described for the provider's relay-facing half.
package dispatcher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nwcprovider/internal/handlers"
	"nwcprovider/internal/metrics"
	"nwcprovider/internal/nostrcrypto"
	"nwcprovider/internal/nostrevent"
	"nwcprovider/internal/relaytransport"
	"nwcprovider/internal/subscription"
)

// dedupeCache is satisfied by *dedupe.Cache; kept as an interface so
// dispatcher never needs to import Redis directly and tests can run
// without one.
type dedupeCache interface {
	MarkIfNew(ctx context.Context, eventID string) (bool, error)
}

const (
	kindInfo     = 13194
	kindRequest  = 23194
	kindResponse = 23195
	lookback     = 3 * time.Hour
)

// Dispatcher bridges relay events to handlers.Dispatch and publishes
// responses (and the info event) back to the relay.
type Dispatcher struct {
	Relay           *relaytransport.Client
	Deps            handlers.Deps
	ProviderPrivKey string
	ProviderPubKey  string
	SiteTitle       string
	log             *slog.Logger
	dedupe          dedupeCache
}

// New constructs a Dispatcher for one relay connection and one wallet's Deps.
func New(relay *relaytransport.Client, deps handlers.Deps, providerPrivKey, providerPubKey string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		Relay:           relay,
		Deps:            deps,
		ProviderPrivKey: providerPrivKey,
		ProviderPubKey:  providerPubKey,
		SiteTitle:       deps.SiteTitle,
		log:             log,
	}
}

// WithDedupe attaches a cross-instance idempotency cache; when set, a
// request event id already marked seen by another instance is dropped
// before it reaches handlers.Dispatch.
func (d *Dispatcher) WithDedupe(c dedupeCache) *Dispatcher {
	d.dedupe = c
	return d
}

// Run drives the dispatch loop until ctx is cancelled. It must run
// concurrently with Relay.Run, which owns the websocket connection itself.
func (d *Dispatcher) Run(ctx context.Context) error {
	sub := d.openSubscriptions(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-d.Relay.Connected:
			if err := d.publishInfoEvent(ctx); err != nil {
				d.log.Error("failed to publish info event", "error", err)
			}

		case evt := <-d.Relay.Events:
			switch evt.SubID {
			case sub.RequestsSubID:
				if evt.Event.Kind != kindRequest {
					continue
				}
				if dispatchNow := sub.OnRequestEvent(evt.Event); dispatchNow {
					d.dispatchRequest(ctx, sub, evt.Event)
				}
			case sub.ResponsesSubID:
				if evt.Event.Kind != kindResponse || evt.Event.PubKey != d.ProviderPubKey {
					continue
				}
				sub.OnResponseEvent(evt.Event)
			}

		case subID := <-d.Relay.EOSE:
			var ready []*nostrevent.Event
			switch subID {
			case sub.RequestsSubID:
				ready = sub.SetRequestsEOSE()
			case sub.ResponsesSubID:
				ready = sub.SetResponsesEOSE()
			}
			for _, evt := range ready {
				d.dispatchRequest(ctx, sub, evt)
			}

		case subID := <-d.Relay.Closed:
			if subID == sub.RequestsSubID || subID == sub.ResponsesSubID {
				d.log.Warn("subscription closed by relay, resubscribing", "sub", subID)
				sub = d.openSubscriptions(ctx)
			}

		case notice := <-d.Relay.Notice:
			d.log.Warn("relay notice", "message", notice)
		}
	}
}

// openSubscriptions creates a fresh MainSubscription with new subscription
// ids and sends the two REQ frames described in spec.md §4.4, blocking on
// ctx until the relay connection is up if it currently isn't.
func (d *Dispatcher) openSubscriptions(ctx context.Context) *subscription.MainSubscription {
	reqSubID := newSubID()
	respSubID := newSubID()
	sub := subscription.New(reqSubID, respSubID)

	since := time.Now().Add(-lookback).Unix()
	if err := d.Relay.Subscribe(ctx, reqSubID, relaytransport.Filter{
		Kinds: []int{kindRequest},
		Tags:  map[string][]string{"p": {d.ProviderPubKey}},
		Since: &since,
	}); err != nil {
		d.log.Warn("failed to subscribe to requests", "error", err)
	}
	if err := d.Relay.Subscribe(ctx, respSubID, relaytransport.Filter{
		Kinds:   []int{kindResponse},
		Authors: []string{d.ProviderPubKey},
		Since:   &since,
	}); err != nil {
		d.log.Warn("failed to subscribe to responses", "error", err)
	}
	return sub
}

// newSubID produces a 64-character token unique for the lifetime of the
// process: a fixed prefix plus hex-encoded cryptographic randomness.
func newSubID() string {
	b := make([]byte, 26)
	rand.Read(b)
	return "nwcprovider-" + hex.EncodeToString(b)
}

func (d *Dispatcher) publishInfoEvent(ctx context.Context) error {
	methods := strings.Join(handlers.SupportedMethods(), " ")
	evt := nostrevent.New(d.ProviderPubKey, kindInfo, nostrevent.Tags{
		{"p", d.ProviderPubKey},
		{"notifications", ""},
	}, methods)
	if err := nostrevent.Sign(evt, d.ProviderPrivKey); err != nil {
		return fmt.Errorf("dispatcher: sign info event: %w", err)
	}
	return d.Relay.Publish(ctx, evt)
}

type dispatchEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type responseContent struct {
	ResultType string               `json:"result_type"`
	Result     interface{}          `json:"result,omitempty"`
	Error      *handlers.WalletError `json:"error,omitempty"`
}

// dispatchRequest implements spec.md §4.5 steps 1-8 for a single request event.
func (d *Dispatcher) dispatchRequest(ctx context.Context, sub *subscription.MainSubscription, req *nostrevent.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic while dispatching request", "request_id", nostrevent.ShortID(req.ID), "panic", r)
		}
	}()

	if !nostrevent.Verify(req) {
		d.log.Warn("dropping request with invalid signature", "request_id", nostrevent.ShortID(req.ID))
		return
	}
	if exp := req.Tags.Get("expiration"); exp != "" {
		if expUnix, err := parseUnix(exp); err == nil && expUnix < time.Now().Unix() {
			d.log.Info("dropping expired request", "request_id", nostrevent.ShortID(req.ID))
			return
		}
	}
	if req.Tags.Get("p") != d.ProviderPubKey {
		return
	}
	if d.dedupe != nil {
		isNew, err := d.dedupe.MarkIfNew(ctx, req.ID)
		if err != nil {
			d.log.Warn("dedupe check failed, dispatching anyway", "request_id", nostrevent.ShortID(req.ID), "error", err)
		} else if !isNew {
			return
		}
	}

	sharedSecret, err := nostrcrypto.SharedSecret(d.ProviderPrivKey, req.PubKey)
	if err != nil {
		d.log.Error("failed to derive shared secret", "error", err)
		return
	}
	plaintext, err := nostrcrypto.Decrypt(req.Content, sharedSecret)
	if err != nil {
		d.log.Warn("failed to decrypt request", "request_id", nostrevent.ShortID(req.ID), "error", err)
		return
	}

	var envelope dispatchEnvelope
	method := ""
	var params json.RawMessage
	if err := json.Unmarshal([]byte(plaintext), &envelope); err == nil {
		method = envelope.Method
		params = envelope.Params
	}

	metrics.IncRequestsDispatched()
	results := handlers.Dispatch(ctx, d.Deps, req.PubKey, method, params)

	for _, result := range results {
		d.sendResponse(ctx, req, method, result, sharedSecret)
	}

	sub.MarkResponded(req.ID)
}

func (d *Dispatcher) sendResponse(ctx context.Context, req *nostrevent.Event, method string, result handlers.Result, sharedSecret []byte) {
	content := responseContent{ResultType: method}
	if result.Err != nil {
		content.Error = result.Err
	} else {
		content.Result = result.Result
	}

	payload, err := json.Marshal(content)
	if err != nil {
		d.log.Error("failed to marshal response content", "error", err)
		return
	}
	ciphertext, err := nostrcrypto.Encrypt(string(payload), sharedSecret)
	if err != nil {
		d.log.Error("failed to encrypt response", "error", err)
		return
	}

	tags := append(nostrevent.Tags{}, result.ExtraTags...)
	tags = append(tags, []string{"e", req.ID}, []string{"p", req.PubKey})

	resp := nostrevent.New(d.ProviderPubKey, kindResponse, tags, ciphertext)
	if err := nostrevent.Sign(resp, d.ProviderPrivKey); err != nil {
		d.log.Error("failed to sign response", "error", err)
		return
	}
	if err := d.Relay.Publish(ctx, resp); err != nil {
		d.log.Error("failed to publish response", "request_id", nostrevent.ShortID(req.ID), "error", err)
		return
	}
	metrics.IncResponsesSent()
}

func parseUnix(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
