// Package budget implements the authorization and budget-cycle accounting
// engine: permission-tag resolution and the tracked_spend protocol that
// runs each spend through the single-consumer execution queue.
package budget

import (
	"context"
	"errors"
	"time"

	"nwcprovider/internal/queue"
	"nwcprovider/internal/store"
)

// Permission tags and the NIP-47 methods each one grants.
const (
	PermPay         = "pay"
	PermOffer       = "offer"
	PermLookupOffer = "lookup_offer"
	PermListOffers  = "list_offers"
	PermInvoice     = "invoice"
	PermLookup      = "lookup"
	PermHistory     = "history"
	PermBalance     = "balance"
	PermInfo        = "info"
)

var permissionMethods = map[string][]string{
	PermPay:         {"pay_invoice", "multi_pay_invoice", "pay_keysend", "multi_pay_keysend"},
	PermOffer:       {"make_offer"},
	PermLookupOffer: {"lookup_offer"},
	PermListOffers:  {"list_offers"},
	PermInvoice:     {"make_invoice"},
	PermLookup:      {"lookup_invoice"},
	PermHistory:     {"list_transactions"},
	PermBalance:     {"get_balance"},
	PermInfo:        {"get_info"},
}

// AllPermissions lists every recognized permission tag, in the order they
// appear in the spec's table; used to compute default grants and to check
// that an admin-supplied permission is one the provider recognizes.
var AllPermissions = []string{
	PermPay, PermOffer, PermLookupOffer, PermListOffers,
	PermInvoice, PermLookup, PermHistory, PermBalance, PermInfo,
}

// MethodsFor returns the set of NIP-47 methods granted by permissions.
func MethodsFor(permissions []string) map[string]bool {
	out := make(map[string]bool)
	for _, p := range permissions {
		for _, m := range permissionMethods[p] {
			out[m] = true
		}
	}
	return out
}

// Errors surfaced by Authorize, mapped 1:1 onto the wire error taxonomy by
// callers in internal/handlers.
var (
	ErrUnauthorized = errors.New("budget: no active client key")
	ErrRestricted   = errors.New("budget: method not permitted")
)

// Authorize resolves pubKey to a non-expired ClientKey and checks that
// method is in its granted method set, touching last_used on success.
func Authorize(ctx context.Context, st store.Store, pubKey, method string, now int64) (*store.ClientKey, error) {
	ck, err := st.GetClientKey(ctx, pubKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if ck.Expired(now) {
		return nil, ErrUnauthorized
	}
	if !MethodsFor(ck.Permissions)[method] {
		return nil, ErrRestricted
	}
	if err := st.TouchClientKey(ctx, pubKey, now); err != nil {
		return nil, err
	}
	ck.LastUsed = now
	return ck, nil
}

// Cycle is the [start, end) window a budget's spend is currently measured
// against, per the spec's budget-cycle math.
type Cycle struct {
	Start int64
	End   int64
}

// CurrentCycle computes the active window for budget b at time now.
func CurrentCycle(b *store.Budget, now int64) Cycle {
	if b.RefreshWindow <= 0 {
		return Cycle{Start: b.CreatedAt, End: now + 1}
	}
	elapsed := now - b.CreatedAt
	passedCycles := elapsed / b.RefreshWindow
	lastCycle := b.CreatedAt + passedCycles*b.RefreshWindow
	return Cycle{Start: lastCycle, End: lastCycle + b.RefreshWindow}
}

// ErrQuotaExceeded is returned by TrackedSpend when any budget would be
// exceeded by the requested amount.
var ErrQuotaExceeded = errors.New("budget: quota exceeded")

// nowFunc is a test seam; production uses wall-clock time.
var nowFunc = func() int64 { return time.Now().Unix() }

// TrackedSpend enqueues a budget-gated spend onto q. It checks every
// budget for pubKey against its current cycle's already-spent sum before
// calling action; because q has a single consumer, the check-then-insert
// is linearizable across concurrent callers.
func TrackedSpend(ctx context.Context, q *queue.Queue, st store.Store, pubKey string, amountMsats int64, action func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	return q.Submit(ctx, func(ctx context.Context) (interface{}, error) {
		now := nowFunc()
		budgets, err := st.ListBudgets(ctx, pubKey)
		if err != nil {
			return nil, err
		}
		for _, b := range budgets {
			cycle := CurrentCycle(b, now)
			spent, err := st.SumSpend(ctx, pubKey, cycle.Start, cycle.End)
			if err != nil {
				return nil, err
			}
			if spent+amountMsats > b.BudgetMsats {
				return nil, ErrQuotaExceeded
			}
		}

		result, err := action(ctx)
		if err != nil {
			return nil, err
		}

		if err := st.AddSpendRecord(ctx, &store.SpendRecord{PubKey: pubKey, AmountMsats: amountMsats, CreatedAt: now}); err != nil {
			return nil, err
		}
		return result, nil
	})
}
