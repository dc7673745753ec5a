// Package metrics exposes atomic counters for dispatch outcomes and a
// Prometheus text-format /metrics handler, in the style of the teacher's
// metrics.go.
package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

var startTime = time.Now()

var (
	requestsDispatchedTotal atomic.Int64
	responsesSentTotal      atomic.Int64
	paymentsSucceededTotal  atomic.Int64
	paymentsFailedTotal     atomic.Int64
	quotaRejectionsTotal    atomic.Int64
	relayReconnectsTotal    atomic.Int64
	eventsDroppedTotal      atomic.Int64
)

func IncRequestsDispatched() { requestsDispatchedTotal.Add(1) }
func IncResponsesSent()      { responsesSentTotal.Add(1) }
func IncPaymentsSucceeded()  { paymentsSucceededTotal.Add(1) }
func IncPaymentsFailed()     { paymentsFailedTotal.Add(1) }
func IncQuotaRejections()    { quotaRejectionsTotal.Add(1) }
func IncRelayReconnects()    { relayReconnectsTotal.Add(1) }
func IncEventsDropped()      { eventsDroppedTotal.Add(1) }

// Handler serves a Prometheus-compatible text exposition of the counters
// above plus basic Go runtime stats.
func Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP nwcprovider_build_info Build information\n")
	fmt.Fprintf(w, "# TYPE nwcprovider_build_info gauge\n")
	fmt.Fprintf(w, "nwcprovider_build_info{go_version=%q} 1\n\n", runtime.Version())

	fmt.Fprintf(w, "# HELP process_start_time_seconds Unix timestamp of process start\n")
	fmt.Fprintf(w, "# TYPE process_start_time_seconds gauge\n")
	fmt.Fprintf(w, "process_start_time_seconds %d\n\n", startTime.Unix())

	fmt.Fprintf(w, "# HELP process_uptime_seconds Time since process started\n")
	fmt.Fprintf(w, "# TYPE process_uptime_seconds gauge\n")
	fmt.Fprintf(w, "process_uptime_seconds %.0f\n\n", time.Since(startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(w, "# HELP go_goroutines Number of active goroutines\n")
	fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
	fmt.Fprintf(w, "go_goroutines %d\n\n", runtime.NumGoroutine())

	fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Currently allocated memory in bytes\n")
	fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
	fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n\n", mem.Alloc)

	fmt.Fprintf(w, "# HELP nwcprovider_requests_dispatched_total NIP-47 requests dispatched to a handler\n")
	fmt.Fprintf(w, "# TYPE nwcprovider_requests_dispatched_total counter\n")
	fmt.Fprintf(w, "nwcprovider_requests_dispatched_total %d\n\n", requestsDispatchedTotal.Load())

	fmt.Fprintf(w, "# HELP nwcprovider_responses_sent_total Response events published\n")
	fmt.Fprintf(w, "# TYPE nwcprovider_responses_sent_total counter\n")
	fmt.Fprintf(w, "nwcprovider_responses_sent_total %d\n\n", responsesSentTotal.Load())

	fmt.Fprintf(w, "# HELP nwcprovider_payments_succeeded_total Payments settled successfully\n")
	fmt.Fprintf(w, "# TYPE nwcprovider_payments_succeeded_total counter\n")
	fmt.Fprintf(w, "nwcprovider_payments_succeeded_total %d\n\n", paymentsSucceededTotal.Load())

	fmt.Fprintf(w, "# HELP nwcprovider_payments_failed_total Payments that failed at the host wallet\n")
	fmt.Fprintf(w, "# TYPE nwcprovider_payments_failed_total counter\n")
	fmt.Fprintf(w, "nwcprovider_payments_failed_total %d\n\n", paymentsFailedTotal.Load())

	fmt.Fprintf(w, "# HELP nwcprovider_quota_rejections_total Payments rejected for exceeding a budget\n")
	fmt.Fprintf(w, "# TYPE nwcprovider_quota_rejections_total counter\n")
	fmt.Fprintf(w, "nwcprovider_quota_rejections_total %d\n\n", quotaRejectionsTotal.Load())

	fmt.Fprintf(w, "# HELP nwcprovider_relay_reconnects_total Relay reconnect attempts\n")
	fmt.Fprintf(w, "# TYPE nwcprovider_relay_reconnects_total counter\n")
	fmt.Fprintf(w, "nwcprovider_relay_reconnects_total %d\n\n", relayReconnectsTotal.Load())

	fmt.Fprintf(w, "# HELP nwcprovider_events_dropped_total Inbound events dropped because a consumer was too slow\n")
	fmt.Fprintf(w, "# TYPE nwcprovider_events_dropped_total counter\n")
	fmt.Fprintf(w, "nwcprovider_events_dropped_total %d\n", eventsDroppedTotal.Load())
}
