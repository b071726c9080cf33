// Package metrics exposes the observability surface testable property
// 6 calls for ("the view lock is held for the entire ordered-send
// attempt... observable via instrumentation") plus persist/sign
// latency and p2p payload size, none of which spec.md's Non-goals
// exclude. Grounded on the teacher's use of
// github.com/prometheus/client_golang for validator-round counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ViewLockHoldSeconds observes how long a single ordered_send/send
// attempt holds the view manager's shared lock, from RLock to
// RUnlock (spec §5, testable property 6).
var ViewLockHoldSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "replicore",
	Subsystem: "replicated",
	Name:      "view_lock_hold_seconds",
	Help:      "Duration an ordered_send/send call holds the view manager's read lock.",
	Buckets:   prometheus.DefBuckets,
})

// PersistLatencySeconds observes how long a PersistentRegistry.Persist
// call takes to flush every field to durable storage.
var PersistLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "replicore",
	Subsystem: "persistent",
	Name:      "persist_latency_seconds",
	Help:      "Duration of a PersistentRegistry.Persist call.",
	Buckets:   prometheus.DefBuckets,
})

// SignLatencySeconds observes how long a PersistentRegistry.Sign call
// takes to extend the chained signature.
var SignLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "replicore",
	Subsystem: "persistent",
	Name:      "sign_latency_seconds",
	Help:      "Duration of a PersistentRegistry.Sign call.",
	Buckets:   prometheus.DefBuckets,
})

// P2PPayloadBytes observes the marshalled size of outgoing p2p_send
// calls, surfacing how close callers run to max_p2p_request_payload_size.
var P2PPayloadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "replicore",
	Subsystem: "replicated",
	Name:      "p2p_payload_bytes",
	Help:      "Marshalled size of an outgoing p2p_send call.",
	Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
})

func init() {
	prometheus.MustRegister(
		ViewLockHoldSeconds,
		PersistLatencySeconds,
		SignLatencySeconds,
		P2PPayloadBytes,
	)
}

// Timer observes the elapsed time since start against h when stopped.
// Callers defer metrics.Timer(h)() at the top of the function being
// measured.
func Timer(h prometheus.Histogram) func() {
	start := time.Now()

	return func() {
		h.Observe(time.Since(start).Seconds())
	}
}
