// Package metrics defines and registers all custom Prometheus metrics for the
// tracking sync service. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics are registered with the default Prometheus registry on package
// initialisation (promauto); HTTP request metrics come from echoprometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tracking"

// ── Poll metrics ──────────────────────────────────────────────────────────────

// PollsTotal counts finished carrier polls.
// Labels:
//   - carrier: e.g. "FEDEX"
//   - result: "ok" or a failure reason (e.g. "timeout", "parse_error", "rate_limited")
var PollsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_total",
		Help:      "Total number of carrier polls, by carrier and result.",
	},
	[]string{"carrier", "result"},
)

// PollDuration measures one poll from lock acquisition to store write.
// Label:
//   - carrier
var PollDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_duration_seconds",
		Help:      "Duration of a carrier poll including normalization, merge and store write.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"carrier"},
)

// BudgetDeferralsTotal counts due records left for a later tick because the
// carrier request budget was exhausted.
var BudgetDeferralsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "budget_deferrals_total",
		Help:      "Total number of due polls deferred by the carrier request budget.",
	},
	[]string{"carrier"},
)

// TrackedRecords is the number of records currently scheduled per carrier.
var TrackedRecords = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_records",
		Help:      "Number of tracking records currently held by the scheduler.",
	},
	[]string{"carrier"},
)

// ── Merge metrics ─────────────────────────────────────────────────────────────

// EventsMergedTotal counts merge outcomes per event.
// Labels:
//   - carrier
//   - result: "added", "duplicate" or "dropped"
var EventsMergedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_merged_total",
		Help:      "Total number of carrier events seen by the merger, labelled by outcome.",
	},
	[]string{"carrier", "result"},
)

// MergeConflictsTotal counts optimistic-concurrency conflicts on record writes.
// Label:
//   - outcome: "retried" or "deferred"
var MergeConflictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "merge_conflicts_total",
		Help:      "Total number of record write conflicts.",
	},
	[]string{"outcome"},
)

// ── Lane metrics ──────────────────────────────────────────────────────────────

// LaneQueueDepth tracks refs waiting in each carrier lane.
var LaneQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lane_queue_depth",
		Help:      "Current number of polls pending in each carrier lane.",
	},
	[]string{"carrier"},
)

// ── Trigger metrics ───────────────────────────────────────────────────────────

// TriggersTotal counts emitted notification triggers.
// Label:
//   - reason: "status_changed", "exception" or "eta_changed"
var TriggersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_total",
		Help:      "Total number of notification triggers emitted, by reason.",
	},
	[]string{"reason"},
)

// TriggerDeliveriesTotal counts trigger hand-offs per downstream handler.
// Labels:
//   - handler: e.g. "redis_stream", "mongo_audit"
//   - result: "ok", "error" or "dropped"
var TriggerDeliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trigger_deliveries_total",
		Help:      "Total number of trigger deliveries, by handler and result.",
	},
	[]string{"handler", "result"},
)
