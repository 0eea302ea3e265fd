// Package metrics exposes Prometheus instrumentation for the autopilot.
// Labels stay low-cardinality on purpose: action kinds and outcomes, never
// owner or listing identifiers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// actions counts automation and publish actions by kind and outcome.
	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_actions_total",
			Help: "Total browser-backed actions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// challenges counts anti-bot challenges encountered. Every increment is
	// an action that went to manual resolution.
	challenges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autopilot_challenges_detected_total",
			Help: "Total anti-bot challenges detected (never bypassed).",
		},
	)

	// browserStep records per-step browser latency. Step names are a small
	// fixed set (navigate, upload_photos, fill:<field>, click:<field>).
	browserStep = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopilot_browser_step_duration_seconds",
			Help:    "Duration of individual browser steps in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// lockBusy counts scheduled jobs skipped because another instance held
	// the lease.
	lockBusy = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_lock_busy_total",
			Help: "Scheduled jobs skipped because the resource lease was held elsewhere.",
		},
		[]string{"job"},
	)

	// quotaDenied counts actions refused by the quota guard before any
	// browser side effect.
	quotaDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_quota_denied_total",
			Help: "Actions denied by the quota guard.",
		},
		[]string{"kind"},
	)

	// tokens tracks confirm-token lifecycle events (minted, consumed,
	// expired, replayed).
	tokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_confirm_tokens_total",
			Help: "Confirm-token lifecycle events.",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(actions, challenges, browserStep, lockBusy, quotaDenied, tokens)
}

// Action records one completed action.
func Action(kind, outcome string) { actions.WithLabelValues(kind, outcome).Inc() }

// ChallengeDetected records one detected challenge.
func ChallengeDetected() { challenges.Inc() }

// ObserveBrowserStep records the latency of one browser step.
func ObserveBrowserStep(step string, d time.Duration) {
	browserStep.WithLabelValues(step).Observe(d.Seconds())
}

// LockBusy records a job skipped due to lease contention.
func LockBusy(job string) { lockBusy.WithLabelValues(job).Inc() }

// QuotaDenied records a quota refusal.
func QuotaDenied(kind string) { quotaDenied.WithLabelValues(kind).Inc() }

// TokenEvent records a confirm-token lifecycle event.
func TokenEvent(event string) { tokens.WithLabelValues(event).Inc() }
