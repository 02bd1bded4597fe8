// Package metrics exposes the Prometheus collectors RRLS updates as
// requests move through submission, delay, attempt and outcome, using
// the standard promauto registration pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rrls",
		Name:      "submitted_total",
		Help:      "Requests accepted by submit (rejected submits are not counted).",
	})

	RejectedTooManyPendingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rrls",
		Name:      "rejected_too_many_pending_total",
		Help:      "Submits rejected because maxPendingRequests was exceeded.",
	})

	AttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rrls",
		Name:      "attempts_total",
		Help:      "Processing-function invocations across all requests.",
	})

	AttemptSucceededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rrls",
		Name:      "attempt_succeeded_total",
		Help:      "Attempts that returned without error.",
	})

	AttemptFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rrls",
		Name:      "attempt_failed_total",
		Help:      "Attempts that returned an error.",
	})

	FinalOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rrls",
		Name:      "final_outcome_total",
		Help:      "Terminal outcomes by kind.",
	}, []string{"outcome"})

	MainQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rrls",
		Name:      "main_queue_depth",
		Help:      "Current depth of the main dispatch queue.",
	})

	DelayQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rrls",
		Name:      "delay_queue_depth",
		Help:      "Current depth of each delay-queue shard.",
	}, []string{"shard"})

	TicketsAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rrls",
		Name:      "tickets_available",
		Help:      "Estimated tokens currently available in the rate limiter.",
	})

	WorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rrls",
		Name:      "workers_active",
		Help:      "Worker goroutines currently executing a processing function.",
	})
)

// Outcome label values for FinalOutcomeTotal.
const (
	OutcomeSuccess   = "success"
	OutcomeExhausted = "exhausted"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)
