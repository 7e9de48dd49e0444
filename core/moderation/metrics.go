package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	moderationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinga_moderation_decisions_total",
		Help: "Moderation outcomes by verdict and action.",
	}, []string{"verdict", "action"})

	moderationFailClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinga_moderation_fail_closed_total",
		Help: "Moderations forced to review because the classifier timed out or answered malformed.",
	}, []string{"reason"})

	classifierDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kinga_classifier_duration_seconds",
		Help:    "Classifier call latency.",
		Buckets: prometheus.DefBuckets,
	})

	appealsFiled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kinga_appeals_filed_total",
		Help: "Appeals successfully filed.",
	})

	appealsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kinga_appeals_duplicate_total",
		Help: "Appeals rejected as duplicates.",
	})

	flagsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinga_flags_resolved_total",
		Help: "Flags resolved by administrators, by decision.",
	}, []string{"decision"})
)
