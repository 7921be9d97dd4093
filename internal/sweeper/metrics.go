package sweeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rolesPurgedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multirole_sweeper_roles_purged_total",
		Help: "Profiles irreversibly purged, by role kind.",
	}, []string{"role_kind"})

	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multirole_sweeper_errors_total",
		Help: "Per-row and per-listing failures skipped during sweeps.",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "multirole_sweeper_sweep_duration_seconds",
		Help:    "Wall time of one sweep pass.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)
