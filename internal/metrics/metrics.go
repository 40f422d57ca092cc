package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreWrites counts successful shared store writes per key.
	StoreWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "store",
		Name:      "writes_total",
		Help:      "Shared store writes by key.",
	}, []string{"key"})

	// StoreConflicts counts optimistic version conflicts that forced a retry.
	StoreConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "store",
		Name:      "conflicts_total",
		Help:      "Optimistic update conflicts by key.",
	}, []string{"key"})

	// BroadcastFailures counts change notifications that could not be published.
	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "store",
		Name:      "broadcast_failures_total",
		Help:      "Change notifications that failed to publish.",
	})

	// CodesGenerated counts redemption codes issued.
	CodesGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "codes_generated_total",
		Help:      "Redemption codes generated for sessions.",
	})

	// Redemptions counts redemption attempts by outcome.
	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "redemptions_total",
		Help:      "Redemption attempts by outcome.",
	}, []string{"outcome"})

	// SessionsExpired counts sessions deactivated because their code ran out.
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sessions_expired_total",
		Help:      "Sessions deactivated by expiry, lazily or by the sweeper.",
	})
)
