package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	offersIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_offers_issued_total",
		Help: "Total number of trip offers issued to drivers",
	})

	offersResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_offers_resolved_total",
		Help: "Total number of trip offers by terminal outcome",
	}, []string{"outcome"})

	tripsUnplacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_trips_unplaced_total",
		Help: "Total number of trips cancelled after exhausting all offers",
	})

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_duration_seconds",
		Help:    "Time from dispatch start to driver acceptance or exhaustion",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
	})
)

func recordOfferOutcome(outcome string) {
	offersResolvedTotal.WithLabelValues(outcome).Inc()
}
