package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "http_requests_total",
			Help:      "Count of HTTP API requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	reservationsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "reservations_created_total",
			Help:      "Count of holds successfully created.",
		},
	)

	capacityExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "capacity_exceeded_total",
			Help:      "Count of reserve attempts rejected for lack of capacity.",
		},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "sweep_runs_total",
			Help:      "Count of expiry sweeper iterations by outcome.",
		},
		[]string{"outcome"},
	)

	holdsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "holds_expired_total",
			Help:      "Count of holds released by the expiry sweeper.",
		},
	)

	paymentEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "payment_events_total",
			Help:      "Count of payment events processed by outcome.",
		},
		[]string{"outcome"},
	)

	reconciliationConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "reconciliation_conflicts_total",
			Help:      "Count of payments that succeeded after their hold expired.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			reservationsCreated,
			capacityExceeded,
			sweepRuns,
			holdsExpired,
			paymentEvents,
			reconciliationConflicts,
		)
	})
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncReservationCreated() {
	reservationsCreated.Inc()
}

func IncCapacityExceeded() {
	capacityExceeded.Inc()
}

func IncSweepRun(outcome string) {
	sweepRuns.WithLabelValues(outcome).Inc()
}

func AddHoldsExpired(n int) {
	holdsExpired.Add(float64(n))
}

func IncPaymentEvent(outcome string) {
	paymentEvents.WithLabelValues(outcome).Inc()
}

func IncReconciliationConflict() {
	reconciliationConflicts.Inc()
}
