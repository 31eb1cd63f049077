package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain collectors. HTTP metrics live in the middleware package.
var (
	// EventsAccepted counts events that passed the gate, by kind.
	EventsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_accepted_total",
			Help: "Events accepted for delivery.",
		},
		[]string{"kind"},
	)

	// DedupHits counts events dropped as duplicates, by key class.
	DedupHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dedup_hits_total",
			Help: "Events skipped by the idempotency gate.",
		},
		[]string{"class"},
	)

	// Deliveries counts per-destination sends by kind and outcome.
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Per-destination deliveries by outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// FanoutDuration records how long one event's fan-out took.
	FanoutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_fanout_duration_seconds",
			Help:    "Duration of one event fan-out.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	// BotsLive gauges registered bot identities.
	BotsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_bots_live",
			Help: "Registered bot identities.",
		},
	)

	// BotRegistrations counts Register outcomes.
	BotRegistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bot_registrations_total",
			Help: "Bot registration attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(EventsAccepted, DedupHits, Deliveries, FanoutDuration, BotsLive, BotRegistrations)
}
