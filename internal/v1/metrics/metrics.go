package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the room/cluster game service.
//
// Naming convention: namespace_subsystem_name
// - namespace: roomcluster (application-level grouping)
// - subsystem: room, cluster, engine, circuit_breaker, catalog, rate_limit
//   (feature-level grouping)
// - name: specific metric (connections_active, commands_total, etc.)
var (
	// ActiveConnections tracks the current number of open client connections
	// to a room (Gauge - current state).
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomcluster",
		Subsystem: "room",
		Name:      "connections_active",
		Help:      "Current number of open client connections to this room",
	})

	// ActiveRooms tracks the number of rooms the cluster currently has
	// spawned (Gauge - current state, cluster process only).
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roomcluster",
		Subsystem: "cluster",
		Name:      "rooms_active",
		Help:      "Current number of rooms spawned by this cluster",
	})

	// CommandsTotal tracks every command a room or the cluster has
	// dispatched (CounterVec - cumulative), labeled by method and whether
	// it errored. This generalizes the source's lifetime_stats["errors"]
	// counter into a full per-method breakdown.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomcluster",
		Subsystem: "engine",
		Name:      "commands_total",
		Help:      "Total commands dispatched to an engine",
	}, []string{"method", "status"})

	// CommandDuration tracks dispatch latency per method (HistogramVec -
	// latency distribution).
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "roomcluster",
		Subsystem: "engine",
		Name:      "command_duration_seconds",
		Help:      "Time spent dispatching a command",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"method"})

	// CircuitBreakerState tracks the catalog beacon circuit breaker's state
	// (GaugeVec). 0: Closed, 1: Open, 2: Half-Open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "roomcluster",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks requests rejected by the breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomcluster",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded counts commands rejected for exceeding the per-client
	// command rate limit, labeled by client id.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomcluster",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of commands rejected for exceeding the rate limit",
	}, []string{"client"})

	// BeaconsSent counts catalog discovery beacon attempts, labeled by
	// status: "ok" for a sent datagram, "error" for a failed or skipped one.
	BeaconsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roomcluster",
		Subsystem: "catalog",
		Name:      "beacons_sent_total",
		Help:      "Total catalog beacons sent",
	}, []string{"status"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
