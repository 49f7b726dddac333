// Package metrics exposes the coordination layer's counters and gauges
// in Prometheus format. Counters are fed from the event bus, so any
// component that publishes is measured without carrying a metrics
// handle; gauges read the registry and store stats at scrape time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/tiaki/internal/event"
	"github.com/dreamware/tiaki/internal/registry"
	"github.com/dreamware/tiaki/internal/store"
)

const namespace = "tiaki"

// ServiceStatsSource supplies registry aggregates at scrape time.
type ServiceStatsSource interface {
	Stats() registry.Stats
}

// StoreStatsSource supplies store aggregates at scrape time.
type StoreStatsSource interface {
	Stats() store.Stats
}

// Config wires a Collector to its inputs. All fields are optional;
// missing ones simply leave their metrics unregistered or unfed.
type Config struct {
	// Bus feeds the event-driven counters.
	Bus *event.Bus

	// Services feeds the per-status service gauges.
	Services ServiceStatsSource

	// Store feeds the live-lock and memory-unit gauges.
	Store StoreStatsSource
}

// Collector owns a private Prometheus registry with every tiaki metric
// registered on it. Serve its Handler on /metrics.
type Collector struct {
	registry *prometheus.Registry
	bus      *event.Bus
	subID    string

	locksAcquired  prometheus.Counter
	locksReleased  prometheus.Counter
	locksReclaimed prometheus.Counter
	memoryUpdates  prometheus.Counter
	conflicts      *prometheus.CounterVec

	probes        *prometheus.CounterVec
	probeDuration prometheus.Histogram

	registrations   prometheus.Counter
	serviceUpdates  prometheus.Counter
	heartbeats      prometheus.Counter
	unregistrations *prometheus.CounterVec
}

// New builds the Collector, registers every metric, and subscribes to
// the bus when one is given.
func New(cfg Config) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		bus:      cfg.Bus,

		locksAcquired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "acquired_total",
			Help:      "Lock grants issued.",
		}),
		locksReleased: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "released_total",
			Help:      "Locks released by their holder, including release-on-update.",
		}),
		locksReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "reclaimed_total",
			Help:      "Expired locks reclaimed, lazily or by the reaper.",
		}),
		memoryUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "updates_total",
			Help:      "Versioned writes committed to memory units.",
		}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "conflicts_total",
			Help:      "Contention outcomes returned to callers, by conflict code.",
		}, []string{"code"}),

		probes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "probes_total",
			Help:      "Health probe outcomes, by resulting status.",
		}, []string{"status"}),
		probeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "probe_duration_seconds",
			Help:      "Latency of active health probes.",
			Buckets:   prometheus.DefBuckets,
		}),

		registrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "registrations_total",
			Help:      "New service registrations.",
		}),
		serviceUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "reregistrations_total",
			Help:      "Re-registrations of an already-known service.",
		}),
		heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "heartbeats_total",
			Help:      "Heartbeats accepted for registered services.",
		}),
		unregistrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "unregistrations_total",
			Help:      "Services removed from the registry, by reason.",
		}, []string{"reason"}),
	}

	if cfg.Services != nil {
		src := cfg.Services
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "services",
			Help:      "Registered services.",
		}, func() float64 { return float64(src.Stats().Total) })
		for _, status := range []registry.Status{
			registry.StatusStarting,
			registry.StatusHealthy,
			registry.StatusUnhealthy,
			registry.StatusStopping,
		} {
			factory.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "registry",
				Name:        "services_by_status",
				Help:        "Registered services in each status.",
				ConstLabels: prometheus.Labels{"status": string(status)},
			}, func() float64 { return float64(src.Stats().ByStatus[status]) })
		}
	}
	if cfg.Store != nil {
		src := cfg.Store
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "locks_live",
			Help:      "Lock records currently persisted.",
		}, func() float64 { return float64(src.Stats().Locks) })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "memory_units",
			Help:      "Memory units with a persisted version history.",
		}, func() float64 { return float64(src.Stats().Units) })
	}

	if c.bus != nil {
		c.subID = c.bus.SubscribeAll(c.observe)
	}
	return c
}

// observe translates one published event into counter movements.
func (c *Collector) observe(e event.Event) {
	switch e.EventType() {
	case event.TypeLockAcquired:
		c.locksAcquired.Inc()
	case event.TypeLockReleased:
		c.locksReleased.Inc()
	case event.TypeLockReclaimed:
		c.locksReclaimed.Inc()
	case event.TypeMemoryUpdated:
		c.memoryUpdates.Inc()
	case event.TypeHealthCheckResult:
		if result, ok := e.(event.HealthCheckResultEvent); ok {
			status := "unhealthy"
			if result.Outcome.Healthy {
				status = "healthy"
			}
			c.probes.WithLabelValues(status).Inc()
			if !result.Outcome.Passive {
				c.probeDuration.Observe(result.Outcome.Latency.Seconds())
			}
		}
	case event.TypeServiceRegistered:
		c.registrations.Inc()
	case event.TypeServiceUpdated:
		c.serviceUpdates.Inc()
	case event.TypeServiceHeartbeat:
		c.heartbeats.Inc()
	case event.TypeServiceUnregistered:
		if unreg, ok := e.(event.ServiceUnregisteredEvent); ok {
			c.unregistrations.WithLabelValues(unreg.Reason).Inc()
		}
	}
}

// ObserveConflict counts one contention outcome returned to a caller.
// The API layer calls this for every Conflict response; version
// mismatches rejected before a lock was issued are included.
func (c *Collector) ObserveConflict(code string) {
	c.conflicts.WithLabelValues(code).Inc()
}

// Handler serves the collector's registry in Prometheus exposition
// format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Close detaches the collector from the bus.
func (c *Collector) Close() {
	if c.bus != nil && c.subID != "" {
		c.bus.Unsubscribe(c.subID)
	}
}
