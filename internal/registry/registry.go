package registry

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"pkt.systems/pslog"

	"github.com/dreamware/tiaki/internal/event"
)

// MonitorController is the lifecycle hook the registry drives as services
// come and go. The health monitor implements it; the registry never probes
// anything itself.
//
// Registration is an explicit provisioning step: a freshly constructed
// Registry has no controller bound and performs no side effects until
// BindMonitor is called.
type MonitorController interface {
	// StartProbe begins (or restarts) recurring health checks for the
	// endpoint.
	StartProbe(e Endpoint)

	// StopProbe halts health checks for the service.
	StopProbe(serviceID string)
}

// Config configures a Registry.
type Config struct {
	// Bus receives the registry's lifecycle events. Nil disables emission.
	Bus *event.Bus

	// Logger receives registry diagnostics. Nil discards them.
	Logger pslog.Logger

	// Now supplies the clock. Nil means time.Now. Tests inject a fixed
	// clock to exercise liveness expiry deterministically.
	Now func() time.Time
}

// Registry tracks the live service population for the coordination layer,
// serving as the authoritative source for discovery, health state, and
// failover decisions.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│               Registry                   │
//	├──────────────────────────────────────────┤
//	│  services: map[serviceID]→*Endpoint      │
//	│  monitor:  lifecycle hook (BindMonitor)  │
//	│  bus:      lifecycle event emission      │
//	├──────────────────────────────────────────┤
//	│  register → upsert → probe started       │
//	│  probe result → status → event           │
//	│  silence > timeout → expiry sweep        │
//	└──────────────────────────────────────────┘
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - All returned endpoints are deep copies
//   - No locks held during event publication or monitor calls
//
// Status ownership:
// ApplyProbe is the only path that moves a service between healthy and
// unhealthy, so probers, heartbeats, and sweeps never race on status
// transitions.
type Registry struct {
	// services maps deterministic service IDs to their current entries.
	services map[string]*Endpoint

	// mu protects concurrent access to the services map.
	mu sync.RWMutex

	// monitor is the bound lifecycle hook; nil until BindMonitor.
	monitor MonitorController

	// bus receives lifecycle events; nil disables emission.
	bus *event.Bus

	// logger receives diagnostics.
	logger pslog.Logger

	// now supplies the clock.
	now func() time.Time
}

// New creates a Registry. Construction allocates only: no goroutines start,
// no probes run, nothing is emitted until services register and a monitor
// is bound.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		services: make(map[string]*Endpoint),
		bus:      cfg.Bus,
		logger:   logger,
		now:      now,
	}
}

// BindMonitor attaches the health monitor lifecycle hook. Services already
// registered get their probes started immediately, so bind order relative
// to early registrations doesn't matter.
func (r *Registry) BindMonitor(mc MonitorController) {
	r.mu.Lock()
	r.monitor = mc
	existing := make([]Endpoint, 0, len(r.services))
	for _, e := range r.services {
		existing = append(existing, e.clone())
	}
	r.mu.Unlock()

	if mc == nil {
		return
	}
	for _, e := range existing {
		mc.StartProbe(e)
	}
}

// Register adds a service or replaces its existing entry.
//
// The service's ID is derived from (type, name, host, port), so registering
// the same instance twice is an upsert: the entry is refreshed, its
// RegisteredAt is preserved, and observers see service-updated instead of
// service-registered. Either way LastSeen is stamped and the health monitor
// (re)starts probing.
//
// Parameters:
//   - e: the endpoint to register; ID and timestamps are assigned here,
//     whatever the caller set is overwritten
//
// Returns:
//   - The stored endpoint snapshot, including the assigned ID
//   - Error when type, name, host, or port is invalid
//
// Thread Safety:
// Safe for concurrent use. Events and probe starts happen after the lock is
// released.
func (r *Registry) Register(e Endpoint) (Endpoint, error) {
	if !knownTypes[e.Type] {
		return Endpoint{}, fmt.Errorf("register: unknown service type %q", e.Type)
	}
	if e.Name == "" {
		return Endpoint{}, errors.New("register: service name cannot be empty")
	}
	if e.Host == "" {
		return Endpoint{}, errors.New("register: service host cannot be empty")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return Endpoint{}, fmt.Errorf("register: invalid port %d", e.Port)
	}

	now := r.now()
	e.ID = ServiceID(e.Type, e.Name, e.Host, e.Port)
	e.LastSeen = now
	if e.Status == "" {
		e.Status = StatusStarting
	}

	r.mu.Lock()
	existing, replaced := r.services[e.ID]
	if replaced {
		e.RegisteredAt = existing.RegisteredAt
	} else {
		e.RegisteredAt = now
	}
	stored := e.clone()
	r.services[e.ID] = &stored
	monitor := r.monitor
	snapshot := stored.clone()
	r.mu.Unlock()

	if replaced {
		r.logger.Debug("registry.service.updated", "service", e.ID, "address", e.Address())
		r.publish(event.NewServiceUpdatedEvent(e.ID, string(e.Type), e.Name, e.Address()))
	} else {
		r.logger.Info("registry.service.registered", "service", e.ID, "type", string(e.Type), "address", e.Address())
		r.publish(event.NewServiceRegisteredEvent(e.ID, string(e.Type), e.Name, e.Address()))
	}
	if monitor != nil {
		monitor.StartProbe(snapshot)
	}
	return snapshot, nil
}

// Unregister removes a service by ID and stops its health probes.
// Returns true when the service was present.
func (r *Registry) Unregister(serviceID string) bool {
	r.mu.Lock()
	_, found := r.services[serviceID]
	if found {
		delete(r.services, serviceID)
	}
	monitor := r.monitor
	r.mu.Unlock()

	if !found {
		return false
	}
	if monitor != nil {
		monitor.StopProbe(serviceID)
	}
	r.logger.Info("registry.service.unregistered", "service", serviceID, "reason", "requested")
	r.publish(event.NewServiceUnregisteredEvent(serviceID, "requested"))
	return true
}

// Discover returns all services matching the filter, sorted by name for
// stable output. Every entry is a deep copy.
func (r *Registry) Discover(f Filter) []Endpoint {
	r.mu.RLock()
	matched := make([]Endpoint, 0, len(r.services))
	for _, e := range r.services {
		if f.matches(*e) {
			matched = append(matched, e.clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b Endpoint) int {
		return strings.Compare(a.Name, b.Name)
	})
	return matched
}

// Get returns the service with the given ID.
func (r *Registry) Get(serviceID string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.services[serviceID]
	if !ok {
		return Endpoint{}, false
	}
	return e.clone(), true
}

// GetByName returns the first service with the given name.
func (r *Registry) GetByName(name string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.services {
		if e.Name == name {
			return e.clone(), true
		}
	}
	return Endpoint{}, false
}

// FindHealthy picks one healthy service matching the filter, uniformly at
// random so repeated calls spread load across equivalent instances. Any
// status constraint in the filter is overridden to healthy.
//
// Returns false when no healthy match exists.
func (r *Registry) FindHealthy(f Filter) (Endpoint, bool) {
	f.Status = StatusHealthy
	candidates := r.Discover(f)
	if len(candidates) == 0 {
		return Endpoint{}, false
	}
	return candidates[rand.IntN(len(candidates))], true
}

// FindFailover picks a healthy replacement for a failed service: same type,
// same persona, same project, and never the failed instance itself.
//
// Returns false when the failed service is unknown or no healthy peer
// exists.
func (r *Registry) FindFailover(failedID string) (Endpoint, bool) {
	failed, ok := r.Get(failedID)
	if !ok {
		return Endpoint{}, false
	}

	candidates := r.Discover(Filter{
		Type:        failed.Type,
		Persona:     failed.Metadata.Persona,
		ProjectHash: failed.Metadata.ProjectHash,
		Status:      StatusHealthy,
	})
	peers := candidates[:0]
	for _, c := range candidates {
		if c.ID != failedID {
			peers = append(peers, c)
		}
	}
	if len(peers) == 0 {
		return Endpoint{}, false
	}
	return peers[rand.IntN(len(peers))], true
}

// Heartbeat records liveness for a service: LastSeen is stamped and the
// optional metadata patch is merged in. Returns false for unknown services.
func (r *Registry) Heartbeat(serviceID string, patch *MetadataPatch) bool {
	r.mu.Lock()
	e, ok := r.services[serviceID]
	if ok {
		e.LastSeen = r.now()
		if patch != nil {
			patch.apply(&e.Metadata)
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.logger.Trace("registry.service.heartbeat", "service", serviceID)
	r.publish(event.NewServiceHeartbeatEvent(serviceID))
	return true
}

// ApplyProbe folds one health check outcome into the registry. This is the
// only path that changes a service's status, which keeps transitions
// single-writer no matter how many probers run.
//
// Effects:
//   - health-check-result is emitted for every probe, pass or fail
//   - a passing active probe refreshes LastSeen; passive passes do not
//   - a status flip updates the entry and emits service-status-changed
//
// Unknown service IDs are ignored: the prober may race an unregistration,
// and the stale result must not resurrect the entry.
func (r *Registry) ApplyProbe(result ProbeResult) {
	outcome := event.ProbeOutcome{
		Healthy:   result.Healthy,
		Passive:   result.Passive,
		Latency:   result.Latency,
		Error:     result.Error,
		CheckedAt: result.CheckedAt,
	}

	r.mu.Lock()
	e, ok := r.services[result.ServiceID]
	var oldStatus, newStatus Status
	changed := false
	if ok {
		oldStatus = e.Status
		if result.Healthy {
			newStatus = StatusHealthy
			// A passive verdict is derived from LastSeen; refreshing it
			// here would keep a silent service alive forever.
			if !result.Passive {
				e.LastSeen = r.now()
			}
		} else {
			newStatus = StatusUnhealthy
		}
		if oldStatus != newStatus {
			e.Status = newStatus
			changed = true
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.publish(event.NewHealthCheckResultEvent(result.ServiceID, outcome))
	if changed {
		r.logger.Info("registry.service.status",
			"service", result.ServiceID,
			"from", string(oldStatus),
			"to", string(newStatus),
			"error", result.Error)
		r.publish(event.NewServiceStatusChangedEvent(result.ServiceID, string(oldStatus), string(newStatus), outcome))
	}
}

// ExpireStale removes every service whose LastSeen is older than timeout.
// Expiry is implicit unregistration: probes stop and observers see
// service-unregistered with reason "expired", not a status flip.
//
// Only the staleness reaper calls this, which keeps the sweep single-writer.
// Returns the expired endpoints.
func (r *Registry) ExpireStale(timeout time.Duration) []Endpoint {
	cutoff := r.now().Add(-timeout)

	r.mu.Lock()
	var expired []Endpoint
	for id, e := range r.services {
		if e.LastSeen.Before(cutoff) {
			expired = append(expired, e.clone())
			delete(r.services, id)
		}
	}
	monitor := r.monitor
	r.mu.Unlock()

	for _, e := range expired {
		if monitor != nil {
			monitor.StopProbe(e.ID)
		}
		r.logger.Info("registry.service.expired", "service", e.ID, "last_seen", e.LastSeen)
		r.publish(event.NewServiceUnregisteredEvent(e.ID, "expired"))
	}
	return expired
}

// Stats aggregates the current population.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		ByType:   make(map[ServiceType]int),
		ByStatus: make(map[Status]int),
	}
	for _, e := range r.services {
		stats.Total++
		stats.ByType[e.Type]++
		stats.ByStatus[e.Status]++
		switch e.Status {
		case StatusHealthy:
			stats.Healthy++
		case StatusUnhealthy:
			stats.Unhealthy++
		}
	}
	return stats
}

// Close stops probes for every registered service. The entries themselves
// remain; Close only quiesces monitoring during shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	monitor := r.monitor
	r.mu.Unlock()

	if monitor == nil {
		return
	}
	for _, id := range ids {
		monitor.StopProbe(id)
	}
}

// publish emits an event when a bus is configured.
func (r *Registry) publish(e event.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
