// Package registry implements the service registry for Tiaki's coordination
// layer: the authoritative, in-memory record of which services exist, where
// they are reachable, and whether they are currently alive.
//
// # Overview
//
// Every process in a Tiaki deployment announces itself here: agents, memory
// servers, gateways, workers, monitors. The registry assigns each one a
// deterministic identity, tracks its liveness, and answers the questions the
// rest of the system asks:
//
//   - "Give me everything matching this shape"        (Discover)
//   - "Give me one healthy instance of this shape"    (FindHealthy)
//   - "This one failed, who takes over?"              (FindFailover)
//
// # Identity
//
// A service's ID is a pure function of (type, name, host, port), an FNV-1a
// hash prefixed with the type:
//
//	gateway-4f2a9b3c1d8e7f60
//
// Determinism is what makes registration idempotent: a service that restarts
// and registers again lands on its existing entry as an update rather than
// creating a duplicate. Observers can tell the two cases apart by which
// event they receive, service-registered or service-updated.
//
// # Liveness
//
// The registry holds status but never decides it alone. Three inputs feed a
// service's lifecycle:
//
//	register    → entry created as "starting", probing begins
//	heartbeat   → LastSeen refreshed, metadata patch merged
//	probe       → ApplyProbe folds the outcome in; the only status writer
//	silence     → after the timeout, the reaper expires the entry
//
// Expiry is implicit unregistration. A service that stops heartbeating and
// cannot be probed simply disappears from the registry (with a
// service-unregistered event, reason "expired"); there is no tombstone
// status.
//
// # Monitor Binding
//
// Construction is side-effect free. The health monitor is attached
// afterwards through BindMonitor, and from then on the registry drives
// probe lifecycles: Register starts probing, Unregister and expiry stop it.
// The registry never performs a probe itself; it only consumes results.
//
// # Concurrency
//
// A single RWMutex guards the service table. Every endpoint that leaves the
// registry is a deep copy, and events, log calls, and monitor callbacks all
// happen after the lock is released, so observers can call back into the
// registry without deadlocking.
//
// # See Also
//
// Related packages:
//   - internal/health: produces the probe results applied here
//   - internal/reaper: schedules the expiry sweep
//   - internal/event: the bus lifecycle events are published on
package registry
