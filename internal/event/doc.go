// Package event carries Tiaki's pub-sub backbone: a synchronous in-process
// bus and the typed events that flow over it. Components publish what
// happened; observers (journal, metrics, API streams) subscribe without the
// publishers knowing they exist.
//
// # Event Names
//
// Subscriptions key on the stable dash-delimited names:
//
//	service-registered       a service joined the registry
//	service-updated          re-registration replaced an existing entry
//	service-unregistered     a service left (requested or expired)
//	service-status-changed   a health transition, with the probe outcome
//	service-heartbeat        an accepted heartbeat
//	health-check-result      every probe result, pass or fail
//	shutdown                 the bus is closing, published exactly once
//	lock-acquired            a lock grant was issued
//	lock-released            a grant was released by its holder
//	lock-reclaimed           an expired grant was swept
//	memory-updated           a new version was committed
//	version-conflict         an optimistic version check failed
//	lock-file-changed        another process touched the lock directory
//
// # Delivery
//
// Publish is synchronous and ordered: handlers subscribed to the specific
// type run first in registration order, then wildcard handlers. Handlers run
// on the publisher's goroutine, so they must be quick and must not publish
// re-entrantly into a handler that could deadlock on external locks. A
// panicking handler is recovered and logged; the rest still run.
//
// Observers that do slow work buffer it themselves: the journal, for
// example, hands events to a buffered writer goroutine and returns.
package event
