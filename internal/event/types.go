package event

import (
	"time"

	"github.com/rs/xid"
)

// Event is the interface all published events implement.
type Event interface {
	// EventID returns the unique identifier assigned at construction.
	EventID() string

	// EventType returns the string identifier for this event type.
	// Names are dash-delimited, e.g. "service-registered".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type names. These are the stable, documented identifiers observers
// subscribe on; payload shapes are the exported fields of the corresponding
// structs below.
const (
	TypeServiceRegistered    = "service-registered"
	TypeServiceUpdated       = "service-updated"
	TypeServiceUnregistered  = "service-unregistered"
	TypeServiceStatusChanged = "service-status-changed"
	TypeServiceHeartbeat     = "service-heartbeat"
	TypeHealthCheckResult    = "health-check-result"
	TypeShutdown             = "shutdown"
	TypeLockAcquired         = "lock-acquired"
	TypeLockReleased         = "lock-released"
	TypeLockReclaimed        = "lock-reclaimed"
	TypeMemoryUpdated        = "memory-updated"
	TypeVersionConflict      = "version-conflict"
	TypeLockFileChanged      = "lock-file-changed"
)

// baseEvent provides the common identity fields for all events.
// Embed in concrete event types to satisfy the Event interface.
type baseEvent struct {
	id        string
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventID() string      { return e.id }
func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent stamps a fresh ID and the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		id:        xid.New().String(),
		eventType: eventType,
		timestamp: time.Now().UTC(),
	}
}

// ProbeOutcome mirrors one health probe result for event payloads, so
// observers don't depend on the health package.
type ProbeOutcome struct {
	Healthy   bool          `json:"healthy"`         // Whether the probe passed
	Passive   bool          `json:"passive"`         // True when judged by heartbeat age, not HTTP
	Latency   time.Duration `json:"latency"`         // Probe round-trip, zero for passive checks
	Error     string        `json:"error,omitempty"` // Failure detail when unhealthy
	CheckedAt time.Time     `json:"checkedAt"`       // When the probe ran
}

// -----------------------------------------------------------------------------
// Service Lifecycle Events
// -----------------------------------------------------------------------------

// ServiceRegisteredEvent is emitted when a service joins the registry.
type ServiceRegisteredEvent struct {
	baseEvent
	ServiceID   string `json:"serviceId"`   // Deterministic registry identifier
	ServiceType string `json:"serviceType"` // Declared service type
	Name        string `json:"name"`        // Declared service name
	Address     string `json:"address"`     // host:port
}

// NewServiceRegisteredEvent creates a ServiceRegisteredEvent.
func NewServiceRegisteredEvent(serviceID, serviceType, name, address string) ServiceRegisteredEvent {
	return ServiceRegisteredEvent{
		baseEvent:   newBaseEvent(TypeServiceRegistered),
		ServiceID:   serviceID,
		ServiceType: serviceType,
		Name:        name,
		Address:     address,
	}
}

// ServiceUpdatedEvent is emitted when re-registration replaces an existing
// entry.
type ServiceUpdatedEvent struct {
	baseEvent
	ServiceID   string `json:"serviceId"`
	ServiceType string `json:"serviceType"`
	Name        string `json:"name"`
	Address     string `json:"address"`
}

// NewServiceUpdatedEvent creates a ServiceUpdatedEvent.
func NewServiceUpdatedEvent(serviceID, serviceType, name, address string) ServiceUpdatedEvent {
	return ServiceUpdatedEvent{
		baseEvent:   newBaseEvent(TypeServiceUpdated),
		ServiceID:   serviceID,
		ServiceType: serviceType,
		Name:        name,
		Address:     address,
	}
}

// ServiceUnregisteredEvent is emitted when a service leaves the registry,
// whether by request or by liveness expiry.
type ServiceUnregisteredEvent struct {
	baseEvent
	ServiceID string `json:"serviceId"`
	Reason    string `json:"reason"` // "requested" or "expired"
}

// NewServiceUnregisteredEvent creates a ServiceUnregisteredEvent.
func NewServiceUnregisteredEvent(serviceID, reason string) ServiceUnregisteredEvent {
	return ServiceUnregisteredEvent{
		baseEvent: newBaseEvent(TypeServiceUnregistered),
		ServiceID: serviceID,
		Reason:    reason,
	}
}

// ServiceStatusChangedEvent is emitted on every health status transition.
type ServiceStatusChangedEvent struct {
	baseEvent
	ServiceID string       `json:"serviceId"`
	OldStatus string       `json:"oldStatus"`
	NewStatus string       `json:"newStatus"`
	Outcome   ProbeOutcome `json:"outcome"` // The probe result that caused the transition
}

// NewServiceStatusChangedEvent creates a ServiceStatusChangedEvent.
func NewServiceStatusChangedEvent(serviceID, oldStatus, newStatus string, outcome ProbeOutcome) ServiceStatusChangedEvent {
	return ServiceStatusChangedEvent{
		baseEvent: newBaseEvent(TypeServiceStatusChanged),
		ServiceID: serviceID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Outcome:   outcome,
	}
}

// ServiceHeartbeatEvent is emitted on every accepted heartbeat.
type ServiceHeartbeatEvent struct {
	baseEvent
	ServiceID string `json:"serviceId"`
}

// NewServiceHeartbeatEvent creates a ServiceHeartbeatEvent.
func NewServiceHeartbeatEvent(serviceID string) ServiceHeartbeatEvent {
	return ServiceHeartbeatEvent{
		baseEvent: newBaseEvent(TypeServiceHeartbeat),
		ServiceID: serviceID,
	}
}

// HealthCheckResultEvent is emitted for every probe, pass or fail, whether or
// not the status changed.
type HealthCheckResultEvent struct {
	baseEvent
	ServiceID string       `json:"serviceId"`
	Outcome   ProbeOutcome `json:"outcome"`
}

// NewHealthCheckResultEvent creates a HealthCheckResultEvent.
func NewHealthCheckResultEvent(serviceID string, outcome ProbeOutcome) HealthCheckResultEvent {
	return HealthCheckResultEvent{
		baseEvent: newBaseEvent(TypeHealthCheckResult),
		ServiceID: serviceID,
		Outcome:   outcome,
	}
}

// ShutdownEvent is emitted once when the bus closes during teardown.
type ShutdownEvent struct {
	baseEvent
	Reason string `json:"reason"`
}

// NewShutdownEvent creates a ShutdownEvent.
func NewShutdownEvent(reason string) ShutdownEvent {
	return ShutdownEvent{
		baseEvent: newBaseEvent(TypeShutdown),
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Coordination Events
// -----------------------------------------------------------------------------

// LockAcquiredEvent is emitted when a lock grant is issued.
type LockAcquiredEvent struct {
	baseEvent
	LockID      string    `json:"lockId"`
	MemoryID    string    `json:"memoryId"`
	Persona     string    `json:"persona"`
	ProjectHash string    `json:"projectHash,omitempty"`
	LockedBy    string    `json:"lockedBy"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// NewLockAcquiredEvent creates a LockAcquiredEvent.
func NewLockAcquiredEvent(lockID, memoryID, persona, projectHash, lockedBy string, expiresAt time.Time) LockAcquiredEvent {
	return LockAcquiredEvent{
		baseEvent:   newBaseEvent(TypeLockAcquired),
		LockID:      lockID,
		MemoryID:    memoryID,
		Persona:     persona,
		ProjectHash: projectHash,
		LockedBy:    lockedBy,
		ExpiresAt:   expiresAt,
	}
}

// LockReleasedEvent is emitted when a grant is released by its holder.
type LockReleasedEvent struct {
	baseEvent
	LockID   string `json:"lockId"`
	MemoryID string `json:"memoryId"`
}

// NewLockReleasedEvent creates a LockReleasedEvent.
func NewLockReleasedEvent(lockID, memoryID string) LockReleasedEvent {
	return LockReleasedEvent{
		baseEvent: newBaseEvent(TypeLockReleased),
		LockID:    lockID,
		MemoryID:  memoryID,
	}
}

// LockReclaimedEvent is emitted when an expired grant is swept away.
type LockReclaimedEvent struct {
	baseEvent
	LockID   string `json:"lockId"`
	MemoryID string `json:"memoryId"`
	LockedBy string `json:"lockedBy"` // The holder whose grant lapsed
}

// NewLockReclaimedEvent creates a LockReclaimedEvent.
func NewLockReclaimedEvent(lockID, memoryID, lockedBy string) LockReclaimedEvent {
	return LockReclaimedEvent{
		baseEvent: newBaseEvent(TypeLockReclaimed),
		LockID:    lockID,
		MemoryID:  memoryID,
		LockedBy:  lockedBy,
	}
}

// MemoryUpdatedEvent is emitted when a new version is committed.
type MemoryUpdatedEvent struct {
	baseEvent
	MemoryID    string `json:"memoryId"`
	Persona     string `json:"persona"`
	ProjectHash string `json:"projectHash,omitempty"`
	Author      string `json:"author"`
	Version     int64  `json:"version"`
	Checksum    string `json:"checksum"`
}

// NewMemoryUpdatedEvent creates a MemoryUpdatedEvent.
func NewMemoryUpdatedEvent(memoryID, persona, projectHash, author string, version int64, checksum string) MemoryUpdatedEvent {
	return MemoryUpdatedEvent{
		baseEvent:   newBaseEvent(TypeMemoryUpdated),
		MemoryID:    memoryID,
		Persona:     persona,
		ProjectHash: projectHash,
		Author:      author,
		Version:     version,
		Checksum:    checksum,
	}
}

// VersionConflictEvent is emitted when an optimistic version check fails.
type VersionConflictEvent struct {
	baseEvent
	MemoryID    string `json:"memoryId"`
	Persona     string `json:"persona"`
	ProjectHash string `json:"projectHash,omitempty"`
	Expected    int64  `json:"expected"` // Version the caller based its work on
	Current     int64  `json:"current"`  // Version actually persisted
}

// NewVersionConflictEvent creates a VersionConflictEvent.
func NewVersionConflictEvent(memoryID, persona, projectHash string, expected, current int64) VersionConflictEvent {
	return VersionConflictEvent{
		baseEvent:   newBaseEvent(TypeVersionConflict),
		MemoryID:    memoryID,
		Persona:     persona,
		ProjectHash: projectHash,
		Expected:    expected,
		Current:     current,
	}
}

// LockFileChangedEvent is emitted when the filesystem watcher observes lock
// directory churn from another process.
type LockFileChangedEvent struct {
	baseEvent
}

// NewLockFileChangedEvent creates a LockFileChangedEvent.
func NewLockFileChangedEvent() LockFileChangedEvent {
	return LockFileChangedEvent{
		baseEvent: newBaseEvent(TypeLockFileChanged),
	}
}
