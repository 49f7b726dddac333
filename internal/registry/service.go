package registry

import (
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"time"
)

// ServiceType classifies a registered service
type ServiceType string

const (
	// TypeAgent is an autonomous agent process
	TypeAgent ServiceType = "agent"
	// TypeMemory is a memory document server
	TypeMemory ServiceType = "memory"
	// TypeGateway is an API gateway fronting the mesh
	TypeGateway ServiceType = "gateway"
	// TypeWorker is a background task executor
	TypeWorker ServiceType = "worker"
	// TypeMonitor is an observability collector
	TypeMonitor ServiceType = "monitor"
)

// knownTypes is the closed set Register accepts.
var knownTypes = map[ServiceType]bool{
	TypeAgent:   true,
	TypeMemory:  true,
	TypeGateway: true,
	TypeWorker:  true,
	TypeMonitor: true,
}

// Status is a service's current health state
type Status string

const (
	// StatusStarting means registered but not yet probed
	StatusStarting Status = "starting"
	// StatusHealthy means the last liveness judgement passed
	StatusHealthy Status = "healthy"
	// StatusUnhealthy means the last liveness judgement failed
	StatusUnhealthy Status = "unhealthy"
	// StatusStopping means the service announced imminent shutdown
	StatusStopping Status = "stopping"
)

// Metadata carries the optional descriptive fields a service registers with
type Metadata struct {
	Persona      string            `json:"persona,omitempty"`      // Persona the service acts for
	ProjectHash  string            `json:"projectHash,omitempty"`  // Project the service is bound to
	Capabilities []string          `json:"capabilities,omitempty"` // What the service can do
	Tags         []string          `json:"tags,omitempty"`         // Free-form discovery labels
	Extra        map[string]string `json:"extra,omitempty"`        // Anything else
}

// clone deep-copies the metadata so registry snapshots can't be mutated
// from outside.
func (m Metadata) clone() Metadata {
	out := Metadata{
		Persona:     m.Persona,
		ProjectHash: m.ProjectHash,
	}
	if m.Capabilities != nil {
		out.Capabilities = append([]string(nil), m.Capabilities...)
	}
	if m.Tags != nil {
		out.Tags = append([]string(nil), m.Tags...)
	}
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// MetadataPatch carries partial metadata updates applied on heartbeat.
// Empty strings and nil slices leave existing values untouched; Extra keys
// merge into the existing map.
type MetadataPatch struct {
	Persona      string            `json:"persona,omitempty"`
	ProjectHash  string            `json:"projectHash,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// apply merges the patch into m.
func (p MetadataPatch) apply(m *Metadata) {
	if p.Persona != "" {
		m.Persona = p.Persona
	}
	if p.ProjectHash != "" {
		m.ProjectHash = p.ProjectHash
	}
	if p.Capabilities != nil {
		m.Capabilities = append([]string(nil), p.Capabilities...)
	}
	if p.Tags != nil {
		m.Tags = append([]string(nil), p.Tags...)
	}
	if len(p.Extra) > 0 {
		if m.Extra == nil {
			m.Extra = make(map[string]string, len(p.Extra))
		}
		for k, v := range p.Extra {
			m.Extra[k] = v
		}
	}
}

// Endpoint describes one registered service instance
type Endpoint struct {
	ID           string      `json:"id"`                   // Deterministic registry identifier
	Type         ServiceType `json:"type"`                 // Service classification
	Name         string      `json:"name"`                 // Instance name, unique per deployment
	Host         string      `json:"host"`                 // Reachable host
	Port         int         `json:"port"`                 // Reachable port
	HealthAddr   string      `json:"healthAddr,omitempty"` // Health probe URL; empty means passive liveness
	Status       Status      `json:"status"`               // Current health state
	Metadata     Metadata    `json:"metadata"`             // Descriptive fields
	RegisteredAt time.Time   `json:"registeredAt"`         // First registration instant
	LastSeen     time.Time   `json:"lastSeen"`             // Last registration, heartbeat, or healthy probe
}

// Address returns the host:port the service is reachable on.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// RequiresAuthProbe reports whether health probes of this endpoint must
// carry a bearer credential. Gateways front authenticated surfaces, so
// probing them unauthenticated would report false failures.
func (e Endpoint) RequiresAuthProbe() bool {
	return e.Type == TypeGateway
}

// clone returns a deep copy safe to hand outside the registry lock.
func (e Endpoint) clone() Endpoint {
	out := e
	out.Metadata = e.Metadata.clone()
	return out
}

// ServiceID derives the deterministic identifier for a service. The same
// (type, name, host, port) always yields the same ID, which is what makes
// re-registration an upsert instead of a duplicate.
func ServiceID(serviceType ServiceType, name, host string, port int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%d", serviceType, name, host, port)
	return fmt.Sprintf("%s-%016x", serviceType, h.Sum64())
}

// Filter selects services during discovery. Zero-valued fields match
// everything; Tags matches when the endpoint carries at least one of the
// listed tags.
type Filter struct {
	Type        ServiceType `json:"type,omitempty"`
	Persona     string      `json:"persona,omitempty"`
	ProjectHash string      `json:"projectHash,omitempty"`
	Status      Status      `json:"status,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
}

// matches reports whether the endpoint passes every set criterion.
func (f Filter) matches(e Endpoint) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Persona != "" && e.Metadata.Persona != f.Persona {
		return false
	}
	if f.ProjectHash != "" && e.Metadata.ProjectHash != f.ProjectHash {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, have := range e.Metadata.Tags {
				if want == have {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ProbeResult is one health check outcome handed to the registry for
// application. The registry is the sole mutator of service status; probers
// only produce these.
type ProbeResult struct {
	ServiceID string        `json:"serviceId"`       // Probed service
	Healthy   bool          `json:"healthy"`         // Whether the check passed
	Passive   bool          `json:"passive"`         // Judged by heartbeat age rather than HTTP
	Latency   time.Duration `json:"latency"`         // HTTP round-trip, zero for passive
	Error     string        `json:"error,omitempty"` // Failure detail when unhealthy
	CheckedAt time.Time     `json:"checkedAt"`       // When the check ran
}

// Stats aggregates the registry's current population
type Stats struct {
	Total     int                 `json:"total"`     // All registered services
	Healthy   int                 `json:"healthy"`   // Services currently healthy
	Unhealthy int                 `json:"unhealthy"` // Services currently unhealthy
	ByType    map[ServiceType]int `json:"byType"`    // Population per service type
	ByStatus  map[Status]int      `json:"byStatus"`  // Population per status
}
