// Package authz defines the contracts Tiaki uses to talk to its auth
// collaborator: verifying presented credentials and minting probe
// credentials for authenticated health checks. The coordination layer never
// interprets credentials itself; it consumes identities opaquely through
// these interfaces. Static implements both from fixed tables for
// self-contained deployments.
package authz

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownCredential is returned when a presented credential matches no
// known identity.
var ErrUnknownCredential = errors.New("unknown credential")

// Role names the broad capability class of a verified caller.
type Role string

const (
	// RoleAgent is an autonomous agent process coordinating memory access.
	RoleAgent Role = "agent"
	// RoleService is a registered service reporting liveness.
	RoleService Role = "service"
	// RoleOperator is a human or tool driving the administrative API.
	RoleOperator Role = "operator"
)

// Permission strings gate operation classes on the API.
const (
	// PermCoordinationRead covers lock inspection and history reads.
	PermCoordinationRead = "coordination:read"
	// PermCoordinationWrite covers acquire, release, and update.
	PermCoordinationWrite = "coordination:write"
	// PermRegistryRead covers discovery and stats.
	PermRegistryRead = "registry:read"
	// PermRegistryWrite covers register, unregister, and heartbeat.
	PermRegistryWrite = "registry:write"
)

// Identity is a verified caller.
type Identity struct {
	Subject     string   // Stable caller identifier
	Role        Role     // Capability class
	Permissions []string // Granted permission strings, "*" grants all
}

// Can reports whether the identity holds the permission.
func (i Identity) Can(permission string) bool {
	for _, p := range i.Permissions {
		if p == "*" || p == permission {
			return true
		}
	}
	return false
}

// Verifier validates presented credentials. Deployments with a real auth
// service implement this against it; Static covers everything else.
type Verifier interface {
	// Verify resolves a credential to the identity it represents.
	// Returns ErrUnknownCredential when nothing matches.
	Verify(ctx context.Context, credential string) (Identity, error)
}

// ProbeCredentialIssuer mints the bearer credential the health monitor
// attaches to probes of services that require authenticated checks.
type ProbeCredentialIssuer interface {
	// ProbeCredential returns a credential for probing the given service,
	// or empty when none is configured. Probing proceeds unauthenticated
	// on error or empty.
	ProbeCredential(ctx context.Context, serviceType, serviceID string) (string, error)
}

// Static implements Verifier and ProbeCredentialIssuer from fixed tables.
type Static struct {
	tokens     map[string]Identity
	probeToken string
}

// NewStatic builds a Static from a credential-to-identity table and an
// optional probe token.
func NewStatic(tokens map[string]Identity, probeToken string) *Static {
	copied := make(map[string]Identity, len(tokens))
	for credential, identity := range tokens {
		copied[credential] = identity
	}
	return &Static{tokens: copied, probeToken: probeToken}
}

// Verify resolves a credential against the fixed table.
func (s *Static) Verify(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, fmt.Errorf("verify: %w", ErrUnknownCredential)
	}
	identity, ok := s.tokens[credential]
	if !ok {
		return Identity{}, fmt.Errorf("verify: %w", ErrUnknownCredential)
	}
	return identity, nil
}

// ProbeCredential returns the configured probe token, empty when none is set.
func (s *Static) ProbeCredential(ctx context.Context, serviceType, serviceID string) (string, error) {
	return s.probeToken, nil
}
