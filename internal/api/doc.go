// Package api defines the wire contract of the Tiaki coordination API:
// the JSON request and response types for every operation, the route
// constants both sides register and call, and a typed HTTP client.
//
// # Overview
//
// The daemon (cmd/tiakid) and every consumer of the API — the operator
// CLI, agents coordinating memory access, services reporting liveness —
// share this package so the two sides can never drift apart. Handlers
// decode requests into these types; clients encode them and decode the
// responses. Domain types that already serialize cleanly (registry
// endpoints, memory versions, conflict descriptors) cross the wire
// as-is rather than being mirrored.
//
// # Wire Format
//
// All payloads are JSON. Multi-word field names use camelCase
// (memoryId, lockId, expectedVersion), matching the event payloads the
// journal records. Timestamps are RFC 3339.
//
// # Error Envelope
//
// Failed requests carry a JSON body:
//
//	{"error": "memory \"plan\" is locked by session-1 until ...", "code": "locked"}
//
// The code field is machine-readable and stable; the error field is
// presentation text. Lock contention responses reuse the coordinator's
// conflict codes (locked, version-mismatch, not-locked, wrong-lock,
// lock-expired). The client decodes the envelope into *Error so callers
// can branch on Code without parsing messages.
//
// # Client
//
// Client carries a base URL and an optional bearer token:
//
//	client := api.NewClient("http://localhost:8700", token)
//	res, err := client.AcquireLock(ctx, api.AcquireLockRequest{
//	    MemoryID: "project-plan",
//	    Persona:  "architect",
//	    LockedBy: "session-1",
//	})
//	if err != nil {
//	    if apiErr, ok := api.AsError(err); ok && apiErr.Code == "locked" {
//	        // somebody else holds the lock
//	    }
//	}
//
// The package-level PostJSON and GetJSON helpers perform single
// unauthenticated calls against a full URL; Client wraps the same
// transport with the base URL, token, and typed methods.
//
// # See Also
//
// Related packages:
//   - internal/coordinator: the operations behind the lock and memory routes
//   - internal/registry: the operations behind the service routes
//   - cmd/tiakid: the server side of this contract
//   - cmd/tiaki: the operator CLI built on Client
package api
