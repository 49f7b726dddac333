package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dreamware/tiaki/internal/memory"
	"github.com/dreamware/tiaki/internal/registry"
)

// Route constants shared by the daemon mux and the client.
const (
	PathLocksAcquire       = "/v1/locks/acquire"
	PathLocksRelease       = "/v1/locks/release"
	PathMemoryUpdate       = "/v1/memory/update"
	PathMemoryCurrent      = "/v1/memory/current"
	PathMemoryHistory      = "/v1/memory/history"
	PathMemoryVersion      = "/v1/memory/version"
	PathMemoryConflicts    = "/v1/memory/conflicts"
	PathServices           = "/v1/services"
	PathServicesRegister   = "/v1/services/register"
	PathServicesUnregister = "/v1/services/unregister"
	PathServicesHeartbeat  = "/v1/services/heartbeat"
	PathServicesGet        = "/v1/services/get"
	PathServicesByName     = "/v1/services/by-name"
	PathServicesHealthy    = "/v1/services/healthy"
	PathServicesFailover   = "/v1/services/failover"
	PathStats              = "/v1/stats"
	PathEvents             = "/v1/events"
	PathHealth             = "/health"
	PathMetrics            = "/metrics"
)

// AcquireLockRequest asks for an exclusive write lock on a memory unit.
type AcquireLockRequest struct {
	MemoryID string `json:"memoryId"`
	Persona  string `json:"persona"`
	Project  string `json:"project,omitempty"`
	LockedBy string `json:"lockedBy"`
	// ExpectedVersion, when set, makes the grant conditional on the
	// unit still being at that version.
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

// AcquireLockResponse is the granted lease.
type AcquireLockResponse struct {
	LockID         string    `json:"lockId"`
	CurrentVersion int64     `json:"currentVersion"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// ReleaseLockRequest gives a lock back without writing.
type ReleaseLockRequest struct {
	LockID string `json:"lockId"`
}

// ReleaseLockResponse reports whether a live lock was released.
type ReleaseLockResponse struct {
	Released bool `json:"released"`
}

// UpdateMemoryRequest writes a new version under a held lock.
type UpdateMemoryRequest struct {
	MemoryID string `json:"memoryId"`
	Persona  string `json:"persona"`
	Project  string `json:"project,omitempty"`
	LockID   string `json:"lockId"`
	Content  string `json:"content"`
	Author   string `json:"author"`
}

// UpdateMemoryResponse describes the version that was written.
type UpdateMemoryResponse struct {
	NewVersion int64  `json:"newVersion"`
	Checksum   string `json:"checksum"`
}

// CurrentVersionResponse carries a unit's latest version number.
// Zero means the unit has no history yet.
type CurrentVersionResponse struct {
	MemoryID string `json:"memoryId"`
	Version  int64  `json:"version"`
}

// HistoryResponse lists a unit's retained versions, newest first.
type HistoryResponse struct {
	MemoryID string           `json:"memoryId"`
	Versions []memory.Version `json:"versions"`
}

// ConflictsResponse lists the versions written past a caller's base.
type ConflictsResponse struct {
	MemoryID    string                      `json:"memoryId"`
	BaseVersion int64                       `json:"baseVersion"`
	Conflicts   []memory.ConflictDescriptor `json:"conflicts"`
}

// RegisterServiceRequest announces a service instance to the registry.
type RegisterServiceRequest struct {
	Service registry.Endpoint `json:"service"`
}

// UnregisterServiceRequest withdraws a service instance.
type UnregisterServiceRequest struct {
	ServiceID string `json:"serviceId"`
}

// UnregisterServiceResponse reports whether anything was removed.
type UnregisterServiceResponse struct {
	Removed bool `json:"removed"`
}

// HeartbeatRequest refreshes a service's liveness, optionally patching
// its metadata.
type HeartbeatRequest struct {
	ServiceID string                  `json:"serviceId"`
	Metadata  *registry.MetadataPatch `json:"metadata,omitempty"`
}

// HeartbeatResponse acknowledges a heartbeat. Acknowledged is false
// when the service is not registered and must re-register.
type HeartbeatResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// ServicesResponse lists registered services matching a filter.
type ServicesResponse struct {
	Services []registry.Endpoint `json:"services"`
	Count    int                 `json:"count"`
}

// StoreStats mirrors the store's occupancy counts on the wire.
type StoreStats struct {
	Locks int `json:"locks"`
	Units int `json:"units"`
}

// StatsResponse aggregates registry and store occupancy.
type StatsResponse struct {
	Services registry.Stats `json:"services"`
	Store    StoreStats     `json:"store"`
}

// EventRecord is one journaled coordination event.
type EventRecord struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventsResponse lists journaled events, newest first.
type EventsResponse struct {
	Events []EventRecord `json:"events"`
	Count  int           `json:"count"`
}

// HealthResponse is the daemon liveness reply.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the JSON envelope for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error is a failed API call decoded from the server's error envelope.
type Error struct {
	Status  int    // HTTP status code
	Code    string // Machine-readable failure code, empty when the server sent none
	Message string // Presentation text
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// AsError extracts an *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON marshals body, POSTs it to url, and decodes the JSON
// response into out. Pass nil out to discard the response body.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	return send(ctx, httpClient, http.MethodPost, url, "", body, out)
}

// GetJSON GETs url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	return send(ctx, httpClient, http.MethodGet, url, "", nil, out)
}

// send performs one JSON round trip. Non-2xx responses decode the
// error envelope into *Error when the server sent one.
func send(ctx context.Context, client *http.Client, method, url, token string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(url, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns a non-2xx response into an *Error, falling back to
// the bare status when the body is not an error envelope.
func decodeError(url string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var envelope ErrorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
		return &Error{Status: resp.StatusCode, Code: envelope.Code, Message: envelope.Error}
	}
	return &Error{Status: resp.StatusCode, Message: fmt.Sprintf("http %s: %d", url, resp.StatusCode)}
}
