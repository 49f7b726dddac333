package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dreamware/tiaki/internal/memory"
	"github.com/dreamware/tiaki/internal/registry"
)

// Client calls the coordination API with a fixed base URL and an
// optional bearer token. The zero value is not usable; construct with
// NewClient.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the daemon at baseURL. Pass an empty
// token when the daemon runs without auth.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// post sends a POST to the given route and decodes the response.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return send(ctx, c.http, http.MethodPost, c.baseURL+path, c.token, body, out)
}

// get sends a GET to the given route with query values and decodes the
// response.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return send(ctx, c.http, http.MethodGet, target, c.token, nil, out)
}

// refQuery encodes a memory unit reference as query parameters.
func refQuery(memoryID, persona, project string) url.Values {
	q := url.Values{}
	q.Set("memoryId", memoryID)
	q.Set("persona", persona)
	if project != "" {
		q.Set("project", project)
	}
	return q
}

// AcquireLock requests an exclusive write lock on a memory unit.
func (c *Client) AcquireLock(ctx context.Context, req AcquireLockRequest) (AcquireLockResponse, error) {
	var res AcquireLockResponse
	err := c.post(ctx, PathLocksAcquire, req, &res)
	return res, err
}

// ReleaseLock gives a lock back without writing. Returns false when the
// lock was not live.
func (c *Client) ReleaseLock(ctx context.Context, lockID string) (bool, error) {
	var res ReleaseLockResponse
	if err := c.post(ctx, PathLocksRelease, ReleaseLockRequest{LockID: lockID}, &res); err != nil {
		return false, err
	}
	return res.Released, nil
}

// UpdateMemory writes a new version under a held lock.
func (c *Client) UpdateMemory(ctx context.Context, req UpdateMemoryRequest) (UpdateMemoryResponse, error) {
	var res UpdateMemoryResponse
	err := c.post(ctx, PathMemoryUpdate, req, &res)
	return res, err
}

// CurrentVersion reads a unit's latest version number. Zero means the
// unit has no history.
func (c *Client) CurrentVersion(ctx context.Context, memoryID, persona, project string) (CurrentVersionResponse, error) {
	var res CurrentVersionResponse
	err := c.get(ctx, PathMemoryCurrent, refQuery(memoryID, persona, project), &res)
	return res, err
}

// History reads a unit's retained versions, newest first. A positive
// limit truncates the result.
func (c *Client) History(ctx context.Context, memoryID, persona, project string, limit int) (HistoryResponse, error) {
	q := refQuery(memoryID, persona, project)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var res HistoryResponse
	err := c.get(ctx, PathMemoryHistory, q, &res)
	return res, err
}

// VersionAt reads one retained version by number.
func (c *Client) VersionAt(ctx context.Context, memoryID, persona, project string, version int64) (memory.Version, error) {
	q := refQuery(memoryID, persona, project)
	q.Set("version", strconv.FormatInt(version, 10))
	var res memory.Version
	err := c.get(ctx, PathMemoryVersion, q, &res)
	return res, err
}

// Conflicts lists the versions written after the caller's base version.
func (c *Client) Conflicts(ctx context.Context, memoryID, persona, project string, base int64) (ConflictsResponse, error) {
	q := refQuery(memoryID, persona, project)
	q.Set("base", strconv.FormatInt(base, 10))
	var res ConflictsResponse
	err := c.get(ctx, PathMemoryConflicts, q, &res)
	return res, err
}

// RegisterService announces a service instance and returns the stored
// endpoint with its assigned identifier and status.
func (c *Client) RegisterService(ctx context.Context, service registry.Endpoint) (registry.Endpoint, error) {
	var res registry.Endpoint
	err := c.post(ctx, PathServicesRegister, RegisterServiceRequest{Service: service}, &res)
	return res, err
}

// UnregisterService withdraws a service instance. Returns false when
// nothing was registered under the id.
func (c *Client) UnregisterService(ctx context.Context, serviceID string) (bool, error) {
	var res UnregisterServiceResponse
	if err := c.post(ctx, PathServicesUnregister, UnregisterServiceRequest{ServiceID: serviceID}, &res); err != nil {
		return false, err
	}
	return res.Removed, nil
}

// Heartbeat refreshes a service's liveness. Returns false when the
// service is unknown and must re-register.
func (c *Client) Heartbeat(ctx context.Context, serviceID string, patch *registry.MetadataPatch) (bool, error) {
	var res HeartbeatResponse
	req := HeartbeatRequest{ServiceID: serviceID, Metadata: patch}
	if err := c.post(ctx, PathServicesHeartbeat, req, &res); err != nil {
		return false, err
	}
	return res.Acknowledged, nil
}

// filterQuery encodes a discovery filter as query parameters.
func filterQuery(f registry.Filter) url.Values {
	q := url.Values{}
	if f.Type != "" {
		q.Set("type", string(f.Type))
	}
	if f.Persona != "" {
		q.Set("persona", f.Persona)
	}
	if f.ProjectHash != "" {
		q.Set("project", f.ProjectHash)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	for _, tag := range f.Tags {
		q.Add("tag", tag)
	}
	return q
}

// Services lists registered services matching the filter.
func (c *Client) Services(ctx context.Context, f registry.Filter) ([]registry.Endpoint, error) {
	var res ServicesResponse
	if err := c.get(ctx, PathServices, filterQuery(f), &res); err != nil {
		return nil, err
	}
	return res.Services, nil
}

// Service reads one registered service by id.
func (c *Client) Service(ctx context.Context, serviceID string) (registry.Endpoint, error) {
	q := url.Values{}
	q.Set("id", serviceID)
	var res registry.Endpoint
	err := c.get(ctx, PathServicesGet, q, &res)
	return res, err
}

// ServiceByName reads one registered service by instance name.
func (c *Client) ServiceByName(ctx context.Context, name string) (registry.Endpoint, error) {
	q := url.Values{}
	q.Set("name", name)
	var res registry.Endpoint
	err := c.get(ctx, PathServicesByName, q, &res)
	return res, err
}

// FindHealthy picks one healthy service matching the filter.
func (c *Client) FindHealthy(ctx context.Context, f registry.Filter) (registry.Endpoint, error) {
	var res registry.Endpoint
	err := c.get(ctx, PathServicesHealthy, filterQuery(f), &res)
	return res, err
}

// Failover picks a healthy replacement for a failed service.
func (c *Client) Failover(ctx context.Context, failedID string) (registry.Endpoint, error) {
	q := url.Values{}
	q.Set("failedId", failedID)
	var res registry.Endpoint
	err := c.get(ctx, PathServicesFailover, q, &res)
	return res, err
}

// Stats reads registry and store occupancy counts.
func (c *Client) Stats(ctx context.Context) (StatsResponse, error) {
	var res StatsResponse
	err := c.get(ctx, PathStats, nil, &res)
	return res, err
}

// Events reads journaled coordination events, newest first.
func (c *Client) Events(ctx context.Context, eventType string, limit int) ([]EventRecord, error) {
	q := url.Values{}
	if eventType != "" {
		q.Set("type", eventType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var res EventsResponse
	if err := c.get(ctx, PathEvents, q, &res); err != nil {
		return nil, err
	}
	return res.Events, nil
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) error {
	var res HealthResponse
	return c.get(ctx, PathHealth, nil, &res)
}
