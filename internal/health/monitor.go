// Package health implements recurring liveness probes for registered
// services. The monitor runs one prober goroutine per endpoint and hands
// every outcome to the registry, which owns all status transitions.
//
// Two probe modes exist. Services that declare a health address get an
// active HTTP GET with a hard timeout; services that don't are judged
// passively by the age of their last heartbeat. Gateways are probed with a
// bearer credential from the auth collaborator when one is available, since
// unauthenticated probes against them would report false failures.
package health

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/dreamware/tiaki/internal/authz"
	"github.com/dreamware/tiaki/internal/registry"
)

const (
	// DefaultInterval is how often each endpoint is probed.
	DefaultInterval = 30 * time.Second
	// DefaultTimeout caps one active probe end to end.
	DefaultTimeout = 5 * time.Second
	// DefaultServiceTimeout is the heartbeat age past which a passively
	// monitored service counts as unhealthy.
	DefaultServiceTimeout = 90 * time.Second
)

// StatusSink is where probe outcomes land and where passive checks read
// liveness from. *registry.Registry satisfies it.
type StatusSink interface {
	// ApplyProbe folds one probe outcome into service state.
	ApplyProbe(result registry.ProbeResult)

	// Get returns the current entry for a service.
	Get(serviceID string) (registry.Endpoint, bool)
}

// CheckFunc performs one active health check against an endpoint.
// Tests inject one to avoid real HTTP.
type CheckFunc func(ctx context.Context, e registry.Endpoint) error

// Config configures a Monitor.
type Config struct {
	// Interval between probes per endpoint. Zero means DefaultInterval.
	Interval time.Duration

	// Timeout for one active probe. Zero means DefaultTimeout.
	Timeout time.Duration

	// ServiceTimeout is the heartbeat age that fails a passive check.
	// Zero means DefaultServiceTimeout.
	ServiceTimeout time.Duration

	// Sink receives outcomes and serves passive liveness reads. Required.
	Sink StatusSink

	// Credentials issues bearer tokens for endpoints that require
	// authenticated probes. Nil disables credential attachment.
	Credentials authz.ProbeCredentialIssuer

	// Logger receives monitor diagnostics. Nil discards them.
	Logger pslog.Logger

	// Now supplies the clock for passive age checks. Nil means time.Now.
	Now func() time.Time
}

// prober is one endpoint's recurring check loop.
type prober struct {
	cancel context.CancelFunc
}

// Monitor manages one prober per registered endpoint. It implements
// registry.MonitorController, so binding it to a registry is all the wiring
// a daemon needs: registration starts probes, removal stops them.
type Monitor struct {
	interval       time.Duration
	timeout        time.Duration
	serviceTimeout time.Duration
	sink           StatusSink
	credentials    authz.ProbeCredentialIssuer
	logger         pslog.Logger
	now            func() time.Time
	httpClient     *http.Client
	checkFunc      CheckFunc

	mu      sync.Mutex
	probers map[string]*prober
	stopped bool
	wg      sync.WaitGroup
}

// NewMonitor creates a Monitor. No probes run until endpoints are started,
// either directly or through a registry binding.
func NewMonitor(cfg Config) *Monitor {
	m := &Monitor{
		interval:       cfg.Interval,
		timeout:        cfg.Timeout,
		serviceTimeout: cfg.ServiceTimeout,
		sink:           cfg.Sink,
		credentials:    cfg.Credentials,
		logger:         cfg.Logger,
		now:            cfg.Now,
		probers:        make(map[string]*prober),
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	if m.serviceTimeout <= 0 {
		m.serviceTimeout = DefaultServiceTimeout
	}
	if m.logger == nil {
		m.logger = pslog.NoopLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.httpClient = &http.Client{Timeout: m.timeout}
	m.checkFunc = m.httpCheck
	return m
}

// SetCheckFunc overrides the active check implementation. Useful for tests
// and custom probe protocols. Call before any probes start.
func (m *Monitor) SetCheckFunc(fn CheckFunc) {
	m.checkFunc = fn
}

// StartProbe begins recurring checks for the endpoint. An existing prober
// for the same service is replaced, so re-registration restarts the loop
// with the fresh endpoint details.
func (m *Monitor) StartProbe(e registry.Endpoint) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if existing, ok := m.probers[e.ID]; ok {
		existing.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.probers[e.ID] = &prober{cancel: cancel}
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Debug("health.probe.start", "service", e.ID, "mode", m.mode(e))
	go m.run(ctx, e)
}

// StopProbe halts checks for the service. No-op for unknown IDs.
func (m *Monitor) StopProbe(serviceID string) {
	m.mu.Lock()
	p, ok := m.probers[serviceID]
	if ok {
		delete(m.probers, serviceID)
	}
	m.mu.Unlock()

	if ok {
		p.cancel()
		m.logger.Debug("health.probe.stop", "service", serviceID)
	}
}

// Stop halts every prober and waits for their goroutines to finish. The
// monitor cannot be restarted afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	probers := make([]*prober, 0, len(m.probers))
	for _, p := range m.probers {
		probers = append(probers, p)
	}
	m.probers = make(map[string]*prober)
	m.mu.Unlock()

	for _, p := range probers {
		p.cancel()
	}
	m.wg.Wait()
}

// ProbeCount returns the number of active probers.
func (m *Monitor) ProbeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.probers)
}

// run is one endpoint's probe loop: an immediate check, then one per tick
// until cancelled.
func (m *Monitor) run(ctx context.Context, e registry.Endpoint) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probeOnce(ctx, e)

	for {
		select {
		case <-ticker.C:
			m.probeOnce(ctx, e)
		case <-ctx.Done():
			return
		}
	}
}

// probeOnce performs a single check and applies the outcome.
func (m *Monitor) probeOnce(ctx context.Context, e registry.Endpoint) {
	var result registry.ProbeResult
	if e.HealthAddr == "" {
		result = m.passiveCheck(e)
	} else {
		result = m.activeCheck(ctx, e)
	}
	if result.ServiceID == "" {
		// Service vanished mid-probe; nothing to report
		return
	}
	m.sink.ApplyProbe(result)
}

// passiveCheck judges liveness by heartbeat age. The endpoint's current
// LastSeen comes from the sink, not the snapshot the prober started with.
func (m *Monitor) passiveCheck(e registry.Endpoint) registry.ProbeResult {
	current, ok := m.sink.Get(e.ID)
	if !ok {
		return registry.ProbeResult{}
	}
	now := m.now()
	age := now.Sub(current.LastSeen)
	result := registry.ProbeResult{
		ServiceID: e.ID,
		Passive:   true,
		Healthy:   age < m.serviceTimeout,
		CheckedAt: now,
	}
	if !result.Healthy {
		result.Error = fmt.Sprintf("no heartbeat for %s", age.Round(time.Second))
	}
	return result
}

// activeCheck runs the HTTP probe with the hard timeout and measures
// latency.
func (m *Monitor) activeCheck(ctx context.Context, e registry.Endpoint) registry.ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	started := m.now()
	err := m.checkFunc(probeCtx, e)
	latency := m.now().Sub(started)

	result := registry.ProbeResult{
		ServiceID: e.ID,
		Healthy:   err == nil,
		Latency:   latency,
		CheckedAt: m.now(),
	}
	if err != nil {
		result.Error = err.Error()
		m.logger.Debug("health.probe.fail", "service", e.ID, "error", err.Error(), "latency", latency)
	}
	return result
}

// httpCheck is the default active check: GET the endpoint's health address
// and require 200. A bearer credential is attached best-effort when the
// endpoint requires authenticated probes.
func (m *Monitor) httpCheck(ctx context.Context, e registry.Endpoint) error {
	target := healthURL(e)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}

	if e.RequiresAuthProbe() && m.credentials != nil {
		token, err := m.credentials.ProbeCredential(ctx, string(e.Type), e.ID)
		if err != nil {
			// Best effort: probe unauthenticated rather than not at all
			m.logger.Warn("health.probe.credential", "service", e.ID, "error", err.Error())
		} else if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// mode names the probe mode for logging.
func (m *Monitor) mode(e registry.Endpoint) string {
	if e.HealthAddr == "" {
		return "passive"
	}
	return "active"
}

// healthURL normalizes the endpoint's health address: bare host:port gets
// an http scheme and the /health path, URLs with their own path pass
// through unchanged.
func healthURL(e registry.Endpoint) string {
	addr := e.HealthAddr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return addr
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/health"
	}
	return u.String()
}
