// Package server exposes the coordination API over HTTP: lock acquisition
// and release, versioned memory writes and reads, service registration and
// discovery, stats, journaled events, health and metrics. The daemon mounts
// its Handler; tests drive it in-process through httptest.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/dreamware/tiaki/internal/api"
	"github.com/dreamware/tiaki/internal/authz"
	"github.com/dreamware/tiaki/internal/coordinator"
	"github.com/dreamware/tiaki/internal/journal"
	"github.com/dreamware/tiaki/internal/memory"
	"github.com/dreamware/tiaki/internal/metrics"
	"github.com/dreamware/tiaki/internal/registry"
	"github.com/dreamware/tiaki/internal/store"
)

// Config wires a Server to the components it fronts.
type Config struct {
	// Coordinator serves the lock and memory routes. Required.
	Coordinator *coordinator.Coordinator

	// Registry serves the service routes. Required.
	Registry *registry.Registry

	// Store feeds the stats route. Required.
	Store *store.FileStore

	// Journal serves the events route. Nil responds not-found there.
	Journal *journal.Journal

	// Metrics serves the metrics route and counts conflict responses.
	// Optional.
	Metrics *metrics.Collector

	// Verifier gates the mutating routes. Nil disables the gate.
	Verifier authz.Verifier

	// Logger receives request failure logs. Optional.
	Logger pslog.Logger
}

// Server carries the handler state. Handlers keep one shape: method check,
// decode, validate, delegate, encode.
type Server struct {
	logger   pslog.Logger
	coord    *coordinator.Coordinator
	reg      *registry.Registry
	fs       *store.FileStore
	journal  *journal.Journal
	metrics  *metrics.Collector
	verifier authz.Verifier
}

// New creates a Server from cfg. Returns an error when a required
// component is missing.
func New(cfg Config) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("server: coordinator required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("server: registry required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("server: store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	return &Server{
		logger:   cfg.Logger,
		coord:    cfg.Coordinator,
		reg:      cfg.Registry,
		fs:       cfg.Store,
		journal:  cfg.Journal,
		metrics:  cfg.Metrics,
		verifier: cfg.Verifier,
	}, nil
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(api.PathLocksAcquire, s.requireAuth(authz.PermCoordinationWrite, s.handleAcquireLock))
	mux.HandleFunc(api.PathLocksRelease, s.requireAuth(authz.PermCoordinationWrite, s.handleReleaseLock))

	mux.HandleFunc(api.PathMemoryUpdate, s.requireAuth(authz.PermCoordinationWrite, s.handleUpdateMemory))
	mux.HandleFunc(api.PathMemoryCurrent, s.handleCurrentVersion)
	mux.HandleFunc(api.PathMemoryHistory, s.handleHistory)
	mux.HandleFunc(api.PathMemoryVersion, s.handleVersionAt)
	mux.HandleFunc(api.PathMemoryConflicts, s.handleConflicts)

	mux.HandleFunc(api.PathServicesRegister, s.requireAuth(authz.PermRegistryWrite, s.handleRegisterService))
	mux.HandleFunc(api.PathServicesUnregister, s.requireAuth(authz.PermRegistryWrite, s.handleUnregisterService))
	mux.HandleFunc(api.PathServicesHeartbeat, s.requireAuth(authz.PermRegistryWrite, s.handleHeartbeat))
	mux.HandleFunc(api.PathServices, s.handleListServices)
	mux.HandleFunc(api.PathServicesGet, s.handleGetService)
	mux.HandleFunc(api.PathServicesByName, s.handleServiceByName)
	mux.HandleFunc(api.PathServicesHealthy, s.handleFindHealthy)
	mux.HandleFunc(api.PathServicesFailover, s.handleFailover)

	mux.HandleFunc(api.PathStats, s.handleStats)
	mux.HandleFunc(api.PathEvents, s.handleEvents)
	mux.HandleFunc(api.PathHealth, s.handleHealth)
	if s.metrics != nil {
		mux.Handle(api.PathMetrics, s.metrics.Handler())
	}

	return mux
}

// requireAuth gates a handler behind a bearer-token permission check.
// With no verifier configured every request passes.
func (s *Server) requireAuth(permission string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			next(w, r)
			return
		}
		identity, err := s.verifier.Verify(r.Context(), bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "unknown or missing credential")
			return
		}
		if !identity.Can(permission) {
			writeError(w, http.StatusForbidden, "forbidden", fmt.Sprintf("requires %s", permission))
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}

// writeFailure maps a coordination error onto the wire: conflicts carry
// their code at 409, anything else is an internal fault.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	if conflict, ok := coordinator.AsConflict(err); ok {
		if s.metrics != nil {
			s.metrics.ObserveConflict(string(conflict.Code))
		}
		writeError(w, http.StatusConflict, string(conflict.Code), conflict.Error())
		return
	}
	s.logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "", err.Error())
}

// refFromQuery builds the unit reference shared by the memory read routes.
func refFromQuery(r *http.Request) (memory.UnitRef, bool) {
	q := r.URL.Query()
	ref := memory.Ref(q.Get("memoryId"), q.Get("persona"), q.Get("project"))
	return ref, ref.Validate() == nil
}

// filterFromQuery builds the discovery filter shared by the service read
// routes. Repeated tag parameters accumulate.
func filterFromQuery(r *http.Request) registry.Filter {
	q := r.URL.Query()
	return registry.Filter{
		Type:        registry.ServiceType(q.Get("type")),
		Persona:     q.Get("persona"),
		ProjectHash: q.Get("project"),
		Status:      registry.Status(q.Get("status")),
		Tags:        q["tag"],
	}
}

func (s *Server) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	var req api.AcquireLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "bad json")
		return
	}
	if req.MemoryID == "" || req.Persona == "" || req.LockedBy == "" {
		writeError(w, http.StatusBadRequest, "", "memoryId, persona and lockedBy are required")
		return
	}
	res, err := s.coord.Acquire(coordinator.AcquireRequest{
		Ref:             memory.Ref(req.MemoryID, req.Persona, req.Project),
		LockedBy:        req.LockedBy,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AcquireLockResponse{
		LockID:         res.LockID,
		CurrentVersion: res.CurrentVersion,
		ExpiresAt:      res.ExpiresAt,
	})
}

func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	var req api.ReleaseLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "bad json")
		return
	}
	if req.LockID == "" {
		writeError(w, http.StatusBadRequest, "", "lockId is required")
		return
	}
	released := s.coord.Release(req.LockID)
	writeJSON(w, http.StatusOK, api.ReleaseLockResponse{Released: released})
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	var req api.UpdateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "bad json")
		return
	}
	if req.MemoryID == "" || req.Persona == "" {
		writeError(w, http.StatusBadRequest, "", "memoryId and persona are required")
		return
	}
	if req.LockID == "" || req.Author == "" {
		writeError(w, http.StatusBadRequest, "", "lockId and author are required")
		return
	}
	res, err := s.coord.Update(coordinator.UpdateRequest{
		Ref:     memory.Ref(req.MemoryID, req.Persona, req.Project),
		LockID:  req.LockID,
		Content: req.Content,
		Author:  req.Author,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.UpdateMemoryResponse{
		NewVersion: res.NewVersion,
		Checksum:   res.Checksum,
	})
}

func (s *Server) handleCurrentVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	ref, ok := refFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "", "memoryId and persona are required")
		return
	}
	writeJSON(w, http.StatusOK, api.CurrentVersionResponse{
		MemoryID: ref.MemoryID,
		Version:  s.coord.GetCurrentVersion(ref),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	ref, ok := refFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "", "memoryId and persona are required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	versions := s.coord.GetVersionHistory(ref, limit)
	if versions == nil {
		versions = []memory.Version{}
	}
	writeJSON(w, http.StatusOK, api.HistoryResponse{MemoryID: ref.MemoryID, Versions: versions})
}

func (s *Server) handleVersionAt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	ref, ok := refFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "", "memoryId and persona are required")
		return
	}
	n, err := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "", "version must be a positive integer")
		return
	}
	v := s.coord.GetVersionAt(ref, n)
	if v == nil {
		writeError(w, http.StatusNotFound, "not-found", fmt.Sprintf("memory %s has no version %d", ref.MemoryID, n))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	ref, ok := refFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "", "memoryId and persona are required")
		return
	}
	base := int64(0)
	if raw := r.URL.Query().Get("base"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "", "base must be a non-negative integer")
			return
		}
		base = n
	}
	conflicts := s.coord.DetectConflicts(ref, base)
	if conflicts == nil {
		conflicts = []memory.ConflictDescriptor{}
	}
	writeJSON(w, http.StatusOK, api.ConflictsResponse{
		MemoryID:    ref.MemoryID,
		BaseVersion: base,
		Conflicts:   conflicts,
	})
}

func (s *Server) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	var req api.RegisterServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "bad json")
		return
	}
	stored, err := s.reg.Register(req.Service)
	if err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleUnregisterService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	var req api.UnregisterServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "bad json")
		return
	}
	if req.ServiceID == "" {
		writeError(w, http.StatusBadRequest, "", "serviceId is required")
		return
	}
	removed := s.reg.Unregister(req.ServiceID)
	writeJSON(w, http.StatusOK, api.UnregisterServiceResponse{Removed: removed})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	var req api.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "bad json")
		return
	}
	if req.ServiceID == "" {
		writeError(w, http.StatusBadRequest, "", "serviceId is required")
		return
	}
	acknowledged := s.reg.Heartbeat(req.ServiceID, req.Metadata)
	writeJSON(w, http.StatusOK, api.HeartbeatResponse{Acknowledged: acknowledged})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	services := s.reg.Discover(filterFromQuery(r))
	if services == nil {
		services = []registry.Endpoint{}
	}
	writeJSON(w, http.StatusOK, api.ServicesResponse{Services: services, Count: len(services)})
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "", "id is required")
		return
	}
	e, ok := s.reg.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not-found", fmt.Sprintf("service %s not registered", id))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleServiceByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "", "name is required")
		return
	}
	e, ok := s.reg.GetByName(name)
	if !ok {
		writeError(w, http.StatusNotFound, "not-found", fmt.Sprintf("service %q not registered", name))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleFindHealthy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	e, ok := s.reg.FindHealthy(filterFromQuery(r))
	if !ok {
		writeError(w, http.StatusNotFound, "not-found", "no healthy service matches")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleFailover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	failedID := r.URL.Query().Get("failedId")
	if failedID == "" {
		writeError(w, http.StatusBadRequest, "", "failedId is required")
		return
	}
	e, ok := s.reg.FindFailover(failedID)
	if !ok {
		writeError(w, http.StatusNotFound, "not-found", fmt.Sprintf("no healthy replacement for service %s", failedID))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	st := s.fs.Stats()
	writeJSON(w, http.StatusOK, api.StatsResponse{
		Services: s.reg.Stats(),
		Store:    api.StoreStats{Locks: st.Locks, Units: st.Units},
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "not-found", "event journal is disabled")
		return
	}
	q := r.URL.Query()
	f := journal.Filter{Type: q.Get("type")}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "", "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "", "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = t
	}
	entries, err := s.journal.Query(r.Context(), f)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	records := make([]api.EventRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, api.EventRecord{
			ID:        e.ID,
			EventID:   e.EventID,
			EventType: e.EventType,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
			Payload:   json.RawMessage(e.Payload),
		})
	}
	writeJSON(w, http.StatusOK, api.EventsResponse{Events: records, Count: len(records)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "healthy"})
}
