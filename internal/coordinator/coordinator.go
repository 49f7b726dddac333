// Package coordinator implements the write-serialization layer for shared
// memory units. See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/dreamware/tiaki/internal/event"
	"github.com/dreamware/tiaki/internal/memory"
	"github.com/dreamware/tiaki/internal/store"
)

// DefaultLockTTL is how long an acquired lock stays live without being
// consumed by an update or released. A lock is a short-lived write
// permit, not a session: nothing renews it, and expiry is the sole
// crash-recovery mechanism for abandoned locks.
const DefaultLockTTL = 60 * time.Second

// Config carries the collaborators and tuning for a Coordinator.
//
// Locks and Versions are required. Everything else has a usable default:
// a 60 second lock TTL, the wall clock, no event publication, and a
// no-op logger.
type Config struct {
	// Locks is the durable lock-record store. Required.
	Locks store.LockStore

	// Versions is the durable version-history store. Required.
	Versions store.VersionStore

	// LockTTL bounds how long a lock stays live. Zero means
	// DefaultLockTTL.
	LockTTL time.Duration

	// Bus receives lock-acquired, lock-released, lock-reclaimed,
	// memory-updated and version-conflict events. Optional.
	Bus *event.Bus

	// Logger receives structured coordination logs. Optional.
	Logger pslog.Logger

	// Now supplies the current time. Tests inject a fixed clock here.
	// Zero means time.Now.
	Now func() time.Time
}

// Coordinator serializes writes to named memory units through durable,
// TTL-bounded locks and monotonically increasing version histories.
//
// The contract it maintains:
//   - At most one live (non-expired) lock record exists per memory unit.
//   - Versions written through Update form a strictly increasing
//     sequence starting at 1, with no gaps.
//   - An expired lock is treated as absent by every operation that
//     inspects it, and is deleted (reclaimed) on sight.
//
// Architecture:
//
//	┌──────────────────────────────────────────────┐
//	│                 Coordinator                  │
//	├──────────────────────────────────────────────┤
//	│  unitLocks: per-unit mutexes (in-process)    │
//	│  locks:     durable lock records (O_EXCL)    │
//	│  versions:  bounded histories, newest first  │
//	├──────────────────────────────────────────────┤
//	│  Acquire → inspect / reclaim / create        │
//	│  Update  → validate lock / append / release  │
//	└──────────────────────────────────────────────┘
//
// Concurrency Model:
//   - Each memory unit has an in-process mutex; the inspect-then-create
//     window in Acquire and the validate-then-append window in Update
//     run entirely under it, so two goroutines can never both observe
//     "no live lock" for the same unit.
//   - Across processes the lock store's exclusive-create semantics
//     arbitrate: the loser of a create race receives a locked conflict.
//   - Events are published after the unit mutex is released. Handlers
//     may call back into the Coordinator.
//
// Operations never block waiting for a lock to free: Acquire resolves
// immediately with success or a Conflict, and callers decide their own
// retry cadence.
type Coordinator struct {
	locks    store.LockStore
	versions store.VersionStore
	lockTTL  time.Duration
	bus      *event.Bus
	logger   pslog.Logger
	now      func() time.Time

	// unitLocks maps memoryID -> *sync.Mutex, created on first use.
	// Entries are never removed; the set of unit names is small and
	// stable for the lifetime of a deployment.
	unitLocks sync.Map
}

// New creates a Coordinator from cfg.
//
// Returns an error when either store is missing. Construction has no
// side effects beyond allocation: nothing is read, written, or started.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Locks == nil {
		return nil, fmt.Errorf("coordinator: lock store required")
	}
	if cfg.Versions == nil {
		return nil, fmt.Errorf("coordinator: version store required")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		locks:    cfg.Locks,
		versions: cfg.Versions,
		lockTTL:  cfg.LockTTL,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// AcquireRequest asks for an exclusive write permit on one memory unit.
type AcquireRequest struct {
	// Ref identifies the memory unit.
	Ref memory.UnitRef

	// LockedBy identifies the caller, recorded on the lock and reported
	// to later callers that collide with it. Required.
	LockedBy string

	// ExpectedVersion, when non-nil, makes the acquisition conditional:
	// if the stored head differs, the call fails with a
	// version-mismatch conflict and writes nothing. Leaving it nil
	// skips the optimistic check.
	ExpectedVersion *int64
}

// AcquireResult is the write permit returned by a successful Acquire.
type AcquireResult struct {
	// LockID is the opaque handle the caller must present to Update or
	// Release.
	LockID string

	// CurrentVersion is the unit's head version at grant time, 0 for a
	// unit with no history yet.
	CurrentVersion int64

	// ExpiresAt is when the permit lapses if not consumed.
	ExpiresAt time.Time
}

// Acquire grants an exclusive lock on a memory unit, or explains why it
// cannot.
//
// The sequence, all under the unit's mutex:
//  1. An existing live lock fails the call with CodeLocked.
//  2. An existing expired lock is reclaimed first.
//  3. The head version is read; a non-nil ExpectedVersion that differs
//     from it fails with CodeVersionMismatch, writing nothing.
//  4. A lock record good for the configured TTL is created. Losing the
//     exclusive-create race to another process yields CodeLocked.
//
// Returns the new lock handle and the head version the lock was issued
// against. Never blocks waiting for a holder to finish.
func (c *Coordinator) Acquire(req AcquireRequest) (*AcquireResult, error) {
	if err := req.Ref.Validate(); err != nil {
		return nil, fmt.Errorf("coordinator: acquire: %w", err)
	}
	if req.LockedBy == "" {
		return nil, fmt.Errorf("coordinator: acquire: lockedBy required")
	}

	mu := c.unitMutex(req.Ref.MemoryID)
	mu.Lock()
	res, pending, err := c.doAcquire(req)
	mu.Unlock()

	c.publishAll(pending)
	return res, err
}

func (c *Coordinator) doAcquire(req AcquireRequest) (*AcquireResult, []event.Event, error) {
	var pending []event.Event
	memoryID := req.Ref.MemoryID
	now := c.now()

	existing, err := c.locks.GetLock(memoryID)
	switch {
	case err == nil:
		if !existing.Expired(now) {
			return nil, pending, Conflict{
				Code:      CodeLocked,
				MemoryID:  memoryID,
				LockedBy:  existing.LockedBy,
				ExpiresAt: existing.ExpiresAt,
			}
		}
		reclaimed, rerr := c.reclaim(existing)
		if rerr != nil {
			return nil, pending, rerr
		}
		pending = append(pending, reclaimed...)
	case errors.Is(err, store.ErrNotFound):
		// No lock, nothing to contend with
	default:
		return nil, pending, fmt.Errorf("coordinator: inspect lock: %w", err)
	}

	versions, err := c.versions.ReadVersions(req.Ref)
	if err != nil {
		return nil, pending, fmt.Errorf("coordinator: read versions: %w", err)
	}
	current := memory.Latest(versions)

	if req.ExpectedVersion != nil && *req.ExpectedVersion != current {
		scope := req.Ref.Scope
		pending = append(pending, event.NewVersionConflictEvent(
			memoryID, scope.Persona, scope.Project, *req.ExpectedVersion, current))
		c.logger.Debug("coordinator.version.mismatch",
			"memory", memoryID,
			"expected", *req.ExpectedVersion,
			"current", current,
		)
		return nil, pending, Conflict{
			Code:           CodeVersionMismatch,
			MemoryID:       memoryID,
			CurrentVersion: current,
		}
	}

	lockID, err := uuid.NewV7()
	if err != nil {
		return nil, pending, fmt.Errorf("coordinator: generate lock id: %w", err)
	}

	rec := store.LockRecord{
		LockID:      lockID.String(),
		MemoryID:    memoryID,
		Persona:     req.Ref.Scope.Persona,
		ProjectHash: req.Ref.Scope.Project,
		LockedBy:    req.LockedBy,
		LockedAt:    now,
		ExpiresAt:   now.Add(c.lockTTL),
		Version:     current,
	}
	if err := c.locks.PutLock(rec); err != nil {
		if errors.Is(err, store.ErrLockExists) {
			// Another process won the create race after our inspection
			conflict := Conflict{Code: CodeLocked, MemoryID: memoryID}
			if winner, gerr := c.locks.GetLock(memoryID); gerr == nil {
				conflict.LockedBy = winner.LockedBy
				conflict.ExpiresAt = winner.ExpiresAt
			}
			return nil, pending, conflict
		}
		return nil, pending, fmt.Errorf("coordinator: create lock: %w", err)
	}

	pending = append(pending, event.NewLockAcquiredEvent(
		rec.LockID, memoryID, rec.Persona, rec.ProjectHash, rec.LockedBy, rec.ExpiresAt))
	c.logger.Info("coordinator.lock.acquired",
		"memory", memoryID,
		"scope", req.Ref.Scope.String(),
		"locked_by", req.LockedBy,
		"version", current,
		"expires_at", rec.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return &AcquireResult{
		LockID:         rec.LockID,
		CurrentVersion: current,
		ExpiresAt:      rec.ExpiresAt,
	}, pending, nil
}

// Release removes the lock identified by lockID and reports whether one
// was found. Releasing an unknown or already-lapsed lock is a no-op
// returning false, never an error: release must always be safe to call
// from cleanup paths.
func (c *Coordinator) Release(lockID string) bool {
	if lockID == "" {
		return false
	}
	rec, err := c.locks.FindLock(lockID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("coordinator.lock.release_scan_failed", "error", err.Error())
		}
		return false
	}

	mu := c.unitMutex(rec.MemoryID)
	mu.Lock()
	released, pending := c.doRelease(rec.MemoryID, lockID)
	mu.Unlock()

	c.publishAll(pending)
	return released
}

func (c *Coordinator) doRelease(memoryID, lockID string) (bool, []event.Event) {
	// Re-read under the unit mutex: the lock found by the scan may have
	// been reclaimed and reissued in the meantime
	rec, err := c.locks.GetLock(memoryID)
	if err != nil || rec.LockID != lockID {
		return false, nil
	}
	if err := c.locks.DeleteLock(memoryID); err != nil {
		c.logger.Warn("coordinator.lock.release_failed",
			"memory", memoryID,
			"error", err.Error(),
		)
		return false, nil
	}
	c.logger.Info("coordinator.lock.released",
		"memory", memoryID,
		"locked_by", rec.LockedBy,
	)
	return true, []event.Event{event.NewLockReleasedEvent(lockID, memoryID)}
}

// UpdateRequest submits new content for a memory unit under a held lock.
type UpdateRequest struct {
	// Ref identifies the memory unit. Must match the unit the lock was
	// issued against.
	Ref memory.UnitRef

	// LockID is the permit returned by Acquire. Required.
	LockID string

	// Content is the full replacement document body.
	Content string

	// Author is recorded on the new version for conflict reporting.
	// Required.
	Author string
}

// UpdateResult reports a successful versioned write.
type UpdateResult struct {
	// NewVersion is the version number assigned to the written record,
	// always the previous head plus one.
	NewVersion int64

	// Checksum is the content digest stored on the record. It exists
	// for downstream conflict reporting, not for write validation.
	Checksum string
}

// Update appends a new version to a memory unit and releases the lock
// that authorized it.
//
// The lock check distinguishes three failures:
//   - CodeNotLocked: no lock record exists for the unit.
//   - CodeWrongLock: a live lock exists but is not the one presented,
//     or the presented lock was issued for a different scope of the
//     same memory ID.
//   - CodeLockExpired: the caller's own lock lapsed; the stale record
//     is reclaimed as a side effect.
//
// On success the new record is persisted with the unit's history
// trimmed to its retention bound, the lock is deleted, and the new
// version number is returned. A failure to delete the lock after the
// write is logged but does not fail the update: the record is already
// durable and the leftover lock lapses on its own.
func (c *Coordinator) Update(req UpdateRequest) (*UpdateResult, error) {
	if err := req.Ref.Validate(); err != nil {
		return nil, fmt.Errorf("coordinator: update: %w", err)
	}
	if req.LockID == "" {
		return nil, fmt.Errorf("coordinator: update: lockId required")
	}
	if req.Author == "" {
		return nil, fmt.Errorf("coordinator: update: author required")
	}

	mu := c.unitMutex(req.Ref.MemoryID)
	mu.Lock()
	res, pending, err := c.doUpdate(req)
	mu.Unlock()

	c.publishAll(pending)
	return res, err
}

func (c *Coordinator) doUpdate(req UpdateRequest) (*UpdateResult, []event.Event, error) {
	var pending []event.Event
	memoryID := req.Ref.MemoryID
	now := c.now()

	rec, err := c.locks.GetLock(memoryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, pending, Conflict{Code: CodeNotLocked, MemoryID: memoryID}
	}
	if err != nil {
		return nil, pending, fmt.Errorf("coordinator: inspect lock: %w", err)
	}

	if rec.Expired(now) {
		reclaimed, rerr := c.reclaim(rec)
		if rerr != nil {
			return nil, pending, rerr
		}
		pending = append(pending, reclaimed...)
		if rec.LockID == req.LockID {
			return nil, pending, Conflict{
				Code:      CodeLockExpired,
				MemoryID:  memoryID,
				ExpiresAt: rec.ExpiresAt,
			}
		}
		return nil, pending, Conflict{Code: CodeNotLocked, MemoryID: memoryID}
	}

	if rec.LockID != req.LockID || rec.Ref() != req.Ref {
		return nil, pending, Conflict{
			Code:      CodeWrongLock,
			MemoryID:  memoryID,
			LockedBy:  rec.LockedBy,
			ExpiresAt: rec.ExpiresAt,
		}
	}

	versions, err := c.versions.ReadVersions(req.Ref)
	if err != nil {
		return nil, pending, fmt.Errorf("coordinator: read versions: %w", err)
	}
	next := memory.Latest(versions) + 1
	sum := memory.Checksum(req.Content)
	versions = append(versions, memory.Version{
		Version:   next,
		Content:   req.Content,
		Timestamp: now,
		Author:    req.Author,
		Checksum:  sum,
	})
	if err := c.versions.WriteVersions(req.Ref, versions); err != nil {
		return nil, pending, fmt.Errorf("coordinator: write versions: %w", err)
	}

	if err := c.locks.DeleteLock(memoryID); err != nil {
		// The version is durable; the leftover lock expires via TTL
		c.logger.Error("coordinator.lock.release_failed",
			"memory", memoryID,
			"error", err.Error(),
		)
	} else {
		pending = append(pending, event.NewLockReleasedEvent(req.LockID, memoryID))
	}

	scope := req.Ref.Scope
	pending = append(pending, event.NewMemoryUpdatedEvent(
		memoryID, scope.Persona, scope.Project, req.Author, next, sum))
	c.logger.Info("coordinator.memory.updated",
		"memory", memoryID,
		"scope", scope.String(),
		"author", req.Author,
		"version", next,
	)
	return &UpdateResult{NewVersion: next, Checksum: sum}, pending, nil
}

// DetectConflicts lists every version written after baseVersion for the
// unit, newest first, so a caller holding a stale read can see exactly
// what it missed before retrying. An up-to-date baseVersion yields an
// empty list.
//
// This is a reporting aid: history read failures degrade to an empty
// result with a logged warning rather than failing the caller.
func (c *Coordinator) DetectConflicts(ref memory.UnitRef, baseVersion int64) []memory.ConflictDescriptor {
	versions, err := c.readDegraded(ref, "detect_conflicts")
	if err != nil {
		return nil
	}
	var conflicts []memory.ConflictDescriptor
	for _, v := range versions {
		if v.Version > baseVersion {
			conflicts = append(conflicts, memory.DescribeConflict(v))
		}
	}
	return conflicts
}

// GetCurrentVersion returns the unit's head version number, 0 when the
// unit has no history or the history cannot be read.
func (c *Coordinator) GetCurrentVersion(ref memory.UnitRef) int64 {
	versions, err := c.readDegraded(ref, "current_version")
	if err != nil {
		return 0
	}
	return memory.Latest(versions)
}

// GetVersionHistory returns the unit's versions newest first, at most
// limit entries when limit is positive. Missing or unreadable history
// yields an empty result.
func (c *Coordinator) GetVersionHistory(ref memory.UnitRef, limit int) []memory.Version {
	versions, err := c.readDegraded(ref, "version_history")
	if err != nil {
		return nil
	}
	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	return versions
}

// GetVersionAt returns the record stored at exactly the given version
// number, nil when no such version is retained.
func (c *Coordinator) GetVersionAt(ref memory.UnitRef, version int64) *memory.Version {
	versions, err := c.readDegraded(ref, "version_at")
	if err != nil {
		return nil
	}
	for _, v := range versions {
		if v.Version == version {
			found := v
			return &found
		}
	}
	return nil
}

// ReclaimExpired deletes every lock record whose expiry has passed and
// returns how many were removed. The reaper calls this on its cadence;
// the same reclamation also happens lazily whenever Acquire or Update
// inspects an expired lock, so this pass only catches locks nobody has
// touched since they lapsed.
func (c *Coordinator) ReclaimExpired() int {
	records, err := c.locks.ListLocks()
	if err != nil {
		c.logger.Warn("coordinator.reclaim.scan_failed", "error", err.Error())
		return 0
	}

	now := c.now()
	reclaimed := 0
	var pending []event.Event
	for _, rec := range records {
		if !rec.Expired(now) {
			continue
		}
		mu := c.unitMutex(rec.MemoryID)
		mu.Lock()
		events, err := c.reclaimCurrent(rec.MemoryID, rec.LockID)
		mu.Unlock()
		if err != nil {
			c.logger.Warn("coordinator.reclaim.failed",
				"memory", rec.MemoryID,
				"error", err.Error(),
			)
			continue
		}
		if len(events) > 0 {
			reclaimed++
			pending = append(pending, events...)
		}
	}

	c.publishAll(pending)
	if reclaimed > 0 {
		c.logger.Info("coordinator.reclaim.swept", "count", reclaimed)
	}
	return reclaimed
}

// reclaimCurrent deletes the unit's lock only if it still carries the
// given lockID and is still expired. Caller holds the unit mutex.
func (c *Coordinator) reclaimCurrent(memoryID, lockID string) ([]event.Event, error) {
	rec, err := c.locks.GetLock(memoryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.LockID != lockID || !rec.Expired(c.now()) {
		return nil, nil
	}
	return c.reclaim(rec)
}

// reclaim deletes an expired lock record and prepares its reclaimed
// event. Caller holds the unit mutex and has already judged expiry.
func (c *Coordinator) reclaim(rec store.LockRecord) ([]event.Event, error) {
	if err := c.locks.DeleteLock(rec.MemoryID); err != nil {
		return nil, fmt.Errorf("coordinator: reclaim lock: %w", err)
	}
	c.logger.Info("coordinator.lock.reclaimed",
		"memory", rec.MemoryID,
		"locked_by", rec.LockedBy,
		"expired_at", rec.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return []event.Event{event.NewLockReclaimedEvent(rec.LockID, rec.MemoryID, rec.LockedBy)}, nil
}

// readDegraded reads a unit's history, degrading a read failure to an
// empty result so read-only accessors stay available when the store is
// unhealthy. The failure is logged, never silent.
func (c *Coordinator) readDegraded(ref memory.UnitRef, op string) ([]memory.Version, error) {
	versions, err := c.versions.ReadVersions(ref)
	if err != nil {
		c.logger.Warn("coordinator.versions.read_degraded",
			"op", op,
			"memory", ref.MemoryID,
			"error", err.Error(),
		)
		return nil, err
	}
	return versions, nil
}

// unitMutex returns the in-process mutex for a memory unit, creating it
// on first use.
func (c *Coordinator) unitMutex(memoryID string) *sync.Mutex {
	mu, _ := c.unitLocks.LoadOrStore(memoryID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (c *Coordinator) publishAll(events []event.Event) {
	if c.bus == nil {
		return
	}
	for _, e := range events {
		c.bus.Publish(e)
	}
}
