// Package coordinator implements the lock and versioning layer that
// serializes concurrent writes to shared memory units, combining durable
// TTL-bounded locks with monotonically numbered content histories so
// that many autonomous agent processes can mutate the same documents
// without losing writes.
//
// # Overview
//
// A memory unit is a named document scoped to a persona and optionally a
// project. Before mutating one, a caller acquires a lock and receives
// the unit's current version; it performs its edit and submits the new
// content together with the lock handle. The coordinator validates the
// handle, appends the content as the next version, and releases the
// lock, all as one operation from the caller's point of view.
//
// Readers never lock. They read the head version (or the full history)
// and can later ask DetectConflicts what was written after the version
// they saw, which is enough to reconcile a stale read before retrying.
//
// # Lifecycle Of A Write
//
//	caller                      coordinator                  stores
//	  │   Acquire(ref, by)          │                          │
//	  │ ───────────────────────────▶│  inspect / reclaim lock  │
//	  │                             │ ────────────────────────▶│
//	  │                             │  read head version       │
//	  │                             │ ────────────────────────▶│
//	  │   {lockId, version}         │  create lock (exclusive) │
//	  │ ◀───────────────────────────│ ────────────────────────▶│
//	  │                             │                          │
//	  │   Update(ref, lockId, body) │                          │
//	  │ ───────────────────────────▶│  validate lock           │
//	  │                             │  append version N+1      │
//	  │                             │ ────────────────────────▶│
//	  │   {newVersion}              │  delete lock             │
//	  │ ◀───────────────────────────│ ────────────────────────▶│
//
// # Locks Are Permits, Not Sessions
//
// A lock lives for a fixed TTL (60 seconds unless configured) and
// nothing renews it. A caller that crashes after acquiring simply lets
// its lock lapse; the next acquisition for the unit reclaims the stale
// record and proceeds. This is the entire crash-recovery story: no
// supervisor, no consensus, no caller heartbeat.
//
// Expired locks are reclaimed wherever they are noticed. Acquire and
// Update both delete a lapsed record on sight, and ReclaimExpired sweeps
// the whole lock store for records nobody has touched since lapsing.
//
// # Optimistic Concurrency
//
// Acquire accepts an optional expected version. When supplied and stale,
// the call fails immediately with the true head version and performs no
// write, letting a caller discover staleness without consuming a lock.
// The version numbers themselves are only guaranteed gap-free because
// every write is serialized by a validated lock; the checksum stored on
// each version exists for conflict reporting, not write validation.
//
// # Failure Taxonomy
//
// Contention outcomes (lock held, version mismatch, wrong or expired or
// missing lock on update) are returned as a typed Conflict carrying a
// stable Code; callers reconcile and retry. Missing units read as
// version 0 with empty history. Store write failures surface as errors;
// read failures in the read-only accessors degrade to empty results
// with a logged warning so observers stay available while the store is
// unhealthy.
//
// # See Also
//
//   - internal/store: durable lock records and version histories
//   - internal/memory: unit identity, version records, checksums
//   - internal/reaper: the background sweep that calls ReclaimExpired
package coordinator
