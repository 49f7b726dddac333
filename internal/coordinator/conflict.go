package coordinator

import (
	"errors"
	"fmt"
	"time"
)

// Code classifies a coordination conflict so callers can branch on the
// exact contention outcome without parsing message strings.
//
// Codes are stable wire-level identifiers: they appear in API responses
// and in version-conflict events, and must not be renamed.
type Code string

const (
	// CodeLocked means another caller holds a live lock on the unit.
	// The conflict carries who holds it and when it lapses.
	CodeLocked Code = "locked"

	// CodeVersionMismatch means the caller's expected version no longer
	// matches the stored head. The conflict carries the true current
	// version so the caller can reconcile before retrying.
	CodeVersionMismatch Code = "version-mismatch"

	// CodeNotLocked means an update arrived for a unit with no lock
	// record at all.
	CodeNotLocked Code = "not-locked"

	// CodeWrongLock means the unit is locked, but not by the lock the
	// caller presented.
	CodeWrongLock Code = "wrong-lock"

	// CodeLockExpired means the caller's own lock lapsed before the
	// update arrived. The expired record is reclaimed as a side effect.
	CodeLockExpired Code = "lock-expired"
)

// Conflict is the typed failure returned for every expected contention
// outcome: lock held, version mismatch, and the three update-time lock
// failures. It implements error but is not an I/O fault — callers are
// expected to inspect the Code, reconcile via DetectConflicts, and retry.
//
// Fields beyond Code are populated only where they carry information:
//
//	CodeLocked:          LockedBy, ExpiresAt
//	CodeVersionMismatch: CurrentVersion
//	CodeWrongLock:       LockedBy, ExpiresAt (the live holder)
//	CodeLockExpired:     ExpiresAt (when the caller's lock lapsed)
//
// Example:
//
//	_, err := coord.Acquire(req)
//	if conflict, ok := coordinator.AsConflict(err); ok {
//	    switch conflict.Code {
//	    case coordinator.CodeLocked:
//	        // back off until conflict.ExpiresAt
//	    case coordinator.CodeVersionMismatch:
//	        // re-read at conflict.CurrentVersion and retry
//	    }
//	}
type Conflict struct {
	// Code identifies the contention outcome.
	Code Code

	// MemoryID names the contended memory unit.
	MemoryID string

	// CurrentVersion is the stored head version at the time of the
	// conflict. Meaningful for CodeVersionMismatch.
	CurrentVersion int64

	// LockedBy identifies the holder of the interfering lock, when one
	// exists.
	LockedBy string

	// ExpiresAt is when the interfering (or lapsed) lock expires.
	ExpiresAt time.Time
}

// Error renders the conflict as a human-readable sentence. The Code is
// the contract; the message is presentation only.
func (c Conflict) Error() string {
	switch c.Code {
	case CodeLocked:
		return fmt.Sprintf("memory %q is locked by %s until %s",
			c.MemoryID, c.LockedBy, c.ExpiresAt.UTC().Format(time.RFC3339))
	case CodeVersionMismatch:
		return fmt.Sprintf("memory %q is at version %d, which does not match the expected version",
			c.MemoryID, c.CurrentVersion)
	case CodeNotLocked:
		return fmt.Sprintf("memory %q is not locked", c.MemoryID)
	case CodeWrongLock:
		return fmt.Sprintf("lock does not match the live lock on memory %q held by %s",
			c.MemoryID, c.LockedBy)
	case CodeLockExpired:
		return fmt.Sprintf("lock on memory %q expired at %s",
			c.MemoryID, c.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("coordination conflict on memory %q", c.MemoryID)
}

// AsConflict unwraps a Conflict from an error chain. The second return
// is false for plain I/O errors, which are not retryable by reconciling.
func AsConflict(err error) (Conflict, bool) {
	var conflict Conflict
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return Conflict{}, false
}
