// Package store persists Tiaki's coordination state on the local filesystem:
// one lock record per memory unit and one version history per unit, written
// so that concurrent processes sharing the same root observe a consistent
// picture.
//
// # Overview
//
// The store owns a single base directory and lays out three trees beneath it:
//
//	<root>/
//	├── locks/                        one JSON record per locked unit
//	│   └── <memoryId>.json
//	├── memory/                       one JSON history per unit
//	│   └── <persona>/
//	│       ├── global/               persona-wide units
//	│       │   └── <memoryId>.json
//	│       └── <projectHash>/        project-scoped units
//	│           └── <memoryId>.json
//	└── tmp/                          staging for atomic replaces
//
// Creating these directories happens once, in Open, and is the only
// startup-fatal failure in the coordination layer. Everything after that
// degrades: scans skip corrupt records, reads of missing histories return
// empty, and write failures surface as wrapped errors for the caller.
//
// # Lock Records
//
// A lock record claims one memory unit. Its file path derives from the
// memory ID alone, which makes the lock a per-unit singleton: persona and
// project scope ride inside the record, not the path. Records are written
// with O_CREATE|O_EXCL, so when two processes race to claim the same unit
// the filesystem picks exactly one winner and the loser sees ErrLockExists.
//
// Lock expiry is not the store's concern. Records carry their expiresAt
// instant; the coordinator decides staleness and deletes what has lapsed.
//
// # Version Histories
//
// Histories are JSON arrays of version records, newest first, capped to the
// configured retention. Replacement is atomic: the new array is staged under
// tmp/ and renamed over the old file, so a reader never observes a torn
// history. The scope variant decides the directory: persona-wide units live
// under a reserved "global" slot, project units under their project hash.
//
// # Change Notification
//
// WatchLocks wires an fsnotify watcher onto the lock directory and delivers
// coalesced signals. A daemon uses this to notice lock churn caused by other
// processes and re-inspect, rather than to receive the changes themselves.
//
// # Concurrency Model
//
// File operations are individually atomic (exclusive create, rename
// replace). A store-wide RWMutex additionally serializes directory scans
// against mutations so List and Find see settled state. Cross-process
// ordering beyond the exclusive create is deliberately not promised.
//
// # See Also
//
// Related packages:
//   - internal/memory: the unit identity and version model persisted here
//   - internal/coordinator: drives lock lifecycle and history writes
//   - internal/reaper: sweeps expired records via the coordinator
package store
