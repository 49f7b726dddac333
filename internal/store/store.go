package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/dreamware/tiaki/internal/memory"
)

// ErrNotFound is returned when a lock or history doesn't exist in the store
var ErrNotFound = errors.New("not found")

// ErrLockExists is returned when a lock record already exists for a unit
var ErrLockExists = errors.New("lock exists")

// LockRecord is the persisted claim on a memory unit. One record per unit;
// the file path is derived from the memory ID alone, so the record itself
// carries the full scope identity.
type LockRecord struct {
	LockID      string    `json:"lockId"`                // Grant identifier, returned to the holder
	MemoryID    string    `json:"memoryId"`              // Unit the lock covers
	Persona     string    `json:"persona"`               // Owning persona
	ProjectHash string    `json:"projectHash,omitempty"` // Project scope, empty for persona-wide units
	LockedBy    string    `json:"lockedBy"`              // Holder identity (agent/service id)
	LockedAt    time.Time `json:"lockedAt"`              // When the grant was issued
	ExpiresAt   time.Time `json:"expiresAt"`             // When the grant lapses
	Version     int64     `json:"version"`               // Unit version the grant was issued against
}

// Expired reports whether the lock has lapsed at the given instant.
func (r LockRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Ref rebuilds the unit reference the record covers.
func (r LockRecord) Ref() memory.UnitRef {
	return memory.Ref(r.MemoryID, r.Persona, r.ProjectHash)
}

// LockStore defines durable storage for lock records
// All implementations must be thread-safe for concurrent access
type LockStore interface {
	// PutLock persists a new lock record for its memory unit
	// Returns ErrLockExists if a record is already present
	PutLock(rec LockRecord) error

	// GetLock retrieves the lock record for a memory unit
	// Returns ErrNotFound if no record exists
	GetLock(memoryID string) (LockRecord, error)

	// DeleteLock removes the lock record for a memory unit
	// No error if no record exists
	DeleteLock(memoryID string) error

	// FindLock scans for a record by its grant identifier
	// Returns ErrNotFound if no record carries the ID
	FindLock(lockID string) (LockRecord, error)

	// ListLocks returns all persisted lock records
	// Order is not guaranteed
	ListLocks() ([]LockRecord, error)
}

// VersionStore defines durable storage for version histories
// All implementations must be thread-safe for concurrent access
type VersionStore interface {
	// ReadVersions loads a unit's history, newest first
	// A missing history is not an error: it returns an empty slice
	ReadVersions(ref memory.UnitRef) ([]memory.Version, error)

	// WriteVersions persists a unit's history, sorted newest first and
	// capped to the configured retention
	WriteVersions(ref memory.UnitRef, versions []memory.Version) error
}

// Stats contains counts of what the store currently holds
type Stats struct {
	Locks int // Number of live lock records
	Units int // Number of units with a persisted history
}

// Config configures a FileStore.
type Config struct {
	// Root is the base directory. The locks/ and memory/ trees are created
	// beneath it when the store opens.
	Root string

	// Retention caps the versions kept per unit. Zero means
	// memory.DefaultRetention.
	Retention int

	// Logger receives store diagnostics. Nil discards them.
	Logger pslog.Logger
}

// FileStore implements LockStore and VersionStore on the local filesystem.
// Lock records are created with O_EXCL so acquisition races between processes
// collapse to a single winner; version histories are replaced atomically via
// a temp file and rename.
type FileStore struct {
	root      string       // Base directory
	locksDir  string       // root/locks, one record file per unit
	memoryDir string       // root/memory, one history file per unit
	tmpDir    string       // root/tmp, staging for atomic replaces
	retention int          // Version cap per unit
	logger    pslog.Logger // Diagnostics
	mu        sync.RWMutex // Serializes scans against mutations
}

// Open prepares the on-disk layout and returns a store over it. Failure to
// create the base directories is the only startup-fatal condition the
// coordination layer has, so callers treat an error here as unrecoverable.
func Open(cfg Config) (*FileStore, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("store: root directory required")
	}
	s := &FileStore{
		root:      cfg.Root,
		locksDir:  filepath.Join(cfg.Root, "locks"),
		memoryDir: filepath.Join(cfg.Root, "memory"),
		tmpDir:    filepath.Join(cfg.Root, "tmp"),
		retention: cfg.Retention,
		logger:    cfg.Logger,
	}
	if s.retention <= 0 {
		s.retention = memory.DefaultRetention
	}
	if s.logger == nil {
		s.logger = pslog.NoopLogger()
	}
	for _, dir := range []string{s.locksDir, s.memoryDir, s.tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: prepare directory %q: %w", dir, err)
		}
	}
	return s, nil
}

// Root returns the base directory the store was opened on.
func (s *FileStore) Root() string {
	return s.root
}

// PutLock persists a new lock record using an exclusive create, so two
// writers racing for the same unit see exactly one winner.
func (s *FileStore) PutLock(rec LockRecord) error {
	path, err := s.lockPath(rec.MemoryID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode lock %q: %w", rec.MemoryID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrLockExists
		}
		return fmt.Errorf("store: create lock %q: %w", rec.MemoryID, err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("store: write lock %q: %w", rec.MemoryID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("store: sync lock %q: %w", rec.MemoryID, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("store: close lock %q: %w", rec.MemoryID, err)
	}
	return nil
}

// GetLock retrieves the lock record for a memory unit.
func (s *FileStore) GetLock(memoryID string) (LockRecord, error) {
	path, err := s.lockPath(memoryID)
	if err != nil {
		return LockRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return readLockFile(path, memoryID)
}

// DeleteLock removes the lock record for a memory unit. Idempotent: deleting
// an absent record is not an error.
func (s *FileStore) DeleteLock(memoryID string) error {
	path, err := s.lockPath(memoryID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete lock %q: %w", memoryID, err)
	}
	return nil
}

// FindLock scans all lock records for one carrying the given grant ID.
func (s *FileStore) FindLock(lockID string) (LockRecord, error) {
	records, err := s.ListLocks()
	if err != nil {
		return LockRecord{}, err
	}
	for _, rec := range records {
		if rec.LockID == lockID {
			return rec, nil
		}
	}
	return LockRecord{}, ErrNotFound
}

// ListLocks returns all persisted lock records. Records that fail to decode
// are skipped and logged rather than failing the whole scan.
func (s *FileStore) ListLocks() ([]LockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.locksDir)
	if err != nil {
		return nil, fmt.Errorf("store: scan locks: %w", err)
	}

	records := make([]LockRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.locksDir, entry.Name())
		rec, err := readLockFile(path, entry.Name())
		if err != nil {
			s.logger.Warn("store.lock.scan.skip", "path", path, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadVersions loads a unit's history. A missing file means the unit has no
// history yet and returns an empty slice; decode and read failures are
// surfaced for the caller to degrade on.
func (s *FileStore) ReadVersions(ref memory.UnitRef) ([]memory.Version, error) {
	path, err := s.versionsPath(ref)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []memory.Version{}, nil
		}
		return nil, fmt.Errorf("store: read versions %q: %w", ref, err)
	}

	var versions []memory.Version
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, fmt.Errorf("store: decode versions %q: %w", ref, err)
	}
	return versions, nil
}

// WriteVersions persists a unit's history: sorted newest first, capped to the
// retention limit, and replaced atomically so readers never see a torn file.
func (s *FileStore) WriteVersions(ref memory.UnitRef, versions []memory.Version) error {
	path, err := s.versionsPath(ref)
	if err != nil {
		return err
	}
	trimmed := memory.TrimRetained(versions, s.retention)
	payload, err := json.MarshalIndent(trimmed, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode versions %q: %w", ref, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeBytesAtomic(path, payload, "versions"); err != nil {
		return fmt.Errorf("store: write versions %q: %w", ref, err)
	}
	return nil
}

// Stats counts the live locks and persisted histories.
func (s *FileStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	if entries, err := os.ReadDir(s.locksDir); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
				stats.Locks++
			}
		}
	}
	filepath.WalkDir(s.memoryDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
			stats.Units++
		}
		return nil
	})
	return stats
}

// lockPath derives the record file for a memory unit. The path depends on
// the memory ID alone: two scopes sharing an ID contend for the same lock.
func (s *FileStore) lockPath(memoryID string) (string, error) {
	encoded, err := encodeSegment(memoryID)
	if err != nil {
		return "", fmt.Errorf("store: lock path: %w", err)
	}
	return filepath.Join(s.locksDir, encoded+".json"), nil
}

// versionsPath derives the history file for a unit from its scope segments
// and memory ID.
func (s *FileStore) versionsPath(ref memory.UnitRef) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", fmt.Errorf("store: versions path: %w", err)
	}
	parts := []string{s.memoryDir}
	for _, seg := range ref.Scope.Segments() {
		encoded, err := encodeSegment(seg)
		if err != nil {
			return "", fmt.Errorf("store: versions path: %w", err)
		}
		parts = append(parts, encoded)
	}
	encoded, err := encodeSegment(ref.MemoryID)
	if err != nil {
		return "", fmt.Errorf("store: versions path: %w", err)
	}
	parts = append(parts, encoded+".json")
	return filepath.Join(parts...), nil
}

// writeBytesAtomic stages the payload in the tmp dir and renames it over the
// destination, creating parent directories as needed.
func (s *FileStore) writeBytesAtomic(dest string, payload []byte, prefix string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.tmpDir, "tiaki-"+prefix+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// encodeSegment makes a string safe to use as a single path component.
func encodeSegment(segment string) (string, error) {
	if segment == "" {
		return "", fmt.Errorf("empty path segment")
	}
	encoded := url.PathEscape(segment)
	if strings.Contains(encoded, "..") {
		return "", fmt.Errorf("invalid path segment %q", segment)
	}
	return encoded, nil
}

// readLockFile loads and decodes one lock record.
func readLockFile(path, label string) (LockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LockRecord{}, ErrNotFound
		}
		return LockRecord{}, fmt.Errorf("store: read lock %q: %w", label, err)
	}
	var rec LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return LockRecord{}, fmt.Errorf("store: decode lock %q: %w", label, err)
	}
	return rec, nil
}
