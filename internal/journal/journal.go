// Package journal persists the coordination event stream to SQLite so
// operators can reconstruct what happened to a lock, a memory unit, or
// a service after the fact. Writes go through a buffered single-writer
// goroutine: publishing stays fast and the database only ever sees one
// writer.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
	"pkt.systems/pslog"

	"github.com/dreamware/tiaki/internal/event"
)

// DefaultBuffer is how many events the journal queues before it starts
// dropping. Drops are logged, never silent.
const DefaultBuffer = 256

// Entry is one journaled event row.
type Entry struct {
	// ID is the insertion sequence number, assigned by the database.
	ID int64 `json:"id"`

	// EventID is the event's own identifier.
	EventID string `json:"eventId"`

	// EventType is the dashed event name, e.g. "lock-acquired".
	EventType string `json:"eventType"`

	// Timestamp is when the event was created.
	Timestamp time.Time `json:"timestamp"`

	// Payload holds the event's type-specific fields as JSON.
	Payload string `json:"payload"`
}

// Filter narrows a Query. Zero values mean "any".
type Filter struct {
	// Type restricts to one event name.
	Type string

	// Since restricts to events created at or after this instant.
	Since time.Time

	// Limit caps the result count. Zero means 100.
	Limit int
}

// Config configures a Journal.
type Config struct {
	// Path is the SQLite database file. Parent directories are created.
	// Required.
	Path string

	// Bus, when set, is subscribed to with a wildcard so every
	// published event is journaled. Optional; Record works either way.
	Bus *event.Bus

	// Buffer is the write queue depth. Zero means DefaultBuffer.
	Buffer int

	// Logger receives journal logs. Optional.
	Logger pslog.Logger
}

// Journal is the durable event log. All writes funnel through one
// goroutine; reads can run concurrently under WAL.
type Journal struct {
	db     *sql.DB
	logger pslog.Logger
	bus    *event.Bus
	subID  string

	entries chan event.Event
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens the journal database at cfg.Path, runs the
// schema migration, starts the writer, and attaches to the bus when one
// is given.
func Open(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal: database path required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}

	j := &Journal{
		db:      db,
		logger:  cfg.Logger,
		bus:     cfg.Bus,
		entries: make(chan event.Event, cfg.Buffer),
	}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}

	j.wg.Add(1)
	go j.run()

	if j.bus != nil {
		j.subID = j.bus.SubscribeAll(j.Record)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id   TEXT NOT NULL,
		event_type TEXT NOT NULL,
		ts         TEXT NOT NULL,
		payload    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record queues one event for journaling. It never blocks: when the
// buffer is full the event is dropped with a logged warning, on the
// grounds that a slow disk must not stall lock coordination.
func (j *Journal) Record(e event.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.entries <- e:
	default:
		j.logger.Warn("journal.buffer.full", "event", e.EventType())
	}
}

func (j *Journal) run() {
	defer j.wg.Done()
	for e := range j.entries {
		if err := j.insert(e); err != nil {
			j.logger.Error("journal.write_failed",
				"event", e.EventType(),
				"error", err.Error(),
			)
		}
	}
}

func (j *Journal) insert(e event.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = j.db.Exec(
		`INSERT INTO events (event_id, event_type, ts, payload) VALUES (?, ?, ?, ?)`,
		e.EventID(), e.EventType(), e.Timestamp().UTC().Format(time.RFC3339), string(payload))
	return err
}

// Query returns journaled entries matching f, newest first.
func (j *Journal) Query(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	where := []string{"1=1"}
	var args []interface{}
	if f.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, f.Type)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, event_id, event_type, ts, payload
		FROM events
		WHERE %s
		ORDER BY id DESC
		LIMIT ?`, strings.Join(where, " AND "))

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var ts string
		if err := rows.Scan(&entry.ID, &entry.EventID, &entry.EventType, &ts, &entry.Payload); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		entry.Timestamp, _ = time.Parse(time.RFC3339, ts)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Count returns how many entries the journal holds.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var count int64
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return count, nil
}

// Prune deletes entries created before the given instant and returns
// how many were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM events WHERE ts < ?`, before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	if removed > 0 {
		j.logger.Info("journal.pruned", "removed", removed)
	}
	return removed, nil
}

// Close detaches from the bus, drains every queued event to disk, and
// closes the database. Safe to call more than once.
func (j *Journal) Close() error {
	if j.bus != nil && j.subID != "" {
		j.bus.Unsubscribe(j.subID)
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.entries)
	j.wg.Wait()
	return j.db.Close()
}
