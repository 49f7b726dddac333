package store

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// LockWatch delivers coalesced change signals for the lock directory, so a
// daemon can notice grants and releases made by other processes sharing the
// same store root.
type LockWatch struct {
	watcher *fsnotify.Watcher
	events  chan struct{}
	stop    chan struct{}
	once    sync.Once
}

// WatchLocks registers a filesystem watcher on the lock directory. The
// returned watch must be closed when no longer needed.
func (s *FileStore) WatchLocks() (*LockWatch, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("store: create lock watcher: %w", err)
	}
	if err := watcher.Add(s.locksDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("store: watch lock directory %q: %w", s.locksDir, err)
	}
	w := &LockWatch{
		watcher: watcher,
		events:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Events returns the signal channel. Signals coalesce: one pending signal
// stands for any number of underlying filesystem events. The channel closes
// when the watch does.
func (w *LockWatch) Events() <-chan struct{} {
	return w.events
}

// Close stops the watch. Safe to call more than once.
func (w *LockWatch) Close() error {
	w.once.Do(func() {
		close(w.stop)
		w.watcher.Close()
	})
	return nil
}

func (w *LockWatch) run() {
	defer close(w.events)
	for {
		select {
		case <-w.stop:
			return
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.signal()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.signal()
		}
	}
}

func (w *LockWatch) signal() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
