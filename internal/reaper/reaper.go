// Package reaper runs the background staleness sweeps: reclaiming lock
// records nobody touched since they lapsed, and expiring service entries
// whose heartbeats went quiet. Both sweeps run on their own cadence but
// share a single goroutine, so the tables they mutate never see two
// reaper writers at once.
package reaper

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/dreamware/tiaki/internal/registry"
)

const (
	// DefaultLockInterval is how often lapsed locks are swept. Lock
	// reclamation also happens lazily on every inspection, so this
	// pass only catches locks nobody has touched since expiring.
	DefaultLockInterval = 30 * time.Second

	// DefaultServiceInterval is how often silent services are expired.
	DefaultServiceInterval = 60 * time.Second

	// DefaultServiceTimeout is how long a service may go without a
	// heartbeat or healthy probe before expiry removes it.
	DefaultServiceTimeout = 90 * time.Second
)

// LockSweeper reclaims every lapsed lock record and reports how many
// were removed. Implemented by the lock coordinator.
type LockSweeper interface {
	ReclaimExpired() int
}

// ServiceExpirer removes every service whose last-seen age exceeds the
// timeout and returns the removed entries. Implemented by the registry.
type ServiceExpirer interface {
	ExpireStale(timeout time.Duration) []registry.Endpoint
}

// Config carries the sweep targets and cadences for a Reaper.
type Config struct {
	// Locks is swept for lapsed lock records. Required.
	Locks LockSweeper

	// Services is swept for silent endpoints. Required.
	Services ServiceExpirer

	// LockInterval is the lock sweep cadence. Zero means
	// DefaultLockInterval.
	LockInterval time.Duration

	// ServiceInterval is the service expiry cadence. Zero means
	// DefaultServiceInterval.
	ServiceInterval time.Duration

	// ServiceTimeout is the silence threshold for service expiry. Zero
	// means DefaultServiceTimeout.
	ServiceTimeout time.Duration

	// Logger receives sweep logs. Optional.
	Logger pslog.Logger
}

// Reaper owns the two staleness sweeps. Create one with New, start it
// with Start, and stop it with Stop. Expiring a service is an implicit
// unregistration: the registry removes the entry and halts its health
// probe, with no intermediate "expired" status.
type Reaper struct {
	locks           LockSweeper
	services        ServiceExpirer
	lockInterval    time.Duration
	serviceInterval time.Duration
	serviceTimeout  time.Duration
	logger          pslog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// New creates a Reaper from cfg. Nothing runs until Start.
func New(cfg Config) *Reaper {
	if cfg.LockInterval <= 0 {
		cfg.LockInterval = DefaultLockInterval
	}
	if cfg.ServiceInterval <= 0 {
		cfg.ServiceInterval = DefaultServiceInterval
	}
	if cfg.ServiceTimeout <= 0 {
		cfg.ServiceTimeout = DefaultServiceTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reaper{
		locks:           cfg.Locks,
		services:        cfg.Services,
		lockInterval:    cfg.LockInterval,
		serviceInterval: cfg.ServiceInterval,
		serviceTimeout:  cfg.ServiceTimeout,
		logger:          cfg.Logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start launches the sweep goroutine. Both sweeps run once immediately,
// clearing anything that went stale before this process came up, then
// repeat on their intervals until ctx is cancelled or Stop is called.
// Calling Start again while running is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	r.wg.Add(1)
	go r.run(ctx)
	r.logger.Info("reaper.started",
		"lock_interval", r.lockInterval.String(),
		"service_interval", r.serviceInterval.String(),
		"service_timeout", r.serviceTimeout.String(),
	)
}

// Stop halts the sweep goroutine and waits for any in-flight sweep to
// finish. Safe to call before Start or more than once.
func (r *Reaper) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	lockTicker := time.NewTicker(r.lockInterval)
	defer lockTicker.Stop()
	serviceTicker := time.NewTicker(r.serviceInterval)
	defer serviceTicker.Stop()

	r.sweepLocks()
	r.sweepServices()

	for {
		select {
		case <-lockTicker.C:
			r.sweepLocks()
		case <-serviceTicker.C:
			r.sweepServices()
		case <-ctx.Done():
			return
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Reaper) sweepLocks() {
	if r.locks == nil {
		return
	}
	reclaimed := r.locks.ReclaimExpired()
	r.logger.Debug("reaper.locks.swept", "reclaimed", reclaimed)
}

func (r *Reaper) sweepServices() {
	if r.services == nil {
		return
	}
	expired := r.services.ExpireStale(r.serviceTimeout)
	if len(expired) == 0 {
		r.logger.Debug("reaper.services.swept", "expired", 0)
		return
	}
	for _, e := range expired {
		r.logger.Info("reaper.service.expired",
			"service", e.ID,
			"name", e.Name,
			"type", string(e.Type),
			"last_seen", e.LastSeen.UTC().Format(time.RFC3339),
		)
	}
}
