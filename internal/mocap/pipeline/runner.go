package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/mocap/internal/mocap/sensor"
	"github.com/banshee-data/mocap/internal/monitoring"
	"github.com/banshee-data/mocap/internal/timeutil"
)

// Runner ticks a Manager from a sensor Source on a fixed period.
type Runner struct {
	manager  *Manager
	source   sensor.Source
	clock    timeutil.Clock
	interval time.Duration

	// OnSnapshot, when set, is called after every published tick.
	OnSnapshot func(*Snapshot)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	ticks   uint64
}

// NewRunner returns a runner. A nil clock uses the wall clock; a
// non-positive interval uses the manager's configured tick interval.
func NewRunner(m *Manager, src sensor.Source, clock timeutil.Clock, interval time.Duration) *Runner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = m.Config().TickInterval
	}
	return &Runner{
		manager:  m,
		source:   src,
		clock:    clock,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run ticks until ctx is cancelled, Stop is called or the source closes.
// It returns nil on a clean shutdown and the source's error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	defer func() {
		close(r.doneCh)
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if r.interval <= 0 {
		monitoring.Opsf("runner: interval is zero or negative, not starting")
		return nil
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	monitoring.Opsf("runner started: interval=%v", r.interval)
	for {
		select {
		case <-ctx.Done():
			monitoring.Opsf("runner stopping due to context cancellation")
			return nil
		case <-r.stopCh:
			monitoring.Opsf("runner stopping due to Stop() call")
			return nil
		case <-ticker.C():
			frame, err := r.source.Next(ctx)
			switch {
			case errors.Is(err, sensor.ErrSourceClosed):
				monitoring.Opsf("runner stopping: source closed after %d ticks", r.Ticks())
				return nil
			case errors.Is(err, context.Canceled):
				return nil
			case err != nil:
				return err
			case frame == nil:
				continue
			}
			snap := r.manager.Tick(frame)
			r.mu.Lock()
			r.ticks++
			r.mu.Unlock()
			if r.OnSnapshot != nil {
				r.OnSnapshot(snap)
			}
		}
	}
}

// Stop requests the runner to stop and waits for it. It is safe to call
// multiple times.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	r.mu.Unlock()

	<-r.doneCh
}

// IsRunning reports whether Run is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Ticks returns the number of frames the runner has ticked.
func (r *Runner) Ticks() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}
