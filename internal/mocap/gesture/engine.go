package gesture

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/config"
	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/debug"
	"github.com/banshee-data/mocap/internal/monitoring"
)

// Config holds the engine's timing rules.
type Config struct {
	// MinTimeBetweenSame gates a gesture after it completes or cancels.
	MinTimeBetweenSame time.Duration
	// MinTimeBetween blocks all of a user's gestures after any completion.
	MinTimeBetween time.Duration
}

// DefaultConfig returns 1 s between repeats and 700 ms between gestures.
func DefaultConfig() Config {
	return Config{
		MinTimeBetweenSame: time.Second,
		MinTimeBetween:     700 * time.Millisecond,
	}
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MinTimeBetweenSame: cfg.GetMinTimeBetweenSameGestures(),
		MinTimeBetween:     cfg.GetMinTimeBetweenGestures(),
	}
}

// Engine runs a Tracker per user slot and fans transitions out to
// listeners.
type Engine struct {
	cfg       Config
	reg       *Registry
	users     []*Tracker
	listeners []Listener
	debug     *debug.Collector
}

// NewEngine returns an engine for n slots. reg nil uses the built-ins;
// dbg may be nil.
func NewEngine(n int, cfg Config, reg *Registry, dbg *debug.Collector) *Engine {
	if reg == nil {
		reg = NewRegistry()
	}
	e := &Engine{cfg: cfg, reg: reg, users: make([]*Tracker, n), debug: dbg}
	for i := range e.users {
		e.users[i] = NewTracker(cfg, reg)
	}
	return e
}

// Registry returns the recognizer registry.
func (e *Engine) Registry() *Registry {
	return e.reg
}

// Tracker returns the tracker for slot, nil when out of range.
func (e *Engine) Tracker(slot int) *Tracker {
	if slot < 0 || slot >= len(e.users) {
		return nil
	}
	return e.users[slot]
}

// Add starts tracking name for slot.
func (e *Engine) Add(slot int, name string, conflicts ...string) error {
	t := e.Tracker(slot)
	if t == nil {
		return fmt.Errorf("gesture: slot %d out of range", slot)
	}
	return t.Add(name, conflicts...)
}

// Remove stops tracking name for slot.
func (e *Engine) Remove(slot int, name string) bool {
	t := e.Tracker(slot)
	return t != nil && t.Remove(name)
}

// ResetUser clears slot's gesture state, keeping its gesture list.
func (e *Engine) ResetUser(slot int) {
	if t := e.Tracker(slot); t != nil {
		t.Reset()
	}
}

// Move hands slot from's gesture state to slot to. The two slots swap
// gesture lists and from is reset.
func (e *Engine) Move(from, to int) {
	if from == to || e.Tracker(from) == nil || e.Tracker(to) == nil {
		return
	}
	e.users[from], e.users[to] = e.users[to], e.users[from]
	e.users[from].Reset()
}

// AddListener registers l for gesture callbacks.
func (e *Engine) AddListener(l Listener) {
	if l != nil {
		e.listeners = append(e.listeners, l)
	}
}

// RemoveListener unregisters l.
func (e *Engine) RemoveListener(l Listener) {
	for i, x := range e.listeners {
		if x == l {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Evaluate runs slot's gestures against b's filtered positions.
func (e *Engine) Evaluate(slot int, userID int64, b *body.TrackedBody, now time.Time) {
	t := e.Tracker(slot)
	if t == nil || b == nil {
		return
	}
	t.Evaluate(Input{Body: b, Now: now}, func(ev Event) bool {
		ev.UserID = userID
		ev.Slot = slot
		return e.dispatch(ev)
	})
}

func (e *Engine) dispatch(ev Event) bool {
	e.debug.RecordGesture(ev.Slot, ev.Name, ev.Kind.String(), ev.Progress)
	reset := false
	switch ev.Kind {
	case EventProgress:
		for _, l := range e.listeners {
			l.GestureInProgress(ev)
		}
	case EventCompleted:
		monitoring.Diagf("slot %d user %d gesture %s completed", ev.Slot, ev.UserID, ev.Name)
		for _, l := range e.listeners {
			if l.GestureCompleted(ev) {
				reset = true
			}
		}
	case EventCancelled:
		for _, l := range e.listeners {
			l.GestureCancelled(ev)
		}
	}
	return reset
}

// IsComplete reports whether slot's gesture name is complete.
func (e *Engine) IsComplete(slot int, name string, reset bool) bool {
	t := e.Tracker(slot)
	return t != nil && t.IsComplete(name, reset)
}

// IsCancelled reports whether slot's gesture name was cancelled.
func (e *Engine) IsCancelled(slot int, name string) bool {
	t := e.Tracker(slot)
	return t != nil && t.IsCancelled(name)
}

// Progress returns slot's progress on name.
func (e *Engine) Progress(slot int, name string) float64 {
	if t := e.Tracker(slot); t != nil {
		return t.Progress(name)
	}
	return 0
}

// ScreenPos returns slot's normalised screen position for name.
func (e *Engine) ScreenPos(slot int, name string) r3.Vec {
	if t := e.Tracker(slot); t != nil {
		return t.ScreenPos(name)
	}
	return r3.Vec{}
}
