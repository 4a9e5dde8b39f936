package gesture

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/geom"
)

type entry struct {
	st  *State
	rec Recognizer
}

// Tracker holds one user's gestures.
type Tracker struct {
	cfg           Config
	reg           *Registry
	entries       []entry
	cooldownUntil time.Time
}

// NewTracker returns an empty tracker. reg nil uses the built-ins.
func NewTracker(cfg Config, reg *Registry) *Tracker {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Tracker{cfg: cfg, reg: reg}
}

func (t *Tracker) find(name string) *State {
	for _, e := range t.entries {
		if e.st.Name == name {
			return e.st
		}
	}
	return nil
}

// Add starts tracking name. Conflicts are symmetric: name also becomes a
// conflict of each listed gesture. Adding a gesture again merges its
// conflicts.
func (t *Tracker) Add(name string, conflicts ...string) error {
	rec, err := t.reg.Lookup(name)
	if err != nil {
		return err
	}
	st := t.find(name)
	if st == nil {
		st = &State{Name: name, Joint: body.NoJoint}
		for _, e := range t.entries {
			if e.st.conflictsWith(name) {
				st.Conflicts = append(st.Conflicts, e.st.Name)
			}
		}
		t.entries = append(t.entries, entry{st: st, rec: rec})
	}
	for _, c := range conflicts {
		if c == name {
			continue
		}
		if !st.conflictsWith(c) {
			st.Conflicts = append(st.Conflicts, c)
		}
		if other := t.find(c); other != nil && !other.conflictsWith(name) {
			other.Conflicts = append(other.Conflicts, name)
		}
	}
	return nil
}

// Remove stops tracking name.
func (t *Tracker) Remove(name string) bool {
	for i, e := range t.entries {
		if e.st.Name == name {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Names returns the tracked gestures in evaluation order.
func (t *Tracker) Names() []string {
	names := make([]string, len(t.entries))
	for i, e := range t.entries {
		names[i] = e.st.Name
	}
	return names
}

// Reset clears every gesture's state, time gates and the cooldown.
func (t *Tracker) Reset() {
	for _, e := range t.entries {
		e.st.reset()
		e.st.StartTrackingAt = time.Time{}
	}
	t.cooldownUntil = time.Time{}
}

// State returns a copy of name's state.
func (t *Tracker) State(name string) (State, bool) {
	st := t.find(name)
	if st == nil {
		return State{}, false
	}
	c := *st
	c.Conflicts = append([]string(nil), st.Conflicts...)
	return c, true
}

// IsComplete reports whether name is complete, optionally consuming it.
func (t *Tracker) IsComplete(name string, reset bool) bool {
	st := t.find(name)
	if st == nil || !st.Complete {
		return false
	}
	if reset {
		st.reset()
	}
	return true
}

// IsCancelled reports whether name was cancelled.
func (t *Tracker) IsCancelled(name string) bool {
	st := t.find(name)
	return st != nil && st.Cancelled
}

// Progress returns name's progress.
func (t *Tracker) Progress(name string) float64 {
	if st := t.find(name); st != nil {
		return st.Progress
	}
	return 0
}

// ScreenPos returns name's normalised screen position.
func (t *Tracker) ScreenPos(name string) r3.Vec {
	if st := t.find(name); st != nil {
		return st.ScreenPos
	}
	return r3.Vec{}
}

// blocked reports whether a conflicting gesture has progress.
func (t *Tracker) blocked(st *State) bool {
	for _, c := range st.Conflicts {
		if other := t.find(c); other != nil && other.Progress > 0 {
			return true
		}
	}
	return false
}

// Evaluate runs every eligible gesture once. emit receives each
// transition; its result for a completion requests an immediate reset.
// emit may be nil.
func (t *Tracker) Evaluate(in Input, emit func(Event) bool) {
	if in.Body == nil {
		return
	}
	if emit == nil {
		emit = func(Event) bool { return false }
	}
	now := in.Now
	if now.Before(t.cooldownUntil) {
		return
	}

	for _, e := range t.entries {
		st := e.st
		if now.Before(st.StartTrackingAt) {
			continue
		}
		if st.Complete || st.Cancelled {
			st.reset()
		}
		if t.blocked(st) {
			if st.Progress > 0 || st.Phase != 0 {
				st.reset()
				emit(t.event(EventConflict, st, now))
			}
			continue
		}

		prev := st.Progress
		e.rec.Check(st, in)
		st.Progress = geom.Clamp01(st.Progress)

		switch {
		case st.Complete:
			st.Progress = 1
			st.StartTrackingAt = now.Add(t.cfg.MinTimeBetweenSame)
			t.cooldownUntil = now.Add(t.cfg.MinTimeBetween)
			if emit(t.event(EventCompleted, st, now)) {
				st.reset()
			}
			// The cooldown covers the rest of this user's gestures.
			return
		case st.Cancelled:
			st.Progress = 0
			st.StartTrackingAt = now.Add(t.cfg.MinTimeBetweenSame)
			emit(t.event(EventCancelled, st, now))
		case st.Progress > 0 && st.Progress != prev:
			emit(t.event(EventProgress, st, now))
		}
	}
}

func (t *Tracker) event(kind EventKind, st *State, now time.Time) Event {
	return Event{
		Kind:      kind,
		Name:      st.Name,
		Progress:  st.Progress,
		Joint:     st.Joint,
		ScreenPos: st.ScreenPos,
		At:        now,
	}
}
