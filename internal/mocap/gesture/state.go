// Package gesture evaluates per-user gesture state machines.
//
// The engine owns transition bookkeeping only: time gating between
// repeats of a gesture, conflicts between gestures and a per-user cooldown
// after any completion. Whether a gesture advances on a given tick is
// decided by a Recognizer looked up by name in a Registry.
package gesture

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/geom"
)

// ErrUnknownGesture is returned when a gesture name has no recognizer.
var ErrUnknownGesture = errors.New("gesture: unknown gesture")

// State is the per (user, gesture) state machine.
type State struct {
	Name      string
	Phase     int
	Progress  float64 // [0,1]
	Complete  bool
	Cancelled bool
	Joint     body.JointType
	ScreenPos r3.Vec // normalised, Z is always 0

	// StartTrackingAt is the earliest time the gesture may progress again
	// after a completion or cancellation.
	StartTrackingAt time.Time
	// Timestamp is the start of the current phase.
	Timestamp time.Time
	Conflicts []string

	// Anchor is scratch space for recognizers.
	Anchor r3.Vec
}

// SetPhase enters phase with the given progress and stamps its start.
func (s *State) SetPhase(phase int, progress float64, now time.Time) {
	s.Phase = phase
	s.Progress = progress
	s.Timestamp = now
}

// Finish marks the gesture complete.
func (s *State) Finish() {
	s.Complete = true
	s.Progress = 1
}

// Cancel abandons a gesture in progress.
func (s *State) Cancel() {
	s.Cancelled = true
	s.Phase = 0
	s.Progress = 0
}

// Restart returns to phase 0 without reporting a cancellation.
func (s *State) Restart() {
	s.Phase = 0
	s.Progress = 0
	s.Timestamp = time.Time{}
	s.Anchor = r3.Vec{}
}

// Abandon cancels when progress has been reported, otherwise restarts.
func (s *State) Abandon() {
	if s.Progress > 0 {
		s.Cancel()
		return
	}
	s.Restart()
}

// Elapsed returns the time spent in the current phase.
func (s *State) Elapsed(now time.Time) time.Duration {
	if s.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(s.Timestamp)
}

// reset clears the machine but keeps the time gate and conflicts.
func (s *State) reset() {
	s.Restart()
	s.Complete = false
	s.Cancelled = false
	s.ScreenPos = r3.Vec{}
}

func (s *State) conflictsWith(name string) bool {
	for _, c := range s.Conflicts {
		if c == name {
			return true
		}
	}
	return false
}

// Input is one tick of joint data offered to a recognizer.
type Input struct {
	Body *body.TrackedBody
	Now  time.Time
	// Raw selects sensor positions instead of filtered ones, as used for
	// calibration before a body has a slot.
	Raw bool
}

// Pos returns j's position.
func (in Input) Pos(j body.JointType) r3.Vec {
	if in.Raw {
		return in.Body.Joints[j].Raw
	}
	return in.Body.Joints[j].Position
}

// Tracked reports whether every joint in js has a position.
func (in Input) Tracked(js ...body.JointType) bool {
	for _, j := range js {
		if !in.Body.IsTracked(j) || !geom.IsFiniteVec(in.Pos(j)) {
			return false
		}
	}
	return true
}

// Recognizer advances a gesture state from one tick of input. It may set
// Phase, Progress, Complete, Cancelled, Joint, ScreenPos and Anchor.
type Recognizer interface {
	Check(st *State, in Input)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(st *State, in Input)

// Check calls f.
func (f RecognizerFunc) Check(st *State, in Input) {
	f(st, in)
}

// Registry maps gesture names to recognizers.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[string]Recognizer
}

// NewRegistry returns a registry holding the built-in gestures.
func NewRegistry() *Registry {
	r := &Registry{recognizers: make(map[string]Recognizer)}
	for name, rec := range builtins() {
		r.recognizers[name] = rec
	}
	return r
}

// Register adds or replaces a recognizer.
func (r *Registry) Register(name string, rec Recognizer) error {
	if name == "" || rec == nil {
		return fmt.Errorf("gesture: register %q: empty name or nil recognizer", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = rec
	return nil
}

// Lookup returns the recognizer for name.
func (r *Registry) Lookup(name string) (Recognizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recognizers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGesture, name)
	}
	return rec, nil
}

// Names returns the registered gesture names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.recognizers))
	for n := range r.recognizers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EventKind classifies an Event.
type EventKind int

const (
	EventProgress EventKind = iota
	EventCompleted
	EventCancelled
	// EventConflict reports a gesture held at zero by a conflicting one.
	EventConflict
)

func (k EventKind) String() string {
	switch k {
	case EventCompleted:
		return "completed"
	case EventCancelled:
		return "cancelled"
	case EventConflict:
		return "conflict"
	default:
		return "progress"
	}
}

// Event is a gesture transition.
type Event struct {
	Kind      EventKind
	UserID    int64
	Slot      int
	Name      string
	Progress  float64
	Joint     body.JointType
	ScreenPos r3.Vec
	At        time.Time
}

// Listener receives gesture callbacks. GestureCompleted returns true to
// reset the gesture immediately; otherwise it stays complete until the
// repeat gate opens or a caller consumes it with IsComplete.
type Listener interface {
	GestureInProgress(e Event)
	GestureCompleted(e Event) bool
	GestureCancelled(e Event)
}
