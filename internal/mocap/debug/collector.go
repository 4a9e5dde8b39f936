// Package debug provides per-tick instrumentation for the capture pipeline.
// The Collector captures pipeline internals (admission decisions, solver
// fallbacks, constraint clamps, gesture transitions) for inspection and tuning.
package debug

import (
	"time"

	"github.com/banshee-data/mocap/internal/mocap/body"
)

// Pre-allocation capacities for debug frame slices. With six users a busy
// tick sees a handful of admissions and a few dozen fallbacks or clamps.
const (
	defaultAdmissionCapacity = 8
	defaultFallbackCapacity  = 32
	defaultClampCapacity     = 32
	defaultGestureCapacity   = 16
)

// Collector accumulates debug artifacts during a single tick.
//
// The collector is stateful: call Record*() methods during processing, then
// Emit() at tick completion to extract the artifacts. All methods are safe
// on a nil *Collector, which records nothing.
type Collector struct {
	enabled bool
	current *Frame
}

// Frame contains all debug artifacts for a single tick.
type Frame struct {
	Tick      uint64
	Timestamp time.Time

	Admissions  []AdmissionRecord
	Fallbacks   []FallbackRecord
	Clamps      []ClampRecord
	Gestures    []GestureRecord
	TurnArounds []TurnAroundRecord
}

// AdmissionRecord captures one slot lifecycle decision.
type AdmissionRecord struct {
	BodyID int64
	Slot   int    // -1 when the body was not admitted
	Action string // "admit", "evict", "reject", "pending", "move"
	Reason string
}

// FallbackRecord captures a joint whose rotation could not be solved from
// the current geometry.
type FallbackRecord struct {
	Slot   int
	Joint  body.JointType
	Source string // "parent" or "last_valid"
	Reason string
}

// ClampRecord captures a constraint limiting a joint rotation.
type ClampRecord struct {
	Slot     int
	Joint    body.JointType
	TwistDeg float64 // requested twist before clamping
	SwingDeg float64 // requested swing before clamping
}

// GestureRecord captures a gesture state transition.
type GestureRecord struct {
	Slot     int
	Gesture  string
	Event    string // "progress", "completed", "cancelled", "conflict"
	Progress float64
}

// TurnAroundRecord captures a change of the turned-around flag.
type TurnAroundRecord struct {
	Slot         int
	TurnedAround bool
	Rule         string // "face" or "shoulders"
}

// NewCollector creates a collector that's initially disabled.
// Call SetEnabled(true) to begin collecting artifacts.
func NewCollector() *Collector {
	return &Collector{}
}

// SetEnabled controls whether the collector records artifacts.
// When disabled, all Record*() calls are no-ops.
func (c *Collector) SetEnabled(enabled bool) {
	if c == nil {
		return
	}
	c.enabled = enabled
}

// IsEnabled returns true if the collector is actively recording.
func (c *Collector) IsEnabled() bool {
	return c != nil && c.enabled
}

// BeginTick initialises collection for a new tick.
// Must be called before any Record*() calls.
func (c *Collector) BeginTick(tick uint64, ts time.Time) {
	if !c.IsEnabled() {
		return
	}
	c.current = &Frame{
		Tick:       tick,
		Timestamp:  ts,
		Admissions: make([]AdmissionRecord, 0, defaultAdmissionCapacity),
		Fallbacks:  make([]FallbackRecord, 0, defaultFallbackCapacity),
		Clamps:     make([]ClampRecord, 0, defaultClampCapacity),
		Gestures:   make([]GestureRecord, 0, defaultGestureCapacity),
	}
}

func (c *Collector) recording() bool {
	return c.IsEnabled() && c.current != nil
}

// RecordAdmission captures a slot lifecycle decision.
func (c *Collector) RecordAdmission(bodyID int64, slot int, action, reason string) {
	if !c.recording() {
		return
	}
	c.current.Admissions = append(c.current.Admissions, AdmissionRecord{
		BodyID: bodyID,
		Slot:   slot,
		Action: action,
		Reason: reason,
	})
}

// RecordFallback captures a solver fallback for degenerate geometry.
func (c *Collector) RecordFallback(slot int, joint body.JointType, source, reason string) {
	if !c.recording() {
		return
	}
	c.current.Fallbacks = append(c.current.Fallbacks, FallbackRecord{
		Slot:   slot,
		Joint:  joint,
		Source: source,
		Reason: reason,
	})
}

// RecordClamp captures a constraint clamp.
func (c *Collector) RecordClamp(slot int, joint body.JointType, twistDeg, swingDeg float64) {
	if !c.recording() {
		return
	}
	c.current.Clamps = append(c.current.Clamps, ClampRecord{
		Slot:     slot,
		Joint:    joint,
		TwistDeg: twistDeg,
		SwingDeg: swingDeg,
	})
}

// RecordGesture captures a gesture transition.
func (c *Collector) RecordGesture(slot int, gesture, event string, progress float64) {
	if !c.recording() {
		return
	}
	c.current.Gestures = append(c.current.Gestures, GestureRecord{
		Slot:     slot,
		Gesture:  gesture,
		Event:    event,
		Progress: progress,
	})
}

// RecordTurnAround captures a turned-around flag change.
func (c *Collector) RecordTurnAround(slot int, turned bool, rule string) {
	if !c.recording() {
		return
	}
	c.current.TurnArounds = append(c.current.TurnArounds, TurnAroundRecord{
		Slot:         slot,
		TurnedAround: turned,
		Rule:         rule,
	})
}

// Emit returns the accumulated debug frame and prepares for the next tick.
// Returns nil if collection is disabled or no tick was begun.
func (c *Collector) Emit() *Frame {
	if !c.recording() {
		return nil
	}
	frame := c.current
	c.current = nil
	return frame
}

// Reset clears any pending artifacts without emitting them.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.current = nil
}
