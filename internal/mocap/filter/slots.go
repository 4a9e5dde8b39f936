// Package filter smooths raw joint positions and derives joint velocities.
//
// State is owned per user slot rather than per sensor body id, so a slot
// must be Reset whenever a different person takes it over.
package filter

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/config"
	"github.com/banshee-data/mocap/internal/mocap/body"
)

// Config selects the position and velocity profiles.
type Config struct {
	Position        Profile
	Velocity        Profile
	VelocityEnabled bool
}

// DefaultConfig returns the default filter configuration.
func DefaultConfig() Config {
	return Config{Position: ProfileDefault, Velocity: ProfileLight, VelocityEnabled: true}
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) (Config, error) {
	pos, ok := ParseProfile(cfg.GetPositionSmoothing())
	if !ok {
		return Config{}, fmt.Errorf("unknown position smoothing profile %q", cfg.GetPositionSmoothing())
	}
	vel, ok := ParseProfile(cfg.GetVelocitySmoothing())
	if !ok {
		return Config{}, fmt.Errorf("unknown velocity smoothing profile %q", cfg.GetVelocitySmoothing())
	}
	return Config{Position: pos, Velocity: vel, VelocityEnabled: cfg.GetVelocityEnabled()}, nil
}

type slotState struct {
	position [body.JointCount]Holt
	velocity [body.JointCount]Holt
	prevPos  [body.JointCount]r3.Vec
	hasPrev  [body.JointCount]bool
	last     time.Time
}

// Slots holds the filter state of every user slot.
type Slots struct {
	cfg   Config
	slots []slotState
}

// NewSlots returns filter state for n slots.
func NewSlots(n int, cfg Config) *Slots {
	return &Slots{cfg: cfg, slots: make([]slotState, n)}
}

// Config returns the active configuration.
func (s *Slots) Config() Config {
	return s.cfg
}

// Apply filters b's raw joint positions into Position and Velocity. It
// must run once per tick per occupied slot. Out-of-range slots are ignored.
func (s *Slots) Apply(slot int, b *body.TrackedBody, now time.Time) {
	if b == nil || slot < 0 || slot >= len(s.slots) {
		return
	}
	st := &s.slots[slot]

	dt := 0.0
	if !st.last.IsZero() {
		dt = now.Sub(st.last).Seconds()
	}
	st.last = now

	for j := 0; j < body.JointCount; j++ {
		js := &b.Joints[j]
		if js.State == body.NotTracked {
			st.position[j].Reset()
			st.velocity[j].Reset()
			st.hasPrev[j] = false
			js.Position = js.Raw
			js.Velocity = r3.Vec{}
			continue
		}

		inferred := js.State == body.Inferred
		js.Position = st.position[j].Update(js.Raw, s.cfg.Position, inferred)

		js.Velocity = r3.Vec{}
		if s.cfg.VelocityEnabled && st.hasPrev[j] && dt > 0 {
			v := r3.Scale(1/dt, r3.Sub(js.Position, st.prevPos[j]))
			js.Velocity = st.velocity[j].Update(v, s.cfg.Velocity, inferred)
		}
		st.prevPos[j] = js.Position
		st.hasPrev[j] = true
	}
}

// Reset clears a slot's history so the next tick starts fresh.
func (s *Slots) Reset(slot int) {
	if slot < 0 || slot >= len(s.slots) {
		return
	}
	s.slots[slot] = slotState{}
}

// Move transfers the state of slot from into slot to and clears from.
func (s *Slots) Move(from, to int) {
	if from == to || from < 0 || to < 0 || from >= len(s.slots) || to >= len(s.slots) {
		return
	}
	s.slots[to] = s.slots[from]
	s.slots[from] = slotState{}
}
