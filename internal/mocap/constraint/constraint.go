// Package constraint clamps solved joint rotations to anatomical limits.
//
// Each constrained joint's local rotation (relative to its parent) is split
// into a swing that moves the bone and a twist about the bone. The twist
// is clamped to [MinTwistDeg, MaxTwistDeg] and the swing to MaxSwingDeg.
// Once a joint has been clamped, its output follows the target at no more
// than the spring rate until the two meet again, so leaving a limit never
// snaps. The hierarchy is then recomposed from the locals so children keep
// their own local rotation under a clamped parent.
package constraint

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/config"
	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/debug"
	"github.com/banshee-data/mocap/internal/mocap/geom"
	"github.com/banshee-data/mocap/internal/monitoring"
)

// Constraint limits one joint's local rotation.
type Constraint struct {
	Joint body.JointType
	// Axis is the twist axis in the joint's bind frame, normally the
	// bind direction of the joint's bone.
	Axis        r3.Vec
	MinTwistDeg float64
	MaxTwistDeg float64
	MaxSwingDeg float64
}

// Validate checks that the limits are usable and admit the bind pose.
func (c Constraint) Validate() error {
	switch {
	case !c.Joint.Valid():
		return fmt.Errorf("constraint: invalid joint %d", c.Joint)
	case c.Joint.Parent() == body.NoJoint:
		return fmt.Errorf("constraint: %s has no parent", c.Joint)
	case geom.IsDegenerate(c.Axis):
		return fmt.Errorf("constraint: %s has a degenerate axis", c.Joint)
	case c.MinTwistDeg > 0 || c.MaxTwistDeg < 0:
		return fmt.Errorf("constraint: %s twist range [%g, %g] excludes the bind pose", c.Joint, c.MinTwistDeg, c.MaxTwistDeg)
	case c.MaxTwistDeg > 180 || c.MinTwistDeg < -180:
		return fmt.Errorf("constraint: %s twist range [%g, %g] exceeds ±180°", c.Joint, c.MinTwistDeg, c.MaxTwistDeg)
	case c.MaxSwingDeg < 0 || c.MaxSwingDeg > 180:
		return fmt.Errorf("constraint: %s swing limit %g outside [0, 180]", c.Joint, c.MaxSwingDeg)
	}
	return nil
}

// mirror returns c for the opposite side of the body.
func (c Constraint) mirror() Constraint {
	return Constraint{
		Joint:       c.Joint.Mirror(),
		Axis:        geom.MirrorVec(c.Axis),
		MinTwistDeg: -c.MaxTwistDeg,
		MaxTwistDeg: -c.MinTwistDeg,
		MaxSwingDeg: c.MaxSwingDeg,
	}
}

// DefaultConstraints returns the built-in table for the spine, neck and
// both arms and legs.
func DefaultConstraints() []Constraint {
	centre := []Constraint{
		{Joint: body.SpineMid, Axis: geom.Up, MinTwistDeg: -30, MaxTwistDeg: 30, MaxSwingDeg: 45},
		{Joint: body.SpineShoulder, Axis: geom.Up, MinTwistDeg: -30, MaxTwistDeg: 30, MaxSwingDeg: 45},
		{Joint: body.Neck, Axis: geom.Up, MinTwistDeg: -60, MaxTwistDeg: 60, MaxSwingDeg: 50},
	}
	left := []Constraint{
		{Joint: body.ShoulderLeft, Axis: geom.Left, MinTwistDeg: -90, MaxTwistDeg: 90, MaxSwingDeg: 160},
		{Joint: body.ElbowLeft, Axis: geom.Left, MinTwistDeg: -100, MaxTwistDeg: 100, MaxSwingDeg: 160},
		{Joint: body.WristLeft, Axis: geom.Left, MinTwistDeg: -90, MaxTwistDeg: 90, MaxSwingDeg: 80},
		{Joint: body.HipLeft, Axis: geom.Down, MinTwistDeg: -45, MaxTwistDeg: 45, MaxSwingDeg: 120},
		{Joint: body.KneeLeft, Axis: geom.Down, MinTwistDeg: -30, MaxTwistDeg: 30, MaxSwingDeg: 150},
		{Joint: body.AnkleLeft, Axis: geom.Forward, MinTwistDeg: -30, MaxTwistDeg: 30, MaxSwingDeg: 60},
	}
	out := append([]Constraint{}, centre...)
	for _, c := range left {
		out = append(out, c, c.mirror())
	}
	return out
}

// Config controls constraint application.
type Config struct {
	Enabled       bool
	SpringRateDeg float64 // per second
}

// DefaultConfig returns constraints enabled with a 90°/s spring.
func DefaultConfig() Config {
	return Config{Enabled: true, SpringRateDeg: 90}
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Enabled:       cfg.GetConstraintsEnabled(),
		SpringRateDeg: cfg.GetConstraintSpring(),
	}
}

type spring struct {
	active bool
	twist  float64 // radians, last output
	swing  float64
}

// Set applies a constraint table to per-slot bodies.
type Set struct {
	cfg   Config
	table [body.AllJointCount]*Constraint
	slots [][body.AllJointCount]spring
	debug *debug.Collector
}

// NewSet validates constraints and returns a set for n slots. dbg may be nil.
func NewSet(n int, cfg Config, constraints []Constraint, dbg *debug.Collector) (*Set, error) {
	s := &Set{cfg: cfg, slots: make([][body.AllJointCount]spring, n), debug: dbg}
	for i := range constraints {
		c := constraints[i]
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if s.table[c.Joint] != nil {
			return nil, fmt.Errorf("constraint: duplicate entry for %s", c.Joint)
		}
		c.Axis = r3.Unit(c.Axis)
		s.table[c.Joint] = &c
	}
	return s, nil
}

// Config returns the active configuration.
func (s *Set) Config() Config {
	return s.cfg
}

// Reset clears a slot's spring state.
func (s *Set) Reset(slot int) {
	if slot < 0 || slot >= len(s.slots) {
		return
	}
	s.slots[slot] = [body.AllJointCount]spring{}
}

// Move transfers the spring state of slot from into slot to and clears from.
func (s *Set) Move(from, to int) {
	if from == to || from < 0 || to < 0 || from >= len(s.slots) || to >= len(s.slots) {
		return
	}
	s.slots[to] = s.slots[from]
	s.Reset(from)
}

// Apply clamps b's solved rotations in place. dt is the time since the
// slot's previous tick in seconds.
func (s *Set) Apply(slot int, b *body.TrackedBody, dt float64) {
	if !s.cfg.Enabled || b == nil || slot < 0 || slot >= len(s.slots) {
		return
	}
	springs := &s.slots[slot]

	var local [body.AllJointCount]quat.Number
	for j := body.JointType(0); j < body.AllJointCount; j++ {
		local[j] = b.Joints[j].Normal
		if p := j.Parent(); p != body.NoJoint {
			local[j] = geom.Mul(geom.Inverse(b.Joints[p].Normal), b.Joints[j].Normal)
		}
	}

	clamped := false
	for j := body.JointType(0); j < body.AllJointCount; j++ {
		c := s.table[j]
		if c == nil {
			continue
		}
		if b.Joints[j].State == body.NotTracked {
			springs[j] = spring{}
			continue
		}
		q, hit := s.clamp(slot, c, &springs[j], local[j], dt)
		if hit {
			clamped = true
		}
		local[j] = q
	}
	if !clamped && !anyActive(springs) {
		return
	}

	recompose := func(j body.JointType) {
		p := j.Parent()
		if p == body.NoJoint {
			return
		}
		if b.Joints[j].State == body.NotTracked {
			b.Joints[j].Normal = b.Joints[p].Normal
			return
		}
		q, ok := geom.Normalize(geom.Mul(b.Joints[p].Normal, local[j]))
		if !ok {
			q = b.Joints[p].Normal
		}
		b.Joints[j].Normal = q
	}
	for _, j := range body.SolveOrder {
		recompose(j)
	}
	for _, j := range body.Composites {
		recompose(j)
	}
	for j := range b.Joints {
		b.Joints[j].Mirrored = geom.Mirror(b.Joints[j].Normal)
	}
}

func anyActive(springs *[body.AllJointCount]spring) bool {
	for i := range springs {
		if springs[i].active {
			return true
		}
	}
	return false
}

// clamp limits one local rotation. It reports whether a limit was hit.
func (s *Set) clamp(slot int, c *Constraint, sp *spring, local quat.Number, dt float64) (quat.Number, bool) {
	swing, twist := geom.SwingTwist(local, c.Axis)
	twistAngle := geom.TwistAngle(twist, c.Axis)
	swingAngle := geom.SwingAngle(swing)

	twistTarget := clampRange(twistAngle, geom.Deg(c.MinTwistDeg), geom.Deg(c.MaxTwistDeg))
	swingTarget := math.Min(swingAngle, geom.Deg(c.MaxSwingDeg))
	hit := twistTarget != twistAngle || swingTarget != swingAngle

	twistOut, swingOut := twistTarget, swingTarget
	if sp.active && !hit {
		step := geom.Deg(s.cfg.SpringRateDeg) * math.Max(dt, 0)
		twistOut = approach(sp.twist, twistTarget, step)
		swingOut = approach(sp.swing, swingTarget, step)
	}
	sp.active = hit || twistOut != twistTarget || swingOut != swingTarget
	sp.twist, sp.swing = twistOut, swingOut

	if hit {
		s.debug.RecordClamp(slot, c.Joint, geom.ToDeg(twistAngle), geom.ToDeg(swingAngle))
		monitoring.Tracef("slot %d constraint %s twist=%.1f swing=%.1f", slot, c.Joint, geom.ToDeg(twistAngle), geom.ToDeg(swingAngle))
	}
	if twistOut == twistAngle && swingOut == swingAngle {
		return local, hit
	}
	return geom.Mul(scaleSwing(swing, swingAngle, swingOut), geom.AxisAngle(c.Axis, twistOut)), hit
}

// scaleSwing returns the rotation about swing's axis by angle. A zero
// swing has no axis and stays zero.
func scaleSwing(swing quat.Number, current, angle float64) quat.Number {
	if current < 1e-9 {
		return geom.Identity
	}
	if swing.Real < 0 {
		swing = quat.Scale(-1, swing)
	}
	axis := r3.Vec{X: swing.Imag, Y: swing.Jmag, Z: swing.Kmag}
	return geom.AxisAngle(axis, angle)
}

func clampRange(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// approach moves from towards to by at most step.
func approach(from, to, step float64) float64 {
	d := to - from
	if math.Abs(d) <= step {
		return to
	}
	if d > 0 {
		return from + step
	}
	return from - step
}
