// Package orient converts filtered joint positions into per-joint world
// rotations.
//
// Joints are solved parents-first. A joint takes the rotation that carries
// its bind-pose bone direction onto the observed direction towards its
// child; torso and legs add a twist that lines up the shoulder or hip
// axis, elbows use the bend plane, and wrists and hands follow the
// configured HandRotation policy. A joint that is not tracked, or whose
// geometry is degenerate, inherits its parent's rotation; a rotation that
// fails validation falls back to the joint's last valid value. The solver
// never writes a non-finite rotation.
package orient

import (
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/debug"
	"github.com/banshee-data/mocap/internal/mocap/geom"
	"github.com/banshee-data/mocap/internal/monitoring"
)

// minBendSine is the smallest sine of the elbow angle for which the bend
// plane is trusted.
const minBendSine = 0.1

// Bind-pose bend-plane normals of the elbows (upper arm × forearm with the
// forearm flexed towards the sensor).
var (
	bindBendLeft  = r3.Vec{Y: -1}
	bindBendRight = r3.Vec{Y: 1}
)

// Fallback sources recorded on the debug collector.
const (
	fallbackParent    = "parent"
	fallbackLastValid = "last_valid"
)

type slotState struct {
	last     [body.AllJointCount]quat.Number
	hasLast  [body.AllJointCount]bool
	head     quat.Number
	hasHead  bool
	hand     [2]quat.Number // thumb-refined hand rotation, left then right
	hasHand  [2]bool
	turn     TurnDetector
	lastTick time.Time
}

// Solver holds per-slot orientation state.
type Solver struct {
	cfg          Config
	slots        []slotState
	faceTracking bool
	debug        *debug.Collector
}

// NewSolver returns a solver for n slots. dbg may be nil.
func NewSolver(n int, cfg Config, dbg *debug.Collector) *Solver {
	s := &Solver{cfg: cfg, slots: make([]slotState, n), debug: dbg}
	for i := range s.slots {
		s.resetSlot(i)
	}
	return s
}

// Config returns the active configuration.
func (s *Solver) Config() Config {
	return s.cfg
}

// SetFaceTracking records whether a face tracker is attached for the
// current frame.
func (s *Solver) SetFaceTracking(enabled bool) {
	s.faceTracking = enabled
}

// Reset clears a slot's history.
func (s *Solver) Reset(slot int) {
	if slot < 0 || slot >= len(s.slots) {
		return
	}
	s.resetSlot(slot)
}

func (s *Solver) resetSlot(slot int) {
	s.slots[slot] = slotState{
		turn: TurnDetector{Delay: s.cfg.TurnAroundDelay, Collapse: s.cfg.ShoulderCollapse},
	}
}

// Move transfers the state of slot from into slot to and clears from.
func (s *Solver) Move(from, to int) {
	if from == to || from < 0 || to < 0 || from >= len(s.slots) || to >= len(s.slots) {
		return
	}
	s.slots[to] = s.slots[from]
	s.resetSlot(from)
}

// TurnedAround reports the turn-around flag of a slot.
func (s *Solver) TurnedAround(slot int) bool {
	if slot < 0 || slot >= len(s.slots) {
		return false
	}
	return s.slots[slot].turn.TurnedAround()
}

// Solve computes Normal and Mirrored for every joint of b, including the
// composites. b's filtered positions must be current for this tick.
func (s *Solver) Solve(slot int, b *body.TrackedBody, now time.Time) {
	if b == nil || slot < 0 || slot >= len(s.slots) {
		return
	}
	st := &s.slots[slot]

	dt := 0.0
	if !st.lastTick.IsZero() {
		dt = now.Sub(st.lastTick).Seconds()
	}
	st.lastTick = now

	if s.cfg.DetectTurnAround {
		changed, rule := st.turn.Update(b, s.faceTracking, now)
		if changed {
			monitoring.Diagf("slot %d body %d turned_around=%t rule=%s", slot, b.ID, st.turn.TurnedAround(), rule)
			s.debug.RecordTurnAround(slot, st.turn.TurnedAround(), rule)
		}
		if st.turn.TurnedAround() {
			b.SwapLeftRight()
		}
		b.TurnedAround = st.turn.TurnedAround()
	} else {
		b.TurnedAround = false
	}

	updateDirections(b)

	w := &work{s: s, st: st, slot: slot, b: b}
	for _, j := range body.SolveOrder {
		w.solve(j)
	}
	w.applyHeadOverride(dt)
	for _, j := range body.Composites {
		w.solveComposite(j)
	}
	for j := range b.Joints {
		b.Joints[j].Mirrored = geom.Mirror(b.Joints[j].Normal)
	}
}

// updateDirections recomputes every bone direction from filtered positions.
func updateDirections(b *body.TrackedBody) {
	for j := body.JointType(0); j < body.JointCount; j++ {
		js := &b.Joints[j]
		js.Direction = r3.Vec{}
		p := j.Parent()
		if p == body.NoJoint || js.State == body.NotTracked || b.Joints[p].State == body.NotTracked {
			continue
		}
		js.Direction = r3.Sub(js.Position, b.Joints[p].Position)
	}
}

// work is the per-call solving context.
type work struct {
	s    *Solver
	st   *slotState
	slot int
	b    *body.TrackedBody
}

func (w *work) rot(j body.JointType) quat.Number {
	return w.b.Joints[j].Normal
}

// dir returns the direction from a to b when both are tracked.
func (w *work) dir(from, to body.JointType) (r3.Vec, bool) {
	if !w.b.IsTracked(from) || !w.b.IsTracked(to) {
		return r3.Vec{}, false
	}
	d := r3.Sub(w.b.Joints[to].Position, w.b.Joints[from].Position)
	if geom.IsDegenerate(d) {
		return r3.Vec{}, false
	}
	return d, true
}

// set stores q for j when ok and valid; otherwise it falls back.
func (w *work) set(j body.JointType, q quat.Number, ok bool, reason string) {
	if ok {
		if n, valid := geom.Normalize(q); valid && geom.IsValid(n) {
			w.b.Joints[j].Normal = n
			w.st.last[j] = n
			w.st.hasLast[j] = true
			return
		}
		w.fallbackLastValid(j, "invalid_rotation")
		return
	}
	w.fallbackParent(j, reason)
}

// fallbackParent copies the parent's rotation; the root uses its last
// valid rotation instead.
func (w *work) fallbackParent(j body.JointType, reason string) {
	p := j.Parent()
	if p == body.NoJoint {
		w.fallbackLastValid(j, reason)
		return
	}
	w.b.Joints[j].Normal = w.rot(p)
	if reason != "" {
		w.s.debug.RecordFallback(w.slot, j, fallbackParent, reason)
	}
}

func (w *work) fallbackLastValid(j body.JointType, reason string) {
	q := geom.Identity
	if w.st.hasLast[j] {
		q = w.st.last[j]
	} else if p := j.Parent(); p != body.NoJoint {
		q = w.rot(p)
	}
	w.b.Joints[j].Normal = q
	w.s.debug.RecordFallback(w.slot, j, fallbackLastValid, reason)
}

func (w *work) solve(j body.JointType) {
	if !w.b.IsTracked(j) {
		// Propagation: an untracked joint carries its parent's rotation.
		w.fallbackParent(j, "")
		return
	}

	switch j {
	case body.SpineBase:
		w.solveTorso(j, body.HipLeft, body.HipRight)
	case body.SpineMid, body.SpineShoulder, body.Neck:
		w.solveTorso(j, body.ShoulderLeft, body.ShoulderRight)
	case body.HipLeft, body.KneeLeft, body.AnkleLeft,
		body.HipRight, body.KneeRight, body.AnkleRight:
		w.solveLeg(j)
	case body.ElbowLeft:
		w.solveElbow(j, bindBendLeft)
	case body.ElbowRight:
		w.solveElbow(j, bindBendRight)
	case body.WristLeft, body.WristRight, body.HandLeft, body.HandRight:
		w.solveHand(j)
	case body.Head, body.FootLeft, body.FootRight,
		body.HandTipLeft, body.HandTipRight, body.ThumbLeft, body.ThumbRight:
		w.solveLeaf(j)
	default:
		// Shoulders.
		w.solveSwing(j, j.Child())
	}
}

// swingFrom rotates parent by the smallest rotation that carries the
// parent-rotated bind direction onto observed.
func swingFrom(parent quat.Number, bindDir, observed r3.Vec) (quat.Number, bool) {
	swing, ok := geom.FromTo(geom.Rotate(parent, bindDir), observed)
	if !ok {
		return geom.Identity, false
	}
	return geom.Mul(swing, parent), true
}

// alignTwist adds a twist about axis to q so that q's image of bindLateral
// lines up with observedLateral in the plane perpendicular to axis.
func alignTwist(q quat.Number, axis, bindLateral, observedLateral r3.Vec) quat.Number {
	a := r3.Unit(axis)
	from := geom.Rotate(q, bindLateral)
	from = r3.Sub(from, r3.Scale(r3.Dot(from, a), a))
	to := r3.Sub(observedLateral, r3.Scale(r3.Dot(observedLateral, a), a))
	if geom.IsDegenerate(from) || geom.IsDegenerate(to) {
		return q
	}
	angle := math.Atan2(r3.Dot(a, r3.Cross(from, to)), r3.Dot(from, to))
	return geom.Mul(geom.AxisAngle(a, angle), q)
}

// solveSwing swings j from its parent towards child.
func (w *work) solveSwing(j, child body.JointType) {
	d, ok := w.dir(j, child)
	if !ok {
		w.fallbackParent(j, "degenerate_direction")
		return
	}
	q, ok := swingFrom(w.rot(j.Parent()), child.BindDirection(), d)
	w.set(j, q, ok, "degenerate_direction")
}

// solveLeaf swings a leaf joint from its parent along its own bone.
func (w *work) solveLeaf(j body.JointType) {
	p := j.Parent()
	d, ok := w.dir(p, j)
	if !ok {
		w.fallbackParent(j, "degenerate_direction")
		return
	}
	q, ok := swingFrom(w.rot(p), j.BindDirection(), d)
	w.set(j, q, ok, "degenerate_direction")
}

// lateral returns the right-pointing vector between a left/right pair.
func (w *work) lateral(left, right body.JointType) (r3.Vec, bool) {
	return w.dir(left, right)
}

func (w *work) solveTorso(j, left, right body.JointType) {
	child := j.Child()
	axis, ok := w.dir(j, child)
	if !ok {
		w.fallbackParent(j, "degenerate_direction")
		return
	}
	q, ok := geom.FromTo(child.BindDirection(), axis)
	if !ok {
		w.fallbackParent(j, "degenerate_direction")
		return
	}
	lat, ok := w.lateral(left, right)
	if !ok {
		// Try the other girdle before giving up on yaw.
		if left == body.HipLeft {
			lat, ok = w.lateral(body.ShoulderLeft, body.ShoulderRight)
		} else {
			lat, ok = w.lateral(body.HipLeft, body.HipRight)
		}
	}
	if ok {
		q = alignTwist(q, axis, geom.Right, lat)
	}
	w.set(j, q, true, "")
}

func (w *work) solveLeg(j body.JointType) {
	child := j.Child()
	axis, ok := w.dir(j, child)
	if !ok {
		w.fallbackParent(j, "degenerate_direction")
		return
	}
	q, ok := geom.FromTo(child.BindDirection(), axis)
	if !ok {
		w.fallbackParent(j, "degenerate_direction")
		return
	}
	if lat, ok := w.lateral(body.HipLeft, body.HipRight); ok {
		q = alignTwist(q, axis, geom.Right, lat)
	}
	w.set(j, q, true, "")
}

func (w *work) solveElbow(j body.JointType, bindBend r3.Vec) {
	wrist := j.Child()
	forearm, ok := w.dir(j, wrist)
	if !ok {
		w.fallbackParent(j, "degenerate_direction")
		return
	}
	upper, ok := w.dir(j.Parent(), j)
	if ok {
		bend := r3.Cross(upper, forearm)
		if r3.Norm(bend) >= minBendSine*r3.Norm(upper)*r3.Norm(forearm) {
			q, ok := geom.FromAxes(wrist.BindDirection(), bindBend, forearm, bend)
			w.set(j, q, ok, "degenerate_bend")
			return
		}
	}
	// Straight arm: the bend plane is undefined, so swing from the shoulder.
	w.solveSwing(j, wrist)
}

func (w *work) solveHand(j body.JointType) {
	parent := j.Parent()
	switch w.s.cfg.HandRotation {
	case HandNone:
		w.b.Joints[j].Normal = w.rot(parent)
		return
	case HandAll:
		if q, ok := w.palmRotation(j); ok {
			w.setHand(j, q)
			return
		}
	}

	w.solveSwing(j, j.Child())
	if w.s.cfg.ThumbOrientation && (j == body.HandLeft || j == body.HandRight) {
		if q, ok := w.thumbRotation(j); ok {
			w.setHand(j, q)
		}
	}
}

// handOf returns the hand joint on the same side as j.
func handOf(j body.JointType) body.JointType {
	if j.IsLeft() {
		return body.HandLeft
	}
	return body.HandRight
}

func sideIndex(j body.JointType) int {
	if j.IsLeft() {
		return 0
	}
	return 1
}

// palmRotation builds the hand basis from the combined hand-tip and thumb
// direction and the palm normal.
func (w *work) palmRotation(j body.JointType) (quat.Number, bool) {
	hand := handOf(j)
	tipJ, thumbJ := hand.Child(), body.ThumbLeft
	if hand == body.HandRight {
		thumbJ = body.ThumbRight
	}
	tip, ok1 := w.dir(hand, tipJ)
	thumb, ok2 := w.dir(hand, thumbJ)
	if !ok1 || !ok2 {
		return geom.Identity, false
	}
	axis := r3.Add(r3.Unit(tip), r3.Unit(thumb))
	palm := r3.Cross(tip, thumb)
	bindTip, bindThumb := tipJ.BindDirection(), thumbJ.BindDirection()
	return geom.FromAxes(r3.Add(bindTip, bindThumb), r3.Cross(bindTip, bindThumb), axis, palm)
}

// thumbRotation uses the hand-tip direction as the axis and the thumb
// direction to fix the roll.
func (w *work) thumbRotation(hand body.JointType) (quat.Number, bool) {
	tipJ, thumbJ := hand.Child(), body.ThumbLeft
	if hand == body.HandRight {
		thumbJ = body.ThumbRight
	}
	tip, ok1 := w.dir(hand, tipJ)
	thumb, ok2 := w.dir(hand, thumbJ)
	if !ok1 || !ok2 {
		return geom.Identity, false
	}
	return geom.FromAxes(tipJ.BindDirection(), thumbJ.BindDirection(), tip, thumb)
}

// setHand stores a thumb-derived hand rotation, rate-limited when thumb
// orientation is on.
func (w *work) setHand(j body.JointType, target quat.Number) {
	if !geom.IsValid(target) {
		w.fallbackLastValid(j, "invalid_rotation")
		return
	}
	if w.s.cfg.ThumbOrientation && (j == body.HandLeft || j == body.HandRight) {
		i := sideIndex(j)
		if w.st.hasHand[i] {
			target = geom.RotateTowards(w.st.hand[i], target, geom.Deg(w.s.cfg.MaxThumbTurnDeg))
		}
		w.st.hand[i] = target
		w.st.hasHand[i] = true
	}
	w.set(j, target, true, "")
}

// applyHeadOverride blends the face tracker's head rotation into Head.
func (w *work) applyHeadOverride(dt float64) {
	hr := w.b.HeadRotation
	if hr == nil || !w.b.IsTracked(body.Head) {
		w.st.hasHead = false
		return
	}
	target, ok := geom.Normalize(*hr)
	if !ok || !geom.IsValid(target) {
		w.s.debug.RecordFallback(w.slot, body.Head, fallbackLastValid, "invalid_face_rotation")
		return
	}
	q := target
	if w.st.hasHead && w.s.cfg.HeadSmoothing > 0 {
		q = geom.Slerp(w.st.head, target, geom.Clamp01(w.s.cfg.HeadSmoothing*dt))
	}
	w.st.head = q
	w.st.hasHead = true
	w.set(body.Head, q, true, "")
}

func (w *work) solveComposite(j body.JointType) {
	src := j.Child()
	js := &w.b.Joints[j]
	js.Position = w.b.Joints[src].Position
	js.Raw = w.b.Joints[src].Raw
	js.Velocity = w.b.Joints[src].Velocity

	switch j {
	case body.ClavicleLeft, body.ClavicleRight:
		p := j.Parent()
		js.State = minState(w.b.Joints[p].State, w.b.Joints[src].State)
		js.Direction = r3.Vec{}
		if js.State == body.NotTracked {
			w.fallbackParent(j, "")
			return
		}
		d, ok := w.dir(p, src)
		if !ok {
			w.fallbackParent(j, "degenerate_direction")
			return
		}
		js.Direction = d
		q, ok := swingFrom(w.rot(p), j.BindDirection(), d)
		w.set(j, q, ok, "degenerate_direction")
	default:
		// Fingers and thumbs broadcast their canonical joint.
		js.State = w.b.Joints[src].State
		js.Direction = w.b.Joints[src].Direction
		if js.State == body.NotTracked {
			w.fallbackParent(j, "")
			return
		}
		w.set(j, w.rot(src), true, "")
	}
}

func minState(a, b body.TrackingState) body.TrackingState {
	if a < b {
		return a
	}
	return b
}
