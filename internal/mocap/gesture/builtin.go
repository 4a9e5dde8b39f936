package gesture

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/geom"
)

// Built-in gesture names.
const (
	RaiseLeftHand  = "RaiseLeftHand"
	RaiseRightHand = "RaiseRightHand"
	Psi            = "Psi"
	Tpose          = "Tpose"
	Stop           = "Stop"
	Wave           = "Wave"
	SwipeLeft      = "SwipeLeft"
	SwipeRight     = "SwipeRight"
	SwipeUp        = "SwipeUp"
	SwipeDown      = "SwipeDown"
	ZoomIn         = "ZoomIn"
	ZoomOut        = "ZoomOut"
	Jump           = "Jump"
	Squat          = "Squat"
)

// Recognizer tuning, metres and durations.
const (
	poseHold       = time.Second
	squatHold      = 500 * time.Millisecond
	poseTolerance  = 0.12
	handInFront    = 0.15
	swipeDistance  = 0.35
	swipeDeadZone  = 0.05
	swipeWindow    = time.Second
	zoomDistance   = 0.30
	zoomWindow     = 1500 * time.Millisecond
	waveSwing      = 0.05
	waveCrossings  = 4
	waveWindow     = time.Second
	jumpTakeoff    = 0.05
	jumpHeight     = 0.10
	jumpArmWindow  = time.Second
	jumpAirWindow  = 500 * time.Millisecond
	squatLegRatio  = 0.6
	screenHalfSpan = 0.8
)

// DefaultConflicts returns the gestures that cannot progress together
// with name.
func DefaultConflicts(name string) []string {
	switch name {
	case SwipeLeft:
		return []string{SwipeRight}
	case SwipeRight:
		return []string{SwipeLeft}
	case SwipeUp:
		return []string{SwipeDown}
	case SwipeDown:
		return []string{SwipeUp}
	case ZoomIn:
		return []string{ZoomOut}
	case ZoomOut:
		return []string{ZoomIn}
	case Psi:
		return []string{RaiseLeftHand, RaiseRightHand}
	case Jump:
		return []string{Squat}
	case Squat:
		return []string{Jump}
	}
	return nil
}

func builtins() map[string]Recognizer {
	return map[string]Recognizer{
		RaiseLeftHand:  pose{joint: body.HandLeft, hold: poseHold, test: raisedHand(body.HandLeft, body.HandRight)},
		RaiseRightHand: pose{joint: body.HandRight, hold: poseHold, test: raisedHand(body.HandRight, body.HandLeft)},
		Psi:            pose{joint: body.SpineShoulder, hold: poseHold, test: psiPose},
		Tpose:          pose{joint: body.SpineShoulder, hold: poseHold, test: tPose},
		Stop:           pose{joint: body.SpineBase, hold: poseHold, test: stopPose},
		Squat:          pose{joint: body.SpineBase, hold: squatHold, test: squatPose},
		SwipeLeft:      swipe{hand: body.HandRight, dir: geom.Left, start: handAtChest},
		SwipeRight:     swipe{hand: body.HandLeft, dir: geom.Right, start: handAtChest},
		SwipeUp:        swipe{hand: body.HandRight, dir: geom.Up, start: handBelowShoulders},
		SwipeDown:      swipe{hand: body.HandRight, dir: geom.Down, start: handAboveHead},
		ZoomIn:         zoom{sign: 1},
		ZoomOut:        zoom{sign: -1},
		Wave:           RecognizerFunc(checkWave),
		Jump:           RecognizerFunc(checkJump),
	}
}

// screenPos maps j to [0,1]² around the shoulder centre.
func screenPos(in Input, j body.JointType) r3.Vec {
	if !in.Tracked(j, body.SpineShoulder) {
		return r3.Vec{}
	}
	d := r3.Sub(in.Pos(j), in.Pos(body.SpineShoulder))
	return r3.Vec{
		X: geom.Clamp01(0.5 + d.X/(2*screenHalfSpan)),
		Y: geom.Clamp01(0.5 - d.Y/(2*screenHalfSpan)),
	}
}

// ----------------------------------------------------------------------------
// Static poses
// ----------------------------------------------------------------------------

// pose completes once test has held for hold.
type pose struct {
	joint body.JointType
	hold  time.Duration
	test  func(in Input) bool
}

func (p pose) Check(st *State, in Input) {
	st.Joint = p.joint
	if !p.test(in) {
		if st.Phase > 0 {
			st.Abandon()
		}
		return
	}
	if st.Phase == 0 {
		st.SetPhase(1, 0, in.Now)
	}
	st.Progress = float64(st.Elapsed(in.Now)) / float64(p.hold)
	st.ScreenPos = screenPos(in, p.joint)
	if st.Progress >= 1 {
		st.Finish()
	}
}

func raisedHand(hand, other body.JointType) func(Input) bool {
	return func(in Input) bool {
		if !in.Tracked(hand, other, body.Head, body.SpineShoulder) {
			return false
		}
		return in.Pos(hand).Y > in.Pos(body.Head).Y+0.1 &&
			in.Pos(other).Y < in.Pos(body.SpineShoulder).Y
	}
}

func psiPose(in Input) bool {
	for _, side := range [2][3]body.JointType{
		{body.ShoulderLeft, body.ElbowLeft, body.HandLeft},
		{body.ShoulderRight, body.ElbowRight, body.HandRight},
	} {
		if !in.Tracked(side[:]...) {
			return false
		}
		sh, el, ha := in.Pos(side[0]), in.Pos(side[1]), in.Pos(side[2])
		if math.Abs(el.Y-sh.Y) > poseTolerance || ha.Y < el.Y+0.15 || math.Abs(ha.X-el.X) > poseTolerance {
			return false
		}
	}
	return true
}

func tPose(in Input) bool {
	for _, side := range [2][3]body.JointType{
		{body.ShoulderLeft, body.ElbowLeft, body.HandLeft},
		{body.ShoulderRight, body.ElbowRight, body.HandRight},
	} {
		if !in.Tracked(side[:]...) {
			return false
		}
		sh, el, ha := in.Pos(side[0]), in.Pos(side[1]), in.Pos(side[2])
		out := float64(side[0].Side()) * (ha.X - sh.X)
		if math.Abs(el.Y-sh.Y) > poseTolerance || math.Abs(ha.Y-sh.Y) > poseTolerance || out < 0.4 {
			return false
		}
	}
	return true
}

// stopPose is both arms held low and out to the sides.
func stopPose(in Input) bool {
	if !in.Tracked(body.HandLeft, body.HandRight, body.HipLeft, body.HipRight, body.SpineBase) {
		return false
	}
	base := in.Pos(body.SpineBase).Y
	l, r := in.Pos(body.HandLeft), in.Pos(body.HandRight)
	return l.Y < base && r.Y < base &&
		in.Pos(body.HipLeft).X-l.X > 0.15 &&
		r.X-in.Pos(body.HipRight).X > 0.15
}

func squatPose(in Input) bool {
	if !in.Tracked(body.SpineBase, body.HipLeft, body.KneeLeft, body.AnkleLeft, body.AnkleRight) {
		return false
	}
	leg := r3.Norm(r3.Sub(in.Pos(body.HipLeft), in.Pos(body.KneeLeft))) +
		r3.Norm(r3.Sub(in.Pos(body.KneeLeft), in.Pos(body.AnkleLeft)))
	floor := math.Min(in.Pos(body.AnkleLeft).Y, in.Pos(body.AnkleRight).Y)
	return in.Pos(body.SpineBase).Y-floor < squatLegRatio*leg
}

// ----------------------------------------------------------------------------
// Motions
// ----------------------------------------------------------------------------

func handAtChest(in Input, h r3.Vec) bool {
	return h.Z < in.Pos(body.SpineShoulder).Z-handInFront &&
		h.Y > in.Pos(body.SpineMid).Y && h.Y < in.Pos(body.Head).Y+0.1
}

func handBelowShoulders(in Input, h r3.Vec) bool {
	return h.Z < in.Pos(body.SpineShoulder).Z-handInFront && h.Y < in.Pos(body.SpineShoulder).Y
}

func handAboveHead(in Input, h r3.Vec) bool {
	return h.Z < in.Pos(body.SpineShoulder).Z-handInFront && h.Y > in.Pos(body.Head).Y
}

// swipe completes when the hand travels swipeDistance along dir within
// swipeWindow of the last reversal.
type swipe struct {
	hand  body.JointType
	dir   r3.Vec
	start func(Input, r3.Vec) bool
}

func (s swipe) Check(st *State, in Input) {
	st.Joint = s.hand
	if !in.Tracked(s.hand, body.SpineShoulder, body.SpineMid, body.Head) {
		if st.Phase > 0 {
			st.Abandon()
		}
		return
	}
	h := in.Pos(s.hand)
	st.ScreenPos = screenPos(in, s.hand)

	if st.Phase == 0 {
		if s.start(in, h) {
			st.SetPhase(1, 0, in.Now)
			st.Anchor = h
		}
		return
	}
	if st.Elapsed(in.Now) > swipeWindow {
		st.Abandon()
		return
	}
	travel := r3.Dot(r3.Sub(h, st.Anchor), s.dir)
	if travel < 0 {
		// Moving back: restart the stroke from here.
		if !s.start(in, h) {
			st.Abandon()
			return
		}
		st.SetPhase(1, 0, in.Now)
		st.Anchor = h
		return
	}
	st.Progress = math.Max(0, travel-swipeDeadZone) / (swipeDistance - swipeDeadZone)
	if st.Progress >= 1 {
		st.Finish()
	}
}

// zoom tracks the distance between both hands held in front of the chest.
// ZoomIn spreads the hands apart, ZoomOut brings them together.
type zoom struct {
	sign float64
}

func (z zoom) Check(st *State, in Input) {
	st.Joint = body.SpineShoulder
	if !in.Tracked(body.HandLeft, body.HandRight, body.SpineShoulder, body.SpineMid, body.Head) {
		if st.Phase > 0 {
			st.Abandon()
		}
		return
	}
	l, r := in.Pos(body.HandLeft), in.Pos(body.HandRight)
	ready := handAtChest(in, l) && handAtChest(in, r)
	sep := r3.Norm(r3.Sub(r, l))
	st.ScreenPos = screenPos(in, body.SpineShoulder)

	if st.Phase == 0 {
		if ready {
			st.SetPhase(1, 0, in.Now)
			st.Anchor.X = sep
		}
		return
	}
	if !ready || st.Elapsed(in.Now) > zoomWindow {
		st.Abandon()
		return
	}
	delta := z.sign * (sep - st.Anchor.X)
	if delta < 0 {
		st.SetPhase(1, 0, in.Now)
		st.Anchor.X = sep
		return
	}
	st.Progress = math.Max(0, delta-swipeDeadZone) / (zoomDistance - swipeDeadZone)
	if st.Progress >= 1 {
		st.Finish()
	}
}

// checkWave counts the right hand crossing from one side of the elbow to
// the other while raised.
func checkWave(st *State, in Input) {
	st.Joint = body.HandRight
	if !in.Tracked(body.HandRight, body.ElbowRight) {
		if st.Phase > 0 {
			st.Abandon()
		}
		return
	}
	h, e := in.Pos(body.HandRight), in.Pos(body.ElbowRight)
	st.ScreenPos = screenPos(in, body.HandRight)
	raised := h.Y > e.Y+0.05
	side := 0.0
	switch dx := h.X - e.X; {
	case dx > waveSwing:
		side = 1
	case dx < -waveSwing:
		side = -1
	}

	if st.Phase == 0 {
		if raised && side != 0 {
			st.SetPhase(1, 0, in.Now)
			st.Anchor.X = side
		}
		return
	}
	if !raised || st.Elapsed(in.Now) > waveWindow {
		st.Abandon()
		return
	}
	if side != 0 && side != st.Anchor.X {
		st.Anchor.X = side
		crossings := st.Phase
		st.SetPhase(st.Phase+1, float64(crossings)/waveCrossings, in.Now)
		if crossings >= waveCrossings {
			st.Finish()
		}
	}
}

// checkJump arms on the lowest ankle height seen within jumpArmWindow and
// completes when both feet rise jumpHeight above it.
func checkJump(st *State, in Input) {
	st.Joint = body.SpineBase
	if !in.Tracked(body.AnkleLeft, body.AnkleRight, body.SpineBase) {
		if st.Phase > 0 {
			st.Abandon()
		}
		return
	}
	y := math.Min(in.Pos(body.AnkleLeft).Y, in.Pos(body.AnkleRight).Y)
	st.ScreenPos = screenPos(in, body.SpineBase)

	switch st.Phase {
	case 0:
		st.SetPhase(1, 0, in.Now)
		st.Anchor.Y = y
	case 1:
		if st.Elapsed(in.Now) > jumpArmWindow {
			st.SetPhase(1, 0, in.Now)
			st.Anchor.Y = y
			return
		}
		st.Anchor.Y = math.Min(st.Anchor.Y, y)
		if y-st.Anchor.Y > jumpTakeoff {
			st.SetPhase(2, 0.5, in.Now)
		}
	default:
		rise := y - st.Anchor.Y
		switch {
		case rise >= jumpHeight:
			st.Finish()
		case rise < jumpTakeoff/2 || st.Elapsed(in.Now) > jumpAirWindow:
			st.Cancel()
		default:
			st.Progress = 0.5 + 0.5*(rise-jumpTakeoff)/(jumpHeight-jumpTakeoff)
		}
	}
}
