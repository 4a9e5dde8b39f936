// Package retarget maps one user's solved joint rotations and pelvis
// position onto an avatar rig.
package retarget

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/config"
	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/geom"
	"github.com/banshee-data/mocap/internal/monitoring"
)

// groundAlpha is the per-tick weight of the foot drift estimate.
const groundAlpha = 0.3

// Config controls how a user drives the avatar.
type Config struct {
	// Mirrored drives each avatar side from the user's opposite side with
	// reflected rotations, as in a mirror.
	Mirrored bool
	// Flip inverts left/right for an avatar facing the sensor. It toggles
	// the same side swap as Mirrored, so setting both cancels out.
	Flip bool
	// Smoothing is the slerp rate toward the target pose per second; 0
	// snaps.
	Smoothing        float64
	VerticalMovement bool
	GroundedFeet     bool
	GroundThreshold  float64 // metres
	GroundDebounce   time.Duration
	FlexAngleDeg     float64 // closed-hand digit curl
}

// DefaultConfig returns the default retargeting settings.
func DefaultConfig() Config {
	return Config{
		Smoothing:        10,
		VerticalMovement: true,
		GroundThreshold:  0.02,
		GroundDebounce:   200 * time.Millisecond,
		FlexAngleDeg:     70,
	}
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Mirrored:         cfg.GetMirroredMovement(),
		Flip:             cfg.GetFlipLeftRight(),
		Smoothing:        cfg.GetRetargetSmoothing(),
		VerticalMovement: cfg.GetVerticalMovement(),
		GroundedFeet:     cfg.GetGroundedFeet(),
		GroundThreshold:  cfg.GetGroundThreshold(),
		GroundDebounce:   cfg.GetGroundDebounce(),
		FlexAngleDeg:     cfg.GetFingerFlexDeg(),
	}
}

// UserPose is one tick of solved user state.
type UserPose struct {
	Body *body.TrackedBody
	// Epoch changes whenever the slot is given to a newly admitted user,
	// which recalibrates the root.
	Epoch uint64
}

// BonePose is one bone's world transform.
type BonePose struct {
	Name     string
	Rotation quat.Number
	Position r3.Vec
	Enabled  bool
}

// Pose is the avatar's world pose.
type Pose struct {
	Bones []BonePose
	Root  r3.Vec
}

// Bone returns the pose of the bone called name.
func (p Pose) Bone(name string) (BonePose, bool) {
	for _, b := range p.Bones {
		if b.Name == name {
			return b, true
		}
	}
	return BonePose{}, false
}

// Retargeter drives one avatar from one user. It only reads the user
// state it is given, so several retargeters may share a slot.
type Retargeter struct {
	cfg     Config
	rig     *Rig
	enabled []bool
	ext     *quat.Number

	local []quat.Number // avatar-space bone rotations
	pos   []r3.Vec      // avatar-space bone heads
	root  r3.Vec
	// primed is false until the first update after a reset; that update
	// snaps instead of smoothing.
	primed bool

	calibrated bool
	epoch      uint64
	pelvis0    r3.Vec
	floor0     float64
	floorSet   bool

	groundEst    float64
	groundOffset float64
	driftFor     time.Duration
}

// New returns a retargeter for rig in its bind pose.
func New(rig *Rig, cfg Config) (*Retargeter, error) {
	if rig == nil || len(rig.Bones) == 0 {
		return nil, errors.New("retarget: nil or empty rig")
	}
	r := &Retargeter{
		cfg:     cfg,
		rig:     rig,
		enabled: make([]bool, len(rig.Bones)),
		local:   make([]quat.Number, len(rig.Bones)),
		pos:     make([]r3.Vec, len(rig.Bones)),
	}
	for i, b := range rig.Bones {
		r.enabled[i] = b.Enabled
	}
	r.Reset()
	return r, nil
}

// Rig returns the bound rig.
func (r *Retargeter) Rig() *Rig {
	return r.rig
}

// Config returns the active configuration.
func (r *Retargeter) Config() Config {
	return r.cfg
}

// SetBoneEnabled turns a bone on or off. A disabled bone holds its bind
// pose relative to its parent.
func (r *Retargeter) SetBoneEnabled(name string, enabled bool) bool {
	i, ok := r.rig.Index(name)
	if ok {
		r.enabled[i] = enabled
	}
	return ok
}

// SetExternalRoot premultiplies every bone by q. nil clears it.
func (r *Retargeter) SetExternalRoot(q *quat.Number) {
	if q == nil {
		r.ext = nil
		return
	}
	n, ok := geom.Normalize(*q)
	if !ok {
		return
	}
	r.ext = &n
}

// Reset restores the bind pose and invalidates the root calibration. Simple
// bones are restored first and composite-driven bones second, since the
// latter derive from the former. Calling it twice is the same as once.
func (r *Retargeter) Reset() {
	for pass := 0; pass < 2; pass++ {
		for i, b := range r.rig.Bones {
			if b.Joint.IsComposite() == (pass == 1) {
				r.local[i] = b.Bind
			}
		}
	}
	r.root = r.rig.Bones[0].Position
	r.forwardKinematics()
	r.primed = false
	r.calibrated = false
	r.floorSet = false
	r.groundEst, r.groundOffset, r.driftFor = 0, 0, 0
}

// swapped reports whether avatar sides are driven by the opposite user
// side. Swapped bones always take reflected rotations.
func (r *Retargeter) swapped() bool {
	return r.cfg.Mirrored != r.cfg.Flip
}

// Update retargets one tick. It returns false, leaving the pose untouched,
// when u has no body.
func (r *Retargeter) Update(u UserPose, dt float64) bool {
	b := u.Body
	if b == nil {
		return false
	}
	if !r.calibrated || u.Epoch != r.epoch {
		r.calibrate(b, u.Epoch)
	}

	t := 1.0
	if r.primed && r.cfg.Smoothing > 0 {
		t = geom.Clamp01(r.cfg.Smoothing * dt)
	}
	for i := range r.rig.Bones {
		r.local[i] = geom.Slerp(r.local[i], r.target(i, b), t)
	}
	r.updateRoot(b, dt)
	r.forwardKinematics()
	r.primed = true
	return true
}

func (r *Retargeter) calibrate(b *body.TrackedBody, epoch uint64) {
	r.pelvis0 = b.Joints[body.SpineBase].Position
	r.floor0, r.floorSet = lowestFoot(b)
	r.epoch = epoch
	r.calibrated = true
	r.groundEst, r.groundOffset, r.driftFor = 0, 0, 0
	monitoring.Diagf("retarget %s: root calibrated at %.3f,%.3f,%.3f", r.rig.Name, r.pelvis0.X, r.pelvis0.Y, r.pelvis0.Z)
}

// parentDelta is the rotation bone i's parent has turned away from its
// bind pose.
func (r *Retargeter) parentDelta(i int) quat.Number {
	p := r.rig.Bones[i].Parent
	if p < 0 {
		return geom.Identity
	}
	return geom.Mul(r.local[p], geom.Inverse(r.rig.Bones[p].Bind))
}

func (r *Retargeter) target(i int, b *body.TrackedBody) quat.Number {
	bone := r.rig.Bones[i]
	follow := geom.Mul(r.parentDelta(i), bone.Bind)
	if !r.enabled[i] || bone.Joint == body.NoJoint {
		return follow
	}

	src := bone.Joint
	if r.swapped() {
		src = src.Mirror()
	}
	if bone.Digit != NotDigit {
		hand := b.RightHand
		if src.IsLeft() {
			hand = b.LeftHand
		}
		switch hand {
		case body.HandClosed:
			flex := r.flex(bone)
			return geom.Mul(r.parentDelta(i), geom.Mul(flex, bone.Bind))
		case body.HandOpen:
			return follow
		}
	}

	q := b.Joints[src].Normal
	if r.swapped() {
		q = b.Joints[src].Mirrored
	}
	if !geom.IsValid(q) {
		return r.local[i]
	}
	return geom.Mul(q, bone.Bind)
}

// flex is the closed-hand curl of a digit bone, in avatar space. Fingers
// curl down from the palm-down T-pose; thumbs curl across the palm.
func (r *Retargeter) flex(bone Bone) quat.Number {
	side := float64(bone.Joint.Side())
	angle := geom.Deg(r.cfg.FlexAngleDeg)
	if bone.Digit == Thumb {
		return geom.AxisAngle(geom.Up, side*angle)
	}
	return geom.AxisAngle(geom.Back, -side*angle)
}

// lowestFoot returns the height of the lower tracked foot, false when
// neither foot is tracked.
func lowestFoot(b *body.TrackedBody) (float64, bool) {
	y, ok := math.Inf(1), false
	for _, j := range []body.JointType{body.FootLeft, body.FootRight} {
		if b.IsTracked(j) {
			y, ok = math.Min(y, b.Joints[j].Position.Y), true
		}
	}
	return y, ok
}

func (r *Retargeter) updateRoot(b *body.TrackedBody, dt float64) {
	d := r3.Sub(b.Joints[body.SpineBase].Position, r.pelvis0)
	if !geom.IsFiniteVec(d) {
		return
	}
	if r.swapped() {
		d.X = -d.X
	}
	if !r.cfg.VerticalMovement {
		d.Y = 0
	} else if r.cfg.GroundedFeet {
		r.ground(b, dt)
		d.Y += r.groundOffset
	}
	r.root = r3.Add(r.rig.Bones[0].Position, d)
}

// ground tracks how far the feet have drifted from the calibrated floor
// and folds a drift held past the debounce window into groundOffset.
// Ticks without a tracked foot hold the current offset.
func (r *Retargeter) ground(b *body.TrackedBody, dt float64) {
	foot, ok := lowestFoot(b)
	if !ok {
		return
	}
	if !r.floorSet {
		r.floor0, r.floorSet = foot+r.groundOffset, true
		return
	}
	drift := foot - r.floor0 + r.groundOffset
	if math.IsNaN(drift) || math.IsInf(drift, 0) {
		return
	}
	r.groundEst += groundAlpha * (drift - r.groundEst)
	if math.Abs(r.groundEst) < r.cfg.GroundThreshold {
		r.driftFor = 0
		return
	}
	r.driftFor += time.Duration(dt * float64(time.Second))
	if r.driftFor >= r.cfg.GroundDebounce {
		r.groundOffset -= r.groundEst
		monitoring.Tracef("retarget %s: ground correction %.3f", r.rig.Name, -r.groundEst)
		r.groundEst = 0
		r.driftFor = 0
	}
}

func (r *Retargeter) forwardKinematics() {
	for i, b := range r.rig.Bones {
		if b.Parent < 0 {
			r.pos[i] = r.root
			continue
		}
		pb := r.rig.Bones[b.Parent]
		off := r3.Sub(b.Position, pb.Position)
		r.pos[i] = r3.Add(r.pos[b.Parent], geom.Rotate(geom.Mul(r.local[b.Parent], geom.Inverse(pb.Bind)), off))
	}
}

// Pose returns the avatar's current world pose.
func (r *Retargeter) Pose() Pose {
	w := r.rig.Rotation
	if r.ext != nil {
		w = geom.Mul(*r.ext, w)
	}
	p := Pose{Bones: make([]BonePose, len(r.rig.Bones)), Root: geom.Rotate(w, r.root)}
	for i, b := range r.rig.Bones {
		p.Bones[i] = BonePose{
			Name:     b.Name,
			Rotation: geom.Mul(w, r.local[i]),
			Position: geom.Rotate(w, r.pos[i]),
			Enabled:  r.enabled[i],
		}
	}
	return p
}
