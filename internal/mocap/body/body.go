package body

import (
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// MaxBodies is the number of bodies a sensor reports per frame.
const MaxBodies = 6

// TrackingState is the sensor's confidence in a joint position.
type TrackingState int

const (
	NotTracked TrackingState = iota
	Inferred
	Tracked
)

func (s TrackingState) String() string {
	switch s {
	case Inferred:
		return "inferred"
	case Tracked:
		return "tracked"
	default:
		return "not_tracked"
	}
}

// HandState is the sensor's open/closed classification of a hand.
type HandState int

const (
	HandUnknown HandState = iota
	HandNotTracked
	HandOpen
	HandClosed
	HandLasso
)

func (h HandState) String() string {
	switch h {
	case HandNotTracked:
		return "not_tracked"
	case HandOpen:
		return "open"
	case HandClosed:
		return "closed"
	case HandLasso:
		return "lasso"
	default:
		return "unknown"
	}
}

// JointSample is the per-tick state of one joint.
type JointSample struct {
	Raw       r3.Vec // sensor position, world space
	Position  r3.Vec // filtered position
	Velocity  r3.Vec
	State     TrackingState
	Direction r3.Vec      // bone direction, parent to joint
	Normal    quat.Number // world rotation
	Mirrored  quat.Number // Normal reflected about the sagittal plane
}

// TrackedBody is one body reported by the sensor for a single frame. The
// joint array has a fixed length whatever the body.
type TrackedBody struct {
	ID        int64
	Tracked   bool
	Joints    [AllJointCount]JointSample
	LeftHand  HandState
	RightHand HandState

	// TurnedAround is set by the solver while left/right are swapped.
	TurnedAround bool

	// HeadRotation is the face tracker's head rotation, nil when absent.
	HeadRotation *quat.Number
	// FaceTracked reports whether the face tracker saw this body's face.
	FaceTracked bool
}

// Joint returns a pointer to the sample for j.
func (b *TrackedBody) Joint(j JointType) *JointSample {
	return &b.Joints[j]
}

// IsTracked reports whether j has a tracked or inferred position.
func (b *TrackedBody) IsTracked(j JointType) bool {
	return j.Valid() && b.Joints[j].State != NotTracked
}

// Pelvis returns the raw SpineBase position.
func (b *TrackedBody) Pelvis() r3.Vec {
	return b.Joints[SpineBase].Raw
}

// SetJoint sets j's raw and filtered position and tracking state.
func (b *TrackedBody) SetJoint(j JointType, p r3.Vec, s TrackingState) {
	b.Joints[j].Raw = p
	b.Joints[j].Position = p
	b.Joints[j].State = s
}

// SwapLeftRight exchanges every left joint sample with its right
// counterpart and swaps the hand states. Applying it twice restores the
// original body.
func (b *TrackedBody) SwapLeftRight() {
	for j := JointType(0); j < AllJointCount; j++ {
		m := j.Mirror()
		if m > j {
			b.Joints[j], b.Joints[m] = b.Joints[m], b.Joints[j]
		}
	}
	b.LeftHand, b.RightHand = b.RightHand, b.LeftHand
}

// Clone returns a deep copy of b.
func (b *TrackedBody) Clone() TrackedBody {
	c := *b
	if b.HeadRotation != nil {
		q := *b.HeadRotation
		c.HeadRotation = &q
	}
	return c
}

// Frame is one sensor frame.
type Frame struct {
	Timestamp time.Time
	// RelTime is the relay's relative timestamp.
	RelTime int64
	Bodies  []TrackedBody
	// FaceTracking reports whether a face tracker is attached.
	FaceTracking bool
	// Pose replaces the sensor-to-world transform when set.
	Pose *SensorPose
}

// NewFrame returns a frame with MaxBodies empty bodies.
func NewFrame(ts time.Time) Frame {
	return Frame{Timestamp: ts, Bodies: make([]TrackedBody, MaxBodies)}
}

// Clone returns a deep copy of f.
func (f Frame) Clone() Frame {
	c := f
	c.Bodies = make([]TrackedBody, len(f.Bodies))
	for i := range f.Bodies {
		c.Bodies[i] = f.Bodies[i].Clone()
	}
	if f.Pose != nil {
		p := *f.Pose
		c.Pose = &p
	}
	return c
}

// Find returns the tracked body with the given id.
func (f *Frame) Find(id int64) (*TrackedBody, bool) {
	for i := range f.Bodies {
		if f.Bodies[i].Tracked && f.Bodies[i].ID == id {
			return &f.Bodies[i], true
		}
	}
	return nil, false
}
