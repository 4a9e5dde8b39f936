package orient

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/config"
	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/debug"
	"github.com/banshee-data/mocap/internal/mocap/geom"
)

const angleTol = 1e-6

var t0 = time.Unix(1_700_000_000, 0)

func tpose() body.TrackedBody {
	return body.TPose(1, r3.Vec{Y: 1, Z: 2})
}

func assertVecNear(t *testing.T, want, got r3.Vec, tol float64, msgAndArgs ...interface{}) {
	t.Helper()
	assert.InDelta(t, 0, r3.Norm(r3.Sub(want, got)), tol, msgAndArgs...)
}

// boneJoints have a sensed child that defines their bone.
var boneJoints = []body.JointType{
	body.SpineBase, body.SpineMid, body.SpineShoulder, body.Neck,
	body.ShoulderLeft, body.ElbowLeft, body.WristLeft, body.HandLeft,
	body.ShoulderRight, body.ElbowRight, body.WristRight, body.HandRight,
	body.HipLeft, body.KneeLeft, body.AnkleLeft,
	body.HipRight, body.KneeRight, body.AnkleRight,
}

// ----------------------------------------------------------------------------
// Bind pose
// ----------------------------------------------------------------------------

func TestSolve_TPoseIsIdentity(t *testing.T) {
	s := NewSolver(1, DefaultConfig(), nil)
	b := tpose()
	s.Solve(0, &b, t0)

	for j := body.JointType(0); j < body.AllJointCount; j++ {
		assert.InDelta(t, 0, geom.Angle(geom.Identity, b.Joints[j].Normal), angleTol, "joint %s", j)
	}
}

func TestSolve_BonesFollowObservedDirections(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 20; iter++ {
		b := tpose()
		for j := body.JointType(0); j < body.JointCount; j++ {
			p := b.Joints[j].Position
			p.X += (rng.Float64() - 0.5) * 0.04
			p.Y += (rng.Float64() - 0.5) * 0.04
			p.Z += (rng.Float64() - 0.5) * 0.04
			b.SetJoint(j, p, body.Tracked)
		}

		s := NewSolver(1, DefaultConfig(), nil)
		s.Solve(0, &b, t0)

		for _, j := range boneJoints {
			child := j.Child()
			want := r3.Unit(r3.Sub(b.Joints[child].Position, b.Joints[j].Position))
			got := geom.Rotate(b.Joints[j].Normal, child.BindDirection())
			assertVecNear(t, want, got, 1e-6, "iteration %d joint %s", iter, j)
		}
	}
}

func TestSolve_ArmDownRotatesShoulder(t *testing.T) {
	b := tpose()
	sh := b.Joints[body.ShoulderLeft].Position
	b.SetJoint(body.ElbowLeft, r3.Add(sh, r3.Vec{Y: -0.30}), body.Tracked)
	b.SetJoint(body.WristLeft, r3.Add(sh, r3.Vec{Y: -0.55}), body.Tracked)
	b.SetJoint(body.HandLeft, r3.Add(sh, r3.Vec{Y: -0.62}), body.Tracked)
	b.SetJoint(body.HandTipLeft, r3.Add(sh, r3.Vec{Y: -0.72}), body.Tracked)
	b.SetJoint(body.ThumbLeft, r3.Add(sh, r3.Vec{Y: -0.62, Z: -0.06}), body.Tracked)

	s := NewSolver(1, DefaultConfig(), nil)
	s.Solve(0, &b, t0)

	assertVecNear(t, geom.Down, geom.Rotate(b.Joints[body.ShoulderLeft].Normal, geom.Left), 1e-9)
	// The arm swings about the sagittal axis, so forward stays forward.
	assertVecNear(t, geom.Forward, geom.Rotate(b.Joints[body.ShoulderLeft].Normal, geom.Forward), 1e-9)
	assert.InDelta(t, math.Pi/2, geom.Angle(geom.Identity, b.Joints[body.ShoulderLeft].Normal), 1e-9)
}

func TestSolve_ElbowUsesBendPlane(t *testing.T) {
	b := tpose()
	el := b.Joints[body.ElbowLeft].Position
	// Forearm flexed towards the sensor.
	b.SetJoint(body.WristLeft, r3.Add(el, r3.Vec{Z: -0.25}), body.Tracked)
	b.SetJoint(body.HandLeft, r3.Add(el, r3.Vec{Z: -0.32}), body.Tracked)
	b.SetJoint(body.HandTipLeft, r3.Add(el, r3.Vec{Z: -0.42}), body.Tracked)
	b.SetJoint(body.ThumbLeft, r3.Add(el, r3.Vec{X: 0.06, Z: -0.32}), body.Tracked)

	s := NewSolver(1, DefaultConfig(), nil)
	s.Solve(0, &b, t0)

	want := geom.AxisAngle(geom.Up, -math.Pi/2)
	assert.InDelta(t, 0, geom.Angle(want, b.Joints[body.ElbowLeft].Normal), 1e-9)
	assertVecNear(t, geom.Forward, geom.Rotate(b.Joints[body.ElbowLeft].Normal, geom.Left), 1e-9)
}

// ----------------------------------------------------------------------------
// Propagation and validity
// ----------------------------------------------------------------------------

func TestSolve_UntrackedJointsInheritParent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for iter := 0; iter < 50; iter++ {
		b := tpose()
		// Bend an elbow so the inherited rotations are not all identity.
		el := b.Joints[body.ElbowRight].Position
		b.SetJoint(body.WristRight, r3.Add(el, r3.Vec{Y: 0.25}), body.Tracked)
		for j := body.JointType(0); j < body.JointCount; j++ {
			if rng.Float64() < 0.3 {
				b.Joints[j].State = body.NotTracked
			}
		}

		s := NewSolver(1, DefaultConfig(), nil)
		s.Solve(0, &b, t0)

		for j := body.JointType(0); j < body.AllJointCount; j++ {
			p := j.Parent()
			if b.Joints[j].State != body.NotTracked || p == body.NoJoint {
				continue
			}
			assert.Equal(t, b.Joints[p].Normal, b.Joints[j].Normal, "iteration %d joint %s", iter, j)
		}
	}
}

func TestSolve_UntrackedRootKeepsLastValid(t *testing.T) {
	s := NewSolver(1, DefaultConfig(), nil)
	b := tpose()
	// Turn the hips so the root has a non-trivial rotation.
	yaw := geom.AxisAngle(geom.Up, 0.4)
	pelvis := b.Joints[body.SpineBase].Position
	for j := body.JointType(0); j < body.JointCount; j++ {
		off := r3.Sub(b.Joints[j].Position, pelvis)
		b.SetJoint(j, r3.Add(pelvis, geom.Rotate(yaw, off)), body.Tracked)
	}
	s.Solve(0, &b, t0)
	first := b.Joints[body.SpineBase].Normal
	assert.InDelta(t, 0, geom.Angle(yaw, first), 1e-9)

	b.Joints[body.SpineBase].State = body.NotTracked
	s.Solve(0, &b, t0.Add(33*time.Millisecond))
	assert.Equal(t, first, b.Joints[body.SpineBase].Normal)
}

func TestSolve_NeverWritesNonFinite(t *testing.T) {
	nan := math.NaN()
	cases := map[string]func(b *body.TrackedBody){
		"nan elbow": func(b *body.TrackedBody) {
			b.SetJoint(body.ElbowLeft, r3.Vec{X: nan, Y: nan, Z: nan}, body.Tracked)
		},
		"inf pelvis": func(b *body.TrackedBody) {
			b.SetJoint(body.SpineBase, r3.Vec{X: math.Inf(1)}, body.Tracked)
		},
		"collapsed arm": func(b *body.TrackedBody) {
			p := b.Joints[body.ShoulderRight].Position
			for _, j := range []body.JointType{body.ElbowRight, body.WristRight, body.HandRight, body.HandTipRight, body.ThumbRight} {
				b.SetJoint(j, p, body.Tracked)
			}
		},
		"all at origin": func(b *body.TrackedBody) {
			for j := body.JointType(0); j < body.JointCount; j++ {
				b.SetJoint(j, r3.Vec{}, body.Inferred)
			}
		},
		"reversed hips": func(b *body.TrackedBody) {
			l, r := b.Joints[body.HipLeft].Position, b.Joints[body.HipRight].Position
			b.SetJoint(body.HipLeft, r, body.Tracked)
			b.SetJoint(body.HipRight, l, body.Tracked)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.HandRotation = HandAll
			s := NewSolver(1, cfg, nil)
			b := tpose()
			mutate(&b)
			s.Solve(0, &b, t0)
			for j := body.JointType(0); j < body.AllJointCount; j++ {
				assert.True(t, geom.IsValid(b.Joints[j].Normal), "joint %s normal %v", j, b.Joints[j].Normal)
				assert.True(t, geom.IsValid(b.Joints[j].Mirrored), "joint %s mirrored", j)
			}
		})
	}
}

func TestSolve_RecordsFallbacks(t *testing.T) {
	dbg := debug.NewCollector()
	dbg.SetEnabled(true)
	dbg.BeginTick(1, t0)

	s := NewSolver(1, DefaultConfig(), dbg)
	b := tpose()
	b.SetJoint(body.WristLeft, b.Joints[body.ElbowLeft].Position, body.Tracked)
	s.Solve(0, &b, t0)

	f := dbg.Emit()
	require.NotNil(t, f)
	var joints []body.JointType
	for _, r := range f.Fallbacks {
		joints = append(joints, r.Joint)
	}
	assert.Contains(t, joints, body.ElbowLeft)
}

func TestSolve_MirroredReflectsNormal(t *testing.T) {
	b := tpose()
	el := b.Joints[body.ElbowLeft].Position
	b.SetJoint(body.WristLeft, r3.Add(el, r3.Vec{Y: 0.1, Z: -0.2}), body.Tracked)
	s := NewSolver(1, DefaultConfig(), nil)
	s.Solve(0, &b, t0)
	for j := body.JointType(0); j < body.AllJointCount; j++ {
		assert.Equal(t, geom.Mirror(b.Joints[j].Normal), b.Joints[j].Mirrored, "joint %s", j)
	}
}

// ----------------------------------------------------------------------------
// Hands and head
// ----------------------------------------------------------------------------

func TestSolve_HandNoneCopiesElbow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HandRotation = HandNone
	s := NewSolver(1, cfg, nil)

	b := tpose()
	el := b.Joints[body.ElbowLeft].Position
	b.SetJoint(body.WristLeft, r3.Add(el, r3.Vec{Z: -0.25}), body.Tracked)
	b.SetJoint(body.HandLeft, r3.Add(el, r3.Vec{Y: 0.1, Z: -0.3}), body.Tracked)
	s.Solve(0, &b, t0)

	elbow := b.Joints[body.ElbowLeft].Normal
	assert.Equal(t, elbow, b.Joints[body.WristLeft].Normal)
	assert.Equal(t, elbow, b.Joints[body.HandLeft].Normal)
}

func TestSolve_HandAllUsesPalm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HandRotation = HandAll
	s := NewSolver(1, cfg, nil)
	b := tpose()
	s.Solve(0, &b, t0)
	assert.InDelta(t, 0, geom.Angle(geom.Identity, b.Joints[body.HandLeft].Normal), angleTol)
	assert.InDelta(t, 0, geom.Angle(geom.Identity, b.Joints[body.WristRight].Normal), angleTol)
}

func TestSolve_ThumbTurnIsRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxThumbTurnDeg = 10
	s := NewSolver(1, cfg, nil)

	b := tpose()
	s.Solve(0, &b, t0)
	prev := b.Joints[body.HandLeft].Normal

	// Roll the thumb from forward to up: a 90° turn about the hand axis.
	b = tpose()
	hand := b.Joints[body.HandLeft].Position
	b.SetJoint(body.ThumbLeft, r3.Add(hand, r3.Vec{Y: 0.06}), body.Tracked)
	s.Solve(0, &b, t0.Add(33*time.Millisecond))

	got := b.Joints[body.HandLeft].Normal
	assert.InDelta(t, geom.Deg(10), geom.Angle(prev, got), 1e-6)
}

func TestSolve_HeadOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeadSmoothing = 5
	s := NewSolver(1, cfg, nil)

	first := geom.AxisAngle(geom.Up, 0.6)
	b := tpose()
	b.HeadRotation = &first
	s.Solve(0, &b, t0)
	assert.InDelta(t, 0, geom.Angle(first, b.Joints[body.Head].Normal), 1e-9, "first override snaps")

	// 5/s over 100 ms moves halfway.
	second := geom.Identity
	b = tpose()
	b.HeadRotation = &second
	s.Solve(0, &b, t0.Add(100*time.Millisecond))
	assert.InDelta(t, 0.3, geom.Angle(geom.Identity, b.Joints[body.Head].Normal), 1e-9)

	// An invalid face rotation keeps the skeleton-derived head.
	bad := quat.Number{Real: math.NaN()}
	b = tpose()
	b.HeadRotation = &bad
	s.Solve(0, &b, t0.Add(200*time.Millisecond))
	assert.True(t, geom.IsValid(b.Joints[body.Head].Normal))
}

func TestSolve_HeadOverrideSnapsWithoutSmoothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeadSmoothing = 0
	s := NewSolver(1, cfg, nil)

	for i, angle := range []float64{0.2, -0.5} {
		q := geom.AxisAngle(geom.Right, angle)
		b := tpose()
		b.HeadRotation = &q
		s.Solve(0, &b, t0.Add(time.Duration(i)*33*time.Millisecond))
		assert.InDelta(t, 0, geom.Angle(q, b.Joints[body.Head].Normal), 1e-9)
	}
}

// ----------------------------------------------------------------------------
// Composites and slot state
// ----------------------------------------------------------------------------

func TestSolve_Composites(t *testing.T) {
	b := tpose()
	s := NewSolver(1, DefaultConfig(), nil)
	s.Solve(0, &b, t0)

	assert.Equal(t, b.Joints[body.ShoulderLeft].Position, b.Joints[body.ClavicleLeft].Position)
	assert.InDelta(t, 0, geom.Angle(b.Joints[body.HandTipRight].Normal, b.Joints[body.FingersRight].Normal), angleTol)
	assert.InDelta(t, 0, geom.Angle(b.Joints[body.ThumbLeft].Normal, b.Joints[body.ThumbsLeft].Normal), angleTol)
	assertVecNear(t, geom.Left, geom.Rotate(b.Joints[body.ClavicleLeft].Normal, geom.Left), 1e-9)

	b.Joints[body.ShoulderRight].State = body.NotTracked
	s.Solve(0, &b, t0.Add(33*time.Millisecond))
	assert.Equal(t, body.NotTracked, b.Joints[body.ClavicleRight].State)
	assert.Equal(t, b.Joints[body.SpineShoulder].Normal, b.Joints[body.ClavicleRight].Normal)
}

func TestSolver_MoveAndReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectTurnAround = true
	s := NewSolver(3, cfg, nil)

	b := collapsedShoulders(tpose())
	s.Solve(2, &b, t0)
	b = collapsedShoulders(tpose())
	s.Solve(2, &b, t0.Add(600*time.Millisecond))
	require.True(t, s.TurnedAround(2))

	s.Move(2, 0)
	assert.True(t, s.TurnedAround(0))
	assert.False(t, s.TurnedAround(2))

	s.Reset(0)
	assert.False(t, s.TurnedAround(0))
	assert.False(t, s.TurnedAround(-1))
	assert.False(t, s.TurnedAround(7))
}

func TestConfigFromTuning(t *testing.T) {
	cfg, err := ConfigFromTuning(config.EmptyTuningConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	tc := config.EmptyTuningConfig()
	all := "all"
	tc.HandRotation = &all
	cfg, err = ConfigFromTuning(tc)
	require.NoError(t, err)
	assert.Equal(t, HandAll, cfg.HandRotation)

	bad := "sideways"
	tc.HandRotation = &bad
	_, err = ConfigFromTuning(tc)
	assert.Error(t, err)
}

func TestParseHandRotation(t *testing.T) {
	for _, h := range []HandRotation{HandNone, HandDefault, HandAll} {
		got, ok := ParseHandRotation(h.String())
		assert.True(t, ok)
		assert.Equal(t, h, got)
	}
	_, ok := ParseHandRotation("")
	assert.False(t, ok)
}
