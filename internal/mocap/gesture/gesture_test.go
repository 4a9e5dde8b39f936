package gesture

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/config"
	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/debug"
)

var t0 = time.Unix(1_000, 0)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func tpose() body.TrackedBody {
	return body.TPose(7, r3.Vec{Y: 1, Z: 2})
}

func raisedLeft() body.TrackedBody {
	b := tpose()
	b.SetJoint(body.HandLeft, r3.Vec{X: -0.3, Y: 2.0, Z: 2}, body.Tracked)
	b.SetJoint(body.HandRight, r3.Vec{X: 0.3, Y: 1.0, Z: 2}, body.Tracked)
	return b
}

type recorder struct {
	events []Event
	reset  bool
}

func (r *recorder) GestureInProgress(e Event) { r.events = append(r.events, e) }
func (r *recorder) GestureCancelled(e Event)  { r.events = append(r.events, e) }
func (r *recorder) GestureCompleted(e Event) bool {
	r.events = append(r.events, e)
	return r.reset
}

func (r *recorder) kinds() []EventKind {
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// stepper advances by a quarter per tick.
var stepper = RecognizerFunc(func(st *State, in Input) {
	st.Progress += 0.25
	if st.Progress >= 1 {
		st.Finish()
	}
})

// ----------------------------------------------------------------------------
// Registry
// ----------------------------------------------------------------------------

func TestRegistry_Builtins(t *testing.T) {
	reg := NewRegistry()
	want := []string{
		Jump, Psi, RaiseLeftHand, RaiseRightHand, Squat, Stop,
		SwipeDown, SwipeLeft, SwipeRight, SwipeUp, Tpose, Wave, ZoomIn, ZoomOut,
	}
	if diff := cmp.Diff(want, reg.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	_, err := reg.Lookup("Cartwheel")
	assert.True(t, errors.Is(err, ErrUnknownGesture))

	require.NoError(t, reg.Register("Cartwheel", stepper))
	_, err = reg.Lookup("Cartwheel")
	assert.NoError(t, err)
	assert.Error(t, reg.Register("", stepper))
	assert.Error(t, reg.Register("X", nil))
}

func TestTracker_AddUnknown(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)
	err := tr.Add("Moonwalk")
	assert.ErrorIs(t, err, ErrUnknownGesture)
	assert.Empty(t, tr.Names())
}

func TestTracker_ConflictsAreSymmetric(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)
	require.NoError(t, tr.Add(SwipeLeft, SwipeRight))
	require.NoError(t, tr.Add(SwipeRight))
	require.NoError(t, tr.Add(ZoomIn))
	require.NoError(t, tr.Add(ZoomOut, ZoomIn, ZoomOut))

	st, _ := tr.State(SwipeRight)
	assert.Equal(t, []string{SwipeLeft}, st.Conflicts)
	st, _ = tr.State(ZoomIn)
	assert.Equal(t, []string{ZoomOut}, st.Conflicts)
	st, _ = tr.State(ZoomOut)
	assert.Equal(t, []string{ZoomIn}, st.Conflicts, "self conflicts are dropped")

	assert.True(t, tr.Remove(ZoomIn))
	assert.False(t, tr.Remove(ZoomIn))
	assert.Equal(t, []string{SwipeLeft, SwipeRight, ZoomOut}, tr.Names())
}

// ----------------------------------------------------------------------------
// Timing and conflict rules
// ----------------------------------------------------------------------------

func TestEngine_PoseLifecycleAndRepeatGate(t *testing.T) {
	e := NewEngine(2, DefaultConfig(), nil, nil)
	rec := &recorder{}
	e.AddListener(rec)
	require.NoError(t, e.Add(0, RaiseLeftHand))

	b := raisedLeft()
	e.Evaluate(0, 42, &b, at(0))
	assert.Empty(t, rec.events, "entering the pose reports no progress yet")

	e.Evaluate(0, 42, &b, at(500))
	require.Len(t, rec.events, 1)
	assert.Equal(t, EventProgress, rec.events[0].Kind)
	assert.InDelta(t, 0.5, rec.events[0].Progress, 1e-9)
	assert.Equal(t, int64(42), rec.events[0].UserID)
	assert.Equal(t, 0, rec.events[0].Slot)
	assert.Equal(t, body.HandLeft, rec.events[0].Joint)

	e.Evaluate(0, 42, &b, at(1000))
	require.Len(t, rec.events, 2)
	assert.Equal(t, EventCompleted, rec.events[1].Kind)
	assert.True(t, e.IsComplete(0, RaiseLeftHand, false))

	// Cooldown, then the repeat gate.
	for _, ms := range []int{1500, 1800} {
		e.Evaluate(0, 42, &b, at(ms))
		assert.True(t, e.IsComplete(0, RaiseLeftHand, false), "t=%dms", ms)
	}
	assert.Len(t, rec.events, 2)

	e.Evaluate(0, 42, &b, at(2000))
	assert.False(t, e.IsComplete(0, RaiseLeftHand, false))
	assert.Equal(t, 0.0, e.Progress(0, RaiseLeftHand))
	e.Evaluate(0, 42, &b, at(2500))
	assert.InDelta(t, 0.5, e.Progress(0, RaiseLeftHand), 1e-9)
}

func TestEngine_ListenerResetOnCompletion(t *testing.T) {
	e := NewEngine(1, DefaultConfig(), nil, nil)
	rec := &recorder{reset: true}
	e.AddListener(rec)
	require.NoError(t, e.Add(0, RaiseLeftHand))

	b := raisedLeft()
	for _, ms := range []int{0, 500, 1000} {
		e.Evaluate(0, 1, &b, at(ms))
	}
	assert.Equal(t, []EventKind{EventProgress, EventCompleted}, rec.kinds())
	assert.False(t, e.IsComplete(0, RaiseLeftHand, false))

	e.RemoveListener(rec)
	e.ResetUser(0)
	for _, ms := range []int{1100, 1600, 2100} {
		e.Evaluate(0, 1, &b, at(ms))
	}
	assert.Len(t, rec.events, 2, "removed listener hears nothing")
	assert.True(t, e.IsComplete(0, RaiseLeftHand, true))
	assert.False(t, e.IsComplete(0, RaiseLeftHand, true), "consumed")
}

func TestEngine_CancelOpensGateLater(t *testing.T) {
	e := NewEngine(1, DefaultConfig(), nil, nil)
	rec := &recorder{}
	e.AddListener(rec)
	require.NoError(t, e.Add(0, RaiseLeftHand))

	up, down := raisedLeft(), tpose()
	e.Evaluate(0, 1, &up, at(0))
	e.Evaluate(0, 1, &up, at(500))
	e.Evaluate(0, 1, &down, at(600))
	assert.Equal(t, []EventKind{EventProgress, EventCancelled}, rec.kinds())
	assert.True(t, e.IsCancelled(0, RaiseLeftHand))

	e.Evaluate(0, 1, &up, at(700))
	e.Evaluate(0, 1, &up, at(1500))
	assert.True(t, e.IsCancelled(0, RaiseLeftHand), "gated until 1600ms")
	assert.Equal(t, 0.0, e.Progress(0, RaiseLeftHand))

	e.Evaluate(0, 1, &up, at(1600))
	assert.False(t, e.IsCancelled(0, RaiseLeftHand))
	e.Evaluate(0, 1, &up, at(2100))
	assert.InDelta(t, 0.5, e.Progress(0, RaiseLeftHand), 1e-9)
}

func TestTracker_GlobalCooldown(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("A", stepper))
	require.NoError(t, reg.Register("B", RecognizerFunc(func(st *State, in Input) {
		st.Progress += 0.1
	})))
	tr := NewTracker(DefaultConfig(), reg)
	require.NoError(t, tr.Add("A"))
	require.NoError(t, tr.Add("B"))

	b := tpose()
	for i := 0; i < 4; i++ {
		tr.Evaluate(Input{Body: &b, Now: at(i * 100)}, nil)
	}
	// A completed on the fourth tick, before B was evaluated.
	assert.True(t, tr.IsComplete("A", false))
	assert.InDelta(t, 0.3, tr.Progress("B"), 1e-9)

	tr.Evaluate(Input{Body: &b, Now: at(900)}, nil)
	assert.InDelta(t, 0.3, tr.Progress("B"), 1e-9, "cooldown until 1000ms")
	tr.Evaluate(Input{Body: &b, Now: at(1000)}, nil)
	assert.InDelta(t, 0.4, tr.Progress("B"), 1e-9)
}

func TestTracker_ConflictingGestureStaysAtZero(t *testing.T) {
	for _, order := range [][2]string{{"A", "B"}, {"B", "A"}} {
		t.Run(order[0]+"_first", func(t *testing.T) {
			reg := NewRegistry()
			require.NoError(t, reg.Register("A", stepper))
			require.NoError(t, reg.Register("B", stepper))
			cfg := Config{MinTimeBetweenSame: 200 * time.Millisecond}
			tr := NewTracker(cfg, reg)
			require.NoError(t, tr.Add(order[0]))
			require.NoError(t, tr.Add(order[1], order[0]))

			b := tpose()
			for i := 0; i < 30; i++ {
				before := map[string]float64{"A": tr.Progress("A"), "B": tr.Progress("B")}
				tr.Evaluate(Input{Body: &b, Now: at(i * 100)}, nil)
				for _, pair := range [][2]string{{"A", "B"}, {"B", "A"}} {
					x, y := pair[0], pair[1]
					if before[x] > 0 && before[y] == 0 {
						assert.Zero(t, tr.Progress(y), "tick %d: %s progressed while %s active", i, y, x)
					}
				}
				assert.False(t, tr.Progress("A") > 0 && tr.Progress("B") > 0, "tick %d", i)
			}
			assert.Zero(t, tr.Progress(order[1]))
		})
	}
}

// ----------------------------------------------------------------------------
// Built-in recognizers
// ----------------------------------------------------------------------------

func TestPosePredicates(t *testing.T) {
	psi := tpose()
	psi.SetJoint(body.HandLeft, r3.Vec{X: -0.5, Y: 1.8, Z: 2}, body.Tracked)
	psi.SetJoint(body.HandRight, r3.Vec{X: 0.5, Y: 1.8, Z: 2}, body.Tracked)

	stop := tpose()
	stop.SetJoint(body.HandLeft, r3.Vec{X: -0.4, Y: 0.8, Z: 2}, body.Tracked)
	stop.SetJoint(body.HandRight, r3.Vec{X: 0.4, Y: 0.8, Z: 2}, body.Tracked)

	squat := tpose()
	squat.SetJoint(body.SpineBase, r3.Vec{Y: 0.6, Z: 2}, body.Tracked)

	tests := []struct {
		name  string
		b     body.TrackedBody
		check func(Input) bool
		want  bool
	}{
		{"tpose", tpose(), tPose, true},
		{"tpose not psi", tpose(), psiPose, false},
		{"tpose not stop", tpose(), stopPose, false},
		{"tpose not squat", tpose(), squatPose, false},
		{"tpose not raised", tpose(), raisedHand(body.HandLeft, body.HandRight), false},
		{"raised left", raisedLeft(), raisedHand(body.HandLeft, body.HandRight), true},
		{"raised left not right", raisedLeft(), raisedHand(body.HandRight, body.HandLeft), false},
		{"psi", psi, psiPose, true},
		{"psi not tpose", psi, tPose, false},
		{"stop", stop, stopPose, true},
		{"squat", squat, squatPose, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.b
			assert.Equal(t, tt.want, tt.check(Input{Body: &b, Now: t0}))
		})
	}
}

func TestTposeCompletesAfterHold(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)
	require.NoError(t, tr.Add(Tpose))
	b := tpose()
	for _, ms := range []int{0, 400, 800} {
		tr.Evaluate(Input{Body: &b, Now: at(ms)}, nil)
	}
	assert.False(t, tr.IsComplete(Tpose, false))
	tr.Evaluate(Input{Body: &b, Now: at(1000)}, nil)
	assert.True(t, tr.IsComplete(Tpose, false))
	st, _ := tr.State(Tpose)
	assert.Equal(t, body.SpineShoulder, st.Joint)
	assert.InDelta(t, 0.5, st.ScreenPos.X, 1e-9)
}

func TestSwipeLeft(t *testing.T) {
	e := NewEngine(1, DefaultConfig(), nil, debug.NewCollector())
	rec := &recorder{}
	e.AddListener(rec)
	for _, name := range []string{SwipeLeft, SwipeRight} {
		require.NoError(t, e.Add(0, name, DefaultConflicts(name)...))
	}

	xs := []float64{0.3, 0.35, 0.25, 0.15, 0.05, -0.05, -0.1}
	for i, x := range xs {
		b := tpose()
		b.SetJoint(body.HandRight, r3.Vec{X: x, Y: 1.4, Z: 1.6}, body.Tracked)
		e.Evaluate(0, 1, &b, at(i*100))
	}
	require.NotEmpty(t, rec.events)
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, EventCompleted, last.Kind)
	assert.Equal(t, SwipeLeft, last.Name)
	assert.Equal(t, body.HandRight, last.Joint)
	for _, ev := range rec.events {
		assert.Equal(t, SwipeLeft, ev.Name)
	}
}

func TestSwipeTimesOut(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)
	require.NoError(t, tr.Add(SwipeLeft))
	for i, x := range []float64{0.3, 0.2, 0.2, 0.2} {
		b := tpose()
		b.SetJoint(body.HandRight, r3.Vec{X: x, Y: 1.4, Z: 1.6}, body.Tracked)
		tr.Evaluate(Input{Body: &b, Now: at(i * 600)}, nil)
	}
	assert.True(t, tr.IsCancelled(SwipeLeft))
}

func TestWave(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)
	require.NoError(t, tr.Add(Wave))
	for i, x := range []float64{0.6, 0.4, 0.6, 0.4, 0.6} {
		b := tpose()
		b.SetJoint(body.HandRight, r3.Vec{X: x, Y: 1.8, Z: 2}, body.Tracked)
		tr.Evaluate(Input{Body: &b, Now: at(i * 200)}, nil)
		if i < 4 {
			assert.InDelta(t, float64(i)/4, tr.Progress(Wave), 1e-9, "tick %d", i)
		}
	}
	assert.True(t, tr.IsComplete(Wave, false))
}

func TestZoomIn(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)
	require.NoError(t, tr.Add(ZoomIn, ZoomOut))
	require.NoError(t, tr.Add(ZoomOut))
	for i, half := range []float64{0.1, 0.15, 0.2, 0.25, 0.3} {
		b := tpose()
		b.SetJoint(body.HandLeft, r3.Vec{X: -half, Y: 1.4, Z: 1.6}, body.Tracked)
		b.SetJoint(body.HandRight, r3.Vec{X: half, Y: 1.4, Z: 1.6}, body.Tracked)
		tr.Evaluate(Input{Body: &b, Now: at(i * 100)}, nil)
		assert.Zero(t, tr.Progress(ZoomOut))
	}
	assert.True(t, tr.IsComplete(ZoomIn, false))
}

func TestJump(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)
	require.NoError(t, tr.Add(Jump))
	for i, lift := range []float64{0, 0, 0.07, 0.12} {
		b := tpose()
		for _, j := range []body.JointType{body.AnkleLeft, body.AnkleRight} {
			p := b.Joints[j].Position
			p.Y += lift
			b.SetJoint(j, p, body.Tracked)
		}
		tr.Evaluate(Input{Body: &b, Now: at(i * 33)}, nil)
		if i == 2 {
			assert.InDelta(t, 0.5, tr.Progress(Jump), 1e-9, "takeoff")
		}
	}
	assert.True(t, tr.IsComplete(Jump, false))
}

func TestSquatHold(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)
	require.NoError(t, tr.Add(Squat))
	b := tpose()
	b.SetJoint(body.SpineBase, r3.Vec{Y: 0.6, Z: 2}, body.Tracked)
	tr.Evaluate(Input{Body: &b, Now: at(0)}, nil)
	tr.Evaluate(Input{Body: &b, Now: at(250)}, nil)
	assert.InDelta(t, 0.5, tr.Progress(Squat), 1e-9)
	tr.Evaluate(Input{Body: &b, Now: at(500)}, nil)
	assert.True(t, tr.IsComplete(Squat, false))
}

func TestInput_RawSelectsSensorPositions(t *testing.T) {
	b := tpose()
	b.Joints[body.HandLeft].Position = r3.Vec{X: 1}
	in := Input{Body: &b, Raw: true}
	assert.Equal(t, b.Joints[body.HandLeft].Raw, in.Pos(body.HandLeft))
	in.Raw = false
	assert.Equal(t, r3.Vec{X: 1}, in.Pos(body.HandLeft))

	b.Joints[body.Head].State = body.NotTracked
	assert.False(t, in.Tracked(body.HandLeft, body.Head))
}

// ----------------------------------------------------------------------------
// Engine slots
// ----------------------------------------------------------------------------

func TestEngine_MoveCarriesState(t *testing.T) {
	e := NewEngine(3, DefaultConfig(), nil, nil)
	require.NoError(t, e.Add(0, RaiseLeftHand))
	require.NoError(t, e.Add(1, Wave))

	b := raisedLeft()
	e.Evaluate(0, 1, &b, at(0))
	e.Evaluate(0, 1, &b, at(500))
	require.InDelta(t, 0.5, e.Progress(0, RaiseLeftHand), 1e-9)

	e.Move(0, 1)
	assert.InDelta(t, 0.5, e.Progress(1, RaiseLeftHand), 1e-9)
	assert.Equal(t, []string{Wave}, e.Tracker(0).Names())
	assert.Zero(t, e.Progress(0, RaiseLeftHand))

	assert.Error(t, e.Add(5, Wave))
	assert.Nil(t, e.Tracker(-1))
	e.Evaluate(9, 1, &b, at(0))
}

func TestConfigFromTuning(t *testing.T) {
	assert.Equal(t, DefaultConfig(), ConfigFromTuning(config.EmptyTuningConfig()))
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "progress", EventProgress.String())
	assert.Equal(t, "completed", EventCompleted.String())
	assert.Equal(t, "cancelled", EventCancelled.String())
	assert.Equal(t, "conflict", EventConflict.String())
}
