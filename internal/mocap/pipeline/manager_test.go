package pipeline

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
	"github.com/banshee-data/mocap/internal/mocap/gesture"
	"github.com/banshee-data/mocap/internal/mocap/retarget"
	"github.com/banshee-data/mocap/internal/mocap/users"
)

var t0 = time.Unix(1000, 0)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func frameAt(ts time.Time, bodies ...body.TrackedBody) *body.Frame {
	f := body.NewFrame(ts)
	copy(f.Bodies, bodies)
	return &f
}

// testConfig tracks no gestures and snaps the avatar to every pose.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Gestures = []string{}
	cfg.Retarget.Smoothing = 0
	return cfg
}

func newManager(t *testing.T, cfg Config, opts Options) *Manager {
	t.Helper()
	m, err := NewManager(cfg, opts)
	require.NoError(t, err)
	return m
}

func newAvatar(t *testing.T) *retarget.Retargeter {
	t.Helper()
	r, err := retarget.New(retarget.DefaultRig(), retarget.Config{Smoothing: 0, VerticalMovement: true, FlexAngleDeg: 70})
	require.NoError(t, err)
	return r
}

func assertVecNear(t *testing.T, want, got r3.Vec, tol float64, msgAndArgs ...interface{}) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, tol, msgAndArgs...)
	assert.InDelta(t, want.Y, got.Y, tol, msgAndArgs...)
	assert.InDelta(t, want.Z, got.Z, tol, msgAndArgs...)
}

type admission struct {
	Slot int
	ID   int64
}

type fakeSink struct {
	admitted []admission
	evicted  []admission
	gestures []gesture.Event
	err      error
}

func (s *fakeSink) UserAdmitted(slot int, id int64, _ time.Time) error {
	s.admitted = append(s.admitted, admission{slot, id})
	return s.err
}

func (s *fakeSink) UserEvicted(slot int, id int64, _ time.Time) error {
	s.evicted = append(s.evicted, admission{slot, id})
	return s.err
}

func (s *fakeSink) GestureEvent(e gesture.Event) error {
	s.gestures = append(s.gestures, e)
	return s.err
}

type recorder struct {
	completed []gesture.Event
}

func (r *recorder) GestureInProgress(gesture.Event) {}
func (r *recorder) GestureCancelled(gesture.Event)  {}
func (r *recorder) GestureCompleted(e gesture.Event) bool {
	r.completed = append(r.completed, e)
	return false
}

// ----------------------------------------------------------------------------
// Tick
// ----------------------------------------------------------------------------

func TestTick_NilFrameIsNoop(t *testing.T) {
	t.Parallel()
	m := newManager(t, testConfig(), Options{})
	before := m.Snapshot()
	assert.Same(t, before, m.Tick(nil))
	assert.Equal(t, uint64(0), m.Snapshot().Tick)
}

func TestTick_AdmitsAndPublishes(t *testing.T) {
	t.Parallel()
	m := newManager(t, testConfig(), Options{})

	snap := m.Tick(frameAt(t0, body.TPose(7, r3.Vec{Y: 1, Z: 2})))
	assert.Same(t, snap, m.Snapshot())
	assert.Equal(t, uint64(1), snap.Tick)
	assert.Equal(t, t0, snap.Timestamp)
	assert.True(t, snap.HasPrimary)
	assert.Equal(t, int64(7), snap.PrimaryID)
	if diff := cmp.Diff([]users.Admission{{Slot: 0, BodyID: 7}}, snap.Changes.Admitted); diff != "" {
		t.Errorf("admitted (-want +got):\n%s", diff)
	}

	require.Len(t, snap.Users, 1)
	u := snap.Users[0]
	assert.Equal(t, 0, u.Slot)
	assert.Equal(t, int64(7), u.BodyID)
	assert.Equal(t, t0, u.AdmittedAt)
	assert.True(t, u.Present)
	assertVecNear(t, r3.Vec{Y: 1, Z: 2}, u.Body.Joints[body.SpineBase].Position, 1e-9)
}

func TestTick_TooCloseIsNeverAdmitted(t *testing.T) {
	t.Parallel()
	m := newManager(t, testConfig(), Options{})
	for i := 0; i < 10; i++ {
		snap := m.Tick(frameAt(at(33*i), body.TPose(7, r3.Vec{Y: 1, Z: 0.3})))
		assert.Empty(t, snap.Users)
		assert.False(t, snap.HasPrimary)
	}
}

func TestTick_PublishedSnapshotIsNotModified(t *testing.T) {
	t.Parallel()
	m := newManager(t, testConfig(), Options{})
	first := m.Tick(frameAt(t0, body.TPose(7, r3.Vec{Y: 1, Z: 2})))
	m.Tick(frameAt(at(33), body.TPose(7, r3.Vec{X: 0.4, Y: 1, Z: 2})))

	assert.Equal(t, uint64(1), first.Tick)
	assertVecNear(t, r3.Vec{Y: 1, Z: 2}, first.Users[0].Body.Joints[body.SpineBase].Raw, 1e-9)
	assert.Equal(t, uint64(2), m.Snapshot().Tick)
}

func TestTick_SensorPose(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Sensor = body.NewSensorPose(1, 0)
	m := newManager(t, cfg, Options{})

	snap := m.Tick(frameAt(t0, body.TPose(7, r3.Vec{Z: 2})))
	require.Len(t, snap.Users, 1)
	assertVecNear(t, r3.Vec{Y: 1, Z: 2}, snap.Users[0].Body.Joints[body.SpineBase].Raw, 1e-9)

	// A frame's own calibration replaces the configured pose and sticks.
	f := frameAt(at(33), body.TPose(7, r3.Vec{Z: 2}))
	p := body.NewSensorPose(2, 0)
	f.Pose = &p
	snap = m.Tick(f)
	assertVecNear(t, r3.Vec{Y: 2, Z: 2}, snap.Users[0].Body.Joints[body.SpineBase].Raw, 1e-9)

	snap = m.Tick(frameAt(at(66), body.TPose(7, r3.Vec{Z: 2})))
	assertVecNear(t, r3.Vec{Y: 2, Z: 2}, snap.Users[0].Body.Joints[body.SpineBase].Raw, 1e-9)
}

func TestTick_DoesNotModifyInputFrame(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Sensor = body.NewSensorPose(1, 0)
	m := newManager(t, cfg, Options{})
	f := frameAt(t0, body.TPose(7, r3.Vec{Z: 2}))
	m.Tick(f)
	assertVecNear(t, r3.Vec{Z: 2}, f.Bodies[0].Joints[body.SpineBase].Raw, 0)
}

// ----------------------------------------------------------------------------
// Lifecycle
// ----------------------------------------------------------------------------

func TestTick_GraceThenEviction(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	m := newManager(t, testConfig(), Options{Sink: sink})
	avatar := newAvatar(t)
	require.NoError(t, m.RegisterAvatar(0, "a0", avatar))
	bind := newAvatar(t).Pose()

	m.Tick(frameAt(t0, body.TPose(7, r3.Vec{Y: 1, Z: 2})))
	a, ok := m.Snapshot().Avatar("a0")
	require.True(t, ok)
	assert.True(t, a.Active)

	// Missing within the grace period: slot kept, last pose held.
	snap := m.Tick(frameAt(at(500)))
	require.Len(t, snap.Users, 1)
	assert.False(t, snap.Users[0].Present)
	assertVecNear(t, r3.Vec{Y: 1, Z: 2}, snap.Users[0].Body.Joints[body.SpineBase].Position, 1e-9)

	snap = m.Tick(frameAt(at(1000)))
	assert.Empty(t, snap.Users)
	assert.False(t, snap.HasPrimary)
	if diff := cmp.Diff([]users.Admission{{Slot: 0, BodyID: 7}}, snap.Changes.Evicted); diff != "" {
		t.Errorf("evicted (-want +got):\n%s", diff)
	}
	a, ok = snap.Avatar("a0")
	require.True(t, ok)
	assert.False(t, a.Active)
	if diff := cmp.Diff(bind, a.Pose); diff != "" {
		t.Errorf("evicted avatar is not in its bind pose (-want +got):\n%s", diff)
	}

	assert.Equal(t, []admission{{0, 7}}, sink.admitted)
	assert.Equal(t, []admission{{0, 7}}, sink.evicted)
}

func TestTick_DistanceOrderingMovesStateAndRecalibratesAvatars(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Users.Ordering = users.OrderDistance
	m := newManager(t, cfg, Options{})
	require.NoError(t, m.RegisterAvatar(0, "a0", newAvatar(t)))

	far := body.TPose(1, r3.Vec{Y: 1, Z: 2})
	near := body.TPose(2, r3.Vec{Y: 1, Z: 1})
	m.Tick(frameAt(t0, far))
	snap := m.Tick(frameAt(at(33), far, near))

	if diff := cmp.Diff([]users.Move{{From: 0, To: 1}}, snap.Changes.Moves); diff != "" {
		t.Errorf("moves (-want +got):\n%s", diff)
	}
	require.Len(t, snap.Users, 2)
	assert.Equal(t, int64(2), snap.Users[0].BodyID)
	assert.Equal(t, int64(1), snap.Users[1].BodyID)
	assert.Equal(t, t0, snap.Users[1].AdmittedAt)
	assertVecNear(t, r3.Vec{Y: 1, Z: 2}, snap.Users[1].Body.Joints[body.SpineBase].Position, 1e-9)

	// Slot 0's avatar now follows the nearer user from its own origin.
	a, ok := snap.Avatar("a0")
	require.True(t, ok)
	assertVecNear(t, r3.Vec{}, a.Pose.Root, 1e-9)
}

// ----------------------------------------------------------------------------
// Retargeting
// ----------------------------------------------------------------------------

func TestTick_LeftHandStaysOnTheLeft(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Constraint.Enabled = false
	m := newManager(t, cfg, Options{})
	require.NoError(t, m.RegisterAvatar(0, "a0", newAvatar(t)))

	snap := m.Tick(frameAt(t0, body.TPose(7, r3.Vec{Y: 1, Z: 2})))
	a, ok := snap.Avatar("a0")
	require.True(t, ok)
	left, ok := a.Pose.Bone("LeftHand")
	require.True(t, ok)
	right, ok := a.Pose.Bone("RightHand")
	require.True(t, ok)
	assert.Less(t, left.Position.X, 0.0)
	assert.Greater(t, right.Position.X, 0.0)
	assertVecNear(t, r3.Vec{X: -0.75, Y: 0.5}, left.Position, 1e-6)
}

func TestTick_RootFollowsPelvis(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	m := newManager(t, cfg, Options{})
	require.NoError(t, m.RegisterAvatar(0, "a0", newAvatar(t)))

	m.Tick(frameAt(t0, body.TPose(7, r3.Vec{Y: 1, Z: 2})))
	snap := m.Tick(frameAt(at(33), body.TPose(7, r3.Vec{X: 0.2, Y: 1, Z: 2})))
	a, _ := snap.Avatar("a0")
	assert.Greater(t, a.Pose.Root.X, 0.0)
}

// ----------------------------------------------------------------------------
// Gestures
// ----------------------------------------------------------------------------

func TestTick_GestureEventsReachListenersAndSink(t *testing.T) {
	t.Parallel()
	reg := gesture.NewRegistry()
	require.NoError(t, reg.Register("tap", gesture.RecognizerFunc(func(st *gesture.State, _ gesture.Input) {
		st.Finish()
	})))
	cfg := testConfig()
	cfg.Gestures = []string{"tap"}
	sink := &fakeSink{err: errors.New("disk full")}
	rec := &recorder{}
	m := newManager(t, cfg, Options{Registry: reg, Sink: sink, Listeners: []gesture.Listener{rec}})

	snap := m.Tick(frameAt(t0, body.TPose(7, r3.Vec{Y: 1, Z: 2})))
	require.Len(t, rec.completed, 1)
	assert.Equal(t, int64(7), rec.completed[0].UserID)
	assert.Equal(t, "tap", rec.completed[0].Name)
	require.Len(t, sink.gestures, 1, "sink errors are logged, not fatal")
	assert.Equal(t, gesture.EventCompleted, sink.gestures[0].Kind)

	require.Len(t, snap.Users, 1)
	if diff := cmp.Diff([]GestureState{{Name: "tap", Progress: 1, Complete: true}}, snap.Users[0].Gestures); diff != "" {
		t.Errorf("gestures (-want +got):\n%s", diff)
	}
	assert.True(t, m.IsGestureComplete(0, "tap", true))
	assert.False(t, m.IsGestureComplete(0, "tap", false))
}

func TestNewManager_RejectsUnknownGesture(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Gestures = []string{"moonwalk"}
	_, err := NewManager(cfg, Options{})
	assert.ErrorIs(t, err, gesture.ErrUnknownGesture)
}

func TestNewManager_RejectsBadUsers(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Users.MaxUsers = 0
	_, err := NewManager(cfg, Options{})
	assert.Error(t, err)
}

// ----------------------------------------------------------------------------
// Avatars and debug
// ----------------------------------------------------------------------------

func TestRegisterAvatar(t *testing.T) {
	t.Parallel()
	m := newManager(t, testConfig(), Options{})
	assert.Error(t, m.RegisterAvatar(0, "a", nil))
	assert.Error(t, m.RegisterAvatar(-1, "a", newAvatar(t)))
	assert.Error(t, m.RegisterAvatar(6, "a", newAvatar(t)))
	require.NoError(t, m.RegisterAvatar(1, "a", newAvatar(t)))
	assert.Error(t, m.RegisterAvatar(2, "a", newAvatar(t)), "names are unique")

	snap := m.Tick(frameAt(t0))
	a, ok := snap.Avatar("a")
	require.True(t, ok)
	assert.Equal(t, 1, a.Slot)
	assert.False(t, a.Active)

	assert.True(t, m.UnregisterAvatar("a"))
	assert.False(t, m.UnregisterAvatar("a"))
	_, ok = m.Tick(frameAt(at(33))).Avatar("a")
	assert.False(t, ok)
}

func TestTick_EmitsDebugFrame(t *testing.T) {
	t.Parallel()
	dbg := debug.NewCollector()
	dbg.SetEnabled(true)
	m := newManager(t, testConfig(), Options{Debug: dbg})

	snap := m.Tick(frameAt(t0, body.TPose(7, r3.Vec{Y: 1, Z: 2})))
	require.NotNil(t, snap.Debug)
	assert.Equal(t, uint64(1), snap.Debug.Tick)
	require.NotEmpty(t, snap.Debug.Admissions)
	assert.Equal(t, "admit", snap.Debug.Admissions[0].Action)
}

func TestReset(t *testing.T) {
	t.Parallel()
	m := newManager(t, testConfig(), Options{})
	m.Tick(frameAt(t0, body.TPose(7, r3.Vec{Y: 1, Z: 2})))
	m.Reset()
	assert.Empty(t, m.Snapshot().Users)
	assert.Empty(t, m.Users().Occupied())

	snap := m.Tick(frameAt(at(33), body.TPose(7, r3.Vec{Y: 1, Z: 2})))
	if diff := cmp.Diff([]users.Admission{{Slot: 0, BodyID: 7}}, snap.Changes.Admitted); diff != "" {
		t.Errorf("readmission (-want +got):\n%s", diff)
	}
}

func TestConfigFromTuning(t *testing.T) {
	t.Parallel()
	cfg, err := ConfigFromTuning(&config.TuningConfig{})
	require.NoError(t, err)
	assert.Equal(t, 33*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, body.NewSensorPose(1.0, 0), cfg.Sensor)
	assert.Equal(t, config.MaxUsersLimit, cfg.Users.MaxUsers)

	bad := "sideways"
	_, err = ConfigFromTuning(&config.TuningConfig{UserOrdering: &bad})
	assert.Error(t, err)
}
