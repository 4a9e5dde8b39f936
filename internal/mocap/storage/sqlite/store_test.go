package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/gesture"
	"github.com/banshee-data/mocap/internal/mocap/pipeline"
)

var t0 = time.Unix(1000, 0)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mocap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_MigratesToLatest(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	v, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)

	// Running again is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	require.NoError(t, s.MigrateDown())
	v, _, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	require.NoError(t, s.MigrateUp())
	v, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "mocap.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.StartSession("synthetic", t0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	sessions, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
}

func TestEventsRequireSession(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	assert.ErrorIs(t, s.UserAdmitted(0, 7, t0), ErrNoSession)
	assert.ErrorIs(t, s.GestureEvent(gesture.Event{Name: gesture.Wave}), ErrNoSession)
	assert.ErrorIs(t, s.EndSession(t0), ErrNoSession)
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	s := openStore(t)

	first, err := s.StartSession("relay", t0)
	require.NoError(t, err)
	cur, ok := s.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, first, cur)

	// Starting another session ends the open one.
	second, err := s.StartSession("relay", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	require.NoError(t, s.EndSession(t0.Add(2*time.Minute)))
	_, ok = s.CurrentSession()
	assert.False(t, ok)

	sessions, err := s.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first, sessions[0].ID)
	require.NotNil(t, sessions[0].EndedAt)
	assert.True(t, sessions[0].EndedAt.Equal(t0.Add(time.Minute)))
	require.NotNil(t, sessions[1].EndedAt)
	assert.True(t, sessions[1].StartedAt.Equal(t0.Add(time.Minute)))
}

func TestUserEvents(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	id, err := s.StartSession("relay", t0)
	require.NoError(t, err)

	require.NoError(t, s.UserAdmitted(0, 7, t0))
	require.NoError(t, s.UserAdmitted(1, 9, t0.Add(time.Second)))
	require.NoError(t, s.UserEvicted(0, 7, t0.Add(2*time.Second)))

	got, err := s.UserEvents(id)
	require.NoError(t, err)
	want := []UserEvent{
		{SessionID: id, Kind: KindAdmitted, Slot: 0, BodyID: 7, At: t0},
		{SessionID: id, Kind: KindAdmitted, Slot: 1, BodyID: 9, At: t0.Add(time.Second)},
		{SessionID: id, Kind: KindEvicted, Slot: 0, BodyID: 7, At: t0.Add(2 * time.Second)},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(UserEvent{}, "ID")); diff != "" {
		t.Errorf("user events (-want +got):\n%s", diff)
	}
}

func TestGestureEvents(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	id, err := s.StartSession("relay", t0)
	require.NoError(t, err)

	events := []gesture.Event{
		{Kind: gesture.EventCompleted, UserID: 7, Slot: 0, Name: gesture.Wave, Progress: 1, Joint: body.HandRight, ScreenPos: r3.Vec{X: 0.25, Y: 0.5}, At: t0},
		{Kind: gesture.EventCancelled, UserID: 7, Slot: 0, Name: gesture.SwipeLeft, Joint: body.HandLeft, At: t0.Add(time.Second)},
		{Kind: gesture.EventCompleted, UserID: 9, Slot: 1, Name: gesture.Wave, Progress: 1, Joint: body.HandLeft, At: t0.Add(2 * time.Second)},
	}
	for _, e := range events {
		require.NoError(t, s.GestureEvent(e))
	}

	got, err := s.GestureEvents(id)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.Equal(t, GestureEvent{
		ID: got[0].ID, SessionID: id, Gesture: gesture.Wave, Kind: "completed", Slot: 0, BodyID: 7,
		Progress: 1, Joint: "HandRight", ScreenX: 0.25, ScreenY: 0.5, At: t0,
	}, got[0])
	assert.Equal(t, "cancelled", got[1].Kind)

	counts, err := s.GestureCounts(id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{gesture.Wave: 2}, counts)
}

func TestStore_IsPipelineSink(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	id, err := s.StartSession("test", t0)
	require.NoError(t, err)

	cfg := pipeline.DefaultConfig()
	cfg.Gestures = []string{}
	m, err := pipeline.NewManager(cfg, pipeline.Options{Sink: s})
	require.NoError(t, err)

	f := body.NewFrame(t0)
	f.Bodies[0] = body.TPose(7, r3.Vec{Y: 1, Z: 2})
	m.Tick(&f)
	empty := body.NewFrame(t0.Add(2 * time.Second))
	m.Tick(&empty)

	got, err := s.UserEvents(id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, KindAdmitted, got[0].Kind)
	assert.Equal(t, KindEvicted, got[1].Kind)
	assert.Equal(t, int64(7), got[1].BodyID)
}
