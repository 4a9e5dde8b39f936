// Package pipeline runs the per-tick chain from sensor frame to avatar
// pose: user lifecycle, joint filtering, orientation solving, constraints,
// gestures and retargeting. Each tick publishes an immutable Snapshot.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/constraint"
	"github.com/banshee-data/mocap/internal/mocap/debug"
	"github.com/banshee-data/mocap/internal/mocap/filter"
	"github.com/banshee-data/mocap/internal/mocap/gesture"
	"github.com/banshee-data/mocap/internal/mocap/orient"
	"github.com/banshee-data/mocap/internal/mocap/retarget"
	"github.com/banshee-data/mocap/internal/mocap/users"
	"github.com/banshee-data/mocap/internal/monitoring"
)

// EventSink records lifecycle and gesture events. Errors are logged and
// never stop the pipeline.
type EventSink interface {
	UserAdmitted(slot int, bodyID int64, at time.Time) error
	UserEvicted(slot int, bodyID int64, at time.Time) error
	// GestureEvent receives completions and cancellations.
	GestureEvent(e gesture.Event) error
}

// Options are the optional collaborators of a Manager. Listeners and the
// sink are called from inside Tick and must not call back into the
// Manager.
type Options struct {
	Debug     *debug.Collector
	Registry  *gesture.Registry
	Sink      EventSink
	Listeners []gesture.Listener
	// Constraints replaces the default constraint table.
	Constraints []constraint.Constraint
}

// GestureState is one gesture's progress in a snapshot.
type GestureState struct {
	Name     string
	Progress float64
	Complete bool
}

// UserState is one occupied slot in a snapshot.
type UserState struct {
	Slot       int
	BodyID     int64
	AdmittedAt time.Time
	// Present is false while the user is missing within the grace period;
	// Body then holds the last processed pose.
	Present  bool
	Body     body.TrackedBody
	Gestures []GestureState
}

// AvatarState is one registered avatar in a snapshot.
type AvatarState struct {
	Slot int
	Name string
	// Active is false while the avatar's slot is empty.
	Active bool
	Pose   retarget.Pose
}

// Snapshot is the published result of one tick. It is never modified
// after publication.
type Snapshot struct {
	Tick      uint64
	Timestamp time.Time
	// Users holds the occupied slots in ascending slot order.
	Users      []UserState
	PrimaryID  int64
	HasPrimary bool
	Avatars    []AvatarState
	Changes    users.Changes
	Debug      *debug.Frame
}

// User returns the state of slot.
func (s *Snapshot) User(slot int) (UserState, bool) {
	for _, u := range s.Users {
		if u.Slot == slot {
			return u, true
		}
	}
	return UserState{}, false
}

// Avatar returns the state of the avatar called name.
func (s *Snapshot) Avatar(name string) (AvatarState, bool) {
	for _, a := range s.Avatars {
		if a.Name == name {
			return a, true
		}
	}
	return AvatarState{}, false
}

type avatar struct {
	name string
	r    *retarget.Retargeter
}

type slotState struct {
	body     body.TrackedBody
	hasBody  bool
	present  bool
	last     time.Time
	epoch    uint64
	avatars  []avatar
	admitted time.Time
}

// Manager owns every stage's per-slot state and runs ticks. Tick and the
// mutating methods are serialised; Snapshot may be called from any
// goroutine.
type Manager struct {
	mu sync.Mutex

	cfg         Config
	users       *users.Manager
	filters     *filter.Slots
	solver      *orient.Solver
	constraints *constraint.Set
	gestures    *gesture.Engine
	debug       *debug.Collector
	sink        EventSink

	sensor    body.SensorPose
	slots     []slotState
	tick      uint64
	nextEpoch uint64

	snap atomic.Pointer[Snapshot]
}

// NewManager validates cfg and builds every stage.
func NewManager(cfg Config, opts Options) (*Manager, error) {
	reg := opts.Registry
	if reg == nil {
		reg = gesture.NewRegistry()
	}
	um, err := users.NewManager(cfg.Users, reg, opts.Debug)
	if err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	n := cfg.Users.MaxUsers

	table := opts.Constraints
	if table == nil {
		table = constraint.DefaultConstraints()
	}
	cs, err := constraint.NewSet(n, cfg.Constraint, table, opts.Debug)
	if err != nil {
		return nil, fmt.Errorf("constraints: %w", err)
	}

	ge := gesture.NewEngine(n, cfg.Gesture, reg, opts.Debug)
	names := cfg.Gestures
	if names == nil {
		names = reg.Names()
	}
	for slot := 0; slot < n; slot++ {
		for _, name := range names {
			if err := ge.Add(slot, name, gesture.DefaultConflicts(name)...); err != nil {
				return nil, fmt.Errorf("gesture %q: %w", name, err)
			}
		}
	}
	for _, l := range opts.Listeners {
		ge.AddListener(l)
	}
	if opts.Sink != nil {
		ge.AddListener(sinkListener{opts.Sink})
	}

	m := &Manager{
		cfg:         cfg,
		users:       um,
		filters:     filter.NewSlots(n, cfg.Filter),
		solver:      orient.NewSolver(n, cfg.Orient, opts.Debug),
		constraints: cs,
		gestures:    ge,
		debug:       opts.Debug,
		sink:        opts.Sink,
		sensor:      cfg.Sensor,
		slots:       make([]slotState, n),
	}
	m.snap.Store(&Snapshot{})
	return m, nil
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Users returns the lifecycle manager. Its query methods are safe to call
// concurrently with Tick.
func (m *Manager) Users() *users.Manager {
	return m.users
}

// Snapshot returns the last published tick.
func (m *Manager) Snapshot() *Snapshot {
	return m.snap.Load()
}

// RegisterAvatar binds r to slot under name. Names are unique across
// slots.
func (m *Manager) RegisterAvatar(slot int, name string, r *retarget.Retargeter) error {
	if r == nil {
		return errors.New("pipeline: nil retargeter")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot < 0 || slot >= len(m.slots) {
		return fmt.Errorf("pipeline: slot %d out of range [0, %d)", slot, len(m.slots))
	}
	for i := range m.slots {
		for _, a := range m.slots[i].avatars {
			if a.name == name {
				return fmt.Errorf("pipeline: avatar %q already registered", name)
			}
		}
	}
	r.Reset()
	m.slots[slot].avatars = append(m.slots[slot].avatars, avatar{name: name, r: r})
	monitoring.Opsf("avatar %s bound to slot %d", name, slot)
	return nil
}

// UnregisterAvatar removes the avatar called name.
func (m *Manager) UnregisterAvatar(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.slots {
		s := &m.slots[i]
		for k, a := range s.avatars {
			if a.name == name {
				s.avatars = append(s.avatars[:k], s.avatars[k+1:]...)
				monitoring.Opsf("avatar %s unbound from slot %d", name, i)
				return true
			}
		}
	}
	return false
}

// AddListener registers l for gesture callbacks.
func (m *Manager) AddListener(l gesture.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gestures.AddListener(l)
}

// RemoveListener unregisters l.
func (m *Manager) RemoveListener(l gesture.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gestures.RemoveListener(l)
}

// IsGestureComplete reports whether slot's gesture name is complete,
// consuming the completion when reset is set.
func (m *Manager) IsGestureComplete(slot int, name string, reset bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gestures.IsComplete(slot, name, reset)
}

// Reset evicts every user and restores all per-slot state. Avatars stay
// registered and return to their bind pose.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users.Reset()
	for i := range m.slots {
		m.resetSlot(i)
	}
	m.sensor = m.cfg.Sensor
	m.publish(time.Time{}, users.Changes{})
}

// Tick runs one frame through every stage and publishes the result. A nil
// frame leaves all state untouched and returns the current snapshot.
func (m *Manager) Tick(frame *body.Frame) *Snapshot {
	if frame == nil {
		return m.Snapshot()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tick++
	now := frame.Timestamp
	m.debug.BeginTick(m.tick, now)

	work := frame.Clone()
	if work.Pose != nil {
		m.sensor = *work.Pose
	}
	for i := range work.Bodies {
		if work.Bodies[i].Tracked {
			m.sensor.TransformBody(&work.Bodies[i])
		}
	}

	changes := m.users.Update(&work, now)
	m.applyChanges(changes, now)

	m.solver.SetFaceTracking(work.FaceTracking)
	for slot := range m.slots {
		m.process(slot, &work, now)
	}

	snap := m.publish(now, changes)
	if monitoring.TraceEnabled() {
		monitoring.Tracef("tick %d: %d users, %d avatars", snap.Tick, len(snap.Users), len(snap.Avatars))
	}
	return snap
}

func (m *Manager) applyChanges(c users.Changes, now time.Time) {
	for _, e := range c.Evicted {
		m.resetSlot(e.Slot)
		if m.sink != nil {
			if err := m.sink.UserEvicted(e.Slot, e.BodyID, now); err != nil {
				monitoring.Diagf("event sink: user evicted: %v", err)
			}
		}
	}
	for _, mv := range c.Moves {
		m.filters.Move(mv.From, mv.To)
		m.solver.Move(mv.From, mv.To)
		m.constraints.Move(mv.From, mv.To)
		m.gestures.Move(mv.From, mv.To)

		from, to := &m.slots[mv.From], &m.slots[mv.To]
		to.body, to.hasBody, to.present, to.last, to.admitted = from.body, from.hasBody, from.present, from.last, from.admitted
		m.resetSlot(mv.From)
		// Avatars stay with their slot, so they now follow a different
		// user.
		m.newEpoch(mv.To)
		m.debug.RecordAdmission(to.body.ID, mv.To, "move", fmt.Sprintf("from slot %d", mv.From))
	}
	for _, a := range c.Admitted {
		m.resetSlot(a.Slot)
		m.newEpoch(a.Slot)
		m.slots[a.Slot].admitted = now
		if m.sink != nil {
			if err := m.sink.UserAdmitted(a.Slot, a.BodyID, now); err != nil {
				monitoring.Diagf("event sink: user admitted: %v", err)
			}
		}
	}
}

func (m *Manager) newEpoch(slot int) {
	m.nextEpoch++
	m.slots[slot].epoch = m.nextEpoch
}

// resetSlot clears every stage's state for slot and returns its avatars
// to the bind pose.
func (m *Manager) resetSlot(slot int) {
	m.filters.Reset(slot)
	m.solver.Reset(slot)
	m.constraints.Reset(slot)
	m.gestures.ResetUser(slot)
	s := &m.slots[slot]
	for _, a := range s.avatars {
		a.r.Reset()
	}
	s.body, s.hasBody, s.present, s.last, s.admitted = body.TrackedBody{}, false, false, time.Time{}, time.Time{}
}

func (m *Manager) process(slot int, frame *body.Frame, now time.Time) {
	s := &m.slots[slot]
	info, ok := m.users.Slot(slot)
	if !ok {
		return
	}
	s.present = info.LastSeen.Equal(now)
	if !s.present {
		return
	}
	b, ok := frame.Find(info.BodyID)
	if !ok {
		s.present = false
		return
	}

	dt := 0.0
	if !s.last.IsZero() {
		dt = now.Sub(s.last).Seconds()
	}
	s.last = now

	m.filters.Apply(slot, b, now)
	m.solver.Solve(slot, b, now)
	m.constraints.Apply(slot, b, dt)
	m.gestures.Evaluate(slot, b.ID, b, now)

	s.body = b.Clone()
	s.hasBody = true
	for _, a := range s.avatars {
		a.r.Update(retarget.UserPose{Body: &s.body, Epoch: s.epoch}, dt)
	}
}

func (m *Manager) publish(now time.Time, changes users.Changes) *Snapshot {
	snap := &Snapshot{
		Tick:      m.tick,
		Timestamp: now,
		Changes:   changes,
		Debug:     m.debug.Emit(),
	}
	snap.PrimaryID, snap.HasPrimary = m.users.PrimaryUser()

	for i := range m.slots {
		s := &m.slots[i]
		info, occupied := m.users.Slot(i)
		if occupied {
			u := UserState{
				Slot:       i,
				BodyID:     info.BodyID,
				AdmittedAt: info.AdmittedAt,
				Present:    s.present,
			}
			if s.hasBody {
				u.Body = s.body.Clone()
			}
			if t := m.gestures.Tracker(i); t != nil {
				for _, name := range t.Names() {
					st, _ := t.State(name)
					u.Gestures = append(u.Gestures, GestureState{Name: name, Progress: st.Progress, Complete: st.Complete})
				}
			}
			snap.Users = append(snap.Users, u)
		}
		for _, a := range s.avatars {
			snap.Avatars = append(snap.Avatars, AvatarState{
				Slot:   i,
				Name:   a.name,
				Active: occupied && s.hasBody,
				Pose:   a.r.Pose(),
			})
		}
	}
	m.snap.Store(snap)
	return snap
}

// sinkListener forwards finished gestures to an EventSink.
type sinkListener struct {
	sink EventSink
}

func (l sinkListener) GestureInProgress(gesture.Event) {}

func (l sinkListener) GestureCompleted(e gesture.Event) bool {
	l.record(e)
	return false
}

func (l sinkListener) GestureCancelled(e gesture.Event) {
	l.record(e)
}

func (l sinkListener) record(e gesture.Event) {
	if err := l.sink.GestureEvent(e); err != nil {
		monitoring.Diagf("event sink: gesture %s: %v", e.Name, err)
	}
}
