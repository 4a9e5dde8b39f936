// Package users assigns sensor bodies to stable user slots.
//
// A body is admitted once it passes the distance gates and, when
// configured, completes a calibration gesture on its raw joint positions.
// An admitted user keeps its slot through short tracking dropouts and is
// evicted only after WaitBeforeRemove of continuous absence.
package users

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/mocap/internal/config"
	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/debug"
	"github.com/banshee-data/mocap/internal/mocap/gesture"
	"github.com/banshee-data/mocap/internal/monitoring"
)

// Rejection reasons reported to the debug collector.
const (
	ReasonTooClose    = "too_close"
	ReasonTooFar      = "too_far"
	ReasonTooWide     = "too_wide"
	ReasonNoFreeSlot  = "no_free_slot"
	ReasonCalibrating = "calibrating"
	ReasonAbsent      = "absent"
)

// Slot is one occupied user slot.
type Slot struct {
	Index      int
	BodyID     int64
	AdmittedAt time.Time
	LastSeen   time.Time
	// Key is the ordering key captured at admission.
	Key float64
}

// Admission names a body and the slot it was admitted to or evicted from.
type Admission struct {
	Slot   int
	BodyID int64
}

// Move is a slot whose occupant shifted to another index.
type Move struct {
	From, To int
}

// Changes is the outcome of one Update. Per-slot state owners apply it in
// field order: reset each Evicted slot, then apply Moves in sequence, then
// reset each Admitted slot. Evicted uses slot indices from before the
// update, Admitted uses the final indices.
type Changes struct {
	Evicted  []Admission
	Moves    []Move
	Admitted []Admission
}

// Empty reports whether the update changed no slot.
func (c Changes) Empty() bool {
	return len(c.Evicted) == 0 && len(c.Moves) == 0 && len(c.Admitted) == 0
}

// Stats counts lifecycle decisions since the manager was created.
type Stats struct {
	Admitted  uint64
	Evicted   uint64
	Rejected  uint64 // bodies failing a distance gate, counted once per reason change
	Exhausted uint64 // bodies turned away for lack of a free slot
}

// Manager maps sensor body ids to user slots.
type Manager struct {
	mu sync.RWMutex

	cfg    Config
	reg    *gesture.Registry
	debug  *debug.Collector
	slots  []*Slot
	byBody map[int64]int

	calib    map[int64]*gesture.Tracker
	rejected map[int64]string
	stats    Stats
}

// NewManager returns a manager with cfg.MaxUsers empty slots. reg is used
// to look up the calibration gesture; nil uses the built-ins. dbg may be
// nil.
func NewManager(cfg Config, reg *gesture.Registry, dbg *debug.Collector) (*Manager, error) {
	if cfg.MaxUsers < 1 || cfg.MaxUsers > config.MaxUsersLimit {
		return nil, fmt.Errorf("max users %d out of range [1, %d]", cfg.MaxUsers, config.MaxUsersLimit)
	}
	if cfg.WaitBeforeRemove < 0 {
		return nil, fmt.Errorf("negative wait before remove %s", cfg.WaitBeforeRemove)
	}
	if reg == nil {
		reg = gesture.NewRegistry()
	}
	if cfg.CalibrationGesture != "" {
		if _, err := reg.Lookup(cfg.CalibrationGesture); err != nil {
			return nil, fmt.Errorf("calibration gesture: %w", err)
		}
	}
	return &Manager{
		cfg:      cfg,
		reg:      reg,
		debug:    dbg,
		slots:    make([]*Slot, cfg.MaxUsers),
		byBody:   make(map[int64]int),
		calib:    make(map[int64]*gesture.Tracker),
		rejected: make(map[int64]string),
	}, nil
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Update admits, retains and evicts users for one frame. Frames with
// duplicate body ids use the first occurrence.
func (m *Manager) Update(frame *body.Frame, now time.Time) Changes {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ch Changes
	if frame == nil {
		return ch
	}

	before := make(map[int64]int, len(m.byBody))
	for id, s := range m.byBody {
		before[id] = s
	}

	// Step 1: presence. A mapped body failing a gate counts as absent.
	seen := make(map[int64]bool, len(frame.Bodies))
	var candidates []*body.TrackedBody
	for i := range frame.Bodies {
		b := &frame.Bodies[i]
		if !b.Tracked || seen[b.ID] {
			continue
		}
		seen[b.ID] = true
		if reason := m.gate(b); reason != "" {
			m.reject(b.ID, reason)
			continue
		}
		if slot, ok := m.byBody[b.ID]; ok {
			delete(m.rejected, b.ID)
			m.slots[slot].LastSeen = now
			continue
		}
		candidates = append(candidates, b)
	}
	m.forget(seen)

	// Step 2: evict users absent for the grace period. Walking down keeps
	// lower indices stable while higher slots compact.
	for i := len(m.slots) - 1; i >= 0; i-- {
		s := m.slots[i]
		if s == nil || s.LastSeen.Equal(now) || now.Sub(s.LastSeen) < m.cfg.WaitBeforeRemove {
			continue
		}
		ch.Evicted = append(ch.Evicted, Admission{Slot: before[s.BodyID], BodyID: s.BodyID})
		m.evict(i)
	}

	// Step 3: admit new bodies while slots remain.
	var admitted []int64
	for _, b := range candidates {
		if m.count() >= m.cfg.MaxUsers {
			if m.rejected[b.ID] != ReasonNoFreeSlot {
				m.stats.Exhausted++
				m.rejected[b.ID] = ReasonNoFreeSlot
				monitoring.Diagf("body %d not admitted: all %d slots occupied", b.ID, m.cfg.MaxUsers)
				m.debug.RecordAdmission(b.ID, -1, "reject", ReasonNoFreeSlot)
			}
			continue
		}
		if !m.calibrated(b, now) {
			if m.rejected[b.ID] != ReasonCalibrating {
				m.rejected[b.ID] = ReasonCalibrating
				m.debug.RecordAdmission(b.ID, -1, "pending", ReasonCalibrating)
			}
			continue
		}
		delete(m.rejected, b.ID)
		m.admit(b, now)
		admitted = append(admitted, b.ID)
	}

	// Step 4: report how surviving users moved.
	for id, old := range before {
		if cur, ok := m.byBody[id]; ok && cur != old {
			ch.Moves = append(ch.Moves, Move{From: old, To: cur})
		}
	}
	sortMoves(ch.Moves)
	for _, id := range admitted {
		ch.Admitted = append(ch.Admitted, Admission{Slot: m.byBody[id], BodyID: id})
	}
	return ch
}

// gate returns the reason b fails the distance gates, or "".
func (m *Manager) gate(b *body.TrackedBody) string {
	if !b.IsTracked(body.SpineBase) {
		return ReasonAbsent
	}
	p := b.Pelvis()
	switch {
	case p.Z < m.cfg.MinDistance:
		return ReasonTooClose
	case m.cfg.MaxDistance > 0 && p.Z > m.cfg.MaxDistance:
		return ReasonTooFar
	case m.cfg.MaxLateral > 0 && math.Abs(p.X) > m.cfg.MaxLateral:
		return ReasonTooWide
	}
	return ""
}

func (m *Manager) reject(id int64, reason string) {
	if m.rejected[id] == reason {
		return
	}
	m.rejected[id] = reason
	delete(m.calib, id)
	if _, mapped := m.byBody[id]; mapped {
		return
	}
	m.stats.Rejected++
	monitoring.Diagf("body %d not admitted: %s", id, reason)
	m.debug.RecordAdmission(id, -1, "reject", reason)
}

// forget drops per-body bookkeeping for bodies missing from the frame.
func (m *Manager) forget(seen map[int64]bool) {
	for id := range m.rejected {
		if !seen[id] {
			delete(m.rejected, id)
		}
	}
	for id := range m.calib {
		if !seen[id] {
			delete(m.calib, id)
		}
	}
}

// calibrated runs the calibration gesture on b's raw positions.
func (m *Manager) calibrated(b *body.TrackedBody, now time.Time) bool {
	name := m.cfg.CalibrationGesture
	if name == "" {
		return true
	}
	tr, ok := m.calib[b.ID]
	if !ok {
		tr = gesture.NewTracker(gesture.Config{}, m.reg)
		if err := tr.Add(name); err != nil {
			return false
		}
		m.calib[b.ID] = tr
	}
	tr.Evaluate(gesture.Input{Body: b, Now: now, Raw: true}, nil)
	if !tr.IsComplete(name, true) {
		return false
	}
	delete(m.calib, b.ID)
	return true
}

func (m *Manager) ordered() bool {
	return m.cfg.Ordering != OrderAppearance
}

func (m *Manager) key(b *body.TrackedBody) float64 {
	p := b.Pelvis()
	switch m.cfg.Ordering {
	case OrderDistance:
		return math.Abs(p.X) + math.Abs(p.Z)
	case OrderLeftToRight:
		return p.X
	}
	return 0
}

func (m *Manager) count() int {
	return len(m.byBody)
}

func (m *Manager) place(s *Slot, i int) {
	s.Index = i
	m.slots[i] = s
	m.byBody[s.BodyID] = i
}

func (m *Manager) admit(b *body.TrackedBody, now time.Time) {
	s := &Slot{BodyID: b.ID, AdmittedAt: now, LastSeen: now, Key: m.key(b)}
	pos := -1
	if m.ordered() {
		// Occupied slots form a prefix sorted by Key; equal keys keep
		// admission order.
		n := m.count()
		pos = n
		for i := 0; i < n; i++ {
			if s.Key < m.slots[i].Key {
				pos = i
				break
			}
		}
		for j := n; j > pos; j-- {
			m.place(m.slots[j-1], j)
		}
	} else {
		for i, x := range m.slots {
			if x == nil {
				pos = i
				break
			}
		}
	}
	m.place(s, pos)
	m.stats.Admitted++
	monitoring.Opsf("user %d admitted to slot %d", b.ID, pos)
	m.debug.RecordAdmission(b.ID, pos, "admit", "")
}

func (m *Manager) evict(i int) {
	s := m.slots[i]
	delete(m.byBody, s.BodyID)
	m.slots[i] = nil
	if m.ordered() {
		for j := i + 1; j < len(m.slots) && m.slots[j] != nil; j++ {
			m.place(m.slots[j], j-1)
			m.slots[j] = nil
		}
	}
	m.stats.Evicted++
	monitoring.Opsf("user %d evicted from slot %d after %s absent", s.BodyID, i, m.cfg.WaitBeforeRemove)
	m.debug.RecordAdmission(s.BodyID, i, "evict", ReasonAbsent)
}

// sortMoves orders order-preserving moves so each target is free when its
// move is applied: downward moves from the bottom up, then upward moves
// from the top down.
func sortMoves(moves []Move) {
	sort.Slice(moves, func(a, b int) bool {
		ma, mb := moves[a], moves[b]
		da, db := ma.To < ma.From, mb.To < mb.From
		if da != db {
			return da
		}
		if da {
			return ma.From < mb.From
		}
		return ma.From > mb.From
	})
}

// Reset evicts every user without reporting changes.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.slots {
		m.slots[i] = nil
	}
	m.byBody = make(map[int64]int)
	m.calib = make(map[int64]*gesture.Tracker)
	m.rejected = make(map[int64]string)
}

// PrimaryUser returns the body id in slot 0.
func (m *Manager) PrimaryUser() (int64, bool) {
	return m.BodyOf(0)
}

// SlotOf returns the slot of body id.
func (m *Manager) SlotOf(id int64) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byBody[id]
	return s, ok
}

// BodyOf returns the body id occupying slot.
func (m *Manager) BodyOf(slot int) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if slot < 0 || slot >= len(m.slots) || m.slots[slot] == nil {
		return 0, false
	}
	return m.slots[slot].BodyID, true
}

// Slot returns a copy of slot i.
func (m *Manager) Slot(i int) (Slot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.slots) || m.slots[i] == nil {
		return Slot{}, false
	}
	return *m.slots[i], true
}

// Occupied returns the occupied slot indices in ascending order.
func (m *Manager) Occupied() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int
	for i, s := range m.slots {
		if s != nil {
			out = append(out, i)
		}
	}
	return out
}

// Calibrating reports whether body id has a calibration gesture pending.
func (m *Manager) Calibrating(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.calib[id]
	return ok
}

// Stats returns the lifecycle counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
