// Package sqlite persists capture sessions, user lifecycle events and
// gesture events in a SQLite database.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/mocap/internal/mocap/gesture"
	"github.com/banshee-data/mocap/internal/mocap/pipeline"
	"github.com/banshee-data/mocap/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoSession is returned when an event arrives with no open session.
var ErrNoSession = errors.New("sqlite: no open session")

// Event kinds stored in user_events.
const (
	KindAdmitted = "admitted"
	KindEvicted  = "evicted"
)

var _ pipeline.EventSink = (*Store)(nil)

// Store is an event store. Its event methods record into the session
// opened by StartSession.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	session string
}

// Session is one capture run.
type Session struct {
	ID        string
	Source    string
	StartedAt time.Time
	EndedAt   *time.Time
}

// UserEvent is a stored admission or eviction.
type UserEvent struct {
	ID        int64
	SessionID string
	Kind      string
	Slot      int
	BodyID    int64
	At        time.Time
}

// GestureEvent is a stored gesture completion or cancellation.
type GestureEvent struct {
	ID        string
	SessionID string
	Gesture   string
	Kind      string
	Slot      int
	BodyID    int64
	Progress  float64
	Joint     string
	ScreenX   float64
	ScreenY   float64
	At        time.Time
}

// Open opens or creates the database at path and applies all pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection keeps in-memory databases whole and serialises writers.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// newMigrate returns a migrate instance over the embedded migrations.
// Closing it would close the store's connection, so callers don't.
func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// MigrateUp runs all pending migrations.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version. It is 0 before any migration.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Diagf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool {
	return false
}

// StartSession opens a session and makes it current. An open session is
// ended first.
func (s *Store) StartSession(source string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != "" {
		if err := s.endLocked(at); err != nil {
			return "", err
		}
	}
	id := uuid.NewString()
	if _, err := s.db.Exec(
		`INSERT INTO sessions (session_id, source, started_ns) VALUES (?, ?, ?)`,
		id, source, at.UnixNano(),
	); err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	s.session = id
	monitoring.Opsf("session %s started (source %s)", id, source)
	return id, nil
}

// EndSession stamps the current session's end time.
func (s *Store) EndSession(at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == "" {
		return ErrNoSession
	}
	return s.endLocked(at)
}

func (s *Store) endLocked(at time.Time) error {
	if _, err := s.db.Exec(
		`UPDATE sessions SET ended_ns = ? WHERE session_id = ?`,
		at.UnixNano(), s.session,
	); err != nil {
		return fmt.Errorf("failed to end session %s: %w", s.session, err)
	}
	monitoring.Opsf("session %s ended", s.session)
	s.session = ""
	return nil
}

// CurrentSession returns the open session id.
func (s *Store) CurrentSession() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.session != ""
}

func (s *Store) current() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == "" {
		return "", ErrNoSession
	}
	return s.session, nil
}

// UserAdmitted records an admission.
func (s *Store) UserAdmitted(slot int, bodyID int64, at time.Time) error {
	return s.recordUser(KindAdmitted, slot, bodyID, at)
}

// UserEvicted records an eviction.
func (s *Store) UserEvicted(slot int, bodyID int64, at time.Time) error {
	return s.recordUser(KindEvicted, slot, bodyID, at)
}

func (s *Store) recordUser(kind string, slot int, bodyID int64, at time.Time) error {
	session, err := s.current()
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(
		`INSERT INTO user_events (session_id, kind, slot, body_id, at_ns) VALUES (?, ?, ?, ?, ?)`,
		session, kind, slot, bodyID, at.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert user event: %w", err)
	}
	return nil
}

// GestureEvent records a gesture transition.
func (s *Store) GestureEvent(e gesture.Event) error {
	session, err := s.current()
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(
		`INSERT INTO gesture_events (
			event_id, session_id, gesture, kind, slot, body_id, progress,
			joint, screen_x, screen_y, at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), session, e.Name, e.Kind.String(), e.Slot, e.UserID, e.Progress,
		e.Joint.String(), e.ScreenPos.X, e.ScreenPos.Y, e.At.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert gesture event: %w", err)
	}
	return nil
}

// Sessions returns every session, oldest first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(`SELECT session_id, source, started_ns, ended_ns FROM sessions ORDER BY started_ns, session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			ss      Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&ss.ID, &ss.Source, &started, &ended); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		ss.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			ss.EndedAt = &t
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// UserEvents returns a session's lifecycle events in order.
func (s *Store) UserEvents(sessionID string) ([]UserEvent, error) {
	rows, err := s.db.Query(
		`SELECT event_id, session_id, kind, slot, body_id, at_ns
		FROM user_events WHERE session_id = ? ORDER BY at_ns, event_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query user events: %w", err)
	}
	defer rows.Close()

	var out []UserEvent
	for rows.Next() {
		var (
			e  UserEvent
			at int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Slot, &e.BodyID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan user event: %w", err)
		}
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GestureEvents returns a session's gesture events in order.
func (s *Store) GestureEvents(sessionID string) ([]GestureEvent, error) {
	rows, err := s.db.Query(
		`SELECT event_id, session_id, gesture, kind, slot, body_id, progress,
			joint, screen_x, screen_y, at_ns
		FROM gesture_events WHERE session_id = ? ORDER BY at_ns, rowid`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query gesture events: %w", err)
	}
	defer rows.Close()

	var out []GestureEvent
	for rows.Next() {
		var (
			e  GestureEvent
			at int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Gesture, &e.Kind, &e.Slot, &e.BodyID,
			&e.Progress, &e.Joint, &e.ScreenX, &e.ScreenY, &at); err != nil {
			return nil, fmt.Errorf("failed to scan gesture event: %w", err)
		}
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GestureCounts returns the number of completions per gesture in a
// session.
func (s *Store) GestureCounts(sessionID string) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT gesture, COUNT(*) FROM gesture_events
		WHERE session_id = ? AND kind = ? GROUP BY gesture`,
		sessionID, gesture.EventCompleted.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count gestures: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("failed to scan gesture count: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}
