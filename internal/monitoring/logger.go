// Package monitoring provides the log streams shared by the mocap pipeline.
//
// Three streams are kept apart so operators can route them independently:
//   - Ops: actionable warnings, errors and lifecycle events (user admitted,
//     user evicted, store failures).
//   - Diag: day-to-day diagnostics and tuning context (gate rejections,
//     solver fallbacks, gesture transitions).
//   - Trace: high-frequency per-tick telemetry.
//
// Ops goes to the standard logger by default; Diag and Trace are disabled
// until SetLogWriters enables them.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

const logPrefix = "[mocap] "

var (
	mu          sync.RWMutex
	opsLogger   = newLogger(logPrefix, os.Stderr)
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger(logPrefix, w.Ops)
	diagLogger = newLogger(logPrefix, w.Diag)
	traceLogger = newLogger(logPrefix, w.Trace)
}

// newLogger creates a *log.Logger for a given writer, or returns nil if w is nil.
func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) {
	mu.RLock()
	l := traceLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// TraceEnabled reports whether the trace stream has a writer. Hot paths
// check it before formatting per-joint telemetry.
func TraceEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return traceLogger != nil
}
