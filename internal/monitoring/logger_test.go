package monitoring

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogWriters_RoutesStreams(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Diag: &diag, Trace: &trace})
	defer SetLogWriters(LogWriters{})

	Opsf("user %d admitted", 3)
	Diagf("gate rejected body=%d", 42)
	Tracef("tick=%d", 7)

	assert.Contains(t, ops.String(), "[mocap] ")
	assert.Contains(t, ops.String(), "user 3 admitted")
	assert.Contains(t, diag.String(), "gate rejected body=42")
	assert.Contains(t, trace.String(), "tick=7")
	assert.True(t, TraceEnabled())
}

func TestSetLogWriters_NilDisablesStream(t *testing.T) {
	var ops bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops})
	defer SetLogWriters(LogWriters{})

	// Should not panic with nil diag/trace writers.
	Diagf("dropped %s", "message")
	Tracef("dropped %s", "message")
	Opsf("kept")

	assert.False(t, TraceEnabled())
	assert.Equal(t, 1, strings.Count(ops.String(), "\n"))
}
