package sensor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/wire"
	"github.com/banshee-data/mocap/internal/monitoring"
)

// StreamSource decodes relay records from a reader. A kb record is held
// until the next kb record or end of stream so that the kh record sent
// after it can attach hand states. The latest km record rides along on
// every later frame.
//
// Relative timestamps are milliseconds; frame timestamps are Base plus
// the relative time.
type StreamSource struct {
	mu   sync.Mutex
	sc   *wire.Scanner
	Base time.Time

	pending *body.Frame
	pose    *body.SensorPose
	done    bool

	// Malformed counts records that failed to decode.
	Malformed int
}

// NewStreamSource returns a source reading records from r.
func NewStreamSource(r io.Reader, base time.Time) *StreamSource {
	return &StreamSource{sc: wire.NewScanner(r), Base: base}
}

// Next reads records until a complete frame is available. It returns
// ErrSourceClosed after the last frame.
func (s *StreamSource) Next(ctx context.Context) (*body.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.sc.Scan() {
			s.done = true
			if err := s.sc.Err(); err != nil {
				return nil, fmt.Errorf("read relay stream: %w", err)
			}
			break
		}
		if f := s.handle(s.sc.Kind(), s.sc.Text()); f != nil {
			return f, nil
		}
	}
	if f := s.pending; f != nil {
		s.pending = nil
		return f, nil
	}
	return nil, ErrSourceClosed
}

// handle applies one record and returns a frame completed by it.
func (s *StreamSource) handle(kind, line string) *body.Frame {
	switch kind {
	case wire.KindMatrix:
		p, ok := wire.DecodeMatrix(line)
		if !ok {
			s.malformed(line)
			return nil
		}
		s.pose = &p
		monitoring.Opsf("sensor: world calibration updated")
	case wire.KindHands:
		_, hands, ok := wire.DecodeHands(line)
		if !ok {
			s.malformed(line)
			return nil
		}
		if s.pending != nil {
			wire.ApplyHands(hands, s.pending.Bodies)
		}
	case wire.KindBodies:
		bodies := make([]body.TrackedBody, body.MaxBodies)
		rel, ok := wire.DecodeBodies(line, bodies)
		if !ok {
			s.malformed(line)
			return nil
		}
		f := &body.Frame{
			Timestamp: s.Base.Add(time.Duration(rel) * time.Millisecond),
			RelTime:   rel,
			Bodies:    bodies,
		}
		if s.pose != nil {
			p := *s.pose
			f.Pose = &p
		}
		prev := s.pending
		s.pending = f
		return prev
	}
	return nil
}

func (s *StreamSource) malformed(line string) {
	s.Malformed++
	if len(line) > 40 {
		line = line[:40] + "..."
	}
	monitoring.Diagf("sensor: dropped malformed record %q", line)
}
