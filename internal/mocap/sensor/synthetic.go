package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/timeutil"
)

// SyntheticGenerator produces T-pose bodies that walk slow circles in
// front of the sensor while waving their left arm. It is for demos and
// tests.
type SyntheticGenerator struct {
	frameID atomic.Uint64
	clock   timeutil.Clock
	start   time.Time

	// Configuration
	BodyCount   int     // bodies per frame, at most body.MaxBodies
	Centre      r3.Vec  // metres, centre of the walking area
	WalkRadius  float64 // metres
	WalkSpeed   float64 // radians per second around the circle
	WaveRate    float64 // arm waves per second
	Jitter      float64 // metres, uniform noise added to each joint
	HandPeriod  time.Duration
	FirstBodyID int64

	rng *rand.Rand
}

// NewSyntheticGenerator returns a generator of n bodies timed by clock.
// A nil clock uses the wall clock.
func NewSyntheticGenerator(n int, clock timeutil.Clock, seed int64) *SyntheticGenerator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if n > body.MaxBodies {
		n = body.MaxBodies
	}
	return &SyntheticGenerator{
		clock:       clock,
		start:       clock.Now(),
		BodyCount:   n,
		Centre:      r3.Vec{Y: 1.0, Z: 2.5},
		WalkRadius:  0.8,
		WalkSpeed:   0.2,
		WaveRate:    0.5,
		Jitter:      0.005,
		HandPeriod:  2 * time.Second,
		FirstBodyID: 72057594037927936,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next frame. It never blocks.
func (g *SyntheticGenerator) Next(ctx context.Context) (*body.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.frameID.Add(1)
	now := g.clock.Now()
	elapsed := now.Sub(g.start).Seconds()

	f := body.NewFrame(now)
	f.RelTime = now.Sub(g.start).Milliseconds()
	for i := 0; i < g.BodyCount; i++ {
		f.Bodies[i] = g.generateBody(i, elapsed)
	}
	return &f, nil
}

// FrameCount returns the number of frames generated so far.
func (g *SyntheticGenerator) FrameCount() uint64 {
	return g.frameID.Load()
}

func (g *SyntheticGenerator) generateBody(i int, elapsed float64) body.TrackedBody {
	phase := 2 * math.Pi * float64(i) / float64(max(g.BodyCount, 1))
	a := phase + g.WalkSpeed*elapsed
	pelvis := r3.Vec{
		X: g.Centre.X + g.WalkRadius*math.Cos(a),
		Y: g.Centre.Y,
		Z: g.Centre.Z + g.WalkRadius*math.Sin(a),
	}
	b := body.TPose(g.FirstBodyID+int64(i), pelvis)

	// Swing the left forearm up and down about the elbow.
	wave := math.Sin(2*math.Pi*g.WaveRate*elapsed) * math.Pi / 3
	elbow := b.Joints[body.ElbowLeft].Raw
	for _, j := range []body.JointType{body.WristLeft, body.HandLeft, body.HandTipLeft, body.ThumbLeft} {
		off := r3.Sub(b.Joints[j].Raw, elbow)
		c, s := math.Cos(wave), math.Sin(wave)
		// Rotation about +Z: -X tips toward -Y for positive angles.
		rot := r3.Vec{X: off.X*c - off.Y*s, Y: off.X*s + off.Y*c, Z: off.Z}
		b.SetJoint(j, r3.Add(elbow, rot), body.Tracked)
	}

	for j := body.JointType(0); j < body.JointCount; j++ {
		p := b.Joints[j].Raw
		p.X += g.noise()
		p.Y += g.noise()
		p.Z += g.noise()
		b.SetJoint(j, p, body.Tracked)
	}

	if g.HandPeriod > 0 && int(elapsed/g.HandPeriod.Seconds())%2 == 1 {
		b.LeftHand = body.HandClosed
	}
	return b
}

func (g *SyntheticGenerator) noise() float64 {
	if g.Jitter == 0 {
		return 0
	}
	return (g.rng.Float64()*2 - 1) * g.Jitter
}
