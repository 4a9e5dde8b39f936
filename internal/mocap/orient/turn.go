package orient

import (
	"math"
	"time"

	"github.com/banshee-data/mocap/internal/mocap/body"
)

// Turn-around rule names reported with each flag change.
const (
	RuleFace      = "face"
	RuleShoulders = "shoulders"
)

// TurnDetector decides whether a user faces away from the sensor.
//
// With a face tracker attached, the user is turned around once the face
// has been missing for longer than Delay while both shoulders stay
// tracked, and facing again as soon as the face reappears. Without one,
// each time the shoulders' lateral separation stays below Collapse for
// longer than Delay the flag toggles once.
type TurnDetector struct {
	Delay    time.Duration
	Collapse float64 // metres

	turned         bool
	faceLostSince  time.Time
	collapsedSince time.Time
	toggled        bool
}

// TurnedAround returns the current flag.
func (d *TurnDetector) TurnedAround() bool {
	return d.turned
}

// Reset forgets all history.
func (d *TurnDetector) Reset() {
	d.turned = false
	d.faceLostSince = time.Time{}
	d.collapsedSince = time.Time{}
	d.toggled = false
}

// Update evaluates one tick of b, which must not have been swapped yet.
// It reports whether the flag changed and which rule was applied.
func (d *TurnDetector) Update(b *body.TrackedBody, faceTracking bool, now time.Time) (changed bool, rule string) {
	prev := d.turned
	bothShoulders := b.IsTracked(body.ShoulderLeft) && b.IsTracked(body.ShoulderRight)

	if faceTracking {
		rule = RuleFace
		switch {
		case b.FaceTracked:
			d.faceLostSince = time.Time{}
			d.turned = false
		case bothShoulders:
			if d.faceLostSince.IsZero() {
				d.faceLostSince = now
			}
			if now.Sub(d.faceLostSince) > d.Delay {
				d.turned = true
			}
		default:
			d.faceLostSince = time.Time{}
		}
		return d.turned != prev, rule
	}

	rule = RuleShoulders
	sep := math.Abs(b.Joints[body.ShoulderRight].Position.X - b.Joints[body.ShoulderLeft].Position.X)
	if bothShoulders && sep < d.Collapse {
		if d.collapsedSince.IsZero() {
			d.collapsedSince = now
		}
		if !d.toggled && now.Sub(d.collapsedSince) > d.Delay {
			d.turned = !d.turned
			d.toggled = true
		}
	} else {
		d.collapsedSince = time.Time{}
		d.toggled = false
	}
	return d.turned != prev, rule
}
