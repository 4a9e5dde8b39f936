package filter

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// minRadius floors the jitter and deviation radii.
const minRadius = 1e-4

// Holt is a Holt double-exponential smoother for one 3D signal, with
// jitter damping and clipped prediction.
type Holt struct {
	raw      r3.Vec
	filtered r3.Vec
	trend    r3.Vec
	frames   int
}

// Reset clears the filter history.
func (h *Holt) Reset() {
	*h = Holt{}
}

// Primed reports whether the filter has seen at least one sample since
// the last reset.
func (h *Holt) Primed() bool {
	return h.frames > 0
}

// Update feeds one sample and returns the filtered, predicted value.
// inferred doubles both radii for low-confidence samples.
func (h *Holt) Update(raw r3.Vec, p Profile, inferred bool) r3.Vec {
	if !p.Enabled() {
		h.Reset()
		return raw
	}

	jitter := p.JitterRadius
	maxDev := p.MaxDeviationRadius
	if inferred {
		jitter *= 2
		maxDev *= 2
	}
	jitter = math.Max(jitter, minRadius)
	maxDev = math.Max(maxDev, minRadius)

	prevFiltered, prevTrend, prevRaw := h.filtered, h.trend, h.raw

	var filtered, trend r3.Vec
	switch h.frames {
	case 0:
		filtered = raw
		trend = r3.Vec{}
	case 1:
		filtered = r3.Scale(0.5, r3.Add(raw, prevRaw))
		diff := r3.Sub(filtered, prevFiltered)
		trend = r3.Add(r3.Scale(p.Correction, diff), r3.Scale(1-p.Correction, prevTrend))
	default:
		diff := r3.Sub(raw, prevFiltered)
		if d := r3.Norm(diff); d <= jitter {
			filtered = r3.Add(r3.Scale(d/jitter, raw), r3.Scale(1-d/jitter, prevFiltered))
		} else {
			filtered = raw
		}
		filtered = r3.Add(r3.Scale(1-p.Smoothing, filtered), r3.Scale(p.Smoothing, r3.Add(prevFiltered, prevTrend)))
		diff = r3.Sub(filtered, prevFiltered)
		trend = r3.Add(r3.Scale(p.Correction, diff), r3.Scale(1-p.Correction, prevTrend))
	}

	predicted := r3.Add(filtered, r3.Scale(p.Prediction, trend))
	if d := r3.Norm(r3.Sub(predicted, raw)); d > maxDev {
		predicted = r3.Add(r3.Scale(maxDev/d, predicted), r3.Scale(1-maxDev/d, raw))
	}

	h.raw = raw
	h.filtered = filtered
	h.trend = trend
	if h.frames < 2 {
		h.frames++
	}
	return predicted
}
