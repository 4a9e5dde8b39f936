// Package monitor records pipeline traces for offline tuning.
package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/pipeline"
)

// FilterPlotter records raw and filtered joint positions over time and
// plots them, for tuning the smoothing profiles.
type FilterPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	joints    []body.JointType

	samples  map[traceKey][]FilterSample
	frameIdx int
}

type traceKey struct {
	slot  int
	joint body.JointType
}

// FilterSample is one tick of one joint.
type FilterSample struct {
	FrameIdx  int
	Timestamp time.Time
	BodyID    int64
	Raw       r3.Vec
	Filtered  r3.Vec
	Velocity  r3.Vec
	State     body.TrackingState
}

// NewFilterPlotter returns a plotter tracing joints. No joints traces the
// pelvis and both hands.
func NewFilterPlotter(joints ...body.JointType) *FilterPlotter {
	if len(joints) == 0 {
		joints = []body.JointType{body.SpineBase, body.HandLeft, body.HandRight}
	}
	return &FilterPlotter{
		joints:  joints,
		samples: make(map[traceKey][]FilterSample),
	}
}

// Start clears any recorded samples and begins recording. Plots are
// written under outputDir.
func (fp *FilterPlotter) Start(outputDir string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	fp.outputDir = outputDir
	fp.enabled = true
	fp.frameIdx = 0
	fp.samples = make(map[traceKey][]FilterSample)
	return nil
}

// Stop disables sampling. Call GeneratePlots to produce output files.
func (fp *FilterPlotter) Stop() {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.enabled = false
}

// IsEnabled reports whether the plotter is recording.
func (fp *FilterPlotter) IsEnabled() bool {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.enabled
}

// Sample records the traced joints of every present user in snap. It fits
// Runner.OnSnapshot.
func (fp *FilterPlotter) Sample(snap *pipeline.Snapshot) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if !fp.enabled || snap == nil {
		return
	}
	fp.frameIdx++
	for _, u := range snap.Users {
		if !u.Present {
			continue
		}
		for _, j := range fp.joints {
			js := u.Body.Joints[j]
			k := traceKey{slot: u.Slot, joint: j}
			fp.samples[k] = append(fp.samples[k], FilterSample{
				FrameIdx:  fp.frameIdx,
				Timestamp: snap.Timestamp,
				BodyID:    u.BodyID,
				Raw:       js.Raw,
				Filtered:  js.Position,
				Velocity:  js.Velocity,
				State:     js.State,
			})
		}
	}
}

// SampleCount returns the number of recorded samples.
func (fp *FilterPlotter) SampleCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	n := 0
	for _, s := range fp.samples {
		n += len(s)
	}
	return n
}

// Samples returns a copy of the trace for slot and joint.
func (fp *FilterPlotter) Samples(slot int, j body.JointType) []FilterSample {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]FilterSample(nil), fp.samples[traceKey{slot: slot, joint: j}]...)
}

// OutputDir returns the plot directory.
func (fp *FilterPlotter) OutputDir() string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.outputDir
}

// GeneratePlots writes a position plot and a speed plot per traced slot
// and joint. It returns the number of files written.
func (fp *FilterPlotter) GeneratePlots() (int, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}

	keys := make([]traceKey, 0, len(fp.samples))
	for k := range fp.samples {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].slot != keys[b].slot {
			return keys[a].slot < keys[b].slot
		}
		return keys[a].joint < keys[b].joint
	})

	files := 0
	for _, k := range keys {
		n, err := fp.generateJointPlots(k, fp.samples[k])
		files += n
		if err != nil {
			return files, fmt.Errorf("slot %d %s: %w", k.slot, k.joint, err)
		}
	}
	return files, nil
}

func (fp *FilterPlotter) generateJointPlots(k traceKey, samples []FilterSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	pPos := plot.New()
	pPos.Title.Text = fmt.Sprintf("Slot %d - %s position", k.slot, k.joint)
	pPos.X.Label.Text = "Frame"
	pPos.Y.Label.Text = "Position (m)"

	pVel := plot.New()
	pVel.Title.Text = fmt.Sprintf("Slot %d - %s speed", k.slot, k.joint)
	pVel.X.Label.Text = "Frame"
	pVel.Y.Label.Text = "Speed (m/s)"

	axes := []struct {
		name string
		get  func(r3.Vec) float64
	}{
		{"x", func(v r3.Vec) float64 { return v.X }},
		{"y", func(v r3.Vec) float64 { return v.Y }},
		{"z", func(v r3.Vec) float64 { return v.Z }},
	}
	colors := generateColors(len(axes))

	for i, ax := range axes {
		raw := make(plotter.XYs, 0, len(samples))
		filtered := make(plotter.XYs, 0, len(samples))
		for _, s := range samples {
			if s.State == body.NotTracked {
				continue
			}
			raw = append(raw, plotter.XY{X: float64(s.FrameIdx), Y: ax.get(s.Raw)})
			filtered = append(filtered, plotter.XY{X: float64(s.FrameIdx), Y: ax.get(s.Filtered)})
		}
		if len(raw) == 0 {
			continue
		}

		rawLine, err := plotter.NewLine(raw)
		if err != nil {
			return 0, err
		}
		rawLine.Color = colors[i]
		rawLine.Width = vg.Points(0.5)
		rawLine.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
		pPos.Add(rawLine)
		pPos.Legend.Add(ax.name+" raw", rawLine)

		fLine, err := plotter.NewLine(filtered)
		if err != nil {
			return 0, err
		}
		fLine.Color = colors[i]
		fLine.Width = vg.Points(1)
		pPos.Add(fLine)
		pPos.Legend.Add(ax.name+" filtered", fLine)
	}

	speed := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		speed = append(speed, plotter.XY{X: float64(s.FrameIdx), Y: r3.Norm(s.Velocity)})
	}
	speedLine, err := plotter.NewLine(speed)
	if err != nil {
		return 0, err
	}
	speedLine.Width = vg.Points(1)
	pVel.Add(speedLine)

	for _, p := range []*plot.Plot{pPos, pVel} {
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}

	base := fmt.Sprintf("slot%d_%s", k.slot, k.joint)
	posFile := filepath.Join(fp.outputDir, base+"_position.png")
	if err := pPos.Save(14*vg.Inch, 6*vg.Inch, posFile); err != nil {
		return 0, fmt.Errorf("save position plot: %w", err)
	}
	velFile := filepath.Join(fp.outputDir, base+"_speed.png")
	if err := pVel.Save(14*vg.Inch, 6*vg.Inch, velFile); err != nil {
		return 1, fmt.Errorf("save speed plot: %w", err)
	}
	return 2, nil
}

// generateColors returns n distinct colours spread around the hue circle.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range).
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64
	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// MakePlotOutputDir returns a timestamped directory under baseDir named
// after the frame source.
func MakePlotOutputDir(baseDir, source string, now time.Time) string {
	ts := now.Format("20060102_150405")
	if source == "" {
		source = "live"
	}
	base := filepath.Base(source)
	name := base[:len(base)-len(filepath.Ext(base))]
	return filepath.Join(baseDir, name, ts)
}
