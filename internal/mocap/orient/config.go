package orient

import (
	"fmt"
	"time"

	"github.com/banshee-data/mocap/internal/config"
)

// HandRotation controls how much wrist and hand roll is taken from the
// hand joints rather than copied from the elbow.
type HandRotation int

const (
	// HandNone copies the elbow rotation onto wrist and hand.
	HandNone HandRotation = iota
	// HandDefault swings wrist and hand from their parents.
	HandDefault
	// HandAll builds wrist and hand from the hand-tip, thumb and palm normal.
	HandAll
)

func (h HandRotation) String() string {
	switch h {
	case HandNone:
		return "none"
	case HandAll:
		return "all"
	default:
		return "default"
	}
}

// ParseHandRotation parses a policy name.
func ParseHandRotation(s string) (HandRotation, bool) {
	for _, h := range []HandRotation{HandNone, HandDefault, HandAll} {
		if h.String() == s {
			return h, true
		}
	}
	return HandDefault, false
}

// Config controls the orientation solver.
type Config struct {
	HandRotation     HandRotation
	ThumbOrientation bool
	MaxThumbTurnDeg  float64 // per tick
	HeadSmoothing    float64 // 1/s, 0 snaps to the face tracker
	DetectTurnAround bool
	TurnAroundDelay  time.Duration
	ShoulderCollapse float64 // metres
}

// Turn-around heuristic defaults.
const (
	DefaultTurnAroundDelay  = 500 * time.Millisecond
	DefaultShoulderCollapse = 0.2
)

// DefaultConfig returns the default solver configuration.
func DefaultConfig() Config {
	return Config{
		HandRotation:     HandDefault,
		ThumbOrientation: true,
		MaxThumbTurnDeg:  10,
		HeadSmoothing:    5,
		TurnAroundDelay:  DefaultTurnAroundDelay,
		ShoulderCollapse: DefaultShoulderCollapse,
	}
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) (Config, error) {
	hr, ok := ParseHandRotation(cfg.GetHandRotation())
	if !ok {
		return Config{}, fmt.Errorf("unknown hand rotation policy %q", cfg.GetHandRotation())
	}
	return Config{
		HandRotation:     hr,
		ThumbOrientation: cfg.GetThumbOrientation(),
		MaxThumbTurnDeg:  cfg.GetMaxThumbTurnDeg(),
		HeadSmoothing:    cfg.GetHeadSmoothing(),
		DetectTurnAround: cfg.GetDetectTurnAround(),
		TurnAroundDelay:  cfg.GetTurnAroundDelay(),
		ShoulderCollapse: cfg.GetShoulderCollapse(),
	}, nil
}
