package users

import (
	"fmt"
	"time"

	"github.com/banshee-data/mocap/internal/config"
)

// Ordering is the slot assignment policy.
type Ordering int

const (
	// OrderAppearance gives a new user the first free slot and never
	// reorders.
	OrderAppearance Ordering = iota
	// OrderDistance keeps slots sorted by |x|+|z| of the pelvis at
	// admission, nearest first.
	OrderDistance
	// OrderLeftToRight keeps slots sorted by pelvis x at admission.
	OrderLeftToRight
)

func (o Ordering) String() string {
	switch o {
	case OrderDistance:
		return "distance"
	case OrderLeftToRight:
		return "left_to_right"
	default:
		return "appearance"
	}
}

// ParseOrdering returns the ordering with the given config name.
func ParseOrdering(s string) (Ordering, bool) {
	switch s {
	case "appearance":
		return OrderAppearance, true
	case "distance":
		return OrderDistance, true
	case "left_to_right":
		return OrderLeftToRight, true
	}
	return OrderAppearance, false
}

// Config holds the admission and retention policy.
type Config struct {
	MaxUsers    int
	MinDistance float64 // metres of pelvis depth
	MaxDistance float64 // metres of pelvis depth, 0 = off
	MaxLateral  float64 // metres of |pelvis x|, 0 = off
	Ordering    Ordering

	// WaitBeforeRemove is the continuous absence after which a user is
	// evicted.
	WaitBeforeRemove time.Duration

	// CalibrationGesture must complete on raw positions before a body is
	// admitted. Empty admits on the distance gates alone.
	CalibrationGesture string
}

// DefaultConfig returns the default admission policy.
func DefaultConfig() Config {
	return Config{
		MaxUsers:         config.MaxUsersLimit,
		MinDistance:      0.5,
		Ordering:         OrderAppearance,
		WaitBeforeRemove: time.Second,
	}
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) (Config, error) {
	ord, ok := ParseOrdering(cfg.GetUserOrdering())
	if !ok {
		return Config{}, fmt.Errorf("unknown user ordering %q", cfg.GetUserOrdering())
	}
	return Config{
		MaxUsers:           cfg.GetMaxUsers(),
		MinDistance:        cfg.GetMinUserDistance(),
		MaxDistance:        cfg.GetMaxUserDistance(),
		MaxLateral:         cfg.GetMaxLeftRightDistance(),
		Ordering:           ord,
		WaitBeforeRemove:   cfg.GetWaitBeforeRemove(),
		CalibrationGesture: cfg.GetCalibrationGesture(),
	}, nil
}
