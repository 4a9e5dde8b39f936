package pipeline

import (
	"fmt"
	"time"

	"github.com/banshee-data/mocap/internal/config"
	"github.com/banshee-data/mocap/internal/mocap/body"
	"github.com/banshee-data/mocap/internal/mocap/constraint"
	"github.com/banshee-data/mocap/internal/mocap/filter"
	"github.com/banshee-data/mocap/internal/mocap/gesture"
	"github.com/banshee-data/mocap/internal/mocap/orient"
	"github.com/banshee-data/mocap/internal/mocap/retarget"
	"github.com/banshee-data/mocap/internal/mocap/users"
)

// Config gathers the settings of every stage.
type Config struct {
	Users      users.Config
	Filter     filter.Config
	Orient     orient.Config
	Constraint constraint.Config
	Gesture    gesture.Config
	Retarget   retarget.Config

	// Sensor converts sensor space to world space until a frame carries
	// its own calibration.
	Sensor body.SensorPose
	// Gestures are tracked for every slot with their default conflicts.
	// Nil tracks every registered gesture.
	Gestures []string
	// TickInterval is the Runner's period.
	TickInterval time.Duration
}

// DefaultConfig returns every stage's defaults with an identity sensor
// pose.
func DefaultConfig() Config {
	return Config{
		Users:        users.DefaultConfig(),
		Filter:       filter.DefaultConfig(),
		Orient:       orient.DefaultConfig(),
		Constraint:   constraint.DefaultConfig(),
		Gesture:      gesture.DefaultConfig(),
		Retarget:     retarget.DefaultConfig(),
		Sensor:       body.IdentityPose(),
		TickInterval: 33 * time.Millisecond,
	}
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid tuning config: %w", err)
	}
	u, err := users.ConfigFromTuning(cfg)
	if err != nil {
		return Config{}, err
	}
	f, err := filter.ConfigFromTuning(cfg)
	if err != nil {
		return Config{}, err
	}
	o, err := orient.ConfigFromTuning(cfg)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Users:        u,
		Filter:       f,
		Orient:       o,
		Constraint:   constraint.ConfigFromTuning(cfg),
		Gesture:      gesture.ConfigFromTuning(cfg),
		Retarget:     retarget.ConfigFromTuning(cfg),
		Sensor:       body.NewSensorPose(cfg.GetSensorHeight(), cfg.GetSensorAngleDeg()),
		TickInterval: cfg.GetTickInterval(),
	}, nil
}
