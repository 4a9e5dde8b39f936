package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Names accepted by the enumerated string options.
var (
	SmoothingProfiles = []string{"none", "default", "light", "medium", "aggressive"}
	UserOrderings     = []string{"appearance", "distance", "left_to_right"}
	HandRotations     = []string{"none", "default", "all"}
)

// MaxUsersLimit is the largest number of simultaneous users a session can
// track; it matches the sensor's body capacity.
const MaxUsersLimit = 6

// TuningConfig represents the root configuration for a capture session.
// Every field is optional; the Get* methods supply the default for any
// field the JSON leaves out. The configuration is immutable once a
// pipeline has been built from it.
type TuningConfig struct {
	// Joint filtering
	PositionSmoothing *string `json:"position_smoothing,omitempty"`
	VelocitySmoothing *string `json:"velocity_smoothing,omitempty"`
	VelocityEnabled   *bool   `json:"velocity_enabled,omitempty"`

	// User admission and slot ordering
	MaxUsers             *int     `json:"max_users,omitempty"`
	MinUserDistance      *float64 `json:"min_user_distance,omitempty"`       // metres
	MaxUserDistance      *float64 `json:"max_user_distance,omitempty"`       // metres, 0 = off
	MaxLeftRightDistance *float64 `json:"max_left_right_distance,omitempty"` // metres, 0 = off
	UserOrdering         *string  `json:"user_ordering,omitempty"`
	WaitBeforeRemove     *string  `json:"wait_before_remove,omitempty"` // duration string like "1s"
	CalibrationGesture   *string  `json:"calibration_gesture,omitempty"`

	// Orientation solving
	HandRotation       *string  `json:"hand_rotation,omitempty"`
	ThumbOrientation   *bool    `json:"thumb_orientation,omitempty"`
	MaxThumbTurnDeg    *float64 `json:"max_thumb_turn_deg,omitempty"` // degrees per tick
	HeadSmoothing      *float64 `json:"head_smoothing,omitempty"`     // 1/s
	DetectTurnAround   *bool    `json:"detect_turn_around,omitempty"`
	TurnAroundDelay    *string  `json:"turn_around_delay,omitempty"`
	ShoulderCollapse   *float64 `json:"shoulder_collapse_distance,omitempty"` // metres
	ConstraintsEnabled *bool    `json:"constraints_enabled,omitempty"`
	ConstraintSpring   *float64 `json:"constraint_spring_rate_deg,omitempty"` // degrees per second

	// Gestures
	MinTimeBetweenSameGestures *string `json:"min_time_between_same_gestures,omitempty"`
	MinTimeBetweenGestures     *string `json:"min_time_between_gestures,omitempty"`

	// Avatar retargeting
	MirroredMovement  *bool    `json:"mirrored_movement,omitempty"`
	FlipLeftRight     *bool    `json:"flip_left_right,omitempty"`
	RetargetSmoothing *float64 `json:"retarget_smoothing,omitempty"` // 1/s, 0 = snap
	VerticalMovement  *bool    `json:"vertical_movement,omitempty"`
	GroundedFeet      *bool    `json:"grounded_feet,omitempty"`
	GroundThreshold   *float64 `json:"ground_threshold,omitempty"` // metres
	GroundDebounce    *string  `json:"ground_debounce,omitempty"`
	FingerFlexDeg     *float64 `json:"finger_flex_deg,omitempty"`

	// Sensor placement
	SensorHeight   *float64 `json:"sensor_height,omitempty"`    // metres above the floor
	SensorAngleDeg *float64 `json:"sensor_angle_deg,omitempty"` // tilt, positive = up

	// Runner
	TickInterval *string `json:"tick_interval,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/mocap/users/
		"../../../../" + DefaultConfigPath,    // from internal/mocap/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if err := checkOneOf("position_smoothing", c.PositionSmoothing, SmoothingProfiles); err != nil {
		return err
	}
	if err := checkOneOf("velocity_smoothing", c.VelocitySmoothing, SmoothingProfiles); err != nil {
		return err
	}
	if err := checkOneOf("user_ordering", c.UserOrdering, UserOrderings); err != nil {
		return err
	}
	if err := checkOneOf("hand_rotation", c.HandRotation, HandRotations); err != nil {
		return err
	}

	if c.MaxUsers != nil && (*c.MaxUsers < 1 || *c.MaxUsers > MaxUsersLimit) {
		return fmt.Errorf("max_users must be between 1 and %d, got %d", MaxUsersLimit, *c.MaxUsers)
	}

	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"min_user_distance", c.MinUserDistance},
		{"max_user_distance", c.MaxUserDistance},
		{"max_left_right_distance", c.MaxLeftRightDistance},
		{"max_thumb_turn_deg", c.MaxThumbTurnDeg},
		{"head_smoothing", c.HeadSmoothing},
		{"shoulder_collapse_distance", c.ShoulderCollapse},
		{"constraint_spring_rate_deg", c.ConstraintSpring},
		{"retarget_smoothing", c.RetargetSmoothing},
		{"ground_threshold", c.GroundThreshold},
		{"finger_flex_deg", c.FingerFlexDeg},
		{"sensor_height", c.SensorHeight},
	}
	for _, f := range nonNegative {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", f.name, *f.v)
		}
	}

	if max := c.GetMaxUserDistance(); max > 0 && max < c.GetMinUserDistance() {
		return fmt.Errorf("max_user_distance %.2f is below min_user_distance %.2f", max, c.GetMinUserDistance())
	}

	if c.SensorAngleDeg != nil && (*c.SensorAngleDeg < -90 || *c.SensorAngleDeg > 90) {
		return fmt.Errorf("sensor_angle_deg must be between -90 and 90, got %f", *c.SensorAngleDeg)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"wait_before_remove", c.WaitBeforeRemove},
		{"turn_around_delay", c.TurnAroundDelay},
		{"min_time_between_same_gestures", c.MinTimeBetweenSameGestures},
		{"min_time_between_gestures", c.MinTimeBetweenGestures},
		{"ground_debounce", c.GroundDebounce},
		{"tick_interval", c.TickInterval},
	}
	for _, f := range durations {
		if f.v == nil || *f.v == "" {
			continue
		}
		d, err := time.ParseDuration(*f.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", f.name, *f.v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", f.name, d)
		}
	}
	if c.TickInterval != nil && c.GetTickInterval() <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}

	return nil
}

func checkOneOf(name string, v *string, allowed []string) error {
	if v == nil {
		return nil
	}
	for _, a := range allowed {
		if *v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", name, allowed, *v)
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetPositionSmoothing returns the position filter profile name or the default.
func (c *TuningConfig) GetPositionSmoothing() string {
	if c.PositionSmoothing == nil {
		return "default"
	}
	return *c.PositionSmoothing
}

// GetVelocitySmoothing returns the velocity filter profile name or the default.
func (c *TuningConfig) GetVelocitySmoothing() string {
	if c.VelocitySmoothing == nil {
		return "light"
	}
	return *c.VelocitySmoothing
}

// GetVelocityEnabled returns the velocity_enabled value or the default.
func (c *TuningConfig) GetVelocityEnabled() bool {
	if c.VelocityEnabled == nil {
		return true
	}
	return *c.VelocityEnabled
}

// GetMaxUsers returns the max_users value or the default.
func (c *TuningConfig) GetMaxUsers() int {
	if c.MaxUsers == nil {
		return MaxUsersLimit
	}
	return *c.MaxUsers
}

// GetMinUserDistance returns the min_user_distance value or the default.
func (c *TuningConfig) GetMinUserDistance() float64 {
	if c.MinUserDistance == nil {
		return 0.5
	}
	return *c.MinUserDistance
}

// GetMaxUserDistance returns the max_user_distance value or the default (off).
func (c *TuningConfig) GetMaxUserDistance() float64 {
	if c.MaxUserDistance == nil {
		return 0
	}
	return *c.MaxUserDistance
}

// GetMaxLeftRightDistance returns the max_left_right_distance value or the default (off).
func (c *TuningConfig) GetMaxLeftRightDistance() float64 {
	if c.MaxLeftRightDistance == nil {
		return 0
	}
	return *c.MaxLeftRightDistance
}

// GetUserOrdering returns the user_ordering value or the default.
func (c *TuningConfig) GetUserOrdering() string {
	if c.UserOrdering == nil {
		return "appearance"
	}
	return *c.UserOrdering
}

// GetWaitBeforeRemove parses and returns WaitBeforeRemove as a time.Duration.
func (c *TuningConfig) GetWaitBeforeRemove() time.Duration {
	return durationOr(c.WaitBeforeRemove, time.Second)
}

// GetCalibrationGesture returns the calibration gesture name, empty when
// admission needs no calibration pose.
func (c *TuningConfig) GetCalibrationGesture() string {
	if c.CalibrationGesture == nil {
		return ""
	}
	return *c.CalibrationGesture
}

// GetHandRotation returns the hand_rotation policy or the default.
func (c *TuningConfig) GetHandRotation() string {
	if c.HandRotation == nil {
		return "default"
	}
	return *c.HandRotation
}

// GetThumbOrientation returns the thumb_orientation value or the default.
func (c *TuningConfig) GetThumbOrientation() bool {
	if c.ThumbOrientation == nil {
		return true
	}
	return *c.ThumbOrientation
}

// GetMaxThumbTurnDeg returns the max_thumb_turn_deg value or the default.
func (c *TuningConfig) GetMaxThumbTurnDeg() float64 {
	if c.MaxThumbTurnDeg == nil {
		return 10
	}
	return *c.MaxThumbTurnDeg
}

// GetHeadSmoothing returns the head_smoothing value or the default.
func (c *TuningConfig) GetHeadSmoothing() float64 {
	if c.HeadSmoothing == nil {
		return 5
	}
	return *c.HeadSmoothing
}

// GetDetectTurnAround returns the detect_turn_around value or the default.
func (c *TuningConfig) GetDetectTurnAround() bool {
	if c.DetectTurnAround == nil {
		return false
	}
	return *c.DetectTurnAround
}

// GetTurnAroundDelay parses and returns TurnAroundDelay as a time.Duration.
func (c *TuningConfig) GetTurnAroundDelay() time.Duration {
	return durationOr(c.TurnAroundDelay, 500*time.Millisecond)
}

// GetShoulderCollapse returns the shoulder_collapse_distance value or the default.
func (c *TuningConfig) GetShoulderCollapse() float64 {
	if c.ShoulderCollapse == nil {
		return 0.2
	}
	return *c.ShoulderCollapse
}

// GetConstraintsEnabled returns the constraints_enabled value or the default.
func (c *TuningConfig) GetConstraintsEnabled() bool {
	if c.ConstraintsEnabled == nil {
		return true
	}
	return *c.ConstraintsEnabled
}

// GetConstraintSpring returns the constraint_spring_rate_deg value or the default.
func (c *TuningConfig) GetConstraintSpring() float64 {
	if c.ConstraintSpring == nil {
		return 90
	}
	return *c.ConstraintSpring
}

// GetMinTimeBetweenSameGestures parses and returns MinTimeBetweenSameGestures.
func (c *TuningConfig) GetMinTimeBetweenSameGestures() time.Duration {
	return durationOr(c.MinTimeBetweenSameGestures, time.Second)
}

// GetMinTimeBetweenGestures parses and returns MinTimeBetweenGestures.
func (c *TuningConfig) GetMinTimeBetweenGestures() time.Duration {
	return durationOr(c.MinTimeBetweenGestures, 700*time.Millisecond)
}

// GetMirroredMovement returns the mirrored_movement value or the default.
func (c *TuningConfig) GetMirroredMovement() bool {
	if c.MirroredMovement == nil {
		return false
	}
	return *c.MirroredMovement
}

// GetFlipLeftRight returns the flip_left_right value or the default.
func (c *TuningConfig) GetFlipLeftRight() bool {
	if c.FlipLeftRight == nil {
		return false
	}
	return *c.FlipLeftRight
}

// GetRetargetSmoothing returns the retarget_smoothing value or the default.
func (c *TuningConfig) GetRetargetSmoothing() float64 {
	if c.RetargetSmoothing == nil {
		return 10
	}
	return *c.RetargetSmoothing
}

// GetVerticalMovement returns the vertical_movement value or the default.
func (c *TuningConfig) GetVerticalMovement() bool {
	if c.VerticalMovement == nil {
		return true
	}
	return *c.VerticalMovement
}

// GetGroundedFeet returns the grounded_feet value or the default.
func (c *TuningConfig) GetGroundedFeet() bool {
	if c.GroundedFeet == nil {
		return false
	}
	return *c.GroundedFeet
}

// GetGroundThreshold returns the ground_threshold value or the default.
func (c *TuningConfig) GetGroundThreshold() float64 {
	if c.GroundThreshold == nil {
		return 0.02
	}
	return *c.GroundThreshold
}

// GetGroundDebounce parses and returns GroundDebounce as a time.Duration.
func (c *TuningConfig) GetGroundDebounce() time.Duration {
	return durationOr(c.GroundDebounce, 200*time.Millisecond)
}

// GetFingerFlexDeg returns the finger_flex_deg value or the default.
func (c *TuningConfig) GetFingerFlexDeg() float64 {
	if c.FingerFlexDeg == nil {
		return 70
	}
	return *c.FingerFlexDeg
}

// GetSensorHeight returns the sensor_height value or the default.
func (c *TuningConfig) GetSensorHeight() float64 {
	if c.SensorHeight == nil {
		return 1.0
	}
	return *c.SensorHeight
}

// GetSensorAngleDeg returns the sensor_angle_deg value or the default.
func (c *TuningConfig) GetSensorAngleDeg() float64 {
	if c.SensorAngleDeg == nil {
		return 0
	}
	return *c.SensorAngleDeg
}

// GetTickInterval parses and returns TickInterval as a time.Duration.
func (c *TuningConfig) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, 33*time.Millisecond)
}
