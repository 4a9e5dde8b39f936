package body

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// SensorPose converts sensor-space positions to world space. T is a
// row-major 4x4 rigid transform.
type SensorPose struct {
	T [16]float64
}

// IdentityPose leaves positions unchanged.
func IdentityPose() SensorPose {
	return SensorPose{T: [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// NewSensorPose returns the transform for a sensor mounted heightM metres
// above the floor and tilted angleDeg degrees (positive = pitched up).
func NewSensorPose(heightM, angleDeg float64) SensorPose {
	a := angleDeg * math.Pi / 180
	c, s := math.Cos(a), math.Sin(a)
	return SensorPose{T: [16]float64{
		1, 0, 0, 0,
		0, c, s, heightM,
		0, -s, c, 0,
		0, 0, 0, 1,
	}}
}

// PoseFromMatrix validates T and wraps it as a SensorPose.
func PoseFromMatrix(T [16]float64) (SensorPose, error) {
	if res := ValidatePose(T); !res.Valid {
		return SensorPose{}, fmt.Errorf("invalid sensor pose: %v", res.Issues)
	}
	return SensorPose{T: T}, nil
}

// Apply transforms a sensor-space point to world space.
func (p SensorPose) Apply(v r3.Vec) r3.Vec {
	T := p.T
	return r3.Vec{
		X: T[0]*v.X + T[1]*v.Y + T[2]*v.Z + T[3],
		Y: T[4]*v.X + T[5]*v.Y + T[6]*v.Z + T[7],
		Z: T[8]*v.X + T[9]*v.Y + T[10]*v.Z + T[11],
	}
}

// TransformBody converts every raw joint position of b to world space.
func (p SensorPose) TransformBody(b *TrackedBody) {
	for j := range b.Joints[:JointCount] {
		b.Joints[j].Raw = p.Apply(b.Joints[j].Raw)
	}
}

// PoseValidationResult contains the result of pose validation.
type PoseValidationResult struct {
	Valid  bool
	Issues []string
}

// ValidatePose checks that T is a proper rigid transform with finite entries.
func ValidatePose(T [16]float64) PoseValidationResult {
	result := PoseValidationResult{Issues: make([]string, 0)}
	for i, v := range T {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			result.Issues = append(result.Issues, fmt.Sprintf("non-finite entry at %d", i))
			return result
		}
	}
	if !IsValidTransformMatrix(T) {
		result.Issues = append(result.Issues, "invalid transform matrix (not proper rigid transform)")
		return result
	}
	result.Valid = true
	return result
}

// IsValidTransformMatrix checks if a 4x4 matrix is a valid rigid transform.
// A valid rigid transform has:
// 1. Orthonormal rotation submatrix (det ≈ 1)
// 2. Last row is [0 0 0 1]
func IsValidTransformMatrix(T [16]float64) bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	// Check determinant ≈ 1 (proper rotation, not reflection)
	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}
