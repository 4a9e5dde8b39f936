// Package geom holds the rotation and vector helpers used by the solver,
// constraints and retargeter. Rotations are unit quat.Number values
// (Real = w, Imag/Jmag/Kmag = x/y/z); vectors are r3.Vec in metres.
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Numerical thresholds, not user-tunable.
const (
	// MinVectorLength is the shortest direction treated as non-degenerate (metres).
	MinVectorLength = 1e-6
	// unitTolerance bounds |q|-1 for a rotation to count as unit length.
	unitTolerance = 1e-3
	// nlerpThreshold is the cosine above which Slerp falls back to nlerp.
	nlerpThreshold = 0.9995
)

// Identity is the zero rotation.
var Identity = quat.Number{Real: 1}

// Axis unit vectors in the body frame (user facing the sensor, T-pose).
var (
	Right   = r3.Vec{X: 1}
	Left    = r3.Vec{X: -1}
	Up      = r3.Vec{Y: 1}
	Down    = r3.Vec{Y: -1}
	Forward = r3.Vec{Z: -1}
	Back    = r3.Vec{Z: 1}
)

// Mul composes rotations: the result applies b first, then a.
func Mul(a, b quat.Number) quat.Number {
	return quat.Mul(a, b)
}

// Inverse returns the inverse of a unit rotation.
func Inverse(q quat.Number) quat.Number {
	return quat.Conj(q)
}

// Rotate returns v rotated by q.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	return r3.Rotation(q).Rotate(v)
}

// AxisAngle returns the rotation by angle radians about axis.
func AxisAngle(axis r3.Vec, angle float64) quat.Number {
	if r3.Norm(axis) < MinVectorLength {
		return Identity
	}
	return quat.Number(r3.NewRotation(angle, r3.Unit(axis)))
}

// IsFinite reports whether every component of q is finite.
func IsFinite(q quat.Number) bool {
	return !quat.IsNaN(q) && !quat.IsInf(q)
}

// IsValid reports whether q is a finite unit rotation.
func IsValid(q quat.Number) bool {
	return IsFinite(q) && math.Abs(quat.Abs(q)-1) < unitTolerance
}

// Normalize scales q to unit length. It reports false when q has no
// usable direction.
func Normalize(q quat.Number) (quat.Number, bool) {
	n := quat.Abs(q)
	if n < MinVectorLength || math.IsNaN(n) || math.IsInf(n, 0) {
		return Identity, false
	}
	return quat.Scale(1/n, q), true
}

// IsDegenerate reports whether v is too short (or non-finite) to define a
// direction.
func IsDegenerate(v r3.Vec) bool {
	n := r3.Norm(v)
	return n < MinVectorLength || math.IsNaN(n) || math.IsInf(n, 0)
}

// Orthogonal returns a unit vector perpendicular to v.
func Orthogonal(v r3.Vec) r3.Vec {
	// Cross with the axis least aligned with v.
	ax, ay, az := math.Abs(v.X), math.Abs(v.Y), math.Abs(v.Z)
	other := Right
	switch {
	case ax <= ay && ax <= az:
		other = Right
	case ay <= az:
		other = Up
	default:
		other = Back
	}
	return r3.Unit(r3.Cross(v, other))
}

// FromTo returns the shortest rotation taking direction from onto to.
// It reports false when either direction is degenerate.
func FromTo(from, to r3.Vec) (quat.Number, bool) {
	if IsDegenerate(from) || IsDegenerate(to) {
		return Identity, false
	}
	f := r3.Unit(from)
	t := r3.Unit(to)
	d := r3.Dot(f, t)
	if d < -1+1e-9 {
		return AxisAngle(Orthogonal(f), math.Pi), true
	}
	c := r3.Cross(f, t)
	return Normalize(quat.Number{Real: 1 + d, Imag: c.X, Jmag: c.Y, Kmag: c.Z})
}

// FromBasis returns the rotation taking the body-frame axes (Right, Up)
// onto the given right and up directions. up is kept exactly; right is
// orthogonalised against it. It reports false when the pair is degenerate
// or parallel.
func FromBasis(right, up r3.Vec) (quat.Number, bool) {
	if IsDegenerate(up) || IsDegenerate(right) {
		return Identity, false
	}
	u := r3.Unit(up)
	r := r3.Sub(right, r3.Scale(r3.Dot(right, u), u))
	if IsDegenerate(r) || r3.Norm(r) < 1e-3*r3.Norm(right) {
		return Identity, false
	}
	r = r3.Unit(r)
	b := r3.Cross(r, u)
	return fromColumns(r, u, b)
}

// FromAxes returns the rotation taking the pair (fromAxis, fromRef) onto
// (toAxis, toRef). The axes are matched exactly and the reference vectors
// fix the roll about them.
func FromAxes(fromAxis, fromRef, toAxis, toRef r3.Vec) (quat.Number, bool) {
	src, ok := FromBasis(fromRef, fromAxis)
	if !ok {
		return Identity, false
	}
	dst, ok := FromBasis(toRef, toAxis)
	if !ok {
		return Identity, false
	}
	return Normalize(Mul(dst, Inverse(src)))
}

// fromColumns converts the orthonormal matrix with columns c0, c1, c2
// into a rotation.
func fromColumns(c0, c1, c2 r3.Vec) (quat.Number, bool) {
	m00, m10, m20 := c0.X, c0.Y, c0.Z
	m01, m11, m21 := c1.X, c1.Y, c1.Z
	m02, m12, m22 := c2.X, c2.Y, c2.Z

	var q quat.Number
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{Real: 0.25 / s, Imag: (m21 - m12) * s, Jmag: (m02 - m20) * s, Kmag: (m10 - m01) * s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: 0.25 * s, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: 0.25 * s, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: 0.25 * s}
	}
	return Normalize(q)
}

// Dot returns the 4D dot product of two rotations.
func Dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// Angle returns the angle in radians between two unit rotations.
func Angle(a, b quat.Number) float64 {
	d := math.Abs(Dot(a, b))
	if d >= 1 {
		return 0
	}
	return 2 * math.Acos(d)
}

// Slerp spherically interpolates from a to b by t in [0,1] along the
// shorter arc.
func Slerp(a, b quat.Number, t float64) quat.Number {
	switch {
	case t <= 0:
		return a
	case t >= 1:
		return b
	}
	d := Dot(a, b)
	if d < 0 {
		b = quat.Scale(-1, b)
		d = -d
	}
	if d > nlerpThreshold {
		q, ok := Normalize(quat.Add(a, quat.Scale(t, quat.Sub(b, a))))
		if !ok {
			return a
		}
		return q
	}
	theta := math.Acos(d)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sinTheta
	wb := math.Sin(t*theta) / sinTheta
	q, ok := Normalize(quat.Add(quat.Scale(wa, a), quat.Scale(wb, b)))
	if !ok {
		return a
	}
	return q
}

// RotateTowards moves from towards to by at most maxRadians.
func RotateTowards(from, to quat.Number, maxRadians float64) quat.Number {
	angle := Angle(from, to)
	if angle <= maxRadians || angle == 0 {
		return to
	}
	return Slerp(from, to, maxRadians/angle)
}

// SwingTwist splits q into swing ⊗ twist where twist is the rotation about
// axis and swing moves the axis.
func SwingTwist(q quat.Number, axis r3.Vec) (swing, twist quat.Number) {
	a := r3.Unit(axis)
	v := r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	p := r3.Scale(r3.Dot(v, a), a)
	twist, ok := Normalize(quat.Number{Real: q.Real, Imag: p.X, Jmag: p.Y, Kmag: p.Z})
	if !ok {
		// 180° swing: any twist is valid.
		twist = Identity
	}
	swing = Mul(q, Inverse(twist))
	return swing, twist
}

// TwistAngle returns the signed angle in radians of a twist rotation about
// axis, wrapped to (-π, π].
func TwistAngle(twist quat.Number, axis r3.Vec) float64 {
	a := r3.Unit(axis)
	s := twist.Imag*a.X + twist.Jmag*a.Y + twist.Kmag*a.Z
	angle := 2 * math.Atan2(s, twist.Real)
	return WrapAngle(angle)
}

// SwingAngle returns the unsigned angle in radians of a swing rotation.
func SwingAngle(swing quat.Number) float64 {
	return Angle(Identity, swing)
}

// WrapAngle wraps an angle in radians to (-π, π].
func WrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// Mirror reflects a rotation about the sagittal (x = 0) plane.
func Mirror(q quat.Number) quat.Number {
	return quat.Number{Real: q.Real, Imag: q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// MirrorVec reflects a position about the sagittal (x = 0) plane.
func MirrorVec(v r3.Vec) r3.Vec {
	return r3.Vec{X: -v.X, Y: v.Y, Z: v.Z}
}

// Deg converts degrees to radians.
func Deg(d float64) float64 {
	return d * math.Pi / 180
}

// ToDeg converts radians to degrees.
func ToDeg(r float64) float64 {
	return r * 180 / math.Pi
}

// IsFiniteVec reports whether every component of v is finite.
func IsFiniteVec(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Clamp01 clamps x to [0, 1].
func Clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
