// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package fusion

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Identity is the zero-rotation quaternion.
var Identity = quat.Number{Real: 1}

// Matrix is a row-major 3x3 rotation matrix.
type Matrix [3][3]float64

// RotationMatrix returns the matrix R such that R·v rotates v from the sensor
// frame into the global frame for the unit quaternion q.
func RotationMatrix(q quat.Number) Matrix {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Matrix{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// MulVec returns m·v.
func (m Matrix) MulVec(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Transpose returns mᵀ, the inverse of a rotation matrix.
func (m Matrix) Transpose() Matrix {
	var t Matrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] = m[j][i]
		}
	}
	return t
}

// Rotate applies q to v (q·v·q*).
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

// Normalize scales q to unit norm. A zero quaternion becomes Identity; a
// quaternion with a non-finite norm becomes quat.NaN().
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	switch {
	case n == 0:
		return Identity
	case math.IsNaN(n) || math.IsInf(n, 0):
		return quat.NaN()
	}
	return quat.Scale(1/n, q)
}

// FromAxisAngle returns the rotation of angle radians about axis. The axis
// must be a unit vector.
func FromAxisAngle(axis r3.Vec, angle float64) quat.Number {
	s, c := math.Sincos(angle / 2)
	return quat.Number{Real: c, Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// Integrate advances q by the body-frame angular rate omega (rad/s) over dt
// seconds using the closed-form rotation q ⊗ exp(omega·dt/2).
func Integrate(q quat.Number, omega r3.Vec, dt float64) quat.Number {
	q = Normalize(q)
	rv := r3.Scale(dt, omega)
	angle := r3.Norm(rv)
	if angle == 0 {
		return q
	}
	step := FromAxisAngle(r3.Scale(1/angle, rv), angle)
	return Normalize(quat.Mul(q, step))
}

// Angle returns the rotation angle of the unit quaternion q in radians,
// in the range [0, π].
func Angle(q quat.Number) float64 {
	w := math.Abs(Normalize(q).Real)
	if w > 1 {
		w = 1
	}
	return 2 * math.Acos(w)
}

func finiteQuat(q quat.Number) bool {
	return finiteVec(r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}) &&
		!math.IsNaN(q.Real) && !math.IsInf(q.Real, 0)
}

func finiteVec(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
