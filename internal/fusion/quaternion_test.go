// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const tolerance = 1e-12

func assertVecInDelta(t *testing.T, want, got r3.Vec, delta float64) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, delta, "x")
	assert.InDelta(t, want.Y, got.Y, delta, "y")
	assert.InDelta(t, want.Z, got.Z, delta, "z")
}

func TestRotationMatrixMatchesRotate(t *testing.T) {
	qs := []quat.Number{
		Identity,
		FromAxisAngle(r3.Vec{Z: 1}, math.Pi/2),
		FromAxisAngle(r3.Unit(r3.Vec{X: 1, Y: -2, Z: 0.5}), 1.3),
		Normalize(quat.Number{Real: 0.2, Imag: -0.4, Jmag: 0.7, Kmag: 0.1}),
	}
	v := r3.Vec{X: 0.3, Y: -1.2, Z: 2}

	for _, q := range qs {
		assertVecInDelta(t, Rotate(q, v), RotationMatrix(q).MulVec(v), tolerance)
		assertVecInDelta(t, Rotate(quat.Conj(q), v), RotationMatrix(q).Transpose().MulVec(v), tolerance)
	}
}

func TestFromAxisAngle(t *testing.T) {
	q := FromAxisAngle(r3.Vec{Z: 1}, math.Pi/2)
	assertVecInDelta(t, r3.Vec{Y: 1}, Rotate(q, r3.Vec{X: 1}), tolerance)
	assert.InDelta(t, math.Pi/2, Angle(q), tolerance)
}

func TestIntegrate(t *testing.T) {
	t.Run("quarter turn", func(t *testing.T) {
		q := Identity
		for i := 0; i < 100; i++ {
			q = Integrate(q, r3.Vec{Z: math.Pi / 2}, 0.01)
		}
		assertVecInDelta(t, r3.Vec{Y: 1}, Rotate(q, r3.Vec{X: 1}), 1e-9)
		assert.InDelta(t, 1, quat.Abs(q), tolerance)
	})

	t.Run("zero rate keeps orientation", func(t *testing.T) {
		q := FromAxisAngle(r3.Vec{X: 1}, 0.3)
		got := Integrate(q, r3.Vec{}, 0.01)
		assert.InDelta(t, 0, Angle(quat.Mul(quat.Conj(q), got)), 1e-6)
	})

	t.Run("body frame composition", func(t *testing.T) {
		// yaw 90° then a body-frame roll turns about the rotated X axis
		q := FromAxisAngle(r3.Vec{Z: 1}, math.Pi/2)
		q = Integrate(q, r3.Vec{X: math.Pi / 2}, 1)
		assertVecInDelta(t, r3.Vec{X: 1}, Rotate(q, r3.Vec{Z: 1}), 1e-9)
	})
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Identity, Normalize(quat.Number{}))
	assert.InDelta(t, 1, quat.Abs(Normalize(quat.Number{Real: 3, Kmag: 4})), tolerance)

	assert.True(t, quat.IsNaN(Normalize(quat.Number{Real: math.NaN()})))
	assert.True(t, quat.IsNaN(Normalize(quat.Number{Real: math.Inf(1), Imag: 1})))
	assert.False(t, finiteQuat(Integrate(Identity, r3.Vec{X: math.Inf(1)}, 0.01)))
}
