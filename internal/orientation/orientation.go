// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/relabs-tech/gesture_computer/internal/fusion"
	"gonum.org/v1/gonum/num/quat"
)

const radToDeg = 180.0 / math.Pi

// Pose is the canonical set of gesture angles, in degrees.
type Pose struct {
	Skewness float64 `json:"skewness"`
	Tilt     float64 `json:"tilt"`
	Roll     float64 `json:"roll"`
}

// FromMatrix derives the gesture angles from a rotation matrix R:
//
//	skewness = atan2(R10, R00)
//	tilt     = atan2(R20, sqrt(R21² + R22²))
//	roll     = atan2(R21, R22)
func FromMatrix(r fusion.Matrix) Pose {
	return Pose{
		Skewness: radToDeg * math.Atan2(r[1][0], r[0][0]),
		Tilt:     radToDeg * math.Atan2(r[2][0], math.Sqrt(r[2][1]*r[2][1]+r[2][2]*r[2][2])),
		Roll:     radToDeg * math.Atan2(r[2][1], r[2][2]),
	}
}

// FromQuaternion derives the gesture angles of the unit quaternion q.
func FromQuaternion(q quat.Number) Pose {
	return FromMatrix(fusion.RotationMatrix(q))
}

// ComputePoseFromAccel estimates tilt and roll from the accelerometer alone,
// with the same sign conventions as FromMatrix for a device at rest. Skewness
// is unobservable without heading and is left at 0.
//
//	roll = atan2(ay, az)
//	tilt = atan2(ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	return Pose{
		Tilt: radToDeg * math.Atan2(ax, math.Sqrt(ay*ay+az*az)),
		Roll: radToDeg * math.Atan2(ay, az),
	}
}
