// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calib applies per-sensor affine corrections to raw readings before
// they reach the attitude filter.
package calib

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidConfiguration is returned when a calibration transform cannot be
// used (wrong shape, non-finite, singular or badly conditioned).
var ErrInvalidConfiguration = errors.New("invalid calibration configuration")

// maxCondition bounds the 2-norm condition number of a transform. Scale alone
// never fails the check, so count-to-unit factors like 1/16384 are accepted.
const maxCondition = 1e12

// Sensor names one of the three vector sensors.
type Sensor string

const (
	Accel  Sensor = "accel"
	Gyro   Sensor = "gyro"
	Magnet Sensor = "magnet"
)

// Calibrate returns transform · (raw − bias).
func Calibrate(raw r3.Vec, transform mat.Matrix, bias r3.Vec) r3.Vec {
	d := mat.NewVecDense(3, []float64{raw.X - bias.X, raw.Y - bias.Y, raw.Z - bias.Z})
	var out mat.VecDense
	out.MulVec(transform, d)
	return r3.Vec{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// Calibrator corrects readings with a validated Profile.
type Calibrator struct {
	profile Profile

	accel  *mat.Dense
	gyro   *mat.Dense
	magnet *mat.Dense
}

// New validates p and returns a Calibrator for it.
func New(p Profile) (*Calibrator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Calibrator{
		profile: p,
		accel:   p.Accel.matrix(),
		gyro:    p.Gyro.matrix(),
		magnet:  p.Magnet.matrix(),
	}, nil
}

// Profile returns the profile the calibrator was built from.
func (c *Calibrator) Profile() Profile { return c.profile }

// Accel corrects a raw accelerometer reading.
func (c *Calibrator) Accel(raw r3.Vec) r3.Vec {
	return Calibrate(raw, c.accel, c.profile.Accel.bias())
}

// Gyro corrects a raw gyroscope reading.
func (c *Calibrator) Gyro(raw r3.Vec) r3.Vec {
	return Calibrate(raw, c.gyro, c.profile.Gyro.bias())
}

// Magnet corrects a raw magnetometer reading.
func (c *Calibrator) Magnet(raw r3.Vec) r3.Vec {
	return Calibrate(raw, c.magnet, c.profile.Magnet.bias())
}

func validateTransform(m *mat.Dense) error {
	r, c := m.Dims()
	if r != 3 || c != 3 {
		return fmt.Errorf("%w: transform is %dx%d", ErrInvalidConfiguration, r, c)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: transform[%d][%d] is %v", ErrInvalidConfiguration, i, j, v)
			}
		}
	}
	if det := mat.Det(m); det == 0 {
		return fmt.Errorf("%w: transform is singular (det=%g)", ErrInvalidConfiguration, det)
	}
	if cond := mat.Cond(m, 2); cond > maxCondition || math.IsInf(cond, 0) || math.IsNaN(cond) {
		return fmt.Errorf("%w: transform is ill-conditioned (cond=%g)", ErrInvalidConfiguration, cond)
	}
	return nil
}
