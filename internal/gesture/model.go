// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package gesture turns raw sensor triples into orientation and motion
// features: it calibrates, fuses and then derives angles and a leaky
// velocity estimate.
package gesture

import (
	"fmt"

	"github.com/relabs-tech/gesture_computer/internal/calib"
	"github.com/relabs-tech/gesture_computer/internal/fusion"
	"github.com/relabs-tech/gesture_computer/internal/orientation"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// VelocityDecay is the per-tick decay of the integrated movement velocity.
const VelocityDecay = 0.9999

// Features are the per-tick outputs of a Model.
//
// MovementVelocity is a leaky sum of MovementAcceleration and is not
// drift-corrected: treat it as a rough motion proxy, not a true velocity.
type Features struct {
	Quaternion             [4]float64 `json:"quaternion"` // w, x, y, z
	Skewness               float64    `json:"skewness"`
	Tilt                   float64    `json:"tilt"`
	Roll                   float64    `json:"roll"`
	MovementAcceleration   [3]float64 `json:"movement_acceleration"`
	AccelerationDerivative [3]float64 `json:"acceleration_derivative"`
	MovementVelocity       [3]float64 `json:"movement_velocity"`
	Static                 bool       `json:"static"`

	// relative to the zero pose captured by SetAlignment
	AlignedQuaternion   [4]float64 `json:"aligned_quaternion"`
	AlignedAcceleration [3]float64 `json:"aligned_acceleration"`
}

// Pose returns the gesture angles of f.
func (f Features) Pose() orientation.Pose {
	return orientation.Pose{Skewness: f.Skewness, Tilt: f.Tilt, Roll: f.Roll}
}

// Model is the per-device gesture pipeline. It is not safe for concurrent use.
type Model struct {
	calibrator *calib.Calibrator
	filter     *fusion.Filter
	gains      fusion.Gains

	velocity r3.Vec
}

// NewModel returns a model with DefaultProfile calibration and DefaultGains.
func NewModel(opts ...fusion.Option) *Model {
	c, err := calib.New(calib.DefaultProfile())
	if err != nil {
		// DefaultProfile is a constant diagonal profile.
		panic(fmt.Sprintf("gesture: default calibration profile: %v", err))
	}
	return &Model{
		calibrator: c,
		filter:     fusion.New(opts...),
		gains:      fusion.DefaultGains,
	}
}

// Configure installs a calibration profile. The profile is validated here so
// that ticks never see a degenerate transform.
func (m *Model) Configure(p calib.Profile) error {
	c, err := calib.New(p)
	if err != nil {
		return err
	}
	m.calibrator = c
	return nil
}

// SetGains replaces the fusion gains used by Tick.
func (m *Model) SetGains(g fusion.Gains) error {
	if err := g.Validate(); err != nil {
		return err
	}
	m.gains = g
	return nil
}

// Gains returns the fusion gains used by Tick.
func (m *Model) Gains() fusion.Gains { return m.gains }

// SetAlignment captures the current orientation as the zero pose.
func (m *Model) SetAlignment() { m.filter.SetAlignment() }

// Filter exposes the underlying attitude filter.
func (m *Model) Filter() *fusion.Filter { return m.filter }

// Tick calibrates one raw sample, fuses it and derives the features. On
// error nothing in the model changes.
func (m *Model) Tick(rawAccel, rawGyro, rawMagnet r3.Vec) (Features, error) {
	accel := m.calibrator.Accel(rawAccel)
	gyro := m.calibrator.Gyro(rawGyro)
	magnet := m.calibrator.Magnet(rawMagnet)

	aligned, alignedAccel, err := m.filter.FuseAndAlign(gyro, accel, magnet, m.gains)
	if err != nil {
		return Features{}, fmt.Errorf("fusion: %w", err)
	}

	st := m.filter.State()
	m.velocity = r3.Add(r3.Scale(VelocityDecay, m.velocity), st.MovementSensor)

	pose := orientation.FromQuaternion(st.Orientation)
	return Features{
		Quaternion:             quatArray(st.Orientation),
		Skewness:               pose.Skewness,
		Tilt:                   pose.Tilt,
		Roll:                   pose.Roll,
		MovementAcceleration:   vecArray(st.MovementSensor),
		AccelerationDerivative: vecArray(st.AccelDerivative),
		MovementVelocity:       vecArray(m.velocity),
		Static:                 st.Static,
		AlignedQuaternion:      quatArray(aligned),
		AlignedAcceleration:    vecArray(alignedAccel),
	}, nil
}

func vecArray(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func quatArray(q quat.Number) [4]float64 { return [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag} }
