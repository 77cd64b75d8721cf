// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// AccelScale converts milli-g device counts to g.
	AccelScale = 0.001
	// GyroScale converts degrees per second to radians per second.
	GyroScale = math.Pi / 180.0
)

// SensorProfile is the affine correction for one sensor.
type SensorProfile struct {
	Transform [3][3]float64 `json:"transform"`
	Bias      [3]float64    `json:"bias"`
}

// Profile holds the corrections of all three sensors of one device.
type Profile struct {
	Version int           `json:"version"`
	Device  string        `json:"device,omitempty"`
	Accel   SensorProfile `json:"accel"`
	Gyro    SensorProfile `json:"gyro"`
	Magnet  SensorProfile `json:"magnet"`
}

// Scaled returns a SensorProfile with transform s·I and zero bias.
func Scaled(s float64) SensorProfile {
	return SensorProfile{Transform: [3][3]float64{{s, 0, 0}, {0, s, 0}, {0, 0, s}}}
}

// Diagonal returns a SensorProfile with a per-axis scale and offset, the
// shape produced by min/max and six-point calibration procedures.
func Diagonal(scale, offset r3.Vec) SensorProfile {
	return SensorProfile{
		Transform: [3][3]float64{{scale.X, 0, 0}, {0, scale.Y, 0}, {0, 0, scale.Z}},
		Bias:      [3]float64{offset.X, offset.Y, offset.Z},
	}
}

// DefaultProfile converts device units (mg, deg/s, raw magnetic counts) with
// no bias correction.
func DefaultProfile() Profile {
	return Profile{
		Version: 1,
		Accel:   Scaled(AccelScale),
		Gyro:    Scaled(GyroScale),
		Magnet:  Scaled(1),
	}
}

func (s SensorProfile) matrix() *mat.Dense {
	data := make([]float64, 0, 9)
	for _, row := range s.Transform {
		data = append(data, row[:]...)
	}
	return mat.NewDense(3, 3, data)
}

func (s SensorProfile) bias() r3.Vec {
	return r3.Vec{X: s.Bias[0], Y: s.Bias[1], Z: s.Bias[2]}
}

func (s SensorProfile) validate() error {
	for i, b := range s.Bias {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return fmt.Errorf("%w: bias[%d] is %v", ErrInvalidConfiguration, i, b)
		}
	}
	return validateTransform(s.matrix())
}

// Validate checks every sensor transform and bias.
func (p Profile) Validate() error {
	for _, s := range []struct {
		name Sensor
		sp   SensorProfile
	}{{Accel, p.Accel}, {Gyro, p.Gyro}, {Magnet, p.Magnet}} {
		if err := s.sp.validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// WithBias returns a copy of p with the bias of sensor replaced.
func (p Profile) WithBias(sensor Sensor, bias r3.Vec) (Profile, error) {
	b := [3]float64{bias.X, bias.Y, bias.Z}
	switch sensor {
	case Accel:
		p.Accel.Bias = b
	case Gyro:
		p.Gyro.Bias = b
	case Magnet:
		p.Magnet.Bias = b
	default:
		return p, fmt.Errorf("%w: unknown sensor %q", ErrInvalidConfiguration, sensor)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// profileFile mirrors Profile with optional sensor blocks so that a file may
// override only some sensors.
type profileFile struct {
	Version int            `json:"version"`
	Device  string         `json:"device"`
	Accel   *SensorProfile `json:"accel"`
	Gyro    *SensorProfile `json:"gyro"`
	Magnet  *SensorProfile `json:"magnet"`
}

// LoadProfile reads a JSON calibration profile. Missing sensor blocks keep
// their DefaultProfile values.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read calibration file: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a JSON calibration profile and validates it.
func ParseProfile(data []byte) (Profile, error) {
	var f profileFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	p := DefaultProfile()
	if f.Version != 0 {
		p.Version = f.Version
	}
	p.Device = f.Device
	if f.Accel != nil {
		p.Accel = *f.Accel
	}
	if f.Gyro != nil {
		p.Gyro = *f.Gyro
	}
	if f.Magnet != nil {
		p.Magnet = *f.Magnet
	}

	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}
