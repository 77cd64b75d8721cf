// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fusion implements a Mahony-style attitude filter that fuses
// accelerometer, gyroscope and magnetometer vectors into a unit quaternion,
// learns the gyroscope bias while the device is still and removes gravity
// from the measured acceleration.
//
// A Filter is not safe for concurrent use. Callers must guarantee at most one
// Update in flight per Filter; internal/pipeline does this with one worker
// goroutine per device.
package fusion

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	DefaultStaticThreshold = 0.01
	DefaultGyroBiasAlpha   = 0.93

	// minNorm is the smallest accelerometer/magnetometer magnitude accepted
	// for normalization.
	minNorm = 1e-9
)

var zAxis = r3.Vec{Z: 1}

// Gains weights the correction terms of one tick.
type Gains struct {
	KI float64 // integral feedback; 0 disables it and clears the integral
	KP float64 // proportional feedback
	KA float64 // weight of the accelerometer error
	KM float64 // weight of the accel×magnet cross-vector error
}

// DefaultGains is accelerometer-only proportional correction.
var DefaultGains = Gains{KI: 0.0, KP: 3.0, KA: 1.0, KM: 0.0}

// Validate reports ErrInvalidGains for negative or non-finite gains.
func (g Gains) Validate() error {
	for _, v := range []float64{g.KI, g.KP, g.KA, g.KM} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %+v", ErrInvalidGains, g)
		}
	}
	return nil
}

// State is everything a Filter remembers between ticks.
type State struct {
	Orientation quat.Number
	Alignment   quat.Number

	GyroBias     r3.Vec
	BiasIntegral r3.Vec

	// motion history used by the static/moving classifier
	PrevAccel       r3.Vec
	AvgAccel        r3.Vec
	AccelDerivative r3.Vec
	Static          bool

	// gravity-compensated acceleration in sensor and global frames
	MovementSensor r3.Vec
	MovementEarth  r3.Vec

	LastTick time.Time
	Period   float64 // seconds
}

// Filter owns the State of one tracked device.
type Filter struct {
	state State

	staticThreshold float64
	gyroBiasAlpha   float64
	now             func() time.Time
}

// Option configures a Filter.
type Option func(*Filter)

// WithStaticThreshold sets the acceleration-derivative norm below which the
// device is considered still.
func WithStaticThreshold(v float64) Option {
	return func(f *Filter) { f.staticThreshold = v }
}

// WithGyroBiasAlpha sets the smoothing factor of the gyro bias estimate.
func WithGyroBiasAlpha(v float64) Option {
	return func(f *Filter) { f.gyroBiasAlpha = v }
}

// WithClock replaces time.Now as the source of tick timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) { f.now = now }
}

// New returns a filter at the identity orientation. The first Update
// integrates over the time elapsed since New.
func New(opts ...Option) *Filter {
	f := &Filter{
		staticThreshold: DefaultStaticThreshold,
		gyroBiasAlpha:   DefaultGyroBiasAlpha,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.state.Orientation = Identity
	f.state.Alignment = Identity
	f.state.LastTick = f.now()
	return f
}

// SetStaticThreshold changes the static classifier threshold.
func (f *Filter) SetStaticThreshold(v float64) { f.staticThreshold = v }

// SetGyroBiasAlpha changes the gyro bias smoothing factor.
func (f *Filter) SetGyroBiasAlpha(v float64) { f.gyroBiasAlpha = v }

// State returns a copy of the filter state.
func (f *Filter) State() State { return f.state }

// Orientation returns the current unit quaternion.
func (f *Filter) Orientation() quat.Number { return f.state.Orientation }

// SetAlignment captures the current orientation as the zero pose.
func (f *Filter) SetAlignment() {
	f.state.Alignment = quat.Conj(f.state.Orientation)
}

// Align expresses q relative to the captured zero pose.
func (f *Filter) Align(q quat.Number) quat.Number {
	return quat.Mul(f.state.Alignment, q)
}

// Update runs one tick with the body-frame angular rate omega (rad/s), the
// acceleration accel (g) and the magnetic field magnetic (any unit) and
// returns the new orientation.
//
// On error the state is left exactly as it was before the call.
func (f *Filter) Update(omega, accel, magnetic r3.Vec, g Gains) (quat.Number, error) {
	if err := g.Validate(); err != nil {
		return f.state.Orientation, err
	}
	if !finiteVec(omega) || !finiteVec(accel) || !finiteVec(magnetic) {
		return f.state.Orientation, ErrNonFiniteInput
	}
	accelNorm := r3.Norm(accel)
	if accelNorm < minNorm {
		return f.state.Orientation, fmt.Errorf("accelerometer: %w", ErrDegenerateVector)
	}
	magNorm := r3.Norm(magnetic)
	if magNorm < minNorm {
		return f.state.Orientation, fmt.Errorf("magnetometer: %w", ErrDegenerateVector)
	}

	now := f.now()
	dt := now.Sub(f.state.LastTick).Seconds()
	if dt <= 0 {
		return f.state.Orientation, fmt.Errorf("%w: %v", ErrNonPositiveTimestep, dt)
	}

	s := f.state
	s.LastTick = now
	s.Period = dt

	s.AvgAccel = r3.Add(r3.Scale(0.5, s.PrevAccel), r3.Scale(0.5, s.AvgAccel))
	s.AccelDerivative = r3.Sub(s.AvgAccel, s.PrevAccel)
	s.Static = r3.Norm(s.AccelDerivative) < f.staticThreshold
	s.PrevAccel = accel

	if s.Static {
		s.GyroBias = r3.Add(r3.Scale(1-f.gyroBiasAlpha, omega), r3.Scale(f.gyroBiasAlpha, s.GyroBias))
	}
	omega = r3.Sub(omega, s.GyroBias)

	rotation := RotationMatrix(s.Orientation)
	inverse := rotation.Transpose()

	// global Z expressed in the sensor frame
	down := inverse.MulVec(zAxis)
	s.MovementSensor = r3.Sub(accel, down)
	s.MovementEarth = rotation.MulVec(s.MovementSensor)

	va := r3.Scale(1/accelNorm, accel)
	vm := r3.Scale(1/magNorm, magnetic)
	cross := r3.Cross(va, vm)

	// drop the inclination so magnetic dip does not leak into heading
	h := rotation.MulVec(cross)
	b := r3.Vec{X: math.Hypot(h.X, h.Y), Z: h.Z}
	crossHat := inverse.MulVec(b)

	wa := r3.Cross(va, down)
	wx := r3.Cross(cross, crossHat)
	wmes := r3.Add(r3.Scale(g.KA, wa), r3.Scale(g.KM, wx))

	if g.KI > 0 {
		if s.Static {
			s.BiasIntegral = r3.Add(s.BiasIntegral, r3.Scale(dt, wmes))
		}
		omega = r3.Add(omega, r3.Add(r3.Scale(g.KP, wmes), r3.Scale(g.KI, s.BiasIntegral)))
	} else {
		s.BiasIntegral = r3.Vec{}
		omega = r3.Add(omega, r3.Scale(g.KP, wmes))
	}

	if !finiteVec(omega) || !finiteVec(s.MovementEarth) {
		return f.state.Orientation, fmt.Errorf("%w: corrected rate %v", ErrNonFiniteInput, omega)
	}
	s.Orientation = Integrate(s.Orientation, omega, dt)
	if !finiteQuat(s.Orientation) {
		return f.state.Orientation, fmt.Errorf("%w: integrated orientation", ErrNonFiniteInput)
	}

	f.state = s
	return s.Orientation, nil
}

// FuseAndAlign runs Update and returns the aligned orientation together with
// the global-frame movement acceleration rotated into the aligned frame.
func (f *Filter) FuseAndAlign(omega, accel, magnetic r3.Vec, g Gains) (quat.Number, r3.Vec, error) {
	q, err := f.Update(omega, accel, magnetic, g)
	if err != nil {
		return quat.Number{}, r3.Vec{}, err
	}
	return f.Align(q), Rotate(f.state.Alignment, f.state.MovementEarth), nil
}
