// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package fusion

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const tickPeriod = 10 * time.Millisecond

var (
	level  = r3.Vec{Z: 1}
	north  = r3.Vec{X: 1}
	still  = r3.Vec{}
	tilted = r3.Vec{Y: 0.5, Z: math.Sqrt(3) / 2}
)

// stepClock is advanced by hand so every tick sees a fixed period.
type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time { return c.t }

func (c *stepClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestFilter(opts ...Option) (*Filter, *stepClock) {
	clk := &stepClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	return New(opts...), clk
}

func tick(t *testing.T, f *Filter, clk *stepClock, omega, accel, magnetic r3.Vec, g Gains) quat.Number {
	t.Helper()
	clk.Advance(tickPeriod)
	q, err := f.Update(omega, accel, magnetic, g)
	require.NoError(t, err)
	return q
}

func run(t *testing.T, f *Filter, clk *stepClock, n int, omega, accel, magnetic r3.Vec, g Gains) quat.Number {
	t.Helper()
	var q quat.Number
	for i := 0; i < n; i++ {
		q = tick(t, f, clk, omega, accel, magnetic, g)
	}
	return q
}

func TestUpdate_UnitNormInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	gains := []Gains{
		DefaultGains,
		{KI: 0.5, KP: 3, KA: 1, KM: 1},
		{KI: 0, KP: 10, KA: 1, KM: 0.5},
	}
	noise := func(scale float64) r3.Vec {
		return r3.Vec{X: scale * rng.NormFloat64(), Y: scale * rng.NormFloat64(), Z: scale * rng.NormFloat64()}
	}

	for _, g := range gains {
		f, clk := newTestFilter()
		for i := 0; i < 2000; i++ {
			clk.Advance(time.Duration(1+rng.Intn(30)) * time.Millisecond)
			omega := noise(3)
			accel := r3.Add(level, noise(0.4))
			magnetic := r3.Add(north, noise(0.4))
			q, err := f.Update(omega, accel, magnetic, g)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, quat.Abs(q), 1e-6, "tick %d gains %+v", i, g)
		}
	}
}

func TestUpdate_StaticBiasConvergence(t *testing.T) {
	f, clk := newTestFilter()
	omega := r3.Vec{X: 0.01, Y: -0.02, Z: 0.005}

	// 1/(1-0.93) ≈ 14 ticks; run well past it.
	run(t, f, clk, 300, omega, level, north, DefaultGains)

	st := f.State()
	require.True(t, st.Static)
	assert.InDelta(t, omega.X, st.GyroBias.X, 1e-6)
	assert.InDelta(t, omega.Y, st.GyroBias.Y, 1e-6)
	assert.InDelta(t, omega.Z, st.GyroBias.Z, 1e-6)
	assert.Less(t, r3.Norm(r3.Sub(omega, st.GyroBias)), 1e-6)
}

func TestUpdate_GyroBiasOnlyChangesWhenStatic(t *testing.T) {
	f, clk := newTestFilter()
	omega := r3.Vec{X: 0.05, Y: 0.01, Z: -0.03}
	sawMoving := false

	for i := 0; i < 200; i++ {
		accel := level
		if (i/20)%2 == 1 {
			// shake the device for a while
			accel = r3.Vec{X: 0.3 * math.Sin(float64(i)), Y: 0.2 * math.Cos(float64(i)), Z: 1}
		}
		before := f.State().GyroBias
		tick(t, f, clk, omega, accel, north, DefaultGains)
		st := f.State()
		if !st.Static {
			sawMoving = true
			assert.Equal(t, before, st.GyroBias, "tick %d", i)
		}
	}
	assert.True(t, sawMoving)
}

func TestUpdate_AntiWindup(t *testing.T) {
	f, clk := newTestFilter()
	withIntegral := Gains{KI: 1, KP: 3, KA: 1, KM: 0}

	run(t, f, clk, 50, still, tilted, north, withIntegral)
	require.NotEqual(t, r3.Vec{}, f.State().BiasIntegral)

	for i := 0; i < 50; i++ {
		accel := tilted
		if i%3 == 0 {
			accel = level
		}
		tick(t, f, clk, r3.Vec{X: 0.1}, accel, north, DefaultGains)
		assert.Equal(t, r3.Vec{}, f.State().BiasIntegral, "tick %d", i)
	}
}

func TestUpdate_IntegralOnlyAccruesWhenStatic(t *testing.T) {
	f, clk := newTestFilter()
	g := Gains{KI: 1, KP: 3, KA: 1}

	run(t, f, clk, 5, still, tilted, north, g)
	for i := 0; i < 40; i++ {
		accel := r3.Vec{X: 0.4 * math.Sin(float64(i)), Y: 0.5, Z: 0.8}
		before := f.State().BiasIntegral
		tick(t, f, clk, still, accel, north, g)
		if !f.State().Static {
			assert.Equal(t, before, f.State().BiasIntegral, "tick %d", i)
		}
	}
}

func TestUpdate_GravityCompensationAtRest(t *testing.T) {
	t.Run("level", func(t *testing.T) {
		f, clk := newTestFilter()
		run(t, f, clk, 200, still, level, north, DefaultGains)
		assert.Less(t, r3.Norm(f.State().MovementSensor), 1e-9)
		assert.Less(t, r3.Norm(f.State().MovementEarth), 1e-9)
	})

	t.Run("tilted", func(t *testing.T) {
		f, clk := newTestFilter()
		run(t, f, clk, 600, still, tilted, north, DefaultGains)
		assert.Less(t, r3.Norm(f.State().MovementSensor), 1e-4)
	})
}

func TestUpdate_MovementAccelerationRemovesGravity(t *testing.T) {
	f, clk := newTestFilter()
	run(t, f, clk, 100, still, level, north, DefaultGains)

	push := r3.Vec{X: 0.25}
	tick(t, f, clk, still, r3.Add(level, push), north, DefaultGains)
	st := f.State()
	assert.InDelta(t, push.X, st.MovementSensor.X, 1e-9)
	assert.InDelta(t, 0, st.MovementSensor.Y, 1e-9)
	assert.InDelta(t, 0, st.MovementSensor.Z, 1e-9)
}

func TestAlignment(t *testing.T) {
	f, clk := newTestFilter()
	run(t, f, clk, 600, still, tilted, north, DefaultGains)
	require.Greater(t, Angle(f.Orientation()), 0.4)

	f.SetAlignment()
	aligned := f.Align(f.Orientation())
	assert.InDelta(t, 0, Angle(aligned), 1e-6)

	clk.Advance(tickPeriod)
	q, ma, err := f.FuseAndAlign(still, tilted, north, DefaultGains)
	require.NoError(t, err)
	assert.InDelta(t, 0, Angle(q), 1e-3)
	assert.Less(t, r3.Norm(ma), 1e-3)
}

func TestUpdate_DegenerateInputRejection(t *testing.T) {
	tests := []struct {
		name     string
		accel    r3.Vec
		magnetic r3.Vec
	}{
		{name: "zero accel", accel: r3.Vec{}, magnetic: north},
		{name: "zero magnetic", accel: level, magnetic: r3.Vec{}},
		{name: "tiny accel", accel: r3.Vec{Z: 1e-12}, magnetic: north},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, clk := newTestFilter()
			run(t, f, clk, 20, r3.Vec{Y: 0.2}, tilted, north, Gains{KI: 0.5, KP: 3, KA: 1, KM: 1})
			before := f.State()

			clk.Advance(tickPeriod)
			q, err := f.Update(r3.Vec{X: 1}, tt.accel, tt.magnetic, DefaultGains)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDegenerateVector), "got %v", err)
			assert.Equal(t, before.Orientation, q)
			if diff := cmp.Diff(before, f.State()); diff != "" {
				t.Errorf("state changed on rejected tick (-before +after):\n%s", diff)
			}
		})
	}
}

func TestUpdate_NonPositiveTimestep(t *testing.T) {
	f, clk := newTestFilter()
	run(t, f, clk, 5, still, level, north, DefaultGains)
	before := f.State()

	_, err := f.Update(still, level, north, DefaultGains)
	assert.ErrorIs(t, err, ErrNonPositiveTimestep)

	clk.Advance(-time.Second)
	_, err = f.Update(still, level, north, DefaultGains)
	assert.ErrorIs(t, err, ErrNonPositiveTimestep)

	if diff := cmp.Diff(before, f.State()); diff != "" {
		t.Errorf("state changed (-before +after):\n%s", diff)
	}

	// a later tick integrates over the whole gap since the last good one
	clk.Advance(time.Second + tickPeriod)
	tick(t, f, clk, still, level, north, DefaultGains)
	assert.InDelta(t, 0.02, f.State().Period, 1e-9)
}

func TestUpdate_RejectsNonFiniteInput(t *testing.T) {
	f, clk := newTestFilter()
	before := f.State()
	clk.Advance(tickPeriod)

	_, err := f.Update(r3.Vec{X: math.NaN()}, level, north, DefaultGains)
	assert.ErrorIs(t, err, ErrNonFiniteInput)
	_, err = f.Update(still, r3.Vec{Z: math.Inf(1)}, north, DefaultGains)
	assert.ErrorIs(t, err, ErrNonFiniteInput)
	assert.Equal(t, before, f.State())
}

func TestUpdate_OverflowingCorrectionLeavesStateUnchanged(t *testing.T) {
	f, clk := newTestFilter()
	run(t, f, clk, 600, still, tilted, north, DefaultGains)
	before := f.State()

	clk.Advance(tickPeriod)
	huge := Gains{KP: 1e308, KA: 1e308}
	q, err := f.Update(still, r3.Vec{X: 1, Z: 0.1}, north, huge)
	require.ErrorIs(t, err, ErrNonFiniteInput)
	assert.Equal(t, before.Orientation, q)
	if diff := cmp.Diff(before, f.State()); diff != "" {
		t.Errorf("state changed on rejected tick (-want +got):\n%s", diff)
	}

	// the filter keeps working afterwards
	tick(t, f, clk, still, tilted, north, DefaultGains)
}

func TestUpdate_RejectsInvalidGains(t *testing.T) {
	f, clk := newTestFilter()
	clk.Advance(tickPeriod)

	_, err := f.Update(still, level, north, Gains{KP: -1, KA: 1})
	assert.ErrorIs(t, err, ErrInvalidGains)
	_, err = f.Update(still, level, north, Gains{KP: math.NaN()})
	assert.ErrorIs(t, err, ErrInvalidGains)
}

func TestUpdate_FirstTickUsesConstructionTime(t *testing.T) {
	f, clk := newTestFilter()
	clk.Advance(250 * time.Millisecond)
	_, err := f.Update(still, level, north, DefaultGains)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, f.State().Period, 1e-12)
}

func TestUpdate_EndToEndIdentity(t *testing.T) {
	f, clk := newTestFilter()
	q := run(t, f, clk, 100, still, level, north, DefaultGains)

	assert.InDelta(t, 1, q.Real, 1e-9)
	assert.InDelta(t, 0, q.Imag, 1e-9)
	assert.InDelta(t, 0, q.Jmag, 1e-9)
	assert.InDelta(t, 0, q.Kmag, 1e-9)
}

func TestUpdate_TiltConvergence(t *testing.T) {
	f, clk := newTestFilter()
	q := run(t, f, clk, 600, still, tilted, north, DefaultGains)

	// the estimated gravity direction in the sensor frame matches the reading
	down := Rotate(quat.Conj(q), level)
	assert.InDelta(t, tilted.X, down.X, 1e-4)
	assert.InDelta(t, tilted.Y, down.Y, 1e-4)
	assert.InDelta(t, tilted.Z, down.Z, 1e-4)
}

func TestUpdate_MagneticHeadingCorrection(t *testing.T) {
	f, clk := newTestFilter()
	g := Gains{KP: 3, KA: 1, KM: 1}
	q := run(t, f, clk, 1000, still, level, north, g)

	// the accel×magnet cross vector ends up on the global X axis
	cross := r3.Cross(level, north)
	got := Rotate(q, cross)
	assert.InDelta(t, 1, got.X, 1e-3)
	assert.InDelta(t, 0, got.Y, 1e-3)
	assert.InDelta(t, 0, got.Z, 1e-3)
}

func TestTuningSetters(t *testing.T) {
	f, clk := newTestFilter(WithStaticThreshold(0), WithGyroBiasAlpha(0.5))
	omega := r3.Vec{Z: 0.1}

	// a zero threshold never classifies the device as still
	run(t, f, clk, 20, omega, level, north, DefaultGains)
	assert.Equal(t, r3.Vec{}, f.State().GyroBias)

	f.SetStaticThreshold(DefaultStaticThreshold)
	f.SetGyroBiasAlpha(0)
	tick(t, f, clk, omega, level, north, DefaultGains)
	require.True(t, f.State().Static)
	assert.Equal(t, omega, f.State().GyroBias)
}
