// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestCalibrate(t *testing.T) {
	transform := mat.NewDense(3, 3, []float64{
		2, 0, 0,
		0, 0, -1,
		0, 1, 0,
	})
	got := Calibrate(r3.Vec{X: 3, Y: 5, Z: 7}, transform, r3.Vec{X: 1, Y: 1, Z: 1})
	assert.Equal(t, r3.Vec{X: 4, Y: -6, Z: 4}, got)
}

func TestCalibrator_DefaultProfile(t *testing.T) {
	c, err := New(DefaultProfile())
	require.NoError(t, err)

	a := c.Accel(r3.Vec{X: 0, Y: 0, Z: 1000})
	assert.InDelta(t, 1.0, a.Z, 1e-12)

	g := c.Gyro(r3.Vec{X: 180})
	assert.InDelta(t, math.Pi, g.X, 1e-12)

	m := c.Magnet(r3.Vec{X: 12, Y: -3, Z: 40})
	assert.Equal(t, r3.Vec{X: 12, Y: -3, Z: 40}, m)
}

func TestCalibrator_Bias(t *testing.T) {
	p, err := DefaultProfile().WithBias(Gyro, r3.Vec{X: 1, Y: -2, Z: 0.5})
	require.NoError(t, err)

	c, err := New(p)
	require.NoError(t, err)
	got := c.Gyro(r3.Vec{X: 1, Y: -2, Z: 0.5})
	assert.InDelta(t, 0, r3.Norm(got), 1e-15)

	_, err = DefaultProfile().WithBias(Sensor("baro"), r3.Vec{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Profile)
		wantErr bool
	}{
		{name: "default", mutate: func(p *Profile) {}},
		{name: "tiny scale is fine", mutate: func(p *Profile) { p.Accel = Scaled(1.0 / 16384) }},
		{name: "diagonal", mutate: func(p *Profile) {
			p.Magnet = Diagonal(r3.Vec{X: 1.1, Y: 0.9, Z: 1.02}, r3.Vec{X: 30, Y: -12, Z: 4})
		}},
		{name: "singular", wantErr: true, mutate: func(p *Profile) { p.Gyro = Scaled(0) }},
		{name: "rank deficient", wantErr: true, mutate: func(p *Profile) {
			p.Magnet.Transform = [3][3]float64{{1, 2, 3}, {2, 4, 6}, {0, 0, 1}}
		}},
		{name: "nan transform", wantErr: true, mutate: func(p *Profile) { p.Accel.Transform[1][1] = math.NaN() }},
		{name: "inf bias", wantErr: true, mutate: func(p *Profile) { p.Accel.Bias[2] = math.Inf(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProfile()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
				_, err = New(p)
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadProfile(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := filepath.Join(tmpDir, "left.json")
		testJSON := `{
  "version": 2,
  "device": "left",
  "magnet": {"transform": [[1.1,0,0],[0,0.9,0],[0,0,1]], "bias": [30,-12,4]}
}`
		require.NoError(t, os.WriteFile(path, []byte(testJSON), 0644))

		p, err := LoadProfile(path)
		require.NoError(t, err)
		assert.Equal(t, 2, p.Version)
		assert.Equal(t, "left", p.Device)
		assert.Equal(t, DefaultProfile().Accel, p.Accel)
		assert.Equal(t, DefaultProfile().Gyro, p.Gyro)
		assert.Equal(t, [3]float64{30, -12, 4}, p.Magnet.Bias)
		assert.Equal(t, 1.1, p.Magnet.Transform[0][0])
	})

	t.Run("singular transform rejected", func(t *testing.T) {
		path := filepath.Join(tmpDir, "bad.json")
		testJSON := `{"accel": {"transform": [[0,0,0],[0,1,0],[0,0,1]], "bias": [0,0,0]}}`
		require.NoError(t, os.WriteFile(path, []byte(testJSON), 0644))

		_, err := LoadProfile(path)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ParseProfile([]byte(`{"accel": `))
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadProfile(filepath.Join(tmpDir, "nope.json"))
		assert.Error(t, err)
	})
}
