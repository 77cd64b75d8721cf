// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/gesture_computer/internal/imu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/devices/v3/mpu9250"
)

func TestMockSource_StartsLevel(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	src := newMockSource("bow0", func() time.Time { return now })

	s, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, imu.Sample{Device: "bow0", Az: 1000, Gx: 20, Mx: 400}, s)
}

func TestMockSource_GravityStaysOneG(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	src := newMockSource("bow0", func() time.Time { return now })

	for i := 0; i < 50; i++ {
		now = start.Add(time.Duration(i) * 137 * time.Millisecond)
		s, err := src.Next()
		require.NoError(t, err)

		g := math.Hypot(float64(s.Ay), float64(s.Az))
		assert.InDelta(t, 1000, g, 1.5)
		assert.LessOrEqual(t, math.Abs(float64(s.Gx)), 20.0)
		assert.Equal(t, uint16(i*137), s.Timestamp)
	}
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestLineSource(t *testing.T) {
	input := strings.Join([]string{
		"# recorded session",
		"100 1 2 1000 0 0 0 400 0 0",
		"",
		"garbage",
		"  101 -5 6 998 1 -1 2 401 -3 7  ",
		"102 0 0 1000 0 0 0 400 0 0", // no trailing newline
	}, "\n")
	rc := &closeRecorder{Reader: strings.NewReader(input)}
	src := NewLineSource("left", rc)

	s, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, imu.Sample{Device: "left", Timestamp: 100, Ax: 1, Ay: 2, Az: 1000, Mx: 400}, s)

	_, err = src.Next()
	assert.ErrorIs(t, err, imu.ErrMalformedLine)

	s, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, uint16(101), s.Timestamp)
	assert.Equal(t, int16(7), s.Mz)

	s, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, uint16(102), s.Timestamp)

	_, err = src.Next()
	assert.True(t, errors.Is(err, io.EOF))

	require.NoError(t, src.Close())
	assert.True(t, rc.closed)
}

func TestScaleCounts(t *testing.T) {
	assert.Equal(t, int16(1000), scaleCounts(16384, 2000.0/32768))
	assert.Equal(t, int16(-250), scaleCounts(math.MinInt16, 250.0/32768))
	assert.Equal(t, int16(math.MaxInt16), scaleCounts(math.MaxInt16, 16000.0/32768*4))
}

// The MPU9250 source is built on these driver entry points; pin their
// shapes so a driver upgrade that changes them fails here first.
var (
	_ func(string, gpio.PinOut) (*mpu9250.Transport, error) = mpu9250.NewSpiTransport
	_ func(mpu9250.Transport) (*mpu9250.MPU9250, error)      = mpu9250.New
	_ func(*mpu9250.MPU9250) (int16, error)                  = (*mpu9250.MPU9250).GetAccelerationX
	_ func(*mpu9250.MPU9250) (int16, error)                  = (*mpu9250.MPU9250).GetRotationZ
	_ func(*mpu9250.MPU9250, byte) error                     = (*mpu9250.MPU9250).SetAccelRange
	_ func(*mpu9250.MPU9250, byte) error                     = (*mpu9250.MPU9250).SetGyroRange
)

func TestMPU9250Scales(t *testing.T) {
	// full-scale counts map to the configured range
	for r, g := range accelFullScaleG {
		assert.Equal(t, int16(g*1000/2), scaleCounts(16384, g*1000/32768), "accel range %d", r)
	}
	for r, dps := range gyroFullScaleDegS {
		assert.Equal(t, int16(dps/2), scaleCounts(16384, dps/32768), "gyro range %d", r)
	}
}
