// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/gesture_computer/internal/imu"
)

// Source produces raw samples from one device.
type Source interface {
	Next() (imu.Sample, error)
}

const (
	mockSwayDeg   = 20.0 // roll amplitude
	mockSwayRate  = 1.0  // rad/s
	mockMagCounts = 400  // horizontal field pointing north
)

type mockSource struct {
	device string
	start  time.Time
	now    func() time.Time
}

// NewMockSource creates a mock source for a bow swaying about its long
// axis. Samples are in device units: mg, deg/s and magnetometer counts.
func NewMockSource(device string) Source {
	return newMockSource(device, time.Now)
}

func newMockSource(device string, now func() time.Time) *mockSource {
	return &mockSource{device: device, start: now(), now: now}
}

func (m *mockSource) Next() (imu.Sample, error) {
	t := m.now()
	elapsed := t.Sub(m.start).Seconds()

	roll := mockSwayDeg * math.Pi / 180 * math.Sin(mockSwayRate*elapsed)
	rollRate := mockSwayDeg * mockSwayRate * math.Cos(mockSwayRate*elapsed)

	return imu.Sample{
		Device:    m.device,
		Timestamp: uint16(t.Sub(m.start).Milliseconds()),
		Ay:        int16(math.Round(1000 * math.Sin(roll))),
		Az:        int16(math.Round(1000 * math.Cos(roll))),
		Gx:        int16(math.Round(rollRate)),
		Mx:        mockMagCounts,
	}, nil
}
