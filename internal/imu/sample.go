// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrMalformedLine is returned by ParseLine for lines that are not a
// timestamp followed by nine integer channels.
var ErrMalformedLine = errors.New("malformed sample line")

// Sample represents a single raw accel+gyro+mag reading in device units.
type Sample struct {
	Device    string `json:"device"`    // e.g. "left", "bow0"
	Timestamp uint16 `json:"timestamp"` // device tick counter, wraps

	Ax int16 `json:"ax"` // accel, mg
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro, deg/s
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`

	Mx int16 `json:"mx"` // magnetometer
	My int16 `json:"my"`
	Mz int16 `json:"mz"`
}

// Accel returns the accelerometer channels as a vector.
func (s Sample) Accel() r3.Vec {
	return r3.Vec{X: float64(s.Ax), Y: float64(s.Ay), Z: float64(s.Az)}
}

// Gyro returns the gyroscope channels as a vector.
func (s Sample) Gyro() r3.Vec {
	return r3.Vec{X: float64(s.Gx), Y: float64(s.Gy), Z: float64(s.Gz)}
}

// Magnet returns the magnetometer channels as a vector.
func (s Sample) Magnet() r3.Vec {
	return r3.Vec{X: float64(s.Mx), Y: float64(s.My), Z: float64(s.Mz)}
}

// ParseLine parses the whitespace-separated log format written by the
// device bridge: "<timestamp> ax ay az gx gy gz mx my mz".
func ParseLine(device, line string) (Sample, error) {
	fields := strings.Fields(line)
	if len(fields) != 10 {
		return Sample{}, fmt.Errorf("%w: want 10 fields, got %d", ErrMalformedLine, len(fields))
	}

	ts, err := parseTimestamp(fields[0])
	if err != nil {
		return Sample{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformedLine, fields[0], err)
	}

	var ch [9]int16
	for i := range ch {
		v, err := strconv.ParseInt(fields[i+1], 10, 16)
		if err != nil {
			return Sample{}, fmt.Errorf("%w: channel %d %q: %v", ErrMalformedLine, i, fields[i+1], err)
		}
		ch[i] = int16(v)
	}

	return Sample{
		Device:    device,
		Timestamp: ts,
		Ax:        ch[0], Ay: ch[1], Az: ch[2],
		Gx: ch[3], Gy: ch[4], Gz: ch[5],
		Mx: ch[6], My: ch[7], Mz: ch[8],
	}, nil
}

// parseTimestamp accepts the 16-bit counter written either unsigned
// (0..65535) or as a signed int16 (-32768..32767), which is how the device
// bridge logs it.
func parseTimestamp(field string) (uint16, error) {
	if strings.HasPrefix(field, "-") {
		v, err := strconv.ParseInt(field, 10, 16)
		if err != nil {
			return 0, err
		}
		return uint16(int16(v)), nil
	}
	v, err := strconv.ParseUint(field, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// Line formats s in the ParseLine format.
func (s Sample) Line() string {
	return fmt.Sprintf("%d %d %d %d %d %d %d %d %d %d",
		s.Timestamp, s.Ax, s.Ay, s.Az, s.Gx, s.Gy, s.Gz, s.Mx, s.My, s.Mz)
}
