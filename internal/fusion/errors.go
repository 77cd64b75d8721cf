// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package fusion

import "errors"

var (
	// ErrDegenerateVector is returned when the accelerometer or magnetometer
	// reading is too short to normalize.
	ErrDegenerateVector = errors.New("degenerate vector")

	// ErrNonPositiveTimestep is returned when the clock did not advance since
	// the previous tick (clock reset or skew).
	ErrNonPositiveTimestep = errors.New("non-positive timestep")

	// ErrNonFiniteInput is returned when any input component is NaN or Inf.
	ErrNonFiniteInput = errors.New("non-finite input")

	// ErrInvalidGains is returned for negative or non-finite filter gains.
	ErrInvalidGains = errors.New("invalid gains")
)
