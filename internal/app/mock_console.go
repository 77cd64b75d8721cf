// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/gesture_computer/internal/gesture"
	"github.com/relabs-tech/gesture_computer/internal/imu"
	"github.com/relabs-tech/gesture_computer/internal/orientation"
	"github.com/relabs-tech/gesture_computer/internal/sensors"
)

// consoleLine compares the fused angles with an accelerometer-only estimate.
func consoleLine(s imu.Sample, f gesture.Features) string {
	acc := orientation.ComputePoseFromAccel(float64(s.Ax), float64(s.Ay), float64(s.Az))
	return fmt.Sprintf(
		"FUSED SKEW=%7.2f TILT=%7.2f ROLL=%7.2f | ACCEL TILT=%7.2f ROLL=%7.2f",
		f.Skewness, f.Tilt, f.Roll, acc.Tilt, acc.Roll,
	)
}

// RunMockConsole runs the mock source through a local model, no broker
// needed.
func RunMockConsole() error {
	src := sensors.NewMockSource("mock")
	model := gesture.NewModel()

	ctx, stop := signalContext()
	defer stop()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		s, err := src.Next()
		if err != nil {
			return err
		}
		f, err := model.Tick(s.Accel(), s.Gyro(), s.Magnet())
		if err != nil {
			log.Printf("console: %v", err)
			continue
		}
		fmt.Println(consoleLine(s, f))
	}
}
