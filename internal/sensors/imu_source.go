// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/relabs-tech/gesture_computer/internal/imu"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

var (
	accelFullScaleG   = []float64{2, 4, 8, 16}
	gyroFullScaleDegS = []float64{250, 500, 1000, 2000}
)

type mpuSource struct {
	device string
	imu    *mpu9250.MPU9250
	start  time.Time

	accelScale float64 // counts -> mg
	gyroScale  float64 // counts -> deg/s
	magField   [3]int16
}

// NewMPU9250Source initializes an MPU9250 over SPI. Readings are converted to
// mg and deg/s. The magnetometer channels report magField since the driver
// does not expose the AK8963.
func NewMPU9250Source(device, spiDev, csPin string, accelRange, gyroRange byte, magField [3]int16) (Source, error) {
	if int(accelRange) >= len(accelFullScaleG) || int(gyroRange) >= len(gyroFullScaleDegS) {
		return nil, fmt.Errorf("%s IMU: invalid range accel=%d gyro=%d", device, accelRange, gyroRange)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: periph host init: %w", device, err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("%s IMU: CS pin %q not found", device, csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: SPI transport (%s): %w", device, spiDev, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: device creation: %w", device, err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: initialization: %w", device, err)
	}

	if err := dev.SetAccelRange(accelRange); err != nil {
		return nil, fmt.Errorf("%s IMU: set accel range: %w", device, err)
	}
	log.Printf("%s IMU: accelerometer range set to %d (±%gg)", device, accelRange, accelFullScaleG[accelRange])

	if err := dev.SetGyroRange(gyroRange); err != nil {
		return nil, fmt.Errorf("%s IMU: set gyro range: %w", device, err)
	}
	log.Printf("%s IMU: gyroscope range set to %d (±%g°/s)", device, gyroRange, gyroFullScaleDegS[gyroRange])

	testResult, err := dev.SelfTest()
	if err != nil {
		log.Printf("Warning: %s IMU self-test failed: %v", device, err)
	} else {
		log.Printf("%s IMU self-test passed:", device)
		log.Printf("  Accelerometer deviation: X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
			testResult.AccelDeviation.X, testResult.AccelDeviation.Y, testResult.AccelDeviation.Z)
		log.Printf("  Gyroscope deviation: X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
			testResult.GyroDeviation.X, testResult.GyroDeviation.Y, testResult.GyroDeviation.Z)
	}

	// hardware offset registers; the fusion filter still tracks residual gyro bias
	if err := dev.Calibrate(); err != nil {
		log.Printf("Warning: %s IMU calibration failed: %v", device, err)
	} else {
		log.Printf("%s IMU calibration complete", device)
	}

	return &mpuSource{
		device:     device,
		imu:        dev,
		start:      time.Now(),
		accelScale: accelFullScaleG[accelRange] * 1000 / 32768,
		gyroScale:  gyroFullScaleDegS[gyroRange] / 32768,
		magField:   magField,
	}, nil
}

// Next reads accelerometer and gyroscope data from the device.
func (s *mpuSource) Next() (imu.Sample, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU accel X: %w", s.device, err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU accel Y: %w", s.device, err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU accel Z: %w", s.device, err)
	}

	gx, err := s.imu.GetRotationX()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU gyro X: %w", s.device, err)
	}
	gy, err := s.imu.GetRotationY()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU gyro Y: %w", s.device, err)
	}
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU gyro Z: %w", s.device, err)
	}

	return imu.Sample{
		Device:    s.device,
		Timestamp: uint16(time.Since(s.start).Milliseconds()),
		Ax:        scaleCounts(ax, s.accelScale),
		Ay:        scaleCounts(ay, s.accelScale),
		Az:        scaleCounts(az, s.accelScale),
		Gx:        scaleCounts(gx, s.gyroScale),
		Gy:        scaleCounts(gy, s.gyroScale),
		Gz:        scaleCounts(gz, s.gyroScale),
		Mx:        s.magField[0],
		My:        s.magField[1],
		Mz:        s.magField[2],
	}, nil
}

func scaleCounts(v int16, scale float64) int16 {
	f := math.Round(float64(v) * scale)
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, f)))
}
