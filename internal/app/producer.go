// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/relabs-tech/gesture_computer/internal/config"
	"github.com/relabs-tech/gesture_computer/internal/imu"
	"github.com/relabs-tech/gesture_computer/internal/sensors"
)

// openSource builds the sample source selected by SAMPLE_SOURCE. paced
// reports whether the caller has to pace reads with SAMPLE_INTERVAL.
func openSource(cfg *config.Config) (src sensors.Source, paced bool, err error) {
	switch cfg.SampleSource {
	case "mock":
		log.Println("producer: using mock sample source")
		return sensors.NewMockSource(cfg.DeviceName), true, nil
	case "mpu9250":
		src, err := sensors.NewMPU9250Source(cfg.DeviceName, cfg.IMUSPIDevice, cfg.IMUCSPin,
			cfg.IMUAccelRange, cfg.IMUGyroRange, cfg.IMUMagField)
		return src, true, err
	case "serial":
		src, err := sensors.NewSerialSource(cfg.DeviceName, cfg.SerialPort, cfg.SerialBaudRate)
		if err != nil {
			return nil, false, err
		}
		log.Printf("producer: serial port opened on %s at %d baud", cfg.SerialPort, cfg.SerialBaudRate)
		return src, false, nil
	default:
		return nil, false, fmt.Errorf("producer: unknown sample source %q", cfg.SampleSource)
	}
}

// RunSampleProducer reads raw samples from the configured source and
// publishes them as JSON to TOPIC_RAW/<device>.
func RunSampleProducer() error {
	cfg := config.Get()
	log.Printf("producer: starting for device %s", cfg.DeviceName)

	src, paced, err := openSource(cfg)
	if err != nil {
		return err
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	client, err := connectMQTT("producer", cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	ctx, stop := signalContext()
	defer stop()

	topic := deviceTopic(cfg.TopicRaw, cfg.DeviceName)
	log.Printf("producer: publishing to %s", topic)

	var tick <-chan time.Time
	if paced {
		ticker := time.NewTicker(time.Duration(cfg.SampleInterval) * time.Millisecond)
		defer ticker.Stop()
		tick = ticker.C
	}

	logEvery := time.Duration(cfg.ConsoleLogInterval) * time.Millisecond
	lastLog := time.Now()
	var published, failed uint64

	for {
		if paced {
			select {
			case <-ctx.Done():
				log.Println("producer: shutting down")
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			log.Println("producer: shutting down")
			return nil
		}

		s, err := src.Next()
		switch {
		case errors.Is(err, imu.ErrMalformedLine):
			failed++
			continue
		case err != nil:
			return fmt.Errorf("producer: read sample: %w", err)
		}

		payload, err := json.Marshal(s)
		if err != nil {
			log.Printf("producer: json marshal error: %v", err)
			continue
		}
		if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
			log.Printf("producer: MQTT publish error: %v", token.Error())
			continue
		}
		published++

		if time.Since(lastLog) >= logEvery {
			lastLog = time.Now()
			log.Printf("producer: %d published, %d malformed | %s", published, failed, s.Line())
		}
	}
}
