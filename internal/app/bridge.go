// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/gesture_computer/internal/calib"
	"github.com/relabs-tech/gesture_computer/internal/config"
	"github.com/relabs-tech/gesture_computer/internal/imu"
	"github.com/relabs-tech/gesture_computer/internal/pipeline"
)

// sampleSink is the part of pipeline.Manager the bridge feeds.
type sampleSink interface {
	Submit(imu.Sample) error
	Align(device string) error
}

// bridge turns MQTT messages into pipeline calls.
type bridge struct {
	sink      sampleSink
	rawPrefix string
	alnPrefix string
}

// handleRaw decodes one raw sample. The device in the topic wins over the
// one in the payload.
func (b *bridge) handleRaw(topic string, payload []byte) error {
	device, ok := deviceFromTopic(b.rawPrefix, topic)
	if !ok {
		return fmt.Errorf("unexpected raw topic %q", topic)
	}

	var s imu.Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		// plain log lines are accepted too
		ls, lerr := imu.ParseLine(device, string(payload))
		if lerr != nil {
			return fmt.Errorf("%s: decode sample: %w", device, err)
		}
		s = ls
	}
	s.Device = device
	return b.sink.Submit(s)
}

func (b *bridge) handleAlign(topic string) error {
	device, ok := deviceFromTopic(b.alnPrefix, topic)
	if !ok {
		return fmt.Errorf("unexpected align topic %q", topic)
	}
	return b.sink.Align(device)
}

// mqttPublisher publishes frames to "<prefix>/<device>".
type mqttPublisher struct {
	client mqtt.Client
	prefix string
}

func (p *mqttPublisher) Publish(f pipeline.Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("json marshal frame: %w", err)
	}
	token := p.client.Publish(deviceTopic(p.prefix, f.Device), 0, false, payload)
	token.Wait()
	return token.Error()
}

// profileLoader resolves CALIBRATION_FILE for a device. "{device}" in the
// path is replaced with the device name; an empty path means defaults.
func profileLoader(path string) pipeline.ProfileLoader {
	return func(device string) (calib.Profile, error) {
		if path == "" {
			return calib.DefaultProfile(), nil
		}
		p, err := calib.LoadProfile(strings.ReplaceAll(path, "{device}", device))
		if err != nil {
			return calib.Profile{}, err
		}
		if p.Device != "" && p.Device != device {
			log.Printf("bridge: %s: calibration profile is for device %q", device, p.Device)
		}
		return p, nil
	}
}

// RunFusionBridge subscribes to raw samples of every device, runs one
// gesture model per device and publishes the features.
func RunFusionBridge() error {
	cfg := config.Get()

	client, err := connectMQTT("bridge", cfg.MQTTBroker, cfg.MQTTClientIDBridge)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	ctx, stop := signalContext()
	defer stop()

	manager, err := pipeline.New(ctx,
		&mqttPublisher{client: client, prefix: cfg.TopicFeatures},
		pipeline.WithQueueSize(cfg.QueueSize),
		pipeline.WithGains(cfg.Gains()),
		pipeline.WithFilterOptions(cfg.FilterOptions()...),
		pipeline.WithProfileLoader(profileLoader(cfg.CalibrationFile)),
	)
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	defer manager.Close()

	b := &bridge{sink: manager, rawPrefix: cfg.TopicRaw, alnPrefix: cfg.TopicAlign}

	if err := subscribe(client, "bridge", cfg.TopicRaw+"/+", func(_ mqtt.Client, msg mqtt.Message) {
		err := b.handleRaw(msg.Topic(), msg.Payload())
		if err != nil && !errors.Is(err, pipeline.ErrQueueFull) {
			log.Printf("bridge: %v", err)
		}
	}); err != nil {
		return err
	}

	if err := subscribe(client, "bridge", cfg.TopicAlign+"/+", func(_ mqtt.Client, msg mqtt.Message) {
		if err := b.handleAlign(msg.Topic()); err != nil {
			log.Printf("bridge: align: %v", err)
		}
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(cfg.ConsoleLogInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("bridge: shutting down")
			return nil
		case <-ticker.C:
			for _, st := range manager.Stats() {
				log.Printf("bridge: %s processed=%d dropped=%d failed=%d queued=%d",
					st.Device, st.Processed, st.Dropped, st.Failed, st.Queued)
			}
		}
	}
}
