package app

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/gesture_computer/internal/config"
	"github.com/relabs-tech/gesture_computer/internal/pipeline"
)

// formatFrame renders one feature frame as a console line.
func formatFrame(f pipeline.Frame) string {
	ft := f.Features
	static := " "
	if ft.Static {
		static = "S"
	}
	return fmt.Sprintf(
		"[%s #%d] %s SKEW=%7.2f TILT=%7.2f ROLL=%7.2f  ma=(%6.3f %6.3f %6.3f)  v=(%7.3f %7.3f %7.3f)",
		f.Device, f.Seq, static,
		ft.Skewness, ft.Tilt, ft.Roll,
		ft.MovementAcceleration[0], ft.MovementAcceleration[1], ft.MovementAcceleration[2],
		ft.MovementVelocity[0], ft.MovementVelocity[1], ft.MovementVelocity[2],
	)
}

// RunConsoleMQTT prints the feature frames of every device.
func RunConsoleMQTT() error {
	cfg := config.Get()

	client, err := connectMQTT("console", cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}

	if err := subscribe(client, "console", cfg.TopicFeatures+"/+", func(_ mqtt.Client, msg mqtt.Message) {
		var f pipeline.Frame
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("console: frame unmarshal error: %v", err)
			return
		}
		fmt.Println(formatFrame(f))
	}); err != nil {
		client.Disconnect(250)
		return err
	}

	// Wait for Ctrl+C
	ctx, stop := signalContext()
	defer stop()
	<-ctx.Done()

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
