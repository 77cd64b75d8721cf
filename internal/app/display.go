package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/gesture_computer/internal/config"
	"github.com/relabs-tech/gesture_computer/internal/pipeline"
)

// DisplayData holds the latest frame of the displayed device
type DisplayData struct {
	mu        sync.RWMutex
	frame     pipeline.Frame
	haveFrame bool
}

func (d *DisplayData) set(f pipeline.Frame) {
	d.mu.Lock()
	d.frame = f
	d.haveFrame = true
	d.mu.Unlock()
}

func (d *DisplayData) get() (pipeline.Frame, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.frame, d.haveFrame
}

func RunDisplay() error {
	cfg := config.Get()

	device := cfg.DisplayDevice
	if device == "" {
		device = cfg.DeviceName
	}

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized for device %s", device)

	if err := dev.Draw(dev.Bounds(), renderSplash(device), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &DisplayData{}

	client, err := connectMQTT("display", cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	if err := subscribe(client, "display", deviceTopic(cfg.TopicFeatures, device), func(_ mqtt.Client, msg mqtt.Message) {
		var f pipeline.Frame
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("display: frame unmarshal error: %v", err)
			return
		}
		data.set(f)
	}); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	// Display update loop
	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for {
		select {
		case <-ctx.Done():
			dev.Halt()
			return nil
		case <-ticker.C:
		}

		f, ok := data.get()
		if err := dev.Draw(dev.Bounds(), renderFeatures(device, f, ok), image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}

func renderFeatures(device string, f pipeline.Frame, haveData bool) *image1bit.VerticalLSB {
	img, drawer := newCanvas()

	if !haveData {
		drawLine(drawer, 0, 26, "Bow "+device)
		drawLine(drawer, 0, 39, "Waiting...")
		return img
	}

	ft := f.Features
	drawLine(drawer, 0, 13, fmt.Sprintf("S: %6.1f", ft.Skewness))
	drawLine(drawer, 0, 26, fmt.Sprintf("T: %6.1f", ft.Tilt))
	drawLine(drawer, 0, 39, fmt.Sprintf("R: %6.1f", ft.Roll))
	status := "moving"
	if ft.Static {
		status = "static"
	}
	drawLine(drawer, 0, 52, fmt.Sprintf("%s #%d", status, f.Seq))
	return img
}

func renderSplash(device string) *image1bit.VerticalLSB {
	img, drawer := newCanvas()
	drawLine(drawer, 10, 26, "Gesture Pi")
	drawLine(drawer, 10, 43, "Device "+device)
	return img
}
