package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/relabs-tech/gesture_computer/internal/fusion"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDProducer string
	MQTTClientIDBridge   string
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string
	MQTTClientIDDisplay  string

	// Topics (per-device suffix "/<device>" is appended)
	TopicRaw      string
	TopicFeatures string
	TopicAlign    string

	// Sample source
	DeviceName   string
	SampleSource string // "mock", "mpu9250" or "serial"

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte
	// Fixed magnetic reading reported by sources without a magnetometer
	IMUMagField [3]int16

	// Serial
	SerialPort     string
	SerialBaudRate int

	// Timing
	SampleInterval     int // milliseconds
	ConsoleLogInterval int // milliseconds

	// Calibration
	CalibrationFile string

	// Filter tuning
	FilterKI        float64
	FilterKP        float64
	FilterKA        float64
	FilterKM        float64
	StaticThreshold float64
	GyroBiasAlpha   float64

	// Pipeline
	QueueSize int

	// Web Server
	WebServerPort int

	// Display
	DisplayUpdateInterval int    // milliseconds
	DisplayDevice         string // device whose angles are shown
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages cannot modify it without locking.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex; write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		MQTTClientIDProducer: "gesture-producer",
		MQTTClientIDBridge:   "gesture-bridge",
		MQTTClientIDConsole:  "gesture-console",
		MQTTClientIDWeb:      "gesture-web",
		MQTTClientIDDisplay:  "gesture-display",

		TopicRaw:      "gesture/raw",
		TopicFeatures: "gesture/features",
		TopicAlign:    "gesture/align",

		DeviceName:   "bow0",
		SampleSource: "mock",

		IMUMagField: [3]int16{400, 0, 0},

		SerialBaudRate: 115200,

		SampleInterval:     10,
		ConsoleLogInterval: 1000,

		FilterKI:        fusion.DefaultGains.KI,
		FilterKP:        fusion.DefaultGains.KP,
		FilterKA:        fusion.DefaultGains.KA,
		FilterKM:        fusion.DefaultGains.KM,
		StaticThreshold: fusion.DefaultStaticThreshold,
		GyroBiasAlpha:   fusion.DefaultGyroBiasAlpha,

		QueueSize: 64,

		WebServerPort: 8080,

		DisplayUpdateInterval: 200,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_BRIDGE":
		c.MQTTClientIDBridge = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_RAW":
		c.TopicRaw = strings.TrimSuffix(value, "/")
	case "TOPIC_FEATURES":
		c.TopicFeatures = strings.TrimSuffix(value, "/")
	case "TOPIC_ALIGN":
		c.TopicAlign = strings.TrimSuffix(value, "/")

	// Sample source
	case "DEVICE_NAME":
		if strings.ContainsAny(value, "/+#") {
			return fmt.Errorf("DEVICE_NAME must not contain MQTT topic characters, got %q", value)
		}
		c.DeviceName = value
	case "SAMPLE_SOURCE":
		switch value {
		case "mock", "mpu9250", "serial":
			c.SampleSource = value
		default:
			return fmt.Errorf("SAMPLE_SOURCE must be mock, mpu9250 or serial, got %q", value)
		}

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_GYRO_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_GYRO_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_GYRO_RANGE must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", rangeVal)
		}
		c.IMUGyroRange = byte(rangeVal)
	case "IMU_MAG_FIELD":
		parts := strings.Split(value, ",")
		if len(parts) != 3 {
			return fmt.Errorf("IMU_MAG_FIELD must be x,y,z, got %q", value)
		}
		for i, p := range parts {
			v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 16)
			if err != nil {
				return fmt.Errorf("invalid IMU_MAG_FIELD %q: %w", value, err)
			}
			c.IMUMagField[i] = int16(v)
		}

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		c.SerialBaudRate = rate

	// Timing
	case "SAMPLE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SAMPLE_INTERVAL %q: %w", value, err)
		}
		c.SampleInterval = interval
	case "CONSOLE_LOG_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CONSOLE_LOG_INTERVAL %q: %w", value, err)
		}
		c.ConsoleLogInterval = interval

	// Calibration
	case "CALIBRATION_FILE":
		c.CalibrationFile = value

	// Filter tuning
	case "FILTER_KI":
		return parseGain(key, value, &c.FilterKI)
	case "FILTER_KP":
		return parseGain(key, value, &c.FilterKP)
	case "FILTER_KA":
		return parseGain(key, value, &c.FilterKA)
	case "FILTER_KM":
		return parseGain(key, value, &c.FilterKM)
	case "STATIC_THRESHOLD":
		return parseGain(key, value, &c.StaticThreshold)
	case "GYRO_BIAS_ALPHA":
		alpha, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid GYRO_BIAS_ALPHA %q: %w", value, err)
		}
		if alpha < 0 || alpha >= 1 {
			return fmt.Errorf("GYRO_BIAS_ALPHA must be in [0, 1), got %g", alpha)
		}
		c.GyroBiasAlpha = alpha

	// Pipeline
	case "QUEUE_SIZE":
		size, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid QUEUE_SIZE %q: %w", value, err)
		}
		if size < 1 {
			return fmt.Errorf("QUEUE_SIZE must be at least 1, got %d", size)
		}
		c.QueueSize = size

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval
	case "DISPLAY_DEVICE":
		c.DisplayDevice = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func parseGain(key, value string, dst *float64) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Errorf("%s must be a non-negative number, got %g", key, v)
	}
	*dst = v
	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.DeviceName == "" {
		return fmt.Errorf("DEVICE_NAME is required")
	}
	if c.SampleInterval <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL must be positive")
	}
	if c.ConsoleLogInterval <= 0 {
		return fmt.Errorf("CONSOLE_LOG_INTERVAL must be positive")
	}
	switch c.SampleSource {
	case "mpu9250":
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required for SAMPLE_SOURCE=mpu9250")
		}
	case "serial":
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for SAMPLE_SOURCE=serial")
		}
		if c.SerialBaudRate == 0 {
			return fmt.Errorf("SERIAL_BAUD_RATE is required for SAMPLE_SOURCE=serial")
		}
	}
	return nil
}

// Gains returns the configured fusion gains.
func (c *Config) Gains() fusion.Gains {
	return fusion.Gains{KI: c.FilterKI, KP: c.FilterKP, KA: c.FilterKA, KM: c.FilterKM}
}

// FilterOptions returns the configured classifier and bias tuning.
func (c *Config) FilterOptions() []fusion.Option {
	return []fusion.Option{
		fusion.WithStaticThreshold(c.StaticThreshold),
		fusion.WithGyroBiasAlpha(c.GyroBiasAlpha),
	}
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
// This is the only function that can set globalConfig.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
