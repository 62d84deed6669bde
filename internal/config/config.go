package config

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPath is the configuration file the binaries read when no --config is given.
const DefaultPath = "qibla_config.txt"

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDCompass string
	MQTTClientIDGPS     string
	MQTTClientIDConsole string

	// Topics
	TopicHeading         string
	TopicAlignment       string
	TopicStatus          string
	TopicGPS             string
	TopicPlatformHeading string // external compass feeding the platform source; empty disables it

	// GPS
	GPSSerialPort string
	GPSBaudRate   int

	// IMU Hardware (accelerometer for tilt compensation)
	IMUSPIDevice string
	IMUCSPin     string

	// Magnetometer Hardware
	MagI2CBus          string
	MagI2CAddr         uint16
	MagCalibrationFile string

	// Enabled heading sources out of tilt, mag, platform, mock. They are
	// always probed in that order.
	Sources []string

	// Aggregator timing
	HeadingIntervalMs int
	SourceTimeoutMs   int
	RetryBackoffMs    int
	MaxAttempts       int

	// Alignment and feedback defaults
	ToleranceDeg  float64
	Haptics       bool
	ReduceMotion  bool
	PrefsFile     string
	ManualLat     float64
	ManualLon     float64
	ManualLocated bool

	// Web Server
	WebServerPort int

	// Display
	DisplayEnabled bool
	DisplayI2CBus  string
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through Get, so nothing outside this package mutates it.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a configuration with every optional key at its default value.
func Default() *Config {
	return &Config{
		MQTTClientIDCompass: "qibla-compass",
		MQTTClientIDGPS:     "qibla-gps",
		MQTTClientIDConsole: "qibla-console",
		TopicHeading:        "qibla/heading",
		TopicAlignment:      "qibla/alignment",
		TopicStatus:         "qibla/status",
		TopicGPS:            "qibla/gps",
		GPSBaudRate:         9600,
		IMUCSPin:            "8",
		MagI2CBus:           "1",
		MagI2CAddr:          0x1E,
		MagCalibrationFile:  "qibla_mag_calibration.json",
		Sources:             []string{"tilt", "mag"},
		HeadingIntervalMs:   50,
		SourceTimeoutMs:     3000,
		RetryBackoffMs:      500,
		MaxAttempts:         3,
		ToleranceDeg:        5,
		Haptics:             true,
		PrefsFile:           "qibla_prefs.json",
		WebServerPort:       8080,
		DisplayI2CBus:       "1",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads KEY=VALUE lines from r on top of Default().
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

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
	case "MQTT_CLIENT_ID_COMPASS":
		c.MQTTClientIDCompass = value
	case "MQTT_CLIENT_ID_GPS":
		c.MQTTClientIDGPS = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_HEADING":
		c.TopicHeading = value
	case "TOPIC_ALIGNMENT":
		c.TopicAlignment = value
	case "TOPIC_STATUS":
		c.TopicStatus = value
	case "TOPIC_GPS":
		c.TopicGPS = value
	case "TOPIC_PLATFORM_HEADING":
		c.TopicPlatformHeading = value

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, err)
		}
		c.GPSBaudRate = rate

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value

	// Magnetometer Hardware
	case "MAG_I2C_BUS":
		c.MagI2CBus = value
	case "MAG_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid MAG_I2C_ADDR %q: %w", value, err)
		}
		c.MagI2CAddr = uint16(addr)
	case "MAG_CALIBRATION_FILE":
		c.MagCalibrationFile = value

	case "SOURCES":
		var sources []string
		for _, s := range strings.Split(value, ",") {
			s = strings.ToLower(strings.TrimSpace(s))
			switch s {
			case "":
				continue
			case "tilt", "mag", "platform", "mock":
				sources = append(sources, s)
			default:
				return fmt.Errorf("unknown heading source %q in SOURCES", s)
			}
		}
		c.Sources = sources

	// Aggregator timing
	case "HEADING_INTERVAL_MS":
		val, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid HEADING_INTERVAL_MS %q: %w", value, err)
		}
		c.HeadingIntervalMs = val
	case "SOURCE_TIMEOUT_MS":
		val, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SOURCE_TIMEOUT_MS %q: %w", value, err)
		}
		if val <= 0 {
			return fmt.Errorf("SOURCE_TIMEOUT_MS must be positive, got %d", val)
		}
		c.SourceTimeoutMs = val
	case "RETRY_BACKOFF_MS":
		val, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid RETRY_BACKOFF_MS %q: %w", value, err)
		}
		if val < 0 {
			return fmt.Errorf("RETRY_BACKOFF_MS must not be negative, got %d", val)
		}
		c.RetryBackoffMs = val
	case "MAX_ATTEMPTS":
		val, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAX_ATTEMPTS %q: %w", value, err)
		}
		if val < 1 {
			return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", val)
		}
		c.MaxAttempts = val

	// Alignment and feedback
	case "TOLERANCE_DEG":
		val, err := parseFloat(key, value)
		if err != nil {
			return err
		}
		c.ToleranceDeg = val
	case "HAPTICS_ENABLED":
		val, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid HAPTICS_ENABLED %q: %w", value, err)
		}
		c.Haptics = val
	case "REDUCE_MOTION":
		val, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid REDUCE_MOTION %q: %w", value, err)
		}
		c.ReduceMotion = val
	case "PREFS_FILE":
		c.PrefsFile = value
	case "MANUAL_LAT":
		val, err := parseFloat(key, value)
		if err != nil {
			return err
		}
		if val < -90 || val > 90 {
			return fmt.Errorf("MANUAL_LAT must be within [-90, 90], got %g", val)
		}
		c.ManualLat = val
		c.ManualLocated = true
	case "MANUAL_LON":
		val, err := parseFloat(key, value)
		if err != nil {
			return err
		}
		if val < -180 || val > 180 {
			return fmt.Errorf("MANUAL_LON must be within [-180, 180], got %g", val)
		}
		c.ManualLon = val
		c.ManualLocated = true

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_ENABLED":
		val, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_ENABLED %q: %w", value, err)
		}
		c.DisplayEnabled = val
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func parseFloat(key, value string) (float64, error) {
	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, fmt.Errorf("%s must be finite, got %q", key, value)
	}
	return val, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.GPSBaudRate <= 0 {
		return fmt.Errorf("GPS_BAUD_RATE must be positive")
	}
	if c.HeadingIntervalMs <= 0 {
		return fmt.Errorf("HEADING_INTERVAL_MS must be positive")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("SOURCES must name at least one heading source")
	}
	for _, s := range c.Sources {
		if s == "platform" && c.TopicPlatformHeading == "" {
			return fmt.Errorf("TOPIC_PLATFORM_HEADING is required for the platform source")
		}
	}
	return nil
}

// HasSource reports whether the named heading source is enabled.
func (c *Config) HasSource(name string) bool {
	for _, s := range c.Sources {
		if s == name {
			return true
		}
	}
	return false
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads anything; later calls return that first result.
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
