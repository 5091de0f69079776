package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/lightsout/go/internal/photo"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Serial      SerialConfig      `yaml:"serial"`
	Session     SessionConfig     `yaml:"session"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Photo       photo.Config      `yaml:"photo"`
	NATS        NATSConfig        `yaml:"nats"`
	Log         LogConfig         `yaml:"log"`
}

type SerialConfig struct {
	Transport         string        `yaml:"transport"` // serial | tcp
	Port              string        `yaml:"port"`
	Baud              int           `yaml:"baud"`
	Address           string        `yaml:"address"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ArmByte           string        `yaml:"arm_byte"`
}

type SessionConfig struct {
	Dwell         time.Duration `yaml:"dwell"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type LeaderboardConfig struct {
	Backend string `yaml:"backend"` // file | sqlite | postgres | memory
	Path    string `yaml:"path"`
}

type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Embedded      bool          `yaml:"embedded"`
	URL           string        `yaml:"url"`
	Stream        string        `yaml:"stream"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	StoreDir      string        `yaml:"store_dir"`
	Retention     time.Duration `yaml:"retention"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

const (
	transportSerial = "serial"
	transportTCP    = "tcp"

	backendFile     = "file"
	backendSQLite   = "sqlite"
	backendPostgres = "postgres"
	backendMemory   = "memory"
)

func defaultConfig() *Config {
	var cfg Config
	cfg.Server.Port = "8080"

	cfg.Serial = SerialConfig{
		Transport:         transportSerial,
		Port:              "/dev/ttyUSB0",
		Baud:              9600,
		ReadTimeout:       100 * time.Millisecond,
		ReconnectInterval: 2 * time.Second,
		ArmByte:           "A",
	}
	cfg.Session = SessionConfig{
		Dwell:         4 * time.Second,
		SweepInterval: 250 * time.Millisecond,
	}
	cfg.Leaderboard = LeaderboardConfig{
		Backend: backendFile,
		Path:    "leaderboard.csv",
	}
	cfg.Photo = photo.Config{
		Mode:    photo.ModeNone,
		Dir:     "images",
		Timeout: 10 * time.Second,
	}
	cfg.NATS = NATSConfig{
		URL:           "nats://localhost:4222",
		Stream:        "LIGHTSOUT_EVENTS",
		SubjectPrefix: "lightsout.events",
		StoreDir:      "nats",
		Retention:     30 * 24 * time.Hour,
	}
	cfg.Log = LogConfig{Level: "info", Format: "console"}
	return &cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)

	c.Serial.Transport = getEnv("SERIAL_TRANSPORT", c.Serial.Transport)
	c.Serial.Port = getEnv("SERIAL_PORT", c.Serial.Port)
	c.Serial.Baud = getEnvAsInt("SERIAL_BAUD", c.Serial.Baud)
	c.Serial.Address = getEnv("SERIAL_ADDRESS", c.Serial.Address)
	c.Serial.ReconnectInterval = getEnvAsDuration("SERIAL_RECONNECT_INTERVAL", c.Serial.ReconnectInterval)

	c.Session.Dwell = getEnvAsDuration("SESSION_DWELL", c.Session.Dwell)

	c.Leaderboard.Backend = getEnv("LEADERBOARD_BACKEND", c.Leaderboard.Backend)
	c.Leaderboard.Path = getEnv("LEADERBOARD_PATH", c.Leaderboard.Path)

	c.Photo.Mode = getEnv("PHOTO_MODE", c.Photo.Mode)
	c.Photo.Dir = getEnv("PHOTO_DIR", c.Photo.Dir)
	c.Photo.URL = getEnv("PHOTO_URL", c.Photo.URL)
	c.Photo.Token = getEnv("PHOTO_TOKEN", c.Photo.Token)

	c.NATS.Enabled = getEnvAsBool("NATS_ENABLED", c.NATS.Enabled)
	c.NATS.Embedded = getEnvAsBool("NATS_EMBEDDED", c.NATS.Embedded)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Retention = getEnvAsDuration("NATS_RETENTION", c.NATS.Retention)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

func (c *Config) validate() error {
	switch c.Serial.Transport {
	case transportSerial:
		if c.Serial.Port == "" {
			return fmt.Errorf("serial.port is required for transport %q", c.Serial.Transport)
		}
	case transportTCP:
		if c.Serial.Address == "" {
			return fmt.Errorf("serial.address is required for transport %q", c.Serial.Transport)
		}
	default:
		return fmt.Errorf("unknown serial transport %q", c.Serial.Transport)
	}

	if len(c.Serial.ArmByte) != 1 {
		return fmt.Errorf("serial.arm_byte must be a single character, got %q", c.Serial.ArmByte)
	}

	switch c.Leaderboard.Backend {
	case backendFile, backendSQLite:
		if c.Leaderboard.Path == "" {
			return fmt.Errorf("leaderboard.path is required for backend %q", c.Leaderboard.Backend)
		}
	case backendPostgres, backendMemory:
	default:
		return fmt.Errorf("unknown leaderboard backend %q", c.Leaderboard.Backend)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
