// Package config loads emberwall settings from a YAML file with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for both the relay and the
// headless client.
type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	NATS     NATSConfig     `yaml:"nats"`
	Database DatabaseConfig `yaml:"database"`
	Client   ClientConfig   `yaml:"client"`
}

// RelayConfig holds the relay server settings.
type RelayConfig struct {
	Addr           string        `yaml:"addr"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// NATSConfig holds the optional cross-instance fan-out bridge settings.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
}

// DatabaseConfig holds the optional Postgres snapshot persistence settings.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// ClientConfig holds the headless client settings.
type ClientConfig struct {
	ServerURL   string        `yaml:"server_url"`
	Room        string        `yaml:"room"`
	TickRate    int           `yaml:"tick_rate"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Addr:           ":8090",
			PingInterval:   30 * time.Second,
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			MaxMessageSize: 1 << 20,
		},
		NATS: NATSConfig{
			URL:    "nats://localhost:4222",
			Stream: "CANVAS_EVENTS",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "emberwall",
			SSLMode:  "disable",
		},
		Client: ClientConfig{
			ServerURL:   "ws://localhost:8090/ws",
			Room:        "lobby",
			TickRate:    30,
			BackoffBase: 500 * time.Millisecond,
			BackoffCap:  30 * time.Second,
		},
	}
}

// Parse decodes YAML config over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Load reads a config file (missing file means defaults) and applies
// environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if cfg, err = Parse(data); err != nil {
				return nil, err
			}
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Relay.Addr = getEnv("EMBERWALL_ADDR", c.Relay.Addr)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Stream = getEnv("NATS_STREAM", c.NATS.Stream)
	if v := os.Getenv("NATS_ENABLED"); v != "" {
		c.NATS.Enabled = v == "true" || v == "1"
	}
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	if v := os.Getenv("DB_ENABLED"); v != "" {
		c.Database.Enabled = v == "true" || v == "1"
	}
	c.Client.ServerURL = getEnv("EMBERWALL_SERVER_URL", c.Client.ServerURL)
	c.Client.Room = getEnv("EMBERWALL_ROOM", c.Client.Room)
	c.Client.TickRate = getEnvAsInt("EMBERWALL_TICK_RATE", c.Client.TickRate)
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
