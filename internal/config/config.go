// Package config handles configuration for the chat relay server:
// defaults, an optional YAML file, environment variables and
// command-line flags, applied in that order.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Framing modes understood by the transport layer.
const (
	FramingLine   = "line"
	FramingLegacy = "legacy"
)

// Store drivers.
const (
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds runtime settings for the relay.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Framing selects how frames are delimited on TCP connections.
	Framing      string        `yaml:"framing"`
	MaxFrameSize int           `yaml:"max_frame_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	HistoryLimit int           `yaml:"history_limit"`
	HistoryPace  time.Duration `yaml:"history_pace"`

	Store StoreConfig `yaml:"store"`

	// HTTPAddr is the operational HTTP listener (/health, /metrics, /ws).
	// Empty disables it.
	HTTPAddr  string `yaml:"http_addr"`
	WebSocket bool   `yaml:"websocket"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// ConnLimit caps connection attempts per remote host within
	// ConnWindow. Zero disables the limiter.
	ConnLimit  int           `yaml:"conn_limit"`
	ConnWindow time.Duration `yaml:"conn_window"`
}

// StoreConfig describes the persistence backend.
type StoreConfig struct {
	Driver   string `yaml:"driver"`
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`

	// Timeout bounds awaited store calls. Zero waits forever.
	Timeout   time.Duration `yaml:"timeout"`
	QueueSize int           `yaml:"queue_size"`

	// Retention trims the Redis message set to the newest N entries.
	// Zero keeps everything.
	Retention int `yaml:"retention"`
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.Host = "0.0.0.0"
	c.Port = 5555
	c.Framing = FramingLine
	c.MaxFrameSize = 1024
	c.WriteTimeout = 5 * time.Second
	c.HistoryLimit = 50
	c.HistoryPace = 100 * time.Millisecond
	c.Store = StoreConfig{
		Driver:    DriverMongo,
		URI:       "mongodb://localhost:27017/",
		Database:  "chat_db",
		Timeout:   10 * time.Second,
		QueueSize: 256,
	}
	c.HTTPAddr = ""
	c.WebSocket = false
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.ConnLimit = 0
	c.ConnWindow = time.Minute
}

// Load builds a Config from defaults, then the YAML file named by
// -config (if any), then CHAT_* environment variables, then flags.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path := configPath(args); path != "" {
		if err := loadYAML(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := loadEnv(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the TCP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Framing {
	case FramingLine, FramingLegacy:
	default:
		return fmt.Errorf("unknown framing %q", c.Framing)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("max_frame_size must be positive")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must not be negative")
	}
	switch c.Store.Driver {
	case DriverMongo, DriverRedis, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != DriverMemory && c.Store.URI == "" {
		return fmt.Errorf("store uri is required for driver %q", c.Store.Driver)
	}
	if c.Store.QueueSize <= 0 {
		return fmt.Errorf("store queue_size must be positive")
	}
	if c.ConnLimit > 0 && c.ConnWindow <= 0 {
		return fmt.Errorf("conn_window must be positive when conn_limit is set")
	}
	return nil
}
