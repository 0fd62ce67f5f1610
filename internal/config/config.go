// Package config loads server settings from a TOML, YAML or JSON file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig    `toml:"server" json:"server" yaml:"server"`
	Log       LogConfig       `toml:"log" json:"log" yaml:"log"`
	RateLimit RateLimitConfig `toml:"ratelimit" json:"ratelimit" yaml:"ratelimit"`
	Store     StoreConfig     `toml:"store" json:"store" yaml:"store"`
	Autosave  AutosaveConfig  `toml:"autosave" json:"autosave" yaml:"autosave"`
	Discovery DiscoveryConfig `toml:"discovery" json:"discovery" yaml:"discovery"`
}

type ServerConfig struct {
	Addr           string   `toml:"addr" json:"addr" yaml:"addr"`
	ReadBuffer     int      `toml:"read_buffer" json:"read_buffer" yaml:"read_buffer"`
	WriteBuffer    int      `toml:"write_buffer" json:"write_buffer" yaml:"write_buffer"`
	MaxMessageSize int64    `toml:"max_message_size" json:"max_message_size" yaml:"max_message_size"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
}

type RateLimitConfig struct {
	MessagesPerSecond float64 `toml:"messages_per_second" json:"messages_per_second" yaml:"messages_per_second"`
	Burst             int     `toml:"burst" json:"burst" yaml:"burst"`
	MaxStrikes        int     `toml:"max_strikes" json:"max_strikes" yaml:"max_strikes"`
}

// Path ":memory:" keeps checkpoints for the life of the process only
type StoreConfig struct {
	Path string `toml:"path" json:"path" yaml:"path"`
}

type AutosaveConfig struct {
	Enabled         bool `toml:"enabled" json:"enabled" yaml:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds" json:"interval_seconds" yaml:"interval_seconds"`
	KeepAuto        int  `toml:"keep_auto" json:"keep_auto" yaml:"keep_auto"`
}

func (a AutosaveConfig) Interval() time.Duration {
	return time.Duration(a.IntervalSeconds) * time.Second
}

type DiscoveryConfig struct {
	MDNS     bool   `toml:"mdns" json:"mdns" yaml:"mdns"`
	Instance string `toml:"instance" json:"instance" yaml:"instance"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":3000",
			ReadBuffer:     4096,
			WriteBuffer:    4096,
			MaxMessageSize: 1024 * 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			MessagesPerSecond: 100,
			Burst:             200,
			MaxStrikes:        1000,
		},
		Store: StoreConfig{
			Path: ":memory:",
		},
		Autosave: AutosaveConfig{
			Enabled:         true,
			IntervalSeconds: 300,
			KeepAuto:        20,
		},
		Discovery: DiscoveryConfig{
			Instance: "canvasflow",
		},
	}
}

// Applies CANVAS_* variables on top of file values. PORT sets the listen
// port when CANVAS_ADDR is absent.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CANVAS_ADDR"); v != "" {
		c.Server.Addr = v
	} else if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("CANVAS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CANVAS_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("CANVAS_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("CANVAS_MDNS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Discovery.MDNS = b
		}
	}
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("server.max_message_size must be positive"))
	}
	if c.Server.ReadBuffer < 0 || c.Server.WriteBuffer < 0 {
		errs = append(errs, errors.New("server buffers must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if c.RateLimit.MessagesPerSecond <= 0 {
		errs = append(errs, errors.New("ratelimit.messages_per_second must be positive"))
	}
	if c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("ratelimit.burst must be at least 1"))
	}
	if c.RateLimit.MaxStrikes < 1 {
		errs = append(errs, errors.New("ratelimit.max_strikes must be at least 1"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Autosave.Enabled && c.Autosave.IntervalSeconds < 1 {
		errs = append(errs, errors.New("autosave.interval_seconds must be at least 1"))
	}
	if c.Autosave.KeepAuto < 1 {
		errs = append(errs, errors.New("autosave.keep_auto must be at least 1"))
	}

	return errors.Join(errs...)
}

// Reports whether origin may open a websocket. An empty list allows all.
func (s ServerConfig) OriginAllowed(origin string) bool {
	if len(s.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, o := range s.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
