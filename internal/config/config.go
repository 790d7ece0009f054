package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file inside the config directory.
const FileName = "config.yaml"

// Transports accepted for the broker connection.
const (
	TransportTCP        = "tcp"
	TransportWebsockets = "websockets"
)

// Config is the persisted connection and runtime configuration.
type Config struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Keepalive int    `yaml:"keepalive"` // seconds
	Transport string `yaml:"transport"` // "tcp" or "websockets"
	WSPath    string `yaml:"ws_path,omitempty"`
	Theme     string `yaml:"theme,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`
	LogFile  string `yaml:"log_file,omitempty"`

	// Per-user action rate for the receiver. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty"`
	RateBurst int     `yaml:"rate_burst,omitempty"`

	// MaxAge drops messages encrypted more than this many seconds ago.
	// Zero accepts any age; retained presence and the last will can be
	// older than a small limit.
	MaxAge int `yaml:"max_age,omitempty"`

	// Effects maps an effect name (advance, retreat, beginShow, endShow,
	// toggleBlackout) to the argv the receiver runs for it.
	Effects map[string][]string `yaml:"effects,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:      "test.mosquitto.org",
		Port:      1883,
		Keepalive: 15,
		Transport: TransportTCP,
		WSPath:    "/mqtt",
		Theme:     "flatly",
		LogLevel:  "info",
	}
}

// KeepaliveDuration is Keepalive as a time.Duration.
func (c *Config) KeepaliveDuration() time.Duration {
	return time.Duration(c.Keepalive) * time.Second
}

// Addr is host:port of the broker.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// MaxAgeDuration is MaxAge as a time.Duration.
func (c *Config) MaxAgeDuration() time.Duration {
	return time.Duration(c.MaxAge) * time.Second
}

// Path returns the config file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load reads config.yaml from dir over the defaults. A missing file yields
// the defaults.
func Load(dir string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", Path(dir), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", Path(dir), err)
	}
	return cfg, nil
}

// Save writes cfg to dir/config.yaml.
func Save(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(dir), data, 0644)
}

// Validate checks the broker settings.
func (c *Config) Validate() error {
	if c.MaxAge < 0 {
		return fmt.Errorf("max_age must not be negative")
	}
	return Overrides{
		Host:      &c.Host,
		Port:      &c.Port,
		Keepalive: &c.Keepalive,
		Transport: &c.Transport,
	}.Validate()
}
