// Package config loads the server configuration from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Worker    WorkerConfig    `yaml:"worker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

type ServerConfig struct {
	Name            string        `yaml:"name" validate:"required"`
	Version         string        `yaml:"version" validate:"required"`
	Address         string        `yaml:"address" validate:"required,hostname_port"`
	Enabled         bool          `yaml:"enabled"`
	MaxConnections  int           `yaml:"max_connections" validate:"min=1"`
	MaxFrameBytes   int           `yaml:"max_frame_bytes" validate:"min=1024"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

type WorkerConfig struct {
	Size     int    `yaml:"size" validate:"min=1"`
	Queue    int    `yaml:"queue" validate:"min=0"`
	Overflow string `yaml:"overflow" validate:"oneof=block reject"`
}

// RateLimitConfig is disabled while RequestsPerSecond is zero.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
	Burst             int     `yaml:"burst" validate:"min=0"`
}

type WorkspaceConfig struct {
	Root string `yaml:"root" validate:"required"`
	// Watch invalidates the type index when sources change.
	Watch bool `yaml:"watch"`
	// StorePath keeps problem markers across restarts. Empty means in memory.
	StorePath string        `yaml:"store_path"`
	Debounce  time.Duration `yaml:"debounce" validate:"min=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
	// File receives the log instead of stderr.
	File   string `yaml:"file"`
	Frames bool   `yaml:"frames"`
}

type MetricsConfig struct {
	Address string `yaml:"address" validate:"omitempty,hostname_port"`
}

type WebSocketConfig struct {
	Address string `yaml:"address" validate:"omitempty,hostname_port"`
}

// DiscoveryConfig announces the server in etcd when Endpoints is set.
type DiscoveryConfig struct {
	Endpoints   []string      `yaml:"endpoints,omitempty" validate:"dive,required"`
	Service     string        `yaml:"service" validate:"required_with=Endpoints"`
	Advertise   string        `yaml:"advertise" validate:"omitempty,hostname_port"`
	TTL         int64         `yaml:"ttl" validate:"min=1"`
	DialTimeout time.Duration `yaml:"dial_timeout" validate:"min=0"`
	Balancer    string        `yaml:"balancer" validate:"oneof=round-robin weighted-random"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:            "workspace-mcp",
			Version:         "1.0.0",
			Address:         "127.0.0.1:8099",
			Enabled:         true,
			MaxConnections:  64,
			MaxFrameBytes:   4 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Worker: WorkerConfig{Size: 16, Queue: 256, Overflow: "block"},
		Workspace: WorkspaceConfig{
			Root:     ".",
			Watch:    true,
			Debounce: 200 * time.Millisecond,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Discovery: DiscoveryConfig{
			Service:     "workspace-mcp",
			TTL:         10,
			DialTimeout: 5 * time.Second,
			Balancer:    "round-robin",
		},
	}
}

// Load reads path over the defaults and validates the result. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		return name
	})
	return v
}

// Validate reports every invalid field by its YAML path.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// SlogLevel maps Level onto slog.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
