// Package config loads the yaml configuration shared by the server and client binaries.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/netsync/internal/core/buffer"
	"github.com/zeusync/netsync/internal/core/clock"
	"github.com/zeusync/netsync/internal/core/observability/log"
	"github.com/zeusync/netsync/internal/core/protocol"
)

type Config struct {
	Log         LogConfig       `yaml:"log"`
	Clock       ClockConfig     `yaml:"clock"`
	Buffer      BufferConfig    `yaml:"buffer"`
	Transport   TransportConfig `yaml:"transport"`
	Server      ServerConfig    `yaml:"server"`
	Compression string          `yaml:"compression"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type ClockConfig struct {
	TickRateHz  float64 `yaml:"tick_rate_hz"`
	Lag         int32   `yaml:"lag"`
	InitialLead int32   `yaml:"initial_lead"`
}

type BufferConfig struct {
	CommandCapacity int `yaml:"command_capacity"`
}

type TransportConfig struct {
	// Kind is "websocket" or "quic".
	Kind        string        `yaml:"kind"`
	Addr        string        `yaml:"addr"`
	Path        string        `yaml:"path"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type ServerConfig struct {
	// MaxSessions of zero disables the limit.
	MaxSessions int `yaml:"max_sessions"`
}

const (
	TransportWebSocket = "websocket"
	TransportQUIC      = "quic"
)

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Clock: ClockConfig{
			TickRateHz:  clock.DefaultTickRate,
			Lag:         clock.DefaultLag,
			InitialLead: clock.InitialLead,
		},
		Buffer: BufferConfig{
			CommandCapacity: buffer.DefaultCapacity,
		},
		Transport: TransportConfig{
			Kind:        TransportWebSocket,
			Addr:        "127.0.0.1:7777",
			Path:        "/sync",
			DialTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			MaxSessions: 1024,
		},
		Compression: "lz4",
	}
}

// Load reads a yaml file on top of the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse decodes yaml on top of the defaults and validates the result.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, protocol.NewProtocolError(protocol.ErrorCodeInvalidConfig, "decode config", fmt.Errorf("%w: %v", protocol.ErrInvalidConfig, err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	invalid := func(field string, value any) error {
		return protocol.NewProtocolError(protocol.ErrorCodeInvalidConfig, "validate config", protocol.ErrInvalidConfig).
			WithContext("field", field).
			WithContext("value", value)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", c.Log.Level)
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		return invalid("log.encoding", c.Log.Encoding)
	}
	if c.Clock.TickRateHz <= 0 {
		return invalid("clock.tick_rate_hz", c.Clock.TickRateHz)
	}
	if c.Clock.Lag <= 0 {
		return invalid("clock.lag", c.Clock.Lag)
	}
	if c.Clock.InitialLead < 0 {
		return invalid("clock.initial_lead", c.Clock.InitialLead)
	}
	if c.Buffer.CommandCapacity <= 0 {
		return invalid("buffer.command_capacity", c.Buffer.CommandCapacity)
	}
	switch strings.ToLower(c.Transport.Kind) {
	case TransportWebSocket, TransportQUIC:
	default:
		return invalid("transport.kind", c.Transport.Kind)
	}
	if c.Transport.Addr == "" {
		return invalid("transport.addr", c.Transport.Addr)
	}
	if c.Server.MaxSessions < 0 {
		return invalid("server.max_sessions", c.Server.MaxSessions)
	}
	switch strings.ToLower(c.Compression) {
	case "", "none", "lz4", "zstd":
	default:
		return invalid("compression", c.Compression)
	}
	return nil
}

// LogOptions maps the log section onto logger options.
func (c *Config) LogOptions() (log.Options, error) {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.Options{}, err
	}
	return log.Options{Level: level, Encoding: c.Log.Encoding}, nil
}

// CompressionStrategy resolves the compression section. Zstd encoders hold resources that
// are released when the process exits.
func (c *Config) CompressionStrategy() (protocol.Compression, error) {
	return protocol.ParseCompression(c.Compression)
}
