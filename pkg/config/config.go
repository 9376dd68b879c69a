// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the daemon configuration from YAML with environment
// overrides for secrets and per-device values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/hydrant/pkg/command"
	"github.com/Thermoquad/hydrant/pkg/dispense"
	"github.com/Thermoquad/hydrant/pkg/link"
	"github.com/Thermoquad/hydrant/pkg/meter"
	"github.com/Thermoquad/hydrant/pkg/rtu"
	"github.com/Thermoquad/hydrant/pkg/store"
	"github.com/Thermoquad/hydrant/pkg/supervisor"
)

// DefaultPath is where the daemon looks for its configuration
const DefaultPath = "/etc/hydrant/hydrant.yaml"

// Environment overrides
const (
	EnvLinkPassword = "HYDRANT_LINK_PASSWORD"
	EnvLinkUsername = "HYDRANT_LINK_USERNAME"
	EnvSerialPort   = "HYDRANT_SERIAL_PORT"
	EnvDeviceID     = "HYDRANT_DEVICE_ID"
)

// Config is the complete daemon configuration
type Config struct {
	DeviceID   string             `yaml:"device_id"`
	Addresses  []rtu.Address      `yaml:"addresses"`
	Serial     meter.SerialConfig `yaml:"serial"`
	Meter      meter.Config       `yaml:"meter"`
	Dispense   dispense.Config    `yaml:"dispense"`
	Store      store.Config       `yaml:"store"`
	Link       link.Config        `yaml:"link"`
	Loop       LoopConfig         `yaml:"loop"`
	Supervisor supervisor.Config  `yaml:"supervisor"`
	Metrics    MetricsConfig      `yaml:"metrics"`
	Log        LogConfig          `yaml:"log"`
}

// LoopConfig holds the controller loop timings
type LoopConfig struct {
	StartupDelay  time.Duration `yaml:"startup_delay"`
	IdleInterval  time.Duration `yaml:"idle_interval"`
	QueuePause    time.Duration `yaml:"queue_pause"`
	LinkGrace     time.Duration `yaml:"link_grace"`      // 0 disables the link health restart
	MinFreeMemory uint64        `yaml:"min_free_memory"` // bytes, 0 disables the check
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration every file is layered on
func Default() Config {
	return Config{
		Addresses:  []rtu.Address{1},
		Serial:     meter.DefaultSerialConfig(),
		Meter:      meter.DefaultConfig(),
		Dispense:   dispense.DefaultConfig(),
		Store:      store.DefaultConfig(),
		Link:       link.DefaultConfig(),
		Supervisor: supervisor.DefaultConfig(),
		Loop: LoopConfig{
			StartupDelay:  10 * time.Second,
			IdleInterval:  180 * time.Second,
			QueuePause:    time.Second,
			LinkGrace:     30 * time.Minute,
			MinFreeMemory: 8 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and applies the environment (after
// loading envFile, or ./.env when present). A missing file at DefaultPath is
// not an error. The result is not validated; commands call Validate once
// their flag overrides are applied.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decode(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		default:
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := loadEnvFile(envFile); err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()
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

func loadEnvFile(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLinkPassword); v != "" {
		c.Link.Password = v
	}
	if v := os.Getenv(EnvLinkUsername); v != "" {
		c.Link.Username = v
	}
	if v := os.Getenv(EnvSerialPort); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv(EnvDeviceID); v != "" {
		c.DeviceID = v
	}
	if c.Link.ClientID == "" {
		c.Link.ClientID = c.DeviceID
	}
}

// Validate reports every impossible setting
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.DeviceID == "" {
		add("device_id is required (or set %s)", EnvDeviceID)
	}
	if len(c.Addresses) == 0 {
		add("at least one meter address is required")
	}
	seen := make(map[rtu.Address]bool)
	for _, a := range c.Addresses {
		if a < command.MinAddress || a > command.MaxAddress {
			add("address %d out of range %d-%d", a, command.MinAddress, command.MaxAddress)
		}
		if seen[a] {
			add("address %d listed twice", a)
		}
		seen[a] = true
	}

	if c.Serial.Port == "" {
		add("serial.port is required")
	}
	if c.Serial.Baud <= 0 {
		add("serial.baud must be positive")
	}
	if c.Meter.Scale <= 0 {
		add("meter.scale must be positive")
	}
	if c.Meter.ReadAttempts <= 0 {
		add("meter.read_attempts must be positive")
	}
	if c.Dispense.MaxErrors <= 0 {
		add("dispense.max_errors must be positive")
	}
	if c.Dispense.Retries <= 0 {
		add("dispense.retries must be positive")
	}

	switch c.Store.Backend {
	case store.BackendFile, store.BackendBadger:
	default:
		add("store.backend must be %q or %q", store.BackendFile, store.BackendBadger)
	}
	if c.Store.Path == "" {
		add("store.path is required")
	}

	switch c.Link.Kind {
	case link.KindMQTT:
		if c.Link.Broker == "" {
			add("link.broker is required for mqtt")
		}
	case link.KindWebSocket:
		if c.Link.URL == "" {
			add("link.url is required for websocket")
		}
	default:
		add("link.kind must be %q or %q", link.KindMQTT, link.KindWebSocket)
	}

	if c.Loop.IdleInterval <= 0 {
		add("loop.idle_interval must be positive")
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"meter.read_interval", c.Meter.ReadInterval},
		{"meter.settle", c.Meter.Settle},
		{"meter.drain_poll", c.Meter.DrainPoll},
		{"meter.drain_quiet", c.Meter.DrainQuiet},
		{"dispense.poll_interval", c.Dispense.PollInterval},
		{"dispense.open_settle", c.Dispense.OpenSettle},
		{"dispense.retry_delay", c.Dispense.RetryDelay},
		{"loop.startup_delay", c.Loop.StartupDelay},
		{"loop.queue_pause", c.Loop.QueuePause},
		{"loop.link_grace", c.Loop.LinkGrace},
		{"link.connect_timeout", c.Link.ConnectTimeout},
	} {
		if d.value < 0 {
			add("%s must not be negative (%s)", d.key, d.value)
		}
	}
	if c.Supervisor.LivenessLimit <= 0 {
		add("supervisor.liveness_limit must be positive")
	}
	if c.Supervisor.Interval <= 0 || c.Supervisor.Interval >= c.Supervisor.HardwareTimeout {
		add("supervisor.interval (%s) must be shorter than supervisor.hardware_timeout (%s)",
			c.Supervisor.Interval, c.Supervisor.HardwareTimeout)
	}
	if c.Supervisor.LivenessLimit <= c.Loop.IdleInterval {
		add("supervisor.liveness_limit (%s) must exceed loop.idle_interval (%s)",
			c.Supervisor.LivenessLimit, c.Loop.IdleInterval)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format must be text or json")
	}

	return errors.Join(errs...)
}
