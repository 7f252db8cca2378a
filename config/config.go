// Package config loads server configuration from an optional TOML file.
//
// Defaults are applied first, the file overrides them, CLI flags override the
// file. The result is validated before use.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/warp/reservation-core/generic"
)

type Config struct {
	Server  ServerConfig  `toml:"server" json:"server"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Lock    LockConfig    `toml:"lock" json:"lock"`
	Log     LogConfig     `toml:"log" json:"log"`
}

type ServerConfig struct {
	Addr            string        `toml:"addr" json:"addr" validate:"required"`
	ReadTimeout     time.Duration `toml:"read_timeout" json:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `toml:"write_timeout" json:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `toml:"idle_timeout" json:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins  []string      `toml:"allowed_origins" json:"allowed_origins"`
}

type StorageConfig struct {
	Driver string `toml:"driver" json:"driver" validate:"oneof=sqlite memory"`
	Path   string `toml:"path" json:"path" validate:"required_if=Driver sqlite"`
}

type LockConfig struct {
	Backend        string        `toml:"backend" json:"backend" validate:"oneof=memory redis"`
	AcquireTimeout time.Duration `toml:"acquire_timeout" json:"acquire_timeout" validate:"gt=0"`
	TTL            time.Duration `toml:"ttl" json:"ttl" validate:"gt=0"`
	RedisAddr      string        `toml:"redis_addr" json:"redis_addr" validate:"required_if=Backend redis"`
}

type LogConfig struct {
	Level  string `toml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" json:"format" validate:"oneof=json text"`
}

// Default returns a configuration that runs a single SQLite-backed process.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		Storage: StorageConfig{Driver: "sqlite", Path: "./data/reservations.db"},
		Lock: LockConfig{
			Backend:        "memory",
			AcquireTimeout: generic.DefaultLockTimeout,
			TTL:            30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load returns Default overlaid with the file at path. An empty path means
// defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
		}
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := generic.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NewLogger builds the process logger from c, writing to stdout.
func NewLogger(c LogConfig) (*logrus.Logger, error) {
	return newLogger(c, os.Stdout)
}

func newLogger(c LogConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	if c.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	return log, nil
}
