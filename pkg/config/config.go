package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

const (
	configFileName = "config.yaml"
	directoryPerm  = 0o700
	configFilePerm = 0o600

	DefaultPort          = 5050
	DefaultWorkers       = 8
	DefaultQueueCapacity = 128
	DefaultDatabase      = "messagecat.db"
	DefaultManagerTick   = time.Second
	DefaultSweepInterval = time.Hour
	DefaultInviteTTL     = 30 * 24 * time.Hour
	DefaultLogLevel      = "info"
)

type Config struct {
	Database      string         `yaml:"database,omitempty"`
	MetricsAddr   string         `yaml:"metricsAddr,omitempty"`
	LogLevel      string         `yaml:"logLevel,omitempty"`
	Port          int            `yaml:"port,omitempty"`
	Workers       int            `yaml:"workers,omitempty"`
	QueueCapacity int            `yaml:"queueCapacity,omitempty"`
	ManagerTick   time.Duration  `yaml:"managerTick,omitempty"`
	SweepInterval *time.Duration `yaml:"sweepInterval,omitempty"`
	InviteTTL     time.Duration  `yaml:"inviteTTL,omitempty"`
	AcceptRate    float64        `yaml:"acceptRate,omitempty"`
	AcceptBurst   int            `yaml:"acceptBurst,omitempty"`
}

func orDefault[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

func (c *Config) ListenPort() int { return orDefault(c.Port, DefaultPort) }
func (c *Config) WorkerCount() int { return orDefault(c.Workers, DefaultWorkers) }
func (c *Config) Tick() time.Duration { return orDefault(c.ManagerTick, DefaultManagerTick) }
func (c *Config) TTL() time.Duration { return orDefault(c.InviteTTL, DefaultInviteTTL) }
func (c *Config) Level() string { return orDefault(c.LogLevel, DefaultLogLevel) }
func (c *Config) QueueLimit() int { return orDefault(c.QueueCapacity, DefaultQueueCapacity) }

// DatabasePath resolves the database location relative to dir.
func (c *Config) DatabasePath(dir string) string {
	p := orDefault(c.Database, DefaultDatabase)
	if p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Sweep returns the sweep interval. An explicit zero means sweep once at startup.
func (c *Config) Sweep() time.Duration {
	if c.SweepInterval == nil {
		return DefaultSweepInterval
	}
	return *c.SweepInterval
}

// WithDefaults returns a copy with every unset field filled in.
func (c Config) WithDefaults() *Config {
	sweep := c.Sweep()
	c.Port = c.ListenPort()
	c.Workers = c.WorkerCount()
	c.QueueCapacity = c.QueueLimit()
	c.Database = orDefault(c.Database, DefaultDatabase)
	c.ManagerTick = c.Tick()
	c.SweepInterval = &sweep
	c.InviteTTL = c.TTL()
	c.LogLevel = c.Level()
	return &c
}

// Load reads dir/config.yaml. A missing or empty file yields the defaults.
func Load(dir string) (*Config, error) {
	raw, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(dir string, cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, directoryPerm); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	encoded, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, configFileName), encoded, configFilePerm); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, errors.New("port must be within 0-65535"))
	}
	if c.Workers < 0 {
		errs = append(errs, errors.New("workers must be >= 0"))
	}
	if c.QueueCapacity < 0 {
		errs = append(errs, errors.New("queueCapacity must be >= 0"))
	}
	if c.ManagerTick < 0 {
		errs = append(errs, errors.New("managerTick must be >= 0"))
	}
	if c.SweepInterval != nil && *c.SweepInterval < 0 {
		errs = append(errs, errors.New("sweepInterval must be >= 0"))
	}
	if c.InviteTTL < 0 {
		errs = append(errs, errors.New("inviteTTL must be >= 0"))
	}
	if c.AcceptRate < 0 || c.AcceptBurst < 0 {
		errs = append(errs, errors.New("acceptRate and acceptBurst must be >= 0"))
	}
	return errors.Join(errs...)
}
