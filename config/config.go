package config

import (
	"fmt"
	"time"

	"github.com/kbukum/proxykit/logger"
	"github.com/kbukum/proxykit/validation"
)

// Config is the root proxykit configuration.
type Config struct {
	Name        string           `yaml:"name" mapstructure:"name" validate:"required"`
	Environment string           `yaml:"environment" mapstructure:"environment" validate:"oneof=development staging production"`
	Logging     logger.Config    `yaml:"logging" mapstructure:"logging"`
	Pool        PoolConfig       `yaml:"pool" mapstructure:"pool"`
	Sigils      SigilConfig      `yaml:"sigils" mapstructure:"sigils"`
	Invocation  InvocationConfig `yaml:"invocation" mapstructure:"invocation"`
	Telemetry   TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
}

// PoolConfig holds the defaults applied to pooled target sources.
type PoolConfig struct {
	MaxSize            int           `yaml:"max_size" mapstructure:"max_size" validate:"min=1"`
	MaxIdle            int           `yaml:"max_idle" mapstructure:"max_idle" validate:"gte=0,ltefield=MaxSize"`
	MinIdle            int           `yaml:"min_idle" mapstructure:"min_idle" validate:"gte=0,ltefield=MaxIdle"`
	MaxWait            time.Duration `yaml:"max_wait" mapstructure:"max_wait" validate:"gte=0"`
	BlockWhenExhausted bool          `yaml:"block_when_exhausted" mapstructure:"block_when_exhausted"`
}

// SigilConfig holds the identity prefixes the quick selector reacts to.
// An empty sigil disables that rule.
type SigilConfig struct {
	ThreadLocal string `yaml:"thread_local" mapstructure:"thread_local" validate:"max=4"`
	Prototype   string `yaml:"prototype" mapstructure:"prototype" validate:"max=4"`
	Pool        string `yaml:"pool" mapstructure:"pool" validate:"max=4"`
}

// InvocationConfig tunes the default interceptor stack.
type InvocationConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts" validate:"gte=0,lte=10"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff" validate:"gte=0"`
	LogCalls      bool          `yaml:"log_calls" mapstructure:"log_calls"`
	// MaxConcurrent caps calls in flight across every proxy of a creator. Zero disables the cap.
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gte=0"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Insecure   bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRate float64       `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval" validate:"gte=0"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	cfg := Config{Name: "proxykit"}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults applies default values to every section.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	c.Logging.ApplyDefaults()
	c.Pool.ApplyDefaults()
	c.Sigils.ApplyDefaults()
	c.Invocation.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	return c.Sigils.validateDistinct()
}

// ApplyDefaults applies pool defaults.
func (c *PoolConfig) ApplyDefaults() {
	if c.MaxSize == 0 {
		c.MaxSize = 8
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = c.MaxSize
	}
}

// ApplyDefaults fills in the conventional sigils.
func (c *SigilConfig) ApplyDefaults() {
	if c.ThreadLocal == "" {
		c.ThreadLocal = "%"
	}
	if c.Prototype == "" {
		c.Prototype = "!"
	}
	if c.Pool == "" {
		c.Pool = ":"
	}
}

func (c *SigilConfig) validateDistinct() error {
	seen := map[string]string{}
	for name, s := range map[string]string{"thread_local": c.ThreadLocal, "prototype": c.Prototype, "pool": c.Pool} {
		if s == "" {
			continue
		}
		if other, dup := seen[s]; dup {
			return fmt.Errorf("config.sigils: %s and %s share sigil %q", other, name, s)
		}
		seen[s] = name
	}
	return nil
}

// ApplyDefaults applies invocation defaults.
func (c *InvocationConfig) ApplyDefaults() {
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
}

// ApplyDefaults applies telemetry defaults.
func (c *TelemetryConfig) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.Interval == 0 {
		c.Interval = 15 * time.Second
	}
}
