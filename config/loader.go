package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override file values,
// e.g. PROXYKIT_POOL_MAX_SIZE=16.
const EnvPrefix = "PROXYKIT"

// FileSystem abstracts the file operations the loader needs (useful for testing).
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// RealFileSystem implements FileSystem using actual file operations.
type RealFileSystem struct{}

func (RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// LoaderConfig holds dependencies and optional file overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string
	EnvFile    string
}

// LoaderOption is a functional option for Load.
type LoaderOption func(*LoaderConfig)

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// searchPaths lists the config file locations tried when none is given.
var searchPaths = []string{
	"./proxykit.yml",
	"./config/proxykit.yml",
	"./config.yml",
}

// Load reads configuration from an optional YAML file, an optional .env file
// and PROXYKIT_* environment variables, then applies defaults and validates.
// A missing config file is not an error.
func Load(opts ...LoaderOption) (Config, error) {
	lc := LoaderConfig{FileSystem: RealFileSystem{}}
	for _, opt := range opts {
		opt(&lc)
	}

	if lc.EnvFile == "" && lc.FileSystem.Exists(".env") {
		lc.EnvFile = ".env"
	}
	if lc.EnvFile != "" && lc.FileSystem.Exists(lc.EnvFile) {
		if err := lc.FileSystem.LoadEnv(lc.EnvFile); err != nil {
			return Config{}, fmt.Errorf("loading env file %s: %w", lc.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := lc.ConfigFile
	if file == "" {
		for _, p := range searchPaths {
			if lc.FileSystem.Exists(p) {
				file = p
				break
			}
		}
	}
	if file != "" && lc.FileSystem.Exists(file) {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key with viper so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("name", d.Name)
	v.SetDefault("environment", d.Environment)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.no_color", d.Logging.NoColor)
	v.SetDefault("logging.timestamp", d.Logging.Timestamp)
	v.SetDefault("logging.caller", d.Logging.Caller)

	v.SetDefault("pool.max_size", d.Pool.MaxSize)
	// zero lets ApplyDefaults derive max_idle from whatever max_size ends up being
	v.SetDefault("pool.max_idle", 0)
	v.SetDefault("pool.min_idle", d.Pool.MinIdle)
	v.SetDefault("pool.max_wait", d.Pool.MaxWait)
	v.SetDefault("pool.block_when_exhausted", d.Pool.BlockWhenExhausted)

	v.SetDefault("sigils.thread_local", d.Sigils.ThreadLocal)
	v.SetDefault("sigils.prototype", d.Sigils.Prototype)
	v.SetDefault("sigils.pool", d.Sigils.Pool)

	v.SetDefault("invocation.timeout", d.Invocation.Timeout)
	v.SetDefault("invocation.retry_attempts", d.Invocation.RetryAttempts)
	v.SetDefault("invocation.retry_backoff", d.Invocation.RetryBackoff)
	v.SetDefault("invocation.log_calls", d.Invocation.LogCalls)
	v.SetDefault("invocation.max_concurrent", d.Invocation.MaxConcurrent)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)
	v.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)
	v.SetDefault("telemetry.interval", d.Telemetry.Interval)
}
