// Package config loads the daemon's runtime configuration: the HTTP
// listen address, allocation defaults, and the path to the profile
// definitions the resource coordinator is configured from. Precedence
// follows viper's usual order: environment variables prefixed
// CARDRESD_ override an optional config file, which overrides
// hard-coded defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the daemon's runtime settings.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// DefaultStrategy is the allocation strategy new profiles use when
	// they don't specify one: "first", "cyclic", or "random".
	DefaultStrategy string `mapstructure:"default_strategy"`

	// UsageTimeoutSeconds bounds how long a caller may hold a locked
	// card resource before it's force-released. Zero means unbounded.
	UsageTimeoutSeconds int `mapstructure:"usage_timeout_seconds"`

	// BlockingEnabled turns on blocking allocation mode: GetCardResource
	// polls until a resource frees up or BlockingTimeoutSeconds elapses,
	// instead of the default of failing immediately with 409 when
	// nothing is free. Off by default, matching the out-of-the-box
	// non-blocking behavior callers expect from POST /v1/allocate.
	BlockingEnabled bool `mapstructure:"blocking_enabled"`

	// BlockingCycleMillis is the poll interval for blocking allocation.
	// Only meaningful when BlockingEnabled is true; must be positive.
	BlockingCycleMillis int `mapstructure:"blocking_cycle_millis"`

	// BlockingTimeoutSeconds bounds a blocking allocation call. Only
	// meaningful when BlockingEnabled is true; must be positive.
	BlockingTimeoutSeconds int `mapstructure:"blocking_timeout_seconds"`

	// ProfilesFile points at the YAML/JSON file describing card resource
	// profiles. The daemon watches it whenever it is set; a change is
	// only logged and takes effect after a restart.
	ProfilesFile string `mapstructure:"profiles_file"`

	LogLevel string `mapstructure:"log_level"`
}

// Address returns the host:port the HTTP server should bind to.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from (in increasing precedence) built-in
// defaults, an optional config file discovered on the standard search
// path, and CARDRESD_-prefixed environment variables. It never returns
// an error: a missing or malformed config file just falls back to
// defaults, matching the teacher's tolerant startup behavior.
func Load() *Config {
	v := viper.New()

	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 32145)
	v.SetDefault("default_strategy", "first")
	v.SetDefault("usage_timeout_seconds", 0)
	v.SetDefault("blocking_enabled", false)
	v.SetDefault("blocking_cycle_millis", 100)
	v.SetDefault("blocking_timeout_seconds", 30)
	v.SetDefault("profiles_file", "")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("cardresd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("cardresd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/cardresd")
	v.AddConfigPath("$HOME/.config/cardresd")

	// A missing or unreadable file is fine; defaults and env vars still
	// apply. Only a malformed file that WAS found is worth reporting,
	// and even then we fall back rather than fail startup.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return &Config{
			Host:                "127.0.0.1",
			Port:                32145,
			DefaultStrategy:     "first",
			BlockingCycleMillis: 100,
			LogLevel:            "info",
		}
	}
	return cfg
}
