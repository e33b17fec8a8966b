// Package config implements the program configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultRingBufferSize is the default log ring-buffer line count.
	DefaultRingBufferSize = 100

	// DefaultRootMode is the default permission mode of the root directory.
	DefaultRootMode = 0o755
)

// errInvalidConfig is for a failed configuration validation.
var errInvalidConfig = errors.New("invalid configuration")

// Config holds the runtime configuration of the filesystem. Values are
// resolved from the configuration file, SFS_* environment variables and
// command-line flags, in ascending order of precedence.
type Config struct {
	// Backing is a host directory for file content; empty keeps content in RAM.
	Backing string `mapstructure:"backing"`

	// WebAddr is the listen address of the diagnostics dashboard; empty disables it.
	WebAddr string `mapstructure:"webaddr"`

	// FSName is the filesystem name as reported to the FUSE mount.
	FSName string `mapstructure:"fsname"`

	// AllowOther mounts with permission for other users to access the filesystem.
	AllowOther bool `mapstructure:"allow-other"`

	// Debug enables debug verbosity on the log ring-buffer.
	Debug bool `mapstructure:"debug"`

	// RingBufferSize is the line count of the log ring-buffer.
	RingBufferSize int `mapstructure:"ring-buffer-size"`

	// RootMode is the permission mode of the root directory.
	RootMode uint32 `mapstructure:"root-mode"`
}

// Load resolves the configuration from file and environment. A given
// path overrides the default configuration file search locations.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("SFS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Keys without a default are otherwise unknown to Unmarshal and
	// their environment variables would never be consulted.
	for _, key := range []string{"backing", "webaddr", "debug", "allow-other"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(configDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("fsname", "sfs")
	v.SetDefault("ring-buffer-size", DefaultRingBufferSize)
	v.SetDefault("root-mode", DefaultRootMode)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.RingBufferSize <= 0 {
		return fmt.Errorf("%w: ring-buffer-size must be positive", errInvalidConfig)
	}
	if c.RootMode > 0o777 {
		return fmt.Errorf("%w: root-mode must be a permission mode", errInvalidConfig)
	}
	if c.Backing != "" {
		info, err := os.Stat(c.Backing)
		if err != nil {
			return fmt.Errorf("%w: backing directory: %w", errInvalidConfig, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: backing path is not a directory", errInvalidConfig)
		}
	}

	return nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "sfs")
}
