// Package config holds the process-wide configuration loaded by cmd/root.go
// via viper, generalizing the teacher's config.Config/DefaultConfig/
// EnsureDirs pattern to this engine's much smaller surface (no CNI, no
// cloud-hypervisor firmware path — just logging and the data-root override).
package config

import (
	"fmt"
	"os"

	coretypes "github.com/projecteru2/core/types"
)

// Config is the top-level process configuration, unmarshaled from viper.
type Config struct {
	// DataDir overrides the default XDG data root when non-empty.
	DataDir string `mapstructure:"data_dir"`
	// DefaultBinary is the qemu binary used when a runtime config omits one.
	DefaultBinary string `mapstructure:"default_binary"`
	// Log configures the structured logger, reusing eru core's shape exactly
	// as the teacher does.
	Log coretypes.ServerLogConfig `mapstructure:"log"`
}

// DefaultConfig returns sensible defaults for every field viper might not
// find in a config file or environment.
func DefaultConfig() *Config {
	return &Config{
		DefaultBinary: "qemu-system-x86_64",
		Log: coretypes.ServerLogConfig{
			Level: "info",
		},
	}
}

// EnsureDirs validates DataDir, if set, is usable as a directory; the XDG
// default path is created lazily by store.New() instead.
func EnsureDirs(c *Config) (*Config, error) {
	if c.DataDir == "" {
		return c, nil
	}
	if err := os.MkdirAll(c.DataDir, 0o750); err != nil { //nolint:mnd
		return nil, fmt.Errorf("create data dir %s: %w", c.DataDir, err)
	}
	return c, nil
}
