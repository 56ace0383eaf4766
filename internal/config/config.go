// Package config provides configuration loading for the relaygate
// binary.
package config

import (
	"sort"
	"time"

	"github.com/relaygate/relaygate/internal/domain/upstream"
)

// Defaults applied by SetDefaults.
const (
	DefaultLogLevel    = "info"
	DefaultCallTimeout = 60 * time.Second
)

// ServerConfig describes one backend MCP server to proxy.
type ServerConfig struct {
	Command string            `mapstructure:"command" yaml:"command" validate:"required"`
	Args    []string          `mapstructure:"args" yaml:"args,omitempty"`
	Env     map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

// Config is the root configuration.
type Config struct {
	// LogLevel controls slog verbosity: debug, info, warn, or error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// CallTimeout bounds one backend capability call.
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout" validate:"gte=0"`

	// Servers maps server names to their launch configuration.
	Servers map[string]ServerConfig `mapstructure:"servers" yaml:"servers,omitempty" validate:"dive"`

	// Plugins lists enabled pipeline plugins in execution order.
	Plugins []string `mapstructure:"plugins" yaml:"plugins,omitempty"`

	// PluginSettings holds per-plugin settings keyed by plugin name.
	PluginSettings map[string]map[string]any `mapstructure:"plugin_settings" yaml:"plugin_settings,omitempty"`
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
}

// Descriptors converts the server map into validated-shape descriptors
// sorted by name for deterministic startup and projection order.
func (c *Config) Descriptors() []*upstream.Descriptor {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	descs := make([]*upstream.Descriptor, 0, len(names))
	for _, name := range names {
		sc := c.Servers[name]
		descs = append(descs, &upstream.Descriptor{
			Name:    name,
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
		})
	}
	return descs
}
