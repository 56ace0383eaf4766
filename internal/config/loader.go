package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and
// environment variables. If configFile is empty, relaygate.yaml/.yml is
// searched in standard locations. The search requires an explicit YAML
// extension so the binary itself (same base name, no extension) never
// matches.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError, which callers handle gracefully.
		viper.SetConfigName("relaygate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: RELAYGATE_LOG_LEVEL etc.
	viper.SetEnvPrefix("RELAYGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for relaygate.yaml or
// relaygate.yml. Returns the first match, or empty string.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".relaygate"),
		"/etc/relaygate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "relaygate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds scalar config keys for env var overrides.
// Servers and plugin settings are structured values; use the config
// file for those.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("call_timeout")
}

// Load reads the configuration file, applies environment overrides and
// defaults, and validates the result. A missing config file is not an
// error: servers can come from an mcp.json file or env-only setups.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// FileUsed returns the path of the loaded configuration file, or empty
// when running without one.
func FileUsed() string {
	return viper.ConfigFileUsed()
}
