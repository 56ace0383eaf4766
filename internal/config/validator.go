package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration using struct tags plus cross-field
// rules. Returns an error with actionable messages on failure.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateServerNames(); err != nil {
		return err
	}

	return c.validatePluginSettings()
}

// validateServerNames runs the descriptor-level name and command rules
// for every configured server.
func (c *Config) validateServerNames() error {
	for _, desc := range c.Descriptors() {
		if err := desc.Validate(); err != nil {
			return fmt.Errorf("servers[%s]: %w", desc.Name, err)
		}
	}
	return nil
}

// validatePluginSettings ensures settings only reference enabled
// plugins, catching the common typo of configuring a disabled name.
func (c *Config) validatePluginSettings() error {
	enabled := make(map[string]struct{}, len(c.Plugins))
	for _, name := range c.Plugins {
		enabled[name] = struct{}{}
	}
	for name := range c.PluginSettings {
		if _, ok := enabled[name]; !ok {
			return fmt.Errorf("plugin_settings: %q is not in the plugins list", name)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
