package service

import (
	"fmt"
	"math"

	"github.com/relaygate/relaygate/internal/domain/capability"
)

// validateArguments checks that every required parameter is present and
// that supplied values loosely match their declared types. Extra
// arguments pass through untouched; the backend applies its own full
// schema validation.
func validateArguments(params []capability.Param, args map[string]any) error {
	for _, p := range params {
		value, present := args[p.Name]
		if !present {
			if p.Required {
				return fmt.Errorf("missing required parameter %q", p.Name)
			}
			continue
		}
		if err := checkType(p.Type, value); err != nil {
			return fmt.Errorf("parameter %q: %w", p.Name, err)
		}
	}
	return nil
}

// validateRequiredStrings checks required parameters for prompt
// argument maps, which are string-valued by protocol.
func validateRequiredStrings(params []capability.Param, args map[string]string) error {
	for _, p := range params {
		if !p.Required {
			continue
		}
		if _, present := args[p.Name]; !present {
			return fmt.Errorf("missing required parameter %q", p.Name)
		}
	}
	return nil
}

// checkType verifies a decoded JSON value against a declared type.
// Null values pass: the backend decides whether null is acceptable.
func checkType(t capability.ParamType, value any) error {
	if value == nil || t == capability.TypeAny {
		return nil
	}
	switch t {
	case capability.TypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case capability.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case capability.TypeNumber:
		if !isNumeric(value) {
			return fmt.Errorf("expected number, got %T", value)
		}
	case capability.TypeInteger:
		if !isIntegral(value) {
			return fmt.Errorf("expected integer, got %T", value)
		}
	case capability.TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
	case capability.TypeArray:
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
	}
	return nil
}

func isNumeric(value any) bool {
	switch value.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

// isIntegral accepts integer types and floats with no fractional part,
// since JSON decoding yields float64 for all numbers.
func isIntegral(value any) bool {
	switch v := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return v == math.Trunc(v)
	case float32:
		return float64(v) == math.Trunc(float64(v))
	}
	return false
}
