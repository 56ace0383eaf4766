package capability

import (
	"encoding/json"
	"sort"
)

// typeTags maps JSON Schema primitive type names to semantic type tags.
// Anything not listed here projects to TypeAny.
var typeTags = map[string]ParamType{
	"string":  TypeString,
	"integer": TypeInteger,
	"boolean": TypeBoolean,
	"number":  TypeNumber,
	"object":  TypeObject,
	"array":   TypeArray,
}

// TagForType returns the semantic type tag for a declared JSON Schema type.
// Unknown or empty declarations fall back to TypeAny.
func TagForType(declared string) ParamType {
	if t, ok := typeTags[declared]; ok {
		return t
	}
	return TypeAny
}

// ParamsFromJSONSchema derives the projected parameter list from a
// JSON-Schema-like input schema ({"properties": {...}, "required": [...]}).
// Schema synthesis must never fail projection of an otherwise-valid
// capability: malformed or absent schemas yield an empty parameter list,
// and unrecognized property types fall back to TypeAny.
// Parameters are returned sorted by name for deterministic projection.
func ParamsFromJSONSchema(raw json.RawMessage) []Param {
	if len(raw) == 0 {
		return nil
	}

	var schema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	params := make([]Param, 0, len(schema.Properties))
	for name, prop := range schema.Properties {
		params = append(params, Param{
			Name:        name,
			Type:        TagForType(prop.Type),
			Description: prop.Description,
			Required:    required[name],
		})
	}

	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params
}

// JSONSchemaFromParams builds a JSON-Schema object document for a projected
// parameter list, suitable for advertising the capability to callers.
// TypeAny parameters are emitted without a type constraint.
func JSONSchemaFromParams(params []Param) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string

	for _, p := range params {
		prop := make(map[string]any, 2)
		if p.Type != TypeAny {
			prop["type"] = string(p.Type)
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sort.Strings(required)
		schema["required"] = required
	}
	return schema
}
