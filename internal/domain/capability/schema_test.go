package capability

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestTagForType(t *testing.T) {
	tests := []struct {
		declared string
		want     ParamType
	}{
		{"string", TypeString},
		{"integer", TypeInteger},
		{"boolean", TypeBoolean},
		{"number", TypeNumber},
		{"object", TypeObject},
		{"array", TypeArray},
		{"", TypeAny},
		{"null", TypeAny},
		{"STRING", TypeAny},
	}
	for _, tt := range tests {
		if got := TagForType(tt.declared); got != tt.want {
			t.Errorf("TagForType(%q) = %q, want %q", tt.declared, got, tt.want)
		}
	}
}

func TestParamsFromJSONSchema(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Param
	}{
		{
			name: "typed properties with required",
			raw: `{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "file path"},
					"count": {"type": "integer"}
				},
				"required": ["path"]
			}`,
			want: []Param{
				{Name: "count", Type: TypeInteger},
				{Name: "path", Type: TypeString, Description: "file path", Required: true},
			},
		},
		{
			name: "undeclared type falls back to any",
			raw:  `{"properties": {"data": {}}}`,
			want: []Param{{Name: "data", Type: TypeAny}},
		},
		{
			name: "empty schema",
			raw:  `{}`,
			want: []Param{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParamsFromJSONSchema(json.RawMessage(tt.raw))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParamsFromJSONSchema() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParamsFromJSONSchemaNeverFails(t *testing.T) {
	for _, raw := range []string{"", "not json", `"a string"`, `[1,2]`} {
		if got := ParamsFromJSONSchema(json.RawMessage(raw)); len(got) != 0 {
			t.Errorf("ParamsFromJSONSchema(%q) = %#v, want empty", raw, got)
		}
	}
}

func TestJSONSchemaFromParams(t *testing.T) {
	params := []Param{
		{Name: "path", Type: TypeString, Description: "file path", Required: true},
		{Name: "data", Type: TypeAny},
	}
	schema := JSONSchemaFromParams(params)

	if schema["type"] != "object" {
		t.Errorf("schema type = %v, want object", schema["type"])
	}
	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties type = %T, want map[string]any", schema["properties"])
	}
	path, ok := properties["path"].(map[string]any)
	if !ok || path["type"] != "string" || path["description"] != "file path" {
		t.Errorf("path property = %#v", properties["path"])
	}
	// TypeAny carries no type constraint.
	data, ok := properties["data"].(map[string]any)
	if !ok {
		t.Fatalf("data property = %#v", properties["data"])
	}
	if _, present := data["type"]; present {
		t.Errorf("data property should have no type constraint, got %#v", data)
	}
	if required, _ := schema["required"].([]string); !reflect.DeepEqual(required, []string{"path"}) {
		t.Errorf("required = %#v, want [path]", schema["required"])
	}
}

func TestJSONSchemaFromParamsEmpty(t *testing.T) {
	schema := JSONSchemaFromParams(nil)
	if _, present := schema["required"]; present {
		t.Error("empty parameter list should not emit a required array")
	}
}

func TestSchemaRoundTripStaysStable(t *testing.T) {
	params := []Param{
		{Name: "a", Type: TypeString, Required: true},
		{Name: "b", Type: TypeNumber},
	}
	encoded, err := json.Marshal(JSONSchemaFromParams(params))
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	if got := ParamsFromJSONSchema(encoded); !reflect.DeepEqual(got, params) {
		t.Errorf("round trip = %#v, want %#v", got, params)
	}
}
