// Package capability contains domain types for capabilities exposed by
// proxied MCP servers: tools, resources, and prompts, plus the semantic
// parameter shapes the gateway projects from backend-declared schemas.
package capability

// Kind identifies the kind of capability being invoked.
type Kind string

const (
	// KindTool represents an MCP tool invocation.
	KindTool Kind = "tool"
	// KindResource represents an MCP resource read.
	KindResource Kind = "resource"
	// KindPrompt represents an MCP prompt retrieval.
	KindPrompt Kind = "prompt"
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// ParamType is the semantic type tag for a projected parameter.
type ParamType string

const (
	// TypeString is a JSON string parameter.
	TypeString ParamType = "string"
	// TypeInteger is a JSON integer parameter.
	TypeInteger ParamType = "integer"
	// TypeBoolean is a JSON boolean parameter.
	TypeBoolean ParamType = "boolean"
	// TypeNumber is a JSON number parameter.
	TypeNumber ParamType = "number"
	// TypeObject is a generic key/value mapping.
	TypeObject ParamType = "object"
	// TypeArray is an ordered sequence of any.
	TypeArray ParamType = "array"
	// TypeAny is the fallback for undeclared or unrecognized types.
	TypeAny ParamType = "any"
)

// Param describes one projected capability parameter.
type Param struct {
	// Name is the parameter name as declared by the backend.
	Name string
	// Type is the semantic type tag derived from the declared schema.
	Type ParamType
	// Description is the backend-declared description, if any.
	Description string
	// Required indicates the backend listed this parameter as required.
	Required bool
}
