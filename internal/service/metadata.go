package service

import (
	"encoding/json"

	"github.com/relaygate/relaygate/internal/domain/upstream"
)

// CapabilityReport describes one capability in the metadata surface.
// Name, Description, InputSchema, and Arguments are the backend's
// originals, dumped untouched. ProjectedName is the namespaced name the
// gateway exposes for it, empty when a conflict kept the capability out
// of the projection.
type CapabilityReport struct {
	Name          string           `json:"name"`
	ProjectedName string           `json:"projected_name,omitempty"`
	Description   string           `json:"description,omitempty"`
	InputSchema   map[string]any   `json:"input_schema,omitempty"`
	Arguments     []ArgumentReport `json:"arguments,omitempty"`
}

// ArgumentReport describes one declared prompt argument.
type ArgumentReport struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ResourceReport describes one advertised resource.
type ResourceReport struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// ServerReport describes one configured backend server, active or not.
// Status is the coarse availability classification (active, inactive,
// or error); State is the underlying lifecycle state.
type ServerReport struct {
	Name      string             `json:"name"`
	Status    string             `json:"status"`
	State     string             `json:"state"`
	Error     string             `json:"error,omitempty"`
	Tools     []CapabilityReport `json:"tools,omitempty"`
	Prompts   []CapabilityReport `json:"prompts,omitempty"`
	Resources []ResourceReport   `json:"resources,omitempty"`
}

// ConflictReport describes a projection name collision.
type ConflictReport struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Winner string `json:"winner"`
	Loser  string `json:"loser"`
}

// MetadataReport is the full gateway status surface: every configured
// server including the ones that failed to start, and any projection
// conflicts.
type MetadataReport struct {
	Servers   []ServerReport   `json:"servers"`
	Conflicts []ConflictReport `json:"conflicts,omitempty"`
}

// BuildMetadata assembles the metadata report. Active servers are
// reported from their capability snapshots, so tool schemas and prompt
// argument lists appear exactly as the backend declared them, with the
// projected name attached from the dispatch tables.
func BuildMetadata(manager *ServerManager, projector *Projector) *MetadataReport {
	report := &MetadataReport{}

	projectedTools := projectedNames(projector.Tools())
	projectedPrompts := projectedNames(projector.Prompts())

	for _, name := range manager.ConfiguredNames() {
		sr := ServerReport{Name: name}
		if srv, ok := manager.Server(name); ok {
			sr.State = srv.State().String()

			for _, tool := range srv.Tools() {
				sr.Tools = append(sr.Tools, CapabilityReport{
					Name:          tool.Name,
					ProjectedName: projectedTools[name][tool.Name],
					Description:   tool.Description,
					InputSchema:   schemaDump(tool.InputSchema),
				})
			}
			for _, prompt := range srv.Prompts() {
				cr := CapabilityReport{
					Name:          prompt.Name,
					ProjectedName: projectedPrompts[name][prompt.Name],
					Description:   prompt.Description,
				}
				for _, arg := range prompt.Arguments {
					cr.Arguments = append(cr.Arguments, ArgumentReport{
						Name:        arg.Name,
						Description: arg.Description,
						Required:    arg.Required,
					})
				}
				sr.Prompts = append(sr.Prompts, cr)
			}
			for _, res := range srv.Resources() {
				sr.Resources = append(sr.Resources, ResourceReport{
					URI:         res.URI,
					Name:        res.Name,
					Description: res.Description,
					MimeType:    res.MIMEType,
				})
			}
		} else if launchErr, failed := manager.Failure(name); failed {
			sr.State = upstream.StateFailed.String()
			sr.Error = launchErr.Err.Error()
		} else {
			sr.State = upstream.StateUninitialized.String()
		}
		sr.Status = statusFor(sr.State)
		report.Servers = append(report.Servers, sr)
	}

	for _, c := range projector.Conflicts() {
		report.Conflicts = append(report.Conflicts, ConflictReport{
			Name:   c.Name,
			Kind:   c.Kind.String(),
			Winner: c.Winner,
			Loser:  c.Loser,
		})
	}

	return report
}

// projectedNames indexes dispatch descriptors by server and original
// capability name, so the report can attach the exposed name to each
// dumped original.
func projectedNames(descs []*HandlerDescriptor) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, desc := range descs {
		byCapability := out[desc.Server]
		if byCapability == nil {
			byCapability = make(map[string]string)
			out[desc.Server] = byCapability
		}
		byCapability[desc.Capability] = desc.Name
	}
	return out
}

// schemaDump renders a backend-provided schema as a plain map,
// preserving every constraint the backend declared. The SDK surfaces
// schemas as untyped values, so this goes through one JSON round trip.
func schemaDump(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	raw, ok := schema.(json.RawMessage)
	if !ok {
		encoded, err := json.Marshal(schema)
		if err != nil {
			return nil
		}
		raw = encoded
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// statusFor collapses a lifecycle state into the coarse status
// classification.
func statusFor(state string) string {
	switch state {
	case upstream.StateActive.String():
		return "active"
	case upstream.StateFailed.String():
		return "error"
	default:
		return "inactive"
	}
}
