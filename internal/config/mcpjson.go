package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// mcpJSONFile mirrors the de-facto mcp.json layout used by MCP client
// applications.
type mcpJSONFile struct {
	MCPServers map[string]mcpJSONServer `json:"mcpServers"`
}

type mcpJSONServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// MergeMCPJSON reads an mcp.json file and merges its servers into the
// configuration. Servers already defined in the YAML config keep their
// definition; only new names are added.
func MergeMCPJSON(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var file mcpJSONFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(file.MCPServers) == 0 {
		return fmt.Errorf("%s defines no servers under mcpServers", path)
	}

	if cfg.Servers == nil {
		cfg.Servers = make(map[string]ServerConfig, len(file.MCPServers))
	}
	for name, sc := range file.MCPServers {
		if _, exists := cfg.Servers[name]; exists {
			continue
		}
		cfg.Servers[name] = ServerConfig{
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
		}
	}

	return cfg.Validate()
}
