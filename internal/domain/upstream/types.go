// Package upstream contains domain types for proxied MCP server
// configuration and lifecycle state.
package upstream

import (
	"fmt"
	"regexp"
)

// State represents the lifecycle state of a proxied server connection.
type State string

const (
	// StateUninitialized indicates the server has been created but never started.
	StateUninitialized State = "uninitialized"
	// StateStarting indicates a launch and handshake are in progress.
	StateStarting State = "starting"
	// StateActive indicates the server is connected and serving calls.
	StateActive State = "active"
	// StateStopped indicates the server was stopped and its resources released.
	StateStopped State = "stopped"
	// StateFailed indicates launch or handshake failed. Reachable only from
	// StateStarting.
	StateFailed State = "failed"
)

// String returns the string representation of the State.
func (s State) String() string {
	return string(s)
}

// namePattern allows alphanumeric, hyphens, and underscores.
// Spaces are excluded: server names become handler-name prefixes.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// nameMaxLength is the maximum allowed length for a server name.
const nameMaxLength = 100

// Descriptor describes how to launch one proxied MCP server.
// Descriptors are immutable and supplied by the configuration layer.
type Descriptor struct {
	// Name is the unique identifier for this server. It is used as the
	// namespace prefix for projected handler names.
	Name string
	// Command is the executable to launch.
	Command string
	// Args are the command-line arguments passed to the executable.
	Args []string
	// Env holds environment variable overrides for the subprocess.
	Env map[string]string
}

// Validate checks that the descriptor has valid configuration.
// Returns nil if valid, or an error describing the first validation failure.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(d.Name) > nameMaxLength {
		return fmt.Errorf("name must be %d characters or less", nameMaxLength)
	}
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("name contains invalid characters (allowed: alphanumeric, hyphens, underscores)")
	}
	if d.Command == "" {
		return fmt.Errorf("command is required")
	}
	return nil
}

// Clone returns a deep copy of the descriptor to prevent external mutation.
func (d *Descriptor) Clone() *Descriptor {
	c := &Descriptor{
		Name:    d.Name,
		Command: d.Command,
	}
	if d.Args != nil {
		c.Args = make([]string, len(d.Args))
		copy(c.Args, d.Args)
	}
	if d.Env != nil {
		c.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			c.Env[k] = v
		}
	}
	return c
}
