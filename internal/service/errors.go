// Package service implements the gateway's application logic: backend
// server lifecycle, capability projection, and call dispatch.
package service

import (
	"errors"
	"fmt"
)

// ErrNotStarted is returned when a capability call reaches a server
// that is not in the active state.
var ErrNotStarted = errors.New("server is not active")

// ErrAlreadyStarted is returned when Start is called on a server that
// has already been started.
var ErrAlreadyStarted = errors.New("server already started")

// ErrUnknownCapability is returned when a call names a capability the
// backend never advertised.
var ErrUnknownCapability = errors.New("unknown capability")

// LaunchError records why one backend server failed to start. The
// manager retains these so the status surface can report failed
// servers alongside active ones.
type LaunchError struct {
	// Server is the configured server name.
	Server string
	// Err is the underlying launch or handshake failure.
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("server %q failed to start: %v", e.Server, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
