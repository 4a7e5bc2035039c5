// Package backend selects the configured proxy backend.
package backend

import (
	"fmt"
	"log/slog"

	"github.com/melih/magicproxy/internal/backend/traefik"
	"github.com/melih/magicproxy/internal/core/ports"
)

// New returns the backend for the given name. Backends are enumerated here
// at compile time rather than dispatched dynamically.
func New(name string, log *slog.Logger) (ports.Backend, error) {
	switch name {
	case "traefik":
		return traefik.New(log), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
