// Package compose reads proxy intents out of docker compose files.
package compose

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/melih/magicproxy/internal/core/domain"
)

// ExtensionKey is the compose extension field carrying the proxy intent.
const ExtensionKey = "x-magic-proxy"

// ErrServiceNotFound is returned when the requested service is not defined
// in the compose file.
var ErrServiceNotFound = errors.New("service not defined in compose file")

// Document is one parsed compose file.
type Document struct {
	Path string
	// Raw is the full parsed document, retained as the host table snapshot.
	Raw      map[string]any
	services map[string]any
}

// Load reads and parses the compose file at path. It has no state; two loads
// of the same path are independent.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compose file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse compose file %s: %w", path, err)
	}

	services, _ := raw["services"].(map[string]any)
	return &Document{Path: path, Raw: raw, services: services}, nil
}

// IntentFor extracts the x-magic-proxy block declared by the named service.
//
// A service without the extension returns (nil, nil): declaring no intent is
// normal, not an error. A service missing from the document returns
// ErrServiceNotFound; callers must never fall back to another service's
// intent for a stale label.
func (d *Document) IntentFor(service string) (*domain.ProxyIntent, error) {
	svc, ok := d.services[service].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrServiceNotFound, service, d.Path)
	}

	ext, ok := svc[ExtensionKey]
	if !ok {
		return nil, nil
	}

	// Round-trip through YAML to decode the loosely typed extension block
	// into the intent struct.
	data, err := yaml.Marshal(ext)
	if err != nil {
		return nil, fmt.Errorf("invalid %s block for %q: %w", ExtensionKey, service, err)
	}
	var intent domain.ProxyIntent
	if err := yaml.Unmarshal(data, &intent); err != nil {
		return nil, fmt.Errorf("invalid %s block for %q: %w", ExtensionKey, service, err)
	}
	return &intent, nil
}
