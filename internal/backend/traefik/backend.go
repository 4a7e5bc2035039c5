// Package traefik generates dynamic file-provider config for Traefik from
// proxy intents. Traefik hot-reloads the file on change; the only contract
// with it is "valid structure, atomically replaced".
package traefik

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/melih/magicproxy/internal/core/domain"
	"github.com/melih/magicproxy/internal/core/ports"
)

// Backend implements ports.Backend for Traefik.
type Backend struct {
	log       *slog.Logger
	templates templates
	registry  *Registry
	history   *History
}

// New creates an uninitialized Traefik backend.
func New(log *slog.Logger) *Backend {
	return &Backend{log: log}
}

// Initialize loads the template files and prepares the registry. Must be
// called before any Add/Remove.
func (b *Backend) Initialize(cfg ports.BackendConfig) error {
	ts, err := loadTemplates(cfg.TemplatesDir)
	if err != nil {
		return err
	}
	b.templates = ts
	b.registry = NewRegistry(cfg.OutputFile, b.log)

	if cfg.HistoryDir != "" {
		history, err := OpenHistory(cfg.HistoryDir, b.log)
		if err != nil {
			return fmt.Errorf("failed to open config history: %w", err)
		}
		b.history = history
		b.registry.OnWrite = history.Record
	}

	b.log.Info("traefik backend initialized",
		"templates", len(ts), "output", cfg.OutputFile)
	return nil
}

// AddProxiedApp renders the entry's template and registers the fragment.
// A render failure skips this one app for the current pass; it does not
// block other apps from flushing. The flush itself runs debounced in the
// background so a convergence pass touching many apps produces one write.
func (b *Backend) AddProxiedApp(ctx context.Context, entry domain.HostEntry) error {
	frag, err := b.templates.render(entry.Identity, entry.Intent)
	if err != nil {
		return fmt.Errorf("failed to render config for %q: %w", entry.Identity, err)
	}

	b.registry.Register(entry.Identity, frag)
	b.flushAsync()
	return nil
}

// RemoveProxiedApp drops the app's fragment and schedules a flush.
func (b *Backend) RemoveProxiedApp(ctx context.Context, identity string) error {
	b.registry.Remove(identity)
	b.flushAsync()
	return nil
}

// Status reports the registered identities and the output file.
func (b *Backend) Status() ports.BackendStatus {
	if b.registry == nil {
		return ports.BackendStatus{}
	}
	return ports.BackendStatus{
		Registered: b.registry.Apps(),
		OutputFile: b.registry.OutputFile(),
	}
}

func (b *Backend) flushAsync() {
	go func() {
		if err := b.registry.Flush(); err != nil {
			b.log.Error("config flush failed", "error", err)
		}
	}()
}
