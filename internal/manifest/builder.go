// Package manifest turns the engine's container listing into the complete,
// validated set of proxy intents for one discovery pass.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/melih/magicproxy/internal/compose"
	"github.com/melih/magicproxy/internal/core/domain"
	"github.com/melih/magicproxy/internal/core/ports"
)

// Compose labels the engine attaches to compose-managed containers.
const (
	// LabelConfigFiles holds the compose file path(s) that produced the
	// container, comma separated when the project used multiple files.
	LabelConfigFiles = "com.docker.compose.project.config_files"
	// LabelService holds the service name within that file.
	LabelService = "com.docker.compose.service"
)

// Manifest is the outcome of one discovery pass.
type Manifest struct {
	Entries []domain.ManifestEntry
	// SourceFiles is every compose file referenced by a labeled container,
	// readable or not; the provider watches these.
	SourceFiles []string
}

// Identities returns the set of identities present in the manifest.
func (m *Manifest) Identities() map[string]struct{} {
	ids := make(map[string]struct{}, len(m.Entries))
	for _, e := range m.Entries {
		ids[e.Identity] = struct{}{}
	}
	return ids
}

// Builder builds manifests from the container engine.
type Builder struct {
	engine ports.ContainerEngine
	log    *slog.Logger
}

// NewBuilder creates a manifest builder.
func NewBuilder(engine ports.ContainerEngine, log *slog.Logger) *Builder {
	return &Builder{engine: engine, log: log}
}

// Build lists all containers (including stopped ones), groups them by their
// compose file, reads each file once, and validates every declared intent.
//
// One bad container never aborts the batch: failures are recorded in the
// report and processing continues for siblings. Build only errors when the
// engine listing itself fails.
func (b *Builder) Build(ctx context.Context) (*Manifest, domain.ProcessingReport, error) {
	containers, err := b.engine.ListContainers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list containers: %w", err)
	}

	report := make(domain.ProcessingReport)

	labeled := lo.Filter(containers, func(c domain.Container, _ int) bool {
		if _, ok := c.Labels[LabelConfigFiles]; ok {
			return true
		}
		b.log.Debug("container has no compose file label, skipping", "container", c.Name)
		report.Set(domain.ReportNoSource, c.Name, domain.StatusNoSourceLabel)
		return false
	})

	groups := lo.GroupBy(labeled, func(c domain.Container) string {
		return sourceFile(c.Labels[LabelConfigFiles])
	})

	manifest := &Manifest{SourceFiles: lo.Keys(groups)}

	// Each group reads one independent file; parallelizing across groups
	// is safe.
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for path, group := range groups {
		g.Go(func() error {
			entries := b.processGroup(path, group, report, &mu)
			mu.Lock()
			manifest.Entries = append(manifest.Entries, entries...)
			mu.Unlock()
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return manifest, report, nil
}

func (b *Builder) processGroup(path string, group []domain.Container, report domain.ProcessingReport, mu *sync.Mutex) []domain.ManifestEntry {
	record := func(container, status string) {
		mu.Lock()
		report.Set(path, container, status)
		mu.Unlock()
	}

	doc, err := compose.Load(path)
	if err != nil {
		b.log.Warn("failed to read compose file", "path", path, "error", err)
		for _, c := range group {
			record(c.Name, fmt.Sprintf("%s: %v", domain.StatusFileUnreadable, err))
		}
		return nil
	}

	var entries []domain.ManifestEntry
	for _, c := range group {
		service, ok := c.Labels[LabelService]
		if !ok {
			b.log.Warn("container has no compose service label", "container", c.Name)
			record(c.Name, domain.StatusNoServiceLabel)
			continue
		}

		intent, err := doc.IntentFor(service)
		if errors.Is(err, compose.ErrServiceNotFound) {
			// The stale-label case: a container whose service was removed
			// from the file must never inherit another service's intent.
			b.log.Warn("service no longer defined in compose file",
				"container", c.Name, "service", service, "error", err)
			record(c.Name, domain.StatusNotFound)
			continue
		}
		if err != nil {
			b.log.Warn("malformed proxy intent block",
				"container", c.Name, "service", service, "error", err)
			record(c.Name, fmt.Sprintf("%s: %v", domain.StatusInvalidIntent, err))
			continue
		}
		if intent == nil {
			record(c.Name, domain.StatusNoIntent)
			continue
		}

		if err := compose.ValidateIntent(intent); err != nil {
			b.log.Warn("rejecting invalid proxy intent",
				"container", c.Name, "service", service, "error", err)
			record(c.Name, fmt.Sprintf("%s: %v", domain.StatusInvalidIntent, err))
			continue
		}

		entries = append(entries, domain.ManifestEntry{
			Identity:           identityFor(c),
			Intent:             *intent,
			SourceFilePath:     path,
			SourceFileSnapshot: doc.Raw,
			DiscoveredAt:       time.Now(),
		})
		record(c.Name, domain.StatusOK)
	}
	return entries
}

// identityFor derives the table identity from the container name, with the
// engine's leading separator stripped.
func identityFor(c domain.Container) string {
	return strings.TrimPrefix(c.Name, "/")
}

// sourceFile resolves the config-files label to a single path. Compose joins
// multiple -f files with commas; the first one is the project's primary file.
func sourceFile(label string) string {
	if i := strings.IndexByte(label, ','); i >= 0 {
		return label[:i]
	}
	return label
}
