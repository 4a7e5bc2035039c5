package manifest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/magicproxy/internal/core/domain"
)

type fakeEngine struct {
	containers []domain.Container
	listErr    error
}

func (f *fakeEngine) ListContainers(ctx context.Context) ([]domain.Container, error) {
	return f.containers, f.listErr
}

func (f *fakeEngine) Events(ctx context.Context) (<-chan domain.EngineEvent, <-chan error) {
	return make(chan domain.EngineEvent), make(chan error)
}

func writeCompose(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func composeContainer(name, file, service string) domain.Container {
	return domain.Container{
		ID:    "abc123def456",
		Name:  name,
		State: "running",
		Labels: map[string]string{
			LabelConfigFiles: file,
			LabelService:     service,
		},
	}
}

const webCompose = `
services:
  web:
    x-magic-proxy:
      template: node
      target: http://web:3000
      hostname: web.example.com
  plain:
    image: busybox
  broken:
    x-magic-proxy:
      template: node
      target: not-a-url
      hostname: broken.example.com
`

func TestBuild(t *testing.T) {
	file := writeCompose(t, webCompose)
	engine := &fakeEngine{containers: []domain.Container{
		composeContainer("/acme-web-1", file, "web"),
		composeContainer("/acme-plain-1", file, "plain"),
		composeContainer("/acme-broken-1", file, "broken"),
		{ID: "f00", Name: "/standalone", Labels: map[string]string{}},
	}}

	m, report, err := NewBuilder(engine, slog.Default()).Build(context.Background())
	require.NoError(t, err)

	require.Len(t, m.Entries, 1)
	entry := m.Entries[0]
	assert.Equal(t, "acme-web-1", entry.Identity)
	assert.Equal(t, "web.example.com", entry.Intent.Hostname)
	assert.Equal(t, file, entry.SourceFilePath)
	assert.NotNil(t, entry.SourceFileSnapshot)
	assert.False(t, entry.DiscoveredAt.IsZero())

	assert.Equal(t, domain.StatusOK, report.Get(file, "/acme-web-1"))
	assert.Equal(t, domain.StatusNoIntent, report.Get(file, "/acme-plain-1"))
	assert.Contains(t, report.Get(file, "/acme-broken-1"), domain.StatusInvalidIntent)
	assert.Equal(t, domain.StatusNoSourceLabel, report.Get(domain.ReportNoSource, "/standalone"))

	assert.Equal(t, []string{file}, m.SourceFiles)
}

func TestBuildStaleServiceLabel(t *testing.T) {
	// The container's label still says "old", but the file only defines
	// "web". The result must be "not found", never web's intent.
	file := writeCompose(t, webCompose)
	engine := &fakeEngine{containers: []domain.Container{
		composeContainer("/acme-old-1", file, "old"),
	}}

	m, report, err := NewBuilder(engine, slog.Default()).Build(context.Background())
	require.NoError(t, err)

	assert.Empty(t, m.Entries)
	assert.Equal(t, domain.StatusNotFound, report.Get(file, "/acme-old-1"))
}

func TestBuildMalformedExtensionBlock(t *testing.T) {
	// The service exists but its extension block is a scalar, not a map:
	// that is an invalid intent, not a missing service.
	file := writeCompose(t, `
services:
  web:
    x-magic-proxy: just-a-string
`)
	engine := &fakeEngine{containers: []domain.Container{
		composeContainer("/acme-web-1", file, "web"),
	}}

	m, report, err := NewBuilder(engine, slog.Default()).Build(context.Background())
	require.NoError(t, err)

	assert.Empty(t, m.Entries)
	status := report.Get(file, "/acme-web-1")
	assert.Contains(t, status, domain.StatusInvalidIntent)
	assert.NotEqual(t, domain.StatusNotFound, status)
}

func TestBuildUnreadableFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.yml")
	good := writeCompose(t, webCompose)
	engine := &fakeEngine{containers: []domain.Container{
		composeContainer("/acme-a-1", missing, "web"),
		composeContainer("/acme-web-1", good, "web"),
	}}

	m, report, err := NewBuilder(engine, slog.Default()).Build(context.Background())
	require.NoError(t, err)

	// The unreadable file fails its containers but not the batch.
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "acme-web-1", m.Entries[0].Identity)
	assert.Contains(t, report.Get(missing, "/acme-a-1"), domain.StatusFileUnreadable)
}

func TestBuildMissingServiceLabel(t *testing.T) {
	file := writeCompose(t, webCompose)
	c := composeContainer("/acme-web-1", file, "web")
	delete(c.Labels, LabelService)
	engine := &fakeEngine{containers: []domain.Container{c}}

	m, report, err := NewBuilder(engine, slog.Default()).Build(context.Background())
	require.NoError(t, err)

	assert.Empty(t, m.Entries)
	assert.Equal(t, domain.StatusNoServiceLabel, report.Get(file, "/acme-web-1"))
}

func TestBuildListFailure(t *testing.T) {
	engine := &fakeEngine{listErr: errors.New("engine unreachable")}

	_, _, err := NewBuilder(engine, slog.Default()).Build(context.Background())
	assert.Error(t, err)
}

func TestSourceFileMultiValueLabel(t *testing.T) {
	assert.Equal(t, "/a/compose.yml", sourceFile("/a/compose.yml,/a/override.yml"))
	assert.Equal(t, "/a/compose.yml", sourceFile("/a/compose.yml"))
}
