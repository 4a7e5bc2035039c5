package ports

import (
	"context"

	"github.com/melih/magicproxy/internal/core/domain"
)

// BackendConfig carries the settings a backend needs at initialization.
type BackendConfig struct {
	// TemplatesDir holds the config templates, loaded by base filename.
	TemplatesDir string
	// OutputFile is the generated dynamic config file path.
	OutputFile string
	// HistoryDir, when non-empty, enables the git-backed config history.
	HistoryDir string
}

// BackendStatus is the read-only state a backend exposes.
type BackendStatus struct {
	Registered []string `json:"registered"`
	OutputFile string   `json:"outputFile"`
}

// Backend is the seam between the host table's event stream and one
// concrete downstream proxy engine.
type Backend interface {
	Initialize(cfg BackendConfig) error
	AddProxiedApp(ctx context.Context, entry domain.HostEntry) error
	RemoveProxiedApp(ctx context.Context, identity string) error
	Status() BackendStatus
}
