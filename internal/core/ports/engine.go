package ports

import (
	"context"

	"github.com/melih/magicproxy/internal/core/domain"
)

// ContainerEngine defines the read-only view of the container engine the
// controller needs. This interface allows us to switch between Docker,
// Podman, or a fake in tests without changing the sync logic.
type ContainerEngine interface {
	// ListContainers returns all containers, including stopped ones, with
	// their labels.
	ListContainers(ctx context.Context) ([]domain.Container, error)

	// Events subscribes to the engine's container lifecycle event stream.
	// The event channel is closed when the stream ends; the error channel
	// delivers the terminal stream error, if any. Callers are expected to
	// resubscribe on failure.
	Events(ctx context.Context) (<-chan domain.EngineEvent, <-chan error)
}
