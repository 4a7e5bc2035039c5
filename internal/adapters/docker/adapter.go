package docker

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/melih/magicproxy/internal/core/domain"
)

// Adapter implements ports.ContainerEngine using the Docker SDK.
type Adapter struct {
	cli *client.Client
}

// NewAdapter creates a new Docker adapter instance, connecting via the
// standard DOCKER_HOST environment.
func NewAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

// ListContainers returns all containers, including stopped ones, with their
// labels intact.
func (a *Adapter) ListContainers(ctx context.Context) ([]domain.Container, error) {
	containers, err := a.cli.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var result []domain.Container
	for _, c := range containers {
		// Docker reports names with a leading slash; keep it, identity
		// derivation strips it downstream.
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
		}

		result = append(result, domain.Container{
			ID:     c.ID[:12], // Short ID
			Name:   name,
			Image:  c.Image,
			State:  c.State,
			Labels: c.Labels,
		})
	}
	return result, nil
}

// Events subscribes to the daemon's container event stream and translates
// it into engine events. The returned channels end when the stream fails or
// the context is cancelled; callers resubscribe as needed.
func (a *Adapter) Events(ctx context.Context) (<-chan domain.EngineEvent, <-chan error) {
	out := make(chan domain.EngineEvent)
	errOut := make(chan error, 1)

	f := filters.NewArgs(filters.Arg("type", "container"))
	msgs, errs := a.cli.Events(ctx, types.EventsOptions{Filters: f})

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				if err == nil {
					err = errors.New("event stream closed")
				}
				errOut <- err
				return
			case m, ok := <-msgs:
				if !ok {
					errOut <- errors.New("event stream closed")
					return
				}
				ev := domain.EngineEvent{
					Action:        string(m.Action),
					ContainerID:   m.Actor.ID,
					ContainerName: m.Actor.Attributes["name"],
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errOut
}
