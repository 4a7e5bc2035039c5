package domain

// Container represents a container observed in the engine (Docker, Podman, etc.)
type Container struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Image  string            `json:"image"`
	State  string            `json:"state"` // running, exited, etc.
	Labels map[string]string `json:"labels"`
}

// EngineEvent is one container lifecycle event from the engine's stream.
type EngineEvent struct {
	Action        string `json:"action"`
	ContainerID   string `json:"containerId"`
	ContainerName string `json:"containerName"`
}
