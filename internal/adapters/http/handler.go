package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/melih/magicproxy/internal/core/hostdb"
	"github.com/melih/magicproxy/internal/core/ports"
)

// StatusHandler exposes the controller's state read-only. There is no
// mutating surface: the container engine and the compose files are the only
// inputs.
type StatusHandler struct {
	db      *hostdb.DB
	backend ports.Backend
	state   func() string
}

// NewStatusHandler creates the handler. state reports the provider's
// lifecycle state.
func NewStatusHandler(db *hostdb.DB, backend ports.Backend, state func() string) *StatusHandler {
	return &StatusHandler{db: db, backend: backend, state: state}
}

// GetStatus reports the provider state and the backend's registered apps.
func (h *StatusHandler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"provider": h.state(),
		"backend":  h.backend.Status(),
	})
}

// ListHosts returns the host table in insertion order.
func (h *StatusHandler) ListHosts(c *fiber.Ctx) error {
	return c.JSON(h.db.List())
}

// Healthz is a liveness probe.
func (h *StatusHandler) Healthz(c *fiber.Ctx) error {
	return c.SendString("ok")
}
