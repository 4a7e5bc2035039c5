package backend

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKnownBackend(t *testing.T) {
	b, err := New("traefik", slog.Default())
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New("nginx", slog.Default())
	assert.ErrorContains(t, err, "unknown backend")
}
