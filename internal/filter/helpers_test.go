package filter

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/natsift/natsift/internal/config"
	"github.com/natsift/natsift/internal/matcher"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sensorSchema() *matcher.Schema {
	return matcher.NewSchema([]config.AttributeDef{
		{Name: "enabled", Type: config.TypeBoolean},
		{Name: "severity", Type: config.TypeInteger},
		{Name: "temperature", Type: config.TypeFloat},
		{Name: "location", Type: config.TypeString},
		{Name: "tags", Type: config.TypeStringList},
		{Name: "codes", Type: config.TypeIntegerList},
	})
}

func newManager(t *testing.T) *SubscriptionManager {
	t.Helper()
	m, err := NewSubscriptionManager(sensorSchema(), "out", discardLogger())
	require.NoError(t, err)
	return m
}
