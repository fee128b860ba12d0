package logging

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code0-tech/draco-adapter/internal/config"
)

func TestNewAcceptsKnownEnvironments(t *testing.T) {
	logger, err := New(config.Config{Environment: "production", Mode: "hybrid"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger, err = New(config.Config{Environment: "development", Mode: "static"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger, err = New(config.Config{})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewRejectsUnknownEnvironment(t *testing.T) {
	_, err := New(config.Config{Environment: "sandbox"})
	require.Error(t, err)
}

func TestNewTagsDracoVariant(t *testing.T) {
	logger, err := New(config.Config{Environment: "development", DracoVariant: "edge-1"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}
