package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secretops/secretops/internal/config"
	"github.com/secretops/secretops/internal/logging"
)

func TestBuildServiceWiresQueues(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, &config.Definition{
		Version: 0,
		Mode:    config.ModeDevelopment,
		SiteURL: "https://secretops.test",
	})
	require.NoError(t, cfg.Load())

	service, err := buildService(cfg)
	require.NoError(t, err)

	// The cleanup queue must sweep the expiring resources, not run
	// over an empty store set.
	assert.ElementsMatch(t,
		[]string{"audit-log", "auth-token", "shared-secret"},
		service.cleanup.Resources())

	require.NoError(t, service.start())
	service.stop()
}

func TestBuildServiceRejectsInvalidEmail(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Logger: logging.New(false, true),
		Definition: &config.Definition{
			Mode: config.ModeProduction,
			Email: &config.EmailConfig{
				From: "noreply@secretops.test", // missing SMTP host and port
			},
		},
	}

	_, err := buildService(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email")
}
