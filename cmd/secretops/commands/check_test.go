package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/secretops/secretops/internal/config"
	"github.com/secretops/secretops/internal/logging"
)

func writeConfig(t *testing.T, def *config.Definition) *config.Config {
	t.Helper()

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "secretops.yaml")

	configBytes, err := yaml.Marshal(def)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, configBytes, 0644))

	return &config.Config{
		Path:   configPath,
		Logger: logging.New(false, true),
	}
}

func TestCheckCommand_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, &config.Definition{
		Version: 0,
		Mode:    config.ModeDevelopment,
		SiteURL: "https://secretops.test",
	})

	cmd := NewCheckCommand(cfg)
	require.NoError(t, cmd.Execute())
}

func TestCheckCommand_ValidEmailConfig(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, &config.Definition{
		Version: 0,
		Email: &config.EmailConfig{
			SMTP: config.SMTPConfig{Host: "smtp.test", Port: 587},
			From: "noreply@secretops.test",
		},
	})

	cmd := NewCheckCommand(cfg)
	require.NoError(t, cmd.Execute())
}

func TestCheckCommand_InvalidEmailConfig(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, &config.Definition{
		Version: 0,
		Email: &config.EmailConfig{
			SMTP: config.SMTPConfig{Host: "smtp.test"}, // missing port
			From: "noreply@secretops.test",
		},
	})

	cmd := NewCheckCommand(cfg)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email")
}

func TestCheckCommand_MissingConfigFile(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Path:   filepath.Join(t.TempDir(), "nope.yaml"),
		Logger: logging.New(false, true),
	}

	cmd := NewCheckCommand(cfg)
	assert.Error(t, cmd.Execute())
}
