package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/secretops/secretops/internal/logging"
)

// TestSecretRedactionInLogs verifies secret values never reach log output.
func TestSecretRedactionInLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(true, true)
	logger.SetOutput(&buf)

	secretValue := "super-secret-password-12345"

	logger.Info("retrieved credential: %s", logging.Secret(secretValue))
	logger.Error("rotation failed for: %s", logging.Secret(secretValue))
	logger.Debug("raw payload: %s", logging.Secret(secretValue))

	output := buf.String()
	assert.NotContains(t, output, secretValue, "log must not contain actual secret value")
	assert.Equal(t, 3, strings.Count(output, "[REDACTED]"))
}

func TestSecretStringAndGoString(t *testing.T) {
	t.Parallel()

	secret := logging.Secret("test-secret-value")

	assert.Equal(t, "[REDACTED]", secret.String())
	assert.Equal(t, "[REDACTED]", secret.GoString())
}

func TestRedactFunction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single_secret",
			input:    "password is secret123",
			secrets:  []string{"secret123"},
			expected: "password is [REDACTED]",
		},
		{
			name:     "multiple_secrets",
			input:    "user:admin password:secret123 token:xyz789",
			secrets:  []string{"admin", "secret123", "xyz789"},
			expected: "user:[REDACTED] password:[REDACTED] token:[REDACTED]",
		},
		{
			name:     "short_secrets_not_redacted",
			input:    "value is abc",
			secrets:  []string{"abc"},
			expected: "value is abc",
		},
		{
			name:     "empty_secret_ignored",
			input:    "value is test",
			secrets:  []string{""},
			expected: "value is test",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, logging.Redact(tt.input, tt.secrets))
		})
	}
}

func TestNonSecretDataNotRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(false, true)
	logger.SetOutput(&buf)

	logger.Info("destination: %s, token: %s", "aws-secrets-manager", logging.Secret("private-secret-123"))

	output := buf.String()
	assert.Contains(t, output, "aws-secrets-manager")
	assert.Contains(t, output, "[REDACTED]")
	assert.NotContains(t, output, "private-secret-123")
}
