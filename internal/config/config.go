package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	soerrors "github.com/secretops/secretops/internal/errors"
	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/pkg/jobs"
)

// Modes select interval semantics for schedulers. Development mode
// compresses rotation intervals so a full cycle is observable in
// seconds instead of days.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the secretops.yaml structure
type Definition struct {
	Version int    `yaml:"version"`
	Mode    string `yaml:"mode,omitempty"`

	// SiteURL is the base URL used to build links in notification
	// emails.
	SiteURL string `yaml:"site_url,omitempty"`

	Queues   QueuesConfig   `yaml:"queues,omitempty"`
	Email    *EmailConfig   `yaml:"email,omitempty"`
	Rotation RotationConfig `yaml:"rotation,omitempty"`
	Cleanup  CleanupConfig  `yaml:"cleanup,omitempty"`
}

// QueuesConfig tunes the worker pools per queue.
type QueuesConfig struct {
	Sync     QueueConfig `yaml:"sync,omitempty"`
	Rotation QueueConfig `yaml:"rotation,omitempty"`
	Reminder QueueConfig `yaml:"reminder,omitempty"`
	Cleanup  QueueConfig `yaml:"cleanup,omitempty"`
}

// QueueConfig holds a single queue's worker pool settings.
type QueueConfig struct {
	Workers        int `yaml:"workers,omitempty"`
	BatchSize      int `yaml:"batch_size,omitempty"`
	PollIntervalMs int `yaml:"poll_interval_ms,omitempty"`
}

// WorkerOptions converts the queue settings into runner options.
// Zero fields fall back to the runner's defaults.
func (q QueueConfig) WorkerOptions() jobs.WorkerOptions {
	return jobs.WorkerOptions{
		BatchSize:    q.BatchSize,
		WorkerCount:  q.Workers,
		PollInterval: time.Duration(q.PollIntervalMs) * time.Millisecond,
	}
}

// EmailConfig holds SMTP delivery settings for notification mail.
type EmailConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`

	// From is the sender email address.
	From string `yaml:"from"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	TLS      bool   `yaml:"tls,omitempty"`
}

// RotationConfig tunes the rotation scheduler.
type RotationConfig struct {
	// DisableErrors stops a credential's repeatable rotation job
	// after an unrecoverable failure instead of leaving it to fail
	// every interval.
	DisableErrors bool `yaml:"disable_errors,omitempty"`

	// SweepIntervalMinutes is how often the scheduler looks for
	// credentials past their rotation deadline. Default 15.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes,omitempty"`
}

// SweepInterval returns the sweep cadence with the default applied.
func (r RotationConfig) SweepInterval() time.Duration {
	if r.SweepIntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(r.SweepIntervalMinutes) * time.Minute
}

// CleanupConfig tunes the resource cleanup scheduler.
type CleanupConfig struct {
	// IntervalHours is how often expired resources are purged.
	// Default 24.
	IntervalHours int `yaml:"interval_hours,omitempty"`
}

// Interval returns the cleanup cadence with the default applied.
func (c CleanupConfig) Interval() time.Duration {
	if c.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.IntervalHours) * time.Hour
}

// Load reads and parses the secretops.yaml file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return soerrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create a secretops.yaml or pass --config with the file's location",
			}
		}
		return soerrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return soerrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	if def.Version != 0 {
		return soerrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your secretops.yaml file",
		}
	}

	switch def.Mode {
	case "":
		def.Mode = ModeProduction
	case ModeProduction, ModeDevelopment:
	default:
		return soerrors.ConfigError{
			Field:      "mode",
			Value:      def.Mode,
			Message:    "unknown mode",
			Suggestion: "Use 'production' or 'development'",
		}
	}

	c.Definition = &def
	return nil
}

// IsDevelopment reports whether the loaded configuration runs in
// development mode.
func (c *Config) IsDevelopment() bool {
	return c.Definition != nil && c.Definition.Mode == ModeDevelopment
}
