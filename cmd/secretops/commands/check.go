package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/secretops/secretops/internal/config"
	"github.com/secretops/secretops/internal/notify"
)

func NewCheckCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		Long: `Load and validate the configuration without starting workers.

This command checks:
- Configuration file validity
- Email settings, when configured
- Queue worker settings`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Logger.Info("Checking secretops configuration...")
			if err := cfg.Load(); err != nil {
				cfg.Logger.Error("Configuration error: %v", err)
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Logger.Info("✓ Configuration loaded successfully")

			def := cfg.Definition
			cfg.Logger.Info("  mode: %s", def.Mode)
			if def.SiteURL == "" {
				cfg.Logger.Warn("site_url is empty, notification links will be relative")
			}

			if def.Email != nil {
				mailer := notify.NewSMTPMailer(*def.Email, cfg.Logger)
				if err := mailer.Validate(); err != nil {
					cfg.Logger.Error("Email configuration error: %v", err)
					return fmt.Errorf("invalid email configuration: %w", err)
				}
				cfg.Logger.Info("✓ Email configuration valid (%s:%d)", def.Email.SMTP.Host, def.Email.SMTP.Port)
			} else {
				cfg.Logger.Warn("No email configuration, failure notifications will only be logged")
			}

			cfg.Logger.Info("✓ Rotation sweep every %s", def.Rotation.SweepInterval())
			cfg.Logger.Info("✓ Cleanup every %s", def.Cleanup.Interval())
			return nil
		},
	}

	return cmd
}
