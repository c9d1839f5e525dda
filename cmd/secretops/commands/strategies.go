package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/secretops/secretops/internal/config"
	"github.com/secretops/secretops/internal/rotation"
)

func NewStrategiesCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "List supported rotation strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := rotation.NewRegistry()
			registry.Register(rotation.NewRandomTokenRotator(cfg.Logger))
			registry.Register(rotation.NewSQLCredentialsRotator(cfg.Logger))
			registry.Register(rotation.NewAWSIAMRotator(cfg.Logger))

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "STRATEGY\tDESCRIPTION\n")
			_, _ = fmt.Fprintf(w, "--------\t-----------\n")
			for _, strategy := range registry.Strategies() {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", strategy, strategyDescription(strategy))
			}
			return w.Flush()
		},
	}

	return cmd
}

func strategyDescription(strategy string) string {
	descriptions := map[string]string{
		"random-token":    "Generate a fresh random token",
		"sql-credentials": "Cycle a PostgreSQL or MySQL login between two users",
		"aws-iam-user":    "Rotate an IAM user's access keys",
	}
	if description, ok := descriptions[strategy]; ok {
		return description
	}
	return "No description available"
}
