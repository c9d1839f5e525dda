package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/secretops/secretops/internal/config"
	"github.com/secretops/secretops/internal/destinations"
)

func NewDestinationsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destinations",
		Short: "List supported sync destinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := destinations.NewDefaultRegistry(cfg.Logger)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "TYPE\tDESCRIPTION\n")
			_, _ = fmt.Fprintf(w, "----\t-----------\n")
			for _, destinationType := range registry.Types() {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", destinationType, destinationDescription(destinationType))
			}
			return w.Flush()
		},
	}

	return cmd
}

func destinationDescription(destinationType string) string {
	descriptions := map[string]string{
		destinations.TypeOnePassword:       "1Password vaults via a Connect server",
		destinations.TypeAWSSecretsManager: "AWS Secrets Manager",
	}
	if description, ok := descriptions[destinationType]; ok {
		return description
	}
	return "No description available"
}
