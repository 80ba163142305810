package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"CivicAlertManager/internal/clock"
	"CivicAlertManager/internal/config"
)

// ValidateCmd returns the command that checks a configuration file
func ValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without starting the engine",
		Long: `Loads the configuration the same way serve does and builds the authority
directory and the rule table from it.

Examples:
  civic-alerts validate
  civic-alerts validate -c /etc/civic-alerts/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cat, err := buildCatalog(cfg, clock.Real())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", color.New(color.FgGreen).Sprint("OK"), cfg.File())
			fmt.Fprintf(out, "  authorities: %d\n", len(cat.directory.List()))
			for _, r := range cat.rules.Rules() {
				auto := ""
				if !r.AutoEscalate {
					auto = color.New(color.FgYellow).Sprint(" (manual escalation)")
				}
				fmt.Fprintf(out, "  rule %-24s -> %v every %s%s\n", r.Key, r.Recipients(), r.Timeout, auto)
			}
			return nil
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}
