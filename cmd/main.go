package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"CivicAlertManager/internal/cli"
)

const version = "0.3.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "civic-alerts",
		Short:   "Civic alert routing and escalation engine",
		Version: version,
		Long: `civic-alerts routes civic issue reports to the responsible authority and
escalates them along the rule's chain until the report is resolved.`,
	}

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.ValidateCmd())
	rootCmd.AddCommand(cli.HistoryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
