package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"CivicAlertManager/internal/config"
	ent "CivicAlertManager/internal/entity"
	"CivicAlertManager/internal/repo"
)

// HistoryCmd returns the command that prints an alert's audit trail
func HistoryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "history <alertID>",
		Short: "Print the notification attempts of an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			db, err := repo.OpenDB(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			alert, err := repo.NewAlertStore(db).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			attempts, err := repo.NewHistoryStore(db).ListByAlert(cmd.Context(), alert.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Alert %s (report %s, %s)\n", alert.ID, alert.ReportID, alert.Rule.Key)
			fmt.Fprintf(out, "  status: %s  level: %d\n", alert.Status, alert.Level)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Time                  Lvl  Authority         Channel  Outcome")
			fmt.Fprintln(out, "──────────────────────────────────────────────────────────────")
			for _, at := range attempts {
				fmt.Fprintf(out, "%-21s %-4d %-17s %-8s %s\n",
					at.Timestamp.Format("2006-01-02 15:04:05"),
					at.Level, at.AuthorityID, at.Channel, outcomeLabel(at.Outcome))
				if at.Detail != "" {
					fmt.Fprintf(out, "      %s\n", at.Detail)
				}
			}
			return nil
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func outcomeLabel(o ent.Outcome) string {
	switch o {
	case ent.OutcomeDelivered:
		return color.New(color.FgGreen).Sprint(o)
	case ent.OutcomeSent:
		return color.New(color.FgCyan).Sprint(o)
	default:
		return color.New(color.FgRed).Sprint(o)
	}
}
