package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Send project status reports",
}

var reportsSendCmd = &cobra.Command{
	Use:   "send <project-id>",
	Short: "Send a project's report to its recipients now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || projectID <= 0 {
			return fmt.Errorf("invalid project id %q", args[0])
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.deps.Reports.Send(cmd.Context(), projectID, time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report for project %d sent to %d recipient(s)\n", projectID, n)
		return nil
	},
}

var reportsRunDueCmd = &cobra.Command{
	Use:   "run-due",
	Short: "Send every report that is due now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		sent, err := a.deps.Reports.RunDue(cmd.Context(), time.Now().UTC())
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %d report(s)\n", sent)
		for _, e := range multierr.Errors(err) {
			fmt.Fprintln(cmd.ErrOrStderr(), "failed:", e)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.AddCommand(reportsSendCmd, reportsRunDueCmd)
}
