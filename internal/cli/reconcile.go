package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Retry settlement of recorded spend events that are still unsettled",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Reconcile(cmd.Context())
		if err != nil {
			return err
		}
		if res.Locked {
			fmt.Fprintln(cmd.OutOrStdout(), "another reconciliation pass is running")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "candidates: %d\nsettled: %d\nskipped: %d\nfailed: %d\nerrors: %d\n",
			res.Candidates, res.Settled, res.Skipped, res.Failed, res.Errors)
		return nil
	},
}
