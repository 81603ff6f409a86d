package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var digestBody string

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Compute the webhook signature for a payload (reads stdin without --body)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			body []byte
			err  error
		)
		if digestBody != "" {
			body, err = os.ReadFile(digestBody)
		} else {
			body, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}

		sig, err := getApp().Digest(body)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sig)
		return nil
	},
}

func init() {
	digestCmd.Flags().StringVar(&digestBody, "body", "", "Path to the raw payload file")
}
