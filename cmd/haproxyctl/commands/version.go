package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the remote configuration version",
		Long: `Print the current configuration version of the Data Plane API.

The version increases with every committed change. Use --version on the
root command for the haproxyctl build version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			version, err := rt.client.FetchVersion(cmd.Context())
			if err != nil {
				return err
			}
			rt.telemetry.Metrics.SetConfigVersion(version)

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"version": version})
			}
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
