package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// Connection overrides, applied over the settings file and environment.
	baseURL    string
	username   string
	password   string
	apiVersion string

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "haproxyctl",
		Short: "Declarative HAProxy configuration through the Data Plane API",
		Long: `haproxyctl converges HAProxy backends, servers and frontends to a desired
state through the HAProxy Data Plane API.

Every change is read, compared and written inside a configuration
transaction, so a run either applies completely or not at all:
  - Single resources via the backend, server and frontend commands
  - Whole manifests (YAML, JSON, CUE, Starlark) via apply
  - Rego policies checked before anything is sent
  - A local journal of every apply run`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default ~/.haproxyctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Data Plane API base URL")
	rootCmd.PersistentFlags().StringVar(&username, "username", "", "Data Plane API user")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "Data Plane API password")
	rootCmd.PersistentFlags().StringVar(&apiVersion, "api-version", "", "Data Plane API version path segment")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newBackendCommand())
	rootCmd.AddCommand(newServerCommand())
	rootCmd.AddCommand(newFrontendCommand())
	rootCmd.AddCommand(newTransactionCommand())
	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
