package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/haproxyctl/pkg/config"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file and create the journal",
		Long: `Write a settings file with the connection flags given on the command line
and create the SQLite journal next to it.`,
		Example: `  # Initialize ~/.haproxyctl
  haproxyctl init --base-url http://10.0.0.5:5555 --username admin --password secret

  # Initialize with a custom settings path
  haproxyctl init --config ./haproxyctl.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultSettingsPath()
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("settings file %s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			s := config.DefaultSettings()
			if baseURL != "" {
				s.BaseURL = baseURL
			}
			if username != "" {
				s.Username = username
			}
			if password != "" {
				s.Password = password
			}
			if apiVersion != "" {
				s.APIVersion = apiVersion
			}
			s.Journal = filepath.Join(filepath.Dir(path), "journal.db")
			if err := s.Validate(); err != nil {
				return err
			}

			log.Info().
				Str("config", path).
				Str("base_url", s.BaseURL).
				Msg("Initializing settings")

			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			data, err := yaml.Marshal(s)
			if err != nil {
				return fmt.Errorf("failed to encode settings: %w", err)
			}
			// The file may hold the API password.
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return fmt.Errorf("failed to write settings file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Created settings file: %s\n", path)

			journal, err := openJournal(cmd.Context(), s.Journal)
			if err != nil {
				return err
			}
			if err := journal.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Initialized journal: %s\n", s.Journal)

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing settings file")

	return cmd
}
