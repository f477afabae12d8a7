package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const sampleCatlets = `# catletctl machine definitions
version: "1"

defaults:
  project: default
  parent: %s
  cpu: 2
  memory:
    startup: 2048

machines:
  - name: %s
    bootstrap:
      username: catlet
    provision:
      - name: update
        inline: apt-get update
        sudo: true
`

const sampleSettings = `# catletctl settings; every key can also be set as CATLETCTL_<KEY>
endpoint: %s
# token_url: https://localhost:8000/identity/connect/token
# client_id: catletctl
# client_secret: ""
state_path: .catletctl/state.db
operation_timeout: 600s
parallel: 1
log:
  level: info
  format: console
`

func newInitCommand(a *app) *cobra.Command {
	var (
		parent string
		name   string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a catletctl workspace",
		Long: `Initialize a workspace with a sample catlets file, a settings file and
the local state database.`,
		Example: `  # Start from an Ubuntu starter gene
  catletctl init --parent dbosoft/ubuntu-22.04/starter

  # Overwrite existing files
  catletctl init --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().
				Str("parent", parent).
				Str("catlets_file", a.settings.CatletsFile).
				Msg("Initializing workspace")

			files := []struct {
				path    string
				content string
			}{
				{a.settings.CatletsFile, fmt.Sprintf(sampleCatlets, parent, name)},
				{"catletctl.yaml", fmt.Sprintf(sampleSettings, a.settings.Endpoint)},
			}
			for _, f := range files {
				if _, err := os.Stat(f.path); err == nil && !force {
					fmt.Fprintf(cmd.OutOrStdout(), "✓ Keeping existing %s\n", f.path)
					continue
				}
				if err := os.WriteFile(f.path, []byte(f.content), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", f.path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s\n", f.path)
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Initialized state database: %s\n", a.settings.StatePath)

			fmt.Fprintf(cmd.OutOrStdout(), "\nNext steps:\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  catletctl validate\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  catletctl up\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&parent, "parent", "dbosoft/ubuntu-22.04/starter", "parent gene of the sample machine")
	cmd.Flags().StringVar(&name, "name", "default", "name of the sample machine")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}
