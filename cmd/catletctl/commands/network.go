package commands

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/catletctl/pkg/config"
	"github.com/openfroyo/catletctl/pkg/engine"
)

func newNetworkCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Export and import project network configuration",
	}
	cmd.AddCommand(newNetworkGetCommand(a))
	cmd.AddCommand(newNetworkSetCommand(a))
	return cmd
}

func newNetworkGetCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <project>",
		Short: "Print the virtual network configuration of a project",
		Example: `  catletctl network get dev
  catletctl network get dev -o networks.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, stop, err := a.projectManager(args[0])
			if err != nil {
				return err
			}
			defer stop()

			_, cfg, err := m.NetworkConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = engine.NetworkConfig{}
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return writeNetworkConfig(out, cfg)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the configuration to a file")
	return cmd
}

func newNetworkSetCommand(a *app) *cobra.Command {
	var (
		from   string
		inline string
		opts   engine.ChangeOptions
	)

	cmd := &cobra.Command{
		Use:   "set <project>",
		Short: "Replace the virtual network configuration of a project",
		Long: `Replace the virtual network configuration of a project with a YAML or
JSON document, typically one exported with "network get". A document
exported from another project is refused unless --force is given.`,
		Example: `  catletctl network set dev --from networks.yaml
  catletctl network get prod | catletctl network set staging --from - --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readNetworkInput(cmd.InOrStdin(), from, inline)
			if err != nil {
				return err
			}

			m, stop, err := a.projectManager(args[0])
			if err != nil {
				return err
			}
			defer stop()

			change, err := m.SetNetworkConfig(cmd.Context(), args[0], cfg, opts)
			if err != nil {
				return err
			}
			return printChange(cmd, change, "Network configuration of "+change.Project.Name, "updated")
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "configuration file, - for stdin")
	cmd.Flags().StringVar(&inline, "inline", "", "configuration given inline")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "import a configuration exported from another project")
	cmd.Flags().BoolVar(&opts.NoWait, "no-wait", false, "return once the change is accepted")
	cmd.MarkFlagsMutuallyExclusive("from", "inline")
	cmd.MarkFlagsOneRequired("from", "inline")
	return cmd
}

func readNetworkInput(stdin io.Reader, from, inline string) (engine.NetworkConfig, error) {
	switch {
	case inline != "":
		return config.ParseNetworkConfig([]byte(inline))
	case from == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		return config.ParseNetworkConfig(data)
	default:
		return config.ReadNetworkConfig(from)
	}
}

func writeNetworkConfig(w io.Writer, cfg engine.NetworkConfig) error {
	if jsonOutput {
		return writeJSON(w, cfg)
	}
	data, err := config.MarshalNetworkConfig(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
