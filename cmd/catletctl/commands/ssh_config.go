package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/catletctl/pkg/credentials"
	"github.com/openfroyo/catletctl/pkg/engine"
)

func newSSHConfigCommand(a *app) *cobra.Command {
	var hostPrefix string

	cmd := &cobra.Command{
		Use:   "ssh-config [machine...]",
		Short: "Print OpenSSH configuration for running catlets",
		Long: `Print an OpenSSH client configuration block for each selected running
catlet. Generated private keys are written next to the state database.`,
		Example: `  catletctl ssh-config web >> ~/.ssh/config
  ssh web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			machines, err := rt.machines(ctx, args, false)
			if err != nil {
				return err
			}

			keysDir := filepath.Join(filepath.Dir(a.settings.StatePath), "keys")
			var b strings.Builder
			for _, m := range machines {
				info, err := rt.orchestrator(m, "", nil, reconcileOptions{}).ReadConnectionInfo(ctx, m.target)
				if err != nil {
					return err
				}
				if info == nil {
					return engine.NewReconciliationError(
						fmt.Sprintf("machine %s is not running or has no floating address", m.name), nil)
				}

				identity := ""
				switch {
				case m.config.SSH != nil && m.config.SSH.PrivateKeyPath != "":
					identity = m.config.SSH.PrivateKeyPath
				case len(info.PrivateKey) > 0:
					kp, err := credentials.Parse(info.PrivateKey)
					if err != nil {
						return err
					}
					if identity, err = credentials.WriteFiles(keysDir, m.name, kp); err != nil {
						return err
					}
				}

				writeSSHConfig(&b, hostPrefix+m.name, info, identity)
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), b.String())
			return err
		},
	}

	cmd.Flags().StringVar(&hostPrefix, "host-prefix", "", "prefix for Host entries")
	return cmd
}

func writeSSHConfig(b *strings.Builder, host string, info *engine.ConnectionInfo, identity string) {
	fmt.Fprintf(b, "Host %s\n", host)
	fmt.Fprintf(b, "  HostName %s\n", info.Host)
	fmt.Fprintf(b, "  User %s\n", info.Username)
	fmt.Fprintf(b, "  Port %d\n", info.Port)
	if identity != "" {
		abs, err := filepath.Abs(identity)
		if err == nil {
			identity = abs
		}
		fmt.Fprintf(b, "  IdentityFile %s\n", identity)
		b.WriteString("  IdentitiesOnly yes\n")
	}
	b.WriteString("  StrictHostKeyChecking no\n")
	b.WriteString("  UserKnownHostsFile /dev/null\n")
	b.WriteString("\n")
}
