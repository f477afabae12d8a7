package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openfroyo/catletctl/pkg/config"
	"github.com/openfroyo/catletctl/pkg/engine"
	"github.com/openfroyo/catletctl/pkg/telemetry"
)

var (
	// Global flags
	settingsPath string
	jsonOutput   bool
	verbose      bool
)

// app is the state shared by all commands of one invocation.
type app struct {
	version   string
	v         *viper.Viper
	settings  *config.Settings
	telemetry *telemetry.Telemetry
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(&app{version: version, v: config.NewViper()}, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an error onto the process exit status: 2 for bad
// configuration, 3 for connection problems, 4 for failed or timed out
// operations and 1 otherwise.
func ExitCode(err error) int {
	switch engine.KindOf(err) {
	case engine.KindConfiguration:
		return 2
	case engine.KindConnection:
		return 3
	case engine.KindOperationFailed, engine.KindTimeout:
		return 4
	}
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		return 2
	}
	return 1
}

func newRootCommand(a *app, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "catletctl",
		Short: "catletctl - declarative catlet lifecycle management",
		Long: `catletctl brings catlets declared in a catlets file to the requested
lifecycle state on a compute service.

Each command observes the remote state of every selected machine and
issues only the steps needed: create, start, stop, destroy or provision.
Remote operations are tracked to completion with live progress output.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", a.version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.shutdown()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&settingsPath, "config", "c", "", "settings file (default catletctl.yaml)")
	flags.StringP("file", "f", config.DefaultFileName, "catlets file or CUE directory")
	flags.String("endpoint", "", "compute API endpoint")
	flags.String("state", "", "local state database path")
	flags.Int("parallel", 1, "number of machines processed concurrently")
	flags.Duration("timeout", 600*time.Second, "operation timeout")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("metrics", false, "serve prometheus metrics while running")
	flags.String("metrics-address", "", "metrics listen address")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug output")
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")

	for key, flag := range map[string]string{
		"catlets_file":      "file",
		"endpoint":          "endpoint",
		"state_path":        "state",
		"parallel":          "parallel",
		"operation_timeout": "timeout",
		"log.level":         "log-level",
		"metrics.enabled":   "metrics",
		"metrics.address":   "metrics-address",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(newInitCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newUpCommand(a))
	rootCmd.AddCommand(newHaltCommand(a))
	rootCmd.AddCommand(newDestroyCommand(a))
	rootCmd.AddCommand(newReloadCommand(a))
	rootCmd.AddCommand(newResumeCommand(a))
	rootCmd.AddCommand(newProvisionCommand(a))
	rootCmd.AddCommand(newStatusCommand(a))
	rootCmd.AddCommand(newSSHConfigCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newProjectCommand(a))
	rootCmd.AddCommand(newNetworkCommand(a))

	return rootCmd
}

// setup loads settings and starts telemetry.
func (a *app) setup(cmd *cobra.Command) error {
	s, err := config.LoadSettings(a.v, settingsPath)
	if err != nil {
		return err
	}
	if verbose {
		s.Log.Level = "debug"
	}
	a.settings = s

	tel, err := telemetry.NewTelemetry(s.Telemetry(a.version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = tel

	if err := tel.Metrics.StartMetricsServer(cmd.Context()); err != nil {
		return err
	}

	log.Debug().
		Str("endpoint", s.Endpoint).
		Str("catlets_file", s.CatletsFile).
		Str("state", s.StatePath).
		Msg("Settings loaded")
	return nil
}

func (a *app) shutdown() error {
	if a.telemetry == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.telemetry.Shutdown(ctx)
}
