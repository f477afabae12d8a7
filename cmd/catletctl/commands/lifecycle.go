package commands

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/catletctl/pkg/engine"
)

// newActionCommand builds a command running one lifecycle action on the
// selected machines.
func newActionCommand(a *app, action engine.Action, use, short, long, example string, opts *reconcileOptions) *cobra.Command {
	if opts == nil {
		opts = &reconcileOptions{}
	}
	return &cobra.Command{
		Use:     use,
		Short:   short,
		Long:    long,
		Example: example,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			results, runErr := rt.reconcile(cmd.Context(), action, args, *opts)
			if err := printResults(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			return runErr
		},
	}
}

func newUpCommand(a *app) *cobra.Command {
	opts := &reconcileOptions{}
	cmd := newActionCommand(a, engine.ActionUp,
		"up [machine...]",
		"Create and start catlets",
		`Bring the selected catlets up.

Missing catlets are created from their parent gene with generated
bootstrap fodder, then started. Stopped catlets are started. Running
catlets are provisioned again.`,
		`  # Bring up every machine in catlets.yaml
  catletctl up

  # Bring up two machines, both at once
  catletctl up web db --parallel 2`,
		opts)
	cmd.Flags().BoolVar(&opts.noProvision, "no-provision", false, "skip provision scripts")
	return cmd
}

func newHaltCommand(a *app) *cobra.Command {
	opts := &reconcileOptions{}
	var force bool
	cmd := newActionCommand(a, engine.ActionHalt,
		"halt [machine...]",
		"Stop running catlets",
		`Stop the selected catlets using their configured stop mode.
With --force the catlets are powered off.`,
		`  catletctl halt web
  catletctl halt --force`,
		opts)
	cmd.Flags().BoolVar(&force, "force", false, "power off instead of shutting down")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if force {
			opts.stopMode = engine.StopHard
		}
	}
	return cmd
}

func newDestroyCommand(a *app) *cobra.Command {
	return newActionCommand(a, engine.ActionDestroy,
		"destroy [machine...]",
		"Remove catlets",
		`Destroy the selected catlets and forget their local state.
Destroying a catlet that no longer exists succeeds.`,
		`  catletctl destroy web`,
		nil)
}

func newReloadCommand(a *app) *cobra.Command {
	opts := &reconcileOptions{}
	var force bool
	cmd := newActionCommand(a, engine.ActionReload,
		"reload [machine...]",
		"Restart catlets",
		`Stop and start the selected catlets. Stopped catlets are only started.`,
		`  catletctl reload web`,
		opts)
	cmd.Flags().BoolVar(&force, "force", false, "power off instead of shutting down")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if force {
			opts.stopMode = engine.StopHard
		}
	}
	return cmd
}

func newResumeCommand(a *app) *cobra.Command {
	return newActionCommand(a, engine.ActionResume,
		"resume [machine...]",
		"Start stopped catlets",
		`Start the selected catlets if they are stopped.`,
		`  catletctl resume web`,
		nil)
}

func newProvisionCommand(a *app) *cobra.Command {
	return newActionCommand(a, engine.ActionProvision,
		"provision [machine...]",
		"Run provision scripts on running catlets",
		`Upload and run the provision scripts of the selected running catlets
over SSH.`,
		`  catletctl provision web`,
		nil)
}

func printResults(w io.Writer, results []result) error {
	if jsonOutput {
		return writeJSON(w, results)
	}

	t := newTable(w, "Machine", "State", "Catlet ID", "Message")
	for _, r := range results {
		msg := r.Outcome.Message
		if r.Error != "" {
			msg = r.Error
		}
		t.AppendRow(table.Row{r.Machine, r.Outcome.State, dash(r.Outcome.ID), msg})
	}
	t.Render()
	return nil
}
