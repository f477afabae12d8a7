package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/catletctl/pkg/engine"
)

// projectManager connects the compute client and returns a project manager
// whose operation progress is logged for the named project.
func (a *app) projectManager(project string) (*engine.ProjectManager, func(), error) {
	client, err := a.newClient()
	if err != nil {
		return nil, nil, err
	}
	tracker := engine.NewTracker(client,
		engine.WithTimeout(a.settings.OperationTimeout),
		engine.WithPollInterval(a.settings.PollInterval),
		engine.WithTrackerMetrics(a.telemetry.Metrics),
		engine.WithTrackerTracer(a.telemetry.Tracer))

	events := make(chan engine.ProgressEvent, 64)
	done := make(chan struct{})
	go func() {
		renderProgress(a.telemetry.Logger.WithProject(project), events)
		close(done)
	}()
	stop := func() {
		close(events)
		<-done
	}
	return engine.NewProjectManager(client, client, tracker).WithProgress(events), stop, nil
}

func newProjectCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects on the compute service",
	}
	cmd.AddCommand(newProjectListCommand(a))
	cmd.AddCommand(newProjectCreateCommand(a))
	cmd.AddCommand(newProjectRemoveCommand(a))
	return cmd
}

func newProjectListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, stop, err := a.projectManager("")
			if err != nil {
				return err
			}
			defer stop()

			projects, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, projects)
			}
			t := newTable(out, "Name", "ID")
			for _, p := range projects {
				t.AppendRow(table.Row{p.Name, p.ID})
			}
			t.Render()
			return nil
		},
	}
}

func newProjectCreateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, stop, err := a.projectManager(args[0])
			if err != nil {
				return err
			}
			defer stop()

			change, err := m.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printChange(cmd, change, "Project "+change.Project.Name, "created")
		},
	}
}

func newProjectRemoveCommand(a *app) *cobra.Command {
	var opts engine.ChangeOptions

	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a project and all of its catlets",
		Long: `Remove a project from the compute service. Every catlet, disk and
network of the project is deleted with it, so the command refuses to run
without --force.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return removeProject(cmd, a, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "confirm removal of the project and its catlets")
	cmd.Flags().BoolVar(&opts.NoWait, "no-wait", false, "return once the removal is accepted")
	return cmd
}

func removeProject(cmd *cobra.Command, a *app, name string, opts engine.ChangeOptions) error {
	if !opts.Force {
		return engine.NewConfigurationError(
			fmt.Sprintf("removing project %s deletes all of its catlets", name), nil).
			WithDetail("use --force to remove it")
	}
	m, stop, err := a.projectManager(name)
	if err != nil {
		return err
	}
	defer stop()

	change, err := m.Remove(cmd.Context(), name, opts)
	if err != nil {
		return err
	}
	return printChange(cmd, change, "Project "+change.Project.Name, "removed")
}

// printChange reports a project or network change. Changes that were not
// waited for are reported as accepted.
func printChange(cmd *cobra.Command, change *engine.Change, subject, verb string) error {
	out := cmd.OutOrStdout()
	status := verb
	if change.Result == nil {
		status = "accepted"
	}
	if jsonOutput {
		return writeJSON(out, struct {
			Project     engine.Project `json:"project"`
			OperationID string         `json:"operation_id"`
			Status      string         `json:"status"`
		}{change.Project, change.OperationID, status})
	}
	_, err := fmt.Fprintf(out, "%s %s (operation %s)\n", subject, status, change.OperationID)
	return err
}
