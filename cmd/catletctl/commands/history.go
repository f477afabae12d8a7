package commands

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/catletctl/pkg/stores"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit      int
		machine    string
		runID      string
		operations bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past runs and tracked operations",
		Long: `Show the runs recorded in the local state database, newest first.
With --operations the journal of tracked remote operations is shown
instead, optionally filtered by machine or run.`,
		Example: `  catletctl history
  catletctl history --operations --machine web`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if !operations && machine == "" && runID == "" {
				runs, err := store.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, runs)
				}
				t := newTable(out, "Run", "Action", "Status", "Started", "Duration")
				for _, r := range runs {
					t.AppendRow(table.Row{r.ID, r.Action, r.Status, r.StartedAt.Local().Format(time.DateTime), runDuration(r)})
				}
				t.Render()
				return nil
			}

			ops, err := store.ListOperations(ctx, stores.OperationFilter{
				CatletName: machine,
				RunID:      runID,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, ops)
			}
			t := newTable(out, "Operation", "Machine", "Action", "Step", "Status", "Duration", "Message")
			for _, op := range ops {
				t.AppendRow(table.Row{op.OperationID, op.CatletName, op.Action, op.Step, op.Status,
					op.Duration().Round(time.Second), op.Message})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().StringVar(&machine, "machine", "", "show operations of one machine")
	cmd.Flags().StringVar(&runID, "run", "", "show operations of one run")
	cmd.Flags().BoolVar(&operations, "operations", false, "show tracked operations")

	return cmd
}

func runDuration(r *stores.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}
