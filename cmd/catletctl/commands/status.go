package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/catletctl/pkg/engine"
)

type machineStatus struct {
	Machine  string                 `json:"machine"`
	CatletID string                 `json:"catlet_id,omitempty"`
	State    engine.ReconciledState `json:"state"`
	Address  string                 `json:"address,omitempty"`
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [machine...]",
		Short: "Show the state of catlets",
		Long: `Show the observed state of the selected catlets. Catlets with a known
id are fetched directly; the others are found by name in one listing.
Nothing is changed.`,
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

			statuses := make([]machineStatus, 0, len(machines))
			for _, m := range machines {
				o := rt.orchestrator(m, "", nil, reconcileOptions{})
				outcome, err := o.ReadState(ctx, m.target.Ref())
				if err != nil {
					return err
				}

				st := machineStatus{Machine: m.name, CatletID: outcome.ID, State: outcome.State}
				if outcome.State == engine.StateRunning {
					m.target.ID = outcome.ID
					if info, err := o.ReadConnectionInfo(ctx, m.target); err == nil && info != nil {
						st.Address = info.Host
					}
				}
				statuses = append(statuses, st)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), statuses)
			}

			t := newTable(cmd.OutOrStdout(), "Machine", "State", "Catlet ID", "Address")
			for _, st := range statuses {
				t.AppendRow(table.Row{st.Machine, st.State, dash(st.CatletID), dash(st.Address)})
			}
			t.Render()
			return nil
		},
	}
}
