package cli

import (
	"encoding/json"

	"crm-calls/internal/audit"
	"crm-calls/internal/backfill"
	"crm-calls/internal/store"

	"github.com/spf13/cobra"
)

func newBackfillCmd(e *env) *cobra.Command {
	var (
		dryRun bool
		actor  string
	)
	cmd := &cobra.Command{
		Use:   "backfill-call-logs",
		Short: "Normalize legacy call log entries and recompute call counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := e.setup(cmd)
			if err != nil {
				return err
			}
			st, err := e.openStore(cmd.Context(), cfg, log, store.Options{AppName: "crmctl"})
			if err != nil {
				return err
			}
			defer st.Close(cmd.Context())

			runner := backfill.NewRunner(st.Leads, audit.NewService(st.Audit))
			rep, err := runner.Run(cmd.Context(), backfill.Options{
				DryRun: dryRun,
				Actor:  audit.Actor{UserID: actor, Role: "operator"},
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	cmd.Flags().StringVar(&actor, "actor", "crmctl", "User id recorded on audit events")
	return cmd
}
