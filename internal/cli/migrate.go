package cli

import (
	"errors"
	"fmt"

	"crm-calls/internal/config"
	"crm-calls/internal/migrations"
	"crm-calls/internal/store"

	"github.com/spf13/cobra"
)

func newMigrateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.openPostgres(cmd)
			if err != nil {
				return err
			}
			defer st.Close(cmd.Context())

			applied, err := migrations.Up(cmd.Context(), st.DB)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				_, _ = fmt.Fprintln(out, "schema is up to date")
				return nil
			}
			for _, m := range applied {
				_, _ = fmt.Fprintf(out, "applied %05d %s\n", m.Version, m.Name)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.openPostgres(cmd)
			if err != nil {
				return err
			}
			defer st.Close(cmd.Context())

			status, err := migrations.CurrentStatus(cmd.Context(), st.DB)
			if err != nil {
				return err
			}
			for _, s := range status {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%05d %-8s %s\n", s.Version, state, s.Name)
			}
			return nil
		},
	})
	return cmd
}

func (e *env) openPostgres(cmd *cobra.Command) (*store.Store, error) {
	cfg, log, err := e.setup(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		return nil, errors.New("migrate requires STORE_DRIVER=postgres")
	}
	return e.openStore(cmd.Context(), cfg, log, store.Options{AppName: "crmctl"})
}
