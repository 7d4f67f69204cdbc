package cli

import (
	"errors"
	"fmt"
	"time"

	"crm-calls/internal/auth"
	"crm-calls/internal/rbac"

	"github.com/spf13/cobra"
)

func newTokenCmd(e *env) *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access/refresh token pair for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			if !rbac.KnownRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, _, err := e.setup(cmd)
			if err != nil {
				return err
			}
			m, err := auth.NewManager(cfg.Auth)
			if err != nil {
				return err
			}
			pair, err := m.IssuePair(time.Now(), userID, role)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "access_token="+pair.AccessToken)
			_, _ = fmt.Fprintln(out, "refresh_token="+pair.RefreshToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id (sub claim)")
	cmd.Flags().StringVar(&role, "role", rbac.RoleSalesAgent, "Role claim")
	return cmd
}
