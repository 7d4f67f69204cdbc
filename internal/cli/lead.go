package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"crm-calls/internal/leads"
	"crm-calls/internal/store"
	"crm-calls/pkg/phone"
	"crm-calls/pkg/validate"

	"github.com/spf13/cobra"
)

func newLeadCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lead",
		Short: "Manage leads",
	}
	cmd.AddCommand(newLeadCreateCmd(e), newLeadSetStatusCmd(e))
	return cmd
}

// leadInput carries the flags of "lead create"; the validate tags are named
// after the flags so errors read as CLI errors.
type leadInput struct {
	Name  string `validate:"required"`
	Owner string `validate:"required"`
	Email string `validate:"omitempty,email"`
	Phone string `validate:"omitempty,phone_e164"`
}

type leadStatusInput struct {
	ID     string `validate:"required"`
	Status string `validate:"required"`
}

// flagError turns a validation failure into a message naming the flag.
func flagError(err error) error {
	fe, ok := validate.FirstFieldError(err)
	if !ok {
		return err
	}
	if fe.Tag == "required" {
		return fmt.Errorf("--%s is required", strings.ToLower(fe.Field))
	}
	return fmt.Errorf("--%s is not a valid %s", strings.ToLower(fe.Field), fe.Tag)
}

func newLeadCreateCmd(e *env) *cobra.Command {
	var in leadInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a lead owned by a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := e.setup(cmd)
			if err != nil {
				return err
			}
			if in.Phone != "" {
				in.Phone = phone.NormalizeE164(in.Phone, cfg.Retell.PhoneRegion)
			}
			if err := validate.New(cfg.Retell.PhoneRegion).Struct(in); err != nil {
				return flagError(err)
			}

			st, err := e.openStore(cmd.Context(), cfg, log, store.Options{AppName: "crmctl"})
			if err != nil {
				return err
			}
			defer st.Close(cmd.Context())

			created, err := st.Leads.CreateLead(cmd.Context(), leads.Lead{
				OwnerID: in.Owner,
				Name:    in.Name,
				Email:   in.Email,
				Phone:   in.Phone,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(created)
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "Lead name")
	cmd.Flags().StringVar(&in.Email, "email", "", "Lead email")
	cmd.Flags().StringVar(&in.Phone, "phone", "", "Lead phone number")
	cmd.Flags().StringVar(&in.Owner, "owner", "", "Owning user id")
	return cmd
}

func newLeadSetStatusCmd(e *env) *cobra.Command {
	var in leadStatusInput
	cmd := &cobra.Command{
		Use:   "set-status",
		Short: "Set a lead's pipeline status, e.g. after a call was handled offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := e.setup(cmd)
			if err != nil {
				return err
			}
			if err := validate.New(cfg.Retell.PhoneRegion).Struct(in); err != nil {
				return flagError(err)
			}
			status := leads.LeadStatus(in.Status)
			if !status.Valid() {
				return fmt.Errorf("--status %q is not a lead status", in.Status)
			}

			st, err := e.openStore(cmd.Context(), cfg, log, store.Options{AppName: "crmctl"})
			if err != nil {
				return err
			}
			defer st.Close(cmd.Context())

			if err := st.Leads.SetLeadStatus(cmd.Context(), in.ID, status); err != nil {
				return fmt.Errorf("set status of lead %s: %w", in.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lead %s status=%s\n", in.ID, status)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "Lead id")
	cmd.Flags().StringVar(&in.Status, "status", "", "New status (Untouched, HPL, MPL, LPL, NPL, Converted, Do Not Contact, In Call)")
	return cmd
}
