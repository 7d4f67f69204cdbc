// Package cli implements crmctl, the operator command line.
package cli

import (
	"context"
	"log/slog"
	"os"

	"crm-calls/internal/config"
	"crm-calls/internal/store"
	"crm-calls/pkg/logger"

	"github.com/spf13/cobra"
)

// env carries what subcommands share. Tests replace loadConfig and openStore.
type env struct {
	loadConfig func() (config.Config, error)
	openStore  func(ctx context.Context, cfg config.Config, log *slog.Logger, opts store.Options) (*store.Store, error)
}

func defaultEnv() *env {
	return &env{loadConfig: config.Load, openStore: store.Open}
}

func NewRootCmd(version string) *cobra.Command {
	return newRootCmd(version, defaultEnv())
}

func newRootCmd(version string, e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "crmctl",
		Short:        "Operator tooling for the CRM call service",
		SilenceUsage: true,
	}

	cmd.AddCommand(newMigrateCmd(e))
	cmd.AddCommand(newBackfillCmd(e))
	cmd.AddCommand(newTokenCmd(e))
	cmd.AddCommand(newLeadCmd(e))

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}
	return cmd
}

// setup loads config and a logger writing to the command's stderr.
func (e *env) setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.NewWithWriter(cfg.App.Env, cmd.ErrOrStderr())
	cmd.SetContext(logger.With(cmd.Context(), log))
	return cfg, log, nil
}
