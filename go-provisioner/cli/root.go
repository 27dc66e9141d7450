package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/timewave/rls-provisioner/go-provisioner/config"
	"github.com/timewave/rls-provisioner/go-provisioner/dberr"
	"github.com/timewave/rls-provisioner/go-provisioner/logger"
	"github.com/timewave/rls-provisioner/go-provisioner/verify"
)

var version = "dev"

// Exit codes, one per error kind.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitNetwork      = 3
	ExitUnauthorized = 4
	ExitMalformed    = 5
	ExitConflict     = 6
	ExitNotFound     = 7
	ExitDrift        = 8
)

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitCode(err)
	}
	return ExitOK
}

// ExitCode maps an error returned by a command to an exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, verify.ErrDrift) {
		return ExitDrift
	}
	switch dberr.KindOf(err) {
	case dberr.Network:
		return ExitNetwork
	case dberr.Unauthorized:
		return ExitUnauthorized
	case dberr.Malformed:
		return ExitMalformed
	case dberr.Conflict:
		return ExitConflict
	case dberr.NotFound:
		return ExitNotFound
	}
	return ExitFailure
}

type rootOptions struct {
	configPath string
	output     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "rls-provisioner",
		Short:         "Provision Supabase tables with row level security",
		Long:          "Creates tables, enables row level security and attaches policies on a Supabase Postgres database.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output != "text" && opts.output != "yaml" {
				return fmt.Errorf("unsupported output format %q: use 'text' or 'yaml'", opts.output)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "Path to the provisioning config file")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "Output format (text, yaml)")

	rootCmd.AddCommand(newPlanCmd(opts))
	rootCmd.AddCommand(newApplyCmd(opts))
	rootCmd.AddCommand(newVerifyCmd(opts))

	return rootCmd
}

// loadConfig loads the config and sets the global log level from it.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(config.New(logger.NewLogger("Config")), opts.configPath)
	if err != nil {
		return nil, dberr.New(dberr.Malformed, "load config", err)
	}
	logger.InitGlobalLogLevel(cfg.LogLevel)
	return cfg, nil
}
