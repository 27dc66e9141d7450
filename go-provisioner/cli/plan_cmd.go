package cli

import (
	"github.com/spf13/cobra"
	"github.com/timewave/rls-provisioner/go-provisioner/dberr"
	"github.com/timewave/rls-provisioner/go-provisioner/provisioner"
)

func newPlanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the statements apply would run",
		Long:  "Builds the provisioning statements from the config file without connecting to the database.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			plan, err := provisioner.New(nil).Plan(cfg.Tables)
			if err != nil {
				return dberr.New(dberr.Malformed, "plan", err)
			}
			return writePlan(cmd.OutOrStdout(), opts.output, cfg.Tables, plan)
		},
	}
}
