package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/timewave/rls-provisioner/go-provisioner/dberr"
	"github.com/timewave/rls-provisioner/go-provisioner/provisioner"
	"golang.org/x/term"
)

func newApplyCmd(opts *rootOptions) *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create tables, enable row level security and attach policies",
		Long:  "Shows the provisioning plan, then runs it against the database named by PROVISIONER_POSTGRES_CONNECTION_STRING.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			// 1. Load desired state.
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := cfg.RequirePostgres(); err != nil {
				return dberr.New(dberr.Malformed, "apply", err)
			}

			// 2. Show the plan.
			plan, err := provisioner.New(nil).Plan(cfg.Tables)
			if err != nil {
				return dberr.New(dberr.Malformed, "plan", err)
			}
			if err := writePlan(out, opts.output, cfg.Tables, plan); err != nil {
				return err
			}

			// 3. Confirm unless auto-approved.
			if !autoApprove {
				in := cmd.InOrStdin()
				if f, isFile := in.(*os.File); isFile && !term.IsTerminal(int(f.Fd())) {
					return fmt.Errorf("confirmation required but stdin is not a terminal; use --auto-approve")
				}
				ok, err := confirm(in, out)
				if err != nil {
					return err
				}
				if !ok {
					_, _ = fmt.Fprintln(out, "Apply cancelled.")
					return nil
				}
			}

			// 4. Connect and run.
			db, err := provisioner.OpenPostgres(cmd.Context(), cfg.Database.PostgresConnectionString)
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := provisioner.New(provisioner.NewPostgresBackend(db)).Apply(cmd.Context(), cfg.Tables)
			if result != nil {
				for _, step := range result.Steps {
					if step.Policy != "" {
						_, _ = fmt.Fprintf(out, "  %s %s on %s ... done\n", step.Kind, step.Policy, step.Table)
					} else {
						_, _ = fmt.Fprintf(out, "  %s %s ... done\n", step.Kind, step.Table)
					}
				}
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "\nApply complete: %d steps in %s.\n", len(result.Steps), result.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip interactive confirmation prompt")
	return cmd
}

func confirm(in io.Reader, out io.Writer) (bool, error) {
	_, _ = fmt.Fprint(out, "\nApply these changes? [y/N] ")
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes", nil
}
