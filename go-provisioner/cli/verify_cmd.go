package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/timewave/rls-provisioner/go-provisioner/config"
	"github.com/timewave/rls-provisioner/go-provisioner/database"
	"github.com/timewave/rls-provisioner/go-provisioner/dberr"
	"github.com/timewave/rls-provisioner/go-provisioner/health"
	"github.com/timewave/rls-provisioner/go-provisioner/logger"
	"github.com/timewave/rls-provisioner/go-provisioner/provisioner"
	"github.com/timewave/rls-provisioner/go-provisioner/verify"
)

type verifyOptions struct {
	watch      bool
	interval   time.Duration
	healthPort int
	restProbe  bool
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	vopts := &verifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that tables, row level security and policies are in place",
		Long:  "Reads the Postgres catalog and reports any table, column, row level security or policy that does not match the config file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := cfg.RequirePostgres(); err != nil {
				return dberr.New(dberr.Malformed, "verify", err)
			}
			applyVerifyDefaults(cmd.Flags(), vopts, cfg)

			db, err := provisioner.OpenPostgres(cmd.Context(), cfg.Database.PostgresConnectionString)
			if err != nil {
				return err
			}
			defer db.Close()

			var probe verify.Probe
			if vopts.restProbe {
				sp, err := verify.NewSupabaseProbe(cfg.Database.SupabaseURL, cfg.Database.SupabaseKey)
				if err != nil {
					return err
				}
				probe = sp
			}
			verifier := verify.New(verify.NewPostgresCatalog(db), probe)

			if vopts.watch {
				if vopts.interval <= 0 {
					return dberr.New(dberr.Malformed, "verify", fmt.Errorf("interval must be positive, got %s", vopts.interval))
				}
				healthServer := health.NewServer(vopts.healthPort, "rls_provisioner")
				if err := healthServer.Start(); err != nil {
					return fmt.Errorf("failed to start health check server: %w", err)
				}
				defer func() {
					if err := healthServer.Stop(); err != nil {
						logger.NewLogger("Watch").Error("Error stopping health check server: %v", err)
					}
				}()
				return watch(cmd.Context(), verifier, cfg.Tables, vopts.interval, healthServer)
			}
			return verifyOnce(cmd.Context(), cmd.OutOrStdout(), opts.output, verifier, cfg.Tables)
		},
	}

	cmd.Flags().BoolVar(&vopts.watch, "watch", false, "Re-verify on an interval and serve /health")
	cmd.Flags().DurationVar(&vopts.interval, "interval", time.Minute, "Interval between checks in watch mode")
	cmd.Flags().IntVar(&vopts.healthPort, "health-port", 8080, "Health check port in watch mode")
	cmd.Flags().BoolVar(&vopts.restProbe, "rest-probe", false, "Also check each table through the Supabase REST API")
	return cmd
}

// applyVerifyDefaults fills options the user did not set from the config file.
func applyVerifyDefaults(flags *pflag.FlagSet, vopts *verifyOptions, cfg *config.Config) {
	if !flags.Changed("interval") && cfg.Verify.Interval > 0 {
		vopts.interval = cfg.Verify.Interval
	}
	if !flags.Changed("health-port") && cfg.Verify.HealthPort > 0 {
		vopts.healthPort = cfg.Verify.HealthPort
	}
	if !flags.Changed("rest-probe") && cfg.Verify.RESTProbe {
		vopts.restProbe = true
	}
}

func verifyOnce(ctx context.Context, out io.Writer, output string, verifier *verify.Verifier, tables []database.Table) error {
	report, err := verifier.Verify(ctx, tables)
	if err != nil {
		return err
	}
	if err := writeReport(out, output, report); err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%d drift items: %w", len(report.Drift), verify.ErrDrift)
	}
	return nil
}

// watch re-verifies every interval and reports each outcome to server until
// ctx is cancelled.
func watch(ctx context.Context, verifier *verify.Verifier, tables []database.Table, interval time.Duration, server *health.Server) error {
	log := logger.NewLogger("Watch")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("Watching %d tables every %s", len(tables), interval)
	reportCheck(ctx, verifier, tables, server, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("Context cancelled, stopping watch")
			return nil
		case <-ticker.C:
			reportCheck(ctx, verifier, tables, server, log)
		}
	}
}

// reportCheck runs one verification and maps it to a health status: a clean
// report is healthy, drift is drifted with one detail line per item, and a
// failed check is unhealthy.
func reportCheck(ctx context.Context, verifier *verify.Verifier, tables []database.Table, server *health.Server, log *logger.Logger) {
	report, err := verifier.Verify(ctx, tables)
	switch {
	case err != nil:
		log.Error("Verification failed: %v", err)
		server.Report(health.StatusUnhealthy, []string{err.Error()})
	case report.OK():
		server.Report(health.StatusHealthy, nil)
	default:
		detail := make([]string, 0, len(report.Drift))
		for _, d := range report.Drift {
			detail = append(detail, d.String())
		}
		server.Report(health.StatusDrifted, detail)
	}
}
