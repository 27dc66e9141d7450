package provisioner

import (
	"context"
	"fmt"
	"time"

	"github.com/timewave/rls-provisioner/go-provisioner/database"
	"github.com/timewave/rls-provisioner/go-provisioner/dbutil"
	"github.com/timewave/rls-provisioner/go-provisioner/logger"
)

// Backend performs the three provisioning calls against a database.
type Backend interface {
	CreateTable(ctx context.Context, table database.Table) error
	EnableRLS(ctx context.Context, table database.Table) error
	CreatePolicy(ctx context.Context, table database.Table, policy database.Policy) error
}

// TxBackend is a Backend able to group the calls for one table into a transaction.
type TxBackend interface {
	Backend
	InTx(ctx context.Context, fn func(Backend) error) error
}

// SchemaReloader is implemented by backends that can ask PostgREST to refresh
// its schema cache after DDL.
type SchemaReloader interface {
	ReloadSchema(ctx context.Context) error
}

// Step is one completed provisioning call.
type Step struct {
	Kind   dbutil.StatementKind
	Table  string
	Policy string
}

// Result lists the steps that completed, in order.
type Result struct {
	Steps    []Step
	Duration time.Duration
}

// StepError reports which step failed for which table.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	if e.Step.Policy != "" {
		return fmt.Sprintf("failed to %s %s on %s: %v", e.Step.Kind, e.Step.Policy, e.Step.Table, e.Err)
	}
	return fmt.Sprintf("failed to %s on %s: %v", e.Step.Kind, e.Step.Table, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type Provisioner struct {
	backend Backend
	logger  *logger.Logger
}

func New(backend Backend) *Provisioner {
	return &Provisioner{
		backend: backend,
		logger:  logger.NewLogger("Provisioner"),
	}
}

// WithLogger replaces the provisioner logger.
func (p *Provisioner) WithLogger(l *logger.Logger) *Provisioner {
	p.logger = l
	return p
}

// Plan returns the statements Apply would run, without touching the backend.
func (p *Provisioner) Plan(tables []database.Table) ([]dbutil.Statement, error) {
	var plan []dbutil.Statement
	for _, t := range tables {
		stmts, err := dbutil.BuildPlan(t)
		if err != nil {
			return nil, fmt.Errorf("failed to build plan: %w", err)
		}
		plan = append(plan, stmts...)
	}
	return plan, nil
}

// Apply creates each table, enables row level security on it and attaches its
// policies, stopping at the first failure. When the backend supports
// transactions each table is provisioned atomically.
func (p *Provisioner) Apply(ctx context.Context, tables []database.Table) (*Result, error) {
	start := time.Now()
	result := &Result{}

	// An invalid table fails the batch before any DDL runs.
	if _, err := p.Plan(tables); err != nil {
		return result, err
	}

	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var steps []Step
		run := func(b Backend) error {
			var err error
			steps, err = p.provisionTable(ctx, b, t)
			return err
		}

		var err error
		if txb, ok := p.backend.(TxBackend); ok {
			err = txb.InTx(ctx, run)
			if err != nil {
				// rolled back, nothing from this table persisted
				steps = nil
			}
		} else {
			err = run(p.backend)
		}
		result.Steps = append(result.Steps, steps...)
		if err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		p.logger.Info("Provisioned table %s (%d steps)", t.QualifiedName(), len(steps))
	}

	if reloader, ok := p.backend.(SchemaReloader); ok {
		if err := reloader.ReloadSchema(ctx); err != nil {
			p.logger.Warn("Failed to reload PostgREST schema cache: %v", err)
		}
	}

	result.Duration = time.Since(start)
	p.logger.Info("Provisioning complete: %d tables, %d steps in %s", len(tables), len(result.Steps), result.Duration)
	return result, nil
}

func (p *Provisioner) provisionTable(ctx context.Context, b Backend, t database.Table) ([]Step, error) {
	table := t.QualifiedName()
	log := p.logger.With(table)
	var steps []Step

	step := Step{Kind: dbutil.KindCreateTable, Table: table}
	log.Debug("Creating table")
	if err := b.CreateTable(ctx, t); err != nil {
		return steps, &StepError{Step: step, Err: err}
	}
	steps = append(steps, step)

	if !t.RLSEnabled() {
		return steps, nil
	}

	step = Step{Kind: dbutil.KindEnableRLS, Table: table}
	log.Debug("Enabling row level security (force=%t)", t.ForceRLS)
	if err := b.EnableRLS(ctx, t); err != nil {
		return steps, &StepError{Step: step, Err: err}
	}
	steps = append(steps, step)

	for _, policy := range t.Policies {
		step = Step{Kind: dbutil.KindCreatePolicy, Table: table, Policy: policy.Name}
		log.Debug("Creating policy %s for %s", policy.Name, policy.CommandName())
		if err := b.CreatePolicy(ctx, t, policy); err != nil {
			return steps, &StepError{Step: step, Err: err}
		}
		steps = append(steps, step)
	}
	return steps, nil
}
