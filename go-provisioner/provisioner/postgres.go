package provisioner

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Import PostgreSQL driver
	"github.com/timewave/rls-provisioner/go-provisioner/database"
	"github.com/timewave/rls-provisioner/go-provisioner/dberr"
	"github.com/timewave/rls-provisioner/go-provisioner/dbutil"
	"github.com/timewave/rls-provisioner/go-provisioner/logger"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresBackend runs provisioning DDL over a direct Postgres connection.
type PostgresBackend struct {
	db     *sql.DB
	exec   execer
	inTx   bool
	logger *logger.Logger
}

// OpenPostgres opens and pings a connection pool for connString.
func OpenPostgres(ctx context.Context, connString string) (*sql.DB, error) {
	if connString == "" {
		return nil, dberr.New(dberr.Malformed, "open postgres", fmt.Errorf("connection string is empty"))
	}
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, dberr.Classify("open postgres", err)
	}

	// One connection keeps the DDL and the NOTIFY on the same session.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, dberr.Classify("ping postgres", err)
	}
	return db, nil
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{
		db:     db,
		exec:   db,
		logger: logger.NewLogger("Postgres"),
	}
}

func (b *PostgresBackend) run(ctx context.Context, op, query string) error {
	b.logger.Debug("%s", query)
	if _, err := b.exec.ExecContext(ctx, query); err != nil {
		return dberr.Classify(op, err)
	}
	return nil
}

func (b *PostgresBackend) CreateTable(ctx context.Context, table database.Table) error {
	query, err := dbutil.BuildCreateTable(table)
	if err != nil {
		return dberr.New(dberr.Malformed, "create table", err)
	}
	return b.run(ctx, "create table", query)
}

func (b *PostgresBackend) EnableRLS(ctx context.Context, table database.Table) error {
	stmts, err := dbutil.BuildEnableRLS(table.SchemaName(), table.Name, table.ForceRLS)
	if err != nil {
		return dberr.New(dberr.Malformed, "enable rls", err)
	}
	for _, query := range stmts {
		if err := b.run(ctx, "enable rls", query); err != nil {
			return err
		}
	}
	return nil
}

// CreatePolicy replaces any policy of the same name so the definition tracks
// the configuration. Outside a transaction the drop and create run in one.
func (b *PostgresBackend) CreatePolicy(ctx context.Context, table database.Table, policy database.Policy) error {
	drop, err := dbutil.BuildDropPolicy(table.SchemaName(), table.Name, policy.Name)
	if err != nil {
		return dberr.New(dberr.Malformed, "create policy", err)
	}
	create, err := dbutil.BuildCreatePolicy(table.SchemaName(), table.Name, policy)
	if err != nil {
		return dberr.New(dberr.Malformed, "create policy", err)
	}
	return b.InTx(ctx, func(tx Backend) error {
		pb := tx.(*PostgresBackend)
		if err := pb.run(ctx, "drop policy", drop); err != nil {
			return err
		}
		return pb.run(ctx, "create policy", create)
	})
}

// InTx runs fn against a backend bound to a single transaction. Nested calls
// reuse the outer transaction.
func (b *PostgresBackend) InTx(ctx context.Context, fn func(Backend) error) error {
	if b.inTx {
		return fn(b)
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return dberr.Classify("begin transaction", err)
	}
	txBackend := &PostgresBackend{db: b.db, exec: tx, inTx: true, logger: b.logger}
	if err := fn(txBackend); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			b.logger.Warn("Rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return dberr.Classify("commit transaction", err)
	}
	return nil
}

// ReloadSchema notifies PostgREST so new tables show up in the REST API.
func (b *PostgresBackend) ReloadSchema(ctx context.Context) error {
	return b.run(ctx, "reload schema", "NOTIFY pgrst, 'reload schema'")
}
