package verify

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/timewave/rls-provisioner/go-provisioner/database"
	"github.com/timewave/rls-provisioner/go-provisioner/dberr"
)

// Catalog reads the provisioned state of a table back from Postgres.
type Catalog interface {
	LookupTable(ctx context.Context, schema, name string) (*database.PgClassSelect, error)
	ListColumns(ctx context.Context, schema, name string) ([]database.InformationSchemaColumnsSelect, error)
	ListPolicies(ctx context.Context, schema, name string) ([]database.PgPoliciesSelect, error)
}

type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// LookupTable returns nil, nil when the table does not exist.
func (c *PostgresCatalog) LookupTable(ctx context.Context, schema, name string) (*database.PgClassSelect, error) {
	var row database.PgClassSelect
	err := c.db.QueryRowContext(ctx, `
		SELECT n.nspname, c.relname, c.relrowsecurity, c.relforcerowsecurity
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p')
	`, schema, name).Scan(&row.Schema, &row.Name, &row.RowSecurity, &row.ForceRowSecurity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dberr.Classify("lookup table", err)
	}
	return &row, nil
}

func (c *PostgresCatalog) ListColumns(ctx context.Context, schema, name string) ([]database.InformationSchemaColumnsSelect, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position ASC
	`, schema, name)
	if err != nil {
		return nil, dberr.Classify("list columns", err)
	}
	defer rows.Close()

	var results []database.InformationSchemaColumnsSelect
	for rows.Next() {
		var r database.InformationSchemaColumnsSelect
		if err := rows.Scan(&r.ColumnName, &r.DataType, &r.IsNullable); err != nil {
			return nil, dberr.Classify("scan columns", err)
		}
		results = append(results, r)
	}
	return results, dberr.Classify("list columns", rows.Err())
}

func (c *PostgresCatalog) ListPolicies(ctx context.Context, schema, name string) ([]database.PgPoliciesSelect, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT schemaname, tablename, policyname, permissive, roles::text[], cmd, qual, with_check
		FROM pg_catalog.pg_policies
		WHERE schemaname = $1 AND tablename = $2
		ORDER BY policyname ASC
	`, schema, name)
	if err != nil {
		return nil, dberr.Classify("list policies", err)
	}
	defer rows.Close()

	var results []database.PgPoliciesSelect
	for rows.Next() {
		var r database.PgPoliciesSelect
		var qual, withCheck sql.NullString
		if err := rows.Scan(
			&r.SchemaName,
			&r.TableName,
			&r.PolicyName,
			&r.Permissive,
			pq.Array(&r.Roles),
			&r.Cmd,
			&qual,
			&withCheck,
		); err != nil {
			return nil, dberr.Classify("scan policies", err)
		}
		if qual.Valid {
			r.Qual = &qual.String
		}
		if withCheck.Valid {
			r.WithCheck = &withCheck.String
		}
		results = append(results, r)
	}
	return results, dberr.Classify("list policies", rows.Err())
}
