package dbutil

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/timewave/rls-provisioner/go-provisioner/database"
)

// StatementKind names the provisioning step a statement belongs to.
type StatementKind string

const (
	KindCreateTable  StatementKind = "create_table"
	KindEnableRLS    StatementKind = "enable_rls"
	KindDropPolicy   StatementKind = "drop_policy"
	KindCreatePolicy StatementKind = "create_policy"
)

type Statement struct {
	Kind  StatementKind `yaml:"kind"`
	Table string        `yaml:"table"`
	SQL   string        `yaml:"sql"`
}

var policyCommands = map[string]bool{
	database.CommandAll:    true,
	database.CommandSelect: true,
	database.CommandInsert: true,
	database.CommandUpdate: true,
	database.CommandDelete: true,
}

// QualifiedName quotes each part of schema.name.
func QualifiedName(schema, name string) string {
	if schema == "" {
		schema = database.DefaultSchema
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name)
}

func BuildCreateTable(t database.Table) (string, error) {
	if t.Name == "" {
		return "", fmt.Errorf("table name required")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("table %s: at least one column required", t.Name)
	}

	var defs []string
	var pks []string
	for _, c := range t.Columns {
		if c.Name == "" {
			return "", fmt.Errorf("table %s: column name required", t.Name)
		}
		pgType, err := NormalizeType(c.Type)
		if err != nil {
			return "", fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
		}
		def := pq.QuoteIdentifier(c.Name) + " " + pgType
		if c.Default != "" {
			def += " DEFAULT " + c.Default
		}
		if !c.IsNullable() {
			def += " NOT NULL"
		}
		defs = append(defs, def)
		if c.PrimaryKey {
			pks = append(pks, pq.QuoteIdentifier(c.Name))
		}
	}
	if len(pks) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		QualifiedName(t.Schema, t.Name),
		strings.Join(defs, ",\n  "),
	), nil
}

// BuildEnableRLS returns the ALTER TABLE statements turning on row level
// security, plus FORCE when the table owner must be subject to it as well.
func BuildEnableRLS(schema, name string, force bool) ([]string, error) {
	if name == "" {
		return nil, fmt.Errorf("table name required")
	}
	qualified := QualifiedName(schema, name)
	stmts := []string{fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", qualified)}
	if force {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", qualified))
	}
	return stmts, nil
}

func BuildCreatePolicy(schema, table string, p database.Policy) (string, error) {
	if table == "" {
		return "", fmt.Errorf("table name required")
	}
	if p.Name == "" {
		return "", fmt.Errorf("table %s: policy name required", table)
	}
	cmd := p.CommandName()
	if !policyCommands[cmd] {
		return "", fmt.Errorf("policy %s: unsupported command %q", p.Name, p.Command)
	}
	using := strings.TrimSpace(p.Definition)
	check := strings.TrimSpace(p.WithCheck)
	switch {
	case cmd == database.CommandInsert && using != "":
		return "", fmt.Errorf("policy %s: INSERT policies only accept with_check", p.Name)
	case cmd == database.CommandInsert && check == "":
		return "", fmt.Errorf("policy %s: INSERT policies require with_check", p.Name)
	case cmd == database.CommandSelect && check != "":
		return "", fmt.Errorf("policy %s: SELECT policies do not accept with_check", p.Name)
	case cmd == database.CommandDelete && check != "":
		return "", fmt.Errorf("policy %s: DELETE policies do not accept with_check", p.Name)
	case using == "" && check == "":
		return "", fmt.Errorf("policy %s: definition required", p.Name)
	}

	mode := "PERMISSIVE"
	if p.Restrictive {
		mode = "RESTRICTIVE"
	}

	roles := make([]string, 0, len(p.RoleNames()))
	for _, r := range p.RoleNames() {
		roles = append(roles, quoteRole(r))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE POLICY %s ON %s AS %s FOR %s TO %s",
		pq.QuoteIdentifier(p.Name), QualifiedName(schema, table), mode, cmd, strings.Join(roles, ", "))
	if using != "" {
		fmt.Fprintf(&b, " USING (%s)", using)
	}
	if check != "" {
		fmt.Fprintf(&b, " WITH CHECK (%s)", check)
	}
	return b.String(), nil
}

func BuildDropPolicy(schema, table, name string) (string, error) {
	if table == "" || name == "" {
		return "", fmt.Errorf("table and policy name required")
	}
	return fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", pq.QuoteIdentifier(name), QualifiedName(schema, table)), nil
}

// BuildPlan returns, in execution order, every statement needed to provision t.
// Policies are emitted as drop-then-create so the plan can be re-run.
func BuildPlan(t database.Table) ([]Statement, error) {
	table := t.QualifiedName()
	create, err := BuildCreateTable(t)
	if err != nil {
		return nil, err
	}
	plan := []Statement{{Kind: KindCreateTable, Table: table, SQL: create}}

	if !t.RLSEnabled() {
		if len(t.Policies) > 0 {
			return nil, fmt.Errorf("table %s: policies require enable_rls", table)
		}
		return plan, nil
	}

	rls, err := BuildEnableRLS(t.SchemaName(), t.Name, t.ForceRLS)
	if err != nil {
		return nil, err
	}
	for _, sql := range rls {
		plan = append(plan, Statement{Kind: KindEnableRLS, Table: table, SQL: sql})
	}

	for _, p := range t.Policies {
		drop, err := BuildDropPolicy(t.SchemaName(), t.Name, p.Name)
		if err != nil {
			return nil, err
		}
		create, err := BuildCreatePolicy(t.SchemaName(), t.Name, p)
		if err != nil {
			return nil, err
		}
		plan = append(plan,
			Statement{Kind: KindDropPolicy, Table: table, SQL: drop},
			Statement{Kind: KindCreatePolicy, Table: table, SQL: create},
		)
	}
	return plan, nil
}

// PUBLIC and the CURRENT_USER family are keywords in role position and stay unquoted.
func quoteRole(role string) string {
	switch strings.ToLower(role) {
	case "public", "current_user", "current_role", "session_user":
		return strings.ToUpper(role)
	}
	return pq.QuoteIdentifier(role)
}
