package database

import "strings"

const DefaultSchema = "public"

// Policy commands accepted by CREATE POLICY ... FOR <command>.
const (
	CommandAll    = "ALL"
	CommandSelect = "SELECT"
	CommandInsert = "INSERT"
	CommandUpdate = "UPDATE"
	CommandDelete = "DELETE"
)

// Table is the desired shape of one provisioned table.
type Table struct {
	Schema    string   `mapstructure:"schema" yaml:"schema,omitempty"`
	Name      string   `mapstructure:"name" yaml:"name"`
	Columns   []Column `mapstructure:"columns" yaml:"columns"`
	EnableRLS *bool    `mapstructure:"enable_rls" yaml:"enable_rls,omitempty"`
	ForceRLS  bool     `mapstructure:"force_rls" yaml:"force_rls,omitempty"`
	Policies  []Policy `mapstructure:"policies" yaml:"policies,omitempty"`
}

type Column struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Type       string `mapstructure:"type" yaml:"type"`
	PrimaryKey bool   `mapstructure:"primary_key" yaml:"primary_key,omitempty"`
	Nullable   *bool  `mapstructure:"nullable" yaml:"nullable,omitempty"`
	Default    string `mapstructure:"default" yaml:"default,omitempty"`
}

type Policy struct {
	Name        string   `mapstructure:"name" yaml:"name"`
	Definition  string   `mapstructure:"definition" yaml:"definition,omitempty"`
	WithCheck   string   `mapstructure:"with_check" yaml:"with_check,omitempty"`
	Command     string   `mapstructure:"command" yaml:"command,omitempty"`
	Roles       []string `mapstructure:"roles" yaml:"roles,omitempty"`
	Restrictive bool     `mapstructure:"restrictive" yaml:"restrictive,omitempty"`
}

// SchemaName returns the table schema, falling back to public.
func (t Table) SchemaName() string {
	if t.Schema == "" {
		return DefaultSchema
	}
	return t.Schema
}

// QualifiedName returns schema.name unquoted, for logs and reports.
func (t Table) QualifiedName() string {
	return t.SchemaName() + "." + t.Name
}

// RLSEnabled reports whether row level security should be turned on.
// Unset means enabled.
func (t Table) RLSEnabled() bool {
	return t.EnableRLS == nil || *t.EnableRLS
}

// IsNullable reports whether the column accepts NULL. Primary key columns never do.
func (c Column) IsNullable() bool {
	if c.PrimaryKey {
		return false
	}
	return c.Nullable == nil || *c.Nullable
}

// CommandName returns the upper-cased policy command, defaulting to ALL.
func (p Policy) CommandName() string {
	if p.Command == "" {
		return CommandAll
	}
	return strings.ToUpper(strings.TrimSpace(p.Command))
}

// RoleNames returns the policy roles, defaulting to public.
func (p Policy) RoleNames() []string {
	if len(p.Roles) == 0 {
		return []string{"public"}
	}
	return p.Roles
}
