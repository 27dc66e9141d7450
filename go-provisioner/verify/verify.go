package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/timewave/rls-provisioner/go-provisioner/database"
	"github.com/timewave/rls-provisioner/go-provisioner/dberr"
	"github.com/timewave/rls-provisioner/go-provisioner/logger"
)

type DriftKind string

const (
	DriftMissingTable   DriftKind = "missing_table"
	DriftMissingColumn  DriftKind = "missing_column"
	DriftRLSDisabled    DriftKind = "rls_disabled"
	DriftRLSNotForced   DriftKind = "rls_not_forced"
	DriftMissingPolicy  DriftKind = "missing_policy"
	DriftPolicyMismatch DriftKind = "policy_mismatch"
	DriftNotExposed     DriftKind = "not_exposed"
)

type Drift struct {
	Table  string    `yaml:"table" json:"table"`
	Kind   DriftKind `yaml:"kind" json:"kind"`
	Detail string    `yaml:"detail" json:"detail"`
}

func (d Drift) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Table, d.Kind, d.Detail)
}

type Report struct {
	Tables int     `yaml:"tables" json:"tables"`
	Drift  []Drift `yaml:"drift" json:"drift"`
}

func (r *Report) OK() bool {
	return len(r.Drift) == 0
}

func (r *Report) add(table string, kind DriftKind, format string, v ...interface{}) {
	r.Drift = append(r.Drift, Drift{Table: table, Kind: kind, Detail: fmt.Sprintf(format, v...)})
}

// ErrDrift is returned by callers that treat a non-empty report as failure.
var ErrDrift = errors.New("provisioned state does not match configuration")

type Verifier struct {
	catalog Catalog
	probe   Probe
	logger  *logger.Logger
}

// New returns a verifier. probe may be nil to skip the REST check.
func New(catalog Catalog, probe Probe) *Verifier {
	return &Verifier{
		catalog: catalog,
		probe:   probe,
		logger:  logger.NewLogger("Verifier"),
	}
}

// Verify checks that every table exists with its declared columns, that row
// level security is on where configured and that each named policy is attached.
func (v *Verifier) Verify(ctx context.Context, tables []database.Table) (*Report, error) {
	report := &Report{Tables: len(tables)}
	for _, t := range tables {
		if err := v.verifyTable(ctx, t, report); err != nil {
			return report, fmt.Errorf("failed to verify %s: %w", t.QualifiedName(), err)
		}
	}
	if report.OK() {
		v.logger.Info("Verified %d tables, no drift", len(tables))
	} else {
		v.logger.Warn("Verified %d tables, %d drift items", len(tables), len(report.Drift))
	}
	return report, nil
}

func (v *Verifier) verifyTable(ctx context.Context, t database.Table, report *Report) error {
	name := t.QualifiedName()

	class, err := v.catalog.LookupTable(ctx, t.SchemaName(), t.Name)
	if err != nil {
		return err
	}
	if class == nil {
		report.add(name, DriftMissingTable, "table does not exist")
		return nil
	}

	columns, err := v.catalog.ListColumns(ctx, t.SchemaName(), t.Name)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c.ColumnName] = true
	}
	for _, c := range t.Columns {
		if !present[c.Name] {
			report.add(name, DriftMissingColumn, "column %s does not exist", c.Name)
		}
	}

	if t.RLSEnabled() {
		if !class.RowSecurity {
			report.add(name, DriftRLSDisabled, "row level security is not enabled")
		}
		if t.ForceRLS && !class.ForceRowSecurity {
			report.add(name, DriftRLSNotForced, "row level security is not forced")
		}
	}

	if len(t.Policies) > 0 {
		policies, err := v.catalog.ListPolicies(ctx, t.SchemaName(), t.Name)
		if err != nil {
			return err
		}
		byName := make(map[string]database.PgPoliciesSelect, len(policies))
		for _, p := range policies {
			byName[p.PolicyName] = p
		}
		for _, want := range t.Policies {
			got, ok := byName[want.Name]
			if !ok {
				report.add(name, DriftMissingPolicy, "policy %s is not attached", want.Name)
				continue
			}
			if detail := comparePolicy(want, got); detail != "" {
				report.add(name, DriftPolicyMismatch, "policy %s: %s", want.Name, detail)
			}
		}
	}

	if v.probe != nil {
		err := v.probe.Probe(ctx, t)
		switch {
		case err == nil:
		case errors.Is(err, dberr.ErrNotFound):
			report.add(name, DriftNotExposed, "table is not visible through the REST API")
		default:
			return err
		}
	}
	return nil
}

// comparePolicy checks the attributes Postgres reports verbatim. USING and
// WITH CHECK expressions are deparsed by the server and are not compared.
func comparePolicy(want database.Policy, got database.PgPoliciesSelect) string {
	var diffs []string
	if !strings.EqualFold(got.Cmd, want.CommandName()) {
		diffs = append(diffs, fmt.Sprintf("command is %s, want %s", got.Cmd, want.CommandName()))
	}
	wantMode := "PERMISSIVE"
	if want.Restrictive {
		wantMode = "RESTRICTIVE"
	}
	if !strings.EqualFold(got.Permissive, wantMode) {
		diffs = append(diffs, fmt.Sprintf("mode is %s, want %s", got.Permissive, wantMode))
	}
	if !sameRoles(want.RoleNames(), got.Roles) {
		diffs = append(diffs, fmt.Sprintf("roles are %s, want %s", strings.Join(got.Roles, ","), strings.Join(want.RoleNames(), ",")))
	}
	return strings.Join(diffs, "; ")
}

func sameRoles(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	seen := make(map[string]int, len(want))
	for _, r := range want {
		seen[strings.ToLower(r)]++
	}
	for _, r := range got {
		key := strings.ToLower(r)
		if seen[key] == 0 {
			return false
		}
		seen[key]--
	}
	return true
}
