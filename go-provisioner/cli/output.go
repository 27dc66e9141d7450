package cli

import (
	"fmt"
	"io"

	"github.com/timewave/rls-provisioner/go-provisioner/database"
	"github.com/timewave/rls-provisioner/go-provisioner/dbutil"
	"github.com/timewave/rls-provisioner/go-provisioner/verify"
	"gopkg.in/yaml.v3"
)

type planDocument struct {
	Tables     []database.Table   `yaml:"tables"`
	Statements []dbutil.Statement `yaml:"statements"`
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

func writePlan(w io.Writer, output string, tables []database.Table, plan []dbutil.Statement) error {
	if output == "yaml" {
		return writeYAML(w, planDocument{Tables: tables, Statements: plan})
	}
	for _, stmt := range plan {
		if _, err := fmt.Fprintf(w, "-- %s %s\n%s;\n\n", stmt.Kind, stmt.Table, stmt.SQL); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d statements for %d tables\n", len(plan), len(tables))
	return err
}

func writeReport(w io.Writer, output string, report *verify.Report) error {
	if output == "yaml" {
		return writeYAML(w, report)
	}
	if report.OK() {
		_, err := fmt.Fprintf(w, "OK: %d tables match the configuration\n", report.Tables)
		return err
	}
	for _, d := range report.Drift {
		if _, err := fmt.Fprintf(w, "DRIFT %s\n", d); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d drift items across %d tables\n", len(report.Drift), report.Tables)
	return err
}
