package verify

import (
	"context"
	"fmt"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
	"github.com/timewave/rls-provisioner/go-provisioner/database"
	"github.com/timewave/rls-provisioner/go-provisioner/dberr"
)

// Probe checks that a table is reachable through the Supabase REST API.
type Probe interface {
	Probe(ctx context.Context, table database.Table) error
}

// SupabaseProbe issues a one row select through PostgREST.
type SupabaseProbe struct {
	from   func(table string) *postgrest.QueryBuilder
	schema string
}

func NewSupabaseProbe(url, key string) (*SupabaseProbe, error) {
	if url == "" || key == "" {
		return nil, dberr.New(dberr.Malformed, "connect supabase", fmt.Errorf("supabase url and key are required"))
	}
	client, err := supa.NewClient(url, key, &supa.ClientOptions{})
	if err != nil {
		return nil, dberr.Classify("connect supabase", err)
	}
	return &SupabaseProbe{from: client.From, schema: database.DefaultSchema}, nil
}

// Probe returns a classified error; a table missing from the REST schema
// cache comes back as dberr.ErrNotFound. Tables outside the exposed schema are
// not probed.
func (p *SupabaseProbe) Probe(ctx context.Context, table database.Table) error {
	if table.SchemaName() != p.schema {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := p.from(table.Name).Select("*", "", false).Limit(1, "").Execute()
	return dberr.Classify("probe "+table.QualifiedName(), err)
}
