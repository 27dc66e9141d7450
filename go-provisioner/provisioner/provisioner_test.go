package provisioner

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timewave/rls-provisioner/go-provisioner/database"
	"github.com/timewave/rls-provisioner/go-provisioner/dberr"
	"github.com/timewave/rls-provisioner/go-provisioner/dbutil"
	"github.com/timewave/rls-provisioner/go-provisioner/logger"
)

type call struct {
	op     string
	table  string
	policy string
}

type fakeBackend struct {
	calls   []call
	failOn  string
	failErr error
}

func (f *fakeBackend) record(op, table, policy string) error {
	f.calls = append(f.calls, call{op: op, table: table, policy: policy})
	if f.failOn != "" && f.failOn == op+":"+table+":"+policy {
		return f.failErr
	}
	return nil
}

func (f *fakeBackend) CreateTable(_ context.Context, t database.Table) error {
	return f.record("create_table", t.Name, "")
}

func (f *fakeBackend) EnableRLS(_ context.Context, t database.Table) error {
	return f.record("enable_rls", t.Name, "")
}

func (f *fakeBackend) CreatePolicy(_ context.Context, t database.Table, p database.Policy) error {
	return f.record("create_policy", t.Name, p.Name)
}

// fakeTxBackend discards the calls of a table whose transaction fails.
type fakeTxBackend struct {
	fakeBackend
	committed []call
	reloads   int
}

func (f *fakeTxBackend) InTx(_ context.Context, fn func(Backend) error) error {
	f.calls = nil
	if err := fn(&f.fakeBackend); err != nil {
		return err
	}
	f.committed = append(f.committed, f.calls...)
	return nil
}

func (f *fakeTxBackend) ReloadSchema(context.Context) error {
	f.reloads++
	return nil
}

func quietProvisioner(b Backend) *Provisioner {
	return New(b).WithLogger(logger.NewWithWriter("Provisioner", &bytes.Buffer{}, logger.DEBUG))
}

func boolPtr(b bool) *bool { return &b }

var (
	sampleTable = database.Table{
		Name: "your_table_name",
		Columns: []database.Column{
			{Name: "id", Type: "Integer"},
			{Name: "data", Type: "Text"},
		},
		Policies: []database.Policy{{Name: "sample_policy", Definition: "true"}},
	}
	secondTable = database.Table{
		Name:     "notes",
		Columns:  []database.Column{{Name: "id", Type: "uuid", PrimaryKey: true}},
		Policies: []database.Policy{{Name: "read", Command: "SELECT", Definition: "true"}, {Name: "write", Command: "INSERT", WithCheck: "true"}},
	}
)

func TestApply(t *testing.T) {
	t.Run("create, enable, attach in order", func(t *testing.T) {
		backend := &fakeBackend{}
		result, err := quietProvisioner(backend).Apply(context.Background(), []database.Table{sampleTable})

		require.NoError(t, err)
		assert.Equal(t, []call{
			{op: "create_table", table: "your_table_name"},
			{op: "enable_rls", table: "your_table_name"},
			{op: "create_policy", table: "your_table_name", policy: "sample_policy"},
		}, backend.calls)
		assert.Equal(t, []Step{
			{Kind: dbutil.KindCreateTable, Table: "public.your_table_name"},
			{Kind: dbutil.KindEnableRLS, Table: "public.your_table_name"},
			{Kind: dbutil.KindCreatePolicy, Table: "public.your_table_name", Policy: "sample_policy"},
		}, result.Steps)
	})

	t.Run("rls disabled skips enable and policies", func(t *testing.T) {
		backend := &fakeBackend{}
		table := database.Table{Name: "open", EnableRLS: boolPtr(false), Columns: sampleTable.Columns}
		_, err := quietProvisioner(backend).Apply(context.Background(), []database.Table{table})

		require.NoError(t, err)
		assert.Equal(t, []call{{op: "create_table", table: "open"}}, backend.calls)
	})

	t.Run("first failure stops the run", func(t *testing.T) {
		cause := dberr.Classify("enable rls", &pq.Error{Code: "42501", Message: "must be owner"})
		backend := &fakeBackend{failOn: "enable_rls:your_table_name:", failErr: cause}
		result, err := quietProvisioner(backend).Apply(context.Background(), []database.Table{sampleTable, secondTable})

		require.Error(t, err)
		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, dbutil.KindEnableRLS, stepErr.Step.Kind)
		assert.ErrorIs(t, err, dberr.ErrUnauthorized)
		assert.Equal(t, "failed to enable_rls on public.your_table_name: enable rls: unauthorized (42501): pq: must be owner", err.Error())

		assert.Len(t, backend.calls, 2, "nothing runs after the failing call")
		assert.Len(t, result.Steps, 1)
	})

	t.Run("invalid table rejected before any call", func(t *testing.T) {
		backend := &fakeBackend{}
		bad := database.Table{Name: "bad", Columns: []database.Column{{Name: "c", Type: "not a type!"}}}
		_, err := quietProvisioner(backend).Apply(context.Background(), []database.Table{sampleTable, bad})

		assert.ErrorContains(t, err, "unsupported column type")
		assert.Empty(t, backend.calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		backend := &fakeBackend{}
		_, err := quietProvisioner(backend).Apply(ctx, []database.Table{sampleTable})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, backend.calls)
	})
}

func TestApplyTransactional(t *testing.T) {
	t.Run("each table commits separately and schema is reloaded", func(t *testing.T) {
		backend := &fakeTxBackend{}
		result, err := quietProvisioner(backend).Apply(context.Background(), []database.Table{sampleTable, secondTable})

		require.NoError(t, err)
		assert.Len(t, backend.committed, 7)
		assert.Len(t, result.Steps, 7)
		assert.Equal(t, 1, backend.reloads)
	})

	t.Run("failed table is rolled back, earlier tables stay", func(t *testing.T) {
		backend := &fakeTxBackend{}
		backend.failOn = "create_policy:notes:write"
		backend.failErr = errors.New("boom")
		result, err := quietProvisioner(backend).Apply(context.Background(), []database.Table{sampleTable, secondTable})

		require.Error(t, err)
		assert.Len(t, backend.committed, 3, "only the first table committed")
		assert.Len(t, result.Steps, 3, "steps of the rolled back table are not reported")
		assert.Equal(t, 0, backend.reloads)
	})
}

func TestPlan(t *testing.T) {
	plan, err := New(nil).Plan([]database.Table{sampleTable, secondTable})
	require.NoError(t, err)

	var kinds []dbutil.StatementKind
	for _, s := range plan {
		kinds = append(kinds, s.Kind)
	}
	assert.Equal(t, []dbutil.StatementKind{
		dbutil.KindCreateTable, dbutil.KindEnableRLS, dbutil.KindDropPolicy, dbutil.KindCreatePolicy,
		dbutil.KindCreateTable, dbutil.KindEnableRLS,
		dbutil.KindDropPolicy, dbutil.KindCreatePolicy, dbutil.KindDropPolicy, dbutil.KindCreatePolicy,
	}, kinds)
}
