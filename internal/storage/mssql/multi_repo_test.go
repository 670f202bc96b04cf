package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"kddetl/internal/storage"
)

type fakeResult struct{ n int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, nil }

// fakeRows yields (id, value) pairs.
type fakeRows struct {
	data [][]any
	i    int
}

func (f *fakeRows) Next() bool {
	if f.i >= len(f.data) {
		return false
	}
	f.i++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.data[f.i-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = row[i].(int64)
		case *any:
			*p = row[i]
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

func (f *fakeRows) Err() error   { return nil }
func (f *fakeRows) Close() error { return nil }

type fakeConn struct {
	stmts     []string
	argCounts []int
	nextID    int64
	failOn    string
	commits   int
	rollbacks int
}

func (f *fakeConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.stmts = append(f.stmts, query)
	f.argCounts = append(f.argCounts, len(args))
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, errors.New("exec failed")
	}
	return fakeResult{n: int64(strings.Count(query, "("))}, nil
}

func (f *fakeConn) QueryContext(ctx context.Context, query string, args ...any) (rowsScanner, error) {
	f.stmts = append(f.stmts, query)
	f.argCounts = append(f.argCounts, len(args))
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, errors.New("query failed")
	}
	rows := &fakeRows{}
	for _, a := range args {
		f.nextID++
		rows.data = append(rows.data, []any{f.nextID, a})
	}
	return rows, nil
}

func (f *fakeConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	return &fakeTx{c: f}, nil
}

func (f *fakeConn) Close() error { return nil }

type fakeTx struct {
	c    *fakeConn
	done bool
}

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.c.ExecContext(ctx, query, args...)
}

func (t *fakeTx) QueryContext(ctx context.Context, query string, args ...any) (rowsScanner, error) {
	return t.c.QueryContext(ctx, query, args...)
}

func (t *fakeTx) Commit() error {
	t.done = true
	t.c.commits++
	return nil
}

func (t *fakeTx) Rollback() error {
	if !t.done {
		t.c.rollbacks++
	}
	return nil
}

func TestResetTables_DeletesInOrderAndCommits(t *testing.T) {
	t.Parallel()

	c := &fakeConn{}
	r := &MultiRepo{db: c}
	if err := r.ResetTables(context.Background(), []string{"connections", "dbo.flags"}); err != nil {
		t.Fatalf("ResetTables: %v", err)
	}
	if len(c.stmts) != 2 || c.stmts[0] != "DELETE FROM [connections]" || c.stmts[1] != "DELETE FROM [dbo].[flags]" {
		t.Fatalf("stmts=%q", c.stmts)
	}
	if c.commits != 1 || c.rollbacks != 0 {
		t.Fatalf("commits=%d rollbacks=%d", c.commits, c.rollbacks)
	}
}

func TestResetTables_RollsBackOnFailure(t *testing.T) {
	t.Parallel()

	c := &fakeConn{failOn: "[flags]"}
	r := &MultiRepo{db: c}
	err := r.ResetTables(context.Background(), []string{"connections", "flags", "services"})
	if err == nil || !strings.Contains(err.Error(), "flags") {
		t.Fatalf("err=%v", err)
	}
	if c.commits != 0 || c.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d", c.commits, c.rollbacks)
	}
	if len(c.stmts) != 2 {
		t.Fatalf("must stop at first failure; stmts=%q", c.stmts)
	}
}

func TestInsertDimensionRows_ChunksAndCollectsIDs(t *testing.T) {
	t.Parallel()

	c := &fakeConn{}
	r := &MultiRepo{db: c}

	rows := make([][]any, 2500)
	for i := range rows {
		rows[i] = []any{i}
	}
	got, err := r.InsertDimensionRows(context.Background(), "services", "service_id", []string{"service_name"}, rows)
	if err != nil {
		t.Fatalf("InsertDimensionRows: %v", err)
	}
	if len(got) != 2500 {
		t.Fatalf("keyed=%d, want 2500", len(got))
	}
	if got[0].ID != 1 || got[2499].ID != 2500 || got[2499].Values[0] != 2499 {
		t.Fatalf("unexpected keyed rows: first=%v last=%v", got[0], got[2499])
	}
	// 1 column => capped at 1000 rows per statement
	if len(c.stmts) != 3 || c.argCounts[0] != 1000 || c.argCounts[2] != 500 {
		t.Fatalf("stmts=%d argCounts=%v", len(c.stmts), c.argCounts)
	}
	if !strings.Contains(c.stmts[0], "OUTPUT INSERTED.[service_id], INSERTED.[service_name] VALUES (@p1)") {
		t.Fatalf("sql=%q", c.stmts[0][:120])
	}
	if c.commits != 1 {
		t.Fatalf("commits=%d, want 1", c.commits)
	}
}

func TestInsertFactRows_RespectsParameterLimit(t *testing.T) {
	t.Parallel()

	c := &fakeConn{}
	r := &MultiRepo{db: c}

	cols := make([]string, 18)
	for i := range cols {
		cols[i] = "c"
	}
	rows := make([][]any, 300)
	for i := range rows {
		rows[i] = make([]any, 18)
	}
	if _, err := r.InsertFactRows(context.Background(), "connections", cols, rows); err != nil {
		t.Fatalf("InsertFactRows: %v", err)
	}
	for _, n := range c.argCounts {
		if n > 2100 {
			t.Fatalf("statement with %d parameters exceeds SQL Server limit", n)
		}
	}
	// 2000/18 = 111 rows per statement
	if len(c.stmts) != 3 || c.argCounts[0] != 111*18 {
		t.Fatalf("stmts=%d argCounts=%v", len(c.stmts), c.argCounts)
	}
}

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	yes := true
	ddl, err := buildCreateSQL(storage.TableSpec{
		Name:       "attack_types",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "attack_id"},
		Columns: []storage.ColumnSpec{
			{Name: "attack_name", Type: storage.TypeText},
			{Name: "category_id", Type: storage.TypeInt, References: "attack_categories(category_id)", Nullable: &yes},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"attack_name"}}},
	})
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	want := "IF OBJECT_ID(N'attack_types', N'U') IS NULL BEGIN CREATE TABLE [attack_types] (" +
		"[attack_id] INT IDENTITY(1,1) PRIMARY KEY, " +
		"[attack_name] NVARCHAR(100) NOT NULL, " +
		"[category_id] INT NULL REFERENCES [attack_categories] ([category_id]), " +
		"UNIQUE ([attack_name])); END;"
	if ddl != want {
		t.Fatalf("ddl=%q\nwant=%q", ddl, want)
	}

	if _, err := mssqlType("json"); err == nil {
		t.Fatalf("expected unsupported type error")
	}
	if ft, _ := mssqlType(storage.TypeFloat); ft != "FLOAT" {
		t.Fatalf("float must map to FLOAT(53); got %q", ft)
	}
}

func TestMssqlIdent(t *testing.T) {
	t.Parallel()

	if got := mssqlIdent("we]ird"); got != "[we]]ird]" {
		t.Fatalf("mssqlIdent=%q", got)
	}
	if got := mssqlTableIdent("dbo.flags"); got != "[dbo].[flags]" {
		t.Fatalf("mssqlTableIdent=%q", got)
	}
}
