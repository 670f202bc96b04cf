package postgres

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"

	"kddetl/internal/storage"
)

// boolPtr is a tiny helper to avoid repeating &[]bool literals in tests.
func boolPtr(v bool) *bool { return &v }

func TestBuildCreateSQL_DimensionTable(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:            "public.destination",
		AutoCreateTable: true,
		PrimaryKey:      &storage.PrimaryKeySpec{Name: "destination_id"},
		Columns: []storage.ColumnSpec{
			{Name: "dst_bytes", Type: storage.TypeBigInt},
			{Name: "dst_host_same_srv_rate", Type: storage.TypeFloat},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"dst_bytes", "dst_host_same_srv_rate"}}},
	}

	schemaSQL, baseSQL, err := buildCreateSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if schemaSQL != `CREATE SCHEMA IF NOT EXISTS "public";` {
		t.Fatalf("schemaSQL=%q", schemaSQL)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "public"."destination"`,
		`"destination_id" SERIAL PRIMARY KEY`,
		`"dst_bytes" BIGINT NOT NULL`,
		`"dst_host_same_srv_rate" DOUBLE PRECISION NOT NULL`,
		`UNIQUE ("dst_bytes", "dst_host_same_srv_rate")`,
	} {
		if !strings.Contains(baseSQL, want) {
			t.Fatalf("baseSQL missing %q: %q", want, baseSQL)
		}
	}
}

func TestBuildColumnDef_NullableReference(t *testing.T) {
	t.Parallel()

	def, err := buildColumnDef(storage.ColumnSpec{
		Name:       "attack_id",
		Type:       storage.TypeInt,
		References: "attack_types(attack_id)",
		Nullable:   boolPtr(true),
	})
	if err != nil {
		t.Fatalf("buildColumnDef: %v", err)
	}
	if def != `"attack_id" INTEGER REFERENCES "attack_types"("attack_id")` {
		t.Fatalf("def=%q", def)
	}

	if _, err := buildColumnDef(storage.ColumnSpec{Name: "x", Type: "varchar"}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	if _, err := buildColumnDef(storage.ColumnSpec{Name: "x", Type: "int", References: "bad"}); err == nil {
		t.Fatalf("expected error for malformed reference")
	}
}

func TestBuildBaseConstraints_RejectsUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := buildBaseConstraints(storage.TableSpec{
		Name:        "flags",
		Constraints: []storage.ConstraintSpec{{Kind: "check", Columns: []string{"x"}}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestBuildInsertReturningSQL(t *testing.T) {
	t.Parallel()

	sql, args := buildInsertReturningSQL("services", "service_id", []string{"service_name"}, [][]any{{"http"}, {"ftp"}})
	want := `INSERT INTO "services" ("service_name") VALUES ($1), ($2) RETURNING "service_id", "service_name"`
	if sql != want {
		t.Fatalf("sql=%q\nwant=%q", sql, want)
	}
	if diff := cmp.Diff([]any{"http", "ftp"}, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSelectAndTruncateSQL(t *testing.T) {
	t.Parallel()

	if got := buildSelectSQL("flags", "flag_id", []string{"flag_value"}); got != `SELECT "flag_id", "flag_value" FROM "flags"` {
		t.Fatalf("select=%q", got)
	}
	got := buildTruncateSQL([]string{"connections", "public.flags"})
	if got != `TRUNCATE TABLE "connections", "public"."flags" CASCADE` {
		t.Fatalf("truncate=%q", got)
	}
}

func TestIdentHelpers(t *testing.T) {
	t.Parallel()

	if got := pgIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("pgIdent=%q", got)
	}
	if diff := cmp.Diff(pgx.Identifier{"kdd", "connections"}, copyIdentifier("kdd.connections")); diff != "" {
		t.Fatalf("copyIdentifier mismatch:\n%s", diff)
	}
	if diff := cmp.Diff(pgx.Identifier{"connections"}, copyIdentifier("connections")); diff != "" {
		t.Fatalf("copyIdentifier mismatch:\n%s", diff)
	}
}

type fakeRows struct {
	data [][]any
	i    int
	err  error
}

func (f *fakeRows) Next() bool {
	if f.i >= len(f.data) {
		return false
	}
	f.i++
	return true
}
func (f *fakeRows) Values() ([]any, error) { return f.data[f.i-1], nil }
func (f *fakeRows) Err() error             { return f.err }

func TestScanKeyed(t *testing.T) {
	t.Parallel()

	rows := &fakeRows{data: [][]any{{int32(1), "tcp"}, {int64(2), "udp"}}}
	got, err := scanKeyed(rows, 1)
	if err != nil {
		t.Fatalf("scanKeyed: %v", err)
	}
	want := []storage.KeyedRow{{ID: 1, Values: []any{"tcp"}}, {ID: 2, Values: []any{"udp"}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	boom := errors.New("boom")
	if _, err := scanKeyed(&fakeRows{err: boom}, 1); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want boom", err)
	}
	if _, err := scanKeyed(&fakeRows{data: [][]any{{int64(1)}}}, 1); err == nil {
		t.Fatalf("expected width error")
	}
}
