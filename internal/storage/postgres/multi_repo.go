package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kddetl/internal/storage"
)

// dimensionChunk bounds rows per INSERT ... RETURNING statement, well below
// the 65535 bind parameter limit for the widest dimension (destination).
const dimensionChunk = 2000

/*
MultiRepo implements storage.MultiRepository for Postgres.

It provides:
  - TRUNCATE ... CASCADE resets
  - Dimension inserts with INSERT ... RETURNING
  - Fact loads through the COPY protocol
*/
type MultiRepo struct {
	pool *pgxpool.Pool
}

// NewMulti creates a new Postgres-backed MultiRepo. The pool is pinged so a
// bad DSN or unreachable server fails before anything is modified.
func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &MultiRepo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *MultiRepo) Close() {
	r.pool.Close()
}

// EnsureTables creates tables when AutoCreateTable is enabled. Idempotent.
func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		schemaSQL, baseSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, baseSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ResetTables empties all tables in one TRUNCATE ... CASCADE statement.
func (r *MultiRepo) ResetTables(ctx context.Context, tables []string) error {
	if len(tables) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, buildTruncateSQL(tables)); err != nil {
		return fmt.Errorf("truncate %s: %w", strings.Join(tables, ", "), err)
	}
	return nil
}

// InsertDimensionRows inserts rows in chunks and collects the generated ids
// from RETURNING.
func (r *MultiRepo) InsertDimensionRows(
	ctx context.Context,
	table string,
	idColumn string,
	columns []string,
	rows [][]any,
) ([]storage.KeyedRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if table == "" || idColumn == "" || len(columns) == 0 {
		return nil, fmt.Errorf("InsertDimensionRows: table, idColumn and columns are required")
	}

	out := make([]storage.KeyedRow, 0, len(rows))
	for _, c := range storage.Chunks(len(rows), dimensionChunk) {
		sql, args := buildInsertReturningSQL(table, idColumn, columns, rows[c[0]:c[1]])
		got, err := r.queryKeyed(ctx, sql, args, len(columns))
		if err != nil {
			return nil, fmt.Errorf("InsertDimensionRows: insert into %s: %w", table, err)
		}
		out = append(out, got...)
	}
	return out, nil
}

// SelectDimensionRows reads the id and the requested columns of every row.
func (r *MultiRepo) SelectDimensionRows(
	ctx context.Context,
	table string,
	idColumn string,
	columns []string,
) ([]storage.KeyedRow, error) {
	if table == "" || idColumn == "" || len(columns) == 0 {
		return nil, fmt.Errorf("SelectDimensionRows: table, idColumn and columns are required")
	}
	out, err := r.queryKeyed(ctx, buildSelectSQL(table, idColumn, columns), nil, len(columns))
	if err != nil {
		return nil, fmt.Errorf("SelectDimensionRows: query %s: %w", table, err)
	}
	return out, nil
}

// InsertFactRows streams rows with COPY FROM STDIN.
func (r *MultiRepo) InsertFactRows(
	ctx context.Context,
	table string,
	columns []string,
	rows [][]any,
) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := r.pool.CopyFrom(ctx, copyIdentifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

// CountRows returns SELECT COUNT(*) for table.
func (r *MultiRepo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, pgTableIdent(table))
	if err := r.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// queryKeyed runs a statement yielding (id, col1..colN) rows.
func (r *MultiRepo) queryKeyed(ctx context.Context, sql string, args []any, width int) ([]storage.KeyedRow, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeyed(rows, width)
}

// pgxRows is the subset of pgx.Rows used by scanKeyed.
type pgxRows interface {
	Next() bool
	Values() ([]any, error)
	Err() error
}

func scanKeyed(rows pgxRows, width int) ([]storage.KeyedRow, error) {
	var out []storage.KeyedRow
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		if len(vals) != width+1 {
			return nil, fmt.Errorf("got %d columns, want %d", len(vals), width+1)
		}
		id, err := storage.AsInt64(vals[0])
		if err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, storage.KeyedRow{ID: id, Values: vals[1:]})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// buildInsertReturningSQL constructs a multi-row INSERT that returns the
// generated id followed by the inserted columns.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func buildInsertReturningSQL(table, idColumn string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	writeIdentList(&b, columns)
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(" RETURNING ")
	b.WriteString(pgIdent(idColumn))
	b.WriteString(", ")
	writeIdentList(&b, columns)
	return b.String(), args
}

func buildSelectSQL(table, idColumn string, columns []string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(pgIdent(idColumn))
	b.WriteString(", ")
	writeIdentList(&b, columns)
	b.WriteString(" FROM ")
	b.WriteString(pgTableIdent(table))
	return b.String()
}

func buildTruncateSQL(tables []string) string {
	quoted := make([]string, len(tables))
	for i, t := range tables {
		quoted[i] = pgTableIdent(t)
	}
	return "TRUNCATE TABLE " + strings.Join(quoted, ", ") + " CASCADE"
}

func writeIdentList(b *strings.Builder, cols []string) {
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
}

// buildCreateSQL generates DDL for a table.
//
// Outputs:
//   - schemaSQL: optional CREATE SCHEMA statement when t.Name is schema-qualified.
//   - baseSQL:   CREATE TABLE IF NOT EXISTS for the table.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, baseSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}

	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	cols := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		pk := strings.TrimSpace(t.PrimaryKey.Name)
		if pk == "" {
			return "", "", fmt.Errorf("table %s: primary_key.name is required", t.Name)
		}
		cols = append(cols, fmt.Sprintf(`%s SERIAL PRIMARY KEY`, pgIdent(pk)))
	}
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}
	if len(cols) == 0 {
		return "", "", fmt.Errorf("table %s: no columns", t.Name)
	}

	constraints, err := buildBaseConstraints(t)
	if err != nil {
		return "", "", err
	}
	cols = append(cols, constraints...)

	baseSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgTableIdent(t.Name), strings.Join(cols, ", "))
	return schemaSQL, baseSQL, nil
}

// buildColumnDef renders a single column definition. Columns are NOT NULL
// unless Nullable is set; references are inline.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}
	typ, err := pgType(c.Type)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", name, err)
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	if ref := strings.TrimSpace(c.References); ref != "" {
		tbl, col, err := splitReference(ref)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", name, err)
		}
		b.WriteString(" REFERENCES ")
		b.WriteString(pgTableIdent(tbl))
		b.WriteString("(")
		b.WriteString(pgIdent(col))
		b.WriteString(")")
	}
	return b.String(), nil
}

func pgType(logical string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case storage.TypeInt:
		return "INTEGER", nil
	case storage.TypeBigInt:
		return "BIGINT", nil
	case storage.TypeFloat:
		return "DOUBLE PRECISION", nil
	case storage.TypeBool:
		return "BOOLEAN", nil
	case storage.TypeText:
		return "TEXT", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", logical)
	}
}

// buildBaseConstraints generates table-level UNIQUE constraints.
func buildBaseConstraints(t storage.TableSpec) ([]string, error) {
	out := make([]string, 0, len(t.Constraints))
	for _, c := range t.Constraints {
		switch strings.ToLower(strings.TrimSpace(c.Kind)) {
		case "unique":
			if len(c.Columns) == 0 {
				return nil, fmt.Errorf("table %s: unique constraint requires columns", t.Name)
			}
			var b strings.Builder
			b.WriteString("UNIQUE (")
			writeIdentList(&b, c.Columns)
			b.WriteString(")")
			out = append(out, b.String())
		default:
			return nil, fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, c.Kind)
		}
	}
	return out, nil
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "public.connections" => ("public", "connections")
//   - "connections"        => ("", "connections")
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// splitReference parses "table(column)".
func splitReference(ref string) (table, column string, err error) {
	open := strings.Index(ref, "(")
	if open <= 0 || !strings.HasSuffix(ref, ")") {
		return "", "", fmt.Errorf("reference %q must look like table(column)", ref)
	}
	return strings.TrimSpace(ref[:open]), strings.TrimSpace(ref[open+1 : len(ref)-1]), nil
}

// pgIdent quotes a single identifier.
func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// pgTableIdent quotes a possibly schema-qualified table name.
func pgTableIdent(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgIdent(table)
	}
	return pgIdent(schema) + "." + pgIdent(table)
}

func copyIdentifier(name string) pgx.Identifier {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgx.Identifier{table}
	}
	return pgx.Identifier{schema, table}
}
