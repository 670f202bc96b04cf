package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"kddetl/internal/storage"
)

// SQL Server rejects statements with more than 2100 parameters and row
// constructors with more than 1000 rows.
const (
	maxParams = 2000
	maxRows   = 1000
)

// MultiRepo implements storage.MultiRepository for Microsoft SQL Server.
//
// This implementation supports:
//   - DELETE-based resets inside one transaction (TRUNCATE is refused on
//     tables referenced by a foreign key).
//   - Dimension inserts with OUTPUT INSERTED returning generated identities.
//   - Chunked multi-row fact inserts.
//
// Note on driver registration:
//   - This package does NOT blank-import a SQL Server driver. The "sqlserver"
//     driver is registered by internal/storage/all.
type MultiRepo struct {
	db dbConn
}

func init() {
	storage.RegisterMulti("mssql", NewMulti)
}

// NewMulti constructs a MultiRepo using database/sql and the "sqlserver" driver.
//
// This method validates connectivity via PingContext.
func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}

	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &MultiRepo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *MultiRepo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates tables with AutoCreateTable behind an OBJECT_ID guard.
func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ResetTables deletes every row of tables in order, in one transaction.
func (r *MultiRepo) ResetTables(ctx context.Context, tables []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+mssqlTableIdent(t)); err != nil {
			return fmt.Errorf("mssql: delete from %s: %w", t, err)
		}
	}
	return tx.Commit()
}

// InsertDimensionRows inserts rows in chunks and reads the generated ids from
// the OUTPUT clause.
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

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]storage.KeyedRow, 0, len(rows))
	per := storage.RowsPerStatement(len(columns), maxParams, maxRows)
	for _, c := range storage.Chunks(len(rows), per) {
		q, args := buildInsertOutputSQL(table, idColumn, columns, rows[c[0]:c[1]])
		got, err := queryKeyed(ctx, tx, q, args, len(columns))
		if err != nil {
			return nil, fmt.Errorf("mssql: insert into %s: %w", table, err)
		}
		out = append(out, got...)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MultiRepo) SelectDimensionRows(ctx context.Context, table, idColumn string, columns []string) ([]storage.KeyedRow, error) {
	q := fmt.Sprintf("SELECT %s, %s FROM %s", mssqlIdent(idColumn), joinIdentList(columns), mssqlTableIdent(table))
	out, err := queryKeyed(ctx, r.db, q, nil, len(columns))
	if err != nil {
		return nil, fmt.Errorf("mssql: select %s: %w", table, err)
	}
	return out, nil
}

// InsertFactRows performs chunked multi-row INSERTs in one transaction.
func (r *MultiRepo) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	per := storage.RowsPerStatement(len(columns), maxParams, maxRows)
	for _, c := range storage.Chunks(len(rows), per) {
		q, args := buildBulkInsertSQL(table, columns, rows[c[0]:c[1]])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: insert into %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *MultiRepo) CountRows(ctx context.Context, table string) (int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT COUNT_BIG(*) FROM "+mssqlTableIdent(table))
	if err != nil {
		return 0, fmt.Errorf("mssql: count %s: %w", table, err)
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (rowsScanner, error)
}

func queryKeyed(ctx context.Context, q querier, query string, args []any, width int) ([]storage.KeyedRow, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.KeyedRow
	for rows.Next() {
		var id int64
		vals := make([]any, width)
		dests := make([]any, width+1)
		dests[0] = &id
		for i := range vals {
			dests[i+1] = &vals[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		out = append(out, storage.KeyedRow{ID: id, Values: vals})
	}
	return out, rows.Err()
}

// buildInsertOutputSQL returns INSERT ... OUTPUT INSERTED.<id>, INSERTED.<cols> VALUES ...
func buildInsertOutputSQL(table, idColumn string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") OUTPUT INSERTED.")
	b.WriteString(mssqlIdent(idColumn))
	for _, c := range columns {
		b.WriteString(", INSERTED.")
		b.WriteString(mssqlIdent(c))
	}
	args := writeValues(&b, columns, rows)
	return b.String(), args
}

// buildBulkInsertSQL returns a multi-row INSERT with @pN placeholders.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(")")
	args := writeValues(&b, columns, rows)
	return b.String(), args
}

func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
	b.WriteString(" VALUES ")
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
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

// buildCreateSQL builds idempotent CREATE TABLE SQL.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		if strings.TrimSpace(t.PrimaryKey.Name) == "" {
			return "", fmt.Errorf("mssql: primary key name is empty")
		}
		parts = append(parts, fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(t.PrimaryKey.Name)))
	}
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, def)
	}
	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return "", fmt.Errorf("%s unique constraint has no columns", t.Name)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdentList(con.Columns)))
	}
	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlColumnDef builds a SQL Server column definition from storage.ColumnSpec.
func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}
	typ, err := mssqlType(c.Type)
	if err != nil {
		return "", fmt.Errorf("mssql: column %s: %w", c.Name, err)
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if c.IsNullable() {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if ref := strings.TrimSpace(c.References); ref != "" {
		open := strings.Index(ref, "(")
		if open <= 0 || !strings.HasSuffix(ref, ")") {
			return "", fmt.Errorf("mssql: column %s: bad reference %q", c.Name, ref)
		}
		b.WriteString(" REFERENCES ")
		b.WriteString(mssqlTableIdent(ref[:open]))
		b.WriteString(" (")
		b.WriteString(mssqlIdent(ref[open+1 : len(ref)-1]))
		b.WriteString(")")
	}
	return b.String(), nil
}

// mssqlType maps logical types. Text is bounded so it can carry a UNIQUE
// constraint; FLOAT is FLOAT(53), an 8-byte double.
func mssqlType(logical string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case storage.TypeInt:
		return "INT", nil
	case storage.TypeBigInt:
		return "BIGINT", nil
	case storage.TypeFloat:
		return "FLOAT", nil
	case storage.TypeBool:
		return "BIT", nil
	case storage.TypeText:
		return "NVARCHAR(100)", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", logical)
	}
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.connections" -> [dbo].[connections]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func joinIdentList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = mssqlIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (rowsScanner, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (rowsScanner, error)
	Commit() error
	Rollback() error
}

// rowsScanner is the part of *sql.Rows this package reads.
type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (rowsScanner, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

// sqlTx wraps *sql.Tx to implement txConn.
type sqlTx struct {
	tx *sql.Tx
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *sqlTx) QueryContext(ctx context.Context, query string, args ...any) (rowsScanner, error) {
	return s.tx.QueryContext(ctx, query, args...)
}

func (s *sqlTx) Commit() error { return s.tx.Commit() }

func (s *sqlTx) Rollback() error { return s.tx.Rollback() }

// compile-time sanity checks (no runtime cost).
var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sqlTx)(nil)
)
