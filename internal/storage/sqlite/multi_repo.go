package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"kddetl/internal/storage"
)

// maxParams stays under SQLITE_MAX_VARIABLE_NUMBER (32766 since 3.32).
const maxParams = 30000

// MultiRepo implements storage.MultiRepository for SQLite.
//
// Key design points vs Postgres:
//   - The pool is pinned to a single connection so ":memory:" databases and
//     PRAGMA foreign_keys survive across statements.
//   - Reset is DELETE inside one transaction, fact table first.
//   - Bools are stored as INTEGER 0/1 and rates as REAL (8-byte IEEE).
type MultiRepo struct {
	db *sql.DB
}

func init() {
	storage.RegisterMulti("sqlite", NewMulti)
}

func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	return Open(ctx, cfg.DSN)
}

// Open returns the concrete repository; tests use it directly.
func Open(ctx context.Context, dsn string) (*MultiRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &MultiRepo{db: db}, nil
}

func (r *MultiRepo) Close() { _ = r.db.Close() }

// EnsureTables creates tables flagged AutoCreateTable. Idempotent.
func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ResetTables deletes every row, in the given order, in one transaction.
func (r *MultiRepo) ResetTables(ctx context.Context, tables []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+sqlIdent(t)); err != nil {
			return fmt.Errorf("delete from %s: %w", t, err)
		}
	}
	return tx.Commit()
}

// InsertDimensionRows inserts rows with INSERT ... RETURNING in one
// transaction.
func (r *MultiRepo) InsertDimensionRows(ctx context.Context, table, idColumn string, columns []string, rows [][]any) ([]storage.KeyedRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]storage.KeyedRow, 0, len(rows))
	per := storage.RowsPerStatement(len(columns), maxParams, 0)
	for _, c := range storage.Chunks(len(rows), per) {
		q, args := buildInsertSQL(table, columns, rows[c[0]:c[1]])
		q += " RETURNING " + sqlIdent(idColumn) + ", " + joinIdentList(columns)

		got, err := queryKeyed(ctx, tx, q, args, len(columns))
		if err != nil {
			return nil, fmt.Errorf("insert into %s: %w", table, err)
		}
		out = append(out, got...)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MultiRepo) SelectDimensionRows(ctx context.Context, table, idColumn string, columns []string) ([]storage.KeyedRow, error) {
	q := fmt.Sprintf(`SELECT %s, %s FROM %s`, sqlIdent(idColumn), joinIdentList(columns), sqlIdent(table))
	out, err := queryKeyed(ctx, r.db, q, nil, len(columns))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return out, nil
}

// InsertFactRows writes rows as chunked multi-row INSERTs in one transaction.
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
	per := storage.RowsPerStatement(len(columns), maxParams, 0)
	for _, c := range storage.Chunks(len(rows), per) {
		q, args := buildInsertSQL(table, columns, rows[c[0]:c[1]])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s: %w", table, err)
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
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+sqlIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
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

// sqlIdent quotes an identifier for SQLite.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = sqlIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// buildInsertSQL renders a multi-row INSERT with ? placeholders.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		args = append(args, row[:len(columns)]...)
	}
	return b.String(), args
}

// buildCreateTableSQL renders CREATE TABLE IF NOT EXISTS. The primary key is
// INTEGER PRIMARY KEY AUTOINCREMENT so ids are never reused.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	defs := make([]string, 0, len(t.Columns)+len(t.Constraints)+1)
	if t.PrimaryKey != nil {
		defs = append(defs, sqlIdent(t.PrimaryKey.Name)+" INTEGER PRIMARY KEY AUTOINCREMENT")
	}
	for _, c := range t.Columns {
		typ, err := sqliteType(c.Type)
		if err != nil {
			return "", fmt.Errorf("table %s: column %s: %w", t.Name, c.Name, err)
		}
		def := sqlIdent(c.Name) + " " + typ
		if !c.IsNullable() {
			def += " NOT NULL"
		}
		if ref := strings.TrimSpace(c.References); ref != "" {
			open := strings.Index(ref, "(")
			if open <= 0 || !strings.HasSuffix(ref, ")") {
				return "", fmt.Errorf("table %s: column %s: bad reference %q", t.Name, c.Name, ref)
			}
			def += " REFERENCES " + sqlIdent(ref[:open]) + "(" + sqlIdent(ref[open+1:len(ref)-1]) + ")"
		}
		defs = append(defs, def)
	}
	for _, c := range t.Constraints {
		if !strings.EqualFold(c.Kind, "unique") || len(c.Columns) == 0 {
			return "", fmt.Errorf("table %s: unsupported constraint %q", t.Name, c.Kind)
		}
		defs = append(defs, "UNIQUE ("+joinIdentList(c.Columns)+")")
	}
	if len(defs) == 0 {
		return "", fmt.Errorf("table %s: no columns", t.Name)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(t.Name), strings.Join(defs, ", ")), nil
}

func sqliteType(logical string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case storage.TypeInt, storage.TypeBigInt, storage.TypeBool:
		return "INTEGER", nil
	case storage.TypeFloat:
		return "REAL", nil
	case storage.TypeText:
		return "TEXT", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", logical)
	}
}
