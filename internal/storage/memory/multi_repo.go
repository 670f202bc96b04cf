// Package memory is an in-process storage.MultiRepository. It backs dry runs
// (storage.kind "memory") and the engine tests.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"kddetl/internal/storage"
)

func init() {
	storage.RegisterMulti("memory", func(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
		return NewFromDSN(cfg.DSN)
	})
}

// Options tune the repository.
type Options struct {
	// NoReturnedKeys makes InsertDimensionRows return (nil, nil), like a store
	// without RETURNING support.
	NoReturnedKeys bool
}

type table struct {
	spec    storage.TableSpec
	columns []string
	rows    []storage.KeyedRow
	nextID  int64

	// one index per UNIQUE constraint: joined normalized values -> present
	unique []map[string]struct{}
}

// MultiRepo keeps tables in maps guarded by a mutex.
type MultiRepo struct {
	opt Options

	mu     sync.Mutex
	tables map[string]*table
	closed bool
}

// New returns an empty repository.
func New(opt Options) *MultiRepo {
	return &MultiRepo{opt: opt, tables: map[string]*table{}}
}

// NewFromDSN accepts "", "memory://" or "memory://?returning=false".
func NewFromDSN(dsn string) (*MultiRepo, error) {
	var opt Options
	if strings.TrimSpace(dsn) != "" {
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("memory: parse dsn: %w", err)
		}
		if u.Query().Get("returning") == "false" {
			opt.NoReturnedKeys = true
		}
	}
	return New(opt), nil
}

func (r *MultiRepo) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// EnsureTables registers every spec. Unlike the SQL backends the memory store
// has nothing to pre-exist, so AutoCreateTable is ignored.
func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, spec := range tables {
		if spec.Name == "" {
			return fmt.Errorf("memory: table name is empty")
		}
		if _, ok := r.tables[spec.Name]; ok {
			continue
		}
		t := &table{spec: spec, columns: spec.ColumnNames(), nextID: 1}
		for _, c := range spec.Constraints {
			if strings.EqualFold(c.Kind, "unique") {
				t.unique = append(t.unique, map[string]struct{}{})
			}
		}
		r.tables[spec.Name] = t
	}
	return nil
}

func (r *MultiRepo) ResetTables(ctx context.Context, tables []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range tables {
		t, err := r.lookup(name)
		if err != nil {
			return err
		}
		t.rows = nil
		for i := range t.unique {
			t.unique[i] = map[string]struct{}{}
		}
	}
	return nil
}

func (r *MultiRepo) InsertDimensionRows(ctx context.Context, name, idColumn string, columns []string, rows [][]any) ([]storage.KeyedRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if t.spec.PrimaryKey == nil || t.spec.PrimaryKey.Name != idColumn {
		return nil, fmt.Errorf("memory: %s: unknown id column %q", name, idColumn)
	}
	inserted, err := t.insert(columns, rows)
	if err != nil {
		return nil, err
	}
	if r.opt.NoReturnedKeys {
		return nil, nil
	}
	return t.project(inserted, columns)
}

func (r *MultiRepo) SelectDimensionRows(ctx context.Context, name, idColumn string, columns []string) ([]storage.KeyedRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if t.spec.PrimaryKey == nil || t.spec.PrimaryKey.Name != idColumn {
		return nil, fmt.Errorf("memory: %s: unknown id column %q", name, idColumn)
	}
	return t.project(t.rows, columns)
}

func (r *MultiRepo) InsertFactRows(ctx context.Context, name string, columns []string, rows [][]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.lookup(name)
	if err != nil {
		return 0, err
	}
	inserted, err := t.insert(columns, rows)
	if err != nil {
		return 0, err
	}
	return int64(len(inserted)), nil
}

func (r *MultiRepo) CountRows(ctx context.Context, name string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.lookup(name)
	if err != nil {
		return 0, err
	}
	return int64(len(t.rows)), nil
}

// Rows returns a copy of every row of the named table, values ordered like
// the table's declared columns.
func (r *MultiRepo) Rows(name string) []storage.KeyedRow {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[name]
	if !ok {
		return nil
	}
	out := make([]storage.KeyedRow, len(t.rows))
	for i, row := range t.rows {
		out[i] = storage.KeyedRow{ID: row.ID, Values: append([]any(nil), row.Values...)}
	}
	return out
}

func (r *MultiRepo) lookup(name string) (*table, error) {
	if r.closed {
		return nil, fmt.Errorf("memory: repository is closed")
	}
	t, ok := r.tables[name]
	if !ok {
		return nil, fmt.Errorf("memory: no such table: %s", name)
	}
	return t, nil
}

// insert validates and appends rows atomically: either every row is stored
// or none is.
func (t *table) insert(columns []string, rows [][]any) ([]storage.KeyedRow, error) {
	pos := make([]int, len(columns))
	for i, c := range columns {
		p := indexOf(t.columns, c)
		if p < 0 {
			return nil, fmt.Errorf("memory: %s: no such column: %s", t.spec.Name, c)
		}
		pos[i] = p
	}

	staged := make([]storage.KeyedRow, 0, len(rows))
	pending := make([]map[string]struct{}, len(t.unique))
	for i := range pending {
		pending[i] = map[string]struct{}{}
	}

	for n, in := range rows {
		if len(in) != len(columns) {
			return nil, fmt.Errorf("memory: %s: row %d has %d values, want %d", t.spec.Name, n, len(in), len(columns))
		}
		full := make([]any, len(t.columns))
		for i, p := range pos {
			full[p] = in[i]
		}
		for i, c := range t.spec.Columns {
			if full[i] == nil && !c.IsNullable() {
				return nil, fmt.Errorf("memory: %s: null value in column %s violates not-null constraint", t.spec.Name, c.Name)
			}
		}

		ui := 0
		for _, c := range t.spec.Constraints {
			if !strings.EqualFold(c.Kind, "unique") {
				continue
			}
			k := t.uniqueKey(c.Columns, full)
			if _, dup := t.unique[ui][k]; dup {
				return nil, fmt.Errorf("memory: %s: duplicate key violates unique constraint (%s)", t.spec.Name, strings.Join(c.Columns, ", "))
			}
			if _, dup := pending[ui][k]; dup {
				return nil, fmt.Errorf("memory: %s: duplicate key violates unique constraint (%s)", t.spec.Name, strings.Join(c.Columns, ", "))
			}
			pending[ui][k] = struct{}{}
			ui++
		}

		staged = append(staged, storage.KeyedRow{ID: t.nextID + int64(n), Values: full})
	}

	for i := range pending {
		for k := range pending[i] {
			t.unique[i][k] = struct{}{}
		}
	}
	t.nextID += int64(len(staged))
	t.rows = append(t.rows, staged...)
	return staged, nil
}

func (t *table) uniqueKey(cols []string, full []any) string {
	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteByte(0)
		}
		if p := indexOf(t.columns, c); p >= 0 {
			b.WriteString(fmt.Sprintf("%T:%v", full[p], full[p]))
		}
	}
	return b.String()
}

func (t *table) project(rows []storage.KeyedRow, columns []string) ([]storage.KeyedRow, error) {
	pos := make([]int, len(columns))
	for i, c := range columns {
		p := indexOf(t.columns, c)
		if p < 0 {
			return nil, fmt.Errorf("memory: %s: no such column: %s", t.spec.Name, c)
		}
		pos[i] = p
	}
	out := make([]storage.KeyedRow, len(rows))
	for i, row := range rows {
		vals := make([]any, len(pos))
		for j, p := range pos {
			vals[j] = row.Values[p]
		}
		out[i] = storage.KeyedRow{ID: row.ID, Values: vals}
	}
	return out, nil
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
