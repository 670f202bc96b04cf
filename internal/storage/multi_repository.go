package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MultiConfig is the minimal configuration needed to create a multi-table repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type MultiConfig struct {
	Kind string
	DSN  string
}

// KeyedRow is a dimension row together with its store-generated surrogate id.
// Values are ordered like the columns requested by the caller.
type KeyedRow struct {
	ID     int64
	Values []any
}

// MultiRepository is the backend-agnostic store behind the star-schema loader.
//
// Each backend implements these semantics in its own dialect (Postgres
// RETURNING and COPY, SQLite RETURNING, SQL Server OUTPUT INSERTED).
type MultiRepository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureTables creates tables flagged AutoCreateTable when they are missing.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// ResetTables removes every row from tables. Tables are listed in delete
	// order: referencing tables before the tables they reference.
	ResetTables(ctx context.Context, tables []string) error

	// InsertDimensionRows inserts rows and returns the generated id of each
	// inserted row with the inserted values echoed back by the store. The
	// returned order is not guaranteed to match rows. A backend that cannot
	// return generated keys returns (nil, nil); callers then use
	// SelectDimensionRows.
	InsertDimensionRows(ctx context.Context, table string, idColumn string, columns []string, rows [][]any) ([]KeyedRow, error)

	// SelectDimensionRows reads back the whole dimension table.
	SelectDimensionRows(ctx context.Context, table string, idColumn string, columns []string) ([]KeyedRow, error)

	// InsertFactRows appends rows and returns the number of rows written.
	InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// CountRows returns the row count of table.
	CountRows(ctx context.Context, table string) (int64, error)
}

type multiFactory func(ctx context.Context, cfg MultiConfig) (MultiRepository, error)

var (
	multiMu        sync.RWMutex
	multiFactories = map[string]multiFactory{}
)

// RegisterMulti registers a multi-table backend under a kind (e.g. "postgres", "sqlite").
//
// Call it from an init() function in a backend package. Registering the same
// kind twice, an empty kind or a nil factory panics.
func RegisterMulti(kind string, f multiFactory) {
	multiMu.Lock()
	defer multiMu.Unlock()

	if kind == "" {
		panic("storage: RegisterMulti called with empty kind")
	}
	if f == nil {
		panic("storage: RegisterMulti called with nil factory")
	}
	if _, exists := multiFactories[kind]; exists {
		panic(fmt.Sprintf("storage: multi factory already registered for kind=%q", kind))
	}

	multiFactories[kind] = f
}

// NewMulti constructs a MultiRepository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func NewMulti(ctx context.Context, cfg MultiConfig) (MultiRepository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing multi.Kind")
	}

	multiMu.RLock()
	f := multiFactories[cfg.Kind]
	multiMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported multi storage.kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	multiMu.RLock()
	defer multiMu.RUnlock()

	out := make([]string, 0, len(multiFactories))
	for k := range multiFactories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
