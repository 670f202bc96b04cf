// TableSpec types live here so both the engine and the backend packages can
// import them without an import cycle.
package storage

// Logical column types. Backends map them onto their own dialect.
const (
	TypeInt    = "int"
	TypeBigInt = "bigint"
	TypeFloat  = "float" // always double precision
	TypeBool   = "bool"
	TypeText   = "text"
)

// Table kinds.
const (
	KindDimension = "dimension"
	KindFact      = "fact"
)

type TableSpec struct {
	Name            string           `json:"name"`
	Kind            string           `json:"kind"` // "dimension" | "fact"
	AutoCreateTable bool             `json:"auto_create_table"`
	PrimaryKey      *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns         []ColumnSpec     `json:"columns"`
	Constraints     []ConstraintSpec `json:"constraints,omitempty"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
}

type ColumnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// References is "table(column)".
	References string `json:"references,omitempty"`

	// Nullable == nil means NOT NULL.
	Nullable *bool `json:"nullable,omitempty"`
}

// IsNullable reports whether the column accepts NULL.
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable != nil && *c.Nullable
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// ColumnNames returns the names of t's non-key columns in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Column returns the spec of the named column.
func (t TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}
