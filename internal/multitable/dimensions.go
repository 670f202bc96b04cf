package multitable

import (
	"context"
	"fmt"

	"kddetl/internal/kdd"
	"kddetl/internal/metrics"
	"kddetl/internal/storage"
)

// valueDimension is a dimension holding one text value per row.
type valueDimension struct {
	Table    string
	IDColumn string
	Column   string
	Value    func(kdd.ConnectionRecord) string
}

var (
	protocolDimension = valueDimension{
		Table: TableProtocolTypes, IDColumn: ColProtocolID, Column: ColProtocolName,
		Value: func(r kdd.ConnectionRecord) string { return r.ProtocolType },
	}
	serviceDimension = valueDimension{
		Table: TableServices, IDColumn: ColServiceID, Column: ColServiceName,
		Value: func(r kdd.ConnectionRecord) string { return r.Service },
	}
	flagDimension = valueDimension{
		Table: TableFlags, IDColumn: ColFlagID, Column: ColFlagValue,
		Value: func(r kdd.ConnectionRecord) string { return r.Flag },
	}
)

// DistinctValues returns the distinct values of field over recs in
// first-seen order.
func DistinctValues(recs []kdd.ConnectionRecord, field func(kdd.ConnectionRecord) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range recs {
		v := field(r)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// loadValueDimension inserts one row per distinct value of d and returns the
// value -> surrogate id map.
func (e *Engine) loadValueDimension(ctx context.Context, d valueDimension, recs []kdd.ConnectionRecord) (map[string]int64, error) {
	values := DistinctValues(recs, d.Value)
	return e.insertTextRows(ctx, d.Table, d.IDColumn, d.Column, values)
}

// insertTextRows inserts values into a single-text-column dimension and
// resolves their ids.
func (e *Engine) insertTextRows(ctx context.Context, table, idColumn, column string, values []string) (map[string]int64, error) {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v}
	}

	keyed, err := e.insertDimension(ctx, table, idColumn, []string{column}, rows)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]int64, len(keyed))
	for _, kr := range keyed {
		s, err := textValue(kr.Values[0])
		if err != nil {
			return nil, fmt.Errorf("%s: id %d: %w", table, kr.ID, err)
		}
		ids[s] = kr.ID
	}
	return ids, nil
}

// insertDimension writes rows and returns them keyed by generated id.
//
// Keys come from the insert when the backend returns them. Otherwise, or when
// read_back_keys is set, the whole table is read back. In both cases the
// caller matches rows by value, never by position.
func (e *Engine) insertDimension(ctx context.Context, table, idColumn string, columns []string, rows [][]any) ([]storage.KeyedRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	keyed, err := e.Repo.InsertDimensionRows(ctx, table, idColumn, columns, rows)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	metrics.RecordDimension(table, len(rows))

	if keyed != nil && !e.Options.ReadBackKeys {
		if len(keyed) != len(rows) {
			return nil, fmt.Errorf("insert %s: store returned %d keys for %d rows", table, len(keyed), len(rows))
		}
		return keyed, nil
	}

	keyed, err = e.Repo.SelectDimensionRows(ctx, table, idColumn, columns)
	if err != nil {
		return nil, fmt.Errorf("read back %s: %w", table, err)
	}
	e.logger()("stage=read_back table=%s rows=%d", table, len(keyed))
	return keyed, nil
}

func textValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		return "", fmt.Errorf("unexpected %T for text column", v)
	}
}
