package multitable

import (
	"database/sql"
	"errors"
	"fmt"

	"kddetl/internal/kdd"
)

// ErrUnmappedValue is returned when a categorical value or destination
// profile has no surrogate id and on_missing is "error".
var ErrUnmappedValue = errors.New("unmapped value")

// ConnectionFact is one row of the connections fact table.
type ConnectionFact struct {
	Duration        int64
	SrcBytes        int64
	DstBytes        int64
	Land            bool
	LoggedIn        bool
	Count           int64
	SrvCount        int64
	SerrorRate      float64
	RerrorRate      float64
	SameSrvRate     float64
	DstHostCount    int64
	DstHostSrvCount int64
	DifficultyLevel int64

	ProtocolID    sql.NullInt64
	ServiceID     sql.NullInt64
	FlagID        sql.NullInt64
	AttackID      sql.NullInt64
	DestinationID sql.NullInt64
}

// Values returns the fact as bind values ordered like FactColumns. Invalid
// foreign ids become nil (NULL).
func (f ConnectionFact) Values() []any {
	return []any{
		f.Duration, f.SrcBytes, f.DstBytes, f.Land, f.LoggedIn,
		f.Count, f.SrvCount, f.SerrorRate, f.RerrorRate, f.SameSrvRate,
		f.DstHostCount, f.DstHostSrvCount, f.DifficultyLevel,
		nullable(f.ProtocolID), nullable(f.ServiceID), nullable(f.FlagID),
		nullable(f.AttackID), nullable(f.DestinationID),
	}
}

func nullable(v sql.NullInt64) any {
	if !v.Valid {
		return nil
	}
	return v.Int64
}

// KeyMaps are the resolved surrogate ids a RowMapper dereferences.
type KeyMaps struct {
	Protocols    map[string]int64
	Services     map[string]int64
	Flags        map[string]int64
	Attacks      map[string]int64
	Destinations map[kdd.DestinationKey]int64
}

// RowMapper turns records into facts.
type RowMapper struct {
	Keys      KeyMaps
	OnMissing string

	// Unmapped counts null foreign keys per fact column (on_missing "null").
	Unmapped map[string]int
}

// Map builds the fact for rec. With on_missing "error" the first value
// without an id fails with ErrUnmappedValue; with "null" the id is left NULL
// and counted in m.Unmapped.
func (m *RowMapper) Map(rec kdd.ConnectionRecord) (ConnectionFact, error) {
	land, err := boolFlag(rec.Line, kdd.ColLand, rec.Land)
	if err != nil {
		return ConnectionFact{}, err
	}
	loggedIn, err := boolFlag(rec.Line, kdd.ColLoggedIn, rec.LoggedIn)
	if err != nil {
		return ConnectionFact{}, err
	}

	f := ConnectionFact{
		Duration:        rec.Duration,
		SrcBytes:        rec.SrcBytes,
		DstBytes:        rec.Destination.DstBytes,
		Land:            land,
		LoggedIn:        loggedIn,
		Count:           rec.Count,
		SrvCount:        rec.SrvCount,
		SerrorRate:      rec.SerrorRate,
		RerrorRate:      rec.RerrorRate,
		SameSrvRate:     rec.SameSrvRate,
		DstHostCount:    rec.Destination.DstHostCount,
		DstHostSrvCount: rec.Destination.DstHostSrvCount,
		DifficultyLevel: rec.DifficultyLevel,
	}

	if f.ProtocolID, err = m.lookup(rec.Line, ColProtocolID, rec.ProtocolType, m.Keys.Protocols); err != nil {
		return ConnectionFact{}, err
	}
	if f.ServiceID, err = m.lookup(rec.Line, ColServiceID, rec.Service, m.Keys.Services); err != nil {
		return ConnectionFact{}, err
	}
	if f.FlagID, err = m.lookup(rec.Line, ColFlagID, rec.Flag, m.Keys.Flags); err != nil {
		return ConnectionFact{}, err
	}
	if f.AttackID, err = m.lookup(rec.Line, ColAttackID, rec.Label, m.Keys.Attacks); err != nil {
		return ConnectionFact{}, err
	}

	id, ok := m.Keys.Destinations[rec.Destination]
	if f.DestinationID, err = m.resolved(rec.Line, ColDestinationID, fmt.Sprint(rec.Destination.Values()), id, ok); err != nil {
		return ConnectionFact{}, err
	}
	return f, nil
}

// MapAll maps every record, stopping at the first error.
func (m *RowMapper) MapAll(recs []kdd.ConnectionRecord) ([]ConnectionFact, error) {
	out := make([]ConnectionFact, 0, len(recs))
	for _, rec := range recs {
		f, err := m.Map(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// UnmappedTotal sums m.Unmapped.
func (m *RowMapper) UnmappedTotal() int {
	n := 0
	for _, c := range m.Unmapped {
		n += c
	}
	return n
}

func (m *RowMapper) lookup(line int, column, value string, ids map[string]int64) (sql.NullInt64, error) {
	id, ok := ids[value]
	return m.resolved(line, column, fmt.Sprintf("%q", value), id, ok)
}

func (m *RowMapper) resolved(line int, column, value string, id int64, ok bool) (sql.NullInt64, error) {
	if ok {
		return sql.NullInt64{Int64: id, Valid: true}, nil
	}
	if m.OnMissing != OnMissingNull {
		return sql.NullInt64{}, fmt.Errorf("%w: line %d: %s for %s", ErrUnmappedValue, line, column, value)
	}
	if m.Unmapped == nil {
		m.Unmapped = make(map[string]int)
	}
	m.Unmapped[column]++
	return sql.NullInt64{}, nil
}

func boolFlag(line int, column string, v int64) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: line %d: %s=%d, want 0 or 1", kdd.ErrMalformedRow, line, column, v)
	}
}
