package kdd

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"kddetl/internal/transformer"
)

// ErrMalformedRow marks input that cannot be decoded into a ConnectionRecord.
var ErrMalformedRow = errors.New("malformed input row")

// DestinationKey is the destination-host profile of a connection.
//
// It is a comparable value and is used directly as a map key, so two profiles
// are the same only when all six fields are bit-for-bit equal.
type DestinationKey struct {
	DstBytes           int64
	DstHostCount       int64
	DstHostSrvCount    int64
	DstHostSameSrvRate float64
	DstHostDiffSrvRate float64
	DstHostSerrorRate  float64
}

// Values returns the key as bind values ordered like DestinationColumns.
func (k DestinationKey) Values() []any {
	return []any{
		k.DstBytes, k.DstHostCount, k.DstHostSrvCount,
		k.DstHostSameSrvRate, k.DstHostDiffSrvRate, k.DstHostSerrorRate,
	}
}

// ConnectionRecord is one decoded input line.
type ConnectionRecord struct {
	Line int

	Duration        int64
	SrcBytes        int64
	Land            int64
	LoggedIn        int64
	Count           int64
	SrvCount        int64
	SerrorRate      float64
	RerrorRate      float64
	SameSrvRate     float64
	DiffSrvRate     float64
	DifficultyLevel int64

	ProtocolType string
	Service      string
	Flag         string
	Label        string

	Destination DestinationKey
}

// Decode converts a row projected onto LoadColumns into a ConnectionRecord.
//
// Numeric fields must be present and parse; NaN and infinities are rejected
// because they cannot take part in the exact-equality destination key.
func Decode(r *transformer.Row) (ConnectionRecord, error) {
	if len(r.V) != len(LoadColumns) {
		return ConnectionRecord{}, fmt.Errorf("%w: line %d: %d fields, want %d", ErrMalformedRow, r.Line, len(r.V), len(LoadColumns))
	}

	d := decoder{row: r}
	rec := ConnectionRecord{Line: r.Line}

	rec.Duration = d.int(0)
	rec.SrcBytes = d.int(1)
	rec.Land = d.int(2)
	rec.LoggedIn = d.int(3)
	rec.Count = d.int(4)
	rec.SrvCount = d.int(5)
	rec.SerrorRate = d.float(6)
	rec.RerrorRate = d.float(7)
	rec.SameSrvRate = d.float(8)
	rec.DiffSrvRate = d.float(9)
	rec.Destination.DstHostCount = d.int(10)
	rec.Destination.DstHostSrvCount = d.int(11)
	rec.DifficultyLevel = d.int(12)
	rec.ProtocolType = d.str(13)
	rec.Service = d.str(14)
	rec.Flag = d.str(15)
	rec.Label = d.str(16)
	rec.Destination.DstBytes = d.int(17)
	rec.Destination.DstHostSameSrvRate = d.float(18)
	rec.Destination.DstHostDiffSrvRate = d.float(19)
	rec.Destination.DstHostSerrorRate = d.float(20)

	if d.err != nil {
		return ConnectionRecord{}, d.err
	}
	if err := rec.checkFlags(); err != nil {
		return ConnectionRecord{}, err
	}
	return rec, nil
}

func (c ConnectionRecord) checkFlags() error {
	if c.Land != 0 && c.Land != 1 {
		return fmt.Errorf("%w: line %d: %s=%d, want 0 or 1", ErrMalformedRow, c.Line, ColLand, c.Land)
	}
	if c.LoggedIn != 0 && c.LoggedIn != 1 {
		return fmt.Errorf("%w: line %d: %s=%d, want 0 or 1", ErrMalformedRow, c.Line, ColLoggedIn, c.LoggedIn)
	}
	return nil
}

// decoder keeps the first error so Decode reads as a flat list of fields.
type decoder struct {
	row *transformer.Row
	err error
}

func (d *decoder) fail(i int, format string, a ...any) {
	if d.err != nil {
		return
	}
	msg := fmt.Sprintf(format, a...)
	d.err = fmt.Errorf("%w: line %d: %s: %s", ErrMalformedRow, d.row.Line, LoadColumns[i], msg)
}

func (d *decoder) str(i int) string {
	s := d.row.String(i)
	if s == "" {
		d.fail(i, "empty value")
	}
	return s
}

func (d *decoder) int(i int) int64 {
	s := d.row.String(i)
	if s == "" {
		d.fail(i, "empty value")
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		d.fail(i, "not an integer: %q", s)
		return 0
	}
	return n
}

func (d *decoder) float(i int) float64 {
	s := d.row.String(i)
	if s == "" {
		d.fail(i, "empty value")
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		d.fail(i, "not a number: %q", s)
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		d.fail(i, "non-finite value %q", s)
		return 0
	}
	return f
}
