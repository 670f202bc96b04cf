package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"kddetl/internal/config"
	"kddetl/internal/transformer"
)

// ErrUnknownColumn is returned when a requested column is not part of the
// positional name list (or the header, when has_header is set).
var ErrUnknownColumn = errors.New("csv: unknown column")

// RowFunc consumes one projected row. Returning an error stops the read.
type RowFunc func(r *transformer.Row) error

// ReadCSVRows reads delimited text and calls fn once per record with a pooled
// row aligned to `columns`.
//
// `names` is the full positional column list of the file. Only the columns in
// `columns` are projected; their positions are resolved against `names`, or
// against the header line when the "has_header" option is true.
//
// Options (config.Options):
//   - has_header (bool, default false)
//   - comma (rune, default ',')
//   - trim_space (bool, default true)
//   - lazy_quotes (bool, default false)
//   - encoding ("utf-8" | "latin1", default "utf-8"; a leading BOM is dropped)
//
// Every record must have exactly len(names) fields. Any read error aborts the
// whole read and is returned wrapped with its line number.
func ReadCSVRows(
	ctx context.Context,
	src io.Reader,
	names []string,
	columns []string,
	opt config.Options,
	fn RowFunc,
) error {
	dec, err := decodingReader(src, opt.String("encoding", "utf-8"))
	if err != nil {
		return err
	}

	cr := csv.NewReader(dec)
	cr.Comma = opt.Rune("comma", ',')
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = len(names)
	trim := opt.Bool("trim_space", true)

	line := 0
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	positions := make(map[string]int, len(names))
	for i, n := range names {
		positions[n] = i
	}

	if opt.Bool("has_header", false) {
		hdr, err := readRec()
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		positions = make(map[string]int, len(hdr))
		for i, h := range hdr {
			h = strings.ToLower(strings.TrimSpace(h))
			positions[strings.ReplaceAll(h, " ", "_")] = i
		}
	}

	colIx := make([]int, len(columns))
	for i, c := range columns {
		p, ok := positions[c]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, c)
		}
		colIx[i] = p
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		row := transformer.GetRow(len(columns))
		row.Line = line
		for t, si := range colIx {
			v := rec[si]
			if trim {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				row.V[t] = nil
			} else {
				row.V[t] = strings.Clone(v)
			}
		}

		err = fn(row)
		row.Free()
		if err != nil {
			return err
		}
	}
}

// decodingReader wraps src so the CSV reader always sees UTF-8.
func decodingReader(src io.Reader, enc string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "", "utf-8", "utf8":
		return transform.NewReader(src, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	case "latin1", "iso-8859-1":
		return transform.NewReader(src, charmap.ISO8859_1.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("csv: unsupported encoding %q", enc)
	}
}
