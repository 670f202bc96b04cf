package kdd

import (
	"context"
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"kddetl/internal/config"
	"kddetl/internal/parser/csv"
	"kddetl/internal/transformer"
)

// ReadFile opens path and decodes every line into a ConnectionRecord.
func ReadFile(ctx context.Context, path string, opt config.Options) ([]ConnectionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	recs, err := Read(ctx, f, opt)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return recs, nil
}

// Read decodes the whole corpus from r. The first malformed line aborts the
// read; nothing partial is returned.
func Read(ctx context.Context, r io.Reader, opt config.Options) ([]ConnectionRecord, error) {
	var out []ConnectionRecord
	err := csv.ReadCSVRows(ctx, r, FullColumns, LoadColumns, opt, func(row *transformer.Row) error {
		rec, err := Decode(row)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	var perr *stdcsv.ParseError
	if errors.As(err, &perr) {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRow, err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
