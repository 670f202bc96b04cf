package multitable

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kddetl/internal/kdd"
	"kddetl/internal/metrics"
	"kddetl/internal/storage"
	"kddetl/internal/taxonomy"
)

// Logger is the minimal logging interface used by the multitable engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// ErrCountMismatch is returned by the verify stage when a table does not hold
// the expected number of rows.
var ErrCountMismatch = errors.New("row count mismatch")

// Options are the runtime knobs of one Engine run.
type Options struct {
	BatchSize        int
	ReadBackKeys     bool
	OnMissing        string
	AutoCreateTables bool
	VerifyCounts     bool
	DebugTimings     bool
}

// OptionsFrom extracts engine options from a pipeline config.
func OptionsFrom(p Pipeline) Options {
	return Options{
		BatchSize:        p.Runtime.BatchSize,
		ReadBackKeys:     p.Runtime.ReadBackKeys,
		OnMissing:        p.Runtime.OnMissing,
		AutoCreateTables: p.Storage.DB.AutoCreateTables,
		VerifyCounts:     p.Runtime.VerifyCounts,
		DebugTimings:     p.Runtime.DebugTimings,
	}
}

// Engine loads decoded records into the star schema:
//
//	ddl -> reset -> taxonomy -> dims -> destination -> map -> load_facts [-> verify]
//
// Stages run sequentially on the caller's goroutine; any error aborts the run.
// The zero Taxonomy maps every label to Normal; callers normally pass
// taxonomy.Default().
type Engine struct {
	Repo     storage.MultiRepository
	Taxonomy taxonomy.Taxonomy
	Logger   Logger
	Options  Options
}

// Summary describes a finished run.
type Summary struct {
	Records    int
	Facts      int64
	Unmapped   int
	Dimensions map[string]int // table -> rows inserted
	Categories map[string]int // category -> fact count
}

// Run executes every stage over recs.
func (e *Engine) Run(ctx context.Context, recs []kdd.ConnectionRecord) (Summary, error) {
	if e.Repo == nil {
		return Summary{}, fmt.Errorf("engine: Repo is required")
	}
	logf := e.logger()
	metrics.RecordRows("read", len(recs))

	sum := Summary{Records: len(recs), Dimensions: map[string]int{}}
	tables := Schema(SchemaOptions{
		AutoCreate:       e.Options.AutoCreateTables,
		NullableFactKeys: e.Options.OnMissing == OnMissingNull,
	})

	if err := e.stage("ddl", func() error {
		return e.Repo.EnsureTables(ctx, tables)
	}); err != nil {
		return sum, err
	}

	if err := e.stage("reset", func() error {
		return e.Repo.ResetTables(ctx, ResetOrder())
	}); err != nil {
		return sum, err
	}

	var attacks attackKeys
	if err := e.stage("taxonomy", func() error {
		var err error
		attacks, err = e.loadAttackDimensions(ctx, recs)
		return err
	}); err != nil {
		return sum, err
	}
	sum.Dimensions[TableAttackCategories] = len(attacks.categories)
	sum.Dimensions[TableAttackTypes] = len(attacks.attacks)

	keys := KeyMaps{Attacks: attacks.attacks}
	if err := e.stage("dims", func() error {
		for _, d := range []struct {
			dim valueDimension
			dst *map[string]int64
		}{
			{protocolDimension, &keys.Protocols},
			{serviceDimension, &keys.Services},
			{flagDimension, &keys.Flags},
		} {
			ids, err := e.loadValueDimension(ctx, d.dim, recs)
			if err != nil {
				return err
			}
			*d.dst = ids
			sum.Dimensions[d.dim.Table] = len(ids)
		}
		return nil
	}); err != nil {
		return sum, err
	}

	if err := e.stage("destination", func() error {
		var err error
		keys.Destinations, err = e.loadDestinations(ctx, recs)
		sum.Dimensions[TableDestination] = len(keys.Destinations)
		return err
	}); err != nil {
		return sum, err
	}

	mapper := &RowMapper{Keys: keys, OnMissing: e.Options.OnMissing}
	var facts []ConnectionFact
	if err := e.stage("map", func() error {
		var err error
		facts, err = mapper.MapAll(recs)
		return err
	}); err != nil {
		return sum, err
	}
	sum.Unmapped = mapper.UnmappedTotal()
	if sum.Unmapped > 0 {
		metrics.RecordRows("unmapped", sum.Unmapped)
		for col, n := range mapper.Unmapped {
			logf("stage=map unmapped column=%s rows=%d", col, n)
		}
	}

	loader := &BulkLoader{
		Repo:         e.Repo,
		Table:        TableConnections,
		BatchSize:    e.Options.BatchSize,
		Logger:       e.Logger,
		DebugTimings: e.Options.DebugTimings,
	}
	if err := e.stage("load_facts", func() error {
		var err error
		sum.Facts, err = loader.Load(ctx, facts)
		return err
	}); err != nil {
		return sum, err
	}

	if e.Options.VerifyCounts {
		if err := e.stage("verify", func() error {
			return e.verify(ctx, sum)
		}); err != nil {
			return sum, err
		}
	}

	sum.Categories = e.categoryCounts(recs)
	e.logSummary(sum)
	return sum, nil
}

// stage runs fn as a named pipeline stage: timed, logged and counted.
func (e *Engine) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(name, err, time.Since(start))
	if err != nil {
		e.logger()("stage=%s status=error duration=%s err=%v", name, durMS(start), err)
		return fmt.Errorf("%s: %w", name, err)
	}
	e.logger()("stage=%s ok duration=%s", name, durMS(start))
	return nil
}

// verify compares store counts with what the run inserted.
func (e *Engine) verify(ctx context.Context, sum Summary) error {
	want := map[string]int64{TableConnections: int64(sum.Records)}
	for table, n := range sum.Dimensions {
		want[table] = int64(n)
	}

	for _, table := range createOrder {
		got, err := e.Repo.CountRows(ctx, table)
		if err != nil {
			return fmt.Errorf("count %s: %w", table, err)
		}
		if got != want[table] {
			return fmt.Errorf("%w: %s has %d rows, want %d", ErrCountMismatch, table, got, want[table])
		}
	}
	return nil
}

func (e *Engine) categoryCounts(recs []kdd.ConnectionRecord) map[string]int {
	out := make(map[string]int, len(e.Taxonomy.Categories()))
	for _, r := range recs {
		out[e.Taxonomy.Category(r.Label)]++
	}
	return out
}

func (e *Engine) logSummary(sum Summary) {
	logf := e.logger()
	logf("stage=summary records=%d facts=%d unmapped=%d", sum.Records, sum.Facts, sum.Unmapped)
	for _, table := range createOrder {
		if n, ok := sum.Dimensions[table]; ok {
			logf("stage=summary table=%s rows=%d", table, n)
		}
	}
	for _, c := range e.Taxonomy.Categories() {
		logf("stage=summary category=%s facts=%d", c, sum.Categories[c])
	}
}

func (e *Engine) logger() func(format string, v ...any) {
	return loggerOrDiscard(e.Logger)
}

func loggerOrDiscard(l Logger) func(format string, v ...any) {
	if l == nil {
		return log.New(discardWriter{}, "", 0).Printf
	}
	return l.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
