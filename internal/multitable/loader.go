package multitable

import (
	"context"
	"fmt"
	"time"

	"kddetl/internal/metrics"
	"kddetl/internal/storage"
)

// BulkLoader appends facts to the connections table in fixed-size batches.
//
// Batches are independent statements, not one transaction: a failure leaves
// the batches written so far in place and the next run's reset clears them.
type BulkLoader struct {
	Repo      storage.MultiRepository
	Table     string
	BatchSize int
	Logger    Logger

	// DebugTimings adds the duration of every InsertFactRows call to the
	// progress line.
	DebugTimings bool
}

// Load writes facts and returns the number of rows the store reported.
func (l *BulkLoader) Load(ctx context.Context, facts []ConnectionFact) (int64, error) {
	logf := loggerOrDiscard(l.Logger)

	size := l.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	table := l.Table
	if table == "" {
		table = TableConnections
	}

	batches := storage.Chunks(len(facts), size)
	var total int64
	rows := make([][]any, 0, size)
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		rows = rows[:0]
		for _, f := range facts[b[0]:b[1]] {
			rows = append(rows, f.Values())
		}

		start := time.Now()
		n, err := l.Repo.InsertFactRows(ctx, table, FactColumns, rows)
		if err != nil {
			return total, fmt.Errorf("insert %s batch %d/%d: %w", table, i+1, len(batches), err)
		}
		total += n
		metrics.RecordBatch()
		metrics.RecordRows("loaded", int(n))

		if l.DebugTimings {
			logf("stage=load_facts batch=%d/%d rows=%d total=%d duration=%s", i+1, len(batches), n, total, durMS(start))
		} else {
			logf("stage=load_facts batch=%d/%d rows=%d total=%d", i+1, len(batches), n, total)
		}
	}
	return total, nil
}
