// Package metrics is the backend-neutral metrics surface of the loader.
//
// Pipeline code records through the package-level helpers; cmd/ selects a
// concrete backend (Pushgateway, Datadog) with SetBackend. Without one, every
// call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Metric names understood by the backends.
const (
	StepTotal           = "etl_step_total"
	StepDurationSeconds = "etl_step_duration_seconds"
	RecordsTotal        = "etl_records_total"
	BatchesTotal        = "etl_batches_total"
	DimensionRowsTotal  = "etl_dimension_rows_total"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush pushes buffered metrics of the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one finished pipeline stage and observes its duration.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRows counts n records of the given kind ("read", "loaded", "unmapped").
func RecordRows(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatch counts one written fact batch.
func RecordBatch() {
	current().IncCounter(BatchesTotal, 1, nil)
}

// RecordDimension counts rows inserted into a dimension table.
func RecordDimension(table string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(DimensionRowsTotal, float64(n), Labels{"table": table})
}
