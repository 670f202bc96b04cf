package multitable

import (
	"context"
	"fmt"
	"time"

	"kddetl/internal/config"
	"kddetl/internal/kdd"
	"kddetl/internal/metrics"
	"kddetl/internal/storage"
	"kddetl/internal/taxonomy"
)

// Runner wires the input file, the storage backend and the Engine together.
type Runner struct {
	// storage-agnostic factory seam
	NewRepository func(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error)

	// ReadRecords is the input seam; defaults to kdd.ReadFile.
	ReadRecords func(ctx context.Context, path string, opt config.Options) ([]kdd.ConnectionRecord, error)

	Taxonomy taxonomy.Taxonomy
	Logger   Logger
}

func NewDefaultRunner(logger Logger) *Runner {
	return &Runner{
		NewRepository: storage.NewMulti,
		ReadRecords:   kdd.ReadFile,
		Taxonomy:      taxonomy.Default(),
		Logger:        logger,
	}
}

// Run validates cfg, reads the whole input, connects to the store and loads.
// The input is read before connecting so a malformed file never touches the
// store.
func (r *Runner) Run(ctx context.Context, cfg Pipeline) (Summary, error) {
	cfg = cfg.WithDefaults()
	for _, iss := range ValidatePipeline(cfg) {
		if iss.Severity == config.SeverityError {
			return Summary{}, fmt.Errorf("invalid config: %s", iss)
		}
	}
	logf := loggerOrDiscard(r.Logger)

	read := r.ReadRecords
	if read == nil {
		read = kdd.ReadFile
	}
	start := time.Now()
	recs, err := read(ctx, cfg.InputPath(), cfg.Parser.Options)
	metrics.RecordStep("read", err, time.Since(start))
	if err != nil {
		return Summary{}, fmt.Errorf("read: %w", err)
	}
	logf("stage=read ok rows=%d duration=%s", len(recs), durMS(start))

	newRepo := r.NewRepository
	if newRepo == nil {
		newRepo = storage.NewMulti
	}
	repo, err := newRepo(ctx, storage.MultiConfig{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DB.DSN})
	if err != nil {
		return Summary{}, fmt.Errorf("open %s store: %w", cfg.Storage.Kind, err)
	}
	defer repo.Close()

	engine := &Engine{
		Repo:     repo,
		Taxonomy: r.Taxonomy,
		Logger:   r.Logger,
		Options:  OptionsFrom(cfg),
	}
	return engine.Run(ctx, recs)
}
