package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kddetl/internal/config"
	"kddetl/internal/metrics"
	"kddetl/internal/metrics/datadog"
	"kddetl/internal/metrics/prompush"
	"kddetl/internal/multitable"
	"kddetl/internal/storage"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "kddetl/internal/storage/all"
)

// runner is the part of *multitable.Runner the CLI depends on.
type runner interface {
	Run(ctx context.Context, cfg multitable.Pipeline) (multitable.Summary, error)
}

// metricsSettings is the resolved metrics section (flags > config > env).
type metricsSettings struct {
	Job            string
	Backend        string
	PushgatewayURL string
	Tags           []string
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	readFile    func(path string) ([]byte, error)
	unmarshal   func(data []byte, v any) error
	initMetrics func(ctx context.Context, s metricsSettings) (func(), error)
	newRunner   func(logger multitable.Logger) runner
	getenv      func(key string) string
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:    os.ReadFile,
		unmarshal:   strictUnmarshal,
		initMetrics: initMetrics,
		newRunner: func(logger multitable.Logger) runner {
			return multitable.NewDefaultRunner(logger)
		},
		getenv: os.Getenv,
	}
}

// main loads the pipeline config, applies flag overrides, initializes the
// metrics backend and runs the NSL-KDD load.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

const usage = "usage: kdd_load -config path/to/pipeline.json | kdd_load -input KDDTrain+.txt -storage kind [-dsn dsn]"

// runMain returns the process exit code: 0 ok, 1 runtime failure, 2 usage.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("kdd_load", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath        = fs.String("config", "", "pipeline config JSON path")
		input          = fs.String("input", "", "NSL-KDD input file (overrides source.file.path)")
		storageKind    = fs.String("storage", "", "storage backend: "+strings.Join(storage.Kinds(), "|")+" (overrides storage.kind)")
		dsn            = fs.String("dsn", "", "storage DSN (overrides storage.db.dsn)")
		batchSize      = fs.Int("batch-size", 0, "fact rows per batch (overrides runtime.batch_size)")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend: pushgateway|datadog|none (overrides metrics.backend and env METRICS_BACKEND)")
		pushGatewayURL = fs.String("pushgateway-url", "", "Pushgateway base URL (overrides metrics.pushgateway_url and env PUSHGATEWAY_URL)")
		validate       = fs.Bool("validate", false, "validate the configuration and exit")
		verbose        = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*cfgPath) == "" && strings.TrimSpace(*input) == "" {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	var p multitable.Pipeline
	if path := strings.TrimSpace(*cfgPath); path != "" {
		raw, err := deps.readFile(path)
		if err != nil {
			return fatalf(stderr, "read config: %v", err)
		}
		if err := deps.unmarshal(raw, &p); err != nil {
			return fatalf(stderr, "parse config: %v", err)
		}
		p = p.ExpandEnv(deps.getenv)
	}

	if *input != "" {
		p.Source = multitable.Source{Kind: "file", File: &multitable.FileSource{Path: *input}}
	}
	if *storageKind != "" {
		p.Storage.Kind = *storageKind
	}
	if *dsn != "" {
		p.Storage.DB.DSN = *dsn
	}
	if *batchSize != 0 {
		p.Runtime.BatchSize = *batchSize
	}
	p = p.WithDefaults()

	ms := resolveMetrics(p, *metricsBackend, *pushGatewayURL, deps.getenv)
	p.Metrics.Backend = ms.Backend

	issues := multitable.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss)
	}
	if config.HasErrors(issues) {
		return fatalf(stderr, "invalid config: %s", configName(*cfgPath))
	}
	if *validate {
		fmt.Fprintf(stdout, "valid: %s\n", configName(*cfgPath))
		return 0
	}

	cleanup, err := deps.initMetrics(ctx, ms)
	if err != nil {
		return fatalf(stderr, "init metrics: %v", err)
	}
	defer cleanup()

	var logger multitable.Logger
	if *verbose {
		logger = log.New(stderr, "", log.LstdFlags)
		fmt.Fprintf(stderr, "pipeline: job=%s input=%s storage=%s batch_size=%d on_missing=%s metrics=%s\n",
			p.Job, p.InputPath(), p.Storage.Kind, p.Runtime.BatchSize, p.Runtime.OnMissing, ms.Backend)
	}

	start := time.Now()
	sum, err := deps.newRunner(logger).Run(ctx, p)
	if err != nil {
		return fatalf(stderr, "run: %v", err)
	}
	if *verbose {
		fmt.Fprintf(stderr, "completed in %s\n", time.Since(start).Truncate(time.Millisecond))
	}

	fmt.Fprintf(stdout, "ok records=%d facts=%d unmapped=%d\n", sum.Records, sum.Facts, sum.Unmapped)
	return 0
}

// resolveMetrics applies flag > config > env > default for every metrics knob.
func resolveMetrics(p multitable.Pipeline, backendFlag, urlFlag string, getenv func(string) string) metricsSettings {
	if getenv == nil {
		getenv = os.Getenv
	}
	first := func(vals ...string) string {
		for _, v := range vals {
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		}
		return ""
	}

	s := metricsSettings{
		Job:            first(p.Job, "kdd_load"),
		Backend:        strings.ToLower(first(backendFlag, p.Metrics.Backend, getenv("METRICS_BACKEND"), "none")),
		PushgatewayURL: first(urlFlag, p.Metrics.PushgatewayURL, getenv("PUSHGATEWAY_URL"), "http://localhost:9091"),
	}
	s.Tags = append(s.Tags, p.Metrics.Tags...)
	s.Tags = append(s.Tags, datadog.ParseTagsCSV(getenv("METRICS_TAGS"))...)
	return s
}

func configName(path string) string {
	if strings.TrimSpace(path) == "" {
		return "(flags)"
	}
	return path
}

// strictUnmarshal decodes JSON and rejects unknown fields.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func fatalf(w io.Writer, format string, a ...any) int {
	fmt.Fprintf(w, format+"\n", a...)
	return 1
}

// ---- metrics wiring ----

// closableBackend is a metrics backend owning background resources.
type closableBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests. Production code never reassigns them.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (closableBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		b, err := prompush.NewBackend(job, url)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
)

// initMetrics installs the selected backend. The returned cleanup is never
// nil and flushes (pushgateway) or closes (datadog) the backend.
func initMetrics(ctx context.Context, s metricsSettings) (func(), error) {
	noop := func() {}

	switch s.Backend {
	case "", "none":
		return noop, nil

	case "pushgateway":
		b, err := newPushBackend(s.Job, s.PushgatewayURL)
		if err != nil {
			return noop, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway push error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil

	case "datadog":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    s.Job,
			Tags:       s.Tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			// Close stops the flush loop and submits what is still buffered.
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|pushgateway|datadog)", s.Backend)
	}
}
