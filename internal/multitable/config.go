package multitable

// This file defines the JSON pipeline config of the NSL-KDD loader. The star
// schema itself is fixed in schema.go; the config only chooses the input,
// the backend and runtime knobs.

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"kddetl/internal/config"
)

// Unmapped-value policies for runtime.on_missing.
//
// The dimensions are built from the same records that are mapped, so a miss
// only happens when the store normalises values on the way back (collation,
// float precision).
const (
	OnMissingError = "error"
	OnMissingNull  = "null"
)

// DefaultBatchSize is the fact batch size used when runtime.batch_size is unset.
const DefaultBatchSize = 10000

type Pipeline struct {
	Job     string        `json:"job"`
	Source  Source        `json:"source"`
	Parser  Parser        `json:"parser"`
	Storage Storage       `json:"storage"`
	Runtime RuntimeConfig `json:"runtime"`
	Metrics MetricsConfig `json:"metrics"`
}

type Source struct {
	Kind string      `json:"kind"`
	File *FileSource `json:"file,omitempty"`
}

type FileSource struct {
	Path string `json:"path"`
}

type Parser struct {
	Kind    string         `json:"kind"`
	Options config.Options `json:"options"`
}

type Storage struct {
	// Backend kind: "postgres" | "mssql" | "sqlite" | "memory"
	Kind string  `json:"kind"`
	DB   MultiDB `json:"db"`
}

type MultiDB struct {
	DSN string `json:"dsn"`

	// AutoCreateTables creates missing star-schema tables before the reset.
	// Meant for empty local stores; production schemas are managed elsewhere.
	AutoCreateTables bool `json:"auto_create_tables"`
}

// RuntimeConfig controls pipeline execution behavior.
type RuntimeConfig struct {
	BatchSize int `json:"batch_size"`

	// ReadBackKeys ignores keys returned by the insert and always reads the
	// dimension tables back to resolve surrogate ids.
	ReadBackKeys bool `json:"read_back_keys"`

	// OnMissing is "error" (default) or "null".
	OnMissing string `json:"on_missing"`

	// VerifyCounts compares table counts with the expected counts after the load.
	VerifyCounts bool `json:"verify_counts"`

	// DebugTimings logs the duration of every fact batch.
	DebugTimings bool `json:"debug_timings"`
}

type MetricsConfig struct {
	// Backend: "pushgateway" | "datadog" | "none"
	Backend        string   `json:"backend"`
	PushgatewayURL string   `json:"pushgateway_url"`
	Tags           []string `json:"tags"`
}

// LoadPipeline reads a JSON pipeline config from path and expands the
// environment in its DSN.
func LoadPipeline(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	p, err := DecodePipeline(f)
	if err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return p.ExpandEnv(os.Getenv), nil
}

// DecodePipeline decodes a JSON pipeline config. Unknown fields are rejected
// so typos in knob names do not silently fall back to defaults.
func DecodePipeline(r io.Reader) (Pipeline, error) {
	var p Pipeline
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

// WithDefaults returns a copy of p with unset knobs filled in. It is
// idempotent; environment expansion is a separate step (ExpandEnv).
func (p Pipeline) WithDefaults() Pipeline {
	if p.Source.Kind == "" && p.Source.File != nil {
		p.Source.Kind = "file"
	}
	if p.Parser.Kind == "" {
		p.Parser.Kind = "csv"
	}
	if p.Runtime.BatchSize == 0 {
		p.Runtime.BatchSize = DefaultBatchSize
	}
	p.Runtime.OnMissing = strings.ToLower(strings.TrimSpace(p.Runtime.OnMissing))
	if p.Runtime.OnMissing == "" {
		p.Runtime.OnMissing = OnMissingError
	}
	return p
}

// ExpandEnv returns a copy of p with ${VAR} references in the DSN resolved
// through getenv (os.Getenv when nil). Apply it once, to values read from a
// config file: expanded secrets may themselves contain '$'.
func (p Pipeline) ExpandEnv(getenv func(string) string) Pipeline {
	if getenv == nil {
		getenv = os.Getenv
	}
	p.Storage.DB.DSN = os.Expand(p.Storage.DB.DSN, getenv)
	return p
}

// InputPath returns source.file.path, or "" when no file source is set.
func (p Pipeline) InputPath() string {
	if p.Source.File == nil {
		return ""
	}
	return p.Source.File.Path
}
