package multitable

import (
	"strings"

	"kddetl/internal/config"
)

var (
	storageKinds   = []string{"postgres", "sqlite", "mssql", "memory"}
	metricsKinds   = []string{"", "none", "pushgateway", "datadog"}
	parserEncoding = []string{"", "utf-8", "utf8", "latin1", "iso-8859-1"}
)

// ValidatePipeline checks p (after WithDefaults) and returns every finding.
// A config with no error-severity issues can be run.
func ValidatePipeline(p Pipeline) []config.Issue {
	var issues []config.Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, config.Warnf("job", "job name is empty; metrics use a default job name"))
	}

	if p.Source.Kind != "file" {
		issues = append(issues, config.Errorf("source.kind", "must be \"file\", got %q", p.Source.Kind))
	}
	if p.InputPath() == "" {
		issues = append(issues, config.Errorf("source.file.path", "input path is required"))
	}

	if p.Parser.Kind != "csv" {
		issues = append(issues, config.Errorf("parser.kind", "must be \"csv\", got %q", p.Parser.Kind))
	}
	if enc := strings.ToLower(p.Parser.Options.String("encoding", "")); !contains(parserEncoding, enc) {
		issues = append(issues, config.Errorf("parser.options.encoding", "unsupported encoding %q", enc))
	}
	if c := p.Parser.Options.String("comma", ""); len([]rune(c)) > 1 && c != `\t` {
		issues = append(issues, config.Errorf("parser.options.comma", "must be a single character, got %q", c))
	}
	if p.Parser.Options.Bool("has_header", false) {
		issues = append(issues, config.Warnf("parser.options.has_header", "NSL-KDD files have no header; the first line will be skipped"))
	}

	switch {
	case p.Storage.Kind == "":
		issues = append(issues, config.Errorf("storage.kind", "storage kind is required (one of %s)", strings.Join(storageKinds, ", ")))
	case !contains(storageKinds, p.Storage.Kind):
		issues = append(issues, config.Errorf("storage.kind", "unsupported storage kind %q (one of %s)", p.Storage.Kind, strings.Join(storageKinds, ", ")))
	case p.Storage.Kind != "memory" && strings.TrimSpace(p.Storage.DB.DSN) == "":
		issues = append(issues, config.Errorf("storage.db.dsn", "dsn is required for storage kind %q", p.Storage.Kind))
	}

	if p.Runtime.BatchSize < 0 {
		issues = append(issues, config.Errorf("runtime.batch_size", "must be positive (0 selects %d), got %d", DefaultBatchSize, p.Runtime.BatchSize))
	}
	switch p.Runtime.OnMissing {
	case OnMissingError, OnMissingNull:
	default:
		issues = append(issues, config.Errorf("runtime.on_missing", "must be %q or %q, got %q", OnMissingError, OnMissingNull, p.Runtime.OnMissing))
	}
	if p.Runtime.OnMissing == OnMissingNull && !p.Storage.DB.AutoCreateTables && p.Storage.Kind != "memory" {
		issues = append(issues, config.Warnf("runtime.on_missing", "null foreign keys require nullable id columns in the existing schema"))
	}

	if !contains(metricsKinds, p.Metrics.Backend) {
		issues = append(issues, config.Errorf("metrics.backend", "unsupported metrics backend %q", p.Metrics.Backend))
	}
	for i, tag := range p.Metrics.Tags {
		if !strings.Contains(tag, ":") {
			issues = append(issues, config.Warnf("metrics.tags", "tag %d (%q) is not key:value", i, tag))
		}
	}

	return issues
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
