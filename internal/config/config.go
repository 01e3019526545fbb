// Package config defines the JSON run configuration for linegroup and its
// validation.
//
// Every field is optional except the source path, which usually comes from
// the command line rather than the file. Defaults are applied by
// ApplyDefaults, never by the JSON decoder.
package config

import (
	"fmt"
	"strings"
)

// Run is the full configuration of a single grouping run.
type Run struct {
	Job     string  `json:"job"`
	Source  Source  `json:"source"`
	Output  Output  `json:"output"`
	Storage Storage `json:"storage"`
	Runtime Runtime `json:"runtime"`
}

// Source describes the input file.
type Source struct {
	Path string `json:"path"`

	// Parser options, see internal/parser/line (encoding, strip_bom).
	Options Options `json:"options"`
}

// Output describes the report sink.
type Output struct {
	// Path of the report. Empty means result.<ext> next to the input file.
	Path string `json:"path"`

	// Format is "text" (default) or "html".
	Format string `json:"format"`
}

// Storage optionally persists groups into a SQL database.
type Storage struct {
	// Kind: "" (disabled) | "sqlite" | "postgres" | "mssql"
	Kind  string `json:"kind"`
	DSN   string `json:"dsn"`
	Table string `json:"table"`
}

// Enabled reports whether a storage sink is configured.
func (s Storage) Enabled() bool { return strings.TrimSpace(s.Kind) != "" }

// Runtime controls pipeline execution behavior.
type Runtime struct {
	// ChannelBuffer is the capacity of the reader -> builder row channel.
	ChannelBuffer int `json:"channel_buffer"`

	// BatchSize is the number of member rows per storage insert.
	BatchSize int `json:"batch_size"`
}

const (
	DefaultJob           = "linegroup"
	DefaultFormat        = "text"
	DefaultTable         = "line_groups"
	DefaultChannelBuffer = 256
	DefaultBatchSize     = 250
)

// ApplyDefaults fills zero values with defaults and returns the result.
func ApplyDefaults(r Run) Run {
	if r.Job == "" {
		r.Job = DefaultJob
	}
	if r.Output.Format == "" {
		r.Output.Format = DefaultFormat
	}
	r.Output.Format = strings.ToLower(strings.TrimSpace(r.Output.Format))
	if r.Storage.Enabled() && r.Storage.Table == "" {
		r.Storage.Table = DefaultTable
	}
	if r.Runtime.ChannelBuffer <= 0 {
		r.Runtime.ChannelBuffer = DefaultChannelBuffer
	}
	if r.Runtime.BatchSize <= 0 {
		r.Runtime.BatchSize = DefaultBatchSize
	}
	return r
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding of ValidateRun.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var knownStorage = map[string]bool{
	"sqlite":   true,
	"postgres": true,
	"mssql":    true,
}

// ValidateRun checks a run config after ApplyDefaults.
//
// Errors block the run; warnings are informational.
func ValidateRun(r Run) []Issue {
	var out []Issue
	add := func(sev Severity, path, msg string) {
		out = append(out, Issue{Severity: sev, Path: path, Message: msg})
	}

	if strings.TrimSpace(r.Source.Path) == "" {
		add(SeverityError, "source.path", "input file path is required")
	}

	switch r.Output.Format {
	case "text", "html":
	default:
		add(SeverityError, "output.format", fmt.Sprintf("unsupported format %q (want text or html)", r.Output.Format))
	}

	if r.Storage.Enabled() {
		kind := strings.ToLower(strings.TrimSpace(r.Storage.Kind))
		if !knownStorage[kind] {
			add(SeverityError, "storage.kind", fmt.Sprintf("unsupported storage kind %q", r.Storage.Kind))
		}
		if strings.TrimSpace(r.Storage.DSN) == "" {
			add(SeverityError, "storage.dsn", "dsn is required when storage.kind is set")
		}
		if strings.ContainsAny(r.Storage.Table, " ;'\"") {
			add(SeverityError, "storage.table", "table name must not contain spaces, quotes or semicolons")
		}
	} else if r.Storage.DSN != "" {
		add(SeverityWarning, "storage.dsn", "dsn is set but storage.kind is empty; storage disabled")
	}

	if r.Runtime.BatchSize > 10000 {
		add(SeverityWarning, "runtime.batch_size", "very large batches may exceed backend parameter limits")
	}

	return out
}
