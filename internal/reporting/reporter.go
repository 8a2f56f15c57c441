// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/rulecheck/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report is the document written at the end of a run.
type Report struct {
	Tool    string                  `json:"tool"`
	Version string                  `json:"version"`
	Summary schemas.RunSummary      `json:"summary"`
	Results []schemas.RulesetResult `json:"results"`
}

// Reporter writes a run report to an output.
type Reporter interface {
	Write(report *Report) error
	// Close finalizes the report and closes any underlying file.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a JSON reporter writing to outputPath, or to stdout for "" and "stdout".
func New(outputPath string) (Reporter, error) {
	if outputPath == "" || outputPath == "stdout" {
		return NewJSONReporter(&nopWriteCloser{os.Stdout}), nil
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
	}
	return NewJSONReporter(f), nil
}

// JSONReporter writes an indented JSON report. It takes ownership of the writer.
type JSONReporter struct {
	w io.WriteCloser
}

// NewJSONReporter wraps w.
func NewJSONReporter(w io.WriteCloser) *JSONReporter {
	return &JSONReporter{w: w}
}

func (r *JSONReporter) Write(report *Report) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}
	if report.Results == nil {
		report.Results = []schemas.RulesetResult{}
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error {
	return r.w.Close()
}
