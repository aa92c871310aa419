package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
	"github.com/xkilldash9x/verdict-cli/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonReport is the document written by JSONReporter.
type jsonReport struct {
	Tool        string         `json:"tool"`
	Version     string         `json:"version"`
	InfoURI     string         `json:"information_uri"`
	GeneratedAt time.Time      `json:"generated_at"`
	Summary     jsonSummary    `json:"summary"`
	Results     []jsonRunEntry `json:"results"`
}

type jsonSummary struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Duration float64 `json:"duration_seconds"`
}

// jsonRunEntry adds human readable durations to the raw result.
type jsonRunEntry struct {
	*schemas.RunResult
	DurationSeconds float64 `json:"duration_seconds"`
}

// JSONReporter collects results and writes them as one JSON document on Close.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu     sync.Mutex
	report jsonReport
}

// NewJSONReporter creates a JSON reporter that takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser, toolVersion string) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("json_reporter"),
		report: jsonReport{
			Tool:    ToolName,
			Version: toolVersion,
			InfoURI: ToolInfoURI,
			// Initialize empty slices (not nil) for proper JSON marshalling
			Results: []jsonRunEntry{},
		},
	}
}

func (r *JSONReporter) Write(res *schemas.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Results = append(r.report.Results, jsonRunEntry{RunResult: res, DurationSeconds: res.Duration.Seconds()})
	s := &r.report.Summary
	s.Total++
	if res.Passed {
		s.Passed++
	} else {
		s.Failed++
	}
	s.Duration += res.Duration.Seconds()
	return nil
}

// Close encodes the collected results and closes the writer.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.GeneratedAt = time.Now().UTC()
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.report)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode JSON report", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode JSON output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Debug("Wrote JSON report", zap.Int("results", len(r.report.Results)))
	return nil
}
