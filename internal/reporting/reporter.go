// Package reporting writes run results in the formats CI and humans consume.
package reporting

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// Tool identification written into machine readable reports.
const (
	ToolName    = "verdict"
	ToolInfoURI = "https://github.com/xkilldash9x/verdict-cli"
)

// Reporter defines the interface for writing run results to an output.
type Reporter interface {
	// Write records a single run result. It is safe for concurrent use.
	Write(result *schemas.RunResult) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// NopCloser lets a reporter write to w without closing it, for stdout and
// other shared streams.
func NopCloser(w io.Writer) io.WriteCloser {
	return &nopWriteCloser{w}
}

// Formats lists the supported output formats.
var Formats = []string{"text", "json", "junit"}

// New creates a new reporter based on the specified format and output path.
// An empty path or "stdout" writes to standard output.
func New(format, outputPath, toolVersion string) (Reporter, error) {
	if !supported(format) {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = NopCloser(os.Stdout)
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWithWriter(format, writer, toolVersion)
}

// NewWithWriter creates a reporter that takes ownership of writer.
func NewWithWriter(format string, writer io.WriteCloser, toolVersion string) (Reporter, error) {
	switch format {
	case "text":
		return NewTextReporter(writer), nil
	case "json":
		return NewJSONReporter(writer, toolVersion), nil
	case "junit":
		return NewJUnitReporter(writer, toolVersion), nil
	default:
		writer.Close()
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

func supported(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// isInfrastructure reports whether the code means the run could not be
// carried out at all, as opposed to the target misbehaving.
func isInfrastructure(code schemas.ErrorCode) bool {
	switch code {
	case schemas.ErrCodeEngineUnavailable, schemas.ErrCodeLaunch, schemas.ErrCodeInvalidScenario:
		return true
	}
	return false
}

// seconds renders d the way JUnit consumers expect.
func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
