package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// TextReporter prints one block per run as results arrive and a summary line on Close.
type TextReporter struct {
	writer io.WriteCloser

	mu       sync.Mutex
	passed   int
	failed   int
	duration time.Duration
}

// NewTextReporter creates a text reporter that takes ownership of writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

func (r *TextReporter) Write(res *schemas.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	status := "PASS"
	if res.Passed {
		r.passed++
	} else {
		r.failed++
		status = "FAIL"
	}
	r.duration += res.Duration

	fmt.Fprintf(&b, "%s  %s (%s)\n", status, res.Scenario, res.Duration.Round(time.Millisecond))
	if !res.Passed {
		if res.Message != "" {
			fmt.Fprintf(&b, "      %s\n", res.Message)
		}
		if res.Error != "" && res.Error != res.Message {
			fmt.Fprintf(&b, "      error: %s\n", res.Error)
		}
		for _, f := range res.Failures {
			fmt.Fprintf(&b, "      - %s\n", f)
		}
	}
	for _, fr := range res.Frames {
		if !fr.Loaded {
			fmt.Fprintf(&b, "      warning: frame %s (%s) did not load: %s\n", fr.FrameID, fr.URL, fr.Error)
		}
	}
	for _, te := range res.TeardownErrors {
		fmt.Fprintf(&b, "      warning: teardown: %s\n", te)
	}

	if _, err := io.WriteString(r.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write text report: %w", err)
	}
	return nil
}

// Close writes the summary and closes the writer.
func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, werr := fmt.Fprintf(r.writer, "\n%d passed, %d failed, %d total (%s)\n",
		r.passed, r.failed, r.passed+r.failed, r.duration.Round(time.Millisecond))
	closeErr := r.writer.Close()
	if werr != nil {
		return fmt.Errorf("failed to write text summary: %w", werr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}
