package reporting

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
	"github.com/xkilldash9x/verdict-cli/internal/observability"
)

// JUnitReporter writes a JUnit XML document with one testcase per run.
// Assertion, navigation and element failures become <failure>; runs that
// never reached the target become <error>.
type JUnitReporter struct {
	writer      io.WriteCloser
	toolVersion string
	logger      *zap.Logger

	mu      sync.Mutex
	results []*schemas.RunResult
}

// NewJUnitReporter creates a JUnit reporter that takes ownership of writer.
func NewJUnitReporter(writer io.WriteCloser, toolVersion string) *JUnitReporter {
	return &JUnitReporter{
		writer:      writer,
		toolVersion: toolVersion,
		logger:      observability.GetLogger().Named("junit_reporter"),
	}
}

func (r *JUnitReporter) Write(res *schemas.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func (r *JUnitReporter) document() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	var failures, errors int
	var total time.Duration
	for _, res := range r.results {
		total += res.Duration
		if res.Passed {
			continue
		}
		if isInfrastructure(res.ErrorCode) {
			errors++
		} else {
			failures++
		}
	}

	suites := doc.CreateElement("testsuites")
	suites.CreateAttr("name", ToolName)
	suites.CreateAttr("tests", strconv.Itoa(len(r.results)))
	suites.CreateAttr("failures", strconv.Itoa(failures))
	suites.CreateAttr("errors", strconv.Itoa(errors))
	suites.CreateAttr("time", seconds(total))

	suite := suites.CreateElement("testsuite")
	suite.CreateAttr("name", ToolName)
	suite.CreateAttr("tests", strconv.Itoa(len(r.results)))
	suite.CreateAttr("failures", strconv.Itoa(failures))
	suite.CreateAttr("errors", strconv.Itoa(errors))
	suite.CreateAttr("skipped", "0")
	suite.CreateAttr("time", seconds(total))
	suite.CreateAttr("timestamp", time.Now().UTC().Format("2006-01-02T15:04:05"))

	props := suite.CreateElement("properties")
	prop := props.CreateElement("property")
	prop.CreateAttr("name", "version")
	prop.CreateAttr("value", r.toolVersion)

	for _, res := range r.results {
		r.testcase(suite, res)
	}
	return doc
}

func (r *JUnitReporter) testcase(suite *etree.Element, res *schemas.RunResult) {
	tc := suite.CreateElement("testcase")
	tc.CreateAttr("name", res.Scenario)
	tc.CreateAttr("classname", ToolName+"."+res.Engine)
	tc.CreateAttr("time", seconds(res.Duration))

	if !res.Passed {
		kind := "failure"
		if isInfrastructure(res.ErrorCode) {
			kind = "error"
		}
		el := tc.CreateElement(kind)
		msg := res.Message
		if msg == "" {
			msg = res.Error
		}
		el.CreateAttr("message", msg)
		el.CreateAttr("type", string(res.ErrorCode))

		var body strings.Builder
		if res.Error != "" {
			body.WriteString(res.Error)
			body.WriteByte('\n')
		}
		if res.FailedStep >= 0 {
			fmt.Fprintf(&body, "failed at step %d\n", res.FailedStep+1)
		}
		for _, f := range res.Failures {
			body.WriteString(f.String())
			body.WriteByte('\n')
		}
		el.SetText(body.String())
	}

	var out strings.Builder
	fmt.Fprintf(&out, "run_id: %s\n", res.RunID)
	for _, h := range res.History {
		fmt.Fprintf(&out, "%s %s -> %s\n", h.At.UTC().Format(time.RFC3339Nano), h.From, h.To)
	}
	for _, fr := range res.Frames {
		if !fr.Loaded {
			fmt.Fprintf(&out, "frame %s (%s) did not load: %s\n", fr.FrameID, fr.URL, fr.Error)
		}
	}
	for _, te := range res.TeardownErrors {
		fmt.Fprintf(&out, "teardown: %s\n", te)
	}
	tc.CreateElement("system-out").SetText(out.String())
}

// Close renders the document and closes the writer.
func (r *JUnitReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.document()
	doc.Indent(2)
	_, writeErr := doc.WriteTo(r.writer)
	closeErr := r.writer.Close()

	if writeErr != nil {
		r.logger.Error("Failed to write JUnit report", zap.Error(writeErr))
		return fmt.Errorf("failed to write JUnit output: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}
