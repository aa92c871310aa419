// internal/reporting/reporter_test.go
package reporting_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
	"github.com/xkilldash9x/verdict-cli/internal/reporting"
)

const testToolVersion = "v1.0.0-test"

// bufferCloser records what was written and whether Close ran.
type bufferCloser struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return b.closeErr
}

func passedResult() *schemas.RunResult {
	return &schemas.RunResult{
		RunID:      "run-1",
		Scenario:   "TC001 hero renders",
		Engine:     "static",
		Passed:     true,
		State:      schemas.StateTornDown,
		FailedStep: -1,
		Duration:   1500 * time.Millisecond,
		History: []schemas.StateTransition{
			{From: schemas.StateCreated, To: schemas.StateLaunched, At: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		},
	}
}

func failedResult() *schemas.RunResult {
	return &schemas.RunResult{
		RunID:      "run-2",
		Scenario:   "TC007 invalid email",
		Engine:     "static",
		State:      schemas.StateTornDown,
		Message:    "Email validation is not working",
		Error:      "ASSERTION_FAILED: 1 assertion(s) failed",
		ErrorCode:  schemas.ErrCodeAssertionFailed,
		FailedStep: -1,
		Duration:   2 * time.Second,
		Failures: []schemas.AssertionFailure{{
			Assertion: schemas.ExpectVisible(schemas.MustParseLocator("text=Form submission successful"), time.Second),
			Reason:    schemas.ErrCodeAssertionFailed,
			Expected:  "visible",
			Actual:    "absent",
			Timeout:   time.Second,
		}},
		Frames:         []schemas.FrameLoadResult{{FrameID: "frame-1", URL: "https://embed.example/", Error: "timeout"}},
		TeardownErrors: []string{"page: target closed"},
	}
}

func erroredResult() *schemas.RunResult {
	return &schemas.RunResult{
		RunID:      "run-3",
		Scenario:   "TC011 dark theme",
		Engine:     "cdp",
		State:      schemas.StateTornDown,
		Error:      "ENGINE_UNAVAILABLE: start cdp engine: no Chrome or Chromium binary found",
		ErrorCode:  schemas.ErrCodeEngineUnavailable,
		FailedStep: -1,
	}
}

func TestNew_Stdout(t *testing.T) {
	for _, format := range reporting.Formats {
		r, err := reporting.New(format, "stdout", testToolVersion)
		require.NoError(t, err, format)
		require.NotNil(t, r)
	}

	// Implicit stdout (empty path) is accepted as well.
	r, err := reporting.New("json", "", testToolVersion)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestNew_File(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "results.xml")

	r, err := reporting.New("junit", tmpFile, testToolVersion)
	require.NoError(t, err)
	require.NoError(t, r.Write(passedResult()))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(tmpFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `<testsuites name="verdict"`)
}

func TestNew_Failures(t *testing.T) {
	r, err := reporting.New("sarif", "stdout", testToolVersion)
	assert.Nil(t, r)
	assert.ErrorContains(t, err, "unsupported output format: sarif")

	// An unsupported format must not leave a file behind.
	path := filepath.Join(t.TempDir(), "out.txt")
	_, err = reporting.New("xml", path, testToolVersion)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	_, err = reporting.New("text", filepath.Join(t.TempDir(), "missing", "out.txt"), testToolVersion)
	assert.ErrorContains(t, err, "failed to create output file")

	w := &bufferCloser{}
	_, err = reporting.NewWithWriter("yaml", w, testToolVersion)
	require.Error(t, err)
	assert.True(t, w.closed, "the writer is closed when no reporter takes it")
}

func TestTextReporter(t *testing.T) {
	w := &bufferCloser{}
	r := reporting.NewTextReporter(w)
	require.NoError(t, r.Write(passedResult()))
	require.NoError(t, r.Write(failedResult()))
	require.NoError(t, r.Close())

	out := w.String()
	assert.Contains(t, out, "PASS  TC001 hero renders (1.5s)")
	assert.Contains(t, out, "FAIL  TC007 invalid email (2s)")
	assert.Contains(t, out, "      Email validation is not working\n")
	assert.Contains(t, out, "error: ASSERTION_FAILED: 1 assertion(s) failed")
	assert.Contains(t, out, "- ASSERTION_FAILED: expected text=Form submission successful to be visible within 1s, was absent")
	assert.Contains(t, out, "warning: frame frame-1 (https://embed.example/) did not load: timeout")
	assert.Contains(t, out, "warning: teardown: page: target closed")
	assert.True(t, strings.HasSuffix(out, "1 passed, 1 failed, 2 total (3.5s)\n"))
	assert.True(t, w.closed)
}

func TestTextReporter_CloseError(t *testing.T) {
	w := &bufferCloser{closeErr: errors.New("disk gone")}
	r := reporting.NewTextReporter(w)
	assert.ErrorContains(t, r.Close(), "disk gone")
}

func TestJSONReporter(t *testing.T) {
	w := &bufferCloser{}
	r := reporting.NewJSONReporter(w, testToolVersion)

	// Runs report concurrently from the suite engine.
	var wg sync.WaitGroup
	for _, res := range []*schemas.RunResult{passedResult(), failedResult(), erroredResult()} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Write(res))
		}()
	}
	wg.Wait()
	require.NoError(t, r.Close())
	assert.True(t, w.closed)

	var doc struct {
		Tool    string `json:"tool"`
		Version string `json:"version"`
		Summary struct {
			Total  int `json:"total"`
			Passed int `json:"passed"`
			Failed int `json:"failed"`
		} `json:"summary"`
		Results []map[string]interface{} `json:"results"`
	}
	require.NoError(t, jsoniter.Unmarshal(w.Bytes(), &doc))
	assert.Equal(t, "verdict", doc.Tool)
	assert.Equal(t, testToolVersion, doc.Version)
	assert.Equal(t, 3, doc.Summary.Total)
	assert.Equal(t, 1, doc.Summary.Passed)
	assert.Equal(t, 2, doc.Summary.Failed)
	require.Len(t, doc.Results, 3)

	for _, res := range doc.Results {
		assert.NotContains(t, res, "Err", "the raw error value is not serialized")
		if res["scenario"] == "TC007 invalid email" {
			assert.Equal(t, "ASSERTION_FAILED", res["error_code"])
			assert.Equal(t, 2.0, res["duration_seconds"])
			failures := res["failures"].([]interface{})
			first := failures[0].(map[string]interface{})
			assertion := first["assertion"].(map[string]interface{})
			assert.Equal(t, "text=Form submission successful", assertion["locator"])
		}
	}
}

func TestJSONReporter_Empty(t *testing.T) {
	w := &bufferCloser{}
	r := reporting.NewJSONReporter(w, testToolVersion)
	require.NoError(t, r.Close())
	assert.Contains(t, w.String(), `"results": []`)
}

func TestJUnitReporter(t *testing.T) {
	w := &bufferCloser{}
	r := reporting.NewJUnitReporter(w, testToolVersion)
	require.NoError(t, r.Write(passedResult()))
	require.NoError(t, r.Write(failedResult()))
	require.NoError(t, r.Write(erroredResult()))
	require.NoError(t, r.Close())
	assert.True(t, w.closed)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(w.Bytes()))

	suites := doc.SelectElement("testsuites")
	require.NotNil(t, suites)
	assert.Equal(t, "3", suites.SelectAttrValue("tests", ""))
	assert.Equal(t, "1", suites.SelectAttrValue("failures", ""))
	assert.Equal(t, "1", suites.SelectAttrValue("errors", ""))
	assert.Equal(t, "3.500", suites.SelectAttrValue("time", ""))

	suite := suites.SelectElement("testsuite")
	require.NotNil(t, suite)
	cases := suite.SelectElements("testcase")
	require.Len(t, cases, 3)

	assert.Equal(t, "TC001 hero renders", cases[0].SelectAttrValue("name", ""))
	assert.Nil(t, cases[0].SelectElement("failure"))
	assert.Contains(t, cases[0].SelectElement("system-out").Text(), "run_id: run-1")
	assert.Contains(t, cases[0].SelectElement("system-out").Text(), "created -> launched")

	failure := cases[1].SelectElement("failure")
	require.NotNil(t, failure)
	assert.Equal(t, "Email validation is not working", failure.SelectAttrValue("message", ""))
	assert.Equal(t, "ASSERTION_FAILED", failure.SelectAttrValue("type", ""))
	assert.Contains(t, failure.Text(), "expected text=Form submission successful to be visible")
	assert.Equal(t, "verdict.static", cases[1].SelectAttrValue("classname", ""))

	errEl := cases[2].SelectElement("error")
	require.NotNil(t, errEl)
	assert.Equal(t, "ENGINE_UNAVAILABLE", errEl.SelectAttrValue("type", ""))
	assert.Contains(t, errEl.SelectAttrValue("message", ""), "no Chrome")
}
