package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/beevik/etree"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/verdict-cli/internal/observability"
)

const landingPage = `<!DOCTYPE html>
<html><body>
<h1>Hi, I'm Ada</h1>
<a href="#contact">Get In Touch</a>
<section id="contact"><h2>Contact</h2></section>
</body></html>`

const passingScenario = `name: hero renders
tags: [smoke]
steps:
  - click: text=Get In Touch
assertions:
  - visible: text=Contact
`

const failingScenario = `name: missing banner
tags: [regression]
assertions:
  - visible: text=Form submission successful
    timeout: 200ms
failure_message: the banner never appeared
`

// resetForTest provides the single source of truth for resetting test state.
func resetForTest(t *testing.T) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
}

// executeCommand runs a fresh command tree and captures its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetForTest(t)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func newTargetSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, landingPage)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeScenarios lays out a scenario directory, one file per entry.
func writeScenarios(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "verdict version "+Version)
}

func TestVersionCmd(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "verdict version "+Version+"\n", out)
}

func TestRootCmd_NoArgs(t *testing.T) {
	out, err := executeCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Verdict runs scripted UI verification sessions")
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "validate")
}

func TestRunCmd_RequiredArgs(t *testing.T) {
	_, err := executeCommand(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg(s), only received 0")
}

func TestRunCmd_StaticEngine(t *testing.T) {
	srv := newTargetSite(t)

	t.Run("AllPassing", func(t *testing.T) {
		dir := writeScenarios(t, map[string]string{"hero.yaml": passingScenario})
		out, err := executeCommand(t, "run", "--engine", "static", "--url", srv.URL,
			"--settle-delay", "10ms", "--format", "json", dir)
		require.NoError(t, err, out)

		var doc struct {
			Summary struct {
				Total  int `json:"total"`
				Passed int `json:"passed"`
			} `json:"summary"`
			Results []struct {
				Scenario string `json:"scenario"`
				Engine   string `json:"engine"`
				Passed   bool   `json:"passed"`
			} `json:"results"`
		}
		require.NoError(t, jsoniter.Unmarshal([]byte(out), &doc), out)
		assert.Equal(t, 1, doc.Summary.Total)
		assert.Equal(t, 1, doc.Summary.Passed)
		require.Len(t, doc.Results, 1)
		assert.Equal(t, "hero renders", doc.Results[0].Scenario)
		assert.Equal(t, "static", doc.Results[0].Engine)
	})

	t.Run("FailureExitsNonZero", func(t *testing.T) {
		dir := writeScenarios(t, map[string]string{
			"hero.yaml":   passingScenario,
			"banner.yaml": failingScenario,
		})
		out, err := executeCommand(t, "run", "--engine", "static", "--url", srv.URL,
			"--settle-delay", "10ms", "--concurrency", "2", dir)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRunFailed))
		assert.Contains(t, out, "PASS  hero renders")
		assert.Contains(t, out, "FAIL  missing banner")
		assert.Contains(t, out, "the banner never appeared")
		assert.Contains(t, out, "1 passed, 1 failed, 2 total")
	})

	t.Run("TagFilter", func(t *testing.T) {
		dir := writeScenarios(t, map[string]string{
			"hero.yaml":   passingScenario,
			"banner.yaml": failingScenario,
		})
		out, err := executeCommand(t, "run", "--engine", "static", "--url", srv.URL,
			"--settle-delay", "10ms", "--tag", "smoke", dir)
		require.NoError(t, err, out)
		assert.NotContains(t, out, "missing banner")

		_, err = executeCommand(t, "run", "--engine", "static", "--url", srv.URL, "--tag", "nightly", dir)
		assert.ErrorContains(t, err, "no scenarios carry any of the tags nightly")
	})

	t.Run("JUnitToFile", func(t *testing.T) {
		dir := writeScenarios(t, map[string]string{"banner.yaml": failingScenario})
		report := filepath.Join(t.TempDir(), "report.xml")
		_, err := executeCommand(t, "run", "--engine", "static", "--url", srv.URL,
			"--format", "junit", "--output", report, dir)
		require.ErrorIs(t, err, ErrRunFailed)

		doc := etree.NewDocument()
		require.NoError(t, doc.ReadFromFile(report))
		failure := doc.FindElement("//testcase[@name='missing banner']/failure")
		require.NotNil(t, failure)
		assert.Equal(t, "ASSERTION_FAILED", failure.SelectAttrValue("type", ""))
	})
}

func TestRunCmd_ConfigPrecedence(t *testing.T) {
	srv := newTargetSite(t)
	dir := writeScenarios(t, map[string]string{"hero.yaml": passingScenario})

	cfgPath := filepath.Join(t.TempDir(), "verdict.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
engine:
  name: cdp
session:
  target_url: %s
  settle_delay: 10ms
report:
  format: junit
`, srv.URL)), 0o644))

	// The environment overrides the file, and flags override both.
	t.Setenv("VERDICT_ENGINE_NAME", "static")
	out, err := executeCommand(t, "--config", cfgPath, "run", "--format", "text", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "PASS  hero renders")
}

func TestRunCmd_ConfigErrors(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"hero.yaml": passingScenario})

	_, err := executeCommand(t, "run", "--concurrency", "0", dir)
	assert.ErrorContains(t, err, "engine.concurrency must be a positive integer")

	_, err = executeCommand(t, "run", "--engine", "selenium", dir)
	assert.ErrorContains(t, err, "engine.name must be one of")

	_, err = executeCommand(t, "run", "--format", "sarif", dir)
	assert.ErrorContains(t, err, "report.format must be one of")

	_, err = executeCommand(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "run", dir)
	assert.ErrorContains(t, err, "error reading config file")
}

func TestRunCmd_InvalidScenario(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"broken.yaml": "name: broken\nsteps:\n  - hover: text=Menu\n"})
	_, err := executeCommand(t, "run", "--engine", "static", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_SCENARIO")
	assert.False(t, errors.Is(err, ErrRunFailed))
}

func TestValidateCmd(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"hero.yaml":   passingScenario,
		"banner.yaml": failingScenario,
	})
	out, err := executeCommand(t, "validate", "--tag", "regression", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "missing banner ("+filepath.Join(dir, "banner.yaml")+")")
	assert.Contains(t, out, "target http://localhost:3000, wait until commit within 10s, settle 3s")
	assert.Contains(t, out, "-> expect text=Form submission successful to be visible within 200ms")
	assert.NotContains(t, out, "hero renders")
	assert.Contains(t, out, "1 scenario(s) valid")

	out, err = executeCommand(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, " 1. click text=Get In Touch")
	assert.Contains(t, out, "-> expect text=Contact to be visible within 30s")
	assert.Contains(t, out, "2 scenario(s) valid")
}
