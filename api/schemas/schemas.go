package schemas

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// -- Session Configuration --

// WaitCondition names a document lifecycle milestone a navigation can wait for.
type WaitCondition string

const (
	// WaitCommit is reached once the response has been received and the document started loading.
	WaitCommit WaitCondition = "commit"
	// WaitDOMContentLoaded is reached when the DOMContentLoaded event fires.
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	// WaitLoad is reached when the load event fires.
	WaitLoad WaitCondition = "load"
)

// ParseWaitCondition validates a wait condition name. An empty string yields WaitCommit.
func ParseWaitCondition(s string) (WaitCondition, error) {
	switch WaitCondition(strings.ToLower(strings.TrimSpace(s))) {
	case "", WaitCommit:
		return WaitCommit, nil
	case WaitDOMContentLoaded:
		return WaitDOMContentLoaded, nil
	case WaitLoad:
		return WaitLoad, nil
	default:
		return "", fmt.Errorf("unknown wait condition %q (want commit, domcontentloaded or load)", s)
	}
}

// Rank orders conditions so that a later milestone implies the earlier ones.
func (w WaitCondition) Rank() int {
	switch w {
	case WaitCommit:
		return 1
	case WaitDOMContentLoaded:
		return 2
	case WaitLoad:
		return 3
	default:
		return 0
	}
}

// LaunchOptions are the startup flags for one browser process.
type LaunchOptions struct {
	Headless     bool     `mapstructure:"headless" yaml:"headless" json:"headless"`
	WindowWidth  int      `mapstructure:"window_width" yaml:"window_width" json:"window_width"`
	WindowHeight int      `mapstructure:"window_height" yaml:"window_height" json:"window_height"`
	NoSandbox    bool     `mapstructure:"no_sandbox" yaml:"no_sandbox" json:"no_sandbox"`
	Args         []string `mapstructure:"args" yaml:"args" json:"args,omitempty"`
	// ExecPath pins the browser binary. Engines search well-known locations when empty.
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path" json:"exec_path,omitempty"`
	// RemoteURL attaches to an already running browser over the DevTools websocket.
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url" json:"remote_url,omitempty"`
	// Install downloads the engine's browser build when it is missing.
	Install bool          `mapstructure:"install" yaml:"install" json:"install"`
	Timeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout" json:"launch_timeout"`
}

// SessionConfig is the immutable input of a single run. The runner takes it by value.
type SessionConfig struct {
	TargetURL         string        `mapstructure:"target_url" yaml:"target_url" json:"target_url"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout" json:"navigation_timeout"`
	WaitUntil         WaitCondition `mapstructure:"wait_until" yaml:"wait_until" json:"wait_until"`
	// DefaultTimeout bounds every action that does not carry its own timeout.
	DefaultTimeout   time.Duration `mapstructure:"default_timeout" yaml:"default_timeout" json:"default_timeout"`
	FrameLoadTimeout time.Duration `mapstructure:"frame_load_timeout" yaml:"frame_load_timeout" json:"frame_load_timeout"`
	// SettleDelay is slept before every click and fill so transitions can finish.
	SettleDelay      time.Duration `mapstructure:"settle_delay" yaml:"settle_delay" json:"settle_delay"`
	AssertionTimeout time.Duration `mapstructure:"assertion_timeout" yaml:"assertion_timeout" json:"assertion_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
	// FailFast stops the assertion set at the first failure instead of collecting all of them.
	FailFast bool          `mapstructure:"fail_fast" yaml:"fail_fast" json:"fail_fast"`
	Launch   LaunchOptions `mapstructure:"launch" yaml:"launch" json:"launch"`
}

// Validate checks that the configuration can drive a run.
func (c SessionConfig) Validate() error {
	if c.TargetURL == "" {
		return fmt.Errorf("target_url is required")
	}
	u, err := url.Parse(c.TargetURL)
	if err != nil {
		return fmt.Errorf("target_url %q is not a valid URL: %w", c.TargetURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target_url %q must be absolute", c.TargetURL)
	}
	if c.WaitUntil.Rank() == 0 {
		return fmt.Errorf("wait_until %q is not a known wait condition", c.WaitUntil)
	}
	for name, d := range map[string]time.Duration{
		"navigation_timeout": c.NavigationTimeout,
		"default_timeout":    c.DefaultTimeout,
		"frame_load_timeout": c.FrameLoadTimeout,
		"assertion_timeout":  c.AssertionTimeout,
		"poll_interval":      c.PollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative")
	}
	return nil
}

// ResolveURL resolves raw against TargetURL. Absolute URLs pass through untouched.
func (c SessionConfig) ResolveURL(raw string) (string, error) {
	if raw == "" {
		return c.TargetURL, nil
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(c.TargetURL)
	if err != nil {
		return "", fmt.Errorf("invalid target_url %q: %w", c.TargetURL, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// ContextOptions configure an isolated browsing context.
type ContextOptions struct {
	DefaultTimeout time.Duration
	ViewportWidth  int
	ViewportHeight int
}

// -- Interaction Steps --

// StepKind discriminates the Step variant.
type StepKind string

const (
	StepNavigate StepKind = "navigate"
	StepClick    StepKind = "click"
	StepFill     StepKind = "fill"
	StepScroll   StepKind = "scroll"
	StepWait     StepKind = "wait"
	StepViewport StepKind = "viewport"
)

// Step is one ordered instruction. Only the fields relevant to Kind are read.
type Step struct {
	Kind StepKind `json:"kind"`
	Name string   `json:"name,omitempty"`

	URL       string        `json:"url,omitempty"`
	WaitUntil WaitCondition `json:"wait_until,omitempty"`

	Locator Locator `json:"locator,omitzero"`
	Text    string  `json:"text,omitempty"`

	DeltaX float64 `json:"dx,omitempty"`
	DeltaY float64 `json:"dy,omitempty"`

	Duration time.Duration `json:"duration,omitempty"`

	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// Timeout overrides the session default for this step. Zero means inherit.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Navigate builds a navigation step. A relative url resolves against the target URL.
func Navigate(url string, cond WaitCondition) Step {
	return Step{Kind: StepNavigate, URL: url, WaitUntil: cond}
}

// Click builds a click step.
func Click(loc Locator, timeout time.Duration) Step {
	return Step{Kind: StepClick, Locator: loc, Timeout: timeout}
}

// Fill builds a fill step. An empty text clears the field.
func Fill(loc Locator, text string) Step {
	return Step{Kind: StepFill, Locator: loc, Text: text}
}

// Scroll builds a mouse wheel step.
func Scroll(dx, dy float64) Step {
	return Step{Kind: StepScroll, DeltaX: dx, DeltaY: dy}
}

// WaitFixed builds an unconditional pause.
func WaitFixed(d time.Duration) Step {
	return Step{Kind: StepWait, Duration: d}
}

// SetViewport builds a viewport resize step.
func SetViewport(width, height int) Step {
	return Step{Kind: StepViewport, Width: width, Height: height}
}

// Validate checks the fields the step kind requires.
func (s Step) Validate() error {
	if s.Timeout < 0 {
		return fmt.Errorf("%s: timeout must not be negative", s.Kind)
	}
	switch s.Kind {
	case StepNavigate:
		if s.WaitUntil != "" && s.WaitUntil.Rank() == 0 {
			return fmt.Errorf("navigate: unknown wait condition %q", s.WaitUntil)
		}
	case StepClick, StepFill:
		if s.Locator.IsZero() {
			return fmt.Errorf("%s: locator is required", s.Kind)
		}
	case StepScroll:
		if s.DeltaX == 0 && s.DeltaY == 0 {
			return fmt.Errorf("scroll: dx or dy must be non-zero")
		}
	case StepWait:
		if s.Duration <= 0 {
			return fmt.Errorf("wait: duration must be positive")
		}
	case StepViewport:
		if s.Width <= 0 || s.Height <= 0 {
			return fmt.Errorf("viewport: width and height must be positive")
		}
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	return nil
}

// String renders the step for logs and diagnostics.
func (s Step) String() string {
	var desc string
	switch s.Kind {
	case StepNavigate:
		desc = fmt.Sprintf("navigate %s", s.URL)
		if s.WaitUntil != "" {
			desc += fmt.Sprintf(" (until %s)", s.WaitUntil)
		}
	case StepClick:
		desc = fmt.Sprintf("click %s", s.Locator)
	case StepFill:
		desc = fmt.Sprintf("fill %s with %q", s.Locator, s.Text)
	case StepScroll:
		desc = fmt.Sprintf("scroll by (%g, %g)", s.DeltaX, s.DeltaY)
	case StepWait:
		desc = fmt.Sprintf("wait %s", s.Duration)
	case StepViewport:
		desc = fmt.Sprintf("viewport %dx%d", s.Width, s.Height)
	default:
		desc = string(s.Kind)
	}
	if s.Name != "" {
		return fmt.Sprintf("%s [%s]", s.Name, desc)
	}
	return desc
}

// -- Assertions --

// Assertion is a single visibility expectation.
type Assertion struct {
	Locator Locator `json:"locator"`
	Visible bool    `json:"visible"`
	// Timeout overrides the session assertion timeout. Zero means inherit.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Message replaces the technical diagnostic in user-facing output.
	Message string `json:"message,omitempty"`
}

// ExpectVisible asserts that loc becomes visible within timeout.
func ExpectVisible(loc Locator, timeout time.Duration) Assertion {
	return Assertion{Locator: loc, Visible: true, Timeout: timeout}
}

// ExpectHidden asserts that loc is absent or hidden within timeout.
func ExpectHidden(loc Locator, timeout time.Duration) Assertion {
	return Assertion{Locator: loc, Visible: false, Timeout: timeout}
}

// Expected names the state the assertion waits for.
func (a Assertion) Expected() string {
	if a.Visible {
		return "visible"
	}
	return "hidden"
}

func (a Assertion) String() string {
	return fmt.Sprintf("expect %s to be %s", a.Locator, a.Expected())
}

// ElementState is a point-in-time observation of the element a locator selects.
type ElementState struct {
	// Count is the number of elements matching the locator before nth selection.
	Count    int  `json:"count"`
	Attached bool `json:"attached"`
	Visible  bool `json:"visible"`
	Enabled  bool `json:"enabled"`
}

// Actionable reports whether the element can receive a click or input.
func (s ElementState) Actionable() bool {
	return s.Attached && s.Visible && s.Enabled
}

// Describe summarizes the state as absent, hidden, disabled or visible.
func (s ElementState) Describe() string {
	switch {
	case !s.Attached:
		return "absent"
	case !s.Visible:
		return "hidden"
	case !s.Enabled:
		return "disabled"
	default:
		return "visible"
	}
}

// -- Scenario --

// Scenario is one scripted verification: steps, then assertions, against Config.
type Scenario struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Source      string        `json:"source,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Config      SessionConfig `json:"config"`
	Steps       []Step        `json:"steps"`
	Assertions  []Assertion   `json:"assertions"`
	// FailureMessage maps any assertion failure onto one domain-specific diagnostic.
	FailureMessage string `json:"failure_message,omitempty"`
}

// Validate checks the scenario and its configuration.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("scenario name is required")
	}
	if err := s.Config.Validate(); err != nil {
		return fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	for i, step := range s.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("scenario %q: step %d: %w", s.Name, i+1, err)
		}
	}
	for i, a := range s.Assertions {
		if a.Locator.IsZero() {
			return fmt.Errorf("scenario %q: assertion %d: locator is required", s.Name, i+1)
		}
		if a.Timeout < 0 {
			return fmt.Errorf("scenario %q: assertion %d: timeout must not be negative", s.Name, i+1)
		}
	}
	return nil
}

// -- Run Lifecycle --

// RunState is a node of the run lifecycle.
type RunState string

const (
	StateCreated      RunState = "created"
	StateLaunched     RunState = "launched"
	StateContextOpen  RunState = "context_open"
	StateNavigated    RunState = "navigated"
	StateStepsRunning RunState = "steps_running"
	StateAsserting    RunState = "asserting"
	StatePassed       RunState = "passed"
	StateFailed       RunState = "failed"
	StateTornDown     RunState = "torn_down"
)

// StateTransition records one edge taken by a run.
type StateTransition struct {
	From RunState  `json:"from"`
	To   RunState  `json:"to"`
	At   time.Time `json:"at"`
}

// FrameLoadResult is the outcome of the best-effort load wait for one frame.
type FrameLoadResult struct {
	FrameID string        `json:"frame_id"`
	URL     string        `json:"url"`
	Main    bool          `json:"main"`
	Loaded  bool          `json:"loaded"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// AssertionFailure explains why one assertion did not hold.
type AssertionFailure struct {
	Assertion Assertion     `json:"assertion"`
	Reason    ErrorCode     `json:"reason"`
	Expected  string        `json:"expected"`
	Actual    string        `json:"actual"`
	Timeout   time.Duration `json:"timeout"`
	Detail    string        `json:"detail,omitempty"`
}

func (f AssertionFailure) String() string {
	return fmt.Sprintf("%s: expected %s to be %s within %s, was %s",
		f.Reason, f.Assertion.Locator, f.Expected, f.Timeout, f.Actual)
}

// RunResult is the verdict and diagnostics of one scenario execution.
type RunResult struct {
	RunID    string             `json:"run_id"`
	Scenario string             `json:"scenario"`
	Engine   string             `json:"engine"`
	Passed   bool               `json:"passed"`
	State    RunState           `json:"state"`
	Message  string             `json:"message,omitempty"`
	Failures []AssertionFailure `json:"failures,omitempty"`

	// Err is the error that failed the run, if any. Assertion failures are
	// surfaced here as an ASSERTION_FAILED HarnessError as well.
	Err       error     `json:"-"`
	Error     string    `json:"error,omitempty"`
	ErrorCode ErrorCode `json:"error_code,omitempty"`
	// FailedStep is the zero-based index of the step that failed, or -1.
	FailedStep int `json:"failed_step"`

	Frames         []FrameLoadResult `json:"frames,omitempty"`
	TeardownErrors []string          `json:"teardown_errors,omitempty"`
	History        []StateTransition `json:"history"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
