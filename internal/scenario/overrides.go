package scenario

import (
	"time"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// configOverrides is the config block of a scenario file. Unset fields keep
// the value from the global session configuration.
type configOverrides struct {
	TargetURL         *string          `yaml:"target_url"`
	NavigationTimeout *time.Duration   `yaml:"navigation_timeout"`
	WaitUntil         *string          `yaml:"wait_until"`
	DefaultTimeout    *time.Duration   `yaml:"default_timeout"`
	FrameLoadTimeout  *time.Duration   `yaml:"frame_load_timeout"`
	SettleDelay       *time.Duration   `yaml:"settle_delay"`
	AssertionTimeout  *time.Duration   `yaml:"assertion_timeout"`
	PollInterval      *time.Duration   `yaml:"poll_interval"`
	FailFast          *bool            `yaml:"fail_fast"`
	Launch            *launchOverrides `yaml:"launch"`
}

type launchOverrides struct {
	Headless     *bool          `yaml:"headless"`
	WindowWidth  *int           `yaml:"window_width"`
	WindowHeight *int           `yaml:"window_height"`
	NoSandbox    *bool          `yaml:"no_sandbox"`
	Args         []string       `yaml:"args"`
	ExecPath     *string        `yaml:"exec_path"`
	RemoteURL    *string        `yaml:"remote_url"`
	Install      *bool          `yaml:"install"`
	Timeout      *time.Duration `yaml:"launch_timeout"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// apply layers o over base and returns the merged copy.
func (o *configOverrides) apply(base schemas.SessionConfig) (schemas.SessionConfig, error) {
	cfg := base
	cfg.Launch.Args = append([]string(nil), base.Launch.Args...)
	if o == nil {
		return cfg, nil
	}
	set(&cfg.TargetURL, o.TargetURL)
	set(&cfg.NavigationTimeout, o.NavigationTimeout)
	set(&cfg.DefaultTimeout, o.DefaultTimeout)
	set(&cfg.FrameLoadTimeout, o.FrameLoadTimeout)
	set(&cfg.SettleDelay, o.SettleDelay)
	set(&cfg.AssertionTimeout, o.AssertionTimeout)
	set(&cfg.PollInterval, o.PollInterval)
	set(&cfg.FailFast, o.FailFast)
	if o.WaitUntil != nil {
		cond, err := schemas.ParseWaitCondition(*o.WaitUntil)
		if err != nil {
			return cfg, err
		}
		cfg.WaitUntil = cond
	}

	if l := o.Launch; l != nil {
		set(&cfg.Launch.Headless, l.Headless)
		set(&cfg.Launch.WindowWidth, l.WindowWidth)
		set(&cfg.Launch.WindowHeight, l.WindowHeight)
		set(&cfg.Launch.NoSandbox, l.NoSandbox)
		set(&cfg.Launch.ExecPath, l.ExecPath)
		set(&cfg.Launch.RemoteURL, l.RemoteURL)
		set(&cfg.Launch.Install, l.Install)
		set(&cfg.Launch.Timeout, l.Timeout)
		cfg.Launch.Args = append(cfg.Launch.Args, l.Args...)
	}
	return cfg, nil
}
