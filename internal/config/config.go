// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig          `mapstructure:"logger" yaml:"logger"`
	Engine  EngineConfig          `mapstructure:"engine" yaml:"engine"`
	Browser schemas.LaunchOptions `mapstructure:"browser" yaml:"browser"`
	Session SessionConfig         `mapstructure:"session" yaml:"session"`
	Report  ReportConfig          `mapstructure:"report" yaml:"report"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig selects the automation backend and how many runs share the machine.
type EngineConfig struct {
	Name            string        `mapstructure:"name" yaml:"name"`
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout" yaml:"teardown_timeout"`
	InstallTimeout  time.Duration `mapstructure:"install_timeout" yaml:"install_timeout"`
	// UserAgent is sent by the static engine.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
}

// SessionConfig holds the per-run defaults. Scenario files may override any of them.
type SessionConfig struct {
	TargetURL         string                `mapstructure:"target_url" yaml:"target_url"`
	NavigationTimeout time.Duration         `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	WaitUntil         schemas.WaitCondition `mapstructure:"wait_until" yaml:"wait_until"`
	DefaultTimeout    time.Duration         `mapstructure:"default_timeout" yaml:"default_timeout"`
	FrameLoadTimeout  time.Duration         `mapstructure:"frame_load_timeout" yaml:"frame_load_timeout"`
	SettleDelay       time.Duration         `mapstructure:"settle_delay" yaml:"settle_delay"`
	AssertionTimeout  time.Duration         `mapstructure:"assertion_timeout" yaml:"assertion_timeout"`
	PollInterval      time.Duration         `mapstructure:"poll_interval" yaml:"poll_interval"`
	FailFast          bool                  `mapstructure:"fail_fast" yaml:"fail_fast"`
}

// ReportConfig controls where run results are written.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// SessionDefaults merges the session and browser sections into the value
// every scenario starts from.
func (c *Config) SessionDefaults() schemas.SessionConfig {
	return schemas.SessionConfig{
		TargetURL:         c.Session.TargetURL,
		NavigationTimeout: c.Session.NavigationTimeout,
		WaitUntil:         c.Session.WaitUntil,
		DefaultTimeout:    c.Session.DefaultTimeout,
		FrameLoadTimeout:  c.Session.FrameLoadTimeout,
		SettleDelay:       c.Session.SettleDelay,
		AssertionTimeout:  c.Session.AssertionTimeout,
		PollInterval:      c.Session.PollInterval,
		FailFast:          c.Session.FailFast,
		Launch:            c.Browser,
	}
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "verdict")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Engine --
	v.SetDefault("engine.name", "cdp")
	v.SetDefault("engine.concurrency", 2)
	v.SetDefault("engine.teardown_timeout", "30s")
	v.SetDefault("engine.install_timeout", "5m")
	v.SetDefault("engine.user_agent", "verdict/1.0 (+https://github.com/xkilldash9x/verdict-cli)")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 720)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.args", []string{"--disable-dev-shm-usage"})
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.install", false)
	v.SetDefault("browser.launch_timeout", "60s")

	// -- Session --
	v.SetDefault("session.target_url", "http://localhost:3000")
	v.SetDefault("session.navigation_timeout", "10s")
	v.SetDefault("session.wait_until", string(schemas.WaitCommit))
	v.SetDefault("session.default_timeout", "5s")
	v.SetDefault("session.frame_load_timeout", "3s")
	v.SetDefault("session.settle_delay", "3s")
	v.SetDefault("session.assertion_timeout", "30s")
	v.SetDefault("session.poll_interval", "100ms")
	v.SetDefault("session.fail_fast", false)

	// -- Report --
	v.SetDefault("report.format", "text")
	v.SetDefault("report.output", "stdout")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Paths may be written relative to the user's home directory.
	var err error
	if cfg.Logger.LogFile, err = homedir.Expand(cfg.Logger.LogFile); err != nil {
		return nil, fmt.Errorf("invalid logger.log_file: %w", err)
	}
	if cfg.Browser.ExecPath, err = homedir.Expand(cfg.Browser.ExecPath); err != nil {
		return nil, fmt.Errorf("invalid browser.exec_path: %w", err)
	}
	if cfg.Report.Output != "stdout" {
		if cfg.Report.Output, err = homedir.Expand(cfg.Report.Output); err != nil {
			return nil, fmt.Errorf("invalid report.output: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Engine.Name) {
	case "cdp", "playwright", "static":
	default:
		return fmt.Errorf("engine.name must be one of cdp, playwright or static, got %q", c.Engine.Name)
	}
	if c.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be a positive integer")
	}
	if c.Engine.TeardownTimeout <= 0 {
		return fmt.Errorf("engine.teardown_timeout must be a positive duration")
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser.window_width and browser.window_height must be positive")
	}
	if c.Browser.Timeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	switch c.Report.Format {
	case "text", "json", "junit":
	default:
		return fmt.Errorf("report.format must be one of text, json or junit, got %q", c.Report.Format)
	}
	if err := c.SessionDefaults().Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// newEnvKeyReplacer maps nested keys such as session.target_url onto
// VERDICT_SESSION_TARGET_URL style environment variables.
func newEnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// BindEnv wires the VERDICT_ environment prefix into v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("VERDICT")
	v.SetEnvKeyReplacer(newEnvKeyReplacer())
	v.AutomaticEnv()
}
