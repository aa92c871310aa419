package cmd

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
	"github.com/xkilldash9x/verdict-cli/internal/browser"
	"github.com/xkilldash9x/verdict-cli/internal/config"
	"github.com/xkilldash9x/verdict-cli/internal/engine"
	"github.com/xkilldash9x/verdict-cli/internal/observability"
	"github.com/xkilldash9x/verdict-cli/internal/reporting"
	"github.com/xkilldash9x/verdict-cli/internal/runner"
	"github.com/xkilldash9x/verdict-cli/internal/scenario"
)

// ErrRunFailed is returned by the run command when at least one scenario did
// not pass. The report has already been written when it is returned.
var ErrRunFailed = errors.New("one or more scenarios failed")

func newRunCmd() *cobra.Command {
	var tags []string

	runCmd := &cobra.Command{
		Use:   "run [scenario files or directories...]",
		Short: "Runs UI verification scenarios against the target application",
		Long: `Runs every scenario found in the given files and directories. Each
scenario gets its own isolated browser; independent scenarios run
concurrently up to --concurrency. The command exits non-zero when any
scenario fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			scns, err := loadScenarios(cfg, logger, args, tags)
			if err != nil {
				return err
			}

			eng, err := browser.NewEngine(cfg.Engine.Name, cfg, logger)
			if err != nil {
				return err
			}

			rep, err := newReporter(cmd, cfg)
			if err != nil {
				return err
			}

			var (
				writeMu  sync.Mutex
				writeErr error
			)
			r := runner.New(eng, logger, runner.WithTeardownTimeout(cfg.Engine.TeardownTimeout))
			suite := engine.New(r, cfg.Engine.Concurrency, logger, engine.WithResultHook(func(res *schemas.RunResult) {
				if err := rep.Write(res); err != nil {
					writeMu.Lock()
					writeErr = errors.Join(writeErr, err)
					writeMu.Unlock()
				}
			}))

			logger.Info("Running scenarios.",
				zap.Int("count", len(scns)),
				zap.String("engine", eng.Name()),
				zap.Int("concurrency", cfg.Engine.Concurrency))
			summary := suite.Run(ctx, scns)

			if err := errors.Join(writeErr, rep.Close()); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run interrupted: %w", err)
			}
			if !summary.AllPassed() {
				logger.Info("Suite failed.", zap.Int("failed", summary.Failed), zap.Int("total", len(summary.Results)))
				return ErrRunFailed
			}
			return nil
		},
	}

	flags := runCmd.Flags()
	flags.String("engine", "", fmt.Sprintf("automation engine (%s)", strings.Join(browser.Names(), ", ")))
	flags.Int("concurrency", 0, "maximum number of scenarios running at once")
	flags.String("url", "", "base URL of the application under test")
	flags.StringP("format", "f", "", "report format (text, json, junit)")
	flags.StringP("output", "o", "", "report destination, a file path or stdout")
	flags.Bool("fail-fast", false, "stop checking assertions after the first failure")
	flags.Bool("headless", true, "run the browser without a visible window")
	flags.Duration("settle-delay", 0, "pause before every click, e.g. 3s")
	flags.StringSliceVar(&tags, "tag", nil, "only run scenarios carrying one of these tags")
	return runCmd
}

// loadScenarios parses the given paths with the configured session defaults
// and applies the tag filter.
func loadScenarios(cfg *config.Config, logger *zap.Logger, paths, tags []string) ([]*schemas.Scenario, error) {
	scns, err := scenario.NewLoader(cfg.SessionDefaults(), logger).Load(paths...)
	if err != nil {
		return nil, err
	}
	scns = scenario.FilterTags(scns, tags)
	if len(scns) == 0 {
		if len(tags) > 0 {
			return nil, fmt.Errorf("no scenarios carry any of the tags %s", strings.Join(tags, ", "))
		}
		return nil, errors.New("no scenarios found")
	}
	return scns, nil
}

// newReporter writes to the command's output stream for stdout so that the
// report can be captured.
func newReporter(cmd *cobra.Command, cfg *config.Config) (reporting.Reporter, error) {
	if cfg.Report.Output == "" || cfg.Report.Output == "stdout" {
		return reporting.NewWithWriter(cfg.Report.Format, reporting.NopCloser(cmd.OutOrStdout()), Version)
	}
	return reporting.New(cfg.Report.Format, cfg.Report.Output, Version)
}
