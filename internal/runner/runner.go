// Package runner executes one scenario against one isolated browser: launch,
// navigate, wait for frames, run the steps, check the assertions and tear
// everything down again.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
	"github.com/xkilldash9x/verdict-cli/internal/browser/ctxutil"
)

const (
	defaultTeardownTimeout = 30 * time.Second
	defaultProbeTimeout    = time.Second
)

// Runner executes scenarios. It holds no per-run state, so a single Runner
// may execute any number of runs concurrently.
type Runner struct {
	engine          schemas.Engine
	logger          *zap.Logger
	teardownTimeout time.Duration
	probeTimeout    time.Duration
	now             func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithTeardownTimeout bounds the release of all resources of one run.
func WithTeardownTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.teardownTimeout = d
		}
	}
}

// WithProbeTimeout bounds a single element query while polling.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithClock replaces the time source used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New returns a Runner driving engine.
func New(engine schemas.Engine, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		engine:          engine,
		logger:          logger.Named("runner"),
		teardownTimeout: defaultTeardownTimeout,
		probeTimeout:    defaultProbeTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes scn and always returns a result. Every resource acquired
// during the run is released before Run returns, on success and failure
// alike, even when ctx has been cancelled.
func (r *Runner) Run(ctx context.Context, scn *schemas.Scenario) *schemas.RunResult {
	res := &schemas.RunResult{
		RunID:      uuid.NewString(),
		Scenario:   scn.Name,
		Engine:     r.engine.Name(),
		FailedStep: -1,
		StartedAt:  r.now(),
	}
	logger := r.logger.With(zap.String("run_id", res.RunID), zap.String("scenario", scn.Name))
	sm := newStateMachine(res, r.now, logger)
	rel := newReleaser(logger)

	defer func() {
		tdCtx, cancel := ctxutil.DetachWithTimeout(ctx, r.teardownTimeout)
		defer cancel()
		res.TeardownErrors = rel.releaseAll(tdCtx)
		_ = sm.to(schemas.StateTornDown)
		res.Duration = r.now().Sub(res.StartedAt)
		logger.Info("Run finished.",
			zap.Bool("passed", res.Passed),
			zap.String("error_code", string(res.ErrorCode)),
			zap.Duration("duration", res.Duration))
	}()

	logger.Info("Run started.", zap.String("engine", res.Engine), zap.String("target", scn.Config.TargetURL))
	if err := r.execute(ctx, scn, sm, rel, res, logger); err != nil {
		r.fail(sm, res, err, err.Error())
	}
	return res
}

// execute drives the run up to its verdict. Assertion failures are reported
// through fail directly so that the user-facing message can be attached.
func (r *Runner) execute(ctx context.Context, scn *schemas.Scenario, sm *stateMachine, rel *releaser, res *schemas.RunResult, logger *zap.Logger) error {
	if err := scn.Validate(); err != nil {
		return schemas.NewError(schemas.ErrCodeInvalidScenario, "validate", err)
	}
	cfg := scn.Config

	// -- Launch --
	drv, err := r.engine.Start(ctx)
	if err != nil {
		return schemas.EnsureCode(err, schemas.ErrCodeEngineUnavailable, "start "+r.engine.Name())
	}
	rel.push("driver", drv.Stop)

	launchCtx, cancelLaunch := withOptionalTimeout(ctx, cfg.Launch.Timeout)
	browser, err := drv.Launch(launchCtx, cfg.Launch)
	cancelLaunch()
	if err != nil {
		return schemas.EnsureCode(err, schemas.ErrCodeLaunch, "launch browser")
	}
	rel.push("browser", browser.Close)
	logger.Debug("Browser launched.", zap.String("version", browser.Version()))
	if err := sm.to(schemas.StateLaunched); err != nil {
		return err
	}

	// -- Context and page --
	bctx, err := browser.NewContext(ctx, schemas.ContextOptions{
		DefaultTimeout: cfg.DefaultTimeout,
		ViewportWidth:  cfg.Launch.WindowWidth,
		ViewportHeight: cfg.Launch.WindowHeight,
	})
	if err != nil {
		return schemas.EnsureCode(err, schemas.ErrCodeLaunch, "open browser context")
	}
	rel.push("context", bctx.Close)

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return schemas.EnsureCode(err, schemas.ErrCodeLaunch, "open page")
	}
	rel.push("page", page.Close)
	if err := sm.to(schemas.StateContextOpen); err != nil {
		return err
	}

	// -- Initial navigation and frames --
	if err := navigate(ctx, page, cfg.TargetURL, cfg.WaitUntil, cfg.NavigationTimeout); err != nil {
		return err
	}
	res.Frames = waitFrames(ctx, page, cfg.FrameLoadTimeout, logger)
	if err := sm.to(schemas.StateNavigated); err != nil {
		return err
	}

	// -- Steps --
	if err := sm.to(schemas.StateStepsRunning); err != nil {
		return err
	}
	exec := &executor{page: page, cfg: cfg, probeTimeout: r.probeTimeout, logger: logger}
	for i, step := range scn.Steps {
		logger.Debug("Running step.", zap.Int("index", i), zap.String("step", step.String()))
		if err := exec.run(ctx, step); err != nil {
			res.FailedStep = i
			return fmt.Errorf("step %d (%s): %w", i+1, step, err)
		}
	}

	// -- Assertions --
	if err := sm.to(schemas.StateAsserting); err != nil {
		return err
	}
	if failures := r.checkAssertions(ctx, page, scn, logger); len(failures) > 0 {
		res.Failures = failures
		r.fail(sm, res, assertionError(failures), failureMessage(scn, failures))
		return nil
	}

	res.Passed = true
	res.Message = fmt.Sprintf("all %d assertion(s) passed", len(scn.Assertions))
	return sm.to(schemas.StatePassed)
}

// fail records err as the run's error and moves it to Failed.
func (r *Runner) fail(sm *stateMachine, res *schemas.RunResult, err error, message string) {
	res.Passed = false
	res.Err = err
	res.Error = err.Error()
	res.ErrorCode = schemas.CodeOf(err)
	res.Message = message
	if !isTerminal(sm.current()) {
		_ = sm.to(schemas.StateFailed)
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
