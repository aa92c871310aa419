package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
	"github.com/xkilldash9x/verdict-cli/internal/browser/ctxutil"
)

// executor applies steps to one page, strictly in order.
type executor struct {
	page         schemas.Page
	cfg          schemas.SessionConfig
	probeTimeout time.Duration
	logger       *zap.Logger
}

func (e *executor) run(ctx context.Context, step schemas.Step) error {
	switch step.Kind {
	case schemas.StepNavigate:
		return e.navigate(ctx, step)
	case schemas.StepClick:
		return e.act(ctx, step, func(actCtx context.Context) error {
			return e.page.Click(actCtx, step.Locator)
		})
	case schemas.StepFill:
		return e.act(ctx, step, func(actCtx context.Context) error {
			return e.page.Fill(actCtx, step.Locator, step.Text)
		})
	case schemas.StepScroll:
		// Dispatched without waiting for the scroll to finish.
		return pageOp("scroll", e.page.Scroll(ctx, step.DeltaX, step.DeltaY))
	case schemas.StepWait:
		return pageOp("wait", ctxutil.Sleep(ctx, step.Duration))
	case schemas.StepViewport:
		return pageOp("viewport", e.page.SetViewport(ctx, step.Width, step.Height))
	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// navigate loads step.URL relative to the target URL.
func (e *executor) navigate(ctx context.Context, step schemas.Step) error {
	target, err := e.cfg.ResolveURL(step.URL)
	if err != nil {
		return schemas.NewError(schemas.ErrCodeNavigationTimeout, "navigate", err)
	}
	cond := step.WaitUntil
	if cond == "" {
		cond = e.cfg.WaitUntil
	}
	timeout := step.Timeout
	if timeout == 0 {
		timeout = e.cfg.NavigationTimeout
	}
	return navigate(ctx, e.page, target, cond, timeout)
}

// navigate is shared by the initial load and navigate steps.
func navigate(ctx context.Context, page schemas.Page, target string, cond schemas.WaitCondition, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := page.Navigate(navCtx, target, cond)
	if err == nil {
		return nil
	}
	if schemas.CodeOf(err) != "" {
		return err
	}
	return &schemas.HarnessError{
		Code:     schemas.ErrCodeNavigationTimeout,
		Op:       "navigate",
		Locator:  target,
		Expected: string(cond),
		Actual:   "not reached",
		Timeout:  timeout,
		Err:      err,
	}
}

// act settles, waits for the element to become actionable, then performs
// action. The settle delay is not charged against the step timeout.
func (e *executor) act(ctx context.Context, step schemas.Step, action func(context.Context) error) error {
	op := string(step.Kind)
	if err := ctxutil.Sleep(ctx, e.cfg.SettleDelay); err != nil {
		return schemas.NewError(schemas.ErrCodeElementTimeout, op+" "+step.Locator.String(), err)
	}

	timeout := step.Timeout
	if timeout == 0 {
		timeout = e.cfg.DefaultTimeout
	}
	actCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last schemas.ElementState
	ready, probeErr := poll(actCtx, e.cfg.PollInterval, e.probeTimeout, func(pctx context.Context) (bool, error) {
		st, err := e.page.Query(pctx, step.Locator)
		if err != nil {
			return false, err
		}
		last = st
		return st.Actionable(), nil
	})
	if !ready {
		code := schemas.ErrCodeElementTimeout
		if !last.Attached {
			code = schemas.ErrCodeElementNotFound
		}
		return &schemas.HarnessError{
			Code:     code,
			Op:       op,
			Locator:  step.Locator.String(),
			Expected: "visible and enabled",
			Actual:   last.Describe(),
			Timeout:  timeout,
			Err:      probeErr,
		}
	}

	e.logger.Debug("Performing step.", zap.String("step", step.String()))
	if err := action(actCtx); err != nil {
		if schemas.CodeOf(err) != "" {
			return err
		}
		return &schemas.HarnessError{
			Code:    schemas.ErrCodeElementTimeout,
			Op:      op,
			Locator: step.Locator.String(),
			Timeout: timeout,
			Err:     err,
		}
	}
	return nil
}

// pageOp classifies failures of steps that target the page itself. They
// have no element, so they are reported as timeouts of the step.
func pageOp(op string, err error) error {
	return schemas.EnsureCode(err, schemas.ErrCodeElementTimeout, op)
}
