package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// checkAssertions evaluates the assertions in order, each against its own
// timeout, and collects every failure unless failFast is set.
func (r *Runner) checkAssertions(ctx context.Context, page schemas.Page, scn *schemas.Scenario, logger *zap.Logger) []schemas.AssertionFailure {
	var failures []schemas.AssertionFailure
	for _, a := range scn.Assertions {
		if ctx.Err() != nil {
			failures = append(failures, schemas.AssertionFailure{
				Assertion: a, Reason: schemas.ErrCodeAssertionFailed,
				Expected: a.Expected(), Actual: "not evaluated", Detail: ctx.Err().Error(),
			})
			continue
		}
		if f, ok := r.checkAssertion(ctx, page, a, scn.Config); !ok {
			logger.Info("Assertion failed.", zap.String("assertion", a.String()), zap.String("actual", f.Actual))
			failures = append(failures, f)
			if scn.Config.FailFast {
				break
			}
		}
	}
	return failures
}

func (r *Runner) checkAssertion(ctx context.Context, page schemas.Page, a schemas.Assertion, cfg schemas.SessionConfig) (schemas.AssertionFailure, bool) {
	timeout := a.Timeout
	if timeout == 0 {
		timeout = cfg.AssertionTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last schemas.ElementState
	ok, probeErr := poll(actx, cfg.PollInterval, r.probeTimeout, func(pctx context.Context) (bool, error) {
		st, err := page.Query(pctx, a.Locator)
		if err != nil {
			return false, err
		}
		last = st
		if a.Visible {
			return st.Attached && st.Visible, nil
		}
		return !st.Attached || !st.Visible, nil
	})
	if ok {
		return schemas.AssertionFailure{}, true
	}

	f := schemas.AssertionFailure{
		Assertion: a,
		Reason:    schemas.ErrCodeAssertionFailed,
		Expected:  a.Expected(),
		Actual:    actualState(last),
		Timeout:   timeout,
	}
	if probeErr != nil {
		f.Detail = probeErr.Error()
	}
	return f, false
}

// actualState reports visibility only; a disabled element still counts as visible.
func actualState(st schemas.ElementState) string {
	switch {
	case !st.Attached:
		return "absent"
	case !st.Visible:
		return "hidden"
	default:
		return "visible"
	}
}

// failureMessage maps assertion failures onto the user-facing diagnostic.
// A scenario-wide message wins, then the first failing assertion's own
// message, then a generated summary.
func failureMessage(scn *schemas.Scenario, failures []schemas.AssertionFailure) string {
	if scn.FailureMessage != "" {
		return scn.FailureMessage
	}
	for _, f := range failures {
		if f.Assertion.Message != "" {
			return f.Assertion.Message
		}
	}
	first := failures[0]
	msg := fmt.Sprintf("expected %s to be %s within %s, but it was %s",
		first.Assertion.Locator, first.Expected, first.Timeout.Round(time.Millisecond), first.Actual)
	if n := len(failures); n > 1 {
		msg += fmt.Sprintf(" (and %d more failed assertion(s))", n-1)
	}
	return msg
}

// assertionError wraps the aggregate failure as the run's error.
func assertionError(failures []schemas.AssertionFailure) error {
	first := failures[0]
	err := &schemas.HarnessError{
		Code:     schemas.ErrCodeAssertionFailed,
		Op:       "assert",
		Locator:  first.Assertion.Locator.String(),
		Expected: first.Expected,
		Actual:   first.Actual,
		Timeout:  first.Timeout,
	}
	if len(failures) > 1 {
		err.Err = fmt.Errorf("%d of the assertions failed", len(failures))
	}
	return err
}
