package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

func TestStateMachine(t *testing.T) {
	res := &schemas.RunResult{}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sm := newStateMachine(res, func() time.Time { return clock }, zaptest.NewLogger(t))
	assert.Equal(t, schemas.StateCreated, sm.current())

	require.NoError(t, sm.to(schemas.StateLaunched))
	assert.Error(t, sm.to(schemas.StateAsserting), "states cannot be skipped")
	assert.Error(t, sm.to(schemas.StateTornDown), "only a verdict can be torn down")
	require.NoError(t, sm.to(schemas.StateFailed))
	assert.Error(t, sm.to(schemas.StatePassed), "a verdict is final")
	require.NoError(t, sm.to(schemas.StateTornDown))
	assert.Error(t, sm.to(schemas.StateFailed))

	require.Len(t, res.History, 3)
	assert.Equal(t, schemas.StateTransition{From: schemas.StateFailed, To: schemas.StateTornDown, At: clock}, res.History[2])
	assert.True(t, isTerminal(schemas.StateTornDown))
	assert.False(t, isTerminal(schemas.StateAsserting))
}

func TestReleaser(t *testing.T) {
	rel := newReleaser(zaptest.NewLogger(t))
	var order []string
	closer := func(name string, err error) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return err
		}
	}
	rel.push("driver", closer("driver", nil))
	rel.push("browser", closer("browser", errors.New("already closed")))
	rel.push("page", closer("page", nil))

	errs := rel.releaseAll(context.Background())
	assert.Equal(t, []string{"page", "browser", "driver"}, order)
	assert.Equal(t, []string{"browser: already closed"}, errs)

	// A second release is a no-op.
	assert.Empty(t, rel.releaseAll(context.Background()))
	assert.Len(t, order, 3)
}

func TestPoll(t *testing.T) {
	t.Run("SucceedsEventually", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n := 0
		ok, err := poll(ctx, time.Millisecond, time.Second, func(context.Context) (bool, error) {
			n++
			return n == 4, nil
		})
		assert.True(t, ok)
		assert.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("WaitsOutTheDeadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
		defer cancel()
		start := time.Now()
		ok, err := poll(ctx, 15*time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.False(t, ok)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})

	t.Run("ReportsLastProbeError", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		ok, err := poll(ctx, time.Millisecond, time.Second, func(context.Context) (bool, error) {
			return false, errors.New("execution context was destroyed")
		})
		assert.False(t, ok)
		assert.EqualError(t, err, "execution context was destroyed")
	})

	t.Run("ProbesAtLeastOnce", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		ok, _ := poll(ctx, time.Hour, time.Second, func(context.Context) (bool, error) { return true, nil })
		assert.True(t, ok)
	})

	t.Run("BoundsEachProbe", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		var deadlines []time.Duration
		poll(ctx, 10*time.Millisecond, 5*time.Millisecond, func(pctx context.Context) (bool, error) {
			dl, _ := pctx.Deadline()
			deadlines = append(deadlines, time.Until(dl))
			return false, nil
		})
		require.NotEmpty(t, deadlines)
		assert.LessOrEqual(t, deadlines[0], 5*time.Millisecond)
	})
}

func TestFailureMessage(t *testing.T) {
	loc := schemas.MustParseLocator("text=Skills")
	failures := []schemas.AssertionFailure{{
		Assertion: schemas.Assertion{Locator: loc, Visible: true, Message: "Skills section missing"},
		Expected:  "visible", Actual: "absent", Timeout: 30 * time.Second,
	}}

	assert.Equal(t, "Skills section missing", failureMessage(&schemas.Scenario{}, failures))
	assert.Equal(t, "mapped", failureMessage(&schemas.Scenario{FailureMessage: "mapped"}, failures))

	failures[0].Assertion.Message = ""
	assert.Equal(t, "expected text=Skills to be visible within 30s, but it was absent", failureMessage(&schemas.Scenario{}, failures))

	err := assertionError(failures)
	assert.ErrorIs(t, err, schemas.ErrCodeAssertionFailed)
	assert.Equal(t, "ASSERTION_FAILED: assert text=Skills (expected visible, got absent) after 30s", err.Error())
}
