package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRunner passes every scenario whose name does not start with "fail"
// and tracks how many runs overlap.
type fakeRunner struct {
	delay   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
	started chan string
}

func (f *fakeRunner) Run(ctx context.Context, scn *schemas.Scenario) *schemas.RunResult {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.started != nil {
		f.started <- scn.Name
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
	}
	passed := len(scn.Name) < 4 || scn.Name[:4] != "fail"
	return &schemas.RunResult{Scenario: scn.Name, Passed: passed, State: schemas.StateTornDown}
}

func scenarios(names ...string) []*schemas.Scenario {
	out := make([]*schemas.Scenario, len(names))
	for i, n := range names {
		out[i] = &schemas.Scenario{Name: n}
	}
	return out
}

func TestSuiteEngine_RunsInOrderWithBoundedConcurrency(t *testing.T) {
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	var hooked []string
	e := New(runner, 2, zaptest.NewLogger(t), WithResultHook(func(r *schemas.RunResult) {
		hooked = append(hooked, r.Scenario)
	}))

	sum := e.Run(context.Background(), scenarios("TC001", "fail-TC007", "TC003", "TC006", "TC009"))

	require.Len(t, sum.Results, 5)
	for i, name := range []string{"TC001", "fail-TC007", "TC003", "TC006", "TC009"} {
		assert.Equal(t, name, sum.Results[i].Scenario, "results keep the input order")
	}
	assert.Equal(t, 4, sum.Passed)
	assert.Equal(t, 1, sum.Failed)
	assert.False(t, sum.AllPassed())
	assert.Len(t, hooked, 5)
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
	assert.Equal(t, int32(2), runner.peak.Load(), "two runs should have overlapped")
}

func TestSuiteEngine_CancelledBeforeStart(t *testing.T) {
	runner := &fakeRunner{delay: time.Hour, started: make(chan string, 1)}
	e := New(runner, 1, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	var sum *Summary
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sum = e.Run(ctx, scenarios("first", "second", "third"))
	}()
	<-runner.started
	cancel()
	wg.Wait()

	require.Len(t, sum.Results, 3)
	assert.True(t, sum.Results[0].Passed, "the running scenario finishes on its own terms")
	for _, res := range sum.Results[1:] {
		assert.False(t, res.Passed)
		assert.Contains(t, res.Error, "not started")
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
}

func TestSuiteEngine_Empty(t *testing.T) {
	sum := New(&fakeRunner{}, 0, nil).Run(context.Background(), nil)
	assert.Empty(t, sum.Results)
	assert.True(t, sum.AllPassed())
}
