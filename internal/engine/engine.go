// Package engine runs a suite of scenarios with bounded concurrency. Every
// run owns its own driver, browser, context and page; nothing is shared
// between runs except the Runner, which is stateless.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// Runner executes a single scenario.
type Runner interface {
	Run(ctx context.Context, scn *schemas.Scenario) *schemas.RunResult
}

// Summary aggregates the results of one suite, in scenario order.
type Summary struct {
	Results   []*schemas.RunResult `json:"results"`
	Passed    int                  `json:"passed"`
	Failed    int                  `json:"failed"`
	StartedAt time.Time            `json:"started_at"`
	Duration  time.Duration        `json:"duration"`
}

// AllPassed reports whether every scenario passed.
func (s *Summary) AllPassed() bool { return s.Failed == 0 }

// SuiteEngine distributes scenarios over a bounded pool of runs.
type SuiteEngine struct {
	runner      Runner
	concurrency int
	logger      *zap.Logger
	onResult    func(*schemas.RunResult)
}

// Option configures a SuiteEngine.
type Option func(*SuiteEngine)

// WithResultHook registers fn to be called as each run completes. Calls are
// serialized; fn need not be safe for concurrent use.
func WithResultHook(fn func(*schemas.RunResult)) Option {
	return func(e *SuiteEngine) { e.onResult = fn }
}

// New creates a SuiteEngine running at most concurrency scenarios at once.
func New(runner Runner, concurrency int, logger *zap.Logger, opts ...Option) *SuiteEngine {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &SuiteEngine{
		runner:      runner,
		concurrency: concurrency,
		logger:      logger.With(zap.String("component", "suite_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes every scenario and waits for all of them. Scenarios that had
// not started when ctx was cancelled are reported as failed without running.
func (e *SuiteEngine) Run(ctx context.Context, scenarios []*schemas.Scenario) *Summary {
	sum := &Summary{Results: make([]*schemas.RunResult, len(scenarios)), StartedAt: time.Now()}
	e.logger.Info("Starting suite.", zap.Int("scenarios", len(scenarios)), zap.Int("concurrency", e.concurrency))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, scn := range scenarios {
		g.Go(func() error {
			var res *schemas.RunResult
			if err := ctx.Err(); err != nil {
				res = notStarted(scn, err)
			} else {
				res = e.runner.Run(ctx, scn)
			}

			mu.Lock()
			defer mu.Unlock()
			sum.Results[i] = res
			if res.Passed {
				sum.Passed++
			} else {
				sum.Failed++
			}
			if e.onResult != nil {
				e.onResult(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Duration = time.Since(sum.StartedAt)
	e.logger.Info("Suite finished.",
		zap.Int("passed", sum.Passed), zap.Int("failed", sum.Failed), zap.Duration("duration", sum.Duration))
	return sum
}

func notStarted(scn *schemas.Scenario, err error) *schemas.RunResult {
	return &schemas.RunResult{
		Scenario:   scn.Name,
		State:      schemas.StateFailed,
		Err:        err,
		Error:      "not started: " + err.Error(),
		Message:    "the suite was cancelled before this scenario started",
		FailedStep: -1,
		StartedAt:  time.Now(),
	}
}
