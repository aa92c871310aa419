package runner

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/verdict-cli/api/schemas"
)

// transitions lists the legal successors of every run state. Any
// pre-verdict state may fail; only a verdict may be torn down.
var transitions = map[schemas.RunState][]schemas.RunState{
	schemas.StateCreated:      {schemas.StateLaunched, schemas.StateFailed},
	schemas.StateLaunched:     {schemas.StateContextOpen, schemas.StateFailed},
	schemas.StateContextOpen:  {schemas.StateNavigated, schemas.StateFailed},
	schemas.StateNavigated:    {schemas.StateStepsRunning, schemas.StateFailed},
	schemas.StateStepsRunning: {schemas.StateAsserting, schemas.StateFailed},
	schemas.StateAsserting:    {schemas.StatePassed, schemas.StateFailed},
	schemas.StatePassed:       {schemas.StateTornDown},
	schemas.StateFailed:       {schemas.StateTornDown},
}

// stateMachine tracks a run through its lifecycle and writes every edge
// into the result's history.
type stateMachine struct {
	res    *schemas.RunResult
	now    func() time.Time
	logger *zap.Logger
}

func newStateMachine(res *schemas.RunResult, now func() time.Time, logger *zap.Logger) *stateMachine {
	res.State = schemas.StateCreated
	return &stateMachine{res: res, now: now, logger: logger}
}

func (m *stateMachine) current() schemas.RunState { return m.res.State }

// to moves the run to next. Illegal edges are rejected and leave the state untouched.
func (m *stateMachine) to(next schemas.RunState) error {
	from := m.res.State
	if !canTransition(from, next) {
		m.logger.Error("Illegal run state transition.", zap.String("from", string(from)), zap.String("to", string(next)))
		return fmt.Errorf("illegal run state transition %s -> %s", from, next)
	}
	m.res.State = next
	m.res.History = append(m.res.History, schemas.StateTransition{From: from, To: next, At: m.now()})
	m.logger.Debug("Run state changed.", zap.String("from", string(from)), zap.String("to", string(next)))
	return nil
}

func canTransition(from, to schemas.RunState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// isTerminal reports whether s is a verdict or the final torn-down state.
func isTerminal(s schemas.RunState) bool {
	return s == schemas.StatePassed || s == schemas.StateFailed || s == schemas.StateTornDown
}
