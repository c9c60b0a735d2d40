package agent

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
	"go.uber.org/zap"
)

const (
	StateIdle        statekit.StateID = "idle"
	StateDecomposing statekit.StateID = "decomposing"
	StateExecuting   statekit.StateID = "executing"
	StateCompleting  statekit.StateID = "completing"
)

const (
	eventDecompose statekit.EventType = "DECOMPOSE"
	eventExecute   statekit.EventType = "EXECUTE"
	eventComplete  statekit.EventType = "COMPLETE"
	eventIdle      statekit.EventType = "IDLE"
)

// transitions mirrors the statechart below. Send is only called for pairs
// listed here.
var transitions = map[statekit.StateID]map[statekit.EventType]statekit.StateID{
	StateIdle: {
		eventDecompose: StateDecomposing,
	},
	StateDecomposing: {
		eventExecute: StateExecuting,
		eventIdle:    StateIdle,
	},
	StateExecuting: {
		eventDecompose: StateDecomposing,
		eventComplete:  StateCompleting,
		eventIdle:      StateIdle,
	},
	StateCompleting: {
		eventDecompose: StateDecomposing,
		eventIdle:      StateIdle,
	},
}

type machineContext struct {
	agentID     int
	transitions int
	logger      *zap.Logger
}

type transitionPayload struct {
	Reason string
}

func countTransition(ctx **machineContext, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	c := *ctx
	c.transitions++
	if c.logger == nil {
		return
	}
	reason := ""
	if p, ok := event.Payload.(transitionPayload); ok {
		reason = p.Reason
	}
	c.logger.Debug("agent transition",
		zap.Int("agent", c.agentID),
		zap.String("event", string(event.Type)),
		zap.String("reason", reason),
	)
}

func newMachine() (*statekit.MachineConfig[*machineContext], error) {
	return statekit.NewMachine[*machineContext]("agent-execution").
		WithInitial(StateIdle).
		WithContext(&machineContext{}).
		WithAction("countTransition", countTransition).
		State(StateIdle).
			On(eventDecompose).Target(StateDecomposing).Do("countTransition").
			Done().
		State(StateDecomposing).
			On(eventExecute).Target(StateExecuting).Do("countTransition").
			On(eventIdle).Target(StateIdle).Do("countTransition").
			Done().
		State(StateExecuting).
			On(eventDecompose).Target(StateDecomposing).Do("countTransition").
			On(eventComplete).Target(StateCompleting).Do("countTransition").
			On(eventIdle).Target(StateIdle).Do("countTransition").
			Done().
		State(StateCompleting).
			On(eventDecompose).Target(StateDecomposing).Do("countTransition").
			On(eventIdle).Target(StateIdle).Do("countTransition").
			Done().
		Build()
}

// executionMachine wraps the statekit interpreter for one agent.
type executionMachine struct {
	interp *statekit.Interpreter[*machineContext]
	ctx    *machineContext
}

func newExecutionMachine(agentID int, logger *zap.Logger) (*executionMachine, error) {
	machine, err := newMachine()
	if err != nil {
		return nil, fmt.Errorf("build agent machine: %w", err)
	}
	mctx := &machineContext{agentID: agentID, logger: logger}
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **machineContext) {
		*c = mctx
	})
	interp.Start()
	return &executionMachine{interp: interp, ctx: mctx}, nil
}

func (m *executionMachine) state() statekit.StateID {
	return m.interp.State().Value
}

// fire sends event when the current state accepts it and reports whether a
// transition happened.
func (m *executionMachine) fire(event statekit.EventType, reason string) bool {
	if _, ok := transitions[m.state()][event]; !ok {
		return false
	}
	m.interp.Send(statekit.Event{Type: event, Payload: transitionPayload{Reason: reason}})
	return true
}

func (m *executionMachine) stop() {
	m.interp.Stop()
}
