// Package agent owns one agent's option queue, action queue and completed
// option history, and drives them through the execution state machine.
package agent

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
	"go.uber.org/zap"

	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/library"
)

const (
	DefaultHistoryCap = 10

	errorExecutingPrefix = "ERROR EXECUTING ACTION: "
)

type Config struct {
	MapSize       int
	HistoryCap    int
	MessageLogCap int
	Logger        *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.HistoryCap <= 0 {
		c.HistoryCap = DefaultHistoryCap
	}
	if c.MessageLogCap <= 0 {
		c.MessageLogCap = DefaultMessageLogCap
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type Agent struct {
	ID   domain.AgentID
	Role domain.Role

	Position    domain.Position
	CurrentCell string
	Grid        string
	MapRange    int
	Extra       [3]float64
	Perception  string

	Messages *MessageLog

	mapSize    int
	historyCap int
	lib        library.Capability
	machine    *executionMachine
	logger     *zap.Logger

	options []domain.Option
	actions []domain.Action
	history []domain.Option
}

func New(id domain.AgentID, role domain.Role, cfg Config) (*Agent, error) {
	cfg = cfg.withDefaults()
	lib, err := library.For(role)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger.With(zap.Int("agent", int(id)), zap.String("role", role.String()))
	m, err := newExecutionMachine(int(id), logger)
	if err != nil {
		return nil, err
	}
	return &Agent{
		ID:         id,
		Role:       role,
		Messages:   NewMessageLog(cfg.MessageLogCap),
		mapSize:    cfg.MapSize,
		historyCap: cfg.HistoryCap,
		lib:        lib,
		machine:    m,
		logger:     logger,
	}, nil
}

// Observe refreshes the agent from its latest observation.
func (a *Agent) Observe(obs domain.Observation) {
	a.Position = obs.Position
	a.CurrentCell = obs.CurrentCell
	a.Grid = obs.Grid
	a.MapRange = obs.MapRange
	a.Extra = obs.Extra
}

// InTransport reports a firefighter riding inside a helicopter.
func (a *Agent) InTransport() bool {
	return a.Role == domain.RoleFirefighter && a.Extra[2] == 1
}

func (a *Agent) State() statekit.StateID {
	return a.machine.state()
}

func (a *Agent) Capability() library.Capability {
	return a.lib
}

// Enqueue appends opt to the option queue.
func (a *Agent) Enqueue(opt domain.Option) {
	a.options = append(a.options, opt)
	if a.machine.state() == StateIdle {
		a.machine.fire(eventDecompose, "option enqueued")
	}
}

// Assign replaces the pending options with opt. Re-issuing the option at the
// head of the queue keeps its remaining actions.
func (a *Agent) Assign(opt domain.Option) {
	if len(a.options) > 0 && sameOption(a.options[0], opt) {
		a.options = a.options[:1]
		return
	}
	a.options = []domain.Option{opt}
	a.actions = nil
	a.machine.fire(eventIdle, "option replaced")
	a.machine.fire(eventDecompose, "option assigned")
}

func sameOption(x, y domain.Option) bool {
	return x.Kind == y.Kind && x.Param1 == y.Param1 && x.Param2 == y.Param2
}

func (a *Agent) Options() []domain.Option {
	out := make([]domain.Option, len(a.options))
	copy(out, a.options)
	return out
}

// Current returns the active option.
func (a *Agent) Current() (domain.Option, bool) {
	if len(a.options) == 0 {
		return domain.Option{}, false
	}
	return a.options[0], true
}

func (a *Agent) PendingActions() int {
	return len(a.actions)
}

// History returns completed options, oldest first.
func (a *Agent) History() []domain.Option {
	out := make([]domain.Option, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Agent) libraryState() library.State {
	return library.State{
		Position:    a.Position,
		CurrentCell: a.CurrentCell,
		Extra:       a.Extra,
		MapSize:     a.mapSize,
	}
}

func (a *Agent) idleCommand() domain.Command {
	return domain.Command{Kind: 0, X: a.Position.X, Y: a.Position.Y}
}

// Step advances the agent by one tick and returns its environment command.
// A decomposition or translation failure drops the active option and yields
// an idle command; the error is returned for logging only.
func (a *Agent) Step() (domain.Command, error) {
	if len(a.options) == 0 {
		a.machine.fire(eventIdle, "no options")
		return a.idleCommand(), nil
	}
	current := a.options[0]
	state := a.libraryState()

	if len(a.actions) == 0 {
		a.machine.fire(eventDecompose, "action queue empty")
		actions, err := a.lib.Decompose(state, current)
		if err != nil {
			a.fail(current, err)
			return a.idleCommand(), err
		}
		a.actions = actions
		a.machine.fire(eventExecute, fmt.Sprintf("%d actions", len(actions)))
	}

	act := a.actions[0]
	a.actions = a.actions[1:]

	cmd, err := a.lib.Translate(state, act)
	if err != nil {
		a.fail(current, err)
		return a.idleCommand(), err
	}

	if act.Done {
		a.machine.fire(eventComplete, "terminal action")
		a.remember(current)
		a.options = a.options[1:]
		a.actions = nil
		if len(a.options) > 0 {
			a.machine.fire(eventDecompose, "next option")
		} else {
			a.machine.fire(eventIdle, "option queue empty")
		}
	} else if len(a.actions) == 0 {
		a.machine.fire(eventDecompose, "option continues")
	}
	return cmd, nil
}

func (a *Agent) fail(opt domain.Option, err error) {
	a.logger.Warn("option dropped", zap.String("option", opt.Description), zap.Error(err))
	a.remember(domain.IdleOption(errorExecutingPrefix + opt.Description))
	a.options = a.options[1:]
	a.actions = nil
	a.machine.fire(eventIdle, "option failed")
	if len(a.options) > 0 {
		a.machine.fire(eventDecompose, "next option")
	}
}

func (a *Agent) remember(opt domain.Option) {
	a.history = append(a.history, opt)
	if over := len(a.history) - a.historyCap; over > 0 {
		a.history = append(a.history[:0:0], a.history[over:]...)
	}
}

// Receive records a message addressed to the agent.
func (a *Agent) Receive(msg domain.Message) {
	a.Messages.Add(msg)
}

func (a *Agent) Close() {
	a.machine.stop()
}
