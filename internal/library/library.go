// Package library holds the per-role capability sets. Each role owns an
// option table (decompose an Option into primitive Actions) and an action
// table (translate an Action into an environment Command).
package library

import (
	"fmt"

	"wildfire_crew/internal/domain"
)

// State is the slice of agent state decomposition and translation read.
type State struct {
	Position    domain.Position
	CurrentCell string
	Extra       [3]float64
	MapSize     int
}

func (s State) inBounds(x, y int) bool {
	if s.MapSize <= 0 {
		return true
	}
	return x >= 0 && y >= 0 && x <= s.MapSize && y <= s.MapSize
}

// Capability is one role's option and action library.
type Capability interface {
	Role() domain.Role
	Decompose(s State, opt domain.Option) ([]domain.Action, error)
	Translate(s State, act domain.Action) (domain.Command, error)
	Vocabulary() []OptionSpec
}

// OptionSpec documents one option kind for the oracle.
type OptionSpec struct {
	Kind   domain.OptionKind
	Name   string
	Params string
	Text   string
}

type decomposeFunc func(s State, opt domain.Option) ([]domain.Action, error)

type translateFunc func(s State, act domain.Action) (domain.Command, error)

type roleLibrary struct {
	role       domain.Role
	vocabulary []OptionSpec
	options    map[domain.OptionKind]decomposeFunc
	actions    map[domain.ActionKind]translateFunc
}

var registry = map[domain.Role]*roleLibrary{
	domain.RoleFirefighter: firefighterLibrary,
	domain.RoleBulldozer:   bulldozerLibrary,
	domain.RoleDrone:       droneLibrary,
	domain.RoleHelicopter:  helicopterLibrary,
}

// For returns the capability set of role.
func For(role domain.Role) (Capability, error) {
	lib, ok := registry[role]
	if !ok {
		return nil, fmt.Errorf("no library for role %s", role)
	}
	return lib, nil
}

func (l *roleLibrary) Role() domain.Role {
	return l.role
}

func (l *roleLibrary) Vocabulary() []OptionSpec {
	out := make([]OptionSpec, len(l.vocabulary))
	copy(out, l.vocabulary)
	return out
}

func (l *roleLibrary) Decompose(s State, opt domain.Option) ([]domain.Action, error) {
	fn, ok := l.options[opt.Kind]
	if !ok {
		return nil, l.errorf("decompose", int(opt.Kind), "unknown option kind")
	}
	actions, err := fn(s, opt)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, l.errorf("decompose", int(opt.Kind), "empty decomposition")
	}
	// A trailing non-terminal action means the option is re-decomposed on the
	// next tick.
	for i, a := range actions {
		if a.Done && i != len(actions)-1 {
			return nil, l.errorf("decompose", int(opt.Kind), "done flag set before the last action")
		}
	}
	return actions, nil
}

func (l *roleLibrary) Translate(s State, act domain.Action) (domain.Command, error) {
	fn, ok := l.actions[act.Kind]
	if !ok {
		return domain.Command{}, l.errorf("translate", int(act.Kind), "unknown action kind")
	}
	return fn(s, act)
}

func (l *roleLibrary) errorf(op string, kind int, format string, args ...any) error {
	return &domain.DecompositionError{
		Role:   l.role,
		Op:     op,
		Kind:   kind,
		Reason: fmt.Sprintf(format, args...),
	}
}

const actionMove domain.ActionKind = 0

func idleAction(s State) []domain.Action {
	return []domain.Action{{Done: true, Kind: actionMove, X: s.Position.X, Y: s.Position.Y, Explanation: "idle"}}
}

func single(kind domain.ActionKind, x, y int, explanation string) []domain.Action {
	return []domain.Action{{Done: true, Kind: kind, X: x, Y: y, Explanation: explanation}}
}

// moveToward emits one non-terminal step toward the target, or a terminal
// zero-displacement move once the agent stands on it. The option is
// re-decomposed every tick until it reports done.
func (l *roleLibrary) moveToward(s State, opt domain.Option, kind domain.ActionKind) ([]domain.Action, error) {
	if !s.inBounds(opt.Param1, opt.Param2) {
		return nil, l.errorf("decompose", int(opt.Kind), "out of bounds target (%d, %d)", opt.Param1, opt.Param2)
	}
	if s.Position.X == opt.Param1 && s.Position.Y == opt.Param2 {
		return single(actionMove, s.Position.X, s.Position.Y, "arrived"), nil
	}
	return []domain.Action{{Done: false, Kind: kind, X: opt.Param1, Y: opt.Param2, Explanation: "move toward target"}}, nil
}

func (l *roleLibrary) targetCommand(s State, act domain.Action) (domain.Command, error) {
	if !s.inBounds(act.X, act.Y) {
		return domain.Command{}, l.errorf("translate", int(act.Kind), "out of bounds target (%d, %d)", act.X, act.Y)
	}
	return domain.Command{Kind: int(act.Kind), X: act.X, Y: act.Y}, nil
}

func fixedCommand(kind domain.ActionKind) translateFunc {
	return func(_ State, _ domain.Action) (domain.Command, error) {
		return domain.Command{Kind: int(kind)}, nil
	}
}

func passCommand(_ State, act domain.Action) (domain.Command, error) {
	return domain.Command{Kind: int(act.Kind), X: act.X, Y: act.Y}, nil
}
