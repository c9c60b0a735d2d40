package library

import (
	"wildfire_crew/internal/domain"
)

const (
	FirefighterIdle domain.OptionKind = iota
	FirefighterMove
	FirefighterCut
	FirefighterCutAll
	FirefighterPickup
	FirefighterDropoff
	FirefighterSpray
	FirefighterRefill
)

const (
	firefighterCut      domain.ActionKind = 1
	firefighterInteract domain.ActionKind = 2
	firefighterSpray    domain.ActionKind = 3
	firefighterRefill   domain.ActionKind = 4
)

// MaxCutCount bounds a single cut_trees option.
const MaxCutCount = 64

// cellBrush is the perception code of a cell with no trees left.
const cellBrush = "0"

var firefighterLibrary = newFirefighterLibrary()

func newFirefighterLibrary() *roleLibrary {
	l := &roleLibrary{
		role: domain.RoleFirefighter,
		vocabulary: []OptionSpec{
			{Kind: FirefighterIdle, Name: "idle", Text: "Do nothing, remaining on standby at your current location."},
			{Kind: FirefighterMove, Name: "move", Params: "x y", Text: "Move to the coordinate (x, y). You advance every step until you arrive."},
			{Kind: FirefighterCut, Name: "cut_trees", Params: "n", Text: "Cut n trees at your current cell (n from 1 to 64)."},
			{Kind: FirefighterCutAll, Name: "cut_all_trees", Text: "Keep cutting trees at your current cell until it is cleared to brush."},
			{Kind: FirefighterPickup, Name: "pick_up_civilian", Text: "Pick up a civilian at your current cell."},
			{Kind: FirefighterDropoff, Name: "drop_off_civilian", Text: "Drop off the civilian you are carrying at your current cell."},
			{Kind: FirefighterSpray, Name: "spray_water", Params: "x y", Text: "Spray water on the cell (x, y)."},
			{Kind: FirefighterRefill, Name: "refill_water", Text: "Refill your water while standing next to a water source."},
		},
	}
	l.options = map[domain.OptionKind]decomposeFunc{
		FirefighterIdle: func(s State, _ domain.Option) ([]domain.Action, error) {
			return idleAction(s), nil
		},
		FirefighterMove: func(s State, opt domain.Option) ([]domain.Action, error) {
			return l.moveToward(s, opt, actionMove)
		},
		FirefighterCut: func(s State, opt domain.Option) ([]domain.Action, error) {
			n := opt.Param1
			if n < 1 {
				return nil, l.errorf("decompose", int(opt.Kind), "cut count must be at least 1, got %d", n)
			}
			if n > MaxCutCount {
				return nil, l.errorf("decompose", int(opt.Kind), "cut count %d exceeds %d", n, MaxCutCount)
			}
			actions := make([]domain.Action, 0, n)
			for i := 0; i < n-1; i++ {
				actions = append(actions, domain.Action{Kind: firefighterCut, Explanation: "cut tree"})
			}
			return append(actions, domain.Action{Done: true, Kind: firefighterCut, Explanation: "cut last tree"}), nil
		},
		FirefighterCutAll: func(s State, _ domain.Option) ([]domain.Action, error) {
			if s.CurrentCell == cellBrush {
				return single(actionMove, s.Position.X, s.Position.Y, "cell cleared"), nil
			}
			return []domain.Action{{Kind: firefighterCut, Explanation: "cut tree"}}, nil
		},
		FirefighterPickup: func(s State, _ domain.Option) ([]domain.Action, error) {
			if s.Extra[0] == 0 {
				return single(firefighterInteract, s.Position.X, s.Position.Y, "pick up civilian"), nil
			}
			return single(actionMove, s.Position.X, s.Position.Y, "already carrying a civilian"), nil
		},
		FirefighterDropoff: func(s State, _ domain.Option) ([]domain.Action, error) {
			if s.Extra[0] == 1 {
				return single(firefighterInteract, s.Position.X, s.Position.Y, "drop off civilian"), nil
			}
			return single(actionMove, s.Position.X, s.Position.Y, "not carrying a civilian"), nil
		},
		FirefighterSpray: func(s State, opt domain.Option) ([]domain.Action, error) {
			if !s.inBounds(opt.Param1, opt.Param2) {
				return nil, l.errorf("decompose", int(opt.Kind), "out of bounds target (%d, %d)", opt.Param1, opt.Param2)
			}
			return single(firefighterSpray, opt.Param1, opt.Param2, "spray water"), nil
		},
		FirefighterRefill: func(s State, _ domain.Option) ([]domain.Action, error) {
			return single(firefighterRefill, s.Position.X, s.Position.Y, "refill water"), nil
		},
	}
	l.actions = map[domain.ActionKind]translateFunc{
		actionMove:          l.targetCommand,
		firefighterCut:      fixedCommand(firefighterCut),
		firefighterInteract: passCommand,
		firefighterSpray:    l.targetCommand,
		firefighterRefill:   passCommand,
	}
	return l
}
