package library

import (
	"wildfire_crew/internal/domain"
)

const (
	BulldozerIdle domain.OptionKind = iota
	BulldozerMove
	BulldozerMoveCutting
)

const (
	DroneIdle domain.OptionKind = iota
	DroneMove
)

const (
	HelicopterIdle domain.OptionKind = iota
	HelicopterMove
	HelicopterPickup
	HelicopterDropoff
	HelicopterRefill
	HelicopterDeploy
)

const (
	bulldozerCut domain.ActionKind = 1

	helicopterPickup  domain.ActionKind = 1
	helicopterRefill  domain.ActionKind = 2
	helicopterRelease domain.ActionKind = 3
)

var (
	bulldozerLibrary  = newBulldozerLibrary()
	droneLibrary      = newDroneLibrary()
	helicopterLibrary = newHelicopterLibrary()
)

func newBulldozerLibrary() *roleLibrary {
	l := &roleLibrary{
		role: domain.RoleBulldozer,
		vocabulary: []OptionSpec{
			{Kind: BulldozerIdle, Name: "idle", Text: "Do nothing, remaining on standby at your current location."},
			{Kind: BulldozerMove, Name: "move", Params: "x y", Text: "Drive to the coordinate (x, y) without cutting."},
			{Kind: BulldozerMoveCutting, Name: "move_cutting", Params: "x y", Text: "Drive to the coordinate (x, y), clearing every tree along the way."},
		},
	}
	l.options = map[domain.OptionKind]decomposeFunc{
		BulldozerIdle: func(s State, _ domain.Option) ([]domain.Action, error) {
			return idleAction(s), nil
		},
		BulldozerMove: func(s State, opt domain.Option) ([]domain.Action, error) {
			return l.moveToward(s, opt, actionMove)
		},
		BulldozerMoveCutting: func(s State, opt domain.Option) ([]domain.Action, error) {
			return l.moveToward(s, opt, bulldozerCut)
		},
	}
	l.actions = map[domain.ActionKind]translateFunc{
		actionMove:   l.targetCommand,
		bulldozerCut: l.targetCommand,
	}
	return l
}

func newDroneLibrary() *roleLibrary {
	l := &roleLibrary{
		role: domain.RoleDrone,
		vocabulary: []OptionSpec{
			{Kind: DroneIdle, Name: "idle", Text: "Hover in place at your current location."},
			{Kind: DroneMove, Name: "move", Params: "x y", Text: "Fly to the coordinate (x, y)."},
		},
	}
	l.options = map[domain.OptionKind]decomposeFunc{
		DroneIdle: func(s State, _ domain.Option) ([]domain.Action, error) {
			return idleAction(s), nil
		},
		DroneMove: func(s State, opt domain.Option) ([]domain.Action, error) {
			return l.moveToward(s, opt, actionMove)
		},
	}
	l.actions = map[domain.ActionKind]translateFunc{
		actionMove: l.targetCommand,
	}
	return l
}

func newHelicopterLibrary() *roleLibrary {
	l := &roleLibrary{
		role: domain.RoleHelicopter,
		vocabulary: []OptionSpec{
			{Kind: HelicopterIdle, Name: "idle", Text: "Do nothing, remaining on standby and conserving energy."},
			{Kind: HelicopterMove, Name: "move", Params: "x y", Text: "Fly to the coordinate (x, y). Distance does not matter."},
			{Kind: HelicopterPickup, Name: "pick_up_firefighters", Text: "Pick up nearby Firefighter Agents."},
			{Kind: HelicopterDropoff, Name: "drop_off_firefighters", Text: "Drop off all carried Firefighter Agents."},
			{Kind: HelicopterRefill, Name: "refill_water", Text: "Refill water storage over a water source."},
			{Kind: HelicopterDeploy, Name: "deploy_water", Text: "Deploy water directly below."},
		},
	}
	l.options = map[domain.OptionKind]decomposeFunc{
		HelicopterIdle: func(s State, _ domain.Option) ([]domain.Action, error) {
			return idleAction(s), nil
		},
		HelicopterMove: func(s State, opt domain.Option) ([]domain.Action, error) {
			return l.moveToward(s, opt, actionMove)
		},
		HelicopterPickup: func(_ State, _ domain.Option) ([]domain.Action, error) {
			return single(helicopterPickup, 0, 0, "pick up firefighters"), nil
		},
		HelicopterDropoff: func(_ State, _ domain.Option) ([]domain.Action, error) {
			return single(helicopterRelease, 0, 0, "drop off firefighters"), nil
		},
		HelicopterRefill: func(_ State, _ domain.Option) ([]domain.Action, error) {
			return single(helicopterRefill, 0, 0, "refill water"), nil
		},
		HelicopterDeploy: func(_ State, _ domain.Option) ([]domain.Action, error) {
			return single(helicopterRelease, 0, 0, "deploy water"), nil
		},
	}
	l.actions = map[domain.ActionKind]translateFunc{
		actionMove:        l.targetCommand,
		helicopterPickup:  fixedCommand(helicopterPickup),
		helicopterRefill:  fixedCommand(helicopterRefill),
		helicopterRelease: fixedCommand(helicopterRelease),
	}
	return l
}
