// Package policy decides when an episode is over.
package policy

import (
	"fmt"

	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/scenario"
)

type Engine struct {
	settings scenario.Settings
}

func New(settings scenario.Settings) *Engine {
	return &Engine{settings: settings}
}

// Threshold returns the score that ends the episode, or false for game types
// that never end on score.
func (e *Engine) Threshold() (int, bool) {
	s := e.settings
	switch s.GameType {
	case domain.GameCutTrees:
		return s.TreeCount * s.TreesPerLine * 3, true
	case domain.GameScoutFire:
		return 2, true
	case domain.GameTransport:
		return s.Firefighters, true
	case domain.GameRescue:
		return s.CivilianCount * s.CivilianClusters, true
	default:
		return 0, false
	}
}

// Done reports whether the episode should stop at score, with the reason.
// An unknown game type stops immediately.
func (e *Engine) Done(score int) (bool, string) {
	gt := e.settings.GameType
	if !gt.Valid() {
		return true, fmt.Sprintf("unknown game type %d", int(gt))
	}
	threshold, ok := e.Threshold()
	if !ok {
		return false, ""
	}
	if score >= threshold {
		return true, fmt.Sprintf("%s score %d reached %d", gt, score, threshold)
	}
	return false, ""
}
