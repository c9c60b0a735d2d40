package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/scenario"
)

func TestDone(t *testing.T) {
	tests := []struct {
		name     string
		settings scenario.Settings
		score    int
		want     bool
	}{
		{name: "cut trees below", settings: scenario.Settings{GameType: domain.GameCutTrees, TreeCount: 2, TreesPerLine: 5}, score: 29, want: false},
		{name: "cut trees reached", settings: scenario.Settings{GameType: domain.GameCutTrees, TreeCount: 2, TreesPerLine: 5}, score: 30, want: true},
		{name: "scout one sighting", settings: scenario.Settings{GameType: domain.GameScoutFire}, score: 1, want: false},
		{name: "scout confirmed", settings: scenario.Settings{GameType: domain.GameScoutFire}, score: 2, want: true},
		{name: "transport all delivered", settings: scenario.Settings{GameType: domain.GameTransport, Firefighters: 6}, score: 6, want: true},
		{name: "rescue partial", settings: scenario.Settings{GameType: domain.GameRescue, CivilianCount: 3, CivilianClusters: 3}, score: 8, want: false},
		{name: "rescue all", settings: scenario.Settings{GameType: domain.GameRescue, CivilianCount: 3, CivilianClusters: 3}, score: 9, want: true},
		{name: "contain never ends", settings: scenario.Settings{GameType: domain.GameContainFire}, score: 10000, want: false},
		{name: "full game never ends", settings: scenario.Settings{GameType: domain.GameFullGame}, score: 10000, want: false},
		{name: "unknown ends", settings: scenario.Settings{GameType: 9}, score: 0, want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, reason := New(tc.settings).Done(tc.score)
			assert.Equal(t, tc.want, got)
			if got {
				assert.NotEmpty(t, reason)
			}
		})
	}
}
