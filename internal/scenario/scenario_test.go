package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wildfire_crew/internal/domain"
)

func TestBuiltinPresetsAllValidate(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)
	names := c.Names()
	require.Len(t, names, 17)
	for _, name := range names {
		s, err := c.Settings(name, 7)
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Level)
		assert.Equal(t, int64(7), s.Seed)
		assert.Positive(t, s.AgentCount(), name)
	}
}

func TestSettingsAppliesDefaultsAndZeroesIrrelevantKeys(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)

	s, err := c.Settings("Scout_Fire_small", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.GameScoutFire, s.GameType)
	assert.Equal(t, 100, s.MapSize)
	assert.Equal(t, 100, s.FireSpreadFrequency)
	assert.Equal(t, 10, s.StepsPerDecision)
	assert.Equal(t, 20, s.VegetationDensityOffset)
	assert.Zero(t, s.TreeCount)
	assert.Equal(t, []domain.Role{domain.RoleDrone, domain.RoleDrone, domain.RoleDrone}, s.Roster())

	full, err := c.Settings("Full_Game", 0)
	require.NoError(t, err)
	assert.Equal(t, 30, full.VegetationDensityOffset)
	assert.False(t, full.Water)
	roster := full.Roster()
	require.Len(t, roster, 15)
	assert.Equal(t, domain.RoleFirefighter, roster[0])
	assert.Equal(t, domain.RoleBulldozer, roster[10])
	assert.Equal(t, domain.RoleHelicopter, roster[14])
}

func TestValidateRejectsIncompletePresets(t *testing.T) {
	tests := []struct {
		name   string
		preset map[string]any
		want   string
	}{
		{name: "no game type", preset: map[string]any{"map_size": 30}, want: "game_type"},
		{name: "bad game type", preset: map[string]any{"game_type": 8, "map_size": 30}, want: "invalid game type"},
		{name: "cut trees without lines", preset: map[string]any{"game_type": 0, "map_size": 30, "tree_count": 2, "trees_per_line": 1}, want: `"lines"`},
		{name: "rescue without clusters", preset: map[string]any{"game_type": 4, "map_size": 30, "civilian_count": 2, "civilian_move_frequency": 3}, want: "civilian_clusters"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(tc.preset)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadFileOverridesBuiltin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Tiny_Transport:\n  game_type: 2\n  map_size: 20\n  starting_firefighter_agents: 1\n  starting_helicopter_agents: 1\n"), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, c.Names(), 18)
	s, err := c.Settings("Tiny_Transport", 1)
	require.NoError(t, err)
	assert.Equal(t, 20, s.MapSize)
	assert.Equal(t, 2, s.AgentCount())
}

func TestParseGameData(t *testing.T) {
	tests := []struct {
		name     string
		vector   []float64
		settings Settings
		want     string
	}{
		{
			name:   "sparse trees",
			vector: []float64{0, 0, 30, 3, 0, 2, 4, 5, 10, 11},
			want:   "Cut all trees at (4, 5), (10, 11)",
		},
		{
			name:   "tree lines",
			vector: []float64{0, 0, 30, 0, 1, 1, 2, 3, 2, 8},
			want:   "Cut all trees in the following lines: from (2, 3) to (2, 8)",
		},
		{
			name:   "scout",
			vector: []float64{0, 1, 100, 0},
			want:   "Scout and confirm a fire within the map x: [0 to 100] and y: [0 to 100]. You need two agents directly over the fire to confirm it.",
		},
		{
			name:   "transport",
			vector: []float64{0, 2, 100, 0, 40, 60},
			want:   "Transport all Firefighter Agents to the target location: [40, 60]",
		},
		{
			name:     "contain with water",
			vector:   []float64{0, 3, 60, 0, 30, 31, 5, 6},
			settings: Settings{Known: true, Water: true},
			want:     "Fully contain/suppress the fire spreading near [30, 31]. Be cautious to not touch it. Use the water source at [5, 6] to refill water supplies.",
		},
		{
			name:     "rescue known",
			vector:   []float64{0, 4, 40, 0, 1, 2, 20, 21},
			settings: Settings{Known: true, CivilianCount: 3, CivilianClusters: 1},
			want:     "There are 1 groups of civilians scattered near (20, 21). Each group has 3 civilians. Transport all civilians to the target safe location of [1, 2].",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gd, err := ParseGameData(tc.vector, tc.settings)
			require.NoError(t, err)
			assert.Equal(t, tc.want, gd.Task)
			assert.Equal(t, int(tc.vector[2]), gd.MapSize)
			assert.Equal(t, int(tc.vector[3]), gd.Score)
		})
	}

	_, err := ParseGameData([]float64{0, 9, 10, 0}, Settings{})
	assert.Error(t, err)
	_, err = ParseGameData([]float64{0, 1}, Settings{})
	assert.Error(t, err)
}
