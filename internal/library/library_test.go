package library

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"wildfire_crew/internal/domain"
)

func TestMoveAtCurrentPositionIsSingleTerminalNoop(t *testing.T) {
	moves := map[domain.Role]domain.OptionKind{
		domain.RoleFirefighter: FirefighterMove,
		domain.RoleBulldozer:   BulldozerMove,
		domain.RoleDrone:       DroneMove,
		domain.RoleHelicopter:  HelicopterMove,
	}
	rapid.Check(t, func(t *rapid.T) {
		role := rapid.SampledFrom(domain.Roles).Draw(t, "role")
		x := rapid.IntRange(0, 100).Draw(t, "x")
		y := rapid.IntRange(0, 100).Draw(t, "y")
		lib, err := For(role)
		if err != nil {
			t.Fatalf("For(%s): %v", role, err)
		}
		s := State{Position: domain.Position{X: x, Y: y}, MapSize: 100}
		actions, err := lib.Decompose(s, domain.Option{Kind: moves[role], Param1: x, Param2: y})
		if err != nil {
			t.Fatalf("decompose: %v", err)
		}
		if len(actions) != 1 || !actions[0].Done {
			t.Fatalf("want one terminal action, got %+v", actions)
		}
		cmd, err := lib.Translate(s, actions[0])
		if err != nil {
			t.Fatalf("translate: %v", err)
		}
		if cmd != (domain.Command{Kind: 0, X: x, Y: y}) {
			t.Fatalf("want zero displacement move, got %+v", cmd)
		}
	})
}

func TestCutNTreesYieldsNActionsLastTerminal(t *testing.T) {
	lib, err := For(domain.RoleFirefighter)
	require.NoError(t, err)
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(t, "n")
		actions, err := lib.Decompose(State{MapSize: 30}, domain.Option{Kind: FirefighterCut, Param1: n})
		if err != nil {
			t.Fatalf("decompose: %v", err)
		}
		if len(actions) != n {
			t.Fatalf("want %d actions, got %d", n, len(actions))
		}
		for i, a := range actions {
			if a.Done != (i == n-1) {
				t.Fatalf("action %d done=%v", i, a.Done)
			}
		}
	})
}

func TestCutZeroTreesIsDecompositionError(t *testing.T) {
	lib, err := For(domain.RoleFirefighter)
	require.NoError(t, err)

	_, err = lib.Decompose(State{}, domain.Option{Kind: FirefighterCut, Param1: 0})
	var decompErr *domain.DecompositionError
	require.True(t, errors.As(err, &decompErr))
	assert.Equal(t, domain.RoleFirefighter, decompErr.Role)
}

func TestCutCountAboveLimitIsDecompositionError(t *testing.T) {
	lib, err := For(domain.RoleFirefighter)
	require.NoError(t, err)

	for _, n := range []int{MaxCutCount + 1, 1 << 62} {
		_, err = lib.Decompose(State{MapSize: 30}, domain.Option{Kind: FirefighterCut, Param1: n})
		var decompErr *domain.DecompositionError
		require.True(t, errors.As(err, &decompErr), "n=%d: got %v", n, err)
	}
	actions, err := lib.Decompose(State{MapSize: 30}, domain.Option{Kind: FirefighterCut, Param1: MaxCutCount})
	require.NoError(t, err)
	assert.Len(t, actions, MaxCutCount)
}

// Every vocabulary kind decomposes for any in-bounds state. Only the last
// action may be terminal; a non-terminal tail is re-decomposed next tick.
func TestVocabularyDecomposesInBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		role := rapid.SampledFrom(domain.Roles).Draw(t, "role")
		lib, err := For(role)
		if err != nil {
			t.Fatalf("For(%s): %v", role, err)
		}
		entry := rapid.SampledFrom(lib.Vocabulary()).Draw(t, "option")
		mapSize := rapid.IntRange(1, 100).Draw(t, "map_size")
		s := State{
			Position:    domain.Position{X: rapid.IntRange(0, mapSize).Draw(t, "x"), Y: rapid.IntRange(0, mapSize).Draw(t, "y")},
			CurrentCell: rapid.SampledFrom([]string{"0", "1", "2", "3"}).Draw(t, "cell"),
			Extra:       [3]float64{float64(rapid.IntRange(0, 1).Draw(t, "carrying")), 0, 0},
			MapSize:     mapSize,
		}
		opt := domain.Option{Kind: entry.Kind}
		switch entry.Params {
		case "x y":
			opt.Param1 = rapid.IntRange(0, mapSize).Draw(t, "param_1")
			opt.Param2 = rapid.IntRange(0, mapSize).Draw(t, "param_2")
		case "n":
			opt.Param1 = rapid.IntRange(1, MaxCutCount).Draw(t, "param_1")
		}

		actions, err := lib.Decompose(s, opt)
		if err != nil {
			t.Fatalf("%s %s: %v", role, entry.Name, err)
		}
		if len(actions) == 0 {
			t.Fatalf("%s %s: empty decomposition", role, entry.Name)
		}
		for i, a := range actions {
			if a.Done && i != len(actions)-1 {
				t.Fatalf("%s %s: action %d terminal before the end", role, entry.Name, i)
			}
			if _, err := lib.Translate(s, a); err != nil {
				t.Fatalf("%s %s: translate action %d: %v", role, entry.Name, i, err)
			}
		}
		if !actions[len(actions)-1].Done && len(actions) != 1 {
			t.Fatalf("%s %s: re-evaluated option must emit one step, got %d", role, entry.Name, len(actions))
		}
	})
}

func TestMoveTowardTargetIsNonTerminalStep(t *testing.T) {
	for _, role := range domain.Roles {
		t.Run(role.String(), func(t *testing.T) {
			lib, err := For(role)
			require.NoError(t, err)
			s := State{Position: domain.Position{X: 1, Y: 1}, MapSize: 30}
			actions, err := lib.Decompose(s, domain.Option{Kind: 1, Param1: 5, Param2: 6})
			require.NoError(t, err)
			require.Len(t, actions, 1)
			assert.False(t, actions[0].Done)
			cmd, err := lib.Translate(s, actions[0])
			require.NoError(t, err)
			assert.Equal(t, domain.Command{Kind: 0, X: 5, Y: 6}, cmd)
		})
	}
}

func TestOutOfBoundsMoveIsDecompositionError(t *testing.T) {
	for _, role := range domain.Roles {
		t.Run(role.String(), func(t *testing.T) {
			lib, err := For(role)
			require.NoError(t, err)
			_, err = lib.Decompose(State{MapSize: 30}, domain.Option{Kind: 1, Param1: 31, Param2: 5})
			var decompErr *domain.DecompositionError
			assert.True(t, errors.As(err, &decompErr), "got %v", err)
		})
	}
}

func TestCutAllReevaluatesCurrentCell(t *testing.T) {
	lib, err := For(domain.RoleFirefighter)
	require.NoError(t, err)
	opt := domain.Option{Kind: FirefighterCutAll}

	forest, err := lib.Decompose(State{CurrentCell: "2"}, opt)
	require.NoError(t, err)
	require.Len(t, forest, 1)
	assert.False(t, forest[0].Done)
	assert.Equal(t, firefighterCut, forest[0].Kind)

	brush, err := lib.Decompose(State{CurrentCell: "0", Position: domain.Position{X: 4, Y: 7}}, opt)
	require.NoError(t, err)
	require.Len(t, brush, 1)
	assert.True(t, brush[0].Done)
}

func TestPickupDependsOnCarryState(t *testing.T) {
	lib, err := For(domain.RoleFirefighter)
	require.NoError(t, err)
	pos := domain.Position{X: 3, Y: 9}

	free, err := lib.Decompose(State{Position: pos}, domain.Option{Kind: FirefighterPickup})
	require.NoError(t, err)
	cmd, err := lib.Translate(State{Position: pos}, free[0])
	require.NoError(t, err)
	assert.Equal(t, domain.Command{Kind: 2, X: 3, Y: 9}, cmd)

	carrying := State{Position: pos, Extra: [3]float64{1, 0, 0}}
	busy, err := lib.Decompose(carrying, domain.Option{Kind: FirefighterPickup})
	require.NoError(t, err)
	cmd, err = lib.Translate(carrying, busy[0])
	require.NoError(t, err)
	assert.Equal(t, domain.Command{Kind: 0, X: 3, Y: 9}, cmd)
}

func TestHelicopterCommands(t *testing.T) {
	lib, err := For(domain.RoleHelicopter)
	require.NoError(t, err)
	tests := []struct {
		kind domain.OptionKind
		want domain.Command
	}{
		{kind: HelicopterPickup, want: domain.Command{Kind: 1}},
		{kind: HelicopterDropoff, want: domain.Command{Kind: 3}},
		{kind: HelicopterRefill, want: domain.Command{Kind: 2}},
		{kind: HelicopterDeploy, want: domain.Command{Kind: 3}},
	}
	for _, tc := range tests {
		actions, err := lib.Decompose(State{}, domain.Option{Kind: tc.kind})
		require.NoError(t, err)
		require.Len(t, actions, 1)
		cmd, err := lib.Translate(State{}, actions[0])
		require.NoError(t, err)
		assert.Equal(t, tc.want, cmd, "option kind %d", tc.kind)
	}
}

func TestUnknownKindsAreRejected(t *testing.T) {
	lib, err := For(domain.RoleDrone)
	require.NoError(t, err)

	_, err = lib.Decompose(State{}, domain.Option{Kind: 7})
	assert.Error(t, err)
	_, err = lib.Translate(State{}, domain.Action{Kind: 3})
	assert.Error(t, err)
}

func TestDescribeListsVocabulary(t *testing.T) {
	text := DescribeRole(domain.RoleBulldozer)
	assert.Contains(t, text, "Bulldozer Agent actions:")
	assert.Contains(t, text, "type 2 move_cutting (params: x y)")
	assert.NotEmpty(t, Blurb(domain.RoleDrone))
}
