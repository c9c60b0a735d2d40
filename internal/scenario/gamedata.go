package scenario

import (
	"fmt"
	"strings"

	"wildfire_crew/internal/domain"
)

// ParseGameData decodes the game data vector carried in observation slot 0:
// [_, game type, map size, score, task parameters...].
func ParseGameData(v []float64, s Settings) (domain.GameData, error) {
	if len(v) < 4 {
		return domain.GameData{}, fmt.Errorf("game data vector too short: %d", len(v))
	}
	at := func(i int) int {
		if i < 0 || i >= len(v) {
			return 0
		}
		return int(v[i])
	}

	gd := domain.GameData{
		GameType:   domain.GameType(at(1)),
		MapSize:    at(2),
		Score:      at(3),
		Parameters: make(map[string]any),
	}
	size := gd.MapSize

	switch gd.GameType {
	case domain.GameCutTrees:
		lines := at(4) != 0
		count := at(5)
		gd.Parameters["lines"] = lines
		gd.Parameters["count"] = count
		if !lines {
			coords := make([]string, 0, count)
			for i := 0; i < count; i++ {
				coords = append(coords, fmt.Sprintf("(%d, %d)", at(6+i*2), at(7+i*2)))
			}
			gd.Parameters["target_trees"] = coords
			gd.Task = "Cut all trees at " + strings.Join(coords, ", ")
		} else {
			segments := make([]string, 0, count)
			for i := 0; i < count; i++ {
				segments = append(segments, fmt.Sprintf("from (%d, %d) to (%d, %d)",
					at(6+i*4), at(7+i*4), at(8+i*4), at(9+i*4)))
			}
			gd.Parameters["target_lines"] = segments
			gd.Task = "Cut all trees in the following lines: " + strings.Join(segments, ", ")
		}

	case domain.GameScoutFire:
		gd.Task = fmt.Sprintf("Scout and confirm a fire within the map x: [0 to %d] and y: [0 to %d]. You need two agents directly over the fire to confirm it.", size, size)

	case domain.GameTransport:
		x, y := at(4), at(5)
		gd.Parameters["target"] = domain.Position{X: x, Y: y}
		gd.Task = fmt.Sprintf("Transport all Firefighter Agents to the target location: [%d, %d]", x, y)

	case domain.GameContainFire:
		gd.Parameters["fire_known"] = s.Known
		switch {
		case !s.Known:
			gd.Task = fmt.Sprintf("Find and fully contain the fire within the map x: [0 to %d] and y: [0 to %d]. Be cautious to not touch it. Cut trees to make firebreaks.", size, size)
		case s.Water:
			gd.Parameters["fire"] = domain.Position{X: at(4), Y: at(5)}
			gd.Parameters["water"] = domain.Position{X: at(6), Y: at(7)}
			gd.Task = fmt.Sprintf("Fully contain/suppress the fire spreading near [%d, %d]. Be cautious to not touch it. Use the water source at [%d, %d] to refill water supplies.",
				at(4), at(5), at(6), at(7))
		default:
			gd.Parameters["fire"] = domain.Position{X: at(4), Y: at(5)}
			gd.Task = fmt.Sprintf("Fully contain the fire near [%d, %d]. Be cautious to not touch it. Cut trees to make firebreaks.", at(4), at(5))
		}

	case domain.GameRescue:
		x, y := at(4), at(5)
		gd.Parameters["target"] = domain.Position{X: x, Y: y}
		gd.Parameters["civilian_known"] = s.Known
		if s.Known {
			clusters := clusterCoords(at, 6, s.CivilianClusters)
			gd.Task = fmt.Sprintf("There are %d groups of civilians scattered near %s. Each group has %d civilians. Transport all civilians to the target safe location of [%d, %d].",
				s.CivilianClusters, strings.Join(clusters, ", "), s.CivilianCount, x, y)
		} else {
			gd.Task = fmt.Sprintf("There are %d groups of civilians scattered within the map x: [0 to %d] and y: [0 to %d]. Each group has %d civilians. Find and transport all civilians to the target safe location of [%d, %d].",
				s.CivilianClusters, size, size, s.CivilianCount, x, y)
		}

	case domain.GameFullGame:
		switch {
		case !s.Known:
			gd.Task = fmt.Sprintf("There is a fire within the map x: [0 to %d] and y: [0 to %d]. Be cautious to not touch it. There are also %d groups of civilians scattered within the map. Each group has %d civilians. Search for and Contain/Suppress the fire while transporting civilians away from danger.",
				size, size, s.CivilianClusters, s.CivilianCount)
		default:
			gd.Parameters["fire"] = domain.Position{X: at(4), Y: at(5)}
			clusters := strings.Join(clusterCoords(at, 8, s.CivilianClusters), ", ")
			water := ""
			if s.Water {
				water = fmt.Sprintf(" Use the water source at [%d, %d] to refill water supplies.", at(6), at(7))
			}
			gd.Task = fmt.Sprintf("There is a fire near [%d, %d]. Be cautious to not touch it.%s There are also %d groups of civilians scattered near %s. Each group has %d civilians. Contain/Suppress the fire while transporting the civilians away from danger.",
				at(4), at(5), water, s.CivilianClusters, clusters, s.CivilianCount)
		}

	default:
		return gd, fmt.Errorf("unknown game type %d", int(gd.GameType))
	}
	return gd, nil
}

func clusterCoords(at func(int) int, offset, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("(%d, %d)", at(offset+i*2), at(offset+1+i*2)))
	}
	return out
}
