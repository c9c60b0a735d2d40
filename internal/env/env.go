// Package env is the boundary to the grid simulation. It decodes observation
// vectors into domain observations and assembles the joint command.
package env

import (
	"context"
	"fmt"
	"strings"

	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/scenario"
)

// Environment is a running simulation episode.
type Environment interface {
	Reset(ctx context.Context, settings scenario.Settings) (Frame, error)
	Step(ctx context.Context, joint [][3]int) (Frame, error)
	Close() error
}

// Frame holds one observation vector per slot. Slot 0 carries game data.
type Frame struct {
	Vectors [][]float64 `json:"observations"`
}

func (f Frame) Slots() int {
	return len(f.Vectors)
}

func (f Frame) GameVector() ([]float64, error) {
	if len(f.Vectors) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	return f.Vectors[0], nil
}

// Observation decodes the vector of slot id.
func (f Frame) Observation(id domain.AgentID) (domain.Observation, error) {
	if int(id) <= 0 || int(id) >= len(f.Vectors) {
		return domain.Observation{}, &domain.EnvironmentCommandError{Slot: id, Reason: "no observation for slot"}
	}
	return DecodeObservation(id, f.Vectors[id])
}

// MapRange is the side of the square perception grid of a role.
func MapRange(role domain.Role) int {
	switch role {
	case domain.RoleFirefighter, domain.RoleBulldozer:
		return 21
	case domain.RoleDrone:
		return 51
	case domain.RoleHelicopter:
		return 61
	default:
		return 0
	}
}

// DecodeObservation parses [type, grid cells..., -1, ..., x, y, e0, e1, e2].
// Vectors with a type code of 4 or more carry no grid.
func DecodeObservation(slot domain.AgentID, v []float64) (domain.Observation, error) {
	n := len(v)
	if n < 6 {
		return domain.Observation{}, fmt.Errorf("slot %d: observation vector too short: %d", int(slot), n)
	}
	obs := domain.Observation{
		Slot:     slot,
		TypeCode: int(v[0]),
		Position: domain.Position{X: int(v[n-5]), Y: int(v[n-4])},
		Extra:    [3]float64{v[n-3], v[n-2], v[n-1]},
	}
	role, ok := domain.ParseRole(obs.TypeCode)
	if !ok {
		return obs, nil
	}
	r := MapRange(role)
	obs.MapRange = r
	center := (r*r)/2 + 1

	var grid strings.Builder
	for i := 1; i < n-5; i++ {
		if v[i] == -1 {
			break
		}
		cell := TranslateCell(int(v[i]))
		if i == center {
			obs.CurrentCell = cell
			grid.WriteString("*" + cell + "*,")
		} else {
			grid.WriteString(cell + ",")
		}
		if i%r == 0 {
			grid.WriteString("\n")
		}
	}
	obs.Grid = grid.String()
	return obs, nil
}

var cellCodes = []string{"-", "'0'", "'1'", "'2'", "'3'", "0", "1", "2", "3", "i", "f", "e", "x", "w", "B", "C"}

// TranslateCell maps a grid cell code to its minimap character.
func TranslateCell(code int) string {
	if code < 0 || code >= len(cellCodes) {
		return " "
	}
	return cellCodes[code]
}

// JointCommand lays out one triple per slot. Empty and destroyed slots stay
// (0, 0, 0); commands for slots outside the frame are dropped and returned
// as errors.
func JointCommand(slots int, commands map[domain.AgentID]domain.Command) ([][3]int, []error) {
	joint := make([][3]int, slots)
	var dropped []error
	for id, cmd := range commands {
		if int(id) <= 0 || int(id) >= slots {
			dropped = append(dropped, &domain.EnvironmentCommandError{Slot: id, Reason: fmt.Sprintf("outside %d slots", slots)})
			continue
		}
		joint[id] = cmd.Triple()
	}
	return joint, dropped
}
