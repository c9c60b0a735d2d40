package agent

import (
	"fmt"
	"sort"
	"strings"

	"wildfire_crew/internal/domain"
)

const legend = `Each cell is represented by a character corresponding to the type of terrain:
    0: brush (no trees)
    1: light forest (1 tree)
    2: medium forest (2 trees)
    3: dense forest (3 trees)
    i: Ignited
    f: On Fire
    e: Extinguishing
    x: Fully Extinguished
    w: Water Source Cell (no trees)
    B: building (no trees)

IGNORE ALL "-". Those are unrevealed cells. They will reveal themselves when you get closer to them.
The cells in single quotations are wet cells. 'C' cells are civilians.`

// ObservationText renders the agent's raw observation for the perception
// oracle call. others holds the positions of the rest of the roster.
func (a *Agent) ObservationText(others map[domain.AgentID]domain.Position) string {
	if a.InTransport() {
		return fmt.Sprintf("You are %s and you are within a helicopter. You are unable to perform actions. Your current location is %s.",
			a.ID.Tag(), a.Position)
	}

	var b strings.Builder
	half := a.MapRange / 2
	fmt.Fprintf(&b, "You are %s, and your current location is %s and thus your minimap view will be the range\n", a.ID.Tag(), a.Position)
	fmt.Fprintf(&b, "x: [%d, %d]\ny: [%d, %d]\nwith the top corner of the map being (0,0).\n\n",
		a.Position.X-half, a.Position.X+half, a.Position.Y-half, a.Position.Y+half)
	fmt.Fprintf(&b, "This is your minimap view:\n%s\n\n%s\n\n", a.Grid, legend)
	fmt.Fprintf(&b, "The bolded cell is the current cell you are in. It is a %s cell at %s. There are other nearby agents at:\n", a.CurrentCell, a.Position)
	b.WriteString(nearbyAgents(a, others))
	b.WriteString("\n\n")
	b.WriteString(a.extraText())
	return b.String()
}

func nearbyAgents(a *Agent, others map[domain.AgentID]domain.Position) string {
	ids := make([]int, 0, len(others))
	for id := range others {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	var parts []string
	for _, raw := range ids {
		id := domain.AgentID(raw)
		pos := others[id]
		if id == a.ID {
			continue
		}
		if abs(pos.X-a.Position.X) < a.MapRange && abs(pos.Y-a.Position.Y) < a.MapRange {
			parts = append(parts, fmt.Sprintf("%s: %s", id.Tag(), pos))
		}
	}
	return strings.Join(parts, " ")
}

func (a *Agent) extraText() string {
	switch a.Role {
	case domain.RoleFirefighter:
		carry := "You are not carrying any civilians.\n"
		if a.Extra[0] != 0 {
			carry = "You are carrying a civilian.\n"
		}
		return carry + fmt.Sprintf("You currently have %d water to spray.", int(a.Extra[1]))
	case domain.RoleHelicopter:
		carry := "You are not carrying any firefighters.\n"
		if a.Extra[0] != 0 {
			carry = fmt.Sprintf("You are carrying %d firefighters.\n", int(a.Extra[0]))
		}
		return carry + fmt.Sprintf("You currently have %d/5 water to deploy.", int(a.Extra[1]))
	default:
		return ""
	}
}

// PerceptionPrompt returns the system and user prompts asking the oracle to
// summarise the observation in first person.
func (a *Agent) PerceptionPrompt(others map[domain.AgentID]domain.Position) (string, string) {
	system := fmt.Sprintf(`You are the Perception Module of an embodied %s agent, %s, within a large grid world spanning from x:[0 to %d] and y:[0 to %d].
Your job is to process and understand your surroundings.
Do not directly report explicit information from the minimap, but rather spatially understand your surroundings.
Do not refer to character representations of the minimap, only what they actually represent.
Report general observations in general directions.
Also report if there are specific cells of interest, such as fires, civilians, water, etc.
If there are any, calculate their exact locations by explicitly counting cells.

You should return a detailed but concise text summary paragraph of all relevant information, including location, surroundings, and presence of important cells.`,
		a.Role.Title(), a.ID.Tag(), a.mapSize-1, a.mapSize-1)
	user := fmt.Sprintf("Here are your observations: \n\n%s\n\nCreate a detailed text summary of all relevant information, such as location, surroundings, presence of fire and civilians, etc. Speak only in first person as %s.",
		a.ObservationText(others), a.ID.Tag())
	return system, user
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
