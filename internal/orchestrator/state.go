package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"wildfire_crew/internal/agent"
	"wildfire_crew/internal/domain"
)

const DefaultStepHistoryWindow = 5

// StepHistory keeps {agent: (state, action)} for a trailing window of
// timesteps.
type StepHistory struct {
	window int
	steps  map[int]map[domain.AgentID]domain.StepRecord
}

func NewStepHistory(window int) *StepHistory {
	if window <= 0 {
		window = DefaultStepHistoryWindow
	}
	return &StepHistory{window: window, steps: make(map[int]map[domain.AgentID]domain.StepRecord)}
}

func (h *StepHistory) Record(timestep int, id domain.AgentID, rec domain.StepRecord) {
	step, ok := h.steps[timestep]
	if !ok {
		step = make(map[domain.AgentID]domain.StepRecord)
		h.steps[timestep] = step
	}
	step[id] = rec
	h.Prune(timestep)
}

// Prune drops every timestep outside the window ending at now.
func (h *StepHistory) Prune(now int) int {
	removed := 0
	for t := range h.steps {
		if now-t >= h.window {
			delete(h.steps, t)
			removed++
		}
	}
	return removed
}

func (h *StepHistory) Len() int {
	return len(h.steps)
}

func (h *StepHistory) Timesteps() []int {
	out := make([]int, 0, len(h.steps))
	for t := range h.steps {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// String renders the window oldest first for prompts.
func (h *StepHistory) String() string {
	if len(h.steps) == 0 {
		return "None yet."
	}
	var b strings.Builder
	for _, t := range h.Timesteps() {
		step := h.steps[t]
		ids := make([]int, 0, len(step))
		for id := range step {
			ids = append(ids, int(id))
		}
		sort.Ints(ids)
		fmt.Fprintf(&b, "TIME %d:\n", t)
		for _, raw := range ids {
			rec := step[domain.AgentID(raw)]
			fmt.Fprintf(&b, "  %s: state %s, action: %s\n", domain.AgentID(raw).Tag(), rec.State, rec.Action)
		}
	}
	return b.String()
}

// RoundState is owned by the controller. Only the controller changes the
// roster and the counters.
type RoundState struct {
	EpisodeID string
	Timestep  int
	Score     int
	Task      string
	MapSize   int
	Usage     domain.Usage

	Agents  map[domain.AgentID]*agent.Agent
	History *StepHistory
}

func newRoundState(episodeID string, window int) *RoundState {
	return &RoundState{
		EpisodeID: episodeID,
		Agents:    make(map[domain.AgentID]*agent.Agent),
		History:   NewStepHistory(window),
	}
}

// IDs returns the live roster in slot order.
func (s *RoundState) IDs() []domain.AgentID {
	ids := make([]int, 0, len(s.Agents))
	for id := range s.Agents {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	out := make([]domain.AgentID, len(ids))
	for i, id := range ids {
		out[i] = domain.AgentID(id)
	}
	return out
}

// Rosters groups the live agents by role.
func (s *RoundState) Rosters() map[domain.Role][]domain.AgentID {
	out := make(map[domain.Role][]domain.AgentID)
	for _, id := range s.IDs() {
		a := s.Agents[id]
		out[a.Role] = append(out[a.Role], id)
	}
	return out
}

func (s *RoundState) Positions() map[domain.AgentID]domain.Position {
	out := make(map[domain.AgentID]domain.Position, len(s.Agents))
	for id, a := range s.Agents {
		out[id] = a.Position
	}
	return out
}

func (s *RoundState) remove(id domain.AgentID) {
	if a, ok := s.Agents[id]; ok {
		a.Close()
		delete(s.Agents, id)
	}
}
